package models

import "time"

type RangeStatus string

const (
	RangeDraft     RangeStatus = "draft"
	RangeDeploying RangeStatus = "deploying"
	RangeRunning   RangeStatus = "running"
	RangeStopped   RangeStatus = "stopped"
	RangeArchived  RangeStatus = "archived"
	RangeError     RangeStatus = "error"
)

// Range is a declarative multi-network topology plus its lifecycle state.
// It owns its networks, VMs, event log, connections, and at most one MSEL;
// ownership is by id, children are resolved through the repository.
type Range struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	OwnerID     string      `json:"owner_id"`
	Status      RangeStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
