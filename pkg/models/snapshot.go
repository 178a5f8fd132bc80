package models

import "time"

// Snapshot records a committed container image of a VM. Its lifetime is
// independent of the source VM's container.
type Snapshot struct {
	ID          string    `json:"id"`
	VMID        string    `json:"vm_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ImageID     string    `json:"image_id"`
	ImageRef    string    `json:"image_ref"`
	CreatedAt   time.Time `json:"created_at"`
}
