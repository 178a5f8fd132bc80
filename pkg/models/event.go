package models

import "time"

type EventKind string

const (
	EventRangeDeployed EventKind = "RANGE_DEPLOYED"
	EventRangeStarted  EventKind = "RANGE_STARTED"
	EventRangeStopped  EventKind = "RANGE_STOPPED"
	EventRangeTeardown EventKind = "RANGE_TEARDOWN"

	EventVMCreated   EventKind = "VM_CREATED"
	EventVMStarted   EventKind = "VM_STARTED"
	EventVMStopped   EventKind = "VM_STOPPED"
	EventVMRestarted EventKind = "VM_RESTARTED"
	EventVMError     EventKind = "VM_ERROR"

	EventSnapshotCreated  EventKind = "SNAPSHOT_CREATED"
	EventSnapshotRestored EventKind = "SNAPSHOT_RESTORED"

	EventArtifactPlaced EventKind = "ARTIFACT_PLACED"

	EventInjectExecuted EventKind = "INJECT_EXECUTED"
	EventInjectFailed   EventKind = "INJECT_FAILED"

	EventConnectionEstablished EventKind = "CONNECTION_ESTABLISHED"
	EventConnectionClosed      EventKind = "CONNECTION_CLOSED"
)

// EventLogEntry is one append-only journal record. Extra carries
// kind-specific detail; keys are defined by the producer.
type EventLogEntry struct {
	ID        string            `json:"id"`
	RangeID   string            `json:"range_id"`
	VMID      string            `json:"vm_id,omitempty"`
	Kind      EventKind         `json:"kind"`
	Message   string            `json:"message"`
	Extra     map[string]string `json:"extra,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
