package models

import "time"

type ArtifactKind string

const (
	ArtifactExecutable ArtifactKind = "executable"
	ArtifactScript     ArtifactKind = "script"
	ArtifactDocument   ArtifactKind = "document"
	ArtifactArchive    ArtifactKind = "archive"
	ArtifactConfig     ArtifactKind = "config"
	ArtifactOther      ArtifactKind = "other"
)

type ArtifactIndicator string

const (
	IndicatorSafe       ArtifactIndicator = "safe"
	IndicatorSuspicious ArtifactIndicator = "suspicious"
	IndicatorMalicious  ArtifactIndicator = "malicious"
)

// Artifact is a file used in exercises (payloads, documents, configs).
// The bytes live in the object store; this row holds the pointer.
type Artifact struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Filename    string            `json:"filename"`
	BlobPath    string            `json:"blob_path"`
	SHA256      string            `json:"sha256"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type,omitempty"`
	Kind        ArtifactKind      `json:"kind"`
	Indicator   ArtifactIndicator `json:"indicator"`
	TTPs        []string          `json:"ttps,omitempty"`
	UploaderID  string            `json:"uploader_id"`
	CreatedAt   time.Time         `json:"created_at"`
}

type PlacementStatus string

const (
	PlacementPending    PlacementStatus = "pending"
	PlacementInProgress PlacementStatus = "in_progress"
	PlacementPlaced     PlacementStatus = "placed"
	PlacementVerified   PlacementStatus = "verified"
	PlacementFailed     PlacementStatus = "failed"
)

// Placement tracks the delivery of one artifact onto one VM.
type Placement struct {
	ID         string          `json:"id"`
	ArtifactID string          `json:"artifact_id"`
	VMID       string          `json:"vm_id"`
	TargetPath string          `json:"target_path"`
	Status     PlacementStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	PlacedAt   *time.Time      `json:"placed_at,omitempty"`
}
