package models

type ResourceKind string

const (
	KindRange    ResourceKind = "range"
	KindTemplate ResourceKind = "template"
	KindArtifact ResourceKind = "artifact"
)

// ResourceTag marks a resource as visible to users sharing the tag.
// Unique per (kind, resource id, tag); a resource with no tags is public
// within the installation.
type ResourceTag struct {
	ID         string       `json:"id"`
	Kind       ResourceKind `json:"kind"`
	ResourceID string       `json:"resource_id"`
	Tag        string       `json:"tag"`
}
