package store

import (
	"context"

	"github.com/cyroid/cyroid/pkg/models"
)

// Visibility is the query predicate produced by the authorization filter
// and applied inside list queries. A nil predicate selects every row.
type Visibility func(ownerID string, tags []string) bool

// Repository is the storage contract consumed by the core. Implementations
// must return models.ErrNotFound for missing ids and models.ErrConflict for
// unique-key collisions, and must hand out copies that callers may mutate
// freely.
type Repository interface {
	// Ranges.
	CreateRange(ctx context.Context, r *models.Range) error
	GetRange(ctx context.Context, id string) (*models.Range, error)
	UpdateRange(ctx context.Context, r *models.Range) error
	DeleteRange(ctx context.Context, id string) error
	ListRanges(ctx context.Context, vis Visibility) ([]*models.Range, error)

	// Networks.
	CreateNetwork(ctx context.Context, n *models.Network) error
	GetNetwork(ctx context.Context, id string) (*models.Network, error)
	UpdateNetwork(ctx context.Context, n *models.Network) error
	DeleteNetwork(ctx context.Context, id string) error
	NetworksByRange(ctx context.Context, rangeID string) ([]*models.Network, error)

	// VMs.
	CreateVM(ctx context.Context, vm *models.VM) error
	GetVM(ctx context.Context, id string) (*models.VM, error)
	UpdateVM(ctx context.Context, vm *models.VM) error
	DeleteVM(ctx context.Context, id string) error
	VMsByRange(ctx context.Context, rangeID string) ([]*models.VM, error)

	// Templates. Name is unique.
	CreateTemplate(ctx context.Context, t *models.Template) error
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	UpdateTemplate(ctx context.Context, t *models.Template) error
	DeleteTemplate(ctx context.Context, id string) error
	ListTemplates(ctx context.Context, vis Visibility) ([]*models.Template, error)
	TemplateByName(ctx context.Context, name string) (*models.Template, error)

	// Snapshots.
	CreateSnapshot(ctx context.Context, s *models.Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
	SnapshotsByVM(ctx context.Context, vmID string) ([]*models.Snapshot, error)

	// MSEL. At most one per range; ReplaceMSEL swaps the document and its
	// injects atomically.
	GetMSEL(ctx context.Context, id string) (*models.MSEL, error)
	MSELByRange(ctx context.Context, rangeID string) (*models.MSEL, error)
	ReplaceMSEL(ctx context.Context, m *models.MSEL, injects []*models.Inject) error
	DeleteMSEL(ctx context.Context, rangeID string) error
	GetInject(ctx context.Context, id string) (*models.Inject, error)
	UpdateInject(ctx context.Context, inj *models.Inject) error
	InjectsByMSEL(ctx context.Context, mselID string) ([]*models.Inject, error)

	// Event journal: append-only, read back newest first.
	AppendEvent(ctx context.Context, e *models.EventLogEntry) error
	EventsByRange(ctx context.Context, rangeID string, kind models.EventKind, limit, offset int) ([]*models.EventLogEntry, error)

	// Connections.
	CreateConnection(ctx context.Context, c *models.Connection) error
	GetConnection(ctx context.Context, id string) (*models.Connection, error)
	UpdateConnection(ctx context.Context, c *models.Connection) error
	ConnectionsByRange(ctx context.Context, rangeID string) ([]*models.Connection, error)

	// Artifacts. Filename is unique so MSEL place_file actions can
	// resolve by name. Deleting an artifact drops its placements.
	CreateArtifact(ctx context.Context, a *models.Artifact) error
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
	DeleteArtifact(ctx context.Context, id string) error
	ListArtifacts(ctx context.Context, vis Visibility) ([]*models.Artifact, error)
	ArtifactByFilename(ctx context.Context, filename string) (*models.Artifact, error)

	// Placements.
	CreatePlacement(ctx context.Context, p *models.Placement) error
	GetPlacement(ctx context.Context, id string) (*models.Placement, error)
	UpdatePlacement(ctx context.Context, p *models.Placement) error
	PlacementsByVM(ctx context.Context, vmID string) ([]*models.Placement, error)

	// Users. Username is unique.
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	ListUsers(ctx context.Context) ([]*models.User, error)

	// Resource tags. Unique per (kind, resource, tag).
	AddTag(ctx context.Context, t *models.ResourceTag) error
	RemoveTag(ctx context.Context, kind models.ResourceKind, resourceID, tag string) error
	TagsFor(ctx context.Context, kind models.ResourceKind, resourceID string) ([]string, error)

	// PurgeRange deletes a range and everything it owns. Callers tear the
	// range down first; this only touches rows.
	PurgeRange(ctx context.Context, rangeID string) error

	Close() error
}
