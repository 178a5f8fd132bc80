package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/cyroid/cyroid/pkg/models"
)

const (
	bucketRanges      = "ranges"
	bucketNetworks    = "networks"
	bucketVMs         = "vms"
	bucketTemplates   = "templates"
	bucketSnapshots   = "snapshots"
	bucketMSELs       = "msels"
	bucketInjects     = "injects"
	bucketEvents      = "events"
	bucketConnections = "connections"
	bucketArtifacts   = "artifacts"
	bucketPlacements  = "placements"
	bucketUsers       = "users"
	bucketTags        = "tags"
)

var allBuckets = []string{
	bucketRanges, bucketNetworks, bucketVMs, bucketTemplates,
	bucketSnapshots, bucketMSELs, bucketInjects, bucketEvents,
	bucketConnections, bucketArtifacts, bucketPlacements, bucketUsers,
	bucketTags,
}

// Bolt is the embedded single-file Repository backend. Rows are JSON
// values keyed by id; events are keyed by a monotonic sequence so they
// read back in append order.
type Bolt struct {
	db *bbolt.DB
}

func NewBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

var _ Repository = &Bolt{}

func putTx(tx *bbolt.Tx, bucket, id string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(bucket)).Put([]byte(id), raw)
}

func getTx(tx *bbolt.Tx, bucket, id, kind string, v interface{}) error {
	raw := tx.Bucket([]byte(bucket)).Get([]byte(id))
	if raw == nil {
		return models.NotFoundf("%s %s", kind, id)
	}
	return json.Unmarshal(raw, v)
}

func existsTx(tx *bbolt.Tx, bucket, id string) bool {
	return tx.Bucket([]byte(bucket)).Get([]byte(id)) != nil
}

func (b *Bolt) getRow(bucket, id, kind string, v interface{}) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return getTx(tx, bucket, id, kind, v)
	})
}

func (b *Bolt) updateRow(bucket, id, kind string, v interface{}) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if !existsTx(tx, bucket, id) {
			return models.NotFoundf("%s %s", kind, id)
		}
		return putTx(tx, bucket, id, v)
	})
}

func (b *Bolt) deleteRow(bucket, id, kind string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if !existsTx(tx, bucket, id) {
			return models.NotFoundf("%s %s", kind, id)
		}
		return tx.Bucket([]byte(bucket)).Delete([]byte(id))
	})
}

func scanTx(tx *bbolt.Tx, bucket string, fn func(raw []byte) error) error {
	return tx.Bucket([]byte(bucket)).ForEach(func(_, raw []byte) error {
		return fn(raw)
	})
}

func (b *Bolt) scan(bucket string, fn func(raw []byte) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return scanTx(tx, bucket, fn)
	})
}

func itob(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// Ranges.

func (b *Bolt) CreateRange(ctx context.Context, r *models.Range) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		ensureID(&r.ID)
		stampCreate(&r.CreatedAt, &r.UpdatedAt)
		return putTx(tx, bucketRanges, r.ID, r)
	})
}

func (b *Bolt) GetRange(ctx context.Context, id string) (*models.Range, error) {
	r := &models.Range{}
	if err := b.getRow(bucketRanges, id, "range", r); err != nil {
		return nil, err
	}
	return r, nil
}

func (b *Bolt) UpdateRange(ctx context.Context, r *models.Range) error {
	r.UpdatedAt = time.Now()
	return b.updateRow(bucketRanges, r.ID, "range", r)
}

func (b *Bolt) DeleteRange(ctx context.Context, id string) error {
	return b.deleteRow(bucketRanges, id, "range")
}

func (b *Bolt) ListRanges(ctx context.Context, vis Visibility) ([]*models.Range, error) {
	out := []*models.Range{}
	err := b.db.View(func(tx *bbolt.Tx) error {
		return scanTx(tx, bucketRanges, func(raw []byte) error {
			r := &models.Range{}
			if err := json.Unmarshal(raw, r); err != nil {
				return err
			}
			if vis != nil && !vis(r.OwnerID, tagsForTx(tx, models.KindRange, r.ID)) {
				return nil
			}
			out = append(out, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortRanges(out)
	return out, nil
}

// Networks.

func (b *Bolt) CreateNetwork(ctx context.Context, n *models.Network) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		ensureID(&n.ID)
		return putTx(tx, bucketNetworks, n.ID, n)
	})
}

func (b *Bolt) GetNetwork(ctx context.Context, id string) (*models.Network, error) {
	n := &models.Network{}
	if err := b.getRow(bucketNetworks, id, "network", n); err != nil {
		return nil, err
	}
	return n, nil
}

func (b *Bolt) UpdateNetwork(ctx context.Context, n *models.Network) error {
	return b.updateRow(bucketNetworks, n.ID, "network", n)
}

func (b *Bolt) DeleteNetwork(ctx context.Context, id string) error {
	return b.deleteRow(bucketNetworks, id, "network")
}

func (b *Bolt) NetworksByRange(ctx context.Context, rangeID string) ([]*models.Network, error) {
	out := []*models.Network{}
	err := b.scan(bucketNetworks, func(raw []byte) error {
		n := &models.Network{}
		if err := json.Unmarshal(raw, n); err != nil {
			return err
		}
		if n.RangeID == rangeID {
			out = append(out, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNetworks(out)
	return out, nil
}

// VMs.

func (b *Bolt) CreateVM(ctx context.Context, vm *models.VM) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		ensureID(&vm.ID)
		stampCreate(&vm.CreatedAt, &vm.UpdatedAt)
		return putTx(tx, bucketVMs, vm.ID, vm)
	})
}

func (b *Bolt) GetVM(ctx context.Context, id string) (*models.VM, error) {
	vm := &models.VM{}
	if err := b.getRow(bucketVMs, id, "vm", vm); err != nil {
		return nil, err
	}
	return vm, nil
}

func (b *Bolt) UpdateVM(ctx context.Context, vm *models.VM) error {
	vm.UpdatedAt = time.Now()
	return b.updateRow(bucketVMs, vm.ID, "vm", vm)
}

func (b *Bolt) DeleteVM(ctx context.Context, id string) error {
	return b.deleteRow(bucketVMs, id, "vm")
}

func (b *Bolt) VMsByRange(ctx context.Context, rangeID string) ([]*models.VM, error) {
	out := []*models.VM{}
	err := b.scan(bucketVMs, func(raw []byte) error {
		vm := &models.VM{}
		if err := json.Unmarshal(raw, vm); err != nil {
			return err
		}
		if vm.RangeID == rangeID {
			out = append(out, vm)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortVMs(out)
	return out, nil
}

// Templates.

func (b *Bolt) CreateTemplate(ctx context.Context, t *models.Template) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		var clash bool
		err := scanTx(tx, bucketTemplates, func(raw []byte) error {
			existing := &models.Template{}
			if err := json.Unmarshal(raw, existing); err != nil {
				return err
			}
			if existing.Name == t.Name {
				clash = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if clash {
			return models.Conflictf("template name %q already exists", t.Name)
		}
		ensureID(&t.ID)
		stampCreate(&t.CreatedAt, &t.UpdatedAt)
		return putTx(tx, bucketTemplates, t.ID, t)
	})
}

func (b *Bolt) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	t := &models.Template{}
	if err := b.getRow(bucketTemplates, id, "template", t); err != nil {
		return nil, err
	}
	return t, nil
}

func (b *Bolt) UpdateTemplate(ctx context.Context, t *models.Template) error {
	t.UpdatedAt = time.Now()
	return b.updateRow(bucketTemplates, t.ID, "template", t)
}

func (b *Bolt) DeleteTemplate(ctx context.Context, id string) error {
	return b.deleteRow(bucketTemplates, id, "template")
}

func (b *Bolt) ListTemplates(ctx context.Context, vis Visibility) ([]*models.Template, error) {
	out := []*models.Template{}
	err := b.db.View(func(tx *bbolt.Tx) error {
		return scanTx(tx, bucketTemplates, func(raw []byte) error {
			t := &models.Template{}
			if err := json.Unmarshal(raw, t); err != nil {
				return err
			}
			if vis != nil && !vis(t.OwnerID, tagsForTx(tx, models.KindTemplate, t.ID)) {
				return nil
			}
			out = append(out, t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortTemplates(out)
	return out, nil
}

func (b *Bolt) TemplateByName(ctx context.Context, name string) (*models.Template, error) {
	var found *models.Template
	err := b.scan(bucketTemplates, func(raw []byte) error {
		t := &models.Template{}
		if err := json.Unmarshal(raw, t); err != nil {
			return err
		}
		if t.Name == name {
			found = t
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, models.NotFoundf("template named %q", name)
	}
	return found, nil
}

// Snapshots.

func (b *Bolt) CreateSnapshot(ctx context.Context, s *models.Snapshot) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		ensureID(&s.ID)
		if s.CreatedAt.IsZero() {
			s.CreatedAt = time.Now()
		}
		return putTx(tx, bucketSnapshots, s.ID, s)
	})
}

func (b *Bolt) GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	s := &models.Snapshot{}
	if err := b.getRow(bucketSnapshots, id, "snapshot", s); err != nil {
		return nil, err
	}
	return s, nil
}

func (b *Bolt) DeleteSnapshot(ctx context.Context, id string) error {
	return b.deleteRow(bucketSnapshots, id, "snapshot")
}

func (b *Bolt) SnapshotsByVM(ctx context.Context, vmID string) ([]*models.Snapshot, error) {
	out := []*models.Snapshot{}
	err := b.scan(bucketSnapshots, func(raw []byte) error {
		s := &models.Snapshot{}
		if err := json.Unmarshal(raw, s); err != nil {
			return err
		}
		if s.VMID == vmID {
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSnapshots(out)
	return out, nil
}

// MSEL.

func (b *Bolt) GetMSEL(ctx context.Context, id string) (*models.MSEL, error) {
	m := &models.MSEL{}
	if err := b.getRow(bucketMSELs, id, "msel", m); err != nil {
		return nil, err
	}
	return m, nil
}

func (b *Bolt) MSELByRange(ctx context.Context, rangeID string) (*models.MSEL, error) {
	var found *models.MSEL
	err := b.scan(bucketMSELs, func(raw []byte) error {
		m := &models.MSEL{}
		if err := json.Unmarshal(raw, m); err != nil {
			return err
		}
		if m.RangeID == rangeID {
			found = m
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, models.NotFoundf("msel for range %s", rangeID)
	}
	return found, nil
}

// ReplaceMSEL deletes any prior document for the range and writes the new
// one in a single transaction, which is what makes the import atomic.
func (b *Bolt) ReplaceMSEL(ctx context.Context, m *models.MSEL, injects []*models.Inject) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := deleteMSELTx(tx, m.RangeID); err != nil {
			return err
		}
		ensureID(&m.ID)
		if err := putTx(tx, bucketMSELs, m.ID, m); err != nil {
			return err
		}
		for _, inj := range injects {
			ensureID(&inj.ID)
			inj.MSELID = m.ID
			if err := putTx(tx, bucketInjects, inj.ID, inj); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) DeleteMSEL(ctx context.Context, rangeID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		deleted, err := deleteMSELTxReporting(tx, rangeID)
		if err != nil {
			return err
		}
		if !deleted {
			return models.NotFoundf("msel for range %s", rangeID)
		}
		return nil
	})
}

func deleteMSELTx(tx *bbolt.Tx, rangeID string) error {
	_, err := deleteMSELTxReporting(tx, rangeID)
	return err
}

func deleteMSELTxReporting(tx *bbolt.Tx, rangeID string) (bool, error) {
	mselIDs := []string{}
	err := scanTx(tx, bucketMSELs, func(raw []byte) error {
		m := &models.MSEL{}
		if err := json.Unmarshal(raw, m); err != nil {
			return err
		}
		if m.RangeID == rangeID {
			mselIDs = append(mselIDs, m.ID)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	for _, mselID := range mselIDs {
		injectIDs := []string{}
		err := scanTx(tx, bucketInjects, func(raw []byte) error {
			inj := &models.Inject{}
			if err := json.Unmarshal(raw, inj); err != nil {
				return err
			}
			if inj.MSELID == mselID {
				injectIDs = append(injectIDs, inj.ID)
			}
			return nil
		})
		if err != nil {
			return false, err
		}
		for _, id := range injectIDs {
			if err := tx.Bucket([]byte(bucketInjects)).Delete([]byte(id)); err != nil {
				return false, err
			}
		}
		if err := tx.Bucket([]byte(bucketMSELs)).Delete([]byte(mselID)); err != nil {
			return false, err
		}
	}
	return len(mselIDs) > 0, nil
}

func (b *Bolt) GetInject(ctx context.Context, id string) (*models.Inject, error) {
	inj := &models.Inject{}
	if err := b.getRow(bucketInjects, id, "inject", inj); err != nil {
		return nil, err
	}
	return inj, nil
}

func (b *Bolt) UpdateInject(ctx context.Context, inj *models.Inject) error {
	return b.updateRow(bucketInjects, inj.ID, "inject", inj)
}

func (b *Bolt) InjectsByMSEL(ctx context.Context, mselID string) ([]*models.Inject, error) {
	out := []*models.Inject{}
	err := b.scan(bucketInjects, func(raw []byte) error {
		inj := &models.Inject{}
		if err := json.Unmarshal(raw, inj); err != nil {
			return err
		}
		if inj.MSELID == mselID {
			out = append(out, inj)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortInjects(out)
	return out, nil
}

// Events.

func (b *Bolt) AppendEvent(ctx context.Context, e *models.EventLogEntry) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		ensureID(&e.ID)
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now()
		}
		bk := tx.Bucket([]byte(bucketEvents))
		seq, err := bk.NextSequence()
		if err != nil {
			return err
		}
		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return bk.Put(itob(seq), raw)
	})
}

func (b *Bolt) EventsByRange(ctx context.Context, rangeID string, kind models.EventKind, limit, offset int) ([]*models.EventLogEntry, error) {
	matched := []*models.EventLogEntry{}
	err := b.scan(bucketEvents, func(raw []byte) error {
		e := &models.EventLogEntry{}
		if err := json.Unmarshal(raw, e); err != nil {
			return err
		}
		if e.RangeID == rangeID && (kind == "" || e.Kind == kind) {
			matched = append(matched, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pageNewestFirst(matched, limit, offset), nil
}

// Connections.

func (b *Bolt) CreateConnection(ctx context.Context, c *models.Connection) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		ensureID(&c.ID)
		if c.StartAt.IsZero() {
			c.StartAt = time.Now()
		}
		return putTx(tx, bucketConnections, c.ID, c)
	})
}

func (b *Bolt) GetConnection(ctx context.Context, id string) (*models.Connection, error) {
	c := &models.Connection{}
	if err := b.getRow(bucketConnections, id, "connection", c); err != nil {
		return nil, err
	}
	return c, nil
}

func (b *Bolt) UpdateConnection(ctx context.Context, c *models.Connection) error {
	return b.updateRow(bucketConnections, c.ID, "connection", c)
}

func (b *Bolt) ConnectionsByRange(ctx context.Context, rangeID string) ([]*models.Connection, error) {
	out := []*models.Connection{}
	err := b.scan(bucketConnections, func(raw []byte) error {
		c := &models.Connection{}
		if err := json.Unmarshal(raw, c); err != nil {
			return err
		}
		if c.RangeID == rangeID {
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortConnections(out)
	return out, nil
}

// Artifacts.

func (b *Bolt) CreateArtifact(ctx context.Context, a *models.Artifact) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		var clash bool
		err := scanTx(tx, bucketArtifacts, func(raw []byte) error {
			existing := &models.Artifact{}
			if err := json.Unmarshal(raw, existing); err != nil {
				return err
			}
			if existing.Filename == a.Filename {
				clash = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if clash {
			return models.Conflictf("artifact filename %q already exists", a.Filename)
		}
		ensureID(&a.ID)
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now()
		}
		return putTx(tx, bucketArtifacts, a.ID, a)
	})
}

func (b *Bolt) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	a := &models.Artifact{}
	if err := b.getRow(bucketArtifacts, id, "artifact", a); err != nil {
		return nil, err
	}
	return a, nil
}

func (b *Bolt) DeleteArtifact(ctx context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if !existsTx(tx, bucketArtifacts, id) {
			return models.NotFoundf("artifact %s", id)
		}
		if err := deleteWhereTx(tx, bucketPlacements, func(raw []byte) (string, bool) {
			p := &models.Placement{}
			if json.Unmarshal(raw, p) == nil && p.ArtifactID == id {
				return p.ID, true
			}
			return "", false
		}); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketArtifacts)).Delete([]byte(id))
	})
}

func (b *Bolt) ListArtifacts(ctx context.Context, vis Visibility) ([]*models.Artifact, error) {
	out := []*models.Artifact{}
	err := b.db.View(func(tx *bbolt.Tx) error {
		return scanTx(tx, bucketArtifacts, func(raw []byte) error {
			a := &models.Artifact{}
			if err := json.Unmarshal(raw, a); err != nil {
				return err
			}
			if vis != nil && !vis(a.UploaderID, tagsForTx(tx, models.KindArtifact, a.ID)) {
				return nil
			}
			out = append(out, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortArtifacts(out)
	return out, nil
}

func (b *Bolt) ArtifactByFilename(ctx context.Context, filename string) (*models.Artifact, error) {
	var found *models.Artifact
	err := b.scan(bucketArtifacts, func(raw []byte) error {
		a := &models.Artifact{}
		if err := json.Unmarshal(raw, a); err != nil {
			return err
		}
		if a.Filename == filename {
			found = a
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, models.NotFoundf("artifact named %q", filename)
	}
	return found, nil
}

// Placements.

func (b *Bolt) CreatePlacement(ctx context.Context, p *models.Placement) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		ensureID(&p.ID)
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now()
		}
		return putTx(tx, bucketPlacements, p.ID, p)
	})
}

func (b *Bolt) GetPlacement(ctx context.Context, id string) (*models.Placement, error) {
	p := &models.Placement{}
	if err := b.getRow(bucketPlacements, id, "placement", p); err != nil {
		return nil, err
	}
	return p, nil
}

func (b *Bolt) UpdatePlacement(ctx context.Context, p *models.Placement) error {
	return b.updateRow(bucketPlacements, p.ID, "placement", p)
}

func (b *Bolt) PlacementsByVM(ctx context.Context, vmID string) ([]*models.Placement, error) {
	out := []*models.Placement{}
	err := b.scan(bucketPlacements, func(raw []byte) error {
		p := &models.Placement{}
		if err := json.Unmarshal(raw, p); err != nil {
			return err
		}
		if p.VMID == vmID {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortPlacements(out)
	return out, nil
}

// Users.

func (b *Bolt) CreateUser(ctx context.Context, u *models.User) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		var clash bool
		err := scanTx(tx, bucketUsers, func(raw []byte) error {
			existing := &models.User{}
			if err := json.Unmarshal(raw, existing); err != nil {
				return err
			}
			if existing.Username == u.Username {
				clash = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if clash {
			return models.Conflictf("username %q already exists", u.Username)
		}
		ensureID(&u.ID)
		if u.CreatedAt.IsZero() {
			u.CreatedAt = time.Now()
		}
		return putTx(tx, bucketUsers, u.ID, u)
	})
}

func (b *Bolt) GetUser(ctx context.Context, id string) (*models.User, error) {
	u := &models.User{}
	if err := b.getRow(bucketUsers, id, "user", u); err != nil {
		return nil, err
	}
	return u, nil
}

func (b *Bolt) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	var found *models.User
	err := b.scan(bucketUsers, func(raw []byte) error {
		u := &models.User{}
		if err := json.Unmarshal(raw, u); err != nil {
			return err
		}
		if u.Username == username {
			found = u
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, models.NotFoundf("user named %q", username)
	}
	return found, nil
}

func (b *Bolt) UpdateUser(ctx context.Context, u *models.User) error {
	return b.updateRow(bucketUsers, u.ID, "user", u)
}

func (b *Bolt) ListUsers(ctx context.Context) ([]*models.User, error) {
	out := []*models.User{}
	err := b.scan(bucketUsers, func(raw []byte) error {
		u := &models.User{}
		if err := json.Unmarshal(raw, u); err != nil {
			return err
		}
		out = append(out, u)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortUsers(out)
	return out, nil
}

// Tags.

func (b *Bolt) AddTag(ctx context.Context, t *models.ResourceTag) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		var clash bool
		err := scanTx(tx, bucketTags, func(raw []byte) error {
			existing := &models.ResourceTag{}
			if err := json.Unmarshal(raw, existing); err != nil {
				return err
			}
			if existing.Kind == t.Kind && existing.ResourceID == t.ResourceID && existing.Tag == t.Tag {
				clash = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if clash {
			return models.Conflictf("tag %q already present on %s %s", t.Tag, t.Kind, t.ResourceID)
		}
		ensureID(&t.ID)
		return putTx(tx, bucketTags, t.ID, t)
	})
}

func (b *Bolt) RemoveTag(ctx context.Context, kind models.ResourceKind, resourceID, tag string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		var foundID string
		err := scanTx(tx, bucketTags, func(raw []byte) error {
			t := &models.ResourceTag{}
			if err := json.Unmarshal(raw, t); err != nil {
				return err
			}
			if t.Kind == kind && t.ResourceID == resourceID && t.Tag == tag {
				foundID = t.ID
			}
			return nil
		})
		if err != nil {
			return err
		}
		if foundID == "" {
			return models.NotFoundf("tag %q on %s %s", tag, kind, resourceID)
		}
		return tx.Bucket([]byte(bucketTags)).Delete([]byte(foundID))
	})
}

func (b *Bolt) TagsFor(ctx context.Context, kind models.ResourceKind, resourceID string) ([]string, error) {
	var out []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		out = tagsForTx(tx, kind, resourceID)
		return nil
	})
	return out, err
}

func tagsForTx(tx *bbolt.Tx, kind models.ResourceKind, resourceID string) []string {
	out := []string{}
	_ = scanTx(tx, bucketTags, func(raw []byte) error {
		t := &models.ResourceTag{}
		if json.Unmarshal(raw, t) == nil && t.Kind == kind && t.ResourceID == resourceID {
			out = append(out, t.Tag)
		}
		return nil
	})
	sortStrings(out)
	return out
}

// PurgeRange.

func (b *Bolt) PurgeRange(ctx context.Context, rangeID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if !existsTx(tx, bucketRanges, rangeID) {
			return models.NotFoundf("range %s", rangeID)
		}

		vmIDs := []string{}
		err := scanTx(tx, bucketVMs, func(raw []byte) error {
			vm := &models.VM{}
			if err := json.Unmarshal(raw, vm); err != nil {
				return err
			}
			if vm.RangeID == rangeID {
				vmIDs = append(vmIDs, vm.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, vmID := range vmIDs {
			if err := deleteWhereTx(tx, bucketSnapshots, func(raw []byte) (string, bool) {
				s := &models.Snapshot{}
				if json.Unmarshal(raw, s) == nil && s.VMID == vmID {
					return s.ID, true
				}
				return "", false
			}); err != nil {
				return err
			}
			if err := deleteWhereTx(tx, bucketPlacements, func(raw []byte) (string, bool) {
				p := &models.Placement{}
				if json.Unmarshal(raw, p) == nil && p.VMID == vmID {
					return p.ID, true
				}
				return "", false
			}); err != nil {
				return err
			}
			if err := tx.Bucket([]byte(bucketVMs)).Delete([]byte(vmID)); err != nil {
				return err
			}
		}

		if err := deleteWhereTx(tx, bucketNetworks, func(raw []byte) (string, bool) {
			n := &models.Network{}
			if json.Unmarshal(raw, n) == nil && n.RangeID == rangeID {
				return n.ID, true
			}
			return "", false
		}); err != nil {
			return err
		}

		if err := deleteMSELTx(tx, rangeID); err != nil {
			return err
		}

		if err := deleteWhereTx(tx, bucketConnections, func(raw []byte) (string, bool) {
			c := &models.Connection{}
			if json.Unmarshal(raw, c) == nil && c.RangeID == rangeID {
				return c.ID, true
			}
			return "", false
		}); err != nil {
			return err
		}

		// Events are keyed by sequence, not id.
		eventKeys := [][]byte{}
		bk := tx.Bucket([]byte(bucketEvents))
		err = bk.ForEach(func(k, raw []byte) error {
			e := &models.EventLogEntry{}
			if json.Unmarshal(raw, e) == nil && e.RangeID == rangeID {
				key := make([]byte, len(k))
				copy(key, k)
				eventKeys = append(eventKeys, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range eventKeys {
			if err := bk.Delete(k); err != nil {
				return err
			}
		}

		if err := deleteWhereTx(tx, bucketTags, func(raw []byte) (string, bool) {
			t := &models.ResourceTag{}
			if json.Unmarshal(raw, t) == nil && t.Kind == models.KindRange && t.ResourceID == rangeID {
				return t.ID, true
			}
			return "", false
		}); err != nil {
			return err
		}

		return tx.Bucket([]byte(bucketRanges)).Delete([]byte(rangeID))
	})
}

func deleteWhereTx(tx *bbolt.Tx, bucket string, match func(raw []byte) (string, bool)) error {
	ids := []string{}
	err := scanTx(tx, bucket, func(raw []byte) error {
		if id, ok := match(raw); ok {
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := tx.Bucket([]byte(bucket)).Delete([]byte(id)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bolt) Close() error { return b.db.Close() }
