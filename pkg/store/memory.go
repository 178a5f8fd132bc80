package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"

	"github.com/cyroid/cyroid/pkg/models"
)

// Memory is the in-process Repository used by tests and by deployments
// without a database_url. Rows are kept JSON-encoded so reads always
// return fresh copies, same as the bolt backend.
type Memory struct {
	mu deadlock.RWMutex

	ranges      map[string][]byte
	networks    map[string][]byte
	vms         map[string][]byte
	templates   map[string][]byte
	snapshots   map[string][]byte
	msels       map[string][]byte
	injects     map[string][]byte
	connections map[string][]byte
	artifacts   map[string][]byte
	placements  map[string][]byte
	users       map[string][]byte
	tags        map[string][]byte

	// events preserve append order.
	events [][]byte
}

func NewMemory() *Memory {
	return &Memory{
		ranges:      map[string][]byte{},
		networks:    map[string][]byte{},
		vms:         map[string][]byte{},
		templates:   map[string][]byte{},
		snapshots:   map[string][]byte{},
		msels:       map[string][]byte{},
		injects:     map[string][]byte{},
		connections: map[string][]byte{},
		artifacts:   map[string][]byte{},
		placements:  map[string][]byte{},
		users:       map[string][]byte{},
		tags:        map[string][]byte{},
	}
}

var _ Repository = &Memory{}

func putRow(table map[string][]byte, id string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	table[id] = raw
	return nil
}

func getRow(table map[string][]byte, id, kind string, v interface{}) error {
	raw, ok := table[id]
	if !ok {
		return models.NotFoundf("%s %s", kind, id)
	}
	return json.Unmarshal(raw, v)
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// Ranges.

func (m *Memory) CreateRange(ctx context.Context, r *models.Range) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&r.ID)
	stampCreate(&r.CreatedAt, &r.UpdatedAt)
	return putRow(m.ranges, r.ID, r)
}

func (m *Memory) GetRange(ctx context.Context, id string) (*models.Range, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := &models.Range{}
	if err := getRow(m.ranges, id, "range", r); err != nil {
		return nil, err
	}
	return r, nil
}

func (m *Memory) UpdateRange(ctx context.Context, r *models.Range) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ranges[r.ID]; !ok {
		return models.NotFoundf("range %s", r.ID)
	}
	r.UpdatedAt = time.Now()
	return putRow(m.ranges, r.ID, r)
}

func (m *Memory) DeleteRange(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ranges[id]; !ok {
		return models.NotFoundf("range %s", id)
	}
	delete(m.ranges, id)
	return nil
}

func (m *Memory) ListRanges(ctx context.Context, vis Visibility) ([]*models.Range, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.Range{}
	for id, raw := range m.ranges {
		r := &models.Range{}
		if err := json.Unmarshal(raw, r); err != nil {
			return nil, err
		}
		if vis != nil && !vis(r.OwnerID, m.tagsLocked(models.KindRange, id)) {
			continue
		}
		out = append(out, r)
	}
	sortRanges(out)
	return out, nil
}

// Networks.

func (m *Memory) CreateNetwork(ctx context.Context, n *models.Network) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&n.ID)
	return putRow(m.networks, n.ID, n)
}

func (m *Memory) GetNetwork(ctx context.Context, id string) (*models.Network, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := &models.Network{}
	if err := getRow(m.networks, id, "network", n); err != nil {
		return nil, err
	}
	return n, nil
}

func (m *Memory) UpdateNetwork(ctx context.Context, n *models.Network) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.networks[n.ID]; !ok {
		return models.NotFoundf("network %s", n.ID)
	}
	return putRow(m.networks, n.ID, n)
}

func (m *Memory) DeleteNetwork(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.networks[id]; !ok {
		return models.NotFoundf("network %s", id)
	}
	delete(m.networks, id)
	return nil
}

func (m *Memory) NetworksByRange(ctx context.Context, rangeID string) ([]*models.Network, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.networksByRangeLocked(rangeID)
}

func (m *Memory) networksByRangeLocked(rangeID string) ([]*models.Network, error) {
	out := []*models.Network{}
	for _, raw := range m.networks {
		n := &models.Network{}
		if err := json.Unmarshal(raw, n); err != nil {
			return nil, err
		}
		if n.RangeID == rangeID {
			out = append(out, n)
		}
	}
	sortNetworks(out)
	return out, nil
}

// VMs.

func (m *Memory) CreateVM(ctx context.Context, vm *models.VM) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&vm.ID)
	stampCreate(&vm.CreatedAt, &vm.UpdatedAt)
	return putRow(m.vms, vm.ID, vm)
}

func (m *Memory) GetVM(ctx context.Context, id string) (*models.VM, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vm := &models.VM{}
	if err := getRow(m.vms, id, "vm", vm); err != nil {
		return nil, err
	}
	return vm, nil
}

func (m *Memory) UpdateVM(ctx context.Context, vm *models.VM) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vms[vm.ID]; !ok {
		return models.NotFoundf("vm %s", vm.ID)
	}
	vm.UpdatedAt = time.Now()
	return putRow(m.vms, vm.ID, vm)
}

func (m *Memory) DeleteVM(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vms[id]; !ok {
		return models.NotFoundf("vm %s", id)
	}
	delete(m.vms, id)
	return nil
}

func (m *Memory) VMsByRange(ctx context.Context, rangeID string) ([]*models.VM, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vmsByRangeLocked(rangeID)
}

func (m *Memory) vmsByRangeLocked(rangeID string) ([]*models.VM, error) {
	out := []*models.VM{}
	for _, raw := range m.vms {
		vm := &models.VM{}
		if err := json.Unmarshal(raw, vm); err != nil {
			return nil, err
		}
		if vm.RangeID == rangeID {
			out = append(out, vm)
		}
	}
	sortVMs(out)
	return out, nil
}

// Templates.

func (m *Memory) CreateTemplate(ctx context.Context, t *models.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, raw := range m.templates {
		existing := &models.Template{}
		if err := json.Unmarshal(raw, existing); err != nil {
			return err
		}
		if existing.Name == t.Name {
			return models.Conflictf("template name %q already exists", t.Name)
		}
	}
	ensureID(&t.ID)
	stampCreate(&t.CreatedAt, &t.UpdatedAt)
	return putRow(m.templates, t.ID, t)
}

func (m *Memory) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t := &models.Template{}
	if err := getRow(m.templates, id, "template", t); err != nil {
		return nil, err
	}
	return t, nil
}

func (m *Memory) UpdateTemplate(ctx context.Context, t *models.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[t.ID]; !ok {
		return models.NotFoundf("template %s", t.ID)
	}
	t.UpdatedAt = time.Now()
	return putRow(m.templates, t.ID, t)
}

func (m *Memory) DeleteTemplate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[id]; !ok {
		return models.NotFoundf("template %s", id)
	}
	delete(m.templates, id)
	return nil
}

func (m *Memory) ListTemplates(ctx context.Context, vis Visibility) ([]*models.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.Template{}
	for id, raw := range m.templates {
		t := &models.Template{}
		if err := json.Unmarshal(raw, t); err != nil {
			return nil, err
		}
		if vis != nil && !vis(t.OwnerID, m.tagsLocked(models.KindTemplate, id)) {
			continue
		}
		out = append(out, t)
	}
	sortTemplates(out)
	return out, nil
}

func (m *Memory) TemplateByName(ctx context.Context, name string) (*models.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, raw := range m.templates {
		t := &models.Template{}
		if err := json.Unmarshal(raw, t); err != nil {
			return nil, err
		}
		if t.Name == name {
			return t, nil
		}
	}
	return nil, models.NotFoundf("template named %q", name)
}

// Snapshots.

func (m *Memory) CreateSnapshot(ctx context.Context, s *models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&s.ID)
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	return putRow(m.snapshots, s.ID, s)
}

func (m *Memory) GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := &models.Snapshot{}
	if err := getRow(m.snapshots, id, "snapshot", s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Memory) DeleteSnapshot(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[id]; !ok {
		return models.NotFoundf("snapshot %s", id)
	}
	delete(m.snapshots, id)
	return nil
}

func (m *Memory) SnapshotsByVM(ctx context.Context, vmID string) ([]*models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.Snapshot{}
	for _, raw := range m.snapshots {
		s := &models.Snapshot{}
		if err := json.Unmarshal(raw, s); err != nil {
			return nil, err
		}
		if s.VMID == vmID {
			out = append(out, s)
		}
	}
	sortSnapshots(out)
	return out, nil
}

// MSEL.

func (m *Memory) GetMSEL(ctx context.Context, id string) (*models.MSEL, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msel := &models.MSEL{}
	if err := getRow(m.msels, id, "msel", msel); err != nil {
		return nil, err
	}
	return msel, nil
}

func (m *Memory) MSELByRange(ctx context.Context, rangeID string) (*models.MSEL, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mselByRangeLocked(rangeID)
}

func (m *Memory) mselByRangeLocked(rangeID string) (*models.MSEL, error) {
	for _, raw := range m.msels {
		msel := &models.MSEL{}
		if err := json.Unmarshal(raw, msel); err != nil {
			return nil, err
		}
		if msel.RangeID == rangeID {
			return msel, nil
		}
	}
	return nil, models.NotFoundf("msel for range %s", rangeID)
}

func (m *Memory) ReplaceMSEL(ctx context.Context, msel *models.MSEL, injects []*models.Inject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteMSELLocked(msel.RangeID)
	ensureID(&msel.ID)
	if err := putRow(m.msels, msel.ID, msel); err != nil {
		return err
	}
	for _, inj := range injects {
		ensureID(&inj.ID)
		inj.MSELID = msel.ID
		if err := putRow(m.injects, inj.ID, inj); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) DeleteMSEL(ctx context.Context, rangeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.deleteMSELLocked(rangeID) {
		return models.NotFoundf("msel for range %s", rangeID)
	}
	return nil
}

func (m *Memory) deleteMSELLocked(rangeID string) bool {
	found := false
	for id, raw := range m.msels {
		msel := &models.MSEL{}
		if json.Unmarshal(raw, msel) == nil && msel.RangeID == rangeID {
			delete(m.msels, id)
			found = true
			for injID, injRaw := range m.injects {
				inj := &models.Inject{}
				if json.Unmarshal(injRaw, inj) == nil && inj.MSELID == msel.ID {
					delete(m.injects, injID)
				}
			}
		}
	}
	return found
}

func (m *Memory) GetInject(ctx context.Context, id string) (*models.Inject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inj := &models.Inject{}
	if err := getRow(m.injects, id, "inject", inj); err != nil {
		return nil, err
	}
	return inj, nil
}

func (m *Memory) UpdateInject(ctx context.Context, inj *models.Inject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.injects[inj.ID]; !ok {
		return models.NotFoundf("inject %s", inj.ID)
	}
	return putRow(m.injects, inj.ID, inj)
}

func (m *Memory) InjectsByMSEL(ctx context.Context, mselID string) ([]*models.Inject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.Inject{}
	for _, raw := range m.injects {
		inj := &models.Inject{}
		if err := json.Unmarshal(raw, inj); err != nil {
			return nil, err
		}
		if inj.MSELID == mselID {
			out = append(out, inj)
		}
	}
	sortInjects(out)
	return out, nil
}

// Events.

func (m *Memory) AppendEvent(ctx context.Context, e *models.EventLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&e.ID)
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	m.events = append(m.events, raw)
	return nil
}

func (m *Memory) EventsByRange(ctx context.Context, rangeID string, kind models.EventKind, limit, offset int) ([]*models.EventLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := []*models.EventLogEntry{}
	for _, raw := range m.events {
		e := &models.EventLogEntry{}
		if err := json.Unmarshal(raw, e); err != nil {
			return nil, err
		}
		if e.RangeID == rangeID && (kind == "" || e.Kind == kind) {
			matched = append(matched, e)
		}
	}
	return pageNewestFirst(matched, limit, offset), nil
}

// Connections.

func (m *Memory) CreateConnection(ctx context.Context, c *models.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&c.ID)
	if c.StartAt.IsZero() {
		c.StartAt = time.Now()
	}
	return putRow(m.connections, c.ID, c)
}

func (m *Memory) GetConnection(ctx context.Context, id string) (*models.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := &models.Connection{}
	if err := getRow(m.connections, id, "connection", c); err != nil {
		return nil, err
	}
	return c, nil
}

func (m *Memory) UpdateConnection(ctx context.Context, c *models.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connections[c.ID]; !ok {
		return models.NotFoundf("connection %s", c.ID)
	}
	return putRow(m.connections, c.ID, c)
}

func (m *Memory) ConnectionsByRange(ctx context.Context, rangeID string) ([]*models.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.Connection{}
	for _, raw := range m.connections {
		c := &models.Connection{}
		if err := json.Unmarshal(raw, c); err != nil {
			return nil, err
		}
		if c.RangeID == rangeID {
			out = append(out, c)
		}
	}
	sortConnections(out)
	return out, nil
}

// Artifacts.

func (m *Memory) CreateArtifact(ctx context.Context, a *models.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, raw := range m.artifacts {
		existing := &models.Artifact{}
		if err := json.Unmarshal(raw, existing); err != nil {
			return err
		}
		if existing.Filename == a.Filename {
			return models.Conflictf("artifact filename %q already exists", a.Filename)
		}
	}
	ensureID(&a.ID)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return putRow(m.artifacts, a.ID, a)
}

func (m *Memory) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a := &models.Artifact{}
	if err := getRow(m.artifacts, id, "artifact", a); err != nil {
		return nil, err
	}
	return a, nil
}

func (m *Memory) DeleteArtifact(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.artifacts[id]; !ok {
		return models.NotFoundf("artifact %s", id)
	}
	delete(m.artifacts, id)
	for pid, raw := range m.placements {
		p := &models.Placement{}
		if json.Unmarshal(raw, p) == nil && p.ArtifactID == id {
			delete(m.placements, pid)
		}
	}
	return nil
}

func (m *Memory) ListArtifacts(ctx context.Context, vis Visibility) ([]*models.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.Artifact{}
	for id, raw := range m.artifacts {
		a := &models.Artifact{}
		if err := json.Unmarshal(raw, a); err != nil {
			return nil, err
		}
		if vis != nil && !vis(a.UploaderID, m.tagsLocked(models.KindArtifact, id)) {
			continue
		}
		out = append(out, a)
	}
	sortArtifacts(out)
	return out, nil
}

func (m *Memory) ArtifactByFilename(ctx context.Context, filename string) (*models.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, raw := range m.artifacts {
		a := &models.Artifact{}
		if err := json.Unmarshal(raw, a); err != nil {
			return nil, err
		}
		if a.Filename == filename {
			return a, nil
		}
	}
	return nil, models.NotFoundf("artifact named %q", filename)
}

// Placements.

func (m *Memory) CreatePlacement(ctx context.Context, p *models.Placement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&p.ID)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	return putRow(m.placements, p.ID, p)
}

func (m *Memory) GetPlacement(ctx context.Context, id string) (*models.Placement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := &models.Placement{}
	if err := getRow(m.placements, id, "placement", p); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *Memory) UpdatePlacement(ctx context.Context, p *models.Placement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.placements[p.ID]; !ok {
		return models.NotFoundf("placement %s", p.ID)
	}
	return putRow(m.placements, p.ID, p)
}

func (m *Memory) PlacementsByVM(ctx context.Context, vmID string) ([]*models.Placement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.Placement{}
	for _, raw := range m.placements {
		p := &models.Placement{}
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, err
		}
		if p.VMID == vmID {
			out = append(out, p)
		}
	}
	sortPlacements(out)
	return out, nil
}

// Users.

func (m *Memory) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, raw := range m.users {
		existing := &models.User{}
		if err := json.Unmarshal(raw, existing); err != nil {
			return err
		}
		if existing.Username == u.Username {
			return models.Conflictf("username %q already exists", u.Username)
		}
	}
	ensureID(&u.ID)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	return putRow(m.users, u.ID, u)
}

func (m *Memory) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u := &models.User{}
	if err := getRow(m.users, id, "user", u); err != nil {
		return nil, err
	}
	return u, nil
}

func (m *Memory) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, raw := range m.users {
		u := &models.User{}
		if err := json.Unmarshal(raw, u); err != nil {
			return nil, err
		}
		if u.Username == username {
			return u, nil
		}
	}
	return nil, models.NotFoundf("user named %q", username)
}

func (m *Memory) UpdateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return models.NotFoundf("user %s", u.ID)
	}
	return putRow(m.users, u.ID, u)
}

func (m *Memory) ListUsers(ctx context.Context) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.User{}
	for _, raw := range m.users {
		u := &models.User{}
		if err := json.Unmarshal(raw, u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	sortUsers(out)
	return out, nil
}

// Tags.

func (m *Memory) AddTag(ctx context.Context, t *models.ResourceTag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, raw := range m.tags {
		existing := &models.ResourceTag{}
		if err := json.Unmarshal(raw, existing); err != nil {
			return err
		}
		if existing.Kind == t.Kind && existing.ResourceID == t.ResourceID && existing.Tag == t.Tag {
			return models.Conflictf("tag %q already present on %s %s", t.Tag, t.Kind, t.ResourceID)
		}
	}
	ensureID(&t.ID)
	return putRow(m.tags, t.ID, t)
}

func (m *Memory) RemoveTag(ctx context.Context, kind models.ResourceKind, resourceID, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, raw := range m.tags {
		t := &models.ResourceTag{}
		if err := json.Unmarshal(raw, t); err != nil {
			return err
		}
		if t.Kind == kind && t.ResourceID == resourceID && t.Tag == tag {
			delete(m.tags, id)
			return nil
		}
	}
	return models.NotFoundf("tag %q on %s %s", tag, kind, resourceID)
}

func (m *Memory) TagsFor(ctx context.Context, kind models.ResourceKind, resourceID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tagsLocked(kind, resourceID), nil
}

func (m *Memory) tagsLocked(kind models.ResourceKind, resourceID string) []string {
	out := []string{}
	for _, raw := range m.tags {
		t := &models.ResourceTag{}
		if json.Unmarshal(raw, t) == nil && t.Kind == kind && t.ResourceID == resourceID {
			out = append(out, t.Tag)
		}
	}
	sortStrings(out)
	return out
}

// PurgeRange.

func (m *Memory) PurgeRange(ctx context.Context, rangeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ranges[rangeID]; !ok {
		return models.NotFoundf("range %s", rangeID)
	}

	vms, err := m.vmsByRangeLocked(rangeID)
	if err != nil {
		return err
	}
	for _, vm := range vms {
		for id, raw := range m.snapshots {
			s := &models.Snapshot{}
			if json.Unmarshal(raw, s) == nil && s.VMID == vm.ID {
				delete(m.snapshots, id)
			}
		}
		for id, raw := range m.placements {
			p := &models.Placement{}
			if json.Unmarshal(raw, p) == nil && p.VMID == vm.ID {
				delete(m.placements, id)
			}
		}
		delete(m.vms, vm.ID)
	}

	nets, err := m.networksByRangeLocked(rangeID)
	if err != nil {
		return err
	}
	for _, n := range nets {
		delete(m.networks, n.ID)
	}

	m.deleteMSELLocked(rangeID)

	for id, raw := range m.connections {
		c := &models.Connection{}
		if json.Unmarshal(raw, c) == nil && c.RangeID == rangeID {
			delete(m.connections, id)
		}
	}

	kept := make([][]byte, 0, len(m.events))
	for _, raw := range m.events {
		e := &models.EventLogEntry{}
		if json.Unmarshal(raw, e) == nil && e.RangeID == rangeID {
			continue
		}
		kept = append(kept, raw)
	}
	m.events = kept

	for id, raw := range m.tags {
		t := &models.ResourceTag{}
		if json.Unmarshal(raw, t) == nil && t.Kind == models.KindRange && t.ResourceID == rangeID {
			delete(m.tags, id)
		}
	}

	delete(m.ranges, rangeID)
	return nil
}

func (m *Memory) Close() error { return nil }

func stampCreate(created, updated *time.Time) {
	now := time.Now()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

func pageNewestFirst(events []*models.EventLogEntry, limit, offset int) []*models.EventLogEntry {
	// events arrive in append order; flip to reverse-chronological.
	out := make([]*models.EventLogEntry, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		out = append(out, events[i])
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}
