package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cyroid/cyroid/pkg/cache"
	"github.com/cyroid/cyroid/pkg/journal"
	"github.com/cyroid/cyroid/pkg/models"
	"github.com/cyroid/cyroid/pkg/provision"
	"github.com/cyroid/cyroid/pkg/runtime"
	"github.com/cyroid/cyroid/pkg/store"
	"github.com/cyroid/cyroid/pkg/utils"
)

type testEnv struct {
	o           *Orchestrator
	rt          *runtime.FakeRuntime
	repo        store.Repository
	storageRoot string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	base := t.TempDir()
	repo := store.NewMemory()
	rt := runtime.NewFakeRuntime()
	isoCache, err := cache.NewManager(utils.NewDummyLog(), rt, utils.NewDummyOSCommand(), filepath.Join(base, "isos"), 0)
	assert.NoError(t, err)
	synth := provision.NewProvisioner(utils.NewDummyLog(), utils.NewDummyOSCommand(), provision.Paths{
		VMStorageDir:       filepath.Join(base, "vms"),
		TemplateStorageDir: filepath.Join(base, "templates"),
		GlobalSharedDir:    filepath.Join(base, "global"),
	}, isoCache, "cyroid-routing")
	jrnl := journal.New(utils.NewDummyLog(), repo)
	o := New(utils.NewDummyLog(), repo, rt, synth, jrnl, "cyroid-routing", 10)
	return &testEnv{o: o, rt: rt, repo: repo, storageRoot: filepath.Join(base, "vms")}
}

// labFixture is the two-tier lab used across the lifecycle tests: a web
// VM on a fully isolated dmz and a db VM on a controlled internal net.
type labFixture struct {
	rng    *models.Range
	dmz    *models.Network
	intnet *models.Network
	web    *models.VM
	db     *models.VM
}

func seedLab(t *testing.T, env *testEnv) *labFixture {
	t.Helper()
	ctx := context.Background()

	rng, err := env.o.CreateRange(ctx, "acme-lab", "two tier lab", "owner-1")
	assert.NoError(t, err)

	webTmpl := &models.Template{Name: "nginx", OSKind: models.OSLinux, VMType: models.TypeContainer, BaseImage: "nginx:alpine"}
	assert.NoError(t, env.repo.CreateTemplate(ctx, webTmpl))
	dbTmpl := &models.Template{Name: "postgres", OSKind: models.OSLinux, VMType: models.TypeContainer, BaseImage: "postgres:16"}
	assert.NoError(t, env.repo.CreateTemplate(ctx, dbTmpl))

	dmz := &models.Network{RangeID: rng.ID, Name: "dmz", CIDR: "10.0.1.0/24", Gateway: "10.0.1.1", Isolation: models.IsolationComplete}
	assert.NoError(t, env.o.AddNetwork(ctx, dmz))
	intnet := &models.Network{RangeID: rng.ID, Name: "int", CIDR: "10.0.2.0/24", Gateway: "10.0.2.1", Isolation: models.IsolationControlled}
	assert.NoError(t, env.o.AddNetwork(ctx, intnet))

	web := &models.VM{RangeID: rng.ID, NetworkID: dmz.ID, TemplateID: webTmpl.ID, Hostname: "web", IPAddress: "10.0.1.10", CPU: 1, RAMMB: 512}
	assert.NoError(t, env.o.AddVM(ctx, web))
	db := &models.VM{RangeID: rng.ID, NetworkID: intnet.ID, TemplateID: dbTmpl.ID, Hostname: "db", IPAddress: "10.0.2.10", CPU: 2, RAMMB: 1024}
	assert.NoError(t, env.o.AddVM(ctx, db))

	return &labFixture{rng: rng, dmz: dmz, intnet: intnet, web: web, db: db}
}

func mustVM(t *testing.T, env *testEnv, id string) *models.VM {
	t.Helper()
	vm, err := env.repo.GetVM(context.Background(), id)
	assert.NoError(t, err)
	return vm
}

func mustRange(t *testing.T, env *testEnv, id string) *models.Range {
	t.Helper()
	rng, err := env.repo.GetRange(context.Background(), id)
	assert.NoError(t, err)
	return rng
}

func eventKinds(t *testing.T, env *testEnv, rangeID string) []models.EventKind {
	t.Helper()
	events, err := env.o.journal.List(context.Background(), rangeID, "", 0, 0)
	assert.NoError(t, err)
	kinds := make([]models.EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

func fakeNetworkByName(env *testEnv, name string) (runtime.NetworkInfo, bool) {
	for _, n := range env.rt.Networks {
		if n.Name == name {
			return n, true
		}
	}
	return runtime.NetworkInfo{}, false
}

func TestDeployTwoVMRange(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()

	assert.NoError(t, env.o.Deploy(ctx, f.rng.ID))

	assert.Equal(t, models.RangeRunning, mustRange(t, env, f.rng.ID).Status)
	for _, id := range []string{f.web.ID, f.db.ID} {
		vm := mustVM(t, env, id)
		assert.Equal(t, models.VMRunning, vm.Status)
		assert.NotEmpty(t, vm.Handle)
		assert.True(t, env.rt.Containers[vm.Handle].Info.Running)
	}

	dmz, ok := fakeNetworkByName(env, "cyroid-"+f.rng.ID+"-dmz")
	assert.True(t, ok)
	assert.True(t, dmz.Internal)
	assert.Equal(t, "10.0.1.0/24", dmz.Subnet)
	assert.Equal(t, f.rng.ID, dmz.Labels[runtime.LabelRangeID])
	assert.Equal(t, f.dmz.ID, dmz.Labels[runtime.LabelNetworkID])

	intnet, ok := fakeNetworkByName(env, "cyroid-"+f.rng.ID+"-int")
	assert.True(t, ok)
	assert.True(t, intnet.Internal)

	_, ok = fakeNetworkByName(env, "cyroid-routing")
	assert.True(t, ok)

	web := mustVM(t, env, f.web.ID)
	spec := env.rt.Containers[web.Handle].Spec
	assert.Equal(t, "nginx:alpine", spec.Image)
	assert.Equal(t, "10.0.1.10", spec.StaticIP)
	assert.Equal(t, 1, spec.CPUCores)
	assert.Equal(t, int64(512), spec.MemoryMB)

	kinds := eventKinds(t, env, f.rng.ID)
	assert.Equal(t, []models.EventKind{
		models.EventRangeDeployed,
		models.EventVMStarted,
		models.EventVMStarted,
		models.EventVMCreated,
		models.EventVMCreated,
	}, kinds)
}

func TestDeployIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()

	assert.NoError(t, env.o.Deploy(ctx, f.rng.ID))
	containers := len(env.rt.Containers)
	events := len(eventKinds(t, env, f.rng.ID))

	assert.NoError(t, env.o.Deploy(ctx, f.rng.ID))
	assert.Equal(t, containers, len(env.rt.Containers))
	assert.Equal(t, events, len(eventKinds(t, env, f.rng.ID)))
}

func TestDeployResumesAfterFailure(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()

	env.rt.FailNext["create container"] = errors.New("no space left on device")
	err := env.o.Deploy(ctx, f.rng.ID)
	assert.Error(t, err)

	assert.Equal(t, models.RangeError, mustRange(t, env, f.rng.ID).Status)
	assert.Contains(t, eventKinds(t, env, f.rng.ID), models.EventVMError)
	// Networks from the failed attempt keep their handles.
	assert.NotEmpty(t, mustNetworkHandle(t, env, f.dmz.ID))

	assert.NoError(t, env.o.Deploy(ctx, f.rng.ID))
	assert.Equal(t, models.RangeRunning, mustRange(t, env, f.rng.ID).Status)
	assert.Len(t, env.rt.Containers, 2)
	assert.Equal(t, models.VMRunning, mustVM(t, env, f.web.ID).Status)
	assert.Equal(t, models.VMRunning, mustVM(t, env, f.db.ID).Status)
}

func mustNetworkHandle(t *testing.T, env *testEnv, id string) string {
	t.Helper()
	n, err := env.repo.GetNetwork(context.Background(), id)
	assert.NoError(t, err)
	return n.Handle
}

func TestDeployValidatesBeforeTouchingEngine(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()

	// Smuggle an invalid VM past the CRUD checks.
	rogue := &models.VM{RangeID: f.rng.ID, NetworkID: f.dmz.ID, TemplateID: f.web.TemplateID, Hostname: "rogue", IPAddress: "192.168.9.9", Status: models.VMPending}
	assert.NoError(t, env.repo.CreateVM(ctx, rogue))

	err := env.o.Deploy(ctx, f.rng.ID)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, models.RangeDraft, mustRange(t, env, f.rng.ID).Status)
	assert.Empty(t, env.rt.Containers)
	assert.Empty(t, env.rt.Networks)
}

func TestDeployGates(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()

	for _, status := range []models.RangeStatus{models.RangeDeploying, models.RangeArchived} {
		rng := mustRange(t, env, f.rng.ID)
		rng.Status = status
		assert.NoError(t, env.repo.UpdateRange(ctx, rng))

		err := env.o.Deploy(ctx, f.rng.ID)
		assert.ErrorIs(t, err, models.ErrValidation)
		assert.Contains(t, err.Error(), string(status))
	}
}

func TestTeardownReturnsRangeToDraft(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()

	assert.NoError(t, env.o.Deploy(ctx, f.rng.ID))
	assert.NoError(t, env.o.Teardown(ctx, f.rng.ID))

	assert.Equal(t, models.RangeDraft, mustRange(t, env, f.rng.ID).Status)
	for _, id := range []string{f.web.ID, f.db.ID} {
		vm := mustVM(t, env, id)
		assert.Equal(t, models.VMPending, vm.Status)
		assert.Empty(t, vm.Handle)
	}
	assert.Empty(t, mustNetworkHandle(t, env, f.dmz.ID))
	assert.Empty(t, env.rt.Containers)

	// Only the shared routing network survives.
	assert.Len(t, env.rt.Networks, 1)
	_, ok := fakeNetworkByName(env, "cyroid-routing")
	assert.True(t, ok)

	assert.Equal(t, models.EventRangeTeardown, eventKinds(t, env, f.rng.ID)[0])
}

func TestTeardownOnDraftIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()

	assert.NoError(t, env.o.Teardown(ctx, f.rng.ID))
	assert.Equal(t, models.RangeDraft, mustRange(t, env, f.rng.ID).Status)
	assert.Empty(t, env.rt.Containers)
	assert.Empty(t, env.rt.Networks)
}

func TestTeardownForbiddenWhileDeploying(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()

	rng := mustRange(t, env, f.rng.ID)
	rng.Status = models.RangeDeploying
	assert.NoError(t, env.repo.UpdateRange(ctx, rng))

	err := env.o.Teardown(ctx, f.rng.ID)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestStopAndStartRange(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()

	assert.NoError(t, env.o.Deploy(ctx, f.rng.ID))
	assert.NoError(t, env.o.StopRange(ctx, f.rng.ID))

	assert.Equal(t, models.RangeStopped, mustRange(t, env, f.rng.ID).Status)
	web := mustVM(t, env, f.web.ID)
	assert.Equal(t, models.VMStopped, web.Status)
	assert.False(t, env.rt.Containers[web.Handle].Info.Running)
	assert.Equal(t, 10, env.rt.Containers[web.Handle].StopGrace)
	assert.Equal(t, models.EventRangeStopped, eventKinds(t, env, f.rng.ID)[0])

	// Stopping again is an illegal transition.
	assert.ErrorIs(t, env.o.StopRange(ctx, f.rng.ID), models.ErrValidation)

	assert.NoError(t, env.o.StartRange(ctx, f.rng.ID))
	assert.Equal(t, models.RangeRunning, mustRange(t, env, f.rng.ID).Status)
	assert.Equal(t, models.VMRunning, mustVM(t, env, f.web.ID).Status)
	assert.Equal(t, models.EventRangeStarted, eventKinds(t, env, f.rng.ID)[0])

	assert.ErrorIs(t, env.o.StartRange(ctx, f.rng.ID), models.ErrValidation)
}

func TestDeployOpenNetworkIsNotInternal(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()

	open := &models.Network{RangeID: f.rng.ID, Name: "egress", CIDR: "10.0.3.0/24", Gateway: "10.0.3.1", Isolation: models.IsolationOpen}
	assert.NoError(t, env.o.AddNetwork(ctx, open))

	assert.NoError(t, env.o.Deploy(ctx, f.rng.ID))
	info, ok := fakeNetworkByName(env, "cyroid-"+f.rng.ID+"-egress")
	assert.True(t, ok)
	assert.False(t, info.Internal)
}
