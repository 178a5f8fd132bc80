package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cyroid/cyroid/pkg/models"
)

func TestCreateRangeRequiresName(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.o.CreateRange(context.Background(), "  ", "", "owner-1")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestAddNetworkConflicts(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()

	dup := &models.Network{RangeID: f.rng.ID, Name: "dmz", CIDR: "10.0.9.0/24", Gateway: "10.0.9.1"}
	assert.ErrorIs(t, env.o.AddNetwork(ctx, dup), models.ErrConflict)

	overlap := &models.Network{RangeID: f.rng.ID, Name: "dmz2", CIDR: "10.0.1.0/24", Gateway: "10.0.1.1"}
	assert.ErrorIs(t, env.o.AddNetwork(ctx, overlap), models.ErrConflict)
}

func TestAddNetworkRequiresRange(t *testing.T) {
	env := newTestEnv(t)

	n := &models.Network{RangeID: "nope", Name: "lan", CIDR: "10.1.0.0/24", Gateway: "10.1.0.1"}
	assert.ErrorIs(t, env.o.AddNetwork(context.Background(), n), models.ErrNotFound)
}

func TestAddVMUniqueness(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()

	// Hostname collisions are case-insensitive.
	dupHost := &models.VM{RangeID: f.rng.ID, NetworkID: f.dmz.ID, TemplateID: f.web.TemplateID, Hostname: "WEB", IPAddress: "10.0.1.11"}
	assert.ErrorIs(t, env.o.AddVM(ctx, dupHost), models.ErrConflict)

	dupIP := &models.VM{RangeID: f.rng.ID, NetworkID: f.dmz.ID, TemplateID: f.web.TemplateID, Hostname: "web2", IPAddress: "10.0.1.10"}
	assert.ErrorIs(t, env.o.AddVM(ctx, dupIP), models.ErrConflict)
}

func TestAddVMChecksReferences(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()

	noTmpl := &models.VM{RangeID: f.rng.ID, NetworkID: f.dmz.ID, TemplateID: "nope", Hostname: "x", IPAddress: "10.0.1.11"}
	assert.ErrorIs(t, env.o.AddVM(ctx, noTmpl), models.ErrNotFound)

	other, err := env.o.CreateRange(ctx, "other", "", "owner-2")
	assert.NoError(t, err)
	foreign := &models.VM{RangeID: other.ID, NetworkID: f.dmz.ID, TemplateID: f.web.TemplateID, Hostname: "x", IPAddress: "10.0.1.11"}
	assert.ErrorIs(t, env.o.AddVM(ctx, foreign), models.ErrValidation)
}

func TestUpdateVMPreservesLifecycleFields(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()
	assert.NoError(t, env.o.Deploy(ctx, f.rng.ID))
	deployed := mustVM(t, env, f.web.ID)

	edit := *deployed
	edit.CPU = 4
	edit.RAMMB = 2048
	// A stale caller payload must not clobber what the plans own.
	edit.Status = models.VMPending
	edit.Handle = ""
	assert.NoError(t, env.o.UpdateVM(ctx, &edit))

	got := mustVM(t, env, f.web.ID)
	assert.Equal(t, 4, got.CPU)
	assert.Equal(t, 2048, got.RAMMB)
	assert.Equal(t, models.VMRunning, got.Status)
	assert.Equal(t, deployed.Handle, got.Handle)
	assert.Equal(t, deployed.CreatedAt, got.CreatedAt)
}

func TestUpdateVMCannotMoveRanges(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()

	other, err := env.o.CreateRange(ctx, "other", "", "owner-2")
	assert.NoError(t, err)
	edit := *mustVM(t, env, f.web.ID)
	edit.RangeID = other.ID
	assert.ErrorIs(t, env.o.UpdateVM(ctx, &edit), models.ErrValidation)
}

func TestRemoveVMRemovesContainer(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()
	assert.NoError(t, env.o.Deploy(ctx, f.rng.ID))
	handle := mustVM(t, env, f.web.ID).Handle

	assert.NoError(t, env.o.RemoveVM(ctx, f.web.ID))
	_, err := env.repo.GetVM(ctx, f.web.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, alive := env.rt.Containers[handle]
	assert.False(t, alive)
	assert.Len(t, env.rt.Containers, 1)
}

func TestRemoveNetworkBlockedByLiveContainers(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()
	assert.NoError(t, env.o.Deploy(ctx, f.rng.ID))

	err := env.o.RemoveNetwork(ctx, f.dmz.ID)
	assert.ErrorIs(t, err, models.ErrConflict)

	assert.NoError(t, env.o.RemoveVM(ctx, f.web.ID))
	assert.NoError(t, env.o.RemoveNetwork(ctx, f.dmz.ID))
	_, err = env.repo.GetNetwork(ctx, f.dmz.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, ok := fakeNetworkByName(env, "cyroid-"+f.rng.ID+"-dmz")
	assert.False(t, ok)
}

func TestRemoveUnprovisionedNetwork(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()

	spare := &models.Network{RangeID: f.rng.ID, Name: "spare", CIDR: "10.0.5.0/24", Gateway: "10.0.5.1"}
	assert.NoError(t, env.o.AddNetwork(ctx, spare))
	assert.NoError(t, env.o.RemoveNetwork(ctx, spare.ID))
	_, err := env.repo.GetNetwork(ctx, spare.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteRangeCascades(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()
	assert.NoError(t, env.o.Deploy(ctx, f.rng.ID))

	vmDir := filepath.Join(env.storageRoot, f.rng.ID, f.web.ID, "storage")
	assert.NoError(t, os.MkdirAll(vmDir, 0o755))

	assert.NoError(t, env.o.DeleteRange(ctx, f.rng.ID))
	_, err := env.repo.GetRange(ctx, f.rng.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	vms, err := env.repo.VMsByRange(ctx, f.rng.ID)
	assert.NoError(t, err)
	assert.Empty(t, vms)
	assert.Empty(t, env.rt.Containers)
	assert.Len(t, env.rt.Networks, 1) // routing network stays

	_, err = os.Stat(filepath.Join(env.storageRoot, f.rng.ID))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteRangeForbiddenWhileDeploying(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()

	rng := mustRange(t, env, f.rng.ID)
	rng.Status = models.RangeDeploying
	assert.NoError(t, env.repo.UpdateRange(ctx, rng))
	assert.ErrorIs(t, env.o.DeleteRange(ctx, f.rng.ID), models.ErrValidation)
}

func TestCloneCopiesTopology(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)
	ctx := context.Background()
	assert.NoError(t, env.o.Deploy(ctx, f.rng.ID))

	clone, err := env.o.Clone(ctx, f.rng.ID, "")
	assert.NoError(t, err)
	assert.Equal(t, "acme-lab (Copy)", clone.Name)
	assert.Equal(t, models.RangeDraft, clone.Status)
	assert.Equal(t, "owner-1", clone.OwnerID)

	networks, err := env.repo.NetworksByRange(ctx, clone.ID)
	assert.NoError(t, err)
	assert.Len(t, networks, 2)
	cloneNetByCIDR := map[string]*models.Network{}
	for _, n := range networks {
		assert.Empty(t, n.Handle)
		assert.NotEqual(t, f.dmz.ID, n.ID)
		assert.NotEqual(t, f.intnet.ID, n.ID)
		cloneNetByCIDR[n.CIDR] = n
	}
	assert.Contains(t, cloneNetByCIDR, "10.0.1.0/24")
	assert.Contains(t, cloneNetByCIDR, "10.0.2.0/24")

	vms, err := env.repo.VMsByRange(ctx, clone.ID)
	assert.NoError(t, err)
	assert.Len(t, vms, 2)
	for _, vm := range vms {
		assert.Equal(t, models.VMPending, vm.Status)
		assert.Empty(t, vm.Handle)
		switch vm.Hostname {
		case "web":
			assert.Equal(t, cloneNetByCIDR["10.0.1.0/24"].ID, vm.NetworkID)
			assert.Equal(t, "10.0.1.10", vm.IPAddress)
		case "db":
			assert.Equal(t, cloneNetByCIDR["10.0.2.0/24"].ID, vm.NetworkID)
		default:
			t.Fatalf("unexpected VM %q in clone", vm.Hostname)
		}
	}

	// The source is untouched.
	assert.Equal(t, models.RangeRunning, mustRange(t, env, f.rng.ID).Status)
	assert.NotEmpty(t, mustVM(t, env, f.web.ID).Handle)
}
