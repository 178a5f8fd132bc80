package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cyroid/cyroid/pkg/models"
)

// withStores runs the same assertions against both backends.
func withStores(t *testing.T, fn func(t *testing.T, repo Repository)) {
	t.Run("memory", func(t *testing.T) {
		repo := NewMemory()
		defer repo.Close()
		fn(t, repo)
	})
	t.Run("bolt", func(t *testing.T) {
		repo, err := NewBolt(filepath.Join(t.TempDir(), "cyroid.db"))
		assert.NoError(t, err)
		defer repo.Close()
		fn(t, repo)
	})
}

func TestRangeCRUD(t *testing.T) {
	withStores(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		r := &models.Range{Name: "alpha", OwnerID: "u1", Status: models.RangeDraft}
		assert.NoError(t, repo.CreateRange(ctx, r))
		assert.NotEmpty(t, r.ID)
		assert.False(t, r.CreatedAt.IsZero())

		got, err := repo.GetRange(ctx, r.ID)
		assert.NoError(t, err)
		assert.Equal(t, "alpha", got.Name)

		got.Status = models.RangeDeploying
		assert.NoError(t, repo.UpdateRange(ctx, got))
		again, err := repo.GetRange(ctx, r.ID)
		assert.NoError(t, err)
		assert.Equal(t, models.RangeDeploying, again.Status)

		// mutating the returned copy must not touch the stored row
		again.Name = "scribble"
		fresh, err := repo.GetRange(ctx, r.ID)
		assert.NoError(t, err)
		assert.Equal(t, "alpha", fresh.Name)

		assert.NoError(t, repo.DeleteRange(ctx, r.ID))
		_, err = repo.GetRange(ctx, r.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestUniqueKeys(t *testing.T) {
	withStores(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		assert.NoError(t, repo.CreateTemplate(ctx, &models.Template{Name: "ubuntu-base"}))
		err := repo.CreateTemplate(ctx, &models.Template{Name: "ubuntu-base"})
		assert.ErrorIs(t, err, models.ErrConflict)

		assert.NoError(t, repo.CreateUser(ctx, &models.User{Username: "alice"}))
		err = repo.CreateUser(ctx, &models.User{Username: "alice"})
		assert.ErrorIs(t, err, models.ErrConflict)

		tag := &models.ResourceTag{Kind: models.KindRange, ResourceID: "r1", Tag: "ops"}
		assert.NoError(t, repo.AddTag(ctx, tag))
		err = repo.AddTag(ctx, &models.ResourceTag{Kind: models.KindRange, ResourceID: "r1", Tag: "ops"})
		assert.ErrorIs(t, err, models.ErrConflict)

		assert.NoError(t, repo.RemoveTag(ctx, models.KindRange, "r1", "ops"))
		err = repo.RemoveTag(ctx, models.KindRange, "r1", "ops")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestReplaceMSELIsAtomicSwap(t *testing.T) {
	withStores(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		first := &models.MSEL{RangeID: "r1", Name: "v1", RawText: "## T+0:00 - a"}
		assert.NoError(t, repo.ReplaceMSEL(ctx, first, []*models.Inject{
			{Sequence: 1, Title: "a", Status: models.InjectPending},
			{Sequence: 2, Title: "b", Status: models.InjectPending},
		}))

		second := &models.MSEL{RangeID: "r1", Name: "v2", RawText: "## T+0:05 - c"}
		assert.NoError(t, repo.ReplaceMSEL(ctx, second, []*models.Inject{
			{Sequence: 1, Title: "c", Status: models.InjectPending},
		}))

		current, err := repo.MSELByRange(ctx, "r1")
		assert.NoError(t, err)
		assert.Equal(t, "v2", current.Name)

		injects, err := repo.InjectsByMSEL(ctx, current.ID)
		assert.NoError(t, err)
		assert.Len(t, injects, 1)
		assert.Equal(t, "c", injects[0].Title)

		// the old document's injects are gone with it
		old, err := repo.InjectsByMSEL(ctx, first.ID)
		assert.NoError(t, err)
		assert.Empty(t, old)
	})
}

func TestEventsNewestFirstWithPaging(t *testing.T) {
	withStores(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		kinds := []models.EventKind{
			models.EventRangeDeployed,
			models.EventVMStarted,
			models.EventVMStarted,
			models.EventRangeStopped,
		}
		for i, kind := range kinds {
			assert.NoError(t, repo.AppendEvent(ctx, &models.EventLogEntry{
				RangeID: "r1",
				Kind:    kind,
				Message: string(rune('a' + i)),
			}))
		}
		assert.NoError(t, repo.AppendEvent(ctx, &models.EventLogEntry{RangeID: "other", Kind: models.EventVMError}))

		all, err := repo.EventsByRange(ctx, "r1", "", 0, 0)
		assert.NoError(t, err)
		assert.Len(t, all, 4)
		assert.Equal(t, models.EventRangeStopped, all[0].Kind, "newest first")
		assert.Equal(t, models.EventRangeDeployed, all[3].Kind)

		page, err := repo.EventsByRange(ctx, "r1", "", 2, 1)
		assert.NoError(t, err)
		assert.Len(t, page, 2)
		assert.Equal(t, models.EventVMStarted, page[0].Kind)

		started, err := repo.EventsByRange(ctx, "r1", models.EventVMStarted, 0, 0)
		assert.NoError(t, err)
		assert.Len(t, started, 2)
	})
}

func TestListRangesAppliesVisibility(t *testing.T) {
	withStores(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		mine := &models.Range{Name: "mine", OwnerID: "me"}
		theirs := &models.Range{Name: "theirs", OwnerID: "them"}
		assert.NoError(t, repo.CreateRange(ctx, mine))
		assert.NoError(t, repo.CreateRange(ctx, theirs))
		assert.NoError(t, repo.AddTag(ctx, &models.ResourceTag{Kind: models.KindRange, ResourceID: theirs.ID, Tag: "secret"}))

		onlyMine := func(owner string, tags []string) bool { return owner == "me" }
		got, err := repo.ListRanges(ctx, onlyMine)
		assert.NoError(t, err)
		assert.Len(t, got, 1)
		assert.Equal(t, "mine", got[0].Name)

		all, err := repo.ListRanges(ctx, nil)
		assert.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestPurgeRangeCascades(t *testing.T) {
	withStores(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		r := &models.Range{Name: "doomed", OwnerID: "u1"}
		assert.NoError(t, repo.CreateRange(ctx, r))

		net := &models.Network{RangeID: r.ID, Name: "dmz", CIDR: "10.0.1.0/24"}
		assert.NoError(t, repo.CreateNetwork(ctx, net))

		vm := &models.VM{RangeID: r.ID, NetworkID: net.ID, Hostname: "web"}
		assert.NoError(t, repo.CreateVM(ctx, vm))
		assert.NoError(t, repo.CreateSnapshot(ctx, &models.Snapshot{VMID: vm.ID, Name: "before"}))
		assert.NoError(t, repo.CreatePlacement(ctx, &models.Placement{VMID: vm.ID, ArtifactID: "a1", TargetPath: "/tmp"}))

		assert.NoError(t, repo.ReplaceMSEL(ctx, &models.MSEL{RangeID: r.ID, Name: "ex"}, nil))
		assert.NoError(t, repo.AppendEvent(ctx, &models.EventLogEntry{RangeID: r.ID, Kind: models.EventRangeDeployed}))
		assert.NoError(t, repo.CreateConnection(ctx, &models.Connection{RangeID: r.ID, SrcIP: "10.0.1.10", DstIP: "10.0.2.10"}))
		assert.NoError(t, repo.AddTag(ctx, &models.ResourceTag{Kind: models.KindRange, ResourceID: r.ID, Tag: "ops"}))

		assert.NoError(t, repo.PurgeRange(ctx, r.ID))

		_, err := repo.GetRange(ctx, r.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
		nets, _ := repo.NetworksByRange(ctx, r.ID)
		assert.Empty(t, nets)
		vms, _ := repo.VMsByRange(ctx, r.ID)
		assert.Empty(t, vms)
		snaps, _ := repo.SnapshotsByVM(ctx, vm.ID)
		assert.Empty(t, snaps)
		placements, _ := repo.PlacementsByVM(ctx, vm.ID)
		assert.Empty(t, placements)
		_, err = repo.MSELByRange(ctx, r.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
		events, _ := repo.EventsByRange(ctx, r.ID, "", 0, 0)
		assert.Empty(t, events)
		conns, _ := repo.ConnectionsByRange(ctx, r.ID)
		assert.Empty(t, conns)
		tags, _ := repo.TagsFor(ctx, models.KindRange, r.ID)
		assert.Empty(t, tags)
	})
}

func TestInjectsOrderedBySequence(t *testing.T) {
	withStores(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		m := &models.MSEL{RangeID: "r1", Name: "ex"}
		assert.NoError(t, repo.ReplaceMSEL(ctx, m, []*models.Inject{
			{Sequence: 3, Title: "third"},
			{Sequence: 1, Title: "first"},
			{Sequence: 2, Title: "second"},
		}))

		injects, err := repo.InjectsByMSEL(ctx, m.ID)
		assert.NoError(t, err)
		titles := []string{}
		for _, inj := range injects {
			titles = append(titles, inj.Title)
		}
		assert.Equal(t, []string{"first", "second", "third"}, titles)
	})
}
