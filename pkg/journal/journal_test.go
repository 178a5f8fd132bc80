package journal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cyroid/cyroid/pkg/models"
	"github.com/cyroid/cyroid/pkg/store"
	"github.com/cyroid/cyroid/pkg/utils"
)

type appendFailer struct {
	store.Repository
}

func (appendFailer) AppendEvent(ctx context.Context, e *models.EventLogEntry) error {
	return errors.New("disk on fire")
}

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	j := New(utils.NewDummyLog(), repo)

	j.Record(ctx, "r1", "vm1", models.EventVMStarted, "vm booted", nil)
	j.Record(ctx, "r1", "", models.EventRangeDeployed, "range up", map[string]string{"vms": "1"})
	j.Record(ctx, "r2", "", models.EventRangeDeployed, "other range", nil)

	all, err := j.List(ctx, "r1", "", 0, 0)
	assert.NoError(t, err)
	assert.Len(t, all, 2)
	// Newest first.
	assert.Equal(t, models.EventRangeDeployed, all[0].Kind)
	assert.Equal(t, models.EventVMStarted, all[1].Kind)

	started, err := j.List(ctx, "r1", models.EventVMStarted, 0, 0)
	assert.NoError(t, err)
	assert.Len(t, started, 1)
	assert.Equal(t, "vm booted", started[0].Message)
}

func TestRecordSwallowsWriteFailures(t *testing.T) {
	ctx := context.Background()
	j := New(utils.NewDummyLog(), appendFailer{Repository: store.NewMemory()})

	// Must not panic or propagate; the triggering action goes on.
	j.Record(ctx, "r1", "", models.EventRangeDeployed, "range up", nil)
}

func seedRangeWithVMs(t *testing.T, repo store.Repository) (rangeID string, vmA, vmB *models.VM) {
	t.Helper()
	ctx := context.Background()
	rng := &models.Range{Name: "flows", OwnerID: "owner"}
	assert.NoError(t, repo.CreateRange(ctx, rng))
	vmA = &models.VM{RangeID: rng.ID, Hostname: "alpha", IPAddress: "10.0.1.5"}
	vmB = &models.VM{RangeID: rng.ID, Hostname: "bravo", IPAddress: "10.0.1.7"}
	assert.NoError(t, repo.CreateVM(ctx, vmA))
	assert.NoError(t, repo.CreateVM(ctx, vmB))
	return rng.ID, vmA, vmB
}

func TestObserveResolvesVMIDs(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	j := New(utils.NewDummyLog(), repo)
	tracker := NewConnectionTracker(utils.NewDummyLog(), repo, j)

	rangeID, vmA, vmB := seedRangeWithVMs(t, repo)

	flow := &models.Connection{
		RangeID:  rangeID,
		SrcIP:    "10.0.1.5",
		SrcPort:  44123,
		DstIP:    "10.0.1.7",
		DstPort:  445,
		Protocol: models.ProtoTCP,
		State:    models.ConnEstablished,
	}
	assert.NoError(t, tracker.Observe(ctx, flow))
	assert.NotEmpty(t, flow.ID)
	assert.Equal(t, vmA.ID, flow.SrcVMID)
	assert.Equal(t, vmB.ID, flow.DstVMID)

	events, err := j.List(ctx, rangeID, models.EventConnectionEstablished, 0, 0)
	assert.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, "tcp 10.0.1.5:44123 -> 10.0.1.7:445", events[0].Message)
}

func TestObserveJournalsCloseOnce(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	j := New(utils.NewDummyLog(), repo)
	tracker := NewConnectionTracker(utils.NewDummyLog(), repo, j)

	rangeID, _, _ := seedRangeWithVMs(t, repo)

	flow := &models.Connection{
		RangeID:  rangeID,
		SrcIP:    "10.0.1.5",
		DstIP:    "10.0.1.7",
		SrcPort:  5555,
		DstPort:  80,
		Protocol: models.ProtoTCP,
		State:    models.ConnEstablished,
	}
	assert.NoError(t, tracker.Observe(ctx, flow))

	flow.State = models.ConnReset
	flow.RxBytes = 1024
	assert.NoError(t, tracker.Observe(ctx, flow))
	assert.NotNil(t, flow.EndAt)

	// A repeated terminal report must not journal a second close.
	assert.NoError(t, tracker.Observe(ctx, flow))

	closed, err := j.List(ctx, rangeID, models.EventConnectionClosed, 0, 0)
	assert.NoError(t, err)
	assert.Len(t, closed, 1)
	assert.Equal(t, "reset", closed[0].Extra["state"])

	stored, err := repo.GetConnection(ctx, flow.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(1024), stored.RxBytes)
}

func TestActiveForVM(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	j := New(utils.NewDummyLog(), repo)
	tracker := NewConnectionTracker(utils.NewDummyLog(), repo, j)

	rangeID, vmA, _ := seedRangeWithVMs(t, repo)

	live := &models.Connection{RangeID: rangeID, SrcIP: "10.0.1.5", DstIP: "10.0.1.7", Protocol: models.ProtoUDP, State: models.ConnEstablished}
	dead := &models.Connection{RangeID: rangeID, SrcIP: "10.0.1.7", DstIP: "10.0.1.5", Protocol: models.ProtoTCP, State: models.ConnClosed}
	assert.NoError(t, tracker.Observe(ctx, live))
	assert.NoError(t, tracker.Observe(ctx, dead))

	active, err := tracker.ActiveForVM(ctx, rangeID, vmA.ID)
	assert.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, live.ID, active[0].ID)
}
