package orchestrator

import (
	"context"
	"fmt"

	"github.com/moby/locker"
	"github.com/sirupsen/logrus"

	"github.com/cyroid/cyroid/pkg/journal"
	"github.com/cyroid/cyroid/pkg/models"
	"github.com/cyroid/cyroid/pkg/provision"
	"github.com/cyroid/cyroid/pkg/runtime"
	"github.com/cyroid/cyroid/pkg/store"
)

// DefaultStopGrace is how many seconds a container gets to exit cleanly
// before the engine kills it.
const DefaultStopGrace = 10

// Orchestrator drives the range, VM and network state machines and
// composes them into deploy, teardown, start and stop plans. Every
// mutating operation serializes on a per-range named lock held for the
// whole plan, so different ranges proceed concurrently while a single
// range only ever runs one plan at a time.
type Orchestrator struct {
	Log *logrus.Entry

	repo    store.Repository
	runtime runtime.ContainerRuntime
	synth   *provision.Provisioner
	journal *journal.Journal
	locks   *locker.Locker

	routingNetwork string
	stopGrace      int
}

func New(log *logrus.Entry, repo store.Repository, rt runtime.ContainerRuntime, synth *provision.Provisioner, jrnl *journal.Journal, routingNetwork string, stopGrace int) *Orchestrator {
	if stopGrace <= 0 {
		stopGrace = DefaultStopGrace
	}
	return &Orchestrator{
		Log:            log,
		repo:           repo,
		runtime:        rt,
		synth:          synth,
		journal:        jrnl,
		locks:          locker.New(),
		routingNetwork: routingNetwork,
		stopGrace:      stopGrace,
	}
}

func (o *Orchestrator) lockRange(id string) func() {
	key := "range-" + id
	o.locks.Lock(key)
	return func() {
		if err := o.locks.Unlock(key); err != nil {
			o.Log.WithError(err).Error("failed to release range lock")
		}
	}
}

// ensureRoutingNetwork creates the shared proxy-facing network on first
// use. It carries no subnet of its own; the engine assigns one.
func (o *Orchestrator) ensureRoutingNetwork(ctx context.Context) error {
	nets, err := o.runtime.ListNetworks(ctx, nil)
	if err != nil {
		return err
	}
	for _, n := range nets {
		if n.Name == o.routingNetwork {
			return nil
		}
	}
	o.Log.WithField("network", o.routingNetwork).Info("creating routing network")
	_, err = o.runtime.CreateNetwork(ctx, runtime.NetworkSpec{
		Name:   o.routingNetwork,
		Labels: map[string]string{runtime.LabelManaged: "true"},
	})
	return err
}

// syncRangeStatus applies the automatic transitions: a stopped or draft
// range turns Running when any VM runs, and a running range turns
// Stopped when every VM is stopped.
func (o *Orchestrator) syncRangeStatus(ctx context.Context, rng *models.Range) error {
	vms, err := o.repo.VMsByRange(ctx, rng.ID)
	if err != nil {
		return err
	}
	anyRunning := false
	allStopped := len(vms) > 0
	for _, vm := range vms {
		if vm.Status == models.VMRunning {
			anyRunning = true
		}
		if vm.Status != models.VMStopped {
			allStopped = false
		}
	}
	switch {
	case anyRunning && (rng.Status == models.RangeStopped || rng.Status == models.RangeDraft):
		rng.Status = models.RangeRunning
	case allStopped && rng.Status == models.RangeRunning:
		rng.Status = models.RangeStopped
	default:
		return nil
	}
	return o.repo.UpdateRange(ctx, rng)
}

// markVMError records a VM failure without deciding what the caller
// does about it.
func (o *Orchestrator) markVMError(ctx context.Context, vm *models.VM, cause error) {
	vm.Status = models.VMError
	if err := o.repo.UpdateVM(ctx, vm); err != nil {
		o.Log.WithError(err).WithField("vm", vm.Hostname).Error("failed to record VM error state")
	}
	o.journal.Record(ctx, vm.RangeID, vm.ID, models.EventVMError, fmt.Sprintf("VM %s failed: %v", vm.Hostname, cause), nil)
}
