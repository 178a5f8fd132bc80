package orchestrator

import (
	"context"
	"fmt"

	"github.com/cyroid/cyroid/pkg/models"
)

// StartVM brings up a single VM. A stopped container is started; a
// pending VM is synthesized and created first, same as during deploy.
// Starting a VM of a stopped or draft range auto-runs the range.
func (o *Orchestrator) StartVM(ctx context.Context, vmID string) error {
	vm, err := o.repo.GetVM(ctx, vmID)
	if err != nil {
		return err
	}
	defer o.lockRange(vm.RangeID)()
	// Re-read under the lock; a concurrent plan may have moved it.
	vm, err = o.repo.GetVM(ctx, vmID)
	if err != nil {
		return err
	}
	if vm.Status != models.VMStopped && vm.Status != models.VMPending {
		return models.Validationf("cannot start VM in state %q", vm.Status)
	}
	network, err := o.repo.GetNetwork(ctx, vm.NetworkID)
	if err != nil {
		return err
	}
	if !network.Provisioned() {
		return models.Conflictf("network %q is not provisioned, deploy the range first", network.Name)
	}
	if err := o.bringUpVM(ctx, vm, network); err != nil {
		return err
	}
	rng, err := o.repo.GetRange(ctx, vm.RangeID)
	if err != nil {
		return err
	}
	return o.syncRangeStatus(ctx, rng)
}

// StopVM stops one VM; stopping the last running VM stops the range.
func (o *Orchestrator) StopVM(ctx context.Context, vmID string) error {
	vm, err := o.repo.GetVM(ctx, vmID)
	if err != nil {
		return err
	}
	defer o.lockRange(vm.RangeID)()
	vm, err = o.repo.GetVM(ctx, vmID)
	if err != nil {
		return err
	}
	if vm.Status != models.VMRunning {
		return models.Validationf("cannot stop VM in state %q", vm.Status)
	}
	if err := o.runtime.StopContainer(ctx, vm.Handle, o.stopGrace); err != nil {
		o.markVMError(ctx, vm, err)
		return err
	}
	vm.Status = models.VMStopped
	if err := o.repo.UpdateVM(ctx, vm); err != nil {
		return err
	}
	o.journal.Record(ctx, vm.RangeID, vm.ID, models.EventVMStopped, fmt.Sprintf("VM %s stopped", vm.Hostname), nil)

	rng, err := o.repo.GetRange(ctx, vm.RangeID)
	if err != nil {
		return err
	}
	return o.syncRangeStatus(ctx, rng)
}

// RestartVM bounces a running VM's container in place.
func (o *Orchestrator) RestartVM(ctx context.Context, vmID string) error {
	vm, err := o.repo.GetVM(ctx, vmID)
	if err != nil {
		return err
	}
	defer o.lockRange(vm.RangeID)()
	vm, err = o.repo.GetVM(ctx, vmID)
	if err != nil {
		return err
	}
	if vm.Status != models.VMRunning {
		return models.Validationf("cannot restart VM in state %q", vm.Status)
	}
	if err := o.runtime.RestartContainer(ctx, vm.Handle, o.stopGrace); err != nil {
		o.markVMError(ctx, vm, err)
		return err
	}
	o.journal.Record(ctx, vm.RangeID, vm.ID, models.EventVMRestarted, fmt.Sprintf("VM %s restarted", vm.Hostname), nil)
	return nil
}
