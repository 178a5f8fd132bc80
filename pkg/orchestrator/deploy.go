package orchestrator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/cyroid/cyroid/pkg/models"
	"github.com/cyroid/cyroid/pkg/runtime"
)

// Deploy provisions every network and VM in the range and starts them.
// It is idempotent: entities that already have handles are started, not
// recreated, so a failed deploy can be retried and resumes from the
// first unprovisioned entity. Nothing is rolled back on failure;
// teardown is the recovery path.
func (o *Orchestrator) Deploy(ctx context.Context, rangeID string) error {
	defer o.lockRange(rangeID)()

	rng, err := o.repo.GetRange(ctx, rangeID)
	if err != nil {
		return err
	}
	switch rng.Status {
	case models.RangeRunning:
		return nil
	case models.RangeDraft, models.RangeStopped, models.RangeError:
	default:
		return models.Validationf("cannot deploy range in state %q", rng.Status)
	}
	if err := o.validateTopology(ctx, rangeID); err != nil {
		return err
	}

	rng.Status = models.RangeDeploying
	if err := o.repo.UpdateRange(ctx, rng); err != nil {
		return err
	}
	if err := o.deployLocked(ctx, rng); err != nil {
		rng.Status = models.RangeError
		if uerr := o.repo.UpdateRange(ctx, rng); uerr != nil {
			o.Log.WithError(uerr).Error("failed to record range error state")
		}
		return err
	}
	rng.Status = models.RangeRunning
	if err := o.repo.UpdateRange(ctx, rng); err != nil {
		return err
	}
	o.journal.Record(ctx, rng.ID, "", models.EventRangeDeployed, fmt.Sprintf("range %s deployed", rng.Name), nil)
	return nil
}

func (o *Orchestrator) deployLocked(ctx context.Context, rng *models.Range) error {
	if err := o.ensureRoutingNetwork(ctx); err != nil {
		return err
	}

	networks, err := o.repo.NetworksByRange(ctx, rng.ID)
	if err != nil {
		return err
	}
	byID := make(map[string]*models.Network, len(networks))
	for _, n := range networks {
		if !n.Provisioned() {
			handle, err := o.runtime.CreateNetwork(ctx, runtime.NetworkSpec{
				Name:     fmt.Sprintf("cyroid-%s-%s", rng.ID, n.Name),
				Subnet:   n.CIDR,
				Gateway:  n.Gateway,
				Internal: n.Isolation.Internal(),
				Labels: map[string]string{
					runtime.LabelRangeID:   rng.ID,
					runtime.LabelNetworkID: n.ID,
				},
			})
			if err != nil {
				return err
			}
			n.Handle = handle
			if err := o.repo.UpdateNetwork(ctx, n); err != nil {
				return err
			}
			o.Log.WithFields(logrus.Fields{"network": n.Name, "handle": handle}).Info("network provisioned")
		}
		byID[n.ID] = n
	}

	vms, err := o.repo.VMsByRange(ctx, rng.ID)
	if err != nil {
		return err
	}
	for _, vm := range vms {
		if vm.Status == models.VMRunning {
			continue
		}
		if err := o.bringUpVM(ctx, vm, byID[vm.NetworkID]); err != nil {
			return err
		}
	}
	return nil
}

// bringUpVM realizes one VM: an existing container is started, a
// missing one is synthesized and created first. The post-install
// script runs only in fresh plain containers; guest VMs get it baked in
// by the synthesizer instead.
func (o *Orchestrator) bringUpVM(ctx context.Context, vm *models.VM, network *models.Network) error {
	if network == nil {
		err := models.Validationf("VM %q references a missing network", vm.Hostname)
		o.markVMError(ctx, vm, err)
		return err
	}
	template, err := o.repo.GetTemplate(ctx, vm.TemplateID)
	if err != nil {
		o.markVMError(ctx, vm, err)
		return err
	}

	created := false
	if vm.Handle == "" {
		vm.Status = models.VMCreating
		if err := o.repo.UpdateVM(ctx, vm); err != nil {
			return err
		}
		spec, err := o.synth.Synthesize(vm, template, network)
		if err != nil {
			o.markVMError(ctx, vm, err)
			return err
		}
		handle, err := o.runtime.CreateContainer(ctx, spec)
		if err != nil {
			o.markVMError(ctx, vm, err)
			return err
		}
		vm.Handle = handle
		if err := o.repo.UpdateVM(ctx, vm); err != nil {
			return err
		}
		created = true
	}

	if err := o.runtime.StartContainer(ctx, vm.Handle); err != nil {
		o.markVMError(ctx, vm, err)
		return err
	}
	if created && template.PostInstall != "" && template.VMType == models.TypeContainer {
		o.runPostInstall(ctx, vm, template)
	}

	vm.Status = models.VMRunning
	if err := o.repo.UpdateVM(ctx, vm); err != nil {
		return err
	}
	o.journal.Record(ctx, vm.RangeID, vm.ID, models.EventVMStarted, fmt.Sprintf("VM %s started", vm.Hostname), nil)
	return nil
}

// runPostInstall execs the template's script inside a freshly created
// container. Failures are journaled but never fail the deploy.
func (o *Orchestrator) runPostInstall(ctx context.Context, vm *models.VM, template *models.Template) {
	exitCode, output, err := o.runtime.Exec(ctx, vm.Handle, []string{"/bin/sh", "-c", template.PostInstall}, runtime.ExecConfig{})
	if err != nil {
		o.Log.WithError(err).WithField("vm", vm.Hostname).Warn("post-install script could not run")
		o.journal.Record(ctx, vm.RangeID, vm.ID, models.EventVMError,
			fmt.Sprintf("post-install script could not run on %s: %v", vm.Hostname, err), nil)
		return
	}
	if exitCode != 0 {
		o.Log.WithFields(logrus.Fields{"vm": vm.Hostname, "exit": exitCode}).Warn("post-install script exited non-zero")
		o.journal.Record(ctx, vm.RangeID, vm.ID, models.EventVMError,
			fmt.Sprintf("post-install script on %s exited with code %d", vm.Hostname, exitCode),
			map[string]string{"exit_code": strconv.Itoa(exitCode), "output": output})
	}
}

// Teardown force-removes every container and network the range owns and
// returns it to Draft. It is the recovery path after a failed deploy,
// so engine errors are logged and the handles cleared regardless.
func (o *Orchestrator) Teardown(ctx context.Context, rangeID string) error {
	defer o.lockRange(rangeID)()

	rng, err := o.repo.GetRange(ctx, rangeID)
	if err != nil {
		return err
	}
	if rng.Status == models.RangeDeploying {
		return models.Validationf("cannot tear down range in state %q", rng.Status)
	}
	if err := o.teardownLocked(ctx, rng); err != nil {
		return err
	}
	rng.Status = models.RangeDraft
	if err := o.repo.UpdateRange(ctx, rng); err != nil {
		return err
	}
	o.journal.Record(ctx, rng.ID, "", models.EventRangeTeardown, fmt.Sprintf("range %s torn down", rng.Name), nil)
	return nil
}

func (o *Orchestrator) teardownLocked(ctx context.Context, rng *models.Range) error {
	vms, err := o.repo.VMsByRange(ctx, rng.ID)
	if err != nil {
		return err
	}
	for _, vm := range vms {
		if vm.Handle != "" {
			if err := o.runtime.RemoveContainer(ctx, vm.Handle, true); err != nil {
				o.Log.WithError(err).WithField("vm", vm.Hostname).Warn("failed to remove container, clearing handle anyway")
			}
			vm.Handle = ""
		}
		vm.Status = models.VMPending
		if err := o.repo.UpdateVM(ctx, vm); err != nil {
			return err
		}
	}

	networks, err := o.repo.NetworksByRange(ctx, rng.ID)
	if err != nil {
		return err
	}
	for _, n := range networks {
		if n.Handle == "" {
			continue
		}
		if err := o.runtime.RemoveNetwork(ctx, n.Handle); err != nil {
			o.Log.WithError(err).WithField("network", n.Name).Warn("failed to remove network, clearing handle anyway")
		}
		n.Handle = ""
		if err := o.repo.UpdateNetwork(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// StopRange stops every running container in the range with the
// configured grace period.
func (o *Orchestrator) StopRange(ctx context.Context, rangeID string) error {
	defer o.lockRange(rangeID)()

	rng, err := o.repo.GetRange(ctx, rangeID)
	if err != nil {
		return err
	}
	if rng.Status != models.RangeRunning {
		return models.Validationf("cannot stop range in state %q", rng.Status)
	}
	vms, err := o.repo.VMsByRange(ctx, rng.ID)
	if err != nil {
		return err
	}
	for _, vm := range vms {
		if vm.Handle == "" || vm.Status != models.VMRunning {
			continue
		}
		if err := o.runtime.StopContainer(ctx, vm.Handle, o.stopGrace); err != nil {
			o.markVMError(ctx, vm, err)
			continue
		}
		vm.Status = models.VMStopped
		if err := o.repo.UpdateVM(ctx, vm); err != nil {
			return err
		}
	}
	rng.Status = models.RangeStopped
	if err := o.repo.UpdateRange(ctx, rng); err != nil {
		return err
	}
	o.journal.Record(ctx, rng.ID, "", models.EventRangeStopped, fmt.Sprintf("range %s stopped", rng.Name), nil)
	return nil
}

// StartRange restarts a stopped range's existing containers. VMs that
// were never provisioned stay Pending; deploy is the path that creates
// them.
func (o *Orchestrator) StartRange(ctx context.Context, rangeID string) error {
	defer o.lockRange(rangeID)()

	rng, err := o.repo.GetRange(ctx, rangeID)
	if err != nil {
		return err
	}
	if rng.Status != models.RangeStopped {
		return models.Validationf("cannot start range in state %q", rng.Status)
	}
	vms, err := o.repo.VMsByRange(ctx, rng.ID)
	if err != nil {
		return err
	}
	started := 0
	for _, vm := range vms {
		if vm.Handle == "" {
			continue
		}
		if err := o.runtime.StartContainer(ctx, vm.Handle); err != nil {
			o.markVMError(ctx, vm, err)
			continue
		}
		vm.Status = models.VMRunning
		if err := o.repo.UpdateVM(ctx, vm); err != nil {
			return err
		}
		started++
	}
	if started == 0 && len(vms) > 0 {
		rng.Status = models.RangeError
		if err := o.repo.UpdateRange(ctx, rng); err != nil {
			o.Log.WithError(err).Error("failed to record range error state")
		}
		return models.Conflictf("no VM in range %q could start", rng.Name)
	}
	rng.Status = models.RangeRunning
	if err := o.repo.UpdateRange(ctx, rng); err != nil {
		return err
	}
	o.journal.Record(ctx, rng.ID, "", models.EventRangeStarted, fmt.Sprintf("range %s started", rng.Name), nil)
	return nil
}
