package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/cyroid/cyroid/pkg/models"
	"github.com/cyroid/cyroid/pkg/runtime"
)

// snapshotRef builds the image tag for a snapshot. Image tags must be
// lowercase, so the name is folded and spaces become hyphens.
func snapshotRef(vmID, name string) string {
	n := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
	return fmt.Sprintf("cyroid-snapshot-%s-%s", vmID, n)
}

// CreateSnapshot commits the VM's container to an image and records it.
func (o *Orchestrator) CreateSnapshot(ctx context.Context, vmID, name, description string) (*models.Snapshot, error) {
	if strings.TrimSpace(name) == "" {
		return nil, models.Validationf("snapshot name required")
	}
	vm, err := o.repo.GetVM(ctx, vmID)
	if err != nil {
		return nil, err
	}
	defer o.lockRange(vm.RangeID)()
	vm, err = o.repo.GetVM(ctx, vmID)
	if err != nil {
		return nil, err
	}
	if vm.Handle == "" {
		return nil, models.Conflictf("VM %q has no container to snapshot", vm.Hostname)
	}

	ref := snapshotRef(vm.ID, name)
	imageID, err := o.runtime.Commit(ctx, vm.Handle, ref)
	if err != nil {
		return nil, err
	}
	snap := &models.Snapshot{
		VMID:        vm.ID,
		Name:        name,
		Description: description,
		ImageID:     imageID,
		ImageRef:    ref,
	}
	if err := o.repo.CreateSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	o.journal.Record(ctx, vm.RangeID, vm.ID, models.EventSnapshotCreated,
		fmt.Sprintf("snapshot %q of %s created", name, vm.Hostname), nil)
	return snap, nil
}

// RestoreSnapshot replaces the VM's container with one created from the
// snapshot image, keeping the VM's address and resource caps. The old
// container is disposable once a restore starts, so stop and remove
// errors are only logged.
func (o *Orchestrator) RestoreSnapshot(ctx context.Context, snapshotID string) error {
	snap, err := o.repo.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return err
	}
	vm, err := o.repo.GetVM(ctx, snap.VMID)
	if err != nil {
		return err
	}
	defer o.lockRange(vm.RangeID)()
	vm, err = o.repo.GetVM(ctx, snap.VMID)
	if err != nil {
		return err
	}
	template, err := o.repo.GetTemplate(ctx, vm.TemplateID)
	if err != nil {
		return err
	}
	network, err := o.repo.GetNetwork(ctx, vm.NetworkID)
	if err != nil {
		return err
	}
	if !network.Provisioned() {
		return models.Conflictf("network %q is not provisioned, deploy the range first", network.Name)
	}

	if vm.Handle != "" {
		if err := o.runtime.StopContainer(ctx, vm.Handle, o.stopGrace); err != nil {
			o.Log.WithError(err).WithField("vm", vm.Hostname).Warn("failed to stop container before restore")
		}
		if err := o.runtime.RemoveContainer(ctx, vm.Handle, true); err != nil {
			o.Log.WithError(err).WithField("vm", vm.Hostname).Warn("failed to remove container before restore")
		}
		vm.Handle = ""
	}

	spec, err := o.synth.Synthesize(vm, template, network)
	if err != nil {
		o.markVMError(ctx, vm, err)
		return err
	}
	spec.Image = snap.ImageRef
	if spec.Image == "" {
		spec.Image = snap.ImageID
	}
	spec.Labels[runtime.LabelRestoredFrom] = snap.ID

	handle, err := o.runtime.CreateContainer(ctx, spec)
	if err != nil {
		o.markVMError(ctx, vm, err)
		return err
	}
	vm.Handle = handle
	if err := o.runtime.StartContainer(ctx, handle); err != nil {
		o.markVMError(ctx, vm, err)
		return err
	}
	vm.Status = models.VMRunning
	if err := o.repo.UpdateVM(ctx, vm); err != nil {
		return err
	}
	o.journal.Record(ctx, vm.RangeID, vm.ID, models.EventSnapshotRestored,
		fmt.Sprintf("snapshot %q restored on %s", snap.Name, vm.Hostname), nil)

	rng, err := o.repo.GetRange(ctx, vm.RangeID)
	if err != nil {
		return err
	}
	return o.syncRangeStatus(ctx, rng)
}

// DeleteSnapshot drops the row. The image removal is best-effort since
// containers may still layer on it.
func (o *Orchestrator) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	snap, err := o.repo.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return err
	}
	if err := o.repo.DeleteSnapshot(ctx, snapshotID); err != nil {
		return err
	}
	if snap.ImageRef != "" {
		if err := o.runtime.RemoveImage(ctx, snap.ImageRef); err != nil {
			o.Log.WithError(err).WithField("image", snap.ImageRef).Warn("failed to remove snapshot image")
		}
	}
	return nil
}

// ListSnapshots returns a VM's snapshots.
func (o *Orchestrator) ListSnapshots(ctx context.Context, vmID string) ([]*models.Snapshot, error) {
	return o.repo.SnapshotsByVM(ctx, vmID)
}
