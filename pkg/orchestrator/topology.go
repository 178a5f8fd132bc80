package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/cyroid/cyroid/pkg/models"
)

// CreateRange registers a new empty range in Draft.
func (o *Orchestrator) CreateRange(ctx context.Context, name, description, ownerID string) (*models.Range, error) {
	if strings.TrimSpace(name) == "" {
		return nil, models.Validationf("range name required")
	}
	rng := &models.Range{
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		Status:      models.RangeDraft,
	}
	if err := o.repo.CreateRange(ctx, rng); err != nil {
		return nil, err
	}
	return rng, nil
}

// AddNetwork attaches a network definition to a range. The subnet and
// name must be unique within the range; the network starts
// unprovisioned.
func (o *Orchestrator) AddNetwork(ctx context.Context, n *models.Network) error {
	defer o.lockRange(n.RangeID)()

	if _, err := o.repo.GetRange(ctx, n.RangeID); err != nil {
		return err
	}
	if err := validateNetwork(n); err != nil {
		return err
	}
	siblings, err := o.repo.NetworksByRange(ctx, n.RangeID)
	if err != nil {
		return err
	}
	for _, sib := range siblings {
		if sib.Name == n.Name {
			return models.Conflictf("network name %q already used in this range", n.Name)
		}
		if sib.CIDR == n.CIDR {
			return models.Conflictf("subnet %s already used by network %q", n.CIDR, sib.Name)
		}
	}
	n.Handle = ""
	return o.repo.CreateNetwork(ctx, n)
}

// AddVM attaches a VM definition to a range. The hostname and static IP
// must be unique within the range and the IP must sit inside the
// primary network's subnet.
func (o *Orchestrator) AddVM(ctx context.Context, vm *models.VM) error {
	defer o.lockRange(vm.RangeID)()

	if _, err := o.repo.GetRange(ctx, vm.RangeID); err != nil {
		return err
	}
	network, err := o.repo.GetNetwork(ctx, vm.NetworkID)
	if err != nil {
		return err
	}
	if network.RangeID != vm.RangeID {
		return models.Validationf("network %q belongs to another range", network.Name)
	}
	if _, err := o.repo.GetTemplate(ctx, vm.TemplateID); err != nil {
		return err
	}
	if err := validateVM(vm, network); err != nil {
		return err
	}
	if err := o.checkVMUniqueness(ctx, vm); err != nil {
		return err
	}

	vm.Status = models.VMPending
	vm.Handle = ""
	if err := o.repo.CreateVM(ctx, vm); err != nil {
		return err
	}
	o.journal.Record(ctx, vm.RangeID, vm.ID, models.EventVMCreated, fmt.Sprintf("VM %s created", vm.Hostname), nil)
	return nil
}

// UpdateVM changes a VM's topology fields. Status and handle are owned
// by the lifecycle plans and are preserved from the stored row.
func (o *Orchestrator) UpdateVM(ctx context.Context, vm *models.VM) error {
	defer o.lockRange(vm.RangeID)()

	existing, err := o.repo.GetVM(ctx, vm.ID)
	if err != nil {
		return err
	}
	if existing.RangeID != vm.RangeID {
		return models.Validationf("VM %q cannot move between ranges", vm.Hostname)
	}
	network, err := o.repo.GetNetwork(ctx, vm.NetworkID)
	if err != nil {
		return err
	}
	if err := validateVM(vm, network); err != nil {
		return err
	}
	if err := o.checkVMUniqueness(ctx, vm); err != nil {
		return err
	}
	vm.Status = existing.Status
	vm.Handle = existing.Handle
	vm.CreatedAt = existing.CreatedAt
	return o.repo.UpdateVM(ctx, vm)
}

func (o *Orchestrator) checkVMUniqueness(ctx context.Context, vm *models.VM) error {
	siblings, err := o.repo.VMsByRange(ctx, vm.RangeID)
	if err != nil {
		return err
	}
	for _, sib := range siblings {
		if sib.ID == vm.ID {
			continue
		}
		if strings.EqualFold(sib.Hostname, vm.Hostname) {
			return models.Conflictf("hostname %q already used in this range", vm.Hostname)
		}
		if sib.IPAddress == vm.IPAddress {
			return models.Conflictf("IP %s already assigned to %q", vm.IPAddress, sib.Hostname)
		}
	}
	return nil
}

// RemoveVM deletes a VM, force-removing its container first when one
// exists.
func (o *Orchestrator) RemoveVM(ctx context.Context, vmID string) error {
	vm, err := o.repo.GetVM(ctx, vmID)
	if err != nil {
		return err
	}
	defer o.lockRange(vm.RangeID)()
	vm, err = o.repo.GetVM(ctx, vmID)
	if err != nil {
		return err
	}
	if vm.Handle != "" {
		if err := o.runtime.RemoveContainer(ctx, vm.Handle, true); err != nil {
			o.Log.WithError(err).WithField("vm", vm.Hostname).Warn("failed to remove container, deleting VM anyway")
		}
	}
	return o.repo.DeleteVM(ctx, vmID)
}

// RemoveNetwork deletes a network definition. A provisioned network can
// only go once no VM references it with a live container.
func (o *Orchestrator) RemoveNetwork(ctx context.Context, networkID string) error {
	n, err := o.repo.GetNetwork(ctx, networkID)
	if err != nil {
		return err
	}
	defer o.lockRange(n.RangeID)()
	n, err = o.repo.GetNetwork(ctx, networkID)
	if err != nil {
		return err
	}
	if n.Provisioned() {
		vms, err := o.repo.VMsByRange(ctx, n.RangeID)
		if err != nil {
			return err
		}
		for _, vm := range vms {
			if vm.NetworkID == n.ID && vm.Handle != "" {
				return models.Conflictf("network %q still has containers attached, remove VM %q first", n.Name, vm.Hostname)
			}
		}
		if err := o.runtime.RemoveNetwork(ctx, n.Handle); err != nil {
			o.Log.WithError(err).WithField("network", n.Name).Warn("failed to remove engine network, deleting anyway")
		}
	}
	return o.repo.DeleteNetwork(ctx, networkID)
}

// DeleteRange tears the range down best-effort, then cascade-deletes
// every row and the on-disk VM storage it owns.
func (o *Orchestrator) DeleteRange(ctx context.Context, rangeID string) error {
	defer o.lockRange(rangeID)()

	rng, err := o.repo.GetRange(ctx, rangeID)
	if err != nil {
		return err
	}
	if rng.Status == models.RangeDeploying {
		return models.Validationf("cannot delete range in state %q", rng.Status)
	}
	if err := o.teardownLocked(ctx, rng); err != nil {
		o.Log.WithError(err).WithField("range", rng.Name).Warn("teardown before delete failed, deleting anyway")
	}
	if err := o.repo.PurgeRange(ctx, rangeID); err != nil {
		return err
	}
	if err := o.synth.PurgeRangeStorage(rangeID); err != nil {
		o.Log.WithError(err).WithField("range", rng.Name).Warn("failed to remove VM storage")
	}
	return nil
}

// Clone deep-copies a range's topology: new ids, same subnets and
// addresses, no handles, no tags. The clone lands in Draft named
// "{name} (Copy)". Deploying source and clone concurrently collides on
// the duplicated subnets, so that is left to the caller to sequence.
func (o *Orchestrator) Clone(ctx context.Context, rangeID, ownerID string) (*models.Range, error) {
	defer o.lockRange(rangeID)()

	src, err := o.repo.GetRange(ctx, rangeID)
	if err != nil {
		return nil, err
	}
	networks, err := o.repo.NetworksByRange(ctx, rangeID)
	if err != nil {
		return nil, err
	}
	vms, err := o.repo.VMsByRange(ctx, rangeID)
	if err != nil {
		return nil, err
	}

	if ownerID == "" {
		ownerID = src.OwnerID
	}
	clone := &models.Range{
		Name:        src.Name + " (Copy)",
		Description: src.Description,
		OwnerID:     ownerID,
		Status:      models.RangeDraft,
	}
	if err := o.repo.CreateRange(ctx, clone); err != nil {
		return nil, err
	}

	netIDs := make(map[string]string, len(networks))
	for _, n := range networks {
		copied := *n
		copied.ID = uuid.NewString()
		copied.RangeID = clone.ID
		copied.Handle = ""
		if err := o.repo.CreateNetwork(ctx, &copied); err != nil {
			return nil, err
		}
		netIDs[n.ID] = copied.ID
	}
	for _, vm := range vms {
		copied := *vm
		copied.ID = uuid.NewString()
		copied.RangeID = clone.ID
		copied.NetworkID = netIDs[vm.NetworkID]
		copied.Handle = ""
		copied.Status = models.VMPending
		if err := o.repo.CreateVM(ctx, &copied); err != nil {
			return nil, err
		}
	}

	if len(networks) > 0 {
		subnets := lo.Map(networks, func(n *models.Network, _ int) string { return n.CIDR })
		o.Log.Warnf("range %q clones the subnets of %q (%s), do not deploy both at once", clone.Name, src.Name, strings.Join(subnets, ", "))
	}
	return clone, nil
}
