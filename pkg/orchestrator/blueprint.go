package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/cyroid/cyroid/pkg/models"
)

// BlueprintVersion is the only document version this build understands.
const BlueprintVersion = "1.0"

// Blueprint is the declarative, engine-free description of a range
// topology. Networks and templates are referenced by name so a
// blueprint moves between installations.
type Blueprint struct {
	Version     string             `json:"version" yaml:"version"`
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Networks    []BlueprintNetwork `json:"networks" yaml:"networks"`
	VMs         []BlueprintVM      `json:"vms" yaml:"vms"`
}

type BlueprintNetwork struct {
	Name           string `json:"name" yaml:"name"`
	Subnet         string `json:"subnet" yaml:"subnet"`
	Gateway        string `json:"gateway" yaml:"gateway"`
	IsolationLevel string `json:"isolation_level" yaml:"isolation_level"`
}

type BlueprintVM struct {
	Hostname     string `json:"hostname" yaml:"hostname"`
	IPAddress    string `json:"ip_address" yaml:"ip_address"`
	NetworkName  string `json:"network_name" yaml:"network_name"`
	TemplateName string `json:"template_name" yaml:"template_name"`
	CPU          int    `json:"cpu" yaml:"cpu"`
	RAMMB        int    `json:"ram_mb" yaml:"ram_mb"`
	DiskGB       int    `json:"disk_gb" yaml:"disk_gb"`
	PositionX    int    `json:"position_x" yaml:"position_x"`
	PositionY    int    `json:"position_y" yaml:"position_y"`
}

// ImportReport is what an import produced and what it had to skip.
type ImportReport struct {
	Range    *models.Range
	Warnings []string
}

// Export emits the range topology as a blueprint. Dangling network or
// template references export as "unknown" rather than failing, so a
// half-broken range can still be rescued.
func (o *Orchestrator) Export(ctx context.Context, rangeID string) (*Blueprint, error) {
	rng, err := o.repo.GetRange(ctx, rangeID)
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

	bp := &Blueprint{
		Version:     BlueprintVersion,
		Name:        rng.Name,
		Description: rng.Description,
		Networks:    []BlueprintNetwork{},
		VMs:         []BlueprintVM{},
	}
	netNames := make(map[string]string, len(networks))
	for _, n := range networks {
		netNames[n.ID] = n.Name
		bp.Networks = append(bp.Networks, BlueprintNetwork{
			Name:           n.Name,
			Subnet:         n.CIDR,
			Gateway:        n.Gateway,
			IsolationLevel: string(n.Isolation),
		})
	}
	for _, vm := range vms {
		networkName := netNames[vm.NetworkID]
		if networkName == "" {
			networkName = "unknown"
		}
		templateName := "unknown"
		if template, err := o.repo.GetTemplate(ctx, vm.TemplateID); err == nil {
			templateName = template.Name
		}
		bp.VMs = append(bp.VMs, BlueprintVM{
			Hostname:     vm.Hostname,
			IPAddress:    vm.IPAddress,
			NetworkName:  networkName,
			TemplateName: templateName,
			CPU:          vm.CPU,
			RAMMB:        vm.RAMMB,
			DiskGB:       vm.DiskGB,
			PositionX:    vm.PositionX,
			PositionY:    vm.PositionY,
		})
	}
	return bp, nil
}

// Import materializes a blueprint as a new Draft range. The whole
// document is validated before any row is written; VMs whose template
// or network cannot be resolved are skipped with a warning instead of
// failing the import.
func (o *Orchestrator) Import(ctx context.Context, bp *Blueprint, ownerID string) (*ImportReport, error) {
	if bp.Version != BlueprintVersion {
		return nil, models.Validationf("unsupported blueprint version %q (want %q)", bp.Version, BlueprintVersion)
	}
	if strings.TrimSpace(bp.Name) == "" {
		return nil, models.Validationf("blueprint name required")
	}

	networksByName := make(map[string]*models.Network, len(bp.Networks))
	networks := make([]*models.Network, 0, len(bp.Networks))
	subnets := map[string]string{}
	for _, bn := range bp.Networks {
		n := &models.Network{
			Name:      bn.Name,
			CIDR:      bn.Subnet,
			Gateway:   bn.Gateway,
			Isolation: models.IsolationLevel(bn.IsolationLevel),
		}
		if err := validateNetwork(n); err != nil {
			return nil, err
		}
		if _, dup := networksByName[n.Name]; dup {
			return nil, models.Validationf("network name %q appears twice in blueprint", n.Name)
		}
		if prev, dup := subnets[n.CIDR]; dup {
			return nil, models.Validationf("subnet %s is used by both %q and %q", n.CIDR, prev, n.Name)
		}
		networksByName[n.Name] = n
		subnets[n.CIDR] = n.Name
		networks = append(networks, n)
	}

	var warnings []string
	type plannedVM struct {
		vm      *models.VM
		network *models.Network
	}
	planned := make([]plannedVM, 0, len(bp.VMs))
	hostnames := map[string]bool{}
	addresses := map[string]string{}
	for _, bv := range bp.VMs {
		template, err := o.repo.TemplateByName(ctx, bv.TemplateName)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("skipped VM %q: template %q not found", bv.Hostname, bv.TemplateName))
			continue
		}
		network, ok := networksByName[bv.NetworkName]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("skipped VM %q: network %q not in blueprint", bv.Hostname, bv.NetworkName))
			continue
		}
		vm := &models.VM{
			TemplateID: template.ID,
			Hostname:   bv.Hostname,
			IPAddress:  bv.IPAddress,
			CPU:        bv.CPU,
			RAMMB:      bv.RAMMB,
			DiskGB:     bv.DiskGB,
			PositionX:  bv.PositionX,
			PositionY:  bv.PositionY,
			Status:     models.VMPending,
		}
		if err := validateVM(vm, network); err != nil {
			return nil, err
		}
		host := strings.ToLower(vm.Hostname)
		if hostnames[host] {
			return nil, models.Validationf("hostname %q appears twice in blueprint", vm.Hostname)
		}
		hostnames[host] = true
		if prev, dup := addresses[vm.IPAddress]; dup {
			return nil, models.Validationf("IP %s is assigned to both %q and %q", vm.IPAddress, prev, vm.Hostname)
		}
		addresses[vm.IPAddress] = vm.Hostname
		planned = append(planned, plannedVM{vm: vm, network: network})
	}

	rng := &models.Range{
		Name:        bp.Name,
		Description: bp.Description,
		OwnerID:     ownerID,
		Status:      models.RangeDraft,
	}
	if err := o.repo.CreateRange(ctx, rng); err != nil {
		return nil, err
	}
	for _, n := range networks {
		n.RangeID = rng.ID
		if err := o.repo.CreateNetwork(ctx, n); err != nil {
			return nil, err
		}
	}
	for _, p := range planned {
		p.vm.RangeID = rng.ID
		p.vm.NetworkID = p.network.ID
		if err := o.repo.CreateVM(ctx, p.vm); err != nil {
			return nil, err
		}
		o.journal.Record(ctx, rng.ID, p.vm.ID, models.EventVMCreated, fmt.Sprintf("VM %s created", p.vm.Hostname), nil)
	}

	for _, w := range warnings {
		o.Log.Warn(w)
	}
	return &ImportReport{Range: rng, Warnings: warnings}, nil
}
