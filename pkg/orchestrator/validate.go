package orchestrator

import (
	"context"
	"net/netip"
	"regexp"
	"strings"

	"github.com/docker/go-units"

	"github.com/cyroid/cyroid/pkg/models"
)

const (
	minCPU = 1
	maxCPU = 32

	minRAMBytes = 512 * units.MiB
	maxRAMBytes = 128 * units.GiB
)

// RFC 1035 label: alphanumeric with inner hyphens, at most 63 chars.
var hostnameRx = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

func validateNetwork(n *models.Network) error {
	if strings.TrimSpace(n.Name) == "" {
		return models.Validationf("network name required")
	}
	prefix, err := netip.ParsePrefix(n.CIDR)
	if err != nil {
		return models.Validationf("network %q has invalid CIDR %q", n.Name, n.CIDR)
	}
	if prefix != prefix.Masked() {
		return models.Validationf("network %q CIDR %q has host bits set", n.Name, n.CIDR)
	}
	gw, err := netip.ParseAddr(n.Gateway)
	if err != nil {
		return models.Validationf("network %q has invalid gateway %q", n.Name, n.Gateway)
	}
	if !prefix.Contains(gw) {
		return models.Validationf("gateway %s is outside subnet %s", n.Gateway, n.CIDR)
	}
	switch n.Isolation {
	case models.IsolationComplete, models.IsolationControlled, models.IsolationOpen, "":
	default:
		return models.Validationf("unknown isolation level %q", n.Isolation)
	}
	return nil
}

// validateVM checks one VM against its primary network. Zero CPU and
// RAM are allowed and mean "inherit from the template".
func validateVM(vm *models.VM, network *models.Network) error {
	if !hostnameRx.MatchString(vm.Hostname) {
		return models.Validationf("hostname %q is not a valid DNS label", vm.Hostname)
	}
	if vm.CPU != 0 && (vm.CPU < minCPU || vm.CPU > maxCPU) {
		return models.Validationf("VM %q cpu %d outside [%d, %d]", vm.Hostname, vm.CPU, minCPU, maxCPU)
	}
	if ram := int64(vm.RAMMB) * units.MiB; vm.RAMMB != 0 && (ram < minRAMBytes || ram > maxRAMBytes) {
		return models.Validationf("VM %q ram %d MB outside [%s, %s]", vm.Hostname, vm.RAMMB,
			units.BytesSize(minRAMBytes), units.BytesSize(maxRAMBytes))
	}
	if network == nil {
		return models.Validationf("VM %q references a missing network", vm.Hostname)
	}
	prefix, err := netip.ParsePrefix(network.CIDR)
	if err != nil {
		return models.Validationf("network %q has invalid CIDR %q", network.Name, network.CIDR)
	}
	ip, err := netip.ParseAddr(vm.IPAddress)
	if err != nil {
		return models.Validationf("VM %q has invalid IP %q", vm.Hostname, vm.IPAddress)
	}
	if !prefix.Masked().Contains(ip) {
		return models.Validationf("IP %s is outside subnet %s", vm.IPAddress, network.CIDR)
	}
	return nil
}

// validateTopology re-checks the whole range before a deploy touches
// the engine: per-entity rules plus the range-wide uniqueness of
// subnets, hostnames and addresses.
func (o *Orchestrator) validateTopology(ctx context.Context, rangeID string) error {
	networks, err := o.repo.NetworksByRange(ctx, rangeID)
	if err != nil {
		return err
	}
	byID := make(map[string]*models.Network, len(networks))
	subnets := map[string]string{}
	for _, n := range networks {
		if err := validateNetwork(n); err != nil {
			return err
		}
		if prev, dup := subnets[n.CIDR]; dup {
			return models.Validationf("subnet %s is used by both %q and %q", n.CIDR, prev, n.Name)
		}
		subnets[n.CIDR] = n.Name
		byID[n.ID] = n
	}

	vms, err := o.repo.VMsByRange(ctx, rangeID)
	if err != nil {
		return err
	}
	hostnames := map[string]string{}
	addresses := map[string]string{}
	for _, vm := range vms {
		if err := validateVM(vm, byID[vm.NetworkID]); err != nil {
			return err
		}
		host := strings.ToLower(vm.Hostname)
		if _, dup := hostnames[host]; dup {
			return models.Validationf("hostname %q is used twice", vm.Hostname)
		}
		hostnames[host] = vm.ID
		if prev, dup := addresses[vm.IPAddress]; dup {
			return models.Validationf("IP %s is assigned to both %q and %q", vm.IPAddress, prev, vm.Hostname)
		}
		addresses[vm.IPAddress] = vm.Hostname
	}
	return nil
}
