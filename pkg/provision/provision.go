package provision

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cyroid/cyroid/pkg/cache"
	"github.com/cyroid/cyroid/pkg/models"
	"github.com/cyroid/cyroid/pkg/runtime"
	"github.com/cyroid/cyroid/pkg/utils"
)

// Wrapper images that boot full guests inside a container.
const (
	linuxVMImage = "qemux/qemu"
	windowsImage = "dockurr/windows"
)

// Paths is the host directory layout the synthesizer builds mounts
// from. VM storage lives at {VMStorageDir}/{range_id}/{vm_id}/storage.
type Paths struct {
	VMStorageDir       string
	TemplateStorageDir string
	GlobalSharedDir    string
}

// Provisioner turns a (VM, Template, Network) triple into a container
// spec. It prepares host directories and picks boot media but performs
// no container lifecycle operations itself.
type Provisioner struct {
	Log      *logrus.Entry
	os       *utils.OSCommand
	paths    Paths
	isoCache *cache.Manager

	routingNetwork string

	// kvmProbe reports whether hardware acceleration is available.
	// Swapped out in tests.
	kvmProbe func() bool
}

func NewProvisioner(log *logrus.Entry, osCommand *utils.OSCommand, paths Paths, isoCache *cache.Manager, routingNetwork string) *Provisioner {
	return &Provisioner{
		Log:            log,
		os:             osCommand,
		paths:          paths,
		isoCache:       isoCache,
		routingNetwork: routingNetwork,
		kvmProbe:       kvmAvailable,
	}
}

func kvmAvailable() bool {
	_, err := os.Stat("/dev/kvm")
	return err == nil
}

// Synthesize produces the container spec for vm. The network must
// already be provisioned so the spec can reference its handle.
func (p *Provisioner) Synthesize(vm *models.VM, template *models.Template, network *models.Network) (runtime.ContainerSpec, error) {
	if network == nil || !network.Provisioned() {
		return runtime.ContainerSpec{}, models.Conflictf("network for VM %q is not provisioned", vm.Hostname)
	}
	switch template.VMType {
	case models.TypeContainer:
		return p.containerSpec(vm, template, network)
	case models.TypeLinuxVM:
		return p.linuxVMSpec(vm, template, network)
	case models.TypeWindowsVM:
		return p.windowsVMSpec(vm, template, network)
	default:
		return runtime.ContainerSpec{}, models.Validationf("template %q has unknown vm type %q", template.Name, template.VMType)
	}
}

func (p *Provisioner) baseSpec(vm *models.VM, network *models.Network) runtime.ContainerSpec {
	return runtime.ContainerSpec{
		Name:          ContainerName(vm),
		Hostname:      vm.Hostname,
		TTY:           true,
		RestartPolicy: "unless-stopped",
		Labels: map[string]string{
			runtime.LabelManaged:  "true",
			runtime.LabelRangeID:  vm.RangeID,
			runtime.LabelVMID:     vm.ID,
			runtime.LabelHostname: vm.Hostname,
		},
		RoutingNetwork: p.routingNetwork,
		NetworkHandle:  network.Handle,
		StaticIP:       vm.IPAddress,
	}
}

func (p *Provisioner) containerSpec(vm *models.VM, template *models.Template, network *models.Network) (runtime.ContainerSpec, error) {
	if template.BaseImage == "" {
		return runtime.ContainerSpec{}, models.Validationf("template %q has no base image", template.Name)
	}
	spec := p.baseSpec(vm, network)
	spec.Image = template.BaseImage
	spec.CPUCores = pick(vm.CPU, template.DefaultCPU, 2)
	spec.MemoryMB = int64(pick(vm.RAMMB, template.DefaultRAMMB, 2048))

	if vm.Desktop() {
		port, scheme, auth := vncBackend(template.BaseImage)
		maps.Copy(spec.Labels, p.vncLabels(vm.ID, port, scheme, auth))
	}
	return spec, nil
}

func (p *Provisioner) linuxVMSpec(vm *models.VM, template *models.Template, network *models.Network) (runtime.ContainerSpec, error) {
	spec := p.baseSpec(vm, network)
	spec.Image = linuxVMImage
	spec.Privileged = true
	spec.CapAdd = []string{"NET_ADMIN"}

	cpu := pick(vm.CPU, template.DefaultCPU, 2)
	ram := pick(vm.RAMMB, template.DefaultRAMMB, 2048)
	disk := pick(vm.DiskGB, template.DefaultDiskGB, 64)
	spec.CPUCores = cpu
	spec.MemoryMB = int64(ram)

	// The guest downloads its own medium when BOOT is a URL; a local
	// /boot.iso mount otherwise takes precedence inside the wrapper.
	boot := template.Variant
	if vm.Extra.ISOURL != "" {
		boot = vm.Extra.ISOURL
	}
	if boot == "" {
		boot = "custom"
	}

	bootMode := vm.Extra.BootMode
	if bootMode == "" {
		bootMode = "uefi"
	}
	diskType := vm.Extra.DiskType
	if diskType == "" {
		diskType = "scsi"
	}

	spec.Env = map[string]string{
		"BOOT":      boot,
		"DISK_SIZE": fmt.Sprintf("%dG", disk),
		"CPU_CORES": strconv.Itoa(cpu),
		"RAM_SIZE":  fmt.Sprintf("%dM", ram),
		"BOOT_MODE": strings.ToUpper(bootMode),
		"DISK_TYPE": diskType,
		"DISPLAY":   displayFor(vm),
	}
	addDiskSizes(spec.Env, vm)

	if p.kvmProbe() {
		spec.Devices = []string{"/dev/kvm"}
	} else {
		p.Log.Warnf("KVM not available, %s runs under software emulation", vm.Hostname)
	}

	mounts, err := p.vmMounts(vm, template)
	if err != nil {
		return runtime.ContainerSpec{}, err
	}
	spec.Mounts = mounts

	if vm.Desktop() {
		maps.Copy(spec.Labels, p.vncLabels(vm.ID, "8006", "http", false))
	}
	return spec, nil
}

func (p *Provisioner) windowsVMSpec(vm *models.VM, template *models.Template, network *models.Network) (runtime.ContainerSpec, error) {
	spec := p.baseSpec(vm, network)
	spec.Image = windowsImage
	spec.Privileged = true
	spec.CapAdd = []string{"NET_ADMIN"}

	cpu := pick(vm.CPU, template.DefaultCPU, 4)
	ram := pick(vm.RAMMB, template.DefaultRAMMB, 8192)
	disk := pick(vm.DiskGB, template.DefaultDiskGB, 64)
	spec.CPUCores = cpu
	spec.MemoryMB = int64(ram)

	version := template.Variant
	if version == "" {
		version = "11"
	}

	env := map[string]string{
		"VERSION":   version,
		"DISK_SIZE": fmt.Sprintf("%dG", disk),
		"CPU_CORES": strconv.Itoa(cpu),
		"RAM_SIZE":  fmt.Sprintf("%dM", ram),
		"DISPLAY":   displayFor(vm),
	}
	if vm.Extra.Username != "" {
		env["USERNAME"] = vm.Extra.Username
	}
	if vm.Extra.Password != "" {
		env["PASSWORD"] = vm.Extra.Password
	}
	if vm.Extra.UseDHCP {
		env["DHCP"] = "Y"
	} else {
		if gw := firstNonEmpty(vm.Extra.Gateway, network.Gateway); gw != "" {
			env["GATEWAY"] = gw
		}
		dns := vm.Extra.DNS
		if len(dns) == 0 {
			dns = network.DNS
		}
		if len(dns) > 0 {
			env["DNS"] = strings.Join(dns, ",")
		}
	}
	addDiskSizes(env, vm)
	if vm.Extra.Language != "" {
		env["LANGUAGE"] = vm.Extra.Language
	}
	if vm.Extra.Keyboard != "" {
		env["KEYBOARD"] = vm.Extra.Keyboard
	}
	if vm.Extra.Region != "" {
		env["REGION"] = vm.Extra.Region
	}
	if vm.Extra.Manual {
		env["MANUAL"] = "Y"
	}
	if vm.Extra.ISOURL != "" {
		env["BOOT"] = vm.Extra.ISOURL
	}
	if p.kvmProbe() {
		env["KVM"] = "Y"
		spec.Devices = []string{"/dev/kvm"}
	} else {
		env["KVM"] = "N"
		p.Log.Warnf("KVM not available, %s runs under software emulation", vm.Hostname)
	}
	spec.Env = env

	mounts, err := p.vmMounts(vm, template)
	if err != nil {
		return runtime.ContainerSpec{}, err
	}
	if template.PostInstall != "" {
		oemDir := filepath.Join(p.paths.VMStorageDir, vm.RangeID, vm.ID, "oem")
		if err := os.MkdirAll(oemDir, 0o755); err != nil {
			return runtime.ContainerSpec{}, err
		}
		if err := os.WriteFile(filepath.Join(oemDir, "install.bat"), []byte(template.PostInstall), 0o644); err != nil {
			return runtime.ContainerSpec{}, err
		}
		mounts = append(mounts, runtime.Mount{Source: oemDir, Target: "/oem", ReadOnly: true})
	}
	spec.Mounts = mounts

	if vm.Desktop() {
		maps.Copy(spec.Labels, p.vncLabels(vm.ID, "8006", "http", false))
	}
	return spec, nil
}

// vmMounts prepares the host directories for a guest VM and returns
// the bind mounts: boot medium, persistent storage, extra disks,
// per-VM share and the global read-only share.
func (p *Provisioner) vmMounts(vm *models.VM, template *models.Template) ([]runtime.Mount, error) {
	storage, err := p.ensureStorage(vm, template)
	if err != nil {
		return nil, err
	}

	var mounts []runtime.Mount
	if iso := p.installISO(vm, template); iso != "" {
		mounts = append(mounts, runtime.Mount{Source: iso, Target: "/boot.iso", ReadOnly: true})
	}
	mounts = append(mounts, runtime.Mount{Source: storage, Target: "/storage"})

	base := filepath.Dir(storage)
	if vm.Extra.Disk2GB > 0 {
		dir := filepath.Join(base, "storage2")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		mounts = append(mounts, runtime.Mount{Source: dir, Target: "/storage2"})
	}
	if vm.Extra.Disk3GB > 0 {
		dir := filepath.Join(base, "storage3")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		mounts = append(mounts, runtime.Mount{Source: dir, Target: "/storage3"})
	}
	if vm.Extra.SharedFolder {
		dir := filepath.Join(base, "shared")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		mounts = append(mounts, runtime.Mount{Source: dir, Target: "/shared"})
	}
	if vm.Extra.GlobalShared && p.paths.GlobalSharedDir != "" {
		if err := os.MkdirAll(p.paths.GlobalSharedDir, 0o755); err != nil {
			return nil, err
		}
		mounts = append(mounts, runtime.Mount{Source: p.paths.GlobalSharedDir, Target: "/global", ReadOnly: true})
	}
	return mounts, nil
}

// installISO picks the local boot medium: an explicit template path
// first, then the ISO cache. Skipped when the guest downloads its own
// medium from a URL.
func (p *Provisioner) installISO(vm *models.VM, template *models.Template) string {
	if vm.Extra.ISOURL != "" {
		return ""
	}
	if template.CachedISOPath != "" {
		if info, err := os.Stat(template.CachedISOPath); err == nil && !info.IsDir() {
			return template.CachedISOPath
		}
		p.Log.Warnf("template %s cached ISO %s is missing", template.Name, template.CachedISOPath)
	}
	if p.isoCache == nil || template.Variant == "" {
		return ""
	}
	kind := cache.KindLinuxISO
	if template.OSKind == models.OSWindows {
		kind = cache.KindWindowsISO
	}
	if path, ok := p.isoCache.CachedPath(kind, template.Variant); ok {
		return path
	}
	return ""
}

// PurgeRangeStorage removes every VM storage tree a range owns. Called
// after the range's rows are gone; the disks have no owner left.
func (p *Provisioner) PurgeRangeStorage(rangeID string) error {
	if strings.TrimSpace(rangeID) == "" {
		return models.Validationf("range id required")
	}
	return os.RemoveAll(filepath.Join(p.paths.VMStorageDir, rangeID))
}

// ensureStorage creates the VM's storage directory, seeding it from
// the template's golden image the first time it is used.
func (p *Provisioner) ensureStorage(vm *models.VM, template *models.Template) (string, error) {
	dir := filepath.Join(p.paths.VMStorageDir, vm.RangeID, vm.ID, "storage")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if template.GoldenImagePath == "" {
		return dir, nil
	}
	empty, err := dirEmpty(dir)
	if err != nil {
		return "", err
	}
	if !empty {
		return dir, nil
	}
	if _, err := os.Stat(template.GoldenImagePath); err != nil {
		p.Log.Warnf("golden image %s is missing, %s starts from a fresh install", template.GoldenImagePath, vm.Hostname)
		return dir, nil
	}
	p.Log.WithFields(logrus.Fields{"from": template.GoldenImagePath, "vm": vm.Hostname}).Info("seeding storage from golden image")
	if err := p.copyTree(template.GoldenImagePath, dir); err != nil {
		return "", err
	}
	return dir, nil
}

func displayFor(vm *models.VM) string {
	if vm.Desktop() {
		return "web"
	}
	return "none"
}

func addDiskSizes(env map[string]string, vm *models.VM) {
	if vm.Extra.Disk2GB > 0 {
		env["DISK2_SIZE"] = fmt.Sprintf("%dG", vm.Extra.Disk2GB)
	}
	if vm.Extra.Disk3GB > 0 {
		env["DISK3_SIZE"] = fmt.Sprintf("%dG", vm.Extra.Disk3GB)
	}
}

func pick(v, fallback, floor int) int {
	if v > 0 {
		return v
	}
	if fallback > 0 {
		return fallback
	}
	return floor
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
