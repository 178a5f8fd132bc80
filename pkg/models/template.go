package models

import "time"

type OSKind string

const (
	OSLinux   OSKind = "linux"
	OSWindows OSKind = "windows"
	OSCustom  OSKind = "custom"
)

type VMType string

const (
	// TypeContainer runs the base image directly.
	TypeContainer VMType = "container"
	// TypeLinuxVM boots a full Linux guest inside a qemu wrapper image.
	TypeLinuxVM VMType = "linux_vm"
	// TypeWindowsVM boots a full Windows guest inside a dockur wrapper image.
	TypeWindowsVM VMType = "windows_vm"
)

// Template describes how to realize a VM: which image to run, which OS
// variant to boot, and the default resource envelope.
type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	OSKind      OSKind `json:"os_kind"`
	VMType      VMType `json:"vm_type"`

	// Variant selects the guest build: a dockur VERSION code for Windows
	// (e.g. "11", "2022"), a qemu BOOT code for Linux (e.g. "ubuntu"),
	// unused for plain containers.
	Variant string `json:"variant,omitempty"`

	// BaseImage is the container image reference. For VM types it is the
	// wrapper image; for containers it is the workload itself.
	BaseImage string `json:"base_image"`

	DefaultCPU    int `json:"default_cpu"`
	DefaultRAMMB  int `json:"default_ram_mb"`
	DefaultDiskGB int `json:"default_disk_gb"`

	// PostInstall is executed inside plain containers after first start,
	// or baked into the Windows OEM install.bat.
	PostInstall string `json:"post_install,omitempty"`

	GoldenImagePath string `json:"golden_image_path,omitempty"`
	CachedISOPath   string `json:"cached_iso_path,omitempty"`

	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
