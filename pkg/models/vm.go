package models

import "time"

type VMStatus string

const (
	VMPending  VMStatus = "pending"
	VMCreating VMStatus = "creating"
	VMRunning  VMStatus = "running"
	VMStopped  VMStatus = "stopped"
	VMError    VMStatus = "error"
)

type DisplayMode string

const (
	DisplayDesktop DisplayMode = "desktop"
	DisplayServer  DisplayMode = "server"
)

// VM is one unit of compute attached to a primary network. Depending on
// its template it is realized as a plain container or as a KVM-accelerated
// container hosting a full Linux/Windows OS.
type VM struct {
	ID         string   `json:"id"`
	RangeID    string   `json:"range_id"`
	NetworkID  string   `json:"network_id"`
	TemplateID string   `json:"template_id"`
	Hostname   string   `json:"hostname"`
	IPAddress  string   `json:"ip_address"`
	CPU        int      `json:"cpu"`
	RAMMB      int      `json:"ram_mb"`
	DiskGB     int      `json:"disk_gb"`
	Status     VMStatus `json:"status"`

	// Handle is the engine container id, present from first provisioning
	// until teardown clears it.
	Handle string `json:"handle,omitempty"`

	Extra     VMExtra   `json:"extra,omitempty"`
	PositionX int       `json:"position_x"`
	PositionY int       `json:"position_y"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VMExtra is the extended per-VM configuration consumed by the
// synthesizer. Zero values mean "inherit from the template or omit".
type VMExtra struct {
	Display      DisplayMode `json:"display,omitempty"`
	Disk2GB      int         `json:"disk2_gb,omitempty"`
	Disk3GB      int         `json:"disk3_gb,omitempty"`
	SharedFolder bool        `json:"shared_folder,omitempty"`
	GlobalShared bool        `json:"global_shared,omitempty"`

	// Windows guests only.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Language string `json:"language,omitempty"`
	Keyboard string `json:"keyboard,omitempty"`
	Region   string `json:"region,omitempty"`
	Manual   bool   `json:"manual,omitempty"`

	// Guest networking overrides.
	UseDHCP bool     `json:"use_dhcp,omitempty"`
	Gateway string   `json:"gateway,omitempty"`
	DNS     []string `json:"dns,omitempty"`

	// VM-in-container boot tuning.
	BootMode string `json:"boot_mode,omitempty"` // uefi | legacy
	DiskType string `json:"disk_type,omitempty"` // scsi | ide | blk
	ISOURL   string `json:"iso_url,omitempty"`   // custom install medium
}

// Desktop reports whether the VM exposes a graphical console. Unset
// display means desktop.
func (v *VM) Desktop() bool { return v.Extra.Display != DisplayServer }
