package runtime

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/cyroid/cyroid/pkg/models"
)

// Labels the engine resources we own are stamped with. The adapter never
// interprets them; callers write them and filter on them.
const (
	LabelManaged      = "cyroid.managed"
	LabelRangeID      = "cyroid.range_id"
	LabelVMID         = "cyroid.vm_id"
	LabelNetworkID    = "cyroid.network_id"
	LabelHostname     = "cyroid.hostname"
	LabelRestoredFrom = "cyroid.restored_from"
)

// Runtime modes accepted by New.
const (
	ModeDocker = "docker"
	ModePodman = "podman"
)

// NetworkSpec describes an isolated range network. Internal networks have
// no route out of the host.
type NetworkSpec struct {
	Name     string
	Subnet   string
	Gateway  string
	Internal bool
	Labels   map[string]string
}

// Mount is a bind mount into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerSpec is everything CreateContainer needs. The container is
// created attached to RoutingNetwork (so the reverse proxy reaches it on a
// stable address) and then connected to NetworkHandle with StaticIP before
// the create returns.
type ContainerSpec struct {
	Name          string
	Hostname      string
	Image         string
	Entrypoint    []string
	Command       []string
	Env           map[string]string
	Labels        map[string]string
	Privileged    bool
	TTY           bool
	RestartPolicy string
	CPUCores      int
	MemoryMB      int64
	Mounts        []Mount
	Devices       []string
	CapAdd        []string
	DNS           []string

	RoutingNetwork string
	NetworkHandle  string
	StaticIP       string
}

// ExecConfig tunes a one-shot exec.
type ExecConfig struct {
	User    string
	WorkDir string
	Env     []string
	TTY     bool
}

// ContainerInfo is the runtime-agnostic inspect result.
type ContainerInfo struct {
	Handle  string
	Name    string
	Image   string
	State   string
	Running bool
	Labels  map[string]string
	// IPs maps network name to the container's address on it.
	IPs map[string]string
}

// NetworkInfo is the runtime-agnostic network listing entry.
type NetworkInfo struct {
	Handle   string
	Name     string
	Subnet   string
	Internal bool
	Labels   map[string]string
}

// PullProgress is one record of a pull stream.
type PullProgress struct {
	LayerID string
	Current int64
	Total   int64
	Status  PullStatus
}

type PullStatus string

const (
	PullStatusPulling       PullStatus = "pulling"
	PullStatusComplete      PullStatus = "complete"
	PullStatusAlreadyExists PullStatus = "already_exists"
)

// StatsSample is a point-in-time resource reading. CPUPercent is
// normalized to 0-100 regardless of core count.
type StatsSample struct {
	CPUPercent    float64
	MemoryMB      float64
	MemoryPercent float64
	RxBytes       int64
	TxBytes       int64
	PIDs          int
}

// ContainerRuntime is a stateless facade over a container engine. It knows
// nothing about ranges or VMs; it never retries. Idempotent paths
// (remove/stop of a missing resource) return nil.
type ContainerRuntime interface {
	CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error)
	RemoveNetwork(ctx context.Context, handle string) error
	ListNetworks(ctx context.Context, labels map[string]string) ([]NetworkInfo, error)

	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, handle string) error
	StopContainer(ctx context.Context, handle string, graceSeconds int) error
	RestartContainer(ctx context.Context, handle string, graceSeconds int) error
	RemoveContainer(ctx context.Context, handle string, force bool) error
	InspectContainer(ctx context.Context, handle string) (*ContainerInfo, error)
	ListContainers(ctx context.Context, labels map[string]string) ([]ContainerInfo, error)

	Exec(ctx context.Context, handle string, argv []string, cfg ExecConfig) (int, string, error)
	ExecInteractive(ctx context.Context, handle string, argv []string) (io.ReadWriteCloser, error)
	CopyTo(ctx context.Context, handle, srcPath, dstDir string) error

	Commit(ctx context.Context, handle, repoTag string) (string, error)
	PullStream(ctx context.Context, image string, onProgress func(PullProgress)) error
	ImageExists(ctx context.Context, ref string) (bool, error)
	RemoveImage(ctx context.Context, ref string) error

	Stats(ctx context.Context, handle string) (*StatsSample, error)

	Ping(ctx context.Context) error
	Mode() string
	Close() error
}

// New picks the backend for the configured runtime mode. host overrides
// the engine socket; empty falls back to the backend's environment
// detection (DOCKER_HOST / CONTAINER_HOST) and default socket.
func New(ctx context.Context, log *logrus.Entry, mode, host string) (ContainerRuntime, error) {
	switch mode {
	case ModeDocker:
		return NewDockerRuntime(log, host)
	case ModePodman:
		return NewPodmanRuntime(ctx, log, host)
	default:
		return nil, models.Validationf("unknown runtime_mode %q (want %q or %q)", mode, ModeDocker, ModePodman)
	}
}
