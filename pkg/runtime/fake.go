package runtime

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/cyroid/cyroid/pkg/models"
)

// FakeRuntime is an in-memory ContainerRuntime for tests. Fields are
// exported so tests can script behaviour and assert on recorded calls.
type FakeRuntime struct {
	mu sync.Mutex

	Networks   map[string]NetworkInfo
	Containers map[string]*FakeContainer
	Images     map[string]bool

	// ExecFn overrides Exec when set; otherwise Exec succeeds with exit 0.
	ExecFn func(handle string, argv []string, cfg ExecConfig) (int, string, error)
	// ConsoleFn overrides ExecInteractive when set; otherwise the fake
	// returns one end of a net.Pipe and parks the other on ConsolePeer.
	ConsoleFn   func(handle string, argv []string) (io.ReadWriteCloser, error)
	ConsolePeer net.Conn

	PullRecords []PullProgress
	PullErr     error
	PingErr     error

	ExecCalls []FakeExecCall
	CopyCalls []FakeCopyCall
	Commits   []FakeCommitCall
	Pulled    []string

	// FailNext maps an operation name to an error returned once on the
	// next call, e.g. "create container" or "stats".
	FailNext map[string]error

	nextID int
}

type FakeContainer struct {
	Info      ContainerInfo
	Spec      ContainerSpec
	StopGrace int
	Restarts  int
	Sample    *StatsSample
}

type FakeExecCall struct {
	Handle string
	Argv   []string
	Cfg    ExecConfig
}

type FakeCopyCall struct {
	Handle  string
	SrcPath string
	DstDir  string
}

type FakeCommitCall struct {
	Handle  string
	RepoTag string
	ImageID string
}

var _ ContainerRuntime = &FakeRuntime{}

func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		Networks:   map[string]NetworkInfo{},
		Containers: map[string]*FakeContainer{},
		Images:     map[string]bool{},
		FailNext:   map[string]error{},
	}
}

func (f *FakeRuntime) failNext(op string) error {
	if err, ok := f.FailNext[op]; ok {
		delete(f.FailNext, op)
		return err
	}
	return nil
}

func (f *FakeRuntime) Mode() string                   { return "fake" }
func (f *FakeRuntime) Ping(ctx context.Context) error { return f.PingErr }
func (f *FakeRuntime) Close() error                   { return nil }

func (f *FakeRuntime) CreateNetwork(ctx context.Context, ns NetworkSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext("create network"); err != nil {
		return "", err
	}
	for _, existing := range f.Networks {
		if existing.Name == ns.Name || existing.Subnet == ns.Subnet {
			return "", newOpError("create network "+ns.Name, models.ErrConflict,
				fmt.Errorf("network %s overlaps %s", ns.Name, existing.Name))
		}
	}
	f.nextID++
	handle := fmt.Sprintf("net-%d", f.nextID)
	f.Networks[handle] = NetworkInfo{
		Handle:   handle,
		Name:     ns.Name,
		Subnet:   ns.Subnet,
		Internal: ns.Internal,
		Labels:   ns.Labels,
	}
	return handle, nil
}

func (f *FakeRuntime) RemoveNetwork(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext("remove network"); err != nil {
		return err
	}
	delete(f.Networks, handle)
	return nil
}

func (f *FakeRuntime) ListNetworks(ctx context.Context, labels map[string]string) ([]NetworkInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []NetworkInfo{}
	for _, n := range f.Networks {
		if labelsMatch(n.Labels, labels) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *FakeRuntime) CreateContainer(ctx context.Context, cs ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext("create container"); err != nil {
		return "", err
	}
	for _, c := range f.Containers {
		if c.Info.Name == cs.Name {
			return "", newOpError("create container "+cs.Name, models.ErrConflict,
				fmt.Errorf("name %s already in use", cs.Name))
		}
	}
	f.nextID++
	handle := fmt.Sprintf("ctr-%d", f.nextID)
	ips := map[string]string{}
	if cs.RoutingNetwork != "" {
		ips[cs.RoutingNetwork] = fmt.Sprintf("10.99.0.%d", f.nextID)
	}
	if cs.NetworkHandle != "" && cs.StaticIP != "" {
		ips[cs.NetworkHandle] = cs.StaticIP
	}
	f.Containers[handle] = &FakeContainer{
		Info: ContainerInfo{
			Handle: handle,
			Name:   cs.Name,
			Image:  cs.Image,
			State:  "created",
			Labels: cs.Labels,
			IPs:    ips,
		},
		Spec: cs,
	}
	return handle, nil
}

func (f *FakeRuntime) StartContainer(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext("start container"); err != nil {
		return err
	}
	if c, ok := f.Containers[handle]; ok {
		c.Info.State = "running"
		c.Info.Running = true
	}
	return nil
}

func (f *FakeRuntime) StopContainer(ctx context.Context, handle string, graceSeconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext("stop container"); err != nil {
		return err
	}
	if c, ok := f.Containers[handle]; ok {
		c.Info.State = "exited"
		c.Info.Running = false
		c.StopGrace = graceSeconds
	}
	return nil
}

func (f *FakeRuntime) RestartContainer(ctx context.Context, handle string, graceSeconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.Containers[handle]; ok {
		c.Info.State = "running"
		c.Info.Running = true
		c.Restarts++
	}
	return nil
}

func (f *FakeRuntime) RemoveContainer(ctx context.Context, handle string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext("remove container"); err != nil {
		return err
	}
	delete(f.Containers, handle)
	return nil
}

func (f *FakeRuntime) InspectContainer(ctx context.Context, handle string) (*ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Containers[handle]
	if !ok {
		return nil, newOpError("inspect container "+handle, models.ErrNotFound,
			fmt.Errorf("no such container %s", handle))
	}
	info := c.Info
	return &info, nil
}

func (f *FakeRuntime) ListContainers(ctx context.Context, labels map[string]string) ([]ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []ContainerInfo{}
	for _, c := range f.Containers {
		if labelsMatch(c.Info.Labels, labels) {
			out = append(out, c.Info)
		}
	}
	return out, nil
}

func (f *FakeRuntime) Exec(ctx context.Context, handle string, argv []string, cfg ExecConfig) (int, string, error) {
	f.mu.Lock()
	_, ok := f.Containers[handle]
	f.ExecCalls = append(f.ExecCalls, FakeExecCall{Handle: handle, Argv: argv, Cfg: cfg})
	fn := f.ExecFn
	f.mu.Unlock()
	if !ok {
		return 0, "", newOpError("exec in "+handle, models.ErrNotFound,
			fmt.Errorf("no such container %s", handle))
	}
	if fn != nil {
		return fn(handle, argv, cfg)
	}
	return 0, "", nil
}

func (f *FakeRuntime) ExecInteractive(ctx context.Context, handle string, argv []string) (io.ReadWriteCloser, error) {
	f.mu.Lock()
	_, ok := f.Containers[handle]
	fn := f.ConsoleFn
	f.mu.Unlock()
	if !ok {
		return nil, newOpError("exec in "+handle, models.ErrNotFound,
			fmt.Errorf("no such container %s", handle))
	}
	if fn != nil {
		return fn(handle, argv)
	}
	local, peer := net.Pipe()
	f.mu.Lock()
	f.ConsolePeer = peer
	f.mu.Unlock()
	return local, nil
}

func (f *FakeRuntime) CopyTo(ctx context.Context, handle, srcPath, dstDir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext("copy to"); err != nil {
		return err
	}
	if _, ok := f.Containers[handle]; !ok {
		return newOpError("copy to "+handle, models.ErrNotFound,
			fmt.Errorf("no such container %s", handle))
	}
	f.CopyCalls = append(f.CopyCalls, FakeCopyCall{Handle: handle, SrcPath: srcPath, DstDir: dstDir})
	return nil
}

func (f *FakeRuntime) Commit(ctx context.Context, handle, repoTag string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext("commit"); err != nil {
		return "", err
	}
	if _, ok := f.Containers[handle]; !ok {
		return "", newOpError("commit container "+handle, models.ErrNotFound,
			fmt.Errorf("no such container %s", handle))
	}
	f.nextID++
	id := fmt.Sprintf("img-%d", f.nextID)
	f.Images[repoTag] = true
	f.Commits = append(f.Commits, FakeCommitCall{Handle: handle, RepoTag: repoTag, ImageID: id})
	return id, nil
}

func (f *FakeRuntime) PullStream(ctx context.Context, ref string, onProgress func(PullProgress)) error {
	f.mu.Lock()
	records := f.PullRecords
	pullErr := f.PullErr
	f.Pulled = append(f.Pulled, ref)
	f.mu.Unlock()
	for _, rec := range records {
		if onProgress != nil {
			onProgress(rec)
		}
	}
	if pullErr != nil {
		return pullErr
	}
	f.mu.Lock()
	f.Images[ref] = true
	f.mu.Unlock()
	return nil
}

func (f *FakeRuntime) ImageExists(ctx context.Context, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Images[ref], nil
}

func (f *FakeRuntime) RemoveImage(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Images, ref)
	return nil
}

func (f *FakeRuntime) Stats(ctx context.Context, handle string) (*StatsSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext("stats"); err != nil {
		return nil, err
	}
	c, ok := f.Containers[handle]
	if !ok {
		return nil, newOpError("stats "+handle, models.ErrNotFound,
			fmt.Errorf("no such container %s", handle))
	}
	if !c.Info.Running {
		return nil, newOpError("stats "+handle, models.ErrConflict,
			fmt.Errorf("container %s is not running", handle))
	}
	if c.Sample != nil {
		sample := *c.Sample
		return &sample, nil
	}
	return &StatsSample{CPUPercent: 1.5, MemoryMB: 64, MemoryPercent: 3.1, PIDs: 4}, nil
}

// HandleByName resolves a container handle from its name, for tests that
// only know the name they asked the orchestrator to create.
func (f *FakeRuntime) HandleByName(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for handle, c := range f.Containers {
		if c.Info.Name == name {
			return handle
		}
	}
	return ""
}

func labelsMatch(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
