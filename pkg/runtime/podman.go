package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/containers/podman/v5/pkg/api/handlers"
	"github.com/containers/podman/v5/pkg/bindings"
	"github.com/containers/podman/v5/pkg/bindings/containers"
	"github.com/containers/podman/v5/pkg/bindings/images"
	"github.com/containers/podman/v5/pkg/bindings/network"
	"github.com/containers/podman/v5/pkg/bindings/system"
	"github.com/containers/podman/v5/pkg/specgen"
	dockercontainer "github.com/docker/docker/api/types/container"
	archive "github.com/moby/go-archive"
	spec "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"
	nettypes "go.podman.io/common/libnetwork/types"

	"github.com/cyroid/cyroid/pkg/models"
)

// PodmanRuntime drives podman through its REST bindings. The bindings take
// the connection as a context, so the dialed context is kept on the struct
// the way the socket runtime upstream does it.
type PodmanRuntime struct {
	Log  *logrus.Entry
	conn context.Context
}

var _ ContainerRuntime = &PodmanRuntime{}

func NewPodmanRuntime(ctx context.Context, log *logrus.Entry, host string) (*PodmanRuntime, error) {
	if host == "" {
		host = detectPodmanSocket()
	}
	conn, err := bindings.NewConnection(ctx, host)
	if err != nil {
		return nil, newOpError("connect podman at "+host, models.ErrTransient, err)
	}
	return &PodmanRuntime{Log: log, conn: conn}, nil
}

// detectPodmanSocket picks the socket the way podman's own tooling does:
// CONTAINER_HOST, then the rootless socket, then the rootful one.
func detectPodmanSocket() string {
	if host := os.Getenv("CONTAINER_HOST"); host != "" {
		return host
	}
	rootless := fmt.Sprintf("/run/user/%d/podman/podman.sock", os.Getuid())
	if _, err := os.Stat(rootless); err == nil {
		return "unix://" + rootless
	}
	return "unix:///run/podman/podman.sock"
}

func (r *PodmanRuntime) Mode() string { return ModePodman }

func (r *PodmanRuntime) Ping(ctx context.Context) error {
	_, err := system.Version(r.conn, nil)
	return podmanError("ping podman", err)
}

func (r *PodmanRuntime) Close() error { return nil }

func (r *PodmanRuntime) CreateNetwork(ctx context.Context, ns NetworkSpec) (string, error) {
	subnet, err := nettypes.ParseCIDR(ns.Subnet)
	if err != nil {
		return "", models.Validationf("subnet %q: %v", ns.Subnet, err)
	}
	created, err := network.Create(r.conn, &nettypes.Network{
		Name:     ns.Name,
		Driver:   "bridge",
		Internal: ns.Internal,
		Labels:   ns.Labels,
		Subnets: []nettypes.Subnet{{
			Subnet:  subnet,
			Gateway: net.ParseIP(ns.Gateway),
		}},
	})
	if err != nil {
		return "", podmanError("create network "+ns.Name, err)
	}
	return created.ID, nil
}

func (r *PodmanRuntime) RemoveNetwork(ctx context.Context, handle string) error {
	_, err := network.Remove(r.conn, handle, nil)
	err = podmanError("remove network "+handle, err)
	if errorsIsNotFound(err) {
		return nil
	}
	return err
}

func (r *PodmanRuntime) ListNetworks(ctx context.Context, labels map[string]string) ([]NetworkInfo, error) {
	list, err := network.List(r.conn, &network.ListOptions{Filters: labelFilterMap(labels)})
	if err != nil {
		return nil, podmanError("list networks", err)
	}
	out := make([]NetworkInfo, 0, len(list))
	for _, n := range list {
		info := NetworkInfo{Handle: n.ID, Name: n.Name, Internal: n.Internal, Labels: n.Labels}
		if len(n.Subnets) > 0 {
			info.Subnet = n.Subnets[0].Subnet.String()
		}
		out = append(out, info)
	}
	return out, nil
}

func (r *PodmanRuntime) CreateContainer(ctx context.Context, cs ContainerSpec) (string, error) {
	s := specgen.NewSpecGenerator(cs.Image, false)
	s.Name = cs.Name
	s.Hostname = cs.Hostname
	s.Entrypoint = cs.Entrypoint
	s.Command = cs.Command
	s.Env = cs.Env
	s.Labels = cs.Labels
	s.RestartPolicy = cs.RestartPolicy
	s.CapAdd = cs.CapAdd
	if cs.Privileged {
		t := true
		s.Privileged = &t
	}
	if cs.TTY {
		t := true
		s.Terminal = &t
		s.Stdin = &t
	}
	for _, d := range cs.DNS {
		if ip := net.ParseIP(d); ip != nil {
			s.DNSServers = append(s.DNSServers, ip)
		}
	}
	for _, m := range cs.Mounts {
		opts := []string{"rbind"}
		if m.ReadOnly {
			opts = append(opts, "ro")
		}
		s.Mounts = append(s.Mounts, spec.Mount{
			Destination: m.Target,
			Type:        "bind",
			Source:      m.Source,
			Options:     opts,
		})
	}
	for _, d := range cs.Devices {
		s.Devices = append(s.Devices, spec.LinuxDevice{Path: d})
	}
	if cs.CPUCores > 0 || cs.MemoryMB > 0 {
		s.ResourceLimits = &spec.LinuxResources{}
		if cs.CPUCores > 0 {
			period := uint64(100000)
			quota := int64(cs.CPUCores) * 100000
			s.ResourceLimits.CPU = &spec.LinuxCPU{Quota: &quota, Period: &period}
		}
		if cs.MemoryMB > 0 {
			limit := cs.MemoryMB * 1024 * 1024
			s.ResourceLimits.Memory = &spec.LinuxMemory{Limit: &limit}
		}
	}
	// Created on the routing network only; the range network is connected
	// after the fact so the proxy-facing address stays first.
	if cs.RoutingNetwork != "" {
		s.Networks = map[string]nettypes.PerNetworkOptions{cs.RoutingNetwork: {}}
	}

	created, err := containers.CreateWithSpec(r.conn, s, nil)
	if err != nil {
		return "", podmanError("create container "+cs.Name, err)
	}

	if cs.NetworkHandle != "" {
		opts := &nettypes.PerNetworkOptions{}
		if ip := net.ParseIP(cs.StaticIP); ip != nil {
			opts.StaticIPs = []net.IP{ip}
		}
		if err := network.Connect(r.conn, cs.NetworkHandle, created.ID, opts); err != nil {
			return created.ID, podmanError("connect "+cs.Name+" to network", err)
		}
	}
	return created.ID, nil
}

func (r *PodmanRuntime) StartContainer(ctx context.Context, handle string) error {
	err := podmanError("start container "+handle, containers.Start(r.conn, handle, nil))
	if errorsIsNotFound(err) {
		return nil
	}
	return err
}

func (r *PodmanRuntime) StopContainer(ctx context.Context, handle string, graceSeconds int) error {
	grace := uint(graceSeconds)
	err := podmanError("stop container "+handle, containers.Stop(r.conn, handle, &containers.StopOptions{Timeout: &grace}))
	if errorsIsNotFound(err) {
		return nil
	}
	return err
}

func (r *PodmanRuntime) RestartContainer(ctx context.Context, handle string, graceSeconds int) error {
	err := podmanError("restart container "+handle, containers.Restart(r.conn, handle, &containers.RestartOptions{Timeout: &graceSeconds}))
	if errorsIsNotFound(err) {
		return nil
	}
	return err
}

func (r *PodmanRuntime) RemoveContainer(ctx context.Context, handle string, force bool) error {
	volumes := true
	_, err := containers.Remove(r.conn, handle, &containers.RemoveOptions{Force: &force, Volumes: &volumes})
	err = podmanError("remove container "+handle, err)
	if errorsIsNotFound(err) {
		return nil
	}
	return err
}

func (r *PodmanRuntime) InspectContainer(ctx context.Context, handle string) (*ContainerInfo, error) {
	data, err := containers.Inspect(r.conn, handle, nil)
	if err != nil {
		return nil, podmanError("inspect container "+handle, err)
	}
	info := &ContainerInfo{
		Handle: data.ID,
		Name:   strings.TrimPrefix(data.Name, "/"),
		Image:  data.ImageName,
		IPs:    map[string]string{},
	}
	if data.Config != nil {
		info.Labels = data.Config.Labels
	}
	if data.State != nil {
		info.State = data.State.Status
		info.Running = data.State.Running
	}
	if data.NetworkSettings != nil {
		for name, ep := range data.NetworkSettings.Networks {
			if ep != nil {
				info.IPs[name] = ep.IPAddress
			}
		}
	}
	return info, nil
}

func (r *PodmanRuntime) ListContainers(ctx context.Context, labels map[string]string) ([]ContainerInfo, error) {
	all := true
	list, err := containers.List(r.conn, &containers.ListOptions{All: &all, Filters: labelFilterMap(labels)})
	if err != nil {
		return nil, podmanError("list containers", err)
	}
	out := make([]ContainerInfo, 0, len(list))
	for _, c := range list {
		info := ContainerInfo{
			Handle:  c.ID,
			Image:   c.Image,
			State:   c.State,
			Running: c.State == "running",
			Labels:  c.Labels,
			IPs:     map[string]string{},
		}
		if len(c.Names) > 0 {
			info.Name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, info)
	}
	return out, nil
}

func (r *PodmanRuntime) Exec(ctx context.Context, handle string, argv []string, cfg ExecConfig) (int, string, error) {
	sessionID, err := containers.ExecCreate(r.conn, handle, &handlers.ExecCreateConfig{
		ExecOptions: dockercontainer.ExecOptions{
			User:         cfg.User,
			WorkingDir:   cfg.WorkDir,
			Env:          cfg.Env,
			Tty:          cfg.TTY,
			AttachStdout: true,
			AttachStderr: true,
			Cmd:          argv,
		},
	})
	if err != nil {
		return 0, "", podmanError("exec create in "+handle, err)
	}

	var buf strings.Builder
	ow := io.Writer(&buf)
	attach := true
	err = containers.ExecStartAndAttach(r.conn, sessionID, &containers.ExecStartAndAttachOptions{
		OutputStream: &ow,
		ErrorStream:  &ow,
		AttachOutput: &attach,
		AttachError:  &attach,
	})
	if err != nil {
		return 0, buf.String(), podmanError("exec attach in "+handle, err)
	}

	session, err := containers.ExecInspect(r.conn, sessionID, nil)
	if err != nil {
		return 0, buf.String(), podmanError("exec inspect in "+handle, err)
	}
	return session.ExitCode, buf.String(), nil
}

func (r *PodmanRuntime) ExecInteractive(ctx context.Context, handle string, argv []string) (io.ReadWriteCloser, error) {
	tty := true
	sessionID, err := containers.ExecCreate(r.conn, handle, &handlers.ExecCreateConfig{
		ExecOptions: dockercontainer.ExecOptions{
			Tty:          tty,
			AttachStdin:  true,
			AttachStdout: true,
			AttachStderr: true,
			Cmd:          argv,
		},
	})
	if err != nil {
		return nil, podmanError("exec create in "+handle, err)
	}

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	ow := io.Writer(outW)
	attach := true
	go func() {
		err := containers.ExecStartAndAttach(r.conn, sessionID, &containers.ExecStartAndAttachOptions{
			OutputStream: &ow,
			ErrorStream:  &ow,
			InputStream:  bufio.NewReader(inR),
			AttachOutput: &attach,
			AttachError:  &attach,
			AttachInput:  &attach,
		})
		if err != nil {
			outW.CloseWithError(err)
			return
		}
		outW.Close()
	}()

	return &pipeConsole{out: outR, in: inW}, nil
}

// pipeConsole is the duplex stream handed to console sessions on the
// podman backend.
type pipeConsole struct {
	out *io.PipeReader
	in  *io.PipeWriter
}

func (c *pipeConsole) Read(p []byte) (int, error)  { return c.out.Read(p) }
func (c *pipeConsole) Write(p []byte) (int, error) { return c.in.Write(p) }
func (c *pipeConsole) Close() error {
	c.in.Close()
	return c.out.Close()
}

func (r *PodmanRuntime) CopyTo(ctx context.Context, handle, srcPath, dstDir string) error {
	tarball, err := archive.Tar(srcPath, archive.Uncompressed)
	if err != nil {
		return newOpError("tar "+srcPath, models.ErrUnrecoverable, err)
	}
	defer tarball.Close()
	copyFn, err := containers.CopyFromArchive(r.conn, handle, dstDir, tarball)
	if err != nil {
		return podmanError("copy to "+handle, err)
	}
	return podmanError("copy to "+handle, copyFn())
}

func (r *PodmanRuntime) Commit(ctx context.Context, handle, repoTag string) (string, error) {
	repo, tag := splitRepoTag(repoTag)
	pause := true
	opts := &containers.CommitOptions{Repo: &repo, Pause: &pause}
	if tag != "" {
		opts.Tag = &tag
	}
	created, err := containers.Commit(r.conn, handle, opts)
	if err != nil {
		return "", podmanError("commit container "+handle, err)
	}
	return created.ID, nil
}

// PullStream reports coarse progress on podman: the libpod pull endpoint
// streams human-readable copy lines rather than per-layer byte counts, so
// each line becomes one record and byte totals stay zero.
func (r *PodmanRuntime) PullStream(ctx context.Context, ref string, onProgress func(PullProgress)) error {
	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			if onProgress == nil {
				continue
			}
			onProgress(parsePodmanPullLine(scanner.Text()))
		}
	}()

	w := io.Writer(pw)
	_, err := images.Pull(r.conn, ref, &images.PullOptions{ProgressWriter: &w})
	pw.Close()
	<-done
	return podmanError("pull "+ref, err)
}

func parsePodmanPullLine(line string) PullProgress {
	p := PullProgress{Status: PullStatusPulling}
	fields := strings.Fields(line)
	if len(fields) >= 3 && fields[0] == "Copying" && fields[1] == "blob" {
		p.LayerID = strings.TrimPrefix(fields[2], "sha256:")
		if strings.HasSuffix(line, "done") {
			p.Status = PullStatusComplete
		}
	}
	if strings.Contains(line, "skipped: already exists") {
		p.Status = PullStatusAlreadyExists
	}
	return p
}

func (r *PodmanRuntime) ImageExists(ctx context.Context, ref string) (bool, error) {
	ok, err := images.Exists(r.conn, ref, nil)
	if err != nil {
		return false, podmanError("image exists "+ref, err)
	}
	return ok, nil
}

func (r *PodmanRuntime) RemoveImage(ctx context.Context, ref string) error {
	_, errs := images.Remove(r.conn, []string{ref}, nil)
	if len(errs) == 0 {
		return nil
	}
	err := podmanError("remove image "+ref, errs[0])
	if errorsIsNotFound(err) {
		return nil
	}
	return err
}

func (r *PodmanRuntime) Stats(ctx context.Context, handle string) (*StatsSample, error) {
	info, err := r.InspectContainer(ctx, handle)
	if err != nil {
		return nil, err
	}
	if !info.Running {
		return nil, newOpError("stats "+handle, models.ErrConflict, fmt.Errorf("container %s is not running", handle))
	}

	stream := false
	reports, err := containers.Stats(r.conn, []string{handle}, &containers.StatsOptions{Stream: &stream})
	if err != nil {
		return nil, podmanError("stats "+handle, err)
	}
	for report := range reports {
		if report.Error != nil {
			return nil, podmanError("stats "+handle, report.Error)
		}
		for _, st := range report.Stats {
			sample := &StatsSample{
				CPUPercent:    st.CPU,
				MemoryMB:      float64(st.MemUsage) / (1024 * 1024),
				MemoryPercent: st.MemPerc,
				PIDs:          int(st.PIDs),
			}
			for _, n := range st.Network {
				sample.RxBytes += int64(n.RxBytes)
				sample.TxBytes += int64(n.TxBytes)
			}
			return sample, nil
		}
	}
	return nil, newOpError("stats "+handle, models.ErrConflict, fmt.Errorf("no stats reported for %s", handle))
}

func labelFilterMap(labels map[string]string) map[string][]string {
	if len(labels) == 0 {
		return nil
	}
	filter := make([]string, 0, len(labels))
	for k, v := range labels {
		filter = append(filter, k+"="+v)
	}
	return map[string][]string{"label": filter}
}

func splitRepoTag(repoTag string) (string, string) {
	i := strings.LastIndex(repoTag, ":")
	if i < 0 || strings.Contains(repoTag[i:], "/") {
		return repoTag, ""
	}
	return repoTag[:i], repoTag[i+1:]
}

func errorsIsNotFound(err error) bool {
	return err != nil && errors.Is(err, models.ErrNotFound)
}
