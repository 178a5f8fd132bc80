package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	archive "github.com/moby/go-archive"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/cyroid/cyroid/pkg/models"
)

// DockerRuntime drives the Docker Engine API.
type DockerRuntime struct {
	Log    *logrus.Entry
	client *client.Client
}

var _ ContainerRuntime = &DockerRuntime{}

func NewDockerRuntime(log *logrus.Entry, host string) (*DockerRuntime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, dockerError("new docker client", err)
	}
	return &DockerRuntime{Log: log, client: cli}, nil
}

func (r *DockerRuntime) Mode() string { return ModeDocker }

func (r *DockerRuntime) Ping(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return dockerError("ping docker", err)
}

func (r *DockerRuntime) Close() error {
	return r.client.Close()
}

func (r *DockerRuntime) CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error) {
	resp, err := r.client.NetworkCreate(ctx, spec.Name, network.CreateOptions{
		Driver:   "bridge",
		Internal: spec.Internal,
		IPAM: &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: spec.Subnet, Gateway: spec.Gateway}},
		},
		Labels: spec.Labels,
	})
	if err != nil {
		return "", dockerError("create network "+spec.Name, err)
	}
	return resp.ID, nil
}

func (r *DockerRuntime) RemoveNetwork(ctx context.Context, handle string) error {
	err := r.client.NetworkRemove(ctx, handle)
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return dockerError("remove network "+handle, err)
}

func (r *DockerRuntime) ListNetworks(ctx context.Context, labels map[string]string) ([]NetworkInfo, error) {
	list, err := r.client.NetworkList(ctx, network.ListOptions{Filters: labelArgs(labels)})
	if err != nil {
		return nil, dockerError("list networks", err)
	}
	out := make([]NetworkInfo, 0, len(list))
	for _, n := range list {
		info := NetworkInfo{Handle: n.ID, Name: n.Name, Internal: n.Internal, Labels: n.Labels}
		if len(n.IPAM.Config) > 0 {
			info.Subnet = n.IPAM.Config[0].Subnet
		}
		out = append(out, info)
	}
	return out, nil
}

func (r *DockerRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg := &container.Config{
		Hostname:   spec.Hostname,
		Image:      spec.Image,
		Env:        envSlice(spec.Env),
		Labels:     spec.Labels,
		Tty:        spec.TTY,
		OpenStdin:  spec.TTY,
		Entrypoint: strslice.StrSlice(spec.Entrypoint),
		Cmd:        strslice.StrSlice(spec.Command),
	}
	hostCfg := &container.HostConfig{
		Privileged:    spec.Privileged,
		CapAdd:        strslice.StrSlice(spec.CapAdd),
		DNS:           spec.DNS,
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyMode(spec.RestartPolicy)},
		Resources: container.Resources{
			NanoCPUs: int64(spec.CPUCores) * 1e9,
			Memory:   spec.MemoryMB * 1024 * 1024,
			Devices:  deviceMappings(spec.Devices),
		},
		Mounts: dockerMounts(spec.Mounts),
	}

	// The routing attachment must be the one the container is created
	// with; the range network is connected afterwards so the reverse
	// proxy always sees the routing-network address.
	var netCfg *network.NetworkingConfig
	if spec.RoutingNetwork != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{spec.RoutingNetwork: {}},
		}
	}

	resp, err := r.client.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return "", dockerError("create container "+spec.Name, err)
	}

	if spec.NetworkHandle != "" {
		es := &network.EndpointSettings{}
		if spec.StaticIP != "" {
			es.IPAMConfig = &network.EndpointIPAMConfig{IPv4Address: spec.StaticIP}
		}
		if err := r.client.NetworkConnect(ctx, spec.NetworkHandle, resp.ID, es); err != nil {
			return resp.ID, dockerError("connect "+spec.Name+" to network", err)
		}
	}
	return resp.ID, nil
}

func (r *DockerRuntime) StartContainer(ctx context.Context, handle string) error {
	err := r.client.ContainerStart(ctx, handle, container.StartOptions{})
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return dockerError("start container "+handle, err)
}

func (r *DockerRuntime) StopContainer(ctx context.Context, handle string, graceSeconds int) error {
	err := r.client.ContainerStop(ctx, handle, container.StopOptions{Timeout: &graceSeconds})
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return dockerError("stop container "+handle, err)
}

func (r *DockerRuntime) RestartContainer(ctx context.Context, handle string, graceSeconds int) error {
	err := r.client.ContainerRestart(ctx, handle, container.StopOptions{Timeout: &graceSeconds})
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return dockerError("restart container "+handle, err)
}

func (r *DockerRuntime) RemoveContainer(ctx context.Context, handle string, force bool) error {
	err := r.client.ContainerRemove(ctx, handle, container.RemoveOptions{Force: force, RemoveVolumes: true})
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return dockerError("remove container "+handle, err)
}

func (r *DockerRuntime) InspectContainer(ctx context.Context, handle string) (*ContainerInfo, error) {
	resp, err := r.client.ContainerInspect(ctx, handle)
	if err != nil {
		return nil, dockerError("inspect container "+handle, err)
	}
	info := &ContainerInfo{
		Handle: resp.ID,
		Name:   strings.TrimPrefix(resp.Name, "/"),
		IPs:    map[string]string{},
	}
	if resp.Config != nil {
		info.Image = resp.Config.Image
		info.Labels = resp.Config.Labels
	}
	if resp.State != nil {
		info.State = resp.State.Status
		info.Running = resp.State.Running
	}
	if resp.NetworkSettings != nil {
		for name, ep := range resp.NetworkSettings.Networks {
			if ep != nil {
				info.IPs[name] = ep.IPAddress
			}
		}
	}
	return info, nil
}

func (r *DockerRuntime) ListContainers(ctx context.Context, labels map[string]string) ([]ContainerInfo, error) {
	list, err := r.client.ContainerList(ctx, container.ListOptions{All: true, Filters: labelArgs(labels)})
	if err != nil {
		return nil, dockerError("list containers", err)
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
		if c.NetworkSettings != nil {
			for name, ep := range c.NetworkSettings.Networks {
				if ep != nil {
					info.IPs[name] = ep.IPAddress
				}
			}
		}
		out = append(out, info)
	}
	return out, nil
}

func (r *DockerRuntime) Exec(ctx context.Context, handle string, argv []string, cfg ExecConfig) (int, string, error) {
	created, err := r.client.ContainerExecCreate(ctx, handle, container.ExecOptions{
		User:         cfg.User,
		WorkingDir:   cfg.WorkDir,
		Env:          cfg.Env,
		Tty:          cfg.TTY,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          argv,
	})
	if err != nil {
		return 0, "", dockerError("exec create in "+handle, err)
	}

	resp, err := r.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: cfg.TTY})
	if err != nil {
		return 0, "", dockerError("exec attach in "+handle, err)
	}
	defer resp.Close()

	var buf strings.Builder
	if cfg.TTY {
		_, err = io.Copy(&buf, resp.Reader)
	} else {
		_, err = stdcopy.StdCopy(&buf, &buf, resp.Reader)
	}
	if err != nil {
		return 0, buf.String(), dockerError("exec read in "+handle, err)
	}

	for {
		ins, err := r.client.ContainerExecInspect(ctx, created.ID)
		if err != nil {
			return 0, buf.String(), dockerError("exec inspect in "+handle, err)
		}
		if !ins.Running {
			return ins.ExitCode, buf.String(), nil
		}
		select {
		case <-ctx.Done():
			return 0, buf.String(), ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (r *DockerRuntime) ExecInteractive(ctx context.Context, handle string, argv []string) (io.ReadWriteCloser, error) {
	created, err := r.client.ContainerExecCreate(ctx, handle, container.ExecOptions{
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          argv,
	})
	if err != nil {
		return nil, dockerError("exec create in "+handle, err)
	}
	resp, err := r.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return nil, dockerError("exec attach in "+handle, err)
	}
	return &hijackedConsole{resp: resp}, nil
}

// hijackedConsole adapts docker's hijacked connection to a plain duplex
// stream.
type hijackedConsole struct {
	resp types.HijackedResponse
}

func (c *hijackedConsole) Read(p []byte) (int, error)  { return c.resp.Reader.Read(p) }
func (c *hijackedConsole) Write(p []byte) (int, error) { return c.resp.Conn.Write(p) }
func (c *hijackedConsole) Close() error {
	c.resp.Close()
	return nil
}

func (r *DockerRuntime) CopyTo(ctx context.Context, handle, srcPath, dstDir string) error {
	tarball, err := archive.Tar(srcPath, archive.Uncompressed)
	if err != nil {
		return newOpError("tar "+srcPath, models.ErrUnrecoverable, err)
	}
	defer tarball.Close()
	return dockerError("copy to "+handle, r.client.CopyToContainer(ctx, handle, dstDir, tarball, container.CopyToContainerOptions{}))
}

func (r *DockerRuntime) Commit(ctx context.Context, handle, repoTag string) (string, error) {
	resp, err := r.client.ContainerCommit(ctx, handle, container.CommitOptions{Reference: repoTag, Pause: true})
	if err != nil {
		return "", dockerError("commit container "+handle, err)
	}
	return resp.ID, nil
}

func (r *DockerRuntime) PullStream(ctx context.Context, ref string, onProgress func(PullProgress)) error {
	rc, err := r.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return dockerError("pull "+ref, err)
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return dockerError("pull "+ref, err)
		}
		if msg.Error != nil {
			return newOpError("pull "+ref, models.ErrUnrecoverable, msg.Error)
		}
		if msg.ID == "" || onProgress == nil {
			continue
		}
		p := PullProgress{LayerID: msg.ID, Status: pullStatusFor(msg.Status)}
		if msg.Progress != nil {
			p.Current = msg.Progress.Current
			p.Total = msg.Progress.Total
		}
		onProgress(p)
	}
}

func pullStatusFor(status string) PullStatus {
	switch status {
	case "Pull complete", "Download complete":
		return PullStatusComplete
	case "Already exists":
		return PullStatusAlreadyExists
	default:
		return PullStatusPulling
	}
}

func (r *DockerRuntime) ImageExists(ctx context.Context, ref string) (bool, error) {
	list, err := r.client.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return false, dockerError("list images", err)
	}
	return len(list) > 0, nil
}

func (r *DockerRuntime) RemoveImage(ctx context.Context, ref string) error {
	_, err := r.client.ImageRemove(ctx, ref, image.RemoveOptions{})
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return dockerError("remove image "+ref, err)
}

func (r *DockerRuntime) Stats(ctx context.Context, handle string) (*StatsSample, error) {
	info, err := r.InspectContainer(ctx, handle)
	if err != nil {
		return nil, err
	}
	if !info.Running {
		return nil, newOpError("stats "+handle, models.ErrConflict, fmt.Errorf("container %s is not running", handle))
	}

	resp, err := r.client.ContainerStats(ctx, handle, false)
	if err != nil {
		return nil, dockerError("stats "+handle, err)
	}
	defer resp.Body.Close()

	var v container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, dockerError("decode stats "+handle, err)
	}

	sample := &StatsSample{
		CPUPercent: dockerCPUPercent(&v),
		PIDs:       int(v.PidsStats.Current),
	}
	usage := memoryUsage(&v)
	sample.MemoryMB = usage / (1024 * 1024)
	if v.MemoryStats.Limit > 0 {
		sample.MemoryPercent = usage / float64(v.MemoryStats.Limit) * 100.0
	}
	for _, n := range v.Networks {
		sample.RxBytes += int64(n.RxBytes)
		sample.TxBytes += int64(n.TxBytes)
	}
	return sample, nil
}

// dockerCPUPercent computes the usual two-sample delta. The result is
// normalized to 0-100; it is not multiplied by the core count.
func dockerCPUPercent(v *container.StatsResponse) float64 {
	cpuDelta := float64(v.CPUStats.CPUUsage.TotalUsage) - float64(v.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(v.CPUStats.SystemUsage) - float64(v.PreCPUStats.SystemUsage)
	if cpuDelta > 0 && sysDelta > 0 {
		return cpuDelta / sysDelta * 100.0
	}
	return 0
}

// memoryUsage subtracts the page cache the way the docker CLI does, so the
// figure matches what users see in docker stats.
func memoryUsage(v *container.StatsResponse) float64 {
	usage := v.MemoryStats.Usage
	if inactive, ok := v.MemoryStats.Stats["inactive_file"]; ok && inactive < usage {
		return float64(usage - inactive)
	}
	if inactive, ok := v.MemoryStats.Stats["total_inactive_file"]; ok && inactive < usage {
		return float64(usage - inactive)
	}
	return float64(usage)
}

func labelArgs(labels map[string]string) filters.Args {
	args := filters.NewArgs()
	for k, v := range labels {
		args.Add("label", k+"="+v)
	}
	return args
}

func envSlice(env map[string]string) []string {
	out := lo.MapToSlice(env, func(k, v string) string { return k + "=" + v })
	sort.Strings(out)
	return out
}

func deviceMappings(devices []string) []container.DeviceMapping {
	out := make([]container.DeviceMapping, 0, len(devices))
	for _, d := range devices {
		out = append(out, container.DeviceMapping{
			PathOnHost:        d,
			PathInContainer:   d,
			CgroupPermissions: "rwm",
		})
	}
	return out
}

func dockerMounts(mounts []Mount) []mount.Mount {
	out := make([]mount.Mount, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	return out
}
