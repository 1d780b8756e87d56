package pool

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/singleflight"

	"github.com/angeloszaimis/edge-router/internal/instance"
	"github.com/angeloszaimis/edge-router/internal/metrics"
)

const (
	LabelPool  = "edge-router.pool"
	LabelIndex = "edge-router.index"

	// startBudget bounds create and start of one container, on top of
	// the readiness wait.
	startBudget = 2 * time.Minute
)

// ContainerAPI is the part of the Docker Engine client the resolver uses.
// *client.Client satisfies it.
type ContainerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
}

type DockerOptions struct {
	Pool  string
	Image string
	// Port the application listens on inside the container.
	Port int
	// Network, when set, attaches containers to it and addresses them by
	// name; otherwise Port is published on HostIP.
	Network string
	HostIP  string
	Env     []string
	// StartupTimeout bounds the wait for a fresh container to accept
	// connections. Zero skips the wait.
	StartupTimeout time.Duration
}

// ContainerStatus describes one pool container for listings.
type ContainerStatus struct {
	Name  string
	Index int
	State string
	ID    string
}

// DockerResolver runs pool slots as docker containers. A slot's container
// is created on first use, started again after it was put to sleep, and
// reused while it runs.
type DockerResolver struct {
	api          ContainerAPI
	opts         DockerOptions
	logger       *slog.Logger
	events       metrics.Emitter
	instanceOpts []instance.Option

	group     singleflight.Group
	mutex     sync.RWMutex
	instances map[int]*instance.Instance

	locksMutex sync.Mutex
	locks      map[int]*sync.Mutex
}

func NewDockerResolver(api ContainerAPI, opts DockerOptions, logger *slog.Logger, events metrics.Emitter, instanceOpts ...instance.Option) *DockerResolver {
	if opts.HostIP == "" {
		opts.HostIP = "127.0.0.1"
	}

	return &DockerResolver{
		api:          api,
		opts:         opts,
		logger:       logger,
		events:       events,
		instanceOpts: instanceOpts,
		instances:    make(map[int]*instance.Instance),
		locks:        make(map[int]*sync.Mutex),
	}
}

func (d *DockerResolver) Resolve(ctx context.Context, index int) (*instance.Instance, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNoInstance, index)
	}

	if inst := d.cached(index); inst != nil {
		inst.Touch()
		return inst, nil
	}

	name := InstanceName(d.opts.Pool, index)
	ch := d.group.DoChan(name, func() (any, error) {
		// Other requests may be waiting on this start, so it must not end
		// when the request that triggered it does.
		startCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), startBudget+d.opts.StartupTimeout)
		defer cancel()
		return d.bringUp(startCtx, name, index)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		inst := res.Val.(*instance.Instance)
		inst.Touch()
		return inst, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *DockerResolver) bringUp(ctx context.Context, name string, index int) (*instance.Instance, error) {
	lock := d.slotLock(index)
	lock.Lock()
	defer lock.Unlock()

	if inst := d.cached(index); inst != nil {
		return inst, nil
	}

	target, err := d.ensureRunning(ctx, name, index)
	if err != nil {
		return nil, err
	}

	opts := append(slices.Clip(d.instanceOpts), instance.WithFailureHook(d.evict))
	inst := instance.New(name, index, target, opts...)

	d.mutex.Lock()
	d.instances[index] = inst
	d.mutex.Unlock()

	d.emit(metrics.EventInstanceStarted, name)
	return inst, nil
}

// slotLock serialises starting and stopping the container of one slot.
func (d *DockerResolver) slotLock(index int) *sync.Mutex {
	d.locksMutex.Lock()
	defer d.locksMutex.Unlock()

	lock, ok := d.locks[index]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[index] = lock
	}
	return lock
}

// evict forgets an instance whose forward failed, so the next Resolve
// inspects the container again and wakes it if it stopped.
func (d *DockerResolver) evict(inst *instance.Instance, err error) {
	d.mutex.Lock()
	evicted := d.instances[inst.Index()] == inst
	if evicted {
		delete(d.instances, inst.Index())
	}
	d.mutex.Unlock()

	if evicted {
		d.logger.Warn("Evicted unreachable instance",
			slog.String("instance", inst.Name()),
			slog.Any("err", err))
	}
}

func (d *DockerResolver) cached(index int) *instance.Instance {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.instances[index]
}

func (d *DockerResolver) ensureRunning(ctx context.Context, name string, index int) (*url.URL, error) {
	info, err := d.api.ContainerInspect(ctx, name)
	switch {
	case errdefs.IsNotFound(err):
		d.logger.Info("Creating instance container",
			slog.String("instance", name),
			slog.String("image", d.opts.Image))
		if err := d.create(ctx, name, index); err != nil {
			return nil, err
		}
		if err := d.start(ctx, name); err != nil {
			return nil, err
		}

	case err != nil:
		return nil, fmt.Errorf("inspect container %s: %w", name, err)

	case !isRunning(info):
		d.logger.Info("Waking instance container", slog.String("instance", name))
		if err := d.start(ctx, name); err != nil {
			return nil, err
		}

	default:
		d.logger.Debug("Adopting running instance container", slog.String("instance", name))
	}

	info, err = d.api.ContainerInspect(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("inspect container %s: %w", name, err)
	}

	target, err := d.targetURL(name, info)
	if err != nil {
		return nil, err
	}

	if d.opts.StartupTimeout > 0 {
		if err := waitReady(ctx, target.Host, d.opts.StartupTimeout); err != nil {
			return nil, fmt.Errorf("container %s not ready: %w", name, err)
		}
	}

	return target, nil
}

func (d *DockerResolver) create(ctx context.Context, name string, index int) error {
	port, err := nat.NewPort("tcp", strconv.Itoa(d.opts.Port))
	if err != nil {
		return fmt.Errorf("container port %d: %w", d.opts.Port, err)
	}

	cfg := &container.Config{
		Image:        d.opts.Image,
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Env:          append([]string{"INSTANCE_NAME=" + name}, d.opts.Env...),
		Labels: map[string]string{
			LabelPool:  d.opts.Pool,
			LabelIndex: strconv.Itoa(index),
		},
	}

	hostCfg := &container.HostConfig{}
	var netCfg *network.NetworkingConfig

	if d.opts.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(d.opts.Network)
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				d.opts.Network: {},
			},
		}
	} else {
		// Docker assigns a free host port
		hostCfg.PortBindings = nat.PortMap{
			port: []nat.PortBinding{{HostIP: d.opts.HostIP, HostPort: ""}},
		}
	}

	if _, err := d.api.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name); err != nil {
		return fmt.Errorf("create container %s: %w", name, err)
	}

	return nil
}

func (d *DockerResolver) start(ctx context.Context, name string) error {
	if err := d.api.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", name, err)
	}
	return nil
}

func (d *DockerResolver) targetURL(name string, info types.ContainerJSON) (*url.URL, error) {
	port := strconv.Itoa(d.opts.Port)

	if d.opts.Network != "" {
		return &url.URL{Scheme: "http", Host: net.JoinHostPort(name, port)}, nil
	}

	if info.NetworkSettings == nil {
		return nil, fmt.Errorf("container %s has no network settings", name)
	}

	bindings := info.NetworkSettings.Ports[nat.Port(port+"/tcp")]
	if len(bindings) == 0 || bindings[0].HostPort == "" {
		return nil, fmt.Errorf("container %s does not publish port %s", name, port)
	}

	host := d.opts.HostIP
	if host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	return &url.URL{Scheme: "http", Host: net.JoinHostPort(host, bindings[0].HostPort)}, nil
}

// Instances returns the instances currently believed to be running.
func (d *DockerResolver) Instances() []*instance.Instance {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	out := make([]*instance.Instance, 0, len(d.instances))
	for _, inst := range d.instances {
		out = append(out, inst)
	}
	return out
}

// Sleep stops the instance's container and forgets it; the next Resolve
// for its slot starts the container again. A slot that already serves a
// newer instance is left alone.
func (d *DockerResolver) Sleep(ctx context.Context, inst *instance.Instance) error {
	lock := d.slotLock(inst.Index())
	lock.Lock()
	defer lock.Unlock()

	d.mutex.Lock()
	current, ok := d.instances[inst.Index()]
	if ok && current != inst {
		d.mutex.Unlock()
		d.logger.Debug("Instance replaced before sleep", slog.String("instance", inst.Name()))
		return nil
	}
	delete(d.instances, inst.Index())
	d.mutex.Unlock()

	if err := d.api.ContainerStop(ctx, inst.Name(), container.StopOptions{}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("stop container %s: %w", inst.Name(), err)
	}

	d.emit(metrics.EventInstanceSlept, inst.Name())
	return nil
}

// List returns every container labelled as part of this pool.
func (d *DockerResolver) List(ctx context.Context) ([]ContainerStatus, error) {
	containers, err := d.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelPool+"="+d.opts.Pool)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]ContainerStatus, 0, len(containers))
	for _, c := range containers {
		index, err := strconv.Atoi(c.Labels[LabelIndex])
		if err != nil {
			index = -1
		}

		name := c.ID
		if len(c.Names) > 0 {
			name = trimSlash(c.Names[0])
		}

		out = append(out, ContainerStatus{
			Name:  name,
			Index: index,
			State: c.State,
			ID:    c.ID,
		})
	}

	return out, nil
}

// StopAll stops every running container of the pool.
func (d *DockerResolver) StopAll(ctx context.Context) error {
	statuses, err := d.List(ctx)
	if err != nil {
		return err
	}

	for _, s := range statuses {
		if s.State != "running" {
			continue
		}
		if err := d.api.ContainerStop(ctx, s.ID, container.StopOptions{}); err != nil {
			return fmt.Errorf("stop container %s: %w", s.Name, err)
		}
		d.logger.Info("Stopped instance container", slog.String("instance", s.Name))
	}

	d.mutex.Lock()
	clear(d.instances)
	d.mutex.Unlock()

	return nil
}

func (d *DockerResolver) emit(t metrics.EventType, name string) {
	if d.events == nil {
		return
	}
	d.events.Emit(metrics.MetricEvent{Type: t, Instance: name, Timestamp: time.Now()})
}

func isRunning(info types.ContainerJSON) bool {
	return info.ContainerJSONBase != nil && info.State != nil && info.State.Running
}

func trimSlash(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}

func waitReady(ctx context.Context, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn.Close()
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", addr, ctx.Err())
		case <-ticker.C:
		}
	}
}
