// Package docker runs isolated environments as Docker containers.
package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/isolation"
)

const (
	LabelManaged  = "vibe-judge.managed"
	LabelInstance = "vibe-judge.instance"

	// killGrace is how long the host waits past the in-container deadline
	// before dropping the exec stream.
	killGrace = 2 * time.Second

	exitTimeout = 124
	exitKilled  = 137

	minPollDelay = 10 * time.Millisecond
	maxPollDelay = 200 * time.Millisecond

	defaultTmpfsMB = 128
	idleSeconds    = "2147483647"
)

// Options configures the Docker backend.
type Options struct {
	// Host overrides DOCKER_HOST, e.g. unix:///var/run/docker.sock.
	Host string
	// Instance tags containers so RemoveOrphans only touches ours.
	Instance string
	// PullImages pulls missing images on Create.
	PullImages bool
	TmpfsMB    int
}

// Runtime implements isolation.Runtime on top of the Docker Engine API.
type Runtime struct {
	cli    *client.Client
	opts   Options
	logger *zap.Logger
	pulls  singleflight.Group
}

var (
	_ isolation.Runtime      = (*Runtime)(nil)
	_ isolation.Inspector    = (*Runtime)(nil)
	_ isolation.ImageEnsurer = (*Runtime)(nil)
	_ isolation.Sweeper      = (*Runtime)(nil)
)

// New connects to the Docker daemon.
func New(opts Options, logger *zap.Logger) (*Runtime, error) {
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}
	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if opts.TmpfsMB <= 0 {
		opts.TmpfsMB = defaultTmpfsMB
	}
	return &Runtime{cli: cli, opts: opts, logger: logger}, nil
}

func (r *Runtime) Name() string { return "docker" }

// Ping checks that the daemon is reachable.
func (r *Runtime) Ping(ctx context.Context) error {
	_, err := r.cli.Ping(ctx)
	return err
}

// Close releases the client connection.
func (r *Runtime) Close() error {
	return r.cli.Close()
}

// Create starts an idle container with every limit applied up front. Commands
// are later run inside it with Exec.
func (r *Runtime) Create(ctx context.Context, spec isolation.Spec) (*isolation.Environment, error) {
	if spec.Image == "" {
		return nil, errors.New("image is required")
	}
	if spec.WorkDir == "" {
		spec.WorkDir = isolation.DefaultWorkDir
	}
	if r.opts.PullImages {
		if err := r.EnsureImage(ctx, spec.Image); err != nil {
			return nil, err
		}
	}

	resp, err := r.cli.ContainerCreate(ctx,
		containerConfig(spec, r.labels(spec.Labels)),
		hostConfig(spec, r.opts.TmpfsMB),
		nil, nil, "",
	)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Never hand back a half-started container.
		if rmErr := r.remove(resp.ID); rmErr != nil {
			r.logger.Warn("Failed to remove container after start error",
				zap.String("container_id", shortID(resp.ID)),
				zap.Error(rmErr),
			)
		}
		return nil, fmt.Errorf("start container: %w", err)
	}

	return &isolation.Environment{
		ID:        shortID(resp.ID),
		Ref:       resp.ID,
		WorkDir:   spec.WorkDir,
		CreatedAt: time.Now(),
		Spec:      spec,
	}, nil
}

// Exec runs argv inside the container. The in-container `timeout -s KILL`
// takes the whole process tree down on expiry; the host drops the stream
// killGrace later if the container does not respond.
func (r *Runtime) Exec(ctx context.Context, env *isolation.Environment, req isolation.ExecRequest) (*isolation.ExecResult, error) {
	if len(req.Cmd) == 0 {
		return nil, errors.New("empty command")
	}

	execCtx, cancel := ctx, context.CancelFunc(func() {})
	if req.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout+killGrace)
	}
	defer cancel()

	created, err := r.cli.ContainerExecCreate(execCtx, env.Ref, container.ExecOptions{
		Cmd:          wrapTimeout(req.Cmd, req.Timeout),
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   env.WorkDir,
	})
	if err != nil {
		return nil, fmt.Errorf("exec create: %w", err)
	}

	// Attaching starts the exec, so the clock starts before it.
	start := time.Now()
	attach, err := r.cli.ContainerExecAttach(execCtx, created.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	stdout := isolation.NewLimitedBuffer(req.MaxOutputBytes)
	stderr := isolation.NewLimitedBuffer(req.MaxOutputBytes)

	go func() {
		if len(req.Stdin) > 0 {
			_, _ = attach.Conn.Write(req.Stdin)
		}
		_ = attach.CloseWrite()
	}()

	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, attach.Reader)
		copyDone <- err
	}()

	hostDeadline := false
	select {
	case err := <-copyDone:
		if err != nil && !errors.Is(err, io.EOF) {
			r.logger.Debug("Exec stream ended with error", zap.String("env_id", env.ID), zap.Error(err))
		}
	case <-execCtx.Done():
		attach.Close()
		<-copyDone
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		hostDeadline = true
	}

	elapsed := time.Since(start)

	// A program can close its streams and keep running; wait for the exec
	// itself to finish.
	var code int
	if !hostDeadline {
		var waited bool
		code, waited, err = waitExit(execCtx, r.cli, created.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(execCtx.Err(), context.DeadlineExceeded) {
				return nil, err
			}
			hostDeadline = true
		}
		if waited {
			elapsed = time.Since(start)
		}
	}

	res := &isolation.ExecResult{
		Stdout:          stdout.WithNotice(),
		Stderr:          stderr.WithNotice(),
		Duration:        elapsed,
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
	}

	if hostDeadline {
		res.ExitCode = exitKilled
		res.TimedOut = true
		res.Stdout, res.Stderr = "", ""
		return res, nil
	}

	res.ExitCode = code
	res.TimedOut, res.OOMKilled = classifyExit(code, elapsed, req.Timeout)
	if res.TimedOut {
		res.Stdout, res.Stderr = "", ""
	}
	if req.MeasureMemory {
		res.MemoryPeakKB = r.memoryPeak(ctx, env.Ref)
	}
	return res, nil
}

type execInspector interface {
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// waitExit polls until the exec is reported as finished or ctx ends. The
// exit code of a running exec is never reported. waited is true when the
// first inspection still saw the exec running.
func waitExit(ctx context.Context, cli execInspector, execID string) (code int, waited bool, err error) {
	delay := minPollDelay
	for {
		inspect, ierr := cli.ContainerExecInspect(ctx, execID)
		if ierr != nil {
			if ctx.Err() != nil {
				return 0, waited, ctx.Err()
			}
			return 0, waited, fmt.Errorf("exec inspect: %w", ierr)
		}
		if !inspect.Running {
			return inspect.ExitCode, waited, nil
		}
		waited = true
		select {
		case <-ctx.Done():
			return 0, waited, ctx.Err()
		case <-time.After(delay):
		}
		if delay < maxPollDelay {
			delay *= 2
		}
	}
}

// memoryPeak reads the container's high-water memory mark. Only cgroup v1
// exposes it through the stats API; otherwise the value is unknown.
func (r *Runtime) memoryPeak(ctx context.Context, containerID string) *int64 {
	stats, err := r.cli.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return nil
	}
	defer stats.Body.Close()

	var s container.StatsResponse
	if err := json.NewDecoder(stats.Body).Decode(&s); err != nil {
		return nil
	}
	if s.MemoryStats.MaxUsage == 0 {
		return nil
	}
	kb := int64(s.MemoryStats.MaxUsage / 1024)
	return &kb
}

// Destroy force-removes the container. A container that is already gone
// counts as destroyed.
func (r *Runtime) Destroy(ctx context.Context, env *isolation.Environment) error {
	err := r.cli.ContainerRemove(ctx, env.Ref, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove container %s: %w", env.ID, err)
	}
	return nil
}

func (r *Runtime) remove(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
}

// EnsureImage pulls ref if it is not present locally. Concurrent calls for
// the same image share one pull.
func (r *Runtime) EnsureImage(ctx context.Context, ref string) error {
	_, err, _ := r.pulls.Do(ref, func() (interface{}, error) {
		if _, err := r.cli.ImageInspect(ctx, ref); err == nil {
			return nil, nil
		} else if !client.IsErrNotFound(err) {
			return nil, fmt.Errorf("inspect image %s: %w", ref, err)
		}

		r.logger.Info("Pulling image", zap.String("image", ref))
		out, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("pull image %s: %w", ref, err)
		}
		defer out.Close()
		if _, err := io.Copy(io.Discard, out); err != nil {
			return nil, fmt.Errorf("pull image %s: %w", ref, err)
		}
		return nil, nil
	})
	return err
}

// Info describes the Docker host.
func (r *Runtime) Info(ctx context.Context) (*domain.SystemInfo, error) {
	info, err := r.cli.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("docker info: %w", err)
	}
	return &domain.SystemInfo{
		Runtime:     "docker " + info.ServerVersion,
		Containers:  info.Containers,
		Images:      info.Images,
		MemoryBytes: info.MemTotal,
		CPUs:        info.NCPU,
	}, nil
}

// RemoveOrphans deletes containers left behind by an earlier run of this instance.
func (r *Runtime) RemoveOrphans(ctx context.Context) (int, error) {
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", LabelManaged+"=true"),
			filters.Arg("label", LabelInstance+"="+r.opts.Instance),
		),
	})
	if err != nil {
		return 0, fmt.Errorf("list containers: %w", err)
	}

	removed := 0
	for _, ctr := range containers {
		if err := r.cli.ContainerRemove(ctx, ctr.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			r.logger.Warn("Failed to remove orphaned container",
				zap.String("container_id", shortID(ctr.ID)),
				zap.Error(err),
			)
			continue
		}
		removed++
	}
	return removed, nil
}

func (r *Runtime) labels(extra map[string]string) map[string]string {
	labels := map[string]string{
		LabelManaged:  "true",
		LabelInstance: r.opts.Instance,
	}
	for k, v := range extra {
		labels[k] = v
	}
	return labels
}

func containerConfig(spec isolation.Spec, labels map[string]string) *container.Config {
	return &container.Config{
		Image:           spec.Image,
		Entrypoint:      []string{"sleep"},
		Cmd:             []string{idleSeconds},
		WorkingDir:      spec.WorkDir,
		Env:             spec.Env,
		Labels:          labels,
		NetworkDisabled: spec.NetworkDisabled,
		Tty:             false,
	}
}

func hostConfig(spec isolation.Spec, tmpfsMB int) *container.HostConfig {
	useInit := true
	hc := &container.HostConfig{
		Init:        &useInit,
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
		Tmpfs: map[string]string{
			spec.WorkDir: "rw,exec,nosuid,size=" + strconv.Itoa(tmpfsMB) + "m",
		},
		Resources: container.Resources{
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: 256, Hard: 256},
				{Name: "core", Soft: 0, Hard: 0},
				// Maximum file size a program can create.
				{Name: "fsize", Soft: 20 * 1024 * 1024, Hard: 20 * 1024 * 1024},
			},
		},
	}
	if spec.NetworkDisabled {
		hc.NetworkMode = "none"
	}
	if spec.MemoryLimitMB > 0 {
		mem := int64(spec.MemoryLimitMB) * 1024 * 1024
		hc.Resources.Memory = mem
		// Equal to Memory: no swap, so the limit is a hard ceiling.
		hc.Resources.MemorySwap = mem
	}
	if spec.CPUs > 0 {
		hc.Resources.NanoCPUs = int64(spec.CPUs * 1e9)
	}
	if spec.PidsLimit > 0 {
		pids := spec.PidsLimit
		hc.Resources.PidsLimit = &pids
	}
	return hc
}

// wrapTimeout prefixes argv with coreutils/busybox timeout so expiry kills
// the process inside the container, not just our stream.
func wrapTimeout(cmd []string, timeout time.Duration) []string {
	if timeout <= 0 {
		return cmd
	}
	secs := strconv.FormatFloat(timeout.Seconds(), 'f', 3, 64)
	return append([]string{"timeout", "-s", "KILL", secs}, cmd...)
}

// classifyExit maps an exit code onto timeout and memory outcomes.
// timeout(1) exits 124 on expiry (137 on some builds), so either code only
// means a timeout once the deadline has passed; a program may exit 124 on its
// own. A SIGKILL before the deadline can only have come from the cgroup OOM
// killer.
func classifyExit(code int, elapsed, timeout time.Duration) (timedOut, oom bool) {
	if timeout <= 0 {
		return false, code == exitKilled
	}
	switch {
	case code == exitTimeout && elapsed >= timeout:
		return true, false
	case code == exitKilled && elapsed >= timeout:
		return true, false
	case code == exitKilled:
		return false, true
	}
	return false, false
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
