// Package nsjail runs isolated environments as nsjail jails over a host
// scratch directory.
package nsjail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/isolation"
)

const (
	// killGrace is added on top of nsjail's own --time_limit.
	killGrace = 2 * time.Second
	waitDelay = time.Second

	exitKilled = 137
)

// Options configures the nsjail backend.
type Options struct {
	NsjailPath string
	// ConfigFile is an nsjail protobuf config describing mounts and seccomp.
	ConfigFile string
	// WorkRoot holds one scratch directory per environment.
	WorkRoot string
}

// Runtime implements isolation.Runtime with one nsjail invocation per Exec.
// The environment is the scratch directory bind-mounted into every jail, so
// files persist between commands while processes do not.
type Runtime struct {
	opts   Options
	logger *zap.Logger
}

var _ isolation.Runtime = (*Runtime)(nil)

// New creates a new nsjail runtime.
func New(opts Options, logger *zap.Logger) (*Runtime, error) {
	if opts.NsjailPath == "" {
		return nil, errors.New("nsjail path is required")
	}
	if opts.WorkRoot == "" {
		opts.WorkRoot = os.TempDir()
	}
	return &Runtime{opts: opts, logger: logger}, nil
}

func (r *Runtime) Name() string { return "nsjail" }

func (r *Runtime) Create(ctx context.Context, spec isolation.Spec) (*isolation.Environment, error) {
	if err := os.MkdirAll(r.opts.WorkRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	dir, err := os.MkdirTemp(r.opts.WorkRoot, "env-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	// The jailed user must be able to write its outputs.
	if err := os.Chmod(dir, 0o777); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("chmod work dir: %w", err)
	}
	if spec.WorkDir == "" {
		spec.WorkDir = isolation.DefaultWorkDir
	}

	return &isolation.Environment{
		ID:        filepath.Base(dir),
		Ref:       dir,
		WorkDir:   spec.WorkDir,
		CreatedAt: time.Now(),
		Spec:      spec,
	}, nil
}

func (r *Runtime) Exec(ctx context.Context, env *isolation.Environment, req isolation.ExecRequest) (*isolation.ExecResult, error) {
	if len(req.Cmd) == 0 {
		return nil, errors.New("empty command")
	}
	if _, err := os.Stat(env.Ref); err != nil {
		return nil, fmt.Errorf("environment %s: %w", env.ID, err)
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout+killGrace)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.opts.NsjailPath, buildArgs(r.opts.ConfigFile, env, req)...)
	// Run in its own process group so expiry kills every descendant.
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
	if len(req.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}

	stdout := isolation.NewLimitedBuffer(req.MaxOutputBytes)
	stderr := isolation.NewLimitedBuffer(req.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	// nsjail prefixes its own log lines with "[I]", "[W]", "[E]", "[F]", "[D]".
	progStderr, nsjailLog := separateNsjailLogs(stderr.String())
	if stderr.Truncated() {
		progStderr += isolation.TruncatedNotice
	}

	res := &isolation.ExecResult{
		Stdout:          stdout.WithNotice(),
		Stderr:          progStderr,
		Duration:        elapsed,
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
	}

	r.logger.Debug("nsjail execution completed",
		zap.String("env_id", env.ID),
		zap.Duration("elapsed", elapsed),
		zap.String("nsjail_log", nsjailLog),
	)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if runCtx.Err() == context.DeadlineExceeded {
		res.ExitCode = exitKilled
		res.TimedOut = true
		res.Stdout, res.Stderr = "", ""
		return res, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run nsjail: %w", err)
		}
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode < 0 {
			res.ExitCode = exitKilled
		}
	}

	res.TimedOut = isTimeLimit(nsjailLog, elapsed, req.Timeout)
	if res.TimedOut {
		res.Stdout, res.Stderr = "", ""
	} else {
		res.OOMKilled = isOOMKill(res.ExitCode, nsjailLog)
	}
	return res, nil
}

// Destroy removes the scratch directory.
func (r *Runtime) Destroy(ctx context.Context, env *isolation.Environment) error {
	if err := os.RemoveAll(env.Ref); err != nil {
		return fmt.Errorf("remove work dir %s: %w", env.Ref, err)
	}
	return nil
}

// buildArgs assembles the nsjail command line. Limits come from the
// environment spec; the program argv follows "--" untouched.
func buildArgs(configFile string, env *isolation.Environment, req isolation.ExecRequest) []string {
	args := []string{"--mode", "o"}
	if configFile != "" {
		args = append(args, "--config", configFile)
	}
	args = append(args,
		"--bindmount", env.Ref+":"+env.WorkDir,
		"--cwd", env.WorkDir,
	)
	if req.Timeout > 0 {
		args = append(args, "--time_limit", strconv.Itoa(int(math.Ceil(req.Timeout.Seconds()))))
	}
	if env.Spec.MemoryLimitMB > 0 {
		args = append(args, "--cgroup_mem_max", strconv.FormatInt(int64(env.Spec.MemoryLimitMB)*1024*1024, 10))
	}
	if env.Spec.PidsLimit > 0 {
		args = append(args, "--cgroup_pids_max", strconv.FormatInt(env.Spec.PidsLimit, 10))
	}
	if env.Spec.CPUs > 0 {
		args = append(args, "--cgroup_cpu_ms_per_sec", strconv.Itoa(int(env.Spec.CPUs*1000)))
	}
	if !env.Spec.NetworkDisabled {
		args = append(args, "--disable_clone_newnet")
	}
	for _, kv := range env.Spec.Env {
		args = append(args, "--env", kv)
	}
	args = append(args, "--")
	return append(args, req.Cmd...)
}

// separateNsjailLogs splits nsjail log lines from the user program's stderr.
func separateNsjailLogs(rawStderr string) (programStderr, nsjailLogs string) {
	if rawStderr == "" {
		return "", ""
	}

	var progLines, logLines []string
	for _, line := range strings.Split(rawStderr, "\n") {
		if isNsjailLogLine(strings.TrimSpace(line)) {
			logLines = append(logLines, line)
		} else {
			progLines = append(progLines, line)
		}
	}
	return strings.Join(progLines, "\n"), strings.Join(logLines, "\n")
}

func isNsjailLogLine(line string) bool {
	for _, prefix := range []string{"[I]", "[W]", "[E]", "[F]", "[D]"} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// isTimeLimit reports whether the run overstepped its deadline. nsjail's
// --time_limit only has whole-second resolution, so a run that finished past
// a fractional deadline is a timeout even though nsjail let it complete.
func isTimeLimit(nsjailLog string, elapsed, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	if strings.Contains(strings.ToLower(nsjailLog), "time limit") {
		return true
	}
	return elapsed > timeout
}

// isOOMKill checks if the process was killed due to an OOM condition.
// Exit code 137 = SIGKILL (128 + 9), the signal the cgroup OOM killer sends.
func isOOMKill(exitCode int, nsjailLog string) bool {
	if exitCode == exitKilled {
		return true
	}
	lowerLog := strings.ToLower(nsjailLog)
	return strings.Contains(lowerLog, "oom") ||
		strings.Contains(lowerLog, "memory cgroup") ||
		strings.Contains(lowerLog, "cgroup_mem")
}
