// Package executor runs one program once inside a fresh isolated environment.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/isolation"
	"github.com/jae464/vibe-judge/internal/language"
	"github.com/jae464/vibe-judge/internal/metrics"
)

const (
	defaultCompileTimeout = 30 * time.Second
	destroyTimeout        = 30 * time.Second

	// LabelSubmission tags judge environments for operators.
	LabelSubmission = "vibe-judge.submission"
)

// Options bounds every run.
type Options struct {
	// MaxConcurrent caps simultaneously live judge environments.
	MaxConcurrent  int64
	CompileTimeout time.Duration
	MaxOutputBytes int
	CPUs           float64
	PidsLimit      int64
}

// RunRequest is one program execution against one input.
type RunRequest struct {
	Profile       *language.Profile
	SourceCode    string
	Stdin         string
	TimeLimitMs   int
	MemoryLimitMB int
	// Tag identifies the caller (usually the submission id) in labels and logs.
	Tag string
}

// RunResult is the outcome of a run that got as far as executing the program.
type RunResult struct {
	Stdout          string
	Stderr          string
	ExitCode        int
	ExecutionTimeMs int64
	TimedOut        bool
	OOM             bool
	MemoryUsedKB    *int64
}

// RuntimeError reports a non-zero exit that was neither a timeout nor an OOM kill.
func (r *RunResult) RuntimeError() bool {
	return !r.TimedOut && !r.OOM && r.ExitCode != 0
}

// CompilationError carries the raw compiler diagnostics.
type CompilationError struct {
	Output   string
	TimedOut bool
}

func (e *CompilationError) Error() string {
	return "compilation failed: " + e.Output
}

// SetupError reports an isolation layer failure. It matches domain.ErrEnvironmentSetup.
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s: %s: %v", domain.ErrEnvironmentSetup, e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

func (e *SetupError) Is(target error) bool { return target == domain.ErrEnvironmentSetup }

// Executor creates, uses and always destroys one environment per RunOnce.
type Executor struct {
	rt     isolation.Runtime
	sem    *semaphore.Weighted
	opts   Options
	logger *zap.Logger
}

// New creates a new Executor.
func New(rt isolation.Runtime, opts Options, logger *zap.Logger) *Executor {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.CompileTimeout <= 0 {
		opts.CompileTimeout = defaultCompileTimeout
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = isolation.DefaultMaxOutputBytes
	}
	return &Executor{
		rt:     rt,
		sem:    semaphore.NewWeighted(opts.MaxConcurrent),
		opts:   opts,
		logger: logger,
	}
}

// RunOnce writes the source, compiles it if the profile needs it and runs it
// with stdin. Returned errors are *CompilationError, *SetupError or a context
// error; timeouts, OOM kills and non-zero exits are reported in RunResult.
func (e *Executor) RunOnce(ctx context.Context, req *RunRequest) (*RunResult, error) {
	if req.Profile == nil {
		return nil, &SetupError{Stage: "resolve", Err: errors.New("no language profile")}
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, &SetupError{Stage: "acquire slot", Err: err}
	}
	defer e.sem.Release(1)

	start := time.Now()
	defer func() {
		metrics.RunDuration.WithLabelValues(req.Profile.ID).Observe(time.Since(start).Seconds())
	}()

	env, err := e.rt.Create(ctx, isolation.Spec{
		Image:           req.Profile.Image,
		MemoryLimitMB:   req.MemoryLimitMB + req.Profile.MemoryExtra,
		CPUs:            e.opts.CPUs,
		PidsLimit:       e.opts.PidsLimit,
		NetworkDisabled: true,
		WorkDir:         isolation.DefaultWorkDir,
		Labels: map[string]string{
			isolation.LabelRole: "judge",
			LabelSubmission:     req.Tag,
		},
	})
	if err != nil {
		metrics.SandboxFailures.WithLabelValues("create").Inc()
		return nil, &SetupError{Stage: "create environment", Err: err}
	}
	metrics.EnvironmentsActive.WithLabelValues("judge").Inc()
	defer e.destroy(ctx, env, req.Tag)

	if err := isolation.WriteFile(ctx, e.rt, env, req.Profile.SourceFile, []byte(req.SourceCode)); err != nil {
		metrics.SandboxFailures.WithLabelValues("write").Inc()
		return nil, &SetupError{Stage: "write source", Err: err}
	}

	compileArgv, compiled, err := req.Profile.CompileCommand()
	if err != nil {
		return nil, &SetupError{Stage: "compile command", Err: err}
	}
	if compiled {
		if err := e.compile(ctx, env, compileArgv); err != nil {
			return nil, err
		}
	}

	runArgv, err := req.Profile.RunCommand()
	if err != nil {
		return nil, &SetupError{Stage: "run command", Err: err}
	}

	out, err := e.rt.Exec(ctx, env, isolation.ExecRequest{
		Cmd:            runArgv,
		Stdin:          []byte(req.Stdin),
		Timeout:        time.Duration(req.TimeLimitMs) * time.Millisecond,
		MaxOutputBytes: e.opts.MaxOutputBytes,
		// A compiler shares the environment, so its peak would be reported.
		MeasureMemory: !compiled,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.SandboxFailures.WithLabelValues("run").Inc()
		return nil, &SetupError{Stage: "run", Err: err}
	}

	res := &RunResult{
		Stdout:          out.Stdout,
		Stderr:          out.Stderr,
		ExitCode:        out.ExitCode,
		ExecutionTimeMs: out.Duration.Milliseconds(),
		TimedOut:        out.TimedOut,
		OOM:             out.OOMKilled && !out.TimedOut,
	}
	if !compiled {
		res.MemoryUsedKB = out.MemoryPeakKB
	}

	e.logger.Debug("Run completed",
		zap.String("tag", req.Tag),
		zap.String("language", req.Profile.ID),
		zap.String("env_id", env.ID),
		zap.Int("exit_code", res.ExitCode),
		zap.Int64("time_ms", res.ExecutionTimeMs),
		zap.Bool("timed_out", res.TimedOut),
		zap.Bool("oom", res.OOM),
	)
	return res, nil
}

// compile runs the compile phase under its own clock. It shares the
// environment, and so the memory ceiling, of the run that follows.
func (e *Executor) compile(ctx context.Context, env *isolation.Environment, argv []string) error {
	res, err := e.rt.Exec(ctx, env, isolation.ExecRequest{
		Cmd:            argv,
		Timeout:        e.opts.CompileTimeout,
		MaxOutputBytes: e.opts.MaxOutputBytes,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.SandboxFailures.WithLabelValues("compile").Inc()
		return &SetupError{Stage: "compile", Err: err}
	}

	switch {
	case res.TimedOut:
		return &CompilationError{
			Output:   fmt.Sprintf("compilation timed out after %s", e.opts.CompileTimeout),
			TimedOut: true,
		}
	case res.OOMKilled:
		return &CompilationError{
			Output: fmt.Sprintf("compiler exceeded the memory limit of %d MB", env.Spec.MemoryLimitMB),
		}
	case res.ExitCode != 0:
		msg := strings.TrimSpace(strings.TrimSpace(res.Stderr) + "\n" + strings.TrimSpace(res.Stdout))
		if msg == "" {
			msg = fmt.Sprintf("compiler exited with code %d", res.ExitCode)
		}
		return &CompilationError{Output: msg}
	}
	return nil
}

// destroy tears env down on a context that survives caller cancellation.
func (e *Executor) destroy(ctx context.Context, env *isolation.Environment, tag string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), destroyTimeout)
	defer cancel()

	metrics.EnvironmentsActive.WithLabelValues("judge").Dec()
	if err := e.rt.Destroy(dctx, env); err != nil {
		metrics.SandboxFailures.WithLabelValues("destroy").Inc()
		e.logger.Error("Failed to destroy environment",
			zap.String("tag", tag),
			zap.String("env_id", env.ID),
			zap.Error(err),
		)
	}
}
