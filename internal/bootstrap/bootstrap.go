// Package bootstrap assembles the judge engine and terminal manager from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/config"
	"github.com/jae464/vibe-judge/internal/executor"
	"github.com/jae464/vibe-judge/internal/isolation"
	"github.com/jae464/vibe-judge/internal/isolation/docker"
	"github.com/jae464/vibe-judge/internal/isolation/nsjail"
	"github.com/jae464/vibe-judge/internal/judge"
	"github.com/jae464/vibe-judge/internal/language"
	"github.com/jae464/vibe-judge/internal/terminal"
)

// ErrNotSupported is returned by operations the configured runtime cannot perform.
var ErrNotSupported = errors.New("not supported by the configured runtime")

// Instance returns the label value identifying this process's environments.
func Instance(cfg config.SandboxConfig, role string) string {
	if cfg.Instance != "" {
		return cfg.Instance
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return host + "-" + role
}

// NewRuntime builds the isolation backend named by cfg.Runtime.
func NewRuntime(cfg config.SandboxConfig, role string, logger *zap.Logger) (isolation.Runtime, error) {
	switch cfg.Runtime {
	case "", "docker":
		return docker.New(docker.Options{
			Host:       cfg.DockerHost,
			Instance:   Instance(cfg, role),
			PullImages: cfg.PullImages,
		}, logger)
	case "nsjail":
		return nsjail.New(nsjail.Options{
			NsjailPath: cfg.NsjailPath,
			ConfigFile: cfg.NsjailConfig,
			WorkRoot:   cfg.WorkRoot,
		}, logger)
	}
	return nil, fmt.Errorf("unknown sandbox runtime %q", cfg.Runtime)
}

// Engine is the judging stack: runtime, language table, executor and orchestrator.
type Engine struct {
	Runtime   isolation.Runtime
	Languages *language.Registry
	Executor  *executor.Executor
	Judge     *judge.Orchestrator
	logger    *zap.Logger
}

// NewEngine loads languages and wires an orchestrator over rt.
func NewEngine(cfg *config.Config, rt isolation.Runtime, logger *zap.Logger, opts ...judge.Option) (*Engine, error) {
	reg, err := language.Load(cfg.Judge.LanguagesFile, cfg.Judge.EnabledLanguages)
	if err != nil {
		return nil, fmt.Errorf("load languages: %w", err)
	}

	exec := executor.New(rt, executor.Options{
		MaxConcurrent:  int64(cfg.Sandbox.MaxConcurrentRuns),
		CompileTimeout: cfg.Judge.CompileTimeout,
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
		CPUs:           cfg.Sandbox.CPUs,
		PidsLimit:      cfg.Sandbox.PidsLimit,
	}, logger)

	orch := judge.New(reg, exec, judge.Limits{
		DefaultTimeLimitMs:   cfg.Judge.DefaultTimeLimitMs,
		MaxTimeLimitMs:       cfg.Judge.MaxTimeLimitMs,
		DefaultMemoryLimitMB: cfg.Judge.DefaultMemoryLimitMB,
		MaxMemoryLimitMB:     cfg.Judge.MaxMemoryLimitMB,
	}, judge.Policy{StopOnFirstFailure: cfg.Judge.StopOnFirstFailure}, logger, opts...)

	return &Engine{
		Runtime:   rt,
		Languages: reg,
		Executor:  exec,
		Judge:     orch,
		logger:    logger,
	}, nil
}

// NewTerminalManager builds a session manager sharing the engine's runtime and languages.
func NewTerminalManager(cfg *config.Config, e *Engine, logger *zap.Logger) *terminal.Manager {
	return terminal.NewManager(e.Runtime, terminal.NewMemoryStore(), e.Languages, terminal.Options{
		Image:              cfg.Terminal.Image,
		Shell:              cfg.Terminal.Shell,
		MemoryLimitMB:      cfg.Terminal.MemoryLimitMB,
		CPUs:               cfg.Sandbox.CPUs,
		PidsLimit:          cfg.Sandbox.PidsLimit,
		CommandTimeout:     cfg.Terminal.CommandTimeout,
		CompileTimeout:     cfg.Judge.CompileTimeout,
		IdleTimeout:        cfg.Terminal.IdleTimeout,
		ReapInterval:       cfg.Terminal.ReapInterval,
		MaxSessions:        cfg.Terminal.MaxSessions,
		MaxSessionsPerUser: cfg.Terminal.MaxSessionsPerUser,
		MaxOutputBytes:     cfg.Sandbox.MaxOutputBytes,
	}, logger)
}

// Ping checks the isolation backend is reachable. Backends without a
// daemon are always healthy.
func (e *Engine) Ping(ctx context.Context) error {
	if p, ok := e.Runtime.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Sweep removes environments left behind by an earlier run of this instance.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	s, ok := e.Runtime.(isolation.Sweeper)
	if !ok {
		return 0, fmt.Errorf("sweep: %w", ErrNotSupported)
	}
	n, err := s.RemoveOrphans(ctx)
	if err != nil {
		return n, err
	}
	if n > 0 {
		e.logger.Info("Removed orphaned environments", zap.Int("count", n))
	}
	return n, nil
}

// PullImages makes sure every enabled language image is present locally.
func (e *Engine) PullImages(ctx context.Context, extra ...string) error {
	p, ok := e.Runtime.(isolation.ImageEnsurer)
	if !ok {
		return fmt.Errorf("pull images: %w", ErrNotSupported)
	}
	for _, ref := range append(e.Languages.Images(), extra...) {
		if err := p.EnsureImage(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

// Close releases backend resources such as the Docker client.
func (e *Engine) Close() error {
	if c, ok := e.Runtime.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
