// Package isolation defines the lifecycle contract of throwaway isolated
// environments and helpers shared by every backend.
package isolation

import (
	"context"
	"time"

	"github.com/jae464/vibe-judge/internal/domain"
)

// DefaultWorkDir is the working directory inside every environment.
const DefaultWorkDir = "/workspace"

// LabelRole tells judge environments apart from terminal sessions.
const LabelRole = "vibe-judge.role"

// Spec describes an environment to create. Limits are applied at creation.
type Spec struct {
	Image           string
	MemoryLimitMB   int
	CPUs            float64
	PidsLimit       int64
	NetworkDisabled bool
	WorkDir         string
	Env             []string
	Labels          map[string]string
}

// Environment is a handle to a live isolated environment. The creator owns it
// and must call Runtime.Destroy exactly once.
type Environment struct {
	ID        string
	Ref       string
	WorkDir   string
	CreatedAt time.Time
	Spec      Spec
}

// ExecRequest runs argv inside an environment. Argv is never passed through a
// host shell.
type ExecRequest struct {
	Cmd            []string
	Stdin          []byte
	Timeout        time.Duration
	MaxOutputBytes int
	MeasureMemory  bool
}

// ExecResult is the raw outcome of one exec.
type ExecResult struct {
	Stdout          string
	Stderr          string
	ExitCode        int
	Duration        time.Duration
	TimedOut        bool
	OOMKilled       bool
	MemoryPeakKB    *int64
	StdoutTruncated bool
	StderrTruncated bool
}

// Runtime creates, drives and destroys isolated environments.
type Runtime interface {
	Name() string
	Create(ctx context.Context, spec Spec) (*Environment, error)
	Exec(ctx context.Context, env *Environment, req ExecRequest) (*ExecResult, error)
	Destroy(ctx context.Context, env *Environment) error
}

// Inspector is implemented by runtimes that can describe their host.
type Inspector interface {
	Info(ctx context.Context) (*domain.SystemInfo, error)
}

// ImageEnsurer is implemented by runtimes that can fetch missing images.
type ImageEnsurer interface {
	EnsureImage(ctx context.Context, image string) error
}

// Sweeper is implemented by runtimes that can remove environments leaked by a
// previous process.
type Sweeper interface {
	RemoveOrphans(ctx context.Context) (int, error)
}
