// Package mock provides an in-memory isolation.Runtime for tests.
package mock

import (
	"context"
	"encoding/base64"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/isolation"
)

// ExecCall records one Exec invocation.
type ExecCall struct {
	EnvID string
	Req   isolation.ExecRequest
}

// Runtime is a fake isolation layer. File writes and reads issued through
// isolation.WriteFile/ReadFile are served from an in-memory file table; any
// other command goes to ExecFn.
type Runtime struct {
	mu sync.Mutex

	CreateFn  func(ctx context.Context, spec isolation.Spec) (*isolation.Environment, error)
	ExecFn    func(ctx context.Context, env *isolation.Environment, req isolation.ExecRequest) (*isolation.ExecResult, error)
	DestroyFn func(ctx context.Context, env *isolation.Environment) error
	InfoFn    func(ctx context.Context) (*domain.SystemInfo, error)

	Specs     []isolation.Spec
	Execs     []ExecCall
	destroyed map[string]int
	live      map[string]bool
	files     map[string]map[string][]byte
	seq       int
	created   int
}

var (
	_ isolation.Runtime   = (*Runtime)(nil)
	_ isolation.Inspector = (*Runtime)(nil)
)

// New returns an empty fake runtime.
func New() *Runtime {
	return &Runtime{
		destroyed: make(map[string]int),
		live:      make(map[string]bool),
		files:     make(map[string]map[string][]byte),
	}
}

func (r *Runtime) Name() string { return "mock" }

func (r *Runtime) Create(ctx context.Context, spec isolation.Spec) (*isolation.Environment, error) {
	r.mu.Lock()
	r.Specs = append(r.Specs, spec)
	r.mu.Unlock()

	if r.CreateFn != nil {
		env, err := r.CreateFn(ctx, spec)
		if err != nil {
			return nil, err
		}
		r.track(env)
		return env, nil
	}

	r.mu.Lock()
	r.seq++
	id := fmt.Sprintf("env-%d", r.seq)
	r.mu.Unlock()

	workDir := spec.WorkDir
	if workDir == "" {
		workDir = isolation.DefaultWorkDir
	}
	env := &isolation.Environment{ID: id, Ref: id, WorkDir: workDir, CreatedAt: time.Now(), Spec: spec}
	r.track(env)
	return env, nil
}

func (r *Runtime) track(env *isolation.Environment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
	r.live[env.ID] = true
	r.files[env.ID] = make(map[string][]byte)
}

func (r *Runtime) Exec(ctx context.Context, env *isolation.Environment, req isolation.ExecRequest) (*isolation.ExecResult, error) {
	r.mu.Lock()
	r.Execs = append(r.Execs, ExecCall{EnvID: env.ID, Req: req})
	alive := r.live[env.ID]
	r.mu.Unlock()

	if !alive {
		return nil, fmt.Errorf("environment %s is not running", env.ID)
	}

	if n := len(req.Cmd); n > 0 {
		target := req.Cmd[n-1]
		switch {
		case slices.Equal(req.Cmd, isolation.WriteFileCommand(target)):
			return r.writeFile(env.ID, target, req.Stdin), nil
		case slices.Equal(req.Cmd, isolation.ReadFileCommand(target)):
			return r.readFile(env.ID, target), nil
		}
	}

	if r.ExecFn != nil {
		return r.ExecFn(ctx, env, req)
	}
	return &isolation.ExecResult{}, nil
}

func (r *Runtime) writeFile(envID, target string, stdin []byte) *isolation.ExecResult {
	data, err := base64.StdEncoding.DecodeString(string(stdin))
	if err != nil {
		return &isolation.ExecResult{ExitCode: 1, Stderr: "base64: invalid input"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[envID][target] = data
	return &isolation.ExecResult{}
}

func (r *Runtime) readFile(envID, target string) *isolation.ExecResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.files[envID][target]
	if !ok {
		return &isolation.ExecResult{ExitCode: 1, Stderr: "base64: " + target + ": No such file or directory"}
	}
	return &isolation.ExecResult{Stdout: base64.StdEncoding.EncodeToString(data) + "\n"}
}

func (r *Runtime) Destroy(ctx context.Context, env *isolation.Environment) error {
	r.mu.Lock()
	r.destroyed[env.ID]++
	delete(r.live, env.ID)
	delete(r.files, env.ID)
	r.mu.Unlock()

	if r.DestroyFn != nil {
		return r.DestroyFn(ctx, env)
	}
	return nil
}

func (r *Runtime) Info(ctx context.Context) (*domain.SystemInfo, error) {
	if r.InfoFn != nil {
		return r.InfoFn(ctx)
	}
	return &domain.SystemInfo{Runtime: "mock", Containers: r.Live()}, nil
}

// File returns the stored content of target in env, if any.
func (r *Runtime) File(envID, target string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.files[envID][target]
	return data, ok
}

// DestroyCount returns how many times env was destroyed.
func (r *Runtime) DestroyCount(envID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed[envID]
}

// CreatedCount returns the number of successfully created environments.
func (r *Runtime) CreatedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.created
}

// Live returns the number of environments created and not yet destroyed.
func (r *Runtime) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// DestroyCounts returns a copy of per-environment destroy counts.
func (r *Runtime) DestroyCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.destroyed))
	for k, v := range r.destroyed {
		out[k] = v
	}
	return out
}

// CommandExecs returns Exec calls other than file transfers.
func (r *Runtime) CommandExecs() []ExecCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ExecCall
	for _, c := range r.Execs {
		if n := len(c.Req.Cmd); n > 0 {
			t := c.Req.Cmd[n-1]
			if slices.Equal(c.Req.Cmd, isolation.WriteFileCommand(t)) || slices.Equal(c.Req.Cmd, isolation.ReadFileCommand(t)) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}
