package executor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/executor"
	"github.com/jae464/vibe-judge/internal/isolation"
	"github.com/jae464/vibe-judge/internal/isolation/mock"
	"github.com/jae464/vibe-judge/internal/language"
)

func profile(t *testing.T, id string) *language.Profile {
	t.Helper()
	reg, err := language.NewRegistry(language.Builtin(), nil)
	require.NoError(t, err)
	p, err := reg.Resolve(id)
	require.NoError(t, err)
	return p
}

func newExecutor(rt isolation.Runtime) *executor.Executor {
	return executor.New(rt, executor.Options{
		MaxConcurrent:  4,
		CompileTimeout: 10 * time.Second,
	}, zap.NewNop())
}

func TestRunOnce_Interpreted(t *testing.T) {
	rt := mock.New()
	peak := int64(2048)
	rt.ExecFn = func(ctx context.Context, env *isolation.Environment, req isolation.ExecRequest) (*isolation.ExecResult, error) {
		assert.Equal(t, []string{"python3", "-u", "solution.py"}, req.Cmd)
		assert.Equal(t, "5\n", string(req.Stdin))
		assert.Equal(t, 2*time.Second, req.Timeout)
		assert.True(t, req.MeasureMemory)
		return &isolation.ExecResult{Stdout: "5\n", Duration: 40 * time.Millisecond, MemoryPeakKB: &peak}, nil
	}

	res, err := newExecutor(rt).RunOnce(context.Background(), &executor.RunRequest{
		Profile:       profile(t, "python"),
		SourceCode:    "print(input())",
		Stdin:         "5\n",
		TimeLimitMs:   2000,
		MemoryLimitMB: 128,
	})
	require.NoError(t, err)

	assert.Equal(t, "5\n", res.Stdout)
	assert.Equal(t, int64(40), res.ExecutionTimeMs)
	require.NotNil(t, res.MemoryUsedKB)
	assert.Equal(t, int64(2048), *res.MemoryUsedKB)
	assert.False(t, res.RuntimeError())

	require.Len(t, rt.Specs, 1)
	assert.Equal(t, 128, rt.Specs[0].MemoryLimitMB)
	assert.True(t, rt.Specs[0].NetworkDisabled)
	assert.Equal(t, "judge", rt.Specs[0].Labels[isolation.LabelRole])
	assert.Equal(t, 1, rt.DestroyCount("env-1"))
	assert.Equal(t, 0, rt.Live())
}

func TestRunOnce_CompileThenRun(t *testing.T) {
	rt := mock.New()
	rt.ExecFn = func(ctx context.Context, env *isolation.Environment, req isolation.ExecRequest) (*isolation.ExecResult, error) {
		switch req.Cmd[0] {
		case "g++":
			// the source was written before compiling
			src, ok := rt.File(env.ID, "/workspace/solution.cpp")
			assert.True(t, ok)
			assert.Equal(t, "int main(){}", string(src))
			assert.Equal(t, 10*time.Second, req.Timeout)
			return &isolation.ExecResult{}, nil
		case "./solution":
			assert.Equal(t, time.Second, req.Timeout)
			assert.False(t, req.MeasureMemory)
			return &isolation.ExecResult{Stdout: "ok"}, nil
		}
		t.Fatalf("unexpected command %v", req.Cmd)
		return nil, nil
	}

	res, err := newExecutor(rt).RunOnce(context.Background(), &executor.RunRequest{
		Profile:     profile(t, "cpp"),
		SourceCode:  "int main(){}",
		TimeLimitMs: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Stdout)
	assert.Nil(t, res.MemoryUsedKB)
	assert.Len(t, rt.CommandExecs(), 2)
	assert.Equal(t, 0, rt.Live())
}

func TestRunOnce_CompilationFailed(t *testing.T) {
	rt := mock.New()
	rt.ExecFn = func(ctx context.Context, env *isolation.Environment, req isolation.ExecRequest) (*isolation.ExecResult, error) {
		if req.Cmd[0] == "g++" {
			return &isolation.ExecResult{ExitCode: 1, Stderr: "solution.cpp:1:1: error: expected ';'\n"}, nil
		}
		t.Fatal("program must not run after a failed compile")
		return nil, nil
	}

	_, err := newExecutor(rt).RunOnce(context.Background(), &executor.RunRequest{
		Profile: profile(t, "cpp"), SourceCode: "int main( {", TimeLimitMs: 1000,
	})

	var ce *executor.CompilationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "solution.cpp:1:1: error: expected ';'", ce.Output)
	assert.Equal(t, 1, rt.DestroyCount("env-1"))
}

func TestRunOnce_CompileTimeout(t *testing.T) {
	rt := mock.New()
	rt.ExecFn = func(ctx context.Context, env *isolation.Environment, req isolation.ExecRequest) (*isolation.ExecResult, error) {
		return &isolation.ExecResult{TimedOut: true, ExitCode: 124}, nil
	}

	_, err := newExecutor(rt).RunOnce(context.Background(), &executor.RunRequest{
		Profile: profile(t, "rust"), SourceCode: "fn main(){}", TimeLimitMs: 1000,
	})

	var ce *executor.CompilationError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.TimedOut)
	assert.Contains(t, ce.Output, "timed out")
	assert.Equal(t, 0, rt.Live())
}

func TestRunOnce_Outcomes(t *testing.T) {
	tests := []struct {
		name        string
		result      isolation.ExecResult
		wantTimeout bool
		wantOOM     bool
		wantRuntime bool
	}{
		{"timeout", isolation.ExecResult{TimedOut: true, ExitCode: 137}, true, false, false},
		{"oom", isolation.ExecResult{OOMKilled: true, ExitCode: 137}, false, true, false},
		{"crash", isolation.ExecResult{ExitCode: 1, Stderr: "ZeroDivisionError"}, false, false, true},
		{"clean", isolation.ExecResult{Stdout: "1"}, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := mock.New()
			rt.ExecFn = func(ctx context.Context, env *isolation.Environment, req isolation.ExecRequest) (*isolation.ExecResult, error) {
				r := tt.result
				return &r, nil
			}

			res, err := newExecutor(rt).RunOnce(context.Background(), &executor.RunRequest{
				Profile: profile(t, "python"), SourceCode: "x", TimeLimitMs: 1000,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantTimeout, res.TimedOut)
			assert.Equal(t, tt.wantOOM, res.OOM)
			assert.Equal(t, tt.wantRuntime, res.RuntimeError())
			assert.Equal(t, 1, rt.DestroyCount("env-1"))
			assert.Equal(t, 0, rt.Live())
		})
	}
}

func TestRunOnce_ExecFailureIsSetupError(t *testing.T) {
	rt := mock.New()
	rt.ExecFn = func(ctx context.Context, env *isolation.Environment, req isolation.ExecRequest) (*isolation.ExecResult, error) {
		return nil, errors.New("connection reset by peer")
	}

	_, err := newExecutor(rt).RunOnce(context.Background(), &executor.RunRequest{
		Profile: profile(t, "python"), SourceCode: "x", TimeLimitMs: 1000,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEnvironmentSetup))
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 1, rt.DestroyCount("env-1"))
}

func TestRunOnce_CreateFailure(t *testing.T) {
	rt := mock.New()
	rt.CreateFn = func(ctx context.Context, spec isolation.Spec) (*isolation.Environment, error) {
		return nil, errors.New("no such image")
	}

	_, err := newExecutor(rt).RunOnce(context.Background(), &executor.RunRequest{
		Profile: profile(t, "python"), SourceCode: "x", TimeLimitMs: 1000,
	})
	var se *executor.SetupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "create environment", se.Stage)
	assert.Empty(t, rt.DestroyCounts())
}

func TestRunOnce_DestroySurvivesCancellation(t *testing.T) {
	rt := mock.New()
	ctx, cancel := context.WithCancel(context.Background())

	rt.ExecFn = func(_ context.Context, env *isolation.Environment, req isolation.ExecRequest) (*isolation.ExecResult, error) {
		cancel()
		return nil, context.Canceled
	}
	var destroyCtxErr error
	rt.DestroyFn = func(dctx context.Context, env *isolation.Environment) error {
		destroyCtxErr = dctx.Err()
		return nil
	}

	_, err := newExecutor(rt).RunOnce(ctx, &executor.RunRequest{
		Profile: profile(t, "python"), SourceCode: "x", TimeLimitMs: 1000,
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, destroyCtxErr)
	assert.Equal(t, 1, rt.DestroyCount("env-1"))
}

func TestRunOnce_ConcurrencyCap(t *testing.T) {
	rt := mock.New()
	var current, peak int32
	rt.ExecFn = func(ctx context.Context, env *isolation.Environment, req isolation.ExecRequest) (*isolation.ExecResult, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return &isolation.ExecResult{}, nil
	}

	exe := executor.New(rt, executor.Options{MaxConcurrent: 2}, zap.NewNop())
	p := profile(t, "python")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := exe.RunOnce(context.Background(), &executor.RunRequest{Profile: p, SourceCode: "x", TimeLimitMs: 1000})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 8, rt.CreatedCount())
	assert.Equal(t, 0, rt.Live())
}

func TestRunOnce_MemoryHeadroom(t *testing.T) {
	rt := mock.New()
	_, err := newExecutor(rt).RunOnce(context.Background(), &executor.RunRequest{
		Profile: profile(t, "java"), SourceCode: "class Main {}", TimeLimitMs: 1000, MemoryLimitMB: 256,
	})
	require.NoError(t, err)
	assert.Equal(t, 256+128, rt.Specs[0].MemoryLimitMB)
}

func TestRunOnce_CompilerOutOfMemory(t *testing.T) {
	rt := mock.New()
	rt.ExecFn = func(ctx context.Context, env *isolation.Environment, req isolation.ExecRequest) (*isolation.ExecResult, error) {
		if req.Cmd[0] == "g++" {
			return &isolation.ExecResult{ExitCode: 137, OOMKilled: true}, nil
		}
		t.Fatal("program must not run after the compiler was killed")
		return nil, nil
	}

	_, err := newExecutor(rt).RunOnce(context.Background(), &executor.RunRequest{
		Profile: profile(t, "cpp"), SourceCode: "int main(){}", TimeLimitMs: 1000, MemoryLimitMB: 16,
	})

	var ce *executor.CompilationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "compiler exceeded the memory limit of 16 MB", ce.Output)
	assert.Equal(t, 0, rt.Live())
}
