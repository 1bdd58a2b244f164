package judge_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/executor"
	"github.com/jae464/vibe-judge/internal/isolation"
	"github.com/jae464/vibe-judge/internal/isolation/mock"
	"github.com/jae464/vibe-judge/internal/judge"
	"github.com/jae464/vibe-judge/internal/language"
)

var testLimits = judge.Limits{
	DefaultTimeLimitMs:   2000,
	MaxTimeLimitMs:       10000,
	DefaultMemoryLimitMB: 256,
	MaxMemoryLimitMB:     1024,
}

func registry(t *testing.T) *language.Registry {
	t.Helper()
	reg, err := language.NewRegistry(language.Builtin(), nil)
	require.NoError(t, err)
	return reg
}

// echoRuntime behaves like `print(input())` for interpreted profiles.
func echoRuntime() *mock.Runtime {
	rt := mock.New()
	rt.ExecFn = func(ctx context.Context, env *isolation.Environment, req isolation.ExecRequest) (*isolation.ExecResult, error) {
		return &isolation.ExecResult{Stdout: string(req.Stdin), Duration: 15 * time.Millisecond}, nil
	}
	return rt
}

func newOrchestrator(t *testing.T, rt isolation.Runtime, policy judge.Policy, opts ...judge.Option) *judge.Orchestrator {
	t.Helper()
	exec := executor.New(rt, executor.Options{MaxConcurrent: 2, CompileTimeout: 5 * time.Second}, zap.NewNop())
	return judge.New(registry(t), exec, testLimits, policy, zap.NewNop(), opts...)
}

func submission(lang, code string, cases ...domain.TestCase) *domain.Submission {
	return &domain.Submission{
		ID:          uuid.New(),
		Language:    lang,
		Code:        code,
		TimeLimitMs: 1000,
		TestCases:   cases,
	}
}

func TestJudge_Accepted(t *testing.T) {
	rt := echoRuntime()
	o := newOrchestrator(t, rt, judge.Policy{StopOnFirstFailure: true})

	res := o.Judge(context.Background(), submission("python", "print(input())",
		domain.TestCase{Input: "5\n", ExpectedOutput: "5\n"}))

	assert.Equal(t, domain.StatusAccepted, res.Status)
	assert.Equal(t, 1, res.TotalTestCases)
	assert.Equal(t, 1, res.PassedTestCases)
	require.Len(t, res.TestCaseResults, 1)
	assert.True(t, res.TestCaseResults[0].IsCorrect)
	assert.Equal(t, "python", res.Language)
	assert.Equal(t, 1, rt.DestroyCount("env-1"))
	assert.Equal(t, 0, rt.Live())
}

func TestJudge_WrongAnswer(t *testing.T) {
	rt := echoRuntime()
	o := newOrchestrator(t, rt, judge.Policy{StopOnFirstFailure: true})

	res := o.Judge(context.Background(), submission("python", "print(input())",
		domain.TestCase{Input: "5\n", ExpectedOutput: "6\n"}))

	assert.Equal(t, domain.StatusWrongAnswer, res.Status)
	assert.Equal(t, 0, res.PassedTestCases)
	require.Len(t, res.TestCaseResults, 1)
	assert.Equal(t, "5\n", res.TestCaseResults[0].ActualOutput)
	assert.Empty(t, res.TestCaseResults[0].ErrorMessage)
}

func TestJudge_CompilationError(t *testing.T) {
	rt := mock.New()
	rt.ExecFn = func(ctx context.Context, env *isolation.Environment, req isolation.ExecRequest) (*isolation.ExecResult, error) {
		if req.Cmd[0] == "g++" {
			return &isolation.ExecResult{ExitCode: 1, Stderr: "solution.cpp:1:13: error: expected '}' at end of input"}, nil
		}
		t.Fatalf("unexpected command %v", req.Cmd)
		return nil, nil
	}
	o := newOrchestrator(t, rt, judge.Policy{StopOnFirstFailure: true})

	res := o.Judge(context.Background(), submission("cpp", "int main() {",
		domain.TestCase{Input: "", ExpectedOutput: "1"},
		domain.TestCase{Input: "", ExpectedOutput: "2"}))

	assert.Equal(t, domain.StatusCompilationError, res.Status)
	assert.NotNil(t, res.TestCaseResults)
	assert.Empty(t, res.TestCaseResults)
	assert.Contains(t, res.CompilationError, "expected '}'")
	assert.Equal(t, 1, rt.CreatedCount())
	assert.Equal(t, 0, rt.Live())
}

func TestJudge_TimeLimitStopsLoop(t *testing.T) {
	rt := mock.New()
	rt.ExecFn = func(ctx context.Context, env *isolation.Environment, req isolation.ExecRequest) (*isolation.ExecResult, error) {
		return &isolation.ExecResult{Stdout: "partial", TimedOut: true, ExitCode: 137, Duration: time.Second}, nil
	}
	o := newOrchestrator(t, rt, judge.Policy{StopOnFirstFailure: true})

	res := o.Judge(context.Background(), submission("python", "import time\ntime.sleep(10)",
		domain.TestCase{Input: "1", ExpectedOutput: "1"},
		domain.TestCase{Input: "2", ExpectedOutput: "2"},
		domain.TestCase{Input: "3", ExpectedOutput: "3"}))

	assert.Equal(t, domain.StatusTimeLimitExceeded, res.Status)
	assert.Equal(t, 3, res.TotalTestCases)
	require.Len(t, res.TestCaseResults, 1)
	tc := res.TestCaseResults[0]
	assert.Equal(t, judge.MsgTimeLimitExceeded, tc.ErrorMessage)
	assert.Empty(t, tc.ActualOutput)
	assert.Equal(t, domain.FailureTimeout, tc.Failure)
	assert.Equal(t, 1, rt.CreatedCount())
	assert.Equal(t, 0, rt.Live())
}

func TestJudge_UnsupportedLanguage(t *testing.T) {
	rt := echoRuntime()
	o := newOrchestrator(t, rt, judge.Policy{StopOnFirstFailure: true})

	res := o.Judge(context.Background(), submission("brainfuck2", "+++",
		domain.TestCase{Input: "", ExpectedOutput: ""}))

	assert.Equal(t, domain.StatusSystemError, res.Status)
	assert.Contains(t, res.SystemError, "brainfuck2")
	assert.Contains(t, res.SystemError, domain.ErrUnsupportedLanguage.Error())
	assert.Equal(t, 0, res.TotalTestCases)
	assert.Empty(t, res.TestCaseResults)
	assert.Equal(t, 0, rt.CreatedCount())
}

func TestJudge_TeardownOnEveryPath(t *testing.T) {
	outcomes := []isolation.ExecResult{
		{Stdout: "1"},
		{ExitCode: 1, Stderr: "Traceback"},
		{TimedOut: true},
		{OOMKilled: true, ExitCode: 137},
	}
	rt := mock.New()
	var mu sync.Mutex
	n := 0
	rt.ExecFn = func(ctx context.Context, env *isolation.Environment, req isolation.ExecRequest) (*isolation.ExecResult, error) {
		mu.Lock()
		defer mu.Unlock()
		r := outcomes[n%len(outcomes)]
		n++
		return &r, nil
	}
	o := newOrchestrator(t, rt, judge.Policy{StopOnFirstFailure: false})

	cases := make([]domain.TestCase, len(outcomes))
	for i := range cases {
		cases[i] = domain.TestCase{Input: "", ExpectedOutput: "1"}
	}
	res := o.Judge(context.Background(), submission("python", "x", cases...))

	assert.Len(t, res.TestCaseResults, len(outcomes))
	assert.Equal(t, len(outcomes), rt.CreatedCount())
	for id, count := range rt.DestroyCounts() {
		assert.Equal(t, 1, count, "environment %s", id)
	}
	assert.Equal(t, 0, rt.Live())
}

type outcome struct {
	res *executor.RunResult
	err error
}

type scriptedRunner struct {
	mu       sync.Mutex
	outcomes []outcome
	reqs     []*executor.RunRequest
	panics   bool
}

func (r *scriptedRunner) RunOnce(ctx context.Context, req *executor.RunRequest) (*executor.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panics {
		panic("runner exploded")
	}
	i := len(r.reqs)
	r.reqs = append(r.reqs, req)
	o := r.outcomes[i]
	return o.res, o.err
}

func (r *scriptedRunner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func pass(stdout string) outcome {
	return outcome{res: &executor.RunResult{Stdout: stdout, ExecutionTimeMs: 10}}
}

func kb(v int64) *int64 { return &v }

func threeCases() []domain.TestCase {
	return []domain.TestCase{
		{Input: "1", ExpectedOutput: "1"},
		{Input: "2", ExpectedOutput: "2"},
		{Input: "3", ExpectedOutput: "3"},
	}
}

func TestJudge_EarlyExitPolicy(t *testing.T) {
	script := func() *scriptedRunner {
		return &scriptedRunner{outcomes: []outcome{pass("1"), pass("wrong"), pass("3")}}
	}

	t.Run("stop on first failure", func(t *testing.T) {
		runner := script()
		o := judge.New(registry(t), runner, testLimits, judge.Policy{StopOnFirstFailure: true}, zap.NewNop())
		res := o.Judge(context.Background(), submission("python", "x", threeCases()...))

		assert.Equal(t, domain.StatusWrongAnswer, res.Status)
		assert.Len(t, res.TestCaseResults, 2)
		assert.Equal(t, 1, res.PassedTestCases)
		assert.Equal(t, 2, runner.calls())
	})

	t.Run("full run", func(t *testing.T) {
		runner := script()
		o := judge.New(registry(t), runner, testLimits, judge.Policy{StopOnFirstFailure: false}, zap.NewNop())
		res := o.Judge(context.Background(), submission("python", "x", threeCases()...))

		assert.Equal(t, domain.StatusWrongAnswer, res.Status)
		require.Len(t, res.TestCaseResults, 3)
		assert.Equal(t, 2, res.PassedTestCases)
		for i, tc := range res.TestCaseResults {
			assert.Equal(t, i, tc.Index)
		}
	})
}

func TestJudge_FullRunVerdictFollowsFirstFailure(t *testing.T) {
	runner := &scriptedRunner{outcomes: []outcome{
		pass("1"),
		{res: &executor.RunResult{TimedOut: true, ExecutionTimeMs: 1000}},
		pass("nope"),
	}}
	o := judge.New(registry(t), runner, testLimits, judge.Policy{}, zap.NewNop())

	res := o.Judge(context.Background(), submission("python", "x", threeCases()...))

	assert.Equal(t, domain.StatusTimeLimitExceeded, res.Status)
	assert.Len(t, res.TestCaseResults, 3)
	assert.Equal(t, int64(1020), res.TotalExecutionTimeMs)
}

func TestJudge_SetupFailureEndsLoop(t *testing.T) {
	runner := &scriptedRunner{outcomes: []outcome{
		pass("1"),
		{err: &executor.SetupError{Stage: "create environment", Err: errors.New("docker daemon unreachable")}},
		pass("3"),
	}}
	o := judge.New(registry(t), runner, testLimits, judge.Policy{StopOnFirstFailure: false}, zap.NewNop())

	res := o.Judge(context.Background(), submission("python", "x", threeCases()...))

	assert.Equal(t, domain.StatusRuntimeError, res.Status)
	require.Len(t, res.TestCaseResults, 2)
	assert.Contains(t, res.TestCaseResults[1].ErrorMessage, "docker daemon unreachable")
	assert.Equal(t, domain.FailureRuntime, res.TestCaseResults[1].Failure)
	assert.Equal(t, 2, runner.calls())
}

func TestJudge_PanicBecomesSystemError(t *testing.T) {
	runner := &scriptedRunner{panics: true}
	var statuses []domain.JudgeStatus
	o := judge.New(registry(t), runner, testLimits, judge.Policy{}, zap.NewNop(),
		judge.WithStatusHook(func(_ uuid.UUID, s domain.JudgeStatus) { statuses = append(statuses, s) }))

	var res *domain.JudgeResult
	require.NotPanics(t, func() {
		res = o.Judge(context.Background(), submission("python", "x", threeCases()...))
	})
	assert.Equal(t, domain.StatusSystemError, res.Status)
	assert.Contains(t, res.SystemError, "runner exploded")
	assert.Equal(t, []domain.JudgeStatus{domain.StatusRunning, domain.StatusSystemError}, statuses)
}

func TestJudge_CancelledContext(t *testing.T) {
	runner := &scriptedRunner{}
	o := judge.New(registry(t), runner, testLimits, judge.Policy{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := o.Judge(ctx, submission("python", "x", threeCases()...))

	assert.Equal(t, domain.StatusSystemError, res.Status)
	assert.Contains(t, res.SystemError, "cancelled")
	assert.Equal(t, 0, runner.calls())
}

func TestJudge_MemoryAggregation(t *testing.T) {
	t.Run("max of known values", func(t *testing.T) {
		runner := &scriptedRunner{outcomes: []outcome{
			{res: &executor.RunResult{Stdout: "1", MemoryUsedKB: kb(100)}},
			{res: &executor.RunResult{Stdout: "2"}},
			{res: &executor.RunResult{Stdout: "3", MemoryUsedKB: kb(300)}},
		}}
		o := judge.New(registry(t), runner, testLimits, judge.Policy{}, zap.NewNop())
		res := o.Judge(context.Background(), submission("python", "x", threeCases()...))

		require.NotNil(t, res.MaxMemoryUsedKB)
		assert.Equal(t, int64(300), *res.MaxMemoryUsedKB)
		assert.Nil(t, res.TestCaseResults[1].MemoryUsedKB)
	})

	t.Run("unknown stays nil", func(t *testing.T) {
		runner := &scriptedRunner{outcomes: []outcome{pass("1"), pass("2"), pass("3")}}
		o := judge.New(registry(t), runner, testLimits, judge.Policy{}, zap.NewNop())
		res := o.Judge(context.Background(), submission("python", "x", threeCases()...))

		assert.Equal(t, domain.StatusAccepted, res.Status)
		assert.Nil(t, res.MaxMemoryUsedKB)
	})
}

func TestJudge_LimitsResolution(t *testing.T) {
	tests := []struct {
		name               string
		timeMs, memMB      int
		wantTime, wantMemo int
	}{
		{"defaults", 0, 0, 2000, 256},
		{"negative", -5, -1, 2000, 256},
		{"within bounds", 1500, 512, 1500, 512},
		{"clamped", 99999, 5000, 10000, 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &scriptedRunner{outcomes: []outcome{pass("1")}}
			o := judge.New(registry(t), runner, testLimits, judge.Policy{}, zap.NewNop())
			sub := submission("py", "x", domain.TestCase{Input: "1", ExpectedOutput: "1"})
			sub.TimeLimitMs = tt.timeMs
			sub.MemoryLimitMB = tt.memMB

			o.Judge(context.Background(), sub)

			require.Len(t, runner.reqs, 1)
			assert.Equal(t, tt.wantTime, runner.reqs[0].TimeLimitMs)
			assert.Equal(t, tt.wantMemo, runner.reqs[0].MemoryLimitMB)
			assert.Equal(t, "python", runner.reqs[0].Profile.ID)
			assert.Equal(t, sub.ID.String(), runner.reqs[0].Tag)
		})
	}
}

func TestJudge_StatusHookAndClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runner := &scriptedRunner{outcomes: []outcome{pass("1")}}
	var got []domain.JudgeStatus
	var gotID uuid.UUID
	o := judge.New(registry(t), runner, testLimits, judge.Policy{}, zap.NewNop(),
		judge.WithClock(func() time.Time { return fixed }),
		judge.WithStatusHook(func(id uuid.UUID, s domain.JudgeStatus) {
			gotID = id
			got = append(got, s)
		}))

	sub := submission("python", "x", domain.TestCase{Input: "1", ExpectedOutput: "1"})
	res := o.Judge(context.Background(), sub)

	assert.Equal(t, fixed, res.JudgedAt)
	assert.Equal(t, sub.ID, gotID)
	assert.Equal(t, []domain.JudgeStatus{domain.StatusRunning, domain.StatusAccepted}, got)
}

func TestEvaluate(t *testing.T) {
	tc := domain.TestCase{Input: "in", ExpectedOutput: "42"}

	tests := []struct {
		name        string
		run         executor.RunResult
		wantCorrect bool
		wantFailure domain.FailureKind
		wantMessage string
		wantActual  string
	}{
		{"correct with CRLF", executor.RunResult{Stdout: "42\r\n"}, true, domain.FailureNone, "", "42\r\n"},
		{"wrong", executor.RunResult{Stdout: "41"}, false, domain.FailureNone, "", "41"},
		{"wrong with stderr", executor.RunResult{Stdout: "41", Stderr: "warning\n"}, false, domain.FailureNone, "warning", "41"},
		{"timeout hides output", executor.RunResult{Stdout: "4", TimedOut: true}, false, domain.FailureTimeout, judge.MsgTimeLimitExceeded, ""},
		{"oom", executor.RunResult{OOM: true, ExitCode: 137}, false, domain.FailureMemory, judge.MsgMemoryLimitExceeded, ""},
		{"crash", executor.RunResult{ExitCode: 1, Stdout: "4", Stderr: "IndexError\n"}, false, domain.FailureRuntime, "IndexError", "4"},
		{"silent crash", executor.RunResult{ExitCode: 139}, false, domain.FailureRuntime, "process exited with code 139", ""},
		{"own exit 124", executor.RunResult{ExitCode: 124}, false, domain.FailureRuntime, "process exited with code 124", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := tt.run
			got := judge.Evaluate(3, tc, &run)
			assert.Equal(t, 3, got.Index)
			assert.Equal(t, tt.wantCorrect, got.IsCorrect)
			assert.Equal(t, tt.wantFailure, got.Failure)
			assert.Equal(t, tt.wantMessage, got.ErrorMessage)
			assert.Equal(t, tt.wantActual, got.ActualOutput)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		res  domain.JudgeResult
		want domain.JudgeStatus
	}{
		{
			name: "system error wins",
			res:  domain.JudgeResult{SystemError: "boom", CompilationError: "x"},
			want: domain.StatusSystemError,
		},
		{
			name: "all passed",
			res: domain.JudgeResult{TotalTestCases: 2, PassedTestCases: 2,
				TestCaseResults: []domain.TestCaseResult{{IsCorrect: true}, {IsCorrect: true}}},
			want: domain.StatusAccepted,
		},
		{
			name: "no test cases",
			res:  domain.JudgeResult{TestCaseResults: []domain.TestCaseResult{}},
			want: domain.StatusAccepted,
		},
		{
			name: "compilation error",
			res:  domain.JudgeResult{TotalTestCases: 1, CompilationError: "syntax"},
			want: domain.StatusCompilationError,
		},
		{
			name: "timeout",
			res: domain.JudgeResult{TotalTestCases: 1,
				TestCaseResults: []domain.TestCaseResult{{Failure: domain.FailureTimeout, ErrorMessage: judge.MsgTimeLimitExceeded}}},
			want: domain.StatusTimeLimitExceeded,
		},
		{
			name: "memory",
			res: domain.JudgeResult{TotalTestCases: 1,
				TestCaseResults: []domain.TestCaseResult{{Failure: domain.FailureMemory}}},
			want: domain.StatusMemoryLimitExceeded,
		},
		{
			name: "stderr on wrong answer is a runtime error",
			res: domain.JudgeResult{TotalTestCases: 1,
				TestCaseResults: []domain.TestCaseResult{{ErrorMessage: "warning"}}},
			want: domain.StatusRuntimeError,
		},
		{
			name: "first failure decides",
			res: domain.JudgeResult{TotalTestCases: 3, PassedTestCases: 1,
				TestCaseResults: []domain.TestCaseResult{
					{IsCorrect: true},
					{},
					{Failure: domain.FailureTimeout},
				}},
			want: domain.StatusWrongAnswer,
		},
		{
			name: "incomplete without failure",
			res: domain.JudgeResult{TotalTestCases: 2, PassedTestCases: 1,
				TestCaseResults: []domain.TestCaseResult{{IsCorrect: true}}},
			want: domain.StatusSystemError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.res
			assert.Equal(t, tt.want, judge.Classify(&res))
		})
	}
}
