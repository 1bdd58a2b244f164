// Package judge drives a submission through its test cases and decides the verdict.
package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/compare"
	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/executor"
	"github.com/jae464/vibe-judge/internal/language"
	"github.com/jae464/vibe-judge/internal/metrics"
)

const (
	MsgTimeLimitExceeded   = "time limit exceeded"
	MsgMemoryLimitExceeded = "memory limit exceeded"
)

// Runner executes one program run in a fresh environment.
type Runner interface {
	RunOnce(ctx context.Context, req *executor.RunRequest) (*executor.RunResult, error)
}

// Resolver maps a language identifier to its profile.
type Resolver interface {
	Resolve(id string) (*language.Profile, error)
}

// Limits are the default and maximum resource limits a submission may ask for.
type Limits struct {
	DefaultTimeLimitMs   int
	MaxTimeLimitMs       int
	DefaultMemoryLimitMB int
	MaxMemoryLimitMB     int
}

// Policy controls how much of a submission is executed.
type Policy struct {
	// StopOnFirstFailure ends judging at the first failing test case.
	StopOnFirstFailure bool
}

// StatusHook observes status transitions of a submission.
type StatusHook func(submissionID uuid.UUID, status domain.JudgeStatus)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStatusHook registers fn to receive RUNNING and the final status.
func WithStatusHook(fn StatusHook) Option {
	return func(o *Orchestrator) { o.onStatus = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator judges submissions. It is safe for concurrent use.
type Orchestrator struct {
	languages Resolver
	runner    Runner
	limits    Limits
	policy    Policy
	logger    *zap.Logger
	onStatus  StatusHook
	now       func() time.Time
}

// New creates a new Orchestrator.
func New(languages Resolver, runner Runner, limits Limits, policy Policy, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		languages: languages,
		runner:    runner,
		limits:    limits,
		policy:    policy,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Judge runs sub and always returns a terminal result. Test case failures are
// folded into the verdict; anything unexpected becomes SYSTEM_ERROR.
func (o *Orchestrator) Judge(ctx context.Context, sub *domain.Submission) (result *domain.JudgeResult) {
	start := o.now()
	if sub == nil {
		sub = &domain.Submission{}
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Judge panicked",
				zap.String("submission_id", sub.ID.String()),
				zap.Any("panic", r),
			)
			result = o.systemError(sub, fmt.Errorf("internal error: %v", r))
		}
		metrics.VerdictsTotal.WithLabelValues(metricLabel(result.Language), string(result.Status)).Inc()
		metrics.JudgeDuration.WithLabelValues(metricLabel(result.Language)).Observe(o.now().Sub(start).Seconds())
		o.notify(sub.ID, result.Status)
	}()

	o.notify(sub.ID, domain.StatusRunning)

	profile, err := o.languages.Resolve(sub.Language)
	if err != nil {
		return o.systemError(sub, err)
	}
	timeLimit, memLimit := o.limits.apply(sub.TimeLimitMs, sub.MemoryLimitMB)

	result = &domain.JudgeResult{
		SubmissionID:    sub.ID,
		Status:          domain.StatusRunning,
		Language:        profile.ID,
		TotalTestCases:  len(sub.TestCases),
		TestCaseResults: make([]domain.TestCaseResult, 0, len(sub.TestCases)),
	}

	for i, tc := range sub.TestCases {
		if err := ctx.Err(); err != nil {
			return o.systemError(sub, fmt.Errorf("judging cancelled: %w", err))
		}

		run, err := o.runner.RunOnce(ctx, &executor.RunRequest{
			Profile:       profile,
			SourceCode:    sub.Code,
			Stdin:         tc.Input,
			TimeLimitMs:   timeLimit,
			MemoryLimitMB: memLimit,
			Tag:           sub.ID.String(),
		})

		var tcr domain.TestCaseResult
		var ce *executor.CompilationError
		setupFailed := false
		switch {
		case errors.As(err, &ce):
			result.CompilationError = ce.Output
			return o.finish(result)
		case err != nil && ctx.Err() != nil:
			return o.systemError(sub, fmt.Errorf("judging cancelled: %w", ctx.Err()))
		case err != nil:
			// An isolation failure is charged to this test case and ends the loop.
			setupFailed = true
			o.logger.Warn("Test case run failed",
				zap.String("submission_id", sub.ID.String()),
				zap.Int("index", i),
				zap.Error(err),
			)
			tcr = domain.TestCaseResult{
				Index:          i,
				Input:          tc.Input,
				ExpectedOutput: tc.ExpectedOutput,
				ErrorMessage:   err.Error(),
				Failure:        domain.FailureRuntime,
			}
		default:
			tcr = Evaluate(i, tc, run)
		}

		result.TestCaseResults = append(result.TestCaseResults, tcr)
		result.TotalExecutionTimeMs += tcr.ExecutionTimeMs
		result.MaxMemoryUsedKB = maxKnown(result.MaxMemoryUsedKB, tcr.MemoryUsedKB)
		if tcr.IsCorrect {
			result.PassedTestCases++
		} else if o.policy.StopOnFirstFailure || setupFailed {
			break
		}
	}

	return o.finish(result)
}

func (o *Orchestrator) finish(result *domain.JudgeResult) *domain.JudgeResult {
	result.Status = Classify(result)
	result.JudgedAt = o.now()
	return result
}

func (o *Orchestrator) systemError(sub *domain.Submission, err error) *domain.JudgeResult {
	return &domain.JudgeResult{
		SubmissionID:    sub.ID,
		Status:          domain.StatusSystemError,
		Language:        sub.Language,
		TestCaseResults: []domain.TestCaseResult{},
		SystemError:     err.Error(),
		JudgedAt:        o.now(),
	}
}

func (o *Orchestrator) notify(id uuid.UUID, status domain.JudgeStatus) {
	if o.onStatus != nil {
		o.onStatus(id, status)
	}
}

// Evaluate turns one raw run into a test case result.
func Evaluate(index int, tc domain.TestCase, run *executor.RunResult) domain.TestCaseResult {
	tcr := domain.TestCaseResult{
		Index:           index,
		Input:           tc.Input,
		ExpectedOutput:  tc.ExpectedOutput,
		ExecutionTimeMs: run.ExecutionTimeMs,
		MemoryUsedKB:    run.MemoryUsedKB,
	}

	switch {
	case run.TimedOut:
		// Partial output of a killed program is not reported.
		tcr.ErrorMessage = MsgTimeLimitExceeded
		tcr.Failure = domain.FailureTimeout
	case run.OOM:
		tcr.ErrorMessage = MsgMemoryLimitExceeded
		tcr.Failure = domain.FailureMemory
	case run.RuntimeError():
		tcr.ActualOutput = run.Stdout
		tcr.ErrorMessage = strings.TrimSpace(run.Stderr)
		if tcr.ErrorMessage == "" {
			tcr.ErrorMessage = fmt.Sprintf("process exited with code %d", run.ExitCode)
		}
		tcr.Failure = domain.FailureRuntime
	default:
		tcr.ActualOutput = run.Stdout
		tcr.IsCorrect = compare.Equal(run.Stdout, tc.ExpectedOutput)
		if !tcr.IsCorrect {
			tcr.ErrorMessage = strings.TrimSpace(run.Stderr)
		}
	}
	return tcr
}

// Classify picks the verdict; the first matching rule wins.
func Classify(res *domain.JudgeResult) domain.JudgeStatus {
	if res.SystemError != "" {
		return domain.StatusSystemError
	}
	if res.CompilationError == "" &&
		len(res.TestCaseResults) == res.TotalTestCases &&
		res.PassedTestCases == res.TotalTestCases {
		return domain.StatusAccepted
	}
	if res.CompilationError != "" {
		return domain.StatusCompilationError
	}

	var first *domain.TestCaseResult
	for i := range res.TestCaseResults {
		if !res.TestCaseResults[i].IsCorrect {
			first = &res.TestCaseResults[i]
			break
		}
	}
	if first == nil {
		// Not every case ran, yet none failed.
		return domain.StatusSystemError
	}

	switch {
	case first.Failure == domain.FailureTimeout:
		return domain.StatusTimeLimitExceeded
	case first.Failure == domain.FailureMemory:
		return domain.StatusMemoryLimitExceeded
	case first.ErrorMessage != "":
		return domain.StatusRuntimeError
	}
	return domain.StatusWrongAnswer
}

// apply resolves requested limits: non-positive means default, anything above
// the maximum is clamped.
func (l Limits) apply(timeMs, memMB int) (int, int) {
	return clamp(timeMs, l.DefaultTimeLimitMs, l.MaxTimeLimitMs), clamp(memMB, l.DefaultMemoryLimitMB, l.MaxMemoryLimitMB)
}

func clamp(v, def, max int) int {
	if v <= 0 {
		v = def
	}
	if max > 0 && v > max {
		v = max
	}
	return v
}

func maxKnown(cur, next *int64) *int64 {
	if next == nil {
		return cur
	}
	if cur == nil || *next > *cur {
		v := *next
		return &v
	}
	return cur
}

func metricLabel(lang string) string {
	if lang == "" {
		return "unknown"
	}
	return lang
}
