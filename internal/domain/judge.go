package domain

import (
	"time"

	"github.com/google/uuid"
)

// JudgeStatus represents the lifecycle state of a judged submission.
type JudgeStatus string

const (
	StatusPending             JudgeStatus = "PENDING"
	StatusRunning             JudgeStatus = "RUNNING"
	StatusAccepted            JudgeStatus = "ACCEPTED"
	StatusWrongAnswer         JudgeStatus = "WRONG_ANSWER"
	StatusTimeLimitExceeded   JudgeStatus = "TIME_LIMIT_EXCEEDED"
	StatusMemoryLimitExceeded JudgeStatus = "MEMORY_LIMIT_EXCEEDED"
	StatusRuntimeError        JudgeStatus = "RUNTIME_ERROR"
	StatusCompilationError    JudgeStatus = "COMPILATION_ERROR"
	StatusSystemError         JudgeStatus = "SYSTEM_ERROR"
)

// IsTerminal returns true if the status represents a final verdict.
func (s JudgeStatus) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusWrongAnswer, StatusTimeLimitExceeded,
		StatusMemoryLimitExceeded, StatusRuntimeError, StatusCompilationError,
		StatusSystemError:
		return true
	}
	return false
}

// FailureKind tags why a single test case did not pass.
type FailureKind string

const (
	FailureNone    FailureKind = ""
	FailureTimeout FailureKind = "timeout"
	FailureMemory  FailureKind = "memory"
	FailureRuntime FailureKind = "runtime"
)

// TestCase is one input/expected-output pair.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	IsSample       bool   `json:"is_sample"`
}

// Submission is the judge input. It is never mutated while judging.
type Submission struct {
	ID            uuid.UUID  `json:"submission_id"`
	Language      string     `json:"language"`
	Code          string     `json:"code"`
	TimeLimitMs   int        `json:"time_limit_ms"`
	MemoryLimitMB int        `json:"memory_limit_mb"`
	TestCases     []TestCase `json:"test_cases"`
	CreatedAt     time.Time  `json:"created_at"`
}

// TestCaseResult is the outcome of running one test case.
type TestCaseResult struct {
	Index           int         `json:"index"`
	Input           string      `json:"input"`
	ExpectedOutput  string      `json:"expected_output"`
	ActualOutput    string      `json:"actual_output"`
	IsCorrect       bool        `json:"is_correct"`
	ExecutionTimeMs int64       `json:"execution_time_ms"`
	MemoryUsedKB    *int64      `json:"memory_used_kb,omitempty"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	Failure         FailureKind `json:"failure,omitempty"`
}

// JudgeResult is the final verdict for one submission.
type JudgeResult struct {
	SubmissionID         uuid.UUID        `json:"submission_id"`
	Status               JudgeStatus      `json:"status"`
	Language             string           `json:"language"`
	TotalTestCases       int              `json:"total_test_cases"`
	PassedTestCases      int              `json:"passed_test_cases"`
	TestCaseResults      []TestCaseResult `json:"test_case_results"`
	TotalExecutionTimeMs int64            `json:"total_execution_time_ms"`
	MaxMemoryUsedKB      *int64           `json:"max_memory_used_kb,omitempty"`
	CompilationError     string           `json:"compilation_error,omitempty"`
	SystemError          string           `json:"system_error,omitempty"`
	JudgedAt             time.Time        `json:"judged_at"`
}

// LanguageInfo describes a supported language to API clients.
type LanguageInfo struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Version  string   `json:"version,omitempty"`
	Compiled bool     `json:"compiled"`
	Aliases  []string `json:"aliases,omitempty"`
}

// SubmitRequest is a judge request as received from API clients.
type SubmitRequest struct {
	Language      string     `json:"language" binding:"required"`
	Code          string     `json:"code" binding:"required"`
	TimeLimitMs   int        `json:"time_limit_ms,omitempty"`
	MemoryLimitMB int        `json:"memory_limit_mb,omitempty"`
	TestCases     []TestCase `json:"test_cases" binding:"required,min=1"`
}

// SubmitResponse is returned after an asynchronous submission is queued.
type SubmitResponse struct {
	SubmissionID uuid.UUID   `json:"submission_id"`
	Status       JudgeStatus `json:"status"`
}

// SubmissionRecord is the persisted state of an asynchronous submission.
type SubmissionRecord struct {
	SubmissionID uuid.UUID    `json:"submission_id"`
	Language     string       `json:"language"`
	Status       JudgeStatus  `json:"status"`
	Result       *JudgeResult `json:"result,omitempty"`
	Message      string       `json:"message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
