package domain

import "time"

// Session is an interactive terminal session backed by one isolated environment.
type Session struct {
	ID             string    `json:"session_id"`
	OwnerID        string    `json:"owner_id"`
	EnvironmentID  string    `json:"environment_id"`
	Language       string    `json:"language,omitempty"`
	Image          string    `json:"image"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// CommandResult is the outcome of one command run inside a session.
type CommandResult struct {
	SessionID  string `json:"session_id"`
	Command    string `json:"command"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// SystemInfo summarises the isolation host.
type SystemInfo struct {
	Runtime        string `json:"runtime"`
	Containers     int    `json:"containers"`
	Images         int    `json:"images"`
	MemoryBytes    int64  `json:"memory_bytes"`
	CPUs           int    `json:"cpus"`
	ActiveSessions int    `json:"active_sessions"`
}
