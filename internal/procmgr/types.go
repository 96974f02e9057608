// Package procmgr spawns, tracks, monitors, times out, and restarts
// worker and utility subprocesses, streaming their output through the
// Stream Parser, per spec §4.D. Process lifecycle tracking is
// grounded on the teacher's internal/agents/spawner.go (subprocess
// spawning) and internal/captain/supervisor.go (crash-loop / respawn
// window accounting), adapted from a singleton Captain process to
// many short-lived worker/utility processes each tracked by id.
package procmgr

import "time"

// Kind distinguishes a worker (LLM-driven) from a utility (deterministic tool).
type Kind string

const (
	KindWorker  Kind = "worker"
	KindUtility Kind = "utility"
)

// Status is a process's lifecycle state. There is no re-entry: a
// restart always creates a new process id, per spec §4.D.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTimeout    Status = "timeout"
	StatusTerminated Status = "terminated"
)

// Terminal reports whether s is one of the process's terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusTerminated:
		return true
	default:
		return false
	}
}

// Record is the data model entry per live (or recently finished)
// process, persisted at supervisor/processes/history/{pid}.
type Record struct {
	ProcessID          string     `json:"process_id"`
	Kind               Kind       `json:"kind"`
	TaskID             string     `json:"task_id"`
	Role               string     `json:"role"`
	Status             Status     `json:"status"`
	PID                int        `json:"pid"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	ExitCode           *int       `json:"exit_code,omitempty"`
	CommandLine        []string   `json:"command_line"`
	CapturedStdoutTail []string   `json:"captured_stdout_tail"`
	CapturedStderrTail []string   `json:"captured_stderr_tail"`

	// DesiredRunning supports the optional restart policy: true means
	// the restart monitor should respawn this process id's workload if
	// it is observed not running.
	DesiredRunning bool `json:"desired_running"`
	RestartCount   int  `json:"restart_count"`
}

const maxTailLines = 100
