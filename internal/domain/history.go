package domain

import "time"

// ExecHistory 记录单条命令在某台机器的执行结果（持久化用）。
type ExecHistory struct {
	ID         int64     `json:"id"`
	MachineID  string    `json:"machine_id"`
	Intent     string    `json:"intent"`
	Command    string    `json:"command"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	ExitCode   int       `json:"exit_code"`
	Skipped    bool      `json:"skipped,omitempty"`
	ErrorText  string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
}
