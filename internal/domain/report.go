package domain

import "time"

// Outcome 整体执行结论。
type Outcome string

const (
	OutcomeAllSucceeded   Outcome = "all_succeeded"
	OutcomePartialSuccess Outcome = "partial_success" // 有非致命命令失败但继续执行
	OutcomeAborted        Outcome = "aborted"         // 致命命令失败，剩余命令被跳过
)

// CommandResult 单条命令的执行结果。
// Skipped 为 true 表示因前序致命失败（或取消）未实际执行。
type CommandResult struct {
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	ExitCode    int    `json:"exit_code"`
	DurationMs  int64  `json:"duration_ms"`
	Succeeded   bool   `json:"succeeded"`
	Skipped     bool   `json:"skipped,omitempty"`
	ErrorText   string `json:"error,omitempty"`
}

// ExecutionReport 一次计划执行的完整结果，调用方持有，执行侧不保留。
type ExecutionReport struct {
	MachineID  string          `json:"machine_id"`
	Intent     string          `json:"intent"`
	Results    []CommandResult `json:"results"`
	Outcome    Outcome         `json:"outcome"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}
