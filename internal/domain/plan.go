package domain

// IntentUnmatched 未命中任何意图时的占位 id；这是正常结果，不是错误。
const IntentUnmatched = "unmatched"

// PlanCommand 计划中的一条具体命令。
// NonFatal 为 true 时该命令失败不终止后续执行。
type PlanCommand struct {
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	NonFatal    bool   `json:"non_fatal,omitempty"`
}

// CommandPlan 一次话语解析出的有序命令计划。
type CommandPlan struct {
	Intent      string        `json:"intent"`
	Description string        `json:"description,omitempty"`
	Commands    []PlanCommand `json:"commands"`
	MatchBasis  string        `json:"match_basis,omitempty"` // 可观测性：命中依据
	Utterance   string        `json:"utterance,omitempty"`
}

// Matched 是否命中了某个意图。
func (p CommandPlan) Matched() bool {
	return p.Intent != IntentUnmatched && len(p.Commands) > 0
}
