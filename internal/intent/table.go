// Package intent 把自然语言话语解析为有序命令计划。
// 意图是纯数据（YAML 表），新增能力只改数据不改匹配算法。
package intent

import (
	"errors"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/QingMing-Bot/nlssh/internal/domain"
)

// Pattern 单条匹配规则：keywords 全部包含即命中，或 regex 命中。
// Lang 仅用于可观测性标注，所有语言的规则一起求值。
type Pattern struct {
	Lang     string   `yaml:"lang"`
	Keywords []string `yaml:"keywords,omitempty"`
	Regex    string   `yaml:"regex,omitempty"`

	re *regexp.Regexp
}

// CommandSpec 模板中的一条命令。{arg} 占位符由 capture 捕获值替换。
type CommandSpec struct {
	Command     string `yaml:"command"`
	Description string `yaml:"description,omitempty"`
	NonFatal    bool   `yaml:"non_fatal,omitempty"`
}

// Group 一组规则与其命令模板；capture 可选，用于参数化（如套件名）。
type Group struct {
	Patterns    []Pattern     `yaml:"patterns"`
	Capture     string        `yaml:"capture,omitempty"`
	Description string        `yaml:"description,omitempty"`
	Commands    []CommandSpec `yaml:"commands"`

	captureRe *regexp.Regexp
}

// Intent 一个意图类别；声明顺序即优先级。
type Intent struct {
	ID          string  `yaml:"id"`
	Description string  `yaml:"description,omitempty"`
	Groups      []Group `yaml:"groups"`
}

type table struct {
	Intents []Intent `yaml:"intents"`
}

// Parse 解析 YAML 意图表并编译正则。
func Parse(data []byte) ([]Intent, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("intent table: %w", err)
	}
	if len(t.Intents) == 0 {
		return nil, errors.New("intent table: no intents defined")
	}
	seen := make(map[string]bool, len(t.Intents))
	for i := range t.Intents {
		it := &t.Intents[i]
		if it.ID == "" || it.ID == domain.IntentUnmatched {
			return nil, fmt.Errorf("intent table: invalid intent id %q", it.ID)
		}
		if seen[it.ID] {
			return nil, fmt.Errorf("intent table: duplicate intent id %q", it.ID)
		}
		seen[it.ID] = true
		if len(it.Groups) == 0 {
			return nil, fmt.Errorf("intent %s: no pattern groups", it.ID)
		}
		for gi := range it.Groups {
			g := &it.Groups[gi]
			if len(g.Patterns) == 0 || len(g.Commands) == 0 {
				return nil, fmt.Errorf("intent %s: group %d missing patterns or commands", it.ID, gi)
			}
			for pi := range g.Patterns {
				p := &g.Patterns[pi]
				if len(p.Keywords) == 0 && p.Regex == "" {
					return nil, fmt.Errorf("intent %s: empty pattern", it.ID)
				}
				if p.Regex != "" {
					re, err := regexp.Compile("(?i)" + p.Regex)
					if err != nil {
						return nil, fmt.Errorf("intent %s: bad regex %q: %w", it.ID, p.Regex, err)
					}
					p.re = re
				}
			}
			if g.Capture != "" {
				re, err := regexp.Compile("(?i)" + g.Capture)
				if err != nil {
					return nil, fmt.Errorf("intent %s: bad capture %q: %w", it.ID, g.Capture, err)
				}
				if re.NumSubexp() < 1 {
					return nil, fmt.Errorf("intent %s: capture %q has no subgroup", it.ID, g.Capture)
				}
				g.captureRe = re
			}
		}
	}
	return t.Intents, nil
}
