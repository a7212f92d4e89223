package intent

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/QingMing-Bot/nlssh/internal/domain"
)

// Resolver 按声明优先级求值意图表。无任何内部状态，Resolve 纯函数。
type Resolver struct {
	intents []Intent
}

// NewResolver 从已解析的意图表构建解析器。
func NewResolver(intents []Intent) *Resolver {
	return &Resolver{intents: intents}
}

// Intents 返回意图 id 与描述（按优先级顺序），供前端展示。
func (r *Resolver) Intents() []Intent {
	return r.intents
}

// Resolve 把话语映射为命令计划。
// 规则：声明顺序内第一个命中的意图胜出，意图内取字面命中最长的组；
// 未命中返回 intent=unmatched、空命令列表，绝不报错。
func (r *Resolver) Resolve(utterance string) domain.CommandPlan {
	norm := Normalize(utterance)
	for _, it := range r.intents {
		if plan, ok := r.resolveIntent(it, norm); ok {
			plan.Utterance = utterance
			return plan
		}
	}
	return domain.CommandPlan{
		Intent:     domain.IntentUnmatched,
		Commands:   []domain.PlanCommand{},
		MatchBasis: "no pattern matched",
		Utterance:  utterance,
	}
}

func (r *Resolver) resolveIntent(it Intent, norm string) (domain.CommandPlan, bool) {
	bestLen := -1
	bestGroup := -1
	bestBasis := ""
	bestArg := ""
	for gi, g := range it.Groups {
		n, basis, ok := matchGroup(g, norm)
		if !ok {
			continue
		}
		arg := ""
		if g.captureRe != nil { // 参数化组取不到参数视为未命中
			sub := g.captureRe.FindStringSubmatch(norm)
			if sub == nil {
				continue
			}
			arg = sub[1]
		}
		if n > bestLen { // 并列时保留先声明的组
			bestLen, bestGroup, bestBasis, bestArg = n, gi, basis, arg
		}
	}
	if bestGroup < 0 {
		return domain.CommandPlan{}, false
	}
	g := it.Groups[bestGroup]
	arg := bestArg
	cmds := make([]domain.PlanCommand, 0, len(g.Commands))
	for _, c := range g.Commands {
		cmds = append(cmds, domain.PlanCommand{
			Command:     substituteArg(c.Command, arg),
			Description: substituteArg(c.Description, arg),
			NonFatal:    c.NonFatal,
		})
	}
	desc := g.Description
	if desc == "" {
		desc = it.Description
	}
	return domain.CommandPlan{
		Intent:      it.ID,
		Description: substituteArg(desc, arg),
		Commands:    cmds,
		MatchBasis:  bestBasis,
	}, true
}

// matchGroup 返回组内最长字面命中长度（rune 数）及其依据。
func matchGroup(g Group, norm string) (int, string, bool) {
	best := -1
	basis := ""
	for _, p := range g.Patterns {
		if len(p.Keywords) > 0 {
			total := 0
			hit := true
			for _, kw := range p.Keywords {
				if !strings.Contains(norm, kw) {
					hit = false
					break
				}
				total += utf8.RuneCountInString(kw)
			}
			if hit && total > best {
				best = total
				basis = fmt.Sprintf("keywords(%s): %s", p.Lang, strings.Join(p.Keywords, "+"))
			}
		}
		if p.re != nil {
			if m := p.re.FindString(norm); m != "" {
				n := utf8.RuneCountInString(m)
				if n > best {
					best = n
					basis = fmt.Sprintf("regex(%s): %s", p.Lang, p.Regex)
				}
			}
		}
	}
	return best, basis, best >= 0
}

func substituteArg(s, arg string) string {
	if arg == "" || !strings.Contains(s, "{arg}") {
		return s
	}
	return strings.ReplaceAll(s, "{arg}", arg)
}

// Normalize 小写化并折叠空白；匹配与关键词表均基于该形式。
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
