// Package agent 薄编排层：把话语解析、机器注册与远程执行串起来，
// 是各前端（CLI 等）消费的唯一调用面。
package agent

import (
	"context"
	"fmt"

	"github.com/QingMing-Bot/nlssh/internal/domain"
	"github.com/QingMing-Bot/nlssh/internal/intent"
	"github.com/QingMing-Bot/nlssh/internal/repository"
	"github.com/QingMing-Bot/nlssh/internal/service"
	"github.com/QingMing-Bot/nlssh/pkg/importexport"
	"github.com/QingMing-Bot/nlssh/pkg/vault"
)

// Agent 聚合核心组件；自身无状态，可并发使用。
type Agent struct {
	repo     repository.MachineRepoIface
	hRepo    repository.HistoryRepoIface
	vault    *vault.Vault
	resolver *intent.Resolver
	execSvc  *service.ExecService
}

func New(repo repository.MachineRepoIface, hRepo repository.HistoryRepoIface, v *vault.Vault, resolver *intent.Resolver, execSvc *service.ExecService) *Agent {
	return &Agent{repo: repo, hRepo: hRepo, vault: v, resolver: resolver, execSvc: execSvc}
}

// ResolveAndPlan 把话语解析为命令计划。未命中也返回合法计划（unmatched）。
func (a *Agent) ResolveAndPlan(utterance string) domain.CommandPlan {
	return a.resolver.Resolve(utterance)
}

// Intents 返回可用意图目录（id + 描述），按优先级顺序。
func (a *Agent) Intents() []intent.Intent {
	return a.resolver.Intents()
}

// RegisterMachine 注册机器：凭据经 vault 封装后入库，明文由调用方负责清零。
func (a *Agent) RegisterMachine(name, host string, port int, username string, method domain.AuthMethod, secret []byte) (string, error) {
	if !method.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidAuth, method)
	}
	if len(secret) == 0 {
		return "", fmt.Errorf("%w: empty secret", domain.ErrInvalidAuth)
	}
	handle, err := a.vault.Seal(secret)
	if err != nil {
		return "", err
	}
	m := domain.Machine{Name: name, Host: host, Port: port, Username: username, AuthMethod: method, SecretHandle: handle}
	if err := a.repo.Save(&m); err != nil {
		return "", err
	}
	return m.ID, nil
}

// ListMachines 脱敏机器列表。
func (a *Agent) ListMachines() ([]domain.MachineSummary, error) {
	ms, err := a.repo.ListAll()
	if err != nil {
		return nil, err
	}
	out := make([]domain.MachineSummary, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Summary())
	}
	return out, nil
}

// RemoveMachine 删除机器；未知 id 返回 domain.ErrNotFound。
func (a *Agent) RemoveMachine(id string) error {
	return a.repo.DeleteByID(id)
}

// RunOnMachine 在指定机器上执行已解析的计划。
func (a *Agent) RunOnMachine(ctx context.Context, machineID string, plan domain.CommandPlan) (domain.ExecutionReport, error) {
	return a.execSvc.RunOnMachine(ctx, machineID, plan)
}

// RunUtterance 解析并执行一条话语。未命中意图返回计划与 errNoMatch 提示，
// 不视为失败（调用方据此给出建议而非报错栈）。
func (a *Agent) RunUtterance(ctx context.Context, machineID, utterance string) (domain.CommandPlan, domain.ExecutionReport, error) {
	plan := a.resolver.Resolve(utterance)
	if !plan.Matched() {
		return plan, domain.ExecutionReport{MachineID: machineID, Intent: plan.Intent, Results: []domain.CommandResult{}}, nil
	}
	report, err := a.execSvc.RunOnMachine(ctx, machineID, plan)
	return plan, report, err
}

// TestMachine 连通性探针。
func (a *Agent) TestMachine(ctx context.Context, machineID string) error {
	return a.execSvc.TestConnection(ctx, machineID)
}

// RecentHistory 最近执行历史。
func (a *Agent) RecentHistory(limit int) ([]domain.ExecHistory, error) {
	return a.hRepo.ListRecent(limit)
}

// HistoryFor 按机器/命令过滤历史。
func (a *Agent) HistoryFor(limit int, machineID, cmdLike string) ([]domain.ExecHistory, error) {
	return a.hRepo.ListFiltered(limit, machineID, cmdLike)
}

// ImportMachines 导入 (format=json|csv)；携带明文 secret 的条目先经 vault 封装。
func (a *Agent) ImportMachines(data []byte, format string) (int, error) {
	var entries []importexport.ImportedMachine
	var err error
	if format == "csv" {
		entries, err = importexport.ParseMachinesCSV(data)
	} else {
		entries, err = importexport.ParseMachinesJSON(data)
	}
	if err != nil {
		return 0, err
	}
	if err = importexport.ValidateMachines(entries); err != nil {
		return 0, err
	}
	ms := make([]domain.Machine, 0, len(entries))
	for _, e := range entries {
		m := e.Machine
		if e.Secret != "" {
			handle, err := a.vault.Seal([]byte(e.Secret))
			if err != nil {
				return 0, err
			}
			m.SecretHandle = handle
		}
		if m.AuthMethod == "" {
			m.AuthMethod = domain.AuthPassword
		}
		ms = append(ms, m)
	}
	if err = a.repo.BulkUpsert(ms); err != nil {
		return 0, err
	}
	return len(ms), nil
}

// ExportMachines 导出 (format=json|csv)。凭据与句柄一律不出库。
func (a *Agent) ExportMachines(format string) (string, error) {
	list, err := a.repo.ListAll()
	if err != nil {
		return "", err
	}
	for i := range list {
		list[i].SecretHandle = ""
	}
	if format == "csv" {
		return importexport.RenderMachinesCSV(list), nil
	}
	return importexport.SerializeMachinesJSON(list)
}

// IsNoMatch 判断计划是否未命中（供前端决定提示语）。
func IsNoMatch(plan domain.CommandPlan) bool { return !plan.Matched() }
