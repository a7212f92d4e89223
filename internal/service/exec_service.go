package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/QingMing-Bot/nlssh/internal/domain"
	"github.com/QingMing-Bot/nlssh/internal/repository"
	"github.com/QingMing-Bot/nlssh/internal/ssh"
	"github.com/QingMing-Bot/nlssh/pkg/vault"
)

// ExecService 远程执行编排：取机器、解密凭据、按序跑计划、产出报告。
// 同一机器 id 上的并发执行被互斥串行化；不同机器互不影响。
type ExecService struct {
	repo       repository.MachineRepoIface
	vault      *vault.Vault
	dialer     ssh.Dialer
	hWriter    *HistoryWriter
	cmdTimeout time.Duration

	mu           sync.Mutex
	machineLocks map[string]*sync.Mutex
	jobs         map[string]context.CancelFunc
}

func NewExecService(repo repository.MachineRepoIface, v *vault.Vault, dialer ssh.Dialer, writer *HistoryWriter, cmdTimeout time.Duration) *ExecService {
	if cmdTimeout <= 0 {
		cmdTimeout = 300 * time.Second
	}
	return &ExecService{
		repo:         repo,
		vault:        v,
		dialer:       dialer,
		hWriter:      writer,
		cmdTimeout:   cmdTimeout,
		machineLocks: make(map[string]*sync.Mutex),
		jobs:         make(map[string]context.CancelFunc),
	}
}

// lockFor 返回机器专属互斥锁（按需创建，进程生命周期内不回收）。
func (s *ExecService) lockFor(machineID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.machineLocks[machineID]
	if !ok {
		l = &sync.Mutex{}
		s.machineLocks[machineID] = l
	}
	return l
}

// RunOnMachine 在指定机器上执行命令计划。
// 会话状态机：Disconnected -> Authenticating -> Connected -> Running -> Closed；
// 任何退出路径都会关闭会话并清零解密后的凭据。
// 认证/解密/查找失败返回空报告加单个分类错误；命令级失败收敛进报告。
func (s *ExecService) RunOnMachine(ctx context.Context, machineID string, plan domain.CommandPlan) (domain.ExecutionReport, error) {
	report := domain.ExecutionReport{
		MachineID: machineID,
		Intent:    plan.Intent,
		Results:   []domain.CommandResult{},
		Outcome:   domain.OutcomeAllSucceeded,
		StartedAt: time.Now(),
	}

	machine, err := s.repo.GetByID(machineID)
	if err != nil {
		report.FinishedAt = time.Now()
		return report, err
	}

	lock := s.lockFor(machineID)
	lock.Lock()
	defer lock.Unlock()

	if !machine.AuthMethod.Valid() || machine.SecretHandle == "" {
		report.FinishedAt = time.Now()
		return report, fmt.Errorf("%w: machine %s", domain.ErrInvalidAuth, machineID)
	}

	secret, err := s.vault.Open(machine.SecretHandle)
	if err != nil {
		report.FinishedAt = time.Now()
		if errors.Is(err, vault.ErrDecryption) {
			return report, fmt.Errorf("%w: machine %s", domain.ErrDecryption, machineID)
		}
		return report, err
	}
	defer vault.Wipe(secret)

	conn, err := s.dialer.Dial(ctx, ssh.Target{
		Host:       machine.Host,
		Port:       machine.EffectivePort(),
		User:       machine.Username,
		AuthMethod: machine.AuthMethod,
		Secret:     secret,
	})
	if err != nil {
		report.Outcome = domain.OutcomeAborted
		report.FinishedAt = time.Now()
		return report, err
	}
	defer conn.Close()

	aborted := false
	partial := false
	for _, pc := range plan.Commands {
		if aborted {
			skipped := domain.CommandResult{Command: pc.Command, Description: pc.Description, ExitCode: -1, Skipped: true}
			report.Results = append(report.Results, skipped)
			s.record(machine.ID, plan.Intent, skipped, time.Now(), time.Now())
			continue
		}

		start := time.Now()
		stdout, stderr, code, runErr := conn.Run(ctx, pc.Command, s.cmdTimeout)
		finish := time.Now()

		res := domain.CommandResult{
			Command:     pc.Command,
			Description: pc.Description,
			Stdout:      stdout,
			Stderr:      stderr,
			ExitCode:    code,
			DurationMs:  finish.Sub(start).Milliseconds(),
			Succeeded:   runErr == nil && code == 0,
		}
		switch {
		case runErr != nil:
			// 超时/取消/连接中断一律终止剩余命令，不做重试（远程命令可能非幂等）
			res.ErrorText = runErr.Error()
			aborted = true
		case code != 0:
			if pc.NonFatal {
				partial = true
			} else {
				aborted = true
			}
		}
		report.Results = append(report.Results, res)
		s.record(machine.ID, plan.Intent, res, start, finish)
	}

	switch {
	case aborted:
		report.Outcome = domain.OutcomeAborted
	case partial:
		report.Outcome = domain.OutcomePartialSuccess
	default:
		report.Outcome = domain.OutcomeAllSucceeded
	}
	report.FinishedAt = time.Now()
	return report, nil
}

// TestConnection 用 echo 探针验证机器可连可认证。
func (s *ExecService) TestConnection(ctx context.Context, machineID string) error {
	plan := domain.CommandPlan{
		Intent:   "connection-test",
		Commands: []domain.PlanCommand{{Command: `echo connection_test`, Description: "连通性探针"}},
	}
	report, err := s.RunOnMachine(ctx, machineID, plan)
	if err != nil {
		return err
	}
	if report.Outcome != domain.OutcomeAllSucceeded {
		return fmt.Errorf("connection probe failed on %s", machineID)
	}
	return nil
}

// StartRun 后台执行计划，返回 jobID（传空则自动生成）。结果经 cb 回调。
func (s *ExecService) StartRun(jobID, machineID string, plan domain.CommandPlan, cb func(domain.ExecutionReport, error)) string {
	if jobID == "" {
		jobID = time.Now().Format("20060102_150405.000")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.jobs[jobID] = cancel
	s.mu.Unlock()
	go func() {
		report, err := s.RunOnMachine(ctx, machineID, plan)
		s.mu.Lock()
		delete(s.jobs, jobID)
		s.mu.Unlock()
		if cb != nil {
			cb(report, err)
		}
	}()
	return jobID
}

// Cancel 取消指定 jobID；在执行中的命令被中断，剩余命令跳过。
func (s *ExecService) Cancel(jobID string) bool {
	s.mu.Lock()
	cancel, ok := s.jobs[jobID]
	s.mu.Unlock()
	if ok {
		cancel()
		return true
	}
	return false
}

// HasJob 判断 job 是否仍在运行。
func (s *ExecService) HasJob(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[jobID]
	return ok
}

func (s *ExecService) record(machineID, intentID string, res domain.CommandResult, start, finish time.Time) {
	if s.hWriter == nil {
		return
	}
	s.hWriter.Write(domain.ExecHistory{
		MachineID:  machineID,
		Intent:     intentID,
		Command:    res.Command,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		ExitCode:   res.ExitCode,
		Skipped:    res.Skipped,
		ErrorText:  res.ErrorText,
		StartedAt:  start,
		FinishedAt: finish,
		DurationMs: res.DurationMs,
	})
}
