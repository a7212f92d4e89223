package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/QingMing-Bot/nlssh/internal/domain"
	"github.com/QingMing-Bot/nlssh/internal/repository"
	sshmock "github.com/QingMing-Bot/nlssh/internal/ssh"
	"github.com/QingMing-Bot/nlssh/pkg/vault"

	_ "modernc.org/sqlite"
)

// helper 打开内存库并建表
func openMemDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	repo := repository.NewMachineRepo(db)
	if err := repo.EnsureSchema(); err != nil {
		t.Fatal(err)
	}
	if err := repository.NewHistoryRepo(db).EnsureSchema(); err != nil {
		t.Fatal(err)
	}
	return db
}

func addMachine(t *testing.T, repo *repository.MachineRepo, v *vault.Vault, name string) domain.Machine {
	t.Helper()
	handle, err := v.Seal([]byte("p@ssw0rd"))
	if err != nil {
		t.Fatal(err)
	}
	m := domain.Machine{Name: name, Host: name + ".local", Username: "root", AuthMethod: domain.AuthPassword, SecretHandle: handle}
	if err := repo.Save(&m); err != nil {
		t.Fatal(err)
	}
	return m
}

func newService(t *testing.T, db *sql.DB, v *vault.Vault, mock *sshmock.MockDialer) *ExecService {
	t.Helper()
	repo := repository.NewMachineRepo(db)
	hWriter := NewHistoryWriter(repository.NewHistoryRepo(db), 1, 10)
	t.Cleanup(hWriter.Close)
	return NewExecService(repo, v, mock, hWriter, 5*time.Second)
}

func planOf(cmds ...domain.PlanCommand) domain.CommandPlan {
	return domain.CommandPlan{Intent: "test-intent", Commands: cmds}
}

func TestRunOnMachine_FatalAbortsRemaining(t *testing.T) {
	db := openMemDB(t)
	v := vault.New("master")
	repo := repository.NewMachineRepo(db)
	m := addMachine(t, repo, v, "node1")

	mock := sshmock.NewMockDialer()
	mock.Set("c1", sshmock.MockResult{Stderr: "boom", ExitCode: 1})
	mock.Set("c2", sshmock.MockResult{ExitCode: 0})
	mock.Set("c3", sshmock.MockResult{ExitCode: 0})

	svc := newService(t, db, v, mock)
	report, err := svc.RunOnMachine(context.Background(), m.ID, planOf(
		domain.PlanCommand{Command: "c1"},
		domain.PlanCommand{Command: "c2"},
		domain.PlanCommand{Command: "c3"},
	))
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if report.Outcome != domain.OutcomeAborted {
		t.Fatalf("expected aborted, got %s", report.Outcome)
	}
	if len(report.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(report.Results))
	}
	if report.Results[0].Succeeded || report.Results[0].Skipped {
		t.Fatalf("c1 should be executed and failed: %+v", report.Results[0])
	}
	if !report.Results[1].Skipped || !report.Results[2].Skipped {
		t.Fatalf("c2/c3 must be skipped: %+v", report.Results[1:])
	}
	// c2/c3 绝不能实际执行
	for _, e := range mock.Trace() {
		if e.Command != "c1" {
			t.Fatalf("command %q executed after fatal failure", e.Command)
		}
	}
}

func TestRunOnMachine_NonFatalContinues(t *testing.T) {
	db := openMemDB(t)
	v := vault.New("master")
	repo := repository.NewMachineRepo(db)
	m := addMachine(t, repo, v, "node1")

	mock := sshmock.NewMockDialer()
	mock.Set("nvidia-smi", sshmock.MockResult{Stderr: "no driver", ExitCode: 127})
	mock.Set("lspci", sshmock.MockResult{Stdout: "VGA compatible controller", ExitCode: 0})

	svc := newService(t, db, v, mock)
	report, err := svc.RunOnMachine(context.Background(), m.ID, planOf(
		domain.PlanCommand{Command: "nvidia-smi", NonFatal: true},
		domain.PlanCommand{Command: "lspci"},
	))
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if report.Outcome != domain.OutcomePartialSuccess {
		t.Fatalf("expected partial_success, got %s", report.Outcome)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(report.Results))
	}
	if report.Results[0].Succeeded || !report.Results[1].Succeeded {
		t.Fatalf("unexpected result states: %+v", report.Results)
	}
}

func TestRunOnMachine_AllSucceeded(t *testing.T) {
	db := openMemDB(t)
	v := vault.New("master")
	repo := repository.NewMachineRepo(db)
	m := addMachine(t, repo, v, "node1")

	mock := sshmock.NewMockDialer()
	mock.Set("uname -a", sshmock.MockResult{Stdout: "Linux node1\n"})

	svc := newService(t, db, v, mock)
	report, err := svc.RunOnMachine(context.Background(), m.ID, planOf(domain.PlanCommand{Command: "uname -a"}))
	if err != nil {
		t.Fatal(err)
	}
	if report.Outcome != domain.OutcomeAllSucceeded {
		t.Fatalf("expected all_succeeded, got %s", report.Outcome)
	}
	if report.Results[0].Stdout != "Linux node1\n" {
		t.Fatalf("stdout not captured: %+v", report.Results[0])
	}
}

func TestRunOnMachine_UnknownMachine(t *testing.T) {
	db := openMemDB(t)
	v := vault.New("master")
	svc := newService(t, db, v, sshmock.NewMockDialer())
	_, err := svc.RunOnMachine(context.Background(), "no-such-id", planOf(domain.PlanCommand{Command: "x"}))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunOnMachine_AuthFailure(t *testing.T) {
	db := openMemDB(t)
	v := vault.New("master")
	repo := repository.NewMachineRepo(db)
	m := addMachine(t, repo, v, "node1")

	mock := sshmock.NewMockDialer()
	mock.FailDial(domain.ErrAuthentication)

	svc := newService(t, db, v, mock)
	report, err := svc.RunOnMachine(context.Background(), m.ID, planOf(domain.PlanCommand{Command: "x"}))
	if !errors.Is(err, domain.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if len(report.Results) != 0 {
		t.Fatalf("auth failure must yield zero results, got %d", len(report.Results))
	}
}

func TestRunOnMachine_WrongMasterKey(t *testing.T) {
	db := openMemDB(t)
	sealing := vault.New("correct")
	repo := repository.NewMachineRepo(db)
	m := addMachine(t, repo, sealing, "node1")

	svc := newService(t, db, vault.New("wrong"), sshmock.NewMockDialer())
	_, err := svc.RunOnMachine(context.Background(), m.ID, planOf(domain.PlanCommand{Command: "x"}))
	if !errors.Is(err, domain.ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestRunOnMachine_MissingSecretIsConfigError(t *testing.T) {
	db := openMemDB(t)
	v := vault.New("master")
	repo := repository.NewMachineRepo(db)
	m := domain.Machine{Name: "bare", Host: "h", Username: "u", AuthMethod: domain.AuthPassword}
	if err := repo.Save(&m); err != nil {
		t.Fatal(err)
	}
	svc := newService(t, db, v, sshmock.NewMockDialer())
	_, err := svc.RunOnMachine(context.Background(), m.ID, planOf(domain.PlanCommand{Command: "x"}))
	if !errors.Is(err, domain.ErrInvalidAuth) {
		t.Fatalf("expected ErrInvalidAuth, got %v", err)
	}
}

// Test same-machine runs never interleave commands from two plans
func TestRunOnMachine_SameMachineSerialized(t *testing.T) {
	db := openMemDB(t)
	v := vault.New("master")
	repo := repository.NewMachineRepo(db)
	m := addMachine(t, repo, v, "node1")

	mock := sshmock.NewMockDialer()
	for _, c := range []string{"a1", "a2", "b1", "b2"} {
		mock.Set(c, sshmock.MockResult{ExitCode: 0, DelayMs: 20})
	}

	svc := newService(t, db, v, mock)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = svc.RunOnMachine(context.Background(), m.ID, planOf(domain.PlanCommand{Command: "a1"}, domain.PlanCommand{Command: "a2"}))
	}()
	go func() {
		defer wg.Done()
		_, _ = svc.RunOnMachine(context.Background(), m.ID, planOf(domain.PlanCommand{Command: "b1"}, domain.PlanCommand{Command: "b2"}))
	}()
	wg.Wait()

	var seq []string
	for _, e := range mock.Trace() {
		seq = append(seq, e.Command)
	}
	joined := strings.Join(seq, ",")
	if joined != "a1,a2,b1,b2" && joined != "b1,b2,a1,a2" {
		t.Fatalf("plans interleaved on one machine: %s", joined)
	}
}

// Test distinct machines may overlap in wall-clock time
func TestRunOnMachine_DistinctMachinesConcurrent(t *testing.T) {
	db := openMemDB(t)
	v := vault.New("master")
	repo := repository.NewMachineRepo(db)
	m1 := addMachine(t, repo, v, "node1")
	m2 := addMachine(t, repo, v, "node2")

	mock := sshmock.NewMockDialer()
	mock.Set("slow", sshmock.MockResult{ExitCode: 0, DelayMs: 400})

	svc := newService(t, db, v, mock)
	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(2)
	for _, id := range []string{m1.ID, m2.ID} {
		go func(mid string) {
			defer wg.Done()
			_, _ = svc.RunOnMachine(context.Background(), mid, planOf(domain.PlanCommand{Command: "slow"}))
		}(id)
	}
	wg.Wait()
	if elapsed := time.Since(start); elapsed > 700*time.Millisecond {
		t.Fatalf("distinct machines did not overlap: %v", elapsed)
	}
}

// Test job start & cancel using a slow mock command
func TestExecService_JobCancel(t *testing.T) {
	db := openMemDB(t)
	v := vault.New("master")
	repo := repository.NewMachineRepo(db)
	m := addMachine(t, repo, v, "node1")

	mock := sshmock.NewMockDialer()
	mock.Set("sleep", sshmock.MockResult{Stdout: "done\n", ExitCode: 0, DelayMs: 3000})
	mock.Set("after", sshmock.MockResult{ExitCode: 0})

	svc := newService(t, db, v, mock)
	got := make(chan domain.ExecutionReport, 1)
	jobID := svc.StartRun("", m.ID, planOf(domain.PlanCommand{Command: "sleep"}, domain.PlanCommand{Command: "after"}), func(r domain.ExecutionReport, err error) {
		got <- r
	})
	time.Sleep(200 * time.Millisecond)
	if !svc.Cancel(jobID) {
		t.Fatalf("cancel returned false")
	}
	select {
	case r := <-got:
		if r.Outcome != domain.OutcomeAborted {
			t.Fatalf("cancelled run must abort, got %s", r.Outcome)
		}
		if len(r.Results) != 2 || !r.Results[1].Skipped {
			t.Fatalf("remaining command must be skipped: %+v", r.Results)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not finish after cancel")
	}
	deadline := time.Now().Add(time.Second)
	for svc.HasJob(jobID) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if svc.HasJob(jobID) {
		t.Fatalf("job still present after cancel")
	}
}

func TestExecService_HistoryWritten(t *testing.T) {
	db := openMemDB(t)
	v := vault.New("master")
	repo := repository.NewMachineRepo(db)
	m := addMachine(t, repo, v, "node1")

	mock := sshmock.NewMockDialer()
	mock.Set("hostname", sshmock.MockResult{Stdout: "node1\n"})

	svc := newService(t, db, v, mock)
	if _, err := svc.RunOnMachine(context.Background(), m.ID, planOf(domain.PlanCommand{Command: "hostname"})); err != nil {
		t.Fatal(err)
	}
	// 等待异步写入 flush
	hRepo := repository.NewHistoryRepo(db)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rows, err := hRepo.ListRecent(10)
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) > 0 {
			if rows[0].Command != "hostname" || rows[0].MachineID != m.ID {
				t.Fatalf("unexpected history row: %+v", rows[0])
			}
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("history not written")
}
