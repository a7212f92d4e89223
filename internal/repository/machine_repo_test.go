package repository

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/QingMing-Bot/nlssh/internal/domain"
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
	repo := NewMachineRepo(db)
	if err := repo.EnsureSchema(); err != nil {
		t.Fatal(err)
	}
	if err := NewHistoryRepo(db).EnsureSchema(); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestMachineRepo_SaveAndGet(t *testing.T) {
	db := openMemDB(t)
	repo := NewMachineRepo(db)
	m := domain.Machine{Name: "node1", Host: "10.0.0.1", Username: "root", AuthMethod: domain.AuthPassword, SecretHandle: "enc:abc"}
	if err := repo.Save(&m); err != nil {
		t.Fatalf("save error: %v", err)
	}
	if m.ID == "" {
		t.Fatal("expected generated id")
	}
	got, err := repo.GetByID(m.ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got.Host != "10.0.0.1" || got.EffectivePort() != 22 || got.SecretHandle != "enc:abc" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestMachineRepo_UniqueIDs(t *testing.T) {
	db := openMemDB(t)
	repo := NewMachineRepo(db)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		m := domain.Machine{Name: "n", Host: "h", Username: "u", AuthMethod: domain.AuthPrivateKey}
		if err := repo.Save(&m); err != nil {
			t.Fatal(err)
		}
		if seen[m.ID] {
			t.Fatalf("duplicate id %s", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestMachineRepo_DeleteInvalidatesLookup(t *testing.T) {
	db := openMemDB(t)
	repo := NewMachineRepo(db)
	m := domain.Machine{Name: "gone", Host: "h", Username: "u", AuthMethod: domain.AuthPassword}
	if err := repo.Save(&m); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteByID(m.ID); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if _, err := repo.GetByID(m.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := repo.DeleteByID(m.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestMachineRepo_GetUnknown(t *testing.T) {
	db := openMemDB(t)
	repo := NewMachineRepo(db)
	if _, err := repo.GetByID("no-such-id"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMachineRepo_SaveRejectsBadAuth(t *testing.T) {
	db := openMemDB(t)
	repo := NewMachineRepo(db)
	m := domain.Machine{Name: "bad", Host: "h", Username: "u", AuthMethod: "agent"}
	if err := repo.Save(&m); !errors.Is(err, domain.ErrInvalidAuth) {
		t.Fatalf("expected ErrInvalidAuth, got %v", err)
	}
}

func TestMachineRepo_ListOrdered(t *testing.T) {
	db := openMemDB(t)
	repo := NewMachineRepo(db)
	names := []string{"a", "b", "c"}
	for _, n := range names {
		m := domain.Machine{Name: n, Host: "h-" + n, Username: "u", AuthMethod: domain.AuthPassword}
		if err := repo.Save(&m); err != nil {
			t.Fatal(err)
		}
	}
	list, err := repo.ListAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 machines, got %d", len(list))
	}
}

func TestMachineRepo_BulkUpsertKeepsHandle(t *testing.T) {
	db := openMemDB(t)
	repo := NewMachineRepo(db)
	m := domain.Machine{Name: "node1", Host: "10.0.0.1", Username: "root", AuthMethod: domain.AuthPassword, SecretHandle: "enc:keep"}
	if err := repo.Save(&m); err != nil {
		t.Fatal(err)
	}
	// 导入同名条目不带句柄，不应清掉已存凭据
	if err := repo.BulkUpsert([]domain.Machine{{Name: "node1", Host: "10.0.0.9", Username: "admin", AuthMethod: domain.AuthPassword}}); err != nil {
		t.Fatal(err)
	}
	got, err := repo.GetByID(m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Host != "10.0.0.9" || got.SecretHandle != "enc:keep" {
		t.Fatalf("upsert lost fields: %+v", got)
	}
}

func TestHistoryRepo_InsertAndFilter(t *testing.T) {
	db := openMemDB(t)
	hRepo := NewHistoryRepo(db)
	for _, c := range []string{"uname -a", "lspci", "uname -a"} {
		h := domain.ExecHistory{MachineID: "m1", Intent: "system-info", Command: c, ExitCode: 0}
		if err := hRepo.Insert(&h); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := hRepo.ListFiltered(10, "m1", "uname")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 filtered rows, got %d", len(rows))
	}
	// maxRows 裁剪
	if err := hRepo.Cleanup(0, 1); err != nil {
		t.Fatal(err)
	}
	rows, err = hRepo.ListRecent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row remained, got %d", len(rows))
	}
}
