package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/QingMing-Bot/nlssh/internal/domain"
)

type HistoryRepo struct{ db *sql.DB }

func NewHistoryRepo(db *sql.DB) *HistoryRepo { return &HistoryRepo{db: db} }

// EnsureSchema 建表（幂等）。
func (r *HistoryRepo) EnsureSchema() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS exec_history(
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        machine_id TEXT,
        intent TEXT,
        command TEXT,
        stdout TEXT,
        stderr TEXT,
        exit_code INTEGER,
        skipped INTEGER DEFAULT 0,
        error_text TEXT,
        started_at TIMESTAMP,
        finished_at TIMESTAMP,
        duration_ms INTEGER
    )`)
	if err != nil {
		return fmt.Errorf("ensure exec_history schema: %w", err)
	}
	return nil
}

func (r *HistoryRepo) Insert(h *domain.ExecHistory) error {
	now := time.Now()
	if h.StartedAt.IsZero() {
		h.StartedAt = now
	}
	if h.FinishedAt.IsZero() {
		h.FinishedAt = now
	}
	res, err := r.db.Exec(`INSERT INTO exec_history(machine_id,intent,command,stdout,stderr,exit_code,skipped,error_text,started_at,finished_at,duration_ms)
        VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		h.MachineID, h.Intent, h.Command, h.Stdout, h.Stderr, h.ExitCode, boolToInt(h.Skipped), h.ErrorText, h.StartedAt, h.FinishedAt, h.DurationMs)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	h.ID = id
	return nil
}

func (r *HistoryRepo) ListRecent(limit int) ([]domain.ExecHistory, error) {
	return r.ListFiltered(limit, "", "")
}

// ListFiltered 支持按机器 id 与命令关键字过滤（模糊匹配），传空表示忽略该条件。
func (r *HistoryRepo) ListFiltered(limit int, machineID, cmdLike string) ([]domain.ExecHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	where := ""
	args := []any{}
	if machineID != "" {
		where += " AND machine_id = ?"
		args = append(args, machineID)
	}
	if cmdLike != "" {
		where += " AND command LIKE ?"
		args = append(args, "%"+cmdLike+"%")
	}
	q := `SELECT id,machine_id,intent,command,stdout,stderr,exit_code,skipped,COALESCE(error_text,''),started_at,finished_at,duration_ms FROM exec_history WHERE 1=1` + where + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []domain.ExecHistory
	for rows.Next() {
		var h domain.ExecHistory
		var skipped int
		if err := rows.Scan(&h.ID, &h.MachineID, &h.Intent, &h.Command, &h.Stdout, &h.Stderr, &h.ExitCode, &skipped, &h.ErrorText, &h.StartedAt, &h.FinishedAt, &h.DurationMs); err != nil {
			return nil, err
		}
		h.Skipped = skipped != 0
		list = append(list, h)
	}
	return list, rows.Err()
}

// Cleanup 根据保留天数与最大行数裁剪。
func (r *HistoryRepo) Cleanup(retentionDays, maxRows int) error {
	if retentionDays > 0 {
		_, _ = r.db.Exec(`DELETE FROM exec_history WHERE started_at < datetime('now', ?)`, fmt.Sprintf("-%d days", retentionDays))
	}
	if maxRows > 0 {
		_, _ = r.db.Exec(`DELETE FROM exec_history WHERE id IN (SELECT id FROM exec_history ORDER BY id DESC LIMIT -1 OFFSET ?)`, maxRows)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
