package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/QingMing-Bot/nlssh/internal/domain"
)

const machineCols = `id, name, host, port, username, auth_method, COALESCE(secret_handle,''), COALESCE(remark,''), COALESCE(created_at,'')`

// MachineRepo sqlite 机器注册表。秘密只以 vault 句柄形式经手，本层不加解密。
type MachineRepo struct {
	db *sql.DB
}

func NewMachineRepo(db *sql.DB) *MachineRepo {
	return &MachineRepo{db: db}
}

// EnsureSchema 建表（幂等），应用启动时调用。
func (r *MachineRepo) EnsureSchema() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS machines(
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        host TEXT NOT NULL,
        port INTEGER DEFAULT 22,
        username TEXT NOT NULL,
        auth_method TEXT NOT NULL,
        secret_handle TEXT,
        remark TEXT,
        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("ensure machines schema: %w", err)
	}
	return nil
}

// GetByID 按 id 查找；不存在返回 domain.ErrNotFound。
func (r *MachineRepo) GetByID(id string) (domain.Machine, error) {
	row := r.db.QueryRow(`SELECT `+machineCols+` FROM machines WHERE id = ? LIMIT 1`, id)
	m, err := scanMachine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Machine{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		return domain.Machine{}, err
	}
	return m, nil
}

// ListAll 按创建顺序返回全部机器。
func (r *MachineRepo) ListAll() ([]domain.Machine, error) {
	rows, err := r.db.Query(`SELECT ` + machineCols + ` FROM machines ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMachines(rows)
}

// SearchByName 按名称模糊查找。空串等于 ListAll。
func (r *MachineRepo) SearchByName(name string) ([]domain.Machine, error) {
	rows, err := r.db.Query(`SELECT `+machineCols+` FROM machines WHERE name LIKE ? ORDER BY created_at ASC, id ASC`, "%"+name+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMachines(rows)
}

// Save 插入或更新。ID 为空时生成新 uuid（add 语义），否则按 id 更新。
func (r *MachineRepo) Save(m *domain.Machine) error {
	if strings.TrimSpace(m.Host) == "" || strings.TrimSpace(m.Username) == "" {
		return errors.New("machine host/username empty")
	}
	if !m.AuthMethod.Valid() {
		return fmt.Errorf("%w: auth_method %q", domain.ErrInvalidAuth, m.AuthMethod)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
		m.CreatedAt = time.Now()
		_, err := r.db.Exec(`INSERT INTO machines (id, name, host, port, username, auth_method, secret_handle, remark, created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
			m.ID, m.Name, m.Host, m.EffectivePort(), m.Username, string(m.AuthMethod), m.SecretHandle, m.Remark, m.CreatedAt.Format(time.RFC3339Nano))
		return err
	}
	res, err := r.db.Exec(`UPDATE machines SET name=?, host=?, port=?, username=?, auth_method=?, secret_handle=?, remark=? WHERE id=?`,
		m.Name, m.Host, m.EffectivePort(), m.Username, string(m.AuthMethod), m.SecretHandle, m.Remark, m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, m.ID)
	}
	return nil
}

// BulkUpsert 批量导入：按 name 匹配已有记录更新，否则插入。
// 导入条目未带句柄时保留原句柄，避免导入覆盖掉已存的凭据。
func (r *MachineRepo) BulkUpsert(ms []domain.Machine) error {
	if len(ms) == 0 {
		return nil
	}
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for i := range ms {
		m := &ms[i]
		var exID, exHandle string
		row := tx.QueryRow(`SELECT id, COALESCE(secret_handle,'') FROM machines WHERE name = ? LIMIT 1`, m.Name)
		_ = row.Scan(&exID, &exHandle)
		if m.SecretHandle == "" {
			m.SecretHandle = exHandle
		}
		if exID == "" {
			m.ID = uuid.NewString()
			m.CreatedAt = time.Now()
			if _, err = tx.Exec(`INSERT INTO machines (id, name, host, port, username, auth_method, secret_handle, remark, created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
				m.ID, m.Name, m.Host, m.EffectivePort(), m.Username, string(m.AuthMethod), m.SecretHandle, m.Remark, m.CreatedAt.Format(time.RFC3339Nano)); err != nil {
				return err
			}
		} else {
			m.ID = exID
			if _, err = tx.Exec(`UPDATE machines SET host=?, port=?, username=?, auth_method=?, secret_handle=?, remark=? WHERE id=?`,
				m.Host, m.EffectivePort(), m.Username, string(m.AuthMethod), m.SecretHandle, m.Remark, m.ID); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// DeleteByID 删除机器；此后对该 id 的查找立即返回 ErrNotFound。
func (r *MachineRepo) DeleteByID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("empty id")
	}
	res, err := r.db.Exec(`DELETE FROM machines WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return nil
}

type rowScanner interface{ Scan(...any) error }

func scanMachine(row rowScanner) (domain.Machine, error) {
	var m domain.Machine
	var method, createdAtStr string
	if err := row.Scan(&m.ID, &m.Name, &m.Host, &m.Port, &m.Username, &method, &m.SecretHandle, &m.Remark, &createdAtStr); err != nil {
		return domain.Machine{}, err
	}
	m.AuthMethod = domain.AuthMethod(method)
	if createdAtStr != "" {
		if ts, e := time.Parse(time.RFC3339Nano, createdAtStr); e == nil {
			m.CreatedAt = ts
		}
	}
	return m, nil
}

func collectMachines(rows *sql.Rows) ([]domain.Machine, error) {
	var list []domain.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
