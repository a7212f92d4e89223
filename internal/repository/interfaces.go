package repository

import "github.com/QingMing-Bot/nlssh/internal/domain"

// MachineRepoIface 抽象机器注册表。
type MachineRepoIface interface {
	GetByID(string) (domain.Machine, error)
	ListAll() ([]domain.Machine, error)
	SearchByName(string) ([]domain.Machine, error)
	Save(*domain.Machine) error
	BulkUpsert([]domain.Machine) error
	DeleteByID(string) error
	EnsureSchema() error
}

// HistoryRepoIface 抽象执行历史仓库。
type HistoryRepoIface interface {
	Insert(*domain.ExecHistory) error
	ListRecent(int) ([]domain.ExecHistory, error)
	ListFiltered(int, string, string) ([]domain.ExecHistory, error)
	Cleanup(int, int) error
	EnsureSchema() error
}

// 编译期断言本地实现满足接口
var _ MachineRepoIface = (*MachineRepo)(nil)
var _ HistoryRepoIface = (*HistoryRepo)(nil)
