package config

// 统一配置加载：当前实现仅读取环境变量；主口令只经 MasterKey() 透传，
// 不进入任何持久化输出。

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Config 保存运行时关键参数。
type Config struct {
	DataDir              string // 数据目录
	IntentTablePath      string // 意图表覆盖文件（空则用内嵌默认表）
	CommandTimeoutSec    int    // 单条命令超时（秒）
	HistoryRetentionDays int
	HistoryMaxRows       int
	HistoryFlushInterval int
	HistoryBatchSize     int
}

var (
	once   sync.Once
	global *Config
)

// Load 读取全局配置（只初始化一次）。
// 环境变量：
//
//	NLSSH_DATA_DIR          数据目录 (默认 data)
//	NLSSH_INTENTS           意图表 YAML 路径 (默认内嵌)
//	NLSSH_CMD_TIMEOUT       单命令超时秒数 (默认 300)
//	NLSSH_HISTORY_RETENTION_DAYS / _MAX_ROWS / _FLUSH_INTERVAL / _BATCH_SIZE
func Load() *Config {
	once.Do(func() {
		c := &Config{
			DataDir:              envOr("NLSSH_DATA_DIR", "data"),
			IntentTablePath:      envOr("NLSSH_INTENTS", ""),
			CommandTimeoutSec:    envInt("NLSSH_CMD_TIMEOUT", 300),
			HistoryRetentionDays: envInt("NLSSH_HISTORY_RETENTION_DAYS", 30),
			HistoryMaxRows:       envInt("NLSSH_HISTORY_MAX_ROWS", 10000),
			HistoryFlushInterval: envInt("NLSSH_HISTORY_FLUSH_INTERVAL", 2),
			HistoryBatchSize:     envInt("NLSSH_HISTORY_BATCH_SIZE", 20),
		}
		_ = os.MkdirAll(c.DataDir, 0700)
		global = c
	})
	return global
}

// DBPath 返回 sqlite 文件路径。
func (c *Config) DBPath() string { return filepath.Join(c.DataDir, "machines.db") }

// MasterKey 返回操作员主口令（NLSSH_MASTER_KEY），每次直接读环境变量，不缓存。
func (c *Config) MasterKey() string { return os.Getenv("NLSSH_MASTER_KEY") }

// Helpers
func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
