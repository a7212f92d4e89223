package domain

import "time"

// AuthMethod 机器声明的认证方式；连接时只尝试声明的方式，不做回退。
type AuthMethod string

const (
	AuthPassword   AuthMethod = "password"
	AuthPrivateKey AuthMethod = "key"
)

// Valid 判断是否为已知认证方式。
func (a AuthMethod) Valid() bool {
	return a == AuthPassword || a == AuthPrivateKey
}

// Machine 统一的机器领域模型。
// SecretHandle 为 vault 封装后的不透明句柄（enc: 前缀），不含明文。
type Machine struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Host         string     `json:"host"`
	Port         int        `json:"port"` // 0 视为 22
	Username     string     `json:"username"`
	AuthMethod   AuthMethod `json:"auth_method"`
	SecretHandle string     `json:"-"` // 不序列化
	Remark       string     `json:"remark,omitempty"`
	CreatedAt    time.Time  `json:"created_at,omitempty"`
}

// EffectivePort 返回实际端口（默认 22）。
func (m Machine) EffectivePort() int {
	if m.Port > 0 {
		return m.Port
	}
	return 22
}

// MachineSummary 列表展示用的脱敏视图。
type MachineSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
}

// Summary 生成脱敏视图。
func (m Machine) Summary() MachineSummary {
	return MachineSummary{ID: m.ID, Name: m.Name, Host: m.Host, Port: m.EffectivePort(), Username: m.Username}
}
