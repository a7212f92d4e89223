package ssh

import (
	"context"
	"sync"
	"time"
)

// MockDialer 用于测试：按命令脚本化返回结果，并记录执行轨迹。
type MockDialer struct {
	mu      sync.Mutex
	scripts map[string]MockResult // key: command
	dialErr error
	trace   []TraceEntry
}

// MockResult 单条命令的脚本结果。
type MockResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
	DelayMs  int
}

// TraceEntry 一次命令执行的记录（host + command），用于断言顺序与互斥。
type TraceEntry struct {
	Host    string
	Command string
}

func NewMockDialer() *MockDialer { return &MockDialer{scripts: map[string]MockResult{}} }

func (m *MockDialer) Set(cmd string, res MockResult) {
	m.mu.Lock()
	m.scripts[cmd] = res
	m.mu.Unlock()
}

// FailDial 让后续 Dial 直接返回 err（模拟认证/网络失败）。
func (m *MockDialer) FailDial(err error) {
	m.mu.Lock()
	m.dialErr = err
	m.mu.Unlock()
}

// Trace 返回执行轨迹快照。
func (m *MockDialer) Trace() []TraceEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TraceEntry, len(m.trace))
	copy(out, m.trace)
	return out
}

func (m *MockDialer) Dial(_ context.Context, t Target) (Conn, error) {
	m.mu.Lock()
	err := m.dialErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &mockConn{d: m, host: t.Host}, nil
}

type mockConn struct {
	d    *MockDialer
	host string
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Run(ctx context.Context, cmd string, _ time.Duration) (string, string, int, error) {
	c.d.mu.Lock()
	r, ok := c.d.scripts[cmd]
	c.d.mu.Unlock()
	if !ok {
		r = MockResult{ExitCode: 127, Stderr: "command not found"}
	}
	if r.DelayMs > 0 {
		select {
		case <-ctx.Done():
			return "", "", -1, ctx.Err()
		case <-time.After(time.Duration(r.DelayMs) * time.Millisecond):
		}
	}
	c.d.mu.Lock()
	c.d.trace = append(c.d.trace, TraceEntry{Host: c.host, Command: cmd})
	c.d.mu.Unlock()
	return r.Stdout, r.Stderr, r.ExitCode, r.Err
}
