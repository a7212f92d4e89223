// Package ssh 封装远程 shell 传输：按声明的认证方式建连，在一条连接上
// 逐条执行命令（每条命令一个 session）。
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	gssh "golang.org/x/crypto/ssh"

	"github.com/QingMing-Bot/nlssh/internal/domain"
)

// Target 一次建连所需的全部参数。Secret 为解密后的明文，调用方负责清零。
type Target struct {
	Host       string
	Port       int
	User       string
	AuthMethod domain.AuthMethod
	Secret     []byte
}

func (t Target) addr() string {
	port := t.Port
	if port <= 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Conn 一条已认证的远程会话。Close 必须在所有退出路径上调用。
type Conn interface {
	// Run 执行单条命令并返回 stdout/stderr/exitCode。
	// 超时或取消返回 domain.ErrCommandTimeout / ctx 错误；传输中断返回 domain.ErrConnectionLost。
	Run(ctx context.Context, cmd string, timeout time.Duration) (stdout, stderr string, exitCode int, err error)
	Close() error
}

// Dialer 抽象建连，便于替换真实 SSH / Mock。
type Dialer interface {
	Dial(ctx context.Context, t Target) (Conn, error)
}

// NetDialer 基于 golang.org/x/crypto/ssh 的真实实现。
type NetDialer struct {
	// HandshakeTimeout 握手超时，<=0 取 10s。
	HandshakeTimeout time.Duration
}

func NewDialer() *NetDialer { return &NetDialer{} }

// Dial 只尝试 Target 声明的认证方式，认证被拒返回 domain.ErrAuthentication。
func (d *NetDialer) Dial(ctx context.Context, t Target) (Conn, error) {
	if t.User == "" || t.Host == "" {
		return nil, errors.New("ssh: user/host empty")
	}
	auth, err := buildAuth(t)
	if err != nil {
		return nil, err
	}
	hto := d.HandshakeTimeout
	if hto <= 0 {
		hto = 10 * time.Second
	}
	conf := &gssh.ClientConfig{
		User:            t.User,
		Auth:            auth,
		HostKeyCallback: gssh.InsecureIgnoreHostKey(),
		Timeout:         hto,
	}
	nd := net.Dialer{Timeout: hto}
	nc, err := nd.DialContext(ctx, "tcp", t.addr())
	if err != nil {
		return nil, fmt.Errorf("ssh: dial %s: %w", t.addr(), err)
	}
	cc, chans, reqs, err := gssh.NewClientConn(nc, t.addr(), conf)
	if err != nil {
		_ = nc.Close()
		if strings.Contains(err.Error(), "unable to authenticate") ||
			strings.Contains(err.Error(), "password rejected") {
			return nil, fmt.Errorf("%w: %s@%s", domain.ErrAuthentication, t.User, t.addr())
		}
		return nil, fmt.Errorf("ssh: handshake %s: %w", t.addr(), err)
	}
	return &netConn{client: gssh.NewClient(cc, chans, reqs)}, nil
}

func buildAuth(t Target) ([]gssh.AuthMethod, error) {
	switch t.AuthMethod {
	case domain.AuthPassword:
		return []gssh.AuthMethod{gssh.Password(string(t.Secret))}, nil
	case domain.AuthPrivateKey:
		signer, err := gssh.ParsePrivateKey(t.Secret)
		if err != nil {
			return nil, fmt.Errorf("ssh: parse private key: %w", err)
		}
		return []gssh.AuthMethod{gssh.PublicKeys(signer)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAuth, t.AuthMethod)
	}
}

type netConn struct {
	client *gssh.Client
}

func (c *netConn) Close() error { return c.client.Close() }

func (c *netConn) Run(ctx context.Context, cmd string, timeout time.Duration) (string, string, int, error) {
	if cmd == "" {
		return "", "", -1, errors.New("ssh: cmd empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := c.client.NewSession()
	if err != nil {
		return "", "", -1, fmt.Errorf("%w: %v", domain.ErrConnectionLost, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-cctx.Done():
		// 强制关闭底层连接以中断挂起的命令
		_ = c.client.Close()
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return stdout.String(), stderr.String(), -1, domain.ErrCommandTimeout
		}
		return stdout.String(), stderr.String(), -1, cctx.Err()
	case err = <-done:
	}

	exitCode := 0
	if err != nil {
		var ee *gssh.ExitError
		if errors.As(err, &ee) {
			exitCode = ee.ExitStatus()
		} else {
			return stdout.String(), stderr.String(), -1, fmt.Errorf("%w: %v", domain.ErrConnectionLost, err)
		}
	}
	return stdout.String(), stderr.String(), exitCode, nil
}
