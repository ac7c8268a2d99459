package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// ErrClosed 传输已关闭后继续写入
var ErrClosed = errors.New("transport closed")

// Transport 会话引擎使用的字节流契约，SSH 与 Telnet 两种实现可互换
type Transport interface {
	// ReadAvailable 最多等待 max，返回期间到达的全部字节；超时返回 (nil, nil)，对端关闭后返回 io.EOF
	ReadAvailable(max time.Duration) ([]byte, error)
	Write(p []byte) error
	IsClosed() bool
	Close() error
}

// ExitReporter 能报告远端退出码的传输（SSH 通道）
type ExitReporter interface {
	// ExitStatus 退出码尚未到达时 ok 为 false
	ExitStatus() (code int, ok bool)
}

// Credentials 设备登录凭据
type Credentials struct {
	Username       string `mapstructure:"username" json:"username"`
	Password       string `mapstructure:"password" json:"-"`
	EnablePassword string `mapstructure:"enable_password" json:"-"`
	KeyFile        string `mapstructure:"key_file" json:"key_file,omitempty"`
	KeyPassphrase  string `mapstructure:"key_passphrase" json:"-"`
}

// Protocol 接入协议
type Protocol string

const (
	SSH    Protocol = "ssh"
	Telnet Protocol = "telnet"
)

// Target 一次连接的目标
type Target struct {
	Host        string
	Port        int
	Protocol    Protocol
	Credentials Credentials
	// Command 非空时以 exec 方式运行该命令（仅 SSH，无 PTY）
	Command string
}

// Addr host:port
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Opener 建立传输
type Opener interface {
	Open(ctx context.Context, target Target) (Transport, error)
}

// Options 传输层参数
type Options struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	SSH            SSHOptions    `mapstructure:"ssh"`
}

// Dialer 按协议建立传输；设置 Gate 时同一主机的连接串行
type Dialer struct {
	Options Options
	Gate    *Gate
}

// NewDialer 创建 Dialer
func NewDialer(opts Options, gate *Gate) *Dialer {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &Dialer{Options: opts, Gate: gate}
}

// Open 实现 Opener
func (d *Dialer) Open(ctx context.Context, target Target) (Transport, error) {
	release := func() {}
	if d.Gate != nil {
		r, err := d.Gate.Acquire(ctx, target.Host)
		if err != nil {
			return nil, err
		}
		release = r
	}

	var (
		t   Transport
		err error
	)
	switch target.Protocol {
	case SSH, "":
		t, err = DialSSH(ctx, target, d.Options)
	case Telnet:
		if target.Command != "" {
			err = fmt.Errorf("telnet does not support exec commands")
			break
		}
		t, err = DialTelnet(ctx, target, d.Options)
	default:
		err = fmt.Errorf("unsupported protocol %q", target.Protocol)
	}
	if err != nil {
		release()
		return nil, err
	}
	return &gated{Transport: t, release: release}, nil
}

// gated 关闭传输时归还主机槽位
type gated struct {
	Transport
	release func()
	once    sync.Once
}

func (g *gated) Close() error {
	err := g.Transport.Close()
	g.once.Do(g.release)
	return err
}

// Stderr 透传 exec 通道的标准错误
func (g *gated) Stderr() string {
	if r, ok := g.Transport.(interface{ Stderr() string }); ok {
		return r.Stderr()
	}
	return ""
}

// ExitStatus 透传底层传输的退出码
func (g *gated) ExitStatus() (int, bool) {
	if r, ok := g.Transport.(ExitReporter); ok {
		return r.ExitStatus()
	}
	return 0, false
}

// Unwrap 返回底层传输
func (g *gated) Unwrap() Transport { return g.Transport }
