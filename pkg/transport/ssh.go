package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/netsurvey/netsurvey/pkg/logger"
)

// SSHOptions SSH 握手参数
type SSHOptions struct {
	KnownHostsPath     string `mapstructure:"known_hosts_path"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	// AllowLegacyAlgorithms 启用老旧设备仍在使用的 CBC/SHA1 等算法
	AllowLegacyAlgorithms bool     `mapstructure:"allow_legacy_algorithms"`
	Ciphers               []string `mapstructure:"ciphers"`
	KeyExchanges          []string `mapstructure:"key_exchanges"`
	HostKeyAlgorithms     []string `mapstructure:"host_key_algorithms"`
	Term                  string   `mapstructure:"term"`
}

// 老旧网络设备常见算法，优先级从高到低
var (
	legacyKeyExchanges = []string{
		"curve25519-sha256",
		"ecdh-sha2-nistp256",
		"ecdh-sha2-nistp384",
		"ecdh-sha2-nistp521",
		"diffie-hellman-group14-sha256",
		"diffie-hellman-group-exchange-sha256",
		"diffie-hellman-group14-sha1",
		"diffie-hellman-group-exchange-sha1",
		"diffie-hellman-group1-sha1",
	}
	legacyCiphers = []string{
		"aes128-gcm@openssh.com",
		"aes256-gcm@openssh.com",
		"chacha20-poly1305@openssh.com",
		"aes128-ctr",
		"aes192-ctr",
		"aes256-ctr",
		"aes128-cbc",
		"3des-cbc",
	}
	legacyHostKeys = []string{
		"ssh-ed25519",
		"ecdsa-sha2-nistp256",
		"ecdsa-sha2-nistp384",
		"ecdsa-sha2-nistp521",
		"rsa-sha2-512",
		"rsa-sha2-256",
		"ssh-rsa",
	}
)

// PTY 终端类型回退顺序
var termFallback = []string{"vt100", "xterm", "ansi", "dumb"}

// ValidateSSHOptions 检查显式配置的算法是否被支持
func ValidateSSHOptions(o SSHOptions) error {
	supported := ssh.SupportedAlgorithms()
	ciphers, kex, hostKeys := supported.Ciphers, supported.KeyExchanges, supported.HostKeys
	if o.AllowLegacyAlgorithms {
		insecure := ssh.InsecureAlgorithms()
		ciphers = slices.Concat(ciphers, insecure.Ciphers)
		kex = slices.Concat(kex, insecure.KeyExchanges)
		hostKeys = slices.Concat(hostKeys, insecure.HostKeys)
	}
	check := func(kind string, configured, valid []string) error {
		for _, a := range configured {
			if !slices.Contains(valid, a) {
				return fmt.Errorf("unsupported %s: %s", kind, a)
			}
		}
		return nil
	}
	if err := check("cipher", o.Ciphers, ciphers); err != nil {
		return err
	}
	if err := check("key exchange", o.KeyExchanges, kex); err != nil {
		return err
	}
	return check("host key algorithm", o.HostKeyAlgorithms, hostKeys)
}

func hostKeyCallback(o SSHOptions) (ssh.HostKeyCallback, error) {
	if o.KnownHostsPath != "" {
		cb, err := knownhosts.New(o.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		return cb, nil
	}
	if o.InsecureSkipVerify {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return nil, errors.New("no SSH host key policy: set known_hosts_path or insecure_skip_verify")
}

func authMethods(c Credentials) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if c.KeyFile != "" {
		key, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		var signer ssh.Signer
		if c.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(c.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		pw := c.Password
		// 部分设备只接受 keyboard-interactive，所有问题统一回答密码
		methods = append(methods,
			ssh.Password(pw),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = pw
				}
				return answers, nil
			}),
		)
	}
	if len(methods) == 0 {
		return nil, errors.New("no SSH authentication method configured")
	}
	return methods, nil
}

func clientConfig(t Target, opts Options) (*ssh.ClientConfig, error) {
	o := opts.SSH
	if err := ValidateSSHOptions(o); err != nil {
		return nil, err
	}
	cb, err := hostKeyCallback(o)
	if err != nil {
		return nil, err
	}
	auth, err := authMethods(t.Credentials)
	if err != nil {
		return nil, err
	}
	cfg := &ssh.ClientConfig{
		User:              t.Credentials.Username,
		Auth:              auth,
		HostKeyCallback:   cb,
		Timeout:           opts.ConnectTimeout,
		HostKeyAlgorithms: o.HostKeyAlgorithms,
	}
	cfg.Ciphers = o.Ciphers
	cfg.KeyExchanges = o.KeyExchanges
	if o.AllowLegacyAlgorithms {
		if len(cfg.Ciphers) == 0 {
			cfg.Ciphers = legacyCiphers
		}
		if len(cfg.KeyExchanges) == 0 {
			cfg.KeyExchanges = legacyKeyExchanges
		}
		if len(cfg.HostKeyAlgorithms) == 0 {
			cfg.HostKeyAlgorithms = legacyHostKeys
		}
	}
	return cfg, nil
}

// SSHTransport SSH 通道上的传输：交互模式为 PTY shell，exec 模式运行单条命令
type SSHTransport struct {
	*stream
	client  *ssh.Client
	session *ssh.Session
	stderr  *syncBuffer

	exited   chan struct{}
	exitCode int
	exitOK   bool
}

// DialSSH 建立连接、认证并打开会话通道
func DialSSH(ctx context.Context, t Target, opts Options) (*SSHTransport, error) {
	cfg, err := clientConfig(t, opts)
	if err != nil {
		return nil, err
	}
	if opts.SSH.InsecureSkipVerify && opts.SSH.KnownHostsPath == "" {
		logger.Debug("SSH host key verification disabled", "host", t.Host)
	}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.Addr(), err)
	}
	// 握手阶段同样受超时约束
	if opts.ConnectTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(opts.ConnectTimeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, t.Addr(), cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", t.Addr(), err)
	}
	_ = conn.SetDeadline(time.Time{})
	client := ssh.NewClient(sshConn, chans, reqs)

	st, err := openSession(client, t, opts)
	if err != nil {
		client.Close()
		return nil, err
	}
	if opts.KeepAlive > 0 {
		go st.keepAlive(opts.KeepAlive)
	}
	return st, nil
}

func openSession(client *ssh.Client, t Target, opts Options) (*SSHTransport, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	st := &SSHTransport{
		client:  client,
		session: session,
		exited:  make(chan struct{}),
	}
	st.stream = newStream(stdin, st.closeAll)

	if t.Command != "" {
		// exec 模式下 stderr 单独保留，不混入数据流
		st.stderr = &syncBuffer{}
		session.Stderr = st.stderr
		if err := session.Start(t.Command); err != nil {
			session.Close()
			return nil, fmt.Errorf("start %q: %w", t.Command, err)
		}
		st.stream.start(stdout)
	} else {
		stderr, err := session.StderrPipe()
		if err != nil {
			session.Close()
			return nil, fmt.Errorf("stderr pipe: %w", err)
		}
		if err := requestPty(session, opts.SSH.Term); err != nil {
			session.Close()
			return nil, err
		}
		if err := session.Shell(); err != nil {
			session.Close()
			return nil, fmt.Errorf("start shell: %w", err)
		}
		st.stream.start(stdout, stderr)
	}

	go st.wait()
	return st, nil
}

func requestPty(session *ssh.Session, term string) error {
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	terms := termFallback
	if term != "" {
		terms = append([]string{term}, termFallback...)
	}
	var lastErr error
	for _, tt := range terms {
		if lastErr = session.RequestPty(tt, 200, 24, modes); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("request pty: %w", lastErr)
}

func (t *SSHTransport) wait() {
	err := t.session.Wait()
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		t.exitCode, t.exitOK = 0, true
	case errors.As(err, &exitErr):
		t.exitCode, t.exitOK = exitErr.ExitStatus(), true
	}
	close(t.exited)
}

// ExitStatus 实现 ExitReporter
func (t *SSHTransport) ExitStatus() (int, bool) {
	select {
	case <-t.exited:
		return t.exitCode, t.exitOK
	default:
		return 0, false
	}
}

// IsClosed 通道退出后也视为关闭
func (t *SSHTransport) IsClosed() bool {
	select {
	case <-t.exited:
		return true
	default:
	}
	return t.stream.IsClosed()
}

// Stderr exec 模式下收集的标准错误
func (t *SSHTransport) Stderr() string {
	if t.stderr == nil {
		return ""
	}
	return t.stderr.String()
}

func (t *SSHTransport) closeAll() error {
	_ = t.session.Close()
	return t.client.Close()
}

// keepAlive 通道存活期间周期发送保活请求，失败即关闭
func (t *SSHTransport) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.quit:
			return
		case <-t.exited:
			return
		case <-ticker.C:
			if _, _, err := t.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				_ = t.Close()
				return
			}
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
