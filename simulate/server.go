package simulate

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/netsurvey/netsurvey/pkg/logger"
)

// Options 模拟器监听参数
type Options struct {
	Listen string
	// 端口为 0 时由系统分配，为负数时不监听该协议
	SSHPort    int
	TelnetPort int
	MaxConn    int
	// IdleTimeout 连接空闲超过该时长即断开
	IdleTimeout time.Duration
	// HostKeyFile 为空时每次启动生成临时主机密钥
	HostKeyFile string
}

// Manager 运行中的模拟器
type Manager struct {
	dev     *Device
	opts    Options
	hostKey ssh.Signer

	sshLn    net.Listener
	telnetLn net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	active int
	closed bool
	wg     sync.WaitGroup
}

// Start 启动 SSH 与 Telnet 监听
func Start(dev *Device, opts Options) (*Manager, error) {
	if dev == nil || dev.profile == nil {
		return nil, errors.New("simulate: device not initialized, use NewDevice")
	}
	if opts.Listen == "" {
		opts.Listen = "127.0.0.1"
	}
	signer, err := loadOrCreateHostKey(opts.HostKeyFile)
	if err != nil {
		return nil, err
	}
	m := &Manager{dev: dev, opts: opts, hostKey: signer, conns: make(map[net.Conn]struct{})}

	if opts.SSHPort >= 0 {
		if m.sshLn, err = net.Listen("tcp", net.JoinHostPort(opts.Listen, strconv.Itoa(opts.SSHPort))); err != nil {
			return nil, fmt.Errorf("simulate: listen ssh: %w", err)
		}
		m.serve(m.sshLn, m.handleSSH)
		logger.Info("Simulate: ssh listener started", "addr", m.sshLn.Addr().String(), "dialect", dev.Dialect)
	}
	if opts.TelnetPort >= 0 {
		if m.telnetLn, err = net.Listen("tcp", net.JoinHostPort(opts.Listen, strconv.Itoa(opts.TelnetPort))); err != nil {
			m.Stop()
			return nil, fmt.Errorf("simulate: listen telnet: %w", err)
		}
		m.serve(m.telnetLn, m.handleTelnet)
		logger.Info("Simulate: telnet listener started", "addr", m.telnetLn.Addr().String(), "dialect", dev.Dialect)
	}
	return m, nil
}

// SSHAddr SSH 监听地址，未监听时为空
func (m *Manager) SSHAddr() string {
	if m.sshLn == nil {
		return ""
	}
	return m.sshLn.Addr().String()
}

// TelnetAddr Telnet 监听地址，未监听时为空
func (m *Manager) TelnetAddr() string {
	if m.telnetLn == nil {
		return ""
	}
	return m.telnetLn.Addr().String()
}

// HostKey 主机公钥，可写入 known_hosts
func (m *Manager) HostKey() ssh.PublicKey { return m.hostKey.PublicKey() }

// Stop 关闭监听与所有连接，等待会话结束
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, ln := range []net.Listener{m.sshLn, m.telnetLn} {
		if ln != nil {
			_ = ln.Close()
		}
	}
	for c := range m.conns {
		_ = c.Close()
	}
	m.mu.Unlock()
	m.wg.Wait()
	logger.Info("Simulate: stopped", "device", m.dev.Hostname)
}

func (m *Manager) serve(ln net.Listener, handle func(net.Conn)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				// listener closed
				return
			}
			if !m.track(conn) {
				_ = conn.Close()
				continue
			}
			m.wg.Add(1)
			go func(c net.Conn) {
				defer m.wg.Done()
				defer m.untrack(c)
				handle(m.withIdle(c))
			}(conn)
		}
	}()
}

// track 登记连接；超过 MaxConn 或已停止时拒绝
func (m *Manager) track(c net.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if m.opts.MaxConn > 0 && m.active >= m.opts.MaxConn {
		logger.Warn("Simulate: reject connection, max_conn exceeded", "remote", c.RemoteAddr().String())
		return false
	}
	m.active++
	m.conns[c] = struct{}{}
	return true
}

func (m *Manager) untrack(c net.Conn) {
	_ = c.Close()
	m.mu.Lock()
	if _, ok := m.conns[c]; ok {
		delete(m.conns, c)
		m.active--
	}
	m.mu.Unlock()
}

// idleConn 每次读取前延长读超时
type idleConn struct {
	net.Conn
	idle time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.idle))
	return c.Conn.Read(p)
}

func (m *Manager) withIdle(c net.Conn) net.Conn {
	if m.opts.IdleTimeout <= 0 {
		return c
	}
	return &idleConn{Conn: c, idle: m.opts.IdleTimeout}
}

func (m *Manager) checkLogin(user, pass string) bool {
	return user == m.dev.Username && pass == m.dev.Password
}

func (m *Manager) handleSSH(nc net.Conn) {
	srvCfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if m.checkLogin(meta.User(), string(password)) {
				return nil, nil
			}
			logger.Debug("Simulate: auth failed (password)", "user", meta.User())
			return nil, errors.New("access denied")
		},
		KeyboardInteractiveCallback: func(meta ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge(meta.User(), "Authentication", []string{"Password:"}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) > 0 && m.checkLogin(meta.User(), answers[0]) {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	srvCfg.AddHostKey(m.hostKey)

	conn, chans, reqs, err := ssh.NewServerConn(nc, srvCfg)
	if err != nil {
		logger.Debug("Simulate: SSH handshake failed", "remote", nc.RemoteAddr().String(), "error", err)
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for ch := range chans {
		if ch.ChannelType() != "session" {
			_ = ch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := ch.Accept()
		if err != nil {
			logger.Error("Simulate: channel accept failed", "error", err)
			continue
		}
		go m.handleSession(channel, requests)
	}
}

// handleSession 处理 pty-req / shell / exec
func (m *Manager) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req", "env", "window-change":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			go ssh.DiscardRequests(requests)
			code := newShell(m.dev, channel).run()
			sendExitStatus(channel, code)
			return
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go ssh.DiscardRequests(requests)
			logger.Debug("Simulate: exec", "device", m.dev.Hostname, "cmd", payload.Command)
			code := m.exec(channel, channel.Stderr(), payload.Command)
			sendExitStatus(channel, code)
			return
		default:
			_ = req.Reply(false, nil)
		}
	}
}

func sendExitStatus(ch ssh.Channel, code int) {
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(code)}))
}

// handleTelnet 只模拟登录与交互会话，不发起选项协商
func (m *Manager) handleTelnet(c net.Conn) {
	if !m.dev.Telnet() {
		_, _ = io.WriteString(c, "Telnet is disabled on this device\r\n")
		return
	}
	sh := newShell(m.dev, c)
	for attempt := 0; attempt < 3; attempt++ {
		if sh.write("login: ") != nil {
			return
		}
		user, err := sh.readLine()
		if err != nil {
			return
		}
		if sh.write("password: ") != nil {
			return
		}
		pass, err := sh.readLine()
		if err != nil {
			return
		}
		if m.checkLogin(strings.TrimSpace(user), pass) {
			sh.run()
			return
		}
		if sh.write("\r\nLogin incorrect\r\n") != nil {
			return
		}
	}
}

// exec 运行 exec 通道命令，返回退出码
func (m *Manager) exec(rw io.ReadWriter, stderr io.Writer, command string) int {
	p := m.dev.profile
	switch {
	case strings.HasPrefix(command, "scp -f ") && p.scpFiles != nil:
		return m.scpSource(rw, strings.TrimSpace(strings.TrimPrefix(command, "scp -f ")))
	case p.execShow && strings.HasPrefix(command, "show "):
		cmd := strings.TrimSpace(strings.TrimSuffix(command, "| no-more"))
		kind, ok := p.shellConfig[cmd]
		if !ok {
			_, _ = io.WriteString(rw, "% Invalid input\n")
			return 1
		}
		body := m.dev.config(kind)
		out := "! Command: " + cmd + "\n"
		if kind == startArtifact {
			out += "! Startup-config last modified at Thu Jan  1 00:00:00 2026 by " + m.dev.Username + "\n"
		}
		_, _ = io.WriteString(rw, out+body)
		return 0
	}
	_, _ = fmt.Fprintf(stderr, "%s: command not found\n", command)
	return 127
}

// scpSource scp 源端：等待确认、发出 C 协议头、内容与结束符
func (m *Manager) scpSource(rw io.ReadWriter, name string) int {
	r := bufio.NewReader(rw)
	ack := func() bool {
		b, err := r.ReadByte()
		return err == nil && b == 0
	}
	kind, ok := m.dev.profile.scpFiles[filepath.Base(name)]
	if !ack() {
		return 1
	}
	if !ok {
		_, _ = fmt.Fprintf(rw, "\x01scp: %s: No such file or directory\n", name)
		return 1
	}
	body := m.dev.config(kind)
	if _, err := fmt.Fprintf(rw, "C0644 %d %s\n", len(body), filepath.Base(name)); err != nil || !ack() {
		return 1
	}
	if _, err := io.WriteString(rw, body+"\x00"); err != nil || !ack() {
		return 1
	}
	return 0
}

// loadOrCreateHostKey 指定路径时持久化 RSA 主机密钥，否则生成临时 ed25519 密钥
func loadOrCreateHostKey(path string) (ssh.Signer, error) {
	if path == "" {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("simulate: generate host key: %w", err)
		}
		return ssh.NewSignerFromKey(key)
	}
	if bs, err := os.ReadFile(path); err == nil {
		signer, err := ssh.ParsePrivateKey(bs)
		if err == nil {
			return signer, nil
		}
		logger.Warn("Simulate: host key parse failed, regenerating", "file", path, "error", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("simulate: host key dir: %w", err)
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("simulate: generate host key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("simulate: write host key: %w", err)
	}
	logger.Info("Simulate: host key generated", "file", path)
	return ssh.ParsePrivateKey(pemBytes)
}
