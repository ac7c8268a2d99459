package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netsurvey/netsurvey/addone/dialect"
	"github.com/netsurvey/netsurvey/internal/util"
	"github.com/netsurvey/netsurvey/pkg/logger"
	"github.com/netsurvey/netsurvey/pkg/transport"
)

// errIdle 超过 Timeout 没有收到任何数据
var errIdle = errors.New("no data received before timeout")

// Session 单次使用：Run 结束后传输一定已关闭
type Session struct {
	cfg    Config
	opener transport.Opener

	t      transport.Transport
	prompt *regexp.Regexp
	buf    []byte
	state  State
	log    *logrus.Entry

	// 当前未完成行已经处理过的交互，避免同一提示重复应答
	paged    bool
	answered bool
	// 只有 enable 命令期间才应答密码提示，其他命令的输出按原样收集
	enabling bool
	// 当前命令已收集的输出
	collected strings.Builder
}

// New 创建会话；未指定 Opener 时使用默认 Dialer
func New(opener transport.Opener, cfg Config) (*Session, error) {
	if cfg.Dialect == nil {
		return nil, fmt.Errorf("session: dialect is required")
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("session: host is required")
	}
	cfg.normalize()
	if opener == nil {
		opener = transport.NewDialer(transport.Options{ConnectTimeout: cfg.Timeout}, nil)
	}
	return &Session{
		cfg:    cfg,
		opener: opener,
		log: logger.WithFields(logrus.Fields{
			"host":    cfg.Host,
			"dialect": cfg.Dialect.Name(),
		}),
	}, nil
}

// Run 便捷入口：创建会话并执行命令
func Run(ctx context.Context, opener transport.Opener, cfg Config, commands []string) (*Output, error) {
	s, err := New(opener, cfg)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, commands)
}

// State 当前状态
func (s *Session) State() State { return s.state }

func (s *Session) setState(st State) {
	if s.state != st {
		s.log.WithField("state", st).Debug("session state")
	}
	s.state = st
}

// Run 按顺序执行命令，输出顺序与命令顺序一致
func (s *Session) Run(ctx context.Context, commands []string) (*Output, error) {
	if s.state != Connecting || s.t != nil {
		return nil, fmt.Errorf("session: already used")
	}
	d := s.cfg.Dialect

	prompt, err := d.PromptFor(s.cfg.Host)
	if err != nil {
		return nil, NewError(ConnectError, s.cfg.Host, "compile prompt", err)
	}
	s.prompt = prompt

	target := transport.Target{
		Host:        s.cfg.Host,
		Port:        s.cfg.Port,
		Protocol:    transport.Protocol(d.Protocol()),
		Credentials: s.cfg.Credentials,
	}
	t, err := s.opener.Open(ctx, target)
	if err != nil {
		s.setState(Closed)
		return nil, NewError(ConnectError, s.cfg.Host, "open "+target.Addr(), err)
	}
	s.t = t
	defer s.close()
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	if d.Protocol() == dialect.ProtocolTelnet {
		s.setState(Authenticating)
		if err := s.authenticate(); err != nil {
			return nil, s.fail(ctx, ConnectError, "authenticate", err, nil)
		}
	}
	s.setState(Ready)
	s.log.Debug("session ready")

	for _, cmd := range s.cfg.Preamble {
		if _, err := s.execute(cmd); err != nil {
			return nil, s.fail(ctx, s.kindFor(err), fmt.Sprintf("preamble %q", cmd), err, &Output{})
		}
	}

	out := &Output{Results: make([]Result, 0, len(commands))}
	for _, cmd := range commands {
		text, err := s.execute(cmd)
		if err != nil {
			partial := &Output{Results: append(out.Results, Result{Command: cmd, Output: text})}
			return nil, s.fail(ctx, s.kindFor(err), fmt.Sprintf("command %q", cmd), err, partial)
		}
		logger.DebugCommandOutput(s.cfg.Host, cmd, text, 5)
		out.Results = append(out.Results, Result{Command: cmd, Output: text})
	}

	out.Status = s.exit()
	return out, nil
}

// fail 统一构造错误；上下文结束时以其原因为准
func (s *Session) fail(ctx context.Context, kind Kind, op string, err error, partial *Output) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
		if kind != ConnectError {
			kind = TransportError
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				kind = ProtocolTimeout
			}
		}
	}
	e := NewError(kind, s.cfg.Host, op, err)
	if partial != nil && kind == ProtocolTimeout {
		partial.Partial = true
		e.Partial = partial
	}
	s.log.WithField("state", s.state).WithError(err).Warn("session failed")
	return e
}

func (s *Session) kindFor(err error) Kind {
	if errors.Is(err, errIdle) {
		return ProtocolTimeout
	}
	return TransportError
}

func (s *Session) close() {
	if s.t != nil {
		_ = s.t.Close()
	}
	s.setState(Closed)
}

// authenticate Telnet 登录：用户名、密码，然后等待首个提示符
func (s *Session) authenticate() error {
	d := s.cfg.Dialect
	creds := s.cfg.Credentials
	if err := s.expect(d.LoginPrompt()); err != nil {
		return fmt.Errorf("waiting for login prompt: %w", err)
	}
	if err := s.send(creds.Username); err != nil {
		return err
	}
	if err := s.expect(d.PasswordPrompt()); err != nil {
		return fmt.Errorf("waiting for password prompt: %w", err)
	}
	if err := s.send(creds.Password); err != nil {
		return err
	}

	// 提示符不消费，作为首条命令回显行的前缀
	for {
		line, complete, err := s.next(func(p string) bool {
			return s.idlePrompt(p) || d.LoginPrompt().MatchString(p)
		})
		if err != nil {
			return fmt.Errorf("waiting for prompt: %w", err)
		}
		if d.LoginPrompt().MatchString(line) {
			return errors.New("authentication rejected")
		}
		if !complete || s.idlePrompt(line) {
			return nil
		}
	}
}

// expect 读到匹配 re 的行（含未结束行）为止，丢弃已读内容
func (s *Session) expect(re *regexp.Regexp) error {
	for {
		line, complete, err := s.next(re.MatchString)
		if err != nil {
			return err
		}
		if !complete || re.MatchString(line) {
			s.buf = s.buf[:0]
			return nil
		}
	}
}

func (s *Session) send(text string) error {
	return s.t.Write([]byte(text + s.cfg.Dialect.Terminator()))
}

// execute 发送一条命令，跳过回显，收集输出直到提示符再次出现
func (s *Session) execute(cmd string) (string, error) {
	d := s.cfg.Dialect
	sent := d.Command(cmd)
	s.collected.Reset()
	s.paged, s.answered = false, false
	s.enabling = isEnable(cmd)

	s.setState(Sending)
	if err := s.send(sent); err != nil {
		return "", err
	}

	s.setState(AwaitingEcho)
	want := strings.TrimSpace(sent)
	for {
		line, _, err := s.next(nil)
		if err != nil {
			return "", err
		}
		if c, ok := s.promptCmd(line); ok && strings.TrimSpace(c) == want {
			break
		}
		s.log.WithField("line", line).Trace("discarded before echo")
	}

	s.setState(Collecting)
	skip := d.EchoBlankLines()
	for {
		line, complete, err := s.next(s.collectPartial)
		if err != nil {
			return s.collected.String(), err
		}

		if !complete {
			switch {
			case d.AwaitingPage(line) && !s.paged:
				s.setState(Paging)
				s.paged = true
				if err := s.t.Write([]byte(d.ContinueKeys())); err != nil {
					return s.collected.String(), err
				}
				s.setState(Collecting)
			case s.wantsEnable(line):
				s.answered = true
				if err := s.send(s.enablePassword()); err != nil {
					return s.collected.String(), err
				}
			default:
				// 提示符重新出现，留在缓冲区里作为下一条回显的前缀
				return s.collected.String(), nil
			}
			continue
		}

		paged, answered := s.paged, s.answered
		s.paged, s.answered = false, false

		if skip > 0 {
			skip--
			if strings.TrimSpace(line) == "" {
				continue
			}
		}
		if data, ok := d.MatchPaging(line); ok {
			if data != "" {
				s.collected.WriteString(data + "\n")
			}
			if !paged {
				s.setState(Paging)
				if err := s.t.Write([]byte(d.ContinueKeys())); err != nil {
					return s.collected.String(), err
				}
				s.setState(Collecting)
			}
			continue
		}
		if ep := d.EnablePrompt(); s.enabling && ep != nil && ep.MatchString(line) {
			if !answered {
				if err := s.send(s.enablePassword()); err != nil {
					return s.collected.String(), err
				}
			}
			continue
		}
		if _, ok := s.promptCmd(line); ok {
			return s.collected.String(), nil
		}
		s.collected.WriteString(line + "\n")
	}
}

// collectPartial 未结束行需要立即处理的情况：分页、enable 密码、空闲提示符
func (s *Session) collectPartial(p string) bool {
	if s.cfg.Dialect.AwaitingPage(p) {
		return !s.paged
	}
	return s.wantsEnable(p) || s.idlePrompt(p)
}

func (s *Session) wantsEnable(p string) bool {
	ep := s.cfg.Dialect.EnablePrompt()
	return s.enabling && ep != nil && !s.answered && ep.MatchString(p)
}

// isEnable 命令是否为 enable（可带特权级别）
func isEnable(cmd string) bool {
	f := strings.Fields(cmd)
	return len(f) > 0 && f[0] == "enable"
}

func (s *Session) enablePassword() string {
	if s.cfg.Credentials.EnablePassword != "" {
		return s.cfg.Credentials.EnablePassword
	}
	return s.cfg.Credentials.Password
}

// promptCmd 行是否为本主机提示符，返回提示符后的命令文本
func (s *Session) promptCmd(line string) (string, bool) {
	m := s.prompt.FindStringSubmatch(sanitize(line))
	if m == nil {
		return "", false
	}
	if i := s.prompt.SubexpIndex("cmd"); i > 0 {
		return m[i], true
	}
	return "", true
}

// idlePrompt 提示符后面没有任何输入
func (s *Session) idlePrompt(p string) bool {
	c, ok := s.promptCmd(p)
	return ok && strings.TrimSpace(c) == ""
}

// next 返回下一完整行（去掉 \r\n）；没有完整行时若 partial 返回 true 则返回未结束行，但不消费
func (s *Session) next(partial func(string) bool) (string, bool, error) {
	for {
		if i := bytes.IndexByte(s.buf, '\n'); i >= 0 {
			// 老设备可能输出 GBK 等本地编码
			line := strings.TrimSuffix(util.EnsureUTF8Bytes(s.buf[:i]), "\r")
			s.buf = s.buf[i+1:]
			return line, true, nil
		}
		if partial != nil && len(s.buf) > 0 && partial(string(s.buf)) {
			return string(s.buf), false, nil
		}
		if err := s.fill(); err != nil {
			return "", false, err
		}
	}
}

// fill 等待新数据；Timeout 内没有任何数据到达返回 errIdle
func (s *Session) fill() error {
	deadline := time.Now().Add(s.cfg.Timeout)
	for {
		b, err := s.t.ReadAvailable(s.cfg.PollInterval)
		if len(b) > 0 {
			s.buf = append(s.buf, b...)
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("connection closed by device: %w", err)
			}
			return err
		}
		if time.Now().After(deadline) {
			return errIdle
		}
	}
}

// exit 发送退出序列，等待通道关闭或退出码，最多等待 ExitGrace
func (s *Session) exit() int {
	s.setState(Exiting)
	for i, step := range s.cfg.Dialect.ExitSequence() {
		switch {
		case step.Optional:
			// 宽限期内设备已关闭或给出退出码就不再发送
			s.drain(s.cfg.ExitGrace)
		case i > 0:
			s.drain(s.cfg.PollInterval)
		}
		if s.exited() {
			break
		}
		if err := s.send(step.Command); err != nil && !step.Optional {
			s.log.WithError(err).Debug("exit command not delivered")
		}
	}

	s.drain(s.cfg.ExitGrace)
	if r, ok := s.t.(transport.ExitReporter); ok {
		if code, ok := r.ExitStatus(); ok {
			return code
		}
	}
	// 设备没有确认退出，按正常关闭处理
	return 0
}

// exited 通道已关闭或已收到退出码
func (s *Session) exited() bool {
	if r, ok := s.t.(transport.ExitReporter); ok {
		if _, done := r.ExitStatus(); done {
			return true
		}
	}
	return s.t.IsClosed()
}

// drain 丢弃输出直到通道关闭、退出码到达或超过 max
func (s *Session) drain(max time.Duration) {
	deadline := time.Now().Add(max)
	for {
		if s.exited() {
			return
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		if remaining > s.cfg.PollInterval {
			remaining = s.cfg.PollInterval
		}
		if _, err := s.t.ReadAvailable(remaining); err != nil {
			return
		}
	}
}

// sanitize 去掉 ANSI 转义序列与控制字符，仅用于提示符匹配
func sanitize(s string) string {
	if strings.IndexFunc(s, func(r rune) bool { return r < 0x20 && r != '\t' }) < 0 {
		return s
	}
	b := make([]byte, 0, len(s))
	skip := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if skip {
			if (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') {
				skip = false
			}
			continue
		}
		if ch == 0x1b {
			skip = true
			continue
		}
		if ch < 0x20 && ch != '\t' {
			continue
		}
		b = append(b, ch)
	}
	return string(b)
}
