package simulate

import (
	"bufio"
	"io"
	"strings"

	"github.com/netsurvey/netsurvey/pkg/logger"
)

// shell 一个交互式会话的状态
type shell struct {
	dev     *Device
	r       *bufio.Reader
	w       io.Writer
	enabled bool
	paging  bool
}

func newShell(dev *Device, rw io.ReadWriter) *shell {
	return &shell{
		dev:     dev,
		r:       bufio.NewReader(rw),
		w:       rw,
		enabled: !dev.profile.needsEnable,
		paging:  dev.profile.pager != nil && dev.PageLines > 0,
	}
}

func (s *shell) write(str string) error {
	_, err := io.WriteString(s.w, str)
	return err
}

func (s *shell) prompt() string {
	return s.dev.profile.prompt(s.dev.Hostname, s.enabled)
}

// readLine 读取一行，去掉行尾 \r 与 Telnet 的 NUL 及 IAC 协商字节
func (s *shell) readLine() (string, error) {
	var b strings.Builder
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			return b.String(), err
		}
		switch c {
		case '\n':
			return strings.TrimRight(b.String(), "\r"), nil
		case 0:
		case 255:
			// IAC 命令固定三字节
			_, _ = s.r.ReadByte()
			_, _ = s.r.ReadByte()
		default:
			b.WriteByte(c)
		}
	}
}

// run 执行命令直到 exit 或连接断开，返回退出码
func (s *shell) run() int {
	if err := s.write("\r\n" + s.prompt()); err != nil {
		return 1
	}
	for {
		line, err := s.readLine()
		if err != nil {
			if err != io.EOF {
				logger.Debug("Simulate: session read error", "device", s.dev.Hostname, "error", err)
			}
			return 0
		}
		cmd := strings.TrimSpace(line)
		// arista 客户端给每条命令加上 | no-more
		cmd = strings.TrimSpace(strings.TrimSuffix(cmd, "| no-more"))
		logger.Debug("Simulate: input", "device", s.dev.Hostname, "cmd", cmd)

		echo := line + "\r\n"
		if s.dev.profile.blankAfterEcho {
			echo += "\r\n"
		}

		switch {
		case cmd == "":
			err = s.write("\r\n" + s.prompt())
		case equalAny(cmd, "exit", "quit", "logout"):
			_ = s.write(echo)
			logger.Debug("Simulate: session exit", "device", s.dev.Hostname)
			return 0
		case s.dev.profile.needsEnable && strings.EqualFold(cmd, "enable"):
			err = s.enable(echo)
		case cmd == "terminal length 0" || cmd == "skip-page-display":
			s.paging = false
			err = s.write(echo + s.prompt())
		default:
			if err = s.write(echo); err == nil {
				if err = s.page(s.dev.respond(cmd)); err == nil {
					err = s.write(s.prompt())
				}
			}
		}
		if err != nil {
			return 0
		}
	}
}

// enable 密码不回显，错误时保持原模式
func (s *shell) enable(echo string) error {
	if err := s.write(echo + "Password: "); err != nil {
		return err
	}
	pwd, err := s.readLine()
	if err != nil {
		return err
	}
	if pwd != s.dev.EnablePassword {
		logger.Debug("Simulate: enable failed", "device", s.dev.Hostname)
		return s.write("\r\n% Bad secrets\r\n" + s.prompt())
	}
	s.enabled = true
	return s.write("\r\n" + s.prompt())
}

// page 超过 PageLines 行时分页输出，每页等待一个按键；q 或 Ctrl-C 中止
func (s *shell) page(out string) error {
	if !s.paging || out == "" {
		return s.write(out)
	}
	lines := strings.SplitAfter(out, "\r\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	size := s.dev.PageLines
	pg := s.dev.profile.pager
	for start := 0; start < len(lines); start += size {
		if start > 0 {
			if err := s.write(pg.banner); err != nil {
				return err
			}
			key, err := s.r.ReadByte()
			if err != nil {
				return err
			}
			if key == 'q' || key == 0x03 {
				return s.write("\r\n")
			}
			if err := s.write(pg.erase); err != nil {
				return err
			}
		}
		end := min(start+size, len(lines))
		if err := s.write(strings.Join(lines[start:end], "")); err != nil {
			return err
		}
	}
	return nil
}

func equalAny(s string, opts ...string) bool {
	for _, o := range opts {
		if strings.EqualFold(s, o) {
			return true
		}
	}
	return false
}
