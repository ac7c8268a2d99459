// Package transporttest 提供脚本化的假设备传输，供引擎与传输层之上的测试使用
package transporttest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/netsurvey/netsurvey/pkg/transport"
)

// Fake 设备端脚本：每收到一行输入（按 Term 切分）调用 OnLine
type Fake struct {
	mu       sync.Mutex
	pending  []byte
	notify   chan struct{}
	writes   []string
	input    string
	closed   bool
	exitCode int
	exitOK   bool

	// Greeting 打开连接后设备先输出的内容（通常是提示符）
	Greeting string
	Term     string
	OnLine   func(f *Fake, line string)
	// OnRaw 返回 true 表示已处理，不再按行解析（如翻页键）
	OnRaw func(f *Fake, data string) bool
}

// NewFake 创建假设备
func NewFake(term string, onLine func(f *Fake, line string)) *Fake {
	return &Fake{notify: make(chan struct{}, 1), Term: term, OnLine: onLine}
}

func (f *Fake) wake() {
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Emit 设备输出
func (f *Fake) Emit(s string) {
	f.mu.Lock()
	f.pending = append(f.pending, s...)
	f.mu.Unlock()
	f.wake()
}

// Hangup 设备端关闭通道，code < 0 表示不报告退出码
func (f *Fake) Hangup(code int) {
	f.mu.Lock()
	f.closed = true
	if code >= 0 {
		f.exitCode, f.exitOK = code, true
	}
	f.mu.Unlock()
	f.wake()
}

// ReadAvailable 实现 transport.Transport
func (f *Fake) ReadAvailable(max time.Duration) ([]byte, error) {
	timer := time.NewTimer(max)
	defer timer.Stop()
	for {
		f.mu.Lock()
		if len(f.pending) > 0 {
			b := f.pending
			f.pending = nil
			f.mu.Unlock()
			return b, nil
		}
		closed := f.closed
		f.mu.Unlock()
		if closed {
			return nil, io.EOF
		}
		select {
		case <-f.notify:
		case <-timer.C:
			return nil, nil
		}
	}
}

// Write 实现 transport.Transport
func (f *Fake) Write(p []byte) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return transport.ErrClosed
	}
	f.writes = append(f.writes, string(p))
	f.mu.Unlock()

	data := string(p)
	if f.OnRaw != nil && f.OnRaw(f, data) {
		return nil
	}
	if f.Term == "" {
		return nil
	}
	f.input += data
	for {
		i := strings.Index(f.input, f.Term)
		if i < 0 {
			break
		}
		line := f.input[:i]
		f.input = f.input[i+len(f.Term):]
		if f.OnLine != nil {
			f.OnLine(f, line)
		}
	}
	return nil
}

// IsClosed 实现 transport.Transport
func (f *Fake) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close 实现 transport.Transport
func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.wake()
	return nil
}

// ExitStatus 实现 transport.ExitReporter
func (f *Fake) ExitStatus() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitCode, f.exitOK
}

// Writes 收到的全部写入
func (f *Fake) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

// Count 某个写入出现的次数
func (f *Fake) Count(s string) int {
	n := 0
	for _, w := range f.Writes() {
		if w == s {
			n++
		}
	}
	return n
}

// Opener 返回固定的 Fake，记录最近一次打开的目标
type Opener struct {
	Fake   *Fake
	Err    error
	OnOpen func(f *Fake)

	mu      sync.Mutex
	Target  transport.Target
	Targets []transport.Target
}

// Open 实现 transport.Opener
func (o *Opener) Open(_ context.Context, t transport.Target) (transport.Transport, error) {
	o.mu.Lock()
	o.Target = t
	o.Targets = append(o.Targets, t)
	o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	if o.OnOpen != nil {
		o.OnOpen(o.Fake)
	} else if o.Fake.Greeting != "" {
		o.Fake.Emit(o.Fake.Greeting)
	}
	return o.Fake, nil
}

// Factory 每次打开连接时创建新的 Fake；exec 通道可按 target.Command 区分
type Factory func(t transport.Target) *Fake

// Router 按主机分发连接，未登记的主机拒绝连接
type Router struct {
	Hosts map[string]Factory

	mu    sync.Mutex
	opens map[string][]transport.Target
}

// Open 实现 transport.Opener
func (r *Router) Open(_ context.Context, t transport.Target) (transport.Transport, error) {
	r.mu.Lock()
	if r.opens == nil {
		r.opens = make(map[string][]transport.Target)
	}
	r.opens[t.Host] = append(r.opens[t.Host], t)
	fn, ok := r.Hosts[t.Host]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("dial tcp %s: connection refused", t.Addr())
	}
	f := fn(t)
	if f.Greeting != "" {
		f.Emit(f.Greeting)
	}
	return f, nil
}

// Opens 某主机被打开的全部目标，按时间顺序
func (r *Router) Opens(host string) []transport.Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.Target(nil), r.opens[host]...)
}

// ShellDevice 常见交换机：回显命令、输出响应、再给出提示符；exit 关闭通道
func ShellDevice(prompt, term string, responses map[string]string) *Fake {
	f := NewFake(term, func(f *Fake, line string) {
		if line == "exit" {
			f.Emit(line + "\r\n")
			f.Hangup(0)
			return
		}
		f.Emit(line + "\r\n" + responses[line] + prompt)
	})
	f.Greeting = prompt
	return f
}

// ExecDevice exec 通道：打开即输出 output，随后以 code 退出
func ExecDevice(output string, code int) *Fake {
	f := NewFake("", nil)
	f.Emit(output)
	f.Hangup(code)
	return f
}

// SCPDevice scp 源端：每收到一个 \0 推进一步，依次发出协议头、文件内容，最后退出
func SCPDevice(header, payload string) *Fake {
	step := 0
	f := NewFake("", nil)
	f.OnRaw = func(f *Fake, data string) bool {
		if data != "\x00" {
			return true
		}
		step++
		switch step {
		case 1:
			f.Emit(header)
		case 2:
			f.Emit(payload)
		default:
			f.Hangup(0)
		}
		return true
	}
	return f
}
