package session

import (
	"time"

	"github.com/netsurvey/netsurvey/addone/dialect"
	"github.com/netsurvey/netsurvey/pkg/transport"
)

// State 会话状态
type State int

const (
	Connecting State = iota
	Authenticating
	Ready
	Sending
	AwaitingEcho
	Collecting
	Paging
	Exiting
	Closed
)

var stateNames = [...]string{"CONNECTING", "AUTHENTICATING", "READY", "SENDING", "AWAITING_ECHO", "COLLECTING", "PAGING", "EXITING", "CLOSED"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

const (
	DefaultTimeout      = 30 * time.Second
	DefaultExitGrace    = 250 * time.Millisecond
	DefaultPollInterval = 50 * time.Millisecond
)

// Config 一次会话的参数
type Config struct {
	Dialect     *dialect.Dialect
	Host        string
	Port        int
	Credentials transport.Credentials
	// Timeout 单步等待上限：超过该时长没有任何数据到达即超时
	Timeout time.Duration
	// ExitGrace 发送退出序列后等待通道关闭的上限
	ExitGrace    time.Duration
	PollInterval time.Duration
	// Preamble 覆盖方言默认的前置命令；nil 表示沿用方言
	Preamble []string
}

func (c *Config) normalize() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ExitGrace <= 0 {
		c.ExitGrace = DefaultExitGrace
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollInterval > c.ExitGrace {
		c.PollInterval = c.ExitGrace
	}
	if c.Port == 0 && c.Dialect != nil {
		c.Port = c.Dialect.DefaultPort()
	}
	if c.Preamble == nil && c.Dialect != nil {
		c.Preamble = c.Dialect.Preamble()
	}
}

// Result 一条命令及其输出
type Result struct {
	Command string `json:"command"`
	Output  string `json:"output"`
}

// Output 一次会话的全部输出；Partial 表示因失败而不完整
type Output struct {
	Status  int      `json:"status"`
	Results []Result `json:"results"`
	Partial bool     `json:"partial,omitempty"`
}

// Text 按命令取输出
func (o *Output) Text(command string) (string, bool) {
	for _, r := range o.Results {
		if r.Command == command {
			return r.Output, true
		}
	}
	return "", false
}
