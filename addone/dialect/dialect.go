package dialect

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// TransferMethod 配置文件获取方式
type TransferMethod string

const (
	// TransferSCP 通过 exec 通道运行 scp -f，解析 C 协议头
	TransferSCP TransferMethod = "scp"
	// TransferExecShow 通过 exec 通道运行 show 命令（无需 PTY）
	TransferExecShow TransferMethod = "exec-show"
	// TransferShellShow 通过交互式会话运行 show 命令
	TransferShellShow TransferMethod = "shell-show"
)

// Protocol 默认接入协议
type Protocol string

const (
	ProtocolSSH    Protocol = "ssh"
	ProtocolTelnet Protocol = "telnet"
)

// hostToken 提示符模板中的主机名占位符
const hostToken = "{host}"

// anyHost 主机为 IP 时无法从提示符推断主机名
const anyHost = `[\w.\-]+`

// ExitStep 退出序列中的一步
type ExitStep struct {
	Command string
	// Optional 仅当传输层尚未关闭时才发送（部分设备需要两次 exit）
	Optional bool
}

// Spec 构造 Dialect 的原始描述（纯数据，可来自代码或配置）
type Spec struct {
	Name           string
	Protocol       Protocol
	Port           int
	LoginPrompt    string
	PasswordPrompt string
	// PromptTemplate 含 {host} 占位符，必须包含命名分组 cmd
	PromptTemplate string
	PagingPattern  string
	PagingPrompt   string
	ContinueKeys   string
	Terminator     string
	ExitSequence   []ExitStep
	Preamble       []string
	CommandSuffix  string
	EnablePrompt   string
	// EchoBlankLines 回显之后设备额外输出的空行数
	EchoBlankLines int

	Transfer TransferMethod
	// TransferPreamble 获取配置前执行的命令（如 enable）
	TransferPreamble []string
	ShowTemplate     string
	BannerTemplate   string
	ModTimePattern   string
	StartPattern     string
	StopAtBlank      bool
}

// Dialect 某一厂商 CLI 的只读描述，构造后不可变
type Dialect struct {
	name           string
	protocol       Protocol
	port           int
	loginPrompt    *regexp.Regexp
	passwordPrompt *regexp.Regexp
	promptTemplate string
	paging         *regexp.Regexp
	pagingPrompt   *regexp.Regexp
	continueKeys   string
	terminator     string
	exitSequence   []ExitStep
	preamble       []string
	commandSuffix  string
	enablePrompt   *regexp.Regexp
	echoBlankLines int

	transfer         TransferMethod
	transferPreamble []string
	showTemplate     string
	bannerTemplate   string
	modTime          *regexp.Regexp
	start            *regexp.Regexp
	stopAtBlank      bool
}

// New 校验并编译 Spec 中的所有正则
func New(s Spec) (*Dialect, error) {
	if strings.TrimSpace(s.Name) == "" {
		return nil, fmt.Errorf("dialect name is required")
	}
	if !strings.Contains(s.PromptTemplate, "(?P<cmd>") {
		return nil, fmt.Errorf("dialect %s: prompt template must capture cmd", s.Name)
	}
	// 先用占位主机名试编译，确保模板本身合法
	if _, err := regexp.Compile(strings.ReplaceAll(s.PromptTemplate, hostToken, anyHost)); err != nil {
		return nil, fmt.Errorf("dialect %s: invalid prompt template: %w", s.Name, err)
	}

	d := &Dialect{
		name:             s.Name,
		protocol:         s.Protocol,
		port:             s.Port,
		promptTemplate:   s.PromptTemplate,
		continueKeys:     s.ContinueKeys,
		terminator:       s.Terminator,
		exitSequence:     append([]ExitStep(nil), s.ExitSequence...),
		preamble:         append([]string(nil), s.Preamble...),
		commandSuffix:    s.CommandSuffix,
		echoBlankLines:   s.EchoBlankLines,
		transfer:         s.Transfer,
		transferPreamble: append([]string(nil), s.TransferPreamble...),
		showTemplate:     s.ShowTemplate,
		bannerTemplate:   s.BannerTemplate,
		stopAtBlank:      s.StopAtBlank,
	}
	if d.protocol == "" {
		d.protocol = ProtocolSSH
	}
	if d.port == 0 {
		if d.protocol == ProtocolTelnet {
			d.port = 23
		} else {
			d.port = 22
		}
	}
	if d.terminator == "" {
		d.terminator = "\n"
	}
	if d.continueKeys == "" {
		d.continueKeys = " "
	}
	if len(d.exitSequence) == 0 {
		d.exitSequence = []ExitStep{{Command: "exit"}}
	}
	if d.showTemplate == "" {
		d.showTemplate = "show %s"
	}
	if d.transfer == "" {
		d.transfer = TransferShellShow
	}

	var err error
	compile := func(field, pattern string) *regexp.Regexp {
		if err != nil || pattern == "" {
			return nil
		}
		var re *regexp.Regexp
		re, err = regexp.Compile(pattern)
		if err != nil {
			err = fmt.Errorf("dialect %s: invalid %s: %w", s.Name, field, err)
		}
		return re
	}
	d.loginPrompt = compile("login prompt", s.LoginPrompt)
	d.passwordPrompt = compile("password prompt", s.PasswordPrompt)
	d.paging = compile("paging pattern", s.PagingPattern)
	d.pagingPrompt = compile("paging prompt", s.PagingPrompt)
	d.enablePrompt = compile("enable prompt", s.EnablePrompt)
	d.modTime = compile("modtime pattern", s.ModTimePattern)
	d.start = compile("start pattern", s.StartPattern)
	if s.BannerTemplate != "" {
		compile("banner template", fmt.Sprintf(s.BannerTemplate, "config"))
	}
	if err != nil {
		return nil, err
	}
	if d.protocol == ProtocolTelnet && (d.loginPrompt == nil || d.passwordPrompt == nil) {
		return nil, fmt.Errorf("dialect %s: telnet dialect needs login and password prompts", s.Name)
	}
	return d, nil
}

// MustNew 用于内置方言的 init 注册
func MustNew(s Spec) *Dialect {
	d, err := New(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Dialect) Name() string { return d.name }
func (d *Dialect) Protocol() Protocol { return d.protocol }
func (d *Dialect) DefaultPort() int { return d.port }
func (d *Dialect) Terminator() string { return d.terminator }
func (d *Dialect) ContinueKeys() string { return d.continueKeys }
func (d *Dialect) CommandSuffix() string { return d.commandSuffix }
func (d *Dialect) EchoBlankLines() int { return d.echoBlankLines }
func (d *Dialect) Transfer() TransferMethod { return d.transfer }
func (d *Dialect) StopAtBlank() bool { return d.stopAtBlank }
func (d *Dialect) LoginPrompt() *regexp.Regexp { return d.loginPrompt }
func (d *Dialect) PasswordPrompt() *regexp.Regexp { return d.passwordPrompt }
func (d *Dialect) EnablePrompt() *regexp.Regexp { return d.enablePrompt }
func (d *Dialect) ModTimePattern() *regexp.Regexp { return d.modTime }
func (d *Dialect) StartPattern() *regexp.Regexp { return d.start }

// TransferPreamble 获取配置前的准备命令，未设置时沿用 Preamble
func (d *Dialect) TransferPreamble() []string {
	if len(d.transferPreamble) == 0 {
		return d.Preamble()
	}
	return append([]string(nil), d.transferPreamble...)
}

// ExitSequence 返回副本，调用方无法修改方言
func (d *Dialect) ExitSequence() []ExitStep {
	return append([]ExitStep(nil), d.exitSequence...)
}

// Preamble 返回副本
func (d *Dialect) Preamble() []string {
	return append([]string(nil), d.preamble...)
}

// PromptFor 按主机名编译提示符正则
// 主机为 IP 时提示符中的主机名未知，退化为通配
func (d *Dialect) PromptFor(host string) (*regexp.Regexp, error) {
	name := PromptHost(host)
	token := anyHost
	if name != "" {
		token = regexp.QuoteMeta(name)
	}
	re, err := regexp.Compile(strings.ReplaceAll(d.promptTemplate, hostToken, token))
	if err != nil {
		return nil, fmt.Errorf("dialect %s: compile prompt for %s: %w", d.name, host, err)
	}
	return re, nil
}

// PromptHost 提示符中出现的主机名：去掉域名后缀；IP 返回空串
func PromptHost(host string) string {
	h := strings.TrimSpace(host)
	if h == "" || net.ParseIP(h) != nil {
		return ""
	}
	if i := strings.IndexByte(h, '.'); i > 0 {
		h = h[:i]
	}
	return h
}

// MatchPaging 判断整行是否为分页提示，返回其中夹带的数据
func (d *Dialect) MatchPaging(line string) (string, bool) {
	if d.paging == nil {
		return "", false
	}
	m := d.paging.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	if i := d.paging.SubexpIndex("data"); i > 0 {
		return m[i], true
	}
	return "", true
}

// AwaitingPage 判断未结束的行是否为等待按键的分页提示
func (d *Dialect) AwaitingPage(partial string) bool {
	if d.pagingPrompt != nil {
		return d.pagingPrompt.MatchString(partial)
	}
	return false
}

// Command 用户命令加上方言要求的后缀
func (d *Dialect) Command(cmd string) string {
	if d.commandSuffix == "" {
		return cmd
	}
	return cmd + d.commandSuffix
}

// ShowCommand 输出指定配置文件的命令
func (d *Dialect) ShowCommand(artifact string) string {
	return fmt.Sprintf(d.showTemplate, artifact)
}

// Banner 指定配置文件的前导注释行正则，方言无此约定时返回 nil
func (d *Dialect) Banner(artifact string) *regexp.Regexp {
	if d.bannerTemplate == "" {
		return nil
	}
	return regexp.MustCompile(fmt.Sprintf(d.bannerTemplate, regexp.QuoteMeta(artifact)))
}
