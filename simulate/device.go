// Package simulate 进程内设备模拟器：按方言模拟提示符、回显、分页、enable 与 scp 源端
package simulate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// 分页提示与按键后设备输出的擦除序列
const (
	brocadeBanner = "--More--, next page: Space, next line: Return key, quit: Control-c"
	ciscoBanner   = " --More-- "
)

var (
	brocadeErase = strings.Repeat("\x08", 10) + strings.Repeat(" ", 8) + strings.Repeat("\x08", 10)
	ciscoErase   = strings.Repeat("\x08", 9) + strings.Repeat(" ", 9) + strings.Repeat("\x08", 9)
)

type pager struct {
	banner string
	erase  string
}

// artifactKind 配置命令对应运行配置还是启动配置
type artifactKind int

const (
	runArtifact artifactKind = iota + 1
	startArtifact
)

// profile 某一方言设备的行为
type profile struct {
	telnet bool
	prompt func(host string, enabled bool) string
	pager  *pager
	// blankAfterEcho 回显后多输出一个空行（Digi PortServer）
	blankAfterEcho bool
	needsEnable    bool
	// shellConfig 交互式会话中输出配置的命令
	shellConfig map[string]artifactKind
	// scpFiles scp -f 可取的文件
	scpFiles map[string]artifactKind
	// execShow exec 通道支持 show <x> | no-more
	execShow bool
	// header 输出配置前的说明行
	header func(kind artifactKind, body string) string
	// defaultConfig 未指定配置文件时的内容
	defaultConfig func(host string) string
}

func brocadeFamily() *profile {
	return &profile{
		prompt: func(host string, _ bool) string { return "SSH@" + host + "#" },
		pager:  &pager{banner: brocadeBanner, erase: brocadeErase},
		shellConfig: map[string]artifactKind{
			"show running-config": runArtifact,
			"show startup-config": startArtifact,
			"show configuration":  startArtifact,
		},
		scpFiles: map[string]artifactKind{
			"runConfig":      runArtifact,
			"startConfig":    startArtifact,
			"running-config": runArtifact,
			"startup-config": startArtifact,
		},
		header: func(artifactKind, string) string { return "Current configuration:\r\n!\r\n" },
		defaultConfig: func(host string) string {
			return "ver 08.0.30\nhostname " + host + "\n!\ninterface ethernet 1/1/1\n enable\n!\nend\n"
		},
	}
}

func digiFamily(blank bool, command string) *profile {
	return &profile{
		telnet:         true,
		prompt:         func(string, bool) string { return "#> " },
		blankAfterEcho: blank,
		shellConfig:    map[string]artifactKind{command: runArtifact},
		defaultConfig: func(host string) string {
			return "set user=root\nset port=1 ipaddr=" + host + "\n"
		},
	}
}

var profiles = map[string]*profile{
	"brocade": brocadeFamily(),
	"ruckus":  brocadeFamily(),
	"icx":     brocadeFamily(),
	"cisco": {
		prompt: func(host string, enabled bool) string {
			if enabled {
				return host + "#"
			}
			return host + ">"
		},
		pager:       &pager{banner: ciscoBanner, erase: ciscoErase},
		needsEnable: true,
		shellConfig: map[string]artifactKind{
			"show running-config": runArtifact,
			"show startup-config": startArtifact,
		},
		header: func(kind artifactKind, body string) string {
			if kind == startArtifact {
				return fmt.Sprintf("Using %d out of 65536 bytes\r\n", len(body))
			}
			return "Building configuration...\r\n"
		},
		defaultConfig: func(host string) string {
			return "!\nversion 15.2\nhostname " + host + "\n!\nend\n"
		},
	},
	"arista": {
		prompt: func(host string, _ bool) string { return host + "#" },
		shellConfig: map[string]artifactKind{
			"show running-config": runArtifact,
			"show startup-config": startArtifact,
		},
		execShow: true,
		defaultConfig: func(host string) string {
			return "hostname " + host + "\n!\ninterface Ethernet1\n!\nend\n"
		},
	},
	"digi-ps": digiFamily(true, "cpconf term"),
	"digi-cp": digiFamily(false, "backup print"),
}

// Device 被模拟的设备
type Device struct {
	Hostname string
	Dialect  string
	Username string
	Password string
	// EnablePassword 为空时使用 Password
	EnablePassword string
	// StartConfig 启动配置；RunConfig 为空时运行配置与之相同
	StartConfig string
	RunConfig   string
	CommandsDir string
	PageLines   int

	profile *profile
}

// NewDevice 校验方言并补齐默认配置
func NewDevice(d Device) (*Device, error) {
	p, ok := profiles[d.Dialect]
	if !ok {
		return nil, fmt.Errorf("simulate: unsupported dialect %q", d.Dialect)
	}
	if d.Hostname == "" {
		d.Hostname = "sim-sw1"
	}
	if d.StartConfig == "" {
		d.StartConfig = p.defaultConfig(d.Hostname)
	}
	if d.RunConfig == "" {
		d.RunConfig = d.StartConfig
	}
	if d.EnablePassword == "" {
		d.EnablePassword = d.Password
	}
	d.profile = p
	return &d, nil
}

// LoadConfigFile 读取配置文件内容作为启动配置
func (d *Device) LoadConfigFile(path string) error {
	bs, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("simulate: read config file: %w", err)
	}
	d.StartConfig = string(bs)
	d.RunConfig = d.StartConfig
	return nil
}

// Telnet 该方言是否使用 Telnet 接入
func (d *Device) Telnet() bool { return d.profile.telnet }

func (d *Device) config(kind artifactKind) string {
	if kind == runArtifact {
		return d.RunConfig
	}
	return d.StartConfig
}

// respond 交互式命令的输出（不含回显与提示符）
func (d *Device) respond(cmd string) string {
	if kind, ok := d.profile.shellConfig[cmd]; ok {
		body := d.config(kind)
		out := ""
		if d.profile.header != nil {
			out = d.profile.header(kind, body)
		}
		return out + ensureCRLF(body)
	}
	if out := d.loadCommandOutput(cmd); out != "" {
		return out
	}
	if cmd == "show version" {
		return fmt.Sprintf("%s simulated %s device\r\n", d.Hostname, d.Dialect)
	}
	return "Invalid input -> " + cmd + "\r\n"
}

// loadCommandOutput 从 CommandsDir 读取命令输出，文件名可用下划线代替空格
func (d *Device) loadCommandOutput(cmd string) string {
	if d.CommandsDir == "" {
		return ""
	}
	for _, name := range []string{cmd, strings.ReplaceAll(cmd, " ", "_")} {
		p := filepath.Join(d.CommandsDir, name+".txt")
		if bs, err := os.ReadFile(p); err == nil {
			return ensureCRLF(string(bs))
		}
	}
	return ""
}

// ensureCRLF 统一为 \r\n 并保证以换行结束
func ensureCRLF(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	if !strings.HasSuffix(s, "\r\n") {
		s += "\r\n"
	}
	return s
}
