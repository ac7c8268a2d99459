package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/netsurvey/netsurvey/addone/dialect"
	"github.com/netsurvey/netsurvey/pkg/logger"
	"github.com/netsurvey/netsurvey/pkg/transport"
)

// Config 应用配置结构
type Config struct {
	Server    ServerConfig         `mapstructure:"server"`
	Log       logger.Config        `mapstructure:"log"`
	Database  DatabaseConfig       `mapstructure:"database"`
	Storage   StorageConfig        `mapstructure:"storage"`
	Transport transport.Options    `mapstructure:"transport"`
	Gate      transport.GateConfig `mapstructure:"gate"`
	Survey    SurveyConfig         `mapstructure:"survey"`
	Devices   []DeviceConfig       `mapstructure:"devices"`
	Simulate  SimulateConfig       `mapstructure:"simulate"`
}

// ServerConfig HTTP 控制接口
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig 配置文件的对象存储副本
type StorageConfig struct {
	Minio MinioConfig `mapstructure:"minio"`
}

// MinioConfig 对象存储配置；Enabled 为 false 时只写本地
type MinioConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Secure    bool   `mapstructure:"secure"`
}

// SurveyConfig 巡检任务默认参数
type SurveyConfig struct {
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	EnablePassword string `mapstructure:"enable_password"`
	KeyFile        string `mapstructure:"key_file"`
	KeyPassphrase  string `mapstructure:"key_passphrase"`
	// Port 为 0 时使用方言默认端口
	Port      int           `mapstructure:"port"`
	Timeout   time.Duration `mapstructure:"timeout"`
	ExitGrace time.Duration `mapstructure:"exit_grace"`
	Workers   int           `mapstructure:"workers"`
	// Retries 连接/传输失败后的重试次数，0 表示不重试
	Retries       int           `mapstructure:"retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	// Perms 配置文件权限，八进制字符串，如 "0644"
	Perms           string `mapstructure:"perms"`
	DestDir         string `mapstructure:"dest_dir"`
	FailedHostsFile string `mapstructure:"failed_hosts_file"`
	// Artifacts 按方言名覆盖运行/启动配置的名称
	Artifacts map[string]ArtifactNames `mapstructure:"artifacts"`
}

// ArtifactNames 设备上运行配置与启动配置的名称
type ArtifactNames struct {
	Run   string `mapstructure:"run" json:"run"`
	Start string `mapstructure:"start" json:"start"`
}

// DeviceConfig 设备清单条目
type DeviceConfig struct {
	Host    string `mapstructure:"host" json:"host"`
	Dialect string `mapstructure:"dialect" json:"dialect"`
	Port    int    `mapstructure:"port" json:"port,omitempty"`
}

// SimulateConfig 内置设备模拟器
type SimulateConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Listen     string `mapstructure:"listen"`
	SSHPort    int    `mapstructure:"ssh_port"`
	TelnetPort int    `mapstructure:"telnet_port"`
	Hostname   string `mapstructure:"hostname"`
	Dialect    string `mapstructure:"dialect"`
	// ConfigFile 模拟器返回的配置内容来源
	ConfigFile string `mapstructure:"config_file"`
	// CommandsDir 其他命令的输出文件目录：<dir>/<命令>.txt
	CommandsDir string        `mapstructure:"commands_dir"`
	PageLines   int           `mapstructure:"page_lines"`
	MaxConn     int           `mapstructure:"max_conn"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	HostKeyFile string        `mapstructure:"host_key_file"`
}

// defaultArtifacts 各方言设备上配置文件的名称
var defaultArtifacts = map[string]ArtifactNames{
	"brocade": {Run: "runConfig", Start: "startConfig"},
	"ruckus":  {Run: "runConfig", Start: "startConfig"},
	"icx":     {Run: "running-config", Start: "startup-config"},
	"cisco":   {Run: "running-config", Start: "startup-config"},
	"arista":  {Run: "running-config", Start: "startup-config"},
	"digi-ps": {Run: "cpconf term", Start: "cpconf term"},
	"digi-cp": {Run: "backup print", Start: "backup print"},
}

var (
	globalConfig *Config
	fileUsed     string
)

// Load 加载配置文件；未显式指定且默认位置没有配置文件时只使用默认值
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("/etc/netsurvey")
	}

	v.SetEnvPrefix("NETSURVEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = replaceEnvVars(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &config
	fileUsed = v.ConfigFileUsed()
	return &config, nil
}

// FileUsed 最近一次 Load 读取的配置文件，只使用默认值时为空
func FileUsed() string {
	return fileUsed
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8086)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	// dump/audit 同步返回，写超时需覆盖整轮巡检
	v.SetDefault("server.write_timeout", 30*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.file_path", "./logs/netsurvey.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)

	v.SetDefault("database.sqlite.path", "./data/netsurvey.db")
	v.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	v.SetDefault("storage.minio.enabled", false)
	v.SetDefault("storage.minio.port", 9000)
	v.SetDefault("storage.minio.bucket", "netsurvey")
	v.SetDefault("storage.minio.prefix", "configs")

	v.SetDefault("transport.connect_timeout", 10*time.Second)
	v.SetDefault("transport.keep_alive", 0)
	v.SetDefault("transport.ssh.known_hosts_path", "")
	v.SetDefault("transport.ssh.insecure_skip_verify", true)
	v.SetDefault("transport.ssh.allow_legacy_algorithms", true)

	// 交换机拒绝同时建立多个会话
	v.SetDefault("gate.per_host", 1)
	v.SetDefault("gate.max_active", 64)
	v.SetDefault("gate.idle_timeout", 5*time.Minute)

	v.SetDefault("survey.user", "admin")
	v.SetDefault("survey.timeout", 30*time.Second)
	v.SetDefault("survey.exit_grace", 250*time.Millisecond)
	v.SetDefault("survey.workers", 8)
	v.SetDefault("survey.retries", 1)
	v.SetDefault("survey.retry_interval", 2*time.Second)
	v.SetDefault("survey.perms", "0644")
	v.SetDefault("survey.dest_dir", ".")
	v.SetDefault("survey.failed_hosts_file", "failed_hosts.yaml")

	v.SetDefault("simulate.enable", false)
	v.SetDefault("simulate.listen", "127.0.0.1")
	v.SetDefault("simulate.ssh_port", 2222)
	v.SetDefault("simulate.telnet_port", 2323)
	v.SetDefault("simulate.hostname", "sim-sw1")
	v.SetDefault("simulate.dialect", "brocade")
	v.SetDefault("simulate.page_lines", 20)
	v.SetDefault("simulate.max_conn", 16)
	v.SetDefault("simulate.idle_timeout", "5m")
}

// Get 获取全局配置
func Get() *Config {
	return globalConfig
}

// Validate 检查方言与权限等需要在启动时发现的错误
func (c *Config) Validate() error {
	if _, err := c.Survey.FileMode(); err != nil {
		return err
	}
	if err := transport.ValidateSSHOptions(c.Transport.SSH); err != nil {
		return fmt.Errorf("invalid transport.ssh: %w", err)
	}
	for i, d := range c.Devices {
		if strings.TrimSpace(d.Host) == "" {
			return fmt.Errorf("devices[%d]: host is required", i)
		}
		if _, err := dialect.Get(d.Dialect); err != nil {
			return fmt.Errorf("devices[%d] %s: %w", i, d.Host, err)
		}
	}
	if c.Simulate.Enable {
		if _, err := dialect.Get(c.Simulate.Dialect); err != nil {
			return fmt.Errorf("simulate: %w", err)
		}
	}
	if c.Transport.SSH.InsecureSkipVerify && c.Transport.SSH.KnownHostsPath == "" {
		logger.Warn("SSH host key verification disabled", "hint", "set transport.ssh.known_hosts_path")
	}
	return nil
}

// FileMode 解析配置文件权限
func (s SurveyConfig) FileMode() (os.FileMode, error) {
	p := strings.TrimSpace(s.Perms)
	if p == "" {
		return 0644, nil
	}
	n, err := strconv.ParseUint(p, 8, 32)
	if err != nil || n > 0777 {
		return 0, fmt.Errorf("invalid survey.perms %q: want octal like 0644", s.Perms)
	}
	return os.FileMode(n), nil
}

// Credentials 默认登录凭据
func (s SurveyConfig) Credentials() transport.Credentials {
	return transport.Credentials{
		Username:       s.User,
		Password:       s.Password,
		EnablePassword: s.EnablePassword,
		KeyFile:        s.KeyFile,
		KeyPassphrase:  s.KeyPassphrase,
	}
}

// ArtifactsFor 方言对应的配置名称，配置项覆盖内置默认
func (s SurveyConfig) ArtifactsFor(dialectName string) ArtifactNames {
	names := defaultArtifacts[dialectName]
	if o, ok := s.Artifacts[dialectName]; ok {
		if o.Run != "" {
			names.Run = o.Run
		}
		if o.Start != "" {
			names.Start = o.Start
		}
	}
	return names
}

// DeviceFor 在清单中查找主机；不在清单中返回 false
func (c *Config) DeviceFor(host string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if strings.EqualFold(d.Host, host) {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// replaceEnvVars 口令类字段支持 ${VAR} 形式引用环境变量
func replaceEnvVars(config Config) Config {
	expand := func(s string) string {
		if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
			return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}"))
		}
		return s
	}
	config.Survey.Password = expand(config.Survey.Password)
	config.Survey.EnablePassword = expand(config.Survey.EnablePassword)
	config.Survey.KeyPassphrase = expand(config.Survey.KeyPassphrase)
	config.Storage.Minio.AccessKey = expand(config.Storage.Minio.AccessKey)
	config.Storage.Minio.SecretKey = expand(config.Storage.Minio.SecretKey)
	return config
}
