package service

import (
	"errors"
	"time"

	"github.com/netsurvey/netsurvey/pkg/session"
	"github.com/netsurvey/netsurvey/pkg/transfer"
)

// ErrDestDirMissing 目标目录不存在；命令行以退出码 2 结束
var ErrDestDirMissing = errors.New("destination directory does not exist")

// DeviceRef 请求中的设备；Dialect 为空时查设备清单，再退回请求级默认方言
type DeviceRef struct {
	Host    string `json:"host"`
	Dialect string `json:"dialect,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// DumpRequest 批量导出配置
type DumpRequest struct {
	Devices []DeviceRef `json:"devices"`
	Dialect string      `json:"dialect,omitempty"`
	DestDir string      `json:"dest_dir,omitempty"`
	// Running 导出运行配置，默认导出启动配置
	Running bool `json:"running,omitempty"`
	// WriteFailed 有失败主机时写出失败清单
	WriteFailed bool `json:"write_failed,omitempty"`
	// Pattern 文件名模板，默认 "%s.cfg"
	Pattern string `json:"pattern,omitempty"`
}

// HostResult 单台设备的获取结果
type HostResult struct {
	Host       string             `json:"host"`
	Dialect    string             `json:"dialect"`
	Success    bool               `json:"success"`
	Artifact   *transfer.Artifact `json:"artifact,omitempty"`
	ObjectURI  string             `json:"object_uri,omitempty"`
	ErrorKind  string             `json:"error_kind,omitempty"`
	Error      string             `json:"error,omitempty"`
	Attempts   int                `json:"attempts"`
	DurationMS int64              `json:"duration_ms"`
}

// DumpResponse 导出结果
type DumpResponse struct {
	RunID       string       `json:"run_id"`
	Total       int          `json:"total"`
	Failed      int          `json:"failed"`
	Results     []HostResult `json:"results"`
	FailedHosts []string     `json:"failed_hosts,omitempty"`
	FailedFile  string       `json:"failed_file,omitempty"`
}

// AuditRequest 检查未保存的配置
type AuditRequest struct {
	Devices []DeviceRef `json:"devices"`
	Dialect string      `json:"dialect,omitempty"`
}

// AuditResult 单台设备的比对结果
type AuditResult struct {
	Host    string `json:"host"`
	Dialect string `json:"dialect"`
	Result  string `json:"result"`
	Detail  string `json:"detail,omitempty"`
}

// AuditResponse 比对结果汇总
type AuditResponse struct {
	RunID    string        `json:"run_id"`
	Total    int           `json:"total"`
	Problems int           `json:"problems"`
	Results  []AuditResult `json:"results"`
}

// CommandsRequest 在设备上执行命令
type CommandsRequest struct {
	Devices  []DeviceRef `json:"devices"`
	Dialect  string      `json:"dialect,omitempty"`
	Commands []string    `json:"commands"`
}

// CommandResult 单台设备的命令输出
type CommandResult struct {
	Host    string           `json:"host"`
	Dialect string           `json:"dialect"`
	Success bool             `json:"success"`
	Status  int              `json:"status"`
	Results []session.Result `json:"results"`
	// Partial 超时前已收集到的输出
	Partial    bool   `json:"partial,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
	Attempts   int    `json:"attempts"`
	DurationMS int64  `json:"duration_ms"`
}

// CommandsResponse 命令执行汇总
type CommandsResponse struct {
	RunID   string          `json:"run_id"`
	Total   int             `json:"total"`
	Failed  int             `json:"failed"`
	Results []CommandResult `json:"results"`
}

// FailedReport 失败主机清单文件内容
type FailedReport struct {
	Kind        string       `yaml:"kind"`
	RunID       string       `yaml:"run_id"`
	GeneratedAt time.Time    `yaml:"generated_at"`
	Hosts       []FailedHost `yaml:"hosts"`
}

// FailedHost 失败主机
type FailedHost struct {
	Host      string `yaml:"host"`
	Dialect   string `yaml:"dialect,omitempty"`
	ErrorKind string `yaml:"error_kind,omitempty"`
	Error     string `yaml:"error"`
}
