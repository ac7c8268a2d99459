package model

import (
	"time"
)

// Fetch 单台设备的一次配置获取或命令执行
type Fetch struct {
	ID       string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	RunID    string `json:"run_id" gorm:"type:varchar(64);not null;index"`
	Host     string `json:"host" gorm:"type:varchar(255);not null;index"`
	Dialect  string `json:"dialect" gorm:"type:varchar(32)"`
	Source   string `json:"source" gorm:"type:varchar(255)"`
	Dest     string `json:"dest" gorm:"type:text"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum" gorm:"type:varchar(80)"`
	// ExitStatus 设备报告的退出码
	ExitStatus int    `json:"exit_status"`
	ModTime    string `json:"mod_time" gorm:"type:varchar(128)"`
	ObjectURI  string `json:"object_uri" gorm:"type:text"`
	Success    bool   `json:"success"`
	// ErrorKind 失败类别：ConnectError、ProtocolTimeout 等
	ErrorKind string    `json:"error_kind" gorm:"type:varchar(32)"`
	ErrorMsg  string    `json:"error_msg" gorm:"type:text"`
	Attempts  int       `json:"attempts"`
	Duration  int64     `json:"duration"` // 毫秒
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (Fetch) TableName() string {
	return "fetches"
}

// Audit 运行配置与启动配置的比对结果
type Audit struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	RunID     string    `json:"run_id" gorm:"type:varchar(64);not null;index"`
	Host      string    `json:"host" gorm:"type:varchar(255);not null;index"`
	Result    string    `json:"result" gorm:"type:varchar(32);not null"`
	Detail    string    `json:"detail" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (Audit) TableName() string {
	return "audits"
}

// Audit 结果
const (
	AuditMatch       = "match"
	AuditUnsaved     = "unsaved-config"
	AuditUnfetchable = "unfetchable-config"
)
