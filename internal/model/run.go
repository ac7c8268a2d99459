package model

import (
	"time"
)

// Run 一次巡检（dump/audit/commands）
type Run struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Kind      string    `json:"kind" gorm:"type:varchar(16);not null;index"`
	Status    string    `json:"status" gorm:"type:varchar(16);not null;default:'running'"`
	Hosts     int       `json:"hosts"`
	Failed    int       `json:"failed"`
	ErrorMsg  string    `json:"error_msg" gorm:"type:text"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  int64     `json:"duration"` // 执行时长，毫秒
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Run) TableName() string {
	return "runs"
}

// Run 类型
const (
	RunKindDump     = "dump"
	RunKindAudit    = "audit"
	RunKindCommands = "commands"
)

// Run 状态
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)
