package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/netsurvey/netsurvey/internal/database"
	"github.com/netsurvey/netsurvey/internal/model"
	"github.com/netsurvey/netsurvey/pkg/logger"
)

// History 运行历史落库；db 为 nil 时只生成 ID，不写库
type History struct {
	db *gorm.DB
}

// NewHistory 创建历史记录器
func NewHistory(db *gorm.DB) *History {
	return &History{db: db}
}

// RunDetail 一次运行的全部记录
type RunDetail struct {
	Run     model.Run     `json:"run"`
	Fetches []model.Fetch `json:"fetches"`
	Audits  []model.Audit `json:"audits"`
}

// ErrRunNotFound 运行记录不存在
var ErrRunNotFound = errors.New("run not found")

const writeAttempts = 5

func (h *History) write(what string, fn func(*gorm.DB) error) {
	if h.db == nil {
		return
	}
	if err := database.WithRetry(h.db, fn, writeAttempts, 0); err != nil {
		logger.Error("Failed to save history", "record", what, "error", err)
	}
}

// StartRun 记录一次运行开始
func (h *History) StartRun(kind string, hosts int) *model.Run {
	run := &model.Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    model.RunStatusRunning,
		Hosts:     hosts,
		StartTime: time.Now(),
	}
	h.write("run", func(db *gorm.DB) error { return db.Create(run).Error })
	return run
}

// FinishRun 记录运行结束；有失败设备或 err 非空时状态为 failed
func (h *History) FinishRun(run *model.Run, failed int, err error) {
	run.EndTime = time.Now()
	run.Duration = run.EndTime.Sub(run.StartTime).Milliseconds()
	run.Failed = failed
	run.Status = model.RunStatusSuccess
	if failed > 0 || err != nil {
		run.Status = model.RunStatusFailed
	}
	if err != nil {
		run.ErrorMsg = err.Error()
	}
	h.write("run", func(db *gorm.DB) error { return db.Save(run).Error })
}

// RecordFetch 记录一次配置获取
func (h *History) RecordFetch(runID, source string, r HostResult) {
	rec := &model.Fetch{
		ID:        uuid.NewString(),
		RunID:     runID,
		Host:      r.Host,
		Dialect:   r.Dialect,
		Source:    source,
		ObjectURI: r.ObjectURI,
		Success:   r.Success,
		ErrorKind: r.ErrorKind,
		ErrorMsg:  r.Error,
		Attempts:  r.Attempts,
		Duration:  r.DurationMS,
	}
	if a := r.Artifact; a != nil {
		rec.Dest = a.Dest
		rec.Size = a.Size
		rec.Checksum = a.Checksum
		rec.ExitStatus = a.Status
		rec.ModTime = a.ModTime
	}
	h.write("fetch", func(db *gorm.DB) error { return db.Create(rec).Error })
}

// RecordCommands 记录一次命令执行，输出本身不落库
func (h *History) RecordCommands(runID, commands string, r CommandResult) {
	rec := &model.Fetch{
		ID:         uuid.NewString(),
		RunID:      runID,
		Host:       r.Host,
		Dialect:    r.Dialect,
		Source:     commands,
		ExitStatus: r.Status,
		Success:    r.Success,
		ErrorKind:  r.ErrorKind,
		ErrorMsg:   r.Error,
		Attempts:   r.Attempts,
		Duration:   r.DurationMS,
	}
	h.write("commands", func(db *gorm.DB) error { return db.Create(rec).Error })
}

// RecordAudit 记录比对结果
func (h *History) RecordAudit(runID string, r AuditResult) {
	rec := &model.Audit{
		ID:     uuid.NewString(),
		RunID:  runID,
		Host:   r.Host,
		Result: r.Result,
		Detail: r.Detail,
	}
	h.write("audit", func(db *gorm.DB) error { return db.Create(rec).Error })
}

// ListRuns 最近的运行，kind 为空时不过滤
func (h *History) ListRuns(kind string, limit int) ([]model.Run, error) {
	if h.db == nil {
		return []model.Run{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := h.db.Order("start_time DESC").Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var runs []model.Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// GetRun 运行详情
func (h *History) GetRun(id string) (*RunDetail, error) {
	if h.db == nil {
		return nil, ErrRunNotFound
	}
	var detail RunDetail
	if err := h.db.First(&detail.Run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	if err := h.db.Where("run_id = ?", id).Order("created_at").Find(&detail.Fetches).Error; err != nil {
		return nil, err
	}
	if err := h.db.Where("run_id = ?", id).Order("created_at").Find(&detail.Audits).Error; err != nil {
		return nil, err
	}
	return &detail, nil
}

// Ping 检查数据库连接；未启用历史记录时返回 nil
func (h *History) Ping() error {
	if h.db == nil {
		return nil
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
