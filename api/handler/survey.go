package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/netsurvey/netsurvey/addone/dialect"
	"github.com/netsurvey/netsurvey/internal/service"
	"github.com/netsurvey/netsurvey/pkg/logger"
	"github.com/netsurvey/netsurvey/pkg/transport"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SuccessResponse 成功响应
type SuccessResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// DialectInfo 方言概要
type DialectInfo struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	Port     int    `json:"port"`
	Transfer string `json:"transfer"`
}

// SurveyHandler 配置导出、比对与命令执行接口
type SurveyHandler struct {
	svc  *service.SurveyService
	gate *transport.Gate
}

// NewSurveyHandler 创建处理器；gate 用于健康检查中的连接统计，可为 nil
func NewSurveyHandler(svc *service.SurveyService, gate *transport.Gate) *SurveyHandler {
	return &SurveyHandler{svc: svc, gate: gate}
}

// Health 健康检查
// @Router /api/v1/health [get]
func (h *SurveyHandler) Health(c *gin.Context) {
	if err := h.svc.History().Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "SERVICE_UNAVAILABLE", Message: "数据库不可用: " + err.Error()})
		return
	}
	cfg := h.svc.Config()
	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "服务正常",
		Data: gin.H{
			"devices":     len(cfg.Devices),
			"workers":     cfg.Survey.Workers,
			"connections": h.gate.Stats(),
		},
	})
}

// Dialects 已注册的方言
// @Router /api/v1/dialects [get]
func (h *SurveyHandler) Dialects(c *gin.Context) {
	names := dialect.Names()
	out := make([]DialectInfo, 0, len(names))
	for _, n := range names {
		d, err := dialect.Get(n)
		if err != nil {
			continue
		}
		out = append(out, DialectInfo{
			Name:     d.Name(),
			Protocol: string(d.Protocol()),
			Port:     d.DefaultPort(),
			Transfer: string(d.Transfer()),
		})
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "获取方言成功", Data: out})
}

// Dump 批量导出配置
// @Router /api/v1/dump [post]
func (h *SurveyHandler) Dump(c *gin.Context) {
	var req service.DumpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_REQUEST", Message: err.Error()})
		return
	}
	resp, err := h.svc.Dump(c.Request.Context(), &req)
	if err != nil {
		h.requestFailed(c, "dump", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Audit 比对运行配置与启动配置
// @Router /api/v1/audit [post]
func (h *SurveyHandler) Audit(c *gin.Context) {
	var req service.AuditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_REQUEST", Message: err.Error()})
		return
	}
	resp, err := h.svc.Audit(c.Request.Context(), &req)
	if err != nil {
		h.requestFailed(c, "audit", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Commands 在设备上执行命令
// @Router /api/v1/commands [post]
func (h *SurveyHandler) Commands(c *gin.Context) {
	var req service.CommandsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_REQUEST", Message: err.Error()})
		return
	}
	if len(req.Commands) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "commands is required"})
		return
	}
	resp, err := h.svc.Commands(c.Request.Context(), &req)
	if err != nil {
		h.requestFailed(c, "commands", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListRuns 最近的运行
// @Router /api/v1/runs [get]
func (h *SurveyHandler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.svc.History().ListRuns(c.Query("kind"), limit)
	if err != nil {
		logger.Error("List runs failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "ERROR", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "获取运行记录成功", Data: runs})
}

// GetRun 运行详情
// @Router /api/v1/runs/{id} [get]
func (h *SurveyHandler) GetRun(c *gin.Context) {
	detail, err := h.svc.History().GetRun(c.Param("id"))
	if errors.Is(err, service.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "NOT_FOUND", Message: "运行记录不存在"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "ERROR", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "获取运行详情成功", Data: detail})
}

// requestFailed 运行开始前的失败都来自请求或配置本身
func (h *SurveyHandler) requestFailed(c *gin.Context, op string, err error) {
	logger.Warn("Request rejected", "op", op, "error", err)
	code := "INVALID_PARAMS"
	if errors.Is(err, service.ErrDestDirMissing) {
		code = "DEST_DIR_MISSING"
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{Code: code, Message: err.Error()})
}
