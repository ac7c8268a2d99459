package service

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/netsurvey/netsurvey/internal/model"
	"github.com/netsurvey/netsurvey/pkg/logger"
	"github.com/netsurvey/netsurvey/pkg/transfer"
)

// Audit 获取运行配置与启动配置并逐字节比对，找出未保存配置的设备
func (s *SurveyService) Audit(ctx context.Context, req *AuditRequest) (*AuditResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	cfg := s.Config()
	devices, err := resolve(cfg, req.Devices, req.Dialect)
	if err != nil {
		return nil, err
	}
	f, err := s.fetcher(cfg)
	if err != nil {
		return nil, err
	}

	// 比对文件只在本次运行内有效
	work, err := os.MkdirTemp("", "netsurvey-audit-")
	if err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	defer os.RemoveAll(work)

	run := s.history.StartRun(model.RunKindAudit, len(devices))
	logger.Info("Auditing device configurations", "run_id", run.ID, "devices", len(devices))

	results := make([]AuditResult, len(devices))
	forEach(ctx, cfg.Survey.Workers, len(devices), func(ctx context.Context, i int) {
		dev := devices[i]
		names := cfg.Survey.ArtifactsFor(dev.dialect.Name())
		runPath := transfer.DestPath(work, "%s-run.cfg", dev.host)
		startPath := transfer.DestPath(work, "%s-start.cfg", dev.host)

		// 同一设备的两次获取必须先后进行
		runRes := s.fetchOne(ctx, f, dev, names.Run, runPath)
		s.history.RecordFetch(run.ID, names.Run, runRes)
		var startRes HostResult
		if runRes.Success {
			startRes = s.fetchOne(ctx, f, dev, names.Start, startPath)
			s.history.RecordFetch(run.ID, names.Start, startRes)
		}
		results[i] = classify(dev, runRes, startRes, runPath, startPath)
		s.history.RecordAudit(run.ID, results[i])
	}, func(i int, err error) {
		results[i] = AuditResult{
			Host:    devices[i].host,
			Dialect: devices[i].dialect.Name(),
			Result:  model.AuditUnfetchable,
			Detail:  fmt.Sprintf("not started: %v", err),
		}
		s.history.RecordAudit(run.ID, results[i])
	})

	resp := &AuditResponse{RunID: run.ID, Total: len(devices), Results: results}
	for _, r := range results {
		if r.Result != model.AuditMatch {
			resp.Problems++
		}
	}
	logger.Info("Audit finished", "run_id", run.ID, "matching", resp.Total-resp.Problems, "total", resp.Total)
	s.history.FinishRun(run, resp.Problems, nil)
	return resp, nil
}

// classify 两份配置都取到才比较
func classify(dev device, runRes, startRes HostResult, runPath, startPath string) AuditResult {
	res := AuditResult{Host: dev.host, Dialect: dev.dialect.Name()}
	for _, r := range []HostResult{runRes, startRes} {
		if !r.Success {
			res.Result = model.AuditUnfetchable
			res.Detail = r.Error
			logger.Error("Failure downloading config files, no comparison performed", "host", dev.host, "error", r.Error)
			return res
		}
	}
	same, err := sameContent(runPath, startPath)
	if err != nil {
		res.Result = model.AuditUnfetchable
		res.Detail = err.Error()
		return res
	}
	if !same {
		res.Result = model.AuditUnsaved
		res.Detail = "running configuration differs from saved configuration"
		logger.Error("The running and saved configurations do not match", "host", dev.host)
		return res
	}
	res.Result = model.AuditMatch
	return res
}

func sameContent(a, b string) (bool, error) {
	da, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	db, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(da, db), nil
}
