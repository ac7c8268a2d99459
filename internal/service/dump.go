package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/netsurvey/netsurvey/internal/model"
	"github.com/netsurvey/netsurvey/pkg/logger"
	"github.com/netsurvey/netsurvey/pkg/transfer"
)

// Dump 导出每台设备的启动配置（Running 时为运行配置）到 DestDir
func (s *SurveyService) Dump(ctx context.Context, req *DumpRequest) (*DumpResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	cfg := s.Config()
	devices, err := resolve(cfg, req.Devices, req.Dialect)
	if err != nil {
		return nil, err
	}

	destDir := req.DestDir
	if destDir == "" {
		destDir = cfg.Survey.DestDir
	}
	destDir, err = filepath.Abs(destDir)
	if err != nil {
		return nil, err
	}
	if fi, err := os.Stat(destDir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrDestDirMissing, destDir)
	}

	f, err := s.fetcher(cfg)
	if err != nil {
		return nil, err
	}

	run := s.history.StartRun(model.RunKindDump, len(devices))
	logger.Info("Dumping device configurations", "run_id", run.ID, "devices", len(devices), "dest", destDir, "running", req.Running)

	results := make([]HostResult, len(devices))
	forEach(ctx, cfg.Survey.Workers, len(devices), func(ctx context.Context, i int) {
		dev := devices[i]
		names := cfg.Survey.ArtifactsFor(dev.dialect.Name())
		source := names.Start
		if req.Running {
			source = names.Run
		}
		res := s.fetchOne(ctx, f, dev, source, transfer.DestPath(destDir, req.Pattern, dev.host))
		if res.Success && s.mirror != nil {
			uri, err := s.mirror.Mirror(ctx, run.ID, res.Artifact)
			if err != nil {
				logger.Warn("Mirror to object storage failed", "host", dev.host, "error", err)
			}
			res.ObjectURI = uri
		}
		s.history.RecordFetch(run.ID, source, res)
		results[i] = res
	}, func(i int, err error) {
		results[i] = skipped(devices[i], err)
		s.history.RecordFetch(run.ID, "", results[i])
	})

	resp := &DumpResponse{RunID: run.ID, Total: len(devices), Results: results}
	var failed []FailedHost
	for _, r := range results {
		if !r.Success {
			resp.FailedHosts = append(resp.FailedHosts, r.Host)
			failed = append(failed, FailedHost{Host: r.Host, Dialect: r.Dialect, ErrorKind: r.ErrorKind, Error: r.Error})
		}
	}
	resp.Failed = len(resp.FailedHosts)
	logger.Info("Dump finished", "run_id", run.ID, "retrieved", resp.Total-resp.Failed, "total", resp.Total)

	if req.WriteFailed && resp.Failed > 0 {
		name := cfg.Survey.FailedHostsFile
		if name == "" {
			name = DefaultFailedHostsFile
		}
		path := filepath.Join(destDir, name)
		report := FailedReport{Kind: model.RunKindDump, RunID: run.ID, GeneratedAt: time.Now(), Hosts: failed}
		if err := WriteFailedReport(path, report); err != nil {
			logger.Error("Failed to write failed hosts file", "path", path, "error", err)
		} else {
			resp.FailedFile = path
		}
	}

	s.history.FinishRun(run, resp.Failed, nil)
	return resp, nil
}
