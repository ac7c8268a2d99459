package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/netsurvey/netsurvey/internal/config"
	"github.com/netsurvey/netsurvey/internal/model"
	"github.com/netsurvey/netsurvey/pkg/logger"
	"github.com/netsurvey/netsurvey/pkg/session"
)

// Commands 在每台设备上依次执行命令
func (s *SurveyService) Commands(ctx context.Context, req *CommandsRequest) (*CommandsResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if len(req.Commands) == 0 {
		return nil, fmt.Errorf("commands is empty")
	}
	cfg := s.Config()
	devices, err := resolve(cfg, req.Devices, req.Dialect)
	if err != nil {
		return nil, err
	}

	run := s.history.StartRun(model.RunKindCommands, len(devices))
	logger.Info("Running commands", "run_id", run.ID, "devices", len(devices), "commands", len(req.Commands))
	label := strings.Join(req.Commands, "; ")

	results := make([]CommandResult, len(devices))
	forEach(ctx, cfg.Survey.Workers, len(devices), func(ctx context.Context, i int) {
		results[i] = s.runCommands(ctx, cfg, devices[i], req.Commands)
		s.history.RecordCommands(run.ID, label, results[i])
	}, func(i int, err error) {
		results[i] = CommandResult{
			Host:      devices[i].host,
			Dialect:   devices[i].dialect.Name(),
			ErrorKind: session.TransportError.String(),
			Error:     fmt.Sprintf("%s: not started: %v", devices[i].host, err),
		}
		s.history.RecordCommands(run.ID, label, results[i])
	})

	resp := &CommandsResponse{RunID: run.ID, Total: len(devices), Results: results}
	for _, r := range results {
		if !r.Success {
			resp.Failed++
		}
	}
	s.history.FinishRun(run, resp.Failed, nil)
	return resp, nil
}

func (s *SurveyService) runCommands(ctx context.Context, cfg *config.Config, dev device, commands []string) CommandResult {
	start := time.Now()
	res := CommandResult{Host: dev.host, Dialect: dev.dialect.Name()}
	var out *session.Output
	attempts, err := s.retry(ctx, dev.host, func() error {
		o, err := session.Run(ctx, s.opener, session.Config{
			Dialect:     dev.dialect,
			Host:        dev.host,
			Port:        dev.port,
			Credentials: cfg.Survey.Credentials(),
			Timeout:     cfg.Survey.Timeout,
			ExitGrace:   cfg.Survey.ExitGrace,
		}, commands)
		out = o
		return err
	})
	res.Attempts = attempts
	res.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		res.ErrorKind = errorKind(err)
		if p := session.PartialOf(err); p != nil {
			res.Results = p.Results
			res.Partial = true
		}
		return res
	}
	res.Status = out.Status
	res.Results = out.Results
	res.Success = out.Status == 0
	return res
}
