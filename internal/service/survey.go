package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/netsurvey/netsurvey/addone/dialect"
	"github.com/netsurvey/netsurvey/internal/config"
	"github.com/netsurvey/netsurvey/pkg/logger"
	"github.com/netsurvey/netsurvey/pkg/session"
	"github.com/netsurvey/netsurvey/pkg/transfer"
	"github.com/netsurvey/netsurvey/pkg/transport"
)

// SurveyService 批量驱动设备会话：导出配置、比对配置、执行命令
type SurveyService struct {
	mu      sync.RWMutex
	cfg     *config.Config
	opener  transport.Opener
	history *History
	mirror  ArtifactMirror
}

// NewSurveyService 创建服务；history、mirror 可为 nil
func NewSurveyService(cfg *config.Config, opener transport.Opener, history *History, mirror ArtifactMirror) *SurveyService {
	if history == nil {
		history = NewHistory(nil)
	}
	return &SurveyService{cfg: cfg, opener: opener, history: history, mirror: mirror}
}

// UpdateConfig 热更新配置，对之后开始的任务生效
func (s *SurveyService) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Config 当前配置
func (s *SurveyService) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// History 运行历史
func (s *SurveyService) History() *History { return s.history }

// device 解析后的目标设备
type device struct {
	host    string
	dialect *dialect.Dialect
	port    int
}

// resolve 确定每台设备的方言与端口；未指定设备时使用设备清单
func resolve(cfg *config.Config, refs []DeviceRef, fallback string) ([]device, error) {
	if len(refs) == 0 {
		for _, d := range cfg.Devices {
			refs = append(refs, DeviceRef{Host: d.Host, Dialect: d.Dialect, Port: d.Port})
		}
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("no devices given and inventory is empty")
	}
	out := make([]device, 0, len(refs))
	for _, ref := range refs {
		host := strings.TrimSpace(ref.Host)
		if host == "" {
			return nil, fmt.Errorf("device host is required")
		}
		name, port := ref.Dialect, ref.Port
		if inv, ok := cfg.DeviceFor(host); ok {
			if name == "" {
				name = inv.Dialect
			}
			if port == 0 {
				port = inv.Port
			}
		}
		if name == "" {
			name = fallback
		}
		if name == "" {
			return nil, fmt.Errorf("%s: no dialect given and host is not in inventory", host)
		}
		d, err := dialect.Get(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", host, err)
		}
		if port == 0 {
			port = cfg.Survey.Port
		}
		out = append(out, device{host: host, dialect: d, port: port})
	}
	return out, nil
}

// forEach 以 Survey.Workers 为上限并发处理设备；上下文结束后未开始的设备交给 skip
func forEach(ctx context.Context, workers, n int, run func(ctx context.Context, i int), skip func(i int, err error)) {
	if workers < 1 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		err := sem.Acquire(gctx, 1)
		if err == nil && gctx.Err() != nil {
			sem.Release(1)
			err = gctx.Err()
		}
		if err != nil {
			for j := i; j < n; j++ {
				skip(j, err)
			}
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			run(gctx, i)
			return nil
		})
	}
	_ = g.Wait()
}

// retryable 只有连接与传输失败值得重试；超时、帧错误与落盘错误重试也不会改变结果
func retryable(err error) bool {
	return errors.Is(err, session.ConnectError) || errors.Is(err, session.TransportError)
}

// retry 指数退避重试 op，返回尝试次数
func (s *SurveyService) retry(ctx context.Context, host string, op func() error) (int, error) {
	cfg := s.Config().Survey
	b := backoff.NewExponentialBackOff()
	if cfg.RetryInterval > 0 {
		b.InitialInterval = cfg.RetryInterval
	}
	b.MaxElapsedTime = 0
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		logger.Warn("Retrying device", "host", host, "attempt", attempts, "wait", wait, "error", err)
	})
	return attempts, err
}

// fetcher 按当前配置构造 Fetcher
func (s *SurveyService) fetcher(cfg *config.Config) (*transfer.Fetcher, error) {
	perm, err := cfg.Survey.FileMode()
	if err != nil {
		return nil, err
	}
	return transfer.NewFetcher(s.opener, transfer.Options{
		Credentials: cfg.Survey.Credentials(),
		Timeout:     cfg.Survey.Timeout,
		ExitGrace:   cfg.Survey.ExitGrace,
		Perm:        perm,
	}), nil
}

// fetchOne 带重试地获取一个配置文件
func (s *SurveyService) fetchOne(ctx context.Context, f *transfer.Fetcher, dev device, source, dest string) HostResult {
	start := time.Now()
	res := HostResult{Host: dev.host, Dialect: dev.dialect.Name()}
	var art *transfer.Artifact
	attempts, err := s.retry(ctx, dev.host, func() error {
		a, err := f.Fetch(ctx, transfer.Request{
			Host:    dev.host,
			Port:    dev.port,
			Dialect: dev.dialect,
			Source:  source,
			Dest:    dest,
		})
		art = a
		return err
	})
	res.Attempts = attempts
	res.DurationMS = time.Since(start).Milliseconds()
	if err == nil && art.Status != 0 {
		err = fmt.Errorf("%s: device reported exit status %d", dev.host, art.Status)
	}
	res.Artifact = art
	if err != nil {
		res.Error = err.Error()
		res.ErrorKind = errorKind(err)
		return res
	}
	res.Success = true
	return res
}

// skipped 未能开始的设备
func skipped(dev device, err error) HostResult {
	return HostResult{
		Host:      dev.host,
		Dialect:   dev.dialect.Name(),
		ErrorKind: session.TransportError.String(),
		Error:     fmt.Sprintf("%s: not started: %v", dev.host, err),
	}
}

// errorKind 失败类别名称，非会话错误返回空串
func errorKind(err error) string {
	if k := session.KindOf(err); k != 0 {
		return k.String()
	}
	return ""
}
