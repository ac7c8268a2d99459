package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/netsurvey/netsurvey/api/router"
	"github.com/netsurvey/netsurvey/internal/config"
	"github.com/netsurvey/netsurvey/pkg/logger"
	"github.com/netsurvey/netsurvey/simulate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP control API",
	Long: `Serve the HTTP control API (dump, audit, commands and run history).
The config file is watched and reloaded in place; listen address changes
need a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	logger.Info("Starting netsurvey server", "version", version, "workers", cfg.Survey.Workers, "devices", len(cfg.Devices))

	sim := &simHolder{}
	sim.apply(cfg)
	defer sim.stop()

	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        router.SetupRouter(a.svc, a.gate),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	ctx, cancel := signalContext()
	defer cancel()

	if path := config.FileUsed(); path != "" {
		go watchConfig(ctx, path, func() {
			newCfg, err := config.Load(path)
			if err != nil {
				logger.Warn("Config reload failed", "error", err)
				return
			}
			if err := logger.Init(newCfg.Log); err != nil {
				logger.Warn("Logger reload failed", "error", err)
			}
			a.svc.UpdateConfig(newCfg)
			sim.apply(newCfg)
			logger.Info("Config reloaded", "path", path, "devices", len(newCfg.Devices))
		})
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return err
	}
	logger.Info("Server exited")
	return nil
}

// watchConfig 配置文件变更后去抖触发 reload
func watchConfig(ctx context.Context, path string, reload func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("Config watch init failed", "error", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		logger.Warn("Config watch add failed", "path", path, "error", err)
		return
	}

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(300*time.Millisecond, reload)
			}
			// 编辑器以改名方式保存时需要重新监听
			if ev.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				_ = watcher.Add(path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Config watch error", "error", err)
		}
	}
}

// simHolder 按 simulate.enable 启停内置模拟设备
type simHolder struct {
	mu  sync.Mutex
	mgr *simulate.Manager
}

func (h *simHolder) apply(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case cfg.Simulate.Enable && h.mgr == nil:
		m, err := startSimulator(cfg)
		if err != nil {
			logger.Warn("Simulate: failed to start", "error", err)
			return
		}
		h.mgr = m
	case !cfg.Simulate.Enable && h.mgr != nil:
		h.mgr.Stop()
		h.mgr = nil
		logger.Info("Simulate: stopped by config reload")
	}
}

func (h *simHolder) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mgr != nil {
		h.mgr.Stop()
		h.mgr = nil
	}
}
