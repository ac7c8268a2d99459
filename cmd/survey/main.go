// Command survey 批量导出、比对网络设备配置并执行命令
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/netsurvey/netsurvey/internal/config"
	"github.com/netsurvey/netsurvey/internal/database"
	"github.com/netsurvey/netsurvey/internal/service"
	"github.com/netsurvey/netsurvey/pkg/logger"
	"github.com/netsurvey/netsurvey/pkg/transport"
)

var version = "dev"

// 全局参数
var (
	configPath string
	user       string
	dialectArg string
	workers    int
	retries    int
	timeout    time.Duration
	logLevel   string
	noHistory  bool
)

// exitError 以指定退出码结束，消息已输出时 msg 为空
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(os.Stderr, ee.msg)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "survey",
	Short:         "Retrieve, audit and query network device configurations",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: configs/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&user, "user", "u", "", "login user, overrides survey.user")
	rootCmd.PersistentFlags().StringVarP(&dialectArg, "dialect", "t", "", "device dialect for hosts not in the inventory")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 0, "parallel devices, overrides survey.workers")
	rootCmd.PersistentFlags().IntVar(&retries, "retries", -1, "retries for connect and transport failures")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "per-device inactivity timeout")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides log.level")
	rootCmd.PersistentFlags().BoolVar(&noHistory, "no-history", false, "do not record runs in the history database")

	rootCmd.AddCommand(dumpCmd, auditCmd, commandsCmd, serveCmd, simulateCmd)
}

// loadConfig 读取配置并应用命令行覆盖
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if user != "" {
		cfg.Survey.User = user
	}
	if workers > 0 {
		cfg.Survey.Workers = workers
	}
	if retries >= 0 {
		cfg.Survey.Retries = retries
	}
	if timeout > 0 {
		cfg.Survey.Timeout = timeout
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// app 一次命令运行所需的服务
type app struct {
	cfg  *config.Config
	svc  *service.SurveyService
	gate *transport.Gate
	db   bool
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	var history *service.History
	if !noHistory {
		if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
			logger.Warn("History disabled, database unavailable", "error", err)
		} else {
			a.db = true
			history = service.NewHistory(database.GetDB())
		}
	}

	var mirror service.ArtifactMirror
	m, err := service.NewMinioMirror(cfg.Storage.Minio)
	if err != nil {
		a.close()
		return nil, err
	}
	if m != nil {
		mirror = m
		logger.Info("Object storage mirror enabled", "bucket", cfg.Storage.Minio.Bucket)
	}

	a.gate = transport.NewGate(cfg.Gate)
	opener := transport.NewDialer(cfg.Transport, a.gate)
	a.svc = service.NewSurveyService(cfg, opener, history, mirror)
	return a, nil
}

func (a *app) close() {
	if a.gate != nil {
		a.gate.Close()
	}
	if a.db {
		_ = database.Close()
	}
}

// signalContext Ctrl-C 取消尚未开始的设备
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// deviceRefs 命令行主机转为设备引用
func deviceRefs(hosts []string) []service.DeviceRef {
	refs := make([]service.DeviceRef, 0, len(hosts))
	for _, h := range hosts {
		refs = append(refs, service.DeviceRef{Host: h})
	}
	return refs
}
