package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netsurvey/netsurvey/internal/config"
	"github.com/netsurvey/netsurvey/pkg/logger"
	"github.com/netsurvey/netsurvey/simulate"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated device for testing",
	Long: `Serve one simulated device of the configured dialect over SSH and Telnet
until interrupted. Logins use survey.user and survey.password.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dialectArg != "" {
		cfg.Simulate.Dialect = dialectArg
	}
	m, err := startSimulator(cfg)
	if err != nil {
		return err
	}
	defer m.Stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Simulating %s device %s: ssh %s telnet %s\n",
		cfg.Simulate.Dialect, cfg.Simulate.Hostname, m.SSHAddr(), m.TelnetAddr())
	ctx, cancel := signalContext()
	defer cancel()
	<-ctx.Done()
	return nil
}

// startSimulator 按 simulate 配置启动模拟设备
func startSimulator(cfg *config.Config) (*simulate.Manager, error) {
	sc := cfg.Simulate
	dev, err := simulate.NewDevice(simulate.Device{
		Hostname:       sc.Hostname,
		Dialect:        sc.Dialect,
		Username:       cfg.Survey.User,
		Password:       cfg.Survey.Password,
		EnablePassword: cfg.Survey.EnablePassword,
		CommandsDir:    sc.CommandsDir,
		PageLines:      sc.PageLines,
	})
	if err != nil {
		return nil, err
	}
	if sc.ConfigFile != "" {
		if err := dev.LoadConfigFile(sc.ConfigFile); err != nil {
			return nil, err
		}
	}
	m, err := simulate.Start(dev, simulate.Options{
		Listen:      sc.Listen,
		SSHPort:     sc.SSHPort,
		TelnetPort:  sc.TelnetPort,
		MaxConn:     sc.MaxConn,
		IdleTimeout: sc.IdleTimeout,
		HostKeyFile: sc.HostKeyFile,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Simulate: started", "dialect", sc.Dialect, "ssh", m.SSHAddr(), "telnet", m.TelnetAddr())
	return m, nil
}
