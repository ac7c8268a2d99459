package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netsurvey/netsurvey/internal/service"
)

var (
	dumpRunning bool
	dumpFail    bool
	dumpDest    string
	dumpPattern string
	dumpRetry   string
)

var dumpCmd = &cobra.Command{
	Use:   "dump [host...]",
	Short: "Copy device configurations into a directory",
	Long: `Copy the saved (or, with --run, the running) configuration of each host
into the destination directory as <host>.cfg.

Hosts default to the configured inventory. Exit status is 2 when the
destination directory does not exist and 1 when any host failed.

Examples:
  survey dump --dest /srv/configs core1 core2 -t brocade
  survey dump --run --fail
  survey dump --retry failed_hosts.yaml`,
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().BoolVarP(&dumpRunning, "run", "r", false, "copy the running configuration instead of the saved one")
	dumpCmd.Flags().BoolVarP(&dumpFail, "fail", "f", false, "write the failed hosts file into the destination directory")
	dumpCmd.Flags().StringVarP(&dumpDest, "dest", "d", "", "destination directory (default: survey.dest_dir)")
	dumpCmd.Flags().StringVar(&dumpPattern, "pattern", "", "file name pattern, %s is the host (default: %s.cfg)")
	dumpCmd.Flags().StringVar(&dumpRetry, "retry", "", "only dump the hosts listed in a failed hosts file")
}

func runDump(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	req := &service.DumpRequest{
		Devices:     deviceRefs(args),
		Dialect:     dialectArg,
		DestDir:     dumpDest,
		Running:     dumpRunning,
		WriteFailed: dumpFail,
		Pattern:     dumpPattern,
	}
	if dumpRetry != "" {
		report, err := service.ReadFailedReport(dumpRetry)
		if err != nil {
			return err
		}
		req.Devices = append(req.Devices, report.Refs()...)
	}

	ctx, cancel := signalContext()
	defer cancel()
	resp, err := a.svc.Dump(ctx, req)
	if errors.Is(err, service.ErrDestDirMissing) {
		return &exitError{code: 2, msg: err.Error()}
	}
	if err != nil {
		return err
	}

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	for _, r := range resp.Results {
		if r.Success {
			fmt.Fprintf(out, "%s\t%s\n", r.Host, r.Artifact.Dest)
			continue
		}
		fmt.Fprintf(errOut, "%s\tFAILED\t%s\n", r.Host, r.Error)
	}
	fmt.Fprintf(out, "Retrieved %d of %d configurations (run %s)\n", resp.Total-resp.Failed, resp.Total, resp.RunID)
	if resp.FailedFile != "" {
		fmt.Fprintf(errOut, "Failed hosts written to %s\n", resp.FailedFile)
	}
	if resp.Failed > 0 {
		return &exitError{code: 1}
	}
	return nil
}
