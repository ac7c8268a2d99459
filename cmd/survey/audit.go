package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netsurvey/netsurvey/internal/model"
	"github.com/netsurvey/netsurvey/internal/service"
)

var auditCmd = &cobra.Command{
	Use:   "audit [host...]",
	Short: "Report devices whose running configuration is not saved",
	Long: `Fetch the running and saved configuration of each host and compare them
byte for byte. Exit status is 1 when any host has unsaved changes or
could not be fetched.`,
	RunE: runAudit,
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()
	resp, err := a.svc.Audit(ctx, &service.AuditRequest{Devices: deviceRefs(args), Dialect: dialectArg})
	if err != nil {
		return err
	}

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	for _, r := range resp.Results {
		if r.Result == model.AuditMatch {
			fmt.Fprintf(out, "%s\t%s\n", r.Host, r.Result)
			continue
		}
		fmt.Fprintf(errOut, "%s\t%s\t%s\n", r.Host, r.Result, r.Detail)
	}
	fmt.Fprintf(out, "%d of %d devices have matching configurations (run %s)\n", resp.Total-resp.Problems, resp.Total, resp.RunID)
	if resp.Problems > 0 {
		return &exitError{code: 1}
	}
	return nil
}
