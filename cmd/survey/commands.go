package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/netsurvey/netsurvey/internal/service"
)

var commandHosts []string

var commandsCmd = &cobra.Command{
	Use:   "commands command [command...]",
	Short: "Run CLI commands on devices",
	Long: `Run the given commands in one session per host. Output goes to stdout
when the session ended with status 0 and to stderr otherwise.

Examples:
  survey commands -H sw1 -H sw2 -t cisco "show version" "show clock"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommands,
}

func init() {
	commandsCmd.Flags().StringSliceVarP(&commandHosts, "host", "H", nil, "target host (repeatable, default: inventory)")
}

func runCommands(cmd *cobra.Command, args []string) error {
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
	resp, err := a.svc.Commands(ctx, &service.CommandsRequest{
		Devices:  deviceRefs(commandHosts),
		Dialect:  dialectArg,
		Commands: args,
	})
	if err != nil {
		return err
	}

	for _, r := range resp.Results {
		w := cmd.OutOrStdout()
		if !r.Success {
			w = cmd.ErrOrStderr()
		}
		printCommandResult(w, r)
	}
	if resp.Failed > 0 {
		return &exitError{code: 1}
	}
	return nil
}

func printCommandResult(w io.Writer, r service.CommandResult) {
	fmt.Fprintf(w, "==> %s <==\n", r.Host)
	for _, res := range r.Results {
		fmt.Fprintf(w, "# %s\n%s", res.Command, res.Output)
	}
	switch {
	case r.Error != "" && r.Partial:
		fmt.Fprintf(w, "!! %s (output incomplete)\n", r.Error)
	case r.Error != "":
		fmt.Fprintf(w, "!! %s\n", r.Error)
	case r.Status != 0:
		fmt.Fprintf(w, "!! exit status %d\n", r.Status)
	}
}
