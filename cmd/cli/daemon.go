package cli

import (
	"github.com/spf13/cobra"
)

func daemonStatusHandler(cmd *cobra.Command, _ []string) error {
	return printJSON(cmd, kernel.DaemonStatusOp())
}

func daemonRunHandler(cmd *cobra.Command, args []string) error {
	if err := kernel.DaemonRunOp(args[0]); err != nil {
		return err
	}
	return printJSON(cmd, kernel.DaemonStatusOp())
}

var daemonCmd = &cobra.Command{
	Use:               "daemon",
	Short:             "Governance daemon schedule and ad-hoc runs",
	PersistentPreRunE: requireKernel,
}

var daemonStatusCmd = &cobra.Command{Use: "status", Short: "Print per-job run history", RunE: daemonStatusHandler}
var daemonRunCmd = &cobra.Command{
	Use:   "run <heartbeat|refresh|day_start|day_end>",
	Short: "Run one of the four ad-hoc jobs immediately",
	Args:  cobra.ExactArgs(1), RunE: daemonRunHandler,
}

func init() {
	daemonCmd.AddCommand(daemonStatusCmd, daemonRunCmd)
}

// DaemonCmd exports the root command.
var DaemonCmd = daemonCmd
