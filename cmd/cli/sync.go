package cli

import (
	"github.com/spf13/cobra"
)

func syncPeersHandler(cmd *cobra.Command, _ []string) error {
	peers, err := kernel.SyncPeers()
	if err != nil {
		return err
	}
	return printJSON(cmd, peers)
}

func syncBeginHandler(cmd *cobra.Command, args []string) error {
	if err := kernel.SyncBegin(args[0]); err != nil {
		return err
	}
	return printJSON(cmd, map[string]any{"peer_id": args[0], "started": true})
}

func syncStatusHandler(cmd *cobra.Command, _ []string) error {
	status, err := kernel.SyncStatusOp()
	if err != nil {
		return err
	}
	return printJSON(cmd, status)
}

var syncCmd = &cobra.Command{
	Use:               "sync",
	Short:             "Peer transport and replication state",
	PersistentPreRunE: requireKernel,
}

var syncPeersCmd = &cobra.Command{Use: "peers", Short: "List peers known to the transport", RunE: syncPeersHandler}
var syncBeginCmd = &cobra.Command{
	Use: "begin <peer_id>", Short: "Begin a sync round with one peer on demand",
	Args: cobra.ExactArgs(1), RunE: syncBeginHandler,
}
var syncStatusCmd = &cobra.Command{Use: "status", Short: "Print per-peer watermark and session state", RunE: syncStatusHandler}

func init() {
	syncCmd.AddCommand(syncPeersCmd, syncBeginCmd, syncStatusCmd)
}

// SyncCmd exports the root command.
var SyncCmd = syncCmd
