package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	core "github.com/deltafabric/deltafabric/core"
)

func stateStreamHandler(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	events := kernel.StreamState(ctx)
	enc := json.NewEncoder(cmd.OutOrStdout())
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}

func stateGetHandler(cmd *cobra.Command, _ []string) error {
	out, err := kernel.GetUnifiedState()
	if err != nil {
		return err
	}
	return printJSON(cmd, out)
}

func statePutHandler(cmd *cobra.Command, _ []string) error {
	mode, _ := cmd.Flags().GetString("mode")
	sleep, _ := cmd.Flags().GetFloat64("sleep-hours")
	openLoops, _ := cmd.Flags().GetInt("open-loops")
	leverage, _ := cmd.Flags().GetFloat64("leverage-balance")
	streak, _ := cmd.Flags().GetInt("streak-days")

	req := core.StatePutRequest{
		Mode: mode, SleepHours: sleep, OpenLoops: openLoops,
		LeverageBalance: leverage, StreakDays: streak,
	}
	if err := kernel.PutState(req); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

var stateCmd = &cobra.Command{
	Use:               "state",
	Short:             "Unified state read/write",
	PersistentPreRunE: requireKernel,
}

var stateGetCmd = &cobra.Command{Use: "get", Short: "Print the unified state view", RunE: stateGetHandler}

var statePutCmd = &cobra.Command{Use: "put", Short: "Write the five tracked signals", RunE: statePutHandler}

var stateStreamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Follow unified_state/delta_created events until interrupted",
	RunE:  stateStreamHandler,
}

func init() {
	statePutCmd.Flags().String("mode", "", "override mode directly (optional)")
	statePutCmd.Flags().Float64("sleep-hours", 0, "sleep_hours signal")
	statePutCmd.Flags().Int("open-loops", 0, "open_loops signal")
	statePutCmd.Flags().Float64("leverage-balance", 0, "leverage_balance signal")
	statePutCmd.Flags().Int("streak-days", 0, "streak_days signal")
	stateCmd.AddCommand(stateGetCmd, statePutCmd, stateStreamCmd)
}

// StateCmd exports the root command.
var StateCmd = stateCmd
