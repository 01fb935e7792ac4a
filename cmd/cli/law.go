package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	core "github.com/deltafabric/deltafabric/core"
)

func lawCloseLoopHandler(cmd *cobra.Command, _ []string) error {
	loopID, _ := cmd.Flags().GetString("loop-id")
	title, _ := cmd.Flags().GetString("title")
	outcome, _ := cmd.Flags().GetString("outcome")
	source, _ := cmd.Flags().GetString("source")
	if outcome == "" {
		outcome = string(core.OutcomeClosed)
	}
	result, err := kernel.CloseLoop(loopID, title, core.ClosureOutcome(outcome), source)
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}

func lawAcknowledgeHandler(cmd *cobra.Command, args []string) error {
	at, err := kernel.Acknowledge(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), at.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}

func lawArchiveHandler(cmd *cobra.Command, _ []string) error {
	loopID, _ := cmd.Flags().GetString("loop-id")
	loopTitle, _ := cmd.Flags().GetString("title")
	reason, _ := cmd.Flags().GetString("reason")
	ok, err := kernel.Archive(loopID, loopTitle, reason)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ok)
	return nil
}

func lawRefreshHandler(cmd *cobra.Command, _ []string) error {
	at, err := kernel.Refresh()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), at.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}

func lawViolationHandler(cmd *cobra.Command, args []string) error {
	context, _ := cmd.Flags().GetString("context")
	count, level, err := kernel.Violation(args[0], context)
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]any{"violations_count": count, "enforcement_level": level})
}

func lawOverrideHandler(cmd *cobra.Command, args []string) error {
	count, logged, err := kernel.Override(args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]any{"overrides_count": count, "logged": logged})
}

var lawCmd = &cobra.Command{
	Use:               "law",
	Short:             "Closure engine and enforcement operations",
	PersistentPreRunE: requireKernel,
}

var lawCloseLoopCmd = &cobra.Command{Use: "close-loop", Short: "Close or archive a loop", RunE: lawCloseLoopHandler}
var lawAcknowledgeCmd = &cobra.Command{Use: "acknowledge <order>", Short: "Acknowledge a standing order", Args: cobra.ExactArgs(1), RunE: lawAcknowledgeHandler}
var lawArchiveCmd = &cobra.Command{Use: "archive", Short: "Retire a loop without a closure event", RunE: lawArchiveHandler}
var lawRefreshCmd = &cobra.Command{Use: "refresh", Short: "Request an upstream cognitive refresh", RunE: lawRefreshHandler}
var lawViolationCmd = &cobra.Command{Use: "violation <action>", Short: "Record an enforcement violation", Args: cobra.ExactArgs(1), RunE: lawViolationHandler}
var lawOverrideCmd = &cobra.Command{Use: "override <reason>", Short: "Record a logged override", Args: cobra.ExactArgs(1), RunE: lawOverrideHandler}

func init() {
	lawCloseLoopCmd.Flags().String("loop-id", "", "opaque loop id; idempotency key when present")
	lawCloseLoopCmd.Flags().String("title", "", "loop title")
	lawCloseLoopCmd.Flags().String("outcome", string(core.OutcomeClosed), "closed|archived")
	lawCloseLoopCmd.Flags().String("source", core.AuthorUser, "author tag")
	lawArchiveCmd.Flags().String("loop-id", "", "loop id (or --title)")
	lawArchiveCmd.Flags().String("title", "", "loop title, used when --loop-id is absent")
	lawArchiveCmd.Flags().String("reason", "", "why this loop is being retired")
	lawViolationCmd.Flags().String("context", "", "free-form context string")
	lawCmd.AddCommand(lawCloseLoopCmd, lawAcknowledgeCmd, lawArchiveCmd, lawRefreshCmd, lawViolationCmd, lawOverrideCmd)
}

// LawCmd exports the root command.
var LawCmd = lawCmd
