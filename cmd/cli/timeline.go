package cli

import (
	"time"

	"github.com/spf13/cobra"
	core "github.com/deltafabric/deltafabric/core"
)

func timelineQueryHandler(cmd *cobra.Command, _ []string) error {
	typ, _ := cmd.Flags().GetString("type")
	source, _ := cmd.Flags().GetString("source")
	limit, _ := cmd.Flags().GetInt("limit")
	fromRaw, _ := cmd.Flags().GetString("from")
	toRaw, _ := cmd.Flags().GetString("to")

	var from, to time.Time
	var err error
	if fromRaw != "" {
		if from, err = time.Parse(time.RFC3339, fromRaw); err != nil {
			return err
		}
	}
	if toRaw != "" {
		if to, err = time.Parse(time.RFC3339, toRaw); err != nil {
			return err
		}
	}

	events := kernel.TimelineQueryOp(core.TimelineQuery{From: from, To: to, Type: typ, Source: source, Limit: limit})
	return printJSON(cmd, events)
}

func timelineStatsHandler(cmd *cobra.Command, _ []string) error {
	return printJSON(cmd, kernel.TimelineStatsOp())
}

func timelineDayHandler(cmd *cobra.Command, args []string) error {
	date, err := time.Parse("2006-01-02", args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, kernel.TimelineDayOp(date))
}

var timelineCmd = &cobra.Command{
	Use:               "timeline",
	Short:             "Append-only event log queries",
	PersistentPreRunE: requireKernel,
}

var timelineQueryCmd = &cobra.Command{Use: "query", Short: "Query events by from/to/type/source/limit", RunE: timelineQueryHandler}
var timelineStatsCmd = &cobra.Command{Use: "stats", Short: "Print aggregate event stats", RunE: timelineStatsHandler}
var timelineDayCmd = &cobra.Command{Use: "day <YYYY-MM-DD>", Short: "List events for one UTC calendar day", Args: cobra.ExactArgs(1), RunE: timelineDayHandler}

func init() {
	timelineQueryCmd.Flags().String("type", "", "filter by event type")
	timelineQueryCmd.Flags().String("source", "", "filter by event source")
	timelineQueryCmd.Flags().Int("limit", 100, "max events returned")
	timelineQueryCmd.Flags().String("from", "", "RFC3339 lower bound")
	timelineQueryCmd.Flags().String("to", "", "RFC3339 upper bound")
	timelineCmd.AddCommand(timelineQueryCmd, timelineStatsCmd, timelineDayCmd)
}

// TimelineCmd exports the root command.
var TimelineCmd = timelineCmd
