package cli

import (
	"github.com/spf13/cobra"
	core "github.com/deltafabric/deltafabric/core"
)

func workRequestHandler(cmd *cobra.Command, _ []string) error {
	jobID, _ := cmd.Flags().GetString("job-id")
	typ, _ := cmd.Flags().GetString("type")
	title, _ := cmd.Flags().GetString("title")
	agent, _ := cmd.Flags().GetString("agent")
	weight, _ := cmd.Flags().GetInt("weight")
	timeoutMs, _ := cmd.Flags().GetInt64("timeout-ms")
	metaRaw, _ := cmd.Flags().GetString("metadata")
	dependsOn, _ := cmd.Flags().GetStringSlice("depends-on")

	meta, err := decodeJSONArg(metaRaw)
	if err != nil {
		return err
	}

	req := core.JobRequest{
		JobID: jobID, Type: core.JobType(typ), Title: title, Agent: agent,
		Weight: weight, DependsOn: dependsOn, TimeoutMs: timeoutMs, Metadata: meta,
	}
	return printJSON(cmd, kernel.WorkRequest(req))
}

func workCompleteHandler(cmd *cobra.Command, args []string) error {
	outcome, _ := cmd.Flags().GetString("outcome")
	errMsg, _ := cmd.Flags().GetString("error")
	resultRaw, _ := cmd.Flags().GetString("result")
	metricsRaw, _ := cmd.Flags().GetString("metrics")

	var result any
	if resultRaw != "" {
		m, err := decodeJSONArg(resultRaw)
		if err != nil {
			return err
		}
		result = m
	}
	metrics, err := decodeJSONArg(metricsRaw)
	if err != nil {
		return err
	}
	job, err := kernel.WorkComplete(core.CompleteRequest{
		JobID: args[0], Outcome: core.JobOutcome(outcome), Result: result, Error: errMsg, Metrics: metrics,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd, job)
}

func workStatusHandler(cmd *cobra.Command, _ []string) error {
	return printJSON(cmd, kernel.WorkStatus())
}

func workCancelHandler(cmd *cobra.Command, args []string) error {
	reason, _ := cmd.Flags().GetString("reason")
	job, err := kernel.WorkCancel(args[0], reason)
	if err != nil {
		return err
	}
	return printJSON(cmd, job)
}

func workHistoryHandler(cmd *cobra.Command, _ []string) error {
	completed, stats := kernel.WorkHistory()
	return printJSON(cmd, map[string]any{"completed": completed, "stats": stats})
}

var workCmd = &cobra.Command{
	Use:               "work",
	Short:             "Admission-gated job lifecycle",
	PersistentPreRunE: requireKernel,
}

var workRequestCmd = &cobra.Command{Use: "request", Short: "Request admission for a job", RunE: workRequestHandler}
var workCompleteCmd = &cobra.Command{Use: "complete <job_id>", Short: "Mark a job complete", Args: cobra.ExactArgs(1), RunE: workCompleteHandler}
var workStatusCmd = &cobra.Command{Use: "status", Short: "Print active/queued/stats snapshot", RunE: workStatusHandler}
var workCancelCmd = &cobra.Command{Use: "cancel <job_id>", Short: "Cancel an active or queued job", Args: cobra.ExactArgs(1), RunE: workCancelHandler}
var workHistoryCmd = &cobra.Command{Use: "history", Short: "Print completed jobs and cumulative stats", RunE: workHistoryHandler}

func init() {
	workRequestCmd.Flags().String("job-id", "", "job id; generated when absent")
	workRequestCmd.Flags().String("type", string(core.JobHuman), "human|ai|system")
	workRequestCmd.Flags().String("title", "", "job title")
	workRequestCmd.Flags().String("agent", "", "requesting agent tag")
	workRequestCmd.Flags().Int("weight", 1, "capacity weight")
	workRequestCmd.Flags().Int64("timeout-ms", 0, "timeout, defaults to the admission controller's configured default")
	workRequestCmd.Flags().String("metadata", "", "JSON object, e.g. {\"closure_work\":true}")
	workRequestCmd.Flags().StringSlice("depends-on", nil, "job ids this job depends on")
	workCompleteCmd.Flags().String("outcome", string(core.OutcomeCompleted), "completed|failed|abandoned")
	workCompleteCmd.Flags().String("error", "", "error message when outcome=failed")
	workCompleteCmd.Flags().String("result", "", "JSON object result payload")
	workCompleteCmd.Flags().String("metrics", "", "JSON object metrics payload")
	workCancelCmd.Flags().String("reason", "cancelled", "cancellation reason")
	workCmd.AddCommand(workRequestCmd, workCompleteCmd, workStatusCmd, workCancelCmd, workHistoryCmd)
}

// WorkCmd exports the root command.
var WorkCmd = workCmd
