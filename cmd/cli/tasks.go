package cli

import (
	"github.com/spf13/cobra"
	core "github.com/deltafabric/deltafabric/core"
)

func tasksCreateHandler(cmd *cobra.Command, _ []string) error {
	raw, _ := cmd.Flags().GetString("state")
	author, _ := cmd.Flags().GetString("author")
	state, err := decodeJSONArg(raw)
	if err != nil {
		return err
	}
	view, err := kernel.CreateTask(state, author)
	if err != nil {
		return err
	}
	return printJSON(cmd, view)
}

func tasksGetHandler(cmd *cobra.Command, args []string) error {
	view, err := kernel.GetTask(args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, view)
}

func tasksListHandler(cmd *cobra.Command, _ []string) error {
	return printJSON(cmd, kernel.ListTasks())
}

func tasksUpdateHandler(cmd *cobra.Command, args []string) error {
	raw, _ := cmd.Flags().GetString("patches")
	author, _ := cmd.Flags().GetString("author")
	ops, err := decodePatchArg(raw)
	if err != nil {
		return err
	}
	view, err := kernel.UpdateTask(args[0], ops, author)
	if err != nil {
		return err
	}
	return printJSON(cmd, view)
}

func tasksArchiveHandler(cmd *cobra.Command, args []string) error {
	author, _ := cmd.Flags().GetString("author")
	view, err := kernel.ArchiveTask(args[0], author)
	if err != nil {
		return err
	}
	return printJSON(cmd, view)
}

var tasksCmd = &cobra.Command{
	Use:               "tasks",
	Short:             "Task entity CRUD",
	PersistentPreRunE: requireKernel,
}

var tasksCreateCmd = &cobra.Command{Use: "create", Short: "Create a task", RunE: tasksCreateHandler}
var tasksGetCmd = &cobra.Command{Use: "get <entity_id>", Short: "Get a task", Args: cobra.ExactArgs(1), RunE: tasksGetHandler}
var tasksListCmd = &cobra.Command{Use: "list", Short: "List all tasks", RunE: tasksListHandler}
var tasksUpdateCmd = &cobra.Command{Use: "update <entity_id>", Short: "Patch a task", Args: cobra.ExactArgs(1), RunE: tasksUpdateHandler}
var tasksArchiveCmd = &cobra.Command{Use: "archive <entity_id>", Short: "Archive a task", Args: cobra.ExactArgs(1), RunE: tasksArchiveHandler}

func init() {
	tasksCreateCmd.Flags().String("state", "{}", "initial state, JSON object")
	tasksCreateCmd.Flags().String("author", core.AuthorUser, "author tag on the genesis delta")
	tasksUpdateCmd.Flags().String("patches", "", "leaf patches, JSON array of {op,path,value}")
	tasksUpdateCmd.Flags().String("author", core.AuthorUser, "author tag on the delta")
	tasksArchiveCmd.Flags().String("author", core.AuthorUser, "author tag on the delta")
	tasksCmd.AddCommand(tasksCreateCmd, tasksGetCmd, tasksListCmd, tasksUpdateCmd, tasksArchiveCmd)
}

// TasksCmd exports the root command.
var TasksCmd = tasksCmd
