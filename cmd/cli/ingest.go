package cli

import (
	"github.com/spf13/cobra"
)

func ingestCognitiveHandler(cmd *cobra.Command, _ []string) error {
	cogRaw, _ := cmd.Flags().GetString("cognitive")
	dirRaw, _ := cmd.Flags().GetString("directive")
	cognitive, err := decodeJSONArg(cogRaw)
	if err != nil {
		return err
	}
	directive, err := decodeJSONArg(dirRaw)
	if err != nil {
		return err
	}
	out, err := kernel.IngestCognitive(cognitive, directive)
	if err != nil {
		return err
	}
	return printJSON(cmd, out)
}

var ingestCmd = &cobra.Command{
	Use:               "ingest",
	Short:             "Upstream cognitive/directive signal ingestion",
	PersistentPreRunE: requireKernel,
}

var ingestCognitiveCmd = &cobra.Command{
	Use:   "cognitive",
	Short: "Feed a cognitive/directive snapshot and recompute mode",
	RunE:  ingestCognitiveHandler,
}

func init() {
	ingestCognitiveCmd.Flags().String("cognitive", "{}", "JSON object, e.g. {\"sleep_hours\":7.5}")
	ingestCognitiveCmd.Flags().String("directive", "{}", "JSON object, e.g. {\"open_loops\":3}")
	ingestCmd.AddCommand(ingestCognitiveCmd)
}

// IngestCmd exports the root command.
var IngestCmd = ingestCmd
