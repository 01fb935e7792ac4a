package cli

import (
	"github.com/spf13/cobra"
	"github.com/deltafabric/deltafabric/pkg/config"
)

func healthHandler(cmd *cobra.Command, _ []string) error {
	return printJSON(cmd, kernel.Health(config.Version))
}

var healthCmd = &cobra.Command{
	Use:               "health",
	Short:             "Liveness check",
	PersistentPreRunE: requireKernel,
	RunE:              healthHandler,
}

// HealthCmd exports the root command.
var HealthCmd = healthCmd
