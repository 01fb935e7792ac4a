package cli

// kernel.go – the one package-level handle every cli/*.go file reaches for.
// Every operation on core.KernelContext itself is still explicit dependency
// injection; this single process-wide variable exists only because cobra
// wires RunE funcs directly off command trees with no natural place to
// thread a constructor argument through. main.go's root PersistentPreRunE
// (bootstrap) calls SetKernel once, before any subcommand runs.

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
	core "github.com/deltafabric/deltafabric/core"
)

var kernel *core.KernelContext

// SetKernel installs the constructed KernelContext for every cli command to
// use; must be called before any subcommand's RunE.
func SetKernel(k *core.KernelContext) { kernel = k }

// Kernel returns the installed KernelContext, or nil if SetKernel has not
// run yet; the serve subcommand uses this to mount the same kernel the CLI
// tree uses rather than constructing a second one.
func Kernel() *core.KernelContext { return kernel }

func requireKernel(_ *cobra.Command, _ []string) error {
	if kernel == nil {
		return errors.New("kernel not initialised")
	}
	return nil
}

// decodeJSONArg unmarshals a JSON-object flag value into a map, treating an
// empty string as an empty object rather than an error.
func decodeJSONArg(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodePatchArg(raw string) ([]core.PatchOp, error) {
	if raw == "" {
		return nil, errors.New("patches required")
	}
	var ops []core.PatchOp
	if err := json.Unmarshal([]byte(raw), &ops); err != nil {
		return nil, err
	}
	return ops, nil
}
