package main

// main.go – Delta Fabric's cobra root: loads configuration, opens the
// durable store/registry/timeline, constructs the KernelContext and wires
// every cmd/cli subcommand tree onto it, mirroring the prior implementation's flat
// cmd/synnergy/main.go root-command shape.

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/deltafabric/deltafabric/cmd/cli"
	core "github.com/deltafabric/deltafabric/core"
	"github.com/deltafabric/deltafabric/pkg/config"
)

var (
	cfgDir string
	env    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:               "deltafabric",
		Short:             "Content-addressed, append-only state replication fabric",
		SilenceUsage:      true,
		PersistentPreRunE: bootstrap,
	}
	rootCmd.PersistentFlags().StringVar(&cfgDir, "config-dir", "", "directory holding default.yaml / <env>.yaml")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "environment overlay file name (without extension)")

	rootCmd.AddCommand(cli.StateCmd, cli.TasksCmd, cli.LawCmd, cli.WorkCmd,
		cli.TimelineCmd, cli.DaemonCmd, cli.HealthCmd, cli.IngestCmd, cli.SyncCmd)
	rootCmd.AddCommand(serveCmd())

	// Run the root's bootstrap before each group's own PersistentPreRunE
	// instead of letting the group hook shadow it.
	cobra.EnableTraverseRunHooks = true
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// bootstrap loads configuration and constructs the KernelContext exactly
// once, regardless of which subcommand eventually runs; PersistentPreRunE
// on the root means every leaf command gets a ready kernel without
// duplicating this wiring per file.
func bootstrap(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgDir, env)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logrus.New()
	if lvl, lerr := logrus.ParseLevel(cfg.Logging.Level); lerr == nil {
		log.SetLevel(lvl)
	}
	log.SetFormatter(&logrus.JSONFormatter{})

	store, err := core.OpenStore(core.StoreConfig{Dir: cfg.DataDir})
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	registry, err := core.OpenClosureRegistry(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("closure registry: %w", err)
	}
	timeline, err := core.OpenTimeline(cfg.DataDir + "/timeline_events.json")
	if err != nil {
		return fmt.Errorf("timeline: %w", err)
	}

	admissionCfg := core.AdmissionConfig{
		MaxConcurrent: cfg.Admission.MaxConcurrent, MaxQueueDepth: cfg.Admission.MaxQueueDepth,
		DefaultTimeoutMs: cfg.Admission.DefaultTimeoutMs, AllowAIInClosureMode: cfg.Admission.AllowAIInClosureMode,
	}
	kernel := core.NewKernelContext(store, registry, timeline, admissionCfg, log)
	kernel.Metrics = core.NewCollector(log)

	if err := mountSync(kernel, cfg, log); err != nil {
		log.WithError(err).Warn("sync: peer transport unavailable, running without replication")
	}

	go core.RunCollector(context.Background(), kernel.Metrics, cfg.Metrics.CollectInterval, func() core.MetricsSnapshot {
		return metricsSnapshot(kernel)
	})

	kernel.Daemon.Start()
	cli.SetKernel(kernel)
	return nil
}

// mountSync constructs the libp2p peer transport and sync engine from the
// loaded network configuration and installs them on kernel.Sync; kernel.Sync
// stays nil (the daemon's sync job becomes a no-op) if the transport
// cannot be brought up, e.g. no usable listen address in this environment.
func mountSync(kernel *core.KernelContext, cfg *config.Config, log *logrus.Logger) error {
	node, err := core.NewPeerNode(core.NodeConfig{
		ListenAddr:     cfg.Network.ListenAddr,
		BootstrapPeers: cfg.Network.BootstrapPeers,
		DiscoveryTag:   cfg.Network.DiscoveryTag,
	}, log)
	if err != nil {
		return fmt.Errorf("construct peer node: %w", err)
	}

	watermarks, err := core.NewWatermarkStore(0)
	if err != nil {
		return fmt.Errorf("construct watermark store: %w", err)
	}
	conflicts := core.NewConflictResolverRegistry()

	nodeID := node.PeerID()
	engine := core.NewSyncEngine(nodeID, kernel.Store, node, watermarks, conflicts, log, cfg.Network.MaxPacketBytes)
	engine.Start()

	kernel.Sync = engine
	return nil
}

// metricsSnapshot reads the live state every RunCollector tick snapshots
// into the Prometheus gauges; domain fields come from Store/Admission/Sync,
// process fields from core.RuntimeSnapshot.
func metricsSnapshot(kernel *core.KernelContext) core.MetricsSnapshot {
	snap := core.RuntimeSnapshot(time.Now().UTC())

	snap.DeltaCount = len(kernel.Store.LoadDeltas())
	snap.EntityCount = len(kernel.Store.AllEntities())

	status := kernel.WorkStatus()
	snap.Mode = status.Mode
	snap.BuildAllowed = status.BuildAllowed
	snap.ClosureRatio = status.ClosureRatio
	snap.WorkActive = len(status.Active)
	snap.WorkQueued = len(status.Queued)
	snap.WorkCompleted = int64(status.Stats.TotalCompleted)

	if kernel.Sync != nil {
		snap.PeerCount = len(kernel.Sync.SamplePeers(0))
	}
	return snap
}

// exitCodeFor maps a returned error onto the CLI's exit codes: 0 success,
// 1 user error, 2 protocol/validation error, 3 I/O error.
func exitCodeFor(err error) int {
	coreErr, ok := err.(*core.Error)
	if !ok {
		return 1
	}
	switch coreErr.Kind {
	case core.KindIO:
		return 3
	case core.KindValidation, core.KindHashChain, core.KindConflict, core.KindSignature:
		return 2
	default:
		return 1
	}
}
