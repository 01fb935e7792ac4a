package config

// Package config provides a reusable loader for Delta Fabric configuration
// files and environment variables, mirroring the prior implementation's cmd/config
// shape: a YAML file loaded through viper, with environment overrides and
// a .env file read through godotenv. DELTA_DATA_DIR is the one environment
// variable every embedder is expected to honor; everything else here is
// ambient node configuration an embedder may also set via flags.

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for one Delta Fabric node.
type Config struct {
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		MaxPacketBytes int      `mapstructure:"max_packet_bytes" json:"max_packet_bytes"`
	} `mapstructure:"network" json:"network"`

	Admission struct {
		MaxConcurrent        int   `mapstructure:"max_concurrent" json:"max_concurrent"`
		MaxQueueDepth        int   `mapstructure:"max_queue_depth" json:"max_queue_depth"`
		DefaultTimeoutMs     int64 `mapstructure:"default_timeout_ms" json:"default_timeout_ms"`
		AllowAIInClosureMode bool  `mapstructure:"allow_ai_in_closure_mode" json:"allow_ai_in_closure_mode"`
	} `mapstructure:"admission" json:"admission"`

	Daemon struct {
		Timezone string `mapstructure:"timezone" json:"timezone"`
	} `mapstructure:"daemon" json:"daemon"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	HTTP struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"http" json:"http"`

	Metrics struct {
		ListenAddr      string        `mapstructure:"listen_addr" json:"listen_addr"`
		CollectInterval time.Duration `mapstructure:"collect_interval" json:"collect_interval"`
	} `mapstructure:"metrics" json:"metrics"`
}

// Default returns the configuration's built-in defaults, used when no file
// or environment override is present for a given key.
func Default() Config {
	var c Config
	c.DataDir = ".delta-fabric"
	c.Network.ListenAddr = "/ip4/0.0.0.0/tcp/0"
	c.Network.DiscoveryTag = "delta-fabric"
	c.Network.MaxPacketBytes = 220
	c.Admission.MaxConcurrent = 10
	c.Admission.MaxQueueDepth = 50
	c.Admission.DefaultTimeoutMs = 600_000
	c.Daemon.Timezone = "Local"
	c.Logging.Level = "info"
	c.HTTP.ListenAddr = ":8787"
	c.Metrics.ListenAddr = ":9090"
	c.Metrics.CollectInterval = 15 * time.Second
	return c
}

// AppConfig holds the configuration loaded via Load; CLI glue code reads
// it after calling Load once at startup.
var AppConfig Config

// Load reads default.yaml (if present) under cfgDir, merges an optional
// env-named override file, then applies environment variables (loaded
// from .env first, if present) and DELTA_DATA_DIR last so it always wins.
// The resulting Config is stored in AppConfig and returned.
func Load(cfgDir, env string) (*Config, error) {
	AppConfig = Default()

	_ = godotenv.Load() // optional .env; absence is not an error

	v := viper.New()
	v.SetConfigName("default")
	v.SetConfigType("yaml")
	if cfgDir != "" {
		v.AddConfigPath(cfgDir)
	}
	v.AddConfigPath("config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read default: %w", err)
		}
	} else if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: merge %s: %w", env, err)
			}
		}
	}

	v.SetEnvPrefix("DELTA_FABRIC")
	v.AutomaticEnv()

	if err := v.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if dir := viperLookupDataDir(); dir != "" {
		AppConfig.DataDir = dir
	}
	return &AppConfig, nil
}

// viperLookupDataDir reads DELTA_DATA_DIR directly (not through the
// DELTA_FABRIC_ prefix) since every embedder honors it as the one bare
// environment variable every embedder honors regardless of this package's
// own prefix convention.
func viperLookupDataDir() string {
	v := viper.New()
	v.AutomaticEnv()
	return v.GetString("DELTA_DATA_DIR")
}
