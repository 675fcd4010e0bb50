// Package config loads MUSFUSE's runtime configuration through the
// same layered precedence the teacher's CLI uses: flags, then
// MUSFUSE_-prefixed environment variables, then a YAML file, then
// defaults.
//
// grounded on: cmd/mlc/main.go's initConfig (viper wiring shape),
// internal/util/config.go (GetConfigString/.../Bool accessor
// pattern), original_source/config.rs's MountConfig/validate.
package config

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// KvBackend is spec.md §6's kv_backend knob.
type KvBackend string

const (
	KvBackendEmbedded KvBackend = "Embedded"
	KvBackendExternal KvBackend = "External"
)

// MountConfig is spec.md §6's configuration surface, named after
// original_source/config.rs's MountConfig.
type MountConfig struct {
	SourceDirs           []string
	MountPoint           string
	KvBackend            KvBackend
	KvPath               string // SQLite file path when KvBackend == Embedded
	PolicyProfile        string
	TranscodeConcurrency int
	CaseSensitiveNames   bool
	CacheArtwork         bool
	EventLogPath         string // JSONL mount-event sink; empty disables it
	Watch                bool   // ScanMode::Lazy — fsnotify-driven live rescan alongside the initial full walk
}

// Validate mirrors original_source's MountConfig::validate: a
// MountConfig with no sources or no mount point is rejected before
// any component is constructed from it.
func (c *MountConfig) Validate() error {
	if len(c.SourceDirs) == 0 {
		return fmt.Errorf("config: no source directories configured")
	}
	if c.MountPoint == "" {
		return fmt.Errorf("config: mount point must be provided")
	}
	if c.TranscodeConcurrency < 1 {
		return fmt.Errorf("config: transcode_concurrency must be >= 1")
	}
	return nil
}

// BindFlags registers the persistent flags the CLI exposes for every
// knob and binds each one into viper, so CLI flag > env > file >
// default precedence holds automatically.
func BindFlags(flags *cobra.Command) {
	pf := flags.PersistentFlags()
	pf.StringSlice("source-dirs", nil, "source directories to scan")
	pf.String("mount-point", "", "virtual filesystem mount point")
	pf.String("kv-backend", string(KvBackendEmbedded), "KV backend: Embedded or External")
	pf.String("kv-path", "musfuse.db", "SQLite path for the Embedded KV backend")
	pf.String("policy-profile", "default", "named policy profile key into policy:*")
	pf.Int("transcode-concurrency", 0, "max concurrent transcode workers (0 = number of CPUs)")
	pf.Bool("case-sensitive-names", false, "match virtual paths case-sensitively")
	pf.Bool("cache-artwork", true, "cache resolved artwork in the KV store")
	pf.String("event-log", "", "path to a JSONL mount-event log (empty disables it)")
	pf.Bool("watch", false, "watch source directories with fsnotify and rescan on change (ScanMode::Lazy)")

	viper.BindPFlag("source_dirs", pf.Lookup("source-dirs"))
	viper.BindPFlag("mount_point", pf.Lookup("mount-point"))
	viper.BindPFlag("kv_backend", pf.Lookup("kv-backend"))
	viper.BindPFlag("kv_path", pf.Lookup("kv-path"))
	viper.BindPFlag("policy_profile", pf.Lookup("policy-profile"))
	viper.BindPFlag("transcode_concurrency", pf.Lookup("transcode-concurrency"))
	viper.BindPFlag("case_sensitive_names", pf.Lookup("case-sensitive-names"))
	viper.BindPFlag("cache_artwork", pf.Lookup("cache-artwork"))
	viper.BindPFlag("event_log", pf.Lookup("event-log"))
	viper.BindPFlag("watch", pf.Lookup("watch"))
}

// InitSources sets up viper's file/env search, mirroring
// cmd/mlc/main.go's initConfig: an explicit --config file takes
// precedence, otherwise viper looks in ./configs and "." for
// musfuse.yaml.
func InitSources(explicitFile string) {
	if explicitFile != "" {
		viper.SetConfigFile(explicitFile)
	} else {
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("musfuse")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MUSFUSE")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig() // a missing config file is not an error; flags/env/defaults still apply
}

// Load reads the fully-resolved MountConfig out of viper after
// InitSources and BindFlags have run.
func Load() (*MountConfig, error) {
	cfg := &MountConfig{
		SourceDirs:           viper.GetStringSlice("source_dirs"),
		MountPoint:           viper.GetString("mount_point"),
		KvBackend:            KvBackend(viper.GetString("kv_backend")),
		KvPath:               viper.GetString("kv_path"),
		PolicyProfile:        viper.GetString("policy_profile"),
		TranscodeConcurrency: viper.GetInt("transcode_concurrency"),
		CaseSensitiveNames:   viper.GetBool("case_sensitive_names"),
		CacheArtwork:         viper.GetBool("cache_artwork"),
		EventLogPath:         viper.GetString("event_log"),
		Watch:                viper.GetBool("watch"),
	}

	if cfg.TranscodeConcurrency == 0 {
		cfg.TranscodeConcurrency = defaultConcurrency()
	}

	return cfg, cfg.Validate()
}

func defaultConcurrency() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}
