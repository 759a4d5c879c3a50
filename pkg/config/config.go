// Package config loads PeerVault's Config in a layered
// style: built-in defaults, optionally overridden by a YAML file, then
// by CLI flags bound through cobra/pflag — each layer only overriding
// fields its source actually set.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/robcohen/peervault/pkg/gc"
	"github.com/robcohen/peervault/pkg/log"
)

// GCConfig is the YAML-friendly mirror of gc.Config. It leaves out
// gc.Config's Interval, a time.Duration that yaml.v3 decodes as
// nanoseconds rather than "24h"; ToGCConfig fixes Interval at 24h.
// MinHistoryDays is an int day count in both, so a config file can
// write `minHistoryDays: 30` directly.
type GCConfig struct {
	Enabled              bool `yaml:"enabled"`
	MaxDocSizeMB         int  `yaml:"maxDocSizeMB"`
	MinHistoryDays       int  `yaml:"minHistoryDays"`
	RequirePeerConsensus bool `yaml:"requirePeerConsensus"`
}

// ToGCConfig converts the on-disk shape into the gc.Config the
// collector is constructed with, running GC once a day.
func (g GCConfig) ToGCConfig() gc.Config {
	return gc.Config{
		Enabled:              g.Enabled,
		MaxDocSizeMB:         g.MaxDocSizeMB,
		MinHistoryDays:       g.MinHistoryDays,
		RequirePeerConsensus: g.RequirePeerConsensus,
		Interval:             24 * time.Hour,
	}
}

// Config is the fully resolved configuration for one vault node.
type Config struct {
	DataDir                 string   `yaml:"dataDir"`
	VaultName               string   `yaml:"vaultName"`
	ListenAddr              string   `yaml:"listenAddr"`
	LogLevel                string   `yaml:"logLevel"`
	LogJSON                 bool     `yaml:"logJSON"`
	EncryptionEnabled       bool     `yaml:"encryptionEnabled"`
	AutoSyncIntervalSeconds int      `yaml:"autoSyncIntervalSeconds"`
	GC                      GCConfig `yaml:"gc"`
	MetricsAddr             string   `yaml:"metricsAddr"`
}

// Default returns the built-in baseline every other layer overrides
// on top of.
func Default() Config {
	return Config{
		DataDir:                 defaultDataDir(),
		VaultName:               "default",
		ListenAddr:              "0.0.0.0:7420",
		LogLevel:                string(log.InfoLevel),
		LogJSON:                 false,
		EncryptionEnabled:       true,
		AutoSyncIntervalSeconds: 300,
		GC: GCConfig{
			Enabled:              true,
			MaxDocSizeMB:         64,
			MinHistoryDays:       30,
			RequirePeerConsensus: true,
		},
		MetricsAddr: "127.0.0.1:9420",
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".peervault")
	}
	return ".peervault"
}

// LoadFile reads a YAML config file at path and overlays its fields
// onto cfg. A missing file is not an error: callers pass an explicit
// flag or an empty default path, and an unset file simply means
// "defaults only, let flags fill the rest".
func LoadFile(cfg Config, path string) (Config, error) {
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// AutoSyncInterval converts AutoSyncIntervalSeconds to a
// time.Duration for pkg/peer.Config.
func (c Config) AutoSyncInterval() time.Duration {
	return time.Duration(c.AutoSyncIntervalSeconds) * time.Second
}
