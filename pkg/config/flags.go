package config

import (
	"github.com/spf13/pflag"
)

// BindFlags registers cfg's fields as persistent flags on fs, each
// flag defaulting to cfg's current value so "unset on the command
// line" falls through to whatever defaults/YAML already produced,
// matching a cobra persistent-flag registration style.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for vault storage and config")
	fs.StringVar(&cfg.VaultName, "vault-name", cfg.VaultName, "local vault display name")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "address to accept peer connections on")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "output logs in JSON format")
	fs.BoolVar(&cfg.EncryptionEnabled, "encryption-enabled", cfg.EncryptionEnabled, "encrypt storage at rest")
	fs.IntVar(&cfg.AutoSyncIntervalSeconds, "autosync-interval-seconds", cfg.AutoSyncIntervalSeconds, "seconds between autosync passes (0 disables)")
	fs.BoolVar(&cfg.GC.Enabled, "gc-enabled", cfg.GC.Enabled, "enable garbage collection")
	fs.IntVar(&cfg.GC.MaxDocSizeMB, "gc-max-doc-size-mb", cfg.GC.MaxDocSizeMB, "minimum document size, in MB, before GC runs")
	fs.IntVar(&cfg.GC.MinHistoryDays, "gc-min-history-days", cfg.GC.MinHistoryDays, "minimum age, in days, of history GC may compact")
	fs.BoolVar(&cfg.GC.RequirePeerConsensus, "gc-require-peer-consensus", cfg.GC.RequirePeerConsensus, "require every trusted peer to have synced past a cutoff before compacting it")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve /metrics on")
}
