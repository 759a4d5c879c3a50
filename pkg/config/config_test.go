package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsUsable(t *testing.T) {
	cfg := Default()
	require.NotEmpty(t, cfg.DataDir)
	require.Equal(t, "default", cfg.VaultName)
	require.True(t, cfg.EncryptionEnabled)
	require.True(t, cfg.GC.RequirePeerConsensus)
}

func TestLoadFileMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(Default(), "")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadFileNonexistentFileIsNotAnError(t *testing.T) {
	cfg, err := LoadFile(Default(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadFileOverlaysOnlySpecifiedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peervault.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vaultName: my-vault\ngc:\n  maxDocSizeMB: 128\n"), 0o600))

	cfg, err := LoadFile(Default(), path)
	require.NoError(t, err)

	require.Equal(t, "my-vault", cfg.VaultName)
	require.Equal(t, 128, cfg.GC.MaxDocSizeMB)
	// Untouched fields keep their defaults.
	require.Equal(t, Default().ListenAddr, cfg.ListenAddr)
	require.True(t, cfg.GC.RequirePeerConsensus)
}

func TestBindFlagsOverridesDefaultValue(t *testing.T) {
	cfg := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, &cfg)

	require.NoError(t, fs.Parse([]string{"--vault-name=flagged", "--gc-enabled=false"}))

	require.Equal(t, "flagged", cfg.VaultName)
	require.False(t, cfg.GC.Enabled)
	require.Equal(t, Default().ListenAddr, cfg.ListenAddr)
}

func TestAutoSyncIntervalConversion(t *testing.T) {
	cfg := Default()
	cfg.AutoSyncIntervalSeconds = 60
	require.Equal(t, 60*time.Second, cfg.AutoSyncInterval())
}

func TestGCConfigToGCConfig(t *testing.T) {
	g := GCConfig{Enabled: true, MaxDocSizeMB: 32, MinHistoryDays: 7, RequirePeerConsensus: false}
	gcCfg := g.ToGCConfig()
	require.True(t, gcCfg.Enabled)
	require.Equal(t, 32, gcCfg.MaxDocSizeMB)
	require.Equal(t, 7, gcCfg.MinHistoryDays)
	require.False(t, gcCfg.RequirePeerConsensus)
	require.Positive(t, gcCfg.Interval)
}
