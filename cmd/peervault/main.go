// Command peervault is the PeerVault CLI: pair with peers, run sync
// passes, trigger garbage collection, and serve as the long-running
// daemon that keeps a vault connected to its peers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	cfgpkg "github.com/robcohen/peervault/pkg/config"
	"github.com/robcohen/peervault/pkg/log"
)

var (
	// Version information (set via ldflags during build).
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfg        = cfgpkg.Default()
	configFile string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "peervault",
	Short: "PeerVault - peer-to-peer file vault synchronization",
	Long: `PeerVault keeps a folder of files and their edit history in sync
across trusted peers directly, with no central server.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"peervault version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")
	cfgpkg.BindFlags(rootCmd.PersistentFlags(), &cfg)

	cobra.OnInitialize(loadConfig, initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(peerCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(migrateCmd)
}

// loadConfig re-resolves cfg once flags are parsed: defaults were
// already set at package init and BindFlags already wrote any
// explicitly-passed flags into cfg. LoadFile then overlays the fields
// the optional YAML file names, so every flag set on the command line
// is applied again afterwards to keep flags above the file.
func loadConfig() {
	flags := rootCmd.PersistentFlags()
	explicit := make(map[string]string)
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			explicit[f.Name] = f.Value.String()
		}
	})

	merged, err := cfgpkg.LoadFile(cfg, configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config file %q: %v\n", configFile, err)
		os.Exit(1)
	}
	cfg = merged
	for name, value := range explicit {
		_ = flags.Set(name, value)
	}
}

func initLogging() {
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
}
