// Package cli implements the senja-sync CLI commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rcliao/senja-sync/internal/config"
	"github.com/rcliao/senja-sync/internal/model"
	"github.com/rcliao/senja-sync/internal/remote"
	"github.com/rcliao/senja-sync/internal/store"
	"github.com/rcliao/senja-sync/internal/syncer"
)

var (
	cfgFile    string
	formatFlag string
	verbose    bool

	v         = viper.New()
	cfg       *config.Config
	logCloser io.Closer
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "senja-sync",
	Short: "Keep a local cache of the school reading dataset in sync with its spreadsheet backend",
	Long: `senja-sync keeps accounts, the student roster, reading materials, submissions
and settings in a local SQLite cache and syncs them with a spreadsheet web
endpoint. Writes land in the cache first and are pushed in the background.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		logger, closer, err := config.NewLogger(cfg.Log, os.Stderr, verbose)
		if err != nil {
			return err
		}
		logCloser = closer
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	flags := RootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "Config file (default: ~/.senja-sync/config.yaml)")
	flags.StringVarP(&formatFlag, "format", "f", "json", "Output format: json, yaml or text")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringP("db", "d", "", "Cache database path (default: $SENJA_DB or ~/.senja-sync/cache.db)")
	flags.StringP("endpoint", "e", "", "Remote endpoint URL (default: $SENJA_ENDPOINT)")
	flags.Int("chunk-limit", 0, "Largest field size sent to the remote, in characters")
	flags.Duration("timeout", 0, "HTTP timeout for remote calls")
	flags.String("log-level", "", "Log level: debug, info, warn, error")

	for key, flag := range map[string]string{
		"db":          "db",
		"endpoint":    "endpoint",
		"chunk_limit": "chunk-limit",
		"timeout":     "timeout",
		"log.level":   "log-level",
	} {
		v.BindPFlag(key, flags.Lookup(flag))
	}
}

// openOrchestrator opens the cache and, when an endpoint is configured, the
// remote transport. Closing the orchestrator waits for pending pushes.
func openOrchestrator(ctx context.Context) (*syncer.Orchestrator, *store.Cache) {
	b, err := store.NewSQLiteBackend(cfg.DB)
	if err != nil {
		exitErr("open store", err)
	}
	logger := slog.Default()
	cache := store.NewCache(ctx, b, store.WithLogger(logger))

	var tr remote.Transport
	if rc := cfg.Remote(); rc.Enabled() {
		tr = remote.NewClient(rc, remote.WithLogger(logger))
	} else {
		logger.Debug("no endpoint configured, running cache-only")
	}
	o := syncer.New(cache, tr, syncer.Options{
		ChunkLimit: cfg.ChunkLimit,
		Logger:     logger,
		Events: syncer.Events{
			OnPushError: func(c model.Collection, err error) {
				fmt.Fprintf(os.Stderr, "warning: %s not synced, kept locally: %v\n", c, err)
			},
		},
	})
	return o, cache
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
