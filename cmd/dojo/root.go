package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/heavenideas/dojo-server-go/internal/catalog"
	"github.com/heavenideas/dojo-server-go/internal/config"
	"github.com/heavenideas/dojo-server-go/internal/persistence"
	"github.com/heavenideas/dojo-server-go/internal/roomsync"
)

// clientEnv is read before any init so subcommands can use it for flag
// defaults.
var clientEnv = loadClientEnv()

func loadClientEnv() config.ClientOptions {
	opts, err := config.ParseClientEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ignoring client environment: %v\n", err)
		return config.ClientOptions{Seat: 1, SQLitePath: "dojo.db", EchoWindow: roomsync.DefaultEchoWindow}
	}
	return opts
}

var rootCmd = &cobra.Command{
	Use:   "dojo",
	Short: "Dojo is a two-player card table sandbox",
	Long: `Dojo lets two players share a card table through a relay server, with undo,
named bookmarks and local session storage.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "optional YAML file with history, timeline, storage and sync settings")
	rootCmd.PersistentFlags().String("db", clientEnv.SQLitePath, "sqlite file holding saved sessions")
	rootCmd.PersistentFlags().String("catalog", clientEnv.Catalog, "card catalog JSON file")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
}

func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	levelName, _ := cmd.Flags().GetString("log-level")
	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg.Build()
}

// loadConfig reads the --config file. Without one the built-in defaults
// apply.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// explicit reports whether a flag was set on the command line or through
// its environment variable, which both take precedence over the config file.
func explicit(cmd *cobra.Command, flag, envVar string) bool {
	if cmd.Flags().Changed(flag) {
		return true
	}
	_, ok := os.LookupEnv(envVar)
	return ok
}

func openDocuments(cmd *cobra.Command) (*persistence.Store, error) {
	path, _ := cmd.Flags().GetString("db")
	if !explicit(cmd, "db", "DOJO_SQLITE_PATH") {
		if cfg, err := loadConfig(cmd); err == nil && cfg.Storage.SQLitePath != "" {
			path = cfg.Storage.SQLitePath
		}
	}
	return persistence.Open(path)
}

// loadCatalog reads the catalog file, or returns an empty catalog when none
// is configured. Unknown cards then play as zero-cost cards.
func loadCatalog(cmd *cobra.Command) (*catalog.Catalog, error) {
	path, _ := cmd.Flags().GetString("catalog")
	if path == "" {
		return catalog.New(nil), nil
	}
	return catalog.LoadFile(path)
}
