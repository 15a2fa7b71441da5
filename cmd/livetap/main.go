package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/holon-run/livetap/pkg/config"
	livetaplog "github.com/holon-run/livetap/pkg/log"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "livetap",
	Short: "livetap watches a creator's live stream through a live backend.",
	Long: `livetap asks a live backend to open a session for a creator's live stream,
then prints viewer counts, chat, gifts and joins as they arrive.

Settings come from livetap.yaml (or --config), a .env file next to it and
LIVETAP_* environment variables, in increasing order of precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig resolves the effective configuration, with persistent flags
// taking precedence over file and environment.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func initLogger(cfg config.Config) error {
	level, _ := livetaplog.ParseLevel(cfg.Log.Level)
	if err := livetaplog.Init(livetaplog.Config{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./livetap.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, progress, minimal, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json")
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run())
}
