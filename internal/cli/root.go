// Package cli implements the netpulse CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/netpulse/internal/config"
)

var (
	configPath string
	dbPath     string
	storeFlag  string
	logLevel   string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "netpulse",
	Short: "Per-tab network timing and AI performance analysis",
	Long: "Correlates browser network lifecycle events into per-request timing records, " +
		"summarizes them per tab and asks an AI provider to analyze the page's performance.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $NETPULSE_CONFIG or ./netpulse.yaml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "SQLite database path (default: $NETPULSE_DB or ~/.netpulse/netpulse.db)")
	RootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Store driver: sqlite, redis or memory")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("NETPULSE_CONFIG"); env != "" {
		return env
	}
	return "netpulse.yaml"
}

// loadConfig reads configuration and applies persistent flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if storeFlag != "" {
		cfg.Store.Driver = storeFlag
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(b))
}
