// Package cmd implements the rfctl CLI commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fieldwave/rfplane/pkg/card"
	"github.com/fieldwave/rfplane/pkg/store"
	"github.com/fieldwave/rfplane/pkg/xport"
)

var (
	// Version is set at build time
	Version = "0.1.0"

	// Global flags
	outputFormat string
	dbPath       string
	configPath   string
	logLevel     string

	cfg Config

	cardStore *store.Store
	manager   *card.Manager
	// simBackend is non-nil when the simulated transport is registered;
	// commands use it to feed synthetic streams.
	simBackend *xport.MockBackend
)

// OutputFormat reports the selected output format for error rendering.
func OutputFormat() string { return outputFormat }

var rootCmd = &cobra.Command{
	Use:   "rfctl",
	Short: "Control plane CLI for software-defined radio cards",
	Long: `rfctl manages software-defined radio cards: transport discovery,
card initialization, receive and transmit streaming, and frequency
hopping.

Without real hardware attached, the simulated transport (enabled by
default) exposes synthetic cards for exercising the full control plane.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "completion" || cmd.Name() == "help" {
			return nil
		}

		if err := loadConfig(configPath, &cfg); err != nil {
			return err
		}
		setupLogging()

		path := dbPath
		if path == "" {
			path = store.DefaultPath()
		}
		var err error
		cardStore, err = store.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}

		reg := xport.NewRegistry(slog.Default())
		manager = card.NewManager(reg, cardStore, slog.Default())

		if cfg.Sim.Enabled {
			uids := make([]xport.UID, len(cfg.Sim.UIDs))
			for i, u := range cfg.Sim.UIDs {
				uids[i] = xport.UID(u)
			}
			simBackend = xport.NewMockBackend(xport.WithProbeUIDs(uids...))
			if _, err := reg.Register(simBackend); err != nil {
				return err
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cardStore != nil {
			cardStore.Close()
		}
	},
}

func setupLogging() {
	level := slog.LevelWarn
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{Level: level})))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: ~/.local/share/rfctl/rfctl.db)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// formatOutput handles output formatting based on the --output flag.
func formatOutput(data interface{}) error {
	switch outputFormat {
	case "json":
		return outputJSON(data)
	case "yaml":
		return outputYAML(data)
	default:
		// Table format is handled by each command
		return nil
	}
}

func outputJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func outputYAML(data interface{}) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}
