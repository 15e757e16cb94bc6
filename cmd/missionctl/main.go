// missionctl - operator CLI for missiontalk scenarios and sessions
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ashureev/missiontalk/internal/config"
	"github.com/ashureev/missiontalk/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	dbPath       string
	outputFormat string
	verbose      bool
)

func main() {
	_ = godotenv.Load() // .env is optional
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "missionctl",
	Short:        "Manage missiontalk scenarios and sessions",
	Long:         "missionctl imports and inspects conversation scenarios, shows stored sessions, and runs a local chat against the same database the server uses.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "yaml", "Output format: yaml or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	scenarioCmd.AddCommand(scenarioImportCmd, scenarioListCmd, scenarioSchemaCmd, scenarioValidateCmd)
	sessionCmd.AddCommand(sessionShowCmd)

	rootCmd.AddCommand(scenarioCmd, sessionCmd, chatCmd)
}

// loadConfig reads the server configuration, applying CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

func openStore() (*store.SQLiteStore, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	return repo, cfg, nil
}

// printValue renders v in the selected output format.
func printValue(w io.Writer, v any) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want yaml or json)", outputFormat)
	}
}
