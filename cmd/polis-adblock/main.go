// Package main is the entry point for the polis-adblock binary.
// It runs the ad-rewrite MITM proxy and offers offline tools for rules.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/polisai/polis-adblock/pkg/config"
	"github.com/polisai/polis-adblock/pkg/logging"
)

const defaultLogLevel = "info"

// cliState carries what the persistent pre-run resolved for subcommands.
type cliState struct {
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-adblock
func newRootCmd() *cobra.Command {
	state := &cliState{}

	rootCmd := &cobra.Command{
		Use:   "polis-adblock",
		Short: "Rule-driven ad rewriting for intercepted app traffic",
		Long: `polis-adblock rewrites ad-serving JSON responses of mobile apps.

It runs as an HTTP(S) forward proxy that decrypts the configured hosts,
matches each response against per-app URL routes, and strips or replaces
the ad payloads before they reach the app.

Example:
  polis-adblock serve --config adblock.yaml
  polis-adblock rewrite --url 'https://api.m.jd.com/client.action?functionId=start' --file body.json`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return state.init(cmd)
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Environment file loaded before the configuration")
	rootCmd.PersistentFlags().String("rules", "", "Rules file (overrides configuration)")

	rootCmd.AddCommand(
		newServeCmd(state),
		newClassifyCmd(state),
		newRewriteCmd(state),
		newStatsCmd(state),
		newRulesCmd(state),
		newCACmd(),
	)
	return rootCmd
}

func (s *cliState) init(cmd *cobra.Command) error {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return fmt.Errorf("failed to get env-file flag: %w", err)
	}
	if err := loadEnvFile(envFile); err != nil {
		return err
	}

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if rules, _ := cmd.Flags().GetString("rules"); rules != "" {
		cfg.Rules.File = rules
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}

	logging.SetupLogger(logging.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty, Output: os.Stderr})
	s.logger = logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty, Output: os.Stderr})
	slog.SetDefault(s.logger)
	s.cfg = cfg
	return nil
}

// loadEnvFile loads path into the environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}
