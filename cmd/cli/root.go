package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sevigo/ci-script/internal/config"
	"github.com/sevigo/ci-script/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "ci-script",
	Short: "ci-script runs repository automation scripts.",
	Long: `A CLI for ci-script. It runs scripts directly against a local checkout,
runs workers against a remote queue and inspects or feeds that queue.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringP("github-token", "t", "", "GitHub token used when no App is configured")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("queue-url", "", "Address of the ci-script server")
	flags.String("queue-token", "", "Bearer token for the queue endpoints")

	bindFlags(rootCmd, map[string]string{
		"GITHUB_TOKEN": "github-token",
		"LOG_LEVEL":    "log-level",
		"QUEUE_URL":    "queue-url",
		"QUEUE_TOKEN":  "queue-token",
	})
}

// initConfig reads in ENV variables if set.
func initConfig() {
	viper.SetEnvPrefix("CIS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// bindFlags binds the persistent or local flags of cmd to viper keys.
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		flag := cmd.PersistentFlags().Lookup(name)
		if flag == nil {
			flag = cmd.Flags().Lookup(name)
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			slog.Error("Error binding flag", "flag", name, "error", err)
			os.Exit(1)
		}
	}
}

// loadConfig loads the configuration and builds the CLI logger. Logs go to
// stderr unless a log file is configured; stdout carries command output.
func loadConfig() (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, func() {}, err
	}
	if cfg.Logging.Output != "file" {
		cfg.Logging.Output = "stderr"
	}
	writer, closer := logger.Writer(cfg.Logging)
	return cfg, logger.NewLogger(cfg.Logging, writer), closer, nil
}
