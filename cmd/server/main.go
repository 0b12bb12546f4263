package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gdg-garage/number-info-api/internal/config"
	"github.com/gdg-garage/number-info-api/internal/logging"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "number-info-api",
		Short: "Phone number lookup proxy with access keys",
		Long: `number-info-api normalizes phone numbers, forwards them to the configured
lookup backend and serves the result to the web UI and to access key holders.
Keys are managed from the Telegram bot, the admin API or the keys command.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newKeysCmd())

	return cmd
}

// loadConfig reads configuration and sets up logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	return cfg, nil
}
