package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs the bot.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot and the health server",
		Long: `Start long polling against Telegram and serve /, /healthz and /metrics.

The process exits cleanly on SIGINT or SIGTERM.`,
		Example: `  # Start with defaults and environment variables
  prophet serve

  # Start with a config file and debug logging
  prophet serve --config prophet.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "prophet.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

// buildAskCmd creates the "ask" command: one prompt through the provider chain.
func buildAskCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Send a single prompt through Gemini and the fallback tier",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd.OutOrStdout(), configPath, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "prophet.yaml", "Path to YAML configuration file")
	return cmd
}

// buildSearchCmd creates the "search" command.
func buildSearchCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a web search and print the formatted results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd.OutOrStdout(), configPath, strings.Join(args, " "), limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "prophet.yaml", "Path to YAML configuration file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum results (0 uses the configured default)")
	return cmd
}
