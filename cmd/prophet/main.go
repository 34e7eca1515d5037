// Package main provides the CLI entry point for the AI Prophet Telegram bot.
//
// The bot forwards text, photos and voice notes to Gemini, falls back to
// the Hugging Face router when Gemini is unavailable, and serves a small
// health endpoint for the hosting platform.
//
// # Basic Usage
//
// Start the bot:
//
//	prophet serve --config prophet.yaml
//
// Ask a single question without Telegram:
//
//	prophet ask "What does the future hold?"
//
// # Environment Variables
//
//   - TELEGRAM_TOKEN: Telegram bot token (required for serve)
//   - GEMINI_API_KEY: Gemini API key
//   - HF_TOKEN: Hugging Face access token for the fallback tier
//   - OWNER_USERNAME: Telegram username allowed to open the admin panel
//   - PORT: health server port (default 7860)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "prophet",
		Short: "AI Prophet - Telegram oracle backed by Gemini and Hugging Face",
		Long: `AI Prophet answers Telegram messages, photos and voice notes.

Primary provider: Google Gemini (ordered model fallback)
Secondary provider: Hugging Face inference router`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildAskCmd(),
		buildSearchCmd(),
	)

	return rootCmd
}
