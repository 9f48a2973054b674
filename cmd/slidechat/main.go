// Command slidechat serves the slide deck chat API.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miguel-bm/slidechat/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "slidechat",
	Short: "Chat with an AI assistant about your slide decks",
	Long: `Slidechat stores uploaded slide decks, serves them to an in-browser
viewer and streams answers from a Claude agent to the chat panel.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $SLIDECHAT_CONFIG or ~/.slidechat/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config file from the flag, the environment or the default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv(config.EnvPath); p != "" {
		return p
	}
	return config.DefaultPath()
}

// loadConfig reads the config file and installs the default logger.
func loadConfig() (*config.Config, string, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	slog.SetDefault(newLogger(cfg.Log.Level))
	return cfg, path, nil
}

// newLogger creates a text logger on stderr at the configured level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
