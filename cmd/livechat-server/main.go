// ABOUTME: Entry point for the livechat server
// ABOUTME: Subcommands: serve, init, operator, token

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/deskline/livechat/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _ _                _           _
| (_)_   _____  ___| |__   __ _| |_
| | \ \ / / _ \/ __| '_ \ / _' | __|
| | |\ V /  __/ (__| | | | (_| | |_
|_|_| \_/ \___|\___|_| |_|\__,_|\__|
`

// getConfigPath returns the path to the server config file.
// Priority: LIVECHAT_CONFIG env var > XDG_CONFIG_HOME/livechat/server.yaml > ~/.config/livechat/server.yaml
func getConfigPath() string {
	if envPath := os.Getenv("LIVECHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "server.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "livechat", "server.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: livechat-server <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                    Start the chat server")
		fmt.Println("  init                     Write a starter config file")
		fmt.Println("  operator --username NAME Create an operator account")
		fmt.Println("  token --operator-id N    Mint an operator JWT")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "operator":
		err = runOperator(ctx)
	case "token":
		err = runToken()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printBanner(configPath string, cfg *config.Config) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	if cfg.Relay.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Relay:    %s\n", cfg.Relay.Addr)
	}
	fmt.Println()
}
