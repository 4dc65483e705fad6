// ABOUTME: init, operator, and token subcommands for first-run setup
// ABOUTME: Writes a starter config, creates operator accounts, and mints JWTs

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/deskline/livechat/internal/config"
	"github.com/deskline/livechat/internal/directory"
	"github.com/deskline/livechat/internal/store"
)

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return defaultValue
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return defaultValue
	}
	return line
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("livechat-server configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", "data/livechat.db")

	fmt.Println("\n--- Relay Configuration ---")
	enableRelay := prompt(reader, "Enable Redis relay (multi-node)?", "no")
	relayEnabled := strings.ToLower(enableRelay) == "yes" || strings.ToLower(enableRelay) == "y"
	var relayAddr string
	if relayEnabled {
		relayAddr = prompt(reader, "Redis address", "localhost:6379")
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	secret, err := generateSecret()
	if err != nil {
		return fmt.Errorf("generating jwt secret: %w", err)
	}

	var cfg strings.Builder
	cfg.WriteString("# livechat-server configuration\n")
	cfg.WriteString("# Generated by livechat-server init\n\n")
	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n\n", httpAddr))
	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n\n", dbPath))
	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n\n", secret))
	cfg.WriteString("chat:\n")
	cfg.WriteString("  max_message_length: 2000\n")
	cfg.WriteString("  poll_page_size: 50\n")
	cfg.WriteString("  initial_backlog: 10\n")
	cfg.WriteString("  list_page_size: 20\n")
	cfg.WriteString("  session_idle_timeout: 30m\n")
	cfg.WriteString("  sweep_interval: 1m\n\n")
	cfg.WriteString("relay:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", relayEnabled))
	if relayEnabled {
		cfg.WriteString(fmt.Sprintf("  addr: %q\n", relayAddr))
	}
	cfg.WriteString("\nlogging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	if dir := filepath.Dir(outputFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("Create an operator account with: livechat-server operator --username NAME")
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func runOperator(ctx context.Context) error {
	var username, displayName string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--username" || arg == "-u":
			if i+1 >= len(args) {
				return fmt.Errorf("--username requires a value")
			}
			username = args[i+1]
			i++
		case strings.HasPrefix(arg, "--username="):
			username = strings.TrimPrefix(arg, "--username=")
		case arg == "--name":
			if i+1 >= len(args) {
				return fmt.Errorf("--name requires a value")
			}
			displayName = args[i+1]
			i++
		case strings.HasPrefix(arg, "--name="):
			displayName = strings.TrimPrefix(arg, "--name=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("--username flag is required")
	}
	if displayName == "" {
		displayName = username
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	op := &store.Operator{
		Username:    username,
		DisplayName: displayName,
		Status:      "active",
	}
	if err := st.CreateOperator(ctx, op); err != nil {
		return fmt.Errorf("creating operator: %w", err)
	}

	verifier := directory.NewTokenVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(op.ID, 30*24*time.Hour)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("Operator created (id %d)\n\n", op.ID)
	fmt.Printf("Token (valid 30 days):\n%s\n", token)
	return nil
}

func runToken() error {
	var operatorID int64
	ttl := 24 * time.Hour
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--operator-id":
			if i+1 >= len(args) {
				return fmt.Errorf("--operator-id requires a value")
			}
			id, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid operator id: %s", args[i+1])
			}
			operatorID = id
			i++
		case strings.HasPrefix(arg, "--operator-id="):
			id, err := strconv.ParseInt(strings.TrimPrefix(arg, "--operator-id="), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid operator id")
			}
			operatorID = id
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid ttl: %s", args[i+1])
			}
			ttl = d
			i++
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if operatorID <= 0 {
		return fmt.Errorf("--operator-id flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	verifier := directory.NewTokenVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(operatorID, ttl)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}
	fmt.Println(token)
	return nil
}
