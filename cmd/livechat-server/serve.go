// ABOUTME: serve subcommand wiring store, directory, coordinator, relay, and HTTP
// ABOUTME: Runs the idle-session sweeper and handles graceful shutdown

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deskline/livechat/internal/config"
	"github.com/deskline/livechat/internal/delivery"
	"github.com/deskline/livechat/internal/directory"
	"github.com/deskline/livechat/internal/relay"
	"github.com/deskline/livechat/internal/store"
	"github.com/deskline/livechat/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	printBanner(configPath, cfg)
	logger := setupLogger(cfg.Logging)
	logger.Info("starting livechat-server",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	verifier := directory.NewTokenVerifier([]byte(cfg.Auth.JWTSecret))
	dir := directory.New(st, verifier, logger)
	registry := delivery.NewRegistry(logger)

	var sink delivery.EventSink
	var rel *relay.Relay
	if cfg.Relay.Enabled {
		rel, err = relay.New(cfg.Relay, registry, logger)
		if err != nil {
			return fmt.Errorf("connecting relay: %w", err)
		}
		defer rel.Close()
		sink = rel
	}

	coord := delivery.NewCoordinator(st, st, registry, sink, cfg.Chat, logger)
	srv := transport.NewServer(coord, registry, dir, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.HTTPAddr)
	}()

	if rel != nil {
		go func() {
			if err := rel.Listen(ctx); err != nil && ctx.Err() == nil {
				logger.Error("relay listener stopped", "error", err)
			}
		}()
	}

	go sweepLoop(ctx, coord, cfg.Chat, logger)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	registry.Close()
	return nil
}

// sweepLoop periodically detaches sessions idle past the configured timeout.
func sweepLoop(ctx context.Context, coord *delivery.Coordinator, cfg config.ChatConfig, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := coord.SweepIdleSessions(ctx, cfg.SessionIdleTimeout); n > 0 {
				logger.Debug("swept idle sessions", "count", n)
			}
		}
	}
}
