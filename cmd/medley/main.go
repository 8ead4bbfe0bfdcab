package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"medley/internal/server/api"
	"medley/internal/server/config"
	"medley/internal/server/files"
	"medley/internal/server/media"
	"medley/internal/server/notify"
	"medley/internal/server/share"
	"medley/internal/server/store"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg := config.Load()
	if cfg.Root == "" {
		slog.Error("MEDLEY_ROOT is required")
		os.Exit(1)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		slog.Error("failed to resolve root", "root", cfg.Root, "error", err)
		os.Exit(1)
	}
	cfg.Root = root
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		slog.Error("root is not a directory", "root", root, "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"root", cfg.Root,
		"state_dir", cfg.StateDir,
		"editable_roots", cfg.EditableRoots,
		"auth_enabled", cfg.AuthEnabled(),
	)

	// Share sessions survive restarts only when the secret is pinned via
	// the environment; a generated one invalidates them on restart.
	if cfg.SessionSecret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			slog.Error("failed to generate session secret", "error", err)
			os.Exit(1)
		}
		cfg.SessionSecret = hex.EncodeToString(buf)
		slog.Info("generated ephemeral session secret")
	}

	// State directory for JSON stores and the thumbnail cache
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		slog.Error("failed to create state directory", "path", cfg.StateDir, "error", err)
		os.Exit(1)
	}

	fsvc := files.NewService(cfg.Root)
	settings := store.NewSettings(filepath.Join(cfg.StateDir, "settings.json"), cfg.Root)
	stats := store.NewStats(filepath.Join(cfg.StateDir, "stats.json"), cfg.Root)
	shares := share.NewRegistry(filepath.Join(cfg.StateDir, "shares.json"), cfg.Root, cfg.AuthEnabled())
	hub := notify.NewHub()

	proc, err := media.NewProcessor(media.Options{
		CacheDir: filepath.Join(cfg.StateDir, "thumbs"),
		FFmpeg:   cfg.FFmpeg,
		FFprobe:  cfg.FFprobe,
		Timeout:  cfg.ToolTimeout,
	})
	if err != nil {
		slog.Error("failed to initialize media processor", "error", err)
		os.Exit(1)
	}
	proc.ToolAvailable() // probe once at startup so the log notes a missing ffmpeg immediately

	// Start thumbnail cache cleanup
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	cleanup := media.NewCleanupService(filepath.Join(cfg.StateDir, "thumbs"), cfg.ThumbCleanupInterval, cfg.ThumbMaxAge)
	cleanup.Start(cleanupCtx)

	// Setup HTTP router
	handler := api.NewHandler(cfg, fsvc, shares, settings, stats, hub, proc, cfg.SessionSecret)
	e := api.SetupRouter(handler)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop cleanup service
	cleanupCancel()
	cleanup.Wait()

	slog.Info("server exited cleanly")
}
