package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/manpreetbhatti/drawsync/internal/api"
	"github.com/manpreetbhatti/drawsync/internal/compaction"
	"github.com/manpreetbhatti/drawsync/internal/config"
	"github.com/manpreetbhatti/drawsync/internal/db"
	"github.com/manpreetbhatti/drawsync/internal/protocol"
	"github.com/manpreetbhatti/drawsync/internal/ratelimit"
	"github.com/manpreetbhatti/drawsync/internal/room"
	"github.com/manpreetbhatti/drawsync/internal/updates"
	"github.com/manpreetbhatti/drawsync/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.LogLevel)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		slog.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	releases, err := updates.NewStore(cfg.UpdatesDir, cfg.MaxUploadSize, database)
	if err != nil {
		slog.Error("failed to initialize updates store", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub(room.NewRegistry[protocol.Conn]())
	handler := protocol.NewHandler(hub, database, protocol.Options{
		LegacyGeoShim:   cfg.LegacyGeoShim,
		DuplicatePolicy: protocol.DuplicatePolicy(cfg.DuplicateEventPolicy),
	})

	connLimiter := ratelimit.NewClientLimiters(cfg.ConnectionsPerMinute, cfg.ConnectionsPerMinute)
	defer connLimiter.Stop()

	compactor := compaction.New(database, compaction.Config{
		Interval:       cfg.CompactionInterval,
		MaxRoomHistory: cfg.MaxRoomHistory,
	})
	compactor.Start()
	defer compactor.Stop()

	apiHandler := api.New(hub, database, api.Options{
		Handler:     handler,
		Updates:     releases,
		ConnLimiter: connLimiter,
		Client: ws.Config{
			MessagesPerSecond: cfg.MessagesPerSecond,
			MessageBurst:      cfg.MessageBurst,
		},
		LegacyGeoShim: cfg.LegacyGeoShim,
		MaxUploadSize: cfg.MaxUploadSize,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: apiHandler.Routes(),
	}

	go func() {
		slog.Info("server starting",
			"port", cfg.Port,
			"db", cfg.DBPath,
			"geo_shim", cfg.LegacyGeoShim,
			"duplicate_policy", cfg.DuplicateEventPolicy)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	// Upgraded sessions are hijacked and outlive server.Shutdown; drain them
	// before the deferred database close.
	if err := hub.Shutdown(ctx); err != nil {
		slog.Error("session drain error", "error", err)
	}
	slog.Info("server stopped")
}

func setupLogger(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
