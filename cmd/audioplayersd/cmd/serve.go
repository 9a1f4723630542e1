package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gnus-inc/audioplayers/internal/config"
	"github.com/gnus-inc/audioplayers/internal/engine/hls"
	"github.com/gnus-inc/audioplayers/internal/httpapi"
	"github.com/gnus-inc/audioplayers/internal/httpapi/handlers"
	"github.com/gnus-inc/audioplayers/internal/player"
	"github.com/gnus-inc/audioplayers/internal/scheduler"
	"github.com/gnus-inc/audioplayers/internal/store"
	"github.com/gnus-inc/audioplayers/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the audioplayersd server",
	Long: `Start the audioplayersd HTTP server and API.

The server provides:
- REST API for controlling playback sessions
- Websocket event stream at /api/v1/events
- Health check endpoint
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8098, "Port to listen on")
	serveCmd.Flags().String("database", "audioplayers.db", "Preference database path")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// Preference store
	db, err := store.Open(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening preference store: %w", err)
	}
	defer db.Close()
	prefsRepo := store.NewPrefsRepository(db)

	// Playback engine and session registry
	engine := hls.New(hls.Config{
		PlaylistTimeout:   cfg.Engine.PlaylistTimeout,
		MaxPlaylistBytes:  cfg.Engine.MaxPlaylistBytes,
		MaxPlaylistErrors: cfg.Engine.MaxPlaylistErrors,
		MinPollInterval:   cfg.Engine.MinPollInterval,
	}, hls.WithLogger(logger))

	hub := handlers.NewEventHub(cfg.Server.EventBuffer, logger)
	defer hub.Close()

	registry := player.NewRegistry(engine,
		player.WithSink(hub),
		player.WithPrefsStore(prefsRepo),
		player.WithLogger(logger),
		player.WithSessionConfig(player.SessionConfig{
			PositionTickInterval: cfg.Playback.PositionTickInterval,
			StallGracePeriod:     cfg.Playback.StallGracePeriod,
			SeekResumeCorrection: cfg.Playback.SeekResumeCorrection,
		}),
	)

	// Maintenance jobs
	sched := scheduler.New(cfg.Maintenance, registry, prefsRepo, logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	// HTTP server
	server := httpapi.NewServer(cfg.Server, logger, version.Version)

	server.Router().Get("/api/v1/events", hub.ServeHTTP)

	playerHandler := handlers.NewPlayerHandler(registry, logger)
	playerHandler.Register(server.API())

	healthHandler := handlers.NewHealthHandler(version.Version).
		WithRegistry(registry).
		WithEventHub(hub).
		WithDB(db.DB)
	healthHandler.Register(server.API())

	versionHandler := handlers.NewVersionHandler()
	versionHandler.Register(server.API())

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting audioplayersd server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("version", version.Version),
	)

	err = server.ListenAndServe(ctx)

	// Engine resources hold goroutines; release them before exit.
	registry.ReleaseAll()
	return err
}
