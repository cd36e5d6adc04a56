package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinic-tablo/backend/internal/api"
	"github.com/clinic-tablo/backend/internal/board"
	"github.com/clinic-tablo/backend/internal/config"
	"github.com/clinic-tablo/backend/internal/logging"
	"github.com/clinic-tablo/backend/internal/mock"
	"github.com/clinic-tablo/backend/internal/relay"
	"github.com/clinic-tablo/backend/internal/sqlstore"
	"github.com/clinic-tablo/backend/internal/ws"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
)

func main() {
	mockMode := flag.Bool("mock", false, "Seed a demo board and keep changing it")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mockMode, logger); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func run(ctx context.Context, cfg *config.Config, mockMode bool, logger zerolog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := ws.NewBroadcaster(ws.NewRegistry(), ws.Options{
		WriteTimeout:   cfg.Hub.WriteTimeout,
		PingInterval:   cfg.Hub.PingInterval,
		SendBuffer:     cfg.Hub.SendBuffer,
		MaxConnections: cfg.Hub.MaxConnections,
	}, logger)

	// Without a relay, commits go straight to local displays. With one,
	// they go through Redis and come back to every instance, this one
	// included.
	var notifier board.Notifier = hub
	if cfg.Relay.Enabled() {
		client, err := relay.NewClient(cfg.Relay.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}

		rl := relay.New(client, hub, relay.Options{
			Channel:        cfg.Relay.Channel,
			PublishTimeout: cfg.Relay.PublishTimeout,
			QueueSize:      cfg.Relay.QueueSize,
		}, logger)
		// Confirm the subscription before any display can connect, so
		// every event published from here on comes back to this instance.
		sub, err := rl.Subscribe(ctx, client)
		if err != nil {
			return err
		}
		defer sub.Close()
		go rl.Consume(ctx, sub.Channel())
		go rl.Run(ctx)
		notifier = rl
		logger.Info().Str("channel", cfg.Relay.Channel).Msg("relay enabled")
	}

	svc := board.NewService(store, notifier, board.Defaults{
		Ticker:           cfg.Display.DefaultTicker,
		UnassignedDoctor: cfg.Display.UnassignedDoctor,
	}, logger)

	if mockMode {
		logger.Info().Msg("Starting in mock mode")
		if err := mock.NewGenerator(svc, nil, 0, logger).Start(ctx); err != nil {
			return fmt.Errorf("start mock generator: %w", err)
		}
	}

	srv := api.NewServer(api.Deps{
		Service:        svc,
		Displays:       hub,
		Live:           ws.NewHandler(hub, cfg.Server.AllowedOrigins, cfg.Hub.PongTimeout, logger),
		Admin:          cfg.Admin,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr()).Str("storage", cfg.Storage.Driver).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		hub.Close()
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down...")
	// Displays hold hijacked connections that Shutdown does not wait for.
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (board.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return board.NewMemoryStore(), func() {}, nil
	case config.DriverSQLite:
		s, err := sqlstore.Open(ctx, cfg.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
