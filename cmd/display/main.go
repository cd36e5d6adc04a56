package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinic-tablo/backend/internal/board"
	"github.com/clinic-tablo/backend/internal/display"
	"github.com/clinic-tablo/backend/internal/logging"
	flag "github.com/spf13/pflag"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8000", "Board server base URL")
	debounce := flag.Duration("debounce", 250*time.Millisecond, "Delay before refetching the full board after an event")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "console", "Log format (console, json)")
	flag.Parse()

	logger := logging.New(*logLevel, *logFormat, os.Stdout)

	client, err := display.New(display.Options{
		ServerURL: *serverURL,
		Debounce:  *debounce,
		OnState: func(s board.FullState) {
			ev := logger.Info().Int("rooms", len(s.Rooms)).Str("ticker", s.Ticker)
			for _, r := range s.Rooms {
				logger.Debug().
					Int64("room_id", r.ID).
					Str("number", r.Number).
					Str("status", r.Status).
					Str("note", r.StatusNote).
					Str("doctor", r.DoctorName).
					Msg("room")
			}
			ev.Msg("board updated")
		},
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid display options")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("display stopped")
	}
	logger.Info().Msg("display stopped")
}
