package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/manpreetbhatti/wordrush/internal/api"
	"github.com/manpreetbhatti/wordrush/internal/config"
	"github.com/manpreetbhatti/wordrush/internal/db"
	"github.com/manpreetbhatti/wordrush/internal/logging"
	"github.com/manpreetbhatti/wordrush/internal/ratelimit"
	"github.com/manpreetbhatti/wordrush/internal/reaper"
	"github.com/manpreetbhatti/wordrush/internal/ws"
)

func main() {
	var cfg config.Server
	if err := config.ParseEnv(&cfg); err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogPretty)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize database")
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub(database, ws.Config{
		TickInterval:      cfg.TickInterval,
		MaxRoomCapacity:   cfg.MaxRoomCapacity,
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
	})
	go hub.Run(ctx)

	sweeper := reaper.New(database, hub, reaper.Config{
		Interval: cfg.ReapInterval,
		TTL:      cfg.RoomTTL,
	})
	sweeper.Start()
	defer sweeper.Stop()

	// Room creation is cheap to abuse; one per second per address
	creates := ratelimit.NewClientLimiters(1, 5)
	defer creates.Stop()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.New(hub, database, creates).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("server shutdown")
		}
	}()

	log.Info().
		Str("addr", cfg.Addr).
		Str("db", cfg.DBPath).
		Dur("tick", cfg.TickInterval).
		Int("max_room_capacity", cfg.MaxRoomCapacity).
		Msg("wordrush server starting")
	log.Info().Msg("endpoints: /ws?room={id}, GET /health, GET /api/stats, GET/POST /api/rooms, GET/DELETE /api/rooms/{id}")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("listen and serve")
	}
}
