package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/manpreetbhatti/wordrush/internal/config"
	"github.com/manpreetbhatti/wordrush/internal/logging"
	"github.com/manpreetbhatti/wordrush/internal/replica"
	"github.com/manpreetbhatti/wordrush/internal/room"
)

// A headless player. With WORDRUSH_WORDS set it creates the room's settings,
// otherwise it joins and adopts whatever the room settles on.
func main() {
	var cfg config.Bot
	if err := config.ParseEnv(&cfg); err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := replica.Options{Room: cfg.Room}
	if len(cfg.Words) > 0 {
		opts.Settings = &room.Settings{
			Theme:            cfg.Theme,
			TargetWordCount:  cfg.TargetWords,
			TimeLimitSeconds: cfg.TimeLimit,
			MaxPlayers:       cfg.MaxPlayers,
			Words:            cfg.Words,
		}
		if err := room.DefaultLimits().ValidateSettings(*opts.Settings); err != nil {
			log.Fatal().Err(err).Msg("bot settings")
		}
	}
	machineCfg := room.DefaultConfig()
	machineCfg.Logger = logger
	opts.Config = &machineCfg

	r, err := replica.Dial(ctx, cfg.URL, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("join room")
	}
	m := r.Machine()

	if err := m.SubmitInitials(cfg.Initials); err != nil {
		log.Warn().Err(err).Msg("initials")
	}
	if cfg.Avatar != "" {
		if err := m.SubmitAvatar(cfg.Avatar); err != nil {
			log.Warn().Err(err).Msg("avatar")
		}
	}

	go watch(ctx, m, cfg.Autostart)

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("replica stopped")
		os.Exit(1)
	}
}

// watch logs state changes and plays along: it asks to start once the room
// is ready and completes every word as soon as the game goes live.
func watch(ctx context.Context, m *room.Machine, autostart bool) {
	var last room.Phase
	requested := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.Changed():
		}

		s := m.Snapshot()
		log.Info().
			Str("phase", string(s.Phase)).
			Bool("settled", s.SettingsSettled).
			Int("players", len(s.Roster)).
			Int("time_remaining", s.TimeRemaining).
			Int("chat", len(s.ChatLog)).
			Msg("room changed")

		host, _ := m.Host()
		if autostart && !requested && host == m.Self() && s.Phase == room.PhaseLobby &&
			s.SettingsSettled && len(s.Roster) >= 2 {
			requested = true
			if err := m.RequestStart(); err != nil {
				log.Warn().Err(err).Msg("request start")
			}
		}

		if s.Phase == room.PhaseActive && last != room.PhaseActive {
			if err := m.SubmitProgress(len(s.Words)); err != nil {
				log.Warn().Err(err).Msg("submit progress")
			}
		}
		last = s.Phase
	}
}
