package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Server configures cmd/server
type Server struct {
	Addr              string        `env:"WORDRUSH_ADDR"                envDefault:":8080"`
	DBPath            string        `env:"WORDRUSH_DB_PATH"             envDefault:"./data/wordrush.db"`
	LogLevel          string        `env:"WORDRUSH_LOG_LEVEL"           envDefault:"info"`
	LogPretty         bool          `env:"WORDRUSH_LOG_PRETTY"          envDefault:"true"`
	TickInterval      time.Duration `env:"WORDRUSH_TICK_INTERVAL"       envDefault:"100ms"`
	MaxRoomCapacity   int           `env:"WORDRUSH_MAX_ROOM_CAPACITY"   envDefault:"8"`
	ReapInterval      time.Duration `env:"WORDRUSH_REAP_INTERVAL"       envDefault:"1m"`
	RoomTTL           time.Duration `env:"WORDRUSH_ROOM_TTL"            envDefault:"30m"`
	MessagesPerSecond float64       `env:"WORDRUSH_MESSAGES_PER_SECOND" envDefault:"20"`
	MessageBurst      int           `env:"WORDRUSH_MESSAGE_BURST"       envDefault:"40"`
}

// Bot configures cmd/bot, a scripted replica
type Bot struct {
	URL         string   `env:"WORDRUSH_URL"          envDefault:"ws://localhost:8080/ws"`
	Room        string   `env:"WORDRUSH_ROOM,required"`
	Theme       string   `env:"WORDRUSH_THEME"        envDefault:"random"`
	Words       []string `env:"WORDRUSH_WORDS"        envSeparator:","`
	TargetWords int      `env:"WORDRUSH_TARGET_WORDS" envDefault:"30"`
	TimeLimit   int      `env:"WORDRUSH_TIME_LIMIT"   envDefault:"60"`
	MaxPlayers  int      `env:"WORDRUSH_MAX_PLAYERS"  envDefault:"4"`
	Initials    string   `env:"WORDRUSH_INITIALS"     envDefault:"BOT"`
	Avatar      string   `env:"WORDRUSH_AVATAR"`
	Autostart   bool     `env:"WORDRUSH_AUTOSTART"    envDefault:"false"`
	LogLevel    string   `env:"WORDRUSH_LOG_LEVEL"    envDefault:"info"`
	LogPretty   bool     `env:"WORDRUSH_LOG_PRETTY"   envDefault:"true"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
