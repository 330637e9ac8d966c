package reaper

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Interval time.Duration
	// Rooms untouched for longer than this are removed from the registry
	TTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
		TTL:      30 * time.Minute,
	}
}

// Store is the room registry the reaper sweeps
type Store interface {
	ListRoomsIdleSince(cutoff time.Time) ([]string, error)
	// Deletes only if the room is still idle at cutoff
	DeleteRoomIdleSince(id string, cutoff time.Time) (bool, error)
}

// Liveness reports whether a room still has connected clients
type Liveness interface {
	HasRoom(id string) bool
}

// Service removes registered rooms nobody ever joined, or that outlived
// their last connection without a clean teardown.
type Service struct {
	store  Store
	live   Liveness
	config Config
	now    func() time.Time
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// Zero fields in config take their DefaultConfig values
func New(store Store, live Liveness, config Config) *Service {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	return &Service{
		store:  store,
		live:   live,
		config: config,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	log.Info().Dur("interval", s.config.Interval).Dur("ttl", s.config.TTL).Msg("reaper started")
}

func (s *Service) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
	log.Info().Msg("reaper stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if _, err := s.SweepNow(); err != nil {
				log.Error().Err(err).Msg("reaper sweep")
			}
		}
	}
}

// SweepNow deletes idle rooms with no live clients and returns their ids
func (s *Service) SweepNow() ([]string, error) {
	cutoff := s.now().Add(-s.config.TTL)
	ids, err := s.store.ListRoomsIdleSince(cutoff)
	if err != nil {
		return nil, err
	}

	var reaped []string
	for _, id := range ids {
		if s.live != nil && s.live.HasRoom(id) {
			continue
		}
		removed, err := s.store.DeleteRoomIdleSince(id, cutoff)
		if err != nil {
			log.Warn().Err(err).Str("room", id).Msg("reap room")
			continue
		}
		if removed {
			reaped = append(reaped, id)
		}
	}

	if len(reaped) > 0 {
		log.Info().Int("count", len(reaped)).Msg("reaped idle rooms")
	}
	return reaped, nil
}
