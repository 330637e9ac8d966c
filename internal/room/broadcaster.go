package room

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// broadcaster re-announces canonical settings on the virtual clock. It only
// fires on the replica that scheduled it and never cancels; receivers drop
// announcements once settled. Two announcements due at the same instant
// collapse into one.
type broadcaster struct {
	ch      Channel
	log     zerolog.Logger
	pending map[int64]struct{}
}

func newBroadcaster(ch Channel, log zerolog.Logger) *broadcaster {
	return &broadcaster{
		ch:      ch,
		log:     log,
		pending: make(map[int64]struct{}),
	}
}

func (b *broadcaster) schedule(delay time.Duration, settings Settings) {
	due := b.ch.Now() + delay.Milliseconds()
	if _, ok := b.pending[due]; ok {
		return
	}
	b.pending[due] = struct{}{}

	payload := settings.Clone()
	b.ch.After(delay, func() {
		delete(b.pending, due)
		b.publish(payload)
	})
}

func (b *broadcaster) publish(settings Settings) {
	data, err := json.Marshal(settings)
	if err != nil {
		b.log.Error().Err(err).Msg("encode settings announcement")
		return
	}
	if err := b.ch.Publish(TopicSyncSettings, data); err != nil {
		b.log.Warn().Err(err).Msg("publish settings announcement")
		return
	}
	b.log.Debug().Str("theme", settings.Theme).Int("words", len(settings.Words)).Msg("announced settings")
}

// session adapts a Machine to the Negotiator's view of it. Calls happen with
// the machine lock held.
type session struct {
	m *Machine
}

func (s session) Settled() bool {
	return s.m.state.SettingsSettled
}

func (s session) PlayerCount() int {
	return s.m.state.PlayerCount()
}

func (s session) Current() Settings {
	return s.m.state.Settings()
}

func (s session) Apply(settings Settings, settle bool) {
	if s.m.state.SettingsSettled {
		return
	}
	s.m.state.applySettings(settings)
	if settle {
		s.m.state.SettingsSettled = true
	}
	s.m.dirty = true
}

func (s session) ScheduleBroadcast(delay Delay, settings Settings) {
	d := s.m.cfg.Timing.CatchUp
	if delay == DelayFirstAnnounce {
		d = s.m.cfg.Timing.FirstAnnounce
	}
	s.m.bc.schedule(d, settings)
}
