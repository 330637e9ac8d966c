package room

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Channel is the ordered-delivery transport a machine runs on. Publish
// submits an event for redelivery to every replica including this one; After
// runs fn on this replica once the shared virtual clock has moved by delay.
type Channel interface {
	Publish(topic string, payload []byte) error
	After(delay time.Duration, fn func())
	Now() int64
}

type Config struct {
	Limits Limits
	Timing Timing
	// Only the host may start or finish the game
	RequireHost bool
	MinPlayers  int
	Logger      zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Limits:      DefaultLimits(),
		Timing:      DefaultTiming(),
		RequireHost: true,
		MinPlayers:  2,
		Logger:      zerolog.Nop(),
	}
}

// Machine is one replica of a room. Events are applied one at a time by the
// goroutine driving the channel; other goroutines only read snapshots and
// submit intents, which go through the channel like everything else.
type Machine struct {
	mu          sync.RWMutex
	self        Identity
	ch          Channel
	negotiator  Negotiator
	cfg         Config
	log         zerolog.Logger
	bc          *broadcaster
	state       State
	initialized bool
	dirty       bool
	changed     chan struct{}
}

func NewMachine(self Identity, ch Channel, negotiator Negotiator, cfg Config) *Machine {
	if negotiator == nil {
		negotiator = PushNegotiator{}
	}
	log := cfg.Logger.With().Str("replica", string(self)).Logger()
	return &Machine{
		self:       self,
		ch:         ch,
		negotiator: negotiator,
		cfg:        cfg,
		log:        log,
		bc:         newBroadcaster(ch, log),
		state: State{
			Phase:   PhaseLobby,
			Roster:  []PlayerEntry{},
			ChatLog: []ChatMessage{},
		},
		changed: make(chan struct{}, 1),
	}
}

func (m *Machine) Self() Identity {
	return m.self
}

// Changed fires after any processed event or timer that mutated state.
// Notifications coalesce: one pending signal covers any number of changes.
func (m *Machine) Changed() <-chan struct{} {
	return m.changed
}

// Snapshot returns a deep copy of the current state
func (m *Machine) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone()
}

func (m *Machine) Host() (Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Host()
}

// Initialize runs once, before any event. participants is the channel's
// member list in join order; supplied is non-nil only on the replica that
// created the room with real settings.
func (m *Machine) Initialize(supplied *Settings, participants []Identity) {
	m.mu.Lock()
	defer m.commit()

	if m.initialized {
		return
	}
	m.initialized = true

	for _, id := range participants {
		m.state.join(id)
	}

	if supplied != nil {
		if err := m.cfg.Limits.ValidateSettings(*supplied); err != nil {
			m.log.Warn().Err(err).Msg("ignoring supplied settings")
			supplied = nil
		} else {
			clone := supplied.Clone()
			supplied = &clone
		}
	}
	m.negotiator.Init(session{m}, supplied)
	m.dirty = true
}

func (m *Machine) ParticipantJoined(id Identity) {
	m.mu.Lock()
	defer m.commit()

	if !m.state.join(id) {
		return
	}
	m.dirty = true
	if len(m.state.Roster) > m.state.MaxPlayers && m.state.SettingsSettled {
		m.log.Warn().Int("players", len(m.state.Roster)).Int("max", m.state.MaxPlayers).Msg("roster over capacity")
	}
	m.negotiator.OnJoined(session{m}, id)
}

func (m *Machine) ParticipantLeft(id Identity) {
	m.mu.Lock()
	defer m.commit()

	if !m.state.leave(id) {
		return
	}
	m.dirty = true
	if m.state.Phase == PhaseActive && m.state.allFinished() {
		m.finish()
	}
}

// Apply processes one event from the channel. Invalid, stale and
// unauthorized events are dropped without error.
func (m *Machine) Apply(ev Event) {
	m.mu.Lock()
	defer m.commit()

	if !m.initialized {
		m.drop(ev, "not initialized")
		return
	}

	switch ev.Topic {
	case TopicSyncSettings:
		m.onSyncSettings(ev)
	case TopicStart:
		m.onStart(ev)
	case TopicFinish:
		m.onFinish(ev)
	case TopicProgress:
		m.onProgress(ev)
	case TopicSetInitials:
		m.onProfile(ev, m.cfg.Limits.validateInitials, func(p *PlayerEntry) *string { return &p.DisplayInitials })
	case TopicSetAvatar:
		m.onProfile(ev, m.cfg.Limits.validateAvatar, func(p *PlayerEntry) *string { return &p.AvatarRef })
	case TopicChat:
		m.onChat(ev)
	default:
		m.drop(ev, "unknown topic")
	}
}

func (m *Machine) onSyncSettings(ev Event) {
	var settings Settings
	if !m.decode(ev, &settings) {
		return
	}
	if err := m.cfg.Limits.ValidateSettings(settings); err != nil {
		m.drop(ev, err.Error())
		return
	}
	m.negotiator.OnCanonical(session{m}, settings)
}

func (m *Machine) onProfile(ev Event, validate func(string) (string, error), field func(*PlayerEntry) *string) {
	var payload ProfilePayload
	if !m.decode(ev, &payload) {
		return
	}
	value, err := validate(payload.Value)
	if err != nil {
		m.drop(ev, err.Error())
		return
	}
	changed := m.state.selfUpdate(ev.Sender, func(p *PlayerEntry) bool {
		f := field(p)
		if *f == value {
			return false
		}
		*f = value
		return true
	})
	if changed {
		m.dirty = true
	}
}

func (m *Machine) decode(ev Event, v any) bool {
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		m.drop(ev, "malformed payload")
		return false
	}
	return true
}

func (m *Machine) drop(ev Event, reason string) {
	m.log.Debug().
		Str("topic", ev.Topic).
		Str("sender", string(ev.Sender)).
		Uint64("seq", ev.Seq).
		Str("reason", reason).
		Msg("dropped event")
}

// commit releases the lock and signals observers if anything changed
func (m *Machine) commit() {
	dirty := m.dirty
	m.dirty = false
	m.mu.Unlock()

	if dirty {
		select {
		case m.changed <- struct{}{}:
		default:
		}
	}
}
