package room

import "slices"

// Identity of a connected participant, assigned by the relay
type Identity string

type Phase string

const (
	PhaseLobby     Phase = "lobby"
	PhaseCountdown Phase = "countdown"
	PhaseActive    Phase = "active"
	PhaseFinished  Phase = "finished"
)

// Game configuration every replica converges on
type Settings struct {
	Theme            string   `json:"theme"`
	TargetWordCount  int      `json:"target_word_count"`
	TimeLimitSeconds int      `json:"time_limit_seconds"`
	MaxPlayers       int      `json:"max_players"`
	Words            []string `json:"words"`
}

// Placeholder settings a joining replica runs with until the canonical
// announcement arrives
func DefaultSettings() Settings {
	return Settings{
		Theme:            "random",
		TargetWordCount:  30,
		TimeLimitSeconds: 60,
		MaxPlayers:       4,
		Words:            []string{},
	}
}

// Returns a copy that shares no memory with s
func (s Settings) Clone() Settings {
	out := s
	out.Words = make([]string, len(s.Words))
	copy(out.Words, s.Words)
	return out
}

type PlayerEntry struct {
	Identity        Identity `json:"identity"`
	DisplayInitials string   `json:"display_initials"`
	AvatarRef       string   `json:"avatar_ref"`
	Progress        int      `json:"progress"`
	Finished        bool     `json:"finished"`
	FinishedAt      int64    `json:"finished_at,omitempty"`
}

type ChatMessage struct {
	ID                string   `json:"id"`
	SenderIdentity    Identity `json:"sender_identity"`
	DisplayInitials   string   `json:"display_initials"`
	AvatarRef         string   `json:"avatar_ref"`
	Text              string   `json:"text"`
	SentAtVirtualTime int64    `json:"sent_at_virtual_time"`
}

// State is the replicated room state. Machine owns the live copy; everything
// handed out is a deep copy from Snapshot.
type State struct {
	Phase            Phase         `json:"phase"`
	Theme            string        `json:"theme"`
	TargetWordCount  int           `json:"target_word_count"`
	TimeLimitSeconds int           `json:"time_limit_seconds"`
	MaxPlayers       int           `json:"max_players"`
	Words            []string      `json:"words"`
	TimeRemaining    int           `json:"time_remaining"`
	SettingsSettled  bool          `json:"settings_settled"`
	CountdownActive  bool          `json:"countdown_active"`
	Roster           []PlayerEntry `json:"roster"`
	ChatLog          []ChatMessage `json:"chat_log"`
}

// Settings currently applied to the state, provisional or settled
func (s *State) Settings() Settings {
	return Settings{
		Theme:            s.Theme,
		TargetWordCount:  s.TargetWordCount,
		TimeLimitSeconds: s.TimeLimitSeconds,
		MaxPlayers:       s.MaxPlayers,
		Words:            slices.Clone(s.Words),
	}
}

func (s *State) clone() State {
	out := *s
	out.Words = slices.Clone(s.Words)
	out.Roster = slices.Clone(s.Roster)
	out.ChatLog = slices.Clone(s.ChatLog)
	return out
}

// Copies every settings field by value and resets the game timer
func (s *State) applySettings(set Settings) {
	s.Theme = set.Theme
	s.TargetWordCount = set.TargetWordCount
	s.TimeLimitSeconds = set.TimeLimitSeconds
	s.MaxPlayers = set.MaxPlayers
	s.Words = make([]string, len(set.Words))
	copy(s.Words, set.Words)
	s.TimeRemaining = set.TimeLimitSeconds
}
