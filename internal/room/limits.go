package room

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Range is an inclusive integer bound
type Range struct {
	Min int
	Max int
}

func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// Limits bound every value a replica accepts from the channel
type Limits struct {
	TargetWordCount Range
	TimeLimit       Range
	MaxPlayers      Range
	ThemeLength     int
	WordCount       Range
	WordLength      int
	ChatLength      int
	InitialsLength  int
	AvatarLength    int
}

func DefaultLimits() Limits {
	return Limits{
		TargetWordCount: Range{Min: 10, Max: 100},
		TimeLimit:       Range{Min: 15, Max: 300},
		MaxPlayers:      Range{Min: 2, Max: 8},
		ThemeLength:     64,
		WordCount:       Range{Min: 1, Max: 500},
		WordLength:      40,
		ChatLength:      200,
		InitialsLength:  3,
		AvatarLength:    256,
	}
}

// Timing holds the virtual-clock delays the machine schedules with
type Timing struct {
	FirstAnnounce time.Duration
	CatchUp       time.Duration
	Countdown     time.Duration
	TimerTick     time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		FirstAnnounce: 1000 * time.Millisecond,
		CatchUp:       500 * time.Millisecond,
		Countdown:     3000 * time.Millisecond,
		TimerTick:     1000 * time.Millisecond,
	}
}

// Validates canonical settings against the configured ranges
func (l Limits) ValidateSettings(s Settings) error {
	theme := strings.TrimSpace(s.Theme)
	if theme == "" || utf8.RuneCountInString(theme) > l.ThemeLength {
		return fmt.Errorf("%w: theme", ErrInvalidSettings)
	}
	if !l.TargetWordCount.Contains(s.TargetWordCount) {
		return fmt.Errorf("%w: target word count %d", ErrInvalidSettings, s.TargetWordCount)
	}
	if !l.TimeLimit.Contains(s.TimeLimitSeconds) {
		return fmt.Errorf("%w: time limit %d", ErrInvalidSettings, s.TimeLimitSeconds)
	}
	if !l.MaxPlayers.Contains(s.MaxPlayers) {
		return fmt.Errorf("%w: max players %d", ErrInvalidSettings, s.MaxPlayers)
	}
	if !l.WordCount.Contains(len(s.Words)) {
		return fmt.Errorf("%w: word list of %d", ErrInvalidSettings, len(s.Words))
	}
	for i, w := range s.Words {
		if w == "" || utf8.RuneCountInString(w) > l.WordLength {
			return fmt.Errorf("%w: word %d", ErrInvalidSettings, i)
		}
	}
	return nil
}

// Returns the trimmed chat text or why it cannot be sent
func (l Limits) validateChat(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrTextEmpty
	}
	if utf8.RuneCountInString(text) > l.ChatLength {
		return "", ErrTextTooLong
	}
	return text, nil
}

func (l Limits) validateInitials(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" || utf8.RuneCountInString(v) > l.InitialsLength {
		return "", fmt.Errorf("%w: initials", ErrInvalidProfile)
	}
	return v, nil
}

func (l Limits) validateAvatar(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" || len(v) > l.AvatarLength {
		return "", fmt.Errorf("%w: avatar", ErrInvalidProfile)
	}
	return v, nil
}
