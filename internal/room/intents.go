package room

import (
	"encoding/json"
	"fmt"
)

// Intents never touch local state. Each one becomes a single published
// event that every replica, this one included, applies in channel order.

func (m *Machine) RequestStart() error {
	return m.publish(TopicStart, struct{}{})
}

func (m *Machine) RequestFinish() error {
	return m.publish(TopicFinish, struct{}{})
}

func (m *Machine) SubmitInitials(text string) error {
	value, err := m.cfg.Limits.validateInitials(text)
	if err != nil {
		return err
	}
	return m.publish(TopicSetInitials, ProfilePayload{Value: value})
}

func (m *Machine) SubmitAvatar(ref string) error {
	value, err := m.cfg.Limits.validateAvatar(ref)
	if err != nil {
		return err
	}
	return m.publish(TopicSetAvatar, ProfilePayload{Value: value})
}

func (m *Machine) SubmitChatMessage(text string) error {
	text, err := m.cfg.Limits.validateChat(text)
	if err != nil {
		return err
	}
	payload := ChatPayload{Text: text}
	m.mu.RLock()
	if p, ok := m.state.Player(m.self); ok {
		payload.Initials = p.DisplayInitials
		payload.Avatar = p.AvatarRef
	}
	m.mu.RUnlock()
	return m.publish(TopicChat, payload)
}

// Reports how many words of the list this participant has completed
func (m *Machine) SubmitProgress(completed int) error {
	if completed < 0 {
		return ErrInvalidProgress
	}
	return m.publish(TopicProgress, ProgressPayload{Completed: completed})
}

// Announces settings for an unsettled room. Replicas that already settled
// ignore the announcement.
func (m *Machine) InitializeRoomWithSettings(settings Settings) error {
	if err := m.cfg.Limits.ValidateSettings(settings); err != nil {
		return err
	}
	return m.publish(TopicSyncSettings, settings)
}

func (m *Machine) publish(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	if err := m.ch.Publish(topic, data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
