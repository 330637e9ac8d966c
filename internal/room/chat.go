package room

import "fmt"

// Appends a message to the log. The log is never edited: no message is
// removed or reordered, and position is the only sequence number.
func (s *State) appendChat(msg ChatMessage) {
	s.ChatLog = append(s.ChatLog, msg)
}

func chatMessageID(sender Identity, at int64, seq uint64) string {
	return fmt.Sprintf("%s-%d-%d", sender, at, seq)
}

func (m *Machine) onChat(ev Event) {
	var payload ChatPayload
	if !m.decode(ev, &payload) {
		return
	}
	text, err := m.cfg.Limits.validateChat(payload.Text)
	if err != nil {
		m.drop(ev, err.Error())
		return
	}

	initials, _ := m.cfg.Limits.validateInitials(payload.Initials)
	avatar, _ := m.cfg.Limits.validateAvatar(payload.Avatar)
	if p, ok := m.state.Player(ev.Sender); ok {
		if p.DisplayInitials != "" {
			initials = p.DisplayInitials
		}
		if p.AvatarRef != "" {
			avatar = p.AvatarRef
		}
	}

	m.state.appendChat(ChatMessage{
		ID:                chatMessageID(ev.Sender, ev.At, ev.Seq),
		SenderIdentity:    ev.Sender,
		DisplayInitials:   initials,
		AvatarRef:         avatar,
		Text:              text,
		SentAtVirtualTime: ev.At,
	})
	m.dirty = true
}
