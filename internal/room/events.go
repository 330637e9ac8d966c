package room

import "encoding/json"

// Topics carried on the event channel
const (
	TopicSyncSettings = "room/sync-settings"
	TopicStart        = "game/start"
	TopicFinish       = "game/finish"
	TopicProgress     = "game/progress"
	TopicSetInitials  = "player/set-initials"
	TopicSetAvatar    = "player/set-avatar"
	TopicChat         = "chat/message"
)

// Event is one delivery from the ordered channel. Seq and At are stamped by
// the channel and are identical on every replica.
type Event struct {
	Seq     uint64
	Topic   string
	Sender  Identity
	At      int64
	Payload json.RawMessage
}

type ProfilePayload struct {
	Value string `json:"value"`
}

type ChatPayload struct {
	Text     string `json:"text"`
	Initials string `json:"initials,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

type ProgressPayload struct {
	Completed int `json:"completed"`
}
