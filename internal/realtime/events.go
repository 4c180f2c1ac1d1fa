package realtime

import (
	"time"

	"github.com/google/uuid"
)

type SSEEvent string

const (
	SSEEventChatUpdated     SSEEvent = "ChatUpdated"
	SSEEventChatDeleted     SSEEvent = "ChatDeleted"
	SSEEventSpeakersChanged SSEEvent = "SpeakersChanged"
	SSEEventSettingsChanged SSEEvent = "SettingsChanged"
)

// MetaChannel carries speaker and settings changes to every subscriber.
const MetaChannel = "meta"

type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	Data    any      `json:"data,omitempty"`
}

func ChatChannel(chatID uuid.UUID) string { return "chat:" + chatID.String() }

// ChatUpdated is the payload of SSEEventChatUpdated and SSEEventChatDeleted.
type ChatUpdated struct {
	ChatID    uuid.UUID `json:"chat_id"`
	UpdatedAt time.Time `json:"updated_at"`
	Op        string    `json:"op"`
	NodeID    string    `json:"node_id,omitempty"`
}

// MetaChanged is the payload of speaker and settings events. An empty ID means wholesale.
type MetaChanged struct {
	ID string `json:"id,omitempty"`
}
