package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/branchchat-backend/internal/realtime"
)

// Ops reported in ChatUpdated events.
const (
	OpAppend = "append"
	OpEdit   = "edit"
	OpDelete = "delete"
	OpSwitch = "switch"
)

type ChatNotifier interface {
	ChatUpdated(chatID uuid.UUID, updatedAt time.Time, op string, nodeID uuid.UUID)
	ChatDeleted(chatID uuid.UUID)
	SpeakersChanged(speakerID uuid.UUID)
	SettingsChanged(key string)
}

type chatNotifier struct {
	emit SSEEmitter
}

func NewChatNotifier(emit SSEEmitter) ChatNotifier {
	return &chatNotifier{emit: emit}
}

func (n *chatNotifier) ChatUpdated(chatID uuid.UUID, updatedAt time.Time, op string, nodeID uuid.UUID) {
	if n == nil || n.emit == nil || chatID == uuid.Nil {
		return
	}
	data := realtime.ChatUpdated{ChatID: chatID, UpdatedAt: updatedAt, Op: op}
	if nodeID != uuid.Nil {
		data.NodeID = nodeID.String()
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: realtime.ChatChannel(chatID),
		Event:   realtime.SSEEventChatUpdated,
		Data:    data,
	})
}

func (n *chatNotifier) ChatDeleted(chatID uuid.UUID) {
	if n == nil || n.emit == nil || chatID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: realtime.ChatChannel(chatID),
		Event:   realtime.SSEEventChatDeleted,
		Data:    realtime.ChatUpdated{ChatID: chatID, UpdatedAt: time.Now().UTC(), Op: "delete_chat"},
	})
}

func (n *chatNotifier) SpeakersChanged(speakerID uuid.UUID) {
	if n == nil || n.emit == nil {
		return
	}
	data := realtime.MetaChanged{}
	if speakerID != uuid.Nil {
		data.ID = speakerID.String()
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: realtime.MetaChannel,
		Event:   realtime.SSEEventSpeakersChanged,
		Data:    data,
	})
}

func (n *chatNotifier) SettingsChanged(key string) {
	if n == nil || n.emit == nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: realtime.MetaChannel,
		Event:   realtime.SSEEventSettingsChanged,
		Data:    realtime.MetaChanged{ID: key},
	})
}
