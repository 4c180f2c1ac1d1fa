package chat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Chat struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name string    `gorm:"column:name;not null;default:'New Chat'" json:"name"`

	// Character/user speakers participating in this chat, as a JSON array of ids.
	SpeakerIDs datatypes.JSON `gorm:"column:speaker_ids" json:"speaker_ids"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	// Bumped on every node mutation; readers compare it to decide cache freshness.
	UpdatedAt time.Time `gorm:"not null;index" json:"updated_at"`
}

func (Chat) TableName() string { return "chats" }

func (c *Chat) Speakers() []uuid.UUID {
	return decodeIDs(c.SpeakerIDs)
}

func (c *Chat) SetSpeakers(ids []uuid.UUID) {
	c.SpeakerIDs = encodeIDs(ids)
}

func decodeIDs(raw datatypes.JSON) []uuid.UUID {
	if len(raw) == 0 {
		return []uuid.UUID{}
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(raw, &ids); err != nil || ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

func encodeIDs(ids []uuid.UUID) datatypes.JSON {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	b, _ := json.Marshal(ids)
	return datatypes.JSON(b)
}
