package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/branchchat-backend/internal/chat/tree"
)

type ChatNode struct {
	ID     uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID uuid.UUID  `gorm:"type:uuid;not null;index" json:"chat_id"`
	// Null only for the chat root.
	ParentID *uuid.UUID `gorm:"type:uuid;index" json:"parent_id"`

	// Ordered children, insertion order. Also the branch index space.
	ChildIDs datatypes.JSON `gorm:"column:child_ids" json:"child_ids"`
	// Null iff ChildIDs is empty.
	ActiveChildIndex *int `gorm:"column:active_child_index" json:"active_child_index"`

	SpeakerID uuid.UUID `gorm:"type:uuid;not null;index" json:"speaker_id"`
	Message   string    `gorm:"column:message;type:text;not null;default:''" json:"message"`
	IsBot     bool      `gorm:"column:is_bot;not null;default:false" json:"is_bot"`

	// Client correlation id used to reconcile optimistic placeholders. Distinct from ID.
	ClientID *string `gorm:"column:client_id;uniqueIndex" json:"client_id,omitempty"`

	CreatedAt time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt *time.Time `gorm:"autoUpdateTime:false" json:"updated_at,omitempty"`
}

func (ChatNode) TableName() string { return "chat_nodes" }

func (n *ChatNode) Children() []uuid.UUID {
	return decodeIDs(n.ChildIDs)
}

func (n *ChatNode) SetChildren(ids []uuid.UUID) {
	n.ChildIDs = encodeIDs(ids)
}

func (n *ChatNode) ToTreeNode() tree.Node {
	out := tree.Node{
		ID:               n.ID.String(),
		SpeakerID:        n.SpeakerID.String(),
		Message:          n.Message,
		IsBot:            n.IsBot,
		CreatedAt:        n.CreatedAt,
		UpdatedAt:        n.UpdatedAt,
		ActiveChildIndex: n.ActiveChildIndex,
	}
	if n.ParentID != nil {
		out.ParentID = n.ParentID.String()
	}
	if n.ClientID != nil {
		out.ClientID = *n.ClientID
	}
	children := n.Children()
	out.ChildIDs = make([]string, 0, len(children))
	for _, c := range children {
		out.ChildIDs = append(out.ChildIDs, c.String())
	}
	return out
}
