package domain

import (
	"github.com/yungbote/branchchat-backend/internal/domain/chat"
)

type Chat = chat.Chat
type ChatNode = chat.ChatNode
type Speaker = chat.Speaker
type Setting = chat.Setting
