package repos

import (
	"github.com/yungbote/branchchat-backend/internal/data/repos/chat"
	"github.com/yungbote/branchchat-backend/internal/platform/logger"
	"gorm.io/gorm"
)

type ChatRepo = chat.ChatRepo
type ChatNodeRepo = chat.ChatNodeRepo
type SpeakerRepo = chat.SpeakerRepo
type SettingRepo = chat.SettingRepo

func NewChatRepo(db *gorm.DB, baseLog *logger.Logger) ChatRepo { return chat.NewChatRepo(db, baseLog) }
func NewChatNodeRepo(db *gorm.DB, baseLog *logger.Logger) ChatNodeRepo {
	return chat.NewChatNodeRepo(db, baseLog)
}
func NewSpeakerRepo(db *gorm.DB, baseLog *logger.Logger) SpeakerRepo {
	return chat.NewSpeakerRepo(db, baseLog)
}
func NewSettingRepo(db *gorm.DB, baseLog *logger.Logger) SettingRepo {
	return chat.NewSettingRepo(db, baseLog)
}
