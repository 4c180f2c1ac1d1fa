package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/branchchat-backend/internal/data/repos"
	"github.com/yungbote/branchchat-backend/internal/platform/logger"
)

type Repos struct {
	Chat     repos.ChatRepo
	ChatNode repos.ChatNodeRepo
	Speaker  repos.SpeakerRepo
	Setting  repos.SettingRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Chat:     repos.NewChatRepo(db, log),
		ChatNode: repos.NewChatNodeRepo(db, log),
		Speaker:  repos.NewSpeakerRepo(db, log),
		Setting:  repos.NewSettingRepo(db, log),
	}
}
