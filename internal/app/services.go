package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/branchchat-backend/internal/chat/cache"
	"github.com/yungbote/branchchat-backend/internal/platform/logger"
	"github.com/yungbote/branchchat-backend/internal/services"
)

type Services struct {
	ChatCache *cache.ChatCache
	MetaCache *cache.MetaCache
	Notifier  services.ChatNotifier

	ChatTree services.ChatTreeService
	Speakers services.SpeakerService
	Settings services.SettingService

	Invalidator *services.CacheInvalidator
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, clients Clients) Services {
	log.Info("Wiring services...")
	chatCache := cache.NewChatCache(cfg.ChatCacheCapacity)
	metaCache := cache.NewMetaCache()
	notifier := services.NewChatNotifier(&services.BusEmitter{Bus: clients.Bus, Log: log})

	chatTree := services.NewChatTreeService(db, log, reposet.Chat, reposet.ChatNode, reposet.Speaker, chatCache, notifier)
	speakers := services.NewSpeakerService(db, log, reposet.Speaker, metaCache, notifier)
	settings := services.NewSettingService(db, log, reposet.Setting, metaCache, notifier)

	return Services{
		ChatCache: chatCache,
		MetaCache: metaCache,
		Notifier:  notifier,
		ChatTree:  chatTree,
		Speakers:  speakers,
		Settings:  settings,
		Invalidator: &services.CacheInvalidator{
			Chats:    chatTree,
			Speakers: speakers,
			Settings: settings,
		},
	}
}
