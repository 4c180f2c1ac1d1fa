package db

import (
	types "github.com/yungbote/branchchat-backend/internal/domain"
	"gorm.io/gorm"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Chat{},
		&types.ChatNode{},
		&types.Speaker{},
		&types.Setting{},
	)
}
