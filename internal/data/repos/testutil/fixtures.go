package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	types "github.com/yungbote/branchchat-backend/internal/domain"
	"gorm.io/gorm"
)

func SeedSpeaker(tb testing.TB, ctx context.Context, tx *gorm.DB, name string, isUser bool) *types.Speaker {
	tb.Helper()
	now := time.Now().UTC()
	s := &types.Speaker{
		ID:        uuid.New(),
		Name:      name,
		IsUser:    isUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed speaker: %v", err)
	}
	return s
}

func SeedChat(tb testing.TB, ctx context.Context, tx *gorm.DB, name string, speakers ...uuid.UUID) *types.Chat {
	tb.Helper()
	now := time.Now().UTC()
	c := &types.Chat{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.SetSpeakers(speakers)
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed chat: %v", err)
	}
	return c
}
