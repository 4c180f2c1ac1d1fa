package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/branchchat-backend/internal/domain"
	apperrors "github.com/yungbote/branchchat-backend/internal/pkg/errors"
	"github.com/yungbote/branchchat-backend/internal/pkg/dbctx"
	"github.com/yungbote/branchchat-backend/internal/platform/logger"
)

type ChatRepo interface {
	Create(dbc dbctx.Context, chat *types.Chat) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Chat, error)
	List(dbc dbctx.Context, limit int) ([]*types.Chat, error)
	// Touch bumps updated_at. Inside a transaction it also takes the chat's row lock,
	// serializing concurrent tree mutations on the same chat.
	Touch(dbc dbctx.Context, id uuid.UUID, at time.Time) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type chatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatRepo(db *gorm.DB, log *logger.Logger) ChatRepo {
	return &chatRepo{db: db, log: log.With("repo", "ChatRepo")}
}

func (r *chatRepo) Create(dbc dbctx.Context, chat *types.Chat) error {
	if chat == nil {
		return fmt.Errorf("missing chat")
	}
	if chat.ID == uuid.Nil {
		chat.ID = uuid.New()
	}
	now := time.Now().UTC()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = chat.CreatedAt
	}
	if len(chat.SpeakerIDs) == 0 {
		chat.SetSpeakers(nil)
	}
	return dbc.DB(r.db).Create(chat).Error
}

func (r *chatRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Chat, error) {
	if id == uuid.Nil {
		return nil, apperrors.Validation("missing chat id")
	}
	var out types.Chat
	if err := dbc.DB(r.db).Where("id = ?", id).First(&out).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.NotFound("chat %s", id)
		}
		return nil, err
	}
	return &out, nil
}

func (r *chatRepo) List(dbc dbctx.Context, limit int) ([]*types.Chat, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*types.Chat
	if err := dbc.DB(r.db).
		Model(&types.Chat{}).
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatRepo) Touch(dbc dbctx.Context, id uuid.UUID, at time.Time) error {
	if id == uuid.Nil {
		return apperrors.Validation("missing chat id")
	}
	res := dbc.DB(r.db).
		Model(&types.Chat{}).
		Where("id = ?", id).
		Update("updated_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("chat %s", id)
	}
	return nil
}

func (r *chatRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return apperrors.Validation("missing chat id")
	}
	res := dbc.DB(r.db).Where("id = ?", id).Delete(&types.Chat{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("chat %s", id)
	}
	return nil
}
