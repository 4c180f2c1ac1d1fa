package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/branchchat-backend/internal/domain"
	apperrors "github.com/yungbote/branchchat-backend/internal/pkg/errors"
	"github.com/yungbote/branchchat-backend/internal/pkg/dbctx"
	"github.com/yungbote/branchchat-backend/internal/platform/logger"
)

type SpeakerRepo interface {
	Create(dbc dbctx.Context, s *types.Speaker) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Speaker, error)
	List(dbc dbctx.Context) ([]*types.Speaker, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type speakerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSpeakerRepo(db *gorm.DB, log *logger.Logger) SpeakerRepo {
	return &speakerRepo{db: db, log: log.With("repo", "SpeakerRepo")}
}

func (r *speakerRepo) Create(dbc dbctx.Context, s *types.Speaker) error {
	if s == nil {
		return apperrors.Validation("missing speaker")
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if err := dbc.DB(r.db).Create(s).Error; err != nil {
		if IsUniqueViolation(err) {
			return apperrors.Conflict("speaker %s already exists", s.ID)
		}
		return err
	}
	return nil
}

func (r *speakerRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Speaker, error) {
	if id == uuid.Nil {
		return nil, apperrors.Validation("missing speaker id")
	}
	var out types.Speaker
	if err := dbc.DB(r.db).Where("id = ?", id).First(&out).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.NotFound("speaker %s", id)
		}
		return nil, err
	}
	return &out, nil
}

func (r *speakerRepo) List(dbc dbctx.Context) ([]*types.Speaker, error) {
	var out []*types.Speaker
	if err := dbc.DB(r.db).Model(&types.Speaker{}).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *speakerRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return apperrors.Validation("missing speaker id")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["updated_at"] = time.Now().UTC()
	res := dbc.DB(r.db).Model(&types.Speaker{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("speaker %s", id)
	}
	return nil
}

func (r *speakerRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	res := dbc.DB(r.db).Where("id = ?", id).Delete(&types.Speaker{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("speaker %s", id)
	}
	return nil
}
