package chat

import (
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/branchchat-backend/internal/domain"
	apperrors "github.com/yungbote/branchchat-backend/internal/pkg/errors"
	"github.com/yungbote/branchchat-backend/internal/pkg/dbctx"
	"github.com/yungbote/branchchat-backend/internal/platform/logger"
)

type SettingRepo interface {
	Get(dbc dbctx.Context, key string) (*types.Setting, error)
	List(dbc dbctx.Context) ([]*types.Setting, error)
	Upsert(dbc dbctx.Context, key, value string) (*types.Setting, error)
}

type settingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSettingRepo(db *gorm.DB, log *logger.Logger) SettingRepo {
	return &settingRepo{db: db, log: log.With("repo", "SettingRepo")}
}

func (r *settingRepo) Get(dbc dbctx.Context, key string) (*types.Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperrors.Validation("missing setting key")
	}
	var out types.Setting
	if err := dbc.DB(r.db).Where("key = ?", key).First(&out).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.NotFound("setting %q", key)
		}
		return nil, err
	}
	return &out, nil
}

func (r *settingRepo) List(dbc dbctx.Context) ([]*types.Setting, error) {
	var out []*types.Setting
	if err := dbc.DB(r.db).Model(&types.Setting{}).Order("key ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *settingRepo) Upsert(dbc dbctx.Context, key, value string) (*types.Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperrors.Validation("missing setting key")
	}
	row := &types.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	if err := dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}
