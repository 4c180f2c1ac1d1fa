package services

import (
	"gorm.io/gorm"

	"github.com/yungbote/branchchat-backend/internal/chat/cache"
	"github.com/yungbote/branchchat-backend/internal/data/repos"
	"github.com/yungbote/branchchat-backend/internal/pkg/dbctx"
	"github.com/yungbote/branchchat-backend/internal/platform/logger"
)

type SettingService interface {
	List(dbc dbctx.Context) (map[string]string, error)
	Get(dbc dbctx.Context, key string) (string, error)
	Put(dbc dbctx.Context, key, value string) error
	// Invalidate drops key from the cache, or everything when key is empty.
	Invalidate(key string)
}

type settingService struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   repos.SettingRepo
	meta   *cache.MetaCache
	notify ChatNotifier
}

func NewSettingService(db *gorm.DB, baseLog *logger.Logger, repo repos.SettingRepo, meta *cache.MetaCache, notify ChatNotifier) SettingService {
	if meta == nil {
		meta = cache.NewMetaCache()
	}
	if notify == nil {
		notify = NewChatNotifier(nil)
	}
	return &settingService{
		db:     db,
		log:    baseLog.With("service", "SettingService"),
		repo:   repo,
		meta:   meta,
		notify: notify,
	}
}

func (s *settingService) List(dbc dbctx.Context) (map[string]string, error) {
	if all, ok := s.meta.Settings(); ok {
		return all, nil
	}
	rows, err := s.repo.List(dbc)
	if err != nil {
		return nil, err
	}
	all := make(map[string]string, len(rows))
	for _, r := range rows {
		all[r.Key] = r.Value
	}
	s.meta.SetSettings(all)
	out := make(map[string]string, len(all))
	for k, v := range all {
		out[k] = v
	}
	return out, nil
}

func (s *settingService) Get(dbc dbctx.Context, key string) (string, error) {
	if v, ok := s.meta.Setting(key); ok {
		return v, nil
	}
	row, err := s.repo.Get(dbc, key)
	if err != nil {
		return "", err
	}
	s.meta.PutSetting(row.Key, row.Value)
	return row.Value, nil
}

func (s *settingService) Put(dbc dbctx.Context, key, value string) error {
	row, err := s.repo.Upsert(dbc, key, value)
	if err != nil {
		return err
	}
	s.meta.InvalidateSetting(row.Key)
	s.notify.SettingsChanged(row.Key)
	return nil
}

func (s *settingService) Invalidate(key string) {
	if key == "" {
		s.meta.InvalidateSettings()
		return
	}
	s.meta.InvalidateSetting(key)
}
