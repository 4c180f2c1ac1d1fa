package services

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/branchchat-backend/internal/chat/cache"
	"github.com/yungbote/branchchat-backend/internal/data/repos"
	types "github.com/yungbote/branchchat-backend/internal/domain"
	apperrors "github.com/yungbote/branchchat-backend/internal/pkg/errors"
	"github.com/yungbote/branchchat-backend/internal/pkg/dbctx"
	"github.com/yungbote/branchchat-backend/internal/platform/logger"
)

type SpeakerInput struct {
	Name   string
	Avatar string
	Color  string
	IsUser bool
}

// SpeakerPatch updates only the non-nil fields.
type SpeakerPatch struct {
	Name   *string
	Avatar *string
	Color  *string
	IsUser *bool
}

type SpeakerService interface {
	// List returns speakers ordered by name, then id.
	List(dbc dbctx.Context) ([]cache.Speaker, error)
	Get(dbc dbctx.Context, id uuid.UUID) (cache.Speaker, error)
	Create(dbc dbctx.Context, in SpeakerInput) (cache.Speaker, error)
	Update(dbc dbctx.Context, id uuid.UUID, patch SpeakerPatch) (cache.Speaker, error)
	Delete(dbc dbctx.Context, id uuid.UUID) error
	// CheckUserSpeaker reports a configuration error unless exactly one speaker has is_user set.
	CheckUserSpeaker(dbc dbctx.Context) error
	// Invalidate drops id from the cache, or everything when id is empty.
	Invalidate(id string)
}

type speakerService struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   repos.SpeakerRepo
	meta   *cache.MetaCache
	notify ChatNotifier
}

func NewSpeakerService(db *gorm.DB, baseLog *logger.Logger, repo repos.SpeakerRepo, meta *cache.MetaCache, notify ChatNotifier) SpeakerService {
	if meta == nil {
		meta = cache.NewMetaCache()
	}
	if notify == nil {
		notify = NewChatNotifier(nil)
	}
	return &speakerService{
		db:     db,
		log:    baseLog.With("service", "SpeakerService"),
		repo:   repo,
		meta:   meta,
		notify: notify,
	}
}

func toCacheSpeaker(s *types.Speaker) cache.Speaker {
	return cache.Speaker{
		ID:     s.ID.String(),
		Name:   s.Name,
		Avatar: s.Avatar,
		Color:  s.Color,
		IsUser: s.IsUser,
	}
}

func sortSpeakers(all []cache.Speaker) {
	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].ID < all[j].ID
	})
}

func (s *speakerService) List(dbc dbctx.Context) ([]cache.Speaker, error) {
	if all, ok := s.meta.Speakers(); ok {
		sortSpeakers(all)
		return all, nil
	}
	rows, err := s.repo.List(dbc)
	if err != nil {
		return nil, err
	}
	all := make([]cache.Speaker, 0, len(rows))
	for _, r := range rows {
		all = append(all, toCacheSpeaker(r))
	}
	s.meta.SetSpeakers(all)
	sortSpeakers(all)
	return all, nil
}

func (s *speakerService) Get(dbc dbctx.Context, id uuid.UUID) (cache.Speaker, error) {
	if sp, ok := s.meta.Speaker(id.String()); ok {
		return sp, nil
	}
	row, err := s.repo.GetByID(dbc, id)
	if err != nil {
		return cache.Speaker{}, err
	}
	sp := toCacheSpeaker(row)
	s.meta.PutSpeaker(sp)
	return sp, nil
}

func (s *speakerService) Create(dbc dbctx.Context, in SpeakerInput) (cache.Speaker, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return cache.Speaker{}, apperrors.Validation("missing speaker name")
	}
	row := &types.Speaker{
		Name:   name,
		Avatar: strings.TrimSpace(in.Avatar),
		Color:  strings.TrimSpace(in.Color),
		IsUser: in.IsUser,
	}
	if err := s.repo.Create(dbc, row); err != nil {
		return cache.Speaker{}, err
	}
	s.meta.InvalidateSpeaker(row.ID.String())
	s.notify.SpeakersChanged(row.ID)
	return toCacheSpeaker(row), nil
}

func (s *speakerService) Update(dbc dbctx.Context, id uuid.UUID, patch SpeakerPatch) (cache.Speaker, error) {
	updates := map[string]interface{}{}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return cache.Speaker{}, apperrors.Validation("speaker name cannot be empty")
		}
		updates["name"] = name
	}
	if patch.Avatar != nil {
		updates["avatar"] = strings.TrimSpace(*patch.Avatar)
	}
	if patch.Color != nil {
		updates["color"] = strings.TrimSpace(*patch.Color)
	}
	if patch.IsUser != nil {
		updates["is_user"] = *patch.IsUser
	}
	if err := s.repo.UpdateFields(dbc, id, updates); err != nil {
		return cache.Speaker{}, err
	}
	s.meta.InvalidateSpeaker(id.String())
	s.notify.SpeakersChanged(id)
	return s.Get(dbc, id)
}

func (s *speakerService) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if err := s.repo.Delete(dbc, id); err != nil {
		return err
	}
	s.meta.InvalidateSpeaker(id.String())
	s.notify.SpeakersChanged(id)
	return nil
}

func (s *speakerService) CheckUserSpeaker(dbc dbctx.Context) error {
	all, err := s.List(dbc)
	if err != nil {
		return err
	}
	n := 0
	for _, sp := range all {
		if sp.IsUser {
			n++
		}
	}
	if n != 1 {
		return apperrors.Validation("expected exactly one user speaker, found %d", n)
	}
	return nil
}

func (s *speakerService) Invalidate(id string) {
	if id == "" {
		s.meta.InvalidateSpeakers()
		return
	}
	s.meta.InvalidateSpeaker(id)
}
