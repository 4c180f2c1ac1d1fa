package chat

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/branchchat-backend/internal/domain"
	apperrors "github.com/yungbote/branchchat-backend/internal/pkg/errors"
	"github.com/yungbote/branchchat-backend/internal/pkg/dbctx"
	"github.com/yungbote/branchchat-backend/internal/platform/logger"
)

type ChatNodeRepo interface {
	Create(dbc dbctx.Context, node *types.ChatNode) error
	GetByID(dbc dbctx.Context, chatID, id uuid.UUID) (*types.ChatNode, error)
	ClientIDExists(dbc dbctx.Context, clientID string) (bool, error)
	ListByChat(dbc dbctx.Context, chatID uuid.UUID) ([]*types.ChatNode, error)
	CountByChat(dbc dbctx.Context, chatID uuid.UUID) (int64, error)
	UpdateFields(dbc dbctx.Context, chatID, id uuid.UUID, updates map[string]interface{}) error
	// DescendantIDs returns id followed by its full transitive descendant closure.
	DescendantIDs(dbc dbctx.Context, chatID, id uuid.UUID) ([]uuid.UUID, error)
	DeleteByIDs(dbc dbctx.Context, chatID uuid.UUID, ids []uuid.UUID) (int64, error)
	DeleteByChat(dbc dbctx.Context, chatID uuid.UUID) error
}

type chatNodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatNodeRepo(db *gorm.DB, log *logger.Logger) ChatNodeRepo {
	return &chatNodeRepo{db: db, log: log.With("repo", "ChatNodeRepo")}
}

func (r *chatNodeRepo) Create(dbc dbctx.Context, node *types.ChatNode) error {
	if node == nil || node.ChatID == uuid.Nil {
		return apperrors.Validation("missing chat_id")
	}
	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	if len(node.ChildIDs) == 0 {
		node.SetChildren(nil)
	}
	if err := dbc.DB(r.db).Create(node).Error; err != nil {
		if IsUniqueViolation(err) {
			return apperrors.Conflict("client_id already used")
		}
		return err
	}
	return nil
}

func (r *chatNodeRepo) GetByID(dbc dbctx.Context, chatID, id uuid.UUID) (*types.ChatNode, error) {
	if chatID == uuid.Nil || id == uuid.Nil {
		return nil, apperrors.Validation("missing ids")
	}
	var out types.ChatNode
	if err := dbc.DB(r.db).
		Where("id = ? AND chat_id = ?", id, chatID).
		First(&out).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.NotFound("node %s", id)
		}
		return nil, err
	}
	return &out, nil
}

func (r *chatNodeRepo) ClientIDExists(dbc dbctx.Context, clientID string) (bool, error) {
	if clientID == "" {
		return false, nil
	}
	var n int64
	if err := dbc.DB(r.db).
		Model(&types.ChatNode{}).
		Where("client_id = ?", clientID).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *chatNodeRepo) ListByChat(dbc dbctx.Context, chatID uuid.UUID) ([]*types.ChatNode, error) {
	if chatID == uuid.Nil {
		return nil, apperrors.Validation("missing chat id")
	}
	var out []*types.ChatNode
	if err := dbc.DB(r.db).
		Model(&types.ChatNode{}).
		Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatNodeRepo) CountByChat(dbc dbctx.Context, chatID uuid.UUID) (int64, error) {
	var n int64
	if err := dbc.DB(r.db).
		Model(&types.ChatNode{}).
		Where("chat_id = ?", chatID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *chatNodeRepo) UpdateFields(dbc dbctx.Context, chatID, id uuid.UUID, updates map[string]interface{}) error {
	if chatID == uuid.Nil || id == uuid.Nil {
		return apperrors.Validation("missing ids")
	}
	if len(updates) == 0 {
		return nil
	}
	res := dbc.DB(r.db).
		Model(&types.ChatNode{}).
		Where("id = ? AND chat_id = ?", id, chatID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("node %s", id)
	}
	return nil
}

const descendantsSQL = `
	WITH RECURSIVE subtree(id) AS (
		SELECT id FROM chat_nodes WHERE id = ? AND chat_id = ?
		UNION ALL
		SELECT n.id FROM chat_nodes n JOIN subtree s ON n.parent_id = s.id WHERE n.chat_id = ?
	)
	SELECT id FROM subtree;
`

func (r *chatNodeRepo) DescendantIDs(dbc dbctx.Context, chatID, id uuid.UUID) ([]uuid.UUID, error) {
	if chatID == uuid.Nil || id == uuid.Nil {
		return nil, apperrors.Validation("missing ids")
	}
	var ids []uuid.UUID
	if err := dbc.DB(r.db).Raw(descendantsSQL, id, chatID, chatID).Scan(&ids).Error; err != nil {
		return nil, fmt.Errorf("descendants of %s: %w", id, err)
	}
	return ids, nil
}

func (r *chatNodeRepo) DeleteByIDs(dbc dbctx.Context, chatID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := dbc.DB(r.db).
		Where("chat_id = ? AND id IN ?", chatID, ids).
		Delete(&types.ChatNode{})
	return res.RowsAffected, res.Error
}

func (r *chatNodeRepo) DeleteByChat(dbc dbctx.Context, chatID uuid.UUID) error {
	if chatID == uuid.Nil {
		return apperrors.Validation("missing chat id")
	}
	return dbc.DB(r.db).Where("chat_id = ?", chatID).Delete(&types.ChatNode{}).Error
}
