package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/yungbote/branchchat-backend/internal/chat/cache"
	"github.com/yungbote/branchchat-backend/internal/chat/tree"
	"github.com/yungbote/branchchat-backend/internal/data/repos"
	types "github.com/yungbote/branchchat-backend/internal/domain"
	"github.com/yungbote/branchchat-backend/internal/observability"
	"github.com/yungbote/branchchat-backend/internal/pkg/ctxutil"
	"github.com/yungbote/branchchat-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/branchchat-backend/internal/pkg/errors"
	"github.com/yungbote/branchchat-backend/internal/platform/logger"
)

type AppendInput struct {
	// Nil only for the root of an empty chat.
	ParentID  *uuid.UUID
	Content   string
	SpeakerID uuid.UUID
	IsBot     bool
	CreatedAt *time.Time
	ClientID  *string
}

type AppendResult struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateChatInput struct {
	Name       string
	SpeakerIDs []uuid.UUID
}

// ChatTreeService is the tree mutation API. Every mutation is one transaction that first bumps
// the chat's updated_at, and drops the chat's cache entry after commit.
type ChatTreeService interface {
	CreateChat(dbc dbctx.Context, in CreateChatInput) (*types.Chat, error)
	ListChats(dbc dbctx.Context, limit int) ([]*types.Chat, error)
	// GetTree is cache-first; concurrent misses for one chat share a single store read.
	GetTree(dbc dbctx.Context, chatID uuid.UUID) (*cache.ChatEntry, error)
	DeleteChat(dbc dbctx.Context, chatID uuid.UUID) error

	Append(dbc dbctx.Context, chatID uuid.UUID, in AppendInput) (*AppendResult, error)
	Edit(dbc dbctx.Context, chatID, nodeID uuid.UUID, content string) error
	// Delete removes nodeID and its whole descendant closure, returning the removed ids.
	Delete(dbc dbctx.Context, chatID, nodeID uuid.UUID) ([]uuid.UUID, error)
	SwitchBranch(dbc dbctx.Context, chatID, leafID uuid.UUID) error

	// Invalidate drops a chat from the local cache. Called for peer-instance mutations.
	Invalidate(chatID uuid.UUID)
}

type chatTreeService struct {
	db       *gorm.DB
	log      *logger.Logger
	chats    repos.ChatRepo
	nodes    repos.ChatNodeRepo
	speakers repos.SpeakerRepo
	cache    *cache.ChatCache
	notify   ChatNotifier
	now      func() time.Time
}

func NewChatTreeService(
	db *gorm.DB,
	baseLog *logger.Logger,
	chatRepo repos.ChatRepo,
	nodeRepo repos.ChatNodeRepo,
	speakerRepo repos.SpeakerRepo,
	chatCache *cache.ChatCache,
	notify ChatNotifier,
) ChatTreeService {
	if chatCache == nil {
		chatCache = cache.NewChatCache(cache.DefaultCapacity)
	}
	if notify == nil {
		notify = NewChatNotifier(nil)
	}
	return &chatTreeService{
		db:       db,
		log:      baseLog.With("service", "ChatTreeService"),
		chats:    chatRepo,
		nodes:    nodeRepo,
		speakers: speakerRepo,
		cache:    chatCache,
		notify:   notify,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *chatTreeService) CreateChat(dbc dbctx.Context, in CreateChatInput) (*types.Chat, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = "New Chat"
	}
	chat := &types.Chat{Name: name}
	chat.SetSpeakers(in.SpeakerIDs)

	err := dbc.DB(s.db).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: ctxutil.Default(dbc.Ctx), Tx: txx}
		for _, id := range in.SpeakerIDs {
			if _, err := s.speakers.GetByID(inner, id); err != nil {
				if apperrors.IsNotFound(err) {
					return apperrors.Validation("unknown speaker %s", id)
				}
				return err
			}
		}
		return s.chats.Create(inner, chat)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("chat created", "chat_id", chat.ID)
	return chat, nil
}

func (s *chatTreeService) ListChats(dbc dbctx.Context, limit int) ([]*types.Chat, error) {
	return s.chats.List(dbc, limit)
}

func (s *chatTreeService) GetTree(dbc dbctx.Context, chatID uuid.UUID) (*cache.ChatEntry, error) {
	if chatID == uuid.Nil {
		return nil, apperrors.Validation("missing chat id")
	}
	return s.cache.Load(chatID.String(), func() (*cache.ChatEntry, error) {
		return s.decode(dbc, chatID)
	})
}

func (s *chatTreeService) decode(dbc dbctx.Context, chatID uuid.UUID) (*cache.ChatEntry, error) {
	chat, err := s.chats.GetByID(dbc, chatID)
	if err != nil {
		return nil, err
	}
	rows, err := s.nodes.ListByChat(dbc, chatID)
	if err != nil {
		return nil, err
	}
	flat := make([]tree.Node, 0, len(rows))
	for _, r := range rows {
		flat = append(flat, r.ToTreeNode())
	}
	t, orphans, err := tree.FromNodes(flat)
	if err != nil {
		return nil, fmt.Errorf("decode chat %s: %w", chatID, err)
	}
	if len(orphans) > 0 {
		s.log.Warn("chat has orphaned nodes", "chat_id", chatID, "orphans", len(orphans))
	}

	entry := &cache.ChatEntry{
		ChatID:     chatID.String(),
		Name:       chat.Name,
		Nodes:      make(map[string]tree.Node, t.Len()),
		RootID:     t.Root(),
		TailID:     t.Tail(),
		ActivePath: append([]string(nil), t.ActivePath()...),
		UpdatedAt:  chat.UpdatedAt,
	}
	for _, id := range chat.Speakers() {
		entry.SpeakerIDs = append(entry.SpeakerIDs, id.String())
	}
	for _, n := range t.Nodes() {
		entry.Nodes[n.ID] = n
	}
	return entry, nil
}

func (s *chatTreeService) DeleteChat(dbc dbctx.Context, chatID uuid.UUID) error {
	err := dbc.DB(s.db).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: ctxutil.Default(dbc.Ctx), Tx: txx}
		if err := s.chats.Touch(inner, chatID, s.now()); err != nil {
			return err
		}
		if err := s.nodes.DeleteByChat(inner, chatID); err != nil {
			return err
		}
		return s.chats.Delete(inner, chatID)
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(chatID.String())
	s.notify.ChatDeleted(chatID)
	return nil
}

func (s *chatTreeService) Append(dbc dbctx.Context, chatID uuid.UUID, in AppendInput) (*AppendResult, error) {
	if chatID == uuid.Nil {
		return nil, apperrors.Validation("missing chat id")
	}
	if in.SpeakerID == uuid.Nil {
		return nil, apperrors.Validation("missing speaker_id")
	}
	var clientID *string
	if in.ClientID != nil {
		raw := strings.TrimSpace(*in.ClientID)
		if _, err := uuid.Parse(raw); err != nil {
			return nil, apperrors.Validation("malformed client_id %q", raw)
		}
		clientID = &raw
	}

	m := s.begin(&dbc, OpAppend, chatID)
	now := s.now()
	node := &types.ChatNode{
		ID:        uuid.New(),
		ChatID:    chatID,
		ParentID:  in.ParentID,
		SpeakerID: in.SpeakerID,
		Message:   in.Content,
		IsBot:     in.IsBot,
		ClientID:  clientID,
		CreatedAt: now,
	}
	if in.CreatedAt != nil && !in.CreatedAt.IsZero() {
		node.CreatedAt = in.CreatedAt.UTC()
	}

	err := dbc.DB(s.db).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: ctxutil.Default(dbc.Ctx), Tx: txx}
		if err := s.chats.Touch(inner, chatID, now); err != nil {
			return err
		}
		if _, err := s.speakers.GetByID(inner, in.SpeakerID); err != nil {
			if apperrors.IsNotFound(err) {
				return apperrors.Validation("unknown speaker %s", in.SpeakerID)
			}
			return err
		}
		if clientID != nil {
			used, err := s.nodes.ClientIDExists(inner, *clientID)
			if err != nil {
				return err
			}
			if used {
				return apperrors.Conflict("client_id %s already used", *clientID)
			}
		}

		if in.ParentID == nil {
			count, err := s.nodes.CountByChat(inner, chatID)
			if err != nil {
				return err
			}
			if count > 0 {
				return apperrors.Conflict("chat %s already has a root", chatID)
			}
			return s.nodes.Create(inner, node)
		}

		parent, err := s.nodes.GetByID(inner, chatID, *in.ParentID)
		if err != nil {
			return err
		}
		if err := s.nodes.Create(inner, node); err != nil {
			return err
		}
		children := append(parent.Children(), node.ID)
		idx := len(children) - 1
		parent.SetChildren(children)
		parent.ActiveChildIndex = &idx
		if err := s.nodes.UpdateFields(inner, chatID, parent.ID, map[string]interface{}{
			"child_ids":          parent.ChildIDs,
			"active_child_index": idx,
		}); err != nil {
			return err
		}
		// The new node is the tail, so every ancestor above the parent points toward it too.
		return s.rewireAncestors(inner, chatID, parent)
	})
	s.observe(m, err)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(chatID.String())
	s.notify.ChatUpdated(chatID, now, OpAppend, node.ID)
	return &AppendResult{ID: node.ID, CreatedAt: node.CreatedAt}, nil
}

func (s *chatTreeService) Edit(dbc dbctx.Context, chatID, nodeID uuid.UUID, content string) error {
	if chatID == uuid.Nil || nodeID == uuid.Nil {
		return apperrors.Validation("missing ids")
	}
	m := s.begin(&dbc, OpEdit, chatID)
	now := s.now()
	err := dbc.DB(s.db).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: ctxutil.Default(dbc.Ctx), Tx: txx}
		if err := s.chats.Touch(inner, chatID, now); err != nil {
			return err
		}
		return s.nodes.UpdateFields(inner, chatID, nodeID, map[string]interface{}{
			"message":    content,
			"updated_at": now,
		})
	})
	s.observe(m, err)
	if err != nil {
		return err
	}
	s.cache.Invalidate(chatID.String())
	s.notify.ChatUpdated(chatID, now, OpEdit, nodeID)
	return nil
}

func (s *chatTreeService) Delete(dbc dbctx.Context, chatID, nodeID uuid.UUID) ([]uuid.UUID, error) {
	if chatID == uuid.Nil || nodeID == uuid.Nil {
		return nil, apperrors.Validation("missing ids")
	}
	m := s.begin(&dbc, OpDelete, chatID)
	now := s.now()
	var removed []uuid.UUID
	err := dbc.DB(s.db).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: ctxutil.Default(dbc.Ctx), Tx: txx}
		if err := s.chats.Touch(inner, chatID, now); err != nil {
			return err
		}
		node, err := s.nodes.GetByID(inner, chatID, nodeID)
		if err != nil {
			return err
		}
		ids, err := s.nodes.DescendantIDs(inner, chatID, nodeID)
		if err != nil {
			return err
		}

		if node.ParentID != nil {
			parent, err := s.nodes.GetByID(inner, chatID, *node.ParentID)
			if err != nil && !apperrors.IsNotFound(err) {
				return err
			}
			if parent != nil {
				if err := s.detachChild(inner, chatID, parent, nodeID); err != nil {
					return err
				}
			}
		}

		n, err := s.nodes.DeleteByIDs(inner, chatID, ids)
		if err != nil {
			return err
		}
		if int(n) != len(ids) {
			s.log.Warn("descendant delete count mismatch", "chat_id", chatID, "want", len(ids), "got", n)
		}
		removed = ids
		return nil
	})
	s.observe(m, err)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(chatID.String())
	s.notify.ChatUpdated(chatID, now, OpDelete, nodeID)
	return removed, nil
}

// detachChild drops childID from parent's child list and clamps the active index.
func (s *chatTreeService) detachChild(dbc dbctx.Context, chatID uuid.UUID, parent *types.ChatNode, childID uuid.UUID) error {
	children := parent.Children()
	pos := -1
	for i, c := range children {
		if c == childID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil
	}
	children = append(children[:pos], children[pos+1:]...)
	parent.SetChildren(children)
	active := tree.ClampActiveIndex(parent.ActiveChildIndex, pos, len(children))
	updates := map[string]interface{}{"child_ids": parent.ChildIDs}
	if active == nil {
		updates["active_child_index"] = gorm.Expr("NULL")
	} else {
		updates["active_child_index"] = *active
	}
	return s.nodes.UpdateFields(dbc, chatID, parent.ID, updates)
}

func (s *chatTreeService) SwitchBranch(dbc dbctx.Context, chatID, leafID uuid.UUID) error {
	if chatID == uuid.Nil || leafID == uuid.Nil {
		return apperrors.Validation("missing ids")
	}
	m := s.begin(&dbc, OpSwitch, chatID)
	now := s.now()
	err := dbc.DB(s.db).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: ctxutil.Default(dbc.Ctx), Tx: txx}
		if err := s.chats.Touch(inner, chatID, now); err != nil {
			return err
		}
		leaf, err := s.nodes.GetByID(inner, chatID, leafID)
		if err != nil {
			return err
		}
		return s.rewireAncestors(inner, chatID, leaf)
	})
	s.observe(m, err)
	if err != nil {
		return err
	}
	s.cache.Invalidate(chatID.String())
	s.notify.ChatUpdated(chatID, now, OpSwitch, leafID)
	return nil
}

// rewireAncestors walks from start to the root, pointing each ancestor's active index at the
// node visited before it. A missing parent or a parent that does not list the child ends the walk
// and keeps what was already rewired.
func (s *chatTreeService) rewireAncestors(dbc dbctx.Context, chatID uuid.UUID, start *types.ChatNode) error {
	cur := start
	seen := map[uuid.UUID]bool{cur.ID: true}
	for cur.ParentID != nil {
		parent, err := s.nodes.GetByID(dbc, chatID, *cur.ParentID)
		if err != nil {
			if apperrors.IsNotFound(err) {
				s.log.Warn("broken ancestor link", "chat_id", chatID, "node_id", cur.ID)
				return nil
			}
			return err
		}
		if seen[parent.ID] {
			s.log.Warn("ancestor cycle", "chat_id", chatID, "node_id", parent.ID)
			return nil
		}
		seen[parent.ID] = true

		pos := -1
		for i, c := range parent.Children() {
			if c == cur.ID {
				pos = i
				break
			}
		}
		if pos < 0 {
			s.log.Warn("parent does not list child", "chat_id", chatID, "parent_id", parent.ID, "node_id", cur.ID)
			return nil
		}
		if parent.ActiveChildIndex == nil || *parent.ActiveChildIndex != pos {
			if err := s.nodes.UpdateFields(dbc, chatID, parent.ID, map[string]interface{}{
				"active_child_index": pos,
			}); err != nil {
				return err
			}
		}
		cur = parent
	}
	return nil
}

type mutation struct {
	op    string
	start time.Time
	span  trace.Span
}

// begin opens the mutation span and threads its context through dbc.
func (s *chatTreeService) begin(dbc *dbctx.Context, op string, chatID uuid.UUID) mutation {
	ctx, span := observability.StartSpan(ctxutil.Default(dbc.Ctx), "ChatTree."+op,
		attribute.String("chat_id", chatID.String()))
	dbc.Ctx = ctx
	return mutation{op: op, start: time.Now(), span: span}
}

func (s *chatTreeService) observe(m mutation, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case apperrors.IsValidation(err):
		outcome = "validation"
	case apperrors.IsConflict(err):
		outcome = "conflict"
	case apperrors.IsNotFound(err):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	observability.Current().ObserveTreeMutation(m.op, outcome, time.Since(m.start))
	observability.EndSpan(m.span, outcome, err, outcome == "error")
}

func (s *chatTreeService) Invalidate(chatID uuid.UUID) {
	s.cache.Invalidate(chatID.String())
}
