package handlers

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/branchchat-backend/internal/chat/cache"
	"github.com/yungbote/branchchat-backend/internal/chat/tree"
	"github.com/yungbote/branchchat-backend/internal/http/response"
	"github.com/yungbote/branchchat-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/branchchat-backend/internal/pkg/errors"
	"github.com/yungbote/branchchat-backend/internal/services"
)

type ChatHandler struct {
	chats services.ChatTreeService
}

func NewChatHandler(chats services.ChatTreeService) *ChatHandler {
	return &ChatHandler{chats: chats}
}

type createChatReq struct {
	Name       string      `json:"name"`
	SpeakerIDs []uuid.UUID `json:"speaker_ids"`
}

// ChatTreeView is the GET /api/chats/:id payload.
type ChatTreeView struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	SpeakerIDs []string    `json:"speaker_ids"`
	UpdatedAt  time.Time   `json:"updated_at"`
	RootID     string      `json:"root_id,omitempty"`
	TailID     string      `json:"tail_id,omitempty"`
	ActivePath []string    `json:"active_path"`
	Nodes      []tree.Node `json:"nodes"`
}

func newChatTreeView(e *cache.ChatEntry) ChatTreeView {
	v := ChatTreeView{
		ID:         e.ChatID,
		Name:       e.Name,
		SpeakerIDs: e.SpeakerIDs,
		UpdatedAt:  e.UpdatedAt,
		RootID:     e.RootID,
		TailID:     e.TailID,
		ActivePath: e.ActivePath,
		Nodes:      make([]tree.Node, 0, len(e.Nodes)),
	}
	if v.SpeakerIDs == nil {
		v.SpeakerIDs = []string{}
	}
	if v.ActivePath == nil {
		v.ActivePath = []string{}
	}
	for _, n := range e.Nodes {
		v.Nodes = append(v.Nodes, n)
	}
	sort.Slice(v.Nodes, func(i, j int) bool {
		if !v.Nodes[i].CreatedAt.Equal(v.Nodes[j].CreatedAt) {
			return v.Nodes[i].CreatedAt.Before(v.Nodes[j].CreatedAt)
		}
		return v.Nodes[i].ID < v.Nodes[j].ID
	})
	return v
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_"+param, err)
		return uuid.Nil, false
	}
	return id, true
}

// POST /api/chats
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req createChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	chat, err := h.chats.CreateChat(dbc, services.CreateChatInput{Name: req.Name, SpeakerIDs: req.SpeakerIDs})
	if err != nil {
		response.RespondErr(c, err, "create_chat_failed")
		return
	}
	response.RespondCreated(c, gin.H{"chat": chat})
}

// GET /api/chats?limit=50
func (h *ChatHandler) ListChats(c *gin.Context) {
	limit := 50
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	chats, err := h.chats.ListChats(dbc, limit)
	if err != nil {
		response.RespondErr(c, err, "list_chats_failed")
		return
	}
	response.RespondOK(c, gin.H{"chats": chats})
}

// GET /api/chats/:id
func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID, ok := parseID(c, "id")
	if !ok {
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	entry, err := h.chats.GetTree(dbc, chatID)
	if err != nil {
		response.RespondErr(c, err, "get_chat_failed")
		return
	}
	response.RespondOK(c, gin.H{"chat": newChatTreeView(entry)})
}

// DELETE /api/chats/:id
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	chatID, ok := parseID(c, "id")
	if !ok {
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	if err := h.chats.DeleteChat(dbc, chatID); err != nil {
		response.RespondErr(c, err, "delete_chat_failed")
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

type appendNodeReq struct {
	ParentID  *string    `json:"parent_id"`
	Content   string     `json:"content"`
	SpeakerID string     `json:"speaker_id"`
	IsBot     bool       `json:"is_bot"`
	CreatedAt *time.Time `json:"created_at"`
	ClientID  *string    `json:"client_id"`
}

// POST /api/chats/:id/nodes
func (h *ChatHandler) AppendNode(c *gin.Context) {
	chatID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req appendNodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	in := services.AppendInput{
		Content:   req.Content,
		IsBot:     req.IsBot,
		CreatedAt: req.CreatedAt,
		ClientID:  req.ClientID,
	}
	if req.ParentID != nil && strings.TrimSpace(*req.ParentID) != "" {
		pid, err := uuid.Parse(strings.TrimSpace(*req.ParentID))
		if err != nil {
			response.RespondErr(c, apperrors.Validation("malformed parent_id"), "append_failed")
			return
		}
		in.ParentID = &pid
	}
	if strings.TrimSpace(req.SpeakerID) == "" {
		response.RespondErr(c, apperrors.Validation("missing speaker_id"), "append_failed")
		return
	}
	sid, err := uuid.Parse(strings.TrimSpace(req.SpeakerID))
	if err != nil {
		response.RespondErr(c, apperrors.Validation("malformed speaker_id"), "append_failed")
		return
	}
	in.SpeakerID = sid

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	res, err := h.chats.Append(dbc, chatID, in)
	if err != nil {
		response.RespondErr(c, err, "append_failed")
		return
	}
	response.RespondCreated(c, res)
}

type editNodeReq struct {
	Content *string `json:"content"`
}

// PATCH /api/chats/:id/nodes/:node_id
func (h *ChatHandler) EditNode(c *gin.Context) {
	chatID, ok := parseID(c, "id")
	if !ok {
		return
	}
	nodeID, ok := parseID(c, "node_id")
	if !ok {
		return
	}
	var req editNodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.Content == nil {
		response.RespondErr(c, apperrors.Validation("missing content"), "edit_failed")
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	if err := h.chats.Edit(dbc, chatID, nodeID, *req.Content); err != nil {
		response.RespondErr(c, err, "edit_failed")
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// DELETE /api/chats/:id/nodes/:node_id
func (h *ChatHandler) DeleteNode(c *gin.Context) {
	chatID, ok := parseID(c, "id")
	if !ok {
		return
	}
	nodeID, ok := parseID(c, "node_id")
	if !ok {
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	removed, err := h.chats.Delete(dbc, chatID, nodeID)
	if err != nil {
		response.RespondErr(c, err, "delete_failed")
		return
	}
	response.RespondOK(c, gin.H{"ok": true, "removed": removed})
}

type switchBranchReq struct {
	TargetLeafID string `json:"target_leaf_id"`
}

// POST /api/chats/:id/switch
func (h *ChatHandler) SwitchBranch(c *gin.Context) {
	chatID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req switchBranchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	leafID, err := uuid.Parse(strings.TrimSpace(req.TargetLeafID))
	if err != nil {
		response.RespondErr(c, apperrors.Validation("malformed target_leaf_id"), "switch_failed")
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	if err := h.chats.SwitchBranch(dbc, chatID, leafID); err != nil {
		response.RespondErr(c, err, "switch_failed")
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}
