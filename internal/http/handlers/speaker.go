package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/branchchat-backend/internal/http/response"
	"github.com/yungbote/branchchat-backend/internal/pkg/dbctx"
	"github.com/yungbote/branchchat-backend/internal/pkg/pointers"
	"github.com/yungbote/branchchat-backend/internal/services"
)

type SpeakerHandler struct {
	speakers services.SpeakerService
}

func NewSpeakerHandler(speakers services.SpeakerService) *SpeakerHandler {
	return &SpeakerHandler{speakers: speakers}
}

type speakerReq struct {
	Name   *string `json:"name"`
	Avatar *string `json:"avatar"`
	Color  *string `json:"color"`
	IsUser *bool   `json:"is_user"`
}


// GET /api/speakers
func (h *SpeakerHandler) ListSpeakers(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	all, err := h.speakers.List(dbc)
	if err != nil {
		response.RespondErr(c, err, "list_speakers_failed")
		return
	}
	response.RespondOK(c, gin.H{"speakers": all})
}

// POST /api/speakers
func (h *SpeakerHandler) CreateSpeaker(c *gin.Context) {
	var req speakerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	sp, err := h.speakers.Create(dbc, services.SpeakerInput{
		Name:   pointers.Deref(req.Name),
		Avatar: pointers.Deref(req.Avatar),
		Color:  pointers.Deref(req.Color),
		IsUser: pointers.Deref(req.IsUser),
	})
	if err != nil {
		response.RespondErr(c, err, "create_speaker_failed")
		return
	}
	response.RespondCreated(c, gin.H{"speaker": sp})
}

// PATCH /api/speakers/:id
func (h *SpeakerHandler) UpdateSpeaker(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req speakerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	sp, err := h.speakers.Update(dbc, id, services.SpeakerPatch{
		Name:   req.Name,
		Avatar: req.Avatar,
		Color:  req.Color,
		IsUser: req.IsUser,
	})
	if err != nil {
		response.RespondErr(c, err, "update_speaker_failed")
		return
	}
	response.RespondOK(c, gin.H{"speaker": sp})
}

// DELETE /api/speakers/:id
func (h *SpeakerHandler) DeleteSpeaker(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	if err := h.speakers.Delete(dbc, id); err != nil {
		response.RespondErr(c, err, "delete_speaker_failed")
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}
