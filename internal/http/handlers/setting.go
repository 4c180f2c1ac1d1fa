package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/branchchat-backend/internal/http/response"
	"github.com/yungbote/branchchat-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/branchchat-backend/internal/pkg/errors"
	"github.com/yungbote/branchchat-backend/internal/services"
)

type SettingHandler struct {
	settings services.SettingService
}

func NewSettingHandler(settings services.SettingService) *SettingHandler {
	return &SettingHandler{settings: settings}
}

// GET /api/settings
func (h *SettingHandler) ListSettings(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	all, err := h.settings.List(dbc)
	if err != nil {
		response.RespondErr(c, err, "list_settings_failed")
		return
	}
	response.RespondOK(c, gin.H{"settings": all})
}

// GET /api/settings/:key
func (h *SettingHandler) GetSetting(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	v, err := h.settings.Get(dbc, key)
	if err != nil {
		response.RespondErr(c, err, "get_setting_failed")
		return
	}
	response.RespondOK(c, gin.H{"key": key, "value": v})
}

// PUT /api/settings/:key
func (h *SettingHandler) PutSetting(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		response.RespondErr(c, apperrors.Validation("missing key"), "put_setting_failed")
		return
	}
	var req struct {
		Value *string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.Value == nil {
		response.RespondErr(c, apperrors.Validation("missing value"), "put_setting_failed")
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	if err := h.settings.Put(dbc, key, *req.Value); err != nil {
		response.RespondErr(c, err, "put_setting_failed")
		return
	}
	response.RespondOK(c, gin.H{"key": key, "value": *req.Value})
}
