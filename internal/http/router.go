package http

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/branchchat-backend/internal/http/handlers"
	httpMW "github.com/yungbote/branchchat-backend/internal/http/middleware"
	"github.com/yungbote/branchchat-backend/internal/observability"
	"github.com/yungbote/branchchat-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	AuthMiddleware *httpMW.AuthMiddleware
	Metrics        *observability.Metrics
	CORSOrigins    []string
	// TraceService enables otelgin spans when set.
	TraceService string

	ChatHandler     *httpH.ChatHandler
	RealtimeHandler *httpH.RealtimeHandler
	SpeakerHandler  *httpH.SpeakerHandler
	SettingHandler  *httpH.SettingHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if svc := strings.TrimSpace(cfg.TraceService); svc != "" {
		r.Use(otelgin.Middleware(svc))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", func(c *gin.Context) { cfg.Metrics.WriteHTTP(c.Writer, c.Request) })
	}

	api := r.Group("/api")
	if cfg.AuthMiddleware != nil {
		api.Use(cfg.AuthMiddleware.RequireAuth())
	}

	// Chats and the message tree
	if cfg.ChatHandler != nil {
		api.POST("/chats", cfg.ChatHandler.CreateChat)
		api.GET("/chats", cfg.ChatHandler.ListChats)
		api.GET("/chats/:id", cfg.ChatHandler.GetChat)
		api.DELETE("/chats/:id", cfg.ChatHandler.DeleteChat)
		api.POST("/chats/:id/nodes", cfg.ChatHandler.AppendNode)
		api.PATCH("/chats/:id/nodes/:node_id", cfg.ChatHandler.EditNode)
		api.DELETE("/chats/:id/nodes/:node_id", cfg.ChatHandler.DeleteNode)
		api.POST("/chats/:id/switch", cfg.ChatHandler.SwitchBranch)
	}

	// Realtime (SSE)
	if cfg.RealtimeHandler != nil {
		api.GET("/chats/:id/events", cfg.RealtimeHandler.ChatEvents)
	}

	if cfg.SpeakerHandler != nil {
		api.GET("/speakers", cfg.SpeakerHandler.ListSpeakers)
		api.POST("/speakers", cfg.SpeakerHandler.CreateSpeaker)
		api.PATCH("/speakers/:id", cfg.SpeakerHandler.UpdateSpeaker)
		api.DELETE("/speakers/:id", cfg.SpeakerHandler.DeleteSpeaker)
	}

	if cfg.SettingHandler != nil {
		api.GET("/settings", cfg.SettingHandler.ListSettings)
		api.GET("/settings/:key", cfg.SettingHandler.GetSetting)
		api.PUT("/settings/:key", cfg.SettingHandler.PutSetting)
	}

	return r
}
