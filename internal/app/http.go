package app

import (
	"database/sql"

	bchttp "github.com/yungbote/branchchat-backend/internal/http"
	httpH "github.com/yungbote/branchchat-backend/internal/http/handlers"
	httpMW "github.com/yungbote/branchchat-backend/internal/http/middleware"
	"github.com/yungbote/branchchat-backend/internal/observability"
	"github.com/yungbote/branchchat-backend/internal/platform/logger"
	"github.com/yungbote/branchchat-backend/internal/realtime"
)

type Handlers struct {
	Chat     *httpH.ChatHandler
	Realtime *httpH.RealtimeHandler
	Speaker  *httpH.SpeakerHandler
	Setting  *httpH.SettingHandler
	Health   *httpH.HealthHandler
}

func wireHandlers(log *logger.Logger, svcs Services, hub *realtime.SSEHub, sqlDB *sql.DB) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Chat:     httpH.NewChatHandler(svcs.ChatTree),
		Realtime: httpH.NewRealtimeHandler(log, hub),
		Speaker:  httpH.NewSpeakerHandler(svcs.Speakers),
		Setting:  httpH.NewSettingHandler(svcs.Settings),
		Health:   httpH.NewHealthHandler(sqlDB),
	}
}

func wireServer(log *logger.Logger, cfg Config, h Handlers, metrics *observability.Metrics) *bchttp.Server {
	var auth *httpMW.AuthMiddleware
	if cfg.JWTSecret != "" {
		auth = httpMW.NewAuthMiddleware(log, cfg.JWTSecret)
	} else {
		log.Warn("API_JWT_SECRET not set, API is unauthenticated")
	}
	traceService := ""
	if cfg.Otel.Enabled {
		traceService = cfg.Otel.ServiceName
	}
	return bchttp.NewServer(bchttp.RouterConfig{
		Log:             log,
		AuthMiddleware:  auth,
		Metrics:         metrics,
		CORSOrigins:     cfg.CORSOrigins,
		TraceService:    traceService,
		ChatHandler:     h.Chat,
		RealtimeHandler: h.Realtime,
		SpeakerHandler:  h.Speaker,
		SettingHandler:  h.Setting,
		HealthHandler:   h.Health,
	})
}
