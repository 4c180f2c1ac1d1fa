package app

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/yungbote/branchchat-backend/internal/data/db"
	bchttp "github.com/yungbote/branchchat-backend/internal/http"
	"github.com/yungbote/branchchat-backend/internal/observability"
	"github.com/yungbote/branchchat-backend/internal/pkg/dbctx"
	"github.com/yungbote/branchchat-backend/internal/platform/logger"
	"github.com/yungbote/branchchat-backend/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    Repos
	Clients  Clients
	Services Services
	Handlers Handlers
	Server   *bchttp.Server
	SSEHub   *realtime.SSEHub
	Metrics  *observability.Metrics

	dbService    *db.Service
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	otelShutdown := observability.InitOTel(context.Background(), log, cfg.Otel)
	metrics := observability.Init(log, cfg.MetricsEnabled)

	dbService, err := db.Open(log, cfg.DB)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init db: %w", err)
	}
	if err := dbService.AutoMigrateAll(); err != nil {
		_ = dbService.Close()
		log.Sync()
		return nil, fmt.Errorf("db automigrate: %w", err)
	}
	theDB := dbService.DB()
	sqlDB, err := theDB.DB()
	if err != nil {
		_ = dbService.Close()
		log.Sync()
		return nil, fmt.Errorf("db handle: %w", err)
	}

	clients, err := wireClients(cfg, log)
	if err != nil {
		_ = dbService.Close()
		log.Sync()
		return nil, fmt.Errorf("init clients: %w", err)
	}

	hub := realtime.NewSSEHub(log)
	reposet := wireRepos(theDB, log)
	serviceset := wireServices(theDB, log, cfg, reposet, clients)
	handlerset := wireHandlers(log, serviceset, hub, sqlDB)
	server := wireServer(log, cfg, handlerset, metrics)

	a := &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Repos:        reposet,
		Clients:      clients,
		Services:     serviceset,
		Handlers:     handlerset,
		Server:       server,
		SSEHub:       hub,
		Metrics:      metrics,
		dbService:    dbService,
		otelShutdown: otelShutdown,
	}
	a.registerGauges()

	if cfg.SeedFile != "" {
		seed, err := LoadSeed(cfg.SeedFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		if _, _, err := ApplySeed(dbctx.Context{Ctx: context.Background()}, log, seed, serviceset.Speakers, serviceset.Settings); err != nil {
			a.Close()
			return nil, err
		}
	}
	if err := serviceset.Speakers.CheckUserSpeaker(dbctx.Context{Ctx: context.Background()}); err != nil {
		// The API still serves; clients cannot resolve the "user" speaker until this is fixed.
		log.Warn("Speaker configuration problem", "error", err)
	}
	return a, nil
}

func (a *App) registerGauges() {
	if a.Metrics == nil {
		return
	}
	chats := a.Services.ChatCache
	a.Metrics.RegisterGauge("bc_chat_cache_entries", "Chats resident in the tree cache.", func() float64 {
		return float64(chats.Stats().Len)
	})
	a.Metrics.RegisterGauge("bc_chat_cache_hits", "Tree cache hits since start.", func() float64 {
		return float64(chats.Stats().Hits)
	})
	a.Metrics.RegisterGauge("bc_chat_cache_misses", "Tree cache misses since start.", func() float64 {
		return float64(chats.Stats().Misses)
	})
	a.Metrics.RegisterGauge("bc_chat_cache_evictions", "Tree cache evictions since start.", func() float64 {
		return float64(chats.Stats().Evictions)
	})
	rt := a.Handlers.Realtime
	a.Metrics.RegisterGauge("bc_sse_clients", "Open SSE event streams.", func() float64 {
		return float64(rt.Open())
	})
}

// Start attaches the bus forwarder and the metrics listener. Every bus message, including this
// instance's own publishes, reaches the local hub and the cache invalidator.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	inv := a.Services.Invalidator
	hub := a.SSEHub
	if err := a.Clients.Bus.StartForwarder(ctx, func(m realtime.SSEMessage) {
		inv.Handle(m)
		hub.Broadcast(m)
	}); err != nil {
		cancel()
		a.cancel = nil
		return fmt.Errorf("start bus forwarder: %w", err)
	}
	a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
	return nil
}

// Run serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	addr := ":" + a.Cfg.Port
	a.Log.Info("HTTP server listening", "addr", addr)
	return a.Server.Run(ctx, addr, a.Cfg.ShutdownTimeout, a.Handlers.Realtime.CloseAll)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.dbService != nil {
		if err := a.dbService.Close(); err != nil {
			a.Log.Warn("db close failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Cfg.ShutdownTimeout)
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
