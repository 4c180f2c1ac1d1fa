package app

import (
	"strings"
	"time"

	"github.com/yungbote/branchchat-backend/internal/chat/cache"
	"github.com/yungbote/branchchat-backend/internal/data/db"
	"github.com/yungbote/branchchat-backend/internal/observability"
	"github.com/yungbote/branchchat-backend/internal/platform/envutil"
	"github.com/yungbote/branchchat-backend/internal/platform/logger"
	"github.com/yungbote/branchchat-backend/internal/realtime/bus"
)

type Config struct {
	Port            string
	ShutdownTimeout time.Duration

	DB    db.Options
	Redis bus.RedisConfig

	ChatCacheCapacity int
	JWTSecret         string
	CORSOrigins       []string
	SeedFile          string

	MetricsEnabled bool
	MetricsAddr    string
	Otel           observability.OtelConfig
}

func LoadConfig(log *logger.Logger) Config {
	capacity := envutil.Int("CHAT_CACHE_CAPACITY", cache.DefaultCapacity, log)
	if capacity <= 0 {
		log.Warn("CHAT_CACHE_CAPACITY must be positive, using default", "provided", capacity, "default", cache.DefaultCapacity)
		capacity = cache.DefaultCapacity
	}
	return Config{
		Port:            envutil.String("PORT", "8080", log),
		ShutdownTimeout: envutil.Duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		DB:              db.OptionsFromEnv(log),
		Redis: bus.RedisConfig{
			Addr:     envutil.String("REDIS_ADDR", "", log),
			Password: envutil.String("REDIS_PASSWORD", "", nil),
			DB:       envutil.Int("REDIS_DB", 0, log),
			Channel:  envutil.String("REDIS_CHANNEL", "branchchat:sse", log),
		},
		ChatCacheCapacity: capacity,
		JWTSecret:         envutil.String("API_JWT_SECRET", "", nil),
		CORSOrigins:       splitList(envutil.String("CORS_ORIGINS", "", log)),
		SeedFile:          envutil.String("SEED_FILE", "", log),
		MetricsEnabled:    envutil.Bool("METRICS_ENABLED", true),
		MetricsAddr:       envutil.String("METRICS_ADDR", "", log),
		Otel: observability.OtelConfig{
			Enabled:     envutil.Bool("OTEL_ENABLED", false),
			ServiceName: envutil.String("OTEL_SERVICE_NAME", "branchchat-api", log),
			Environment: envutil.String("OTEL_ENVIRONMENT", "development", log),
			Version:     envutil.String("OTEL_SERVICE_VERSION", "dev", log),
			Endpoint:    envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", "", log),
			Insecure:    envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio: float64(envutil.Int("OTEL_SAMPLE_PERCENT", 100, log)) / 100,
		},
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
