package app

import (
	"strings"

	"github.com/yungbote/branchchat-backend/internal/platform/logger"
	"github.com/yungbote/branchchat-backend/internal/realtime/bus"
)

type Clients struct {
	// Bus is redis pub/sub when REDIS_ADDR is set, otherwise an in-process bus.
	Bus bus.Bus
}

func wireClients(cfg Config, log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		log.Info("REDIS_ADDR not set, using in-process event bus")
		return Clients{Bus: bus.NewLocalBus()}, nil
	}
	b, err := bus.NewRedisBus(log, cfg.Redis)
	if err != nil {
		return Clients{}, err
	}
	log.Info("Redis event bus connected", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	return Clients{Bus: b}, nil
}

func (c Clients) Close() {
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
}
