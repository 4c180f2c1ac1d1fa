package realtime

import (
	"github.com/google/uuid"

	"github.com/yungbote/branchchat-backend/internal/platform/logger"
)

// SSEClient is one open events stream. Channels are chat channels plus the shared meta channel.
type SSEClient struct {
	ID       uuid.UUID
	Channels map[string]bool
	Outbound chan SSEMessage
	done     chan struct{}
	Logger   *logger.Logger
}
