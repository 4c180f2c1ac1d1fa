package bus

import (
	"context"

	"github.com/yungbote/branchchat-backend/internal/realtime"
)

// Bus fans SSE messages out to every API instance. Forwarders also receive the instance's own
// publishes, which is how peer caches learn about a mutation.
type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}
