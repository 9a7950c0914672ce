package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"coinpaper/internal/domain"

	"github.com/redis/go-redis/v9"
)

// Publisher mirrors the latest ticker per instrument into Redis so other
// local tools can read current prices without their own feed subscription.
// Entirely optional; the facade works without it.
type Publisher struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects a publisher to the given Redis address.
func New(addr string, ttl time.Duration) *Publisher {
	return &Publisher{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ttl: ttl,
	}
}

// PublishTicker writes the ticker under "ticker:<code>" with a TTL. Failures
// are logged and swallowed; the cache is best-effort.
func (p *Publisher) PublishTicker(ctx context.Context, t domain.TickerSnapshot) {
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := p.rdb.Set(ctx, "ticker:"+t.Code, data, p.ttl).Err(); err != nil {
		slog.Debug("ticker cache write failed", "code", t.Code, "err", err)
	}
}

// Ping verifies connectivity at startup.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Close releases the client.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
