package billing

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dedupePrefix     = "billing:event:"
	dedupeProcessing = "processing"
	dedupeDone       = "done"
)

// Deduper makes webhook deliveries of the same event id apply once.
type Deduper interface {
	// Begin claims id. It returns false when another delivery claimed or finished it.
	Begin(ctx context.Context, id string) (bool, error)
	Done(ctx context.Context, id string) error
	// Abort releases a claim so a retried delivery can apply the event.
	Abort(ctx context.Context, id string) error
}

type RedisDeduper struct {
	client  redis.Cmdable
	ttl     time.Duration
	lockTTL time.Duration
}

// NewRedisDeduper remembers finished events for ttl. Claims expire after a
// minute so a crashed delivery does not block retries forever.
func NewRedisDeduper(client redis.Cmdable, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl, lockTTL: time.Minute}
}

func (d *RedisDeduper) Begin(ctx context.Context, id string) (bool, error) {
	return d.client.SetNX(ctx, dedupePrefix+id, dedupeProcessing, d.lockTTL).Result()
}

func (d *RedisDeduper) Done(ctx context.Context, id string) error {
	return d.client.Set(ctx, dedupePrefix+id, dedupeDone, d.ttl).Err()
}

func (d *RedisDeduper) Abort(ctx context.Context, id string) error {
	return d.client.Del(ctx, dedupePrefix+id).Err()
}

// NopDeduper lets every delivery through.
type NopDeduper struct{}

func (NopDeduper) Begin(context.Context, string) (bool, error) { return true, nil }
func (NopDeduper) Done(context.Context, string) error          { return nil }
func (NopDeduper) Abort(context.Context, string) error         { return nil }
