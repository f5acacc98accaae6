package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blocker marks quizzes being played in Redis so daemons on other processes
// skip their sync. The TTL releases blocks left by crashed players.
type Blocker struct {
	client *redis.Client
	siteID string
	ttl    time.Duration
}

func NewBlocker(client *redis.Client, siteID string, ttl time.Duration) *Blocker {
	return &Blocker{client: client, siteID: siteID, ttl: ttl}
}

func (b *Blocker) Block(ctx context.Context, quizID int64) error {
	key := b.key(quizID)
	pipe := b.client.TxPipeline()
	pipe.Incr(ctx, key)
	if b.ttl > 0 {
		pipe.Expire(ctx, key, b.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

var unblockScript = redis.NewScript(`
local n = redis.call("DECR", KEYS[1])
if n <= 0 then
	redis.call("DEL", KEYS[1])
end
return n
`)

func (b *Blocker) Unblock(ctx context.Context, quizID int64) error {
	return unblockScript.Run(ctx, b.client, []string{b.key(quizID)}).Err()
}

// Refresh restarts the TTL of a held block. A released block stays released.
func (b *Blocker) Refresh(ctx context.Context, quizID int64) error {
	if b.ttl <= 0 {
		return nil
	}
	return b.client.PExpire(ctx, b.key(quizID), b.ttl).Err()
}

// RefreshInterval is how often players should refresh their blocks.
func (b *Blocker) RefreshInterval() time.Duration {
	return b.ttl / 3
}

func (b *Blocker) IsBlocked(ctx context.Context, quizID int64) (bool, error) {
	n, err := b.client.Get(ctx, b.key(quizID)).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *Blocker) key(quizID int64) string {
	return "quiz:block:" + b.siteID + ":" + strconv.FormatInt(quizID, 10)
}
