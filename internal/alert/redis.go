package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresmejia3/lenswatch/internal/types"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel alerts are published on.
const DefaultChannel = "lenswatch:alerts"

// RedisDispatcher publishes alerts for other processes (a phone companion, a dashboard) and keeps
// the latest one under a per-session key so late joiners can read it.
type RedisDispatcher struct {
	redis     *redis.Client
	sessionID string
	channel   string
	ttl       time.Duration
	now       func() time.Time
}

// NewRedisDispatcher publishes on channel ("" means DefaultChannel). The last-alert key expires after
// ttl (0 means ten minutes).
func NewRedisDispatcher(client *redis.Client, sessionID, channel string, ttl time.Duration) *RedisDispatcher {
	if channel == "" {
		channel = DefaultChannel
	}
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &RedisDispatcher{redis: client, sessionID: sessionID, channel: channel, ttl: ttl, now: time.Now}
}

// LastAlertKey is where the newest alert of a session is kept.
func LastAlertKey(sessionID string) string {
	return fmt.Sprintf("lenswatch:session:%s:last_alert", sessionID)
}

func (d *RedisDispatcher) Dispatch(ctx context.Context, r types.DetectionResult) error {
	payload, err := json.Marshal(NewEvent(d.sessionID, r, d.now()))
	if err != nil {
		return err
	}

	pipe := d.redis.Pipeline()
	pipe.Publish(ctx, d.channel, payload)
	pipe.Set(ctx, LastAlertKey(d.sessionID), payload, d.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis alert publish failed: %w", err)
	}
	return nil
}
