package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupeTTL is how long a delivered fingerprint is remembered.
const DefaultDedupeTTL = 72 * time.Hour

// Dedupe passes a notification on to Next only the first time its
// fingerprint is seen within TTL. Fingerprints are kept in Redis so several
// processes share them. If Redis is unreachable the notification is
// delivered anyway.
type Dedupe struct {
	client *redis.Client
	next   Sink
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewDedupe wraps next. A zero ttl uses DefaultDedupeTTL.
func NewDedupe(client *redis.Client, next Sink, ttl time.Duration, logger *slog.Logger) *Dedupe {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dedupe{
		client: client,
		next:   next,
		ttl:    ttl,
		prefix: "svezina:notified:",
		logger: logger,
	}
}

// Deliver forwards the notification unless it was delivered recently.
func (d *Dedupe) Deliver(ctx context.Context, title, body, dedupeKey string) error {
	key := d.prefix + Fingerprint(dedupeKey, title, body)

	fresh, err := d.client.SetNX(ctx, key, time.Now().Unix(), d.ttl).Result()
	if err != nil {
		d.logger.Warn("dedupe store unavailable, delivering anyway", "key", dedupeKey, "error", err)
		return d.next.Deliver(ctx, title, body, dedupeKey)
	}
	if !fresh {
		d.logger.Debug("notification already delivered", "key", dedupeKey)
		return nil
	}

	if err := d.next.Deliver(ctx, title, body, dedupeKey); err != nil {
		// Forget the marker so a retry can deliver.
		if derr := d.client.Del(context.WithoutCancel(ctx), key).Err(); derr != nil {
			d.logger.Warn("releasing dedupe marker", "key", dedupeKey, "error", derr)
		}
		return err
	}
	return nil
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return client, nil
}
