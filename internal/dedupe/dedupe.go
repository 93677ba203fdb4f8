// Package dedupe suppresses redelivered alerts at ingestion. Idempotency is
// keyed by (sourceSystem, sourceAlertID) within the retention window.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper records first-seen alerts and reports redeliveries.
type Deduper interface {
	// CheckAndRecord registers alertID for the given source identity. If the
	// identity was already recorded within the retention window, it returns
	// the original alert ID and true; otherwise it records and returns
	// (alertID, false).
	CheckAndRecord(ctx context.Context, sourceSystem, sourceAlertID, alertID string) (string, bool, error)
	Close() error
}

type redisDeduper struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisDeduper connects to Redis and returns a Deduper backed by it.
func NewRedisDeduper(redisURL string, retention time.Duration) (Deduper, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisDeduperWithClient(client, retention), nil
}

// NewRedisDeduperWithClient wraps an existing client (used by tests).
func NewRedisDeduperWithClient(client *redis.Client, retention time.Duration) Deduper {
	return &redisDeduper{client: client, retention: retention}
}

func (d *redisDeduper) CheckAndRecord(ctx context.Context, sourceSystem, sourceAlertID, alertID string) (string, bool, error) {
	key := dedupeKey(sourceSystem, sourceAlertID)

	// SET NX records the first delivery atomically; a losing writer reads
	// back the winner's alert ID.
	set, err := d.client.SetNX(ctx, key, alertID, d.retention).Result()
	if err != nil {
		return "", false, fmt.Errorf("dedupe check failed: %w", err)
	}
	if set {
		return alertID, false, nil
	}

	existing, err := d.client.Get(ctx, key).Result()
	if err != nil {
		// The key may have expired between SETNX and GET; treat the alert
		// as new rather than failing ingestion.
		return alertID, false, nil
	}

	// The pipeline counts the duplicate; this layer only reports it.
	return existing, true, nil
}

func (d *redisDeduper) Close() error {
	return d.client.Close()
}

func dedupeKey(sourceSystem, sourceAlertID string) string {
	return fmt.Sprintf("dedupe:%s:%s", sourceSystem, sourceAlertID)
}

// NoOpDeduper never reports duplicates (for testing or disabled dedupe).
type NoOpDeduper struct{}

func (NoOpDeduper) CheckAndRecord(_ context.Context, _, _, alertID string) (string, bool, error) {
	return alertID, false, nil
}

func (NoOpDeduper) Close() error { return nil }
