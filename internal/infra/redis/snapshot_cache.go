// Package redis caches question snapshots so repeated room creations for
// the same activity skip the database.
package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"classbland-live/internal/domain"
	"classbland-live/internal/live"
)

// SnapshotCache stores the ingested snapshot list as one JSON value:
// SET activity:{activityID}:snapshots {json} EX ttl
// Snapshots are already unified at ingestion, so the cached form is the
// exact value handed to rooms.
type SnapshotCache struct {
	client *redis.Client
	source live.SnapshotSource
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewSnapshotCache(client *redis.Client, source live.SnapshotSource, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		client: client,
		source: source,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *SnapshotCache) Snapshots(ctx context.Context, activityID string) ([]domain.QuestionSnapshot, error) {
	key := c.key(activityID)

	if snapshots, ok := c.fromCache(ctx, key); ok {
		return snapshots, nil
	}

	result, err, _ := c.sf.Do(activityID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if snapshots, ok := c.fromCache(ctx, key); ok {
			return snapshots, nil
		}

		snapshots, err := c.source.Snapshots(ctx, activityID)
		if err != nil {
			return nil, err
		}

		if data, err := json.Marshal(snapshots); err == nil {
			_ = c.client.Set(ctx, key, data, c.ttlWithJitter()).Err()
		}
		return snapshots, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.QuestionSnapshot), nil
}

func (c *SnapshotCache) fromCache(ctx context.Context, key string) ([]domain.QuestionSnapshot, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var snapshots []domain.QuestionSnapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		return nil, false
	}
	return snapshots, true
}

func (c *SnapshotCache) key(activityID string) string {
	return "activity:" + activityID + ":snapshots"
}

func (c *SnapshotCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
