package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"classbland-live/internal/domain"
	"classbland-live/internal/live"
)

// SnapshotCache caches question snapshots per activity with a TTL to avoid
// hitting the backing store on every room creation.
type SnapshotCache struct {
	source live.SnapshotSource
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedSnapshots
}

type cachedSnapshots struct {
	snapshots []domain.QuestionSnapshot
	expiresAt time.Time
}

func NewSnapshotCache(source live.SnapshotSource, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		source: source,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedSnapshots),
	}
}

func (c *SnapshotCache) Snapshots(ctx context.Context, activityID string) ([]domain.QuestionSnapshot, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[activityID]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.snapshots, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(activityID, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[activityID]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.snapshots, nil
		}
		c.mu.RUnlock()

		snapshots, err := c.source.Snapshots(ctx, activityID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cache[activityID] = cachedSnapshots{
			snapshots: snapshots,
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return snapshots, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.QuestionSnapshot), nil
}

func (c *SnapshotCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticSnapshots serves snapshots from a fixed map (tests and demos).
type StaticSnapshots struct {
	activities map[string][]domain.QuestionSnapshot
}

func NewStaticSnapshots(activities map[string][]domain.QuestionSnapshot) *StaticSnapshots {
	return &StaticSnapshots{activities: activities}
}

func (s *StaticSnapshots) Snapshots(_ context.Context, activityID string) ([]domain.QuestionSnapshot, error) {
	if snapshots, ok := s.activities[activityID]; ok {
		return snapshots, nil
	}
	return nil, domain.ErrActivityNotFound
}
