package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"classbland-live/internal/domain"
	"classbland-live/internal/infra/memory"
	"classbland-live/internal/live"
)

func TestSnapshotCacheCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	source := &countingSource{
		inner: memory.NewStaticSnapshots(map[string][]domain.QuestionSnapshot{
			"act-1": sampleSnapshots(),
		}),
	}
	cache := NewSnapshotCache(newClient(mr), source, time.Minute)

	first, err := cache.Snapshots(context.Background(), "act-1")
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected source called once, got %d", source.calls)
	}
	if len(first) != 1 || first[0].ID != "q1" {
		t.Fatalf("unexpected snapshots: %+v", first)
	}

	// Second call should hit cache, source not incremented.
	second, err := cache.Snapshots(context.Background(), "act-1")
	if err != nil {
		t.Fatalf("snapshots (cached): %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected cache hit, source calls=%d", source.calls)
	}
	if len(second) != 1 || len(second[0].AcceptedIndexes) != 1 || second[0].AcceptedIndexes[0] != 1 {
		t.Fatalf("cached snapshots lost accepted indexes: %+v", second)
	}
}

func TestSnapshotCachePropagatesSourceError(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	source := &countingSource{inner: memory.NewStaticSnapshots(nil)}
	cache := NewSnapshotCache(newClient(mr), source, time.Minute)

	if _, err := cache.Snapshots(context.Background(), "missing"); err != domain.ErrActivityNotFound {
		t.Fatalf("expected ErrActivityNotFound, got %v", err)
	}
}

type countingSource struct {
	inner live.SnapshotSource
	calls int
}

func (s *countingSource) Snapshots(ctx context.Context, activityID string) ([]domain.QuestionSnapshot, error) {
	s.calls++
	return s.inner.Snapshots(ctx, activityID)
}

func sampleSnapshots() []domain.QuestionSnapshot {
	return []domain.QuestionSnapshot{
		{
			ID:              "q1",
			Type:            domain.TypeSingleChoice,
			Prompt:          "What is 2 + 2?",
			Options:         []string{"3", "4", "5"},
			AcceptedIndexes: []int{1},
			TimeLimit:       30,
			QuestionIndex:   0,
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
