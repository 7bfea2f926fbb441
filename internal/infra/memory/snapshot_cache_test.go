package memory

import (
	"context"
	"testing"
	"time"

	"classbland-live/internal/domain"
	"classbland-live/internal/live"
)

func TestSnapshotCacheCaches(t *testing.T) {
	source := &countingSource{
		SnapshotSource: NewStaticSnapshots(map[string][]domain.QuestionSnapshot{
			"act-1": sampleSnapshots(),
		}),
	}
	cache := NewSnapshotCache(source, time.Minute)

	if _, err := cache.Snapshots(context.Background(), "act-1"); err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected source hit once, got %d", source.calls)
	}

	if _, err := cache.Snapshots(context.Background(), "act-1"); err != nil {
		t.Fatalf("snapshots 2: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected cache hit, source calls %d", source.calls)
	}
}

func TestSnapshotCacheUnknownActivity(t *testing.T) {
	cache := NewSnapshotCache(NewStaticSnapshots(nil), time.Minute)
	if _, err := cache.Snapshots(context.Background(), "missing"); err != domain.ErrActivityNotFound {
		t.Fatalf("expected ErrActivityNotFound, got %v", err)
	}
}

type countingSource struct {
	live.SnapshotSource
	calls int
}

func (s *countingSource) Snapshots(ctx context.Context, activityID string) ([]domain.QuestionSnapshot, error) {
	s.calls++
	return s.SnapshotSource.Snapshots(ctx, activityID)
}

func sampleSnapshots() []domain.QuestionSnapshot {
	return []domain.QuestionSnapshot{
		{
			ID:              "q1",
			Type:            domain.TypeSingleChoice,
			Prompt:          "What is 2 + 2?",
			Options:         []string{"3", "4"},
			AcceptedIndexes: []int{1},
			TimeLimit:       10,
		},
	}
}
