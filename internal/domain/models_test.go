package domain

import (
	"reflect"
	"testing"
)

func TestBuildSnapshotsUnifiesCorrectIndexes(t *testing.T) {
	records := []QuestionRecord{
		{
			ID:           "q1",
			Type:         TypeSingleChoice,
			OptionsJSON:  `["a","b","c"]`,
			CorrectIndex: 2,
		},
		{
			ID:             "q2",
			Type:           TypeMultiChoice,
			OptionsJSON:    `["a","b","c","d"]`,
			CorrectIndex:   0,
			CorrectIndexes: `[1,3,3,9]`,
		},
	}

	snapshots := BuildSnapshots(records, 0)
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snapshots))
	}

	// Legacy single index becomes the accepted set.
	if !reflect.DeepEqual(snapshots[0].AcceptedIndexes, []int{2}) {
		t.Fatalf("q1 accepted = %v", snapshots[0].AcceptedIndexes)
	}
	// The newer array wins over the legacy column; duplicates and
	// out-of-range indexes are dropped.
	if !reflect.DeepEqual(snapshots[1].AcceptedIndexes, []int{1, 3}) {
		t.Fatalf("q2 accepted = %v", snapshots[1].AcceptedIndexes)
	}
	if snapshots[0].QuestionIndex != 0 || snapshots[1].QuestionIndex != 1 {
		t.Fatalf("question indexes not assigned in order")
	}
}

func TestBuildSnapshotsOpenTextHasNoAcceptedIndexes(t *testing.T) {
	snapshots := BuildSnapshots([]QuestionRecord{
		{ID: "q1", Type: TypeOpenText, OptionsJSON: "", CorrectIndex: 0},
	}, 0)
	if snapshots[0].AcceptedIndexes != nil {
		t.Fatalf("open text accepted = %v", snapshots[0].AcceptedIndexes)
	}
}

func TestBuildSnapshotsTimeLimitFallback(t *testing.T) {
	records := []QuestionRecord{
		{ID: "q1", OptionsJSON: `["a","b"]`, CorrectIndex: 0, TimeLimit: 15},
		{ID: "q2", OptionsJSON: `["a","b"]`, CorrectIndex: 0},
	}

	withActivity := BuildSnapshots(records, 45)
	if withActivity[0].TimeLimit != 15 {
		t.Fatalf("question limit ignored: %d", withActivity[0].TimeLimit)
	}
	if withActivity[1].TimeLimit != 45 {
		t.Fatalf("activity fallback not applied: %d", withActivity[1].TimeLimit)
	}

	without := BuildSnapshots(records[1:], 0)
	if without[0].TimeLimit != DefaultTimeLimit {
		t.Fatalf("default fallback not applied: %d", without[0].TimeLimit)
	}
}

func TestBuildSnapshotsDefaultsMissingType(t *testing.T) {
	snapshots := BuildSnapshots([]QuestionRecord{
		{ID: "q1", OptionsJSON: `["a","b"]`, CorrectIndex: 1},
	}, 0)
	if snapshots[0].Type != TypeSingleChoice {
		t.Fatalf("expected SINGLE_CHOICE default, got %s", snapshots[0].Type)
	}
}

func TestForClientStripsAcceptedIndexes(t *testing.T) {
	snap := QuestionSnapshot{
		ID:              "q1",
		Type:            TypeSingleChoice,
		Prompt:          "p",
		Options:         []string{"a", "b"},
		AcceptedIndexes: []int{1},
		TimeLimit:       30,
		QuestionIndex:   3,
	}
	client := snap.ForClient()
	if client.ID != "q1" || client.TimeLimit != 30 || client.QuestionIndex != 3 {
		t.Fatalf("client view lost fields: %+v", client)
	}
	if !snap.Accepts(1) || snap.Accepts(0) {
		t.Fatalf("Accepts mismatch")
	}
}
