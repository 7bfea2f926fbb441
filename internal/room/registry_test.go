package room

import (
	"sync"
	"testing"
	"time"

	"classbland-live/internal/domain"
)

func testQuestions() []domain.QuestionSnapshot {
	return []domain.QuestionSnapshot{
		{
			ID:              "q1",
			Type:            domain.TypeSingleChoice,
			Prompt:          "What is 2 + 2?",
			Options:         []string{"3", "4", "5"},
			AcceptedIndexes: []int{1},
			TimeLimit:       10,
			QuestionIndex:   0,
		},
		{
			ID:              "q2",
			Type:            domain.TypeMultiChoice,
			Prompt:          "Which are even?",
			Options:         []string{"1", "2", "3", "4"},
			AcceptedIndexes: []int{1, 3},
			TimeLimit:       10,
			QuestionIndex:   1,
		},
	}
}

func newTestRoom(t *testing.T, reg *Registry, users ...string) {
	t.Helper()
	if _, err := reg.CreateRoom("ABC123", "sess-1", testQuestions(), 100); err != nil {
		t.Fatalf("create room: %v", err)
	}
	for _, u := range users {
		err := reg.AddParticipant("ABC123", domain.Participant{
			ID: "p-" + u, UserID: u, Nickname: u, IsConnected: true,
		})
		if err != nil {
			t.Fatalf("add %s: %v", u, err)
		}
	}
}

func TestCreateRoomRejectsDuplicateCode(t *testing.T) {
	reg := New()
	newTestRoom(t, reg)
	if _, err := reg.CreateRoom("ABC123", "sess-2", testQuestions(), 100); err != domain.ErrDuplicateRoom {
		t.Fatalf("expected ErrDuplicateRoom, got %v", err)
	}
}

func TestStartSessionRequiresQuestions(t *testing.T) {
	reg := New()
	if _, err := reg.CreateRoom("EMPTY1", "sess-1", nil, 100); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := reg.StartSession("EMPTY1"); err != domain.ErrNoQuestions {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
	state, _ := reg.State("EMPTY1")
	if state.Status != domain.StatusWaiting {
		t.Fatalf("failed start must not change status, got %s", state.Status)
	}
}

func TestStartSession(t *testing.T) {
	reg := New()
	newTestRoom(t, reg, "u1")

	q, err := reg.StartSession("ABC123")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if q.ID != "q1" {
		t.Fatalf("expected first question, got %s", q.ID)
	}

	state, _ := reg.State("ABC123")
	if state.Status != domain.StatusInProgress || state.CurrentQuestionIndex != 0 {
		t.Fatalf("unexpected state after start: %+v", state)
	}
	if state.QuestionStartedAt == nil {
		t.Fatalf("expected questionStartedAt to be set")
	}
	if state.CurrentQuestion == nil || state.CurrentQuestion.ID != "q1" {
		t.Fatalf("expected current question in state")
	}
}

func TestSubmitAnswerScoresWithTimeDecay(t *testing.T) {
	reg := New()
	newTestRoom(t, reg, "u1")
	if _, err := reg.StartSession("ABC123"); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Correct at 2s of a 10s limit with base 100 -> round(100*0.8) = 80.
	res, err := reg.SubmitAnswer("ABC123", "u1", 0, 1, 2000)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Accepted || !res.Correct || res.Score != 80 {
		t.Fatalf("expected accepted correct score 80, got %+v", res)
	}

	state, _ := reg.State("ABC123")
	if state.Participants[0].TotalScore != 80 {
		t.Fatalf("expected total score 80, got %d", state.Participants[0].TotalScore)
	}
}

func TestSubmitAnswerIncorrectScoresZero(t *testing.T) {
	reg := New()
	newTestRoom(t, reg, "u1")
	_, _ = reg.StartSession("ABC123")

	res, err := reg.SubmitAnswer("ABC123", "u1", 0, 0, 1000)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Accepted || res.Correct || res.Score != 0 {
		t.Fatalf("expected accepted incorrect zero score, got %+v", res)
	}

	stats, err := reg.Stats("ABC123", 0)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.CorrectAnswers != 0 || stats.TotalAnswers != 1 {
		t.Fatalf("expected 1 answer 0 correct, got %+v", stats)
	}
}

func TestSubmitAnswerAtMostOnce(t *testing.T) {
	reg := New()
	newTestRoom(t, reg, "u1")
	_, _ = reg.StartSession("ABC123")

	first, _ := reg.SubmitAnswer("ABC123", "u1", 0, 1, 1000)
	if !first.Accepted {
		t.Fatalf("expected first submission accepted")
	}
	second, err := reg.SubmitAnswer("ABC123", "u1", 0, 1, 1500)
	if err != nil {
		t.Fatalf("duplicate submit is not an error: %v", err)
	}
	if second.Accepted {
		t.Fatalf("expected duplicate submission rejected")
	}

	state, _ := reg.State("ABC123")
	if state.Participants[0].TotalScore != first.Score {
		t.Fatalf("score incremented more than once: %d", state.Participants[0].TotalScore)
	}
}

func TestSubmitAnswerConcurrentDuplicates(t *testing.T) {
	reg := New()
	newTestRoom(t, reg, "u1")
	_, _ = reg.StartSession("ABC123")

	const n = 32
	var wg sync.WaitGroup
	accepted := make(chan SubmitResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := reg.SubmitAnswer("ABC123", "u1", 0, 1, 1000)
			if err == nil && res.Accepted {
				accepted <- res
			}
		}()
	}
	wg.Wait()
	close(accepted)

	count := 0
	var winner SubmitResult
	for res := range accepted {
		count++
		winner = res
	}
	if count != 1 {
		t.Fatalf("expected exactly one accepted submission, got %d", count)
	}
	state, _ := reg.State("ABC123")
	if state.Participants[0].TotalScore != winner.Score {
		t.Fatalf("expected total %d, got %d", winner.Score, state.Participants[0].TotalScore)
	}
}

func TestMultiChoiceAcceptsAnyAcceptedIndex(t *testing.T) {
	reg := New()
	newTestRoom(t, reg, "u1", "u2")
	_, _ = reg.StartSession("ABC123")
	if _, err := reg.NextQuestion("ABC123"); err != nil {
		t.Fatalf("next: %v", err)
	}

	r1, _ := reg.SubmitAnswer("ABC123", "u1", 1, 1, 0)
	r2, _ := reg.SubmitAnswer("ABC123", "u2", 1, 3, 0)
	if !r1.Correct || !r2.Correct {
		t.Fatalf("expected both accepted indexes to score, got %+v %+v", r1, r2)
	}
}

func TestSubmitAnswerValidation(t *testing.T) {
	reg := New()
	newTestRoom(t, reg, "u1")
	_, _ = reg.StartSession("ABC123")

	if _, err := reg.SubmitAnswer("NOPE", "u1", 0, 1, 0); err != domain.ErrRoomNotFound {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if _, err := reg.SubmitAnswer("ABC123", "ghost", 0, 1, 0); err != domain.ErrParticipantNotFound {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}
	if _, err := reg.SubmitAnswer("ABC123", "u1", 9, 1, 0); err != domain.ErrQuestionNotFound {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}

func TestStatsIgnoreOutOfRangeSelections(t *testing.T) {
	reg := New()
	newTestRoom(t, reg, "u1", "u2", "u3")
	_, _ = reg.StartSession("ABC123")

	_, _ = reg.SubmitAnswer("ABC123", "u1", 0, 1, 2000)
	_, _ = reg.SubmitAnswer("ABC123", "u2", 0, 0, 4000)
	// -1 is the "no answer before timeout" sentinel.
	_, _ = reg.SubmitAnswer("ABC123", "u3", 0, -1, 10000)

	stats, err := reg.Stats("ABC123", 0)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalAnswers != 3 || stats.CorrectAnswers != 1 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if len(stats.AnswersPerOption) != 3 {
		t.Fatalf("expected option buckets sized to options, got %d", len(stats.AnswersPerOption))
	}
	if stats.AnswersPerOption[0] != 1 || stats.AnswersPerOption[1] != 1 || stats.AnswersPerOption[2] != 0 {
		t.Fatalf("unexpected buckets: %v", stats.AnswersPerOption)
	}
	if stats.AverageTime != (2000+4000+10000)/3 {
		t.Fatalf("unexpected average time: %d", stats.AverageTime)
	}
}

func TestStatsAverageTimeRounds(t *testing.T) {
	reg := New()
	newTestRoom(t, reg, "u1", "u2")
	_, _ = reg.StartSession("ABC123")

	_, _ = reg.SubmitAnswer("ABC123", "u1", 0, 1, 1000)
	_, _ = reg.SubmitAnswer("ABC123", "u2", 0, 1, 2001)

	stats, err := reg.Stats("ABC123", 0)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	// 3001/2 rounds to 1501, it does not truncate to 1500.
	if stats.AverageTime != 1501 {
		t.Fatalf("unexpected average time: %d", stats.AverageTime)
	}
}

func TestShowResultsRequiresActiveQuestion(t *testing.T) {
	reg := New()
	newTestRoom(t, reg, "u1")

	if err := reg.ShowResults("ABC123"); err != domain.ErrQuestionNotFound {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
	state, _ := reg.State("ABC123")
	if state.Status != domain.StatusWaiting {
		t.Fatalf("failed show-results must not change status, got %s", state.Status)
	}
}

func TestLeaderboardOrderingAndPositions(t *testing.T) {
	reg := New()
	newTestRoom(t, reg, "u1", "u2", "u3")
	_, _ = reg.StartSession("ABC123")

	_, _ = reg.SubmitAnswer("ABC123", "u2", 0, 1, 0)    // 100
	_, _ = reg.SubmitAnswer("ABC123", "u3", 0, 1, 5000) // 50
	// u1 never answers; ties at 0 keep roster order via stable sort.

	lb, err := reg.LeaderboardAt("ABC123", 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb) != 3 {
		t.Fatalf("expected full roster, got %d", len(lb))
	}
	for i, entry := range lb {
		if entry.Position != i+1 {
			t.Fatalf("positions must be contiguous 1..N, got %+v", lb)
		}
	}
	if lb[0].UserID != "u2" || lb[1].UserID != "u3" || lb[2].UserID != "u1" {
		t.Fatalf("unexpected order: %+v", lb)
	}
	if !lb[0].LastAnswerCorrect || lb[0].LastAnswerScore != 100 {
		t.Fatalf("expected per-question annotation, got %+v", lb[0])
	}
	if lb[2].LastAnswerCorrect || lb[2].LastAnswerScore != 0 {
		t.Fatalf("missing answer must annotate as zero, got %+v", lb[2])
	}
}

func TestNextQuestionStopsAtLastIndex(t *testing.T) {
	reg := New()
	newTestRoom(t, reg, "u1")
	_, _ = reg.StartSession("ABC123")

	q, err := reg.NextQuestion("ABC123")
	if err != nil || q.ID != "q2" {
		t.Fatalf("expected q2, got %v %v", q.ID, err)
	}
	if err := reg.ShowResults("ABC123"); err != nil {
		t.Fatalf("show results: %v", err)
	}

	before, _ := reg.State("ABC123")
	if _, err := reg.NextQuestion("ABC123"); err != domain.ErrNoMoreQuestions {
		t.Fatalf("expected ErrNoMoreQuestions, got %v", err)
	}
	after, _ := reg.State("ABC123")
	if after.Status != before.Status || after.CurrentQuestionIndex != before.CurrentQuestionIndex {
		t.Fatalf("failed advance must not change state: %+v vs %+v", before, after)
	}
}

func TestCompletedIsTerminal(t *testing.T) {
	reg := New()
	newTestRoom(t, reg, "u1")
	_, _ = reg.StartSession("ABC123")
	if _, err := reg.EndSession("ABC123"); err != nil {
		t.Fatalf("end: %v", err)
	}

	if _, err := reg.StartSession("ABC123"); err != domain.ErrNoMoreQuestions {
		t.Fatalf("expected no transition from COMPLETED, got %v", err)
	}
	if _, err := reg.NextQuestion("ABC123"); err != domain.ErrNoMoreQuestions {
		t.Fatalf("expected no transition from COMPLETED, got %v", err)
	}
	if err := reg.ShowResults("ABC123"); err != domain.ErrNoMoreQuestions {
		t.Fatalf("expected no transition from COMPLETED, got %v", err)
	}
	state, _ := reg.State("ABC123")
	if state.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", state.Status)
	}
}

func TestRemoveParticipantKeepsScore(t *testing.T) {
	reg := New()
	newTestRoom(t, reg, "u1")
	_, _ = reg.StartSession("ABC123")
	_, _ = reg.SubmitAnswer("ABC123", "u1", 0, 1, 0)

	if err := reg.RemoveParticipant("ABC123", "u1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	state, _ := reg.State("ABC123")
	if len(state.Participants) != 1 {
		t.Fatalf("roster entry must be retained")
	}
	if state.Participants[0].IsConnected {
		t.Fatalf("expected disconnected flag")
	}
	if state.Participants[0].TotalScore != 100 {
		t.Fatalf("score must not be reverted, got %d", state.Participants[0].TotalScore)
	}

	// Rejoining with a new nickname keeps the ledger: the answer stays spent.
	_ = reg.AddParticipant("ABC123", domain.Participant{UserID: "u1", Nickname: "Alice II", IsConnected: true})
	res, _ := reg.SubmitAnswer("ABC123", "u1", 0, 1, 0)
	if res.Accepted {
		t.Fatalf("rejoin must not reset the answer ledger")
	}
}

func TestScheduleDeleteFiresAfterGrace(t *testing.T) {
	reg := New()
	newTestRoom(t, reg, "u1")
	_, _ = reg.EndSession("ABC123")

	reg.ScheduleDelete("ABC123", 10*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for {
		if _, err := reg.State("ABC123"); err == domain.ErrRoomNotFound {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected room to be deleted after grace window")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManualDeleteCancelsTimer(t *testing.T) {
	reg := New()
	newTestRoom(t, reg, "u1")
	_, _ = reg.EndSession("ABC123")
	reg.ScheduleDelete("ABC123", 20*time.Millisecond)

	reg.DeleteRoom("ABC123")
	// Second delete is a no-op, not an error.
	reg.DeleteRoom("ABC123")

	// A new room under the same code must survive the old (cancelled) timer.
	if _, err := reg.CreateRoom("ABC123", "sess-2", testQuestions(), 100); err != nil {
		t.Fatalf("recreate: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, err := reg.State("ABC123"); err != nil {
		t.Fatalf("stale timer deleted the recreated room: %v", err)
	}
}

func TestRemainingTime(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	reg := NewWithClock(clock)
	newTestRoom(t, reg, "u1")

	if got := reg.RemainingTime("ABC123"); got != 0 {
		t.Fatalf("expected 0 before start, got %v", got)
	}

	_, _ = reg.StartSession("ABC123")
	if got := reg.RemainingTime("ABC123"); got != 10*time.Second {
		t.Fatalf("expected full limit, got %v", got)
	}

	now = now.Add(4 * time.Second)
	if got := reg.RemainingTime("ABC123"); got != 6*time.Second {
		t.Fatalf("expected 6s, got %v", got)
	}

	now = now.Add(20 * time.Second)
	if got := reg.RemainingTime("ABC123"); got != 0 {
		t.Fatalf("expected floor at 0, got %v", got)
	}
}

func TestDoublePointsQuestion(t *testing.T) {
	reg := New()
	questions := testQuestions()
	questions[0].DoublePoints = true
	if _, err := reg.CreateRoom("DBL111", "sess-1", questions, 100); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = reg.AddParticipant("DBL111", domain.Participant{UserID: "u1", Nickname: "Alice", IsConnected: true})
	_, _ = reg.StartSession("DBL111")

	res, _ := reg.SubmitAnswer("DBL111", "u1", 0, 1, 0)
	if res.Score != 200 {
		t.Fatalf("expected doubled base points, got %d", res.Score)
	}
}
