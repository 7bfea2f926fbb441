// Package room holds the authoritative in-memory state of all active live
// quiz rooms. A single registry instance is shared by every connection
// handler; all mutations run under one mutex, so the duplicate-answer check
// and the ledger write in SubmitAnswer are atomic with respect to
// concurrent submissions for the same key.
package room

import (
	"sort"
	"sync"
	"time"

	"classbland-live/internal/domain"
	"classbland-live/internal/scoring"
)

// Registry stores rooms in a slot arena: rooms live in a slice addressed
// through a code index and a free list, participants live in a per-room
// slice addressed by roster index, and the answer ledger is a single flat
// map keyed by (roster index, question index).
type Registry struct {
	mu    sync.Mutex
	rooms []slot
	free  []int
	index map[string]int
	clock func() time.Time
}

type slot struct {
	inUse bool
	gen   uint64 // bumped on free; guards stale cleanup timers

	code       string
	sessionID  string
	status     domain.RoomStatus
	questions  []domain.QuestionSnapshot
	basePoints int

	current   int // -1 before the first question
	startedAt time.Time

	participants []participant
	roster       map[string]int // userID -> participants index
	ledger       map[ledgerKey]ledgerEntry

	cleanup *time.Timer
}

type participant struct {
	id         string
	userID     string
	nickname   string
	totalScore int
	connected  bool
}

type ledgerKey struct {
	participant int
	question    int
}

type ledgerEntry struct {
	selectedIndex int
	timeSpentMs   int64
	correct       bool
	score         int
}

// SubmitResult is the outcome of an answer submission. A duplicate
// submission is a normal outcome, not an error: Accepted is false and no
// state changes.
type SubmitResult struct {
	Accepted bool
	Correct  bool
	Score    int
}

func New() *Registry {
	return NewWithClock(time.Now)
}

// NewWithClock allows deterministic timestamps in tests.
func NewWithClock(clock func() time.Time) *Registry {
	return &Registry{
		index: make(map[string]int),
		clock: clock,
	}
}

// CreateRoom registers a new room in status WAITING with no current
// question. Returns ErrDuplicateRoom if the code is already registered;
// because the check and the insert share the registry mutex, concurrent
// creators for the same code cannot both succeed.
func (r *Registry) CreateRoom(code, sessionID string, questions []domain.QuestionSnapshot, basePoints int) (domain.RoomState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[code]; ok {
		return domain.RoomState{}, domain.ErrDuplicateRoom
	}

	i := r.alloc()
	s := &r.rooms[i]
	s.inUse = true
	s.code = code
	s.sessionID = sessionID
	s.status = domain.StatusWaiting
	s.questions = questions
	s.basePoints = basePoints
	s.current = -1
	s.startedAt = time.Time{}
	s.participants = s.participants[:0]
	s.roster = make(map[string]int)
	s.ledger = make(map[ledgerKey]ledgerEntry)
	r.index[code] = i

	return r.stateLocked(s), nil
}

// State returns a copy of the room's public view.
func (r *Registry) State(code string) (domain.RoomState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(code)
	if err != nil {
		return domain.RoomState{}, err
	}
	return r.stateLocked(s), nil
}

// AddParticipant upserts a participant by user ID: an existing roster entry
// keeps its score and answers and only refreshes nickname and connected
// state, a new one is appended with a fresh empty ledger.
func (r *Registry) AddParticipant(code string, p domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(code)
	if err != nil {
		return err
	}

	if i, ok := s.roster[p.UserID]; ok {
		s.participants[i].nickname = p.Nickname
		s.participants[i].connected = true
		if p.ID != "" {
			s.participants[i].id = p.ID
		}
		return nil
	}

	s.roster[p.UserID] = len(s.participants)
	s.participants = append(s.participants, participant{
		id:         p.ID,
		userID:     p.UserID,
		nickname:   p.Nickname,
		totalScore: p.TotalScore,
		connected:  p.IsConnected,
	})
	return nil
}

// RemoveParticipant marks the participant disconnected. The roster entry
// and past answers are retained; disconnection is not departure.
func (r *Registry) RemoveParticipant(code, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(code)
	if err != nil {
		return err
	}
	if i, ok := s.roster[userID]; ok {
		s.participants[i].connected = false
	}
	return nil
}

// StartSession moves a WAITING room to IN_PROGRESS at question 0 and
// returns the first question. A room already in progress returns its
// current question without resetting the timer.
func (r *Registry) StartSession(code string) (domain.QuestionSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(code)
	if err != nil {
		return domain.QuestionSnapshot{}, err
	}
	if len(s.questions) == 0 {
		return domain.QuestionSnapshot{}, domain.ErrNoQuestions
	}
	if s.status == domain.StatusCompleted {
		return domain.QuestionSnapshot{}, domain.ErrNoMoreQuestions
	}
	if s.status != domain.StatusWaiting {
		return s.questions[s.current], nil
	}

	s.status = domain.StatusInProgress
	s.current = 0
	s.startedAt = r.clock()
	return s.questions[0], nil
}

// NextQuestion advances to the following question and restarts the
// question timer. Returns ErrNoMoreQuestions, with no state change, when
// the room is at the final question or already completed.
func (r *Registry) NextQuestion(code string) (domain.QuestionSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(code)
	if err != nil {
		return domain.QuestionSnapshot{}, err
	}
	if s.status == domain.StatusCompleted {
		return domain.QuestionSnapshot{}, domain.ErrNoMoreQuestions
	}

	next := s.current + 1
	if next >= len(s.questions) {
		return domain.QuestionSnapshot{}, domain.ErrNoMoreQuestions
	}

	s.status = domain.StatusInProgress
	s.current = next
	s.startedAt = r.clock()
	return s.questions[next], nil
}

// SubmitAnswer records an answer in the ledger at most once per
// (participant, question) pair. The duplicate check, the ledger write, and
// the score increment all happen under the registry mutex, so only one of
// N concurrent submissions for the same key is accepted.
func (r *Registry) SubmitAnswer(code, userID string, questionIndex, selectedIndex int, timeSpentMs int64) (SubmitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(code)
	if err != nil {
		return SubmitResult{}, err
	}
	if questionIndex < 0 || questionIndex >= len(s.questions) {
		return SubmitResult{}, domain.ErrQuestionNotFound
	}
	pi, ok := s.roster[userID]
	if !ok {
		return SubmitResult{}, domain.ErrParticipantNotFound
	}

	key := ledgerKey{participant: pi, question: questionIndex}
	if _, dup := s.ledger[key]; dup {
		return SubmitResult{Accepted: false}, nil
	}

	q := s.questions[questionIndex]
	correct := q.Accepts(selectedIndex)
	base := s.basePoints
	if q.DoublePoints {
		base *= 2
	}
	score := scoring.Score(correct, timeSpentMs, int64(q.TimeLimit)*1000, base)

	s.ledger[key] = ledgerEntry{
		selectedIndex: selectedIndex,
		timeSpentMs:   timeSpentMs,
		correct:       correct,
		score:         score,
	}
	s.participants[pi].totalScore += score

	return SubmitResult{Accepted: true, Correct: correct, Score: score}, nil
}

// Stats aggregates the ledger for one question index across all
// participants. Out-of-range selections (including the -1 "no answer"
// sentinel) count toward totals but not toward any option bucket.
func (r *Registry) Stats(code string, questionIndex int) (domain.QuestionStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(code)
	if err != nil {
		return domain.QuestionStats{}, err
	}
	if questionIndex < 0 || questionIndex >= len(s.questions) {
		return domain.QuestionStats{}, domain.ErrQuestionNotFound
	}

	stats := domain.QuestionStats{
		AnswersPerOption: make([]int, len(s.questions[questionIndex].Options)),
	}
	var totalTime int64
	for pi := range s.participants {
		entry, ok := s.ledger[ledgerKey{participant: pi, question: questionIndex}]
		if !ok {
			continue
		}
		stats.TotalAnswers++
		totalTime += entry.timeSpentMs
		if entry.correct {
			stats.CorrectAnswers++
		}
		if entry.selectedIndex >= 0 && entry.selectedIndex < len(stats.AnswersPerOption) {
			stats.AnswersPerOption[entry.selectedIndex]++
		}
	}
	if stats.TotalAnswers > 0 {
		// Rounded, not truncated.
		n := int64(stats.TotalAnswers)
		stats.AverageTime = int((totalTime + n/2) / n)
	}
	return stats, nil
}

// Leaderboard returns the full score table ordered by total score
// descending, ties broken by roster order, positions 1..N.
func (r *Registry) Leaderboard(code string) ([]domain.LeaderboardEntry, error) {
	return r.leaderboard(code, -1)
}

// LeaderboardAt behaves like Leaderboard but additionally annotates each
// entry with the participant's result for the given question index.
func (r *Registry) LeaderboardAt(code string, questionIndex int) ([]domain.LeaderboardEntry, error) {
	return r.leaderboard(code, questionIndex)
}

func (r *Registry) leaderboard(code string, questionIndex int) ([]domain.LeaderboardEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(code)
	if err != nil {
		return nil, err
	}
	return r.leaderboardLocked(s, questionIndex), nil
}

func (r *Registry) leaderboardLocked(s *slot, questionIndex int) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(s.participants))
	for pi, p := range s.participants {
		entry := domain.LeaderboardEntry{
			UserID:     p.userID,
			Nickname:   p.nickname,
			TotalScore: p.totalScore,
		}
		if questionIndex >= 0 {
			if answer, ok := s.ledger[ledgerKey{participant: pi, question: questionIndex}]; ok {
				entry.LastAnswerCorrect = answer.correct
				entry.LastAnswerScore = answer.score
			}
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TotalScore > entries[j].TotalScore
	})
	for i := range entries {
		entries[i].Position = i + 1
	}
	return entries
}

// Participant returns the roster entry for a user.
func (r *Registry) Participant(code, userID string) (domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(code)
	if err != nil {
		return domain.Participant{}, err
	}
	i, ok := s.roster[userID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	p := s.participants[i]
	return domain.Participant{
		ID:          p.id,
		UserID:      p.userID,
		Nickname:    p.nickname,
		TotalScore:  p.totalScore,
		IsConnected: p.connected,
	}, nil
}

// Question returns the snapshot at the given index.
func (r *Registry) Question(code string, index int) (domain.QuestionSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(code)
	if err != nil {
		return domain.QuestionSnapshot{}, err
	}
	if index < 0 || index >= len(s.questions) {
		return domain.QuestionSnapshot{}, domain.ErrQuestionNotFound
	}
	return s.questions[index], nil
}

// ShowResults moves the room to SHOWING_RESULTS. Stats and leaderboards
// are computed on demand, not stored, so nothing else changes.
func (r *Registry) ShowResults(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(code)
	if err != nil {
		return err
	}
	if s.status == domain.StatusCompleted {
		return domain.ErrNoMoreQuestions
	}
	if s.current < 0 {
		// No question asked yet; the status must not change.
		return domain.ErrQuestionNotFound
	}
	s.status = domain.StatusShowingResults
	return nil
}

// EndSession moves the room to its terminal COMPLETED state, cancels any
// pending cleanup timer, and returns the final leaderboard.
func (r *Registry) EndSession(code string) ([]domain.LeaderboardEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(code)
	if err != nil {
		return nil, err
	}
	s.status = domain.StatusCompleted
	if s.cleanup != nil {
		s.cleanup.Stop()
		s.cleanup = nil
	}
	return r.leaderboardLocked(s, -1), nil
}

// ScheduleDelete arms the room's cleanup timer: after the grace period the
// room is deleted so trailing leaderboard reads can still complete. A
// previously armed timer is replaced.
func (r *Registry) ScheduleDelete(code string, grace time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(code)
	if err != nil {
		return
	}
	if s.cleanup != nil {
		s.cleanup.Stop()
	}
	gen := s.gen
	s.cleanup = time.AfterFunc(grace, func() {
		r.deleteIfGeneration(code, gen)
	})
}

// DeleteRoom removes the room entirely and cancels its cleanup timer.
// Idempotent: deleting an unknown code is a no-op.
func (r *Registry) DeleteRoom(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteLocked(code)
}

// RemainingTime reports how long the current question stays open. Zero when
// no question is running.
func (r *Registry) RemainingTime(code string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.lookup(code)
	if err != nil {
		return 0
	}
	if s.status != domain.StatusInProgress || s.current < 0 || s.startedAt.IsZero() {
		return 0
	}
	limit := time.Duration(s.questions[s.current].TimeLimit) * time.Second
	remaining := limit - r.clock().Sub(s.startedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (r *Registry) deleteIfGeneration(code string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[code]
	if !ok || r.rooms[i].gen != gen {
		// The slot was reused for a different room; the stale timer must not touch it.
		return
	}
	r.deleteLocked(code)
}

func (r *Registry) deleteLocked(code string) {
	i, ok := r.index[code]
	if !ok {
		return
	}
	s := &r.rooms[i]
	if s.cleanup != nil {
		s.cleanup.Stop()
		s.cleanup = nil
	}
	s.inUse = false
	s.gen++
	s.questions = nil
	s.roster = nil
	s.ledger = nil
	delete(r.index, code)
	r.free = append(r.free, i)
}

func (r *Registry) lookup(code string) (*slot, error) {
	i, ok := r.index[code]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return &r.rooms[i], nil
}

func (r *Registry) alloc() int {
	if n := len(r.free); n > 0 {
		i := r.free[n-1]
		r.free = r.free[:n-1]
		return i
	}
	r.rooms = append(r.rooms, slot{})
	return len(r.rooms) - 1
}

func (r *Registry) stateLocked(s *slot) domain.RoomState {
	participants := make([]domain.Participant, len(s.participants))
	for i, p := range s.participants {
		participants[i] = domain.Participant{
			ID:          p.id,
			UserID:      p.userID,
			Nickname:    p.nickname,
			TotalScore:  p.totalScore,
			IsConnected: p.connected,
		}
	}

	state := domain.RoomState{
		RoomCode:             s.code,
		SessionID:            s.sessionID,
		Status:               s.status,
		Participants:         participants,
		CurrentQuestionIndex: s.current,
		TotalQuestions:       len(s.questions),
	}
	if s.current >= 0 && s.current < len(s.questions) {
		q := s.questions[s.current].ForClient()
		state.CurrentQuestion = &q
	}
	if !s.startedAt.IsZero() {
		ms := s.startedAt.UnixMilli()
		state.QuestionStartedAt = &ms
	}
	return state
}
