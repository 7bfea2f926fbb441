package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"classbland-live/internal/domain"
	"classbland-live/internal/live"
)

// SessionStore is an in-memory implementation of live.Store, used by tests
// and the no-database demo mode.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*live.SessionRecord
	byCode   map[string]string
	parts    map[string]map[string]*live.ParticipantRecord // sessionID -> userID
	answers  map[string][]live.AnswerRecord
	seq      int
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*live.SessionRecord),
		byCode:   make(map[string]string),
		parts:    make(map[string]map[string]*live.ParticipantRecord),
		answers:  make(map[string][]live.AnswerRecord),
	}
}

// Seed registers a session fixture, including any pre-existing participants.
func (s *SessionStore) Seed(rec live.SessionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := rec
	stored.Participants = nil
	s.sessions[rec.ID] = &stored
	s.byCode[rec.RoomCode] = rec.ID
	if s.parts[rec.ID] == nil {
		s.parts[rec.ID] = make(map[string]*live.ParticipantRecord)
	}
	for _, p := range rec.Participants {
		cp := p
		s.parts[rec.ID][p.UserID] = &cp
	}
}

func (s *SessionStore) SessionByRoomCode(_ context.Context, roomCode string) (live.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byCode[roomCode]
	if !ok {
		return live.SessionRecord{}, domain.ErrSessionNotFound
	}
	sess := s.sessions[id]
	if sess.Status != domain.StatusWaiting && sess.Status != domain.StatusInProgress {
		return live.SessionRecord{}, domain.ErrSessionNotFound
	}
	return s.copyLocked(sess), nil
}

func (s *SessionStore) SessionByID(_ context.Context, sessionID string) (live.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return live.SessionRecord{}, domain.ErrSessionNotFound
	}
	return s.copyLocked(sess), nil
}

func (s *SessionStore) UpsertParticipant(_ context.Context, sessionID, userID, nickname string) (live.ParticipantRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return live.ParticipantRecord{}, domain.ErrSessionNotFound
	}
	if s.parts[sessionID] == nil {
		s.parts[sessionID] = make(map[string]*live.ParticipantRecord)
	}
	if p, ok := s.parts[sessionID][userID]; ok {
		p.Nickname = nickname
		p.IsConnected = true
		return *p, nil
	}
	s.seq++
	p := &live.ParticipantRecord{
		ID:          fmt.Sprintf("part-%d", s.seq),
		UserID:      userID,
		Nickname:    nickname,
		IsConnected: true,
	}
	s.parts[sessionID][userID] = p
	return *p, nil
}

func (s *SessionStore) CreateAnswer(_ context.Context, rec live.AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[rec.SessionID] = append(s.answers[rec.SessionID], rec)
	return nil
}

func (s *SessionStore) AddScore(_ context.Context, participantID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, byUser := range s.parts {
		for _, p := range byUser {
			if p.ID == participantID {
				p.TotalScore += delta
				return nil
			}
		}
	}
	return domain.ErrParticipantNotFound
}

func (s *SessionStore) UpdateProgress(_ context.Context, sessionID string, status domain.RoomStatus, questionIndex int, _ *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.Status = status
	sess.CurrentQuestionIndex = questionIndex
	return nil
}

func (s *SessionStore) CompleteSession(_ context.Context, sessionID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.Status = domain.StatusCompleted
	return nil
}

func (s *SessionStore) SetConnected(_ context.Context, sessionID, userID string, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.parts[sessionID][userID]; ok {
		p.IsConnected = connected
	}
	return nil
}

// Answers returns the persisted answer rows for a session, for tests.
func (s *SessionStore) Answers(sessionID string) []live.AnswerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]live.AnswerRecord, len(s.answers[sessionID]))
	copy(out, s.answers[sessionID])
	return out
}

// Participant returns the stored participant row, for tests.
func (s *SessionStore) Participant(sessionID, userID string) (live.ParticipantRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[sessionID][userID]
	if !ok {
		return live.ParticipantRecord{}, false
	}
	return *p, true
}

// Session returns the stored session row, for tests.
func (s *SessionStore) Session(sessionID string) (live.SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return live.SessionRecord{}, false
	}
	return s.copyLocked(sess), true
}

func (s *SessionStore) copyLocked(sess *live.SessionRecord) live.SessionRecord {
	out := *sess
	out.Participants = nil
	for _, p := range s.parts[sess.ID] {
		out.Participants = append(out.Participants, *p)
	}
	return out
}
