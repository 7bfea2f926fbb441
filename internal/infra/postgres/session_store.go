package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"classbland-live/internal/domain"
	"classbland-live/internal/live"
)

// SessionStore persists sessions, participants, and answers in Postgres.
type SessionStore struct {
	db *bun.DB
}

func NewSessionStore(db *bun.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) SessionByRoomCode(ctx context.Context, roomCode string) (live.SessionRecord, error) {
	var sess LiveSession
	err := s.db.NewSelect().Model(&sess).
		Where("room_code = ?", roomCode).
		Where("status IN (?)", bun.In([]string{string(domain.StatusWaiting), string(domain.StatusInProgress)})).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return live.SessionRecord{}, domain.ErrSessionNotFound
		}
		return live.SessionRecord{}, fmt.Errorf("load session by code: %w", err)
	}
	return s.hydrate(ctx, sess)
}

func (s *SessionStore) SessionByID(ctx context.Context, sessionID string) (live.SessionRecord, error) {
	var sess LiveSession
	err := s.db.NewSelect().Model(&sess).Where("id = ?", sessionID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return live.SessionRecord{}, domain.ErrSessionNotFound
		}
		return live.SessionRecord{}, fmt.Errorf("load session: %w", err)
	}
	return s.hydrate(ctx, sess)
}

func (s *SessionStore) UpsertParticipant(ctx context.Context, sessionID, userID, nickname string) (live.ParticipantRecord, error) {
	p := &LiveParticipant{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		UserID:      userID,
		Nickname:    nickname,
		IsConnected: true,
		JoinedAt:    time.Now(),
	}
	_, err := s.db.NewInsert().Model(p).
		On("CONFLICT (session_id, user_id) DO UPDATE").
		Set("nickname = EXCLUDED.nickname").
		Set("is_connected = TRUE").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return live.ParticipantRecord{}, fmt.Errorf("upsert participant: %w", err)
	}
	return participantRecord(p), nil
}

func (s *SessionStore) CreateAnswer(ctx context.Context, rec live.AnswerRecord) error {
	a := &LiveAnswer{
		ID:            uuid.New().String(),
		SessionID:     rec.SessionID,
		ParticipantID: rec.ParticipantID,
		QuestionID:    rec.QuestionID,
		QuestionIndex: rec.QuestionIndex,
		SelectedIndex: rec.SelectedIndex,
		IsCorrect:     rec.IsCorrect,
		TimeSpentMs:   rec.TimeSpentMs,
		Score:         rec.Score,
		AnsweredAt:    time.Now(),
	}
	// The registry already rejected duplicates; the conflict clause only
	// guards against replayed background writes.
	_, err := s.db.NewInsert().Model(a).
		On("CONFLICT (participant_id, question_index) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	return nil
}

func (s *SessionStore) AddScore(ctx context.Context, participantID string, delta int) error {
	_, err := s.db.NewUpdate().Model((*LiveParticipant)(nil)).
		Set("total_score = total_score + ?", delta).
		Where("id = ?", participantID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("add score: %w", err)
	}
	return nil
}

func (s *SessionStore) UpdateProgress(ctx context.Context, sessionID string, status domain.RoomStatus, questionIndex int, startedAt *time.Time) error {
	q := s.db.NewUpdate().Model((*LiveSession)(nil)).
		Set("status = ?", string(status)).
		Set("current_question_index = ?", questionIndex).
		Where("id = ?", sessionID)
	if startedAt != nil {
		q = q.Set("question_started_at = ?", *startedAt)
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func (s *SessionStore) CompleteSession(ctx context.Context, sessionID string, completedAt time.Time) error {
	_, err := s.db.NewUpdate().Model((*LiveSession)(nil)).
		Set("status = ?", string(domain.StatusCompleted)).
		Set("completed_at = ?", completedAt).
		Where("id = ?", sessionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

func (s *SessionStore) SetConnected(ctx context.Context, sessionID, userID string, connected bool) error {
	_, err := s.db.NewUpdate().Model((*LiveParticipant)(nil)).
		Set("is_connected = ?", connected).
		Where("session_id = ?", sessionID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set connected: %w", err)
	}
	return nil
}

// hydrate attaches the activity header and the participant list to a
// session row.
func (s *SessionStore) hydrate(ctx context.Context, sess LiveSession) (live.SessionRecord, error) {
	var activity Activity
	err := s.db.NewSelect().Model(&activity).Where("id = ?", sess.ActivityID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return live.SessionRecord{}, domain.ErrActivityNotFound
		}
		return live.SessionRecord{}, fmt.Errorf("load activity: %w", err)
	}

	var rows []LiveParticipant
	err = s.db.NewSelect().Model(&rows).
		Where("session_id = ?", sess.ID).
		Order("joined_at ASC").
		Scan(ctx)
	if err != nil {
		return live.SessionRecord{}, fmt.Errorf("load participants: %w", err)
	}

	participants := make([]live.ParticipantRecord, 0, len(rows))
	for i := range rows {
		participants = append(participants, participantRecord(&rows[i]))
	}

	return live.SessionRecord{
		ID:                   sess.ID,
		RoomCode:             sess.RoomCode,
		TeacherID:            sess.TeacherID,
		Status:               domain.RoomStatus(sess.Status),
		CurrentQuestionIndex: sess.CurrentQuestionIndex,
		Activity: live.ActivityRecord{
			ID:         activity.ID,
			BasePoints: activity.BasePoints,
			TimeLimit:  activity.TimeLimit,
		},
		Participants: participants,
	}, nil
}

func participantRecord(p *LiveParticipant) live.ParticipantRecord {
	return live.ParticipantRecord{
		ID:          p.ID,
		UserID:      p.UserID,
		Nickname:    p.Nickname,
		TotalScore:  p.TotalScore,
		IsConnected: p.IsConnected,
	}
}
