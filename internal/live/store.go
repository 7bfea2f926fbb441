package live

import (
	"context"
	"time"

	"classbland-live/internal/domain"
)

// SessionRecord is the persisted session row with its activity and
// participant list, as read at join time. The store is the long-lived
// backing copy; it is never read back mid-session for correctness
// decisions.
type SessionRecord struct {
	ID                   string
	RoomCode             string
	TeacherID            string
	Status               domain.RoomStatus
	CurrentQuestionIndex int
	Activity             ActivityRecord
	Participants         []ParticipantRecord
}

// ActivityRecord carries the scoring parameters of the quiz activity.
type ActivityRecord struct {
	ID         string
	BasePoints int
	TimeLimit  int // seconds, 0 means unset
}

// ParticipantRecord is the persisted identity of a joined student.
type ParticipantRecord struct {
	ID          string
	UserID      string
	Nickname    string
	TotalScore  int
	IsConnected bool
}

// AnswerRecord is the durable audit row for an accepted answer.
type AnswerRecord struct {
	SessionID     string
	ParticipantID string
	QuestionID    string
	QuestionIndex int
	SelectedIndex int
	IsCorrect     bool
	TimeSpentMs   int64
	Score         int
}

// Store is the persistent-store collaborator. Writes that follow an
// accepted registry mutation are best effort: failures are logged and never
// rolled back, since other participants have already observed the new
// in-memory state.
type Store interface {
	// SessionByRoomCode returns the session for a join code, restricted to
	// sessions that are still joinable (WAITING or IN_PROGRESS).
	SessionByRoomCode(ctx context.Context, roomCode string) (SessionRecord, error)
	SessionByID(ctx context.Context, sessionID string) (SessionRecord, error)
	// UpsertParticipant creates or refreshes a participant by
	// (sessionID, userID) and returns the stored row.
	UpsertParticipant(ctx context.Context, sessionID, userID, nickname string) (ParticipantRecord, error)
	CreateAnswer(ctx context.Context, rec AnswerRecord) error
	AddScore(ctx context.Context, participantID string, delta int) error
	// UpdateProgress persists the session status and question position;
	// startedAt is only written when non-nil.
	UpdateProgress(ctx context.Context, sessionID string, status domain.RoomStatus, questionIndex int, startedAt *time.Time) error
	CompleteSession(ctx context.Context, sessionID string, completedAt time.Time) error
	SetConnected(ctx context.Context, sessionID, userID string, connected bool) error
}

// SnapshotSource provides the immutable question snapshots for an
// activity, with acceptedIndexes already unified at ingestion.
type SnapshotSource interface {
	Snapshots(ctx context.Context, activityID string) ([]domain.QuestionSnapshot, error)
}
