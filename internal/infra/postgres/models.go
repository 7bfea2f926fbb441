package postgres

import (
	"time"

	"github.com/uptrace/bun"
)

// Activity is the quiz content header; questions hang off it.
type Activity struct {
	bun.BaseModel `bun:"table:activities"`

	ID         string `bun:"id,pk"`
	Title      string `bun:"title"`
	BasePoints int    `bun:"base_points"`
	TimeLimit  int    `bun:"time_limit"` // seconds, 0 means unset
}

// ActivityQuestion stores one question. Options and CorrectIndexes are
// JSON text; correct_index is the legacy single-answer column kept for
// rows written before multi-answer support.
type ActivityQuestion struct {
	bun.BaseModel `bun:"table:activity_questions"`

	ID             string  `bun:"id,pk"`
	ActivityID     string  `bun:"activity_id"`
	Order          int     `bun:"order"`
	Type           string  `bun:"type"`
	Prompt         string  `bun:"prompt"`
	ImageURL       *string `bun:"image_url"`
	Options        string  `bun:"options"`
	CorrectIndex   int     `bun:"correct_index"`
	CorrectIndexes *string `bun:"correct_indexes"`
	TimeLimit      *int    `bun:"time_limit"`
	DoublePoints   bool    `bun:"double_points"`
}

// LiveSession is one run of an activity, addressed by its room code.
type LiveSession struct {
	bun.BaseModel `bun:"table:live_sessions"`

	ID                   string     `bun:"id,pk"`
	RoomCode             string     `bun:"room_code"`
	ActivityID           string     `bun:"activity_id"`
	TeacherID            string     `bun:"teacher_id"`
	Status               string     `bun:"status"`
	CurrentQuestionIndex int        `bun:"current_question_index"`
	QuestionStartedAt    *time.Time `bun:"question_started_at"`
	CompletedAt          *time.Time `bun:"completed_at"`
	CreatedAt            time.Time  `bun:"created_at,nullzero,default:now()"`
}

// LiveParticipant is unique per (session_id, user_id); rejoins update the
// existing row instead of inserting a new one.
type LiveParticipant struct {
	bun.BaseModel `bun:"table:live_participants"`

	ID          string    `bun:"id,pk"`
	SessionID   string    `bun:"session_id"`
	UserID      string    `bun:"user_id"`
	Nickname    string    `bun:"nickname"`
	TotalScore  int       `bun:"total_score"`
	IsConnected bool      `bun:"is_connected"`
	JoinedAt    time.Time `bun:"joined_at,nullzero,default:now()"`
}

// LiveAnswer is the audit row for an accepted answer. The unique
// (participant_id, question_index) pair backs the at-most-once invariant
// at the storage level as well.
type LiveAnswer struct {
	bun.BaseModel `bun:"table:live_answers"`

	ID            string    `bun:"id,pk"`
	SessionID     string    `bun:"session_id"`
	ParticipantID string    `bun:"participant_id"`
	QuestionID    string    `bun:"question_id"`
	QuestionIndex int       `bun:"question_index"`
	SelectedIndex int       `bun:"selected_index"`
	IsCorrect     bool      `bun:"is_correct"`
	TimeSpentMs   int64     `bun:"time_spent_ms"`
	Score         int       `bun:"score"`
	AnsweredAt    time.Time `bun:"answered_at,nullzero,default:now()"`
}
