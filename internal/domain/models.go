package domain

import "encoding/json"

// RoomStatus is the live session state machine position.
type RoomStatus string

const (
	StatusWaiting        RoomStatus = "WAITING"
	StatusInProgress     RoomStatus = "IN_PROGRESS"
	StatusShowingResults RoomStatus = "SHOWING_RESULTS"
	StatusCompleted      RoomStatus = "COMPLETED"
)

// Question types supported by the live engine.
const (
	TypeSingleChoice = "SINGLE_CHOICE"
	TypeMultiChoice  = "MULTI_CHOICE"
	TypeOpenText     = "OPEN_TEXT"
	TypeImageChoice  = "IMAGE_CHOICE"
)

// DefaultTimeLimit is the per-question fallback when neither the question
// nor the activity carries a time limit, in seconds.
const DefaultTimeLimit = 30

// Participant is a student tracked within a room. Disconnection flips
// IsConnected but never removes the roster entry or its answers.
type Participant struct {
	ID          string `json:"id"`
	UserID      string `json:"odlsId"`
	Nickname    string `json:"nickname"`
	TotalScore  int    `json:"totalScore"`
	IsConnected bool   `json:"isConnected"`
}

// QuestionSnapshot is the immutable per-question view taken at room
// creation. AcceptedIndexes is the single source of truth for correctness;
// it is computed once at ingestion and never re-derived during play.
type QuestionSnapshot struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	Prompt          string   `json:"prompt"`
	ImageURL        string   `json:"imageUrl,omitempty"`
	Options         []string `json:"options"`
	AcceptedIndexes []int    `json:"acceptedIndexes"`
	TimeLimit       int      `json:"timeLimit"` // seconds
	DoublePoints    bool     `json:"doublePoints"`
	QuestionIndex   int      `json:"questionIndex"`
}

// ClientQuestion is the snapshot stripped of accepted answers, safe to
// send to students.
type ClientQuestion struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Prompt        string   `json:"prompt"`
	ImageURL      string   `json:"imageUrl,omitempty"`
	Options       []string `json:"options"`
	TimeLimit     int      `json:"timeLimit"`
	DoublePoints  bool     `json:"doublePoints"`
	QuestionIndex int      `json:"questionIndex"`
}

// ForClient strips the accepted indexes from a snapshot.
func (q QuestionSnapshot) ForClient() ClientQuestion {
	return ClientQuestion{
		ID:            q.ID,
		Type:          q.Type,
		Prompt:        q.Prompt,
		ImageURL:      q.ImageURL,
		Options:       q.Options,
		TimeLimit:     q.TimeLimit,
		DoublePoints:  q.DoublePoints,
		QuestionIndex: q.QuestionIndex,
	}
}

// Accepts reports whether the selected option index is a correct answer.
func (q QuestionSnapshot) Accepts(selectedIndex int) bool {
	for _, idx := range q.AcceptedIndexes {
		if idx == selectedIndex {
			return true
		}
	}
	return false
}

// RoomState is the full room view sent to a freshly joined connection.
type RoomState struct {
	RoomCode             string          `json:"roomCode"`
	SessionID            string          `json:"sessionId"`
	Status               RoomStatus      `json:"status"`
	Participants         []Participant   `json:"participants"`
	CurrentQuestionIndex int             `json:"currentQuestionIndex"`
	CurrentQuestion      *ClientQuestion `json:"currentQuestion"`
	QuestionStartedAt    *int64          `json:"questionStartedAt"` // unix ms
	TotalQuestions       int             `json:"totalQuestions"`
}

// QuestionStats aggregates the answer ledger for one question index.
type QuestionStats struct {
	TotalAnswers     int   `json:"totalAnswers"`
	CorrectAnswers   int   `json:"correctAnswers"`
	AnswersPerOption []int `json:"answersPerOption"`
	AverageTime      int   `json:"averageTime"` // ms
}

// LeaderboardEntry is one row of the score table, ordered by total score.
type LeaderboardEntry struct {
	UserID            string `json:"odlsId"`
	Nickname          string `json:"odlsIdname"`
	TotalScore        int    `json:"totalScore"`
	LastAnswerCorrect bool   `json:"lastAnswerCorrect"`
	LastAnswerScore   int    `json:"lastAnswerScore"`
	Position          int    `json:"position"`
}

// QuestionRecord is the raw persisted shape of a question, before snapshot
// ingestion. Options and CorrectIndexes hold JSON text; the legacy single
// CorrectIndex coexists with the newer CorrectIndexes array.
type QuestionRecord struct {
	ID             string
	Type           string
	Prompt         string
	ImageURL       string
	OptionsJSON    string
	CorrectIndex   int
	CorrectIndexes string
	TimeLimit      int // seconds, 0 means unset
	DoublePoints   bool
}

// BuildSnapshots converts persisted question records into immutable
// snapshots. The legacy correctIndex and the newer correctIndexes array are
// unified into acceptedIndexes here, once; out-of-range indexes are dropped.
// Time limits fall back question -> activity -> DefaultTimeLimit.
func BuildSnapshots(records []QuestionRecord, activityTimeLimit int) []QuestionSnapshot {
	snapshots := make([]QuestionSnapshot, 0, len(records))
	for i, rec := range records {
		var options []string
		if rec.OptionsJSON != "" {
			_ = json.Unmarshal([]byte(rec.OptionsJSON), &options)
		}

		qType := rec.Type
		if qType == "" {
			qType = TypeSingleChoice
		}

		timeLimit := rec.TimeLimit
		if timeLimit <= 0 {
			timeLimit = activityTimeLimit
		}
		if timeLimit <= 0 {
			timeLimit = DefaultTimeLimit
		}

		snapshots = append(snapshots, QuestionSnapshot{
			ID:              rec.ID,
			Type:            qType,
			Prompt:          rec.Prompt,
			ImageURL:        rec.ImageURL,
			Options:         options,
			AcceptedIndexes: acceptedIndexes(rec, qType, len(options)),
			TimeLimit:       timeLimit,
			DoublePoints:    rec.DoublePoints,
			QuestionIndex:   i,
		})
	}
	return snapshots
}

func acceptedIndexes(rec QuestionRecord, qType string, optionCount int) []int {
	if qType == TypeOpenText {
		return nil
	}

	var raw []int
	if rec.CorrectIndexes != "" {
		_ = json.Unmarshal([]byte(rec.CorrectIndexes), &raw)
	}
	if len(raw) == 0 {
		raw = []int{rec.CorrectIndex}
	}

	accepted := make([]int, 0, len(raw))
	for _, idx := range raw {
		if idx < 0 || idx >= optionCount {
			continue
		}
		if containsInt(accepted, idx) {
			continue
		}
		accepted = append(accepted, idx)
	}
	return accepted
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
