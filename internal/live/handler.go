// Package live mediates between real-time connections, the in-memory room
// registry, and the persistent store. One handler method per inbound event
// kind; each validates the sender, mutates the registry synchronously,
// persists durable side effects best effort, and broadcasts the outcome.
package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"classbland-live/internal/domain"
	"classbland-live/internal/room"
)

// Server -> client event names.
const (
	EventRoomState         = "room-state"
	EventParticipantJoined = "participant-joined"
	EventParticipantLeft   = "participant-left"
	EventQuestionStarted   = "question-started"
	EventTimeSync          = "time-sync"
	EventAnswerReceived    = "answer-received"
	EventQuestionResults   = "question-results"
	EventSessionEnded      = "session-ended"
	EventError             = "error"
)

// Client -> server event names.
const (
	EventJoinRoom       = "join-room"
	EventSubmitAnswer   = "submit-answer"
	EventTeacherJoin    = "teacher:join-room"
	EventTeacherStart   = "teacher:start-session"
	EventTeacherResults = "teacher:show-results"
	EventTeacherNext    = "teacher:next-question"
	EventTeacherEnd     = "teacher:end-session"
)

// JoinRoomPayload is sent by a student joining with a room code.
type JoinRoomPayload struct {
	RoomCode string `json:"roomCode"`
	UserID   string `json:"odlsId"`
	Nickname string `json:"odlsIdname"`
}

// SessionPayload is the common shape of teacher-driven events.
type SessionPayload struct {
	SessionID string `json:"sessionId"`
}

// SubmitAnswerPayload is a student's answer for the current question.
type SubmitAnswerPayload struct {
	RoomCode      string `json:"roomCode"`
	QuestionIndex int    `json:"questionIndex"`
	SelectedIndex int    `json:"selectedIndex"`
	TimeSpent     int64  `json:"timeSpent"` // ms, client-reported
}

type questionStartedPayload struct {
	Question      domain.ClientQuestion `json:"question"`
	QuestionIndex int                   `json:"questionIndex"`
	ServerTime    int64                 `json:"serverTime"`
}

type timeSyncPayload struct {
	RemainingTime int64 `json:"remainingTime"`
	ServerTime    int64 `json:"serverTime"`
}

type answerReceivedPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type questionResultsPayload struct {
	Stats           domain.QuestionStats      `json:"stats"`
	Leaderboard     []domain.LeaderboardEntry `json:"leaderboard"`
	AcceptedIndexes []int                     `json:"acceptedIndexes"`
}

type sessionEndedPayload struct {
	FinalLeaderboard []domain.LeaderboardEntry `json:"finalLeaderboard"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Broadcaster delivers named events to connections. Implemented by the
// websocket hub; faked in tests.
type Broadcaster interface {
	// Join adds the connection to a room group for subsequent ToRoom calls.
	Join(roomCode, connID string)
	ToConn(connID, event string, payload any)
	ToRoom(roomCode, event string, payload any)
	// ToOthers broadcasts to the room excluding one connection.
	ToOthers(roomCode, exceptConnID, event string, payload any)
}

// Options tunes the handler; zero values fall back to defaults.
type Options struct {
	// Grace is the delay between session end and room deletion, letting
	// trailing leaderboard reads complete.
	Grace time.Duration
	// ResultsTop caps the leaderboard broadcast with question results.
	ResultsTop int
	// StoreTimeout bounds each asynchronous store write.
	StoreTimeout time.Duration
}

const (
	defaultGrace        = 60 * time.Second
	defaultResultsTop   = 10
	defaultStoreTimeout = 5 * time.Second
)

// Handler drives the live session protocol. All registry mutations happen
// synchronously inside the called method; store writes that follow an
// accepted mutation run in background goroutines and their failures are
// logged and swallowed, never rolled back.
type Handler struct {
	registry  *room.Registry
	tracker   *ConnTracker
	store     Store
	snapshots SnapshotSource
	hub       Broadcaster
	log       *zap.Logger
	opts      Options
	now       func() time.Time

	writes sync.WaitGroup
}

func NewHandler(registry *room.Registry, tracker *ConnTracker, store Store, snapshots SnapshotSource, hub Broadcaster, log *zap.Logger, opts Options) *Handler {
	if opts.Grace <= 0 {
		opts.Grace = defaultGrace
	}
	if opts.ResultsTop <= 0 {
		opts.ResultsTop = defaultResultsTop
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	return &Handler{
		registry:  registry,
		tracker:   tracker,
		store:     store,
		snapshots: snapshots,
		hub:       hub,
		log:       log,
		opts:      opts,
		now:       time.Now,
	}
}

// Drain blocks until all pending background store writes finish. Used on
// shutdown and in tests.
func (h *Handler) Drain() {
	h.writes.Wait()
}

// HandleJoinRoom admits a student into a room by code. The room is created
// on first join from the persisted session; the participant row is
// upserted so a rejoin keeps its persisted score identity.
func (h *Handler) HandleJoinRoom(ctx context.Context, connID string, p JoinRoomPayload) {
	sess, err := h.store.SessionByRoomCode(ctx, p.RoomCode)
	if err != nil {
		h.sendError(connID, "session not found or already finished")
		return
	}

	rec, err := h.store.UpsertParticipant(ctx, sess.ID, p.UserID, p.Nickname)
	if err != nil {
		h.log.Error("participant upsert failed",
			zap.String("room", p.RoomCode), zap.String("user", p.UserID), zap.Error(err))
		h.sendError(connID, "could not join the room")
		return
	}

	if err := h.ensureRoom(ctx, sess, false); err != nil {
		h.sendError(connID, errorMessage(err))
		return
	}

	participant := domain.Participant{
		ID:          rec.ID,
		UserID:      rec.UserID,
		Nickname:    p.Nickname,
		TotalScore:  rec.TotalScore,
		IsConnected: true,
	}
	if err := h.registry.AddParticipant(sess.RoomCode, participant); err != nil {
		h.sendError(connID, errorMessage(err))
		return
	}

	h.tracker.Bind(connID, Binding{RoomCode: sess.RoomCode, UserID: p.UserID})
	h.hub.Join(sess.RoomCode, connID)

	state, err := h.registry.State(sess.RoomCode)
	if err != nil {
		h.sendError(connID, errorMessage(err))
		return
	}
	h.hub.ToConn(connID, EventRoomState, state)
	h.hub.ToOthers(sess.RoomCode, connID, EventParticipantJoined, participant)

	// Late joiners of a running question get a clock correction.
	if state.Status == domain.StatusInProgress && state.CurrentQuestion != nil {
		h.hub.ToConn(connID, EventTimeSync, timeSyncPayload{
			RemainingTime: h.registry.RemainingTime(sess.RoomCode).Milliseconds(),
			ServerTime:    h.now().UnixMilli(),
		})
	}

	h.log.Info("participant joined",
		zap.String("room", sess.RoomCode), zap.String("user", p.UserID), zap.String("nickname", p.Nickname))
}

// HandleTeacherJoin connects the owning teacher to their session's room,
// creating and seeding it from the store when absent.
func (h *Handler) HandleTeacherJoin(ctx context.Context, connID, requesterID string, p SessionPayload) {
	sess, ok := h.authorize(ctx, connID, requesterID, p.SessionID)
	if !ok {
		return
	}

	if err := h.ensureRoom(ctx, sess, true); err != nil {
		h.sendError(connID, errorMessage(err))
		return
	}

	h.tracker.Bind(connID, Binding{RoomCode: sess.RoomCode, UserID: requesterID, IsTeacher: true})
	h.hub.Join(sess.RoomCode, connID)

	state, err := h.registry.State(sess.RoomCode)
	if err != nil {
		h.sendError(connID, errorMessage(err))
		return
	}
	h.hub.ToConn(connID, EventRoomState, state)

	h.log.Info("teacher joined", zap.String("room", sess.RoomCode), zap.String("session", sess.ID))
}

// HandleStartSession moves a WAITING room to its first question and
// broadcasts it without accepted answers.
func (h *Handler) HandleStartSession(ctx context.Context, connID, requesterID string, p SessionPayload) {
	sess, ok := h.authorize(ctx, connID, requesterID, p.SessionID)
	if !ok {
		return
	}

	question, err := h.registry.StartSession(sess.RoomCode)
	if err != nil {
		h.sendError(connID, errorMessage(err))
		return
	}

	startedAt := h.now()
	h.persist("session start", func(ctx context.Context) error {
		return h.store.UpdateProgress(ctx, sess.ID, domain.StatusInProgress, question.QuestionIndex, &startedAt)
	})

	h.hub.ToRoom(sess.RoomCode, EventQuestionStarted, questionStartedPayload{
		Question:      question.ForClient(),
		QuestionIndex: question.QuestionIndex,
		ServerTime:    startedAt.UnixMilli(),
	})
	h.log.Info("session started", zap.String("room", sess.RoomCode))
}

// HandleSubmitAnswer records a student's answer at most once and replies to
// the sender only. The broadcast-visible outcome is decided before the
// durable write completes.
func (h *Handler) HandleSubmitAnswer(ctx context.Context, connID string, p SubmitAnswerPayload) {
	binding, ok := h.tracker.Lookup(connID)
	if !ok || binding.IsTeacher {
		h.sendError(connID, "not joined to a room")
		return
	}

	res, err := h.registry.SubmitAnswer(p.RoomCode, binding.UserID, p.QuestionIndex, p.SelectedIndex, p.TimeSpent)
	if err != nil {
		h.sendError(connID, errorMessage(err))
		return
	}
	if !res.Accepted {
		h.hub.ToConn(connID, EventAnswerReceived, answerReceivedPayload{
			Success: false,
			Message: "answer already submitted for this question",
		})
		return
	}

	participant, perr := h.registry.Participant(p.RoomCode, binding.UserID)
	question, qerr := h.registry.Question(p.RoomCode, p.QuestionIndex)
	state, serr := h.registry.State(p.RoomCode)
	if perr == nil && qerr == nil && serr == nil {
		rec := AnswerRecord{
			SessionID:     state.SessionID,
			ParticipantID: participant.ID,
			QuestionID:    question.ID,
			QuestionIndex: p.QuestionIndex,
			SelectedIndex: p.SelectedIndex,
			IsCorrect:     res.Correct,
			TimeSpentMs:   p.TimeSpent,
			Score:         res.Score,
		}
		score := res.Score
		h.persist("answer", func(ctx context.Context) error {
			if err := h.store.CreateAnswer(ctx, rec); err != nil {
				return err
			}
			return h.store.AddScore(ctx, rec.ParticipantID, score)
		})
	}

	h.hub.ToConn(connID, EventAnswerReceived, answerReceivedPayload{Success: true})
	h.log.Debug("answer recorded",
		zap.String("room", p.RoomCode), zap.String("user", binding.UserID),
		zap.Int("question", p.QuestionIndex), zap.Bool("correct", res.Correct), zap.Int("score", res.Score))
}

// HandleShowResults freezes the current question and broadcasts its stats,
// the top of the leaderboard, and the accepted answer indexes.
func (h *Handler) HandleShowResults(ctx context.Context, connID, requesterID string, p SessionPayload) {
	sess, ok := h.authorize(ctx, connID, requesterID, p.SessionID)
	if !ok {
		return
	}

	if err := h.registry.ShowResults(sess.RoomCode); err != nil {
		h.sendError(connID, errorMessage(err))
		return
	}

	state, err := h.registry.State(sess.RoomCode)
	if err != nil {
		h.sendError(connID, errorMessage(err))
		return
	}
	idx := state.CurrentQuestionIndex

	stats, err := h.registry.Stats(sess.RoomCode, idx)
	if err != nil {
		h.sendError(connID, errorMessage(err))
		return
	}
	leaderboard, err := h.registry.LeaderboardAt(sess.RoomCode, idx)
	if err != nil {
		h.sendError(connID, errorMessage(err))
		return
	}
	if len(leaderboard) > h.opts.ResultsTop {
		leaderboard = leaderboard[:h.opts.ResultsTop]
	}
	question, err := h.registry.Question(sess.RoomCode, idx)
	if err != nil {
		h.sendError(connID, errorMessage(err))
		return
	}

	h.persist("show results", func(ctx context.Context) error {
		return h.store.UpdateProgress(ctx, sess.ID, domain.StatusShowingResults, idx, nil)
	})

	h.hub.ToRoom(sess.RoomCode, EventQuestionResults, questionResultsPayload{
		Stats:           stats,
		Leaderboard:     leaderboard,
		AcceptedIndexes: question.AcceptedIndexes,
	})
	h.log.Info("question results shown", zap.String("room", sess.RoomCode), zap.Int("question", idx))
}

// HandleNextQuestion advances the room and broadcasts the new question.
func (h *Handler) HandleNextQuestion(ctx context.Context, connID, requesterID string, p SessionPayload) {
	sess, ok := h.authorize(ctx, connID, requesterID, p.SessionID)
	if !ok {
		return
	}

	question, err := h.registry.NextQuestion(sess.RoomCode)
	if err != nil {
		h.sendError(connID, errorMessage(err))
		return
	}

	startedAt := h.now()
	h.persist("next question", func(ctx context.Context) error {
		return h.store.UpdateProgress(ctx, sess.ID, domain.StatusInProgress, question.QuestionIndex, &startedAt)
	})

	h.hub.ToRoom(sess.RoomCode, EventQuestionStarted, questionStartedPayload{
		Question:      question.ForClient(),
		QuestionIndex: question.QuestionIndex,
		ServerTime:    startedAt.UnixMilli(),
	})
	h.log.Info("question advanced", zap.String("room", sess.RoomCode), zap.Int("question", question.QuestionIndex))
}

// HandleEndSession completes the session, broadcasts the final leaderboard,
// and arms the grace-window cleanup timer.
func (h *Handler) HandleEndSession(ctx context.Context, connID, requesterID string, p SessionPayload) {
	sess, ok := h.authorize(ctx, connID, requesterID, p.SessionID)
	if !ok {
		return
	}

	leaderboard, err := h.registry.EndSession(sess.RoomCode)
	if err != nil {
		h.sendError(connID, errorMessage(err))
		return
	}

	completedAt := h.now()
	h.persist("session end", func(ctx context.Context) error {
		return h.store.CompleteSession(ctx, sess.ID, completedAt)
	})

	h.hub.ToRoom(sess.RoomCode, EventSessionEnded, sessionEndedPayload{FinalLeaderboard: leaderboard})
	h.registry.ScheduleDelete(sess.RoomCode, h.opts.Grace)
	h.log.Info("session ended", zap.String("room", sess.RoomCode), zap.String("session", sess.ID))
}

// HandleDisconnect releases the connection's binding. Students are marked
// disconnected but keep their roster entry and answers; teachers leave no
// roster trace.
func (h *Handler) HandleDisconnect(ctx context.Context, connID string) {
	binding, ok := h.tracker.Lookup(connID)
	if !ok {
		return
	}
	h.tracker.Unbind(connID)

	if binding.IsTeacher {
		return
	}

	_ = h.registry.RemoveParticipant(binding.RoomCode, binding.UserID)
	h.hub.ToOthers(binding.RoomCode, connID, EventParticipantLeft, map[string]string{"odlsId": binding.UserID})

	if state, err := h.registry.State(binding.RoomCode); err == nil {
		sessionID, userID := state.SessionID, binding.UserID
		h.persist("disconnect", func(ctx context.Context) error {
			return h.store.SetConnected(ctx, sessionID, userID, false)
		})
	}
	h.log.Info("participant left", zap.String("room", binding.RoomCode), zap.String("user", binding.UserID))
}

// ensureRoom creates the in-memory room from the persisted session if it
// does not exist yet. Creation is atomic in the registry, so a student and
// the teacher joining simultaneously cannot double-create; the loser of the
// race just reuses the existing room.
func (h *Handler) ensureRoom(ctx context.Context, sess SessionRecord, seedParticipants bool) error {
	if _, err := h.registry.State(sess.RoomCode); err == nil {
		return nil
	}

	snapshots, err := h.snapshots.Snapshots(ctx, sess.Activity.ID)
	if err != nil {
		h.log.Error("snapshot load failed", zap.String("activity", sess.Activity.ID), zap.Error(err))
		return domain.ErrSessionNotFound
	}

	if _, err := h.registry.CreateRoom(sess.RoomCode, sess.ID, snapshots, sess.Activity.BasePoints); err != nil {
		if errors.Is(err, domain.ErrDuplicateRoom) {
			return nil
		}
		return err
	}

	if seedParticipants {
		for _, rec := range sess.Participants {
			_ = h.registry.AddParticipant(sess.RoomCode, domain.Participant{
				ID:          rec.ID,
				UserID:      rec.UserID,
				Nickname:    rec.Nickname,
				TotalScore:  rec.TotalScore,
				IsConnected: rec.IsConnected,
			})
		}
	}
	return nil
}

// authorize loads the session and checks the requester owns it. On failure
// an error event goes to the requesting connection only.
func (h *Handler) authorize(ctx context.Context, connID, requesterID, sessionID string) (SessionRecord, bool) {
	sess, err := h.store.SessionByID(ctx, sessionID)
	if err != nil {
		h.sendError(connID, "session not found")
		return SessionRecord{}, false
	}
	if sess.TeacherID != requesterID {
		h.sendError(connID, errorMessage(domain.ErrUnauthorized))
		return SessionRecord{}, false
	}
	return sess, true
}

// persist runs a store write in the background. The client-visible outcome
// is already decided; a failure here only loses audit data, so it is logged
// and swallowed.
func (h *Handler) persist(op string, fn func(context.Context) error) {
	h.writes.Add(1)
	go func() {
		defer h.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.opts.StoreTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			h.log.Warn("store write failed", zap.String("op", op), zap.Error(err))
		}
	}()
}

func (h *Handler) sendError(connID, message string) {
	h.hub.ToConn(connID, EventError, errorPayload{Message: message})
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, domain.ErrNoQuestions):
		return "no questions in this activity"
	case errors.Is(err, domain.ErrNoMoreQuestions):
		return "no more questions"
	case errors.Is(err, domain.ErrQuestionNotFound):
		return "question not found"
	case errors.Is(err, domain.ErrParticipantNotFound):
		return "join the room before answering"
	case errors.Is(err, domain.ErrUnauthorized):
		return "not authorized for this session"
	default:
		return "internal error"
	}
}
