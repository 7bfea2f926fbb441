package domain

import "errors"

var (
	// ErrRoomNotFound is returned when no live room exists for a room code.
	ErrRoomNotFound = errors.New("room not found")
	// ErrSessionNotFound is returned when the persisted session is missing or no longer joinable.
	ErrSessionNotFound = errors.New("session not found")
	// ErrDuplicateRoom is returned by room creation when the code is already registered.
	ErrDuplicateRoom = errors.New("room already exists")
	// ErrNoQuestions is returned when a session is started with an empty question set.
	ErrNoQuestions = errors.New("no questions available")
	// ErrNoMoreQuestions is returned when advancing past the final question.
	ErrNoMoreQuestions = errors.New("no more questions")
	// ErrQuestionNotFound indicates a submitted question index is out of range.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrActivityNotFound indicates the activity's question content could not be loaded.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrParticipantNotFound is returned when a user acts before joining the room.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrUnauthorized is returned for teacher actions on a session the requester does not own.
	ErrUnauthorized = errors.New("not authorized for this session")
)
