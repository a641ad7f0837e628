package errors

import "fmt"

var (
	ErrRoomNotFound     = fmt.Errorf("room not found")
	ErrRoomFull         = fmt.Errorf("room is full")
	ErrWrongPhase       = fmt.Errorf("wrong room phase")
	ErrTooLong          = fmt.Errorf("snippet too long")
	ErrEmptySnippet     = fmt.Errorf("snippet is empty")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrAlreadyInRoom    = fmt.Errorf("already in another room")
	ErrAlreadyStarted   = fmt.Errorf("game already started")
	ErrNotInRoom        = fmt.Errorf("not in a room")
	ErrEngineFailure    = fmt.Errorf("continuation engine failure")
	ErrStaleRound       = fmt.Errorf("round is no longer awaiting a continuation")
	ErrRateLimited      = fmt.Errorf("rate limited")
	ErrInvalidPayload   = fmt.Errorf("invalid payload")
	ErrUnknownEvent     = fmt.Errorf("unknown event type")
	ErrRoomExists       = fmt.Errorf("room already exists")

	ErrWorkerPanic       = fmt.Errorf("worker panic")
	ErrOnlyCensoredFiles = fmt.Errorf("censored directory contains directories")
	ErrEmptyWords        = fmt.Errorf("no words have been found")
)
