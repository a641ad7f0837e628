//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"story-lab/domain"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink delivers an envelope to the connections of its recipients.
type EventSink interface {
	Consume(ctx context.Context, env domain.Envelope) error
}

// RoomStore is the durable record of rooms.
// Get and FindByCode return errors.ErrRoomNotFound when the record does not exist.
type RoomStore interface {
	Get(ctx context.Context, id domain.RoomID) (domain.RoomRecord, error)
	FindByCode(ctx context.Context, code string) (domain.RoomRecord, error)
	SetStatus(ctx context.Context, id domain.RoomID, status domain.RoomStatus) error
	AddParticipant(ctx context.Context, id domain.RoomID, identity string) error
	RemoveParticipant(ctx context.Context, id domain.RoomID, identity string) error
	AppendStoryText(ctx context.Context, id domain.RoomID, text string) error
}

type ContinuationEngine interface {
	Generate(ctx context.Context, blocks []domain.ContextBlock) (string, error)
	ClassifyMood(ctx context.Context, text string) ([]string, error)
}

// MoodLookup returns an empty url when nothing matches.
type MoodLookup interface {
	FindMedia(ctx context.Context, tags []string) (string, error)
}
