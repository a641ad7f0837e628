package workers

import (
	"context"
	"log/slog"
	"story-lab/contract"
	"story-lab/domain"
	"time"
)

var _ contract.Worker = (*EventFanout)(nil)

// EventFanout is the single consumer of the coordinator event queue.
// Envelopes are handed to every sink in queue order, so the order of one
// room is the order in which the room produced them.
// A slow sink is bounded by sinkTimeout and never blocks the queue for longer.
type EventFanout struct {
	log         *slog.Logger
	events      <-chan domain.Envelope
	sinks       []contract.EventSink
	sinkTimeout time.Duration
}

func NewEventFanout(log *slog.Logger, events <-chan domain.Envelope, sinkTimeout time.Duration, sinks ...contract.EventSink) *EventFanout {
	return &EventFanout{log: log, events: events, sinks: sinks, sinkTimeout: sinkTimeout}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping event fanout")
			return nil
		case env, ok := <-w.events:
			if !ok {
				w.log.Debug("Event channel is closed")
				return nil
			}
			w.Fanout(ctx, env)
		}
	}
}

// Fanout One sink for each event
func (w *EventFanout) Fanout(ctx context.Context, env domain.Envelope) {
	for _, sink := range w.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
		if err := sink.Consume(sinkCtx, env); err != nil {
			w.log.Warn("Sink failed", "room_id", env.Room, "event", env.Event.Name(), "error", err)
		}
		cancel()
	}
}
