package workers

import (
	"context"
	"fmt"
	"log/slog"
	"story-lab/contract"
	"story-lab/domain"
	"story-lab/observability"
	"time"
)

var _ contract.Worker = (*StoreSync)(nil)

// StoreSync applies durable writes scheduled by the coordinator.
// The in-memory room stays the source of truth: a failed write is logged and counted.
type StoreSync struct {
	log          *slog.Logger
	store        contract.RoomStore
	commands     <-chan domain.Command
	storeTimeout time.Duration
	monitoring   *observability.MonitoringManager
}

func NewStoreSync(
	log *slog.Logger,
	store contract.RoomStore,
	commands <-chan domain.Command,
	storeTimeout time.Duration,
	monitoring *observability.MonitoringManager,
) *StoreSync {
	if monitoring == nil {
		monitoring = observability.NewMonitoringManager()
	}
	return &StoreSync{log: log, store: store, commands: commands, storeTimeout: storeTimeout, monitoring: monitoring}
}

func (w *StoreSync) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return nil
		case cmd, ok := <-w.commands:
			if !ok {
				w.log.Debug("Command channel is closed")
				return nil
			}
			w.Apply(ctx, cmd)
		}
	}
}

// drain flushes what is already queued at shutdown.
func (w *StoreSync) drain() {
	for {
		select {
		case cmd, ok := <-w.commands:
			if !ok {
				return
			}
			w.Apply(context.Background(), cmd)
		default:
			return
		}
	}
}

// Apply is bounded by storeTimeout only, a write already dequeued survives shutdown.
func (w *StoreSync) Apply(ctx context.Context, cmd domain.Command) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.storeTimeout)
	defer cancel()

	var err error
	switch c := cmd.(type) {
	case domain.AddParticipantCommand:
		err = w.store.AddParticipant(ctx, c.Room, c.Identity)
	case domain.RemoveParticipantCommand:
		err = w.store.RemoveParticipant(ctx, c.Room, c.Identity)
	case domain.SetStatusCommand:
		err = w.store.SetStatus(ctx, c.Room, c.Status)
	case domain.AppendStoryCommand:
		err = w.store.AppendStoryText(ctx, c.Room, c.Text)
	default:
		err = fmt.Errorf("unknown command %T", cmd)
	}
	if err != nil {
		w.monitoring.IncrStoreWriteFailures()
		w.log.Warn("Durable write failed", "room_id", cmd.RoomID(), "command", fmt.Sprintf("%T", cmd), "error", err)
	}
}
