package workers

import (
	"context"
	"log/slog"
	"os"
	"story-lab/contract"
	"story-lab/observability"
	"time"

	"github.com/shirou/gopsutil/process"
)

var _ contract.Worker = (*HeartbeatWorker)(nil)

type RoomCounter interface {
	ActiveRooms() int
}

type ConnectionCounter interface {
	ConnectionCount() int
}

// HeartbeatWorker logs process health and coordinator counters every interval.
type HeartbeatWorker struct {
	log         *slog.Logger
	interval    time.Duration
	rooms       RoomCounter
	connections ConnectionCounter
	monitoring  *observability.MonitoringManager
}

func NewHeartbeatWorker(
	log *slog.Logger,
	interval time.Duration,
	rooms RoomCounter,
	connections ConnectionCounter,
	monitoring *observability.MonitoringManager,
) *HeartbeatWorker {
	return &HeartbeatWorker{
		log:         log,
		interval:    interval,
		rooms:       rooms,
		connections: connections,
		monitoring:  monitoring,
	}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.beat(p)
		}
	}
}

func (w *HeartbeatWorker) beat(p *process.Process) {
	attrs := []any{"active_rooms", w.rooms.ActiveRooms()}
	if w.connections != nil {
		attrs = append(attrs, "connections", w.connections.ConnectionCount())
	}

	stats := w.monitoring.GetLatest()
	attrs = append(attrs,
		"rounds_closed", stats.RoundsClosed,
		"continuations_ok", stats.ContinuationsSucceeded,
		"continuations_failed", stats.ContinuationsFailed,
		"events_dropped", stats.EventsDropped,
		"store_failures", stats.StoreWriteFailures,
		"alloc_mb", stats.AllocMemMb,
	)

	rss, cpu, status, err := getSelfStats(p)
	if err != nil {
		w.log.Warn("Failed to collect self stats", "error", err)
	} else {
		attrs = append(attrs, "rss_bytes", rss, "cpu_percent", cpu, "status", status)
	}
	w.log.Info("Heartbeat", attrs...)
}

// getSelfStats retrieves memory, CPU and OS status of the given process.
func getSelfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}
	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
