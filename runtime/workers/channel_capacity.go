package workers

import (
	"context"
	"log/slog"
	"reflect"
	"story-lab/contract"
	"time"
)

var _ contract.Worker = (*ChannelCapacityWorker)(nil)

type NamedChannel struct {
	Name    string
	Channel any
}

type ChannelUsage struct {
	Name     string
	Length   int
	Capacity int
}

// ChannelCapacityWorker samples the fill level of the coordinator queues.
// len and cap never block, a sample may be slightly stale.
type ChannelCapacityWorker struct {
	log                  *slog.Logger
	channels             []NamedChannel
	metricInterval       time.Duration
	lowCapacityThreshold int
}

func NewChannelCapacityWorker(log *slog.Logger,
	channels []NamedChannel, metricInterval time.Duration, lowCapacityThreshold int) *ChannelCapacityWorker {
	return &ChannelCapacityWorker{
		log:                  log,
		channels:             channels,
		metricInterval:       metricInterval,
		lowCapacityThreshold: lowCapacityThreshold,
	}
}

func (w *ChannelCapacityWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping channel sampling")
			return nil
		case <-ticker.C:
			w.Report(w.Sample())
		}
	}
}

func (w *ChannelCapacityWorker) Sample() []ChannelUsage {
	usages := make([]ChannelUsage, 0, len(w.channels))
	for _, nc := range w.channels {
		v := reflect.ValueOf(nc.Channel)
		if v.Kind() != reflect.Chan {
			w.log.Error("Provided object is not a channel", "name", nc.Name)
			continue
		}
		usages = append(usages, ChannelUsage{Name: nc.Name, Length: v.Len(), Capacity: v.Cap()})
	}
	return usages
}

// Report warns about every buffered channel close to full.
func (w *ChannelCapacityWorker) Report(usages []ChannelUsage) (low []string) {
	for _, u := range usages {
		w.log.Debug("Channel usage", "channel", u.Name, "length", u.Length, "capacity", u.Capacity)
		if u.Capacity <= 0 {
			continue
		}
		if left := u.Capacity - u.Length; left <= w.lowCapacityThreshold {
			w.log.Warn("Channel capacity low", "channel", u.Name, "left", left, "capacity", u.Capacity)
			low = append(low, u.Name)
		}
	}
	return low
}
