package observability

import (
	"runtime"
	"sync/atomic"
)

// MonitoringStats is a point-in-time copy of the counters.
type MonitoringStats struct {
	RoundsClosed           uint64 `json:"rounds_closed"`
	ContinuationsSucceeded uint64 `json:"continuations_succeeded"`
	ContinuationsFailed    uint64 `json:"continuations_failed"`
	EventsDropped          uint64 `json:"events_dropped"`
	StoreWriteFailures     uint64 `json:"store_write_failures"`
	SnippetsCensored       uint64 `json:"snippets_censored"`
	AllocMemMb             uint64 `json:"alloc_mem_mb"`
	NumGC                  uint32 `json:"num_gc"`
}

// MonitoringManager counts what happens in the coordinator and its workers.
// Every method is safe for concurrent use.
type MonitoringManager struct {
	roundsClosed           atomic.Uint64
	continuationsSucceeded atomic.Uint64
	continuationsFailed    atomic.Uint64
	eventsDropped          atomic.Uint64
	storeWriteFailures     atomic.Uint64
	snippetsCensored       atomic.Uint64
}

func NewMonitoringManager() *MonitoringManager {
	return &MonitoringManager{}
}

func (mm *MonitoringManager) IncrRoundsClosed()           { mm.roundsClosed.Add(1) }
func (mm *MonitoringManager) IncrContinuationsSucceeded() { mm.continuationsSucceeded.Add(1) }
func (mm *MonitoringManager) IncrContinuationsFailed()    { mm.continuationsFailed.Add(1) }
func (mm *MonitoringManager) IncrEventsDropped()          { mm.eventsDropped.Add(1) }
func (mm *MonitoringManager) IncrStoreWriteFailures()     { mm.storeWriteFailures.Add(1) }
func (mm *MonitoringManager) IncrSnippetsCensored()       { mm.snippetsCensored.Add(1) }

func (mm *MonitoringManager) GetLatest() MonitoringStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MonitoringStats{
		RoundsClosed:           mm.roundsClosed.Load(),
		ContinuationsSucceeded: mm.continuationsSucceeded.Load(),
		ContinuationsFailed:    mm.continuationsFailed.Load(),
		EventsDropped:          mm.eventsDropped.Load(),
		StoreWriteFailures:     mm.storeWriteFailures.Load(),
		SnippetsCensored:       mm.snippetsCensored.Load(),
		AllocMemMb:             m.Alloc / 1024 / 1024,
		NumGC:                  m.NumGC,
	}
}
