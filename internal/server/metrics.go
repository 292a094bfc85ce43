package server

import (
	"sync/atomic"
	"time"
)

// Metrics holds server runtime metrics
type Metrics struct {
	SessionsTotal  atomic.Int64
	ActiveSessions atomic.Int64
	ResponsesTotal atomic.Int64
	StreamsTotal   atomic.Int64
	ChunksWritten  atomic.Int64
	BytesWritten   atomic.Int64
	ReadErrors     atomic.Int64
	WriteErrors    atomic.Int64

	// Time spent framing and sending responses.
	TotalLatencyNs atomic.Int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordResponse records one completed or aborted send.
func (m *Metrics) RecordResponse(bytes int64, chunks int, duration time.Duration) {
	m.ResponsesTotal.Add(1)
	m.BytesWritten.Add(bytes)
	m.ChunksWritten.Add(int64(chunks))
	m.TotalLatencyNs.Add(duration.Nanoseconds())
}

// AverageLatency returns the average send time per response
func (m *Metrics) AverageLatency() time.Duration {
	total := m.ResponsesTotal.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.TotalLatencyNs.Load() / total)
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	SessionsTotal  int64
	ActiveSessions int64
	ResponsesTotal int64
	StreamsTotal   int64
	ChunksWritten  int64
	BytesWritten   int64
	ReadErrors     int64
	WriteErrors    int64
	AverageLatency time.Duration
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		SessionsTotal:  m.SessionsTotal.Load(),
		ActiveSessions: m.ActiveSessions.Load(),
		ResponsesTotal: m.ResponsesTotal.Load(),
		StreamsTotal:   m.StreamsTotal.Load(),
		ChunksWritten:  m.ChunksWritten.Load(),
		BytesWritten:   m.BytesWritten.Load(),
		ReadErrors:     m.ReadErrors.Load(),
		WriteErrors:    m.WriteErrors.Load(),
		AverageLatency: m.AverageLatency(),
	}
}
