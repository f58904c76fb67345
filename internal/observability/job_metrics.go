package observability

import (
	"sync/atomic"
	"time"
)

// JobMetrics are per-process counters for the worker /stats endpoint. They
// complement the prometheus series with a view an operator can curl.
type JobMetrics struct {
	claimed      atomic.Uint64
	sent         atomic.Uint64
	duplicates   atomic.Uint64
	skipped      atomic.Uint64
	retried      atomic.Uint64
	deadLettered atomic.Uint64
	leaseLost    atomic.Uint64

	lastSent atomic.Int64 // unix nanos

	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64
}

func NewJobMetrics() *JobMetrics {
	return &JobMetrics{}
}

func (m *JobMetrics) IncClaimed()      { m.claimed.Add(1) }
func (m *JobMetrics) IncDuplicate()    { m.duplicates.Add(1) }
func (m *JobMetrics) IncSkipped()      { m.skipped.Add(1) }
func (m *JobMetrics) IncRetried()      { m.retried.Add(1) }
func (m *JobMetrics) IncDeadLettered() { m.deadLettered.Add(1) }
func (m *JobMetrics) IncLeaseLost()    { m.leaseLost.Add(1) }

// IncSent counts a notification handed to the transport at t.
func (m *JobMetrics) IncSent(t time.Time) {
	m.sent.Add(1)
	m.lastSent.Store(t.UnixNano())
}

func (m *JobMetrics) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)

	for {
		curr := m.durationMax.Load()
		if ns <= curr || m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type JobMetricsSnapshot struct {
	Claimed      uint64 `json:"claimed"`
	Sent         uint64 `json:"sent"`
	Duplicates   uint64 `json:"duplicates"`
	Skipped      uint64 `json:"skipped"`
	Retried      uint64 `json:"retried"`
	DeadLettered uint64 `json:"deadLettered"`
	LeaseLost    uint64 `json:"leaseLost"`
	// LastSentAt is nil until the first send of this process.
	LastSentAt *time.Time `json:"lastSentAt,omitempty"`

	DurationCount uint64 `json:"durationCount"`
	AvgDurationMs int64  `json:"avgDurationMs"`
	MaxDurationMs int64  `json:"maxDurationMs"`
}

func (m *JobMetrics) Snapshot() JobMetricsSnapshot {
	count := m.durationCount.Load()

	var avg time.Duration
	if count > 0 {
		avg = time.Duration(m.durationTotal.Load() / int64(count))
	}

	s := JobMetricsSnapshot{
		Claimed:       m.claimed.Load(),
		Sent:          m.sent.Load(),
		Duplicates:    m.duplicates.Load(),
		Skipped:       m.skipped.Load(),
		Retried:       m.retried.Load(),
		DeadLettered:  m.deadLettered.Load(),
		LeaseLost:     m.leaseLost.Load(),
		DurationCount: count,
		AvgDurationMs: avg.Milliseconds(),
		MaxDurationMs: time.Duration(m.durationMax.Load()).Milliseconds(),
	}
	if ns := m.lastSent.Load(); ns > 0 {
		t := time.Unix(0, ns).UTC()
		s.LastSentAt = &t
	}
	return s
}
