package processor

import (
	"sync/atomic"
	"time"

	"github.com/nimasrn/credit-topup/pkg/prom"
)

// SweepStats is a point-in-time view of SweepMetrics.
type SweepStats struct {
	Settled     int64
	Pending     int64
	Failed      int64
	AvgDuration time.Duration
	Rate        float64
	Uptime      time.Duration
}

// logFields flattens the snapshot for the periodic report line.
func (s SweepStats) logFields() []any {
	return []any{
		"settled", s.Settled,
		"pending", s.Pending,
		"failed", s.Failed,
		"avg_duration_ms", s.AvgDuration.Milliseconds(),
		"rate_per_second", s.Rate,
		"uptime", s.Uptime.Round(time.Second).String(),
	}
}

// SweepMetrics counts how re-verification deliveries ended. Every event is
// mirrored to the reverify_jobs_total counter.
type SweepMetrics struct {
	settled  atomic.Int64
	pending  atomic.Int64
	failed   atomic.Int64
	busyNs   atomic.Int64
	sinceNs  atomic.Int64
	recorder func(result string)
}

func NewSweepMetrics() *SweepMetrics {
	m := &SweepMetrics{recorder: prom.ReverifyJob}
	m.sinceNs.Store(time.Now().UnixNano())
	return m
}

// Settled counts a delivery that was acknowledged after d of work.
func (m *SweepMetrics) Settled(d time.Duration) {
	m.settled.Add(1)
	m.busyNs.Add(int64(d))
	m.recorder("done")
}

// Pending counts a delivery left on the stream because the gateway has not
// settled the payment yet.
func (m *SweepMetrics) Pending() {
	m.pending.Add(1)
	m.recorder("pending")
}

func (m *SweepMetrics) Failed() {
	m.failed.Add(1)
	m.recorder("failed")
}

func (m *SweepMetrics) Snapshot() SweepStats {
	s := SweepStats{
		Settled: m.settled.Load(),
		Pending: m.pending.Load(),
		Failed:  m.failed.Load(),
		Uptime:  time.Since(time.Unix(0, m.sinceNs.Load())),
	}
	if s.Settled > 0 {
		s.AvgDuration = time.Duration(m.busyNs.Load() / s.Settled)
	}
	if secs := s.Uptime.Seconds(); secs > 0 {
		s.Rate = float64(s.Settled) / secs
	}
	return s
}

func (m *SweepMetrics) Reset() {
	m.settled.Store(0)
	m.pending.Store(0)
	m.failed.Store(0)
	m.busyNs.Store(0)
	m.sinceNs.Store(time.Now().UnixNano())
}
