package gateway

import (
	"sync/atomic"
	"time"
)

type BreakerState int32

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CallMetrics tracks request outcomes against the gateway.
type CallMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	ConsecutiveFails atomic.Int32
	LastErrorTime    atomic.Int64
	LastSuccessTime  atomic.Int64
}

func (m *CallMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.ConsecutiveFails.Store(0)
	m.LastSuccessTime.Store(time.Now().Unix())
}

func (m *CallMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
	m.LastErrorTime.Store(time.Now().Unix())
}

func (m *CallMetrics) AvgLatencyMs() int64 {
	ok := m.SuccessfulReqs.Load()
	if ok == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / ok
}

func (m *CallMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

// Breaker opens after threshold consecutive transport failures and lets a
// single probe through once timeout has elapsed.
type Breaker struct {
	threshold int32
	timeout   time.Duration
	metrics   *CallMetrics
	state     atomic.Int32
	openUntil atomic.Int64
}

func NewBreaker(threshold int, timeout time.Duration) *Breaker {
	return &Breaker{
		threshold: int32(threshold),
		timeout:   timeout,
		metrics:   &CallMetrics{},
	}
}

func (b *Breaker) Metrics() *CallMetrics {
	return b.metrics
}

func (b *Breaker) State() BreakerState {
	return BreakerState(b.state.Load())
}

// Allow reports whether a request may be sent now.
func (b *Breaker) Allow() bool {
	if b.threshold <= 0 {
		return true
	}
	switch b.State() {
	case StateOpen:
		if time.Now().UnixNano() < b.openUntil.Load() {
			return false
		}
		return b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen))
	case StateHalfOpen:
		// a probe is already in flight
		return false
	}
	return true
}

func (b *Breaker) Success(latency time.Duration) {
	b.metrics.RecordSuccess(latency.Milliseconds())
	b.state.Store(int32(StateClosed))
}

// Failure records a transport failure and reports whether the breaker opened.
func (b *Breaker) Failure() bool {
	b.metrics.RecordFailure()
	if b.threshold <= 0 {
		return false
	}
	if b.State() == StateHalfOpen || b.metrics.ConsecutiveFails.Load() >= b.threshold {
		b.openUntil.Store(time.Now().Add(b.timeout).UnixNano())
		b.state.Store(int32(StateOpen))
		return true
	}
	return false
}
