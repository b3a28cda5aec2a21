// Package progress tracks frame and byte throughput for a running transfer.
package progress

import (
	"sync"
	"time"
)

// Stats is a point-in-time throughput snapshot.
type Stats struct {
	Frames    int64
	Bytes     int64
	RateBps   float64
	Elapsed   time.Duration
	StartedAt time.Time
}

// Meter counts frames and payload bytes and keeps an exponentially smoothed
// byte rate. It is safe for concurrent use; the receive loop feeds it while
// the status server reads snapshots.
type Meter struct {
	mu        sync.Mutex
	startedAt time.Time
	frames    int64
	bytes     int64
	lastAt    time.Time
	lastBytes int64
	rateBps   float64
	alpha     float64
	now       func() time.Time
}

// NewMeter returns a started meter with the default smoothing factor.
func NewMeter() *Meter {
	return NewMeterWithNow(time.Now)
}

// NewMeterWithNow returns a meter driven by a custom time source (for tests).
func NewMeterWithNow(now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	start := now()
	return &Meter{startedAt: start, lastAt: start, alpha: 0.2, now: now}
}

// Observe records one frame carrying payloadBytes of payload.
func (m *Meter) Observe(payloadBytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.frames++
	m.bytes += int64(payloadBytes)

	deltaBytes := m.bytes - m.lastBytes
	deltaTime := now.Sub(m.lastAt).Seconds()
	if deltaTime <= 0 {
		return
	}
	inst := float64(deltaBytes) / deltaTime
	if m.rateBps == 0 {
		m.rateBps = inst
	} else {
		m.rateBps = m.alpha*inst + (1-m.alpha)*m.rateBps
	}
	m.lastAt = now
	m.lastBytes = m.bytes
}

// Snapshot returns the current counters and smoothed rate.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Frames:    m.frames,
		Bytes:     m.bytes,
		RateBps:   m.rateBps,
		Elapsed:   m.now().Sub(m.startedAt),
		StartedAt: m.startedAt,
	}
}
