// Package status publishes live transfer state over HTTP and WebSocket.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roundsend/roundsend/internal/progress"
)

// StreamStatus is the externally visible state of one stream.
type StreamStatus struct {
	ID        uint32 `json:"id"`
	Frames    int64  `json:"frames"`
	Bytes     int64  `json:"bytes"`
	Completed bool   `json:"completed"`
	Lossy     bool   `json:"lossy,omitempty"`
}

// Snapshot is one point-in-time view of a run, serialized to subscribers.
type Snapshot struct {
	RunID       string         `json:"run_id"`
	Role        string         `json:"role"`
	Frames      int64          `json:"frames"`
	Bytes       int64          `json:"bytes"`
	RateBps     float64        `json:"rate_bps"`
	Elapsed     float64        `json:"elapsed_seconds"`
	Streams     []StreamStatus `json:"streams"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Board is the mutable side of the status surface. The transfer loops feed
// it; the Server and the periodic log line read snapshots from it.
type Board struct {
	mu      sync.Mutex
	runID   string
	role    string
	meter   *progress.Meter
	streams map[uint32]*StreamStatus
}

// NewBoard creates a board for one run. role is "sender" or "receiver".
func NewBoard(role string) *Board {
	return &Board{
		runID:   uuid.NewString(),
		role:    role,
		meter:   progress.NewMeter(),
		streams: make(map[uint32]*StreamStatus),
	}
}

// RunID returns the unique id assigned to this run, for log correlation.
func (b *Board) RunID() string { return b.runID }

// ObserveFrame records one accepted frame for a stream.
func (b *Board) ObserveFrame(streamID uint32, payloadBytes int) {
	b.meter.Observe(payloadBytes)
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.streams[streamID]
	if st == nil {
		st = &StreamStatus{ID: streamID}
		b.streams[streamID] = st
	}
	st.Frames++
	st.Bytes += int64(payloadBytes)
}

// MarkCompleted records that a stream finished, and whether it lost bytes.
func (b *Board) MarkCompleted(streamID uint32, lossy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.streams[streamID]
	if st == nil {
		st = &StreamStatus{ID: streamID}
		b.streams[streamID] = st
	}
	st.Completed = true
	st.Lossy = lossy
}

// Snapshot returns a copy of the current state.
func (b *Board) Snapshot() Snapshot {
	stats := b.meter.Snapshot()

	b.mu.Lock()
	streams := make([]StreamStatus, 0, len(b.streams))
	for _, st := range b.streams {
		streams = append(streams, *st)
	}
	b.mu.Unlock()

	sort.Slice(streams, func(i, j int) bool { return streams[i].ID < streams[j].ID })
	return Snapshot{
		RunID:       b.runID,
		Role:        b.role,
		Frames:      stats.Frames,
		Bytes:       stats.Bytes,
		RateBps:     stats.RateBps,
		Elapsed:     stats.Elapsed.Seconds(),
		Streams:     streams,
		GeneratedAt: time.Now(),
	}
}
