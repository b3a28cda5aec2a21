// Package reassembly turns an unordered, lossy, duplicated frame arrival
// order back into one contiguous byte stream per stream id.
package reassembly

import (
	"fmt"
	"io"
	"time"

	"github.com/roundsend/roundsend/internal/wire"
)

// DefaultMaxPending bounds how many out-of-order entries a single stream may
// buffer. A sender that dies without a final marker would otherwise grow the
// pending map without limit.
const DefaultMaxPending = 65536

// GapReport describes what was abandoned when a stream finished without
// receiving every sequence number. A zero Orphaned/Evicted report with
// Expected > FinalSeq means the stream completed with no loss.
type GapReport struct {
	StreamID uint32
	Expected uint32 // next sequence still awaited when the stream finished
	FinalSeq uint32 // final sequence announced by the sender; 0 if never seen
	Orphaned int    // buffered entries unreachable from Expected
	Evicted  int    // entries dropped earlier by the lookahead bound
}

// Lossy reports whether any bytes were permanently lost for this run.
func (g GapReport) Lossy() bool {
	if g.Orphaned > 0 || g.Evicted > 0 {
		return true
	}
	return g.FinalSeq != 0 && g.Expected <= g.FinalSeq
}

func (g GapReport) String() string {
	return fmt.Sprintf("stream=%d expected=%d final=%d orphaned=%d evicted=%d",
		g.StreamID, g.Expected, g.FinalSeq, g.Orphaned, g.Evicted)
}

// Reassembler is the per-stream ordering state machine. It is not safe for
// concurrent use; each instance is owned by the goroutine driving it.
type Reassembler struct {
	streamID   uint32
	sink       io.WriteCloser // nil discards emitted bytes
	expected   uint32
	pending    map[uint32][]byte
	finalSeen  bool
	finalSeq   uint32
	finalAt    time.Time
	maxPending int
	evicted    int
	frames     int64
	bytesOut   int64
	finished   bool
	now        func() time.Time
}

// Option configures a Reassembler.
type Option func(*Reassembler)

// WithMaxPending overrides the out-of-order lookahead bound. n <= 0 disables
// the bound.
func WithMaxPending(n int) Option {
	return func(r *Reassembler) { r.maxPending = n }
}

// WithClock overrides the time source used to stamp final-marker arrivals.
func WithClock(now func() time.Time) Option {
	return func(r *Reassembler) { r.now = now }
}

// New returns a reassembler for one stream writing ordered bytes to sink.
// A nil sink accepts frames but discards their bytes.
func New(streamID uint32, sink io.WriteCloser, opts ...Option) *Reassembler {
	r := &Reassembler{
		streamID:   streamID,
		sink:       sink,
		expected:   1,
		pending:    make(map[uint32][]byte),
		maxPending: DefaultMaxPending,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ingest consumes one decoded frame. It returns true once the stream has
// reached natural completion, i.e. the announced final sequence and
// everything before it has been emitted; the sink is closed at that point.
// Frames arriving after completion are ignored.
//
// A returned error is a sink failure: the stream degrades to discarding its
// output but keeps consuming frames so that completion is still tracked.
func (r *Reassembler) Ingest(f wire.Frame) (bool, error) {
	if r.finished {
		return true, nil
	}
	if f.Seq < r.expected {
		// Stale duplicate: everything below expected was already emitted.
		return false, nil
	}
	r.frames++

	var err error
	if f.Seq == r.expected {
		err = r.emit(f.Payload)
		r.expected++
		if derr := r.drain(); err == nil {
			err = derr
		}
	} else if _, dup := r.pending[f.Seq]; !dup {
		// First writer wins; a duplicate out-of-order arrival never
		// overwrites the buffered payload.
		r.pending[f.Seq] = f.Payload
		r.enforceLookahead()
	}

	if f.Final {
		r.finalSeen = true
		r.finalSeq = f.Seq
		r.finalAt = r.now()
	}

	if r.finalSeen && r.expected > r.finalSeq {
		if cerr := r.close(); err == nil {
			err = cerr
		}
		return true, err
	}
	return false, err
}

// Flush force-completes the stream: it emits whatever contiguous run is
// buffered at the expected sequence, closes the sink, and reports the gap.
// Calling Flush on an already finished stream just returns its report.
func (r *Reassembler) Flush() (GapReport, error) {
	var err error
	if !r.finished {
		err = r.drain()
		if cerr := r.close(); err == nil {
			err = cerr
		}
	}
	return r.Report(), err
}

// Report returns the stream's gap accounting without changing state.
func (r *Reassembler) Report() GapReport {
	return GapReport{
		StreamID: r.streamID,
		Expected: r.expected,
		FinalSeq: r.finalSeq,
		Orphaned: len(r.pending),
		Evicted:  r.evicted,
	}
}

// Done reports whether the stream has finished, naturally or by Flush.
func (r *Reassembler) Done() bool { return r.finished }

// FinalSeen reports whether a final marker has been observed.
func (r *Reassembler) FinalSeen() bool { return r.finalSeen }

// FinalObservedAt returns the arrival time of the most recent final marker.
func (r *Reassembler) FinalObservedAt() time.Time { return r.finalAt }

// StreamID returns the stream id this reassembler serves.
func (r *Reassembler) StreamID() uint32 { return r.streamID }

// BytesEmitted returns the count of ordered payload bytes emitted so far.
func (r *Reassembler) BytesEmitted() int64 { return r.bytesOut }

// Frames returns the count of non-stale frames ingested so far.
func (r *Reassembler) Frames() int64 { return r.frames }

// drain emits the contiguous run buffered at the expected sequence.
func (r *Reassembler) drain() error {
	var err error
	for {
		payload, ok := r.pending[r.expected]
		if !ok {
			return err
		}
		delete(r.pending, r.expected)
		if eerr := r.emit(payload); err == nil {
			err = eerr
		}
		r.expected++
	}
}

func (r *Reassembler) emit(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	r.bytesOut += int64(len(payload))
	if r.sink == nil {
		return nil
	}
	if _, err := r.sink.Write(payload); err != nil {
		// Degrade to discard; later frames still advance the sequence state.
		r.sink = nil
		return fmt.Errorf("stream %d sink write: %w", r.streamID, err)
	}
	return nil
}

func (r *Reassembler) enforceLookahead() {
	if r.maxPending <= 0 || len(r.pending) <= r.maxPending {
		return
	}
	lowest := uint32(0)
	found := false
	for seq := range r.pending {
		if !found || seq < lowest {
			lowest = seq
			found = true
		}
	}
	delete(r.pending, lowest)
	r.evicted++
}

func (r *Reassembler) close() error {
	r.finished = true
	if r.sink == nil {
		return nil
	}
	sink := r.sink
	r.sink = nil
	if err := sink.Close(); err != nil {
		return fmt.Errorf("stream %d sink close: %w", r.streamID, err)
	}
	return nil
}
