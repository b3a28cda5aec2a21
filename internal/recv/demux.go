package recv

import (
	"io"
	"log/slog"
	"time"

	"github.com/roundsend/roundsend/internal/reassembly"
	"github.com/roundsend/roundsend/internal/status"
	"github.com/roundsend/roundsend/internal/wire"
)

// SinkOpener creates the output for a stream the first time it is accepted.
type SinkOpener interface {
	OpenSink(streamID uint32) (io.WriteCloser, error)
}

// Counters aggregates per-run frame accounting.
type Counters struct {
	Accepted      int64
	Unsubscribed  int64
	ShortDatagram int64
}

// Demux routes decoded frames to per-stream reassemblers, creating them (and
// their sinks) lazily on first acceptance. It is owned by the receive loop's
// goroutine and is not safe for concurrent use.
type Demux struct {
	sub        Subscription
	sinks      SinkOpener
	logger     *slog.Logger
	board      *status.Board
	maxPending int
	clock      func() time.Time

	streams  map[uint32]*reassembly.Reassembler
	finished map[uint32]bool
	reports  []reassembly.GapReport
	counters Counters
}

// DemuxOption configures a Demux.
type DemuxOption func(*Demux)

// WithLogger sets the logger; the default discards nothing useful, so set it.
func WithLogger(logger *slog.Logger) DemuxOption {
	return func(d *Demux) { d.logger = logger }
}

// WithBoard publishes per-stream progress to a status board.
func WithBoard(board *status.Board) DemuxOption {
	return func(d *Demux) { d.board = board }
}

// WithMaxPending sets the per-stream out-of-order lookahead bound. Zero
// keeps the default; a negative value disables the bound.
func WithMaxPending(n int) DemuxOption {
	return func(d *Demux) {
		if n != 0 {
			d.maxPending = n
		}
	}
}

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) DemuxOption {
	return func(d *Demux) { d.clock = now }
}

// NewDemux builds a demultiplexer for one run.
func NewDemux(sub Subscription, sinks SinkOpener, opts ...DemuxOption) *Demux {
	d := &Demux{
		sub:        sub,
		sinks:      sinks,
		logger:     slog.Default(),
		maxPending: reassembly.DefaultMaxPending,
		clock:      time.Now,
		streams:    make(map[uint32]*reassembly.Reassembler),
		finished:   make(map[uint32]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Route feeds one decoded frame to its stream's reassembler, honoring the
// subscription policy. Frames for unsubscribed streams are dropped with no
// state mutation.
func (d *Demux) Route(f wire.Frame) {
	if !d.sub.Accepts(f.StreamID) {
		d.counters.Unsubscribed++
		return
	}
	r, ok := d.streams[f.StreamID]
	if !ok {
		r = d.open(f.StreamID)
	}
	d.counters.Accepted++
	if d.board != nil {
		d.board.ObserveFrame(f.StreamID, len(f.Payload))
	}

	done, err := r.Ingest(f)
	if err != nil {
		d.logger.Warn("sink failure, stream output degraded to discard",
			"stream", f.StreamID, "err", err)
	}
	if done && !d.finished[f.StreamID] {
		d.finish(r, false)
	}
}

func (d *Demux) open(streamID uint32) *reassembly.Reassembler {
	sink, err := d.sinks.OpenSink(streamID)
	if err != nil {
		// The stream's frames are still consumed so completion can be
		// tracked, but the bytes go nowhere. Reported once, here.
		d.logger.Warn("cannot open sink, stream bytes will be discarded",
			"stream", streamID, "err", err)
		sink = nil
	} else {
		d.logger.Info("new stream", "stream", streamID)
	}
	r := reassembly.New(streamID, sink,
		reassembly.WithMaxPending(d.maxPending),
		reassembly.WithClock(d.clock))
	d.streams[streamID] = r
	return r
}

func (d *Demux) finish(r *reassembly.Reassembler, forced bool) {
	report, err := r.Flush()
	if err != nil {
		d.logger.Warn("stream close failed", "stream", r.StreamID(), "err", err)
	}
	d.finished[r.StreamID()] = true
	d.reports = append(d.reports, report)
	if d.board != nil {
		d.board.MarkCompleted(r.StreamID(), report.Lossy())
	}

	switch {
	case forced && report.Lossy():
		d.logger.Warn("stream forced to completion with gaps", "gap", report.String())
	case forced:
		d.logger.Info("stream forced to completion", "stream", r.StreamID())
	default:
		d.logger.Info("stream complete",
			"stream", r.StreamID(), "frames", r.Frames(), "bytes", r.BytesEmitted())
	}
}

// ForceExpired force-completes every live stream whose final marker was seen
// longer than timeout ago. It returns how many streams were forced.
func (d *Demux) ForceExpired(now time.Time, timeout time.Duration) int {
	forced := 0
	for id, r := range d.streams {
		if d.finished[id] || !r.FinalSeen() {
			continue
		}
		if now.Sub(r.FinalObservedAt()) > timeout {
			d.finish(r, true)
			forced++
		}
	}
	return forced
}

// FlushAll force-completes every unfinished stream, for shutdown.
func (d *Demux) FlushAll() {
	for id, r := range d.streams {
		if !d.finished[id] {
			d.finish(r, true)
		}
	}
}

// AllSubscribedComplete reports whether every subscribed stream id has
// finished. Always false in accept-all mode: new streams may appear at any
// time, so the run has no natural end.
func (d *Demux) AllSubscribedComplete() bool {
	if d.sub.All() {
		return false
	}
	for _, id := range d.sub.IDs() {
		if !d.finished[id] {
			return false
		}
	}
	return true
}

// Reports returns the gap reports collected so far, one per finished stream.
func (d *Demux) Reports() []reassembly.GapReport { return d.reports }

// Counters returns the frame accounting so far.
func (d *Demux) Counters() Counters { return d.counters }

// BytesEmitted totals ordered payload bytes across all streams.
func (d *Demux) BytesEmitted() int64 {
	var total int64
	for _, r := range d.streams {
		total += r.BytesEmitted()
	}
	return total
}

func (d *Demux) countShortDatagram() { d.counters.ShortDatagram++ }
