package recv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roundsend/roundsend/internal/reassembly"
	"github.com/roundsend/roundsend/internal/transport"
	"github.com/roundsend/roundsend/internal/wire"
)

// DefaultPollTimeout is the fixed per-read channel timeout. It is orthogonal
// to the per-stream finalization timeout.
const DefaultPollTimeout = time.Second

// Summary is the result of one receive run.
type Summary struct {
	Bytes    int64
	Counters Counters
	Reports  []reassembly.GapReport
}

// Lossy reports whether any finished stream lost bytes.
func (s Summary) Lossy() bool {
	for _, r := range s.Reports {
		if r.Lossy() {
			return true
		}
	}
	return false
}

// Loop is the single-threaded receive driver: one goroutine blocks on the
// channel, decodes datagrams, routes them through the demux, and polls the
// supervisor whenever the read times out. All reassembly state is owned by
// this goroutine; nothing else mutates it.
type Loop struct {
	ch     transport.Channel
	codec  wire.Codec
	demux  *Demux
	sup    *Supervisor
	poll   time.Duration
	logger *slog.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithPollTimeout overrides the per-read channel timeout.
func WithPollTimeout(d time.Duration) LoopOption {
	return func(l *Loop) { l.poll = d }
}

// WithLoopLogger sets the loop's logger.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// NewLoop assembles a receive loop.
func NewLoop(ch transport.Channel, codec wire.Codec, demux *Demux, sup *Supervisor, opts ...LoopOption) *Loop {
	l := &Loop{
		ch:     ch,
		codec:  codec,
		demux:  demux,
		sup:    sup,
		poll:   DefaultPollTimeout,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run receives until the run terminates: all subscribed streams complete, the
// transport fails, or ctx is cancelled. On any exit path every live stream is
// flushed and its sink closed, so partial data is never silently withheld.
func (l *Loop) Run(ctx context.Context) (Summary, error) {
	for {
		if err := ctx.Err(); err != nil {
			l.shutdown("cancelled")
			return l.summary(), err
		}

		datagram, err := l.ch.Receive(l.poll)
		if err != nil {
			l.shutdown("transport error")
			return l.summary(), fmt.Errorf("receive: %w", err)
		}
		if datagram == nil {
			// Read timeout: the supervisor's chance to re-check deadlines.
			l.sup.Tick(l.demux)
			if l.sup.RunDone(l.demux) {
				return l.summary(), nil
			}
			continue
		}

		frame, err := l.codec.Decode(datagram)
		if err != nil {
			if errors.Is(err, wire.ErrTooShort) {
				l.demux.countShortDatagram()
				l.logger.Debug("dropped short datagram", "len", len(datagram))
				continue
			}
			// Decode has no other failure mode today; treat anything new
			// as a drop as well.
			l.logger.Debug("dropped undecodable datagram", "err", err)
			continue
		}
		l.demux.Route(frame)

		if l.sup.RunDone(l.demux) {
			return l.summary(), nil
		}
	}
}

func (l *Loop) shutdown(reason string) {
	l.logger.Info("receive loop stopping", "reason", reason)
	l.demux.FlushAll()
}

func (l *Loop) summary() Summary {
	return Summary{
		Bytes:    l.demux.BytesEmitted(),
		Counters: l.demux.Counters(),
		Reports:  l.demux.Reports(),
	}
}
