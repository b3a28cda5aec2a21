// Package send splits a byte source into sequenced frames and pushes them at
// a configurable pace. Redundant final-marker retransmission is the
// protocol's only loss mitigation: there are no acknowledgements.
package send

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/roundsend/roundsend/internal/bufpool"
	"github.com/roundsend/roundsend/internal/sink"
	"github.com/roundsend/roundsend/internal/status"
	"github.com/roundsend/roundsend/internal/transport"
	"github.com/roundsend/roundsend/internal/wire"
)

const (
	// DefaultFinalRepeat and DefaultFinalRepeatDelay govern the redundant
	// final-marker retransmission after the main send loop ends.
	DefaultFinalRepeat      = 3
	DefaultFinalRepeatDelay = 200 * time.Millisecond
)

// Options configures one stream's chunker.
type Options struct {
	// StreamID identifies the stream on the wire.
	StreamID uint32
	// ChunkSize is the payload size per frame; capped at wire.MaxPayload.
	ChunkSize int
	// FramesPerSecond paces transmission; 0 sends at full speed.
	FramesPerSecond int
	// FinalRepeat and FinalRepeatDelay configure the final-marker
	// redundancy pass. Zero values take the defaults; FinalRepeat < 0
	// disables the pass (tests only).
	FinalRepeat      int
	FinalRepeatDelay time.Duration
	// Logger receives per-stream progress; nil uses slog.Default().
	Logger *slog.Logger
	// Board optionally publishes send progress.
	Board *status.Board
}

// Summary is the result of one stream's send run.
type Summary struct {
	Frames      int64
	Bytes       int64
	FinalSeq    uint32
	Interrupted bool
}

// Chunker sends one stream. It runs on a single goroutine; pacing sleeps are
// its only suspension points.
type Chunker struct {
	ch      transport.Channel
	codec   wire.Codec
	opts    Options
	limiter *rate.Limiter
	pool    *bufpool.Pool
	logger  *slog.Logger
}

// NewChunker builds a chunker for one stream over the given channel.
func NewChunker(ch transport.Channel, codec wire.Codec, opts Options) *Chunker {
	if opts.ChunkSize <= 0 || opts.ChunkSize > wire.MaxPayload {
		opts.ChunkSize = wire.MaxPayload
	}
	if opts.FinalRepeat == 0 {
		opts.FinalRepeat = DefaultFinalRepeat
	}
	if opts.FinalRepeatDelay == 0 {
		opts.FinalRepeatDelay = DefaultFinalRepeatDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chunker{
		ch:     ch,
		codec:  codec,
		opts:   opts,
		pool:   bufpool.New(codec.HeaderLen() + opts.ChunkSize),
		logger: logger.With("stream", opts.StreamID),
	}
	if opts.FramesPerSecond > 0 {
		// Burst 1: the limiter's reservations keep cumulative throughput on
		// target against the monotonic clock rather than sleeping a fixed
		// interval per frame.
		c.limiter = rate.NewLimiter(rate.Limit(opts.FramesPerSecond), 1)
	}
	return c
}

// Run reads src to exhaustion and transmits it as one stream. Cancelling ctx
// interrupts the stream: an out-of-band final marker goes out immediately at
// the next unused sequence number. In every case the final marker is then
// retransmitted FinalRepeat times.
func (c *Chunker) Run(ctx context.Context, src sink.Source) (Summary, error) {
	var sum Summary
	seq := uint32(1)
	interrupted := false
	var final wire.Frame

	for {
		// Cooperative cancellation, observed once per iteration.
		if ctx.Err() != nil {
			interrupted = true
			break
		}

		chunk, rerr := src.ReadChunk(c.opts.ChunkSize)
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return sum, fmt.Errorf("read source: %w", rerr)
		}
		last := errors.Is(rerr, io.EOF)

		if c.limiter != nil {
			if werr := c.limiter.Wait(ctx); werr != nil {
				interrupted = true
				break
			}
		}

		f := wire.Frame{StreamID: c.opts.StreamID, Seq: seq, Final: last, Payload: chunk}
		if err := c.send(f); err != nil {
			return sum, err
		}
		sum.Frames++
		sum.Bytes += int64(len(chunk))
		if c.opts.Board != nil {
			c.opts.Board.ObserveFrame(c.opts.StreamID, len(chunk))
		}

		if last {
			final = f
			break
		}
		seq++
	}

	if interrupted {
		// Out-of-band final marker at the next unused sequence number.
		final = wire.Frame{StreamID: c.opts.StreamID, Seq: seq, Final: true}
		if err := c.send(final); err != nil {
			return sum, err
		}
		sum.Frames++
		c.logger.Warn("interrupted, sent final marker", "seq", seq)
	}

	sum.FinalSeq = final.Seq
	sum.Interrupted = interrupted
	if c.opts.Board != nil {
		c.opts.Board.MarkCompleted(c.opts.StreamID, interrupted)
	}

	// Redundancy pass: receivers have no way to ask for a resend, so the
	// final marker gets a few extra chances to arrive.
	for i := 0; i < c.opts.FinalRepeat; i++ {
		time.Sleep(c.opts.FinalRepeatDelay)
		if err := c.send(final); err != nil {
			return sum, err
		}
	}

	c.logger.Info("stream sent",
		"frames", sum.Frames, "bytes", sum.Bytes,
		"final_seq", sum.FinalSeq, "interrupted", sum.Interrupted)
	return sum, nil
}

func (c *Chunker) send(f wire.Frame) error {
	buf := c.pool.Get()
	defer c.pool.Put(buf)

	n, err := c.codec.EncodeInto(buf, f)
	if err != nil {
		return fmt.Errorf("encode frame %d: %w", f.Seq, err)
	}
	if err := c.ch.Send(buf[:n]); err != nil {
		return fmt.Errorf("send frame %d: %w", f.Seq, err)
	}
	return nil
}
