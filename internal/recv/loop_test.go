package recv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roundsend/roundsend/internal/transport"
	"github.com/roundsend/roundsend/internal/wire"
)

func encodeFrame(t *testing.T, codec wire.Codec, f wire.Frame) []byte {
	t.Helper()
	datagram, err := codec.Encode(f)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	return datagram
}

func TestLoopCompletesNaturally(t *testing.T) {
	codec := wire.MultiStreamCodec{}
	ch := transport.NewLoopback(64)
	defer ch.Close()

	// Out-of-order delivery with a duplicate and a short datagram mixed in.
	ch.Send(encodeFrame(t, codec, wire.Frame{StreamID: 1, Seq: 3, Final: true, Payload: []byte("!")}))
	ch.Send([]byte{0x01, 0x02})
	ch.Send(encodeFrame(t, codec, wire.Frame{StreamID: 1, Seq: 1, Payload: []byte("hello ")}))
	ch.Send(encodeFrame(t, codec, wire.Frame{StreamID: 1, Seq: 1, Payload: []byte("hello ")}))
	ch.Send(encodeFrame(t, codec, wire.Frame{StreamID: 1, Seq: 2, Payload: []byte("world")}))

	opener := newMemOpener()
	demux := NewDemux(AcceptSet(1), opener)
	loop := NewLoop(ch, codec, demux, NewSupervisor(time.Second),
		WithPollTimeout(10*time.Millisecond))

	sum, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if got := opener.sinks[1].buf.String(); got != "hello world!" {
		t.Fatalf("sink = %q, want %q", got, "hello world!")
	}
	if sum.Bytes != int64(len("hello world!")) {
		t.Fatalf("summary bytes = %d, want %d", sum.Bytes, len("hello world!"))
	}
	if sum.Counters.ShortDatagram != 1 {
		t.Fatalf("short datagrams = %d, want 1", sum.Counters.ShortDatagram)
	}
	if sum.Lossy() {
		t.Fatal("clean run reported lossy")
	}
}

func TestLoopForcesCompletionOnTimeout(t *testing.T) {
	codec := wire.MultiStreamCodec{}
	ch := transport.NewLoopback(64)
	defer ch.Close()

	ch.Send(encodeFrame(t, codec, wire.Frame{StreamID: 1, Seq: 1, Payload: []byte("one")}))
	ch.Send(encodeFrame(t, codec, wire.Frame{StreamID: 1, Seq: 2, Payload: []byte("two")}))
	ch.Send(encodeFrame(t, codec, wire.Frame{StreamID: 1, Seq: 4, Final: true, Payload: []byte("four")}))

	opener := newMemOpener()
	demux := NewDemux(AcceptSet(1), opener)
	loop := NewLoop(ch, codec, demux, NewSupervisor(30*time.Millisecond),
		WithPollTimeout(5*time.Millisecond))

	start := time.Now()
	sum, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("forced completion took far longer than the finalize timeout")
	}
	if got := opener.sinks[1].buf.String(); got != "onetwo" {
		t.Fatalf("sink = %q, want the contiguous prefix onetwo", got)
	}
	if len(sum.Reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(sum.Reports))
	}
	r := sum.Reports[0]
	if r.Expected != 3 || r.FinalSeq != 4 || r.Orphaned != 1 {
		t.Fatalf("gap report = %+v, want expected=3 final=4 orphaned=1", r)
	}
	if !sum.Lossy() {
		t.Fatal("gapped run not reported lossy")
	}
}

func TestLoopStopsOnTransportError(t *testing.T) {
	ch := transport.NewLoopback(1)
	ch.Close()

	demux := NewDemux(AcceptSet(1), newMemOpener())
	loop := NewLoop(ch, wire.MultiStreamCodec{}, demux, NewSupervisor(time.Second),
		WithPollTimeout(5*time.Millisecond))

	_, err := loop.Run(context.Background())
	if !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("Run error = %v, want wrapped transport.ErrClosed", err)
	}
}

func TestLoopFlushesOnCancel(t *testing.T) {
	codec := wire.MultiStreamCodec{}
	ch := transport.NewLoopback(64)
	defer ch.Close()

	// Accept-all mode never self-terminates; cancellation must still flush
	// the contiguous prefix of every live stream.
	ch.Send(encodeFrame(t, codec, wire.Frame{StreamID: 8, Seq: 1, Payload: []byte("kept")}))
	ch.Send(encodeFrame(t, codec, wire.Frame{StreamID: 8, Seq: 3, Payload: []byte("orphan")}))

	opener := newMemOpener()
	demux := NewDemux(AcceptAll(), opener)
	loop := NewLoop(ch, codec, demux, NewSupervisor(time.Second),
		WithPollTimeout(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	sum, err := loop.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want context.DeadlineExceeded", err)
	}
	if got := opener.sinks[8].buf.String(); got != "kept" {
		t.Fatalf("sink = %q, want kept", got)
	}
	if !opener.sinks[8].closed {
		t.Fatal("sink not closed on cancel")
	}
	if len(sum.Reports) != 1 || sum.Reports[0].Orphaned != 1 {
		t.Fatalf("reports = %+v, want one report with a single orphan", sum.Reports)
	}
}
