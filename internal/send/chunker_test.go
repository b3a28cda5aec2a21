package send

import (
	"bytes"
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/roundsend/roundsend/internal/sink"
	"github.com/roundsend/roundsend/internal/transport"
	"github.com/roundsend/roundsend/internal/wire"
)

// drainFrames decodes everything sitting in the channel's inbox.
func drainFrames(t *testing.T, ch *transport.MemChannel, codec wire.Codec) []wire.Frame {
	t.Helper()
	var frames []wire.Frame
	for {
		datagram, err := ch.Receive(10 * time.Millisecond)
		if err != nil {
			t.Fatalf("Receive error: %v", err)
		}
		if datagram == nil {
			return frames
		}
		f, err := codec.Decode(datagram)
		if err != nil {
			t.Fatalf("Decode error: %v", err)
		}
		frames = append(frames, f)
	}
}

func TestChunkingExactMultipleEmitsBareFinal(t *testing.T) {
	codec := wire.MultiStreamCodec{}
	a, b := transport.NewMemPair(64)
	defer a.Close()
	defer b.Close()

	data := make([]byte, 3*1200)
	rand.New(rand.NewSource(7)).Read(data)

	c := NewChunker(a, codec, Options{StreamID: 1, FinalRepeat: -1})
	sum, err := c.Run(context.Background(), sink.NewSource(bytes.NewReader(data)))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if sum.Frames != 4 || sum.FinalSeq != 4 {
		t.Fatalf("summary = %+v, want 4 frames with final seq 4", sum)
	}

	frames := drainFrames(t, b, codec)
	if len(frames) != 4 {
		t.Fatalf("received %d frames, want 4", len(frames))
	}
	var rebuilt bytes.Buffer
	for i, f := range frames {
		if f.Seq != uint32(i+1) {
			t.Fatalf("frame %d has seq %d", i, f.Seq)
		}
		rebuilt.Write(f.Payload)
	}
	last := frames[3]
	if !last.Final || len(last.Payload) != 0 {
		t.Fatalf("final frame = seq %d final %v payload %d bytes, want a bare final marker",
			last.Seq, last.Final, len(last.Payload))
	}
	if !bytes.Equal(rebuilt.Bytes(), data) {
		t.Fatal("reassembled bytes differ from the source")
	}
}

func TestShortTailMarksDataFrameFinal(t *testing.T) {
	codec := wire.MultiStreamCodec{}
	a, b := transport.NewMemPair(64)
	defer a.Close()
	defer b.Close()

	data := make([]byte, 2*1200+37)
	c := NewChunker(a, codec, Options{StreamID: 1, FinalRepeat: -1})
	sum, err := c.Run(context.Background(), sink.NewSource(bytes.NewReader(data)))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if sum.Frames != 3 || sum.FinalSeq != 3 {
		t.Fatalf("summary = %+v, want 3 frames with final seq 3", sum)
	}
	frames := drainFrames(t, b, codec)
	last := frames[len(frames)-1]
	if !last.Final || len(last.Payload) != 37 {
		t.Fatalf("final frame carries %d bytes final=%v, want the 37-byte tail", len(last.Payload), last.Final)
	}
}

func TestFinalMarkerRedundancy(t *testing.T) {
	codec := wire.MultiStreamCodec{}
	a, b := transport.NewMemPair(64)
	defer a.Close()
	defer b.Close()

	c := NewChunker(a, codec, Options{
		StreamID:         1,
		FinalRepeat:      3,
		FinalRepeatDelay: time.Millisecond,
	})
	if _, err := c.Run(context.Background(), sink.NewSource(bytes.NewReader([]byte("tiny")))); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	frames := drainFrames(t, b, codec)
	// One data frame marked final, plus three retransmissions of it.
	if len(frames) != 4 {
		t.Fatalf("received %d frames, want 4", len(frames))
	}
	for i, f := range frames {
		if f.Seq != 1 || !f.Final {
			t.Fatalf("frame %d = seq %d final %v, want the final marker each time", i, f.Seq, f.Final)
		}
		if !bytes.Equal(f.Payload, []byte("tiny")) {
			t.Fatalf("retransmission %d mutated the payload to %q", i, f.Payload)
		}
	}
}

func TestInterruptSendsOutOfBandFinal(t *testing.T) {
	codec := wire.MultiStreamCodec{}
	a, b := transport.NewMemPair(1024)
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // interrupted before the first frame

	c := NewChunker(a, codec, Options{StreamID: 1, FinalRepeat: -1})
	sum, err := c.Run(ctx, sink.NewSource(bytes.NewReader(make([]byte, 10*1200))))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !sum.Interrupted {
		t.Fatal("summary does not record the interruption")
	}
	frames := drainFrames(t, b, codec)
	if len(frames) != 1 {
		t.Fatalf("received %d frames, want just the out-of-band final marker", len(frames))
	}
	if f := frames[0]; f.Seq != 1 || !f.Final || len(f.Payload) != 0 {
		t.Fatalf("marker = %+v, want bare final at seq 1", f)
	}
}

func TestPacingBound(t *testing.T) {
	codec := wire.MultiStreamCodec{}
	a, b := transport.NewMemPair(256)
	defer a.Close()
	defer b.Close()

	const fps = 200
	const frames = 10
	data := make([]byte, (frames-1)*8) // 9 full chunks + bare final = 10 frames

	c := NewChunker(a, codec, Options{
		StreamID:        1,
		ChunkSize:       8,
		FramesPerSecond: fps,
		FinalRepeat:     -1,
	})

	start := time.Now()
	sum, err := c.Run(context.Background(), sink.NewSource(bytes.NewReader(data)))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	elapsed := time.Since(start)
	if sum.Frames != frames {
		t.Fatalf("sent %d frames, want %d", sum.Frames, frames)
	}

	interval := time.Second / fps
	// Burst 1 admits the first frame immediately, so K frames take at least
	// (K-1) intervals; allow one extra interval of scheduling slack above.
	min := time.Duration(frames-1)*interval - interval/2
	max := time.Duration(frames+2) * interval
	if elapsed < min || elapsed > max {
		t.Fatalf("paced send of %d frames took %v, want within [%v, %v]", frames, elapsed, min, max)
	}
	_ = drainFrames(t, b, codec)
}
