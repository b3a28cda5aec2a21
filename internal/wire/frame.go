package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MaxPayload is the largest payload one frame may carry. Encoders enforce
	// it; decoders accept oversized datagrams as-is.
	MaxPayload = 1200

	// FlagFinal marks the frame whose sequence number is the last the sender
	// will use for its stream. Bits 1-31 are reserved and sent as zero.
	FlagFinal = uint32(1)

	multiHeaderLen  = 12
	legacyHeaderLen = 8
)

var (
	// ErrTooShort indicates a datagram smaller than the frame header.
	ErrTooShort = errors.New("datagram shorter than frame header")
	// ErrPayloadTooLarge indicates an encode request above MaxPayload.
	ErrPayloadTooLarge = errors.New("frame payload exceeds maximum size")
	// ErrZeroSequence indicates an encode request with sequence 0.
	// Sequence numbers are 1-based.
	ErrZeroSequence = errors.New("frame sequence must be at least 1")
	// ErrShortBuffer indicates a destination buffer too small for the frame.
	ErrShortBuffer = errors.New("destination buffer too small for frame")
)

// Frame is the logical content of one datagram.
type Frame struct {
	StreamID uint32
	Seq      uint32
	Final    bool
	Payload  []byte
}

// Codec encodes and decodes frames for one wire version. The header version
// is a configuration choice; a 12-byte multi-stream receiver cannot
// interoperate with an 8-byte legacy sender and versions are never
// auto-detected.
type Codec interface {
	// Encode serializes the frame into a freshly allocated datagram.
	Encode(f Frame) ([]byte, error)
	// EncodeInto serializes the frame into dst and returns the datagram
	// length. dst must hold at least HeaderLen()+len(f.Payload) bytes.
	EncodeInto(dst []byte, f Frame) (int, error)
	// Decode parses one datagram. Payload bytes are copied, so the input
	// buffer may be reused once Decode returns.
	Decode(datagram []byte) (Frame, error)
	// HeaderLen reports the fixed header size for this wire version.
	HeaderLen() int
}

// MultiStreamCodec implements the 12-byte header:
//
//	offset 0: stream_id u32 BE
//	offset 4: sequence  u32 BE
//	offset 8: flags     u32 BE (bit0 = final)
type MultiStreamCodec struct{}

func (MultiStreamCodec) HeaderLen() int { return multiHeaderLen }

func (c MultiStreamCodec) Encode(f Frame) ([]byte, error) {
	buf := make([]byte, multiHeaderLen+len(f.Payload))
	n, err := c.EncodeInto(buf, f)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c MultiStreamCodec) EncodeInto(dst []byte, f Frame) (int, error) {
	if err := checkEncodable(f, multiHeaderLen, len(dst)); err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint32(dst[0:4], f.StreamID)
	binary.BigEndian.PutUint32(dst[4:8], f.Seq)
	binary.BigEndian.PutUint32(dst[8:12], flagsOf(f))
	copy(dst[multiHeaderLen:], f.Payload)
	return multiHeaderLen + len(f.Payload), nil
}

func (MultiStreamCodec) Decode(datagram []byte) (Frame, error) {
	if len(datagram) < multiHeaderLen {
		return Frame{}, fmt.Errorf("%w: got %d bytes, need %d", ErrTooShort, len(datagram), multiHeaderLen)
	}
	return Frame{
		StreamID: binary.BigEndian.Uint32(datagram[0:4]),
		Seq:      binary.BigEndian.Uint32(datagram[4:8]),
		Final:    binary.BigEndian.Uint32(datagram[8:12])&FlagFinal != 0,
		Payload:  copyPayload(datagram[multiHeaderLen:]),
	}, nil
}

// LegacyCodec implements the original 8-byte single-stream header (sequence,
// flags). The wire carries no stream id; decoded frames are stamped with the
// configured StreamID.
type LegacyCodec struct {
	StreamID uint32
}

func (LegacyCodec) HeaderLen() int { return legacyHeaderLen }

func (c LegacyCodec) Encode(f Frame) ([]byte, error) {
	buf := make([]byte, legacyHeaderLen+len(f.Payload))
	n, err := c.EncodeInto(buf, f)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c LegacyCodec) EncodeInto(dst []byte, f Frame) (int, error) {
	if err := checkEncodable(f, legacyHeaderLen, len(dst)); err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint32(dst[0:4], f.Seq)
	binary.BigEndian.PutUint32(dst[4:8], flagsOf(f))
	copy(dst[legacyHeaderLen:], f.Payload)
	return legacyHeaderLen + len(f.Payload), nil
}

func (c LegacyCodec) Decode(datagram []byte) (Frame, error) {
	if len(datagram) < legacyHeaderLen {
		return Frame{}, fmt.Errorf("%w: got %d bytes, need %d", ErrTooShort, len(datagram), legacyHeaderLen)
	}
	return Frame{
		StreamID: c.StreamID,
		Seq:      binary.BigEndian.Uint32(datagram[0:4]),
		Final:    binary.BigEndian.Uint32(datagram[4:8])&FlagFinal != 0,
		Payload:  copyPayload(datagram[legacyHeaderLen:]),
	}, nil
}

func checkEncodable(f Frame, headerLen, dstLen int) error {
	if f.Seq == 0 {
		return ErrZeroSequence
	}
	if len(f.Payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(f.Payload))
	}
	if dstLen < headerLen+len(f.Payload) {
		return fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, headerLen+len(f.Payload), dstLen)
	}
	return nil
}

func flagsOf(f Frame) uint32 {
	if f.Final {
		return FlagFinal
	}
	return 0
}

func copyPayload(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
