// Package sink resolves where reassembled stream bytes land and where the
// sender's bytes come from.
package sink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// PatternToken is the placeholder an output path pattern must carry when more
// than one stream may be written; it is replaced by the decimal stream id.
const PatternToken = "{stream}"

// StdoutSentinel selects stdout as the sink. Only honored when exactly one
// stream id is subscribed.
const StdoutSentinel = "-"

var (
	// ErrStdoutNeedsSingleStream rejects "-" output with a multi-stream
	// subscription.
	ErrStdoutNeedsSingleStream = errors.New(`stdout output ("-") requires exactly one subscribed stream`)
	// ErrPatternMissingToken rejects a multi-stream output path without the
	// {stream} placeholder.
	ErrPatternMissingToken = errors.New("multi-stream output path must contain the " + PatternToken + " placeholder")
)

// Resolve substitutes the stream id's decimal form into an output pattern.
func Resolve(pattern string, streamID uint32) string {
	return strings.ReplaceAll(pattern, PatternToken, strconv.FormatUint(uint64(streamID), 10))
}

// ValidatePattern checks an output target against the subscription shape.
// multi is true when more than one stream id may be accepted.
func ValidatePattern(pattern string, multi bool) error {
	if pattern == StdoutSentinel {
		if multi {
			return ErrStdoutNeedsSingleStream
		}
		return nil
	}
	if multi && !strings.Contains(pattern, PatternToken) {
		return ErrPatternMissingToken
	}
	return nil
}

// PatternOpener opens one sink per stream id from an output path pattern.
type PatternOpener struct {
	// Pattern is the output target: the stdout sentinel or a file path,
	// optionally carrying PatternToken.
	Pattern string
	// AllowStdout is set when the subscription has exactly one stream id,
	// the only shape under which the stdout sentinel is honored.
	AllowStdout bool
}

// OpenSink opens the output for one stream.
func (o PatternOpener) OpenSink(streamID uint32) (io.WriteCloser, error) {
	if o.Pattern == StdoutSentinel {
		if !o.AllowStdout {
			return nil, ErrStdoutNeedsSingleStream
		}
		// Closing the sink must not close the process's stdout.
		return nopCloser{os.Stdout}, nil
	}
	path := Resolve(o.Pattern, streamID)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
