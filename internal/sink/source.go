package sink

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Source produces the byte stream a sender splits into frames.
type Source interface {
	// ReadChunk returns up to max bytes. The final bytes arrive together
	// with io.EOF; an exhausted source returns (nil, io.EOF). Returned
	// chunks may be shorter than max only at the end of the source.
	ReadChunk(max int) ([]byte, error)
}

type readerSource struct {
	r io.Reader
}

// NewSource adapts any io.Reader into a chunked Source.
func NewSource(r io.Reader) Source {
	return &readerSource{r: r}
}

func (s *readerSource) ReadChunk(max int) ([]byte, error) {
	buf := make([]byte, max)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case err == nil:
		return buf[:n], nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:n], io.EOF
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	default:
		return nil, err
	}
}

// FileSource is a Source backed by a regular file.
type FileSource struct {
	f    *os.File
	size int64
	Source
}

// OpenFile opens path for chunked reading.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &FileSource{f: f, size: info.Size(), Source: NewSource(f)}, nil
}

// Size returns the file length in bytes.
func (s *FileSource) Size() int64 { return s.size }

// Close releases the underlying file.
func (s *FileSource) Close() error { return s.f.Close() }
