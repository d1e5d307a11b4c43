// Package stream reads the payload of stream-typed fields in bounded
// chunks.
//
// Every chunk is appended with exactly the bytes the container returned, so
// the last, short chunk of a stream never contributes padding:
//
//	data, err := stream.ReadAll(container, ref, stream.DefaultChunkSize)
package stream

import (
	"errors"
	"fmt"
	"io"

	"github.com/bisegni/msiq/pkg/cfb"
	"github.com/bisegni/msiq/pkg/database"
	"github.com/bisegni/msiq/pkg/msierr"
)

// DefaultChunkSize is the read size used when none is given.
const DefaultChunkSize = 2048

// EntryReader reads byte ranges of container entries. *cfb.Container
// implements it.
type EntryReader interface {
	ReadEntry(name string, offset int64, maxLen int) ([]byte, error)
}

// ReadAll returns the whole payload of ref, requesting chunkSize bytes at a
// time (DefaultChunkSize when chunkSize <= 0). Reading stops at the first
// empty or short chunk. A NULL reference yields an empty payload.
func ReadAll(src EntryReader, ref database.StreamRef, chunkSize int) ([]byte, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	out := []byte{}
	if !ref.Valid() {
		return out, nil
	}

	var offset int64
	for {
		chunk, err := src.ReadEntry(ref.Entry, offset, chunkSize)
		if err != nil {
			return nil, wrapErr(ref, offset, err)
		}
		if len(chunk) > chunkSize {
			return nil, fmt.Errorf("%w: stream %s: %d bytes returned for a %d byte request",
				msierr.ErrIO, ref.Name, len(chunk), chunkSize)
		}
		out = append(out, chunk...)
		offset += int64(len(chunk))
		if len(chunk) < chunkSize {
			return out, nil
		}
	}
}

func wrapErr(ref database.StreamRef, offset int64, err error) error {
	switch {
	case errors.Is(err, msierr.ErrEntryNotFound):
		return fmt.Errorf("%w: %s: %w", msierr.ErrStreamNotFound, ref.Name, err)
	case errors.Is(err, msierr.ErrIO):
		return fmt.Errorf("stream %s at offset %d: %w", ref.Name, offset, err)
	default:
		return fmt.Errorf("%w: stream %s at offset %d: %w", msierr.ErrIO, ref.Name, offset, err)
	}
}

// Reader is an io.Reader over one stream. It follows the ReadAll loop:
// every container request is capped at the chunk size and the first short
// chunk ends the stream.
type Reader struct {
	src       EntryReader
	ref       database.StreamRef
	chunkSize int
	offset    int64
	done      bool
}

// NewReader returns a Reader positioned at the start of ref that requests
// at most chunkSize bytes per read (DefaultChunkSize when chunkSize <= 0).
// A NULL reference reads as empty.
func NewReader(src EntryReader, ref database.StreamRef, chunkSize int) *Reader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Reader{src: src, ref: ref, chunkSize: chunkSize}
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.done || !r.ref.Valid() {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	want := min(len(p), r.chunkSize)
	chunk, err := r.src.ReadEntry(r.ref.Entry, r.offset, want)
	if err != nil {
		return 0, wrapErr(r.ref, r.offset, err)
	}
	if len(chunk) > want {
		return 0, fmt.Errorf("%w: stream %s: %d bytes returned for a %d byte request",
			msierr.ErrIO, r.ref.Name, len(chunk), want)
	}
	n := copy(p, chunk)
	r.offset += int64(n)
	if n < want {
		r.done = true
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Size returns the stream length when src can describe entries, -1
// otherwise.
func (r *Reader) Size() int64 {
	if !r.ref.Valid() {
		return 0
	}
	if d, ok := r.src.(interface {
		Entry(name string) (cfb.Entry, bool)
	}); ok {
		if e, ok := d.Entry(r.ref.Entry); ok {
			return e.Size
		}
	}
	return -1
}
