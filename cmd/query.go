package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/natefinch/atomic"

	"github.com/bisegni/msiq/internal/logging"
	"github.com/bisegni/msiq/pkg/msi"
	"github.com/bisegni/msiq/pkg/msierr"
	"github.com/bisegni/msiq/pkg/stream"
)

// runQuery compiles text against file and prints the plan, the rows, or
// with -o writes the first stream field of the first row.
func runQuery(w io.Writer, o *options, file, text string) error {
	pkg, done, err := openPackage(file)
	if err != nil {
		return err
	}
	defer done()

	q, err := pkg.Compile(text)
	if err != nil {
		return err
	}
	if o.explain {
		_, err := fmt.Fprintln(w, q.Explain())
		return err
	}
	if o.output != "" {
		return writeFirstStream(pkg, text, o.output, o.cfg.ChunkSize)
	}
	return printQuery(w, q, o)
}

// writeFirstStream copies the first stream selected by text into path,
// replacing it atomically.
func writeFirstStream(pkg *msi.Package, text, path string, chunkSize int) error {
	ref, err := pkg.FirstStreamRef(text)
	if err != nil {
		return err
	}
	r := stream.NewReader(pkg.Container(), ref, chunkSize)
	n, err := writeAtomic(path, r)
	if err != nil {
		return err
	}
	logging.WithEntry(pkg.Path(), ref.Name).Info("stream written", "path", path, "bytes", n, "size", r.Size())
	return nil
}

// countingReader records the byte count and the first read error, which
// atomic.WriteFile reports only as text.
type countingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil && !errors.Is(err, io.EOF) && c.err == nil {
		c.err = err
	}
	return n, err
}

// writeAtomic copies r into path through a temporary file. The read size
// is r's own; a *stream.Reader caps it at the configured chunk size.
func writeAtomic(path string, r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	if err := atomic.WriteFile(path, cr); err != nil {
		if cr.err != nil {
			return cr.n, cr.err
		}
		return cr.n, fmt.Errorf("%w: write %s: %w", msierr.ErrIO, path, err)
	}
	return cr.n, nil
}
