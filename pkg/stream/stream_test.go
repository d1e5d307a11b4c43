package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bisegni/msiq/internal/msitest"
	"github.com/bisegni/msiq/pkg/cfb"
	"github.com/bisegni/msiq/pkg/database"
	"github.com/bisegni/msiq/pkg/msierr"
)

// recorder serves entries from memory and records the size of every chunk
// it returns.
type recorder struct {
	entries map[string][]byte
	chunks  []int
	fail    error
}

func (r *recorder) ReadEntry(name string, offset int64, maxLen int) ([]byte, error) {
	if r.fail != nil {
		return nil, r.fail
	}
	data, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", msierr.ErrEntryNotFound, name)
	}
	if offset >= int64(len(data)) {
		r.chunks = append(r.chunks, 0)
		return []byte{}, nil
	}
	end := min(offset+int64(maxLen), int64(len(data)))
	chunk := append([]byte(nil), data[offset:end]...)
	r.chunks = append(r.chunks, len(chunk))
	return chunk, nil
}

func ref(name string) database.StreamRef {
	return database.StreamRef{Table: "Icon", Name: name, Entry: name}
}

func TestReadAllIconChunks(t *testing.T) {
	icon := msitest.Payload(5000)
	src := &recorder{entries: map[string][]byte{"Icon.app.ico": icon}}

	got, err := ReadAll(src, ref("Icon.app.ico"), 2048)
	require.NoError(t, err)
	assert.Equal(t, icon, got)
	assert.Len(t, got, 5000)
	assert.Equal(t, []int{2048, 2048, 904}, src.chunks)
}

func TestReadAllSizes(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		chunk  int
		chunks []int
	}{
		{"empty stream", 0, 2048, []int{0}},
		{"smaller than chunk", 100, 2048, []int{100}},
		{"exact multiple", 4096, 2048, []int{2048, 2048, 0}},
		{"one byte over", 4097, 2048, []int{2048, 2048, 1}},
		{"chunk of one", 3, 1, []int{1, 1, 1, 0}},
		{"default chunk", 3000, 0, []int{2048, 952}},
		{"negative chunk", 10, -5, []int{10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := msitest.Payload(tt.size)
			src := &recorder{entries: map[string][]byte{"s": data}}
			got, err := ReadAll(src, ref("s"), tt.chunk)
			require.NoError(t, err)
			assert.Equal(t, data, got)
			assert.NotNil(t, got)
			assert.Equal(t, tt.chunks, src.chunks)
		})
	}
}

func TestReadAllNullRef(t *testing.T) {
	src := &recorder{}
	got, err := ReadAll(src, database.StreamRef{}, 2048)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, src.chunks)
}

func TestReadAllErrors(t *testing.T) {
	t.Run("missing stream", func(t *testing.T) {
		_, err := ReadAll(&recorder{}, ref("Icon.gone"), 2048)
		assert.ErrorIs(t, err, msierr.ErrStreamNotFound)
	})

	t.Run("read failure", func(t *testing.T) {
		cause := errors.New("device unplugged")
		_, err := ReadAll(&recorder{fail: cause}, ref("s"), 2048)
		assert.ErrorIs(t, err, msierr.ErrIO)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("closed container", func(t *testing.T) {
		_, err := ReadAll(&recorder{fail: msierr.ErrClosed}, ref("s"), 2048)
		assert.ErrorIs(t, err, msierr.ErrIO)
		assert.ErrorIs(t, err, msierr.ErrClosed)
	})
}

type greedy struct{}

func (greedy) ReadEntry(string, int64, int) ([]byte, error) { return make([]byte, 10), nil }

func TestReadAllRejectsOversizedChunk(t *testing.T) {
	_, err := ReadAll(greedy{}, ref("s"), 4)
	assert.ErrorIs(t, err, msierr.ErrIO)
}

func TestReadAllFromContainer(t *testing.T) {
	for _, size := range []int{0, 64, 4095, 4096, 5000, 70000} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			payload := msitest.Payload(size)
			data := msitest.BuildCFB(msitest.CFBOptions{}, []msitest.Stream{{Name: "blob", Data: payload}})
			c, err := cfb.OpenReader(bytes.NewReader(data), int64(len(data)), "mem")
			require.NoError(t, err)
			defer c.Close()

			r := database.StreamRef{Name: "blob", Entry: "blob"}
			got, err := ReadAll(c, r, 2048)
			require.NoError(t, err)
			assert.Equal(t, payload, got)

			rd := NewReader(c, r, 2048)
			assert.Equal(t, int64(size), rd.Size())
			var buf bytes.Buffer
			_, err = io.Copy(&buf, rd)
			require.NoError(t, err)
			assert.Equal(t, payload, buf.Bytes())
		})
	}
}

func TestReaderNullRef(t *testing.T) {
	rd := NewReader(&recorder{}, database.StreamRef{}, 0)
	assert.Equal(t, int64(0), rd.Size())
	n, err := rd.Read(make([]byte, 8))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderUnknownSize(t *testing.T) {
	rd := NewReader(&recorder{entries: map[string][]byte{"s": {1}}}, ref("s"), 0)
	assert.Equal(t, int64(-1), rd.Size())
}

func TestReaderRequestsChunks(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		chunk  int
		chunks []int
	}{
		{"icon", 5000, 2048, []int{2048, 2048, 904}},
		{"exact multiple", 4096, 2048, []int{2048, 2048, 0}},
		{"default chunk", 3000, 0, []int{2048, 952}},
		{"empty", 0, 2048, []int{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &recorder{entries: map[string][]byte{"s": msitest.Payload(tt.size)}}
			// Plain io.Writer: io.Copy then reads through its own 32 KiB buffer.
			var buf bytes.Buffer
			_, err := io.Copy(struct{ io.Writer }{&buf}, NewReader(src, ref("s"), tt.chunk))
			require.NoError(t, err)
			assert.Equal(t, msitest.Payload(tt.size), buf.Bytes())
			assert.Equal(t, tt.chunks, src.chunks)
		})
	}
}

func TestReaderRejectsOversizedChunk(t *testing.T) {
	_, err := NewReader(greedy{}, ref("s"), 4).Read(make([]byte, 16))
	assert.ErrorIs(t, err, msierr.ErrIO)
}
