package cfb_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bisegni/msiq/internal/msitest"
	"github.com/bisegni/msiq/pkg/cfb"
	"github.com/bisegni/msiq/pkg/msierr"
)

func openBytes(t *testing.T, data []byte) *cfb.Container {
	t.Helper()
	c, err := cfb.OpenReader(bytes.NewReader(data), int64(len(data)), "mem.cfb")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sample(version int) []byte {
	return msitest.BuildCFB(msitest.CFBOptions{Version: version, RootCLSID: msitest.InstallerCLSID}, []msitest.Stream{
		{Name: "small", Data: []byte("tiny stream")},
		{Name: "large", Data: msitest.Payload(10000)},
		{Name: "Storage/inner", Data: msitest.Payload(300)},
		{Name: "empty", Data: nil},
	})
}

func TestOpenFileAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.cfb")
	require.NoError(t, os.WriteFile(path, sample(3), 0o600))

	c, err := cfb.Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, c.Path())
	assert.Equal(t, 3, c.Version())
	assert.Equal(t, 512, c.SectorSize())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.ReadEntry("small", 0, 10)
	assert.ErrorIs(t, err, msierr.ErrClosed)
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := cfb.Open(filepath.Join(dir, "missing.cfb"))
	assert.ErrorIs(t, err, msierr.ErrNotFound)

	_, err = cfb.Open(dir)
	assert.ErrorIs(t, err, msierr.ErrNotAnMsiContainer)

	tests := []struct {
		name string
		data func() []byte
	}{
		{"short file", func() []byte { return []byte("too short") }},
		{"bad signature", func() []byte {
			b := sample(3)
			b[0] = 'M'
			return b
		}},
		{"bad byte order", func() []byte {
			b := sample(3)
			b[0x1C] = 0
			return b
		}},
		{"unsupported version", func() []byte {
			b := sample(3)
			b[0x1A] = 5
			return b
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.data()
			_, err := cfb.OpenReader(bytes.NewReader(data), int64(len(data)), "bad.cfb")
			assert.ErrorIs(t, err, msierr.ErrNotAnMsiContainer)
		})
	}
}

func TestListEntries(t *testing.T) {
	for _, version := range []int{3, 4} {
		c := openBytes(t, sample(version))
		assert.Equal(t, version, c.Version())

		var names []string
		for _, e := range c.ListEntries() {
			names = append(names, e.Name)
		}
		assert.Equal(t, []string{"Storage", "Storage/inner", "empty", "large", "small"}, names)

		root := c.Root()
		assert.Equal(t, cfb.KindRoot, root.Kind)
		assert.Equal(t, msitest.InstallerCLSID, root.CLSID)

		st, ok := c.Entry("Storage")
		require.True(t, ok)
		assert.Equal(t, cfb.KindStorage, st.Kind)

		children := c.Children("Storage")
		require.Len(t, children, 1)
		assert.Equal(t, "Storage/inner", children[0].Name)
		assert.Len(t, c.Children(""), 4)

		_, ok = c.Entry("absent")
		assert.False(t, ok)
	}
}

func TestReadEntry(t *testing.T) {
	large := msitest.Payload(10000)
	for _, version := range []int{3, 4} {
		c := openBytes(t, sample(version))

		small, err := c.ReadEntry("small", 0, 100)
		require.NoError(t, err)
		assert.Equal(t, "tiny stream", string(small))

		part, err := c.ReadEntry("small", 5, 3)
		require.NoError(t, err)
		assert.Equal(t, "str", string(part))

		all, err := c.ReadEntry("large", 0, 20000)
		require.NoError(t, err)
		assert.Equal(t, large, all)

		// Spans several sectors and starts mid-sector.
		mid, err := c.ReadEntry("large", 4000, 5000)
		require.NoError(t, err)
		assert.Equal(t, large[4000:9000], mid)

		inner, err := c.ReadEntry("Storage/inner", 250, 100)
		require.NoError(t, err)
		assert.Equal(t, msitest.Payload(300)[250:], inner)

		for _, off := range []int64{10000, 20000} {
			past, err := c.ReadEntry("large", off, 10)
			require.NoError(t, err)
			assert.Empty(t, past)
		}
		empty, err := c.ReadEntry("empty", 0, 10)
		require.NoError(t, err)
		assert.Empty(t, empty)
	}
}

func TestReadEntryThroughDIFAT(t *testing.T) {
	const size = 9 << 20
	large := msitest.Payload(size)
	data := msitest.BuildCFB(msitest.CFBOptions{RootCLSID: msitest.InstallerCLSID}, []msitest.Stream{
		{Name: "small", Data: []byte("tiny stream")},
		{Name: "huge", Data: large},
	})
	require.Greater(t, binary.LittleEndian.Uint32(data[0x2C:]), uint32(cfb.HeaderDIFATSlots))
	require.NotZero(t, binary.LittleEndian.Uint32(data[0x48:]), "DIFAT sector count")

	c := openBytes(t, data)
	e, ok := c.Entry("huge")
	require.True(t, ok)
	assert.Equal(t, int64(size), e.Size)

	for _, off := range []int64{0, 511, 4 << 20, size - 100} {
		got, err := c.ReadEntry("huge", off, 1000)
		require.NoError(t, err)
		end := min(off+1000, size)
		assert.Equal(t, large[off:end], got, "offset %d", off)
	}

	small, err := c.ReadEntry("small", 0, 100)
	require.NoError(t, err)
	assert.Equal(t, "tiny stream", string(small))
}

func TestReadEntryErrors(t *testing.T) {
	c := openBytes(t, sample(3))

	_, err := c.ReadEntry("absent", 0, 10)
	assert.ErrorIs(t, err, msierr.ErrEntryNotFound)
	_, err = c.ReadEntry("Storage", 0, 10)
	assert.ErrorIs(t, err, msierr.ErrEntryNotFound)
	_, err = c.ReadEntry("small", -1, 10)
	assert.ErrorIs(t, err, msierr.ErrIndexOutOfRange)
	_, err = c.ReadEntry("small", 0, -1)
	assert.ErrorIs(t, err, msierr.ErrIndexOutOfRange)
}

func TestCLSIDBytes(t *testing.T) {
	u := uuid.MustParse("000c1084-0000-0000-c000-000000000046")
	raw := cfb.CLSIDToBytes(u)
	assert.Equal(t, []byte{0x84, 0x10, 0x0c, 0x00}, raw[:4])
	assert.Equal(t, u, cfb.CLSIDFromBytes(raw))
}

func TestFiletime(t *testing.T) {
	assert.True(t, cfb.FiletimeToTime(0).IsZero())
	assert.Zero(t, cfb.TimeToFiletime(time.Time{}))

	epoch := cfb.FiletimeToTime(116444736000000000)
	assert.Equal(t, time.Unix(0, 0).UTC(), epoch)

	when := time.Date(2024, 3, 1, 12, 30, 0, 500, time.UTC).Truncate(100 * time.Nanosecond)
	assert.Equal(t, when, cfb.FiletimeToTime(cfb.TimeToFiletime(when)))
}
