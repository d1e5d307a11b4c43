package cfb

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bisegni/msiq/pkg/msierr"
)

// ReadEntry returns up to maxLen bytes of the named stream starting at
// offset. Fewer bytes are returned at the end of the stream and none at or
// past it. Reads may come in any order.
func (c *Container) ReadEntry(name string, offset int64, maxLen int) ([]byte, error) {
	if c.closed {
		return nil, fmt.Errorf("%w: read %q from %s", msierr.ErrClosed, name, c.path)
	}
	e, ok := c.byPath[name]
	if !ok || e.kind != KindStream {
		return nil, fmt.Errorf("%w: %q in %s", msierr.ErrEntryNotFound, name, c.path)
	}
	if offset < 0 || maxLen < 0 {
		return nil, fmt.Errorf("%w: read %q at offset %d length %d", msierr.ErrIndexOutOfRange, name, offset, maxLen)
	}

	size := int64(e.size)
	if offset >= size || maxLen == 0 {
		return []byte{}, nil
	}
	n := min(int64(maxLen), size-offset)

	if e.chain == nil {
		if err := c.buildChain(e); err != nil {
			return nil, err
		}
	}

	unit := c.sectorSize
	mini := c.isMini(e)
	if mini {
		unit = c.miniSectorSize
	}

	buf := make([]byte, n)
	for filled := int64(0); filled < n; {
		pos := offset + filled
		idx := pos / unit
		within := pos % unit

		fileOff, err := c.unitOffset(e.chain[idx], mini)
		if err != nil {
			return nil, err
		}
		take := min(unit-within, n-filled)
		if err := c.readAt(buf[filled:filled+take], fileOff+within); err != nil {
			return nil, err
		}
		filled += take
	}
	return buf, nil
}

func (c *Container) isMini(e *dirEntry) bool {
	return e.kind == KindStream && e.size < uint64(c.hdr.miniStreamCutoff)
}

func (c *Container) buildChain(e *dirEntry) error {
	table, unit, what := c.fat, c.sectorSize, "stream"
	if c.isMini(e) {
		table, unit, what = c.miniFAT, c.miniSectorSize, "mini stream entry"
	}
	chain, err := c.chain(e.start, table, what+" "+e.path)
	if err != nil {
		return err
	}
	if int64(len(chain))*unit < int64(e.size) {
		return c.corrupt("%q holds %d sectors for %d bytes", e.path, len(chain), e.size)
	}
	e.chain = chain
	return nil
}

// unitOffset maps a regular sector, or a mini sector through the mini stream
// chain, to its file offset.
func (c *Container) unitOffset(sect uint32, mini bool) (int64, error) {
	if !mini {
		return (int64(sect) + 1) * c.sectorSize, nil
	}
	msOff := int64(sect) * c.miniSectorSize
	idx := msOff / c.sectorSize
	if idx >= int64(len(c.miniChain)) {
		return 0, c.corrupt("mini sector %d beyond the mini stream", sect)
	}
	return (int64(c.miniChain[idx])+1)*c.sectorSize + msOff%c.sectorSize, nil
}

// CLSIDFromBytes converts an on-disk GUID (little-endian Data1..Data3) to a
// UUID in canonical byte order.
func CLSIDFromBytes(b []byte) uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:16])
	return u
}

// CLSIDToBytes is the inverse of CLSIDFromBytes.
func CLSIDToBytes(u uuid.UUID) []byte {
	b := make([]byte, 16)
	b[0], b[1], b[2], b[3] = u[3], u[2], u[1], u[0]
	b[4], b[5] = u[5], u[4]
	b[6], b[7] = u[7], u[6]
	copy(b[8:], u[8:])
	return b
}

// Seconds between 1601-01-01 and 1970-01-01.
const filetimeEpochDelta = 11644473600

// FiletimeToTime converts a Windows FILETIME (100ns ticks since 1601) to
// UTC. Zero maps to the zero Time.
func FiletimeToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	secs := int64(ft/10_000_000) - filetimeEpochDelta
	nsec := int64(ft%10_000_000) * 100
	return time.Unix(secs, nsec).UTC()
}

// TimeToFiletime is the inverse of FiletimeToTime.
func TimeToFiletime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.Unix()+filetimeEpochDelta)*10_000_000 + uint64(t.Nanosecond()/100)
}
