package cfb

import (
	"encoding/binary"
	"sort"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
)

// EntryKind is the object type of a directory entry.
type EntryKind uint8

const (
	KindEmpty   EntryKind = 0
	KindStorage EntryKind = 1
	KindStream  EntryKind = 2
	KindRoot    EntryKind = 5
)

func (k EntryKind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindStorage:
		return "storage"
	case KindStream:
		return "stream"
	case KindRoot:
		return "root"
	default:
		return "unknown"
	}
}

// Directory entry field offsets.
const (
	offEntryName     = 0x00 // [32]uint16
	offEntryNameLen  = 0x40 // uint16
	offEntryType     = 0x42 // uint8
	offEntryLeft     = 0x44 // uint32
	offEntryRight    = 0x48 // uint32
	offEntryChild    = 0x4C // uint32
	offEntryCLSID    = 0x50 // [16]byte
	offEntryModified = 0x6C // uint64 FILETIME
	offEntryStart    = 0x74 // uint32
	offEntrySize     = 0x78 // uint64
)

// Entry describes one storage or stream of a container.
type Entry struct {
	// Name is the slash-joined path of the entry below the root storage.
	// Names are the raw UTF-16 directory names; MSI packages store most
	// stream names compressed, see the database package for decoding.
	Name     string
	Kind     EntryKind
	Size     int64
	CLSID    uuid.UUID
	Modified time.Time
}

type dirEntry struct {
	sid      int
	name     string
	path     string
	kind     EntryKind
	left     uint32
	right    uint32
	child    uint32
	clsid    uuid.UUID
	modified time.Time
	start    uint32
	size     uint64

	chain []uint32 // built on first read
}

func (e *dirEntry) descriptor() Entry {
	return Entry{
		Name:     e.path,
		Kind:     e.kind,
		Size:     int64(e.size),
		CLSID:    e.clsid,
		Modified: e.modified,
	}
}

func (c *Container) loadDirectory() error {
	sectors, err := c.chain(c.hdr.firstDirSector, c.fat, "directory")
	if err != nil {
		return err
	}
	if len(sectors) == 0 {
		return c.corrupt("empty directory")
	}

	perSector := int(c.sectorSize / DirEntrySize)
	c.entries = make([]*dirEntry, 0, len(sectors)*perSector)
	for _, s := range sectors {
		sector, err := c.readSector(s)
		if err != nil {
			return err
		}
		for j := 0; j < perSector; j++ {
			raw := sector[j*DirEntrySize : (j+1)*DirEntrySize]
			e, err := c.parseDirEntry(raw, len(c.entries))
			if err != nil {
				return err
			}
			c.entries = append(c.entries, e)
		}
	}

	c.root = c.entries[0]
	if c.root.kind != KindRoot {
		return c.corrupt("first directory entry is a %s, not the root", c.root.kind)
	}
	c.root.path = ""

	seen := map[uint32]bool{0: true}
	return c.walk(c.root.child, "", seen)
}

func (c *Container) parseDirEntry(raw []byte, sid int) (*dirEntry, error) {
	le := binary.LittleEndian

	e := &dirEntry{
		sid:   sid,
		kind:  EntryKind(raw[offEntryType]),
		left:  le.Uint32(raw[offEntryLeft:]),
		right: le.Uint32(raw[offEntryRight:]),
		child: le.Uint32(raw[offEntryChild:]),
		start: le.Uint32(raw[offEntryStart:]),
		size:  le.Uint64(raw[offEntrySize:]),
	}
	if e.kind == KindEmpty {
		return e, nil
	}

	switch e.kind {
	case KindStorage, KindStream, KindRoot:
	default:
		return nil, c.corrupt("directory entry %d has unknown type %d", sid, e.kind)
	}

	nameLen := int(le.Uint16(raw[offEntryNameLen:]))
	if nameLen > maxDirEntryNameSz || nameLen%2 != 0 {
		return nil, c.corrupt("directory entry %d has bad name length %d", sid, nameLen)
	}
	units := make([]uint16, 0, maxDirEntryNameSz/2)
	for i := 0; i+2 <= nameLen; i += 2 {
		u := le.Uint16(raw[offEntryName+i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	e.name = string(utf16.Decode(units))

	if c.hdr.majorVersion == 3 {
		e.size &= 0xFFFFFFFF
	}
	e.clsid = CLSIDFromBytes(raw[offEntryCLSID : offEntryCLSID+16])
	e.modified = FiletimeToTime(le.Uint64(raw[offEntryModified:]))
	return e, nil
}

// walk visits the red-black sibling tree rooted at sid in order, assigning
// paths and indexing entries. Storages recurse into their children.
func (c *Container) walk(sid uint32, prefix string, seen map[uint32]bool) error {
	if sid == NoStream {
		return nil
	}
	if int64(sid) >= int64(len(c.entries)) {
		return c.corrupt("directory references entry %d of %d", sid, len(c.entries))
	}
	if seen[sid] {
		return c.corrupt("directory entry %d referenced twice", sid)
	}
	seen[sid] = true

	e := c.entries[sid]
	if e.kind == KindEmpty || e.kind == KindRoot {
		return c.corrupt("directory tree reaches %s entry %d", e.kind, sid)
	}
	if err := c.walk(e.left, prefix, seen); err != nil {
		return err
	}

	e.path = prefix + e.name
	if _, dup := c.byPath[e.path]; dup {
		return c.corrupt("duplicate entry name %q", e.path)
	}
	c.byPath[e.path] = e

	if e.kind == KindStorage {
		if err := c.walk(e.child, e.path+"/", seen); err != nil {
			return err
		}
	}
	return c.walk(e.right, prefix, seen)
}

// ListEntries returns every storage and stream below the root, sorted by
// name.
func (c *Container) ListEntries() []Entry {
	out := make([]Entry, 0, len(c.byPath))
	for _, e := range c.byPath {
		out = append(out, e.descriptor())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Entry returns the descriptor of the named entry.
func (c *Container) Entry(name string) (Entry, bool) {
	e, ok := c.byPath[name]
	if !ok {
		return Entry{}, false
	}
	return e.descriptor(), true
}

// Root returns the root storage descriptor. Its CLSID identifies the kind of
// document stored in the container.
func (c *Container) Root() Entry {
	d := c.root.descriptor()
	d.Name = ""
	return d
}

// Children returns the direct children of the named storage ("" for the
// root), sorted by name.
func (c *Container) Children(storage string) []Entry {
	prefix := ""
	if storage != "" {
		prefix = storage + "/"
	}
	var out []Entry
	for p, e := range c.byPath {
		if !strings.HasPrefix(p, prefix) || strings.Contains(p[len(prefix):], "/") {
			continue
		}
		out = append(out, e.descriptor())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}
