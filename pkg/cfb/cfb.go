// Package cfb reads Compound File Binary (OLE structured storage) containers,
// the file format MSI packages are stored in.
//
// A [Container] indexes every storage and stream by its slash-joined path
// and serves random-access reads of stream bytes. It never writes.
//
//	c, err := cfb.Open("setup.msi")
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	for _, e := range c.ListEntries() {
//	    fmt.Println(e.Name, e.Size)
//	}
//
// A Container is not safe for concurrent use. Independent containers may be
// used from different goroutines.
package cfb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/bisegni/msiq/internal/logging"
	"github.com/bisegni/msiq/pkg/msierr"
)

// Signature is the 8-byte magic every compound file starts with.
var Signature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// Sector IDs with special meaning in the FAT and directory.
const (
	MaxRegSect uint32 = 0xFFFFFFFA // maximum regular sector number
	DifSect    uint32 = 0xFFFFFFFC // sector holds DIFAT entries
	FatSect    uint32 = 0xFFFFFFFD // sector holds FAT entries
	EndOfChain uint32 = 0xFFFFFFFE // end of a sector chain
	FreeSect   uint32 = 0xFFFFFFFF // unallocated sector
	NoStream   uint32 = 0xFFFFFFFF // no sibling or child
)

// Format constants.
const (
	HeaderSize        = 512
	DirEntrySize      = 128
	HeaderDIFATSlots  = 109
	MiniStreamCutoff  = 4096
	byteOrderMark     = 0xFFFE
	miniSectorShiftV  = 6
	sectorShiftV3     = 9
	sectorShiftV4     = 12
	maxDirEntryNameSz = 64
)

// Header field offsets (bytes from file start).
const (
	offSignature        = 0x00 // [8]byte
	offMinorVersion     = 0x18 // uint16
	offMajorVersion     = 0x1A // uint16
	offByteOrder        = 0x1C // uint16
	offSectorShift      = 0x1E // uint16
	offMiniSectorShift  = 0x20 // uint16
	offNumDirSectors    = 0x28 // uint32
	offNumFATSectors    = 0x2C // uint32
	offFirstDirSector   = 0x30 // uint32
	offMiniStreamCutoff = 0x38 // uint32
	offFirstMiniFAT     = 0x3C // uint32
	offNumMiniFAT       = 0x40 // uint32
	offFirstDIFAT       = 0x44 // uint32
	offNumDIFAT         = 0x48 // uint32
	offDIFAT            = 0x4C // [109]uint32
)

type header struct {
	majorVersion     uint16
	sectorShift      uint16
	miniSectorShift  uint16
	numDirSectors    uint32
	numFATSectors    uint32
	firstDirSector   uint32
	miniStreamCutoff uint32
	firstMiniFAT     uint32
	numMiniFAT       uint32
	firstDIFAT       uint32
	numDIFAT         uint32
	difat            [HeaderDIFATSlots]uint32
}

// Container is an open compound file.
type Container struct {
	path   string
	r      io.ReaderAt
	closer io.Closer
	size   int64
	closed bool

	hdr            header
	sectorSize     int64
	miniSectorSize int64
	numSectors     int

	fat       []uint32
	miniFAT   []uint32
	miniChain []uint32 // FAT chain of the mini stream (root entry data)

	entries []*dirEntry
	byPath  map[string]*dirEntry
	root    *dirEntry
}

// Open opens the compound file at path.
//
// The file handle is released on every failure path; on success it is owned
// by the returned Container until [Container.Close].
func Open(path string) (*Container, error) {
	f, err := os.Open(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", msierr.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: open %s: %w", msierr.ErrIO, path, err)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", msierr.ErrIO, path, err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", msierr.ErrNotAnMsiContainer, path)
	}

	c, err := OpenReader(f, st.Size(), path)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	c.closer = f
	return c, nil
}

// OpenReader parses a compound file served by r. name is only used in
// errors and logs. The caller keeps ownership of r.
func OpenReader(r io.ReaderAt, size int64, name string) (*Container, error) {
	c := &Container{
		path:   name,
		r:      r,
		size:   size,
		byPath: make(map[string]*dirEntry),
	}

	if err := c.load(); err != nil {
		return nil, err
	}

	logging.WithFile(name).Debug("container opened",
		"version", c.hdr.majorVersion,
		"sector_size", c.sectorSize,
		"sectors", c.numSectors,
		"entries", len(c.byPath))
	return c, nil
}

func (c *Container) load() error {
	if c.size < HeaderSize {
		return fmt.Errorf("%w: %s: file is %d bytes, shorter than a header", msierr.ErrNotAnMsiContainer, c.path, c.size)
	}

	raw := make([]byte, HeaderSize)
	if err := c.readAt(raw, 0); err != nil {
		return err
	}
	hdr, err := parseHeader(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", msierr.ErrNotAnMsiContainer, c.path, err)
	}
	c.hdr = hdr
	c.sectorSize = int64(1) << hdr.sectorShift
	c.miniSectorSize = int64(1) << hdr.miniSectorShift
	c.numSectors = int((c.size+c.sectorSize-1)/c.sectorSize) - 1

	if err := c.loadFAT(); err != nil {
		return err
	}
	if err := c.loadDirectory(); err != nil {
		return err
	}
	return c.loadMiniFAT()
}

func parseHeader(b []byte) (header, error) {
	var h header
	le := binary.LittleEndian

	if !bytes.Equal(b[offSignature:offSignature+len(Signature)], Signature) {
		return h, errors.New("bad signature")
	}
	if bo := le.Uint16(b[offByteOrder:]); bo != byteOrderMark {
		return h, fmt.Errorf("bad byte order mark %#04x", bo)
	}

	h.majorVersion = le.Uint16(b[offMajorVersion:])
	h.sectorShift = le.Uint16(b[offSectorShift:])
	h.miniSectorShift = le.Uint16(b[offMiniSectorShift:])

	switch {
	case h.majorVersion == 3 && h.sectorShift == sectorShiftV3:
	case h.majorVersion == 4 && h.sectorShift == sectorShiftV4:
	default:
		return h, fmt.Errorf("unsupported version %d with sector shift %d", h.majorVersion, h.sectorShift)
	}
	if h.miniSectorShift != miniSectorShiftV {
		return h, fmt.Errorf("bad mini sector shift %d", h.miniSectorShift)
	}

	h.numDirSectors = le.Uint32(b[offNumDirSectors:])
	h.numFATSectors = le.Uint32(b[offNumFATSectors:])
	h.firstDirSector = le.Uint32(b[offFirstDirSector:])
	h.miniStreamCutoff = le.Uint32(b[offMiniStreamCutoff:])
	h.firstMiniFAT = le.Uint32(b[offFirstMiniFAT:])
	h.numMiniFAT = le.Uint32(b[offNumMiniFAT:])
	h.firstDIFAT = le.Uint32(b[offFirstDIFAT:])
	h.numDIFAT = le.Uint32(b[offNumDIFAT:])

	if h.majorVersion == 3 && h.numDirSectors != 0 {
		return h, errors.New("version 3 header declares directory sectors")
	}
	if h.miniStreamCutoff != MiniStreamCutoff {
		return h, fmt.Errorf("bad mini stream cutoff %d", h.miniStreamCutoff)
	}

	for i := range h.difat {
		h.difat[i] = le.Uint32(b[offDIFAT+4*i:])
	}
	return h, nil
}

// Close releases the underlying file. It is idempotent. A failure to release
// the file is logged and returned; the Container is unusable either way.
func (c *Container) Close() error {
	if c == nil || c.closed {
		return nil
	}
	c.closed = true
	c.fat, c.miniFAT, c.miniChain = nil, nil, nil

	if c.closer == nil {
		return nil
	}
	if err := c.closer.Close(); err != nil {
		logging.WithFile(c.path).Warn("releasing container failed", "error", err)
		return fmt.Errorf("%w: close %s: %w", msierr.ErrIO, c.path, err)
	}
	return nil
}

// Path returns the name the container was opened with.
func (c *Container) Path() string {
	return c.path
}

// Version returns the compound file major version (3 or 4).
func (c *Container) Version() int {
	return int(c.hdr.majorVersion)
}

// SectorSize returns the regular sector size in bytes.
func (c *Container) SectorSize() int {
	return int(c.sectorSize)
}

// readSector reads one regular sector. A final sector cut short by the end of
// the file is zero-filled.
func (c *Container) readSector(sect uint32) ([]byte, error) {
	if int64(sect) >= int64(c.numSectors) {
		return nil, c.corrupt("sector %d beyond end of file (%d sectors)", sect, c.numSectors)
	}
	buf := make([]byte, c.sectorSize)
	off := (int64(sect) + 1) * c.sectorSize
	n, err := c.r.ReadAt(buf, off)
	if n == len(buf) {
		return buf, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: read sector %d: %w", msierr.ErrIO, c.path, sect, err)
	}
	if n == 0 {
		return nil, c.corrupt("sector %d is empty", sect)
	}
	return buf, nil
}

func (c *Container) readAt(p []byte, off int64) error {
	n, err := c.r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %s: read %d bytes at %d: %w", msierr.ErrIO, c.path, len(p), off, err)
}

func (c *Container) corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", msierr.ErrNotAnMsiContainer, c.path, fmt.Sprintf(format, args...))
}

func (c *Container) loadFAT() error {
	want := int(c.hdr.numFATSectors)
	if want > c.numSectors {
		return c.corrupt("header declares %d FAT sectors in a %d sector file", want, c.numSectors)
	}

	fatSectors := make([]uint32, 0, want)
	for _, s := range c.hdr.difat {
		if len(fatSectors) == want {
			break
		}
		if s == FreeSect || s == EndOfChain {
			break
		}
		fatSectors = append(fatSectors, s)
	}

	perDIFAT := int(c.sectorSize/4) - 1
	next := c.hdr.firstDIFAT
	for i := uint32(0); i < c.hdr.numDIFAT && len(fatSectors) < want; i++ {
		if next == EndOfChain || next == FreeSect {
			break
		}
		sector, err := c.readSector(next)
		if err != nil {
			return err
		}
		for j := 0; j < perDIFAT && len(fatSectors) < want; j++ {
			s := binary.LittleEndian.Uint32(sector[4*j:])
			if s == FreeSect {
				continue
			}
			fatSectors = append(fatSectors, s)
		}
		next = binary.LittleEndian.Uint32(sector[4*perDIFAT:])
	}

	if len(fatSectors) != want {
		return c.corrupt("found %d of %d FAT sectors", len(fatSectors), want)
	}

	perSector := int(c.sectorSize / 4)
	c.fat = make([]uint32, 0, want*perSector)
	for _, s := range fatSectors {
		sector, err := c.readSector(s)
		if err != nil {
			return err
		}
		for j := 0; j < perSector; j++ {
			c.fat = append(c.fat, binary.LittleEndian.Uint32(sector[4*j:]))
		}
	}
	if len(c.fat) > c.numSectors {
		c.fat = c.fat[:c.numSectors]
	}
	return nil
}

// chain follows a sector chain through table starting at start.
func (c *Container) chain(start uint32, table []uint32, what string) ([]uint32, error) {
	var out []uint32
	for sect := start; sect != EndOfChain; {
		if int64(sect) >= int64(len(table)) {
			return nil, c.corrupt("%s chain references sector %#x outside its table", what, sect)
		}
		if len(out) >= len(table) {
			return nil, c.corrupt("%s chain loops", what)
		}
		out = append(out, sect)
		sect = table[sect]
	}
	return out, nil
}

func (c *Container) loadMiniFAT() error {
	if c.root.size == 0 {
		return nil
	}

	var err error
	c.miniChain, err = c.chain(c.root.start, c.fat, "mini stream")
	if err != nil {
		return err
	}
	if int64(len(c.miniChain))*c.sectorSize < int64(c.root.size) {
		return c.corrupt("mini stream chain holds %d sectors for %d bytes", len(c.miniChain), c.root.size)
	}

	if c.hdr.numMiniFAT == 0 {
		return nil
	}
	sectors, err := c.chain(c.hdr.firstMiniFAT, c.fat, "mini FAT")
	if err != nil {
		return err
	}
	perSector := int(c.sectorSize / 4)
	c.miniFAT = make([]uint32, 0, len(sectors)*perSector)
	for _, s := range sectors {
		sector, err := c.readSector(s)
		if err != nil {
			return err
		}
		for j := 0; j < perSector; j++ {
			c.miniFAT = append(c.miniFAT, binary.LittleEndian.Uint32(sector[4*j:]))
		}
	}

	used := int((int64(c.root.size) + c.miniSectorSize - 1) / c.miniSectorSize)
	if used < len(c.miniFAT) {
		c.miniFAT = c.miniFAT[:used]
	}
	return nil
}
