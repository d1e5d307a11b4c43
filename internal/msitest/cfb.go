// Package msitest builds compound files and MSI packages in memory for
// tests. Every storage gets a balanced sibling tree and streams are laid out
// contiguously after the FAT and DIFAT sectors.
package msitest

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/bisegni/msiq/pkg/cfb"
)

// Stream is one stream to place in a compound file. Name may contain "/"
// to place the stream inside storages, which are created as needed.
type Stream struct {
	Name string
	Data []byte
}

// CFBOptions configures BuildCFB.
type CFBOptions struct {
	Version   int // 3 (default) or 4
	RootCLSID uuid.UUID
}

type node struct {
	name     string
	kind     cfb.EntryKind
	data     []byte
	children []int
	left     uint32
	right    uint32
	child    uint32
	start    uint32
	size     uint64
}

// BuildCFB lays out streams in a compound file and returns its bytes.
func BuildCFB(opts CFBOptions, streams []Stream) []byte {
	version := opts.Version
	if version == 0 {
		version = 3
	}
	sectorSize := 512
	shift := uint16(9)
	if version == 4 {
		sectorSize, shift = 4096, 12
	}
	const miniSize = 64

	nodes := []*node{{name: "Root Entry", kind: cfb.KindRoot}}
	storages := map[string]int{"": 0}
	for _, s := range streams {
		parent := 0
		parts := strings.Split(s.Name, "/")
		for i, part := range parts[:len(parts)-1] {
			key := strings.Join(parts[:i+1], "/")
			idx, ok := storages[key]
			if !ok {
				idx = len(nodes)
				nodes = append(nodes, &node{name: part, kind: cfb.KindStorage})
				nodes[parent].children = append(nodes[parent].children, idx)
				storages[key] = idx
			}
			parent = idx
		}
		idx := len(nodes)
		nodes = append(nodes, &node{name: parts[len(parts)-1], kind: cfb.KindStream, data: s.Data})
		nodes[parent].children = append(nodes[parent].children, idx)
	}

	// Mini stream and MiniFAT.
	var ministream []byte
	var minifat []uint32
	var big []*node
	for _, n := range nodes {
		if n.kind != cfb.KindStream {
			continue
		}
		n.size = uint64(len(n.data))
		switch {
		case len(n.data) == 0:
			n.start = cfb.EndOfChain
		case len(n.data) < cfb.MiniStreamCutoff:
			n.start = uint32(len(minifat))
			count := (len(n.data) + miniSize - 1) / miniSize
			for i := 0; i < count; i++ {
				next := uint32(len(minifat) + 1)
				if i == count-1 {
					next = cfb.EndOfChain
				}
				minifat = append(minifat, next)
			}
			ministream = append(ministream, pad(n.data, miniSize)...)
		default:
			big = append(big, n)
		}
	}

	perSector := sectorSize / 4
	entriesPerSector := sectorSize / cfb.DirEntrySize
	dirSectors := (len(nodes) + entriesPerSector - 1) / entriesPerSector
	miniFATSectors := (len(minifat)*4 + sectorSize - 1) / sectorSize
	miniStreamSectors := (len(ministream) + sectorSize - 1) / sectorSize

	dataSectors := dirSectors + miniFATSectors + miniStreamSectors
	for _, n := range big {
		dataSectors += (len(n.data) + sectorSize - 1) / sectorSize
	}
	fatSectors, difatSectors := 1, 0
	for fatSectors*perSector < fatSectors+difatSectors+dataSectors {
		fatSectors++
		difatSectors = difatCount(fatSectors, perSector)
	}

	fat := make([]uint32, fatSectors*perSector)
	for i := range fat {
		fat[i] = cfb.FreeSect
	}
	for i := 0; i < fatSectors; i++ {
		fat[i] = cfb.FatSect
	}
	for i := 0; i < difatSectors; i++ {
		fat[fatSectors+i] = cfb.DifSect
	}
	next := uint32(fatSectors + difatSectors)
	allocate := func(count int) uint32 {
		if count == 0 {
			return cfb.EndOfChain
		}
		start := next
		for i := 0; i < count; i++ {
			if i == count-1 {
				fat[next] = cfb.EndOfChain
			} else {
				fat[next] = next + 1
			}
			next++
		}
		return start
	}

	dirStart := allocate(dirSectors)
	miniFATStart := allocate(miniFATSectors)
	miniStreamStart := allocate(miniStreamSectors)
	for _, n := range big {
		n.start = allocate((len(n.data) + sectorSize - 1) / sectorSize)
	}

	root := nodes[0]
	root.left, root.right = cfb.NoStream, cfb.NoStream
	root.start = miniStreamStart
	root.size = uint64(len(ministream))

	for _, n := range nodes {
		n.child = buildTree(nodes, n.children)
		if n.kind == cfb.KindStorage {
			n.start, n.size = 0, 0
		}
	}

	out := make([]byte, 0, (1+int(next))*sectorSize)
	h := header(version, shift, fatSectors, dirStart, dirSectors, miniFATStart, miniFATSectors)
	if difatSectors > 0 {
		binary.LittleEndian.PutUint32(h[0x44:], uint32(fatSectors))
		binary.LittleEndian.PutUint32(h[0x48:], uint32(difatSectors))
	}
	out = append(out, pad(h, sectorSize)...)

	fatBytes := make([]byte, len(fat)*4)
	for i, v := range fat {
		binary.LittleEndian.PutUint32(fatBytes[4*i:], v)
	}
	out = append(out, fatBytes...)
	out = append(out, difat(fatSectors, difatSectors, perSector)...)

	dir := make([]byte, dirSectors*sectorSize)
	for i := 0; i < dirSectors*entriesPerSector; i++ {
		raw := dir[i*cfb.DirEntrySize : (i+1)*cfb.DirEntrySize]
		if i < len(nodes) {
			writeEntry(raw, nodes[i], opts.RootCLSID, version)
		} else {
			binary.LittleEndian.PutUint32(raw[0x44:], cfb.NoStream)
			binary.LittleEndian.PutUint32(raw[0x48:], cfb.NoStream)
			binary.LittleEndian.PutUint32(raw[0x4C:], cfb.NoStream)
		}
	}
	out = append(out, dir...)

	mf := make([]byte, miniFATSectors*sectorSize)
	for i := range mf {
		mf[i] = 0xFF
	}
	for i, v := range minifat {
		binary.LittleEndian.PutUint32(mf[4*i:], v)
	}
	out = append(out, mf...)
	out = append(out, pad(ministream, sectorSize)...)
	for _, n := range big {
		out = append(out, pad(n.data, sectorSize)...)
	}
	return out
}

// difatCount returns the DIFAT sectors needed to list fatSectors FAT
// sectors beyond the header slots. Each holds perSector-1 entries and a
// next pointer.
func difatCount(fatSectors, perSector int) int {
	extra := fatSectors - cfb.HeaderDIFATSlots
	if extra <= 0 {
		return 0
	}
	return (extra + perSector - 2) / (perSector - 1)
}

// difat encodes the DIFAT chain. FAT sectors occupy sectors
// 0..fatSectors-1 and the DIFAT sectors follow them.
func difat(fatSectors, difatSectors, perSector int) []byte {
	le := binary.LittleEndian
	out := make([]byte, difatSectors*perSector*4)
	fatSect := cfb.HeaderDIFATSlots
	for d := 0; d < difatSectors; d++ {
		sector := out[d*perSector*4 : (d+1)*perSector*4]
		for j := 0; j < perSector-1; j++ {
			v := cfb.FreeSect
			if fatSect < fatSectors {
				v = uint32(fatSect)
				fatSect++
			}
			le.PutUint32(sector[4*j:], v)
		}
		next := cfb.EndOfChain
		if d < difatSectors-1 {
			next = uint32(fatSectors + d + 1)
		}
		le.PutUint32(sector[4*(perSector-1):], next)
	}
	return out
}

func header(version int, shift uint16, fatSectors int, dirStart uint32, dirSectors int, miniFATStart uint32, miniFATSectors int) []byte {
	h := make([]byte, cfb.HeaderSize)
	le := binary.LittleEndian
	copy(h, cfb.Signature)
	le.PutUint16(h[0x18:], 0x3E)
	le.PutUint16(h[0x1A:], uint16(version))
	le.PutUint16(h[0x1C:], 0xFFFE)
	le.PutUint16(h[0x1E:], shift)
	le.PutUint16(h[0x20:], 6)
	if version == 4 {
		le.PutUint32(h[0x28:], uint32(dirSectors))
	}
	le.PutUint32(h[0x2C:], uint32(fatSectors))
	le.PutUint32(h[0x30:], dirStart)
	le.PutUint32(h[0x38:], cfb.MiniStreamCutoff)
	le.PutUint32(h[0x3C:], miniFATStart)
	le.PutUint32(h[0x40:], uint32(miniFATSectors))
	le.PutUint32(h[0x44:], cfb.EndOfChain)
	for i := 0; i < cfb.HeaderDIFATSlots; i++ {
		v := cfb.FreeSect
		if i < fatSectors {
			v = uint32(i)
		}
		le.PutUint32(h[0x4C+4*i:], v)
	}
	return h
}

// buildTree arranges children as a balanced binary tree in directory order
// and returns the sid of its root.
func buildTree(nodes []*node, children []int) uint32 {
	sorted := append([]int(nil), children...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := nodes[sorted[i]].name, nodes[sorted[j]].name
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return strings.ToUpper(a) < strings.ToUpper(b)
	})
	var build func(lo, hi int) uint32
	build = func(lo, hi int) uint32 {
		if lo > hi {
			return cfb.NoStream
		}
		mid := (lo + hi) / 2
		n := nodes[sorted[mid]]
		n.left = build(lo, mid-1)
		n.right = build(mid+1, hi)
		return uint32(sorted[mid])
	}
	return build(0, len(sorted)-1)
}

func writeEntry(raw []byte, n *node, rootCLSID uuid.UUID, version int) {
	le := binary.LittleEndian
	units := utf16.Encode([]rune(n.name))
	if len(units) > 31 {
		panic(fmt.Sprintf("msitest: entry name %q too long", n.name))
	}
	for i, u := range units {
		le.PutUint16(raw[2*i:], u)
	}
	le.PutUint16(raw[0x40:], uint16((len(units)+1)*2))
	raw[0x42] = byte(n.kind)
	raw[0x43] = 1 // black
	le.PutUint32(raw[0x44:], n.left)
	le.PutUint32(raw[0x48:], n.right)
	le.PutUint32(raw[0x4C:], n.child)
	if n.kind == cfb.KindRoot {
		copy(raw[0x50:], cfb.CLSIDToBytes(rootCLSID))
	}
	le.PutUint32(raw[0x74:], n.start)
	if version == 3 {
		le.PutUint32(raw[0x78:], uint32(n.size))
	} else {
		le.PutUint64(raw[0x78:], n.size)
	}
}

func pad(b []byte, unit int) []byte {
	rem := len(b) % unit
	if rem == 0 {
		return b
	}
	out := make([]byte, len(b)+unit-rem)
	copy(out, b)
	return out
}
