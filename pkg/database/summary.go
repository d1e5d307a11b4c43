package database

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bisegni/msiq/pkg/cfb"
	"github.com/bisegni/msiq/pkg/msierr"
)

// SummaryStream is the name of the summary information property set.
const SummaryStream = "\x05SummaryInformation"

var summaryFMTID = uuid.MustParse("f29f85e0-4ff9-1068-ab91-08002b27b3d9")

// Summary information property IDs.
const (
	PIDCodepage    = 1
	PIDTitle       = 2
	PIDSubject     = 3
	PIDAuthor      = 4
	PIDKeywords    = 5
	PIDComments    = 6
	PIDTemplate    = 7
	PIDLastAuthor  = 8
	PIDRevision    = 9
	PIDLastPrinted = 11
	PIDCreated     = 12
	PIDLastSaved   = 13
	PIDPageCount   = 14
	PIDWordCount   = 15
	PIDCharCount   = 16
	PIDAppName     = 18
	PIDSecurity    = 19
)

// Property value types.
const (
	vtEmpty    = 0
	vtI2       = 2
	vtI4       = 3
	vtLPSTR    = 30
	vtFiletime = 64
)

// SummaryInfo is the decoded summary information of a package. For MSI
// packages Template holds "platform;languages", Revision the package code,
// PageCount the minimum installer version and WordCount the source flags.
type SummaryInfo struct {
	Codepage    int
	Title       string
	Subject     string
	Author      string
	Keywords    string
	Comments    string
	Template    string
	LastAuthor  string
	Revision    string
	AppName     string
	LastPrinted time.Time
	Created     time.Time
	LastSaved   time.Time
	PageCount   int
	WordCount   int
	CharCount   int
	Security    int

	// Properties holds every decoded property by ID: int32, string or
	// time.Time.
	Properties map[uint32]any
}

// SummaryInfo reads the summary information stream.
func (db *Database) SummaryInfo() (*SummaryInfo, error) {
	entry, ok := db.streams[SummaryStream]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", msierr.ErrStreamNotFound, "SummaryInformation", db.c.Path())
	}
	raw, err := db.readWhole(entry)
	if err != nil {
		return nil, err
	}
	si, err := ParseSummary(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: summary information: %v", msierr.ErrCorruptSchema, db.c.Path(), err)
	}
	return si, nil
}

// ParseSummary decodes a property set stream, reading the section whose
// format ID is the summary information FMTID.
func ParseSummary(raw []byte) (*SummaryInfo, error) {
	le := binary.LittleEndian
	if len(raw) < 28 {
		return nil, fmt.Errorf("property set is %d bytes", len(raw))
	}
	if le.Uint16(raw) != 0xFFFE {
		return nil, fmt.Errorf("bad byte order mark 0x%04X", le.Uint16(raw))
	}
	sections := int(le.Uint32(raw[24:]))
	fmtid := cfb.CLSIDToBytes(summaryFMTID)
	sectionOff := -1
	for i := 0; i < sections; i++ {
		p := 28 + 20*i
		if p+20 > len(raw) {
			return nil, fmt.Errorf("section list truncated")
		}
		if bytes.Equal(raw[p:p+16], fmtid) {
			sectionOff = int(le.Uint32(raw[p+16:]))
			break
		}
	}
	if sectionOff < 0 || sectionOff+8 > len(raw) {
		return nil, fmt.Errorf("no summary information section")
	}

	section := raw[sectionOff:]
	count := int(le.Uint32(section[4:]))
	if 8+8*count > len(section) {
		return nil, fmt.Errorf("property list of %d entries truncated", count)
	}

	type prop struct {
		id  uint32
		off int
	}
	props := make([]prop, count)
	codepage := 0
	for i := range props {
		props[i] = prop{id: le.Uint32(section[8+8*i:]), off: int(le.Uint32(section[12+8*i:]))}
	}
	// The codepage governs string decoding; read it first.
	for _, p := range props {
		if p.id == PIDCodepage && p.off+6 <= len(section) && le.Uint32(section[p.off:]) == vtI2 {
			codepage = int(uint16(le.Uint16(section[p.off+4:])))
		}
	}

	si := &SummaryInfo{Properties: make(map[uint32]any, count)}
	for _, p := range props {
		if p.off+4 > len(section) {
			return nil, fmt.Errorf("property %d at offset %d is outside the section", p.id, p.off)
		}
		v, err := parseProperty(section[p.off:], codepage)
		if err != nil {
			return nil, fmt.Errorf("property %d: %w", p.id, err)
		}
		if v == nil {
			continue
		}
		if i, ok := v.(int32); ok && p.id == PIDCodepage {
			v = int32(uint16(i))
		}
		si.Properties[p.id] = v
		si.set(p.id, v)
	}
	return si, nil
}

func parseProperty(b []byte, codepage int) (any, error) {
	le := binary.LittleEndian
	vt := le.Uint32(b) & 0xFFFF
	b = b[4:]
	switch vt {
	case vtEmpty:
		return nil, nil
	case vtI2:
		if len(b) < 2 {
			return nil, fmt.Errorf("truncated VT_I2")
		}
		return int32(int16(le.Uint16(b))), nil
	case vtI4:
		if len(b) < 4 {
			return nil, fmt.Errorf("truncated VT_I4")
		}
		return int32(le.Uint32(b)), nil
	case vtLPSTR:
		if len(b) < 4 {
			return nil, fmt.Errorf("truncated VT_LPSTR")
		}
		n := int(le.Uint32(b))
		if 4+n > len(b) {
			return nil, fmt.Errorf("VT_LPSTR of %d bytes overruns the section", n)
		}
		s := b[4 : 4+n]
		if i := bytes.IndexByte(s, 0); i >= 0 {
			s = s[:i]
		}
		return DecodeString(s, codepage), nil
	case vtFiletime:
		if len(b) < 8 {
			return nil, fmt.Errorf("truncated VT_FILETIME")
		}
		return cfb.FiletimeToTime(le.Uint64(b)), nil
	}
	return nil, fmt.Errorf("unsupported value type %d", vt)
}

func (si *SummaryInfo) set(id uint32, v any) {
	switch x := v.(type) {
	case string:
		switch id {
		case PIDTitle:
			si.Title = x
		case PIDSubject:
			si.Subject = x
		case PIDAuthor:
			si.Author = x
		case PIDKeywords:
			si.Keywords = x
		case PIDComments:
			si.Comments = x
		case PIDTemplate:
			si.Template = x
		case PIDLastAuthor:
			si.LastAuthor = x
		case PIDRevision:
			si.Revision = x
		case PIDAppName:
			si.AppName = x
		}
	case int32:
		switch id {
		case PIDCodepage:
			si.Codepage = int(uint16(x))
		case PIDPageCount:
			si.PageCount = int(x)
		case PIDWordCount:
			si.WordCount = int(x)
		case PIDCharCount:
			si.CharCount = int(x)
		case PIDSecurity:
			si.Security = int(x)
		}
	case time.Time:
		switch id {
		case PIDLastPrinted:
			si.LastPrinted = x
		case PIDCreated:
			si.Created = x
		case PIDLastSaved:
			si.LastSaved = x
		}
	}
}
