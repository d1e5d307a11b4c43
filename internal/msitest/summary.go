package msitest

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/charmap"

	"github.com/bisegni/msiq/pkg/cfb"
)

// SummaryFMTID identifies the SummaryInformation property set.
var SummaryFMTID = uuid.MustParse("f29f85e0-4ff9-1068-ab91-08002b27b3d9")

const (
	vtI2       = 2
	vtI4       = 3
	vtLPSTR    = 30
	vtFiletime = 64
)

// BuildSummary encodes a single-section property set. Values may be int
// (VT_I4, or VT_I2 for the codepage property 1), string (VT_LPSTR) or
// time.Time (VT_FILETIME). Strings are written as Windows-1252 unless the
// codepage property is 65001.
func BuildSummary(props map[uint32]any) []byte {
	le := binary.LittleEndian
	utf8 := false
	if cp, ok := props[1].(int); ok && cp == 65001 {
		utf8 = true
	}

	ids := make([]uint32, 0, len(props))
	for id := range props {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var values []byte
	offsets := make([]uint32, len(ids))
	base := uint32(8 + 8*len(ids))
	for i, id := range ids {
		offsets[i] = base + uint32(len(values))
		switch v := props[id].(type) {
		case int:
			if id == 1 {
				values = le.AppendUint32(values, vtI2)
				values = le.AppendUint16(values, uint16(int16(v)))
				values = append(values, 0, 0)
			} else {
				values = le.AppendUint32(values, vtI4)
				values = le.AppendUint32(values, uint32(int32(v)))
			}
		case string:
			raw := []byte(v)
			if !utf8 {
				enc, err := charmap.Windows1252.NewEncoder().String(v)
				if err != nil {
					panic(err)
				}
				raw = []byte(enc)
			}
			raw = append(raw, 0)
			values = le.AppendUint32(values, vtLPSTR)
			values = le.AppendUint32(values, uint32(len(raw)))
			values = append(values, pad(raw, 4)...)
		case time.Time:
			values = le.AppendUint32(values, vtFiletime)
			values = le.AppendUint64(values, cfb.TimeToFiletime(v))
		default:
			panic(fmt.Sprintf("msitest: summary property %d has type %T", id, v))
		}
	}

	section := le.AppendUint32(nil, base+uint32(len(values)))
	section = le.AppendUint32(section, uint32(len(ids)))
	for i, id := range ids {
		section = le.AppendUint32(section, id)
		section = le.AppendUint32(section, offsets[i])
	}
	section = append(section, values...)

	out := make([]byte, 0, 48+len(section))
	out = le.AppendUint16(out, 0xFFFE)
	out = le.AppendUint16(out, 0)
	out = le.AppendUint32(out, 0x00020006)
	out = append(out, make([]byte, 16)...)
	out = le.AppendUint32(out, 1)
	out = append(out, cfb.CLSIDToBytes(SummaryFMTID)...)
	out = le.AppendUint32(out, 48)
	return append(out, section...)
}
