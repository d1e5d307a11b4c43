package database

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

const (
	CodepageUTF8 = 65001
	longRefsFlag = 0x80000000
)

var codepages = map[int]encoding.Encoding{
	874:  charmap.Windows874,
	932:  japanese.ShiftJIS,
	936:  simplifiedchinese.GBK,
	949:  korean.EUCKR,
	950:  traditionalchinese.Big5,
	1250: charmap.Windows1250,
	1251: charmap.Windows1251,
	1252: charmap.Windows1252,
	1253: charmap.Windows1253,
	1254: charmap.Windows1254,
	1255: charmap.Windows1255,
	1256: charmap.Windows1256,
	1257: charmap.Windows1257,
	1258: charmap.Windows1258,
}

// SupportedCodepage reports whether strings in codepage cp can be decoded.
func SupportedCodepage(cp int) bool {
	_, ok := codepages[cp]
	return ok || cp == 0 || cp == CodepageUTF8
}

// DecodeString converts raw bytes in codepage cp to UTF-8. Codepage 0
// (neutral) and unknown codepages take the bytes as UTF-8 when valid and as
// Windows-1252 otherwise.
func DecodeString(raw []byte, cp int) string {
	if cp == CodepageUTF8 {
		return string(raw)
	}
	enc, ok := codepages[cp]
	if !ok {
		if utf8.Valid(raw) {
			return string(raw)
		}
		enc = charmap.Windows1252
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// StringPool is the decoded shared string table. Index 0 is the NULL
// string.
type StringPool struct {
	codepage int
	longRefs bool
	strings  []string
}

// parseStringPool decodes the _StringPool entries against the concatenated
// _StringData bytes.
func parseStringPool(pool, data []byte) (*StringPool, error) {
	if len(pool) < 4 {
		return nil, fmt.Errorf("string pool header is %d bytes", len(pool))
	}
	if len(pool)%4 != 0 {
		return nil, fmt.Errorf("string pool size %d is not a multiple of 4", len(pool))
	}
	le := binary.LittleEndian
	hdr := le.Uint32(pool)
	p := &StringPool{
		codepage: int(hdr &^ longRefsFlag),
		longRefs: hdr&longRefsFlag != 0,
		strings:  []string{""},
	}

	offset := 0
	for i := 4; i < len(pool); i += 4 {
		length := int(le.Uint16(pool[i:]))
		refs := le.Uint16(pool[i+2:])
		if length == 0 && refs != 0 {
			// Long string: the high word of the length is in refs, the low
			// word in the next entry.
			i += 4
			if i >= len(pool) {
				return nil, fmt.Errorf("string %d: truncated long string entry", len(p.strings))
			}
			length = int(refs)<<16 | int(le.Uint16(pool[i:]))
		}
		if offset+length > len(data) {
			return nil, fmt.Errorf("string %d: %d bytes at offset %d overrun %d bytes of string data",
				len(p.strings), length, offset, len(data))
		}
		p.strings = append(p.strings, DecodeString(data[offset:offset+length], p.codepage))
		offset += length
	}
	return p, nil
}

// Get returns the string with pool index i.
func (p *StringPool) Get(i int) (string, error) {
	if i < 0 || i >= len(p.strings) {
		return "", fmt.Errorf("string index %d outside pool of %d", i, len(p.strings))
	}
	return p.strings[i], nil
}

// Len returns the number of pool slots including the NULL slot.
func (p *StringPool) Len() int { return len(p.strings) }

// Codepage returns the codepage declared by the pool header.
func (p *StringPool) Codepage() int { return p.codepage }

// RefSize returns the width in bytes of a string reference: 3 when the
// pool uses long references, 2 otherwise.
func (p *StringPool) RefSize() int {
	if p.longRefs {
		return 3
	}
	return 2
}

func (p *StringPool) readRef(b []byte) int {
	ref := int(binary.LittleEndian.Uint16(b))
	if p.longRefs {
		ref |= int(b[2]) << 16
	}
	return ref
}
