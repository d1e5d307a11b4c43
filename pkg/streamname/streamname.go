// Package streamname implements the name compression MSI applies to the
// stream names of its compound file.
//
// Identifier characters ([0-9A-Za-z._]) map to 6-bit codes. Pairs of codes
// are packed into one UTF-16 unit in 0x3800..0x47FF, a lone code into
// 0x4800..0x483F. Table streams carry the 0x4840 prefix unit. Any other
// character is stored unchanged, which is how names such as
// "\x05SummaryInformation" survive untouched.
package streamname

const (
	pairBase   = 0x3800
	singleBase = 0x4800
	// TablePrefix marks the stream holding a table's rows.
	TablePrefix = 0x4840
)

func toCode(r rune) int {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0')
	case r >= 'A' && r <= 'Z':
		return int(r-'A') + 10
	case r >= 'a' && r <= 'z':
		return int(r-'a') + 36
	case r == '.':
		return 62
	case r == '_':
		return 63
	}
	return -1
}

func fromCode(c int) rune {
	switch {
	case c < 10:
		return rune('0' + c)
	case c < 36:
		return rune('A' + c - 10)
	case c < 62:
		return rune('a' + c - 36)
	case c == 62:
		return '.'
	}
	return '_'
}

// Encode compresses name. table selects the table-stream prefix.
func Encode(name string, table bool) string {
	in := []rune(name)
	out := make([]rune, 0, len(in)+1)
	if table {
		out = append(out, TablePrefix)
	}
	for i := 0; i < len(in); i++ {
		m := toCode(in[i])
		if m < 0 {
			out = append(out, in[i])
			continue
		}
		if i+1 < len(in) {
			if n := toCode(in[i+1]); n >= 0 {
				out = append(out, rune(pairBase+m+n<<6))
				i++
				continue
			}
		}
		out = append(out, rune(singleBase+m))
	}
	return string(out)
}

// Decode expands a raw directory name. table reports whether the name
// carried the table-stream prefix, which is not part of the result.
func Decode(raw string) (name string, table bool) {
	in := []rune(raw)
	if len(in) > 0 && in[0] == TablePrefix {
		table = true
		in = in[1:]
	}
	out := make([]rune, 0, 2*len(in))
	for _, r := range in {
		switch {
		case r >= pairBase && r < singleBase:
			c := int(r - pairBase)
			out = append(out, fromCode(c&0x3f), fromCode((c>>6)&0x3f))
		case r >= singleBase && r < TablePrefix:
			out = append(out, fromCode(int(r-singleBase)))
		default:
			out = append(out, r)
		}
	}
	return string(out), table
}
