package database

import (
	"fmt"
	"strings"
)

// ColumnKind is the storage class of a column.
type ColumnKind int

const (
	KindInt16 ColumnKind = iota
	KindInt32
	KindString
	KindBinary
)

func (k ColumnKind) String() string {
	switch k {
	case KindInt16:
		return "int16"
	case KindInt32:
		return "int32"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Column type bits as stored in the Type column of _Columns.
const (
	typeSizeMask    = 0x00FF
	typeValid       = 0x0100
	typeLocalizable = 0x0200
	typeNonBinary   = 0x0400
	typeString      = 0x0800
	typeNullable    = 0x1000
	typeKey         = 0x2000
)

// Column describes one column of a table.
type Column struct {
	Name        string
	Number      int // 1-based position from _Columns
	Kind        ColumnKind
	Size        int // declared maximum length of strings, 0 for unbounded
	Nullable    bool
	PrimaryKey  bool
	Localizable bool
	Type        int // raw type word
}

// ParseColumnType decodes a raw _Columns type word.
func ParseColumnType(name string, number, t int) (Column, error) {
	col := Column{
		Name:        name,
		Number:      number,
		Nullable:    t&typeNullable != 0,
		PrimaryKey:  t&typeKey != 0,
		Localizable: t&typeLocalizable != 0,
		Type:        t,
	}
	size := t & typeSizeMask
	switch {
	case t&typeString != 0 && t&typeNonBinary != 0:
		col.Kind = KindString
		col.Size = size
	case t&typeString != 0:
		col.Kind = KindBinary
	case size == 4:
		col.Kind = KindInt32
	case size == 2 || size == 1:
		col.Kind = KindInt16
	default:
		return Column{}, fmt.Errorf("column %s has type 0x%04X with integer size %d", name, t, size)
	}
	return col, nil
}

// width returns the bytes one cell of the column occupies in a table
// stream.
func (c Column) width(refSize int) int {
	switch c.Kind {
	case KindInt32:
		return 4
	case KindString:
		return refSize
	default:
		return 2
	}
}

// Definition renders the column type in MSI table-definition notation,
// e.g. "s72", "L0", "i2", "v0". Uppercase marks a nullable column.
func (c Column) Definition() string {
	var s string
	switch c.Kind {
	case KindInt16:
		s = "i2"
	case KindInt32:
		s = "i4"
	case KindBinary:
		s = "v0"
	default:
		letter := "s"
		if c.Localizable {
			letter = "l"
		}
		s = fmt.Sprintf("%s%d", letter, c.Size)
	}
	if c.Nullable {
		s = strings.ToUpper(s[:1]) + s[1:]
	}
	return s
}
