package database

import (
	"math"
	"strconv"
)

// NullInteger is returned for NULL integer cells.
const NullInteger = math.MinInt32

// StreamRef points at the container stream holding a binary cell. The zero
// value is a NULL reference.
type StreamRef struct {
	Table string
	// Name is the decoded stream name, "Table.Key1.Key2" for table cells.
	Name string
	// Entry is the raw (compressed) container entry name.
	Entry string
}

// Valid reports whether the reference names a stream.
func (r StreamRef) Valid() bool { return r.Entry != "" }

// Value is one decoded cell.
type Value struct {
	Kind   ColumnKind
	Null   bool
	Int    int32
	Str    string
	Stream StreamRef
}

// String renders the value the way MSI record string access does: integers
// in decimal, NULL as the empty string, streams by name.
func (v Value) String() string {
	if v.Null {
		return ""
	}
	switch v.Kind {
	case KindInt16, KindInt32:
		return strconv.FormatInt(int64(v.Int), 10)
	case KindBinary:
		return v.Stream.Name
	default:
		return v.Str
	}
}

// Interface returns the value as a plain Go value for encoding: nil, int32,
// string, or the stream name.
func (v Value) Interface() any {
	if v.Null {
		return nil
	}
	switch v.Kind {
	case KindInt16, KindInt32:
		return v.Int
	case KindBinary:
		return v.Stream.Name
	default:
		return v.Str
	}
}

// Record is one materialized row of a result set.
type Record struct {
	Columns []Column
	Values  []Value
}

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.Values) }

// Ordered returns the record as column name/value pairs in field order.
// Duplicate column names keep every occurrence.
func (r *Record) Ordered() OrderedMap {
	om := make(OrderedMap, len(r.Values))
	for i, v := range r.Values {
		om[i] = KeyVal{Key: r.Columns[i].Name, Val: v.Interface()}
	}
	return om
}

// Map returns the record keyed by column name.
func (r *Record) Map() map[string]any {
	return r.Ordered().ToMap()
}
