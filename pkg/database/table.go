package database

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/bisegni/msiq/pkg/msierr"
	"github.com/bisegni/msiq/pkg/streamname"
)

var tablesSchema = []Column{
	{Name: "Name", Number: 1, Kind: KindString, Size: 64, PrimaryKey: true, Type: 0x2D40},
}

var columnsSchema = []Column{
	{Name: "Table", Number: 1, Kind: KindString, Size: 64, PrimaryKey: true, Type: 0x2D40},
	{Name: "Number", Number: 2, Kind: KindInt16, PrimaryKey: true, Type: 0x2502},
	{Name: "Name", Number: 3, Kind: KindString, Size: 64, Type: 0x0D40},
	{Name: "Type", Number: 4, Kind: KindInt16, Type: 0x0502},
}

func decodeInt16(b []byte) int16 {
	return int16(binary.LittleEndian.Uint16(b) ^ 0x8000)
}

func decodeInt32(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b) ^ 0x80000000)
}

// tableStream is a table backed by a column-major row stream.
type tableStream struct {
	db      *Database
	name    string
	columns []Column
	entry   string // "" when the table has no stream
	rows    int

	widths  []int
	offsets []int // byte offset of each column's block
	keys    []int // primary key column indices
}

func (db *Database) newTable(name string, cols []Column) (*tableStream, error) {
	t := &tableStream{
		db:      db,
		name:    name,
		columns: cols,
		widths:  make([]int, len(cols)),
		offsets: make([]int, len(cols)),
	}
	rowWidth := 0
	for i, c := range cols {
		t.widths[i] = c.width(db.pool.RefSize())
		rowWidth += t.widths[i]
		if c.PrimaryKey {
			t.keys = append(t.keys, i)
		}
	}

	entry, ok := db.tableEntries[name]
	if !ok {
		return t, nil
	}
	e, _ := db.c.Entry(entry)
	if e.Size%int64(rowWidth) != 0 {
		return nil, db.corrupt("table %s stream is %d bytes, not a multiple of its row width %d", name, e.Size, rowWidth)
	}
	t.entry = entry
	t.rows = int(e.Size / int64(rowWidth))
	off := 0
	for i, w := range t.widths {
		t.offsets[i] = off
		off += w * t.rows
	}
	return t, nil
}

func (t *tableStream) Name() string      { return t.name }
func (t *tableStream) Columns() []Column { return t.columns }

func (t *tableStream) Iterate() (RowIterator, error) {
	return &tableIterator{t: t, index: -1}, nil
}

// cell decodes column col of row index.
func (t *tableStream) cell(index, col int) (Value, error) {
	c := t.columns[col]
	w := t.widths[col]
	raw, err := t.db.c.ReadEntry(t.entry, int64(t.offsets[col]+index*w), w)
	if err != nil {
		return Value{}, fmt.Errorf("table %s row %d column %s: %w", t.name, index, c.Name, err)
	}
	if len(raw) != w {
		return Value{}, fmt.Errorf("%w: table %s row %d column %s: short cell", msierr.ErrIO, t.name, index, c.Name)
	}

	v := Value{Kind: c.Kind}
	switch c.Kind {
	case KindInt16:
		if binary.LittleEndian.Uint16(raw) == 0 {
			v.Null, v.Int = true, NullInteger
		} else {
			v.Int = int32(decodeInt16(raw))
		}
	case KindInt32:
		if binary.LittleEndian.Uint32(raw) == 0 {
			v.Null, v.Int = true, NullInteger
		} else {
			v.Int = decodeInt32(raw)
		}
	case KindString:
		ref := t.db.pool.readRef(raw)
		if ref == 0 {
			v.Null = true
			break
		}
		s, err := t.db.pool.Get(ref)
		if err != nil {
			return Value{}, fmt.Errorf("%w: table %s row %d column %s: %v", msierr.ErrCorruptSchema, t.name, index, c.Name, err)
		}
		v.Str = s
	case KindBinary:
		if binary.LittleEndian.Uint16(raw) == 0 {
			v.Null = true
			break
		}
		ref, err := t.streamRef(index)
		if err != nil {
			return Value{}, err
		}
		v.Stream = ref
	}
	return v, nil
}

// streamRef names the stream of a binary cell after the row's primary key:
// "Table.Key1.Key2".
func (t *tableStream) streamRef(index int) (StreamRef, error) {
	parts := make([]string, 0, len(t.keys)+1)
	parts = append(parts, t.name)
	for _, k := range t.keys {
		kv, err := t.cell(index, k)
		if err != nil {
			return StreamRef{}, err
		}
		if t.columns[k].Kind == KindString {
			parts = append(parts, kv.Str)
		} else {
			parts = append(parts, strconv.Itoa(int(kv.Int)))
		}
	}
	name := strings.Join(parts, ".")
	entry, ok := t.db.streams[name]
	if !ok {
		// Unresolved; reading it reports ErrStreamNotFound.
		entry = streamname.Encode(name, false)
	}
	return StreamRef{Table: t.name, Name: name, Entry: entry}, nil
}

type tableIterator struct {
	t      *tableStream
	index  int
	closed bool
}

func (it *tableIterator) Next() bool {
	if it.closed || it.index >= it.t.rows {
		return false
	}
	it.index++
	return it.index < it.t.rows
}

func (it *tableIterator) Row() Row {
	if it.index < 0 || it.index >= it.t.rows {
		return nil
	}
	return &tableRow{t: it.t, index: it.index}
}

// Error is always nil: positioning reads nothing, and cell decoding errors
// are returned by Row.Get.
func (it *tableIterator) Error() error { return nil }

func (it *tableIterator) Close() error {
	it.closed = true
	return nil
}

type tableRow struct {
	t     *tableStream
	index int
}

func (r *tableRow) Get(i int) (Value, error) {
	if i < 0 || i >= len(r.t.columns) {
		return Value{}, fmt.Errorf("%w: column %d of table %s", msierr.ErrIndexOutOfRange, i, r.t.name)
	}
	return r.t.cell(r.index, i)
}

func (r *tableRow) Len() int { return len(r.t.columns) }
