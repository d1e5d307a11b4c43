package database

import (
	"fmt"
	"strings"

	"github.com/bisegni/msiq/pkg/msierr"
)

var streamsSchema = []Column{
	{Name: "Name", Number: 1, Kind: KindString, Size: 62, PrimaryKey: true, Type: 0x2D3E},
	{Name: "Data", Number: 2, Kind: KindBinary, Nullable: true, Type: 0x1900},
}

// streamsTable is the virtual _Streams table: one row per root stream that
// is neither a table stream nor a property set.
type streamsTable struct {
	db    *Database
	names []string
}

func newStreamsTable(db *Database) *streamsTable {
	t := &streamsTable{db: db}
	for _, name := range db.StreamNames() {
		if strings.HasPrefix(name, "\x05") {
			continue
		}
		t.names = append(t.names, name)
	}
	return t
}

func (t *streamsTable) Name() string      { return StreamsTable }
func (t *streamsTable) Columns() []Column { return streamsSchema }

func (t *streamsTable) Iterate() (RowIterator, error) {
	return &streamsIterator{t: t, index: -1}, nil
}

type streamsIterator struct {
	t     *streamsTable
	index int
}

func (it *streamsIterator) Next() bool {
	if it.index >= len(it.t.names) {
		return false
	}
	it.index++
	return it.index < len(it.t.names)
}

func (it *streamsIterator) Row() Row {
	if it.index < 0 || it.index >= len(it.t.names) {
		return nil
	}
	return &streamRow{t: it.t, name: it.t.names[it.index]}
}

func (it *streamsIterator) Error() error { return nil }
func (it *streamsIterator) Close() error { return nil }

type streamRow struct {
	t    *streamsTable
	name string
}

func (r *streamRow) Get(i int) (Value, error) {
	switch i {
	case 0:
		return Value{Kind: KindString, Str: r.name}, nil
	case 1:
		ref, err := r.t.db.StreamRef(r.name)
		if err != nil {
			return Value{}, err
		}
		ref.Table = StreamsTable
		return Value{Kind: KindBinary, Stream: ref}, nil
	}
	return Value{}, fmt.Errorf("%w: column %d of table %s", msierr.ErrIndexOutOfRange, i, StreamsTable)
}

func (r *streamRow) Len() int { return len(streamsSchema) }
