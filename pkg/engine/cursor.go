package engine

import (
	"fmt"

	"github.com/bisegni/msiq/pkg/database"
	"github.com/bisegni/msiq/pkg/msierr"
	"github.com/bisegni/msiq/pkg/stream"
)

// State is the position of a Cursor.
type State int

const (
	NotStarted State = iota
	Positioned
	Exhausted
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Positioned:
		return "positioned"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Cursor walks the result set of a query one row at a time. Field indices
// are 1-based. A Cursor is not safe for concurrent use.
type Cursor struct {
	query  *Query
	iter   database.RowIterator
	state  State
	record *database.Record
	closed bool
}

// Fetch advances to the next row. It returns false once the result set is
// exhausted; Exhausted is terminal and later calls return false, nil. A read
// error also exhausts the cursor.
func (c *Cursor) Fetch() (bool, error) {
	if c.state == Exhausted {
		return false, nil
	}
	if !c.iter.Next() {
		err := c.iter.Error()
		c.exhaust()
		return false, err
	}

	row := c.iter.Row()
	rec := &database.Record{
		Columns: c.query.columns,
		Values:  make([]database.Value, row.Len()),
	}
	for i := range rec.Values {
		v, err := row.Get(i)
		if err != nil {
			c.exhaust()
			return false, err
		}
		rec.Values[i] = v
	}
	c.record = rec
	c.state = Positioned
	return true, nil
}

func (c *Cursor) exhaust() {
	c.state = Exhausted
	c.record = nil
}

// State returns the cursor position.
func (c *Cursor) State() State { return c.state }

// Columns returns the columns of the result set.
func (c *Cursor) Columns() []database.Column { return c.query.columns }

// FieldCount returns the number of fields of the current row.
func (c *Cursor) FieldCount() (int, error) {
	if err := c.positioned(); err != nil {
		return 0, err
	}
	return c.record.Len(), nil
}

// Record returns the current row.
func (c *Cursor) Record() (*database.Record, error) {
	if err := c.positioned(); err != nil {
		return nil, err
	}
	return c.record, nil
}

func (c *Cursor) positioned() error {
	if c.state != Positioned {
		return fmt.Errorf("%w: cursor is %s", msierr.ErrInvalidState, c.state)
	}
	return nil
}

func (c *Cursor) field(i int) (database.Value, database.Column, error) {
	if err := c.positioned(); err != nil {
		return database.Value{}, database.Column{}, err
	}
	if i < 1 || i > c.record.Len() {
		return database.Value{}, database.Column{}, fmt.Errorf("%w: field %d of %d", msierr.ErrIndexOutOfRange, i, c.record.Len())
	}
	return c.record.Values[i-1], c.record.Columns[i-1], nil
}

func mismatch(col database.Column, i int, want string) error {
	return fmt.Errorf("%w: field %d (%s) is %s, not %s", msierr.ErrTypeMismatch, i, col.Name, col.Kind, want)
}

// GetString returns field i as text. NULL reads as the empty string and
// integers render in decimal. Binary fields fail with ErrTypeMismatch.
func (c *Cursor) GetString(i int) (string, error) {
	v, col, err := c.field(i)
	if err != nil {
		return "", err
	}
	if v.Kind == database.KindBinary {
		return "", mismatch(col, i, "a string")
	}
	return v.String(), nil
}

// GetInteger returns integer field i, or database.NullInteger when it is
// NULL.
func (c *Cursor) GetInteger(i int) (int32, error) {
	v, col, err := c.field(i)
	if err != nil {
		return 0, err
	}
	if v.Kind != database.KindInt16 && v.Kind != database.KindInt32 {
		return 0, mismatch(col, i, "an integer")
	}
	if v.Null {
		return database.NullInteger, nil
	}
	return v.Int, nil
}

// IsNull reports whether field i is NULL.
func (c *Cursor) IsNull(i int) (bool, error) {
	v, _, err := c.field(i)
	if err != nil {
		return false, err
	}
	return v.Null, nil
}

// GetStreamRef returns the stream reference of binary field i. A NULL field
// returns the zero StreamRef.
func (c *Cursor) GetStreamRef(i int) (database.StreamRef, error) {
	v, col, err := c.field(i)
	if err != nil {
		return database.StreamRef{}, err
	}
	if v.Kind != database.KindBinary {
		return database.StreamRef{}, mismatch(col, i, "a stream")
	}
	return v.Stream, nil
}

// ReadStream reads the whole payload of binary field i in chunks of
// chunkSize bytes (stream.DefaultChunkSize when chunkSize <= 0).
func (c *Cursor) ReadStream(i, chunkSize int) ([]byte, error) {
	ref, err := c.GetStreamRef(i)
	if err != nil {
		return nil, err
	}
	return stream.ReadAll(c.query.db.Container(), ref, chunkSize)
}

// Close releases the scan. It is idempotent; the cursor is Exhausted
// afterwards.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.exhaust()
	return c.iter.Close()
}
