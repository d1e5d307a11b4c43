package engine

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/bisegni/msiq/pkg/database"
)

// Executor runs compiled queries and writes their rows as JSON lines
type Executor struct {
	Pretty bool
}

func NewExecutor() *Executor {
	return &Executor{
		Pretty: false,
	}
}

// Execute streams the rows of q to w, one JSON object per row with keys in
// column order. Binary fields render as their stream name. It returns the
// number of rows written.
func (e *Executor) Execute(q *Query, w io.Writer) (int, error) {
	cur, err := q.Execute()
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	if e.Pretty {
		encoder.SetIndent("", "  ")
	}

	n := 0
	for {
		ok, err := cur.Fetch()
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		rec, err := cur.Record()
		if err != nil {
			return n, err
		}
		if err := encoder.Encode(rec.Ordered()); err != nil {
			return n, fmt.Errorf("write row %d: %w", n+1, err)
		}
		n++
	}
}

// Collect runs q and returns every row. Intended for small result sets
// such as schema listings.
func Collect(q *Query) ([]*database.Record, error) {
	cur, err := q.Execute()
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var out []*database.Record
	for {
		ok, err := cur.Fetch()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		rec, err := cur.Record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}
