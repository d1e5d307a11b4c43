package plan

import (
	"fmt"

	"github.com/bisegni/msiq/pkg/database"
	"github.com/bisegni/msiq/pkg/msierr"
)

// --- Filter Iterator ---

type filterIterator struct {
	source    database.RowIterator
	predicate Predicate
	err       error
}

func (it *filterIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.source.Next() {
		ok, err := it.predicate.Evaluate(it.source.Row())
		if err != nil {
			it.err = err
			return false
		}
		if ok {
			return true
		}
	}
	return false
}

func (it *filterIterator) Row() database.Row {
	return it.source.Row()
}

func (it *filterIterator) Error() error {
	if it.err != nil {
		return it.err
	}
	return it.source.Error()
}

func (it *filterIterator) Close() error {
	return it.source.Close()
}

// --- Project Iterator ---

type projectIterator struct {
	source  database.RowIterator
	indices []int
}

func (it *projectIterator) Next() bool {
	return it.source.Next()
}

func (it *projectIterator) Row() database.Row {
	src := it.source.Row()
	if src == nil {
		return nil
	}
	return &projectedRow{source: src, indices: it.indices}
}

func (it *projectIterator) Error() error {
	return it.source.Error()
}

func (it *projectIterator) Close() error {
	return it.source.Close()
}

type projectedRow struct {
	source  database.Row
	indices []int
}

func (r *projectedRow) Get(i int) (database.Value, error) {
	if i < 0 || i >= len(r.indices) {
		return database.Value{}, fmt.Errorf("%w: field %d of %d", msierr.ErrIndexOutOfRange, i, len(r.indices))
	}
	return r.source.Get(r.indices[i])
}

func (r *projectedRow) Len() int { return len(r.indices) }
