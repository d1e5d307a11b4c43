// Package engine compiles query text against a database and runs it with a
// lazily advancing record cursor.
package engine

import (
	"github.com/bisegni/msiq/internal/logging"
	"github.com/bisegni/msiq/pkg/database"
	"github.com/bisegni/msiq/pkg/plan"
	"github.com/bisegni/msiq/pkg/planner"
	"github.com/bisegni/msiq/pkg/query"
)

// Query is a compiled SELECT statement. It is immutable and may be executed
// any number of times.
type Query struct {
	db      *database.Database
	sql     *query.SelectQuery
	root    plan.Node
	columns []database.Column
}

// Compile parses text and binds it to the schema of db. It fails with
// ErrSyntax, ErrUnknownTable, ErrUnknownColumn or ErrTypeMismatch.
func Compile(db *database.Database, text string) (*Query, error) {
	sq, err := query.ParseQuery(text)
	if err != nil {
		return nil, err
	}
	root, err := planner.CreatePlan(sq, db)
	if err != nil {
		return nil, err
	}
	q := &Query{
		db:      db,
		sql:     sq,
		root:    root,
		columns: root.Schema(),
	}
	logging.WithTable(sq.Table).Debug("query compiled", "query", sq.String(), "columns", len(q.columns))
	return q, nil
}

// Table returns the table the query reads.
func (q *Query) Table() string { return q.sql.Table }

// Columns returns the selected columns in field order.
func (q *Query) Columns() []database.Column { return q.columns }

// String returns the normalized query text.
func (q *Query) String() string { return q.sql.String() }

// Explain renders the execution plan.
func (q *Query) Explain() string { return plan.FormatPlan(q.root) }

// Execute starts a scan. Rows are read from the container as the cursor
// advances.
func (q *Query) Execute() (*Cursor, error) {
	it, err := q.root.Execute()
	if err != nil {
		return nil, err
	}
	return &Cursor{
		query: q,
		iter:  it,
		state: NotStarted,
	}, nil
}
