package planner

import (
	"fmt"
	"math"

	"github.com/bisegni/msiq/pkg/database"
	"github.com/bisegni/msiq/pkg/msierr"
	"github.com/bisegni/msiq/pkg/plan"
	"github.com/bisegni/msiq/pkg/query"
)

// Catalog resolves table names. *database.Database implements it.
type Catalog interface {
	Table(name string) (database.Table, error)
}

// CreatePlan converts a Query IR into an Execution Plan bound to the
// schema of the named table. It fails with ErrUnknownTable,
// ErrUnknownColumn or ErrTypeMismatch.
func CreatePlan(q *query.SelectQuery, catalog Catalog) (plan.Node, error) {
	// 1. Resolve Input (FROM)
	table, err := catalog.Table(q.Table)
	if err != nil {
		return nil, err
	}
	var currentNode plan.Node = &plan.ScanNode{Table: table}
	columns := table.Columns()

	// 2. Apply WHERE (Filter)
	if q.Filter != nil {
		pred, err := bind(q.Filter, table.Name(), columns)
		if err != nil {
			return nil, err
		}
		currentNode = &plan.FilterNode{
			Input:     currentNode,
			Predicate: pred,
		}
	}

	// 3. Projection; SELECT * keeps the scan's columns.
	if !q.All() {
		indices := make([]int, len(q.Columns))
		for i, name := range q.Columns {
			idx, err := columnIndex(name, table.Name(), columns)
			if err != nil {
				return nil, err
			}
			indices[i] = idx
		}
		currentNode = &plan.ProjectNode{
			Input:   currentNode,
			Indices: indices,
		}
	}

	return currentNode, nil
}

func columnIndex(name, table string, columns []database.Column) (int, error) {
	for i, c := range columns {
		if c.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q in table %s", msierr.ErrUnknownColumn, name, table)
}

func bind(expr query.Expression, table string, columns []database.Column) (plan.Predicate, error) {
	switch e := expr.(type) {
	case *query.AndExpression:
		left, err := bind(e.Left, table, columns)
		if err != nil {
			return nil, err
		}
		right, err := bind(e.Right, table, columns)
		if err != nil {
			return nil, err
		}
		return &plan.AndPredicate{Left: left, Right: right}, nil

	case *query.OrExpression:
		left, err := bind(e.Left, table, columns)
		if err != nil {
			return nil, err
		}
		right, err := bind(e.Right, table, columns)
		if err != nil {
			return nil, err
		}
		return &plan.OrPredicate{Left: left, Right: right}, nil

	case *query.NullTest:
		idx, err := columnIndex(e.Column, table, columns)
		if err != nil {
			return nil, err
		}
		return &plan.NullPredicate{Index: idx, Column: columns[idx], Negate: e.Negate}, nil

	case *query.Comparison:
		idx, err := columnIndex(e.Column, table, columns)
		if err != nil {
			return nil, err
		}
		col := columns[idx]
		if err := checkLiteral(col, e.Value); err != nil {
			return nil, fmt.Errorf("%w: %s.%s %s %s: %s", msierr.ErrTypeMismatch, table, col.Name, e.Op, e.Value, err)
		}
		if e.Value.Kind == query.LiteralString && e.Value.Str == "" {
			return &plan.NullPredicate{Index: idx, Column: col, Negate: e.Op == query.OpNotEqual}, nil
		}
		return &plan.ComparePredicate{Index: idx, Column: col, Op: e.Op, Value: e.Value}, nil
	}
	return nil, fmt.Errorf("%w: unsupported expression %s", msierr.ErrSyntax, expr)
}

func checkLiteral(col database.Column, lit query.Literal) error {
	switch col.Kind {
	case database.KindBinary:
		return fmt.Errorf("binary columns only support IS NULL")
	case database.KindString:
		if lit.Kind != query.LiteralString {
			return fmt.Errorf("string column compared with an integer")
		}
	case database.KindInt16:
		if lit.Kind != query.LiteralInteger {
			return fmt.Errorf("integer column compared with a string")
		}
		if lit.Int < -math.MaxInt16 || lit.Int > math.MaxInt16 {
			return fmt.Errorf("%d outside the int16 range", lit.Int)
		}
	case database.KindInt32:
		if lit.Kind != query.LiteralInteger {
			return fmt.Errorf("integer column compared with a string")
		}
		if lit.Int < -math.MaxInt32 || lit.Int > math.MaxInt32 {
			return fmt.Errorf("%d outside the int32 range", lit.Int)
		}
	}
	return nil
}
