package plan

import (
	"fmt"

	"github.com/bisegni/msiq/pkg/database"
	"github.com/bisegni/msiq/pkg/query"
)

// Predicate is a WHERE clause bound to column positions.
type Predicate interface {
	Evaluate(row database.Row) (bool, error)
	String() string
}

// ComparePredicate compares one column with a constant of the column's
// type. NULL cells never compare equal or unequal to a constant.
type ComparePredicate struct {
	Index  int
	Column database.Column
	Op     query.Operator
	Value  query.Literal
}

func (p *ComparePredicate) Evaluate(row database.Row) (bool, error) {
	v, err := row.Get(p.Index)
	if err != nil {
		return false, err
	}
	if v.Null {
		return false, nil
	}
	var eq bool
	switch v.Kind {
	case database.KindInt16, database.KindInt32:
		eq = int64(v.Int) == p.Value.Int
	case database.KindString:
		eq = v.Str == p.Value.Str
	default:
		return false, fmt.Errorf("cannot compare %s column %s", v.Kind, p.Column.Name)
	}
	if p.Op == query.OpNotEqual {
		return !eq, nil
	}
	return eq, nil
}

func (p *ComparePredicate) String() string {
	return fmt.Sprintf("#%d %s %s %s", p.Index+1, p.Column.Name, p.Op, p.Value)
}

// NullPredicate tests a column for NULL. Empty strings are stored as NULL,
// so comparing a column to an empty-string literal binds to this predicate
// as well.
type NullPredicate struct {
	Index  int
	Column database.Column
	Negate bool
}

func (p *NullPredicate) Evaluate(row database.Row) (bool, error) {
	v, err := row.Get(p.Index)
	if err != nil {
		return false, err
	}
	return v.Null != p.Negate, nil
}

func (p *NullPredicate) String() string {
	if p.Negate {
		return fmt.Sprintf("#%d %s IS NOT NULL", p.Index+1, p.Column.Name)
	}
	return fmt.Sprintf("#%d %s IS NULL", p.Index+1, p.Column.Name)
}

// AndPredicate represents Logical AND
type AndPredicate struct {
	Left  Predicate
	Right Predicate
}

func (p *AndPredicate) Evaluate(row database.Row) (bool, error) {
	ok, err := p.Left.Evaluate(row)
	if err != nil || !ok {
		return false, err
	}
	return p.Right.Evaluate(row)
}

func (p *AndPredicate) String() string {
	return "(" + p.Left.String() + " AND " + p.Right.String() + ")"
}

// OrPredicate represents Logical OR
type OrPredicate struct {
	Left  Predicate
	Right Predicate
}

func (p *OrPredicate) Evaluate(row database.Row) (bool, error) {
	ok, err := p.Left.Evaluate(row)
	if err != nil || ok {
		return ok, err
	}
	return p.Right.Evaluate(row)
}

func (p *OrPredicate) String() string {
	return "(" + p.Left.String() + " OR " + p.Right.String() + ")"
}
