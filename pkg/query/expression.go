package query

// Expression is a WHERE clause tree over column names. It is resolved
// against a table schema by the planner.
type Expression interface {
	String() string
	// Columns returns the column names the expression references.
	Columns() []string
}

// Operator is a comparison operator.
type Operator string

const (
	OpEqual    Operator = "="
	OpNotEqual Operator = "<>"
)

// LiteralKind is the type of a literal.
type LiteralKind int

const (
	LiteralNull LiteralKind = iota
	LiteralInteger
	LiteralString
)

// Literal is a constant in a WHERE clause.
type Literal struct {
	Kind LiteralKind
	Int  int64
	Str  string
}

func (l Literal) String() string {
	switch l.Kind {
	case LiteralInteger:
		return formatInt(l.Int)
	case LiteralString:
		return quoteString(l.Str)
	default:
		return "NULL"
	}
}

// Comparison is a leaf "column op literal".
type Comparison struct {
	Column string
	Op     Operator
	Value  Literal
}

func (c *Comparison) String() string {
	return quoteIdent(c.Column) + " " + string(c.Op) + " " + c.Value.String()
}

func (c *Comparison) Columns() []string { return []string{c.Column} }

// NullTest is "column IS [NOT] NULL".
type NullTest struct {
	Column string
	Negate bool
}

func (n *NullTest) String() string {
	if n.Negate {
		return quoteIdent(n.Column) + " IS NOT NULL"
	}
	return quoteIdent(n.Column) + " IS NULL"
}

func (n *NullTest) Columns() []string { return []string{n.Column} }

// AndExpression represents Logical AND
type AndExpression struct {
	Left  Expression
	Right Expression
}

func (a *AndExpression) String() string {
	return group(a.Left, false) + " AND " + group(a.Right, false)
}

func (a *AndExpression) Columns() []string {
	return append(a.Left.Columns(), a.Right.Columns()...)
}

// OrExpression represents Logical OR
type OrExpression struct {
	Left  Expression
	Right Expression
}

func (o *OrExpression) String() string {
	return group(o.Left, true) + " OR " + group(o.Right, true)
}

func (o *OrExpression) Columns() []string {
	return append(o.Left.Columns(), o.Right.Columns()...)
}

// group parenthesizes an OR operand of AND so the rendering parses back to
// the same tree.
func group(e Expression, inOr bool) string {
	if _, ok := e.(*OrExpression); ok && !inOr {
		return "(" + e.String() + ")"
	}
	return e.String()
}
