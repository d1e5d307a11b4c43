package query

import (
	"strconv"
	"strings"
)

// AST for Participle Parser

type ASTSelect struct {
	Columns *ASTColumns    `parser:"'SELECT' @@"`
	From    *ASTIdentifier `parser:"'FROM' @@"`
	Where   *ASTExpression `parser:"('WHERE' @@)?"`
}

type ASTColumns struct {
	All   bool             `parser:"  @'*'"`
	Names []*ASTIdentifier `parser:"| @@ (',' @@)*"`
}

// ASTIdentifier is a table or column name, bare or back-quoted.
type ASTIdentifier struct {
	Name string `parser:"@(Ident | QuotedIdent)"`
}

type ASTExpression struct {
	Or []*ASTOrCondition `parser:"@@ ('OR' @@)*"`
}

type ASTOrCondition struct {
	And []*ASTCondition `parser:"@@ ('AND' @@)*"`
}

type ASTCondition struct {
	Grouped *ASTExpression `parser:"  '(' @@ ')'"`
	Simple  *ASTComparison `parser:"| @@"`
}

type ASTComparison struct {
	Column *ASTIdentifier `parser:"@@"`
	Null   *ASTNullTest   `parser:"( @@"`
	Op     string         `parser:"| @('=' | '<>')"`
	Value  *ASTLiteral    `parser:"  @@ )"`
}

type ASTNullTest struct {
	Not bool `parser:"'IS' @'NOT'? 'NULL'"`
}

type ASTLiteral struct {
	Int  *int64  `parser:"  @Number"`
	Str  *string `parser:"| @String"`
	Null bool    `parser:"| @'NULL'"`
}

// Helpers

func (s *ASTSelect) ToSelectQuery() *SelectQuery {
	sq := &SelectQuery{
		Table: s.From.Name,
	}
	if !s.Columns.All {
		for _, c := range s.Columns.Names {
			sq.Columns = append(sq.Columns, c.Name)
		}
	}
	if s.Where != nil {
		sq.Filter = s.Where.ToExpression()
	}
	return sq
}

func (e *ASTExpression) String() string {
	var parts []string
	for _, or := range e.Or {
		parts = append(parts, or.String())
	}
	return strings.Join(parts, " OR ")
}

func (o *ASTOrCondition) String() string {
	var parts []string
	for _, and := range o.And {
		parts = append(parts, and.String())
	}
	return strings.Join(parts, " AND ")
}

func (c *ASTCondition) String() string {
	if c.Grouped != nil {
		return "(" + c.Grouped.String() + ")"
	}
	return c.Simple.ToExpression().String()
}

func (l *ASTLiteral) ToLiteral() Literal {
	switch {
	case l.Int != nil:
		return Literal{Kind: LiteralInteger, Int: *l.Int}
	case l.Str != nil:
		return Literal{Kind: LiteralString, Str: *l.Str}
	default:
		return Literal{Kind: LiteralNull}
	}
}

func (l *ASTLiteral) String() string {
	return l.ToLiteral().String()
}

// Map AST to Expression interface

func (e *ASTExpression) ToExpression() Expression {
	if len(e.Or) == 0 {
		return nil
	}
	var expr Expression = e.Or[0].ToExpression()
	for i := 1; i < len(e.Or); i++ {
		expr = &OrExpression{
			Left:  expr,
			Right: e.Or[i].ToExpression(),
		}
	}
	return expr
}

func (o *ASTOrCondition) ToExpression() Expression {
	if len(o.And) == 0 {
		return nil
	}
	var expr Expression = o.And[0].ToExpression()
	for i := 1; i < len(o.And); i++ {
		expr = &AndExpression{
			Left:  expr,
			Right: o.And[i].ToExpression(),
		}
	}
	return expr
}

func (c *ASTCondition) ToExpression() Expression {
	if c.Grouped != nil {
		return c.Grouped.ToExpression()
	}
	return c.Simple.ToExpression()
}

func (c *ASTComparison) ToExpression() Expression {
	if c.Null != nil {
		return &NullTest{Column: c.Column.Name, Negate: c.Null.Not}
	}
	lit := c.Value.ToLiteral()
	op := OpEqual
	if c.Op == "<>" {
		op = OpNotEqual
	}
	// "col = NULL" reads as "col IS NULL", as in MSI SQL.
	if lit.Kind == LiteralNull {
		return &NullTest{Column: c.Column.Name, Negate: op == OpNotEqual}
	}
	return &Comparison{Column: c.Column.Name, Op: op, Value: lit}
}

func quoteIdent(name string) string {
	for i, r := range name {
		ok := r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' ||
			i > 0 && (r == '.' || r >= '0' && r <= '9')
		if !ok || isKeyword(name) {
			return "`" + name + "`"
		}
	}
	if name == "" {
		return "``"
	}
	return name
}

func quoteString(s string) string {
	return "'" + s + "'"
}

func formatInt(i int64) string { return strconv.FormatInt(i, 10) }
