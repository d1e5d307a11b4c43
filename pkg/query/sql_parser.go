package query

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/bisegni/msiq/pkg/msierr"
)

// SelectQuery represents a parsed SQL-like query IR (Intermediate Representation)
type SelectQuery struct {
	Columns []string   // selected column names; nil selects every column
	Table   string     // table named by FROM
	Filter  Expression // compiled expression tree for the WHERE clause
}

// All reports whether the query selects every column (SELECT *).
func (q *SelectQuery) All() bool { return q.Columns == nil }

func (q *SelectQuery) String() string {
	cols := "*"
	if !q.All() {
		quoted := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			quoted[i] = quoteIdent(c)
		}
		cols = strings.Join(quoted, ", ")
	}
	s := fmt.Sprintf("SELECT %s FROM %s", cols, quoteIdent(q.Table))
	if q.Filter != nil {
		s += " WHERE " + q.Filter.String()
	}
	return s
}

var keywords = []string{"SELECT", "FROM", "WHERE", "AND", "OR", "IS", "NOT", "NULL"}

func isKeyword(s string) bool {
	for _, k := range keywords {
		if strings.EqualFold(s, k) {
			return true
		}
	}
	return false
}

// Lexer definition
var (
	sqlLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Keyword", Pattern: `(?i)\b(SELECT|FROM|WHERE|AND|OR|IS|NOT|NULL)\b`},
		{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_.]*`},
		{Name: "QuotedIdent", Pattern: "`[^`]*`"},
		{Name: "Number", Pattern: `[-+]?\d+`},
		{Name: "String", Pattern: `'[^']*'`},
		{Name: "Operator", Pattern: `<>|=`},
		{Name: "Punct", Pattern: `[*,()]`},
		{Name: "Whitespace", Pattern: `\s+`},
	})

	// Participle Parser
	sqlParser = participle.MustBuild[ASTSelect](
		participle.Lexer(sqlLexer),
		participle.Map(stripQuotes, "String", "QuotedIdent"),
		participle.CaseInsensitive("Keyword"),
		participle.Elide("Whitespace"),
		participle.UseLookahead(2),
	)
)

// stripQuotes removes the delimiters of quoted tokens. MSI SQL has no escape
// sequences, so the body is taken verbatim.
func stripQuotes(t lexer.Token) (lexer.Token, error) {
	t.Value = t.Value[1 : len(t.Value)-1]
	return t, nil
}

// ParseQuery parses a SELECT string using Participle. Failures wrap
// msierr.ErrSyntax.
func ParseQuery(input string) (*SelectQuery, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("%w: empty query", msierr.ErrSyntax)
	}

	ast, err := sqlParser.ParseString("", input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", msierr.ErrSyntax, err)
	}

	return ast.ToSelectQuery(), nil
}
