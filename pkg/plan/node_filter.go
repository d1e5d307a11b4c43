package plan

import (
	"github.com/bisegni/msiq/pkg/database"
)

// FilterNode filters rows based on a bound predicate
type FilterNode struct {
	Input     Node
	Predicate Predicate
}

func (n *FilterNode) Execute() (database.RowIterator, error) {
	inputIter, err := n.Input.Execute()
	if err != nil {
		return nil, err
	}
	return &filterIterator{source: inputIter, predicate: n.Predicate}, nil
}

func (n *FilterNode) Children() []Node {
	return []Node{n.Input}
}

func (n *FilterNode) Schema() []database.Column {
	return n.Input.Schema()
}

func (n *FilterNode) Explain() string {
	return "Filter(expression: " + n.Predicate.String() + ")"
}
