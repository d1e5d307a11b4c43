package plan

import (
	"fmt"
	"strings"

	"github.com/bisegni/msiq/pkg/database"
)

// ProjectNode selects columns of its input by index
type ProjectNode struct {
	Input   Node
	Indices []int // 0-based positions in the input schema
}

func (n *ProjectNode) Execute() (database.RowIterator, error) {
	inputIter, err := n.Input.Execute()
	if err != nil {
		return nil, err
	}
	return &projectIterator{source: inputIter, indices: n.Indices}, nil
}

func (n *ProjectNode) Children() []Node {
	return []Node{n.Input}
}

func (n *ProjectNode) Schema() []database.Column {
	in := n.Input.Schema()
	out := make([]database.Column, len(n.Indices))
	for i, idx := range n.Indices {
		out[i] = in[idx]
	}
	return out
}

func (n *ProjectNode) Explain() string {
	names := make([]string, 0, len(n.Indices))
	for _, c := range n.Schema() {
		names = append(names, c.Name)
	}
	return fmt.Sprintf("Project(%d fields: %s)", len(n.Indices), strings.Join(names, ", "))
}
