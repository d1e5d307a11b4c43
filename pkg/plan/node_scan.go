package plan

import (
	"fmt"

	"github.com/bisegni/msiq/pkg/database"
)

// ScanNode scans a table
type ScanNode struct {
	Table database.Table
}

func (n *ScanNode) Execute() (database.RowIterator, error) {
	return n.Table.Iterate()
}

func (n *ScanNode) Children() []Node {
	return nil
}

func (n *ScanNode) Schema() []database.Column {
	return n.Table.Columns()
}

func (n *ScanNode) Explain() string {
	return fmt.Sprintf("Scan(table: %s, columns: %d)", n.Table.Name(), len(n.Table.Columns()))
}
