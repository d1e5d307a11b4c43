package plan

import (
	"github.com/bisegni/msiq/pkg/database"
)

// Node represents an execution node in the query plan
type Node interface {
	Execute() (database.RowIterator, error)
	Children() []Node
	Explain() string
	// Schema returns the columns of the rows the node produces.
	Schema() []database.Column
}
