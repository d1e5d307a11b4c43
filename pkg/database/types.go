package database

// Row represents a single record of a table.
// Cells are decoded from the container when accessed.
type Row interface {
	// Get returns the value of the i-th column in schema order (0-based).
	Get(i int) (Value, error)
	// Len returns the number of columns.
	Len() int
}

// RowIterator allows iterating over rows in a table.
type RowIterator interface {
	// Next advances the iterator. Returns false if no more rows or error.
	Next() bool
	// Row returns the current row.
	Row() Row
	// Error returns any error that occurred during iteration.
	Error() error
	// Close releases resources.
	Close() error
}

// Table represents a dataset that can be scanned.
type Table interface {
	// Name returns the table name.
	Name() string
	// Columns returns the schema in column order.
	Columns() []Column
	// Iterate returns a new iterator for scanning the table.
	Iterate() (RowIterator, error)
}
