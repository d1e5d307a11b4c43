// Package msierr declares the error kinds shared by every msiq layer.
//
// Errors are returned wrapped with context (file path, table, column, entry
// name). Callers should use [errors.Is] to check the kind:
//
//	if errors.Is(err, msierr.ErrUnknownTable) {
//	    // the query named a table the package does not have
//	}
package msierr

import "errors"

var (
	// ErrNotFound indicates the package file does not exist.
	ErrNotFound = errors.New("msi: file not found")

	// ErrNotAnMsiContainer indicates the file is not a compound file, or is
	// a compound file without an MSI database in it.
	ErrNotAnMsiContainer = errors.New("msi: not an msi container")

	// ErrCorruptSchema indicates the system tables or the string pool are
	// unreadable or inconsistent.
	ErrCorruptSchema = errors.New("msi: corrupt schema")

	// ErrUnknownTable indicates a query or lookup named a missing table.
	ErrUnknownTable = errors.New("msi: unknown table")

	// ErrUnknownColumn indicates a query named a column its table lacks.
	ErrUnknownColumn = errors.New("msi: unknown column")

	// ErrSyntax indicates query text outside the supported grammar.
	ErrSyntax = errors.New("msi: syntax error")

	// ErrTypeMismatch indicates a field was read with the wrong accessor,
	// or a predicate compares incompatible types.
	ErrTypeMismatch = errors.New("msi: type mismatch")

	// ErrIndexOutOfRange indicates a field index, offset or length outside
	// the valid range.
	ErrIndexOutOfRange = errors.New("msi: index out of range")

	// ErrStreamNotFound indicates a stream reference that resolves to no
	// container entry.
	ErrStreamNotFound = errors.New("msi: stream not found")

	// ErrIO indicates the underlying read or open failed.
	ErrIO = errors.New("msi: i/o error")

	// ErrInvalidState indicates a cursor operation in the wrong lifecycle
	// state, such as reading fields before the first Fetch.
	ErrInvalidState = errors.New("msi: invalid state")

	// ErrEntryNotFound indicates a container entry name that does not exist.
	ErrEntryNotFound = errors.New("msi: entry not found")

	// ErrClosed indicates use of a container after Close.
	//
	// This is a programming error.
	ErrClosed = errors.New("msi: closed")

	// ErrNoData indicates a query that produced no row where one was needed.
	ErrNoData = errors.New("msi: no data")
)
