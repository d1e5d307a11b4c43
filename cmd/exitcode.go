package cmd

import (
	"errors"

	"github.com/bisegni/msiq/pkg/msierr"
)

// Process exit codes.
const (
	ExitOK = iota
	ExitGeneric
	ExitNotFound
	ExitNotAnMsi
	ExitCorruptSchema
	ExitUnknownTable
	ExitUnknownColumn
	ExitSyntax
	ExitTypeMismatch
	ExitIndexOutOfRange
	ExitStreamNotFound
	ExitIO
	ExitInvalidState
	ExitNoData
)

// Checked in order; an error wrapping several kinds gets the first match.
var exitCodes = []struct {
	err  error
	code int
}{
	{msierr.ErrNotFound, ExitNotFound},
	{msierr.ErrNotAnMsiContainer, ExitNotAnMsi},
	{msierr.ErrCorruptSchema, ExitCorruptSchema},
	{msierr.ErrUnknownTable, ExitUnknownTable},
	{msierr.ErrUnknownColumn, ExitUnknownColumn},
	{msierr.ErrSyntax, ExitSyntax},
	{msierr.ErrTypeMismatch, ExitTypeMismatch},
	{msierr.ErrIndexOutOfRange, ExitIndexOutOfRange},
	{msierr.ErrStreamNotFound, ExitStreamNotFound},
	{msierr.ErrEntryNotFound, ExitStreamNotFound},
	{msierr.ErrClosed, ExitInvalidState},
	{msierr.ErrInvalidState, ExitInvalidState},
	{msierr.ErrNoData, ExitNoData},
	{msierr.ErrIO, ExitIO},
}

// ExitCode maps an error returned by Execute to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	for _, e := range exitCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return ExitGeneric
}
