package transaction

import (
	"errors"
	"fmt"
)

// Operation names used in error messages, log entries and metric attributes.
const (
	OpBegin    = "begin"
	OpCommit   = "commit"
	OpRollback = "rollback"
)

// Reasons carried by ProtocolViolationError.
const (
	ReasonConnectionNotNil    = "connection wasn't nil"
	ReasonAutoCommitDisabled  = "was expecting autocommit to be true"
	ReasonNoState             = "no transaction state in context"
	ReasonNoActiveTransaction = "no active transaction"
)

var (
	// ErrProtocolViolation matches every *ProtocolViolationError.
	ErrProtocolViolation = errors.New("transaction protocol violation")

	// ErrDataAccess matches every *DataAccessError.
	ErrDataAccess = errors.New("data access failure")
)

// ProtocolViolationError reports that the depth counter and the held
// connection disagree, or that a connection arrived in an unexpected state.
// It points at a bug in the caller and is never worth retrying.
type ProtocolViolationError struct {
	Op     string
	Reason string
}

func newProtocolViolation(op, reason string) *ProtocolViolationError {
	return &ProtocolViolationError{Op: op, Reason: reason}
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Reason)
}

// Is makes errors.Is(err, ErrProtocolViolation) succeed.
func (e *ProtocolViolationError) Is(target error) bool {
	return target == ErrProtocolViolation
}

// DataAccessError wraps a failure reported by the provider or the connection.
// Cause may join several errors when cleanup steps failed too.
type DataAccessError struct {
	Op    string
	Cause error
}

func newDataAccessError(op string, cause error) *DataAccessError {
	return &DataAccessError{Op: op, Cause: cause}
}

func (e *DataAccessError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Cause)
}

func (e *DataAccessError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, ErrDataAccess) succeed.
func (e *DataAccessError) Is(target error) bool {
	return target == ErrDataAccess
}

// IsProtocolViolation reports whether err is or wraps a ProtocolViolationError.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrProtocolViolation)
}

// IsDataAccessFailure reports whether err is or wraps a DataAccessError.
func IsDataAccessFailure(err error) bool {
	return errors.Is(err, ErrDataAccess)
}
