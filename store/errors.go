package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
)

var (
	// ErrStoreUnavailable is matched when every attempt of an operation hit
	// transient contention.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrSchema is matched when a table does not have the structure the
	// protocol relies on.
	ErrSchema = errors.New("schema error")
)

// UnavailableError records the last transient failure of an exhausted
// operation.
type UnavailableError struct {
	Op    string
	Tries int
	Last  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store: %s failed after %d tries: %v",
		e.Op, e.Tries, e.Last)
}

// Is makes errors.Is(err, ErrStoreUnavailable) true.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Last
}

// SchemaError describes a violated structural assumption of a table.
type SchemaError struct {
	Table string
	Msg   string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("store: table %s: %s", e.Table, e.Msg)
}

// Is makes errors.Is(err, ErrSchema) true.
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// sqlite result codes shared by both drivers.
const (
	codeBusy   = 5
	codeLocked = 6
)

// IsTransient tells whether err is a busy or locked condition that is worth
// retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var cgoErr sqlite3.Error
	if errors.As(err, &cgoErr) {
		return cgoErr.Code == sqlite3.ErrBusy || cgoErr.Code == sqlite3.ErrLocked
	}

	var pureErr *sqlite.Error
	if errors.As(err, &pureErr) {
		code := pureErr.Code() & 0xff
		return code == codeBusy || code == codeLocked
	}

	return false
}
