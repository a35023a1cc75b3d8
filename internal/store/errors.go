// internal/store/errors.go
package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind classifies a persistence failure.
type ErrorKind int

const (
	// KindConnection covers network and pool failures reaching the database.
	KindConnection ErrorKind = iota
	// KindConstraint is an unexpected constraint violation. Expected
	// conflicts (duplicate observations) are absorbed by ON CONFLICT and
	// never surface as errors.
	KindConstraint
	// KindSerialization is a transaction serialization or deadlock failure.
	KindSerialization
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindConstraint:
		return "constraint"
	case KindSerialization:
		return "serialization"
	default:
		return "unknown"
	}
}

// Error wraps a database failure with its classification.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// wrapErr classifies err by its Postgres error code. Anything that is not a
// server-reported error is treated as a connection problem.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindConnection
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			kind = KindSerialization
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23":
			kind = KindConstraint
		}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
