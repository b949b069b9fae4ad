package repo

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound means no row matched the lookup (or its conditional
	// predicate no longer holds).
	ErrNotFound = errors.New("not found")
	// ErrConflict means an insert hit a uniqueness constraint. Callers treat
	// it as "the row now exists" and re-resolve, never as a hard failure.
	ErrConflict = errors.New("unique constraint conflict")
)

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), distinguishable from every other failure.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
