package store

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Sentinel errors for storage facts. Callers match them with errors.Is.
var (
	ErrNotFound  = errors.New("contact not found")
	ErrConflict  = errors.New("contact constraint violated")
	ErrRetryable = errors.New("transaction aborted by a concurrent writer")
)

// SQLSTATE classes for constraint failures and transaction rollbacks
// (serialization_failure, deadlock_detected).
const (
	integrityViolation  pq.ErrorClass = "23"
	transactionRollback pq.ErrorClass = "40"
)

// classify wraps a driver error with the operation name, mapping constraint
// violations from either driver onto ErrConflict.
func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case integrityViolation:
			return fmt.Errorf("%s: %w: %s", op, ErrConflict, pqErr.Message)
		case transactionRollback:
			return fmt.Errorf("%s: %w: %s", op, ErrRetryable, pqErr.Message)
		}
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %w: %s", op, ErrConflict, liteErr.Error())
	}
	return fmt.Errorf("%s: %w", op, err)
}
