package postgresql

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeSerializationFail   = "40001"
	codeDeadlockDetected    = "40P01"
)

// IsNotFound reports whether err is sql.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsDuplicateKey detects unique constraint violations.
func IsDuplicateKey(err error) bool {
	return hasCode(err, codeUniqueViolation)
}

// IsForeignKeyViolation detects referential integrity violations.
func IsForeignKeyViolation(err error) bool {
	return hasCode(err, codeForeignKeyViolation)
}

// IsTransient reports errors that are safe to retry in a new transaction.
func IsTransient(err error) bool {
	return hasCode(err, codeSerializationFail) || hasCode(err, codeDeadlockDetected)
}

func hasCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}
