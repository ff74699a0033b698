// Package repository is the PostgreSQL implementation of the service stores.
package repository

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/marketchat/internal/apperr"
)

// ErrNotFound matches apperr.ErrNotFound via errors.Is.
var ErrNotFound = apperr.NotFound("record", nil)

const uniqueViolation = "23505"

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// nullable maps "" to SQL NULL for columns with partial unique indexes.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// validID reports whether id can be compared with a UUID column. Anything else
// cannot match a row.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

const foreignKeyViolation = "23503"

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}
