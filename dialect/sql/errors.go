package sql

import (
	"errors"
	"strings"
)

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

// errorCoder is an interface for database errors that provide error codes.
// Implemented by: pq.Error, pgx, modernc.org/sqlite, etc.
type errorCoder interface {
	Code() string
}

// errorNumberer is an interface for database errors that provide numeric
// error codes. Implemented by: mysql.MySQLError.
type errorNumberer interface {
	Number() uint16
}

// sqlStateError is an interface for errors that provide SQLSTATE codes.
// Implemented by: pq.Error, pgx, and some MySQL drivers.
type sqlStateError interface {
	SQLState() string
}

// IsConstraintError reports if the error resulted from any database
// constraint violation.
func IsConstraintError(err error) bool {
	return IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err)
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness
// constraint violation. e.g. duplicate value in unique index.
func IsUniqueConstraintError(err error) bool {
	return matchesConstraint(err, pgUniqueViolation,
		[]uint16{mysqlDuplicateEntry},
		"Error 1062",                 // MySQL (string fallback)
		"violates unique constraint", // Postgres (string fallback)
		"UNIQUE constraint failed",   // SQLite
	)
}

// IsForeignKeyConstraintError reports if the error resulted from a database
// foreign-key constraint violation. e.g. parent row does not exist.
func IsForeignKeyConstraintError(err error) bool {
	return matchesConstraint(err, pgForeignKeyViolation,
		[]uint16{mysqlForeignKeyParent, mysqlForeignKeyChild},
		"Error 1451",                      // MySQL (Cannot delete or update a parent row)
		"Error 1452",                      // MySQL (Cannot add or update a child row)
		"violates foreign key constraint", // Postgres
		"FOREIGN KEY constraint failed",   // SQLite
	)
}

// IsCheckConstraintError reports if the error resulted from a database check
// constraint violation. e.g. a value does not satisfy a check condition.
func IsCheckConstraintError(err error) bool {
	return matchesConstraint(err, pgCheckViolation,
		[]uint16{mysqlCheckConstraintViolate},
		"Error 3819",                // MySQL
		"violates check constraint", // Postgres
		"CHECK constraint failed",   // SQLite
	)
}

// matchesConstraint checks the error chain against the PostgreSQL SQLSTATE
// code, the MySQL error numbers, and finally the driver-specific message
// fallbacks for drivers that expose neither.
func matchesConstraint(err error, pgCode string, mysqlNums []uint16, fallbacks ...string) bool {
	if err == nil {
		return false
	}
	if e, ok := asError[sqlStateError](err); ok && e.SQLState() == pgCode {
		return true
	}
	if e, ok := asError[errorCoder](err); ok && e.Code() == pgCode {
		return true
	}
	if e, ok := asError[errorNumberer](err); ok {
		for _, num := range mysqlNums {
			if e.Number() == num {
				return true
			}
		}
	}
	msg := err.Error()
	for _, sub := range fallbacks {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

// asError attempts to extract an error implementing interface T from the
// error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}
