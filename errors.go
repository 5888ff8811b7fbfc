// Copyright (C) 2021-2026  Sqloxx Authors.
//
// This program is free software: you can Use, Study, Modify and Redistribute
// it under the terms of the GNU General Public License version 3, or (at your
// option) any later version, as published by the Free Software Foundation.
//
// This program is distributed WITHOUT ANY WARRANTY; without even the implied
// warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
//
// See COPYING file for full licensing terms.

package sqloxx

// errors returned at the library boundary.

import (
	"errors"
	"fmt"

	sqlite3 "github.com/gwenn/gosqlite"
)

var (
	// ErrInvalidConnection is returned for any operation on a connection
	// that is not open, or was already closed.
	ErrInvalidConnection = errors.New("sqloxx: invalid database connection")

	// ErrTooManyStatements is returned when statement text contains more
	// than one SQL statement.
	ErrTooManyStatements = errors.New("sqloxx: compound SQL passed where a single statement is required")

	// ErrNoResultRow is returned when a column is extracted before a
	// successful step into a result row.
	ErrNoResultRow = errors.New("sqloxx: no result row available")

	// ErrUnexpectedResultRow is returned by StepFinal when the statement
	// yielded a result row.
	ErrUnexpectedResultRow = errors.New("sqloxx: statement yielded a result row when none was expected")

	// ErrUnboundHandle is returned on dereference of a null handle.
	ErrUnboundHandle = errors.New("sqloxx: unbound handle")
)

// SQLiteError wraps a non-OK status reported by the SQLite engine.
type SQLiteError struct {
	Code     sqlite3.Errno // primary result code
	Extended int           // extended result code, 0 if unknown
	Op       string        // operation during which the engine failed
	Err      error         // error as reported by the engine binding
}

func (e *SQLiteError) Error() string {
	return fmt.Sprintf("sqloxx: %s: %s", e.Op, e.Err)
}

func (e *SQLiteError) Unwrap() error { return e.Err }

// IsConstraintViolation reports whether err is an engine error caused by a
// violated SQL constraint.
func IsConstraintViolation(err error) bool { return errnoOf(err) == sqlite3.ErrConstraint }

// IsBusy reports whether err is an engine error caused by the database file
// being locked by another connection.
func IsBusy(err error) bool { return errnoOf(err) == sqlite3.ErrBusy }

// IsReadOnly reports whether err is an engine error caused by an attempted
// write to a read-only database.
func IsReadOnly(err error) bool { return errnoOf(err) == sqlite3.ErrReadOnly }

func errnoOf(err error) sqlite3.Errno {
	var e *SQLiteError
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// sqliteErr wraps an error coming out of the gosqlite binding into
// *SQLiteError, extracting the result codes where available.
// nil stays nil.
func sqliteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	e := &SQLiteError{Op: op, Err: err}
	switch x := err.(type) {
	case sqlite3.StmtError:
		e.Code = x.Code()
		e.Extended = x.ExtendedCode()
	case sqlite3.ConnError:
		e.Code = x.Code()
		e.Extended = x.ExtendedCode()
	case sqlite3.OpenError:
		e.Code = x.Code
		e.Extended = x.ExtendedCode
	}
	return e
}

// ValueTypeError is returned when a column is extracted as a Go type that is
// incompatible with the column's dynamic SQLite type.
type ValueTypeError struct {
	Index int
	Want  sqlite3.Type // type required by the extraction
	Have  sqlite3.Type // dynamic type of the stored value
}

func (e *ValueTypeError) Error() string {
	return fmt.Sprintf("sqloxx: column %d holds %v; extraction wants %v", e.Index, e.Have, e.Want)
}

// ResultIndexError is returned when a column index is negative or not less
// than the number of columns in the result row.
type ResultIndexError struct {
	Index   int
	Columns int
}

func (e *ResultIndexError) Error() string {
	return fmt.Sprintf("sqloxx: column index %d out of range [0, %d)", e.Index, e.Columns)
}

// OverflowError is returned when an Id, a cache key or a handle counter
// cannot be incremented without overflow.
type OverflowError struct {
	What string
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("sqloxx: %s exhausted", e.What)
}

// TransactionNestingError is returned on commit or cancel without a matching
// begin, and on commit of a poisoned transaction.
type TransactionNestingError struct {
	Msg string
}

func (e *TransactionNestingError) Error() string {
	return "sqloxx: " + e.Msg
}

// RecordNotFoundError is returned when a handle is requested for an id that
// has no row in the database.
type RecordNotFoundError struct {
	Table string
	Id    Id
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("sqloxx: no record with id %d in table %q", e.Id, e.Table)
}
