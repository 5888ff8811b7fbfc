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

// prepared statement wrapper.

import (
	"github.com/pkg/errors"

	sqlite3 "github.com/gwenn/gosqlite"
)

// stmtImpl wraps exactly one prepared engine statement.
//
// stmtImpl instances are owned by the statement cache and reached by user
// code only through SQLStatement leases. The lock flag marks an instance as
// lent out; the cache never lends a locked instance a second time.
//
// Any engine error during bind or step leaves the statement reset with
// bindings cleared, so a subsequent lease starts from a clean state. The one
// exception is an unknown parameter name in bind, which leaves the bindings
// as they are.
type stmtImpl struct {
	stmt *sqlite3.Stmt
	dbc  *sqliteDBConn
	text string

	locked    bool
	transient bool // not retained by the cache; finalized on release
	hasRow    bool // last step landed on a result row
}

// newStmtImpl prepares text on dbc.
//
// text must contain a single SQL statement, optionally terminated by any
// mixture of semicolons and spaces. Anything else after the first statement
// fails with ErrTooManyStatements.
func newStmtImpl(dbc *sqliteDBConn, text string) (*stmtImpl, error) {
	if !dbc.isValid() {
		return nil, ErrInvalidConnection
	}
	stmt, err := dbc.conn.Prepare(text)
	if err != nil {
		return nil, sqliteErr("prepare", err)
	}
	stmt.Cacheable = false // lifetime is ours, not the engine binding's

	tail := stmt.Tail()
	for i := 0; i < len(tail); i++ {
		switch tail[i] {
		case ';', ' ':
			// harmless
		default:
			_ = stmt.Finalize()
			return nil, errors.Wrapf(ErrTooManyStatements, "prepare %q", text)
		}
	}

	return &stmtImpl{stmt: stmt, dbc: dbc, text: text}, nil
}

// bind binds value to the named parameter.
//
// Accepted value types: int, int32, int64, Id, float64, string. An unknown
// parameter name propagates the engine's error unchanged; it signals a
// structural bug in the caller's SQL, and the bindings are left as they are.
func (si *stmtImpl) bind(name string, value interface{}) error {
	index, err := si.stmt.BindParameterIndex(name)
	if err != nil {
		return sqliteErr("bind "+name, err)
	}

	switch v := value.(type) {
	case int, int32, int64, float64, string:
	case Id:
		value = int64(v)
	default:
		return errors.Errorf("sqloxx: bind %s: unsupported value type %T", name, value)
	}

	if err := si.stmt.BindByIndex(index, value); err != nil {
		si.reset()
		si.clearBindings()
		return sqliteErr("bind "+name, err)
	}
	return nil
}

// step advances the statement.
//
// It returns true while a result row is available. Stepping past the last
// row returns false and implicitly resets the statement, so the next step
// starts the result set over. On an engine error the statement is reset and
// its bindings cleared before the error propagates.
func (si *stmtImpl) step() (bool, error) {
	if !si.dbc.isValid() {
		return false, ErrInvalidConnection
	}
	gotRow, err := si.stmt.Next()
	if err != nil {
		si.hasRow = false
		si.reset()
		si.clearBindings()
		return false, sqliteErr("step", err)
	}
	si.hasRow = gotRow
	return gotRow, nil
}

// stepFinal steps and fails with ErrUnexpectedResultRow if a row came back.
func (si *stmtImpl) stepFinal() error {
	gotRow, err := si.step()
	if err != nil {
		return err
	}
	if gotRow {
		si.reset()
		return ErrUnexpectedResultRow
	}
	return nil
}

// reset rewinds the statement for re-execution. Idempotent, never fails.
func (si *stmtImpl) reset() {
	_ = si.stmt.Reset()
	si.hasRow = false
}

// clearBindings sets all parameter bindings to NULL. Idempotent, never fails.
func (si *stmtImpl) clearBindings() {
	_ = si.stmt.ClearBindings()
}

func (si *stmtImpl) lock()          { si.locked = true }
func (si *stmtImpl) unlock()        { si.locked = false }
func (si *stmtImpl) isLocked() bool { return si.locked }

func (si *stmtImpl) finalize() error {
	return sqliteErr("finalize", si.stmt.Finalize())
}

// checkColumn verifies a value of dynamic type want can be extracted from
// column index of the current row.
func (si *stmtImpl) checkColumn(index int, want sqlite3.Type) error {
	if !si.hasRow {
		return ErrNoResultRow
	}
	n := si.stmt.ColumnCount()
	if index < 0 || index >= n {
		return &ResultIndexError{Index: index, Columns: n}
	}
	if have := si.stmt.ColumnType(index); have != want {
		return &ValueTypeError{Index: index, Want: want, Have: have}
	}
	return nil
}

func (si *stmtImpl) extractInt64(index int) (int64, error) {
	if err := si.checkColumn(index, sqlite3.Integer); err != nil {
		return 0, err
	}
	v, _, err := si.stmt.ScanInt64(index)
	return v, sqliteErr("extract", err)
}

func (si *stmtImpl) extractInt32(index int) (int32, error) {
	if err := si.checkColumn(index, sqlite3.Integer); err != nil {
		return 0, err
	}
	v, _, err := si.stmt.ScanInt32(index)
	return v, sqliteErr("extract", err)
}

func (si *stmtImpl) extractDouble(index int) (float64, error) {
	if err := si.checkColumn(index, sqlite3.Float); err != nil {
		return 0, err
	}
	v, _, err := si.stmt.ScanDouble(index)
	return v, sqliteErr("extract", err)
}

func (si *stmtImpl) extractText(index int) (string, error) {
	if err := si.checkColumn(index, sqlite3.Text); err != nil {
		return "", err
	}
	v, _ := si.stmt.ScanText(index)
	return v, nil
}
