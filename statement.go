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

// public statement lease.

// SQLStatement is a scoped lease over one cached prepared statement.
//
// Obtain it with DatabaseConnection.Statement and release it with Close on
// every exit path, normally via defer. While leased, the underlying engine
// statement belongs to this SQLStatement alone; a second Statement call with
// the same text gets a different engine statement.
//
// Engine errors from Bind and Step leave the statement clean (reset,
// bindings cleared) before propagating, so the lease stays usable. Bind with
// an unknown parameter name is the exception: it leaves the bindings as they
// are.
type SQLStatement struct {
	impl *stmtImpl
	conn *DatabaseConnection
}

// Statement leases a prepared statement for text from the connection's
// statement cache.
//
// text must contain a single SQL statement, optionally terminated by any
// mixture of semicolons and spaces; compound text fails with
// ErrTooManyStatements.
func (conn *DatabaseConnection) Statement(text string) (*SQLStatement, error) {
	if !conn.IsValid() {
		return nil, ErrInvalidConnection
	}
	si, err := conn.stmts.lease(text)
	if err != nil {
		return nil, err
	}
	return &SQLStatement{impl: si, conn: conn}, nil
}

// Close returns the statement to the cache. Idempotent.
func (s *SQLStatement) Close() {
	if s.impl == nil {
		return
	}
	s.conn.stmts.release(s.impl)
	s.impl = nil
}

// Bind binds value to the named parameter (":name" syntax).
//
// Accepted value types: int, int32, int64, Id, float64, string.
func (s *SQLStatement) Bind(name string, value interface{}) error {
	err := s.impl.bind(name, value)
	s.conn.txn.noteFailure(err)
	return err
}

// Step advances the statement, returning true while a result row is
// available. Stepping past the last row returns false and resets the
// statement, so the following Step starts the result set over.
func (s *SQLStatement) Step() (bool, error) {
	gotRow, err := s.impl.step()
	s.conn.txn.noteFailure(err)
	return gotRow, err
}

// StepFinal steps expecting completion: a result row is an error
// (ErrUnexpectedResultRow).
func (s *SQLStatement) StepFinal() error {
	err := s.impl.stepFinal()
	s.conn.txn.noteFailure(err)
	return err
}

// Reset rewinds the statement for re-execution. Never fails.
func (s *SQLStatement) Reset() { s.impl.reset() }

// ClearBindings sets all parameter bindings to NULL. Never fails.
func (s *SQLStatement) ClearBindings() { s.impl.clearBindings() }

// ExtractInt64 reads column index of the current row as a 64-bit integer.
func (s *SQLStatement) ExtractInt64(index int) (int64, error) {
	return s.impl.extractInt64(index)
}

// ExtractInt32 reads column index of the current row as a 32-bit integer.
func (s *SQLStatement) ExtractInt32(index int) (int32, error) {
	return s.impl.extractInt32(index)
}

// ExtractInt reads column index of the current row as an int.
func (s *SQLStatement) ExtractInt(index int) (int, error) {
	v, err := s.impl.extractInt64(index)
	return int(v), err
}

// ExtractDouble reads column index of the current row as a float64.
func (s *SQLStatement) ExtractDouble(index int) (float64, error) {
	return s.impl.extractDouble(index)
}

// ExtractText reads column index of the current row as a string.
func (s *SQLStatement) ExtractText(index int) (string, error) {
	return s.impl.extractText(index)
}

// ExtractId reads column index of the current row as an Id.
func (s *SQLStatement) ExtractId(index int) (Id, error) {
	v, err := s.impl.extractInt64(index)
	return Id(v), err
}
