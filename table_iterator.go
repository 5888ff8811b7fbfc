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

// table iteration.

import (
	"io"
	"reflect"
)

// TableIterator lazily traverses a result set of primary keys, materializing
// each row into a Handle[T] through the identity map.
//
// The statement text must be a SELECT whose first column yields primary keys
// of T; the keys come straight from the database and are trusted, so rows
// materialize without an existence check. Create one with NewTableIterator
// and consume it with Next until io.EOF:
//
//	it, err := sqloxx.NewTableIterator[Dog](conn, sqloxx.SelectAll[Dog]())
//	...
//	defer it.Close()
//	for {
//		h, err := it.Next()
//		if err == io.EOF {
//			break
//		}
//		...
//	}
//
// Copies of a TableIterator value share the underlying statement: advancing
// any of them advances the one result stream, exactly like readers sharing
// one stream. After io.EOF the statement has reset, so a further Next starts
// the result set over.
type TableIterator[T any] struct {
	conn *DatabaseConnection
	stmt *SQLStatement // shared by all copies
}

// NewTableIterator leases a statement for text and positions the iterator
// before the first row.
func NewTableIterator[T any](conn *DatabaseConnection, text string) (TableIterator[T], error) {
	if !conn.IsValid() {
		return TableIterator[T]{}, ErrInvalidConnection
	}
	stmt, err := conn.Statement(text)
	if err != nil {
		return TableIterator[T]{}, err
	}
	return TableIterator[T]{conn: conn, stmt: stmt}, nil
}

// SelectAll returns the default statement text for iterating all of T:
// selecting the primary key column from T's exclusive table.
func SelectAll[T any]() string {
	probe, ok := reflect.New(typeOf[T]()).Interface().(Persister)
	if !ok {
		panic("sqloxx: SelectAll of a type that does not implement Persister")
	}
	return "select " + probe.PrimaryKeyName() + " from " + exclusiveTableOf(probe)
}

// Next steps to the next row and returns a handle to its object.
// At the end of the result set it returns io.EOF.
//
// The returned handle is owned by the caller and must be Closed.
func (it TableIterator[T]) Next() (Handle[T], error) {
	if it.stmt == nil {
		return Handle[T]{}, io.EOF // null iterator
	}
	gotRow, err := it.stmt.Step()
	if err != nil {
		return Handle[T]{}, err
	}
	if !gotRow {
		return Handle[T]{}, io.EOF
	}
	id, err := it.stmt.ExtractId(0)
	if err != nil {
		return Handle[T]{}, err
	}
	return UncheckedHandle[T](it.conn, id)
}

// Close releases the underlying statement, for this iterator and all copies
// sharing it. Idempotent.
func (it TableIterator[T]) Close() {
	if it.stmt != nil {
		it.stmt.Close()
	}
}
