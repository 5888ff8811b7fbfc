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

// eager reading convenience.

import "io"

// ReadAll is an eager buffering convenience over TableIterator: it runs the
// whole result set at once and returns the materialized handles. The caller
// owns every returned handle and must Close each (CloseHandles does it in
// one call).
//
// Prefer TableIterator when the result set may be large: ReadAll pins every
// object in memory at once.
func ReadAll[T any](conn *DatabaseConnection, text string) ([]Handle[T], error) {
	it, err := NewTableIterator[T](conn, text)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var handles []Handle[T]
	for {
		h, err := it.Next()
		if err == io.EOF {
			return handles, nil
		}
		if err != nil {
			CloseHandles(handles)
			return nil, err
		}
		handles = append(handles, h)
	}
}

// CloseHandles closes every handle in hv.
func CloseHandles[T any](hv []Handle[T]) {
	for i := range hv {
		hv[i].Close()
	}
}
