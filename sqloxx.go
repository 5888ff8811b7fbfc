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

// Package sqloxx provides a typed persistence layer on top of an embedded
// SQLite database.
//
// Application code models business entities as row-backed objects stored in
// a single-file database. The layer guarantees that each row is represented
// by at most one live in-memory object per connection (see IdentityMap), that
// object mutations reach the database atomically (see DatabaseTransaction),
// and that a failed save leaves neither partial rows on disk nor partial
// state in memory (see PersistentObject).
//
// The main entry points are:
//
//	DatabaseConnection	connection to one database file
//	Handle[T]		refcounted reference to a persistent object
//	SQLStatement		scoped lease over a cached prepared statement
//	DatabaseTransaction	scoped nested transaction
//	TableIterator[T]	lazy iteration over a table
//
// A DatabaseConnection and everything obtained from it must be used by at
// most one goroutine at a time. Distinct connections are fully independent
// and may be used in parallel.
package sqloxx

import (
	"math"
	"strconv"
)

// int is stored into and extracted from 64-bit engine integer columns.
// Break the build on platforms where it is narrower.
const _ = 1 / (strconv.IntSize / 64)

// Id identifies a persisted object inside its table hierarchy.
//
// Ids are allocated by the SQLite autoincrement sequence of the base table
// of the hierarchy and are therefore always positive. Id 0 means "no id":
// the object has never been saved.
type Id int64

// IdMax is the highest Id the engine can allocate.
// An allocation that would exceed it fails with OverflowError.
const IdMax Id = math.MaxInt64

// CacheKey identifies an object inside one identity map.
//
// Unlike Id it carries no database meaning: it exists so that new, not yet
// saved objects can be referenced by handles before any Id is known.
// CacheKey 0 means "not cached".
type CacheKey int64

// cacheKeyMax is the highest cache key an identity map will allocate.
const cacheKeyMax CacheKey = math.MaxInt64
