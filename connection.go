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

// application-level database connection.

import (
	"fmt"
	"reflect"

	"lab.nexedi.com/kirr/go123/xerr"

	"github.com/skybaboon/sqloxx/internal/xlog"
)

// OpenOptions adjusts how a DatabaseConnection is opened.
// The zero value gives the defaults.
type OpenOptions struct {
	// OrphanCacheCapacity bounds, per identity map, the number of
	// unreferenced clean objects kept alive speculatively.
	// <= 0 means the default (100).
	OrphanCacheCapacity int

	// StatementCacheCapacity bounds the number of prepared statements
	// retained for reuse. <= 0 means the default (55).
	StatementCacheCapacity int
}

// DatabaseConnection is a connection to one SQLite database file.
//
// It owns the open engine handle, the prepared statement cache, the
// transaction coordinator, and one identity map per persisted base type.
//
// A DatabaseConnection and every object hanging off it must be used by at
// most one goroutine at a time. Distinct connections share no state and may
// run in parallel.
type DatabaseConnection struct {
	dbc   sqliteDBConn
	stmts *stmtCache
	txn   txnCoordinator
	opt   OpenOptions

	maps map[reflect.Type]*IdentityMap
	mapv []*IdentityMap // in creation order
}

// Open opens (creating if necessary) the database file at path.
// opt may be nil for defaults.
func Open(path string, opt *OpenOptions) (_ *DatabaseConnection, err error) {
	defer xerr.Context(&err, "sqloxx: open")

	conn := &DatabaseConnection{maps: make(map[reflect.Type]*IdentityMap)}
	if opt != nil {
		conn.opt = *opt
	}
	if err := conn.dbc.open(path); err != nil {
		return nil, err
	}
	conn.stmts = newStmtCache(&conn.dbc, conn.opt.StatementCacheCapacity)
	conn.txn.dbc = &conn.dbc
	return conn, nil
}

// IsValid reports whether the connection is open.
func (conn *DatabaseConnection) IsValid() bool {
	return conn.dbc.isValid()
}

// Close closes the connection.
//
// Every identity map is drained (all cached objects are evicted) and every
// cached statement finalized before the engine handle is closed. Objects
// still referenced by live handles become unusable.
func (conn *DatabaseConnection) Close() (err error) {
	defer xerr.Context(&err, "sqloxx: close")

	if !conn.IsValid() {
		return ErrInvalidConnection
	}

	var errv xerr.Errorv
	for _, im := range conn.mapv {
		im.drain()
	}
	conn.mapv = nil
	conn.maps = nil
	errv.Appendif(conn.stmts.close())
	errv.Appendif(conn.dbc.close())
	return errv.Err()
}

// ExecuteSQL executes text directly, bypassing the statement cache.
//
// Intended for DDL and one-shot DML; compound statement text is allowed.
func (conn *DatabaseConnection) ExecuteSQL(text string) error {
	err := conn.dbc.execSQL(text)
	conn.txn.noteFailure(err)
	return err
}

// identityMap returns the connection's identity map for base, creating it on
// first use.
func (conn *DatabaseConnection) identityMap(base reflect.Type) *IdentityMap {
	im := conn.maps[base]
	if im == nil {
		im = newIdentityMap(conn, base, conn.opt.OrphanCacheCapacity)
		conn.maps[base] = im
		conn.mapv = append(conn.mapv, im)
		xlog.V(1).Infof("conn: identity map created for %s", base)
	}
	return im
}

// EnableCaching switches the orphan cache of T's identity map on or off.
//
// With caching off, objects are evicted the moment their last handle is
// dropped; switching off also evicts the currently cached orphans. User
// code toggles this around bulk operations to bound memory.
func EnableCaching[T any](conn *DatabaseConnection, enabled bool) {
	conn.identityMap(baseOf(typeOf[T]())).enableCaching(enabled)
}

// NextAutoKey returns the primary key the engine will allocate on the next
// autoincrement insert into table.
//
// Exhaustion of the key sequence is a hard failure (OverflowError).
func NextAutoKey(conn *DatabaseConnection, table string) (_ Id, err error) {
	defer xerr.Contextf(&err, "next auto key of %q", table)

	if !conn.IsValid() {
		return 0, ErrInvalidConnection
	}

	// sqlite_sequence exists only once some autoincrement table has been
	// created; before that every sequence is at its start.
	s, err := conn.Statement(
		"select name from sqlite_master where name = 'sqlite_sequence'",
	)
	if err != nil {
		return 0, err
	}
	defer s.Close()
	gotRow, err := s.Step()
	if err != nil {
		return 0, err
	}
	if !gotRow {
		return 1, nil
	}
	s.Reset()

	seqStmt, err := conn.Statement("select seq from sqlite_sequence where name = :p")
	if err != nil {
		return 0, err
	}
	defer seqStmt.Close()
	if err := seqStmt.Bind(":p", table); err != nil {
		return 0, err
	}
	gotRow, err = seqStmt.Step()
	if err != nil {
		return 0, err
	}
	if !gotRow {
		return 1, nil // no row inserted into table yet
	}
	seq, err := seqStmt.ExtractInt64(0)
	if err != nil {
		return 0, err
	}
	seqStmt.Reset()

	if Id(seq) >= IdMax {
		return 0, &OverflowError{What: fmt.Sprintf("primary key sequence of %q", table)}
	}
	return Id(seq) + 1, nil
}

// ---- base type registry ----

// baseTab maps a persisted concrete type to the base type whose exclusive
// table owns the primary key sequence. Types absent from the table are
// their own base.
var baseTab = make(map[reflect.Type]reflect.Type)

// RegisterSub declares that Sub persists as part of Base's hierarchy: Sub
// shares Base's identity map and primary key sequence.
//
// Must be called from a global init. Types that are their own base need no
// registration.
func RegisterSub[Sub any, Base any]() {
	sub, base := typeOf[Sub](), typeOf[Base]()
	if sub == base {
		panic(fmt.Sprintf("sqloxx: register: %s registered as its own sub", sub))
	}
	if prev, ok := baseTab[sub]; ok && prev != base {
		panic(fmt.Sprintf("sqloxx: register: %s already registered with base %s", sub, prev))
	}
	if _, ok := baseTab[base]; ok {
		panic(fmt.Sprintf("sqloxx: register: base %s is itself a sub", base))
	}
	baseTab[sub] = base
}

func baseOf(typ reflect.Type) reflect.Type {
	if base, ok := baseTab[typ]; ok {
		return base
	}
	return typ
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
