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

// low-level wrapper around the SQLite engine connection.

import (
	"github.com/pkg/errors"

	"lab.nexedi.com/kirr/go123/xerr"

	sqlite3 "github.com/gwenn/gosqlite"

	"github.com/skybaboon/sqloxx/internal/xlog"
)

// sqliteDBConn owns the raw engine connection.
//
// It maps engine statuses to the sqloxx error taxonomy and knows nothing
// about statements, transactions or objects.
type sqliteDBConn struct {
	conn *sqlite3.Conn // nil when not open
	path string
}

func (dbc *sqliteDBConn) isValid() bool {
	return dbc.conn != nil
}

// open opens the database file at path, creating it if absent.
//
// Foreign-key enforcement is switched on, and the engine's own prepared
// statement cache is switched off: statement reuse is the statement cache's
// job, and one statement text must correspond to exactly one engine
// statement unless reentrancy forces a second.
func (dbc *sqliteDBConn) open(path string) (err error) {
	defer xerr.Contextf(&err, "open %s", path)

	if dbc.isValid() {
		return errors.New("connection is already open")
	}
	if path == "" {
		return errors.New("empty filename")
	}

	conn, err := sqlite3.Open(path, sqlite3.OpenReadWrite, sqlite3.OpenCreate)
	if err != nil {
		return sqliteErr("open", err)
	}

	conn.SetCacheSize(0)
	if _, err = conn.EnableFKey(true); err != nil {
		err = sqliteErr("enable foreign keys", err)
		err2 := conn.Close()
		return xerr.First(err, err2)
	}

	dbc.conn = conn
	dbc.path = path
	xlog.V(1).Infof("dbconn: opened %s", path)
	return nil
}

func (dbc *sqliteDBConn) close() (err error) {
	defer xerr.Contextf(&err, "close %s", dbc.path)

	if !dbc.isValid() {
		return ErrInvalidConnection
	}
	conn := dbc.conn
	dbc.conn = nil
	if err := conn.Close(); err != nil {
		return sqliteErr("close", err)
	}
	xlog.V(1).Infof("dbconn: closed %s", dbc.path)
	return nil
}

// execSQL executes text directly, without touching the statement cache.
// Compound statement text is allowed; it is executed to completion.
func (dbc *sqliteDBConn) execSQL(text string) error {
	if !dbc.isValid() {
		return ErrInvalidConnection
	}
	return sqliteErr("exec", dbc.conn.FastExec(text))
}

func (dbc *sqliteDBConn) lastInsertRowid() int64 {
	return dbc.conn.LastInsertRowid()
}
