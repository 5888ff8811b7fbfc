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

// nested transaction coordination.

import (
	"fmt"

	sqlite3 "github.com/gwenn/gosqlite"

	"github.com/skybaboon/sqloxx/internal/xlog"
)

// rollbackEntry is one registered in-memory undo action.
type rollbackEntry struct {
	run     func() // restore in-memory state; executed on cancel, in reverse order
	release func() // drop the eviction pin; executed after run, and on commit discard
}

// rollbackFrame collects the undo actions registered at one nesting level.
type rollbackFrame struct {
	entries []rollbackEntry
}

// txnCoordinator layers user-visible nested transactions over the single
// engine connection: an outermost BEGIN with SAVEPOINTs inside.
//
// Besides the SQL bookkeeping it carries, per nesting level, the in-memory
// rollback actions registered by object saves, so that cancelling a level
// restores both the database file and the affected objects.
//
// An unrecoverable engine failure inside a transaction poisons it: commit is
// refused at every level until the whole stack has been cancelled.
type txnCoordinator struct {
	dbc    *sqliteDBConn
	frames []*rollbackFrame
	poison error // first unrecoverable failure, nil if healthy
}

func (tc *txnCoordinator) depth() int { return len(tc.frames) }

func savepointName(level int) string { return fmt.Sprintf("sp_%d", level) }

// begin opens the outermost transaction or a nested savepoint.
func (tc *txnCoordinator) begin() error {
	if !tc.dbc.isValid() {
		return ErrInvalidConnection
	}
	var err error
	if d := tc.depth(); d == 0 {
		err = sqliteErr("begin", tc.dbc.conn.BeginTransaction(sqlite3.Deferred))
	} else {
		err = sqliteErr("savepoint", tc.dbc.conn.Savepoint(savepointName(d)))
	}
	if err != nil {
		tc.noteFailure(err)
		return err
	}
	tc.frames = append(tc.frames, &rollbackFrame{})
	return nil
}

// commit closes the innermost open level.
//
// At the outermost level the transaction is committed and all rollback
// frames are discarded. At an inner level the savepoint is released and the
// level's rollback frame merges into the enclosing one, so cancelling the
// enclosing level still rolls the inner changes back.
func (tc *txnCoordinator) commit() error {
	d := tc.depth()
	if d == 0 {
		return &TransactionNestingError{Msg: "commit without matching begin"}
	}
	if tc.poison != nil {
		return &TransactionNestingError{
			Msg: fmt.Sprintf("commit refused: transaction poisoned by: %s", tc.poison),
		}
	}

	if d == 1 {
		if err := sqliteErr("commit", tc.dbc.conn.Commit()); err != nil {
			tc.noteFailure(err)
			return err
		}
		frame := tc.frames[0]
		tc.frames = nil
		frame.discard()
		return nil
	}

	if err := sqliteErr("release savepoint", tc.dbc.conn.ReleaseSavepoint(savepointName(d-1))); err != nil {
		tc.noteFailure(err)
		return err
	}
	inner := tc.frames[d-1]
	tc.frames = tc.frames[:d-1]
	outer := tc.frames[d-2]
	outer.entries = append(outer.entries, inner.entries...)
	return nil
}

// cancel rolls the innermost open level back, on disk and in memory.
func (tc *txnCoordinator) cancel() error {
	d := tc.depth()
	if d == 0 {
		return &TransactionNestingError{Msg: "cancel without matching begin"}
	}

	var err error
	if d == 1 {
		err = sqliteErr("rollback", tc.dbc.conn.Rollback())
	} else {
		name := savepointName(d - 1)
		err = sqliteErr("rollback savepoint", tc.dbc.conn.RollbackSavepoint(name))
		if err == nil {
			err = sqliteErr("release savepoint", tc.dbc.conn.ReleaseSavepoint(name))
		}
	}

	// in-memory rollback runs regardless: the objects must not keep state
	// the database no longer has.
	frame := tc.frames[d-1]
	tc.frames = tc.frames[:d-1]
	frame.rollback()

	if tc.depth() == 0 {
		tc.poison = nil // fully unwound
	}
	if err != nil {
		xlog.Errorf("txn: cancel: %s", err)
	}
	return err
}

// registerRollback adds an undo action to the innermost frame.
// Outside any transaction nothing is registered, as there is nothing to
// cancel; the entry's release, if any, runs at once.
func (tc *txnCoordinator) registerRollback(e rollbackEntry) {
	if d := tc.depth(); d > 0 {
		f := tc.frames[d-1]
		f.entries = append(f.entries, e)
	} else if e.release != nil {
		e.release()
	}
}

// noteFailure records an unrecoverable engine failure observed inside a
// transaction. Busy errors are retryable and do not poison.
func (tc *txnCoordinator) noteFailure(err error) {
	if err == nil || tc.depth() == 0 || tc.poison != nil || IsBusy(err) {
		return
	}
	tc.poison = err
	xlog.V(1).Infof("txn: poisoned: %s", err)
}

func (tc *txnCoordinator) poisoned() bool { return tc.poison != nil }

func (f *rollbackFrame) rollback() {
	for i := len(f.entries) - 1; i >= 0; i-- {
		e := f.entries[i]
		e.run()
		if e.release != nil {
			e.release()
		}
	}
	f.entries = nil
}

func (f *rollbackFrame) discard() {
	for _, e := range f.entries {
		if e.release != nil {
			e.release()
		}
	}
	f.entries = nil
}

// ---- public scoped transaction ----

// DatabaseTransaction is a scope-bound transaction on one connection.
//
// Begin it with DatabaseConnection.Begin, then finish with exactly one of
// Commit or Cancel. Close cancels a transaction that is still active and is
// safe to defer alongside either.
//
// Transactions nest: an inner DatabaseTransaction maps to a savepoint, and
// cancelling an outer one also undoes committed inner ones.
type DatabaseTransaction struct {
	conn   *DatabaseConnection
	active bool
}

// Begin starts a transaction (or a nested savepoint, when one is already
// open) on the connection.
func (conn *DatabaseConnection) Begin() (*DatabaseTransaction, error) {
	if err := conn.txn.begin(); err != nil {
		return nil, err
	}
	return &DatabaseTransaction{conn: conn, active: true}, nil
}

// Commit makes the transaction's effects permanent at this nesting level.
func (t *DatabaseTransaction) Commit() error {
	if !t.active {
		return &TransactionNestingError{Msg: "commit on completed transaction"}
	}
	if err := t.conn.txn.commit(); err != nil {
		return err
	}
	t.active = false
	return nil
}

// Cancel undoes the transaction's effects at this nesting level.
func (t *DatabaseTransaction) Cancel() error {
	if !t.active {
		return &TransactionNestingError{Msg: "cancel on completed transaction"}
	}
	t.active = false
	return t.conn.txn.cancel()
}

// Close cancels the transaction if it is still active. Safe to defer.
func (t *DatabaseTransaction) Close() {
	if t.active {
		_ = t.Cancel()
	}
}
