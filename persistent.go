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

// persistent objects.

import (
	"lab.nexedi.com/kirr/go123/xerr"

	"github.com/pkg/errors"
)

// ObjectState describes the in-RAM state of a persistent object.
type ObjectState int

const (
	Ghost  ObjectState = iota // identity established, fields not in RAM
	Loaded                    // fields are the same as in the database
	Dirty                     // fields differ from the database, or no row exists yet
	Saving                    // a save is in flight
)

func (s ObjectState) String() string {
	switch s {
	case Ghost:
		return "ghost"
	case Loaded:
		return "loaded"
	case Dirty:
		return "dirty"
	case Saving:
		return "saving"
	}
	return "?"
}

// Ghostable is implemented by objects that can release their in-RAM fields.
type Ghostable interface {
	// DropState discards the in-RAM field data, returning the fields to
	// their empty values.
	DropState()
}

// Stateful is implemented by objects whose field data can be captured and
// restored as a snapshot. Snapshots back the in-memory half of transaction
// rollback.
type Stateful interface {
	// GetState returns a snapshot of the object's fields. The snapshot
	// must be independent of the live fields: later mutations must not
	// leak into it.
	GetState() interface{}

	// SetState restores the object's fields from a snapshot previously
	// returned by GetState.
	SetState(state interface{})
}

// Persister is the contract a user entity type fulfils to be persisted.
//
// The type embeds PersistentObject and is always reached through Handle.
// PrimaryTableName names the table holding the primary key column named by
// PrimaryKeyName; for a type registered as a sub of a hierarchy base this is
// the base's table, the one owning the autoincrement sequence.
//
// DoLoad populates the fields from the database row with the given id.
// DoSaveNew inserts rows for the object across all tables of the hierarchy,
// base table first, using the id already assigned to the object.
// DoSaveExisting updates those rows.
// DoSaveNew and DoSaveExisting run inside a transaction managed by the
// caller; DoLoad runs in whatever transaction is open, if any. The hooks
// report failures by returning the error from the failed statement.
type Persister interface {
	base() *PersistentObject

	PrimaryTableName() string
	PrimaryKeyName() string

	DoLoad(conn *DatabaseConnection, id Id) error
	DoSaveNew(conn *DatabaseConnection) error
	DoSaveExisting(conn *DatabaseConnection) error

	Ghostable
	Stateful
}

// ExclusiveTabular is implemented by hierarchy sub-types whose own rows live
// in a table separate from the base table. For other types the exclusive
// table is the primary table.
type ExclusiveTabular interface {
	ExclusiveTableName() string
}

// Remover is implemented by types needing custom SQL to delete their rows.
// Without it, Remove deletes from the primary table and relies on the
// schema's foreign keys to cascade.
type Remover interface {
	DoRemove(conn *DatabaseConnection, id Id) error
}

// exclusiveTableOf returns the table holding rows exclusive to p's concrete
// type.
func exclusiveTableOf(p Persister) string {
	if et, ok := p.(ExclusiveTabular); ok {
		return et.ExclusiveTableName()
	}
	return p.PrimaryTableName()
}

// PersistentObject is the state machine shared by all persisted entities.
//
// User entity types embed it:
//
//	type Dog struct {
//		sqloxx.PersistentObject
//		name string
//	}
//
// and implement Persister on the pointer type. Entities are created and
// fetched exclusively through handles; field getters call EnsureLoaded and
// mutators call MarkDirty.
type PersistentObject struct {
	conn *DatabaseConnection
	imap *IdentityMap
	self Persister // the embedding instance

	id       Id       // 0 until first successful save
	cacheKey CacheKey // 0 when not in the identity map

	handleCount uint32
	pins        int // live transaction rollback registrations
	state       ObjectState

	// a save reserved id/by_id eagerly and has not yet succeeded.
	provisional bool
}

func (po *PersistentObject) base() *PersistentObject { return po }

// Conn returns the connection this object belongs to.
func (po *PersistentObject) Conn() *DatabaseConnection { return po.conn }

// HasID reports whether the object has ever been saved.
func (po *PersistentObject) HasID() bool { return po.id != 0 }

// ID returns the object's primary key, or 0 if it has never been saved.
// During DoSaveNew the prospective id is already assigned.
func (po *PersistentObject) ID() Id { return po.id }

// State returns the object's lifecycle state.
func (po *PersistentObject) State() ObjectState { return po.state }

func (po *PersistentObject) checkManaged() {
	if po.self == nil {
		panic("sqloxx: object is not managed by an identity map; obtain objects through handles")
	}
}

// EnsureLoaded brings a ghost's fields into RAM.
//
// Field getters call it before touching any field. It is a no-op unless the
// object is a ghost. A load failure leaves the object a ghost: it is never
// partially loaded.
func (po *PersistentObject) EnsureLoaded() (err error) {
	if po.state != Ghost {
		return nil
	}
	if po.conn == nil || !po.conn.IsValid() {
		return ErrInvalidConnection
	}
	po.checkManaged()
	defer xerr.Contextf(&err, "sqloxx: load %s id %d", po.self.PrimaryTableName(), po.id)

	if err := po.self.DoLoad(po.conn, po.id); err != nil {
		po.self.DropState()
		return err
	}
	po.state = Loaded
	return nil
}

// MarkDirty records that the object's fields differ from the database.
// Mutators call it after changing a field.
func (po *PersistentObject) MarkDirty() {
	if po.state == Saving {
		panic("sqloxx: object mutated during save")
	}
	po.state = Dirty
}

// Ghostify discards the object's in-RAM fields unconditionally.
// Unsaved changes are lost.
func (po *PersistentObject) Ghostify() {
	po.checkManaged()
	po.self.DropState()
	po.state = Ghost
}

// Save writes the object to the database.
//
// A dirty object with no id is INSERTed with a freshly allocated primary
// key; one with an id is UPDATEd. A clean object (loaded or ghost) is left
// alone. Outside any transaction an implicit one wraps the save.
//
// On failure the database keeps no partial rows, the object's fields are
// restored from the snapshot taken on entry, the state returns to Dirty and
// the error propagates. If the save ran inside an explicit transaction, the
// restoration is also registered with that transaction, so a later cancel
// of any enclosing level reverts the object again.
func (po *PersistentObject) Save() (err error) {
	conn := po.conn
	if conn == nil || !conn.IsValid() {
		return ErrInvalidConnection
	}
	po.checkManaged()
	self := po.self
	defer xerr.Contextf(&err, "sqloxx: save %s", self.PrimaryTableName())

	switch po.state {
	case Loaded, Ghost:
		return nil // nothing to write
	case Saving:
		panic("sqloxx: save reentered")
	}

	implicit := conn.txn.depth() == 0
	if implicit {
		if err := conn.txn.begin(); err != nil {
			return err
		}
	}

	snapshot := self.GetState()
	firstSave := po.id == 0
	po.state = Saving

	revert := func() {
		self.SetState(snapshot)
		po.state = Dirty
		if firstSave && po.id != 0 {
			po.imap.dropID(po.id)
			po.id = 0
			po.provisional = false
		}
	}

	po.pins++
	conn.txn.registerRollback(rollbackEntry{
		run:     revert,
		release: po.unpin,
	})

	var saveErr error
	if firstSave {
		var pid Id
		pid, saveErr = NextAutoKey(conn, self.PrimaryTableName())
		if saveErr == nil {
			// reserve by_id before the INSERT so a concurrent fetch
			// of the same id collapses onto this object.
			saveErr = po.imap.reserveID(pid, self)
		}
		if saveErr == nil {
			po.id = pid
			po.provisional = true
			saveErr = self.DoSaveNew(conn)
		}
	} else {
		saveErr = self.DoSaveExisting(conn)
	}

	if saveErr == nil && implicit {
		saveErr = conn.txn.commit()
	}

	if saveErr != nil {
		conn.txn.noteFailure(saveErr)
		revert()
		if implicit && conn.txn.depth() > 0 {
			err2 := conn.txn.cancel()
			saveErr = xerr.First(saveErr, err2)
		}
		return saveErr
	}

	po.provisional = false
	po.state = Loaded
	return nil
}

// Remove deletes the object's row(s) from the database.
//
// The object stays in memory, reverts to the never-saved condition (no id,
// Dirty) and can be saved again later. Removing an object that was never
// saved is an error. Like Save, Remove opens an implicit transaction when
// none is active, and registers an undo with an explicit one.
func (po *PersistentObject) Remove() (err error) {
	conn := po.conn
	if conn == nil || !conn.IsValid() {
		return ErrInvalidConnection
	}
	po.checkManaged()
	self := po.self
	if po.id == 0 {
		return errors.New("sqloxx: remove: object was never saved")
	}
	defer xerr.Contextf(&err, "sqloxx: remove %s id %d", self.PrimaryTableName(), po.id)

	implicit := conn.txn.depth() == 0
	if implicit {
		if err := conn.txn.begin(); err != nil {
			return err
		}
	}

	oldID, oldState := po.id, po.state
	po.pins++
	conn.txn.registerRollback(rollbackEntry{
		run: func() {
			if po.id == 0 {
				_ = po.imap.reserveID(oldID, self)
				po.id = oldID
				po.state = oldState
			}
		},
		release: po.unpin,
	})

	removeErr := po.doRemove(conn, oldID)
	if removeErr == nil && implicit {
		removeErr = conn.txn.commit()
	}
	if removeErr != nil {
		conn.txn.noteFailure(removeErr)
		if implicit && conn.txn.depth() > 0 {
			err2 := conn.txn.cancel()
			removeErr = xerr.First(removeErr, err2)
		}
		return removeErr
	}

	po.imap.dropID(oldID)
	po.id = 0
	po.state = Dirty
	return nil
}

func (po *PersistentObject) doRemove(conn *DatabaseConnection, id Id) error {
	if r, ok := po.self.(Remover); ok {
		return r.DoRemove(conn, id)
	}
	s, err := conn.Statement(
		"delete from " + po.self.PrimaryTableName() +
			" where " + po.self.PrimaryKeyName() + " = :p",
	)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Bind(":p", int64(id)); err != nil {
		return err
	}
	return s.StepFinal()
}

func (po *PersistentObject) unpin() {
	po.pins--
	if po.pins < 0 {
		panic("sqloxx: rollback pin count went negative")
	}
	if po.pins == 0 && po.handleCount == 0 {
		po.imap.maybeRetire(po)
	}
}

// evictable reports whether the object may leave memory: nothing references
// it, it carries no unsaved data and no transaction needs it for rollback.
func (po *PersistentObject) evictable() bool {
	return po.handleCount == 0 && po.pins == 0 && po.state != Dirty && po.state != Saving
}
