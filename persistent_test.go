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

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"
)

// round-trip: save then load through a fresh object equals the saved state.
func TestPersistentRoundTrip(t *testing.T) {
	assert := require.New(t)
	conn := testConnDummy(t)

	h, err := NewHandle[DummyObject](conn)
	assert.NoError(err)
	defer h.Close()
	obj, err := h.Get()
	assert.NoError(err)
	assert.Equal(Dirty, obj.State())
	assert.False(obj.HasID())

	obj.SetAll("hello", 30, 999999983, -20987.9873)
	assert.NoError(obj.Save())
	assert.Equal(Loaded, obj.State())
	assert.True(obj.HasID())
	id := obj.ID()

	// evict, then reload from disk through a fresh ghost
	savedState := obj.GetState()
	h.Close()
	assert.NoError(conn.identityMap(typeOf[DummyObject]()).uncache(&obj.PersistentObject))

	h2, err := FetchHandle[DummyObject](conn, id)
	assert.NoError(err)
	defer h2.Close()
	obj2, err := h2.Get()
	assert.NoError(err)
	assert.Equal(Ghost, obj2.State())

	b, err := obj2.B()
	assert.NoError(err)
	assert.Equal("hello", b)
	assert.Equal(Loaded, obj2.State())
	if diff := pretty.Compare(savedState, obj2.GetState()); diff != "" {
		t.Errorf("state mismatch after round-trip:\n%s", diff)
	}
}

func TestPersistentSaveExisting(t *testing.T) {
	assert := require.New(t)
	conn := testConnDummy(t)

	h, err := NewHandle[DummyObject](conn)
	assert.NoError(err)
	defer h.Close()
	obj, _ := h.Get()
	obj.SetAll("v1", 1, 1, 1.0)
	assert.NoError(obj.Save())
	id := obj.ID()

	obj.SetB("v2")
	assert.Equal(Dirty, obj.State())
	assert.NoError(obj.Save())
	assert.Equal(id, obj.ID(), "update must not reassign the id")

	obj.Ghostify()
	b, err := obj.B()
	assert.NoError(err)
	assert.Equal("v2", b)
	assert.Equal(1, countRows(t, conn, "dummy"))
}

// a clean object does not touch the database on save.
func TestPersistentSaveCleanIsNoop(t *testing.T) {
	assert := require.New(t)
	conn := testConnDummy(t)
	insertDummy(t, conn, "row")

	h, err := FetchHandle[DummyObject](conn, 1)
	assert.NoError(err)
	defer h.Close()
	obj, _ := h.Get()

	assert.Equal(Ghost, obj.State())
	assert.NoError(obj.Save()) // ghost: nothing to write
	assert.Equal(Ghost, obj.State())

	_, err = obj.B()
	assert.NoError(err)
	assert.NoError(obj.Save()) // loaded: nothing to write
	assert.Equal(Loaded, obj.State())
}

// invariant: a failed save restores the pre-save snapshot exactly and keeps
// no partial rows, and the speculative id reservation is dropped.
func TestPersistentSaveFailureNew(t *testing.T) {
	assert := require.New(t)
	conn := testConnDummy(t)

	h, err := NewHandle[DummyObject](conn)
	assert.NoError(err)
	defer h.Close()
	obj, _ := h.Get()

	// col_B NOT NULL + empty string binding as NULL makes the insert fail
	obj.SetAll("", 5, 6, 7.5)
	before := obj.GetState()

	err = obj.Save()
	assert.Error(err)
	assert.True(IsConstraintViolation(err), "want constraint violation, got %v", err)

	assert.Equal(Dirty, obj.State())
	assert.False(obj.HasID(), "failed first save must drop the provisional id")
	if diff := pretty.Compare(before, obj.GetState()); diff != "" {
		t.Errorf("state not restored after failed save:\n%s", diff)
	}
	assert.Equal(0, countRows(t, conn, "dummy"))
	assert.Empty(conn.identityMap(typeOf[DummyObject]()).byID)

	// the object remains saveable
	obj.SetB("ok now")
	assert.NoError(obj.Save())
	assert.Equal(1, countRows(t, conn, "dummy"))
}

func TestPersistentSaveFailureExisting(t *testing.T) {
	assert := require.New(t)
	conn := testConnDummy(t)

	h, err := NewHandle[DummyObject](conn)
	assert.NoError(err)
	defer h.Close()
	obj, _ := h.Get()
	obj.SetAll("good", 1, 2, 3.0)
	assert.NoError(obj.Save())
	id := obj.ID()

	obj.SetB("") // NULL again
	err = obj.Save()
	assert.True(IsConstraintViolation(err))
	assert.Equal(Dirty, obj.State())
	assert.Equal(id, obj.ID(), "id survives a failed update")
	assert.Equal("", obj.b, "snapshot is of the dirty pre-save fields")

	obj.SetB("fixed")
	assert.NoError(obj.Save())
	b, _ := obj.B()
	assert.Equal("fixed", b)
}

// cancelling an explicit transaction reverts both the file and every object
// saved inside it.
func TestPersistentSaveInCancelledTransaction(t *testing.T) {
	assert := require.New(t)
	conn := testConnDummy(t)

	h, err := NewHandle[DummyObject](conn)
	assert.NoError(err)
	defer h.Close()
	obj, _ := h.Get()

	txn, err := conn.Begin()
	assert.NoError(err)
	obj.SetAll("tentative", 1, 2, 3.0)
	assert.NoError(obj.Save())
	assert.Equal(Loaded, obj.State())
	assert.True(obj.HasID())
	assert.Equal(1, countRows(t, conn, "dummy"))

	assert.NoError(txn.Cancel())

	assert.Equal(0, countRows(t, conn, "dummy"))
	assert.Equal(Dirty, obj.State())
	assert.False(obj.HasID(), "cancel must revoke the id of a first save")
	assert.Equal("tentative", obj.b)
	assert.Empty(conn.identityMap(typeOf[DummyObject]()).byID)

	// and the object can be saved again afterwards
	assert.NoError(obj.Save())
	assert.Equal(1, countRows(t, conn, "dummy"))
}

func TestPersistentLoadFailureLeavesGhost(t *testing.T) {
	assert := require.New(t)
	conn := testConnDummy(t)

	// unchecked handle to a row that does not exist
	h, err := UncheckedHandle[DummyObject](conn, 42)
	assert.NoError(err)
	defer h.Close()
	obj, _ := h.Get()

	_, err = obj.B()
	var notFound *RecordNotFoundError
	assert.ErrorAs(err, &notFound)
	assert.Equal(Ghost, obj.State())

	// loading again fails the same way; the object never half-loads
	_, err = obj.D()
	assert.ErrorAs(err, &notFound)
	assert.Equal(Ghost, obj.State())
}

func TestPersistentRemove(t *testing.T) {
	assert := require.New(t)
	conn := testConnDummy(t)

	h, err := NewHandle[DummyObject](conn)
	assert.NoError(err)
	defer h.Close()
	obj, _ := h.Get()

	assert.Error(obj.Remove(), "remove before first save")

	obj.SetAll("to be removed", 1, 2, 3.0)
	assert.NoError(obj.Save())
	id := obj.ID()

	assert.NoError(obj.Remove())
	assert.Equal(0, countRows(t, conn, "dummy"))
	assert.False(obj.HasID())
	assert.Equal(Dirty, obj.State())
	assert.NotContains(conn.identityMap(typeOf[DummyObject]()).byID, id)

	// removed object can be re-saved (with a fresh id)
	assert.NoError(obj.Save())
	assert.Equal(1, countRows(t, conn, "dummy"))
}

func TestPersistentRemoveInCancelledTransaction(t *testing.T) {
	assert := require.New(t)
	conn := testConnDummy(t)

	h, err := NewHandle[DummyObject](conn)
	assert.NoError(err)
	defer h.Close()
	obj, _ := h.Get()
	obj.SetAll("sticky", 1, 2, 3.0)
	assert.NoError(obj.Save())
	id := obj.ID()

	txn, err := conn.Begin()
	assert.NoError(err)
	assert.NoError(obj.Remove())
	assert.False(obj.HasID())
	assert.NoError(txn.Cancel())

	assert.Equal(id, obj.ID(), "cancel must restore the removed id")
	assert.Equal(1, countRows(t, conn, "dummy"))
	assert.Contains(conn.identityMap(typeOf[DummyObject]()).byID, id)
}

// hierarchy: Dog persists through both the base and its exclusive table,
// sharing the base's key sequence and identity map.
func TestPersistentHierarchy(t *testing.T) {
	assert := require.New(t)
	conn := testConn(t)
	assert.NoError(conn.ExecuteSQL(animalSchema))

	// an Animal takes id 1 from the shared sequence
	ha, err := NewHandle[Animal](conn)
	assert.NoError(err)
	defer ha.Close()
	animal, _ := ha.Get()
	animal.SetSpecies("cat")
	assert.NoError(animal.Save())
	assert.Equal(Id(1), animal.ID())

	// a Dog takes the next one
	hd, err := NewHandle[Dog](conn)
	assert.NoError(err)
	defer hd.Close()
	dog, _ := hd.Get()
	dog.SetSpecies("dog")
	dog.SetName("Rex")
	assert.NoError(dog.Save())
	assert.Equal(Id(2), dog.ID())
	assert.Equal(1, countRows(t, conn, "dogs"))
	assert.Equal(2, countRows(t, conn, "animals"))

	// both live in the Animal identity map
	im := conn.identityMap(typeOf[Animal]())
	assert.Len(im.byID, 2)
	assert.NotContains(conn.maps, typeOf[Dog]())

	// dynamic type inspection and conversion
	assert.True(Is[Dog](hd))
	assert.False(Is[Dog](ha))
	hd2, err := TryConvert[Dog](hd)
	assert.NoError(err)
	defer hd2.Close()
	assert.True(hd2.Equal(hd))
	_, err = TryConvert[Dog](ha)
	var wrongType *WrongTypeError
	assert.ErrorAs(err, &wrongType)

	// reload the dog from disk
	hd.Close()
	hd2.Close()
	assert.NoError(im.uncache(&dog.PersistentObject))
	hd3, err := FetchHandle[Dog](conn, 2)
	assert.NoError(err)
	defer hd3.Close()
	dog3, _ := hd3.Get()
	name, err := dog3.Name()
	assert.NoError(err)
	assert.Equal("Rex", name)
	species, err := dog3.Species()
	assert.NoError(err)
	assert.Equal("dog", species)

	// fetching the dog's id under the wrong concrete type is detected
	_, err = FetchHandle[Animal](conn, 2)
	assert.ErrorAs(err, &wrongType)
}

func TestSaveOnClosedConnection(t *testing.T) {
	assert := require.New(t)
	conn := testConnDummy(t)

	h, err := NewHandle[DummyObject](conn)
	assert.NoError(err)
	obj, _ := h.Get()
	obj.SetAll("x", 1, 2, 3.0)
	assert.NoError(conn.Close())
	assert.ErrorIs(obj.Save(), ErrInvalidConnection)
	assert.ErrorIs(obj.Remove(), ErrInvalidConnection)
}
