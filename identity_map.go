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

// identity map: the one-object-per-row cache.

import (
	"fmt"
	"reflect"

	lru "github.com/hashicorp/golang-lru"

	"github.com/skybaboon/sqloxx/internal/xlog"
)

const defaultOrphanCapacity = 100

// IdentityMap enforces, per connection and per base type, that every
// database row is represented by at most one live in-memory object.
//
// The map owns object memory. byCacheKey holds every cached object; byID
// additionally indexes the ones whose primary key is known. Handles hold
// non-owning references and drive the per-object handle counter; when the
// counter drops to zero a loaded object either moves to the bounded orphan
// cache (kept alive speculatively, evicted FIFO when the cache fills) or is
// evicted at once when caching is off; a ghost is evicted at once.
//
// All mutating entry points are unexported: user code reaches the map only
// through handles and the registry functions.
type IdentityMap struct {
	conn *DatabaseConnection
	base reflect.Type

	byID       map[Id]Persister
	byCacheKey map[CacheKey]Persister

	nextProbe CacheKey // next cache key candidate

	orphans *lru.Cache // CacheKey -> Persister; insertion order only, so FIFO
	caching bool
}

func newIdentityMap(conn *DatabaseConnection, base reflect.Type, orphanCapacity int) *IdentityMap {
	if orphanCapacity <= 0 {
		orphanCapacity = defaultOrphanCapacity
	}
	im := &IdentityMap{
		conn:       conn,
		base:       base,
		byID:       make(map[Id]Persister),
		byCacheKey: make(map[CacheKey]Persister),
		nextProbe:  1,
		caching:    true,
	}
	// the callback fires both on capacity eviction and on explicit Remove;
	// the evictable check keeps revived objects alive.
	orphans, err := lru.NewWithEvict(orphanCapacity, func(_, value interface{}) {
		p := value.(Persister)
		if p.base().evictable() {
			im.evict(p.base())
		}
	})
	if err != nil {
		panic(err) // capacity is validated above
	}
	im.orphans = orphans
	return im
}

// allocCacheKey probes for a free cache key, monotonically with wraparound.
// A full map is a hard failure.
func (im *IdentityMap) allocCacheKey() (CacheKey, error) {
	start := im.nextProbe
	for {
		ck := im.nextProbe
		if im.nextProbe == cacheKeyMax {
			im.nextProbe = 1
		} else {
			im.nextProbe++
		}
		if _, occupied := im.byCacheKey[ck]; !occupied {
			return ck, nil
		}
		if im.nextProbe == start {
			return 0, &OverflowError{What: fmt.Sprintf("cache keys of identity map for %s", im.base)}
		}
	}
}

// newInstance constructs a fresh instance of typ tied to this map.
func (im *IdentityMap) newInstance(typ reflect.Type, state ObjectState) (Persister, error) {
	obj, ok := reflect.New(typ).Interface().(Persister)
	if !ok {
		panic(fmt.Sprintf("sqloxx: %s does not implement Persister", reflect.PtrTo(typ)))
	}
	ck, err := im.allocCacheKey()
	if err != nil {
		return nil, err
	}
	po := obj.base()
	po.conn = im.conn
	po.imap = im
	po.self = obj
	po.cacheKey = ck
	po.state = state
	im.byCacheKey[ck] = obj
	return obj, nil
}

// objectNew constructs a fresh, never-saved object of typ.
// The object starts Dirty: it has no on-disk representation yet.
func (im *IdentityMap) objectNew(typ reflect.Type) (Persister, error) {
	return im.newInstance(typ, Dirty)
}

// objectAt returns the cached object with the given id, or constructs a
// ghost with that id. The ghost's fields stay unloaded until first use.
func (im *IdentityMap) objectAt(typ reflect.Type, id Id) (Persister, error) {
	if obj, ok := im.byID[id]; ok {
		if got := reflect.TypeOf(obj).Elem(); got != typ {
			return nil, &WrongTypeError{Id: id, Want: typ, Have: got}
		}
		return obj, nil
	}
	obj, err := im.newInstance(typ, Ghost)
	if err != nil {
		return nil, err
	}
	obj.base().id = id
	im.byID[id] = obj
	return obj, nil
}

// checkExists verifies a row with the given primary key exists in typ's
// primary table.
func (im *IdentityMap) checkExists(typ reflect.Type, id Id) error {
	probe, ok := reflect.New(typ).Interface().(Persister)
	if !ok {
		panic(fmt.Sprintf("sqloxx: %s does not implement Persister", reflect.PtrTo(typ)))
	}
	table, pk := probe.PrimaryTableName(), probe.PrimaryKeyName()

	s, err := im.conn.Statement("select " + pk + " from " + table + " where " + pk + " = :p")
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Bind(":p", int64(id)); err != nil {
		return err
	}
	gotRow, err := s.Step()
	if err != nil {
		return err
	}
	if !gotRow {
		return &RecordNotFoundError{Table: table, Id: id}
	}
	s.Reset()
	return nil
}

// notifyHandleConstructed accounts a new handle on obj, reviving it from the
// orphan cache if it is there.
func (im *IdentityMap) notifyHandleConstructed(po *PersistentObject) error {
	if po.handleCount == ^uint32(0) {
		return &OverflowError{What: "handle counter"}
	}
	po.handleCount++
	if po.handleCount == 1 && po.cacheKey != 0 {
		// revival: the evict callback sees handleCount > 0 and keeps it.
		im.orphans.Remove(po.cacheKey)
	}
	return nil
}

// notifyHandleDestroyed accounts a dropped handle on obj.
func (im *IdentityMap) notifyHandleDestroyed(po *PersistentObject) {
	if po.handleCount == 0 {
		panic("sqloxx: handle counter went negative")
	}
	po.handleCount--
	if po.handleCount == 0 {
		im.maybeRetire(po)
	}
}

// maybeRetire handles an object whose last reference just went away:
// orphan-cache it when it is loaded and caching is on, evict it otherwise
// (unless it is dirty or saving, or a transaction still pins it for rollback).
func (im *IdentityMap) maybeRetire(po *PersistentObject) {
	if !po.evictable() {
		return
	}
	if im.caching && po.state == Loaded {
		im.orphans.Add(po.cacheKey, po.self)
		return
	}
	im.evict(po)
}

// evict removes the object from both tables and severs it from the map.
func (im *IdentityMap) evict(po *PersistentObject) {
	if po.id != 0 {
		delete(im.byID, po.id)
	}
	delete(im.byCacheKey, po.cacheKey)
	po.cacheKey = 0
	po.self.DropState()
	po.state = Ghost
	po.self = nil
	xlog.V(2).Infof("imap %s: evicted id %d", im.base, po.id)
}

// reserveID claims id for obj in byID ahead of the INSERT that will use it.
func (im *IdentityMap) reserveID(id Id, obj Persister) error {
	if prev, occupied := im.byID[id]; occupied && prev != obj {
		return fmt.Errorf("sqloxx: identity map for %s: id %d is already mapped", im.base, id)
	}
	im.byID[id] = obj
	return nil
}

// dropID releases a reservation made by reserveID, or unmaps a removed
// object's id.
func (im *IdentityMap) dropID(id Id) {
	delete(im.byID, id)
}

// uncache forcibly evicts obj. It refuses while handles are live.
func (im *IdentityMap) uncache(po *PersistentObject) error {
	if po.handleCount > 0 {
		return fmt.Errorf("sqloxx: uncache: %d live handle(s)", po.handleCount)
	}
	if po.cacheKey != 0 {
		im.orphans.Remove(po.cacheKey) // callback may already evict
	}
	if po.cacheKey != 0 {
		im.evict(po)
	}
	return nil
}

// enableCaching toggles the orphan cache. Switching it off evicts the
// current orphans immediately.
func (im *IdentityMap) enableCaching(enabled bool) {
	im.caching = enabled
	if !enabled {
		im.orphans.Purge()
	}
}

// drain evicts everything; used when the connection closes.
func (im *IdentityMap) drain() {
	im.orphans.Purge()
	for _, obj := range im.byCacheKey {
		po := obj.base()
		po.handleCount = 0
		po.pins = 0
		im.evict(po)
	}
}

// WrongTypeError is returned when an id is requested as one Go type while
// the identity map already holds the row's object as another.
type WrongTypeError struct {
	Id   Id
	Want reflect.Type
	Have reflect.Type
}

func (e *WrongTypeError) Error() string {
	return fmt.Sprintf("sqloxx: object with id %d is cached as %s, requested as %s", e.Id, e.Have, e.Want)
}
