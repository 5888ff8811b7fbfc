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

// handles: refcounted references to persistent objects.

import "reflect"

// Handle is the only legal way user code touches a persistent object.
//
// A bound handle guarantees the object stays in memory: construction
// increments the object's handle counter and Close decrements it. Handles
// are explicit about sharing: use Copy to obtain a second counted reference.
// Plain Go assignment of a Handle value does NOT adjust the counter and must
// not be mixed with Close on both values.
//
// The zero Handle is null: not bound to any object.
type Handle[T any] struct {
	obj *T
	po  *PersistentObject
}

// NewHandle creates a brand-new, never-saved object of type T on conn and
// returns a handle to it. The object is Dirty until saved.
func NewHandle[T any](conn *DatabaseConnection) (Handle[T], error) {
	if !conn.IsValid() {
		return Handle[T]{}, ErrInvalidConnection
	}
	typ := typeOf[T]()
	im := conn.identityMap(baseOf(typ))
	obj, err := im.objectNew(typ)
	if err != nil {
		return Handle[T]{}, err
	}
	return bindHandle[T](im, obj)
}

// FetchHandle returns a handle to the object with the given id, verifying
// the row exists. A cached object is returned as is; otherwise a ghost is
// created, whose fields load on first use.
func FetchHandle[T any](conn *DatabaseConnection, id Id) (Handle[T], error) {
	return fetch[T](conn, id, true)
}

// UncheckedHandle is FetchHandle without the existence check: the caller
// promises the row exists. If the caller lies, the first field load fails.
func UncheckedHandle[T any](conn *DatabaseConnection, id Id) (Handle[T], error) {
	return fetch[T](conn, id, false)
}

func fetch[T any](conn *DatabaseConnection, id Id, checked bool) (Handle[T], error) {
	if !conn.IsValid() {
		return Handle[T]{}, ErrInvalidConnection
	}
	typ := typeOf[T]()
	im := conn.identityMap(baseOf(typ))
	if checked {
		if _, cached := im.byID[id]; !cached {
			if err := im.checkExists(typ, id); err != nil {
				return Handle[T]{}, err
			}
		}
	}
	obj, err := im.objectAt(typ, id)
	if err != nil {
		return Handle[T]{}, err
	}
	return bindHandle[T](im, obj)
}

func bindHandle[T any](im *IdentityMap, obj Persister) (Handle[T], error) {
	ptr, ok := any(obj).(*T)
	if !ok {
		// objectNew/objectAt construct exactly *T; unreachable.
		panic("sqloxx: handle type mismatch")
	}
	if err := im.notifyHandleConstructed(obj.base()); err != nil {
		return Handle[T]{}, err
	}
	return Handle[T]{obj: ptr, po: obj.base()}, nil
}

// IsBound reports whether the handle references an object.
func (h Handle[T]) IsBound() bool { return h.po != nil }

// Get returns the referenced object, or ErrUnboundHandle on a null handle.
func (h Handle[T]) Get() (*T, error) {
	if h.po == nil {
		return nil, ErrUnboundHandle
	}
	return h.obj, nil
}

// Copy returns a second counted reference to the same object.
// Copy of a null handle is a null handle.
func (h Handle[T]) Copy() (Handle[T], error) {
	if h.po == nil {
		return Handle[T]{}, nil
	}
	if err := h.po.imap.notifyHandleConstructed(h.po); err != nil {
		return Handle[T]{}, err
	}
	return h, nil
}

// Close drops this reference. The object may then be orphan-cached or
// evicted. Idempotent on the same Handle variable.
func (h *Handle[T]) Close() {
	if h.po == nil {
		return
	}
	po := h.po
	h.po = nil
	h.obj = nil
	po.imap.notifyHandleDestroyed(po)
}

// Equal reports whether two handles reference the same object.
// Two null handles are equal.
func (h Handle[T]) Equal(other Handle[T]) bool {
	return h.po == other.po
}

// Is reports whether h's object has dynamic type *U.
//
// It supports hierarchy persistence, where a row fetched through the base
// type may be backed by an object of a more derived one.
func Is[U any, T any](h Handle[T]) bool {
	if h.po == nil || h.po.self == nil {
		return false
	}
	_, ok := any(h.po.self).(*U)
	return ok
}

// TryConvert rebinds h as a handle of type U, when the underlying object's
// dynamic type is *U. The returned handle carries its own reference; h stays
// valid and still needs its own Close.
func TryConvert[U any, T any](h Handle[T]) (Handle[U], error) {
	if h.po == nil {
		return Handle[U]{}, ErrUnboundHandle
	}
	ptr, ok := any(h.po.self).(*U)
	if !ok {
		return Handle[U]{}, &WrongTypeError{
			Id:   h.po.id,
			Want: typeOf[U](),
			Have: reflect.TypeOf(h.po.self).Elem(),
		}
	}
	if err := h.po.imap.notifyHandleConstructed(h.po); err != nil {
		return Handle[U]{}, err
	}
	return Handle[U]{obj: ptr, po: h.po}, nil
}
