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

// prepared statement cache.

import (
	"lab.nexedi.com/kirr/go123/xerr"

	"github.com/skybaboon/sqloxx/internal/xlog"
)

const defaultStmtCacheCapacity = 55

// stmtCache maps statement text to reusable stmtImpl instances.
//
// A lease locks an instance; a locked instance is never lent twice, so two
// concurrent leases of the same text get two different engine statements and
// identical SQL is always reentrancy-safe. Every prepared instance, including
// extra ones for a text whose cached instances are all locked, is retained
// while the cache is under capacity; instances prepared beyond capacity are
// transient: they are finalized on release instead of being retained.
type stmtCache struct {
	dbc      *sqliteDBConn
	capacity int
	stmts    map[string][]*stmtImpl
	n        int // retained instances, over all texts
}

func newStmtCache(dbc *sqliteDBConn, capacity int) *stmtCache {
	if capacity <= 0 {
		capacity = defaultStmtCacheCapacity
	}
	return &stmtCache{
		dbc:      dbc,
		capacity: capacity,
		stmts:    make(map[string][]*stmtImpl, capacity),
	}
}

// lease returns a locked statement for text, preparing one if no unlocked
// cached instance exists.
func (c *stmtCache) lease(text string) (*stmtImpl, error) {
	for _, si := range c.stmts[text] {
		if !si.isLocked() {
			si.lock()
			return si, nil
		}
	}

	si, err := newStmtImpl(c.dbc, text)
	if err != nil {
		return nil, err
	}
	if c.n < c.capacity {
		c.stmts[text] = append(c.stmts[text], si)
		c.n++
	} else {
		si.transient = true
		xlog.V(2).Infof("stmtcache: capacity %d reached; %q prepared transient", c.capacity, text)
	}
	si.lock()
	return si, nil
}

// release returns a leased statement.
//
// The statement is reset, its bindings are cleared and it is unlocked, so
// the next lease of the same text starts clean. Transient statements are
// finalized instead.
func (c *stmtCache) release(si *stmtImpl) {
	si.reset()
	si.clearBindings()
	si.unlock()
	if si.transient {
		_ = si.finalize()
	}
}

// close finalizes every retained statement. The cache must not be used
// afterwards.
func (c *stmtCache) close() error {
	var errv xerr.Errorv
	for _, v := range c.stmts {
		for _, si := range v {
			errv.Appendif(si.finalize())
		}
	}
	c.stmts = nil
	c.n = 0
	return errv.Err()
}
