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

// Package xlog provides logging with severity and verbosity levels.
//
// It is a thin shim over glog so that library code does not spell the glog
// call depth arithmetic at every call site.
package xlog

import (
	"fmt"

	"github.com/golang/glog"
)

// Depth is the number of stack frames to skip when attributing a log line.
type Depth int

func (d Depth) Infof(format string, argv ...interface{}) {
	glog.InfoDepth(int(d+1), fmt.Sprintf(format, argv...))
}

func (d Depth) Warningf(format string, argv ...interface{}) {
	glog.WarningDepth(int(d+1), fmt.Sprintf(format, argv...))
}

func (d Depth) Errorf(format string, argv ...interface{}) {
	glog.ErrorDepth(int(d+1), fmt.Sprintf(format, argv...))
}

func Infof(format string, argv ...interface{})    { Depth(1).Infof(format, argv...) }
func Warningf(format string, argv ...interface{}) { Depth(1).Warningf(format, argv...) }
func Errorf(format string, argv ...interface{})   { Depth(1).Errorf(format, argv...) }

// Verbose mirrors glog.Verbose: a guard that emits only when -v is at least
// the requested level.
type Verbose bool

// V reports whether verbose logging at the given level is enabled, and
// returns a guard to log through.
func V(level int32) Verbose {
	return Verbose(glog.V(glog.Level(level)))
}

func (v Verbose) Infof(format string, argv ...interface{}) {
	if v {
		glog.InfoDepth(1, fmt.Sprintf(format, argv...))
	}
}
