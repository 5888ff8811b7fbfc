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

// Sqloxx-atomicity is a crash/recovery harness for sqloxx transactions.
//
// On its first run against a database file it creates a table, commits one
// row, opens a transaction, inserts a second row and crashes the process
// without committing. Run again against the same file it verifies that
// exactly the committed row survived.
//
// Usage:
//
//	sqloxx-atomicity -db <path>   # run once: sets up and crashes
//	sqloxx-atomicity -db <path>   # run again: inspects and reports
package main

import (
	"flag"
	"fmt"
	"os"
	"syscall"

	"github.com/golang/glog"

	"github.com/skybaboon/sqloxx"
)

func main() {
	dbpath := flag.String("db", "atomicity-test.db", "database file to test against")
	flag.Parse()
	defer glog.Flush()

	_, statErr := os.Stat(*dbpath)
	fresh := os.IsNotExist(statErr)

	conn, err := sqloxx.Open(*dbpath, nil)
	if err != nil {
		glog.Exitf("open: %s", err)
	}
	defer conn.Close()

	if fresh {
		setup(conn) // does not return
	}
	os.Exit(inspect(conn))
}

// setup prepares the database and crashes mid-transaction.
func setup(conn *sqloxx.DatabaseConnection) {
	err := conn.ExecuteSQL(
		"create table dummy" +
			"(col_A integer primary key autoincrement," +
			" col_B text not null," +
			" col_C text);",
	)
	if err != nil {
		glog.Exitf("create table: %s", err)
	}
	err = conn.ExecuteSQL("insert into dummy(col_B, col_C) values('Hello!!!', 'X');")
	if err != nil {
		glog.Exitf("insert: %s", err)
	}

	txn, err := conn.Begin()
	if err != nil {
		glog.Exitf("begin: %s", err)
	}
	defer txn.Close()
	err = conn.ExecuteSQL("insert into dummy(col_B, col_C) values('Bye!', 'Y');")
	if err != nil {
		glog.Exitf("insert in transaction: %s", err)
	}

	// crash without committing: on the next run only the first row must be
	// in the file.
	glog.Flush()
	_ = syscall.Kill(os.Getpid(), syscall.SIGABRT)
	panic("unreachable: SIGABRT did not terminate the process")
}

// inspect verifies that exactly the committed row survived the crash.
func inspect(conn *sqloxx.DatabaseConnection) int {
	s, err := conn.Statement("select col_B from dummy")
	if err != nil {
		glog.Exitf("select: %s", err)
	}
	defer s.Close()

	gotRow, err := s.Step()
	if err != nil {
		glog.Exitf("step: %s", err)
	}
	if !gotRow {
		fmt.Println("atomicity test FAILED: the committed insertion is gone")
		return 1
	}
	colB, err := s.ExtractText(0)
	if err != nil {
		glog.Exitf("extract: %s", err)
	}
	if colB != "Hello!!!" {
		fmt.Printf("atomicity test FAILED: unexpected surviving row %q\n", colB)
		return 1
	}

	gotRow, err = s.Step()
	if err != nil {
		glog.Exitf("step: %s", err)
	}
	if gotRow {
		fmt.Println("atomicity test FAILED: the uncommitted insertion was not rolled back")
		return 1
	}

	fmt.Println("atomicity test succeeded")
	return 0
}
