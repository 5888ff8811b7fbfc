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

// test entity types and schema helpers.

import (
	"path/filepath"
	"testing"
)

// DummyObject is the simple test entity: one row in table dummy.
type DummyObject struct {
	PersistentObject

	b string
	c int
	d int64
	e float64
}

var _ Persister = (*DummyObject)(nil)

func (o *DummyObject) PrimaryTableName() string { return "dummy" }
func (o *DummyObject) PrimaryKeyName() string   { return "col_A" }

func (o *DummyObject) DoLoad(conn *DatabaseConnection, id Id) error {
	s, err := conn.Statement("select col_B, col_C, col_D, col_E from dummy where col_A = :p")
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
		return &RecordNotFoundError{Table: "dummy", Id: id}
	}
	if o.b, err = s.ExtractText(0); err != nil {
		return err
	}
	if o.c, err = s.ExtractInt(1); err != nil {
		return err
	}
	if o.d, err = s.ExtractInt64(2); err != nil {
		return err
	}
	if o.e, err = s.ExtractDouble(3); err != nil {
		return err
	}
	s.Reset()
	return nil
}

func (o *DummyObject) DoSaveNew(conn *DatabaseConnection) error {
	s, err := conn.Statement(
		"insert into dummy(col_A, col_B, col_C, col_D, col_E)" +
			" values(:a, :b, :c, :d, :e)",
	)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := o.bindFields(s); err != nil {
		return err
	}
	return s.StepFinal()
}

func (o *DummyObject) DoSaveExisting(conn *DatabaseConnection) error {
	s, err := conn.Statement(
		"update dummy set col_B = :b, col_C = :c, col_D = :d, col_E = :e" +
			" where col_A = :a",
	)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := o.bindFields(s); err != nil {
		return err
	}
	return s.StepFinal()
}

func (o *DummyObject) bindFields(s *SQLStatement) error {
	if err := s.Bind(":a", int64(o.ID())); err != nil {
		return err
	}
	if err := s.Bind(":b", o.b); err != nil {
		return err
	}
	if err := s.Bind(":c", o.c); err != nil {
		return err
	}
	if err := s.Bind(":d", o.d); err != nil {
		return err
	}
	return s.Bind(":e", o.e)
}

func (o *DummyObject) DropState() {
	o.b, o.c, o.d, o.e = "", 0, 0, 0
}

type dummyState struct {
	b string
	c int
	d int64
	e float64
}

func (o *DummyObject) GetState() interface{} {
	return dummyState{b: o.b, c: o.c, d: o.d, e: o.e}
}

func (o *DummyObject) SetState(state interface{}) {
	st := state.(dummyState)
	o.b, o.c, o.d, o.e = st.b, st.c, st.d, st.e
}

// getters load on first touch; setters dirty the object.

func (o *DummyObject) B() (string, error) {
	if err := o.EnsureLoaded(); err != nil {
		return "", err
	}
	return o.b, nil
}

func (o *DummyObject) SetB(v string) {
	o.b = v
	o.MarkDirty()
}

func (o *DummyObject) D() (int64, error) {
	if err := o.EnsureLoaded(); err != nil {
		return 0, err
	}
	return o.d, nil
}

func (o *DummyObject) SetAll(b string, c int, d int64, e float64) {
	o.b, o.c, o.d, o.e = b, c, d, e
	o.MarkDirty()
}

const dummySchema = `
	create table dummy(
		col_A integer primary key autoincrement,
		col_B text not null,
		col_C integer,
		col_D integer,
		col_E float
	);
`

// ---- hierarchy: Animal is the base, Dog the sub ----

// Animal is the hierarchy base; its table owns the primary key sequence.
type Animal struct {
	PersistentObject

	species string
}

var _ Persister = (*Animal)(nil)

func (a *Animal) PrimaryTableName() string { return "animals" }
func (a *Animal) PrimaryKeyName() string   { return "animal_id" }

func (a *Animal) DoLoad(conn *DatabaseConnection, id Id) error {
	s, err := conn.Statement("select species from animals where animal_id = :p")
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
		return &RecordNotFoundError{Table: "animals", Id: id}
	}
	if a.species, err = s.ExtractText(0); err != nil {
		return err
	}
	s.Reset()
	return nil
}

func (a *Animal) DoSaveNew(conn *DatabaseConnection) error {
	s, err := conn.Statement("insert into animals(animal_id, species) values(:id, :species)")
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Bind(":id", int64(a.ID())); err != nil {
		return err
	}
	if err := s.Bind(":species", a.species); err != nil {
		return err
	}
	return s.StepFinal()
}

func (a *Animal) DoSaveExisting(conn *DatabaseConnection) error {
	s, err := conn.Statement("update animals set species = :species where animal_id = :id")
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Bind(":id", int64(a.ID())); err != nil {
		return err
	}
	if err := s.Bind(":species", a.species); err != nil {
		return err
	}
	return s.StepFinal()
}

func (a *Animal) DropState() { a.species = "" }

func (a *Animal) GetState() interface{} { return a.species }

func (a *Animal) SetState(state interface{}) { a.species = state.(string) }

func (a *Animal) Species() (string, error) {
	if err := a.EnsureLoaded(); err != nil {
		return "", err
	}
	return a.species, nil
}

func (a *Animal) SetSpecies(v string) {
	a.species = v
	a.MarkDirty()
}

// Dog persists across animals (base rows) and dogs (exclusive rows).
type Dog struct {
	Animal

	name string
}

var _ Persister = (*Dog)(nil)
var _ ExclusiveTabular = (*Dog)(nil)

func init() {
	RegisterSub[Dog, Animal]()
}

func (d *Dog) ExclusiveTableName() string { return "dogs" }

func (d *Dog) DoLoad(conn *DatabaseConnection, id Id) error {
	if err := d.Animal.DoLoad(conn, id); err != nil {
		return err
	}
	s, err := conn.Statement("select name from dogs where dog_id = :p")
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
		return &RecordNotFoundError{Table: "dogs", Id: id}
	}
	if d.name, err = s.ExtractText(0); err != nil {
		return err
	}
	s.Reset()
	return nil
}

func (d *Dog) DoSaveNew(conn *DatabaseConnection) error {
	// base table first: the dogs row references it.
	if err := d.Animal.DoSaveNew(conn); err != nil {
		return err
	}
	s, err := conn.Statement("insert into dogs(dog_id, name) values(:id, :name)")
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Bind(":id", int64(d.ID())); err != nil {
		return err
	}
	if err := s.Bind(":name", d.name); err != nil {
		return err
	}
	return s.StepFinal()
}

func (d *Dog) DoSaveExisting(conn *DatabaseConnection) error {
	if err := d.Animal.DoSaveExisting(conn); err != nil {
		return err
	}
	s, err := conn.Statement("update dogs set name = :name where dog_id = :id")
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Bind(":id", int64(d.ID())); err != nil {
		return err
	}
	if err := s.Bind(":name", d.name); err != nil {
		return err
	}
	return s.StepFinal()
}

func (d *Dog) DropState() {
	d.Animal.DropState()
	d.name = ""
}

type dogState struct {
	species string
	name    string
}

func (d *Dog) GetState() interface{} {
	return dogState{species: d.species, name: d.name}
}

func (d *Dog) SetState(state interface{}) {
	st := state.(dogState)
	d.species, d.name = st.species, st.name
}

func (d *Dog) Name() (string, error) {
	if err := d.EnsureLoaded(); err != nil {
		return "", err
	}
	return d.name, nil
}

func (d *Dog) SetName(v string) {
	d.name = v
	d.MarkDirty()
}

const animalSchema = `
	create table animals(
		animal_id integer primary key autoincrement,
		species text not null
	);
	create table dogs(
		dog_id integer primary key references animals(animal_id) on delete cascade,
		name text not null
	);
`

// ---- helpers ----

// testConn opens a fresh database in a per-test directory.
func testConn(t testing.TB) *DatabaseConnection {
	t.Helper()
	conn, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open: %s", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// testConnDummy is testConn plus the dummy table.
func testConnDummy(t testing.TB) *DatabaseConnection {
	t.Helper()
	conn := testConn(t)
	if err := conn.ExecuteSQL(dummySchema); err != nil {
		t.Fatalf("schema: %s", err)
	}
	return conn
}

// countRows returns the number of rows in table.
func countRows(t testing.TB, conn *DatabaseConnection, table string) int {
	t.Helper()
	s, err := conn.Statement("select count(*) from " + table)
	if err != nil {
		t.Fatalf("count %s: %s", table, err)
	}
	defer s.Close()
	gotRow, err := s.Step()
	if err != nil || !gotRow {
		t.Fatalf("count %s: row=%v err=%s", table, gotRow, err)
	}
	n, err := s.ExtractInt(0)
	if err != nil {
		t.Fatalf("count %s: %s", table, err)
	}
	s.Reset()
	return n
}
