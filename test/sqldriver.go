/*
 * Copyright 2024 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package test

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sync"
)

// SQLDriverName is the name of the recording driver registered by this package.
const SQLDriverName = "esbtest"

func init() {
	sql.Register(SQLDriverName, recordingDriver{})
}

// FakeDB records what a database/sql client did against one DSN.
type FakeDB struct {
	mu         sync.Mutex
	Statements []string
	Args       [][]interface{}
	Commits    int
	Rollbacks  int
	// Columns and Rows are returned by every query.
	Columns []string
	Rows    [][]interface{}
	// FailExec makes every Exec fail when set.
	FailExec error
}

var (
	fakeMu  sync.Mutex
	fakeDBs = map[string]*FakeDB{}
)

// OpenFakeDB returns a *sql.DB backed by a fresh FakeDB registered under dsn.
func OpenFakeDB(dsn string) (*sql.DB, *FakeDB, error) {
	fake := &FakeDB{}
	fakeMu.Lock()
	fakeDBs[dsn] = fake
	fakeMu.Unlock()
	db, err := sql.Open(SQLDriverName, dsn)
	return db, fake, err
}

func (f *FakeDB) record(query string, args []driver.Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Statements = append(f.Statements, query)
	converted := make([]interface{}, len(args))
	for i, a := range args {
		converted[i] = a
	}
	f.Args = append(f.Args, converted)
}

// Snapshot returns statements, commits and rollbacks under the lock.
func (f *FakeDB) Snapshot() (statements []string, commits, rollbacks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Statements...), f.Commits, f.Rollbacks
}

type recordingDriver struct{}

func (recordingDriver) Open(dsn string) (driver.Conn, error) {
	fakeMu.Lock()
	defer fakeMu.Unlock()
	fake, ok := fakeDBs[dsn]
	if !ok {
		return nil, fmt.Errorf("unknown fake database %q", dsn)
	}
	return &fakeConn{db: fake}, nil
}

type fakeConn struct {
	db *FakeDB
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{db: c.db, query: query}, nil
}

func (c *fakeConn) Close() error {
	return nil
}

func (c *fakeConn) Begin() (driver.Tx, error) {
	return &fakeTx{db: c.db}, nil
}

type fakeTx struct {
	db *FakeDB
}

func (t *fakeTx) Commit() error {
	t.db.mu.Lock()
	t.db.Commits++
	t.db.mu.Unlock()
	return nil
}

func (t *fakeTx) Rollback() error {
	t.db.mu.Lock()
	t.db.Rollbacks++
	t.db.mu.Unlock()
	return nil
}

type fakeStmt struct {
	db    *FakeDB
	query string
}

func (s *fakeStmt) Close() error {
	return nil
}

func (s *fakeStmt) NumInput() int {
	return -1
}

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.db.record(s.query, args)
	s.db.mu.Lock()
	failure := s.db.FailExec
	s.db.mu.Unlock()
	if failure != nil {
		return nil, failure
	}
	return driver.RowsAffected(1), nil
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	s.db.record(s.query, args)
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return &fakeRows{columns: s.db.Columns, rows: s.db.Rows}, nil
}

type fakeRows struct {
	columns []string
	rows    [][]interface{}
	pos     int
}

func (r *fakeRows) Columns() []string {
	return r.columns
}

func (r *fakeRows) Close() error {
	return nil
}

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	for i, v := range r.rows[r.pos] {
		dest[i] = v
	}
	r.pos++
	return nil
}
