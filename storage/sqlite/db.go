// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite implements the storage repositories on an embedded SQLite
// database using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/poiesic/docindex/core"
	"github.com/poiesic/docindex/storage"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed schema.sql
var schema string

const dimensionsKey = "dimensions"

// DB owns the SQLite handle shared by the document and chunk repositories.
type DB struct {
	db     *sql.DB
	path   string
	mu     sync.Mutex
	closed bool
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a private in-memory database.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &DB{db: db, path: path}, nil
}

// Close closes the underlying handle. It is safe to call more than once.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

// IsClosed reports whether Close has been called.
func (d *DB) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Path returns the database location.
func (d *DB) Path() string {
	return d.path
}

func (d *DB) begin(ctx context.Context) (*sql.Tx, error) {
	if d.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, core.Cancelled(err)
	}
	return d.db.BeginTx(ctx, nil)
}

func (d *DB) conn() (*sql.DB, error) {
	if d.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	return d.db, nil
}

// withTx runs fn in a transaction, committing on success.
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (d *DB) storedDimensions(ctx context.Context) (int, error) {
	db, err := d.conn()
	if err != nil {
		return 0, err
	}
	var value string
	err = db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, dimensionsKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

// Repositories returns document and chunk repositories sharing this database.
func (d *DB) Repositories(ctx context.Context, dimensions int) (*DocumentRepository, *ChunkRepository, error) {
	chunks, err := newChunkRepository(ctx, d, dimensions)
	if err != nil {
		return nil, nil, err
	}
	return &DocumentRepository{db: d}, chunks, nil
}
