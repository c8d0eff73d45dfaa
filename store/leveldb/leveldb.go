// Package leveldb adapts syndtr/goleveldb as a durable store.Store
// implementation (teacher's store/leveldb/leveldb.go), rooted under the
// container's working directory so state survives an executor restart but
// not a container respawn (spec.md section 9 non-goals: no persistence
// across master restarts).
package leveldb

/*
   Copyright 2018 Bruno Moura <brunotm@gmail.com>

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

import (
	"os"
	"path/filepath"

	"github.com/flowmesh/dtc/store"
	ldb "github.com/syndtr/goleveldb/leveldb"
	ldbopt "github.com/syndtr/goleveldb/leveldb/opt"
	ldbutil "github.com/syndtr/goleveldb/leveldb/util"
)

var (
	dopt *ldbopt.Options
	wopt *ldbopt.WriteOptions
	ropt *ldbopt.ReadOptions
)

var _ store.Store = (*DB)(nil)
var _ store.Remover = (*DB)(nil)

// DB is a durable leveldb-backed key/value state store.
type DB struct {
	name string
	db   *ldb.DB
	path string
}

// Open opens (creating if absent) a leveldb store named name rooted under
// dir (typically the container's working directory, i.e.
// filepath.Join(workDir, "state", name)).
func Open(dir, name string) (store.Store, error) {
	path, err := filepath.Abs(filepath.Join(dir, "state", name))
	if err != nil {
		return nil, err
	}
	db, err := ldb.OpenFile(path, dopt)
	if err != nil {
		return nil, err
	}
	return &DB{name: name, db: db, path: path}, nil
}

// Supplier returns a store.Supplier rooted under dir, for
// executor.Context wiring.
func Supplier(dir string) store.Supplier {
	return func(name string) (store.Store, error) { return Open(dir, name) }
}

// Name returns this store's name.
func (d *DB) Name() string { return d.name }

// Remove closes the store and erases its on-disk contents.
func (d *DB) Remove() error {
	if err := d.Close(); err != nil {
		return err
	}
	return os.RemoveAll(d.path)
}

// Close releases the store's resources.
func (d *DB) Close() error {
	err := d.db.Close()
	d.db = nil
	return err
}

// Get returns the value for key, or store.ErrKeyNotFound if absent.
func (d *DB) Get(key []byte) (value []byte, err error) {
	value, err = d.db.Get(key, ropt)
	if err == ldb.ErrNotFound {
		return nil, store.ErrKeyNotFound
	}
	return value, err
}

// Set stores value under key.
func (d *DB) Set(key, value []byte) error { return d.db.Put(key, value, wopt) }

// Delete removes key.
func (d *DB) Delete(key []byte) error { return d.db.Delete(key, wopt) }

// Range iterates the store within [from, to) in key order.
func (d *DB) Range(from, to []byte, cb func(key, value []byte) error) error {
	rng := &ldbutil.Range{Start: from, Limit: to}
	iter := d.db.NewIterator(rng, ropt)
	defer iter.Release()

	for iter.Next() {
		if err := cb(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// RangePrefix iterates the store over keys sharing prefix.
func (d *DB) RangePrefix(prefix []byte, cb func(key, value []byte) error) error {
	iter := d.db.NewIterator(ldbutil.BytesPrefix(prefix), ropt)
	defer iter.Release()

	for iter.Next() {
		if err := cb(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
