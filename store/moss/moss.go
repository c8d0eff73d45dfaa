// Package moss adapts couchbase/moss as an in-memory store.Store
// implementation (teacher's store/moss/moss.go), for vertices whose
// aggregation state need not survive a process restart.
package moss

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
	"bytes"

	"github.com/couchbase/moss"
	"github.com/flowmesh/dtc/store"
)

var (
	ropts    = moss.ReadOptions{}
	wopts    = moss.WriteOptions{}
	iteropts = moss.IteratorOptions{}
)

var _ store.Store = (*DB)(nil)
var _ store.Remover = (*DB)(nil)
var _ store.Supplier = Supplier

// DB is an in-memory key/value state store backed by a moss.Collection.
type DB struct {
	name string
	db   moss.Collection
}

// Supplier opens a fresh in-memory store named name.
func Supplier(name string) (store.Store, error) {
	db, err := moss.NewCollection(moss.DefaultCollectionOptions)
	if err != nil {
		return nil, err
	}
	if err := db.Start(); err != nil {
		return nil, err
	}
	return &DB{name: name, db: db}, nil
}

// Name returns this store's name.
func (d *DB) Name() string { return d.name }

// Remove closes the store and discards its contents.
func (d *DB) Remove() error { return d.Close() }

// Close releases the store's resources.
func (d *DB) Close() error {
	err := d.db.Close()
	d.db = nil
	return err
}

// Get returns the value for key, or store.ErrKeyNotFound if absent.
func (d *DB) Get(key []byte) (value []byte, err error) {
	value, err = d.db.Get(key, ropts)
	if value == nil && err == nil {
		return nil, store.ErrKeyNotFound
	}
	return value, err
}

// Set stores value under key.
func (d *DB) Set(key, value []byte) error {
	batch, err := d.db.NewBatch(1, len(key)+len(value))
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := batch.Set(key, value); err != nil {
		return err
	}
	return d.db.ExecuteBatch(batch, wopts)
}

// Delete removes key. Moss returns a nil error on a non-existent key.
func (d *DB) Delete(key []byte) error {
	batch, err := d.db.NewBatch(1, 0)
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := batch.Del(key); err != nil {
		return err
	}
	return d.db.ExecuteBatch(batch, wopts)
}

// Range iterates the store within [from, to) in key order.
func (d *DB) Range(from, to []byte, cb func(key, value []byte) error) error {
	ss, err := d.db.Snapshot()
	if err != nil {
		return err
	}

	iter, err := ss.StartIterator(from, to, iteropts)
	if err != nil {
		return err
	}
	defer iter.Close()

	for {
		key, val, err := iter.Current()
		if err != nil {
			if err == moss.ErrIteratorDone {
				return nil
			}
			return err
		}
		if err := cb(key, val); err != nil {
			return err
		}
		iter.Next()
	}
}

// RangePrefix iterates the store over keys sharing prefix.
func (d *DB) RangePrefix(prefix []byte, cb func(key, value []byte) error) error {
	return d.Range(nil, nil, func(key, value []byte) error {
		if bytes.HasPrefix(key, prefix) {
			return cb(key, value)
		}
		return nil
	})
}
