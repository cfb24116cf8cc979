/*
Copyright 2026 The Perkeep Authors

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

// Package leveldb provides an implementation of sorted.KeyValue
// on top of a single mutable database file on disk using
// github.com/syndtr/goleveldb.
package leveldb

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"strusearch.org/pkg/sorted"

	"go4.org/jsonconfig"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	_ sorted.Wiper     = (*kvis)(nil)
	_ sorted.Compacter = (*kvis)(nil)
)

func init() {
	sorted.RegisterKeyValue("leveldb", newKeyValueFromJSONConfig)
}

// NewStorage is a convenience that calls newKeyValueFromJSONConfig
// with file as the leveldb storage directory.
func NewStorage(file string) (sorted.KeyValue, error) {
	return newKeyValueFromJSONConfig(jsonconfig.Obj{"file": file})
}

func newKeyValueFromJSONConfig(cfg jsonconfig.Obj) (sorted.KeyValue, error) {
	file := cfg.RequiredString("file")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &opt.Options{
		Filter: filter.NewBloomFilter(10),
	}
	db, err := leveldb.OpenFile(file, opts)
	if err != nil {
		return nil, err
	}
	is := &kvis{
		db:       db,
		path:     file,
		opts:     opts,
		readOpts: &opt.ReadOptions{},
		// The storage layer publishes through atomic batch commits;
		// fsync per write would only slow the batch down.
		writeOpts: &opt.WriteOptions{Sync: false},
	}
	return is, nil
}

type kvis struct {
	path      string
	db        *leveldb.DB
	opts      *opt.Options
	readOpts  *opt.ReadOptions
	writeOpts *opt.WriteOptions
	txmu      sync.Mutex
}

func (is *kvis) Get(key string) (string, error) {
	val, err := is.db.Get([]byte(key), is.readOpts)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return "", sorted.ErrNotFound
		}
		return "", err
	}
	if val == nil {
		return "", sorted.ErrNotFound
	}
	return string(val), nil
}

func (is *kvis) Set(key, value string) error {
	if err := sorted.CheckSizes(key, value); err != nil {
		return err
	}
	return is.db.Put([]byte(key), []byte(value), is.writeOpts)
}

func (is *kvis) Delete(key string) error {
	return is.db.Delete([]byte(key), is.writeOpts)
}

func (is *kvis) Find(start, end string) sorted.Iterator {
	var startB, endB []byte
	// A nil Range.Start is treated as a key before all keys in the DB.
	if start != "" {
		startB = []byte(start)
	}
	// A nil Range.Limit is treated as a key after all keys in the DB.
	if end != "" {
		endB = []byte(end)
	}
	it := &iter{
		it: is.db.NewIterator(
			&util.Range{Start: startB, Limit: endB},
			is.readOpts,
		),
	}
	return it
}

func (is *kvis) NewCursor() sorted.Cursor {
	return &cursor{it: is.db.NewIterator(nil, is.readOpts)}
}

func (is *kvis) Wipe() error {
	// Close the already open DB.
	if err := is.db.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(is.path); err != nil {
		return err
	}

	db, err := leveldb.OpenFile(is.path, is.opts)
	if err != nil {
		return fmt.Errorf("error creating %s: %v", is.path, err)
	}
	is.db = db
	return nil
}

func (is *kvis) Compact() error {
	return is.db.CompactRange(util.Range{})
}

func (is *kvis) BeginBatch() sorted.BatchMutation {
	return &lvbatch{batch: new(leveldb.Batch)}
}

type lvbatch struct {
	errMu sync.Mutex
	err   error // set if one of the mutations had too large a key or value; sticky

	batch *leveldb.Batch
}

func (lvb *lvbatch) Set(key, value string) {
	lvb.errMu.Lock()
	defer lvb.errMu.Unlock()
	if lvb.err != nil {
		return
	}
	if err := sorted.CheckSizes(key, value); err != nil {
		if err == sorted.ErrKeyTooLarge {
			lvb.err = fmt.Errorf("%v: %v", err, key)
		} else {
			lvb.err = fmt.Errorf("%v: %v", err, value)
		}
		return
	}
	lvb.batch.Put([]byte(key), []byte(value))
}

func (lvb *lvbatch) Delete(key string) {
	lvb.batch.Delete([]byte(key))
}

func (is *kvis) CommitBatch(bm sorted.BatchMutation) error {
	b, ok := bm.(*lvbatch)
	if !ok {
		return errors.New("invalid batch type")
	}
	b.errMu.Lock()
	defer b.errMu.Unlock()
	if b.err != nil {
		return b.err
	}
	return is.db.Write(b.batch, is.writeOpts)
}

func (is *kvis) Close() error {
	return is.db.Close()
}

type iter struct {
	it iterator.Iterator

	skey, sval *string // for caching string values

	closed bool
}

func (it *iter) Close() error {
	it.closed = true
	err := it.it.Error()
	it.it.Release()
	return err
}

func (it *iter) Key() string {
	if it.skey != nil {
		return *it.skey
	}
	str := string(it.it.Key())
	it.skey = &str
	return str
}

func (it *iter) Value() string {
	if it.sval != nil {
		return *it.sval
	}
	str := string(it.it.Value())
	it.sval = &str
	return str
}

func (it *iter) Next() bool {
	if it.closed {
		panic("Next called after Close")
	}
	it.skey, it.sval = nil, nil
	return it.it.Next()
}

// cursor implements sorted.Cursor over a goleveldb iterator, which
// reads from an implicit snapshot taken at creation.
type cursor struct {
	it     iterator.Iterator
	valid  bool
	closed bool
}

func (c *cursor) SeekFirst(prefix string) bool {
	if prefix == "" {
		c.valid = c.it.First()
		return c.valid
	}
	c.valid = c.it.Seek([]byte(prefix)) && strings.HasPrefix(string(c.it.Key()), prefix)
	return c.valid
}

func (c *cursor) SeekLast(prefix string) bool {
	if prefix == "" {
		c.valid = c.it.Last()
		return c.valid
	}
	var ok bool
	if end := prefixEnd(prefix); end == "" {
		ok = c.it.Last()
	} else if c.it.Seek([]byte(end)) {
		ok = c.it.Prev()
	} else {
		ok = c.it.Last()
	}
	c.valid = ok && strings.HasPrefix(string(c.it.Key()), prefix)
	return c.valid
}

func (c *cursor) SeekUpperBound(key string, prefixLen int) bool {
	c.valid = c.it.Seek([]byte(key)) && strings.HasPrefix(string(c.it.Key()), key[:prefixLen])
	return c.valid
}

func (c *cursor) SeekNext() bool {
	if !c.valid {
		return false
	}
	c.valid = c.it.Next()
	return c.valid
}

func (c *cursor) SeekPrev() bool {
	if !c.valid {
		return false
	}
	c.valid = c.it.Prev()
	return c.valid
}

func (c *cursor) Key() string {
	if !c.valid {
		return ""
	}
	return string(c.it.Key())
}

func (c *cursor) Value() string {
	if !c.valid {
		return ""
	}
	return string(c.it.Value())
}

func (c *cursor) Err() error { return c.it.Error() }

func (c *cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.it.Error()
	c.it.Release()
	return err
}

func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0xFF {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
