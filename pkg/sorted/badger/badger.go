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

// Package badger provides an implementation of sorted.KeyValue on top
// of a github.com/dgraph-io/badger/v4 database directory.
package badger

import (
	"bytes"
	"errors"

	"strusearch.org/pkg/sorted"

	badgerdb "github.com/dgraph-io/badger/v4"
	"go4.org/jsonconfig"
)

var (
	_ sorted.Wiper     = (*kvis)(nil)
	_ sorted.Compacter = (*kvis)(nil)
)

func init() {
	sorted.RegisterKeyValue("badger", newKeyValueFromJSONConfig)
}

// NewStorage is a convenience that calls newKeyValueFromJSONConfig
// with dir as the badger database directory.
func NewStorage(dir string) (sorted.KeyValue, error) {
	return newKeyValueFromJSONConfig(jsonconfig.Obj{"dir": dir})
}

func newKeyValueFromJSONConfig(cfg jsonconfig.Obj) (sorted.KeyValue, error) {
	dir := cfg.RequiredString("dir")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, err
	}
	return &kvis{db: db, dir: dir}, nil
}

type kvis struct {
	db  *badgerdb.DB
	dir string
}

func (is *kvis) Get(key string) (string, error) {
	var val string
	err := is.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		val = string(v)
		return nil
	})
	if err == badgerdb.ErrKeyNotFound {
		return "", sorted.ErrNotFound
	}
	return val, err
}

func (is *kvis) Set(key, value string) error {
	if err := sorted.CheckSizes(key, value); err != nil {
		return err
	}
	return is.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
}

func (is *kvis) Delete(key string) error {
	return is.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (is *kvis) BeginBatch() sorted.BatchMutation {
	return sorted.NewBatchMutation()
}

type batchMutations interface {
	Mutations() []sorted.Mutation
}

func (is *kvis) CommitBatch(bm sorted.BatchMutation) error {
	b, ok := bm.(batchMutations)
	if !ok {
		return errors.New("invalid batch type")
	}
	wb := is.db.NewWriteBatch()
	defer wb.Cancel()
	for _, m := range b.Mutations() {
		if m.IsDelete() {
			if err := wb.Delete([]byte(m.Key())); err != nil {
				return err
			}
		} else {
			if err := sorted.CheckSizes(m.Key(), m.Value()); err != nil {
				return err
			}
			if err := wb.Set([]byte(m.Key()), []byte(m.Value())); err != nil {
				return err
			}
		}
	}
	return wb.Flush()
}

func (is *kvis) Find(start, end string) sorted.Iterator {
	txn := is.db.NewTransaction(false)
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	it.Seek([]byte(start))
	return &iter{txn: txn, it: it, end: []byte(end), first: true}
}

func (is *kvis) NewCursor() sorted.Cursor {
	txn := is.db.NewTransaction(false)
	fwdOpts := badgerdb.DefaultIteratorOptions
	revOpts := badgerdb.DefaultIteratorOptions
	revOpts.Reverse = true
	return &cursor{
		txn: txn,
		fwd: txn.NewIterator(fwdOpts),
		rev: txn.NewIterator(revOpts),
	}
}

func (is *kvis) Wipe() error {
	return is.db.DropAll()
}

func (is *kvis) Compact() error {
	return is.db.Flatten(1)
}

func (is *kvis) Close() error {
	return is.db.Close()
}

type iter struct {
	txn   *badgerdb.Txn
	it    *badgerdb.Iterator
	end   []byte
	first bool

	k, v   []byte
	err    error
	closed bool
}

func (it *iter) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	if !it.first {
		it.it.Next()
	}
	it.first = false
	if !it.it.Valid() {
		return false
	}
	item := it.it.Item()
	it.k = item.KeyCopy(it.k[:0])
	if len(it.end) > 0 && bytes.Compare(it.k, it.end) >= 0 {
		return false
	}
	it.v, it.err = item.ValueCopy(it.v[:0])
	return it.err == nil
}

func (it *iter) Key() string   { return string(it.k) }
func (it *iter) Value() string { return string(it.v) }

func (it *iter) Close() error {
	if it.closed {
		return it.err
	}
	it.closed = true
	it.it.Close()
	it.txn.Discard()
	return it.err
}

// cursor implements sorted.Cursor on a read-only badger transaction,
// pairing a forward and a reverse iterator over the same snapshot.
type cursor struct {
	txn *badgerdb.Txn
	fwd *badgerdb.Iterator
	rev *badgerdb.Iterator

	cur    []byte // current key when valid
	val    []byte
	valid  bool
	err    error
	closed bool
}

func (c *cursor) capture(it *badgerdb.Iterator, prefix string) bool {
	if !it.Valid() {
		c.valid = false
		return false
	}
	item := it.Item()
	c.cur = item.KeyCopy(c.cur[:0])
	if prefix != "" && !bytes.HasPrefix(c.cur, []byte(prefix)) {
		c.valid = false
		return false
	}
	c.val, c.err = item.ValueCopy(c.val[:0])
	c.valid = c.err == nil
	return c.valid
}

func (c *cursor) SeekFirst(prefix string) bool {
	c.fwd.Seek([]byte(prefix))
	return c.capture(c.fwd, prefix)
}

func (c *cursor) SeekLast(prefix string) bool {
	if end := prefixEnd(prefix); end == "" {
		c.rev.Rewind()
	} else {
		// A reverse seek lands on the largest key <= target; the
		// target itself is outside the prefix family.
		c.rev.Seek([]byte(end))
		if c.rev.Valid() && bytes.Equal(c.rev.Item().Key(), []byte(end)) {
			c.rev.Next()
		}
	}
	return c.capture(c.rev, prefix)
}

func (c *cursor) SeekUpperBound(key string, prefixLen int) bool {
	c.fwd.Seek([]byte(key))
	return c.capture(c.fwd, key[:prefixLen])
}

func (c *cursor) SeekNext() bool {
	if !c.valid {
		return false
	}
	c.fwd.Seek(append(append([]byte(nil), c.cur...), 0))
	return c.capture(c.fwd, "")
}

func (c *cursor) SeekPrev() bool {
	if !c.valid {
		return false
	}
	c.rev.Seek(c.cur)
	if c.rev.Valid() && bytes.Equal(c.rev.Item().Key(), c.cur) {
		c.rev.Next()
	}
	return c.capture(c.rev, "")
}

func (c *cursor) Key() string {
	if !c.valid {
		return ""
	}
	return string(c.cur)
}

func (c *cursor) Value() string {
	if !c.valid {
		return ""
	}
	return string(c.val)
}

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close() error {
	if c.closed {
		return c.err
	}
	c.closed = true
	c.fwd.Close()
	c.rev.Close()
	c.txn.Discard()
	return c.err
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
