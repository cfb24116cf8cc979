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

package sorted

import (
	"errors"
	"strings"
	"sync"

	"go4.org/jsonconfig"

	"github.com/syndtr/goleveldb/leveldb/comparer"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/memdb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

func init() {
	RegisterKeyValue("memory", func(cfg jsonconfig.Obj) (KeyValue, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return NewMemoryKeyValue(), nil
	})
}

// NewMemoryKeyValue returns a KeyValue implementation that's backed only
// by memory. It's mostly useful for tests and development.
func NewMemoryKeyValue() KeyValue {
	return &memKeys{db: memdb.New(comparer.DefaultComparer, 128)}
}

// memKeys is a naive in-memory implementation of KeyValue for test &
// development purposes only.
type memKeys struct {
	mu sync.Mutex // guards db
	db *memdb.DB
}

func (mk *memKeys) Get(key string) (string, error) {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	v, err := mk.db.Get([]byte(key))
	if err == memdb.ErrNotFound {
		return "", ErrNotFound
	}
	return string(v), err
}

func (mk *memKeys) Set(key, value string) error {
	if err := CheckSizes(key, value); err != nil {
		return err
	}
	mk.mu.Lock()
	defer mk.mu.Unlock()
	return mk.db.Put([]byte(key), []byte(value))
}

func (mk *memKeys) Delete(key string) error {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	err := mk.db.Delete([]byte(key))
	if err == memdb.ErrNotFound {
		return nil
	}
	return err
}

func (mk *memKeys) BeginBatch() BatchMutation {
	return NewBatchMutation()
}

func (mk *memKeys) CommitBatch(bm BatchMutation) error {
	b, ok := bm.(*batch)
	if !ok {
		return errors.New("invalid batch type")
	}
	mk.mu.Lock()
	defer mk.mu.Unlock()
	for _, m := range b.Mutations() {
		if m.IsDelete() {
			if err := mk.db.Delete([]byte(m.Key())); err != nil && err != memdb.ErrNotFound {
				return err
			}
		} else {
			if err := CheckSizes(m.Key(), m.Value()); err != nil {
				return err
			}
			if err := mk.db.Put([]byte(m.Key()), []byte(m.Value())); err != nil {
				return err
			}
		}
	}
	return nil
}

func (mk *memKeys) Find(start, end string) Iterator {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	var r *util.Range
	if start != "" || end != "" {
		r = &util.Range{}
		if start != "" {
			r.Start = []byte(start)
		}
		if end != "" {
			r.Limit = []byte(end)
		}
	}
	return &memIter{lit: mk.db.NewIterator(r)}
}

func (mk *memKeys) NewCursor() Cursor {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	return &levelCursor{it: mk.db.NewIterator(nil)}
}

func (mk *memKeys) Close() error { return nil }

// memIter converts from goleveldb's iterator interface, which operates
// on []byte, to sorted.Iterator, which operates on string.
type memIter struct {
	lit  iterator.Iterator
	k, v *string // if nil, not stringified yet
}

func (t *memIter) Next() bool {
	t.k, t.v = nil, nil
	return t.lit.Next()
}

func (t *memIter) Key() string {
	if t.k == nil {
		s := string(t.lit.Key())
		t.k = &s
	}
	return *t.k
}

func (t *memIter) Value() string {
	if t.v == nil {
		s := string(t.lit.Value())
		t.v = &s
	}
	return *t.v
}

func (t *memIter) Close() error {
	if t.lit == nil {
		return nil
	}
	err := t.lit.Error()
	t.lit.Release()
	t.lit = nil
	return err
}

// levelCursor adapts the goleveldb memdb iterator of the memory
// backend to the sorted.Cursor contract.
type levelCursor struct {
	it     iterator.Iterator
	valid  bool
	closed bool
}

func newLevelCursor(it iterator.Iterator) Cursor {
	return &levelCursor{it: it}
}

func (c *levelCursor) SeekFirst(prefix string) bool {
	if prefix == "" {
		c.valid = c.it.First()
		return c.valid
	}
	c.valid = c.it.Seek([]byte(prefix)) && strings.HasPrefix(string(c.it.Key()), prefix)
	return c.valid
}

func (c *levelCursor) SeekLast(prefix string) bool {
	if prefix == "" {
		c.valid = c.it.Last()
		return c.valid
	}
	end := prefixEnd(prefix)
	var ok bool
	if end == "" {
		ok = c.it.Last()
	} else if c.it.Seek([]byte(end)) {
		ok = c.it.Prev()
	} else {
		ok = c.it.Last()
	}
	c.valid = ok && strings.HasPrefix(string(c.it.Key()), prefix)
	return c.valid
}

func (c *levelCursor) SeekUpperBound(key string, prefixLen int) bool {
	c.valid = c.it.Seek([]byte(key)) && strings.HasPrefix(string(c.it.Key()), key[:prefixLen])
	return c.valid
}

func (c *levelCursor) SeekNext() bool {
	if !c.valid {
		return false
	}
	c.valid = c.it.Next()
	return c.valid
}

func (c *levelCursor) SeekPrev() bool {
	if !c.valid {
		return false
	}
	c.valid = c.it.Prev()
	return c.valid
}

func (c *levelCursor) Key() string {
	if !c.valid {
		return ""
	}
	return string(c.it.Key())
}

func (c *levelCursor) Value() string {
	if !c.valid {
		return ""
	}
	return string(c.it.Value())
}

func (c *levelCursor) Err() error { return c.it.Error() }

func (c *levelCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.it.Error()
	c.it.Release()
	return err
}
