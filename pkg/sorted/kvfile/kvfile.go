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

// Package kvfile provides an implementation of sorted.KeyValue on top
// of a single mutable database file on disk using modernc.org/kv.
package kvfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"strusearch.org/pkg/sorted"

	"go4.org/jsonconfig"
	"modernc.org/kv"
)

var _ sorted.Wiper = (*kvis)(nil)

func init() {
	sorted.RegisterKeyValue("kv", newKeyValueFromJSONConfig)
}

// NewStorage is a convenience that calls newKeyValueFromJSONConfig
// with file as the kv storage file.
func NewStorage(file string) (sorted.KeyValue, error) {
	return newKeyValueFromJSONConfig(jsonconfig.Obj{"file": file})
}

// openOrCreate opens the named kv DB file for reading/writing,
// creating it if it does not exist yet.
func openOrCreate(dbFile string, opts *kv.Options) (*kv.DB, error) {
	createOpen := kv.Open
	verb := "opening"
	if _, err := os.Stat(dbFile); os.IsNotExist(err) {
		createOpen = kv.Create
		verb = "creating"
	}
	db, err := createOpen(dbFile, opts)
	if err != nil {
		return nil, fmt.Errorf("error %s %s: %v", verb, dbFile, err)
	}
	return db, nil
}

func newKeyValueFromJSONConfig(cfg jsonconfig.Obj) (sorted.KeyValue, error) {
	file := cfg.RequiredString("file")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &kv.Options{}
	db, err := openOrCreate(file, opts)
	if err != nil {
		return nil, err
	}
	return &kvis{db: db, opts: opts, path: file}, nil
}

type kvis struct {
	path string
	db   *kv.DB
	opts *kv.Options
	txmu sync.Mutex
}

func (is *kvis) Get(key string) (string, error) {
	val, err := is.db.Get(nil, []byte(key))
	if err != nil {
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
	return is.db.Set([]byte(key), []byte(value))
}

func (is *kvis) Delete(key string) error {
	return is.db.Delete([]byte(key))
}

func (is *kvis) Find(start, end string) sorted.Iterator {
	it := &iter{
		db:     is.db,
		endKey: []byte(end),
	}
	it.enum, _, it.err = is.db.Seek([]byte(start))
	return it
}

func (is *kvis) NewCursor() sorted.Cursor {
	return &cursor{db: is.db}
}

func (is *kvis) BeginBatch() sorted.BatchMutation {
	return sorted.NewBatchMutation()
}

type batch interface {
	Mutations() []sorted.Mutation
}

func (is *kvis) CommitBatch(bm sorted.BatchMutation) error {
	b, ok := bm.(batch)
	if !ok {
		return errors.New("invalid batch type")
	}
	is.txmu.Lock()
	defer is.txmu.Unlock()

	good := false
	defer func() {
		if !good {
			is.db.Rollback()
		}
	}()

	if err := is.db.BeginTransaction(); err != nil {
		return err
	}
	for _, m := range b.Mutations() {
		if m.IsDelete() {
			if err := is.db.Delete([]byte(m.Key())); err != nil {
				return err
			}
		} else {
			if err := sorted.CheckSizes(m.Key(), m.Value()); err != nil {
				return err
			}
			if err := is.db.Set([]byte(m.Key()), []byte(m.Value())); err != nil {
				return err
			}
		}
	}

	good = true
	return is.db.Commit()
}

func (is *kvis) Wipe() error {
	if err := is.db.Close(); err != nil {
		return err
	}
	if err := os.Remove(is.path); err != nil {
		return err
	}
	db, err := kv.Create(is.path, is.opts)
	if err != nil {
		return fmt.Errorf("error creating %s: %v", is.path, err)
	}
	is.db = db
	return nil
}

func (is *kvis) Close() error {
	log.Printf("Closing kvfile database %s", is.path)
	return is.db.Close()
}

type iter struct {
	db     *kv.DB
	endKey []byte

	enum *kv.Enumerator

	valid    bool
	key, val []byte

	err    error
	closed bool
}

func (it *iter) Close() error {
	it.closed = true
	return it.err
}

func (it *iter) Key() string {
	if !it.valid {
		panic("not valid")
	}
	return string(it.key)
}

func (it *iter) Value() string {
	if !it.valid {
		panic("not valid")
	}
	return string(it.val)
}

func (it *iter) end() bool {
	it.valid = false
	it.closed = true
	return false
}

func (it *iter) Next() bool {
	if it.err != nil {
		return false
	}
	if it.closed {
		panic("Next called after Next returned false")
	}
	var err error
	it.key, it.val, err = it.enum.Next()
	if err == io.EOF {
		it.err = nil
		return it.end()
	}
	if err != nil {
		it.err = err
		return it.end()
	}
	if len(it.endKey) > 0 && bytes.Compare(it.key, it.endKey) >= 0 {
		return it.end()
	}
	it.valid = true
	return true
}

// cursor implements sorted.Cursor by re-seeking the underlying kv file
// per operation. Each seek is logarithmic in the tree size.
type cursor struct {
	db *kv.DB

	cur   []byte
	val   []byte
	valid bool
	err   error
}

// seekGE positions the cursor on the first pair with key >= k.
func (c *cursor) seekGE(k []byte) bool {
	enum, _, err := c.db.Seek(k)
	if err != nil {
		c.err = err
		c.valid = false
		return false
	}
	key, val, err := enum.Next()
	if err == io.EOF {
		c.valid = false
		return false
	}
	if err != nil {
		c.err = err
		c.valid = false
		return false
	}
	c.cur, c.val, c.valid = key, val, true
	return true
}

// seekLT positions the cursor on the largest pair with key < k. An
// empty k means the last pair of the database.
func (c *cursor) seekLT(k []byte) bool {
	if len(k) == 0 {
		enum, err := c.db.SeekLast()
		if err == io.EOF {
			c.valid = false
			return false
		}
		if err != nil {
			c.err = err
			c.valid = false
			return false
		}
		key, val, err := enum.Next()
		if err != nil {
			c.err = err
			c.valid = false
			return false
		}
		c.cur, c.val, c.valid = key, val, true
		return true
	}
	enum, _, err := c.db.Seek(k)
	if err != nil {
		c.err = err
		c.valid = false
		return false
	}
	// The enumerator's current item is the first pair >= k, possibly
	// none. The first Prev consumes it, the second yields the
	// predecessor; with no pair >= k the first Prev already yields
	// the last pair of the database.
	key, val, perr := enum.Prev()
	if perr == io.EOF {
		c.valid = false
		return false
	}
	if perr != nil {
		c.err = perr
		c.valid = false
		return false
	}
	if bytes.Compare(key, k) >= 0 {
		key, val, perr = enum.Prev()
		if perr != nil {
			if perr != io.EOF {
				c.err = perr
			}
			c.valid = false
			return false
		}
	}
	c.cur, c.val, c.valid = key, val, true
	return true
}

func (c *cursor) SeekFirst(prefix string) bool {
	if !c.seekGE([]byte(prefix)) {
		return false
	}
	if !strings.HasPrefix(string(c.cur), prefix) {
		c.valid = false
	}
	return c.valid
}

func (c *cursor) SeekLast(prefix string) bool {
	if !c.seekLT([]byte(prefixEnd(prefix))) {
		return false
	}
	if !strings.HasPrefix(string(c.cur), prefix) {
		c.valid = false
	}
	return c.valid
}

func (c *cursor) SeekUpperBound(key string, prefixLen int) bool {
	if !c.seekGE([]byte(key)) {
		return false
	}
	if !strings.HasPrefix(string(c.cur), key[:prefixLen]) {
		c.valid = false
	}
	return c.valid
}

func (c *cursor) SeekNext() bool {
	if !c.valid {
		return false
	}
	return c.seekGE(append(append([]byte(nil), c.cur...), 0))
}

func (c *cursor) SeekPrev() bool {
	if !c.valid {
		return false
	}
	return c.seekLT(c.cur)
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

func (c *cursor) Close() error { return c.err }

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
