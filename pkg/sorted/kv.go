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

// Package sorted provides the ordered KeyValue interface the storage
// runs on, and a constructor registry for its implementations.
//
// Keys and values are Go strings used as byte strings; ordering is
// byte-lexicographic. Implementations guarantee atomic commit of a
// batch mutation and snapshot-consistent cursor reads.
package sorted

import (
	"errors"
	"fmt"

	"go4.org/jsonconfig"
)

var ErrNotFound = errors.New("sorted: key not found")

const (
	// MaxKeySize is the maximum key size any driver must accept.
	MaxKeySize = 767
	// MaxValueSize is the maximum value size any driver must accept.
	// Block payloads stay far below this.
	MaxValueSize = 1 << 20
)

var (
	ErrKeyTooLarge   = fmt.Errorf("sorted: key size is over %v", MaxKeySize)
	ErrValueTooLarge = fmt.Errorf("sorted: value size is over %v", MaxValueSize)
)

// CheckSizes returns ErrKeyTooLarge or ErrValueTooLarge if k or v
// exceed the limits any driver is required to support.
func CheckSizes(k, v string) error {
	if len(k) > MaxKeySize {
		return ErrKeyTooLarge
	}
	if len(v) > MaxValueSize {
		return ErrValueTooLarge
	}
	return nil
}

// KeyValue is a sorted, enumerable key-value store supporting batch
// mutations and seek cursors.
type KeyValue interface {
	// Get gets the value for the given key. It returns ErrNotFound if
	// the store does not contain the key.
	Get(key string) (string, error)

	Set(key, value string) error
	Delete(key string) error

	BeginBatch() BatchMutation
	CommitBatch(b BatchMutation) error

	// Find returns an iterator positioned before the first key/value
	// pair whose key is greater than or equal to start. If end is
	// non-empty, the iterator stops before the first key >= end.
	//
	// Any error encountered is implicitly returned via the iterator;
	// closing an error-iterator returns that error.
	Find(start, end string) Iterator

	// NewCursor returns a bidirectional seek cursor over a consistent
	// snapshot of the store. A cursor must be used by one goroutine
	// only and closed after use.
	NewCursor() Cursor

	// Close shuts the store down. Implementations never lose data
	// acknowledged by Set, Delete or CommitBatch.
	Close() error
}

// Iterator iterates over a KeyValue's pairs in key order.
//
// An iterator must be closed after use, but it is not necessary to
// read it until exhaustion. An iterator is not goroutine-safe, but
// distinct iterators may be used concurrently.
type Iterator interface {
	// Next moves the iterator to the next key/value pair.
	// It returns false when the iterator is exhausted.
	Next() bool

	// Key returns the key of the current pair.
	// Only valid after a call to Next returns true.
	Key() string

	// Value returns the value of the current pair.
	// Only valid after a call to Next returns true.
	Value() string

	// Close closes the iterator and returns any accumulated error.
	Close() error
}

// Cursor is a bidirectional positioned view over a snapshot of the
// store. All Seek methods report whether the cursor is positioned on a
// valid pair afterwards; Key and Value are valid only then.
//
// Cursors are strictly per-goroutine.
type Cursor interface {
	// SeekFirst positions the cursor on the smallest key starting
	// with prefix.
	SeekFirst(prefix string) bool

	// SeekLast positions the cursor on the largest key starting with
	// prefix.
	SeekLast(prefix string) bool

	// SeekUpperBound positions the cursor on the smallest key >= key
	// that shares key[:prefixLen]. It implements the anchored block
	// lookup of the storage layer.
	SeekUpperBound(key string, prefixLen int) bool

	SeekNext() bool
	SeekPrev() bool

	Key() string
	Value() string

	// Err returns the first error the cursor ran into, if any. A seek
	// landing outside the requested range is not an error.
	Err() error

	Close() error
}

// Wiper is an optional interface implemented by stores that can delete
// all their rows.
type Wiper interface {
	Wipe() error
}

// Compacter is an optional interface implemented by stores that can
// compact their on-disk representation on request.
type Compacter interface {
	Compact() error
}

// SubtreeDeleter is an optional interface for stores with a native
// range-delete. On stores lacking it, the package function
// DeleteSubtree emulates it with a Find scan and a batch of deletes.
type SubtreeDeleter interface {
	// DeleteSubtree deletes all keys starting with prefix.
	DeleteSubtree(prefix string) error
}

// DeleteSubtree removes every key starting with prefix, using the
// store's native range-delete when available.
func DeleteSubtree(kv KeyValue, prefix string) error {
	if sd, ok := kv.(SubtreeDeleter); ok {
		return sd.DeleteSubtree(prefix)
	}
	b := kv.BeginBatch()
	it := kv.Find(prefix, prefixEnd(prefix))
	for it.Next() {
		b.Delete(it.Key())
	}
	if err := it.Close(); err != nil {
		return err
	}
	return kv.CommitBatch(b)
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

type BatchMutation interface {
	Set(key, value string)
	Delete(key string)
}

type Mutation interface {
	Key() string
	Value() string
	IsDelete() bool
}

type mutation struct {
	key    string
	value  string // used if !delete
	delete bool   // if to be deleted
}

func (m mutation) Key() string    { return m.key }
func (m mutation) Value() string  { return m.value }
func (m mutation) IsDelete() bool { return m.delete }

func NewBatchMutation() BatchMutation {
	return &batch{}
}

type batch struct {
	m []Mutation
}

func (b *batch) Mutations() []Mutation { return b.m }

func (b *batch) Delete(key string) {
	b.m = append(b.m, mutation{key: key, delete: true})
}

func (b *batch) Set(key, value string) {
	b.m = append(b.m, mutation{key: key, value: value})
}

var ctors = make(map[string]func(jsonconfig.Obj) (KeyValue, error))

func RegisterKeyValue(typ string, fn func(jsonconfig.Obj) (KeyValue, error)) {
	if typ == "" || fn == nil {
		panic("zero type or func")
	}
	if _, dup := ctors[typ]; dup {
		panic("duplicate registration of type " + typ)
	}
	ctors[typ] = fn
}

// NewKeyValue returns a KeyValue as described by the provided config,
// whose "type" selects one of the registered drivers.
func NewKeyValue(cfg jsonconfig.Obj) (KeyValue, error) {
	typ := cfg.RequiredString("type")
	ctor, ok := ctors[typ]
	if !ok {
		return nil, fmt.Errorf("sorted: unknown key/value type %q", typ)
	}
	s, err := ctor(cfg)
	if err != nil {
		return nil, err
	}
	return s, cfg.Validate()
}
