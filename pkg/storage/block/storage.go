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

package block

import (
	"strings"

	"strusearch.org/pkg/sorted"
	"strusearch.org/pkg/storage/dbkey"
)

// Family is a cursor over all blocks of one key-prefix family, e.g.
// the posinfo blocks of a single (typeno, termno). The last key
// component is the block anchor; Load resolves "first block that may
// contain id X" with one upper-bound seek.
//
// A Family owns its cursor and is strictly per-goroutine.
type Family struct {
	cursor sorted.Cursor
	prefix string
	cur    Block
}

// NewFamily opens a family scoped to the given prefix, which is the
// table prefix plus the packed leading ids of the family, e.g.
// dbkey.IndexKey(dbkey.PosinfoBlock, typeno, termno).
func NewFamily(kv sorted.KeyValue, prefix string) *Family {
	return &Family{cursor: kv.NewCursor(), prefix: prefix}
}

// NewFamilyCursor is NewFamily on an existing cursor, for callers
// that re-scope one cursor over several families.
func NewFamilyCursor(cursor sorted.Cursor, prefix string) *Family {
	return &Family{cursor: cursor, prefix: prefix}
}

// Close releases the underlying cursor.
func (f *Family) Close() error { return f.cursor.Close() }

// Err returns the first error the underlying cursor ran into.
func (f *Family) Err() error { return f.cursor.Err() }

func (f *Family) capture(ok bool) (*Block, error) {
	if !ok {
		return nil, f.cursor.Err()
	}
	key := f.cursor.Key()
	tail := key[len(f.prefix):]
	anchor, rest, err := dbkey.ParseUint(tail)
	if err != nil || rest != "" {
		return nil, corruptf("bad anchor in key %q of family %q", key, f.prefix)
	}
	f.cur.Init(uint32(anchor), []byte(f.cursor.Value()))
	return &f.cur, nil
}

// Load returns the first block with anchor >= id, or nil if the
// family has none.
func (f *Family) Load(id uint32) (*Block, error) {
	key := dbkey.AppendUint([]byte(f.prefix), uint64(id))
	return f.capture(f.cursor.SeekUpperBound(string(key), len(f.prefix)))
}

// LoadFirst returns the first block of the family, or nil.
func (f *Family) LoadFirst() (*Block, error) {
	return f.capture(f.cursor.SeekFirst(f.prefix))
}

// LoadLast returns the last block of the family, or nil.
func (f *Family) LoadLast() (*Block, error) {
	return f.capture(f.cursor.SeekLast(f.prefix))
}

// LoadNext returns the block after the current one, or nil at the
// family end.
func (f *Family) LoadNext() (*Block, error) {
	if !f.cursor.SeekNext() {
		return nil, f.cursor.Err()
	}
	if !strings.HasPrefix(f.cursor.Key(), f.prefix) {
		return nil, nil
	}
	return f.capture(true)
}

// Store writes a block of the family into the batch.
func (f *Family) Store(b sorted.BatchMutation, blk *Block) {
	key := dbkey.AppendUint([]byte(f.prefix), uint64(blk.Anchor))
	b.Set(string(key), string(blk.Data))
}

// Dispose removes the block with the given anchor in the batch.
func (f *Family) Dispose(b sorted.BatchMutation, anchor uint32) {
	key := dbkey.AppendUint([]byte(f.prefix), uint64(anchor))
	b.Delete(string(key))
}
