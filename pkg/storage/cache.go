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

package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"strusearch.org/pkg/sorted"
	"strusearch.org/pkg/storage/block"
	"strusearch.org/pkg/storage/dbkey"
)

// metaCacheSlots bounds the document range the cache covers:
// metaCacheSlots * block.MetaBlockSize docnos.
const metaCacheSlots = 1 << 18

// cachedMetaBlock is an immutable snapshot of one metadata block.
// Readers holding a reference keep using it even after the slot is
// republished.
type cachedMetaBlock struct {
	data []byte
}

// MetaDataCache serves metadata records from shared immutable block
// snapshots. Readers take no lock: they load the slot reference
// atomically and read through it. Writers invalidate slots after a
// commit; the next reader reloads from the store and publishes with a
// compare-and-swap, so concurrent reloaders race harmlessly and
// losers adopt the winner's snapshot.
type MetaDataCache struct {
	kv   sorted.KeyValue
	desc *block.MetaDescription

	ar []atomic.Pointer[cachedMetaBlock]

	dirtyMu sync.Mutex
	dirty   []uint32
}

// NewMetaDataCache returns an empty cache over the store for the
// given description. The description is immutable; an alter-table
// commit swaps the whole cache (see Storage.resetMetaDataCache).
func NewMetaDataCache(kv sorted.KeyValue, desc *block.MetaDescription) *MetaDataCache {
	return &MetaDataCache{
		kv:   kv,
		desc: desc,
		ar:   make([]atomic.Pointer[cachedMetaBlock], metaCacheSlots),
	}
}

// Description returns the metadata table description the cache
// decodes records with.
func (c *MetaDataCache) Description() *block.MetaDescription { return c.desc }

// Get returns the metadata record of docno. Unwritten documents read
// as zero records.
func (c *MetaDataCache) Get(docno uint32) (block.MetaRecord, error) {
	if docno == 0 || block.MetaBlockNo(docno) > metaCacheSlots {
		return block.MetaRecord{}, fmt.Errorf("document number %d out of metadata cache range", docno)
	}
	blockno := block.MetaBlockNo(docno)
	slot := &c.ar[blockno-1]

	blk := slot.Load()
	for blk == nil {
		loaded, err := c.load(blockno)
		if err != nil {
			return block.MetaRecord{}, err
		}
		if slot.CompareAndSwap(nil, loaded) {
			blk = loaded
		} else {
			// A concurrent reader published first; use its snapshot.
			blk = slot.Load()
		}
	}
	rec, _, err := block.MetaBlockRecord(c.desc, blk.data, block.MetaBlockIndex(docno))
	return rec, err
}

func (c *MetaDataCache) load(blockno uint32) (*cachedMetaBlock, error) {
	v, err := c.kv.Get(dbkey.IndexKey(dbkey.DocMetaData, uint64(blockno)))
	if err == sorted.ErrNotFound {
		return &cachedMetaBlock{data: block.NewMetaBlockData(c.desc)}, nil
	}
	if err != nil {
		return nil, err
	}
	return &cachedMetaBlock{data: []byte(v)}, nil
}

// DeclareVoid queues a block number for invalidation at the next
// Refresh.
func (c *MetaDataCache) DeclareVoid(blockno uint32) {
	c.dirtyMu.Lock()
	c.dirty = append(c.dirty, blockno)
	c.dirtyMu.Unlock()
}

// Refresh nulls the slots of all queued block numbers. Readers
// observing a nulled slot reload from the store; the committing
// writer calls Refresh after its batch is durable and before
// releasing the writer mutex.
func (c *MetaDataCache) Refresh() {
	c.dirtyMu.Lock()
	dirty := c.dirty
	c.dirty = nil
	c.dirtyMu.Unlock()
	for _, blockno := range dirty {
		if blockno >= 1 && blockno <= metaCacheSlots {
			c.ar[blockno-1].Store(nil)
		}
	}
}
