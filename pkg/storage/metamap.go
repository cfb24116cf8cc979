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
	"sort"

	"strusearch.org/pkg/sorted"
	"strusearch.org/pkg/storage/block"
	"strusearch.org/pkg/storage/dbkey"
)

// metaDataMap stages metadata writes of one transaction, applied
// block-wise at commit.
type metaDataMap struct {
	// writes maps docno -> column handle -> staged value.
	writes map[uint32]map[int]block.Numeric
	// clears marks docnos whose whole record is zeroed before the
	// staged values apply (document replace and delete).
	clears map[uint32]bool
}

func newMetaDataMap() *metaDataMap {
	return &metaDataMap{
		writes: make(map[uint32]map[int]block.Numeric),
		clears: make(map[uint32]bool),
	}
}

func (m *metaDataMap) set(docno uint32, handle int, value block.Numeric) {
	w := m.writes[docno]
	if w == nil {
		w = make(map[int]block.Numeric)
		m.writes[docno] = w
	}
	w[handle] = value
}

func (m *metaDataMap) clearRecord(docno uint32) {
	m.clears[docno] = true
	delete(m.writes, docno)
}

func (m *metaDataMap) empty() bool {
	return len(m.writes) == 0 && len(m.clears) == 0
}

// commit reads every touched metadata block, applies the staged
// records in block-no order and writes the blocks into the batch. It
// returns the touched block numbers for the cache refresh list.
func (m *metaDataMap) commit(kv sorted.KeyValue, desc *block.MetaDescription, b sorted.BatchMutation) ([]uint32, error) {
	byBlock := map[uint32][]uint32{}
	add := func(docno uint32) {
		blockno := block.MetaBlockNo(docno)
		byBlock[blockno] = append(byBlock[blockno], docno)
	}
	for docno := range m.writes {
		add(docno)
	}
	for docno := range m.clears {
		if _, dup := m.writes[docno]; !dup {
			add(docno)
		}
	}
	blocknos := make([]uint32, 0, len(byBlock))
	for blockno := range byBlock {
		blocknos = append(blocknos, blockno)
	}
	sort.Slice(blocknos, func(i, j int) bool { return blocknos[i] < blocknos[j] })

	for _, blockno := range blocknos {
		key := dbkey.IndexKey(dbkey.DocMetaData, uint64(blockno))
		var data []byte
		v, err := kv.Get(key)
		if err == sorted.ErrNotFound {
			data = block.NewMetaBlockData(desc)
		} else if err != nil {
			return nil, err
		} else {
			data = []byte(v)
		}
		docnos := byBlock[blockno]
		sort.Slice(docnos, func(i, j int) bool { return docnos[i] < docnos[j] })
		for _, docno := range docnos {
			var rec block.MetaRecord
			rec, data, err = block.MetaBlockRecord(desc, data, block.MetaBlockIndex(docno))
			if err != nil {
				return nil, err
			}
			if m.clears[docno] {
				rec.Clear()
			}
			for handle, value := range m.writes[docno] {
				if err := rec.Set(desc.Get(handle), value); err != nil {
					return nil, err
				}
			}
		}
		b.Set(key, string(data))
	}
	return blocknos, nil
}
