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

	"strusearch.org/pkg/sorted"
	"strusearch.org/pkg/storage/block"
	"strusearch.org/pkg/storage/dbkey"
	"strusearch.org/pkg/storage/iterator"
)

// postingIterator is the leaf posting iterator over the posinfo
// blocks of one (typeno, termno).
type postingIterator struct {
	kv     sorted.KeyValue
	typeno uint32
	termno uint32
	dfVal  uint64
	id     string

	family *block.Family
	blk    block.Block // copy of the current block
	inBlk  bool
	reader block.PosinfoReader
	rec    block.PosinfoRecord
	posOn  bool // rec is valid

	err error
}

func newPostingIterator(kv sorted.KeyValue, typeno, termno uint32, df uint64) *postingIterator {
	return &postingIterator{
		kv:     kv,
		typeno: typeno,
		termno: termno,
		dfVal:  df,
		id:     fmt.Sprintf("p%d:%d", typeno, termno),
	}
}

func (it *postingIterator) prefix() string {
	return dbkey.IndexKey(dbkey.PosinfoBlock, uint64(it.typeno), uint64(it.termno))
}

func (it *postingIterator) fail(err error) uint32 {
	if err != nil && it.err == nil {
		it.err = err
	}
	it.posOn = false
	return 0
}

// SkipDoc implements the leaf skip: serve from the current record,
// else scan forward inside the current block, else re-seek the block
// family with an upper-bound load.
func (it *postingIterator) SkipDoc(docno uint32) uint32 {
	if it.posOn && it.rec.Docno >= docno {
		return it.rec.Docno
	}
	if it.inBlk && docno <= it.blk.Anchor {
		ok, err := it.reader.Skip(docno, &it.rec)
		if err != nil {
			return it.fail(err)
		}
		if ok {
			it.posOn = true
			return it.rec.Docno
		}
		// The anchor invariant guarantees a hit above; falling
		// through re-seeks defensively on a corrupt block.
	}
	if it.family == nil {
		it.family = block.NewFamily(it.kv, it.prefix())
	}
	blk, err := it.family.Load(docno)
	if err != nil {
		return it.fail(err)
	}
	if blk == nil {
		it.inBlk = false
		it.posOn = false
		return 0
	}
	it.blk = block.Block{Anchor: blk.Anchor, Data: blk.Data}
	it.inBlk = true
	it.reader = block.NewPosinfoReader(&it.blk)
	ok, err := it.reader.Skip(docno, &it.rec)
	if err != nil || !ok {
		return it.fail(err)
	}
	it.posOn = true
	return it.rec.Docno
}

// SkipPos walks the position list of the current record.
func (it *postingIterator) SkipPos(pos uint32) uint32 {
	if !it.posOn {
		return 0
	}
	for _, p := range it.rec.Positions {
		if p >= pos {
			return p
		}
	}
	return 0
}

func (it *postingIterator) DocFrequency() uint64 { return it.dfVal }

func (it *postingIterator) FeatureID() string { return it.id }

// Clone returns an independently positioned iterator over the same
// family, with its own cursor.
func (it *postingIterator) Clone() iterator.PostingIterator {
	cp := newPostingIterator(it.kv, it.typeno, it.termno, it.dfVal)
	if it.posOn {
		cp.SkipDoc(it.rec.Docno)
	}
	return cp
}

func (it *postingIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	if it.family != nil {
		return it.family.Err()
	}
	return nil
}

// Close releases the family cursor.
func (it *postingIterator) Close() error {
	if it.family != nil {
		return it.family.Close()
	}
	return nil
}

// rangeIterator is the docno-only posting iterator over range-coded
// blocks (doclist and ACL families). It has no positional dimension;
// SkipPos always reports no match.
type rangeIterator struct {
	kv     sorted.KeyValue
	prefix string
	id     string
	dfVal  uint64

	family *block.Family
	ranges []block.IDRange
	anchor uint32
	inBlk  bool
	docno  uint32

	err error
}

func newRangeIterator(kv sorted.KeyValue, prefix, id string, df uint64) *rangeIterator {
	return &rangeIterator{kv: kv, prefix: prefix, id: id, dfVal: df}
}

func (it *rangeIterator) SkipDoc(docno uint32) uint32 {
	if it.docno != 0 && it.docno >= docno {
		return it.docno
	}
	if !it.inBlk || docno > it.anchor {
		if it.family == nil {
			it.family = block.NewFamily(it.kv, it.prefix)
		}
		blk, err := it.family.Load(docno)
		if err != nil {
			if it.err == nil {
				it.err = err
			}
			return 0
		}
		if blk == nil {
			it.inBlk = false
			it.docno = 0
			return 0
		}
		ranges, err := block.DecodeRanges(blk)
		if err != nil {
			if it.err == nil {
				it.err = err
			}
			return 0
		}
		it.ranges = ranges
		it.anchor = blk.Anchor
		it.inBlk = true
	}
	it.docno = block.RangesSkip(it.ranges, docno)
	return it.docno
}

func (it *rangeIterator) SkipPos(uint32) uint32 { return 0 }

func (it *rangeIterator) DocFrequency() uint64 { return it.dfVal }

func (it *rangeIterator) FeatureID() string { return it.id }

func (it *rangeIterator) Clone() iterator.PostingIterator {
	cp := newRangeIterator(it.kv, it.prefix, it.id, it.dfVal)
	if it.docno != 0 {
		cp.SkipDoc(it.docno)
	}
	return cp
}

func (it *rangeIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	if it.family != nil {
		return it.family.Err()
	}
	return nil
}

// Close releases the family cursor.
func (it *rangeIterator) Close() error {
	if it.family != nil {
		return it.family.Close()
	}
	return nil
}
