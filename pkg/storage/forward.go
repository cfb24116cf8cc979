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
	"strusearch.org/pkg/sorted"
	"strusearch.org/pkg/storage/block"
	"strusearch.org/pkg/storage/dbkey"
)

// ForwardIterator walks the stored token values of one term type by
// (docno, position). It is strictly per-goroutine.
type ForwardIterator struct {
	kv     sorted.KeyValue
	typeno uint32

	cursor sorted.Cursor
	family *block.Family
	docno  uint32

	blk      block.Block
	inBlk    bool
	firstPos uint32
	reader   block.ForwardReader
	item     block.ForwardItem
	curPos   uint32

	err error
}

func newForwardIterator(kv sorted.KeyValue, typeno uint32) *ForwardIterator {
	return &ForwardIterator{kv: kv, typeno: typeno}
}

// SkipDoc selects the document to read token values from. It does
// not verify the document has any; the first SkipPos does.
func (f *ForwardIterator) SkipDoc(docno uint32) {
	if f.docno == docno && f.family != nil {
		return
	}
	if f.cursor == nil {
		f.cursor = f.kv.NewCursor()
	}
	prefix := dbkey.IndexKey(dbkey.ForwardIndex, uint64(f.typeno), uint64(docno))
	f.family = block.NewFamilyCursor(f.cursor, prefix)
	f.docno = docno
	f.inBlk = false
	f.curPos = 0
}

// SkipPos returns the smallest stored position >= pos in the current
// document, or 0.
func (f *ForwardIterator) SkipPos(pos uint32) uint32 {
	if f.family == nil || f.docno == 0 {
		return 0
	}
	if f.inBlk && f.curPos == pos {
		return f.curPos
	}
	if !f.inBlk || pos > f.blk.Anchor || pos < f.firstPos {
		blk, err := f.family.Load(pos)
		if err != nil {
			if f.err == nil {
				f.err = err
			}
			return 0
		}
		if blk == nil {
			f.inBlk = false
			f.curPos = 0
			return 0
		}
		f.blk = block.Block{Anchor: blk.Anchor, Data: blk.Data}
		f.inBlk = true
		f.reader = block.NewForwardReader(&f.blk)
		f.curPos = 0
		f.firstPos = 0
		if ok, err := f.peekFirst(); err != nil || !ok {
			return 0
		}
		if f.curPos >= pos {
			return f.curPos
		}
	} else if f.curPos > pos || f.curPos == 0 {
		f.reader = block.NewForwardReader(&f.blk)
		f.curPos = 0
	}
	ok, err := f.reader.Skip(pos, &f.item)
	if err != nil {
		if f.err == nil {
			f.err = err
		}
		f.curPos = 0
		return 0
	}
	if !ok {
		f.curPos = 0
		return 0
	}
	f.curPos = f.item.Pos
	return f.curPos
}

func (f *ForwardIterator) peekFirst() (bool, error) {
	ok, err := f.reader.Next(&f.item)
	if err != nil {
		if f.err == nil {
			f.err = err
		}
		return false, err
	}
	if !ok {
		return false, nil
	}
	f.firstPos = f.item.Pos
	f.curPos = f.item.Pos
	return true, nil
}

// Fetch returns the token value at the current position.
func (f *ForwardIterator) Fetch() (string, error) {
	if f.curPos == 0 {
		return "", ErrForwardUnpositioned
	}
	return f.item.Value, nil
}

// Err returns the first storage error hit while advancing.
func (f *ForwardIterator) Err() error {
	if f.err != nil {
		return f.err
	}
	if f.family != nil {
		return f.family.Err()
	}
	return nil
}

// Close releases the iterator's cursor.
func (f *ForwardIterator) Close() error {
	if f.cursor != nil {
		return f.cursor.Close()
	}
	return nil
}
