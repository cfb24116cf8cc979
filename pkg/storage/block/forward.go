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

import "strusearch.org/pkg/storage/dbkey"

// A forward index block stores, for one (typeno, docno), the original
// token values by position:
//
//	record = delta(pos) len value-bytes
//
// positions delta-coded, values length-prefixed, packed per dbkey.
// The block anchor is the last position it covers, so the block
// holding position p is reached by one upper-bound seek and scanned
// locally.

// ForwardItem is one decoded (position, value) pair.
type ForwardItem struct {
	Pos   uint32
	Value string
}

// ForwardReader yields the items of a forward index block in position
// order.
type ForwardReader struct {
	data []byte
	off  int
	prev uint32
}

func NewForwardReader(b *Block) ForwardReader {
	return ForwardReader{data: b.Data}
}

// Next decodes the next item. It returns false at the payload end.
func (r *ForwardReader) Next(item *ForwardItem) (bool, error) {
	if r.off >= len(r.data) {
		return false, nil
	}
	d, n, err := dbkey.Uint(r.data[r.off:])
	if err != nil {
		return false, corruptf("forward payload at offset %d: %v", r.off, err)
	}
	r.off += n
	if d == 0 {
		return false, corruptf("forward positions not ascending")
	}
	l, n, err := dbkey.Uint(r.data[r.off:])
	if err != nil {
		return false, corruptf("forward payload at offset %d: %v", r.off, err)
	}
	r.off += n
	if r.off+int(l) > len(r.data) {
		return false, corruptf("forward value overruns payload")
	}
	item.Pos = r.prev + uint32(d)
	item.Value = string(r.data[r.off : r.off+int(l)])
	r.off += int(l)
	r.prev = item.Pos
	return true, nil
}

// Skip decodes items until it reaches the first one with position >=
// target, scanning forward from the current read position.
func (r *ForwardReader) Skip(target uint32, item *ForwardItem) (bool, error) {
	for {
		ok, err := r.Next(item)
		if err != nil || !ok {
			return false, err
		}
		if item.Pos >= target {
			return true, nil
		}
	}
}

// ForwardBuilder assembles forward index blocks, splitting at the
// payload target so that each block's anchor is its last position.
type ForwardBuilder struct {
	// Max overrides the payload split target; 0 means
	// ForwardMaxPayload.
	Max int

	blocks []Block
	cur    []byte
	prev   uint32
}

func (w *ForwardBuilder) max() int {
	if w.Max > 0 {
		return w.Max
	}
	return ForwardMaxPayload
}

// Append adds one (position, value) pair. Positions must be strictly
// ascending across calls.
func (w *ForwardBuilder) Append(pos uint32, value string) error {
	if pos <= w.prev && len(w.cur) > 0 {
		return corruptf("forward append out of order: %d after %d", pos, w.prev)
	}
	if pos == 0 {
		return corruptf("forward append with position 0")
	}
	rec := dbkey.AppendUint(nil, uint64(pos-w.prev))
	rec = dbkey.AppendUint(rec, uint64(len(value)))
	rec = append(rec, value...)
	if len(w.cur) > 0 && len(w.cur)+len(rec) > w.max() {
		w.blocks = append(w.blocks, Block{Anchor: w.prev, Data: w.cur})
		w.cur = nil
		w.prev = 0
		rec = dbkey.AppendUint(nil, uint64(pos))
		rec = dbkey.AppendUint(rec, uint64(len(value)))
		rec = append(rec, value...)
	}
	w.cur = append(w.cur, rec...)
	w.prev = pos
	return nil
}

// Blocks finalizes and returns the built blocks in anchor order.
func (w *ForwardBuilder) Blocks() []Block {
	if len(w.cur) > 0 {
		w.blocks = append(w.blocks, Block{Anchor: w.prev, Data: w.cur})
		w.cur = nil
		w.prev = 0
	}
	return w.blocks
}
