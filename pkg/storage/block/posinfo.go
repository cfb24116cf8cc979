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

// A posinfo block encodes positional postings for one (typeno, termno)
// pair. Records are ordered by docno; the docno is delta-coded against
// the previous record, positions are delta-coded within the record:
//
//	record = delta(docno) ff pos[0] delta(pos[1]) ... delta(pos[ff-1])
//
// all values packed per dbkey. The block anchor is the docno of the
// last record.

// PosinfoRecord is one decoded posting: a document and the ascending
// positions the term occurs at. Ff is len(Positions).
type PosinfoRecord struct {
	Docno     uint32
	Positions []uint32
}

// PosinfoReader yields the records of a posinfo block in docno order.
type PosinfoReader struct {
	data []byte
	off  int
	prev uint32
}

func NewPosinfoReader(b *Block) PosinfoReader {
	return PosinfoReader{data: b.Data}
}

func (r *PosinfoReader) readUint() (uint32, error) {
	v, n, err := dbkey.Uint(r.data[r.off:])
	if err != nil {
		return 0, corruptf("posinfo payload at offset %d: %v", r.off, err)
	}
	if v > 0xFFFFFFFF {
		return 0, corruptf("posinfo value overflow at offset %d", r.off)
	}
	r.off += n
	return uint32(v), nil
}

// Next decodes the next record into rec, reusing its Positions slice.
// It returns false at the end of the payload.
func (r *PosinfoReader) Next(rec *PosinfoRecord) (bool, error) {
	if r.off >= len(r.data) {
		return false, nil
	}
	delta, err := r.readUint()
	if err != nil {
		return false, err
	}
	if delta == 0 {
		return false, corruptf("posinfo docno not ascending")
	}
	docno := r.prev + delta
	ff, err := r.readUint()
	if err != nil {
		return false, err
	}
	if ff == 0 {
		return false, corruptf("posinfo record with ff=0")
	}
	rec.Docno = docno
	rec.Positions = rec.Positions[:0]
	var pos uint32
	for i := uint32(0); i < ff; i++ {
		d, err := r.readUint()
		if err != nil {
			return false, err
		}
		if i > 0 && d == 0 {
			return false, corruptf("posinfo positions not ascending in docno %d", docno)
		}
		pos += d
		rec.Positions = append(rec.Positions, pos)
	}
	r.prev = docno
	return true, nil
}

// Skip decodes records until it reaches the first one with docno >=
// target, scanning forward from the current read position.
func (r *PosinfoReader) Skip(target uint32, rec *PosinfoRecord) (bool, error) {
	for {
		ok, err := r.Next(rec)
		if err != nil || !ok {
			return false, err
		}
		if rec.Docno >= target {
			return true, nil
		}
	}
}

// PosinfoBuilder assembles posinfo blocks, splitting at the payload
// target so that each block's anchor is its last docno.
type PosinfoBuilder struct {
	// Max overrides the payload split target; 0 means
	// PosinfoMaxPayload. The resize tool rebuilds families with a
	// custom target.
	Max int

	blocks  []Block
	cur     []byte
	prev    uint32 // last docno in cur
	scratch []byte
}

func (w *PosinfoBuilder) max() int {
	if w.Max > 0 {
		return w.Max
	}
	return PosinfoMaxPayload
}

// Append adds one posting. Docnos must be strictly ascending across
// calls; positions strictly ascending and non-empty.
func (w *PosinfoBuilder) Append(docno uint32, positions []uint32) error {
	if docno == 0 {
		return corruptf("posinfo append with docno 0")
	}
	if docno <= w.prev && len(w.cur) > 0 {
		return corruptf("posinfo append out of order: %d after %d", docno, w.prev)
	}
	if len(positions) == 0 {
		return corruptf("posinfo append with no positions")
	}
	w.scratch = dbkey.AppendUint(w.scratch[:0], uint64(docno-w.prev))
	w.scratch = dbkey.AppendUint(w.scratch, uint64(len(positions)))
	prevPos := uint32(0)
	for i, p := range positions {
		if i > 0 && p <= prevPos {
			return corruptf("posinfo append positions out of order")
		}
		w.scratch = dbkey.AppendUint(w.scratch, uint64(p-prevPos))
		prevPos = p
	}
	if len(w.cur) > 0 && len(w.cur)+len(w.scratch) > w.max() {
		w.flush()
		// Re-encode with the delta base reset to zero.
		return w.Append(docno, positions)
	}
	w.cur = append(w.cur, w.scratch...)
	w.prev = docno
	return nil
}

func (w *PosinfoBuilder) flush() {
	if len(w.cur) == 0 {
		return
	}
	w.blocks = append(w.blocks, Block{Anchor: w.prev, Data: w.cur})
	w.cur = nil
	w.prev = 0
}

// Blocks finalizes and returns the built blocks in anchor order.
func (w *PosinfoBuilder) Blocks() []Block {
	w.flush()
	return w.blocks
}

// PosinfoUpdate is a staged posting change: Positions replaces the
// document's posting; an empty Positions deletes it.
type PosinfoUpdate struct {
	Docno     uint32
	Positions []uint32
}

// MergePosinfo merges staged updates with an existing block into the
// builder. Both inputs are ordered by docno; on a shared docno the
// update wins, an empty update removes the document.
func MergePosinfo(w *PosinfoBuilder, updates []PosinfoUpdate, old *Block) ([]PosinfoUpdate, error) {
	var rec PosinfoRecord
	r := NewPosinfoReader(old)
	ok, err := r.Next(&rec)
	if err != nil {
		return nil, err
	}
	for ok {
		for len(updates) > 0 && updates[0].Docno < rec.Docno {
			if len(updates[0].Positions) > 0 {
				if err := w.Append(updates[0].Docno, updates[0].Positions); err != nil {
					return nil, err
				}
			}
			updates = updates[1:]
		}
		if len(updates) > 0 && updates[0].Docno == rec.Docno {
			if len(updates[0].Positions) > 0 {
				if err := w.Append(updates[0].Docno, updates[0].Positions); err != nil {
					return nil, err
				}
			}
			updates = updates[1:]
		} else {
			if err := w.Append(rec.Docno, rec.Positions); err != nil {
				return nil, err
			}
		}
		ok, err = r.Next(&rec)
		if err != nil {
			return nil, err
		}
	}
	// Remaining updates at or below the old anchor belong to this
	// block's range; later ones are the caller's to place.
	for len(updates) > 0 && updates[0].Docno <= old.Anchor {
		if len(updates[0].Positions) > 0 {
			if err := w.Append(updates[0].Docno, updates[0].Positions); err != nil {
				return nil, err
			}
		}
		updates = updates[1:]
	}
	return updates, nil
}
