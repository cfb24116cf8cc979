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

import "encoding/binary"

// A docno block is a fixed-size record array for ranking-friendly
// streaming over a term's posting list:
//
//	record = docno:u32be ff:u16be weight:binary16be
//
// at most DocnoBlockElements records per block, anchored at the last
// record's docno.

const docnoRecSize = 8

const maxDocnoFf = 0xFFFF

// DocnoElement is one decoded ranking element.
type DocnoElement struct {
	Docno  uint32
	Ff     uint16
	Weight float32
}

// NewDocnoElement caps ff at the representable maximum and narrows
// the weight to half precision.
func NewDocnoElement(docno uint32, ff uint32, weight float32) DocnoElement {
	if ff > maxDocnoFf {
		ff = maxDocnoFf
	}
	return DocnoElement{Docno: docno, Ff: uint16(ff), Weight: Float16To32(Float32To16(weight))}
}

// DecodeDocnoBlock decodes the record array, checking order.
func DecodeDocnoBlock(b *Block) ([]DocnoElement, error) {
	if len(b.Data)%docnoRecSize != 0 {
		return nil, corruptf("docno block size %d not a record multiple", len(b.Data))
	}
	n := len(b.Data) / docnoRecSize
	rt := make([]DocnoElement, n)
	for i := 0; i < n; i++ {
		rec := b.Data[i*docnoRecSize:]
		rt[i] = DocnoElement{
			Docno:  binary.BigEndian.Uint32(rec),
			Ff:     binary.BigEndian.Uint16(rec[4:]),
			Weight: Float16To32(binary.BigEndian.Uint16(rec[6:])),
		}
		if i > 0 && rt[i].Docno <= rt[i-1].Docno {
			return nil, corruptf("docno block records not ascending")
		}
	}
	if n > 0 && rt[n-1].Docno != b.Anchor {
		return nil, corruptf("docno block anchor %d does not match last docno %d", b.Anchor, rt[n-1].Docno)
	}
	return rt, nil
}

// EncodeDocnoBlocks packs ordered elements into blocks of at most
// DocnoBlockElements records.
func EncodeDocnoBlocks(elems []DocnoElement) []Block {
	var blocks []Block
	for len(elems) > 0 {
		n := len(elems)
		if n > DocnoBlockElements {
			n = DocnoBlockElements
		}
		data := make([]byte, n*docnoRecSize)
		for i, e := range elems[:n] {
			rec := data[i*docnoRecSize:]
			binary.BigEndian.PutUint32(rec, e.Docno)
			binary.BigEndian.PutUint16(rec[4:], e.Ff)
			binary.BigEndian.PutUint16(rec[6:], Float32To16(e.Weight))
		}
		blocks = append(blocks, Block{Anchor: elems[n-1].Docno, Data: data})
		elems = elems[n:]
	}
	return blocks
}

// DocnoUpperBound returns the index of the first element with docno >=
// target, searching from lo on. It runs four halving steps and then
// scans linearly: records are small and blocks short, so a full
// binary search does not pay.
func DocnoUpperBound(elems []DocnoElement, target uint32, lo int) int {
	first, last := lo, len(elems)
	mid := first + (last-first)>>4
	for step := 0; step < 4 && first+4 < last; step++ {
		dn := elems[mid].Docno
		switch {
		case dn < target:
			first = mid + 1
			mid = (first + last) >> 1
		case dn > target:
			last = mid + 1
			if last > len(elems) {
				last = len(elems)
			}
			mid = (first + last) >> 1
		default:
			return mid
		}
	}
	for ; first < last; first++ {
		if elems[first].Docno >= target {
			return first
		}
	}
	return len(elems)
}

// FindDocno returns the element with exactly the given docno, or nil.
func FindDocno(elems []DocnoElement, docno uint32, lo int) *DocnoElement {
	i := DocnoUpperBound(elems, docno, lo)
	if i < len(elems) && elems[i].Docno == docno {
		return &elems[i]
	}
	return nil
}

// DocnoUpdate is a staged ranking element change; Delete removes the
// docno.
type DocnoUpdate struct {
	Elem   DocnoElement
	Delete bool
}

// MergeDocnoBlock two-way merges ordered updates with an existing
// block's elements. On a shared docno the update wins; deletes drop
// the element. It returns the merged elements and the updates beyond
// the old block's anchor.
func MergeDocnoBlock(updates []DocnoUpdate, old *Block) ([]DocnoElement, []DocnoUpdate, error) {
	oldElems, err := DecodeDocnoBlock(old)
	if err != nil {
		return nil, nil, err
	}
	var rt []DocnoElement
	oi := 0
	for oi < len(oldElems) {
		for len(updates) > 0 && updates[0].Elem.Docno < oldElems[oi].Docno {
			if !updates[0].Delete {
				rt = append(rt, updates[0].Elem)
			}
			updates = updates[1:]
		}
		if len(updates) > 0 && updates[0].Elem.Docno == oldElems[oi].Docno {
			if !updates[0].Delete {
				rt = append(rt, updates[0].Elem)
			}
			updates = updates[1:]
			oi++
		} else {
			rt = append(rt, oldElems[oi])
			oi++
		}
	}
	for len(updates) > 0 && updates[0].Elem.Docno <= old.Anchor {
		if !updates[0].Delete {
			rt = append(rt, updates[0].Elem)
		}
		updates = updates[1:]
	}
	return rt, updates, nil
}

// IsThisBlockAddress reports whether docno, if present, lies inside
// this block.
func IsThisBlockAddress(b *Block, firstID, docno uint32) bool {
	return docno <= b.Anchor && docno > firstID
}

// IsFollowBlockAddress reports whether docno, if present, lies in the
// block reachable with a single cursor step, making a re-seek
// unnecessary.
func IsFollowBlockAddress(b *Block, docno, capacity uint32) bool {
	return docno > b.Anchor && docno < b.Anchor+capacity
}
