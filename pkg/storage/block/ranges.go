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
	"sort"

	"strusearch.org/pkg/storage/dbkey"
)

// A range block (doclist and ACL blocks) encodes an ordered set of ids
// as non-overlapping runs [First, Last]:
//
//	run = delta(first) span        with delta >= 1 from the previous
//	                               run's Last, span = Last - First
//
// values packed per dbkey. The block anchor is the Last of the final
// run.

// IDRange is one run of consecutive ids.
type IDRange struct {
	First, Last uint32
}

// DecodeRanges decodes a range block payload, checking order.
func DecodeRanges(b *Block) ([]IDRange, error) {
	var rt []IDRange
	var prevLast uint32
	off := 0
	for off < len(b.Data) {
		d, n, err := dbkey.Uint(b.Data[off:])
		if err != nil {
			return nil, corruptf("range payload at offset %d: %v", off, err)
		}
		off += n
		span, n, err := dbkey.Uint(b.Data[off:])
		if err != nil {
			return nil, corruptf("range payload at offset %d: %v", off, err)
		}
		off += n
		if d == 0 {
			return nil, corruptf("range runs not ascending")
		}
		first := prevLast + uint32(d)
		last := first + uint32(span)
		if last < first {
			return nil, corruptf("range span overflow")
		}
		rt = append(rt, IDRange{First: first, Last: last})
		prevLast = last
	}
	if len(rt) > 0 && rt[len(rt)-1].Last != b.Anchor {
		return nil, corruptf("range anchor %d does not match last id %d", b.Anchor, rt[len(rt)-1].Last)
	}
	return rt, nil
}

// EncodeRanges packs ordered non-overlapping runs into blocks,
// splitting at the payload target.
func EncodeRanges(ranges []IDRange) []Block {
	var blocks []Block
	var cur []byte
	var prevLast uint32
	for _, r := range ranges {
		rec := dbkey.AppendUint(nil, uint64(r.First-prevLast))
		rec = dbkey.AppendUint(rec, uint64(r.Last-r.First))
		if len(cur) > 0 && len(cur)+len(rec) > RangeMaxPayload {
			blocks = append(blocks, Block{Anchor: prevLast, Data: cur})
			cur = nil
			rec = dbkey.AppendUint(nil, uint64(r.First))
			rec = dbkey.AppendUint(rec, uint64(r.Last-r.First))
		}
		cur = append(cur, rec...)
		prevLast = r.Last
	}
	if len(cur) > 0 {
		blocks = append(blocks, Block{Anchor: prevLast, Data: cur})
	}
	return blocks
}

// RangesContain reports whether id is covered by the ordered runs.
func RangesContain(ranges []IDRange, id uint32) bool {
	i := sort.Search(len(ranges), func(i int) bool { return ranges[i].Last >= id })
	return i < len(ranges) && ranges[i].First <= id
}

// RangesSkip returns the smallest covered id >= id, or 0 if none.
func RangesSkip(ranges []IDRange, id uint32) uint32 {
	i := sort.Search(len(ranges), func(i int) bool { return ranges[i].Last >= id })
	if i >= len(ranges) {
		return 0
	}
	if ranges[i].First > id {
		return ranges[i].First
	}
	return id
}

// MergeRanges applies ordered add and remove id sets to ordered runs
// and returns normalized runs (sorted, non-overlapping, adjacent runs
// coalesced).
func MergeRanges(ranges []IDRange, add, remove []uint32) []IDRange {
	drop := make(map[uint32]bool, len(remove))
	for _, id := range remove {
		drop[id] = true
	}
	var ids []uint32
	for _, r := range ranges {
		for id := r.First; ; id++ {
			if !drop[id] {
				ids = append(ids, id)
			}
			if id == r.Last {
				break
			}
		}
	}
	for _, id := range add {
		if !drop[id] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var rt []IDRange
	for _, id := range ids {
		if n := len(rt); n > 0 && id <= rt[n-1].Last+1 {
			if id > rt[n-1].Last {
				rt[n-1].Last = id
			}
			continue
		}
		rt = append(rt, IDRange{First: id, Last: id})
	}
	return rt
}
