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

package iterator

import (
	"reflect"
	"sort"
	"testing"
)

// memPosting is an in-memory posting list for join operator tests.
type memPosting struct {
	id    string
	docs  []uint32
	pos   map[uint32][]uint32
	docno uint32
}

func newMemPosting(id string, pos map[uint32][]uint32) *memPosting {
	docs := make([]uint32, 0, len(pos))
	for d := range pos {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i] < docs[j] })
	return &memPosting{id: id, docs: docs, pos: pos}
}

func (m *memPosting) SkipDoc(docno uint32) uint32 {
	for _, d := range m.docs {
		if d >= docno {
			m.docno = d
			return d
		}
	}
	m.docno = 0
	return 0
}

func (m *memPosting) SkipPos(pos uint32) uint32 {
	for _, p := range m.pos[m.docno] {
		if p >= pos {
			return p
		}
	}
	return 0
}

func (m *memPosting) DocFrequency() uint64 { return uint64(len(m.docs)) }
func (m *memPosting) FeatureID() string    { return m.id }
func (m *memPosting) Clone() PostingIterator {
	cp := *m
	return &cp
}
func (m *memPosting) Err() error { return nil }

func collectDocs(it PostingIterator) []uint32 {
	var rt []uint32
	for dn := it.SkipDoc(0); dn != 0; dn = it.SkipDoc(dn + 1) {
		rt = append(rt, dn)
	}
	return rt
}

func TestUnionDocs(t *testing.T) {
	a := newMemPosting("a", map[uint32][]uint32{1: {1}, 3: {1}, 5: {1}})
	b := newMemPosting("b", map[uint32][]uint32{2: {2}, 3: {3}, 9: {2}})
	u := NewUnion(a, b)
	want := []uint32{1, 2, 3, 5, 9}
	if got := collectDocs(u); !reflect.DeepEqual(got, want) {
		t.Errorf("union docs = %v; want %v", got, want)
	}
	// Idempotence.
	if d1, d2 := u.SkipDoc(3), u.SkipDoc(3); d1 != d2 {
		t.Errorf("SkipDoc(3) not idempotent: %d then %d", d1, d2)
	}
}

func TestUnionPositions(t *testing.T) {
	a := newMemPosting("a", map[uint32][]uint32{1: {2, 8}})
	b := newMemPosting("b", map[uint32][]uint32{1: {5}, 2: {1}})
	u := NewUnion(a, b)
	if dn := u.SkipDoc(0); dn != 1 {
		t.Fatalf("SkipDoc(0) = %d; want 1", dn)
	}
	var got []uint32
	for p := u.SkipPos(0); p != 0; p = u.SkipPos(p + 1) {
		got = append(got, p)
	}
	if want := []uint32{2, 5, 8}; !reflect.DeepEqual(got, want) {
		t.Errorf("union positions = %v; want %v", got, want)
	}
	// Doc 2 matches only through b; a's positions must not leak in.
	if dn := u.SkipDoc(2); dn != 2 {
		t.Fatalf("SkipDoc(2) = %d; want 2", dn)
	}
	if p := u.SkipPos(0); p != 1 {
		t.Errorf("SkipPos(0) in doc 2 = %d; want 1", p)
	}
	if p := u.SkipPos(2); p != 0 {
		t.Errorf("SkipPos(2) in doc 2 = %d; want 0", p)
	}
}

func TestIntersect(t *testing.T) {
	a := newMemPosting("a", map[uint32][]uint32{1: {1}, 2: {1}, 3: {1}})
	b := newMemPosting("b", map[uint32][]uint32{2: {2}, 3: {2}, 4: {2}})
	s := NewIntersect(a, b)
	if dn := s.SkipDoc(0); dn != 2 {
		t.Errorf("SkipDoc(0) = %d; want 2", dn)
	}
	if dn := s.SkipDoc(3); dn != 3 {
		t.Errorf("SkipDoc(3) = %d; want 3", dn)
	}
	if dn := s.SkipDoc(4); dn != 0 {
		t.Errorf("SkipDoc(4) = %d; want 0", dn)
	}
}

func TestDifference(t *testing.T) {
	pos := newMemPosting("p", map[uint32][]uint32{1: {1, 5}, 2: {3}, 4: {2}})
	neg := newMemPosting("n", map[uint32][]uint32{1: {5}, 3: {1}})
	d := NewDifference(pos, neg)
	if dn := d.SkipDoc(0); dn != 1 {
		t.Fatalf("SkipDoc(0) = %d; want 1", dn)
	}
	if p := d.SkipPos(0); p != 1 {
		t.Errorf("SkipPos(0) = %d; want 1", p)
	}
	// Position 5 is shared with the negative stream and is filtered.
	if p := d.SkipPos(2); p != 0 {
		t.Errorf("SkipPos(2) = %d; want 0", p)
	}
	if dn := d.SkipDoc(2); dn != 2 {
		t.Fatalf("SkipDoc(2) = %d; want 2", dn)
	}
	if p := d.SkipPos(0); p != 3 {
		t.Errorf("SkipPos(0) in doc 2 = %d; want 3", p)
	}
}

func TestSequenceWithRange(t *testing.T) {
	// Document 1: "red"@3, "fast"@4, "car"@5.
	red := newMemPosting("red", map[uint32][]uint32{1: {3}})
	fast := newMemPosting("fast", map[uint32][]uint32{1: {4}})
	car := newMemPosting("car", map[uint32][]uint32{1: {5}})

	s := NewSequence([]PostingIterator{red, fast, car}, 2, nil)
	if dn := s.SkipDoc(0); dn != 1 {
		t.Fatalf("SkipDoc(0) = %d; want 1", dn)
	}
	if p := s.SkipPos(0); p != 3 {
		t.Errorf("SkipPos(0) = %d; want start position 3", p)
	}

	sNeg := NewSequence([]PostingIterator{red.Clone(), fast.Clone(), car.Clone()}, -2, nil)
	if dn := sNeg.SkipDoc(0); dn != 1 {
		t.Fatalf("SkipDoc(0) = %d; want 1", dn)
	}
	if p := sNeg.SkipPos(0); p != 5 {
		t.Errorf("SkipPos(0) = %d; want end position 5", p)
	}

	// Too narrow a range matches nothing.
	sNarrow := NewSequence([]PostingIterator{red.Clone(), fast.Clone(), car.Clone()}, 1, nil)
	if dn := sNarrow.SkipDoc(0); dn != 1 {
		t.Fatalf("SkipDoc(0) = %d; want 1", dn)
	}
	if p := sNarrow.SkipPos(0); p != 0 {
		t.Errorf("SkipPos(0) with range 1 = %d; want 0", p)
	}
}

func TestSequenceWithCut(t *testing.T) {
	a := newMemPosting("a", map[uint32][]uint32{1: {3, 10}})
	b := newMemPosting("b", map[uint32][]uint32{1: {4, 11}})
	comma := newMemPosting(",", map[uint32][]uint32{1: {4}})

	s := NewSequence([]PostingIterator{a, b}, 1, comma)
	if dn := s.SkipDoc(0); dn != 1 {
		t.Fatalf("SkipDoc(0) = %d; want 1", dn)
	}
	// The window 3..4 contains the cutter at 4; the next window
	// 10..11 does not.
	if p := s.SkipPos(0); p != 10 {
		t.Errorf("SkipPos(0) = %d; want 10", p)
	}
}

func TestPred(t *testing.T) {
	a := newMemPosting("a", map[uint32][]uint32{1: {4, 9}})
	p := NewPred(a)
	if dn := p.SkipDoc(0); dn != 1 {
		t.Fatalf("SkipDoc(0) = %d; want 1", dn)
	}
	if got := p.SkipPos(0); got != 3 {
		t.Errorf("SkipPos(0) = %d; want 3", got)
	}
	if got := p.SkipPos(4); got != 8 {
		t.Errorf("SkipPos(4) = %d; want 8", got)
	}
	if got := p.SkipPos(9); got != 0 {
		t.Errorf("SkipPos(9) = %d; want 0", got)
	}
}

func TestFeatureIDStable(t *testing.T) {
	mk := func() PostingIterator {
		a := newMemPosting("a", map[uint32][]uint32{1: {1}})
		b := newMemPosting("b", map[uint32][]uint32{2: {1}})
		return NewSequence([]PostingIterator{NewUnion(a, b)}, 3, nil)
	}
	if mk().FeatureID() != mk().FeatureID() {
		t.Error("identical trees produce different feature ids")
	}
}
