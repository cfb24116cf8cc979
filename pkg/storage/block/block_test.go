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
	"fmt"
	"math"
	"reflect"
	"testing"
)

func TestPosinfoRoundTrip(t *testing.T) {
	var w PosinfoBuilder
	input := map[uint32][]uint32{
		1:    {2, 5, 9},
		3:    {1},
		1000: {7, 8, 9, 1000000},
	}
	for _, docno := range []uint32{1, 3, 1000} {
		if err := w.Append(docno, input[docno]); err != nil {
			t.Fatal(err)
		}
	}
	blocks := w.Blocks()
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks; want 1", len(blocks))
	}
	if blocks[0].Anchor != 1000 {
		t.Errorf("anchor = %d; want 1000", blocks[0].Anchor)
	}
	r := NewPosinfoReader(&blocks[0])
	var rec PosinfoRecord
	var prev uint32
	got := map[uint32][]uint32{}
	for {
		ok, err := r.Next(&rec)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		if rec.Docno <= prev {
			t.Fatalf("docnos not ascending: %d after %d", rec.Docno, prev)
		}
		prev = rec.Docno
		got[rec.Docno] = append([]uint32(nil), rec.Positions...)
	}
	if !reflect.DeepEqual(got, input) {
		t.Errorf("decoded %v; want %v", got, input)
	}
}

func TestPosinfoSplit(t *testing.T) {
	var w PosinfoBuilder
	for docno := uint32(1); docno <= 2000; docno++ {
		if err := w.Append(docno, []uint32{docno, docno + 7}); err != nil {
			t.Fatal(err)
		}
	}
	blocks := w.Blocks()
	if len(blocks) < 2 {
		t.Fatalf("got %d blocks; want a split", len(blocks))
	}
	var prevAnchor uint32
	total := 0
	for i := range blocks {
		if blocks[i].Size() > PosinfoMaxPayload {
			t.Errorf("block %d payload %d exceeds target", i, blocks[i].Size())
		}
		if blocks[i].Anchor <= prevAnchor {
			t.Errorf("anchors not ascending at block %d", i)
		}
		r := NewPosinfoReader(&blocks[i])
		var rec PosinfoRecord
		var last uint32
		for {
			ok, err := r.Next(&rec)
			if err != nil {
				t.Fatal(err)
			}
			if !ok {
				break
			}
			last = rec.Docno
			total++
		}
		if last != blocks[i].Anchor {
			t.Errorf("block %d anchor %d != last docno %d", i, blocks[i].Anchor, last)
		}
		prevAnchor = blocks[i].Anchor
	}
	if total != 2000 {
		t.Errorf("decoded %d records; want 2000", total)
	}
}

func TestPosinfoMerge(t *testing.T) {
	var w0 PosinfoBuilder
	for _, docno := range []uint32{2, 4, 6} {
		if err := w0.Append(docno, []uint32{docno * 10}); err != nil {
			t.Fatal(err)
		}
	}
	old := w0.Blocks()[0]

	updates := []PosinfoUpdate{
		{Docno: 1, Positions: []uint32{1}},        // insert before
		{Docno: 4, Positions: []uint32{99, 100}},  // replace
		{Docno: 6, Positions: nil},                // delete
		{Docno: 7, Positions: []uint32{7}},        // beyond anchor, stays
	}
	var w PosinfoBuilder
	rest, err := MergePosinfo(&w, updates, &old)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 || rest[0].Docno != 7 {
		t.Fatalf("rest = %v; want the docno 7 update", rest)
	}
	blk := w.Blocks()[0]
	r := NewPosinfoReader(&blk)
	var rec PosinfoRecord
	want := []struct {
		docno uint32
		pos   []uint32
	}{
		{1, []uint32{1}},
		{2, []uint32{20}},
		{4, []uint32{99, 100}},
	}
	for _, wrec := range want {
		ok, err := r.Next(&rec)
		if err != nil || !ok {
			t.Fatalf("missing record %d: %v", wrec.docno, err)
		}
		if rec.Docno != wrec.docno || !reflect.DeepEqual(rec.Positions, wrec.pos) {
			t.Errorf("got (%d, %v); want (%d, %v)", rec.Docno, rec.Positions, wrec.docno, wrec.pos)
		}
	}
	if ok, _ := r.Next(&rec); ok {
		t.Errorf("unexpected extra record %d", rec.Docno)
	}
}

func TestRangesRoundTrip(t *testing.T) {
	in := []IDRange{{1, 3}, {5, 5}, {9, 20}}
	blocks := EncodeRanges(in)
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks; want 1", len(blocks))
	}
	if blocks[0].Anchor != 20 {
		t.Errorf("anchor = %d; want 20", blocks[0].Anchor)
	}
	out, err := DecodeRanges(&blocks[0])
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("decoded %v; want %v", out, in)
	}
	for _, tc := range []struct {
		id   uint32
		want bool
	}{{1, true}, {3, true}, {4, false}, {5, true}, {8, false}, {20, true}, {21, false}} {
		if got := RangesContain(out, tc.id); got != tc.want {
			t.Errorf("contains(%d) = %v; want %v", tc.id, got, tc.want)
		}
	}
	if got := RangesSkip(out, 6); got != 9 {
		t.Errorf("skip(6) = %d; want 9", got)
	}
	if got := RangesSkip(out, 21); got != 0 {
		t.Errorf("skip(21) = %d; want 0", got)
	}
}

func TestMergeRanges(t *testing.T) {
	base := []IDRange{{1, 3}, {7, 9}}
	got := MergeRanges(base, []uint32{4, 5, 6, 20}, []uint32{1, 8})
	want := []IDRange{{2, 7}, {9, 9}, {20, 20}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("merged %v; want %v", got, want)
	}
}

func TestInverseTermsRoundTrip(t *testing.T) {
	terms := []InverseTerm{
		{Typeno: 2, Termno: 5, Ff: 1, FirstPos: 3},
		{Typeno: 1, Termno: 9, Ff: 4, FirstPos: 1},
		{Typeno: 1, Termno: 2, Ff: 2, FirstPos: 7},
	}
	blk := EncodeInverseTerms(42, terms)
	if blk.Anchor != 42 {
		t.Errorf("anchor = %d; want 42", blk.Anchor)
	}
	out, err := DecodeInverseTerms(&blk)
	if err != nil {
		t.Fatal(err)
	}
	want := []InverseTerm{
		{Typeno: 1, Termno: 2, Ff: 2, FirstPos: 7},
		{Typeno: 1, Termno: 9, Ff: 4, FirstPos: 1},
		{Typeno: 2, Termno: 5, Ff: 1, FirstPos: 3},
	}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("decoded %v; want %v", out, want)
	}
}

func TestForwardRoundTrip(t *testing.T) {
	var w ForwardBuilder
	words := []string{"the", "quick", "brown", "fox"}
	for i, word := range words {
		if err := w.Append(uint32(i+1), word); err != nil {
			t.Fatal(err)
		}
	}
	blocks := w.Blocks()
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks; want 1", len(blocks))
	}
	r := NewForwardReader(&blocks[0])
	var item ForwardItem
	for i, word := range words {
		ok, err := r.Next(&item)
		if err != nil || !ok {
			t.Fatalf("missing item %d: %v", i, err)
		}
		if item.Pos != uint32(i+1) || item.Value != word {
			t.Errorf("got (%d, %q); want (%d, %q)", item.Pos, item.Value, i+1, word)
		}
	}
	r = NewForwardReader(&blocks[0])
	if ok, _ := r.Skip(3, &item); !ok || item.Pos != 3 || item.Value != "brown" {
		t.Errorf("Skip(3) = (%d, %q)", item.Pos, item.Value)
	}
}

func TestForwardSplit(t *testing.T) {
	var w ForwardBuilder
	for pos := uint32(1); pos <= 500; pos++ {
		if err := w.Append(pos, fmt.Sprintf("token%04d", pos)); err != nil {
			t.Fatal(err)
		}
	}
	blocks := w.Blocks()
	if len(blocks) < 2 {
		t.Fatalf("got %d blocks; want a split", len(blocks))
	}
	total := 0
	for i := range blocks {
		if blocks[i].Size() > ForwardMaxPayload {
			t.Errorf("block %d payload %d exceeds target", i, blocks[i].Size())
		}
		r := NewForwardReader(&blocks[i])
		var item ForwardItem
		var last uint32
		for {
			ok, err := r.Next(&item)
			if err != nil {
				t.Fatal(err)
			}
			if !ok {
				break
			}
			last = item.Pos
			total++
		}
		if last != blocks[i].Anchor {
			t.Errorf("block %d anchor %d != last pos %d", i, blocks[i].Anchor, last)
		}
	}
	if total != 500 {
		t.Errorf("decoded %d items; want 500", total)
	}
}

func TestDocnoBlock(t *testing.T) {
	var elems []DocnoElement
	for docno := uint32(2); docno <= 400; docno += 2 {
		elems = append(elems, NewDocnoElement(docno, docno%7+1, float32(docno)/100))
	}
	blocks := EncodeDocnoBlocks(elems)
	for i := range blocks {
		dec, err := DecodeDocnoBlock(&blocks[i])
		if err != nil {
			t.Fatal(err)
		}
		if len(dec) > DocnoBlockElements {
			t.Errorf("block %d has %d records", i, len(dec))
		}
	}
	dec, err := DecodeDocnoBlock(&blocks[0])
	if err != nil {
		t.Fatal(err)
	}
	if e := FindDocno(dec, 10, 0); e == nil || e.Docno != 10 {
		t.Errorf("FindDocno(10) = %v", e)
	}
	if e := FindDocno(dec, 11, 0); e != nil {
		t.Errorf("FindDocno(11) = %v; want nil", e)
	}
	if i := DocnoUpperBound(dec, 11, 0); dec[i].Docno != 12 {
		t.Errorf("upper bound of 11 = docno %d; want 12", dec[i].Docno)
	}
}

func TestFloat16(t *testing.T) {
	cases := []float32{0, 1, -1, 0.5, 2.25, 100, -1000, 65504}
	for _, f := range cases {
		got := Float16To32(Float32To16(f))
		if math.Abs(float64(got-f)) > math.Abs(float64(f))/256 {
			t.Errorf("round trip of %g = %g", f, got)
		}
	}
	if got := Float16To32(Float32To16(1e30)); got != Float16To32(0x7bff) {
		t.Errorf("overflow clamps to %g; want max half %g", got, Float16To32(0x7bff))
	}
}

func TestMetaDescriptionLayout(t *testing.T) {
	d, err := ParseMetaDescription("flag UInt8, date UInt32, score Float16")
	if err != nil {
		t.Fatal(err)
	}
	if d.ByteSize() != 8 {
		t.Errorf("bytesize = %d; want 8", d.ByteSize())
	}
	// Wider fields first: date(4) at 0, score(2) at 4, flag(1) at 6.
	if e := d.Get(d.Handle("date")); e.Offset != 0 {
		t.Errorf("date offset = %d; want 0", e.Offset)
	}
	if e := d.Get(d.Handle("score")); e.Offset != 4 {
		t.Errorf("score offset = %d; want 4", e.Offset)
	}
	if e := d.Get(d.Handle("flag")); e.Offset != 6 {
		t.Errorf("flag offset = %d; want 6", e.Offset)
	}
	if s := d.String(); s != "flag UInt8, date UInt32, score Float16" {
		t.Errorf("serialized as %q", s)
	}
	d2, err := ParseMetaDescription(d.String())
	if err != nil {
		t.Fatal(err)
	}
	if !d.Equal(d2) {
		t.Error("parse/serialize round trip not structurally equal")
	}
}

func TestMetaRecordSetGet(t *testing.T) {
	d, err := ParseMetaDescription("a Int16, b UInt32, c Float32")
	if err != nil {
		t.Fatal(err)
	}
	data := make([]byte, d.ByteSize())
	rec := NewMetaRecord(d, data)
	if err := rec.Set(d.Get(d.Handle("a")), Int(-123)); err != nil {
		t.Fatal(err)
	}
	if err := rec.Set(d.Get(d.Handle("b")), UInt(20200101)); err != nil {
		t.Fatal(err)
	}
	if err := rec.Set(d.Get(d.Handle("c")), Float(2.5)); err != nil {
		t.Fatal(err)
	}
	if v := rec.Get(d.Get(d.Handle("a"))); v.AsInt() != -123 {
		t.Errorf("a = %s", v)
	}
	if v := rec.Get(d.Get(d.Handle("b"))); v.AsUInt() != 20200101 {
		t.Errorf("b = %s", v)
	}
	if v := rec.Get(d.Get(d.Handle("c"))); v.AsFloat() != 2.5 {
		t.Errorf("c = %s", v)
	}
	if err := rec.Set(d.Get(d.Handle("a")), Int(1<<20)); err == nil {
		t.Error("out of range Int16 assignment accepted")
	}
}

func TestTranslateMetaBlock(t *testing.T) {
	src, _ := ParseMetaDescription("date UInt32, flag UInt8")
	dst, _ := ParseMetaDescription("dt UInt32, flag Int16, score Float32")

	srcData := NewMetaBlockData(src)
	for i := 0; i < MetaBlockSize; i++ {
		rec, _, err := MetaBlockRecord(src, srcData, i)
		if err != nil {
			t.Fatal(err)
		}
		if err := rec.Set(src.Get(src.Handle("date")), UInt(uint64(i+1))); err != nil {
			t.Fatal(err)
		}
		if err := rec.Set(src.Get(src.Handle("flag")), UInt(uint64(i%2))); err != nil {
			t.Fatal(err)
		}
	}

	tm := dst.TranslationMap(src, map[string]string{"dt": "date"}, nil)
	dstData := NewMetaBlockData(dst)
	if err := TranslateMetaBlock(tm, dst, dstData, src, srcData); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < MetaBlockSize; i++ {
		rec, _, err := MetaBlockRecord(dst, dstData, i)
		if err != nil {
			t.Fatal(err)
		}
		if v := rec.Get(dst.Get(dst.Handle("dt"))); v.AsUInt() != uint64(i+1) {
			t.Fatalf("record %d dt = %s", i, v)
		}
		if v := rec.Get(dst.Get(dst.Handle("flag"))); v.AsInt() != int64(i%2) {
			t.Fatalf("record %d flag = %s", i, v)
		}
		if v := rec.Get(dst.Get(dst.Handle("score"))); v.AsFloat() != 0 {
			t.Fatalf("record %d score = %s; want 0", i, v)
		}
	}
}
