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
	"testing"

	"strusearch.org/pkg/sorted"
	"strusearch.org/pkg/storage/block"
	"strusearch.org/pkg/storage/dbkey"
	"strusearch.org/pkg/storage/iterator"
)

func newTestStorage(t *testing.T, options string) (*Storage, sorted.KeyValue) {
	t.Helper()
	kv := sorted.NewMemoryKeyValue()
	if err := Create(kv, options); err != nil {
		t.Fatal(err)
	}
	s, err := Open(kv, "")
	if err != nil {
		t.Fatal(err)
	}
	return s, kv
}

func terms(typ string, pairs ...interface{}) []DocumentTerm {
	var rt []DocumentTerm
	for i := 0; i < len(pairs); i += 2 {
		rt = append(rt, DocumentTerm{
			Type:  typ,
			Value: pairs[i].(string),
			Pos:   uint32(pairs[i+1].(int)),
		})
	}
	return rt
}

// Scenario: posinfo write and read back through the posting iterator.
func TestInsertAndIterate(t *testing.T) {
	s, _ := newTestStorage(t, "")
	tx := s.CreateTransaction()
	err := tx.InsertDocument("doc-1", Document{
		SearchTerms: append(
			terms("w", "cat", 2, "cat", 5, "cat", 9),
			terms("w", "dog", 2, "dog", 4)...),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	it, err := s.PostingIterator("w", "cat")
	if err != nil {
		t.Fatal(err)
	}
	if dn := it.SkipDoc(0); dn != 1 {
		t.Fatalf("SkipDoc(0) = %d; want 1", dn)
	}
	for _, tc := range []struct{ probe, want uint32 }{
		{0, 2}, {3, 5}, {6, 9}, {10, 0},
	} {
		if p := it.SkipPos(tc.probe); p != tc.want {
			t.Errorf("SkipPos(%d) = %d; want %d", tc.probe, p, tc.want)
		}
	}
	if dn := it.SkipDoc(2); dn != 0 {
		t.Errorf("SkipDoc(2) = %d; want 0", dn)
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}

	if df, err := s.DocumentFrequency("w", "cat"); err != nil || df != 1 {
		t.Errorf("df(w, cat) = %d, %v; want 1", df, err)
	}
	if n := s.NofDocuments(); n != 1 {
		t.Errorf("NofDocuments = %d; want 1", n)
	}
}

// Scenario: intersection over two real posting families.
func TestIntersection(t *testing.T) {
	s, _ := newTestStorage(t, "")
	tx := s.CreateTransaction()
	docTerms := map[string][]string{
		"d1": {"a"},
		"d2": {"a", "b"},
		"d3": {"a", "b"},
		"d4": {"b"},
	}
	for _, docid := range []string{"d1", "d2", "d3", "d4"} {
		var st []DocumentTerm
		for i, v := range docTerms[docid] {
			st = append(st, DocumentTerm{Type: "w", Value: v, Pos: uint32(i + 1)})
		}
		if err := tx.InsertDocument(docid, Document{SearchTerms: st}); err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	a, err := s.PostingIterator("w", "a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.PostingIterator("w", "b")
	if err != nil {
		t.Fatal(err)
	}
	sect := iterator.NewIntersect(a, b)
	if dn := sect.SkipDoc(0); dn != 2 {
		t.Errorf("SkipDoc(0) = %d; want 2", dn)
	}
	if dn := sect.SkipDoc(3); dn != 3 {
		t.Errorf("SkipDoc(3) = %d; want 3", dn)
	}
	if dn := sect.SkipDoc(4); dn != 0 {
		t.Errorf("SkipDoc(4) = %d; want 0", dn)
	}
}

func TestDocListIterator(t *testing.T) {
	s, _ := newTestStorage(t, "")
	tx := s.CreateTransaction()
	for i := 1; i <= 5; i++ {
		err := tx.InsertDocument(fmt.Sprintf("d%d", i), Document{
			SearchTerms: terms("w", "x", 1),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	it, err := s.DocListIterator("w", "x")
	if err != nil {
		t.Fatal(err)
	}
	var got []uint32
	for dn := it.SkipDoc(0); dn != 0; dn = it.SkipDoc(dn + 1) {
		got = append(got, dn)
	}
	if len(got) != 5 || got[0] != 1 || got[4] != 5 {
		t.Errorf("doclist docs = %v; want 1..5", got)
	}
	if df := it.DocFrequency(); df != 5 {
		t.Errorf("df = %d; want 5", df)
	}
}

func TestForwardIterator(t *testing.T) {
	s, _ := newTestStorage(t, "")
	tx := s.CreateTransaction()
	err := tx.InsertDocument("doc-1", Document{
		SearchTerms:  terms("word", "the", 1, "cat", 2),
		ForwardTerms: terms("orig", "The", 1, "cat", 2, "sat", 3),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	f, err := s.ForwardIterator("orig")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	docno, err := s.DocumentNumber("doc-1")
	if err != nil || docno == 0 {
		t.Fatalf("DocumentNumber = %d, %v", docno, err)
	}
	f.SkipDoc(docno)
	if _, err := f.Fetch(); err != ErrForwardUnpositioned {
		t.Errorf("Fetch before SkipPos = %v; want ErrForwardUnpositioned", err)
	}
	if p := f.SkipPos(0); p != 1 {
		t.Fatalf("SkipPos(0) = %d; want 1", p)
	}
	if v, err := f.Fetch(); err != nil || v != "The" {
		t.Errorf("Fetch = %q, %v; want The", v, err)
	}
	if p := f.SkipPos(2); p != 2 {
		t.Fatalf("SkipPos(2) = %d; want 2", p)
	}
	if v, _ := f.Fetch(); v != "cat" {
		t.Errorf("Fetch = %q; want cat", v)
	}
	if p := f.SkipPos(4); p != 0 {
		t.Errorf("SkipPos(4) = %d; want 0", p)
	}
}

func TestDeleteDocument(t *testing.T) {
	s, _ := newTestStorage(t, "")
	tx := s.CreateTransaction()
	if err := tx.InsertDocument("doc-1", Document{SearchTerms: terms("w", "cat", 1)}); err != nil {
		t.Fatal(err)
	}
	if err := tx.InsertDocument("doc-2", Document{SearchTerms: terms("w", "cat", 1)}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	docno, err := s.DocumentNumber("doc-1")
	if err != nil || docno == 0 {
		t.Fatal("doc-1 not found")
	}

	tx2 := s.CreateTransaction()
	if err := tx2.DeleteDocument(docno); err != nil {
		t.Fatal(err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatal(err)
	}

	it, err := s.PostingIterator("w", "cat")
	if err != nil {
		t.Fatal(err)
	}
	var got []uint32
	for dn := it.SkipDoc(0); dn != 0; dn = it.SkipDoc(dn + 1) {
		got = append(got, dn)
	}
	if len(got) != 1 || got[0] == docno {
		t.Errorf("postings after delete = %v", got)
	}
	if df, _ := s.DocumentFrequency("w", "cat"); df != 1 {
		t.Errorf("df after delete = %d; want 1", df)
	}
	if n := s.NofDocuments(); n != 1 {
		t.Errorf("NofDocuments after delete = %d; want 1", n)
	}
}

func TestReplaceDocument(t *testing.T) {
	s, _ := newTestStorage(t, "")
	tx := s.CreateTransaction()
	if err := tx.InsertDocument("doc-1", Document{SearchTerms: terms("w", "old", 1)}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	tx2 := s.CreateTransaction()
	if err := tx2.InsertDocument("doc-1", Document{SearchTerms: terms("w", "new", 1)}); err != nil {
		t.Fatal(err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatal(err)
	}
	if df, _ := s.DocumentFrequency("w", "old"); df != 0 {
		t.Errorf("df(old) = %d; want 0", df)
	}
	if df, _ := s.DocumentFrequency("w", "new"); df != 1 {
		t.Errorf("df(new) = %d; want 1", df)
	}
	if n := s.NofDocuments(); n != 1 {
		t.Errorf("NofDocuments = %d; want 1", n)
	}
	d1, _ := s.DocumentNumber("doc-1")
	it, _ := s.PostingIterator("w", "old")
	if dn := it.SkipDoc(0); dn != 0 {
		t.Errorf("old term still matches doc %d", dn)
	}
	it2, _ := s.PostingIterator("w", "new")
	if dn := it2.SkipDoc(0); dn != d1 {
		t.Errorf("new term matches %d; want %d", dn, d1)
	}
}

// Scenario: metadata alter-table rewrite with rename, add and clear.
func TestAlterMetaDataTable(t *testing.T) {
	s, kv := newTestStorage(t, "metadata=date UInt32")
	tx := s.CreateTransaction()
	err := tx.InsertDocument("doc-1", Document{
		MetaData: map[string]block.Numeric{"date": block.UInt(20200101)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if v, err := s.MetaDataValue(1, "date"); err != nil || v.AsUInt() != 20200101 {
		t.Fatalf("date = %s, %v; want 20200101", v, err)
	}

	at := s.CreateAlterMetaDataTransaction()
	if err := at.RenameColumn("date", "dt"); err != nil {
		t.Fatal(err)
	}
	if err := at.AddColumn("score", "Float32"); err != nil {
		t.Fatal(err)
	}
	if err := at.ClearColumn("dt"); err != nil {
		t.Fatal(err)
	}
	if err := at.Commit(); err != nil {
		t.Fatal(err)
	}

	if v, err := s.MetaDataValue(1, "dt"); err != nil || v.AsUInt() != 0 {
		t.Errorf("dt after clear = %s, %v; want 0", v, err)
	}
	if v, err := s.MetaDataValue(1, "score"); err != nil || v.AsFloat() != 0 {
		t.Errorf("score = %s, %v; want 0", v, err)
	}
	if _, err := s.MetaDataValue(1, "date"); err == nil {
		t.Error("old column name still resolves")
	}
	// The schema blob was swapped in the same batch.
	descStr, err := kv.Get(dbkey.IndexKey(dbkey.MetaDataDescr))
	if err != nil {
		t.Fatal(err)
	}
	if descStr != "dt UInt32, score Float32" {
		t.Errorf("schema = %q", descStr)
	}
}

// Renamed columns keep their values when not on the reset list.
func TestAlterKeepsValues(t *testing.T) {
	s, _ := newTestStorage(t, "metadata=date UInt32, flag UInt8")
	tx := s.CreateTransaction()
	err := tx.InsertDocument("doc-1", Document{
		MetaData: map[string]block.Numeric{
			"date": block.UInt(42),
			"flag": block.UInt(1),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	at := s.CreateAlterMetaDataTransaction()
	if err := at.RenameColumn("date", "dt"); err != nil {
		t.Fatal(err)
	}
	if err := at.AlterColumnType("flag", "Int32"); err != nil {
		t.Fatal(err)
	}
	if err := at.Commit(); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.MetaDataValue(1, "dt"); v.AsUInt() != 42 {
		t.Errorf("dt = %s; want 42", v)
	}
	if v, _ := s.MetaDataValue(1, "flag"); v.AsInt() != 1 {
		t.Errorf("flag = %s; want 1", v)
	}
}

func TestMetaDataCacheAgainstStore(t *testing.T) {
	s, kv := newTestStorage(t, "metadata=rank UInt16")
	tx := s.CreateTransaction()
	for i := 1; i <= 600; i++ {
		err := tx.InsertDocument(fmt.Sprintf("doc-%04d", i), Document{
			MetaData: map[string]block.Numeric{"rank": block.UInt(uint64(i % 1000))},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	desc := s.MetaDataDescription()
	h := desc.Handle("rank")
	for _, docno := range []uint32{1, 255, 256, 257, 511, 512, 513, 600} {
		cached, err := s.MetaDataCache().Get(docno)
		if err != nil {
			t.Fatal(err)
		}
		blockno := block.MetaBlockNo(docno)
		raw, err := kv.Get(dbkey.IndexKey(dbkey.DocMetaData, uint64(blockno)))
		if err != nil {
			t.Fatalf("block %d missing in store: %v", blockno, err)
		}
		rec, _, err := block.MetaBlockRecord(desc, []byte(raw), block.MetaBlockIndex(docno))
		if err != nil {
			t.Fatal(err)
		}
		if cached.Get(desc.Get(h)).AsUInt() != rec.Get(desc.Get(h)).AsUInt() {
			t.Errorf("docno %d: cache and store disagree", docno)
		}
	}
}

func TestRollbackPublishesNothing(t *testing.T) {
	s, _ := newTestStorage(t, "")
	tx := s.CreateTransaction()
	if err := tx.InsertDocument("doc-1", Document{SearchTerms: terms("w", "cat", 1)}); err != nil {
		t.Fatal(err)
	}
	tx.Rollback()
	if err := tx.Commit(); err != ErrTransactionAborted {
		t.Errorf("Commit after Rollback = %v; want ErrTransactionAborted", err)
	}
	if n := s.NofDocuments(); n != 0 {
		t.Errorf("NofDocuments = %d; want 0", n)
	}
	it, _ := s.PostingIterator("w", "cat")
	if dn := it.SkipDoc(0); dn != 0 {
		t.Errorf("rolled back posting visible: doc %d", dn)
	}
}

func TestAclRoundTrip(t *testing.T) {
	s, _ := newTestStorage(t, "acl=yes")
	tx := s.CreateTransaction()
	err := tx.InsertDocument("doc-1", Document{
		SearchTerms: terms("w", "cat", 1),
		Users:       []string{"alice", "bob"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.InsertDocument("doc-2", Document{
		SearchTerms: terms("w", "cat", 1),
		Users:       []string{"alice"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	alice, err := s.UserAclIterator("alice")
	if err != nil {
		t.Fatal(err)
	}
	var docs []uint32
	for dn := alice.SkipDoc(0); dn != 0; dn = alice.SkipDoc(dn + 1) {
		docs = append(docs, dn)
	}
	if len(docs) != 2 {
		t.Fatalf("alice reads %v; want two docs", docs)
	}
	bob, err := s.UserAclIterator("bob")
	if err != nil {
		t.Fatal(err)
	}
	if dn := bob.SkipDoc(0); dn != 1 {
		t.Errorf("bob's first doc = %d; want 1", dn)
	}
	if dn := bob.SkipDoc(2); dn != 0 {
		t.Errorf("bob reads doc %d; want none past 1", dn)
	}

	// Revoke bob on doc 1.
	tx2 := s.CreateTransaction()
	if err := tx2.UpdateDocument(1, DocumentPatch{UsersRemove: []string{"bob"}}); err != nil {
		t.Fatal(err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatal(err)
	}
	bob2, _ := s.UserAclIterator("bob")
	if dn := bob2.SkipDoc(0); dn != 0 {
		t.Errorf("bob still reads doc %d after revoke", dn)
	}
}

func TestAclRefusedWithoutOption(t *testing.T) {
	s, _ := newTestStorage(t, "")
	tx := s.CreateTransaction()
	err := tx.InsertDocument("doc-1", Document{Users: []string{"alice"}})
	if err == nil {
		t.Fatal("ACL staging accepted on a storage without ACLs")
	}
}

func TestAttributes(t *testing.T) {
	s, _ := newTestStorage(t, "")
	tx := s.CreateTransaction()
	err := tx.InsertDocument("doc-1", Document{
		Attributes: map[string]string{"title": "A red car"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if v, err := s.Attribute(1, "title"); err != nil || v != "A red car" {
		t.Errorf("title = %q, %v", v, err)
	}
	tx2 := s.CreateTransaction()
	err = tx2.UpdateDocument(1, DocumentPatch{
		Attributes:       map[string]string{"lang": "en"},
		DeleteAttributes: []string{"title"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Attribute(1, "title"); v != "" {
		t.Errorf("title after delete = %q; want empty", v)
	}
	if v, _ := s.Attribute(1, "lang"); v != "en" {
		t.Errorf("lang = %q; want en", v)
	}
}

func TestOpenRefusals(t *testing.T) {
	kv := sorted.NewMemoryKeyValue()
	if _, err := Open(kv, ""); err == nil {
		t.Error("opening an empty store succeeded")
	}
	if err := Create(kv, ""); err != nil {
		t.Fatal(err)
	}
	if err := Create(kv, ""); err == nil {
		t.Error("double create succeeded")
	}
	// A future major version refuses open.
	b := kv.BeginBatch()
	setVariable(b, varVersion, (versionMajor+1)*1000)
	if err := kv.CommitBatch(b); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(kv, ""); err == nil {
		t.Error("major version mismatch not refused")
	}
}

func TestDumpDecodesEverything(t *testing.T) {
	s, kv := newTestStorage(t, "metadata=date UInt32; acl=yes")
	tx := s.CreateTransaction()
	err := tx.InsertDocument("doc-1", Document{
		SearchTerms:  terms("w", "cat", 1, "dog", 2),
		ForwardTerms: terms("orig", "Cat", 1, "dog", 2),
		MetaData:     map[string]block.Numeric{"date": block.UInt(20200101)},
		Attributes:   map[string]string{"title": "t"},
		Users:        []string{"alice"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	desc := s.MetaDataDescription()
	it := kv.Find("", "")
	n := 0
	for it.Next() {
		if _, err := DecodeEntry(desc, it.Key(), it.Value()); err != nil {
			t.Errorf("key % x: %v", it.Key(), err)
		}
		n++
	}
	if err := it.Close(); err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		t.Fatal("no entries found")
	}
}
