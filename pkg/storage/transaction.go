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
	"sort"

	"strusearch.org/pkg/sorted"
	"strusearch.org/pkg/storage/block"
	"strusearch.org/pkg/storage/dbkey"
	"strusearch.org/pkg/storage/vartree"
)

// DocumentTerm is one tokenized term occurrence supplied by the
// caller (analysis happens outside the storage).
type DocumentTerm struct {
	Type  string
	Value string
	Pos   uint32
}

// Document is the full staged content of one document.
type Document struct {
	// SearchTerms feed the inverted index.
	SearchTerms []DocumentTerm
	// ForwardTerms feed the forward index used for summarization.
	ForwardTerms []DocumentTerm
	// MetaData values by column name.
	MetaData map[string]block.Numeric
	// Attributes by attribute name.
	Attributes map[string]string
	// Users allowed to read the document; ignored unless the storage
	// was created with ACLs.
	Users []string
}

// DocumentPatch is a partial document update: postings stay
// untouched.
type DocumentPatch struct {
	MetaData   map[string]block.Numeric
	Attributes map[string]string
	// DeleteAttributes names attributes to remove.
	DeleteAttributes []string
	UsersAdd         []string
	UsersRemove      []string
}

type typeTermKey struct{ typeno, termno uint32 }
type typeDocKey struct{ typeno, docno uint32 }
type userDocKey struct{ userno, docno uint32 }

// Transaction stages inserts, updates and deletes and publishes them
// as one atomic batch on Commit. A transaction is not goroutine-safe;
// commits serialize on a storage-wide writer mutex.
type Transaction struct {
	s        *Storage
	failed   bool
	finished bool

	// Dictionary delta maps: newly allocated ids by name.
	newTypes   vartree.Tree
	newTerms   vartree.Tree
	newDocids  vartree.Tree
	newAttribs vartree.Tree
	newUsers   vartree.Tree

	// termNames remembers the names behind allocated and touched
	// (typeno, termno) pairs for the statistics emission.
	termNames map[typeTermKey][2]string

	postings   map[typeTermKey]map[uint32][]uint32 // docno -> positions, nil deletes
	forwards   map[typeDocKey]map[uint32]string    // pos -> value
	forwardDel map[typeDocKey]bool                 // families rewritten from scratch

	metadata *metaDataMap

	attributes  map[uint32]map[uint32]*string // docno -> attribno -> value, nil deletes
	attrReplace map[uint32]bool               // docnos whose attributes are fully replaced

	aclAdd map[userDocKey]bool
	aclDel map[userDocKey]bool

	deletes  map[uint32]bool // docnos purged entirely
	invTerms map[uint32][]block.InverseTerm

	dfDelta      map[typeTermKey]int64
	nofDocsDelta int64
}

func newTransaction(s *Storage) *Transaction {
	return &Transaction{
		s:           s,
		termNames:   make(map[typeTermKey][2]string),
		postings:    make(map[typeTermKey]map[uint32][]uint32),
		forwards:    make(map[typeDocKey]map[uint32]string),
		forwardDel:  make(map[typeDocKey]bool),
		metadata:    newMetaDataMap(),
		attributes:  make(map[uint32]map[uint32]*string),
		attrReplace: make(map[uint32]bool),
		aclAdd:      make(map[userDocKey]bool),
		aclDel:      make(map[userDocKey]bool),
		deletes:     make(map[uint32]bool),
		invTerms:    make(map[uint32][]block.InverseTerm),
		dfDelta:     make(map[typeTermKey]int64),
	}
}

func (t *Transaction) check() error {
	if t.failed || t.finished {
		return ErrTransactionAborted
	}
	return nil
}

// resolve returns the id of name in the given dictionary, allocating
// a new one in the delta map when the storage does not know it.
func (t *Transaction) resolve(tree *vartree.Tree, p dbkey.Prefix, counter *uint64, name string) (uint32, error) {
	if id, ok := tree.Get(name); ok {
		return id, nil
	}
	id, err := t.s.lookupName(p, name)
	if err != nil {
		return 0, err
	}
	if id != 0 {
		return id, nil
	}
	id = t.s.allocate(counter)
	if err := tree.Set(name, id); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *Transaction) typeNumber(name string) (uint32, error) {
	return t.resolve(&t.newTypes, dbkey.TermType, &t.s.typeNo, name)
}

func (t *Transaction) termNumber(value string) (uint32, error) {
	return t.resolve(&t.newTerms, dbkey.TermValue, &t.s.termNo, value)
}

func (t *Transaction) attribNumber(name string) (uint32, error) {
	return t.resolve(&t.newAttribs, dbkey.AttribName, &t.s.attribNo, name)
}

func (t *Transaction) userNumber(name string) (uint32, error) {
	return t.resolve(&t.newUsers, dbkey.UserName, &t.s.userNo, name)
}

func (t *Transaction) stagePosting(key typeTermKey, docno uint32, positions []uint32) {
	m := t.postings[key]
	if m == nil {
		m = make(map[uint32][]uint32)
		t.postings[key] = m
	}
	m[docno] = positions
}

// revertStaged drops the postings and forward tokens staged for a
// docno earlier in this transaction.
func (t *Transaction) revertStaged(docno uint32) {
	for _, it := range t.invTerms[docno] {
		key := typeTermKey{it.Typeno, it.Termno}
		if m := t.postings[key]; m != nil {
			if _, staged := m[docno]; staged {
				delete(m, docno)
				t.dfDelta[key]--
			}
		}
	}
	delete(t.invTerms, docno)
	for k := range t.forwards {
		if k.docno == docno {
			delete(t.forwards, k)
		}
	}
}

// stageContentRemoval reverts the indexed content of docno using its
// inverse term block: posting deletions and df decrements.
func (t *Transaction) stageContentRemoval(docno uint32) error {
	v, err := t.s.kv.Get(dbkey.IndexKey(dbkey.InverseTerm, uint64(docno)))
	if err == sorted.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	blk := block.Block{Anchor: docno, Data: []byte(v)}
	terms, err := block.DecodeInverseTerms(&blk)
	if err != nil {
		return err
	}
	for _, it := range terms {
		key := typeTermKey{it.Typeno, it.Termno}
		t.stagePosting(key, docno, nil)
		t.dfDelta[key]--
		// Clear the forward family of every term type the document
		// contributed to.
		t.forwardDel[typeDocKey{it.Typeno, docno}] = true
	}
	return nil
}

// InsertDocument stages the full content of a document. A document
// with the same docid is replaced.
func (t *Transaction) InsertDocument(docid string, doc Document) error {
	if err := t.check(); err != nil {
		return err
	}
	if len(doc.Users) > 0 && !t.s.withACL {
		return fmt.Errorf("%w: storage built without ACLs", ErrConfig)
	}

	var docno uint32
	if id, ok := t.newDocids.Get(docid); ok {
		// The docid was inserted earlier in this transaction; drop
		// the content staged for it.
		docno = id
		t.revertStaged(docno)
	} else if id, err := t.s.lookupName(dbkey.DocID, docid); err != nil {
		return err
	} else if id != 0 {
		// Replace: revert the previous content of this docid.
		docno = id
		if err := t.DeleteDocument(docno); err != nil {
			return err
		}
		delete(t.deletes, docno)
		t.nofDocsDelta++ // the delete staged a decrement
	} else {
		docno = t.s.allocate(&t.s.docNo)
		if err := t.newDocids.Set(docid, docno); err != nil {
			return err
		}
		t.nofDocsDelta++
	}

	// Group the search terms into postings.
	type occKey struct{ typ, val string }
	occ := map[occKey][]uint32{}
	for _, term := range doc.SearchTerms {
		k := occKey{term.Type, term.Value}
		occ[k] = append(occ[k], term.Pos)
	}
	var inv []block.InverseTerm
	for k, positions := range occ {
		typeno, err := t.typeNumber(k.typ)
		if err != nil {
			return err
		}
		termno, err := t.termNumber(k.val)
		if err != nil {
			return err
		}
		sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
		positions = dedupUint32(positions)
		key := typeTermKey{typeno, termno}
		t.termNames[key] = [2]string{k.typ, k.val}
		t.stagePosting(key, docno, positions)
		t.dfDelta[key]++
		inv = append(inv, block.InverseTerm{
			Typeno:   typeno,
			Termno:   termno,
			Ff:       uint32(len(positions)),
			FirstPos: positions[0],
		})
	}
	t.invTerms[docno] = inv

	// Forward index tokens.
	for _, term := range doc.ForwardTerms {
		typeno, err := t.typeNumber(term.Type)
		if err != nil {
			return err
		}
		k := typeDocKey{typeno, docno}
		m := t.forwards[k]
		if m == nil {
			m = make(map[uint32]string)
			t.forwards[k] = m
		}
		m[term.Pos] = term.Value
		t.forwardDel[k] = true
	}

	// Metadata: the record starts from zero on replace.
	t.metadata.clearRecord(docno)
	desc := t.s.MetaDataDescription()
	for name, value := range doc.MetaData {
		h := desc.Handle(name)
		if h < 0 {
			return fmt.Errorf("%w: %q", block.ErrMetaUnknownColumn, name)
		}
		t.metadata.set(docno, h, value)
	}

	// Attributes: full replace.
	t.attrReplace[docno] = true
	attrs := make(map[uint32]*string, len(doc.Attributes))
	for name, value := range doc.Attributes {
		attribno, err := t.attribNumber(name)
		if err != nil {
			return err
		}
		v := value
		attrs[attribno] = &v
	}
	t.attributes[docno] = attrs

	// ACL.
	if t.s.withACL {
		for _, user := range doc.Users {
			userno, err := t.userNumber(user)
			if err != nil {
				return err
			}
			key := userDocKey{userno, docno}
			delete(t.aclDel, key)
			t.aclAdd[key] = true
		}
	}
	return nil
}

// DeleteDocument stages the removal of a document and all its index
// contributions.
func (t *Transaction) DeleteDocument(docno uint32) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := t.stageContentRemoval(docno); err != nil {
		return err
	}
	t.deletes[docno] = true
	delete(t.invTerms, docno)
	t.nofDocsDelta--
	t.metadata.clearRecord(docno)
	t.attrReplace[docno] = true
	t.attributes[docno] = nil
	if t.s.withACL {
		if err := t.stageAclRemoval(docno); err != nil {
			return err
		}
	}
	return nil
}

// stageAclRemoval reads the document's user list and stages the
// reverse mappings for removal.
func (t *Transaction) stageAclRemoval(docno uint32) error {
	it := newRangeIterator(t.s.kv, dbkey.IndexKey(dbkey.AclBlock, uint64(docno)), "", 0)
	defer it.Close()
	for userno := it.SkipDoc(1); userno != 0; userno = it.SkipDoc(userno + 1) {
		key := userDocKey{userno, docno}
		delete(t.aclAdd, key)
		t.aclDel[key] = true
	}
	return it.Err()
}

// UpdateDocument stages a partial change of metadata, attributes and
// access rights. Postings are not touched.
func (t *Transaction) UpdateDocument(docno uint32, patch DocumentPatch) error {
	if err := t.check(); err != nil {
		return err
	}
	if (len(patch.UsersAdd) > 0 || len(patch.UsersRemove) > 0) && !t.s.withACL {
		return fmt.Errorf("%w: storage built without ACLs", ErrConfig)
	}
	desc := t.s.MetaDataDescription()
	for name, value := range patch.MetaData {
		h := desc.Handle(name)
		if h < 0 {
			return fmt.Errorf("%w: %q", block.ErrMetaUnknownColumn, name)
		}
		t.metadata.set(docno, h, value)
	}
	if len(patch.Attributes) > 0 || len(patch.DeleteAttributes) > 0 {
		attrs := t.attributes[docno]
		if attrs == nil {
			attrs = make(map[uint32]*string)
			t.attributes[docno] = attrs
		}
		for name, value := range patch.Attributes {
			attribno, err := t.attribNumber(name)
			if err != nil {
				return err
			}
			v := value
			attrs[attribno] = &v
		}
		for _, name := range patch.DeleteAttributes {
			attribno, err := t.attribNumber(name)
			if err != nil {
				return err
			}
			attrs[attribno] = nil
		}
	}
	for _, user := range patch.UsersAdd {
		userno, err := t.userNumber(user)
		if err != nil {
			return err
		}
		key := userDocKey{userno, docno}
		delete(t.aclDel, key)
		t.aclAdd[key] = true
	}
	for _, user := range patch.UsersRemove {
		userno, err := t.userNumber(user)
		if err != nil {
			return err
		}
		key := userDocKey{userno, docno}
		delete(t.aclAdd, key)
		t.aclDel[key] = true
	}
	return nil
}

// Rollback discards the staged state. The transaction cannot be used
// afterwards.
func (t *Transaction) Rollback() {
	t.finished = true
}

func dedupUint32(xs []uint32) []uint32 {
	if len(xs) < 2 {
		return xs
	}
	out := xs[:1]
	for _, x := range xs[1:] {
		if x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}
