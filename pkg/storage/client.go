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

// Package storage is the persistence and query execution core of the
// search engine: it keeps the inverted index, forward index, document
// metadata, attributes and access control lists in packed blocks on
// an ordered key/value store, and hands out the iterators the query
// layers compose.
package storage

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go4.org/strutil"

	"strusearch.org/pkg/sorted"
	"strusearch.org/pkg/storage/block"
	"strusearch.org/pkg/storage/dbkey"
	"strusearch.org/pkg/storage/iterator"
	"strusearch.org/pkg/storage/statistics"
)

// Storage is a client handle on one storage instance. It is safe for
// concurrent readers; writes go through one Transaction at a time.
type Storage struct {
	kv sorted.KeyValue

	// txMu admits exactly one committing writer.
	txMu sync.Mutex

	// allocMu guards the in-memory id counters during staging.
	allocMu  sync.Mutex
	termNo   uint64
	typeNo   uint64
	docNo    uint64
	attribNo uint64
	userNo   uint64

	nofDocs atomic.Int64

	withACL bool

	cache atomic.Pointer[MetaDataCache]

	// alterMu serializes alter-table transactions against each other.
	alterMu sync.Mutex

	termCacheMu sync.RWMutex
	termCache   map[string]uint32

	stats *statistics.Map
}

// Create initializes an empty storage on the key/value store with the
// given create options ("metadata=<columns>; acl=yes|no").
func Create(kv sorted.KeyValue, options string) error {
	opts, err := ParseCreateOptions(options)
	if err != nil {
		return err
	}
	desc, err := block.ParseMetaDescription(opts.MetaData)
	if err != nil {
		return fmt.Errorf("%w: metadata option: %v", ErrConfig, err)
	}
	if _, defined, err := readVariable(kv, varVersion); err != nil {
		return err
	} else if defined {
		return fmt.Errorf("%w: storage already exists", ErrConfig)
	}
	b := kv.BeginBatch()
	setVariable(b, varByteOrder, byteOrderValue)
	setVariable(b, varVersion, versionValue)
	setVariable(b, varNofDocs, 0)
	acl := uint64(0)
	if opts.ACL {
		acl = 1
	}
	setVariable(b, varWithACL, acl)
	b.Set(dbkey.IndexKey(dbkey.MetaDataDescr), desc.String())
	return kv.CommitBatch(b)
}

// Open opens an existing storage. The client options may name a
// cachedterms file whose terms are pre-resolved into the term cache.
func Open(kv sorted.KeyValue, options string) (*Storage, error) {
	opts, err := ParseClientOptions(options)
	if err != nil {
		return nil, err
	}
	bom, defined, err := readVariable(kv, varByteOrder)
	if err != nil {
		return nil, err
	}
	if !defined {
		return nil, fmt.Errorf("%w: no storage found", ErrConfig)
	}
	if bom != byteOrderValue {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrByteOrderMismatch, bom)
	}
	version, _, err := readVariable(kv, varVersion)
	if err != nil {
		return nil, err
	}
	if version/1000 != versionMajor {
		return nil, fmt.Errorf("%w: storage version %d.%d, code version %d.%d",
			ErrVersionMismatch, version/1000, version%1000, versionMajor, versionMinor)
	}
	s := &Storage{kv: kv, termCache: make(map[string]uint32)}
	for _, v := range []struct {
		name string
		dst  *uint64
	}{
		{varTermNo, &s.termNo},
		{varTypeNo, &s.typeNo},
		{varDocNo, &s.docNo},
		{varAttribNo, &s.attribNo},
		{varUserNo, &s.userNo},
	} {
		if *v.dst, _, err = readVariable(kv, v.name); err != nil {
			return nil, err
		}
	}
	nofDocs, _, err := readVariable(kv, varNofDocs)
	if err != nil {
		return nil, err
	}
	s.nofDocs.Store(int64(nofDocs))
	acl, _, err := readVariable(kv, varWithACL)
	if err != nil {
		return nil, err
	}
	s.withACL = acl != 0

	descStr, err := kv.Get(dbkey.IndexKey(dbkey.MetaDataDescr))
	if err != nil && err != sorted.ErrNotFound {
		return nil, err
	}
	desc, err := block.ParseMetaDescription(descStr)
	if err != nil {
		return nil, err
	}
	s.cache.Store(NewMetaDataCache(kv, desc))

	if opts.CachedTermsFile != "" {
		if err := s.warmTermCache(opts.CachedTermsFile); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Storage) warmTermCache(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: cachedterms: %v", ErrConfig, err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		term := strutil.StringFromBytes(sc.Bytes())
		if term == "" {
			continue
		}
		termno, err := s.lookupName(dbkey.TermValue, term)
		if err != nil {
			return err
		}
		if termno != 0 {
			s.termCacheMu.Lock()
			s.termCache[term] = termno
			s.termCacheMu.Unlock()
		}
	}
	return sc.Err()
}

// Close releases the key/value store handle. Counters are already
// durable; every commit persists them in its batch.
func (s *Storage) Close() error {
	return s.kv.Close()
}

// Compact asks the underlying store to compact its on-disk
// representation, when it supports that.
func (s *Storage) Compact() error {
	if c, ok := s.kv.(sorted.Compacter); ok {
		return c.Compact()
	}
	return nil
}

// WithACL reports whether the storage keeps access control lists.
func (s *Storage) WithACL() bool { return s.withACL }

// NofDocuments returns the local document count.
func (s *Storage) NofDocuments() int64 { return s.nofDocs.Load() }

// AttachStatistics wires a statistics map; every commit then feeds
// its document count and df changes into it.
func (s *Storage) AttachStatistics(m *statistics.Map) { s.stats = m }

// MetaDataCache returns the current metadata cache generation.
func (s *Storage) MetaDataCache() *MetaDataCache { return s.cache.Load() }

// MetaDataDescription returns the current metadata table schema.
func (s *Storage) MetaDataDescription() *block.MetaDescription {
	return s.cache.Load().Description()
}

func (s *Storage) lookupName(p dbkey.Prefix, name string) (uint32, error) {
	key, err := dbkey.NameKey(p, name)
	if err != nil {
		return 0, err
	}
	v, err := s.kv.Get(key)
	if err == sorted.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	id, err := dbkey.UnpackUint(v)
	if err != nil {
		return 0, err
	}
	return uint32(id), nil
}

// TermTypeNumber resolves a term type name, 0 if undefined.
func (s *Storage) TermTypeNumber(name string) (uint32, error) {
	return s.lookupName(dbkey.TermType, name)
}

// TermValueNumber resolves a term value, 0 if undefined. Warm cache
// hits bypass the store.
func (s *Storage) TermValueNumber(value string) (uint32, error) {
	s.termCacheMu.RLock()
	termno, ok := s.termCache[value]
	s.termCacheMu.RUnlock()
	if ok {
		return termno, nil
	}
	return s.lookupName(dbkey.TermValue, value)
}

// DocumentNumber resolves a document id, 0 if undefined.
func (s *Storage) DocumentNumber(docid string) (uint32, error) {
	return s.lookupName(dbkey.DocID, docid)
}

// AttributeNumber resolves an attribute name, 0 if undefined.
func (s *Storage) AttributeNumber(name string) (uint32, error) {
	return s.lookupName(dbkey.AttribName, name)
}

// UserNumber resolves a user name, 0 if undefined.
func (s *Storage) UserNumber(name string) (uint32, error) {
	return s.lookupName(dbkey.UserName, name)
}

// TermTypeName resolves a typeno back to its name through the
// inverse dictionary.
func (s *Storage) TermTypeName(typeno uint32) (string, error) {
	v, err := s.kv.Get(dbkey.IndexKey(dbkey.TermTypeInv, uint64(typeno)))
	if err == sorted.ErrNotFound {
		return "", fmt.Errorf("%w: typeno %d", ErrUnknownTerm, typeno)
	}
	return v, err
}

// TermValueName resolves a termno back to its value through the
// inverse dictionary.
func (s *Storage) TermValueName(termno uint32) (string, error) {
	v, err := s.kv.Get(dbkey.IndexKey(dbkey.TermValueInv, uint64(termno)))
	if err == sorted.ErrNotFound {
		return "", fmt.Errorf("%w: termno %d", ErrUnknownTerm, termno)
	}
	return v, err
}

// DocumentFrequency returns the local df of a term, 0 if unknown.
func (s *Storage) DocumentFrequency(termType, termValue string) (uint64, error) {
	typeno, err := s.TermTypeNumber(termType)
	if err != nil || typeno == 0 {
		return 0, err
	}
	termno, err := s.TermValueNumber(termValue)
	if err != nil || termno == 0 {
		return 0, err
	}
	return s.df(typeno, termno)
}

func (s *Storage) df(typeno, termno uint32) (uint64, error) {
	v, err := s.kv.Get(dbkey.IndexKey(dbkey.DocFrequency, uint64(typeno), uint64(termno)))
	if err == sorted.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return dbkey.UnpackUint(v)
}

// MetaDataValue reads one metadata column of a document through the
// cache.
func (s *Storage) MetaDataValue(docno uint32, column string) (block.Numeric, error) {
	cache := s.cache.Load()
	desc := cache.Description()
	h := desc.Handle(column)
	if h < 0 {
		return block.Numeric{}, fmt.Errorf("%w: %q", block.ErrMetaUnknownColumn, column)
	}
	rec, err := cache.Get(docno)
	if err != nil {
		return block.Numeric{}, err
	}
	return rec.Get(desc.Get(h)), nil
}

// Attribute reads a document attribute, "" if unset.
func (s *Storage) Attribute(docno uint32, name string) (string, error) {
	attribno, err := s.AttributeNumber(name)
	if err != nil || attribno == 0 {
		return "", err
	}
	v, err := s.kv.Get(dbkey.IndexKey(dbkey.DocAttribute, uint64(docno), uint64(attribno)))
	if err == sorted.ErrNotFound {
		return "", nil
	}
	return v, err
}

// PostingIterator returns the positional posting iterator of a term.
// An undefined term yields the empty iterator.
func (s *Storage) PostingIterator(termType, termValue string) (iterator.PostingIterator, error) {
	typeno, err := s.TermTypeNumber(termType)
	if err != nil {
		return nil, err
	}
	termno, err := s.TermValueNumber(termValue)
	if err != nil {
		return nil, err
	}
	if typeno == 0 || termno == 0 {
		return emptyIterator{}, nil
	}
	df, err := s.df(typeno, termno)
	if err != nil {
		return nil, err
	}
	return newPostingIterator(s.kv, typeno, termno, df), nil
}

// DocListIterator returns the docno-only posting iterator of a term,
// backed by the range-coded doclist blocks.
func (s *Storage) DocListIterator(termType, termValue string) (iterator.PostingIterator, error) {
	typeno, err := s.TermTypeNumber(termType)
	if err != nil {
		return nil, err
	}
	termno, err := s.TermValueNumber(termValue)
	if err != nil {
		return nil, err
	}
	if typeno == 0 || termno == 0 {
		return emptyIterator{}, nil
	}
	df, err := s.df(typeno, termno)
	if err != nil {
		return nil, err
	}
	prefix := dbkey.IndexKey(dbkey.DocListBlock, uint64(typeno), uint64(termno))
	return newRangeIterator(s.kv, prefix, fmt.Sprintf("d%d:%d", typeno, termno), df), nil
}

// UserAclIterator returns the iterator over the docnos a user may
// read. Unknown users yield the empty iterator.
func (s *Storage) UserAclIterator(username string) (iterator.PostingIterator, error) {
	if !s.withACL {
		return nil, fmt.Errorf("%w: storage built without ACLs", ErrConfig)
	}
	userno, err := s.UserNumber(username)
	if err != nil {
		return nil, err
	}
	if userno == 0 {
		return emptyIterator{}, nil
	}
	prefix := dbkey.IndexKey(dbkey.UserAclBlock, uint64(userno))
	return newRangeIterator(s.kv, prefix, fmt.Sprintf("u%d", userno), 0), nil
}

// DocAclIterator returns the iterator over the usernos allowed to
// read a document.
func (s *Storage) DocAclIterator(docno uint32) (iterator.PostingIterator, error) {
	if !s.withACL {
		return nil, fmt.Errorf("%w: storage built without ACLs", ErrConfig)
	}
	prefix := dbkey.IndexKey(dbkey.AclBlock, uint64(docno))
	return newRangeIterator(s.kv, prefix, fmt.Sprintf("w%d", docno), 0), nil
}

// ForwardIterator returns a forward index iterator for one term
// type.
func (s *Storage) ForwardIterator(termType string) (*ForwardIterator, error) {
	typeno, err := s.TermTypeNumber(termType)
	if err != nil {
		return nil, err
	}
	if typeno == 0 {
		return nil, fmt.Errorf("%w: term type %q", ErrUnknownTerm, termType)
	}
	return newForwardIterator(s.kv, typeno), nil
}

// BackupCursor returns a cursor positioned before the first key of a
// consistent snapshot of the whole storage, for key-by-key backup
// walks with SeekFirst("") and SeekNext.
func (s *Storage) BackupCursor() sorted.Cursor {
	return s.kv.NewCursor()
}

// CreateTransaction starts staging a new write transaction.
func (s *Storage) CreateTransaction() *Transaction {
	return newTransaction(s)
}

// allocate hands out the next fresh id of the counter selected by which.
func (s *Storage) allocate(which *uint64) uint32 {
	s.allocMu.Lock()
	*which++
	rt := uint32(*which)
	s.allocMu.Unlock()
	return rt
}

// counters snapshots all id counters for persisting in a commit
// batch.
func (s *Storage) counters() (termNo, typeNo, docNo, attribNo, userNo uint64) {
	s.allocMu.Lock()
	defer s.allocMu.Unlock()
	return s.termNo, s.typeNo, s.docNo, s.attribNo, s.userNo
}

// resetMetaDataCache swaps in a cache generation for a new schema.
func (s *Storage) resetMetaDataCache(desc *block.MetaDescription) {
	s.cache.Store(NewMetaDataCache(s.kv, desc))
}

// emptyIterator is the posting iterator of an undefined term.
type emptyIterator struct{}

func (emptyIterator) SkipDoc(uint32) uint32           { return 0 }
func (emptyIterator) SkipPos(uint32) uint32           { return 0 }
func (emptyIterator) DocFrequency() uint64            { return 0 }
func (emptyIterator) FeatureID() string               { return "!" }
func (emptyIterator) Clone() iterator.PostingIterator { return emptyIterator{} }
func (emptyIterator) Err() error                      { return nil }
