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

// Commit assembles the write batch from the staged state and submits
// it atomically. On a store failure the transaction transitions to
// failed and nothing is published.
func (t *Transaction) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	t.finished = true
	s := t.s
	s.txMu.Lock()
	defer s.txMu.Unlock()

	b := s.kv.BeginBatch()

	if err := t.writeDictionaries(b); err != nil {
		return t.fail(err)
	}
	if err := t.mergePostings(b); err != nil {
		return t.fail(err)
	}
	if err := t.writeForward(b); err != nil {
		return t.fail(err)
	}
	t.writeInverseTerms(b)
	if err := t.mergeAcl(b); err != nil {
		return t.fail(err)
	}
	touched, err := t.metadata.commit(s.kv, s.MetaDataDescription(), b)
	if err != nil {
		return t.fail(err)
	}
	if err := t.writeAttributes(b); err != nil {
		return t.fail(err)
	}
	if err := t.writeDfCounters(b); err != nil {
		return t.fail(err)
	}

	termNo, typeNo, docNo, attribNo, userNo := s.counters()
	setVariable(b, varTermNo, termNo)
	setVariable(b, varTypeNo, typeNo)
	setVariable(b, varDocNo, docNo)
	setVariable(b, varAttribNo, attribNo)
	setVariable(b, varUserNo, userNo)
	newNofDocs := s.nofDocs.Load() + t.nofDocsDelta
	setVariable(b, varNofDocs, uint64(newNofDocs))

	if err := s.kv.CommitBatch(b); err != nil {
		return t.fail(fmt.Errorf("storage: database error: %v", err))
	}

	// The batch is durable; refresh the metadata cache before the
	// writer mutex is released so no reader can observe a stale
	// record afterwards.
	s.nofDocs.Store(newNofDocs)
	cache := s.cache.Load()
	for _, blockno := range touched {
		cache.DeclareVoid(blockno)
	}
	cache.Refresh()

	t.emitStatistics()
	return nil
}

func (t *Transaction) fail(err error) error {
	t.failed = true
	return err
}

func (t *Transaction) writeDictionaries(b sorted.BatchMutation) error {
	write := func(tree *vartree.Tree, p dbkey.Prefix, inv dbkey.Prefix, withInv bool) error {
		return tree.Walk(func(name string, id uint32) error {
			key, err := dbkey.NameKey(p, name)
			if err != nil {
				return err
			}
			b.Set(key, dbkey.PackUint(uint64(id)))
			if withInv {
				b.Set(dbkey.IndexKey(inv, uint64(id)), name)
			}
			return nil
		})
	}
	if err := write(&t.newTypes, dbkey.TermType, dbkey.TermTypeInv, true); err != nil {
		return err
	}
	if err := write(&t.newTerms, dbkey.TermValue, dbkey.TermValueInv, true); err != nil {
		return err
	}
	if err := write(&t.newDocids, dbkey.DocID, 0, false); err != nil {
		return err
	}
	if err := write(&t.newAttribs, dbkey.AttribName, 0, false); err != nil {
		return err
	}
	return write(&t.newUsers, dbkey.UserName, 0, false)
}

func sortedTypeTermKeys(m map[typeTermKey]map[uint32][]uint32) []typeTermKey {
	keys := make([]typeTermKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].typeno != keys[j].typeno {
			return keys[i].typeno < keys[j].typeno
		}
		return keys[i].termno < keys[j].termno
	})
	return keys
}

func (t *Transaction) mergePostings(b sorted.BatchMutation) error {
	for _, key := range sortedTypeTermKeys(t.postings) {
		docs := t.postings[key]
		updates := make([]block.PosinfoUpdate, 0, len(docs))
		var adds, removes []uint32
		for docno, positions := range docs {
			updates = append(updates, block.PosinfoUpdate{Docno: docno, Positions: positions})
			if len(positions) > 0 {
				adds = append(adds, docno)
			} else {
				removes = append(removes, docno)
			}
		}
		sort.Slice(updates, func(i, j int) bool { return updates[i].Docno < updates[j].Docno })
		sort.Slice(adds, func(i, j int) bool { return adds[i] < adds[j] })
		sort.Slice(removes, func(i, j int) bool { return removes[i] < removes[j] })

		prefix := dbkey.IndexKey(dbkey.PosinfoBlock, uint64(key.typeno), uint64(key.termno))
		if err := mergePosinfoFamily(t.s.kv, b, prefix, updates); err != nil {
			return err
		}
		listPrefix := dbkey.IndexKey(dbkey.DocListBlock, uint64(key.typeno), uint64(key.termno))
		if err := mergeRangeFamily(t.s.kv, b, listPrefix, adds, removes); err != nil {
			return err
		}
	}
	return nil
}

// mergePosinfoFamily merges ordered posting updates into the posinfo
// blocks of one family. Each affected old block is loaded once,
// merged and rewritten; updates beyond the last block are appended as
// fresh blocks.
func mergePosinfoFamily(kv sorted.KeyValue, b sorted.BatchMutation, prefix string, updates []block.PosinfoUpdate) error {
	family := block.NewFamily(kv, prefix)
	defer family.Close()
	rest := updates
	for len(rest) > 0 {
		blk, err := family.Load(rest[0].Docno)
		if err != nil {
			return err
		}
		var w block.PosinfoBuilder
		if blk == nil {
			for _, u := range rest {
				if len(u.Positions) > 0 {
					if err := w.Append(u.Docno, u.Positions); err != nil {
						return err
					}
				}
			}
			rest = nil
		} else {
			family.Dispose(b, blk.Anchor)
			rest, err = block.MergePosinfo(&w, rest, blk)
			if err != nil {
				return err
			}
		}
		blocks := w.Blocks()
		for i := range blocks {
			family.Store(b, &blocks[i])
		}
	}
	return nil
}

// mergeRangeFamily merges ordered add and remove id sets into the
// range blocks of one family (doclist and ACL blocks).
func mergeRangeFamily(kv sorted.KeyValue, b sorted.BatchMutation, prefix string, adds, removes []uint32) error {
	family := block.NewFamily(kv, prefix)
	defer family.Close()
	for len(adds) > 0 || len(removes) > 0 {
		target := uint32(0)
		if len(adds) > 0 {
			target = adds[0]
		}
		if len(removes) > 0 && (target == 0 || removes[0] < target) {
			target = removes[0]
		}
		blk, err := family.Load(target)
		if err != nil {
			return err
		}
		if blk == nil {
			// Nothing to remove from; the remaining adds become
			// fresh blocks.
			for _, nb := range block.EncodeRanges(block.MergeRanges(nil, adds, nil)) {
				nbCopy := nb
				family.Store(b, &nbCopy)
			}
			return nil
		}
		family.Dispose(b, blk.Anchor)
		ranges, err := block.DecodeRanges(blk)
		if err != nil {
			return err
		}
		var addsHere, removesHere []uint32
		for len(adds) > 0 && adds[0] <= blk.Anchor {
			addsHere = append(addsHere, adds[0])
			adds = adds[1:]
		}
		for len(removes) > 0 && removes[0] <= blk.Anchor {
			removesHere = append(removesHere, removes[0])
			removes = removes[1:]
		}
		for _, nb := range block.EncodeRanges(block.MergeRanges(ranges, addsHere, removesHere)) {
			nbCopy := nb
			family.Store(b, &nbCopy)
		}
	}
	return nil
}

func (t *Transaction) writeForward(b sorted.BatchMutation) error {
	keys := make([]typeDocKey, 0, len(t.forwardDel))
	for k := range t.forwardDel {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].typeno != keys[j].typeno {
			return keys[i].typeno < keys[j].typeno
		}
		return keys[i].docno < keys[j].docno
	})
	for _, k := range keys {
		prefix := dbkey.IndexKey(dbkey.ForwardIndex, uint64(k.typeno), uint64(k.docno))
		if err := deleteFamily(t.s.kv, b, prefix); err != nil {
			return err
		}
		tokens := t.forwards[k]
		if len(tokens) == 0 {
			continue
		}
		positions := make([]uint32, 0, len(tokens))
		for pos := range tokens {
			positions = append(positions, pos)
		}
		sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
		var w block.ForwardBuilder
		for _, pos := range positions {
			if err := w.Append(pos, tokens[pos]); err != nil {
				return err
			}
		}
		family := block.NewFamily(t.s.kv, prefix)
		blocks := w.Blocks()
		for i := range blocks {
			family.Store(b, &blocks[i])
		}
		family.Close()
	}
	return nil
}

// deleteFamily stages the deletion of every key of a family.
func deleteFamily(kv sorted.KeyValue, b sorted.BatchMutation, prefix string) error {
	it := kv.Find(prefix, dbkey.PrefixEnd(prefix))
	for it.Next() {
		b.Delete(it.Key())
	}
	return it.Close()
}

func (t *Transaction) writeInverseTerms(b sorted.BatchMutation) {
	for docno := range t.deletes {
		b.Delete(dbkey.IndexKey(dbkey.InverseTerm, uint64(docno)))
	}
	docnos := make([]uint32, 0, len(t.invTerms))
	for docno := range t.invTerms {
		docnos = append(docnos, docno)
	}
	sort.Slice(docnos, func(i, j int) bool { return docnos[i] < docnos[j] })
	for _, docno := range docnos {
		blk := block.EncodeInverseTerms(docno, t.invTerms[docno])
		b.Set(dbkey.IndexKey(dbkey.InverseTerm, uint64(docno)), string(blk.Data))
	}
}

func (t *Transaction) mergeAcl(b sorted.BatchMutation) error {
	if len(t.aclAdd) == 0 && len(t.aclDel) == 0 {
		return nil
	}
	byUser := map[uint32][2][]uint32{} // userno -> {addDocs, delDocs}
	byDoc := map[uint32][2][]uint32{}  // docno -> {addUsers, delUsers}
	for k := range t.aclAdd {
		u, d := byUser[k.userno], byDoc[k.docno]
		u[0] = append(u[0], k.docno)
		d[0] = append(d[0], k.userno)
		byUser[k.userno], byDoc[k.docno] = u, d
	}
	for k := range t.aclDel {
		u, d := byUser[k.userno], byDoc[k.docno]
		u[1] = append(u[1], k.docno)
		d[1] = append(d[1], k.userno)
		byUser[k.userno], byDoc[k.docno] = u, d
	}
	merge := func(ids map[uint32][2][]uint32, p dbkey.Prefix) error {
		ordered := make([]uint32, 0, len(ids))
		for id := range ids {
			ordered = append(ordered, id)
		}
		sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
		for _, id := range ordered {
			sets := ids[id]
			sort.Slice(sets[0], func(i, j int) bool { return sets[0][i] < sets[0][j] })
			sort.Slice(sets[1], func(i, j int) bool { return sets[1][i] < sets[1][j] })
			prefix := dbkey.IndexKey(p, uint64(id))
			if err := mergeRangeFamily(t.s.kv, b, prefix, sets[0], sets[1]); err != nil {
				return err
			}
		}
		return nil
	}
	if err := merge(byUser, dbkey.UserAclBlock); err != nil {
		return err
	}
	return merge(byDoc, dbkey.AclBlock)
}

func (t *Transaction) writeAttributes(b sorted.BatchMutation) error {
	docnos := make([]uint32, 0, len(t.attributes))
	seen := map[uint32]bool{}
	for docno := range t.attributes {
		docnos = append(docnos, docno)
		seen[docno] = true
	}
	for docno := range t.attrReplace {
		if !seen[docno] {
			docnos = append(docnos, docno)
		}
	}
	sort.Slice(docnos, func(i, j int) bool { return docnos[i] < docnos[j] })
	for _, docno := range docnos {
		if t.attrReplace[docno] {
			prefix := dbkey.IndexKey(dbkey.DocAttribute, uint64(docno))
			if err := deleteFamily(t.s.kv, b, prefix); err != nil {
				return err
			}
		}
		attrs := t.attributes[docno]
		attribnos := make([]uint32, 0, len(attrs))
		for attribno := range attrs {
			attribnos = append(attribnos, attribno)
		}
		sort.Slice(attribnos, func(i, j int) bool { return attribnos[i] < attribnos[j] })
		for _, attribno := range attribnos {
			key := dbkey.IndexKey(dbkey.DocAttribute, uint64(docno), uint64(attribno))
			if v := attrs[attribno]; v != nil {
				b.Set(key, *v)
			} else {
				b.Delete(key)
			}
		}
	}
	return nil
}

func (t *Transaction) writeDfCounters(b sorted.BatchMutation) error {
	keys := make([]typeTermKey, 0, len(t.dfDelta))
	for k := range t.dfDelta {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].typeno != keys[j].typeno {
			return keys[i].typeno < keys[j].typeno
		}
		return keys[i].termno < keys[j].termno
	})
	for _, k := range keys {
		delta := t.dfDelta[k]
		if delta == 0 {
			continue
		}
		key := dbkey.IndexKey(dbkey.DocFrequency, uint64(k.typeno), uint64(k.termno))
		cur := int64(0)
		if v, err := t.s.kv.Get(key); err == nil {
			u, uerr := dbkey.UnpackUint(v)
			if uerr != nil {
				return uerr
			}
			cur = int64(u)
		} else if err != sorted.ErrNotFound {
			return err
		}
		cur += delta
		if cur > 0 {
			b.Set(key, dbkey.PackUint(uint64(cur)))
		} else {
			b.Delete(key)
		}
	}
	return nil
}

// emitStatistics feeds the committed changes into the attached
// statistics map.
func (t *Transaction) emitStatistics() {
	m := t.s.stats
	if m == nil {
		return
	}
	m.AddNofDocumentsInsertedChange(t.nofDocsDelta)
	for k, delta := range t.dfDelta {
		if delta == 0 {
			continue
		}
		names, ok := t.termNames[k]
		if !ok {
			typeName, err := t.s.TermTypeName(k.typeno)
			if err != nil {
				continue
			}
			valueName, err := t.s.TermValueName(k.termno)
			if err != nil {
				continue
			}
			names = [2]string{typeName, valueName}
		}
		m.AddDfChange(names[0], names[1], delta)
	}
}
