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

// An inverse term block lists, for one document, every (typeno,
// termno) pair the document contributed to the index, with the term's
// ff and first position. It exists so that deleting a document can
// stage the posting and df reversals without scanning posting
// families.
//
//	record = typeno termno ff firstpos
//
// records ordered by (typeno, termno), all values packed per dbkey.
// The block anchor is the docno itself.

// InverseTerm is one decoded inverse term record.
type InverseTerm struct {
	Typeno   uint32
	Termno   uint32
	Ff       uint32
	FirstPos uint32
}

// DecodeInverseTerms decodes the block payload, checking record order.
func DecodeInverseTerms(b *Block) ([]InverseTerm, error) {
	var rt []InverseTerm
	off := 0
	read := func() (uint32, error) {
		v, n, err := dbkey.Uint(b.Data[off:])
		if err != nil {
			return 0, corruptf("inverse term payload at offset %d: %v", off, err)
		}
		off += n
		return uint32(v), nil
	}
	for off < len(b.Data) {
		var rec InverseTerm
		var err error
		if rec.Typeno, err = read(); err != nil {
			return nil, err
		}
		if rec.Termno, err = read(); err != nil {
			return nil, err
		}
		if rec.Ff, err = read(); err != nil {
			return nil, err
		}
		if rec.FirstPos, err = read(); err != nil {
			return nil, err
		}
		if n := len(rt); n > 0 {
			prev := rt[n-1]
			if rec.Typeno < prev.Typeno || (rec.Typeno == prev.Typeno && rec.Termno <= prev.Termno) {
				return nil, corruptf("inverse term records not ascending")
			}
		}
		rt = append(rt, rec)
	}
	return rt, nil
}

// EncodeInverseTerms packs the records for one document into a block
// anchored at docno. The input is sorted in place.
func EncodeInverseTerms(docno uint32, terms []InverseTerm) Block {
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Typeno != terms[j].Typeno {
			return terms[i].Typeno < terms[j].Typeno
		}
		return terms[i].Termno < terms[j].Termno
	})
	var data []byte
	for _, rec := range terms {
		data = dbkey.AppendUint(data, uint64(rec.Typeno))
		data = dbkey.AppendUint(data, uint64(rec.Termno))
		data = dbkey.AppendUint(data, uint64(rec.Ff))
		data = dbkey.AppendUint(data, uint64(rec.FirstPos))
	}
	return Block{Anchor: docno, Data: data}
}
