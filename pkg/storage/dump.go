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
	"strings"

	"strusearch.org/pkg/storage/block"
	"strusearch.org/pkg/storage/dbkey"
)

// DecodeEntry decodes one key/value pair through its typed reader and
// renders it for tool output. It is the shared engine of the dump and
// check tools: a decoding failure means the pair violates its block
// family's format.
func DecodeEntry(desc *block.MetaDescription, key, value string) (string, error) {
	p, tail, err := dbkey.Split(key)
	if err != nil {
		return "", err
	}
	switch p {
	case dbkey.TermType, dbkey.TermValue, dbkey.DocID, dbkey.Variable, dbkey.AttribName, dbkey.UserName:
		id, err := dbkey.UnpackUint(value)
		if err != nil {
			return "", fmt.Errorf("%s %q: %v", p.Name(), tail, err)
		}
		return fmt.Sprintf("%s %q -> %d", p.Name(), tail, id), nil

	case dbkey.TermTypeInv, dbkey.TermValueInv:
		id, rest, err := dbkey.ParseUint(tail)
		if err != nil || rest != "" {
			return "", fmt.Errorf("%s key: %v", p.Name(), err)
		}
		return fmt.Sprintf("%s %d -> %q", p.Name(), id, value), nil

	case dbkey.PosinfoBlock:
		ids, err := parseIDTail(tail, 3)
		if err != nil {
			return "", err
		}
		blk := block.Block{Anchor: uint32(ids[2]), Data: []byte(value)}
		r := block.NewPosinfoReader(&blk)
		var rec block.PosinfoRecord
		var sb strings.Builder
		fmt.Fprintf(&sb, "posinfo type %d term %d anchor %d:", ids[0], ids[1], ids[2])
		last := uint32(0)
		for {
			ok, err := r.Next(&rec)
			if err != nil {
				return "", err
			}
			if !ok {
				break
			}
			last = rec.Docno
			fmt.Fprintf(&sb, " %d%v", rec.Docno, rec.Positions)
		}
		if last != blk.Anchor {
			return "", fmt.Errorf("posinfo anchor %d does not match last docno %d", blk.Anchor, last)
		}
		return sb.String(), nil

	case dbkey.DocListBlock, dbkey.UserAclBlock, dbkey.AclBlock:
		want := 3
		if p != dbkey.DocListBlock {
			want = 2
		}
		ids, err := parseIDTail(tail, want)
		if err != nil {
			return "", err
		}
		blk := block.Block{Anchor: uint32(ids[want-1]), Data: []byte(value)}
		ranges, err := block.DecodeRanges(&blk)
		if err != nil {
			return "", err
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s %v:", p.Name(), ids[:want-1])
		for _, r := range ranges {
			fmt.Fprintf(&sb, " [%d,%d]", r.First, r.Last)
		}
		return sb.String(), nil

	case dbkey.InverseTerm:
		ids, err := parseIDTail(tail, 1)
		if err != nil {
			return "", err
		}
		blk := block.Block{Anchor: uint32(ids[0]), Data: []byte(value)}
		terms, err := block.DecodeInverseTerms(&blk)
		if err != nil {
			return "", err
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "inverse terms doc %d:", ids[0])
		for _, it := range terms {
			fmt.Fprintf(&sb, " (%d,%d,ff=%d,first=%d)", it.Typeno, it.Termno, it.Ff, it.FirstPos)
		}
		return sb.String(), nil

	case dbkey.ForwardIndex:
		ids, err := parseIDTail(tail, 3)
		if err != nil {
			return "", err
		}
		blk := block.Block{Anchor: uint32(ids[2]), Data: []byte(value)}
		r := block.NewForwardReader(&blk)
		var item block.ForwardItem
		var sb strings.Builder
		fmt.Fprintf(&sb, "forward type %d doc %d anchor %d:", ids[0], ids[1], ids[2])
		for {
			ok, err := r.Next(&item)
			if err != nil {
				return "", err
			}
			if !ok {
				break
			}
			fmt.Fprintf(&sb, " %d=%q", item.Pos, item.Value)
		}
		return sb.String(), nil

	case dbkey.DocMetaData:
		ids, err := parseIDTail(tail, 1)
		if err != nil {
			return "", err
		}
		if desc == nil {
			return fmt.Sprintf("metadata block %d (%d bytes)", ids[0], len(value)), nil
		}
		data := []byte(value)
		if len(data)%block.MetaBlockSize != 0 {
			return "", fmt.Errorf("metadata block %d has odd size %d", ids[0], len(data))
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "metadata block %d:", ids[0])
		for i := 0; i < block.MetaBlockSize; i++ {
			var rec block.MetaRecord
			rec, data, err = block.MetaBlockRecord(desc, data, i)
			if err != nil {
				return "", err
			}
			docno := block.MetaBlockFirstDocno(uint32(ids[0])) + uint32(i)
			fields := make([]string, 0, desc.NofElements())
			empty := true
			for h := 0; h < desc.NofElements(); h++ {
				v := rec.Get(desc.Get(h))
				if v.AsFloat() != 0 {
					empty = false
				}
				fields = append(fields, fmt.Sprintf("%s=%s", desc.Get(h).Name, v))
			}
			if !empty {
				fmt.Fprintf(&sb, " %d{%s}", docno, strings.Join(fields, ","))
			}
		}
		return sb.String(), nil

	case dbkey.DocAttribute:
		ids, err := parseIDTail(tail, 2)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("attribute doc %d attrib %d -> %q", ids[0], ids[1], value), nil

	case dbkey.DocFrequency:
		ids, err := parseIDTail(tail, 2)
		if err != nil {
			return "", err
		}
		df, err := dbkey.UnpackUint(value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("df type %d term %d -> %d", ids[0], ids[1], df), nil

	case dbkey.MetaDataDescr:
		return fmt.Sprintf("metadata table %q", value), nil
	}
	return "", fmt.Errorf("unknown key prefix %q", string(rune(p)))
}

func parseIDTail(tail string, n int) ([]uint64, error) {
	rt := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		v, rest, err := dbkey.ParseUint(tail)
		if err != nil {
			return nil, fmt.Errorf("key component %d: %v", i, err)
		}
		rt = append(rt, v)
		tail = rest
	}
	if tail != "" {
		return nil, fmt.Errorf("%d trailing key bytes", len(tail))
	}
	return rt, nil
}
