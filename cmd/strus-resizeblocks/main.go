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

// The strus-resizeblocks tool rebuilds the blocks of one family kind
// with a new payload size target, committing in chunks.
//
// Usage: strus-resizeblocks [flags] <config> <blocktype> <newsize>
//
// blocktype is "posinfo" or "forward"; newsize is the payload split
// target in bytes.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"go4.org/jsonconfig"

	"strusearch.org/pkg/sorted"
	_ "strusearch.org/pkg/sorted/badger"
	_ "strusearch.org/pkg/sorted/kvfile"
	_ "strusearch.org/pkg/sorted/leveldb"
	"strusearch.org/pkg/storage"
	"strusearch.org/pkg/storage/block"
	"strusearch.org/pkg/storage/dbkey"
)

var (
	flagCommit   = flag.Int("commit", 64, "families rebuilt per commit batch")
	flagDocno    = flag.String("docno", "", "restrict to documents A:B")
	flagTermType = flag.String("termtype", "", "restrict to one term type")
)

func openKV(config string) (sorted.KeyValue, error) {
	cfg, err := storage.ParseConfig(config)
	if err != nil {
		return nil, err
	}
	obj := jsonconfig.Obj{}
	for k, v := range cfg {
		obj[k] = v
	}
	return sorted.NewKeyValue(obj)
}

func parseDocnoRange(s string) (lo, hi uint32, err error) {
	if s == "" {
		return 0, ^uint32(0), nil
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid --docno %q: want A:B", s)
	}
	a, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	return uint32(a), uint32(b), nil
}

func main() {
	flag.Parse()
	if flag.NArg() != 3 {
		fmt.Fprintln(os.Stderr, "usage: strus-resizeblocks [flags] <config> <blocktype> <newsize>")
		os.Exit(2)
	}
	blocktype := flag.Arg(1)
	newsize, err := strconv.Atoi(flag.Arg(2))
	if err != nil || newsize < 16 {
		log.Fatalf("invalid newsize %q", flag.Arg(2))
	}
	docLo, docHi, err := parseDocnoRange(*flagDocno)
	if err != nil {
		log.Fatal(err)
	}
	kv, err := openKV(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer kv.Close()

	typenoFilter := uint64(0)
	if *flagTermType != "" {
		s, err := storage.Open(kv, "")
		if err != nil {
			log.Fatal(err)
		}
		typeno, err := s.TermTypeNumber(*flagTermType)
		if err != nil {
			log.Fatal(err)
		}
		if typeno == 0 {
			log.Fatalf("unknown term type %q", *flagTermType)
		}
		typenoFilter = uint64(typeno)
	}

	var rebuilt int
	switch blocktype {
	case "posinfo":
		rebuilt, err = resize(kv, dbkey.PosinfoBlock, typenoFilter, newsize, rebuildPosinfo, docLo, docHi)
	case "forward":
		rebuilt, err = resize(kv, dbkey.ForwardIndex, typenoFilter, newsize, rebuildForward, docLo, docHi)
	default:
		log.Fatalf("unknown blocktype %q: want posinfo or forward", blocktype)
	}
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("rebuilt %d families\n", rebuilt)
}

// family is all blocks sharing one (typeno, inner-id) key pair.
type family struct {
	typeno, inner uint64
	anchors       []uint32
	blocks        []block.Block
}

type rebuildFunc func(kv sorted.KeyValue, b sorted.BatchMutation, p dbkey.Prefix, f *family, newsize int) error

// resize walks one family kind, regroups its blocks and rewrites
// them, committing every -commit families.
func resize(kv sorted.KeyValue, p dbkey.Prefix, typenoFilter uint64, newsize int, rebuild rebuildFunc, docLo, docHi uint32) (int, error) {
	prefix := string(p)
	if typenoFilter != 0 {
		prefix = dbkey.IndexKey(p, typenoFilter)
	}
	it := kv.Find(prefix, dbkey.PrefixEnd(prefix))
	defer it.Close()

	var cur *family
	var pending []*family
	count := 0
	flush := func(force bool) error {
		if len(pending) < *flagCommit && !force {
			return nil
		}
		if len(pending) == 0 {
			return nil
		}
		b := kv.BeginBatch()
		for _, f := range pending {
			if err := rebuild(kv, b, p, f, newsize); err != nil {
				return err
			}
		}
		count += len(pending)
		pending = nil
		return kv.CommitBatch(b)
	}
	for it.Next() {
		_, tail, err := dbkey.Split(it.Key())
		if err != nil {
			return count, err
		}
		typeno, tail, err := dbkey.ParseUint(tail)
		if err != nil {
			return count, err
		}
		inner, tail, err := dbkey.ParseUint(tail)
		if err != nil {
			return count, err
		}
		anchor, _, err := dbkey.ParseUint(tail)
		if err != nil {
			return count, err
		}
		// The docno restriction selects forward families by their
		// docno key component. Posinfo families are keyed by term,
		// so the restriction does not apply to them.
		if p == dbkey.ForwardIndex && (uint32(inner) < docLo || uint32(inner) > docHi) {
			continue
		}
		if cur == nil || cur.typeno != typeno || cur.inner != inner {
			if cur != nil {
				pending = append(pending, cur)
				if err := flush(false); err != nil {
					return count, err
				}
			}
			cur = &family{typeno: typeno, inner: inner}
		}
		cur.anchors = append(cur.anchors, uint32(anchor))
		cur.blocks = append(cur.blocks, block.Block{Anchor: uint32(anchor), Data: []byte(it.Value())})
	}
	if err := it.Close(); err != nil {
		return count, err
	}
	if cur != nil {
		pending = append(pending, cur)
	}
	if err := flush(true); err != nil {
		return count, err
	}
	return count, nil
}

func rebuildPosinfo(kv sorted.KeyValue, b sorted.BatchMutation, p dbkey.Prefix, f *family, newsize int) error {
	prefix := dbkey.IndexKey(p, f.typeno, f.inner)
	fam := block.NewFamily(kv, prefix)
	defer fam.Close()
	for _, anchor := range f.anchors {
		fam.Dispose(b, anchor)
	}
	w := block.PosinfoBuilder{Max: newsize}
	var rec block.PosinfoRecord
	for i := range f.blocks {
		r := block.NewPosinfoReader(&f.blocks[i])
		for {
			ok, err := r.Next(&rec)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if err := w.Append(rec.Docno, rec.Positions); err != nil {
				return err
			}
		}
	}
	blocks := w.Blocks()
	for i := range blocks {
		fam.Store(b, &blocks[i])
	}
	return nil
}

func rebuildForward(kv sorted.KeyValue, b sorted.BatchMutation, p dbkey.Prefix, f *family, newsize int) error {
	prefix := dbkey.IndexKey(p, f.typeno, f.inner)
	fam := block.NewFamily(kv, prefix)
	defer fam.Close()
	for _, anchor := range f.anchors {
		fam.Dispose(b, anchor)
	}
	w := block.ForwardBuilder{Max: newsize}
	var item block.ForwardItem
	for i := range f.blocks {
		r := block.NewForwardReader(&f.blocks[i])
		for {
			ok, err := r.Next(&item)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if err := w.Append(item.Pos, item.Value); err != nil {
				return err
			}
		}
	}
	blocks := w.Blocks()
	for i := range blocks {
		fam.Store(b, &blocks[i])
	}
	return nil
}
