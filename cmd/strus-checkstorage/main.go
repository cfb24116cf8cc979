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

// The strus-checkstorage tool walks the entire key space of a
// storage, decoding every key/value pair through its typed reader,
// and reports the number of corrupt entries. Exit status 0 means a
// clean storage.
//
// Usage: strus-checkstorage <config>
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sync/atomic"

	"go4.org/jsonconfig"
	"golang.org/x/sync/errgroup"

	"strusearch.org/pkg/sorted"
	_ "strusearch.org/pkg/sorted/badger"
	_ "strusearch.org/pkg/sorted/kvfile"
	_ "strusearch.org/pkg/sorted/leveldb"
	"strusearch.org/pkg/storage"
	"strusearch.org/pkg/storage/block"
	"strusearch.org/pkg/storage/dbkey"
)

// families are all defined key prefixes, checked in parallel.
var families = []dbkey.Prefix{
	dbkey.TermType, dbkey.TermValue, dbkey.DocID, dbkey.Variable,
	dbkey.AttribName, dbkey.UserName, dbkey.TermTypeInv, dbkey.TermValueInv,
	dbkey.ForwardIndex, dbkey.PosinfoBlock, dbkey.InverseTerm,
	dbkey.UserAclBlock, dbkey.AclBlock, dbkey.DocListBlock,
	dbkey.DocMetaData, dbkey.DocAttribute, dbkey.DocFrequency,
	dbkey.MetaDataDescr,
}

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

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: strus-checkstorage <config>")
		os.Exit(2)
	}
	kv, err := openKV(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer kv.Close()

	var desc *block.MetaDescription
	if descStr, err := kv.Get(dbkey.IndexKey(dbkey.MetaDataDescr)); err == nil {
		if desc, err = block.ParseMetaDescription(descStr); err != nil {
			log.Fatal(err)
		}
	}

	var checked, failed atomic.Int64
	var g errgroup.Group
	for _, p := range families {
		p := p
		g.Go(func() error {
			prefix := string(p)
			it := kv.Find(prefix, dbkey.PrefixEnd(prefix))
			for it.Next() {
				checked.Add(1)
				if _, err := storage.DecodeEntry(desc, it.Key(), it.Value()); err != nil {
					failed.Add(1)
					log.Printf("%s: key % x: %v", p.Name(), it.Key(), err)
				}
			}
			return it.Close()
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("checked %d entries, %d errors\n", checked.Load(), failed.Load())
	if failed.Load() > 0 {
		os.Exit(1)
	}
}
