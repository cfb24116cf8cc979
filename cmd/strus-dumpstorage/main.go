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

// The strus-dumpstorage tool walks a storage and pretty-prints every
// record, optionally restricted to one key family.
//
// Usage: strus-dumpstorage [--prefix=<family>] <config>
//
// The config is a semicolon-delimited option string naming the
// key/value driver and its options, e.g. "type=leveldb; file=/data/db".
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go4.org/jsonconfig"

	"strusearch.org/pkg/sorted"
	_ "strusearch.org/pkg/sorted/badger"
	_ "strusearch.org/pkg/sorted/kvfile"
	_ "strusearch.org/pkg/sorted/leveldb"
	"strusearch.org/pkg/storage"
	"strusearch.org/pkg/storage/block"
	"strusearch.org/pkg/storage/dbkey"
)

var flagPrefix = flag.String("prefix", "", "restrict the dump to one key family (single prefix character)")

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
		fmt.Fprintln(os.Stderr, "usage: strus-dumpstorage [--prefix=<family>] <config>")
		os.Exit(2)
	}
	if len(*flagPrefix) > 1 {
		log.Fatalf("invalid --prefix %q: one character expected", *flagPrefix)
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

	it := kv.Find(*flagPrefix, dbkey.PrefixEnd(*flagPrefix))
	for it.Next() {
		text, err := storage.DecodeEntry(desc, it.Key(), it.Value())
		if err != nil {
			log.Fatalf("key % x: %v", it.Key(), err)
		}
		fmt.Println(text)
	}
	if err := it.Close(); err != nil {
		log.Fatal(err)
	}
}
