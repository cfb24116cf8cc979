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

	"strusearch.org/pkg/sorted"
	"strusearch.org/pkg/storage/dbkey"
)

// Variable names under the 'V' prefix.
const (
	varTermNo    = "TermNo"
	varTypeNo    = "TypeNo"
	varDocNo     = "DocNo"
	varAttribNo  = "AttribNo"
	varUserNo    = "UserNo"
	varNofDocs   = "NofDocs"
	varByteOrder = "ByteOrderMark"
	varVersion   = "Version"
	varWithACL   = "WithAcl"
)

// Storage format version, major*1000 + minor. A major mismatch
// refuses open.
const (
	versionMajor = 0
	versionMinor = 2
	versionValue = versionMajor*1000 + versionMinor
)

// byteOrderValue is the bytes 0x01,0x02,0x03,0x04 read as a native
// u32 on the writing machine. The persistent format fixes
// little-endian, so a matching check proves both sides agree.
const byteOrderValue = 0x04030201

func variableKey(name string) string {
	k, err := dbkey.NameKey(dbkey.Variable, name)
	if err != nil {
		panic(err) // variable names are compile-time constants
	}
	return k
}

// readVariable reads a packed integer variable. Missing variables
// read as (0, false).
func readVariable(kv sorted.KeyValue, name string) (uint64, bool, error) {
	v, err := kv.Get(variableKey(name))
	if err == sorted.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	rt, err := dbkey.UnpackUint(v)
	if err != nil {
		return 0, false, fmt.Errorf("variable %q: %v", name, err)
	}
	return rt, true, nil
}

// setVariable stages a packed integer variable into a batch.
func setVariable(b sorted.BatchMutation, name string, value uint64) {
	b.Set(variableKey(name), dbkey.PackUint(value))
}
