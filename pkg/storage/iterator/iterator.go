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

// Package iterator implements the lazy posting iterator algebra:
// join operators over docno/position streams with skip semantics.
//
// Every iterator yields docnos in strictly ascending order. SkipDoc
// and SkipPos are idempotent: repeating a call with the same argument
// returns the same value. 0 means end of stream. Iterator advance
// never fails; underlying storage errors are latched and queried with
// Err at the end of a scan.
package iterator

import "strconv"

// PostingIterator is the contract all posting iterators satisfy,
// concrete leaves and join operators alike.
type PostingIterator interface {
	// SkipDoc returns the smallest matching docno >= docno, or 0.
	SkipDoc(docno uint32) uint32

	// SkipPos returns the smallest matching position >= pos in the
	// current document, or 0. Valid only after a successful SkipDoc.
	SkipPos(pos uint32) uint32

	// DocFrequency returns the advisory global df of the feature.
	DocFrequency() uint64

	// FeatureID returns a stable string uniquely representing the
	// iterator tree, used as a cache key.
	FeatureID() string

	// Clone returns an independently positioned iterator over the
	// same underlying blocks.
	Clone() PostingIterator

	// Err returns the first storage error hit while advancing, if
	// any.
	Err() error
}

// selectSmallerNotNull returns the smaller non-zero of two ids.
func selectSmallerNotNull(a, b uint32) uint32 {
	if a != 0 && (b == 0 || a < b) {
		return a
	}
	return b
}

// firstAllMatch advances all iterators to the smallest docno >= docno
// they all match, or 0.
func firstAllMatch(its []PostingIterator, docno uint32) uint32 {
	if len(its) == 0 {
		return 0
	}
	for {
		matched := true
		for _, it := range its {
			dn := it.SkipDoc(docno)
			if dn == 0 {
				return 0
			}
			if dn > docno {
				docno = dn
				matched = false
				break
			}
		}
		if matched {
			return docno
		}
	}
}

func firstErr(its ...PostingIterator) error {
	for _, it := range its {
		if it == nil {
			continue
		}
		if err := it.Err(); err != nil {
			return err
		}
	}
	return nil
}

func appendInt(id string, v int) string {
	return id + strconv.Itoa(v)
}
