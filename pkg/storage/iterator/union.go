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

package iterator

// Union merges two posting streams. A position query consults only
// the inputs positioned on the current docno.
type Union struct {
	docno      uint32
	first      PostingIterator
	second     PostingIterator
	openFirst  bool
	openSecond bool
	featureID  string
}

// NewUnion returns the union of two posting streams.
func NewUnion(first, second PostingIterator) *Union {
	return &Union{
		first:     first,
		second:    second,
		featureID: first.FeatureID() + second.FeatureID() + "U",
	}
}

// NewUnionAll folds a union tree over any number of streams.
func NewUnionAll(its ...PostingIterator) PostingIterator {
	if len(its) == 0 {
		return nil
	}
	rt := its[0]
	for _, it := range its[1:] {
		rt = NewUnion(rt, it)
	}
	return rt
}

func (u *Union) SkipDoc(docno uint32) uint32 {
	docnoFirst := u.first.SkipDoc(docno)
	docnoSecond := u.second.SkipDoc(docno)

	rt := selectSmallerNotNull(docnoFirst, docnoSecond)
	if rt != 0 {
		u.docno = rt
		u.openFirst = docnoFirst == rt
		u.openSecond = docnoSecond == rt
	}
	return rt
}

func (u *Union) SkipPos(pos uint32) uint32 {
	var posFirst, posSecond uint32
	if u.openFirst {
		posFirst = u.first.SkipPos(pos)
	}
	if u.openSecond {
		posSecond = u.second.SkipPos(pos)
	}
	return selectSmallerNotNull(posFirst, posSecond)
}

func (u *Union) DocFrequency() uint64 {
	df1, df2 := u.first.DocFrequency(), u.second.DocFrequency()
	if df1 > df2 {
		return df1
	}
	return df2
}

func (u *Union) FeatureID() string { return u.featureID }

func (u *Union) Clone() PostingIterator {
	return &Union{
		docno:      u.docno,
		first:      u.first.Clone(),
		second:     u.second.Clone(),
		openFirst:  u.openFirst,
		openSecond: u.openSecond,
		featureID:  u.featureID,
	}
}

func (u *Union) Err() error { return firstErr(u.first, u.second) }
