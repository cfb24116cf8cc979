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

// Difference yields the positive stream with the positions the
// negative stream shares in the same document filtered out.
type Difference struct {
	docno     uint32
	docnoNeg  uint32
	positive  PostingIterator
	negative  PostingIterator
	featureID string
}

// NewDifference returns positive with negative's matches removed.
func NewDifference(positive, negative PostingIterator) *Difference {
	return &Difference{
		positive:  positive,
		negative:  negative,
		featureID: positive.FeatureID() + negative.FeatureID() + "N",
	}
}

func (d *Difference) SkipDoc(docno uint32) uint32 {
	d.docno = d.positive.SkipDoc(docno)
	if d.docno != 0 {
		d.docnoNeg = d.negative.SkipDoc(d.docno)
	}
	return d.docno
}

func (d *Difference) SkipPos(pos uint32) uint32 {
	if d.docno == 0 {
		return 0
	}
	for {
		posPositive := d.positive.SkipPos(pos)
		if posPositive == 0 {
			return 0
		}
		if d.docnoNeg == d.docno {
			posNegative := d.negative.SkipPos(posPositive)
			if posNegative == posPositive {
				pos = posPositive + 1
				continue
			}
		}
		return posPositive
	}
}

func (d *Difference) DocFrequency() uint64 { return d.positive.DocFrequency() }

func (d *Difference) FeatureID() string { return d.featureID }

func (d *Difference) Clone() PostingIterator {
	return &Difference{
		docno:     d.docno,
		docnoNeg:  d.docnoNeg,
		positive:  d.positive.Clone(),
		negative:  d.negative.Clone(),
		featureID: d.featureID,
	}
}

func (d *Difference) Err() error { return firstErr(d.positive, d.negative) }
