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

// Pred shifts an inner stream one position left: it matches at p
// where the inner feature matches at p+1.
type Pred struct {
	origin    PostingIterator
	featureID string
}

// NewPred wraps origin as its positional predecessor.
func NewPred(origin PostingIterator) *Pred {
	return &Pred{origin: origin, featureID: origin.FeatureID() + "<"}
}

func (p *Pred) SkipDoc(docno uint32) uint32 {
	return p.origin.SkipDoc(docno)
}

func (p *Pred) SkipPos(pos uint32) uint32 {
	rt := p.origin.SkipPos(pos + 1)
	if rt == 0 {
		return 0
	}
	return rt - 1
}

func (p *Pred) DocFrequency() uint64 { return p.origin.DocFrequency() }

func (p *Pred) FeatureID() string { return p.featureID }

func (p *Pred) Clone() PostingIterator {
	return &Pred{origin: p.origin.Clone(), featureID: p.featureID}
}

func (p *Pred) Err() error { return p.origin.Err() }
