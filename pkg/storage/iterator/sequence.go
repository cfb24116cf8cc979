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

// Sequence matches an ordered sequence of features within a position
// range, optionally forbidding a cutter feature inside the matched
// window. The sign of the range selects whether a match reports the
// window start (positive) or the window end (negative).
type Sequence struct {
	docno     uint32
	docnoCut  uint32
	rng       int
	seq       []PostingIterator
	cut       PostingIterator
	featureID string
}

// NewSequence builds the sequence join. cut may be nil.
func NewSequence(args []PostingIterator, rng int, cut PostingIterator) *Sequence {
	id := ""
	for _, a := range args {
		id += a.FeatureID()
	}
	if cut != nil {
		id += cut.FeatureID() + "C"
	}
	if rng != 0 {
		id = appendInt(id, rng) + "R"
	}
	return &Sequence{rng: rng, seq: args, cut: cut, featureID: id + "S"}
}

func (s *Sequence) SkipDoc(docno uint32) uint32 {
	s.docno = firstAllMatch(s.seq, docno)
	if s.docno != 0 && s.cut != nil && s.cut.SkipDoc(s.docno) == s.docno {
		s.docnoCut = s.docno
	}
	return s.docno
}

func (s *Sequence) SkipPos(pos uint32) uint32 {
	if len(s.seq) == 0 {
		return 0
	}
	rangeNum := uint32(s.rng)
	if s.rng < 0 {
		rangeNum = uint32(-s.rng)
	}
	posIter := pos
	for {
		minPos := s.seq[0].SkipPos(posIter)
		if minPos == 0 {
			return 0
		}
		maxPos := minPos
		overflow := false
		for _, it := range s.seq[1:] {
			maxPos = it.SkipPos(maxPos + 1)
			if maxPos == 0 {
				return 0
			}
			if maxPos-minPos > rangeNum {
				posIter = minPos + 1
				overflow = true
				break
			}
		}
		if overflow {
			continue
		}
		if s.docnoCut == s.docno && s.cut != nil {
			posCut := s.cut.SkipPos(minPos)
			if posCut != 0 && posCut <= maxPos {
				posIter = minPos + 1
				continue
			}
		}
		if s.rng >= 0 {
			return minPos
		}
		return maxPos
	}
}

// DocFrequency estimates with the smallest sequence element df.
func (s *Sequence) DocFrequency() uint64 {
	var min uint64
	for i, it := range s.seq {
		df := it.DocFrequency()
		if i == 0 || df < min {
			min = df
		}
	}
	return min
}

func (s *Sequence) FeatureID() string { return s.featureID }

func (s *Sequence) Clone() PostingIterator {
	seq := make([]PostingIterator, len(s.seq))
	for i, it := range s.seq {
		seq[i] = it.Clone()
	}
	var cut PostingIterator
	if s.cut != nil {
		cut = s.cut.Clone()
	}
	return &Sequence{
		docno:     s.docno,
		docnoCut:  s.docnoCut,
		rng:       s.rng,
		seq:       seq,
		cut:       cut,
		featureID: s.featureID,
	}
}

func (s *Sequence) Err() error {
	if err := firstErr(s.seq...); err != nil {
		return err
	}
	return firstErr(s.cut)
}
