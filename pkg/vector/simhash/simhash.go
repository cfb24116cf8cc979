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

// Package simhash implements the similarity fingerprint: a bit vector
// packed into 64 bit words, compared by Hamming distance.
//
// Bit i of a fingerprint is bit 63-(i mod 64) of word i/64.
package simhash

import (
	"math/bits"
	"strings"
)

const wordBits = 64

// SimHash is a fingerprint. The zero value is an empty fingerprint.
type SimHash struct {
	ar   []uint64
	size int
}

// New returns a fingerprint of the given size with every bit set to
// initval.
func New(size int, initval bool) SimHash {
	n := (size + wordBits - 1) / wordBits
	ar := make([]uint64, n)
	if initval {
		for i := range ar {
			ar[i] = ^uint64(0)
		}
		if rest := size % wordBits; rest != 0 {
			ar[n-1] &^= ^uint64(0) >> uint(rest)
		}
	}
	return SimHash{ar: ar, size: size}
}

// FromBits packs a bool slice into a fingerprint.
func FromBits(bv []bool) SimHash {
	rt := New(len(bv), false)
	for i, b := range bv {
		if b {
			rt.Set(i, true)
		}
	}
	return rt
}

// Size returns the number of bits represented.
func (s SimHash) Size() int { return s.size }

// Bit returns the value of bit idx.
func (s SimHash) Bit(idx int) bool {
	return s.ar[idx/wordBits]&(1<<uint(wordBits-1-idx%wordBits)) != 0
}

// Set sets bit idx to value.
func (s SimHash) Set(idx int, value bool) {
	mask := uint64(1) << uint(wordBits-1-idx%wordBits)
	if value {
		s.ar[idx/wordBits] |= mask
	} else {
		s.ar[idx/wordBits] &^= mask
	}
}

// Clone returns an independent copy.
func (s SimHash) Clone() SimHash {
	ar := make([]uint64, len(s.ar))
	copy(ar, s.ar)
	return SimHash{ar: ar, size: s.size}
}

// Dist returns the Hamming distance: the number of bits with
// different values.
func (s SimHash) Dist(o SimHash) int {
	rt := 0
	n := len(s.ar)
	if len(o.ar) < n {
		n = len(o.ar)
	}
	for i := 0; i < n; i++ {
		rt += bits.OnesCount64(s.ar[i] ^ o.ar[i])
	}
	for i := n; i < len(s.ar); i++ {
		rt += bits.OnesCount64(s.ar[i])
	}
	for i := n; i < len(o.ar); i++ {
		rt += bits.OnesCount64(o.ar[i])
	}
	return rt
}

// Near reports whether the distance is within maxDist, stopping as
// soon as the bound is exceeded.
func (s SimHash) Near(o SimHash, maxDist int) bool {
	sum := 0
	n := len(s.ar)
	if len(o.ar) < n {
		n = len(o.ar)
	}
	for i := 0; i < n; i++ {
		sum += bits.OnesCount64(s.ar[i] ^ o.ar[i])
		if sum > maxDist {
			return false
		}
	}
	for i := n; i < len(s.ar); i++ {
		sum += bits.OnesCount64(s.ar[i])
		if sum > maxDist {
			return false
		}
	}
	for i := n; i < len(o.ar); i++ {
		sum += bits.OnesCount64(o.ar[i])
		if sum > maxDist {
			return false
		}
	}
	return true
}

// Count returns the number of bits set to 1.
func (s SimHash) Count() int {
	rt := 0
	for _, w := range s.ar {
		rt += bits.OnesCount64(w)
	}
	return rt
}

// Indices returns the indices of all bits with the given value.
func (s SimHash) Indices(what bool) []int {
	var rt []int
	for i := 0; i < s.size; i++ {
		if s.Bit(i) == what {
			rt = append(rt, i)
		}
	}
	return rt
}

// Xor returns the bitwise difference mask of two fingerprints.
func (s SimHash) Xor(o SimHash) SimHash { return s.binop(o, func(a, b uint64) uint64 { return a ^ b }) }

// And returns the bitwise conjunction.
func (s SimHash) And(o SimHash) SimHash { return s.binop(o, func(a, b uint64) uint64 { return a & b }) }

// Or returns the bitwise disjunction.
func (s SimHash) Or(o SimHash) SimHash { return s.binop(o, func(a, b uint64) uint64 { return a | b }) }

// Not returns the bitwise complement.
func (s SimHash) Not() SimHash {
	rt := SimHash{ar: make([]uint64, len(s.ar)), size: s.size}
	for i, w := range s.ar {
		rt.ar[i] = ^w
	}
	if rest := s.size % wordBits; rest != 0 && len(rt.ar) > 0 {
		rt.ar[len(rt.ar)-1] &^= ^uint64(0) >> uint(rest)
	}
	return rt
}

func (s SimHash) binop(o SimHash, f func(a, b uint64) uint64) SimHash {
	n := len(s.ar)
	size := s.size
	if len(o.ar) > n {
		n = len(o.ar)
	}
	if o.size > size {
		size = o.size
	}
	rt := SimHash{ar: make([]uint64, n), size: size}
	for i := range rt.ar {
		var a, b uint64
		if i < len(s.ar) {
			a = s.ar[i]
		}
		if i < len(o.ar) {
			b = o.ar[i]
		}
		rt.ar[i] = f(a, b)
	}
	return rt
}

// String renders the bits as '0' and '1' groups of 64, separated by
// '|'.
func (s SimHash) String() string {
	var sb strings.Builder
	for i := 0; i < s.size; i++ {
		if i > 0 && i%wordBits == 0 {
			sb.WriteByte('|')
		}
		if s.Bit(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
