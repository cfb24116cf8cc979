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

// Package lsh derives similarity fingerprints from dense vectors by
// random projection: the input dimensions are partitioned into bins,
// each bin contributing one "bin above mean" bit, repeated over a set
// of random rotations of the input space.
package lsh

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"strusearch.org/pkg/vector/simhash"
)

// ErrDimensionMismatch is returned when an input vector does not have
// the model's dimension.
var ErrDimensionMismatch = errors.New("lsh: vector dimension does not match model")

// Model is an immutable fingerprint model. It is safe for concurrent
// use once built.
type Model struct {
	dim        int
	variations int
	width      int

	proj [][]float64   // variations x dim
	rot  [][][]float64 // width-1 rotations, dim x dim each
}

// NewModel builds a model for vectors of the given dimension,
// producing variations bits per rotation and width rotations
// (width 1 means the identity only). The construction is
// deterministic in seed.
func NewModel(dim, variations, width int, seed int64) (*Model, error) {
	if dim <= 0 || variations <= 0 || variations > dim || width <= 0 {
		return nil, fmt.Errorf("lsh: invalid model shape dim=%d variations=%d width=%d", dim, variations, width)
	}
	m := &Model{
		dim:        dim,
		variations: variations,
		width:      width,
		proj:       projectionMatrix(dim, variations),
	}
	rnd := rand.New(rand.NewSource(seed))
	for r := 1; r < width; r++ {
		m.rot = append(m.rot, randomRotation(dim, rnd))
	}
	return m, nil
}

// projectionMatrix partitions the dim input columns into variations
// contiguous windows. Row i weighs its window positively and the rest
// negatively so that the projection compares the window against the
// remaining mass; the sign bit then encodes "bin above mean".
func projectionMatrix(dim, variations int) [][]float64 {
	w := (dim + variations - 1) / variations
	rt := make([][]float64, variations)
	for i := range rt {
		ci := i * w
		ce := ci + w
		if ce > dim {
			ce = dim
		}
		in := 1.0 / float64(ce-ci)
		out := -1.0 / float64(dim-(ce-ci))
		row := make([]float64, dim)
		for j := range row {
			if j >= ci && j < ce {
				row[j] = in
			} else {
				row[j] = out
			}
		}
		rt[i] = row
	}
	return rt
}

// randomRotation draws a random orthonormal matrix by Gram-Schmidt on
// a Gaussian random matrix.
func randomRotation(dim int, rnd *rand.Rand) [][]float64 {
	rt := make([][]float64, dim)
	for i := range rt {
		row := make([]float64, dim)
		for {
			for j := range row {
				row[j] = rnd.NormFloat64()
			}
			for _, prev := range rt[:i] {
				dot := 0.0
				for j := range row {
					dot += row[j] * prev[j]
				}
				for j := range row {
					row[j] -= dot * prev[j]
				}
			}
			norm := 0.0
			for _, x := range row {
				norm += x * x
			}
			norm = math.Sqrt(norm)
			if norm > 1e-9 {
				for j := range row {
					row[j] /= norm
				}
				break
			}
		}
		rt[i] = row
	}
	return rt
}

// Dim returns the input dimension.
func (m *Model) Dim() int { return m.dim }

// Bits returns the fingerprint length: variations times width.
func (m *Model) Bits() int { return m.variations * m.width }

// SimHash computes the fingerprint of a vector.
func (m *Model) SimHash(v []float64) (simhash.SimHash, error) {
	if len(v) != m.dim {
		return simhash.SimHash{}, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), m.dim)
	}
	rt := simhash.New(m.Bits(), false)
	m.emit(rt, 0, v)
	if m.width > 1 {
		rotated := make([]float64, m.dim)
		for r, rot := range m.rot {
			for i := range rotated {
				sum := 0.0
				for j, x := range v {
					sum += rot[i][j] * x
				}
				rotated[i] = sum
			}
			m.emit(rt, (r+1)*m.variations, rotated)
		}
	}
	return rt, nil
}

func (m *Model) emit(dst simhash.SimHash, base int, v []float64) {
	for i, row := range m.proj {
		sum := 0.0
		for j, x := range v {
			sum += row[j] * x
		}
		if sum >= 0 {
			dst.Set(base+i, true)
		}
	}
}
