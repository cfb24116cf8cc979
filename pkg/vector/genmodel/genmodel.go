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

// Package genmodel breeds representative fingerprints for similarity
// classes of a sample set with a genetic algorithm: groups of similar
// samples share a genome that mutates under majority vote of randomly
// chosen members, with the mutation rate decaying and the vote count
// growing as a group ages.
package genmodel

import (
	"math"
	"math/rand"
	"sort"

	"strusearch.org/pkg/vector/simhash"
)

// Config are the breeding parameters.
type Config struct {
	// SimDist is the maximal distance of a member to its group
	// genome.
	SimDist int
	// EqDist is the distance under which two groups merge.
	EqDist int
	// Mutations is the number of bits flipped per descendant, scaled
	// down with group age.
	Mutations int
	// Descendants is the number of mutation trials per step, of
	// which the fittest survives.
	Descendants int
	// Votes is the number of members sampled per flipped bit, scaled
	// up with group age.
	Votes int
	// MaxAge bounds the age scaling.
	MaxAge int
	// Iterations is the number of breeding rounds.
	Iterations int
	// Seed makes a run reproducible.
	Seed int64
}

// maxSampleGroups bounds how many groups one sample may belong to.
const maxSampleGroups = 8

// GenModel is a configured breeder. It is immutable; Run does not
// retain state between calls.
type GenModel struct {
	cfg Config
}

// New returns a breeder with the given parameters.
func New(cfg Config) *GenModel {
	if cfg.Descendants < 1 {
		cfg.Descendants = 1
	}
	if cfg.MaxAge < 1 {
		cfg.MaxAge = 1
	}
	return &GenModel{cfg: cfg}
}

type group struct {
	id      uint32
	gencode simhash.SimHash
	age     int
	members []int // sample indices, ascending
}

func (g *group) isMember(idx int) bool {
	i := sort.SearchInts(g.members, idx)
	return i < len(g.members) && g.members[i] == idx
}

func (g *group) addMember(idx int) {
	i := sort.SearchInts(g.members, idx)
	if i < len(g.members) && g.members[i] == idx {
		return
	}
	g.members = append(g.members, 0)
	copy(g.members[i+1:], g.members[i:])
	g.members[i] = idx
	g.age -= g.age / 3
}

func (g *group) removeMember(idx int) {
	i := sort.SearchInts(g.members, idx)
	if i < len(g.members) && g.members[i] == idx {
		g.members = append(g.members[:i], g.members[i+1:]...)
	}
}

// fitness of a candidate genome against the group members:
// (1 + 1/sqrt(mean square distance))^members. Tight and large groups
// win.
func (g *group) fitness(samples []simhash.SimHash, genome simhash.SimHash) float64 {
	if len(g.members) == 0 {
		return 0
	}
	sqrsum := 0.0
	for _, mi := range g.members {
		d := float64(genome.Dist(samples[mi]))
		sqrsum += d * d
	}
	if sqrsum == 0 {
		return math.Inf(1)
	}
	return powUint(1.0+1.0/math.Sqrt(sqrsum/float64(len(g.members))), len(g.members))
}

func powUint(value float64, exp int) float64 {
	rt := 1.0
	if exp&1 == 1 {
		rt = value
	}
	if exp >= 2 {
		rt *= powUint(value*value, exp>>1)
	}
	return rt
}

// kernel returns the agreement mask of the members: bits with the
// same value in every member. Kernel bits never mutate.
func (g *group) kernel(samples []simhash.SimHash) simhash.SimHash {
	if len(g.members) == 0 {
		return g.gencode.Clone()
	}
	first := samples[g.members[0]]
	rt := simhash.New(first.Size(), true)
	for _, mi := range g.members[1:] {
		rt = rt.And(first.Xor(samples[mi]).Not())
	}
	return rt
}

type breeding struct {
	cfg     Config
	rnd     *rand.Rand
	samples []simhash.SimHash

	groups []*group       // insertion order, nil slots for removed
	byID   map[uint32]int // group id -> index in groups
	grpCnt uint32         // id allocator
	sample [][]uint32     // per sample: ids of groups it belongs to
	rel    [][]relation   // per sample: similar samples by distance
}

type relation struct {
	other int
	dist  int
}

func (b *breeding) ageMutations(g *group) int {
	age := g.age
	if age > b.cfg.MaxAge {
		age = b.cfg.MaxAge
	}
	return b.cfg.Mutations * (b.cfg.MaxAge - age) / b.cfg.MaxAge
}

func (b *breeding) ageVotes(g *group) int {
	age := g.age
	if age > b.cfg.MaxAge {
		age = b.cfg.MaxAge
	}
	return b.cfg.Votes*age/b.cfg.MaxAge + 1
}

// mutation breeds one descendant genome: flip up to n non-kernel
// bits, each flip decided by majority of randomly sampled members.
func (b *breeding) mutation(g *group, n, votes int) simhash.SimHash {
	if len(g.members) < 2 {
		return g.gencode.Clone()
	}
	kn := g.kernel(b.samples)
	rt := g.gencode.Clone()
	for mi := 0; mi < n; mi++ {
		mutidx := b.rnd.Intn(g.gencode.Size())
		if kn.Bit(mutidx) {
			continue
		}
		trueCnt, falseCnt := 0, 0
		for ci := 0; ci < votes; ci++ {
			member := g.members[b.rnd.Intn(len(g.members))]
			if b.samples[member].Bit(mutidx) {
				trueCnt++
			} else {
				falseCnt++
			}
		}
		switch {
		case trueCnt > falseCnt:
			rt.Set(mutidx, true)
		case trueCnt < falseCnt:
			rt.Set(mutidx, false)
		default:
			rt.Set(mutidx, g.gencode.Bit(mutidx))
		}
	}
	return rt
}

// mutate breeds descendants and keeps the fittest genome when it
// beats the current one.
func (b *breeding) mutate(g *group) {
	n := b.ageMutations(g)
	votes := b.ageVotes(g)
	best := g.fitness(b.samples, g.gencode)
	var selected simhash.SimHash
	found := false
	for di := 0; di < b.cfg.Descendants; di++ {
		desc := b.mutation(g, n, votes)
		if f := g.fitness(b.samples, desc); f > best {
			best = f
			selected = desc
			found = true
		}
	}
	if found {
		g.gencode = selected
		g.age++
	}
}

func (b *breeding) hasSpace(sidx int) bool {
	return len(b.sample[sidx]) < maxSampleGroups
}

func (b *breeding) shares(s1, s2 int) bool {
	for _, g1 := range b.sample[s1] {
		for _, g2 := range b.sample[s2] {
			if g1 == g2 {
				return true
			}
		}
	}
	return false
}

func (b *breeding) contains(sidx int, id uint32) bool {
	for _, g := range b.sample[sidx] {
		if g == id {
			return true
		}
	}
	return false
}

func (b *breeding) attach(sidx int, id uint32) {
	if !b.contains(sidx, id) {
		b.sample[sidx] = append(b.sample[sidx], id)
	}
}

func (b *breeding) detach(sidx int, id uint32) {
	ids := b.sample[sidx]
	for i, g := range ids {
		if g == id {
			b.sample[sidx] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

func (b *breeding) groupByID(id uint32) *group {
	if i, ok := b.byID[id]; ok {
		return b.groups[i]
	}
	return nil
}

func (b *breeding) newGroup(s1, s2 int) {
	b.grpCnt++
	g := &group{id: b.grpCnt, gencode: b.samples[s1].Clone()}
	g.addMember(s1)
	g.addMember(s2)
	b.mutate(g)
	b.byID[g.id] = len(b.groups)
	b.groups = append(b.groups, g)
	b.attach(s1, g.id)
	b.attach(s2, g.id)
}

func (b *breeding) removeGroup(g *group) {
	for _, mi := range g.members {
		b.detach(mi, g.id)
	}
	b.groups[b.byID[g.id]] = nil
	delete(b.byID, g.id)
}

// tryAddGroupMember adds a candidate to a group if the group's
// fitness does not suffer.
func (b *breeding) tryAddGroupMember(g *group, newMember int) bool {
	trial := &group{id: g.id, gencode: g.gencode.Clone(), age: g.age}
	trial.members = append([]int(nil), g.members...)
	trial.addMember(newMember)
	b.mutate(trial)
	if trial.fitness(b.samples, trial.gencode) >= g.fitness(b.samples, g.gencode) {
		*g = *trial
		b.attach(newMember, g.id)
		return true
	}
	return false
}

// findClosestFreeSample returns the most similar sample to sidx that
// still has group capacity and shares no group with sidx.
func (b *breeding) findClosestFreeSample(sidx int) (int, int, bool) {
	resDist := math.MaxInt32
	resIdx := -1
	for _, r := range b.rel[sidx] {
		if r.dist < resDist && b.hasSpace(r.other) && !b.shares(sidx, r.other) {
			resDist = r.dist
			resIdx = r.other
		}
	}
	return resIdx, resDist, resIdx >= 0
}

// closestOwnGroup returns the first group of sidx whose genome is
// within minDist of the candidate, if any.
func (b *breeding) closestOwnGroup(sidx, candidate, minDist int) *group {
	for _, id := range b.sample[sidx] {
		g := b.groupByID(id)
		if g != nil && b.samples[candidate].Near(g.gencode, minDist) {
			return g
		}
	}
	return nil
}

// Run breeds group representants for the sample set and returns one
// fingerprint per surviving group.
func (m *GenModel) Run(samples []simhash.SimHash) []simhash.SimHash {
	b := &breeding{
		cfg:     m.cfg,
		rnd:     rand.New(rand.NewSource(m.cfg.Seed)),
		samples: samples,
		byID:    make(map[uint32]int),
		sample:  make([][]uint32, len(samples)),
	}
	b.buildRelationMap()

	for iter := 0; iter < b.cfg.Iterations; iter++ {
		b.groupingStep()
		b.neighbourStep()
		b.mutationStep()
	}

	var rt []simhash.SimHash
	for _, g := range b.groups {
		if g != nil {
			rt = append(rt, g.gencode)
		}
	}
	return rt
}

// buildRelationMap precomputes all sample pairs within SimDist.
func (b *breeding) buildRelationMap() {
	b.rel = make([][]relation, len(b.samples))
	for i := 1; i < len(b.samples); i++ {
		for j := 0; j < i; j++ {
			if b.samples[i].Near(b.samples[j], b.cfg.SimDist) {
				d := b.samples[i].Dist(b.samples[j])
				b.rel[i] = append(b.rel[i], relation{other: j, dist: d})
				b.rel[j] = append(b.rel[j], relation{other: i, dist: d})
			}
		}
	}
}

// groupingStep pairs free samples with their closest free neighbour,
// extending an existing group when one already covers the pair better.
func (b *breeding) groupingStep() {
	for sidx := range b.samples {
		if !b.hasSpace(sidx) {
			continue
		}
		candidate, dist, ok := b.findClosestFreeSample(sidx)
		if !ok {
			continue
		}
		if g := b.closestOwnGroup(sidx, candidate, dist); g != nil {
			if b.tryAddGroupMember(g, candidate) {
				continue
			}
		}
		b.newGroup(sidx, candidate)
	}
}

// neighbourStep visits each group's neighbour groups (sharing at
// least one member): groups within EqDist are swallowed, groups
// within SimDist lose one compatible member to the visited group.
func (b *breeding) neighbourStep() {
	for gi := 0; gi < len(b.groups); gi++ {
		g := b.groups[gi]
		if g == nil {
			continue
		}
		seen := map[uint32]bool{}
		var neighbours []uint32
		for _, mi := range g.members {
			for _, id := range b.sample[mi] {
				if id != g.id && !seen[id] {
					seen[id] = true
					neighbours = append(neighbours, id)
				}
			}
		}
		for _, id := range neighbours {
			sim := b.groupByID(id)
			if sim == nil {
				continue
			}
			swallowed := false
			if sim.gencode.Near(g.gencode, b.cfg.EqDist) {
				all := true
				for _, mi := range append([]int(nil), sim.members...) {
					if g.isMember(mi) {
						continue
					}
					if !b.hasSpace(mi) {
						all = false
						break
					}
					g.addMember(mi)
					b.attach(mi, g.id)
					b.mutate(g)
					if !sim.gencode.Near(g.gencode, b.cfg.EqDist) {
						all = false
						break
					}
				}
				if all && sim.fitness(b.samples, sim.gencode) < g.fitness(b.samples, g.gencode) {
					b.removeGroup(sim)
					swallowed = true
				}
			}
			if !swallowed && b.groupByID(id) != nil && g.gencode.Near(sim.gencode, b.cfg.SimDist) {
				for _, mi := range sim.members {
					if !g.isMember(mi) && b.hasSpace(mi) && g.gencode.Near(b.samples[mi], b.cfg.SimDist) {
						if b.tryAddGroupMember(g, mi) {
							break
						}
					}
				}
			}
		}
	}
}

// mutationStep mutates every group, drops members the new genome left
// behind and deletes groups with fewer than two members.
func (b *breeding) mutationStep() {
	for gi := 0; gi < len(b.groups); gi++ {
		g := b.groups[gi]
		if g == nil {
			continue
		}
		b.mutate(g)
		for _, mi := range append([]int(nil), g.members...) {
			if !g.gencode.Near(b.samples[mi], b.cfg.SimDist) {
				g.removeMember(mi)
				b.detach(mi, g.id)
			}
		}
		if len(g.members) < 2 {
			b.removeGroup(g)
		}
	}
}
