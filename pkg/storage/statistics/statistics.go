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

// Package statistics aggregates the global collection statistics of a
// distributed index: total document count and per-term document
// frequencies, merged from peer-produced statistics blobs.
//
// The blob wire format is opaque here; callers inject a Decoder.
package statistics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Viewer yields the decoded content of one statistics blob.
type Viewer interface {
	// Timestamp is the peer-local monotonic stamp of the blob, used
	// to make replays idempotent.
	Timestamp() uint64

	// NofDocumentsChange is the change of the number of documents
	// inserted.
	NofDocumentsChange() int64

	// NextDfChange returns the next df change of the blob, or
	// ok=false at its end.
	NextDfChange() (termType, termValue string, increment int64, ok bool, err error)
}

// Decoder decodes a statistics blob into a Viewer.
type Decoder interface {
	Decode(blob []byte) (Viewer, error)
}

// termKey separates type and value with a byte that occurs in
// neither.
func termKey(termType, termValue string) string {
	return termType + "\x01" + termValue
}

// Map accumulates document count and df changes, locally produced and
// merged from peers.
type Map struct {
	decoder Decoder

	mu      sync.Mutex
	df      map[string]int64
	nofDocs int64
	peers   map[string]uint64 // peer id -> last applied timestamp
}

// NewMap returns an empty statistics map using decoder for peer
// blobs.
func NewMap(decoder Decoder) *Map {
	return &Map{
		decoder: decoder,
		df:      make(map[string]int64),
		peers:   make(map[string]uint64),
	}
}

// AddNofDocumentsInsertedChange applies a local document count
// change.
func (m *Map) AddNofDocumentsInsertedChange(increment int64) {
	m.mu.Lock()
	m.nofDocs += increment
	m.mu.Unlock()
}

// AddDfChange applies a local df change.
func (m *Map) AddDfChange(termType, termValue string, increment int64) {
	m.mu.Lock()
	m.df[termKey(termType, termValue)] += increment
	m.mu.Unlock()
}

// Apply merges one peer blob. A blob whose timestamp is not larger
// than the last one applied for the peer is dropped without effect.
func (m *Map) Apply(peerID string, blob []byte) error {
	viewer, err := m.decoder.Decode(blob)
	if err != nil {
		return fmt.Errorf("statistics blob of peer %q: %v", peerID, err)
	}
	// Decode outside the lock; stage the changes, then publish.
	type dfChange struct {
		key string
		inc int64
	}
	var changes []dfChange
	for {
		typ, val, inc, ok, err := viewer.NextDfChange()
		if err != nil {
			return fmt.Errorf("statistics blob of peer %q: %v", peerID, err)
		}
		if !ok {
			break
		}
		changes = append(changes, dfChange{termKey(typ, val), inc})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := viewer.Timestamp(); ts <= m.peers[peerID] {
		return nil
	} else {
		m.peers[peerID] = ts
	}
	m.nofDocs += viewer.NofDocumentsChange()
	for _, c := range changes {
		m.df[c.key] += c.inc
	}
	return nil
}

// NofDocuments returns the aggregated global document count.
func (m *Map) NofDocuments() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nofDocs
}

// Df returns the aggregated document frequency of a term.
func (m *Map) Df(termType, termValue string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.df[termKey(termType, termValue)]
}

// TypesSeen returns the sorted term types with any df recorded.
func (m *Map) TypesSeen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for k := range m.df {
		if i := strings.IndexByte(k, '\x01'); i >= 0 {
			seen[k[:i]] = true
		}
	}
	rt := make([]string, 0, len(seen))
	for typ := range seen {
		rt = append(rt, typ)
	}
	sort.Strings(rt)
	return rt
}
