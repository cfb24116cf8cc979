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

package statistics

import (
	"encoding/json"
	"reflect"
	"testing"
)

// jsonViewer decodes the JSON test blob format.
type jsonViewer struct {
	Ts      uint64  `json:"ts"`
	NofDocs int64   `json:"nofdocs"`
	Df      [][3]string `json:"df"` // type, value, increment
	next    int
}

func (v *jsonViewer) Timestamp() uint64          { return v.Ts }
func (v *jsonViewer) NofDocumentsChange() int64  { return v.NofDocs }

func (v *jsonViewer) NextDfChange() (string, string, int64, bool, error) {
	if v.next >= len(v.Df) {
		return "", "", 0, false, nil
	}
	rec := v.Df[v.next]
	v.next++
	var inc int64
	if err := json.Unmarshal([]byte(rec[2]), &inc); err != nil {
		return "", "", 0, false, err
	}
	return rec[0], rec[1], inc, true, nil
}

type jsonDecoder struct{}

func (jsonDecoder) Decode(blob []byte) (Viewer, error) {
	var v jsonViewer
	if err := json.Unmarshal(blob, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func blob(t *testing.T, ts uint64, nofDocs int64, df [][3]string) []byte {
	b, err := json.Marshal(jsonViewer{Ts: ts, NofDocs: nofDocs, Df: df})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestApplyAndQuery(t *testing.T) {
	m := NewMap(jsonDecoder{})
	m.AddNofDocumentsInsertedChange(2)
	m.AddDfChange("word", "cat", 2)

	if err := m.Apply("peer1", blob(t, 1, 10, [][3]string{
		{"word", "cat", "3"},
		{"name", "bob", "1"},
	})); err != nil {
		t.Fatal(err)
	}
	if got := m.NofDocuments(); got != 12 {
		t.Errorf("NofDocuments = %d; want 12", got)
	}
	if got := m.Df("word", "cat"); got != 5 {
		t.Errorf("df(word, cat) = %d; want 5", got)
	}
	if got := m.Df("word", "dog"); got != 0 {
		t.Errorf("df(word, dog) = %d; want 0", got)
	}
	if got := m.TypesSeen(); !reflect.DeepEqual(got, []string{"name", "word"}) {
		t.Errorf("TypesSeen = %v", got)
	}
}

func TestReplayDropped(t *testing.T) {
	m := NewMap(jsonDecoder{})
	b := blob(t, 5, 1, [][3]string{{"word", "cat", "1"}})
	for i := 0; i < 3; i++ {
		if err := m.Apply("peer1", b); err != nil {
			t.Fatal(err)
		}
	}
	if got := m.NofDocuments(); got != 1 {
		t.Errorf("NofDocuments after replays = %d; want 1", got)
	}
	// An older stamp from the same peer is dropped too.
	if err := m.Apply("peer1", blob(t, 4, 100, nil)); err != nil {
		t.Fatal(err)
	}
	if got := m.NofDocuments(); got != 1 {
		t.Errorf("NofDocuments after stale blob = %d; want 1", got)
	}
	// Another peer's stamps are independent.
	if err := m.Apply("peer2", blob(t, 1, 2, nil)); err != nil {
		t.Fatal(err)
	}
	if got := m.NofDocuments(); got != 3 {
		t.Errorf("NofDocuments after second peer = %d; want 3", got)
	}
}
