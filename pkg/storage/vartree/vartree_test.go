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

package vartree

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
)

func TestPrefixFamily(t *testing.T) {
	var tr Tree
	pairs := map[string]uint32{"apple": 1, "applet": 2, "apply": 3}
	for k, v := range pairs {
		if err := tr.Set(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for k, v := range pairs {
		got, ok := tr.Get(k)
		if !ok || got != v {
			t.Errorf("Get(%q) = %d, %v; want %d", k, got, ok, v)
		}
	}
	if _, ok := tr.Get("app"); ok {
		t.Error("Get(app) found a value; want absent")
	}
	if _, ok := tr.Get("applets"); ok {
		t.Error("Get(applets) found a value; want absent")
	}
	var keys []string
	if err := tr.Walk(func(k string, v uint32) error {
		keys = append(keys, k)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	want := []string{"apple", "applet", "apply"}
	if fmt.Sprint(keys) != fmt.Sprint(want) {
		t.Errorf("walk order %v; want %v", keys, want)
	}
}

func TestUpdateExisting(t *testing.T) {
	var tr Tree
	if err := tr.Set("cat", 1); err != nil {
		t.Fatal(err)
	}
	if err := tr.Set("cat", 9); err != nil {
		t.Fatal(err)
	}
	if v, ok := tr.Get("cat"); !ok || v != 9 {
		t.Errorf("Get(cat) = %d, %v; want 9", v, ok)
	}
	if tr.Len() != 1 {
		t.Errorf("Len = %d; want 1", tr.Len())
	}
}

func TestPromotion(t *testing.T) {
	// 200 distinct first bytes force the root through every class up
	// to 256.
	var tr Tree
	for i := 0; i < 200; i++ {
		key := string([]byte{byte(i)}) + "x"
		if err := tr.Set(key, uint32(i+1)); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 200; i++ {
		key := string([]byte{byte(i)}) + "x"
		if v, ok := tr.Get(key); !ok || v != uint32(i+1) {
			t.Errorf("Get(%q) = %d, %v; want %d", key, v, ok, i+1)
		}
	}
}

func TestRandomRoundTripAndOrder(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	ref := map[string]uint32{}
	var tr Tree
	next := uint32(1)
	for i := 0; i < 5000; i++ {
		n := rnd.Intn(12) + 1
		b := make([]byte, n)
		for j := range b {
			b[j] = byte('a' + rnd.Intn(26))
		}
		key := string(b)
		if _, dup := ref[key]; dup {
			continue
		}
		ref[key] = next
		if err := tr.Set(key, next); err != nil {
			t.Fatal(err)
		}
		next++
	}
	if tr.Len() != len(ref) {
		t.Fatalf("Len = %d; want %d", tr.Len(), len(ref))
	}
	for k, v := range ref {
		got, ok := tr.Get(k)
		if !ok || got != v {
			t.Fatalf("Get(%q) = %d, %v; want %d", k, got, ok, v)
		}
	}
	var got []string
	if err := tr.Walk(func(k string, v uint32) error {
		if ref[k] != v {
			t.Fatalf("walk yields (%q, %d); want value %d", k, v, ref[k])
		}
		got = append(got, k)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	want := make([]string, 0, len(ref))
	for k := range ref {
		want = append(want, k)
	}
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("walk yielded %d keys; want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("walk order diverges at %d: %q vs %q", i, got[i], want[i])
		}
	}
}

func TestSentinelByteRejected(t *testing.T) {
	var tr Tree
	if err := tr.Set("a\xffb", 1); err != ErrCorrupt {
		t.Errorf("Set with 0xFF byte = %v; want ErrCorrupt", err)
	}
}
