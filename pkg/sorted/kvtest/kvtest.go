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

// Package kvtest tests sorted.KeyValue implementations.
package kvtest

import (
	"reflect"
	"testing"

	"strusearch.org/pkg/sorted"
)

func TestSorted(t *testing.T, kv sorted.KeyValue) {
	if !isEmpty(t, kv) {
		t.Fatal("kv for test is expected to be initially empty")
	}
	set := func(k, v string) {
		if err := kv.Set(k, v); err != nil {
			t.Fatalf("Error setting %q to %q: %v", k, v, err)
		}
	}
	set("foo", "bar")
	if isEmpty(t, kv) {
		t.Fatalf("iterator reports the kv is empty after adding foo=bar; iterator must be broken")
	}
	if v, err := kv.Get("foo"); err != nil || v != "bar" {
		t.Errorf("get(foo) = %q, %v; want bar", v, err)
	}
	if v, err := kv.Get("NOT_EXIST"); err != sorted.ErrNotFound {
		t.Errorf("get(NOT_EXIST) = %q, %v; want error sorted.ErrNotFound", v, err)
	}
	for i := 0; i < 2; i++ {
		if err := kv.Delete("foo"); err != nil {
			t.Errorf("Delete(foo) (on loop %d/2) returned error %v", i+1, err)
		}
	}
	set("a", "av")
	set("b", "bv")
	set("c", "cv")
	testEnumerate(t, kv, "", "", "av", "bv", "cv")
	testEnumerate(t, kv, "a", "", "av", "bv", "cv")
	testEnumerate(t, kv, "b", "", "bv", "cv")
	testEnumerate(t, kv, "a", "c", "av", "bv")
	testEnumerate(t, kv, "a", "b", "av")
	testEnumerate(t, kv, "a", "a")
	testEnumerate(t, kv, "d", "")
	testEnumerate(t, kv, "d", "e")

	// Verify that the value isn't being used instead of the key in
	// the range comparison.
	set("y", "x:foo")
	testEnumerate(t, kv, "x:", "x~")

	testBatch(t, kv)
	testCursor(t, kv)

	if err := kv.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
}

func testBatch(t *testing.T, kv sorted.KeyValue) {
	b := kv.BeginBatch()
	b.Set("batch|a", "a")
	b.Set("batch|b", "b")
	b.Delete("batch|a")
	if err := kv.CommitBatch(b); err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}
	if _, err := kv.Get("batch|a"); err != sorted.ErrNotFound {
		t.Errorf("batch|a survived batch delete; want ErrNotFound, got %v", err)
	}
	if v, err := kv.Get("batch|b"); err != nil || v != "b" {
		t.Errorf("get(batch|b) = %q, %v; want b", v, err)
	}
	if err := kv.Delete("batch|b"); err != nil {
		t.Fatal(err)
	}
}

func testCursor(t *testing.T, kv sorted.KeyValue) {
	for _, k := range []string{"cur|a", "cur|b", "cur|c", "cus|x"} {
		if err := kv.Set(k, "v:"+k); err != nil {
			t.Fatal(err)
		}
	}
	c := kv.NewCursor()
	defer func() {
		if err := c.Close(); err != nil {
			t.Fatalf("cursor Close: %v", err)
		}
	}()

	if !c.SeekFirst("cur|") || c.Key() != "cur|a" {
		t.Fatalf("SeekFirst(cur|) = %q; want cur|a", c.Key())
	}
	if !c.SeekNext() || c.Key() != "cur|b" {
		t.Fatalf("SeekNext = %q; want cur|b", c.Key())
	}
	if !c.SeekPrev() || c.Key() != "cur|a" {
		t.Fatalf("SeekPrev = %q; want cur|a", c.Key())
	}
	if !c.SeekLast("cur|") || c.Key() != "cur|c" {
		t.Fatalf("SeekLast(cur|) = %q; want cur|c", c.Key())
	}
	if c.Value() != "v:cur|c" {
		t.Fatalf("Value = %q; want v:cur|c", c.Value())
	}
	if !c.SeekUpperBound("cur|b", len("cur|")) || c.Key() != "cur|b" {
		t.Fatalf("SeekUpperBound(cur|b) = %q; want cur|b", c.Key())
	}
	if !c.SeekUpperBound("cur|bb", len("cur|")) || c.Key() != "cur|c" {
		t.Fatalf("SeekUpperBound(cur|bb) = %q; want cur|c", c.Key())
	}
	if c.SeekUpperBound("cur|d", len("cur|")) {
		t.Fatalf("SeekUpperBound(cur|d) = %q; want miss", c.Key())
	}
	if c.SeekFirst("nothing|") {
		t.Fatalf("SeekFirst(nothing|) = %q; want miss", c.Key())
	}
	if c.SeekLast("nothing|") {
		t.Fatalf("SeekLast(nothing|) = %q; want miss", c.Key())
	}
	if err := c.Err(); err != nil {
		t.Fatalf("cursor Err: %v", err)
	}
	for _, k := range []string{"cur|a", "cur|b", "cur|c", "cus|x", "y"} {
		if err := kv.Delete(k); err != nil {
			t.Fatal(err)
		}
	}
}

func testEnumerate(t *testing.T, kv sorted.KeyValue, start, end string, want ...string) {
	var got []string
	it := kv.Find(start, end)
	for it.Next() {
		key, val := it.Key(), it.Value()
		if key < start {
			t.Errorf("got key %q; < start %q", key, start)
		}
		if end != "" && key >= end {
			t.Errorf("got key %q; >= end %q", key, end)
		}
		got = append(got, val)
	}
	err := it.Close()
	if err != nil {
		t.Errorf("for enumerate of (%q, %q), Close error: %v", start, end, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("for enumerate of (%q, %q), got: %q; want %q", start, end, got, want)
	}
}

func isEmpty(t *testing.T, kv sorted.KeyValue) bool {
	it := kv.Find("", "")
	hasRow := it.Next()
	if err := it.Close(); err != nil {
		t.Fatalf("Error closing iterator while testing for emptiness: %v", err)
	}
	return !hasRow
}
