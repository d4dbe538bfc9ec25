/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package wstr

import "testing"

func TestInsertLookupDeleteRoundTrip(t *testing.T) {
	tbl := NewTable(0)
	k := Of("java/lang/String")
	if prev := tbl.Insert(k, 42); prev != nil {
		t.Fatalf("expected nil previous value, got %v", prev)
	}
	if got := tbl.Lookup(k); got != 42 {
		t.Fatalf("lookup = %v, want 42", got)
	}
	if got := tbl.Delete(k); got != 42 {
		t.Fatalf("delete returned %v, want 42", got)
	}
	if got := tbl.Lookup(k); got != nil {
		t.Fatalf("lookup after delete = %v, want nil", got)
	}
}

func TestInsertReturnsPreviousValue(t *testing.T) {
	tbl := NewTable(0)
	k := Of("foo")
	tbl.Insert(k, "first")
	prev := tbl.Insert(k, "second")
	if prev != "first" {
		t.Fatalf("prev = %v, want first", prev)
	}
	if got := tbl.Lookup(k); got != "second" {
		t.Fatalf("lookup = %v, want second", got)
	}
}

func TestRehashPreservesEntries(t *testing.T) {
	tbl := NewTable(0)
	for i := 0; i < 1000; i++ {
		tbl.Insert(Of(string(rune('a'+i%26)) + string(rune(i))), i)
	}
	if tbl.Len() != 1000 {
		t.Fatalf("len = %d, want 1000", tbl.Len())
	}
	for i := 0; i < 1000; i++ {
		if got := tbl.Lookup(Of(string(rune('a'+i%26)) + string(rune(i)))); got != i {
			t.Fatalf("lookup of key %d after rehash = %v, want %d", i, got, i)
		}
	}
}

func TestUTF16RoundTrip(t *testing.T) {
	s := "hi \U0001F600 there"
	sl := Of(s)
	if sl.String() != s {
		t.Fatalf("round trip = %q, want %q", sl.String(), s)
	}
}

func TestIterateForbidsStructuralModification(t *testing.T) {
	tbl := NewTable(0)
	tbl.Insert(Of("a"), 1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on structural modification during iteration")
		}
	}()
	tbl.Iterate(func(Entry) bool {
		tbl.Insert(Of("b"), 2)
		return true
	})
}
