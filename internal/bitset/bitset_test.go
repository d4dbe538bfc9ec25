/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package bitset

import "testing"

func TestInlineVsSpilledBoundary(t *testing.T) {
	small := New(63)
	if small.IsSpilled() {
		t.Fatal("capacity 63 must stay inline")
	}
	big := New(64)
	if !big.IsSpilled() {
		t.Fatal("capacity 64 must spill")
	}
}

func TestTestAndSetRoundTrip(t *testing.T) {
	for _, cap := range []int{1, 8, 63, 64, 200} {
		s := New(cap)
		for k := 0; k < cap; k++ {
			prev := s.TestAndSet(k)
			if prev {
				t.Fatalf("cap=%d k=%d expected unset before first set", cap, k)
			}
			if !s.Test(k) {
				t.Fatalf("cap=%d k=%d expected set after TestAndSet", cap, k)
			}
		}
	}
}

func TestListSetBitsStrictlyIncreasing(t *testing.T) {
	s := New(200)
	for _, k := range []int{5, 1, 190, 64, 63, 0} {
		s.TestAndSet(k)
	}
	got := s.ListSetBits()
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("not strictly increasing at %d: %v", i, got)
		}
	}
	for _, idx := range got {
		if idx >= s.Capacity() {
			t.Fatalf("index %d out of declared capacity %d", idx, s.Capacity())
		}
	}
}

func TestTestAndClear(t *testing.T) {
	s := New(100)
	s.TestAndSet(10)
	if !s.TestAndClear(10) {
		t.Fatal("expected previous value true")
	}
	if s.Test(10) {
		t.Fatal("expected bit cleared")
	}
}

func TestZeroInitialized(t *testing.T) {
	s := New(128)
	for _, k := range []int{0, 1, 63, 64, 127} {
		if s.Test(k) {
			t.Fatalf("bit %d should start clear", k)
		}
	}
}
