/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package frame

import (
	"testing"

	"jacobin/classloader"
	"jacobin/object"
)

func testMethod(name string, maxStack, maxLocals int) *classloader.Method {
	return &classloader.Method{
		Name: name,
		Code: &classloader.CodeAttribute{MaxStack: maxStack, MaxLocals: maxLocals},
	}
}

func TestPushPopValues(t *testing.T) {
	h := object.NewHeap(1 << 12)
	th := NewThread(1<<12, h)
	f, err := th.PushFrame(testMethod("m", 4, 2), "Main")
	if err != nil {
		t.Fatalf("PushFrame: %v", err)
	}

	f.PushInt(-7)
	f.PushFloat(1.5)
	if got := f.PopFloat(); got != 1.5 {
		t.Errorf("PopFloat = %v", got)
	}
	if got := f.PopInt(); got != -7 {
		t.Errorf("PopInt = %v", got)
	}

	f.PushLong(-1 << 40)
	if f.StackDepth != 2 {
		t.Errorf("long should occupy two stack slots, depth = %d", f.StackDepth)
	}
	if got := f.PopLong(); got != -1<<40 {
		t.Errorf("PopLong = %v", got)
	}

	f.PushDouble(2.25)
	if got := f.PopDouble(); got != 2.25 {
		t.Errorf("PopDouble = %v", got)
	}
}

func TestLocalsRoundTrip(t *testing.T) {
	h := object.NewHeap(1 << 12)
	th := NewThread(1<<12, h)
	f, err := th.PushFrame(testMethod("m", 2, 4), "Main")
	if err != nil {
		t.Fatalf("PushFrame: %v", err)
	}

	f.SetLocalInt(0, 42)
	f.SetLocalLong(1, 1<<50) // occupies locals 1 and 2
	f.SetLocalFloat(3, -0.5)
	if f.GetLocalInt(0) != 42 || f.GetLocalLong(1) != 1<<50 || f.GetLocalFloat(3) != -0.5 {
		t.Error("local slots did not round-trip")
	}
}

func TestRefSlotsAliasHeapObjects(t *testing.T) {
	h := object.NewHeap(1 << 12)
	th := NewThread(1<<12, h)
	f, err := th.PushFrame(testMethod("m", 2, 1), "Main")
	if err != nil {
		t.Fatalf("PushFrame: %v", err)
	}

	obj, err := h.AllocInstance(0, 8)
	if err != nil {
		t.Fatalf("AllocInstance: %v", err)
	}
	f.PushRef(obj)
	f.SetLocalRef(0, obj)

	if got := f.PopRef(); got.Offset != obj.Offset {
		t.Errorf("PopRef offset = %d, want %d", got.Offset, obj.Offset)
	}
	if got := f.GetLocalRef(0); got.Offset != obj.Offset {
		t.Errorf("GetLocalRef offset = %d, want %d", got.Offset, obj.Offset)
	}

	f.SetLocalRef(0, object.NullRef)
	if !f.GetLocalRef(0).IsNil() {
		t.Error("null reference did not round-trip")
	}
}

func TestPushFrameOverflow(t *testing.T) {
	h := object.NewHeap(1 << 12)
	th := NewThread(96, h) // room for one small frame only
	if _, err := th.PushFrame(testMethod("a", 2, 2), "Main"); err != nil {
		t.Fatalf("first PushFrame: %v", err)
	}
	if _, err := th.PushFrame(testMethod("b", 2, 2), "Main"); err == nil {
		t.Fatal("expected frame-buffer overflow")
	}
}

func TestPopFrameDiscipline(t *testing.T) {
	h := object.NewHeap(1 << 12)
	th := NewThread(1<<12, h)
	f1, _ := th.PushFrame(testMethod("a", 1, 1), "Main")
	f2, _ := th.PushFrame(testMethod("b", 1, 1), "Main")

	if err := th.PopFrame(f1); err == nil {
		t.Error("popping a non-top frame should fail")
	}
	if err := th.PopFrame(f2); err != nil {
		t.Errorf("PopFrame(top): %v", err)
	}
	if th.TopFrame() != f1 {
		t.Error("wrong top frame after pop")
	}
	if err := th.PopFrame(nil); err != nil {
		t.Errorf("PopFrame(nil): %v", err)
	}
	if err := th.PopFrame(nil); err == nil {
		t.Error("pop on empty stack should fail")
	}
}

func TestFrameBufferReusedAfterPop(t *testing.T) {
	h := object.NewHeap(1 << 12)
	th := NewThread(1<<12, h)
	f1, _ := th.PushFrame(testMethod("a", 1, 1), "Main")
	f2, _ := th.PushFrame(testMethod("b", 1, 1), "Main")
	base2 := f2.SlotAddr(0)
	_ = th.PopFrame(f2)
	f3, _ := th.PushFrame(testMethod("c", 1, 1), "Main")
	if got := f3.SlotAddr(0); got != base2 {
		t.Errorf("popped frame space not reused: new base %d, want %d", got, base2)
	}
	_ = f1
}

func TestHandleTable(t *testing.T) {
	h := object.NewHeap(1 << 12)
	th := NewThread(1<<12, h)
	obj, _ := h.AllocInstance(0, 8)

	i := th.MakeHandle(obj)
	j := th.MakeHandle(object.Ref{})
	if i == j {
		t.Fatal("handle indices must be distinct")
	}
	if got := th.Handle(i); got.Offset != obj.Offset {
		t.Errorf("Handle(%d).Offset = %d", i, got.Offset)
	}
	th.DropHandle(i)
	if !th.Handle(i).IsNil() {
		t.Error("dropped handle should read as nil")
	}
	if k := th.MakeHandle(obj); k != j+1 {
		t.Errorf("handle table should be grow-only, got index %d", k)
	}
}
