/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

// Package frame implements the per-thread interpreter stack: a single
// contiguous byte buffer holding every live frame's operand stack and
// locals, pushed and popped LIFO, plus the handle table and
// current-exception slot a thread carries alongside it.
//
// Frames are deliberately not individual Go allocations: every frame's
// stack+locals slots alias one contiguous []byte per thread, and are
// reached only through the typed Frame accessors below -- callers cannot
// fabricate a frame or point into the buffer except via Push/Pop.
package frame

import (
	"encoding/binary"
	"math"

	"jacobin/classloader"
	"jacobin/object"
)

const wordSize = 8

// Frame is one activation record: header fields kept as ordinary Go state
// (method identity, PC, declared stack/locals widths) plus a view over the
// slice of its thread's buffer holding its operand stack and locals --
// the region the garbage collector actually needs scanned contiguously.
type Frame struct {
	Method     *classloader.Method
	ClassName  string
	PC         int
	MaxStack   int
	MaxLocals  int
	StackDepth int // number of occupied stack slots, 0..MaxStack

	base int // byte offset into th.buf where this frame's values begin
	th   *Thread
}

// valuesOffset returns the absolute buffer offset of logical slot index
// (stack slots [0,MaxStack), then locals [MaxStack,MaxStack+MaxLocals)),
// matching the codeanalysis reference-bitmap layout exactly.
func (f *Frame) valuesOffset(slot int) int {
	return f.base + slot*wordSize
}

// PushInt/PopInt etc. operate on the operand stack only (slots
// [0,StackDepth)); locals are addressed directly by index via
// GetLocal/SetLocal since they are not a stack.
//
// A long or double occupies two consecutive slots, matching JVMS
// category-2 conventions (and codeanalysis's two-slot SlotKind pairs):
// the first slot holds the real 8-byte value, the second is a reserved
// companion slot that is never read.

func (f *Frame) PushInt(v int32) { f.setSlot(f.StackDepth, uint64(uint32(v))); f.StackDepth++ }
func (f *Frame) PushFloat(v float32) {
	f.setSlot(f.StackDepth, uint64(math.Float32bits(v)))
	f.StackDepth++
}
func (f *Frame) PushLong(v int64) {
	f.setSlot(f.StackDepth, uint64(v))
	f.StackDepth += 2
}
func (f *Frame) PushDouble(v float64) {
	f.setSlot(f.StackDepth, math.Float64bits(v))
	f.StackDepth += 2
}
func (f *Frame) PushRef(r object.Ref) {
	f.setSlotRef(f.StackDepth, r)
	f.StackDepth++
}

func (f *Frame) PopInt() int32 {
	f.StackDepth--
	return int32(uint32(f.getSlot(f.StackDepth)))
}
func (f *Frame) PopFloat() float32 {
	f.StackDepth--
	return math.Float32frombits(uint32(f.getSlot(f.StackDepth)))
}
func (f *Frame) PopLong() int64 {
	f.StackDepth -= 2
	return int64(f.getSlot(f.StackDepth))
}
func (f *Frame) PopDouble() float64 {
	f.StackDepth -= 2
	return math.Float64frombits(f.getSlot(f.StackDepth))
}
func (f *Frame) PopRef() object.Ref {
	f.StackDepth--
	return f.getSlotRef(f.StackDepth)
}

func (f *Frame) GetLocalInt(i int) int32      { return int32(uint32(f.getSlot(f.MaxStack + i))) }
func (f *Frame) SetLocalInt(i int, v int32)   { f.setSlot(f.MaxStack+i, uint64(uint32(v))) }
func (f *Frame) GetLocalFloat(i int) float32  { return math.Float32frombits(uint32(f.getSlot(f.MaxStack + i))) }
func (f *Frame) SetLocalFloat(i int, v float32) {
	f.setSlot(f.MaxStack+i, uint64(math.Float32bits(v)))
}
func (f *Frame) GetLocalLong(i int) int64     { return int64(f.getSlot(f.MaxStack + i)) }
func (f *Frame) SetLocalLong(i int, v int64)  { f.setSlot(f.MaxStack+i, uint64(v)) }
func (f *Frame) GetLocalDouble(i int) float64 { return math.Float64frombits(f.getSlot(f.MaxStack + i)) }
func (f *Frame) SetLocalDouble(i int, v float64) {
	f.setSlot(f.MaxStack+i, math.Float64bits(v))
}
func (f *Frame) GetLocalRef(i int) object.Ref    { return f.getSlotRef(f.MaxStack + i) }
func (f *Frame) SetLocalRef(i int, r object.Ref) { f.setSlotRef(f.MaxStack+i, r) }

func (f *Frame) setSlot(slot int, v uint64) {
	binary.LittleEndian.PutUint64(f.th.buf[f.valuesOffset(slot):], v)
}
func (f *Frame) getSlot(slot int) uint64 {
	return binary.LittleEndian.Uint64(f.th.buf[f.valuesOffset(slot):])
}

// setSlotRef/getSlotRef store a reference as its heap byte offset, 0
// meaning null -- the same encoding object.Heap uses for a field slot, so
// a frame slot and a heap field slot are bit-for-bit interchangeable.
func (f *Frame) setSlotRef(slot int, r object.Ref) {
	if r.IsNil() {
		f.setSlot(slot, 0)
		return
	}
	f.setSlot(slot, uint64(r.Offset))
}
func (f *Frame) getSlotRef(slot int) object.Ref {
	v := f.getSlot(slot)
	if v == 0 {
		return object.Ref{}
	}
	return f.th.heap.RefAt(int(v))
}

// SlotAddr returns the absolute buffer offset of logical slot index --
// used only by the collector's innermost-frame-first watermark walk,
// never by mutator code.
func (f *Frame) SlotAddr(slot int) int { return f.valuesOffset(slot) }

// RefSlotOffset/SetRefSlotOffset expose a slot's raw heap-offset encoding
// to the collector, which does not know a priori which slots hold
// references -- it first consults the method's reference bitmap
// (package codeanalysis) and only then reads/rewrites the slots the
// bitmap names, across both the stack and locals regions uniformly.
func (f *Frame) RefSlotOffset(slot int) uint64        { return f.getSlot(slot) }
func (f *Frame) SetRefSlotOffset(slot int, v uint64)  { f.setSlot(slot, v) }
