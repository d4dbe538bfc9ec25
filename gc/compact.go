/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package gc

import (
	"jacobin/classloader"
	"jacobin/object"
)

// compact allocates a fresh heap buffer of the same capacity and copies
// every object in live (already address-ordered, since walkHeap produced
// it in that order and filtering preserves order) into it, 8-byte aligned,
// clearing each copy's reachable flag as it goes. It returns the new
// buffer, the new used-watermark, and the old->new offset table rewriting
// needs next.
func compact(h *object.Heap, reg *classloader.Registry, live []object.Ref) ([]byte, int, []offsetPair) {
	newBuf := make([]byte, h.Capacity())
	newHeap := object.WrapHeap(newBuf, 0)

	write := newHeap.FirstOffset()
	pairs := make([]offsetPair, 0, len(live))
	oldBytes := h.Bytes()

	for _, obj := range live {
		write = alignUp(write)
		size := object.SizeOf(obj, reg)
		copy(newBuf[write:write+size], oldBytes[obj.Offset:obj.Offset+size])
		pairs = append(pairs, offsetPair{Old: obj.Offset, New: write})
		newHeap.RefAt(write).ClearReachable()
		write += size
	}

	return newBuf, write, pairs
}

func alignUp(n int) int { return (n + 7) &^ 7 }

// rewriteHeap fixes up every relocated object's own reference fields:
// for each live object at its *new*
// address, translate every reference slot the class's layout says it
// holds from its old target address to the new one.
func rewriteHeap(newBuf []byte, reg *classloader.Registry, pairs []offsetPair) {
	newHeap := object.WrapHeap(newBuf, len(newBuf))
	for _, pair := range pairs {
		ref := newHeap.RefAt(pair.New)
		cd := reg.Get(ref.ClassID())
		switch cd.Kind {
		case classloader.Ordinary:
			for _, w := range cd.InstanceReferences.ListSetBits() {
				rewriteSlot(newHeap, ref.FieldOffset(w), pairs)
			}
		case classloader.ReferenceArray:
			n := ref.ArrayLength()
			for i := 0; i < n; i++ {
				rewriteSlot(newHeap, ref.ArrayElementOffset(i, 8), pairs)
			}
		case classloader.PrimitiveArray:
			if cd.Dimensions > 1 {
				n := ref.ArrayLength()
				for i := 0; i < n; i++ {
					rewriteSlot(newHeap, ref.ArrayElementOffset(i, 8), pairs)
				}
			}
		}
	}
}

func rewriteSlot(h *object.Heap, off int, pairs []offsetPair) {
	old := h.ReadRef(off)
	if old.IsNil() {
		return
	}
	h.WriteRef(off, h.RefAt(int(lookup(pairs, uintptr(old.Offset)))))
}

// rewriteStatics fixes up step (b): every class's static-reference slots,
// whether or not that class has any live instances (classes are never
// unloaded).
func rewriteStatics(reg *classloader.Registry, pairs []offsetPair) {
	for i := 0; i < reg.Len(); i++ {
		cd := reg.Get(i)
		if cd.StaticReferences == nil {
			continue
		}
		for _, w := range cd.StaticReferences.ListSetBits() {
			v := cd.StaticRef(w)
			if v == 0 {
				continue
			}
			cd.SetStaticRef(w, lookup(pairs, v))
		}
	}
}

// rewriteRoots fixes up step (c): every root slot recorded during
// enumeration.
func rewriteRoots(roots []rootSlot, pairs []offsetPair) {
	for _, r := range roots {
		v := r.get()
		if v == 0 {
			continue
		}
		r.set(lookup(pairs, v))
	}
}
