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

// mark seeds an explicit work stack from every root and walks the
// transitive closure of reachable objects, setting each one's reachable
// flag. The explicit slice never overflows regardless of graph depth.
func mark(c *Context, roots []rootSlot) {
	var stack []object.Ref

	push := func(off uintptr) {
		if off == 0 {
			return
		}
		r := c.Heap.RefAt(int(off))
		if !r.IsReachable() {
			r.SetReachable()
			stack = append(stack, r)
		}
	}

	for _, r := range roots {
		push(r.get())
	}

	for len(stack) > 0 {
		obj := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		scanObject(obj, c.Heap, c.Registry, push)
	}
}

// scanObject visits every reference obj holds and calls push with each
// one's raw heap-offset encoding: walk
// instance fields via instance_references, reference arrays by length,
// never a single-dimension primitive array, and a multi-dimensional
// primitive array's outer dimensions (which hold sub-array references)
// the same way a reference array would be walked.
func scanObject(obj object.Ref, h *object.Heap, reg *classloader.Registry, push func(uintptr)) {
	cd := reg.Get(obj.ClassID())
	switch cd.Kind {
	case classloader.Ordinary:
		for _, w := range cd.InstanceReferences.ListSetBits() {
			push(uintptr(h.ReadRef(obj.FieldOffset(w)).Offset))
		}
	case classloader.ReferenceArray:
		n := obj.ArrayLength()
		for i := 0; i < n; i++ {
			push(uintptr(h.ReadRef(obj.ArrayElementOffset(i, 8)).Offset))
		}
	case classloader.PrimitiveArray:
		if cd.Dimensions > 1 {
			n := obj.ArrayLength()
			for i := 0; i < n; i++ {
				push(uintptr(h.ReadRef(obj.ArrayElementOffset(i, 8)).Offset))
			}
		}
		// a leaf (single-dimension) primitive array holds no references.
	}
}
