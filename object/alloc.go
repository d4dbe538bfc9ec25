/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package object

import (
	"jacobin/classloader"
	"jacobin/descriptor"
)

// New allocates an ordinary instance of the class registered under
// classID, using its linked InstanceSize.
func New(h *Heap, reg *classloader.Registry, classID int) (Ref, error) {
	cd := reg.Get(classID)
	return h.AllocInstance(classID, cd.InstanceSize)
}

// NewArray allocates an array instance of the array class registered
// under classID, with the given element count.
func NewArray(h *Heap, reg *classloader.Registry, classID int, length int) (Ref, error) {
	cd := reg.Get(classID)
	return h.AllocArray(classID, ArrayElementSize(cd), length)
}

// SizeOf returns the total, 8-byte-aligned byte length of the object r
// points to, including its header -- exactly the span the collector
// (package gc) copies during compaction and skips over during its linear
// heap walk.
func SizeOf(r Ref, reg *classloader.Registry) int {
	cd := reg.Get(r.ClassID())
	if cd.IsArray() {
		return AlignedArraySize(ArrayElementSize(cd), r.ArrayLength())
	}
	return AlignedInstanceSize(cd.InstanceSize)
}

// ArrayElementSize returns the per-element byte width an array class's
// elements occupy in heap storage: 8 bytes for a reference array and for
// the outer dimensions of a multi-dimensional primitive array (this
// module stores each such element as a heap offset, the same width a long
// or double primitive element needs), 4 for every narrower primitive kind.
func ArrayElementSize(cd *classloader.ClassDescriptor) int {
	if cd.Kind == classloader.ReferenceArray || cd.Dimensions > 1 {
		return 8
	}
	switch cd.ElementKind {
	case descriptor.Long, descriptor.Double:
		return 8
	default:
		return 4
	}
}
