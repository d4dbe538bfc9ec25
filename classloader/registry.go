/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package classloader

import (
	"jacobin/descriptor"
	"jacobin/internal/bitset"
	"jacobin/internal/verrors"
)

// Registry is the central table of loaded classes, keyed by a small
// integer id and additionally indexed by name. Heap objects record their
// class as a Registry id rather than a pointer; edges between descriptors
// (such as OneFewerDim) are ordinary Go pointers to registry-owned
// descriptors.
type Registry struct {
	byID   []*ClassDescriptor
	byName map[string]int
}

// NewRegistry returns an empty class registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register assigns cd the next free id and indexes it by name. It does not
// link cd; call Link separately once cd's superclass is also registered.
func (r *Registry) Register(cd *ClassDescriptor) int {
	id := len(r.byID)
	r.byID = append(r.byID, cd)
	r.byName[cd.Name()] = id
	return id
}

// Get returns the descriptor registered under id.
func (r *Registry) Get(id int) *ClassDescriptor { return r.byID[id] }

// Lookup returns the id registered for name, or (-1, false).
func (r *Registry) Lookup(name string) (int, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// Len returns the number of registered classes.
func (r *Registry) Len() int { return len(r.byID) }

// wordSize is the slot width object and static-area layout use uniformly:
// fields and locals occupy 8-byte words regardless of declared type, so a
// byte and a long each still take at least one full slot.
const wordSize = 8

// Link computes cd's instance and static layout: per-field word offsets,
// total instance/static size (both 8-byte aligned, as the object package's
// allocator requires), and the instance_references/static_references
// bitsets the collector scans. super, if non-nil, must already be linked;
// cd's fields are laid out immediately after super's inherited ones.
func (r *Registry) Link(cd *ClassDescriptor, super *ClassDescriptor) error {
	if cd.linked {
		return nil
	}
	if cd.IsArray() {
		cd.linked = true
		return nil
	}

	instWords := 0
	var instRefs []int
	if super != nil {
		if !super.linked {
			return verrors.VE("cannot link %s: superclass %s is not linked", cd.ThisClass, super.ThisClass)
		}
		instWords = super.InstanceSize / wordSize
		instRefs = super.InstanceReferences.ListSetBits()
	}

	staticWords := 0
	var staticRefs []int

	for _, f := range cd.Fields {
		slots := fieldSlots(f)
		isReference := f.Parsed.IsArray() || f.Parsed.Base == descriptor.Reference

		if f.IsStatic {
			f.Offset = staticWords
			if isReference {
				staticRefs = append(staticRefs, staticWords)
			}
			staticWords += slots
			continue
		}
		f.Offset = instWords
		if isReference {
			instRefs = append(instRefs, instWords)
		}
		instWords += slots
	}

	cd.InstanceSize = instWords * wordSize
	cd.StaticSize = staticWords * wordSize
	cd.InstanceReferences = bitsetFromIndices(instRefs, instWords)
	cd.StaticReferences = bitsetFromIndices(staticRefs, staticWords)
	cd.StaticData = make([]byte, cd.StaticSize)
	cd.linked = true
	return nil
}

func bitsetFromIndices(idxs []int, capacity int) *bitset.Set {
	if capacity < 1 {
		capacity = 1
	}
	b := bitset.New(capacity)
	for _, i := range idxs {
		b.TestAndSet(i)
	}
	return b
}

// fieldSlots returns the number of 8-byte words a field occupies: two for
// a scalar long/double (which would otherwise straddle a word on a 32-bit
// layout; this module always reserves the full two), one for everything
// else including references and array handles.
func fieldSlots(f *Field) int {
	if f.Parsed.IsArray() {
		return 1
	}
	switch f.Parsed.Base {
	case descriptor.Long, descriptor.Double:
		return 2
	default:
		return 1
	}
}
