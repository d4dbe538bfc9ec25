/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

// Package gc implements the stop-the-world mark-compact collector:
// enumerate every root the runtime knows about, mark the transitive
// closure reachable from them, compact survivors into a fresh heap in
// address order, then rewrite every pointer -- object fields, static
// areas, and the roots themselves -- to point at the new home.
//
// Marking uses an explicit work stack, so arbitrarily deep object graphs
// cannot overflow the goroutine stack.
package gc

import (
	"sort"

	"jacobin/classloader"
	"jacobin/frame"
	"jacobin/internal/wstr"
	"jacobin/object"
)

// Context bundles every collaborator the collector needs to enumerate
// roots and walk the heap. VM-level roots are
// optional: a nil field is simply skipped, so package jvm need only
// populate the ones it actually uses.
type Context struct {
	Heap     *object.Heap
	Registry *classloader.Registry
	Threads  []*frame.Thread

	// VM-level roots.
	ThreadGroupMirror *uintptr    // main thread group's java.lang.ThreadGroup mirror
	ModuleMirror      *uintptr    // the unnamed module's java.lang.Module mirror
	InternedStrings   *wstr.Table // values are object.Ref
	InlineCaches      []*object.Ref
}

// Stats reports what one collection cycle did, for callers that want to
// log or test against it.
type Stats struct {
	ObjectsBefore int
	ObjectsAfter  int
	HeapUsedAfter int
}

// Collect runs one full stop-the-world cycle: root enumeration, mark,
// compact, rewrite, swap. The caller (package jvm) is responsible for
// having already brought every mutator thread to a safe point before
// calling this.
func Collect(c *Context) *Stats {
	roots := collectRoots(c)

	before := walkHeap(c.Heap, c.Registry)
	mark(c, roots)

	live := make([]object.Ref, 0, len(before))
	for _, r := range before {
		if r.IsReachable() {
			live = append(live, r)
		}
	}

	newBuf, used, pairs := compact(c.Heap, c.Registry, live)
	rewriteHeap(newBuf, c.Registry, pairs)
	rewriteStatics(c.Registry, pairs)
	rewriteRoots(roots, pairs)

	c.Heap.Reset(newBuf, used)

	return &Stats{
		ObjectsBefore: len(before),
		ObjectsAfter:  len(live),
		HeapUsedAfter: used,
	}
}

// offsetPair is one old-address -> new-address mapping, kept sorted by Old
// so rewriting can binary-search it.
type offsetPair struct{ Old, New int }

// lookup maps an old heap offset to its post-compaction offset. 0 (the
// null-reference sentinel) always maps to 0. A slot pointing outside the
// heap -- i.e. not found in pairs -- is left alone.
func lookup(pairs []offsetPair, old uintptr) uintptr {
	if old == 0 {
		return 0
	}
	i := sort.Search(len(pairs), func(i int) bool { return pairs[i].Old >= int(old) })
	if i < len(pairs) && pairs[i].Old == int(old) {
		return uintptr(pairs[i].New)
	}
	return old
}

// walkHeap enumerates every object currently bump-allocated in h, in
// address order, regardless of reachability -- the collector's only way
// to find unreachable objects to drop, since the heap keeps no free list.
func walkHeap(h *object.Heap, reg *classloader.Registry) []object.Ref {
	var all []object.Ref
	off := h.FirstOffset()
	for off < h.Used() {
		r := h.RefAt(off)
		size := object.SizeOf(r, reg)
		all = append(all, r)
		off += size
	}
	return all
}
