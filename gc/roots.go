/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package gc

import (
	"jacobin/classloader"
	"jacobin/codeanalysis"
	"jacobin/frame"
	"jacobin/internal/bitset"
	"jacobin/internal/wstr"
	"jacobin/object"
)

// rootSlot is one GC root location: a place the mutator (or the runtime's
// own bookkeeping) stores a reference that the collector must both seed
// its mark phase with and, after compaction, rewrite in place. Every root
// category -- class mirrors, reflection
// objects, constant-pool caches, static fields, thread/frame/handle state
// -- is expressed uniformly through this closure pair so mark and rewrite
// share one implementation.
type rootSlot struct {
	get func() uintptr
	set func(uintptr)
}

func uintptrSlot(p *uintptr) rootSlot {
	return rootSlot{get: func() uintptr { return *p }, set: func(v uintptr) { *p = v }}
}

func refSlot(p *object.Ref) rootSlot {
	return rootSlot{
		get: func() uintptr { return uintptr(p.Offset) },
		set: func(v uintptr) { p.Offset = int(v) },
	}
}

// collectRoots enumerates every root category the runtime tracks and
// returns them as a flat list of rewrite targets. Marking and rewriting
// both iterate this same list, so a root category added here is
// automatically covered by both phases.
func collectRoots(c *Context) []rootSlot {
	var roots []rootSlot

	// Every registered class's mirrors, its methods' and fields'
	// reflection objects, its constant pool's cached resolved objects, and
	// its static-reference slots. Classes are never unloaded, so every
	// registered class -- not just ones with live instances -- is walked.
	for i := 0; i < c.Registry.Len(); i++ {
		cd := c.Registry.Get(i)
		roots = append(roots, uintptrSlot(&cd.Mirror), uintptrSlot(&cd.CPMirror))

		for _, m := range cd.Methods {
			roots = append(roots,
				uintptrSlot(&m.ReflectionMethod),
				uintptrSlot(&m.ReflectionCtor),
				uintptrSlot(&m.MethodTypeObj),
			)
		}
		for _, f := range cd.Fields {
			roots = append(roots, uintptrSlot(&f.ReflectionField))
		}
		if cd.CP != nil {
			for j := range cd.CP.Entries {
				e := &cd.CP.Entries[j]
				switch e.Tag {
				case classloader.CPString, classloader.CPClass,
					classloader.CPMethodHandle, classloader.CPMethodType, classloader.CPInvokeDynamic:
					roots = append(roots, uintptrSlot(&e.CachedObject))
				}
			}
		}
		if cd.StaticReferences != nil {
			for _, w := range cd.StaticReferences.ListSetBits() {
				w := w
				roots = append(roots, rootSlot{
					get: func() uintptr { return cd.StaticRef(w) },
					set: func(v uintptr) { cd.SetStaticRef(w, v) },
				})
			}
		}
	}

	// Invokedynamic / signature-polymorphic call-site inline caches,
	// owned by the VM context (package jvm).
	for _, ic := range c.InlineCaches {
		roots = append(roots, refSlot(ic))
	}

	// Per-thread roots.
	for _, th := range c.Threads {
		roots = append(roots, refSlot(&th.ThreadObj), refSlot(&th.CurrentException))
		roots = append(roots, refSlot(&th.OutOfMemoryError), refSlot(&th.StackOverflowError))
		for i := range th.Handles() {
			hs := th.Handles()
			roots = append(roots, refSlot(&hs[i]))
		}
		roots = append(roots, frameRoots(th)...)
	}

	// VM-level singletons.
	if c.ThreadGroupMirror != nil {
		roots = append(roots, uintptrSlot(c.ThreadGroupMirror))
	}
	if c.ModuleMirror != nil {
		roots = append(roots, uintptrSlot(c.ModuleMirror))
	}
	if c.InternedStrings != nil {
		roots = append(roots, internedStringRoots(c.InternedStrings)...)
	}

	return roots
}

// frameRoots walks th's live frames innermost-first, consulting each
// frame's method's reference bitmap (package codeanalysis) to find which
// operand-stack and local slots hold a reference at the frame's current
// PC. An inner frame's locals may alias an outer
// frame's stack region; to avoid double-counting, once a frame has been
// scanned no outer frame may contribute a root at or above that frame's
// lowest slot address.
func frameRoots(th *frame.Thread) []rootSlot {
	var roots []rootSlot
	frames := th.Frames()
	watermark := -1 // no ceiling yet; set after the innermost frame is scanned

	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		bitmap := frameBitmap(f)
		frameBase := f.SlotAddr(0)

		if bitmap != nil {
			for _, slot := range bitmap.ListSetBits() {
				addr := f.SlotAddr(slot)
				if watermark >= 0 && addr >= watermark {
					continue // already covered by an inner frame
				}
				f, slot := f, slot
				roots = append(roots, rootSlot{
					get: func() uintptr { return uintptr(f.RefSlotOffset(slot)) },
					set: func(v uintptr) { f.SetRefSlotOffset(slot, uint64(v)) },
				})
			}
		}
		if watermark < 0 || frameBase < watermark {
			watermark = frameBase
		}
	}
	return roots
}

// frameBitmap returns the reference bitmap for f's method at f's current
// PC (an instruction index, per this module's frame/PC contract), or nil
// if the method was never analysed (e.g. a native frame with no Code
// attribute).
func frameBitmap(f *frame.Frame) *bitset.Set {
	an, ok := f.Method.Analysis.(*codeanalysis.Analysis)
	if !ok || an == nil {
		return nil
	}
	if f.PC < 0 || f.PC >= len(an.ReferenceBitmap) {
		return nil
	}
	return an.ReferenceBitmap[f.PC]
}

// internedStringRoots walks the VM's interned-string table. Values are
// rewritten by re-inserting under the same key after iteration completes,
// since wstr.Table forbids structural modification from within Iterate
// and a value held in its `any` slot is a copy, not an alias, of the
// stored object.Ref.
func internedStringRoots(t *wstr.Table) []rootSlot {
	type cell struct {
		key wstr.Slice
		ref object.Ref
	}
	var cells []cell
	t.Iterate(func(e wstr.Entry) bool {
		if ref, ok := e.Value.(object.Ref); ok {
			cells = append(cells, cell{key: e.Key, ref: ref})
		}
		return true
	})

	roots := make([]rootSlot, 0, len(cells))
	for i := range cells {
		c := &cells[i]
		roots = append(roots, rootSlot{
			get: func() uintptr { return uintptr(c.ref.Offset) },
			set: func(v uintptr) {
				c.ref.Offset = int(v)
				t.Insert(c.key, c.ref)
			},
		})
	}
	return roots
}
