/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package frame

import (
	"jacobin/classloader"
	"jacobin/internal/verrors"
	"jacobin/object"
)

const frameHeaderBytes = 32 // fixed per-frame overhead reserved ahead of the value slots

// Thread owns one interpreter call stack: a contiguous frame buffer, the
// frames currently live in it (in push order), a handle table for native
// code, and the current-exception slot exceptions propagate through.
type Thread struct {
	buf    []byte
	used   int
	frames []*Frame

	heap *object.Heap

	handles []object.Ref

	// ThreadObj is the java.lang.Thread mirror instance this interpreter
	// thread is running as -- a GC root.
	ThreadObj object.Ref

	CurrentException object.Ref

	// Preallocated error instances, set once by the VM after
	// java/lang/OutOfMemoryError and java/lang/StackOverflowError are
	// loaded and instantiated -- a thread cannot safely allocate either
	// at the moment it needs to throw them.
	OutOfMemoryError   object.Ref
	StackOverflowError object.Ref
}

// NewThread allocates a thread with a frame buffer of the given byte
// capacity, backed by heap for resolving reference slots.
func NewThread(bufCapacity int, heap *object.Heap) *Thread {
	return &Thread{buf: make([]byte, bufCapacity), heap: heap}
}

// PushFrame reserves sizeof(frame header) + (max_stack+max_locals)*8
// bytes, 8-byte aligned, and appends the new frame to the frames list. It returns a non-nil error (not a panic) if the
// buffer is exhausted -- the caller is expected to set th.CurrentException
// to th.StackOverflowError and unwind.
func (t *Thread) PushFrame(m *classloader.Method, className string) (*Frame, error) {
	maxStack, maxLocals := 0, 0
	if m.Code != nil {
		maxStack, maxLocals = m.Code.MaxStack, m.Code.MaxLocals
	}
	size := frameHeaderBytes + (maxStack+maxLocals)*wordSize
	size = alignUp(size)
	if t.used+size > len(t.buf) {
		return nil, verrors.VE("stack overflow pushing %s.%s: frame buffer exhausted", className, m.Name)
	}
	f := &Frame{
		Method:    m,
		ClassName: className,
		MaxStack:  maxStack,
		MaxLocals: maxLocals,
		base:      t.used + frameHeaderBytes,
		th:        t,
	}
	t.used += size
	t.frames = append(t.frames, f)
	return f, nil
}

// PopFrame pops the top frame. want, if non-nil, must be the frame being
// popped -- a check against stack discipline violations.
func (t *Thread) PopFrame(want *Frame) error {
	if len(t.frames) == 0 {
		return verrors.VE("pop on empty frame stack")
	}
	top := t.frames[len(t.frames)-1]
	if want != nil && want != top {
		return verrors.VE("frame stack discipline violation: popped frame is not the top frame")
	}
	t.frames = t.frames[:len(t.frames)-1]
	if len(t.frames) == 0 {
		t.used = 0
	} else {
		below := t.frames[len(t.frames)-1]
		t.used = below.base + (below.MaxStack+below.MaxLocals)*wordSize
	}
	return nil
}

// Frames returns the live frames in push order, innermost (most recently
// pushed) last -- the order the collector's watermark walk needs reversed.
func (t *Thread) Frames() []*Frame { return t.frames }

// TopFrame returns the innermost frame, or nil if the thread has none.
func (t *Thread) TopFrame() *Frame {
	if len(t.frames) == 0 {
		return nil
	}
	return t.frames[len(t.frames)-1]
}

// MakeHandle records r in the grow-only handle table and returns its
// index. Handles are never compacted away; a dropped slot is simply
// nulled and its index is not reused.
func (t *Thread) MakeHandle(r object.Ref) int {
	t.handles = append(t.handles, r)
	return len(t.handles) - 1
}

// DropHandle nulls handle index i. Indices remain grow-only.
func (t *Thread) DropHandle(i int) { t.handles[i] = object.Ref{} }

// Handle returns the object currently stored at handle index i.
func (t *Thread) Handle(i int) object.Ref { return t.handles[i] }

// Handles returns every handle slot, including nulled ones, for the
// collector's root scan of non-null local handle slots.
func (t *Thread) Handles() []object.Ref { return t.handles }

func alignUp(n int) int { return (n + wordSize - 1) &^ (wordSize - 1) }
