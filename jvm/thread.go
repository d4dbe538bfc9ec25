/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package jvm

import (
	"jacobin/frame"
	"jacobin/internal/verrors"
	"jacobin/object"
)

// ThreadOptions configures CreateThread.
type ThreadOptions struct {
	FrameBufferCapacity int // bytes; defaultFrameBufferLen if zero
}

// Thread is an interpreter thread registered with its VM: the embedded
// frame.Thread carries the frame buffer, handle table, and exception
// slot; the wrapper ties its lifecycle (and its role as a GC root set) to
// the owning VM.
type Thread struct {
	*frame.Thread
	vm *VM
}

// CreateThread registers a new thread with vm and preallocates its
// OutOfMemoryError and StackOverflowError instances -- a thread
// cannot safely allocate either at the moment it needs to throw them.
func (vm *VM) CreateThread(opts ThreadOptions) (*Thread, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return nil, verrors.VE("CreateThread on a closed VM")
	}
	bufCap := opts.FrameBufferCapacity
	if bufCap <= 0 {
		bufCap = defaultFrameBufferLen
	}
	th := &Thread{Thread: frame.NewThread(bufCap, vm.heap), vm: vm}

	// Register before allocating: the preallocated errors must be rooted
	// through the thread the instant they exist, or a collection racing
	// this creation would sweep them.
	vm.threads = append(vm.threads, th)

	oom, err := vm.allocInstanceLocked(vm.oomClassID)
	if err != nil {
		vm.removeThreadLocked(th)
		return nil, err
	}
	soe, err := vm.allocInstanceLocked(vm.soeClassID)
	if err != nil {
		vm.removeThreadLocked(th)
		return nil, err
	}
	th.OutOfMemoryError = oom
	th.StackOverflowError = soe
	return th, nil
}

// Close deregisters the thread from its VM; its frame buffer and handles
// stop being GC roots.
func (t *Thread) Close() {
	t.vm.mu.Lock()
	defer t.vm.mu.Unlock()
	t.vm.removeThreadLocked(t)
}

func (vm *VM) removeThreadLocked(t *Thread) {
	for i, th := range vm.threads {
		if th == t {
			vm.threads = append(vm.threads[:i], vm.threads[i+1:]...)
			return
		}
	}
}

// Throw stores exception in the thread's current-exception slot. The
// interpreter's unwind loop consumes it frame by frame.
func (t *Thread) Throw(exception object.Ref) {
	t.CurrentException = exception
}

// ClearException nulls the current-exception slot and returns what was
// there, for handler dispatch.
func (t *Thread) ClearException() object.Ref {
	e := t.CurrentException
	t.CurrentException = object.Ref{}
	return e
}
