/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package jvm

import (
	"jacobin/frame"
	"jacobin/gc"
	"jacobin/internal/vlog"
	"jacobin/object"
)

// AllocateInstance bump-allocates an ordinary instance of the class
// registered under classID. Exhaustion triggers one collection cycle; if
// the retry still fails the allocation error is returned and the caller
// raises the thread's preallocated OutOfMemoryError.
func (vm *VM) AllocateInstance(classID int) (object.Ref, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.allocInstanceLocked(classID)
}

func (vm *VM) allocInstanceLocked(classID int) (object.Ref, error) {
	r, err := object.New(vm.heap, vm.registry, classID)
	if err == nil {
		return r, nil
	}
	vm.collectLocked()
	return object.New(vm.heap, vm.registry, classID)
}

// AllocateArray is AllocateInstance's array counterpart; classID must
// name an array class.
func (vm *VM) AllocateArray(classID, length int) (object.Ref, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	r, err := object.NewArray(vm.heap, vm.registry, classID, length)
	if err == nil {
		return r, nil
	}
	vm.collectLocked()
	return object.NewArray(vm.heap, vm.registry, classID, length)
}

// CollectGarbage runs one explicit stop-the-world cycle. Every mutator
// entry point shares vm.mu, so holding it is a safe point:
// no thread is mid-allocation or mid-load while the collector runs.
func (vm *VM) CollectGarbage() *gc.Stats {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.collectLocked()
}

func (vm *VM) collectLocked() *gc.Stats {
	threads := make([]*frame.Thread, len(vm.threads))
	for i, t := range vm.threads {
		threads[i] = t.Thread
	}
	stats := gc.Collect(&gc.Context{
		Heap:            vm.heap,
		Registry:        vm.registry,
		Threads:         threads,
		InternedStrings: vm.interned,
		InlineCaches:    vm.inlineCaches,
	})
	_ = vm.log.Log("gc: compacted heap", vlog.FINE)
	return stats
}
