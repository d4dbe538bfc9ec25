/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package jvm

import (
	"strings"

	"jacobin/classloader"
	"jacobin/codeanalysis"
	"jacobin/descriptor"
	"jacobin/internal/verrors"
	"jacobin/internal/vlog"
	"jacobin/internal/wstr"
)

// registerBootstrapClasses synthesizes the descriptors the VM needs
// before any class file can be read: java/lang/Object (every linked
// class's super chain terminates in it) and the two error classes whose
// instances threads preallocate. If the real classes are later found on
// the classpath they are shadowed by these -- the bootstrap set is
// deliberately minimal and compatible.
func (vm *VM) registerBootstrapClasses() error {
	objClass := &classloader.ClassDescriptor{
		Kind:      classloader.Ordinary,
		ThisClass: "java/lang/Object",
	}
	vm.objectClassID = vm.registry.Register(objClass)
	if err := vm.registry.Link(objClass, nil); err != nil {
		return err
	}

	var err error
	if vm.oomClassID, err = vm.registerErrorClass("java/lang/OutOfMemoryError", objClass); err != nil {
		return err
	}
	vm.soeClassID, err = vm.registerErrorClass("java/lang/StackOverflowError", objClass)
	return err
}

func (vm *VM) registerErrorClass(name string, super *classloader.ClassDescriptor) (int, error) {
	cd := &classloader.ClassDescriptor{
		Kind:       classloader.Ordinary,
		ThisClass:  name,
		SuperClass: super.ThisClass,
		Fields: []*classloader.Field{{
			Name: "detailMessage",
			Desc: "Ljava/lang/String;",
			Parsed: descriptor.Field{
				Base:      descriptor.Reference,
				ClassName: "java/lang/String",
			},
		}},
	}
	id := vm.registry.Register(cd)
	return id, vm.registry.Link(cd, super)
}

// LoadClass returns the descriptor and registry id for name, loading,
// linking, and analysing it (and its superclass chain) on first use.
// Array class names ("[I", "[[Ljava/lang/String;") synthesize descriptor
// chains instead of reading a class file.
func (vm *VM) LoadClass(name string) (*classloader.ClassDescriptor, int, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.loadClassLocked(name)
}

func (vm *VM) loadClassLocked(name string) (*classloader.ClassDescriptor, int, error) {
	if id, ok := vm.registry.Lookup(name); ok {
		return vm.registry.Get(id), id, nil
	}
	if vm.loading[name] {
		return nil, 0, verrors.LE("circular superclass chain through %s", name)
	}
	vm.loading[name] = true
	defer delete(vm.loading, name)

	if strings.HasPrefix(name, "[") {
		return vm.loadArrayClassLocked(name)
	}

	data, err := vm.readClassfileLocked(name + ".class")
	if err != nil {
		return nil, 0, verrors.LE("class %s not found: %v", name, err)
	}
	cd, err := classloader.Parse(data)
	if err != nil {
		return nil, 0, err
	}
	if cd.ThisClass != name {
		return nil, 0, verrors.LE("class file for %s declares this_class %s", name, cd.ThisClass)
	}

	var super *classloader.ClassDescriptor
	if cd.SuperClass != "" {
		super, _, err = vm.loadClassLocked(cd.SuperClass)
		if err != nil {
			return nil, 0, err
		}
	}

	// Analyse before registering, so a VerifyError leaves no trace of the
	// rejected class behind.
	for _, m := range cd.Methods {
		if m.Code == nil {
			continue
		}
		an, err := codeanalysis.Analyze(cd.CP, m)
		if err != nil {
			return nil, 0, err
		}
		m.Analysis = an
	}
	id := vm.registry.Register(cd)
	if err := vm.registry.Link(cd, super); err != nil {
		return nil, 0, err
	}
	_ = vm.log.Log("loaded class "+name, vlog.CLASS)
	return cd, id, nil
}

// loadArrayClassLocked synthesizes the full dimension chain for an array
// class name, so every descriptor's OneFewerDim edge is populated down to
// the one-dimensional case.
func (vm *VM) loadArrayClassLocked(name string) (*classloader.ClassDescriptor, int, error) {
	f, err := descriptor.ParseField(name)
	if err != nil || f.Dimensions == 0 {
		return nil, 0, verrors.LE("malformed array class name %q", name)
	}
	if f.Base == descriptor.Reference {
		if _, _, err := vm.loadClassLocked(f.ClassName); err != nil {
			return nil, 0, err
		}
	}

	var prev *classloader.ClassDescriptor
	var id int
	for dim := 1; dim <= f.Dimensions; dim++ {
		cd := &classloader.ClassDescriptor{
			Dimensions:  dim,
			OneFewerDim: prev,
		}
		if f.Base == descriptor.Reference {
			cd.Kind = classloader.ReferenceArray
			cd.BaseClassName = f.ClassName
		} else {
			cd.Kind = classloader.PrimitiveArray
			cd.ElementKind = f.Base
		}
		if existing, ok := vm.registry.Lookup(cd.Name()); ok {
			prev = vm.registry.Get(existing)
			id = existing
			continue
		}
		id = vm.registry.Register(cd)
		if err := vm.registry.Link(cd, nil); err != nil {
			return nil, 0, err
		}
		prev = cd
	}
	return prev, id, nil
}

// readClassfileLocked is ReadClassfile without re-locking, for use from
// the class loader while vm.mu is held.
func (vm *VM) readClassfileLocked(name string) ([]byte, error) {
	if v := vm.registered.Lookup(wstr.Of(name)); v != nil {
		return v.([]byte), nil
	}
	return vm.classpath.Lookup(name)
}
