/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

// Package jvm is the embedder interface: an explicit VM context owning
// the class registry, heap, threads, interned strings, and classpath,
// threaded through every entry point. There is deliberately no
// process-wide VM state -- two VMs in one process are fully independent.
package jvm

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"jacobin/classloader"
	"jacobin/classpath"
	"jacobin/internal/vlog"
	"jacobin/internal/wstr"
	"jacobin/object"
)

const (
	defaultHeapCapacity   = 1 << 24
	defaultFrameBufferLen = 1 << 20
)

// Options configures CreateVM. Zero values get sensible defaults; a nil
// stdio hook leaves that stream disconnected.
type Options struct {
	// ClassPath is the colon-separated search spec: ".jar"
	// segments load as archives, everything else as a directory prefix,
	// empty segments are skipped.
	ClassPath string

	HeapCapacity int // bytes; defaultHeapCapacity if zero

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	LogWriter io.Writer
	LogLevel  vlog.Level
}

// VM is one virtual-machine instance. All methods are safe for the
// cooperative single-mutator discipline the core assumes: a single mutex
// serializes allocation, class loading, thread bookkeeping, and GC, so a
// collection can only begin when no mutator operation is mid-flight.
type VM struct {
	mu sync.Mutex

	log       *vlog.Logger
	classpath *classpath.ClassPath
	registry  *classloader.Registry
	heap      *object.Heap

	// registered holds class-file bytes made accessible by name through
	// RegisterClassfile, searched before the classpath.
	registered      *wstr.Table
	registeredNames []string

	threads []*Thread

	interned     *wstr.Table // name -> object.Ref of the interned String
	inlineCaches []*object.Ref

	loading map[string]bool // cycle guard for LoadClass recursion

	stdin  *bufio.Reader
	stdout io.Writer
	stderr io.Writer

	objectClassID int
	oomClassID    int
	soeClassID    int

	closed bool
}

// CreateVM builds a VM from opts: parses the classpath, allocates the
// heap, and registers the bootstrap classes every thread needs
// (java/lang/Object and the two preallocated-error classes).
func CreateVM(opts Options) (*VM, error) {
	cp, err := classpath.Parse(opts.ClassPath)
	if err != nil {
		return nil, err
	}
	heapCap := opts.HeapCapacity
	if heapCap <= 0 {
		heapCap = defaultHeapCapacity
	}
	vm := &VM{
		log:        vlog.New(opts.LogWriter, opts.LogLevel),
		classpath:  cp,
		registry:   classloader.NewRegistry(),
		heap:       object.NewHeap(heapCap),
		registered: wstr.NewTable(0),
		interned:   wstr.NewTable(0),
		loading:    make(map[string]bool),
		stdout:     opts.Stdout,
		stderr:     opts.Stderr,
	}
	if opts.Stdin != nil {
		vm.stdin = bufio.NewReader(opts.Stdin)
	}
	if err := vm.registerBootstrapClasses(); err != nil {
		return nil, err
	}
	return vm, nil
}

// Close tears the VM down. Remaining threads are closed with it; using
// the VM afterward is an error.
func (vm *VM) Close() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.threads = nil
	vm.closed = true
}

// Registry exposes the class registry, for collaborators (the
// interpreter, package natives) that resolve class ids themselves.
func (vm *VM) Registry() *classloader.Registry { return vm.registry }

// Heap exposes the object heap. References obtained from it are
// invalidated by the next collection, like any other unrooted reference.
func (vm *VM) Heap() *object.Heap { return vm.heap }

// RegisterClassfile makes data accessible under name, ahead of the
// classpath in lookup order. Re-registering a name replaces its bytes.
func (vm *VM) RegisterClassfile(name string, data []byte) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	b := make([]byte, len(data))
	copy(b, data)
	if prev := vm.registered.Insert(wstr.Of(name), b); prev == nil {
		vm.registeredNames = append(vm.registeredNames, name)
	}
}

// ReadClassfile locates name among registered class files first, then
// across the classpath in declaration order.
func (vm *VM) ReadClassfile(name string) ([]byte, error) {
	vm.mu.Lock()
	if v := vm.registered.Lookup(wstr.Of(name)); v != nil {
		b := v.([]byte)
		vm.mu.Unlock()
		return b, nil
	}
	vm.mu.Unlock()
	return vm.classpath.Lookup(name)
}

// ListClassfiles enumerates the registered class-file names using the
// two-call idiom: call with a nil buffer to learn the total, then
// with a buffer of that size to fill it. It returns how many names were
// copied and how many exist.
func (vm *VM) ListClassfiles(buf []string) (copied, total int) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	total = len(vm.registeredNames)
	copied = copy(buf, vm.registeredNames)
	return copied, total
}

// ParseClassfile decodes data as a class file, without registering the
// result anywhere; LoadClass is the registering, linking variant.
func ParseClassfile(data []byte) (*classloader.ClassDescriptor, error) {
	return classloader.Parse(data)
}

// InternString returns the canonical interned-String object for s,
// recording ref as that canonical object if s was not interned yet. The
// caller builds the String object; interning only deduplicates it. The
// table's values are GC roots.
func (vm *VM) InternString(s string, ref object.Ref) object.Ref {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	key := wstr.Of(s)
	if v := vm.interned.Lookup(key); v != nil {
		return v.(object.Ref)
	}
	vm.interned.Insert(key.Clone(), ref)
	return ref
}

// InternedString looks up the interned object for s without creating one.
func (vm *VM) InternedString(s string) (object.Ref, bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if v := vm.interned.Lookup(wstr.Of(s)); v != nil {
		return v.(object.Ref), true
	}
	return object.Ref{}, false
}

// RegisterInlineCache records slot as a GC root. The interpreter calls
// this once per invokedynamic / signature-polymorphic call site it
// materializes an inline cache for.
func (vm *VM) RegisterInlineCache(slot *object.Ref) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.inlineCaches = append(vm.inlineCaches, slot)
}

// ReadStdin reads from the embedder-supplied stdin hook.
func (vm *VM) ReadStdin(p []byte) (int, error) {
	if vm.stdin == nil {
		return 0, io.EOF
	}
	return vm.stdin.Read(p)
}

// PollAvailableStdin reports how many bytes can be read without blocking.
func (vm *VM) PollAvailableStdin() int {
	if vm.stdin == nil {
		return 0
	}
	return vm.stdin.Buffered()
}

// WriteStdout writes through the stdout hook; without one, output is
// discarded.
func (vm *VM) WriteStdout(p []byte) (int, error) {
	if vm.stdout == nil {
		return len(p), nil
	}
	return vm.stdout.Write(p)
}

// WriteStderr writes through the stderr hook.
func (vm *VM) WriteStderr(p []byte) (int, error) {
	if vm.stderr == nil {
		return len(p), nil
	}
	return vm.stderr.Write(p)
}

// ReportUncaught writes the uncaught-exception banner for name and a
// captured stack trace through the stderr hook, the core's last act
// before a clean termination.
func (vm *VM) ReportUncaught(exceptionClass string, trace []string) {
	var sb strings.Builder
	sb.WriteString("Exception in thread \"main\" ")
	sb.WriteString(strings.ReplaceAll(exceptionClass, "/", "."))
	sb.WriteByte('\n')
	for _, line := range trace {
		sb.WriteString("\tat ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	_, _ = vm.WriteStderr([]byte(sb.String()))
}
