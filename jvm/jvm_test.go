/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package jvm

import (
	"bytes"
	"encoding/binary"
	"testing"

	"jacobin/classloader"
	"jacobin/codeanalysis"
	"jacobin/internal/verrors"
)

type cfBuilder struct{ buf bytes.Buffer }

func (b *cfBuilder) u1(v uint8)   { b.buf.WriteByte(v) }
func (b *cfBuilder) u2(v uint16)  { var t [2]byte; binary.BigEndian.PutUint16(t[:], v); b.buf.Write(t[:]) }
func (b *cfBuilder) u4(v uint32)  { var t [4]byte; binary.BigEndian.PutUint32(t[:], v); b.buf.Write(t[:]) }
func (b *cfBuilder) raw(p []byte) { b.buf.Write(p) }
func (b *cfBuilder) utf8(s string) {
	b.u1(1)
	b.u2(uint16(len(s)))
	b.buf.WriteString(s)
}
func (b *cfBuilder) class(nameIdx uint16) { b.u1(7); b.u2(nameIdx) }

// buildMainClass emits class Main extends java/lang/Object with a single
// method void m() { return; }.
func buildMainClass(t *testing.T) []byte {
	t.Helper()
	var b cfBuilder
	b.u4(0xCAFEBABE)
	b.u2(0)
	b.u2(52)

	b.u2(8)
	b.utf8("Main")             // 1
	b.class(1)                 // 2
	b.utf8("java/lang/Object") // 3
	b.class(3)                 // 4
	b.utf8("m")                // 5
	b.utf8("()V")              // 6
	b.utf8("Code")             // 7

	b.u2(0x0021)
	b.u2(2)
	b.u2(4)
	b.u2(0) // interfaces
	b.u2(0) // fields

	b.u2(1) // methods
	b.u2(0x0001)
	b.u2(5)
	b.u2(6)
	b.u2(1)

	var code cfBuilder
	code.u2(1) // max_stack
	code.u2(1) // max_locals
	code.u4(1)
	code.u1(0xb1) // return
	code.u2(0)
	code.u2(0)

	b.u2(7)
	codeBytes := code.buf.Bytes()
	b.u4(uint32(len(codeBytes)))
	b.raw(codeBytes)

	b.u2(0)
	return b.buf.Bytes()
}

func TestRegisterAndReadClassfile(t *testing.T) {
	vm, err := CreateVM(Options{})
	if err != nil {
		t.Fatalf("CreateVM: %v", err)
	}
	defer vm.Close()

	data := buildMainClass(t)
	vm.RegisterClassfile("Main.class", data)

	got, err := vm.ReadClassfile("Main.class")
	if err != nil {
		t.Fatalf("ReadClassfile: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("ReadClassfile returned different bytes than registered")
	}

	if _, err := vm.ReadClassfile("Missing.class"); err == nil {
		t.Error("expected not-found for unregistered class")
	} else if ce, ok := err.(*verrors.ClasspathError); !ok || ce.Kind != verrors.NotFound {
		t.Errorf("want ClasspathError/not-found, got %v", err)
	}
}

func TestListClassfilesTwoCallIdiom(t *testing.T) {
	vm, err := CreateVM(Options{})
	if err != nil {
		t.Fatalf("CreateVM: %v", err)
	}
	defer vm.Close()

	vm.RegisterClassfile("A.class", []byte{1})
	vm.RegisterClassfile("B.class", []byte{2})
	vm.RegisterClassfile("A.class", []byte{3}) // replace, not duplicate

	_, total := vm.ListClassfiles(nil)
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	buf := make([]string, total)
	copied, _ := vm.ListClassfiles(buf)
	if copied != 2 || buf[0] != "A.class" || buf[1] != "B.class" {
		t.Errorf("ListClassfiles copied %d: %v", copied, buf)
	}
}

func TestLoadClassLinksAndAnalyses(t *testing.T) {
	vm, err := CreateVM(Options{})
	if err != nil {
		t.Fatalf("CreateVM: %v", err)
	}
	defer vm.Close()
	vm.RegisterClassfile("Main.class", buildMainClass(t))

	cd, id, err := vm.LoadClass("Main")
	if err != nil {
		t.Fatalf("LoadClass: %v", err)
	}
	if cd.ThisClass != "Main" {
		t.Errorf("ThisClass = %q", cd.ThisClass)
	}
	if got := vm.Registry().Get(id); got != cd {
		t.Error("registry id does not resolve to the loaded descriptor")
	}

	m := cd.Methods[0]
	an, ok := m.Analysis.(*codeanalysis.Analysis)
	if !ok {
		t.Fatal("method was not analysed at load time")
	}
	if len(an.Instructions) != 1 || an.Instructions[0].Kind != "return" {
		t.Fatalf("unexpected instructions: %+v", an.Instructions)
	}
	if len(an.Blocks) != 1 || an.Idom[0] != 0 {
		t.Errorf("want single self-dominating block, got blocks=%d idom=%v", len(an.Blocks), an.Idom)
	}
	if got := an.ReferenceBitmap[0].ListSetBits(); len(got) != 1 || got[0] != 1 {
		// slot 1 = local 0 (after max_stack=1 stack slots) holds `this`.
		t.Errorf("reference bitmap bits = %v, want [1]", got)
	}

	// Second load returns the cached registration.
	cd2, id2, err := vm.LoadClass("Main")
	if err != nil || cd2 != cd || id2 != id {
		t.Errorf("reload returned (%p,%d,%v), want cached (%p,%d)", cd2, id2, err, cd, id)
	}
}

func TestLoadArrayClassChain(t *testing.T) {
	vm, err := CreateVM(Options{})
	if err != nil {
		t.Fatalf("CreateVM: %v", err)
	}
	defer vm.Close()

	cd, _, err := vm.LoadClass("[[[J")
	if err != nil {
		t.Fatalf("LoadClass([[[J): %v", err)
	}
	if cd.Kind != classloader.PrimitiveArray || cd.Dimensions != 3 {
		t.Fatalf("got kind=%v dims=%d", cd.Kind, cd.Dimensions)
	}
	if cd.OneFewerDim == nil || cd.OneFewerDim.Dimensions != 2 ||
		cd.OneFewerDim.OneFewerDim == nil || cd.OneFewerDim.OneFewerDim.Dimensions != 1 {
		t.Error("OneFewerDim chain not fully populated")
	}
	if _, ok := vm.Registry().Lookup("[[J"); !ok {
		t.Error("intermediate dimension [[J was not registered")
	}
}

func TestAllocationTriggersCollection(t *testing.T) {
	// A heap with room for only a handful of objects at a time: dropping
	// every reference between allocations must let the GC-on-exhaustion
	// retry keep succeeding indefinitely.
	vm, err := CreateVM(Options{HeapCapacity: 2048})
	if err != nil {
		t.Fatalf("CreateVM: %v", err)
	}
	defer vm.Close()

	th, err := vm.CreateThread(ThreadOptions{FrameBufferCapacity: 1024})
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	defer th.Close()

	intArr, arrID, err := vm.LoadClass("[I")
	if err != nil || intArr.Kind != classloader.PrimitiveArray {
		t.Fatalf("LoadClass([I): %v", err)
	}
	for i := 0; i < 200; i++ {
		if _, err := vm.AllocateArray(arrID, 32); err != nil {
			t.Fatalf("allocation %d failed despite GC: %v", i, err)
		}
	}

	// Rooting the allocations through handles must eventually exhaust the
	// heap for real.
	sawOOM := false
	for i := 0; i < 200; i++ {
		r, err := vm.AllocateArray(arrID, 32)
		if err != nil {
			sawOOM = true
			break
		}
		th.MakeHandle(r)
	}
	if !sawOOM {
		t.Error("expected out-of-memory once every allocation was rooted")
	}
}

func TestStdioHooks(t *testing.T) {
	var out, errBuf bytes.Buffer
	vm, err := CreateVM(Options{
		Stdin:  bytes.NewBufferString("input"),
		Stdout: &out,
		Stderr: &errBuf,
	})
	if err != nil {
		t.Fatalf("CreateVM: %v", err)
	}
	defer vm.Close()

	p := make([]byte, 2)
	if n, err := vm.ReadStdin(p); err != nil || n != 2 || string(p) != "in" {
		t.Errorf("ReadStdin = (%d, %v, %q)", n, err, p)
	}
	if avail := vm.PollAvailableStdin(); avail != 3 {
		t.Errorf("PollAvailableStdin = %d, want 3", avail)
	}
	if _, err := vm.WriteStdout([]byte("hello")); err != nil || out.String() != "hello" {
		t.Errorf("WriteStdout wrote %q (%v)", out.String(), err)
	}

	vm.ReportUncaught("java/lang/NullPointerException", []string{"Main.m(Main.java:3)"})
	got := errBuf.String()
	if !bytes.Contains([]byte(got), []byte("java.lang.NullPointerException")) ||
		!bytes.Contains([]byte(got), []byte("\tat Main.m(Main.java:3)")) {
		t.Errorf("uncaught report = %q", got)
	}
}
