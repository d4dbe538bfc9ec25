/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package classloader

import (
	"bytes"
	"encoding/binary"
	"testing"
)

type cfBuilder struct{ buf bytes.Buffer }

func (b *cfBuilder) u1(v uint8)  { b.buf.WriteByte(v) }
func (b *cfBuilder) u2(v uint16) { var t [2]byte; binary.BigEndian.PutUint16(t[:], v); b.buf.Write(t[:]) }
func (b *cfBuilder) u4(v uint32) { var t [4]byte; binary.BigEndian.PutUint32(t[:], v); b.buf.Write(t[:]) }
func (b *cfBuilder) raw(p []byte) { b.buf.Write(p) }
func (b *cfBuilder) utf8(s string) {
	b.u1(1)
	b.u2(uint16(len(s)))
	b.buf.WriteString(s)
}
func (b *cfBuilder) class(nameIdx uint16) { b.u1(7); b.u2(nameIdx) }

// buildMinimalClass builds a class file for:
//   class Main extends java.lang.Object { void m() { return; } }
func buildMinimalClass(t *testing.T) []byte {
	t.Helper()
	var b cfBuilder
	b.u4(classMagic)
	b.u2(0) // minor
	b.u2(52) // major

	// constant pool: 7 entries -> constant_pool_count = 8
	b.u2(8)
	b.utf8("Main")             // 1
	b.class(1)                 // 2
	b.utf8("java/lang/Object") // 3
	b.class(3)                 // 4
	b.utf8("m")                // 5
	b.utf8("()V")              // 6
	b.utf8("Code")             // 7

	b.u2(0x0021) // access flags (public|super)
	b.u2(2)      // this_class
	b.u2(4)      // super_class
	b.u2(0)      // interfaces_count

	b.u2(0) // fields_count

	b.u2(1)      // methods_count
	b.u2(0x0001) // access_flags (public)
	b.u2(5)      // name_index "m"
	b.u2(6)      // desc_index "()V"
	b.u2(1)      // attributes_count

	var code cfBuilder
	code.u2(1)           // max_stack
	code.u2(1)           // max_locals
	code.u4(1)            // code_length
	code.u1(0xb1)         // return
	code.u2(0)            // exception_table_length
	code.u2(0)            // attributes_count

	b.u2(7) // attribute_name_index "Code"
	codeBytes := code.buf.Bytes()
	b.u4(uint32(len(codeBytes)))
	b.raw(codeBytes)

	b.u2(0) // class attributes_count

	return b.buf.Bytes()
}

func TestParseTruncatedMagicIsFormatError(t *testing.T) {
	_, err := Parse([]byte{0xCA, 0xFE, 0xBA})
	if err == nil {
		t.Fatal("expected format error for truncated magic")
	}
}

func TestParseMinimalClass(t *testing.T) {
	cd, err := Parse(buildMinimalClass(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cd.ThisClass != "Main" {
		t.Errorf("ThisClass = %q, want Main", cd.ThisClass)
	}
	if cd.SuperClass != "java/lang/Object" {
		t.Errorf("SuperClass = %q, want java/lang/Object", cd.SuperClass)
	}
	if len(cd.Methods) != 1 {
		t.Fatalf("want 1 method, got %d", len(cd.Methods))
	}
	m := cd.Methods[0]
	if m.Name != "m" || m.Desc != "()V" {
		t.Errorf("method = %s%s, want m()V", m.Name, m.Desc)
	}
	if m.Code == nil || len(m.Code.RawCode) != 1 || m.Code.RawCode[0] != 0xb1 {
		t.Fatalf("unexpected code attribute: %+v", m.Code)
	}
}

// Re-parsing the same bytes must produce a structurally equal
// descriptor.
func TestParseRoundTripStructurallyEqual(t *testing.T) {
	data := buildMinimalClass(t)
	first, err := Parse(data)
	if err != nil {
		t.Fatalf("first parse: %v", err)
	}
	second, err := Parse(data)
	if err != nil {
		t.Fatalf("second parse: %v", err)
	}
	if first.ThisClass != second.ThisClass || first.SuperClass != second.SuperClass {
		t.Fatal("round trip produced different class identity")
	}
	if len(first.Methods) != len(second.Methods) || first.Methods[0].Desc != second.Methods[0].Desc {
		t.Fatal("round trip produced different method signatures")
	}
}

func TestParseCorruptConstantPoolTag(t *testing.T) {
	var b cfBuilder
	b.u4(classMagic)
	b.u2(0)
	b.u2(52)
	b.u2(2)    // constant_pool_count
	b.u1(200)  // unknown tag
	if _, err := Parse(b.buf.Bytes()); err == nil {
		t.Fatal("expected format error for unknown constant pool tag")
	}
}
