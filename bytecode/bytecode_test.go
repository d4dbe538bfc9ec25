/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package bytecode

import "testing"

func TestCanonicalizeAloadN(t *testing.T) {
	insns, err := Preprocess([]byte{0x2a, 0xb1}) // aload_0, return
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if insns[0].Kind != "aload" || insns[0].Operand.Kind != OperandLocalIndex || insns[0].Operand.LocalIndex != 0 {
		t.Fatalf("aload_0 not canonicalised: %+v", insns[0])
	}
}

func TestCanonicalizeIconstN(t *testing.T) {
	insns, err := Preprocess([]byte{0x02, 0x08, 0xb1}) // iconst_m1, iconst_5, return
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if insns[0].Kind != "iconst" || insns[0].Operand.ImmInt != -1 {
		t.Fatalf("iconst_m1 not canonicalised with sign: %+v", insns[0])
	}
	if insns[1].Kind != "iconst" || insns[1].Operand.ImmInt != 5 {
		t.Fatalf("iconst_5 not canonicalised: %+v", insns[1])
	}
}

func TestCanonicalizeBipushSipush(t *testing.T) {
	code := []byte{0x10, 0xff, 0x11, 0x01, 0x00, 0xb1} // bipush -1, sipush 256, return
	insns, err := Preprocess(code)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if insns[0].Kind != "iconst" || insns[0].Operand.ImmInt != -1 {
		t.Fatalf("bipush not canonicalised to iconst: %+v", insns[0])
	}
	if insns[1].Kind != "iconst" || insns[1].Operand.ImmInt != 256 {
		t.Fatalf("sipush not canonicalised to iconst: %+v", insns[1])
	}
}

func TestCanonicalizeDconstN(t *testing.T) {
	insns, err := Preprocess([]byte{0x0f, 0xb1}) // dconst_1, return
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if insns[0].Kind != "dconst" || insns[0].Operand.ImmDouble != 1 {
		t.Fatalf("dconst_1 not canonicalised: %+v", insns[0])
	}
}

func TestCanonicalizeLdcW(t *testing.T) {
	code := []byte{0x13, 0x00, 0x07, 0xb1} // ldc_w #7, return
	insns, err := Preprocess(code)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if insns[0].Kind != "ldc" || insns[0].Operand.CPIndex != 7 {
		t.Fatalf("ldc_w not canonicalised to ldc: %+v", insns[0])
	}
}

func TestCanonicalizeGotoW(t *testing.T) {
	// goto_w to the instruction right after itself (the trailing return).
	code := []byte{0xc8, 0x00, 0x00, 0x00, 0x05, 0xb1}
	insns, err := Preprocess(code)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if insns[0].Kind != "goto" {
		t.Fatalf("goto_w not canonicalised to goto: %+v", insns[0])
	}
	if insns[0].Operand.Kind != OperandBranchTarget || insns[0].Operand.BranchTarget != 1 {
		t.Fatalf("goto_w branch target not rewritten to instruction index: %+v", insns[0])
	}
}

// TestBranchTargetRewritten exercises the core invariant that every branch
// target is expressed as an instruction index, not a byte offset, once
// Preprocess returns.
func TestBranchTargetRewritten(t *testing.T) {
	// iconst_0 ; ifeq +4 (to the return two instructions later) ; iconst_1 ; return
	code := []byte{0x03, 0x99, 0x00, 0x04, 0x04, 0xb1}
	insns, err := Preprocess(code)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if len(insns) != 4 {
		t.Fatalf("want 4 instructions, got %d: %+v", len(insns), insns)
	}
	ifeq := insns[1]
	if ifeq.Kind != "ifeq" {
		t.Fatalf("expected ifeq, got %s", ifeq.Kind)
	}
	if ifeq.Operand.Kind != OperandBranchTarget {
		t.Fatalf("ifeq operand not a branch target: %+v", ifeq.Operand)
	}
	if ifeq.Operand.BranchTarget != 3 {
		t.Fatalf("ifeq branch target = %d, want instruction index 3 (return)", ifeq.Operand.BranchTarget)
	}
}

func TestMisalignedBranchTargetIsError(t *testing.T) {
	// goto into the middle of the sipush's 2-byte operand.
	code := []byte{0x11, 0x00, 0x01, 0xa7, 0xff, 0xfe}
	if _, err := Preprocess(code); err == nil {
		t.Fatal("expected error for branch into the middle of an instruction")
	}
}

func TestWideIload(t *testing.T) {
	// wide iload #300
	code := []byte{0xc4, 0x15, 0x01, 0x2c, 0xb1}
	insns, err := Preprocess(code)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if insns[0].Kind != "iload" || insns[0].Operand.LocalIndex != 300 {
		t.Fatalf("wide iload not decoded: %+v", insns[0])
	}
}

func TestWideIinc(t *testing.T) {
	// wide iinc #2, +1000
	code := []byte{0xc4, 0x84, 0x00, 0x02, 0x03, 0xe8, 0xb1}
	insns, err := Preprocess(code)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if insns[0].Kind != "iinc" || insns[0].Operand.IincIndex != 2 || insns[0].Operand.IincConst != 1000 {
		t.Fatalf("wide iinc not decoded: %+v", insns[0])
	}
}

func TestTableswitchAlignment(t *testing.T) {
	// tableswitch at pc=1 (one nop first), forcing 2 bytes of padding so
	// default/low/high start on a 4-byte boundary.
	code := []byte{
		0x00,                   // nop, pc 0
		0xaa,                   // tableswitch, pc 1
		0x00, 0x00,             // padding (pc 2-3)
		0x00, 0x00, 0x00, 0x17, // default -> offset 23 (pc 1+23=24)
		0x00, 0x00, 0x00, 0x00, // low = 0
		0x00, 0x00, 0x00, 0x01, // high = 1
		0x00, 0x00, 0x00, 0x17, // target for key 0 -> offset 23
		0x00, 0x00, 0x00, 0x17, // target for key 1 -> offset 23
		0xb1, // return, pc 24
	}
	insns, err := Preprocess(code)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	sw := insns[1]
	if sw.Kind != "tableswitch" {
		t.Fatalf("expected tableswitch, got %s", sw.Kind)
	}
	if sw.Operand.Switch == nil || !sw.Operand.Switch.IsTable {
		t.Fatalf("expected table switch operand: %+v", sw.Operand)
	}
	if sw.Operand.Switch.Default != 2 {
		t.Fatalf("default target = %d, want instruction index 2 (return)", sw.Operand.Switch.Default)
	}
	if len(sw.Operand.Switch.Targets) != 2 {
		t.Fatalf("want 2 targets, got %d", len(sw.Operand.Switch.Targets))
	}
}

func TestUnknownOpcodeIsError(t *testing.T) {
	if _, err := Preprocess([]byte{0xca}); err == nil {
		t.Fatal("expected error for unassigned opcode 0xca")
	}
}

func TestInvokeinterfaceOperand(t *testing.T) {
	code := []byte{0xb9, 0x00, 0x03, 0x02, 0x00, 0xb1}
	insns, err := Preprocess(code)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if insns[0].Kind != "invokeinterface" {
		t.Fatalf("expected invokeinterface, got %s", insns[0].Kind)
	}
	if insns[0].Operand.InterfaceCPIndex != 3 || insns[0].Operand.InterfaceCount != 2 {
		t.Fatalf("invokeinterface operand mismatch: %+v", insns[0].Operand)
	}
}
