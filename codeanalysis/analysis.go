/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

// Package codeanalysis computes, once per method, the data the interpreter
// and the collector need but the class file doesn't carry directly: a
// per-PC abstract stack/locals state, a reference bitmap for every PC, the
// basic-block CFG, and its dominator tree.
package codeanalysis

import (
	"jacobin/bytecode"
	"jacobin/classloader"
	"jacobin/descriptor"
	"jacobin/internal/bitset"
	"jacobin/internal/verrors"
)

// SlotKind is the abstract type tracked for one stack or local slot.
type SlotKind int

const (
	Top SlotKind = iota
	Int
	Long
	Float
	Double
	Reference
	ReturnAddress
)

// State is the abstract stack/locals snapshot at one instruction's entry.
// Stack[0] is the bottom of the operand stack.
type State struct {
	Locals []SlotKind
	Stack  []SlotKind
}

func (s State) clone() State {
	return State{Locals: append([]SlotKind(nil), s.Locals...), Stack: append([]SlotKind(nil), s.Stack...)}
}

func (s State) equal(o State) bool {
	if len(s.Locals) != len(o.Locals) || len(s.Stack) != len(o.Stack) {
		return false
	}
	for i := range s.Locals {
		if s.Locals[i] != o.Locals[i] {
			return false
		}
	}
	for i := range s.Stack {
		if s.Stack[i] != o.Stack[i] {
			return false
		}
	}
	return true
}

// Block is one basic block: a contiguous run of instruction indices
// [Start, End) with no internal branch targets.
type Block struct {
	Start, End int
	Successors []int // block indices
}

// Analysis is the complete per-method code-analysis output.
type Analysis struct {
	Instructions    []bytecode.Instruction
	States          []State       // per instruction index, the entry state
	ReferenceBitmap []*bitset.Set // per instruction index, capacity maxStack+maxLocals
	Blocks          []Block
	BlockOf         []int // instruction index -> block index
	Idom            []int // block index -> idom block index; Idom[0] == 0

	Reducible bool
}

// Analyze runs the full pipeline over a method's Code attribute: bytecode
// preprocessing, abstract interpretation to a fixed point, reference
// bitmap derivation, basic-block computation, and dominator-tree
// construction. It returns a VerifyError (not a panic) on any analysis
// failure. cp resolves the constant-pool tag of ldc/
// ldc2_w operands so the interpreter tracks their real abstract kind.
func Analyze(cp *classloader.ConstantPool, m *classloader.Method) (*Analysis, error) {
	if m.Code == nil {
		return nil, verrors.VE("method %s%s has no Code attribute to analyse", m.Name, m.Desc)
	}
	insns, err := bytecode.Preprocess(m.Code.RawCode)
	if err != nil {
		return nil, verrors.VE("bytecode preprocessing failed for %s%s: %v", m.Name, m.Desc, err)
	}

	handlers, err := handlerRanges(insns, m.Code.ExceptionTable)
	if err != nil {
		return nil, verrors.VE("%s%s: %v", m.Name, m.Desc, err)
	}

	states, err := abstractInterpret(insns, cp, m, handlers)
	if err != nil {
		return nil, err
	}

	maxSlots := m.Code.MaxStack + m.Code.MaxLocals
	bitmaps := make([]*bitset.Set, len(insns))
	for i, st := range states {
		bitmaps[i] = referenceBitmap(st, maxSlots, m.Code.MaxStack)
	}

	blocks, blockOf := computeBasicBlocks(insns, handlers)
	idom := dominatorTree(blocks)
	reducible := isReducible(blocks)

	return &Analysis{
		Instructions:    insns,
		States:          states,
		ReferenceBitmap: bitmaps,
		Blocks:          blocks,
		BlockOf:         blockOf,
		Idom:            idom,
		Reducible:       reducible,
	}, nil
}

// handlerRange is an exception-table row converted from byte offsets to
// instruction indices: instructions [Start, End) are protected, Handler is
// the catch target.
type handlerRange struct {
	Start, End, Handler int
}

// handlerRanges converts a Code attribute's exception table into
// instruction-index form. A handler or range boundary that does not land
// on an instruction boundary is a verification failure.
func handlerRanges(insns []bytecode.Instruction, table []classloader.ExceptionTableEntry) ([]handlerRange, error) {
	if len(table) == 0 {
		return nil, nil
	}
	byPC := make(map[int]int, len(insns))
	for i, insn := range insns {
		byPC[insn.PC] = i
	}
	endPC := 0
	if n := len(insns); n > 0 {
		endPC = insns[n-1].PC + 1 // any end_pc past the last opcode byte covers through the end
	}
	out := make([]handlerRange, 0, len(table))
	for _, e := range table {
		start, ok := byPC[e.StartPC]
		if !ok {
			return nil, verrors.VE("exception range start_pc %d is not an instruction boundary", e.StartPC)
		}
		end := len(insns)
		if e.EndPC < endPC {
			end, ok = byPC[e.EndPC]
			if !ok {
				return nil, verrors.VE("exception range end_pc %d is not an instruction boundary", e.EndPC)
			}
		}
		handler, ok := byPC[e.HandlerPC]
		if !ok {
			return nil, verrors.VE("exception handler_pc %d is not an instruction boundary", e.HandlerPC)
		}
		out = append(out, handlerRange{Start: start, End: end, Handler: handler})
	}
	return out, nil
}

// referenceBitmap packs a joined abstract state into a fixed-width
// compressed bitset: operand stack slots first
// (word 0..max_stack-1), then locals starting at max_stack.
func referenceBitmap(st State, capacity, maxStack int) *bitset.Set {
	b := bitset.New(capacity)
	for i, k := range st.Stack {
		if k == Reference {
			b.TestAndSet(i)
		}
	}
	for i, k := range st.Locals {
		if k == Reference {
			b.TestAndSet(maxStack + i)
		}
	}
	return b
}

// entryState builds the abstract state a method begins execution with:
// `this` for instance methods (a reference), then the declared arguments
// in order, with longs and doubles occupying two slots (the second Top).
func entryState(m *classloader.Method, maxLocals int) State {
	locals := make([]SlotKind, maxLocals)
	idx := 0
	if !m.IsStatic() {
		locals[idx] = Reference
		idx++
	}
	for _, arg := range m.Parsed.Args {
		k := baseKindToSlot(arg.Base, arg.IsArray())
		locals[idx] = k
		idx++
		if k == Long || k == Double {
			locals[idx] = Top
			idx++
		}
	}
	for ; idx < maxLocals; idx++ {
		locals[idx] = Top
	}
	return State{Locals: locals, Stack: nil}
}

func baseKindToSlot(base descriptor.BaseKind, isArray bool) SlotKind {
	if isArray {
		return Reference
	}
	switch base {
	case descriptor.Long:
		return Long
	case descriptor.Double:
		return Double
	case descriptor.Float:
		return Float
	case descriptor.Reference:
		return Reference
	case descriptor.Boolean, descriptor.Byte, descriptor.Char, descriptor.Short, descriptor.Int:
		return Int
	default:
		return Top
	}
}

func merge(a, b SlotKind) SlotKind {
	if a == b {
		return a
	}
	if a == Reference && b == Reference {
		return Reference
	}
	return Top
}

func mergeState(a, b State) State {
	out := State{Locals: make([]SlotKind, len(a.Locals)), Stack: nil}
	for i := range a.Locals {
		bv := Top
		if i < len(b.Locals) {
			bv = b.Locals[i]
		}
		out.Locals[i] = merge(a.Locals[i], bv)
	}
	if len(a.Stack) == len(b.Stack) {
		out.Stack = make([]SlotKind, len(a.Stack))
		for i := range a.Stack {
			out.Stack[i] = merge(a.Stack[i], b.Stack[i])
		}
	} else if len(a.Stack) == 0 {
		out.Stack = append([]SlotKind(nil), b.Stack...)
	} else {
		out.Stack = append([]SlotKind(nil), a.Stack...)
	}
	return out
}
