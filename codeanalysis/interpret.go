/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package codeanalysis

import (
	"fmt"

	"jacobin/bytecode"
	"jacobin/classloader"
	"jacobin/descriptor"
	"jacobin/internal/verrors"
)

// abstractInterpret runs a work-list fixed point over the instruction
// stream: entry state derived from the method descriptor, merge at
// join points (same kind keeps the kind, otherwise top; reference joins
// reference regardless of declaring class), iterated over the
// instructions in index order (not a true reverse post-order; see
// reversePostOrder) until no state changes. Instructions inside a protected
// range additionally flow their locals (with a single-reference stack,
// the thrown exception) into the range's handler.
func abstractInterpret(insns []bytecode.Instruction, cp *classloader.ConstantPool, m *classloader.Method, handlers []handlerRange) ([]State, error) {
	n := len(insns)
	maxLocals := m.Code.MaxLocals
	states := make([]State, n)
	visited := make([]bool, n)
	if n == 0 {
		return states, nil
	}

	order := reversePostOrder(insns)

	states[0] = entryState(m, maxLocals)
	visited[0] = true

	changed := true
	for changed {
		changed = false
		for _, i := range order {
			if !visited[i] {
				continue
			}
			out, err := step(insns[i], states[i], cp, m.Code.MaxStack, maxLocals)
			if err != nil {
				return nil, verrors.VE("%s%s at pc %d: %v", m.Name, m.Desc, insns[i].PC, err)
			}
			flow := func(succ int, st State) {
				var next State
				if !visited[succ] {
					next = st.clone()
				} else {
					next = mergeState(states[succ], st)
				}
				if !visited[succ] || !next.equal(states[succ]) {
					states[succ] = next
					visited[succ] = true
					changed = true
				}
			}
			for _, succ := range successorsOf(insns, i) {
				flow(succ, out)
			}
			for _, h := range handlers {
				if i >= h.Start && i < h.End && h.Handler < n {
					// the locals as they stand on entry to the protected
					// instruction, with the operand stack replaced by the
					// thrown exception.
					flow(h.Handler, State{Locals: states[i].Locals, Stack: []SlotKind{Reference}})
				}
			}
		}
	}
	return states, nil
}

// reversePostOrder computes a simple forward-index order; the CFGs Code
// attributes produce are overwhelmingly close to straight-line with local
// back edges, so iterating in instruction order converges in very few
// passes without needing an explicit DFS numbering.
func reversePostOrder(insns []bytecode.Instruction) []int {
	order := make([]int, len(insns))
	for i := range insns {
		order[i] = i
	}
	return order
}

// successorsOf returns the instruction indices control can flow to after
// executing insns[i].
func successorsOf(insns []bytecode.Instruction, i int) []int {
	insn := insns[i]
	fallthroughIdx := i + 1
	switch insn.Kind {
	case "goto", "jsr":
		return []int{insn.Operand.BranchTarget}
	case "tableswitch", "lookupswitch":
		sw := insn.Operand.Switch
		out := []int{sw.Default}
		out = append(out, sw.Targets...)
		for _, p := range sw.Pairs {
			out = append(out, p.Target)
		}
		return out
	case "ireturn", "lreturn", "freturn", "dreturn", "areturn", "return", "athrow":
		return nil
	case "ifeq", "ifne", "iflt", "ifge", "ifgt", "ifle",
		"if_icmpeq", "if_icmpne", "if_icmplt", "if_icmpge", "if_icmpgt", "if_icmple",
		"if_acmpeq", "if_acmpne", "ifnull", "ifnonnull":
		if fallthroughIdx >= len(insns) {
			return []int{insn.Operand.BranchTarget}
		}
		return []int{insn.Operand.BranchTarget, fallthroughIdx}
	}
	if fallthroughIdx >= len(insns) {
		return nil
	}
	return []int{fallthroughIdx}
}

func pop(stack []SlotKind, n int) ([]SlotKind, []SlotKind, error) {
	if len(stack) < n {
		return nil, nil, fmt.Errorf("stack underflow: need %d, have %d", n, len(stack))
	}
	return stack[:len(stack)-n], stack[len(stack)-n:], nil
}

func push(stack []SlotKind, kinds ...SlotKind) []SlotKind {
	return append(stack, kinds...)
}

// step applies one instruction's stack/locals effect to state, returning
// the state just after the instruction executes.
func step(insn bytecode.Instruction, state State, cp *classloader.ConstantPool, maxStack, maxLocals int) (State, error) {
	locals := append([]SlotKind(nil), state.Locals...)
	stack := append([]SlotKind(nil), state.Stack...)
	var err error

	setLocal := func(i int, k SlotKind) error {
		if i < 0 || i >= len(locals) {
			return fmt.Errorf("local index %d out of range (maxLocals=%d)", i, maxLocals)
		}
		locals[i] = k
		if k == Long || k == Double {
			if i+1 >= len(locals) {
				return fmt.Errorf("wide local at %d overruns locals", i)
			}
			locals[i+1] = Top
		}
		return nil
	}
	getLocal := func(i int) (SlotKind, error) {
		if i < 0 || i >= len(locals) {
			return Top, fmt.Errorf("local index %d out of range (maxLocals=%d)", i, maxLocals)
		}
		return locals[i], nil
	}

	switch insn.Kind {
	case "nop":
	case "aconst_null":
		stack = push(stack, Reference)
	case "iconst", "bipush", "sipush":
		stack = push(stack, Int)
	case "lconst":
		stack = push(stack, Long, Top)
	case "fconst":
		stack = push(stack, Float)
	case "dconst":
		stack = push(stack, Double, Top)
	case "ldc":
		stack = push(stack, ldcKind(cp, insn.Operand.CPIndex))
	case "ldc2_w":
		k := Long
		if e, ok := cp.At(insn.Operand.CPIndex); ok && e.Tag == classloader.CPDouble {
			k = Double
		}
		stack = push(stack, k, Top)
	case "iload":
		_, err = getLocal(insn.Operand.LocalIndex)
		stack = push(stack, Int)
	case "lload":
		_, err = getLocal(insn.Operand.LocalIndex)
		stack = push(stack, Long, Top)
	case "fload":
		_, err = getLocal(insn.Operand.LocalIndex)
		stack = push(stack, Float)
	case "dload":
		_, err = getLocal(insn.Operand.LocalIndex)
		stack = push(stack, Double, Top)
	case "aload":
		_, err = getLocal(insn.Operand.LocalIndex)
		stack = push(stack, Reference)
	case "istore":
		stack, _, err = pop(stack, 1)
		if err == nil {
			err = setLocal(insn.Operand.LocalIndex, Int)
		}
	case "lstore":
		stack, _, err = pop(stack, 2)
		if err == nil {
			err = setLocal(insn.Operand.LocalIndex, Long)
		}
	case "fstore":
		stack, _, err = pop(stack, 1)
		if err == nil {
			err = setLocal(insn.Operand.LocalIndex, Float)
		}
	case "dstore":
		stack, _, err = pop(stack, 2)
		if err == nil {
			err = setLocal(insn.Operand.LocalIndex, Double)
		}
	case "astore":
		stack, _, err = pop(stack, 1)
		if err == nil {
			err = setLocal(insn.Operand.LocalIndex, Reference)
		}
	case "iaload", "baload", "caload", "saload":
		stack, _, err = pop(stack, 2)
		stack = push(stack, Int)
	case "laload":
		stack, _, err = pop(stack, 2)
		stack = push(stack, Long, Top)
	case "faload":
		stack, _, err = pop(stack, 2)
		stack = push(stack, Float)
	case "daload":
		stack, _, err = pop(stack, 2)
		stack = push(stack, Double, Top)
	case "aaload":
		stack, _, err = pop(stack, 2)
		stack = push(stack, Reference)
	case "iastore", "bastore", "castore", "sastore":
		stack, _, err = pop(stack, 3)
	case "lastore":
		stack, _, err = pop(stack, 4)
	case "fastore":
		stack, _, err = pop(stack, 3)
	case "dastore":
		stack, _, err = pop(stack, 4)
	case "aastore":
		stack, _, err = pop(stack, 3)
	case "pop":
		stack, _, err = pop(stack, 1)
	case "pop2":
		stack, _, err = pop(stack, 2)
	case "dup":
		var top []SlotKind
		stack, top, err = pop(stack, 1)
		if err == nil {
			stack = push(stack, top[0], top[0])
		}
	case "dup_x1":
		var two []SlotKind
		stack, two, err = pop(stack, 2)
		if err == nil {
			stack = push(stack, two[1], two[0], two[1])
		}
	case "dup_x2":
		var three []SlotKind
		stack, three, err = pop(stack, 3)
		if err == nil {
			stack = push(stack, three[2], three[0], three[1], three[2])
		}
	case "dup2":
		var two []SlotKind
		stack, two, err = pop(stack, 2)
		if err == nil {
			stack = push(stack, two[0], two[1], two[0], two[1])
		}
	case "dup2_x1":
		var three []SlotKind
		stack, three, err = pop(stack, 3)
		if err == nil {
			stack = push(stack, three[1], three[2], three[0], three[1], three[2])
		}
	case "dup2_x2":
		var four []SlotKind
		stack, four, err = pop(stack, 4)
		if err == nil {
			stack = push(stack, four[2], four[3], four[0], four[1], four[2], four[3])
		}
	case "swap":
		var two []SlotKind
		stack, two, err = pop(stack, 2)
		if err == nil {
			stack = push(stack, two[1], two[0])
		}
	case "iadd", "isub", "imul", "idiv", "irem", "ishl", "ishr", "iushr", "iand", "ior", "ixor":
		stack, _, err = pop(stack, 2)
		stack = push(stack, Int)
	case "ladd", "lsub", "lmul", "ldiv", "lrem", "land", "lor", "lxor":
		stack, _, err = pop(stack, 4)
		stack = push(stack, Long, Top)
	case "lshl", "lshr", "lushr":
		stack, _, err = pop(stack, 3)
		stack = push(stack, Long, Top)
	case "fadd", "fsub", "fmul", "fdiv", "frem":
		stack, _, err = pop(stack, 2)
		stack = push(stack, Float)
	case "dadd", "dsub", "dmul", "ddiv", "drem":
		stack, _, err = pop(stack, 4)
		stack = push(stack, Double, Top)
	case "ineg":
		stack, _, err = pop(stack, 1)
		stack = push(stack, Int)
	case "lneg":
		stack, _, err = pop(stack, 2)
		stack = push(stack, Long, Top)
	case "fneg":
		stack, _, err = pop(stack, 1)
		stack = push(stack, Float)
	case "dneg":
		stack, _, err = pop(stack, 2)
		stack = push(stack, Double, Top)
	case "iinc":
		_, err = getLocal(insn.Operand.IincIndex)
	case "i2l":
		stack, _, err = pop(stack, 1)
		stack = push(stack, Long, Top)
	case "i2f":
		stack, _, err = pop(stack, 1)
		stack = push(stack, Float)
	case "i2d":
		stack, _, err = pop(stack, 1)
		stack = push(stack, Double, Top)
	case "l2i":
		stack, _, err = pop(stack, 2)
		stack = push(stack, Int)
	case "l2f":
		stack, _, err = pop(stack, 2)
		stack = push(stack, Float)
	case "l2d":
		stack, _, err = pop(stack, 2)
		stack = push(stack, Double, Top)
	case "f2i":
		stack, _, err = pop(stack, 1)
		stack = push(stack, Int)
	case "f2l":
		stack, _, err = pop(stack, 1)
		stack = push(stack, Long, Top)
	case "f2d":
		stack, _, err = pop(stack, 1)
		stack = push(stack, Double, Top)
	case "d2i":
		stack, _, err = pop(stack, 2)
		stack = push(stack, Int)
	case "d2l":
		stack, _, err = pop(stack, 2)
		stack = push(stack, Long, Top)
	case "d2f":
		stack, _, err = pop(stack, 2)
		stack = push(stack, Float)
	case "i2b", "i2c", "i2s":
		stack, _, err = pop(stack, 1)
		stack = push(stack, Int)
	case "lcmp":
		stack, _, err = pop(stack, 4)
		stack = push(stack, Int)
	case "fcmpl", "fcmpg":
		stack, _, err = pop(stack, 2)
		stack = push(stack, Int)
	case "dcmpl", "dcmpg":
		stack, _, err = pop(stack, 4)
		stack = push(stack, Int)
	case "ifeq", "ifne", "iflt", "ifge", "ifgt", "ifle", "ifnull", "ifnonnull":
		stack, _, err = pop(stack, 1)
	case "if_icmpeq", "if_icmpne", "if_icmplt", "if_icmpge", "if_icmpgt", "if_icmple",
		"if_acmpeq", "if_acmpne":
		stack, _, err = pop(stack, 2)
	case "goto":
		// no effect
	case "jsr":
		stack = push(stack, ReturnAddress)
	case "ret":
		_, err = getLocal(insn.Operand.LocalIndex)
	case "tableswitch", "lookupswitch":
		stack, _, err = pop(stack, 1)
	case "ireturn", "freturn":
		stack, _, err = pop(stack, 1)
	case "lreturn", "dreturn":
		stack, _, err = pop(stack, 2)
	case "areturn":
		stack, _, err = pop(stack, 1)
	case "return":
		// no effect
	case "getstatic":
		stack = push(stack, fieldSlotKind(cp, insn.Operand.CPIndex)...)
	case "putstatic":
		k := fieldSlotKind(cp, insn.Operand.CPIndex)
		stack, _, err = pop(stack, len(k))
	case "getfield":
		stack, _, err = pop(stack, 1)
		if err == nil {
			stack = push(stack, fieldSlotKind(cp, insn.Operand.CPIndex)...)
		}
	case "putfield":
		k := fieldSlotKind(cp, insn.Operand.CPIndex)
		stack, _, err = pop(stack, len(k)+1)
	case "invokevirtual", "invokespecial", "invokeinterface":
		stack, err = applyInvoke(cp, insn, stack, true)
	case "invokestatic":
		stack, err = applyInvoke(cp, insn, stack, false)
	case "invokedynamic":
		// call-site descriptor lives in the NameAndType reached through the
		// InvokeDynamic entry; argument/return shape is resolved the same
		// way as invokestatic once the bootstrap method has run.
		stack, err = applyInvokeDynamic(cp, insn, stack)
	case "new":
		stack = push(stack, Reference)
	case "newarray", "anewarray":
		stack, _, err = pop(stack, 1)
		if err == nil {
			stack = push(stack, Reference)
		}
	case "arraylength":
		stack, _, err = pop(stack, 1)
		if err == nil {
			stack = push(stack, Int)
		}
	case "athrow":
		stack, _, err = pop(stack, 1)
	case "checkcast":
		// stack shape unchanged (pop reference, push reference)
	case "instanceof":
		stack, _, err = pop(stack, 1)
		if err == nil {
			stack = push(stack, Int)
		}
	case "monitorenter", "monitorexit":
		stack, _, err = pop(stack, 1)
	case "multianewarray":
		stack, _, err = pop(stack, insn.Operand.MultiDims)
		if err == nil {
			stack = push(stack, Reference)
		}
	default:
		return State{}, fmt.Errorf("unmodelled opcode %q", insn.Kind)
	}

	if err != nil {
		return State{}, err
	}
	if len(stack) > maxStack {
		return State{}, fmt.Errorf("stack depth %d exceeds max_stack %d", len(stack), maxStack)
	}
	return State{Locals: locals, Stack: stack}, nil
}

func ldcKind(cp *classloader.ConstantPool, index int) SlotKind {
	e, ok := cp.At(index)
	if !ok {
		return Reference
	}
	switch e.Tag {
	case classloader.CPInteger:
		return Int
	case classloader.CPFloat:
		return Float
	default:
		return Reference // String, Class, MethodHandle, MethodType
	}
}

// fieldSlotKind returns the one- or two-slot abstract kind a field access
// pushes or pops, resolved from the FieldRef's parsed descriptor.
func fieldSlotKind(cp *classloader.ConstantPool, index int) []SlotKind {
	e, ok := cp.At(index)
	if !ok || e.ResolvedFieldDesc == nil {
		return []SlotKind{Reference}
	}
	k := baseKindToSlot(e.ResolvedFieldDesc.Base, e.ResolvedFieldDesc.IsArray())
	if k == Long || k == Double {
		return []SlotKind{k, Top}
	}
	return []SlotKind{k}
}

func applyInvoke(cp *classloader.ConstantPool, insn bytecode.Instruction, stack []SlotKind, hasReceiver bool) ([]SlotKind, error) {
	index := insn.Operand.CPIndex
	if insn.Kind == "invokeinterface" {
		index = insn.Operand.InterfaceCPIndex
	}
	e, ok := cp.At(index)
	var argSlots, retSlots []SlotKind
	if ok && e.ResolvedMethodDesc != nil {
		for _, a := range e.ResolvedMethodDesc.Args {
			k := baseKindToSlot(a.Base, a.IsArray())
			argSlots = append(argSlots, k)
			if k == Long || k == Double {
				argSlots = append(argSlots, Top)
			}
		}
		ret := e.ResolvedMethodDesc.Return
		if ret.Base != descriptor.Void {
			k := baseKindToSlot(ret.Base, ret.IsArray())
			retSlots = append(retSlots, k)
			if k == Long || k == Double {
				retSlots = append(retSlots, Top)
			}
		}
	}
	n := len(argSlots)
	if hasReceiver {
		n++
	}
	stack, _, err := pop(stack, n)
	if err != nil {
		return nil, err
	}
	stack = push(stack, retSlots...)
	return stack, nil
}

func applyInvokeDynamic(cp *classloader.ConstantPool, insn bytecode.Instruction, stack []SlotKind) ([]SlotKind, error) {
	e, ok := cp.At(insn.Operand.CPIndex)
	if !ok || e.ResolvedMethodDesc == nil {
		return stack, nil
	}
	return applyInvoke(cp, insn, stack, false)
}
