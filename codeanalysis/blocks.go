/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package codeanalysis

import "jacobin/bytecode"

// computeBasicBlocks cuts the instruction stream into basic blocks: at
// every branch, at every branch target, at every exception-handler
// target, and at every instruction after an unconditional transfer of
// control (goto/athrow/return*/switch).
func computeBasicBlocks(insns []bytecode.Instruction, handlers []handlerRange) ([]Block, []int) {
	n := len(insns)
	if n == 0 {
		return nil, nil
	}

	isLeader := make([]bool, n)
	isLeader[0] = true
	for _, h := range handlers {
		if h.Handler < n {
			isLeader[h.Handler] = true
		}
	}
	for i, insn := range insns {
		targets := branchTargets(insn)
		for _, t := range targets {
			if t < n {
				isLeader[t] = true
			}
		}
		if (isTerminator(insn) || len(targets) > 0) && i+1 < n {
			isLeader[i+1] = true
		}
	}

	var starts []int
	for i, leader := range isLeader {
		if leader {
			starts = append(starts, i)
		}
	}

	blocks := make([]Block, len(starts))
	blockOf := make([]int, n)
	for bi, start := range starts {
		end := n
		if bi+1 < len(starts) {
			end = starts[bi+1]
		}
		blocks[bi] = Block{Start: start, End: end}
		for i := start; i < end; i++ {
			blockOf[i] = bi
		}
	}

	for bi := range blocks {
		last := blocks[bi].End - 1
		for _, t := range successorsOf(insns, last) {
			blocks[bi].Successors = append(blocks[bi].Successors, blockOf[t])
		}
	}

	return blocks, blockOf
}

func branchTargets(insn bytecode.Instruction) []int {
	switch insn.Kind {
	case "goto", "jsr":
		return []int{insn.Operand.BranchTarget}
	case "ifeq", "ifne", "iflt", "ifge", "ifgt", "ifle",
		"if_icmpeq", "if_icmpne", "if_icmplt", "if_icmpge", "if_icmpgt", "if_icmple",
		"if_acmpeq", "if_acmpne", "ifnull", "ifnonnull":
		return []int{insn.Operand.BranchTarget}
	case "tableswitch", "lookupswitch":
		sw := insn.Operand.Switch
		out := append([]int(nil), sw.Targets...)
		out = append(out, sw.Default)
		for _, p := range sw.Pairs {
			out = append(out, p.Target)
		}
		return out
	}
	return nil
}

func isTerminator(insn bytecode.Instruction) bool {
	switch insn.Kind {
	case "goto", "athrow", "tableswitch", "lookupswitch",
		"ireturn", "lreturn", "freturn", "dreturn", "areturn", "return":
		return true
	}
	return false
}

// dominatorTree is the standard Cooper-Harvey-Kennedy iterative
// algorithm, with block 0 as the unique entry. Requires a CFG
// reachable from block 0 in reverse postorder for fast convergence; since
// blocks are already numbered in program order, that numbering is used
// directly; it differs from a true RPO only for backward-branch-heavy
// methods, where the algorithm just takes additional fixed-point passes.
func dominatorTree(blocks []Block) []int {
	n := len(blocks)
	if n == 0 {
		return nil
	}
	preds := make([][]int, n)
	for b, blk := range blocks {
		for _, s := range blk.Successors {
			preds[s] = append(preds[s], b)
		}
	}

	idom := make([]int, n)
	for i := range idom {
		idom[i] = -1
	}
	idom[0] = 0

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	changed := true
	for changed {
		changed = false
		for _, b := range order {
			if b == 0 {
				continue
			}
			newIdom := -1
			for _, p := range preds[b] {
				if idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
					continue
				}
				newIdom = intersect(idom, newIdom, p)
			}
			if newIdom != -1 && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}
	for i := range idom {
		if idom[i] == -1 {
			idom[i] = i // unreachable block: dominated only by itself
		}
	}
	return idom
}

func intersect(idom []int, a, b int) int {
	for a != b {
		for a > b {
			a = idom[a]
		}
		for b > a {
			b = idom[b]
		}
	}
	return a
}

// isReducible reports whether the CFG reduces to a single node under the
// classic T1 (remove self-loop)/T2 (fold a node with a single predecessor
// into it) transformation sequence. It operates on a
// mutable copy of the successor/predecessor lists.
func isReducible(blocks []Block) bool {
	n := len(blocks)
	if n <= 1 {
		return true
	}
	succ := make([]map[int]bool, n)
	pred := make([]map[int]bool, n)
	alive := make([]bool, n)
	for i := range succ {
		succ[i] = map[int]bool{}
		pred[i] = map[int]bool{}
		alive[i] = true
	}
	for b, blk := range blocks {
		for _, s := range blk.Successors {
			if s != b {
				succ[b][s] = true
				pred[s][b] = true
			}
		}
	}

	liveCount := n
	for {
		progressed := false

		// T1: remove self-loops (already excluded above by construction,
		// but re-applied after T2 may introduce new self successors).
		for b := 0; b < n; b++ {
			if alive[b] && succ[b][b] {
				delete(succ[b], b)
				delete(pred[b], b)
				progressed = true
			}
		}

		// T2: fold a node with exactly one predecessor into that predecessor.
		for b := 0; b < n; b++ {
			if !alive[b] || b == 0 {
				continue
			}
			if len(pred[b]) != 1 {
				continue
			}
			var p int
			for k := range pred[b] {
				p = k
			}
			if p == b {
				continue
			}
			delete(succ[p], b)
			delete(pred[b], p)
			for s := range succ[b] {
				succ[p][s] = true
				pred[s][p] = true
				delete(pred[s], b)
			}
			alive[b] = false
			liveCount--
			progressed = true
		}

		if !progressed {
			break
		}
	}
	return liveCount == 1
}
