/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

// Package natives implements the native-method obligations the runtime
// core keeps in scope: java/lang/System.arraycopy's bounds and
// element-compatibility contract, and Throwable.fillInStackTrace's frame
// walk. Native-method bodies beyond these contracts are the embedder's
// concern; what lives here is exactly the behavior that touches heap and
// frame invariants.
package natives

import (
	"jacobin/classloader"
	"jacobin/codeanalysis"
	"jacobin/frame"
	"jacobin/object"
)

// Throw names a Java exception a native obligation requires raised. The
// caller (the interpreter's native dispatch) instantiates the named class
// and stores it in the thread's current-exception slot; natives itself
// never allocates, so a Throw can be produced even when the heap is full.
type Throw struct {
	ClassName string // e.g. "java/lang/ArrayIndexOutOfBoundsException"
	Msg       string
}

func (t *Throw) Error() string { return t.ClassName + ": " + t.Msg }

func throwf(class, msg string) *Throw { return &Throw{ClassName: class, Msg: msg} }

// Arraycopy copies length elements from src[srcPos:] to dst[dstPos:],
// honoring java/lang/System.arraycopy's checked semantics: every check
// runs before the first element moves, so a rejected call leaves the
// destination untouched. A nil return means the copy happened.
func Arraycopy(h *object.Heap, reg *classloader.Registry, src object.Ref, srcPos int32, dst object.Ref, dstPos int32, length int32) *Throw {
	if src.IsNil() || dst.IsNil() {
		return throwf("java/lang/NullPointerException", "arraycopy with null array")
	}
	srcClass := reg.Get(src.ClassID())
	dstClass := reg.Get(dst.ClassID())
	if !srcClass.IsArray() || !dstClass.IsArray() {
		return throwf("java/lang/ArrayStoreException", "arraycopy on non-array object")
	}
	if !elementsCompatible(srcClass, dstClass) {
		return throwf("java/lang/ArrayStoreException",
			"arraycopy element kind mismatch: "+srcClass.Name()+" -> "+dstClass.Name())
	}
	if length < 0 || srcPos < 0 || dstPos < 0 ||
		int(srcPos)+int(length) > src.ArrayLength() ||
		int(dstPos)+int(length) > dst.ArrayLength() {
		return throwf("java/lang/ArrayIndexOutOfBoundsException", "arraycopy range out of bounds")
	}

	elemSize := object.ArrayElementSize(srcClass)
	buf := h.Bytes()
	srcOff := src.ArrayElementOffset(int(srcPos), elemSize)
	dstOff := dst.ArrayElementOffset(int(dstPos), elemSize)
	n := int(length) * elemSize
	copy(buf[dstOff:dstOff+n], buf[srcOff:srcOff+n])
	return nil
}

// elementsCompatible reports whether a bulk element copy between the two
// array classes is well-typed at the kind level: both sides store
// references (a reference array, or the outer dimension of a
// multi-dimensional primitive array), or both store the same primitive
// leaf kind. Per-element covariance checks for reference arrays are the
// interpreter's aastore concern, not arraycopy's.
func elementsCompatible(src, dst *classloader.ClassDescriptor) bool {
	srcRef := elementIsReference(src)
	dstRef := elementIsReference(dst)
	if srcRef != dstRef {
		return false
	}
	if srcRef {
		return true
	}
	return src.ElementKind == dst.ElementKind
}

func elementIsReference(cd *classloader.ClassDescriptor) bool {
	return cd.Kind == classloader.ReferenceArray ||
		(cd.Kind == classloader.PrimitiveArray && cd.Dimensions > 1)
}

// StackTraceElement is one row of a Throwable's captured stack trace.
type StackTraceElement struct {
	ClassName  string
	MethodName string
	FileName   string
	LineNumber int // -1 when the frame has no line-number information
}

// FillInStackTrace captures th's live frames, innermost first, without
// retaining any frame pointer past the call: the returned slice holds
// copies of the identifying fields only, so the thread's frame-buffer
// ownership is not extended. Line numbers come from each method's
// LineNumberTable, correlated through the analysed instruction's original
// byte offset.
//
// fillInStackTrace runs inside the Throwable's own constructor, so the
// innermost frames still hold a live reference to the throwable being
// built (the <init> chain). Those frames are excluded: the walk skips
// inward past every frame whose reference slots mention throwable, and
// the trace starts at the first frame that does not.
func FillInStackTrace(reg *classloader.Registry, th *frame.Thread, throwable object.Ref) []StackTraceElement {
	frames := th.Frames()
	i := len(frames) - 1
	for ; i >= 0; i-- {
		if !frameMentionsObject(frames[i], throwable) {
			break
		}
	}
	trace := make([]StackTraceElement, 0, i+1)
	for ; i >= 0; i-- {
		f := frames[i]
		e := StackTraceElement{
			ClassName:  f.ClassName,
			MethodName: f.Method.Name,
			LineNumber: -1,
		}
		if id, ok := reg.Lookup(f.ClassName); ok {
			e.FileName = reg.Get(id).SourceFile
		}
		if bytePC, ok := byteOffsetOf(f); ok {
			e.LineNumber = lineFor(f.Method.Code, bytePC)
		}
		trace = append(trace, e)
	}
	return trace
}

// frameMentionsObject reports whether any of f's slots the reference
// bitmap marks live at the current PC holds obj. A frame with no analysis
// (a native frame) cannot mention anything.
func frameMentionsObject(f *frame.Frame, obj object.Ref) bool {
	if obj.IsNil() {
		return false
	}
	an, ok := f.Method.Analysis.(*codeanalysis.Analysis)
	if !ok || an == nil || f.PC < 0 || f.PC >= len(an.ReferenceBitmap) {
		return false
	}
	for _, slot := range an.ReferenceBitmap[f.PC].ListSetBits() {
		if int(f.RefSlotOffset(slot)) == obj.Offset {
			return true
		}
	}
	return false
}

// byteOffsetOf maps f's PC (an instruction index) back to the original
// bytecode byte offset, via the method's analysis.
func byteOffsetOf(f *frame.Frame) (int, bool) {
	an, ok := f.Method.Analysis.(*codeanalysis.Analysis)
	if !ok || an == nil || f.PC < 0 || f.PC >= len(an.Instructions) {
		return 0, false
	}
	return an.Instructions[f.PC].PC, true
}

// lineFor returns the line number covering bytePC: the entry with the
// greatest StartPC not exceeding bytePC, or -1 if the table is absent.
func lineFor(code *classloader.CodeAttribute, bytePC int) int {
	if code == nil || len(code.LineNumberTable) == 0 {
		return -1
	}
	line := -1
	best := -1
	for _, e := range code.LineNumberTable {
		if e.StartPC <= bytePC && e.StartPC > best {
			best = e.StartPC
			line = e.LineNumber
		}
	}
	return line
}
