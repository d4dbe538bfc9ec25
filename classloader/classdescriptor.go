/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package classloader

import (
	"encoding/binary"

	"jacobin/descriptor"
	"jacobin/internal/bitset"
)

// Access flag bits shared by class, field, and method_info structures
// (JVM spec table 4.1-A/4.5-A/4.6-A; only the subset this module inspects).
const (
	AccPublic    uint16 = 0x0001
	AccStatic    uint16 = 0x0008
	AccFinal     uint16 = 0x0010
	AccSuper     uint16 = 0x0020
	AccVolatile  uint16 = 0x0040
	AccTransient uint16 = 0x0080
	AccInterface uint16 = 0x0200
	AccAbstract  uint16 = 0x0400
	AccVarargs   uint16 = 0x0080 // method_info only; shares the bit AccTransient uses for fields
	AccNative    uint16 = 0x0100
)

// DescKind distinguishes the three shapes a class descriptor can take.
type DescKind int

const (
	Ordinary DescKind = iota
	ReferenceArray
	PrimitiveArray
)

// AttrKind classifies a parsed class/method/field attribute.
type AttrKind int

const (
	AttrCode AttrKind = iota
	AttrConstantValue
	AttrBootstrapMethods
	AttrExceptions
	AttrLineNumberTable
	AttrSourceFile
	AttrUnknown
)

// Attribute is one attribute_info entry. Unknown attributes keep their raw
// bytes (their kind is preserved as AttrUnknown) but are otherwise skipped.
type Attribute struct {
	Kind AttrKind
	Name string
	Raw  []byte
}

// ExceptionTableEntry is one row of a Code attribute's exception table.
type ExceptionTableEntry struct {
	StartPC, EndPC, HandlerPC int
	CatchType                 string // "" for a finally-style catch-all
}

// LineNumberEntry maps a bytecode offset to a source line.
type LineNumberEntry struct {
	StartPC, LineNumber int
}

// CodeAttribute is the Code attribute's payload: raw bytecode plus its
// exception table and nested attributes.
type CodeAttribute struct {
	MaxStack, MaxLocals int
	RawCode             []byte
	ExceptionTable      []ExceptionTableEntry
	LineNumberTable     []LineNumberEntry
	Attributes          []Attribute
}

// Field is a parsed field_info entry.
type Field struct {
	AccessFlags        uint16
	Name               string
	Desc               string
	Parsed             descriptor.Field
	ConstantValueIndex uint16 // 0 if no ConstantValue attribute
	Attributes         []Attribute

	// link-time
	IsStatic bool
	Offset   int // word offset from object base (instance) or static area (static)

	// GC root: the java.lang.reflect.Field mirror
	// object cached for this field, encoded as a heap byte offset (0 if
	// never reflected on).
	ReflectionField uintptr
}

// Method is a parsed method_info entry.
type Method struct {
	AccessFlags uint16
	Name        string
	Desc        string
	Parsed      descriptor.Method
	Code        *CodeAttribute
	Exceptions  []string // checked-exception class names from the Exceptions attribute
	Attributes  []Attribute

	// filled by code analysis (package codeanalysis); nil until analysed
	Analysis any

	// GC roots, each a heap byte offset (0 if never
	// reflected on / never used as a MethodHandle target).
	ReflectionMethod uintptr
	ReflectionCtor   uintptr
	MethodTypeObj    uintptr
}

// IsStatic reports whether the method was declared static.
func (m *Method) IsStatic() bool { return m.AccessFlags&AccStatic != 0 }

// IsNative reports whether the method was declared native.
func (m *Method) IsNative() bool { return m.AccessFlags&AccNative != 0 }

// IsVarargs reports whether the method was declared with a variable-arity
// final parameter (ACC_VARARGS, JVMS table 4.6-A).
func (m *Method) IsVarargs() bool { return m.AccessFlags&AccVarargs != 0 }

// BootstrapMethod is one row of the BootstrapMethods attribute.
type BootstrapMethod struct {
	MethodRefIndex uint16
	Arguments      []uint16
}

// ClassDescriptor is the parser's output: a fully populated, in-memory
// representation of one class file, or of a synthesized array class.
type ClassDescriptor struct {
	Kind DescKind

	// ---- ordinary ----
	MinorVersion, MajorVersion uint16
	AccessFlags                uint16
	ThisClass                  string
	SuperClass                 string // "" only for java/lang/Object
	Interfaces                 []string
	CP                         *ConstantPool
	Fields                     []*Field
	Methods                    []*Method
	SourceFile                 string
	BootstrapMethods           []BootstrapMethod
	Attributes                 []Attribute
	Deprecated                 bool

	// ---- array (both ReferenceArray and PrimitiveArray) ----
	Dimensions    int
	ElementKind   descriptor.BaseKind // meaningful for PrimitiveArray
	BaseClassName string              // meaningful for ReferenceArray
	OneFewerDim   *ClassDescriptor    // edge to the descriptor with one less dimension

	// ---- link-time (populated by Registry.Link) ----
	InstanceSize       int
	InstanceReferences *bitset.Set // indexed by word offset from object base
	StaticSize         int
	StaticReferences   *bitset.Set // indexed by word offset within the static area
	StaticData         []byte      // the static-field storage area itself, StaticSize bytes

	// ---- GC roots (populated lazily by the VM/reflection layer) ----
	Mirror   uintptr // object pointer to this class's java.lang.Class mirror, if any
	CPMirror uintptr
	linked   bool
}

// StaticRef reads a reference-typed static slot at wordOffset, encoded
// (per object.Heap's own convention) as a heap byte offset with 0 meaning
// null. Only package gc and package jvm (which both see the concrete heap
// type) interpret the returned value as an address; classloader itself
// stays heap-agnostic.
func (cd *ClassDescriptor) StaticRef(wordOffset int) uintptr {
	return uintptr(binary.LittleEndian.Uint64(cd.StaticData[wordOffset*8:]))
}

// SetStaticRef writes a reference-typed static slot, used both by putstatic
// and by the collector's pointer-rewrite pass.
func (cd *ClassDescriptor) SetStaticRef(wordOffset int, v uintptr) {
	binary.LittleEndian.PutUint64(cd.StaticData[wordOffset*8:], uint64(v))
}

// Name returns a printable class name: the this_class name for ordinary
// classes, or a "[...;" style descriptor for array classes.
func (cd *ClassDescriptor) Name() string {
	switch cd.Kind {
	case Ordinary:
		return cd.ThisClass
	case ReferenceArray:
		s := ""
		for i := 0; i < cd.Dimensions; i++ {
			s += "["
		}
		return s + "L" + cd.BaseClassName + ";"
	case PrimitiveArray:
		s := ""
		for i := 0; i < cd.Dimensions; i++ {
			s += "["
		}
		return s + primitiveDescriptorChar(cd.ElementKind)
	}
	return ""
}

func primitiveDescriptorChar(k descriptor.BaseKind) string {
	switch k {
	case descriptor.Boolean:
		return "Z"
	case descriptor.Byte:
		return "B"
	case descriptor.Char:
		return "C"
	case descriptor.Short:
		return "S"
	case descriptor.Int:
		return "I"
	case descriptor.Long:
		return "J"
	case descriptor.Float:
		return "F"
	case descriptor.Double:
		return "D"
	default:
		return "?"
	}
}

// IsArray reports whether the descriptor is one of the two array kinds.
func (cd *ClassDescriptor) IsArray() bool {
	return cd.Kind == ReferenceArray || cd.Kind == PrimitiveArray
}
