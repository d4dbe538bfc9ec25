/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package classloader

import (
	"jacobin/descriptor"
	"jacobin/internal/verrors"
)

// CPTag is the constant-pool entry discriminant, mirroring the tag byte a
// class file stores ahead of each entry. Values follow the JVM spec's own
// numbering so a dump of CpIndex lines up with javap -v output.
type CPTag uint8

const (
	CPInvalid            CPTag = 0 // second slot of a Long/Double entry
	CPUtf8                CPTag = 1
	CPInteger             CPTag = 3
	CPFloat               CPTag = 4
	CPLong                CPTag = 5
	CPDouble              CPTag = 6
	CPClass               CPTag = 7
	CPString              CPTag = 8
	CPFieldRef            CPTag = 9
	CPMethodRef           CPTag = 10
	CPInterfaceMethodRef  CPTag = 11
	CPNameAndType         CPTag = 12
	CPMethodHandle        CPTag = 15
	CPMethodType          CPTag = 16
	CPInvokeDynamic       CPTag = 18
)

// RefKind is the method-handle reference kind (JVMS table 5.4.3.5).
type RefKind uint8

// CPEntry is one discriminated-union constant-pool slot: raw fields as
// read from the class file, plus a handful of fields populated once the
// second parse pass (or, for InvokeDynamic, the BootstrapMethods
// attribute) resolves symbolic back-indices into structural data.
type CPEntry struct {
	Tag CPTag

	// Utf8
	Utf8 string

	// Integer / Float / Long / Double
	IntVal    int32
	FloatVal  float32
	LongVal   int64
	DoubleVal float64

	// Class
	NameIndex uint16 // -> Utf8 entry

	// String
	StringIndex uint16 // -> Utf8 entry

	// FieldRef / MethodRef / InterfaceMethodRef
	ClassIndex       uint16 // -> Class entry
	NameAndTypeIndex uint16 // -> NameAndType entry

	// NameAndType
	NATNameIndex uint16 // -> Utf8 (member name)
	NATDescIndex uint16 // -> Utf8 (descriptor)

	// MethodHandle
	RefKind  RefKind
	RefIndex uint16 // -> FieldRef/MethodRef/InterfaceMethodRef

	// MethodType
	DescriptorIndex uint16 // -> Utf8

	// InvokeDynamic
	BootstrapMethodAttrIndex uint16 // index into the class's BootstrapMethods attribute, resolved once that attribute is seen

	// ---- resolved during the second pass / BootstrapMethods resolution ----
	ResolvedClassName string
	ResolvedOwner     string // FieldRef/MethodRef: owning class name
	ResolvedName      string // member name
	ResolvedFieldDesc *descriptor.Field
	ResolvedMethodDesc *descriptor.Method
	BootstrapResolved bool

	// CachedObject is a GC root: the interned
	// String, resolved Class mirror, or resolved MethodHandle/MethodType/
	// CallSite object this entry has cached, as a heap byte offset (0
	// until first resolved). Meaningful only for Tag in {CPString,
	// CPClass, CPMethodHandle, CPMethodType, CPInvokeDynamic}.
	CachedObject uintptr
}

// ConstantPool is the ordered, 1-indexed sequence of entries a class file
// defines. Index 0 is unused; the second logical slot of a Long/Double
// entry holds CPInvalid.
type ConstantPool struct {
	Entries []CPEntry // Entries[0] is a sentinel with Tag == CPInvalid
}

// Count returns the number of slots, including the unused index 0 and the
// invalid second slots of wide entries -- i.e. the class file's
// constant_pool_count.
func (cp *ConstantPool) Count() int { return len(cp.Entries) }

// At returns the entry at index, bounds-checked.
func (cp *ConstantPool) At(index int) (*CPEntry, bool) {
	if index < 1 || index >= len(cp.Entries) {
		return nil, false
	}
	return &cp.Entries[index], true
}

// Utf8At resolves index as a Utf8 entry.
func (cp *ConstantPool) Utf8At(index uint16) (string, bool) {
	e, ok := cp.At(int(index))
	if !ok || e.Tag != CPUtf8 {
		return "", false
	}
	return e.Utf8, true
}

// ClassNameAt resolves index as a Class entry's Utf8 name, following the
// one hop from Class.NameIndex to the Utf8 entry.
func (cp *ConstantPool) ClassNameAt(index uint16) (string, bool) {
	e, ok := cp.At(int(index))
	if !ok || e.Tag != CPClass {
		return "", false
	}
	return cp.Utf8At(e.NameIndex)
}

// resolveSymbolic performs the second constant-pool pass: Class.name_index
// -> utf8 pointer, *Ref -> (owner class name, member name, parsed
// descriptor), NameAndType -> (name, descriptor). InvokeDynamic entries are
// left with BootstrapResolved == false until the BootstrapMethods
// attribute is parsed.
func (cp *ConstantPool) resolveSymbolic() error {
	for i := range cp.Entries {
		e := &cp.Entries[i]
		switch e.Tag {
		case CPClass:
			name, ok := cp.Utf8At(e.NameIndex)
			if !ok {
				return cpErr(i, "Class entry name_index does not point to Utf8")
			}
			e.ResolvedClassName = name

		case CPString:
			// resolved lazily by the interpreter (interning); nothing
			// structural to do here beyond validating the index.
			if _, ok := cp.Utf8At(e.StringIndex); !ok {
				return cpErr(i, "String entry string_index does not point to Utf8")
			}

		case CPNameAndType:
			name, ok := cp.Utf8At(e.NATNameIndex)
			if !ok {
				return cpErr(i, "NameAndType name_index does not point to Utf8")
			}
			desc, ok := cp.Utf8At(e.NATDescIndex)
			if !ok {
				return cpErr(i, "NameAndType descriptor_index does not point to Utf8")
			}
			e.ResolvedName = name
			e.ResolvedOwner = desc // descriptor string, stashed as-is; the *Ref cases below read NATDescIndex themselves

		case CPFieldRef, CPMethodRef, CPInterfaceMethodRef:
			classEntry, ok := cp.At(int(e.ClassIndex))
			if !ok || classEntry.Tag != CPClass {
				return cpErr(i, "Ref class_index does not point to Class")
			}
			owner, ok := cp.Utf8At(classEntry.NameIndex)
			if !ok {
				return cpErr(i, "Ref owning class has no name")
			}
			natEntry, ok := cp.At(int(e.NameAndTypeIndex))
			if !ok || natEntry.Tag != CPNameAndType {
				return cpErr(i, "Ref name_and_type_index does not point to NameAndType")
			}
			name, ok := cp.Utf8At(natEntry.NATNameIndex)
			if !ok {
				return cpErr(i, "Ref member has no name")
			}
			descStr, ok := cp.Utf8At(natEntry.NATDescIndex)
			if !ok {
				return cpErr(i, "Ref member has no descriptor")
			}
			e.ResolvedOwner = owner
			e.ResolvedName = name
			if e.Tag == CPFieldRef {
				fd, err := descriptor.ParseField(descStr)
				if err != nil {
					return cpErr(i, "invalid field descriptor %q: %v", descStr, err)
				}
				e.ResolvedFieldDesc = &fd
			} else {
				md, err := descriptor.ParseMethod(descStr)
				if err != nil {
					return cpErr(i, "invalid method descriptor %q: %v", descStr, err)
				}
				e.ResolvedMethodDesc = &md
			}

		case CPInvokeDynamic:
			natEntry, ok := cp.At(int(e.NameAndTypeIndex))
			if !ok || natEntry.Tag != CPNameAndType {
				return cpErr(i, "InvokeDynamic name_and_type_index does not point to NameAndType")
			}
			name, ok := cp.Utf8At(natEntry.NATNameIndex)
			if !ok {
				return cpErr(i, "InvokeDynamic call site has no name")
			}
			descStr, ok := cp.Utf8At(natEntry.NATDescIndex)
			if !ok {
				return cpErr(i, "InvokeDynamic call site has no descriptor")
			}
			md, err := descriptor.ParseMethod(descStr)
			if err != nil {
				return cpErr(i, "invalid call-site descriptor %q: %v", descStr, err)
			}
			e.ResolvedName = name
			e.ResolvedMethodDesc = &md

		case CPMethodType:
			if _, ok := cp.Utf8At(e.DescriptorIndex); !ok {
				return cpErr(i, "MethodType descriptor_index does not point to Utf8")
			}

		case CPMethodHandle:
			if _, ok := cp.At(int(e.RefIndex)); !ok {
				return cpErr(i, "MethodHandle reference_index out of range")
			}
		}
	}
	return nil
}

func cpErr(index int, format string, args ...any) error {
	return verrors.CFE("constant pool entry %d: "+format, append([]any{index}, args...)...)
}
