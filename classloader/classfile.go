/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package classloader

import (
	"math"

	"jacobin/descriptor"
	"jacobin/internal/verrors"
)

const classMagic = 0xCAFEBABE

// Parse decodes a class file buffer into a fully populated ClassDescriptor,
// or returns a ClassFormatError. Parsing order mirrors the class file
// layout exactly: magic, minor/major version, constant
// pool, access flags, this/super, interfaces, fields, methods, attributes.
func Parse(data []byte) (*ClassDescriptor, error) {
	r := newReader(data)

	magic, err := r.u4()
	if err != nil {
		return nil, err
	}
	if magic != classMagic {
		return nil, verrors.CFE("bad magic number 0x%08X", magic)
	}

	minor, err := r.u2()
	if err != nil {
		return nil, err
	}
	major, err := r.u2()
	if err != nil {
		return nil, err
	}

	cp, err := parseConstantPool(r)
	if err != nil {
		return nil, err
	}

	accessFlags, err := r.u2()
	if err != nil {
		return nil, err
	}
	thisClassIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	superClassIdx, err := r.u2()
	if err != nil {
		return nil, err
	}

	thisClass, ok := cp.ClassNameAt(thisClassIdx)
	if !ok {
		return nil, verrors.CFE("this_class index %d does not resolve", thisClassIdx)
	}
	superClass := ""
	if superClassIdx != 0 {
		superClass, ok = cp.ClassNameAt(superClassIdx)
		if !ok {
			return nil, verrors.CFE("super_class index %d does not resolve", superClassIdx)
		}
	}

	interfacesCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	interfaces := make([]string, 0, interfacesCount)
	for i := 0; i < int(interfacesCount); i++ {
		idx, err := r.u2()
		if err != nil {
			return nil, err
		}
		name, ok := cp.ClassNameAt(idx)
		if !ok {
			return nil, verrors.CFE("interface %d index %d does not resolve", i, idx)
		}
		interfaces = append(interfaces, name)
	}

	fields, err := parseFields(r, cp)
	if err != nil {
		return nil, err
	}
	methods, err := parseMethods(r, cp)
	if err != nil {
		return nil, err
	}

	cd := &ClassDescriptor{
		Kind:          Ordinary,
		MinorVersion:  minor,
		MajorVersion:  major,
		AccessFlags:   accessFlags,
		ThisClass:     thisClass,
		SuperClass:    superClass,
		Interfaces:    interfaces,
		CP:            cp,
		Fields:        fields,
		Methods:       methods,
	}

	attrCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(attrCount); i++ {
		attr, name, err := parseAttribute(r, cp)
		if err != nil {
			return nil, err
		}
		switch name {
		case "SourceFile":
			idx := readU2(attr.Raw)
			sf, ok := cp.Utf8At(idx)
			if !ok {
				return nil, verrors.CFE("SourceFile attribute index does not resolve")
			}
			cd.SourceFile = sf
		case "BootstrapMethods":
			bms, err := parseBootstrapMethods(attr.Raw)
			if err != nil {
				return nil, err
			}
			cd.BootstrapMethods = bms
		case "Deprecated":
			cd.Deprecated = true
		default:
			cd.Attributes = append(cd.Attributes, attr)
		}
	}

	if err := resolveBootstrapBackrefs(cd); err != nil {
		return nil, err
	}

	return cd, nil
}

func readU2(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return uint16(b[0])<<8 | uint16(b[1])
}

// resolveBootstrapBackrefs marks every InvokeDynamic pool entry as resolved
// once the BootstrapMethods attribute has been seen.
func resolveBootstrapBackrefs(cd *ClassDescriptor) error {
	for i := range cd.CP.Entries {
		e := &cd.CP.Entries[i]
		if e.Tag != CPInvokeDynamic {
			continue
		}
		if int(e.BootstrapMethodAttrIndex) >= len(cd.BootstrapMethods) {
			return verrors.CFE("invokedynamic bootstrap_method_attr_index %d out of range", e.BootstrapMethodAttrIndex)
		}
		e.BootstrapResolved = true
	}
	return nil
}

func parseConstantPool(r *reader) (*ConstantPool, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	cp := &ConstantPool{Entries: make([]CPEntry, count)}
	// index 0 stays CPInvalid; parse indices [1, count)
	for i := 1; i < int(count); i++ {
		tag, err := r.u1()
		if err != nil {
			return nil, err
		}
		entry, wide, err := parseCPEntry(r, CPTag(tag))
		if err != nil {
			return nil, err
		}
		cp.Entries[i] = entry
		if wide {
			if i+1 >= int(count) {
				return nil, verrors.CFE("wide constant pool entry %d has no following invalid slot", i)
			}
			i++
			cp.Entries[i] = CPEntry{Tag: CPInvalid}
		}
	}
	if err := cp.resolveSymbolic(); err != nil {
		return nil, err
	}
	return cp, nil
}

func parseCPEntry(r *reader, tag CPTag) (CPEntry, bool, error) {
	switch tag {
	case CPUtf8:
		length, err := r.u2()
		if err != nil {
			return CPEntry{}, false, err
		}
		raw, err := r.bytes(int(length))
		if err != nil {
			return CPEntry{}, false, err
		}
		return CPEntry{Tag: CPUtf8, Utf8: decodeModifiedUTF8(raw)}, false, nil
	case CPInteger:
		v, err := r.u4()
		if err != nil {
			return CPEntry{}, false, err
		}
		return CPEntry{Tag: CPInteger, IntVal: int32(v)}, false, nil
	case CPFloat:
		v, err := r.u4()
		if err != nil {
			return CPEntry{}, false, err
		}
		return CPEntry{Tag: CPFloat, FloatVal: math.Float32frombits(v)}, false, nil
	case CPLong:
		v, err := r.u8()
		if err != nil {
			return CPEntry{}, false, err
		}
		return CPEntry{Tag: CPLong, LongVal: int64(v)}, true, nil
	case CPDouble:
		v, err := r.u8()
		if err != nil {
			return CPEntry{}, false, err
		}
		return CPEntry{Tag: CPDouble, DoubleVal: math.Float64frombits(v)}, true, nil
	case CPClass:
		idx, err := r.u2()
		if err != nil {
			return CPEntry{}, false, err
		}
		return CPEntry{Tag: CPClass, NameIndex: idx}, false, nil
	case CPString:
		idx, err := r.u2()
		if err != nil {
			return CPEntry{}, false, err
		}
		return CPEntry{Tag: CPString, StringIndex: idx}, false, nil
	case CPFieldRef, CPMethodRef, CPInterfaceMethodRef:
		ci, err := r.u2()
		if err != nil {
			return CPEntry{}, false, err
		}
		nt, err := r.u2()
		if err != nil {
			return CPEntry{}, false, err
		}
		return CPEntry{Tag: tag, ClassIndex: ci, NameAndTypeIndex: nt}, false, nil
	case CPNameAndType:
		ni, err := r.u2()
		if err != nil {
			return CPEntry{}, false, err
		}
		di, err := r.u2()
		if err != nil {
			return CPEntry{}, false, err
		}
		return CPEntry{Tag: CPNameAndType, NATNameIndex: ni, NATDescIndex: di}, false, nil
	case CPMethodHandle:
		kind, err := r.u1()
		if err != nil {
			return CPEntry{}, false, err
		}
		idx, err := r.u2()
		if err != nil {
			return CPEntry{}, false, err
		}
		return CPEntry{Tag: CPMethodHandle, RefKind: RefKind(kind), RefIndex: idx}, false, nil
	case CPMethodType:
		idx, err := r.u2()
		if err != nil {
			return CPEntry{}, false, err
		}
		return CPEntry{Tag: CPMethodType, DescriptorIndex: idx}, false, nil
	case CPInvokeDynamic:
		bmi, err := r.u2()
		if err != nil {
			return CPEntry{}, false, err
		}
		nt, err := r.u2()
		if err != nil {
			return CPEntry{}, false, err
		}
		return CPEntry{Tag: CPInvokeDynamic, BootstrapMethodAttrIndex: bmi, NameAndTypeIndex: nt}, false, nil
	default:
		return CPEntry{}, false, verrors.CFE("unknown constant pool tag %d", tag)
	}
}

// decodeModifiedUTF8 decodes CESU-8/modified-UTF-8 bytes. Class files use a
// one-byte encoding for NUL and allow unpaired surrogate pairs that strict
// UTF-8 forbids, but every ASCII-range class/method name (by far the common
// case) round-trips through a plain byte-for-byte copy, so we only need the
// general decoder to be lenient, not exhaustive.
func decodeModifiedUTF8(raw []byte) string {
	var out []rune
	for i := 0; i < len(raw); {
		b0 := raw[i]
		switch {
		case b0&0x80 == 0:
			out = append(out, rune(b0))
			i++
		case b0&0xE0 == 0xC0 && i+1 < len(raw):
			b1 := raw[i+1]
			out = append(out, rune(b0&0x1F)<<6|rune(b1&0x3F))
			i += 2
		case b0&0xF0 == 0xE0 && i+2 < len(raw):
			b1, b2 := raw[i+1], raw[i+2]
			out = append(out, rune(b0&0x0F)<<12|rune(b1&0x3F)<<6|rune(b2&0x3F))
			i += 3
		default:
			out = append(out, rune(b0))
			i++
		}
	}
	return string(out)
}

func parseFields(r *reader, cp *ConstantPool) ([]*Field, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	fields := make([]*Field, 0, count)
	for i := 0; i < int(count); i++ {
		f, err := parseOneMember(r, cp)
		if err != nil {
			return nil, err
		}
		fd, err := descriptor.ParseField(f.desc)
		if err != nil {
			return nil, verrors.CFE("field %s has invalid descriptor %q: %v", f.name, f.desc, err)
		}
		field := &Field{
			AccessFlags: f.accessFlags,
			Name:        f.name,
			Desc:        f.desc,
			Parsed:      fd,
			Attributes:  f.attrs,
			IsStatic:    f.accessFlags&AccStatic != 0,
		}
		for _, a := range f.attrs {
			if a.Name == "ConstantValue" {
				field.ConstantValueIndex = readU2(a.Raw)
			}
		}
		fields = append(fields, field)
	}
	return fields, nil
}

func parseMethods(r *reader, cp *ConstantPool) ([]*Method, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	methods := make([]*Method, 0, count)
	for i := 0; i < int(count); i++ {
		m, err := parseOneMember(r, cp)
		if err != nil {
			return nil, err
		}
		md, err := descriptor.ParseMethod(m.desc)
		if err != nil {
			return nil, verrors.CFE("method %s has invalid descriptor %q: %v", m.name, m.desc, err)
		}
		method := &Method{AccessFlags: m.accessFlags, Name: m.name, Desc: m.desc, Parsed: md, Attributes: m.attrs}
		for _, a := range m.attrs {
			switch a.Name {
			case "Code":
				code, err := parseCodeAttribute(a.Raw, cp)
				if err != nil {
					return nil, err
				}
				method.Code = code
			case "Exceptions":
				names, err := parseExceptionsAttribute(a.Raw, cp)
				if err != nil {
					return nil, err
				}
				method.Exceptions = names
			}
		}
		methods = append(methods, method)
	}
	return methods, nil
}

type rawMember struct {
	accessFlags uint16
	name, desc  string
	attrs       []Attribute
}

func parseOneMember(r *reader, cp *ConstantPool) (rawMember, error) {
	accessFlags, err := r.u2()
	if err != nil {
		return rawMember{}, err
	}
	nameIdx, err := r.u2()
	if err != nil {
		return rawMember{}, err
	}
	descIdx, err := r.u2()
	if err != nil {
		return rawMember{}, err
	}
	name, ok := cp.Utf8At(nameIdx)
	if !ok {
		return rawMember{}, verrors.CFE("member name_index %d does not resolve", nameIdx)
	}
	desc, ok := cp.Utf8At(descIdx)
	if !ok {
		return rawMember{}, verrors.CFE("member descriptor_index %d does not resolve", descIdx)
	}
	attrCount, err := r.u2()
	if err != nil {
		return rawMember{}, err
	}
	attrs := make([]Attribute, 0, attrCount)
	for i := 0; i < int(attrCount); i++ {
		a, _, err := parseAttribute(r, cp)
		if err != nil {
			return rawMember{}, err
		}
		attrs = append(attrs, a)
	}
	return rawMember{accessFlags: accessFlags, name: name, desc: desc, attrs: attrs}, nil
}

func parseAttribute(r *reader, cp *ConstantPool) (Attribute, string, error) {
	nameIdx, err := r.u2()
	if err != nil {
		return Attribute{}, "", err
	}
	name, ok := cp.Utf8At(nameIdx)
	if !ok {
		return Attribute{}, "", verrors.CFE("attribute_name_index %d does not resolve", nameIdx)
	}
	length, err := r.u4()
	if err != nil {
		return Attribute{}, "", err
	}
	raw, err := r.bytes(int(length))
	if err != nil {
		return Attribute{}, "", err
	}
	kind := AttrUnknown
	switch name {
	case "Code":
		kind = AttrCode
	case "ConstantValue":
		kind = AttrConstantValue
	case "BootstrapMethods":
		kind = AttrBootstrapMethods
	case "Exceptions":
		kind = AttrExceptions
	case "LineNumberTable":
		kind = AttrLineNumberTable
	case "SourceFile":
		kind = AttrSourceFile
	}
	return Attribute{Kind: kind, Name: name, Raw: raw}, name, nil
}

func parseCodeAttribute(raw []byte, cp *ConstantPool) (*CodeAttribute, error) {
	r := newReader(raw)
	maxStack, err := r.u2()
	if err != nil {
		return nil, err
	}
	maxLocals, err := r.u2()
	if err != nil {
		return nil, err
	}
	codeLen, err := r.u4()
	if err != nil {
		return nil, err
	}
	code, err := r.bytes(int(codeLen))
	if err != nil {
		return nil, err
	}
	excTableLen, err := r.u2()
	if err != nil {
		return nil, err
	}
	var excs []ExceptionTableEntry
	for i := 0; i < int(excTableLen); i++ {
		start, err := r.u2()
		if err != nil {
			return nil, err
		}
		end, err := r.u2()
		if err != nil {
			return nil, err
		}
		handler, err := r.u2()
		if err != nil {
			return nil, err
		}
		catchIdx, err := r.u2()
		if err != nil {
			return nil, err
		}
		catchType := ""
		if catchIdx != 0 {
			catchType, _ = cp.ClassNameAt(catchIdx)
		}
		excs = append(excs, ExceptionTableEntry{StartPC: int(start), EndPC: int(end), HandlerPC: int(handler), CatchType: catchType})
	}
	attrCount, err := r.u2()
	if err != nil {
		return nil, err
	}
	ca := &CodeAttribute{MaxStack: int(maxStack), MaxLocals: int(maxLocals), RawCode: code, ExceptionTable: excs}
	for i := 0; i < int(attrCount); i++ {
		a, name, err := parseAttribute(r, cp)
		if err != nil {
			return nil, err
		}
		if name == "LineNumberTable" {
			lnt, err := parseLineNumberTable(a.Raw)
			if err != nil {
				return nil, err
			}
			ca.LineNumberTable = lnt
		} else {
			ca.Attributes = append(ca.Attributes, a)
		}
	}
	return ca, nil
}

func parseLineNumberTable(raw []byte) ([]LineNumberEntry, error) {
	r := newReader(raw)
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	out := make([]LineNumberEntry, 0, count)
	for i := 0; i < int(count); i++ {
		startPC, err := r.u2()
		if err != nil {
			return nil, err
		}
		line, err := r.u2()
		if err != nil {
			return nil, err
		}
		out = append(out, LineNumberEntry{StartPC: int(startPC), LineNumber: int(line)})
	}
	return out, nil
}

func parseExceptionsAttribute(raw []byte, cp *ConstantPool) ([]string, error) {
	r := newReader(raw)
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		idx, err := r.u2()
		if err != nil {
			return nil, err
		}
		name, ok := cp.ClassNameAt(idx)
		if !ok {
			return nil, verrors.CFE("Exceptions attribute entry %d does not resolve", i)
		}
		out = append(out, name)
	}
	return out, nil
}

func parseBootstrapMethods(raw []byte) ([]BootstrapMethod, error) {
	r := newReader(raw)
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	out := make([]BootstrapMethod, 0, count)
	for i := 0; i < int(count); i++ {
		methodRef, err := r.u2()
		if err != nil {
			return nil, err
		}
		argCount, err := r.u2()
		if err != nil {
			return nil, err
		}
		args := make([]uint16, 0, argCount)
		for j := 0; j < int(argCount); j++ {
			a, err := r.u2()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
		}
		out = append(out, BootstrapMethod{MethodRefIndex: methodRef, Arguments: args})
	}
	return out, nil
}
