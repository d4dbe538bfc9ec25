/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

// This file contains convenience lookups over a class's constant pool,
// layered on the resolved-at-parse-time CPEntry shape.
package classloader

// GetMethInfoFromCPmethref returns (owner class, method name, method
// descriptor) for a MethodRef/InterfaceMethodRef entry, or three empty
// strings if index does not point to one.
func GetMethInfoFromCPmethref(cp *ConstantPool, index int) (string, string, string) {
	e, ok := cp.At(index)
	if !ok || (e.Tag != CPMethodRef && e.Tag != CPInterfaceMethodRef) {
		return "", "", ""
	}
	desc := ""
	if e.ResolvedMethodDesc != nil {
		desc = methodDescString(cp, e)
	}
	return e.ResolvedOwner, e.ResolvedName, desc
}

// GetFieldInfoFromCPfieldref returns (owner class, field name, field
// descriptor) for a FieldRef entry.
func GetFieldInfoFromCPfieldref(cp *ConstantPool, index int) (string, string, string) {
	e, ok := cp.At(index)
	if !ok || e.Tag != CPFieldRef {
		return "", "", ""
	}
	nat, ok := cp.At(int(e.NameAndTypeIndex))
	if !ok {
		return e.ResolvedOwner, e.ResolvedName, ""
	}
	desc, _ := cp.Utf8At(nat.NATDescIndex)
	return e.ResolvedOwner, e.ResolvedName, desc
}

func methodDescString(cp *ConstantPool, e *CPEntry) string {
	nat, ok := cp.At(int(e.NameAndTypeIndex))
	if !ok {
		return ""
	}
	desc, _ := cp.Utf8At(nat.NATDescIndex)
	return desc
}

// GetClassNameFromCPclassref resolves index as a Class entry and returns
// its class name, or "" on failure.
func GetClassNameFromCPclassref(cp *ConstantPool, index uint16) string {
	name, ok := cp.ClassNameAt(index)
	if !ok {
		return ""
	}
	return name
}
