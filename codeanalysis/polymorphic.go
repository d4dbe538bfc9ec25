/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package codeanalysis

import (
	"jacobin/classloader"
	"jacobin/descriptor"
)

// IsSignaturePolymorphic reports whether a resolved call target is
// signature polymorphic per JVMS §2.9.3: declared on
// java/lang/invoke/MethodHandle or java/lang/invoke/VarHandle, with a
// single formal parameter of type Object[] and return type Object, and
// both ACC_VARARGS and ACC_NATIVE set. Such call sites carry an inline
// cache that the collector must root.
func IsSignaturePolymorphic(ownerClass string, m *classloader.Method) bool {
	if ownerClass != "java/lang/invoke/MethodHandle" && ownerClass != "java/lang/invoke/VarHandle" {
		return false
	}
	if !m.IsVarargs() || !m.IsNative() {
		return false
	}
	if len(m.Parsed.Args) != 1 {
		return false
	}
	arg := m.Parsed.Args[0]
	if arg.Dimensions != 1 || arg.Base != descriptor.Reference || arg.ClassName != "java/lang/Object" {
		return false
	}
	ret := m.Parsed.Return
	return ret.Dimensions == 0 && ret.Base == descriptor.Reference && ret.ClassName == "java/lang/Object"
}
