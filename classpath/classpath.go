/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

// Package classpath resolves class-file names to bytes across an ordered
// list of directories and JAR archives, following the JVMS class-loading
// search order:
// https://docs.oracle.com/javase/specs/jvms/se17/html/jvms-5.html#jvms-5.3
package classpath

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"jacobin/internal/verrors"
)

// EntryKind distinguishes a directory prefix from a loaded JAR archive.
type EntryKind int

const (
	DirEntry EntryKind = iota
	JarEntry
)

// entry is one classpath search location.
type entry struct {
	kind EntryKind
	dir  string // DirEntry: directory prefix
	jar  *Archive
}

// ClassPath is the ordered list of directory and JAR entries searched, in
// declaration order, for a given class-file name. First match wins, even
// when two entries contain the same name.
type ClassPath struct {
	entries []entry
}

// Parse builds a ClassPath from a colon-separated path spec. A ".jar"
// suffix loads the path as an archive; anything else is treated as a
// directory prefix. Empty segments are skipped.
func Parse(spec string) (*ClassPath, error) {
	cp := &ClassPath{}
	for _, seg := range strings.Split(spec, ":") {
		if seg == "" {
			continue
		}
		if strings.HasSuffix(seg, ".jar") {
			ar, err := OpenArchive(seg)
			if err != nil {
				return nil, err
			}
			cp.entries = append(cp.entries, entry{kind: JarEntry, jar: ar})
		} else {
			cp.entries = append(cp.entries, entry{kind: DirEntry, dir: seg})
		}
	}
	return cp, nil
}

// filenameSafe rejects any name containing ".." anywhere, without
// touching the filesystem or the archive index.
func filenameSafe(name string) bool {
	return !strings.Contains(name, "..")
}

// Lookup searches the classpath entries in declaration order and returns
// the bytes of the first matching name.
func (cp *ClassPath) Lookup(name string) ([]byte, error) {
	if !filenameSafe(name) {
		return nil, verrors.NewClasspathError(verrors.NotFound, "rejected unsafe name %q", name)
	}
	for _, e := range cp.entries {
		switch e.kind {
		case DirEntry:
			b, err := lookupDir(e.dir, name)
			if err == nil {
				return b, nil
			}
			if ce, ok := err.(*verrors.ClasspathError); ok && ce.Kind == verrors.NotFound {
				continue
			}
			return nil, err
		case JarEntry:
			b, err := e.jar.Lookup(name)
			if err == nil {
				return b, nil
			}
			if ce, ok := err.(*verrors.ClasspathError); ok && ce.Kind == verrors.NotFound {
				continue
			}
			return nil, err
		}
	}
	return nil, verrors.NewClasspathError(verrors.NotFound, "%s", name)
}

func lookupDir(dir, name string) ([]byte, error) {
	full := filepath.Join(dir, filepath.FromSlash(name))
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, verrors.NewClasspathError(verrors.NotFound, "%s", full)
		}
		return nil, verrors.NewClasspathError(verrors.IOError, "%s: %v", full, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, verrors.NewClasspathError(verrors.IOError, "%s: %v", full, err)
	}
	return b, nil
}
