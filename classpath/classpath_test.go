/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package classpath

import (
	"os"
	"path/filepath"
	"testing"

	"jacobin/internal/verrors"
)

func writeFile(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestParseSkipsEmptySegments(t *testing.T) {
	dir := t.TempDir()
	cp, err := Parse(":" + dir + "::")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cp.entries) != 1 {
		t.Fatalf("want 1 entry, got %d", len(cp.entries))
	}
}

func TestLookupFirstEntryWins(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeFile(t, first, "Dup.class", []byte("from first"))
	writeFile(t, second, "Dup.class", []byte("from second"))
	writeFile(t, second, "Only.class", []byte("only in second"))

	cp, err := Parse(first + ":" + second)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got, err := cp.Lookup("Dup.class")
	if err != nil || string(got) != "from first" {
		t.Fatalf("Lookup(Dup.class) = %q, %v; want the first entry's copy", got, err)
	}
	got, err = cp.Lookup("Only.class")
	if err != nil || string(got) != "only in second" {
		t.Fatalf("Lookup(Only.class) = %q, %v", got, err)
	}
}

func TestLookupMissingIsNotFound(t *testing.T) {
	cp, err := Parse(t.TempDir())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, err = cp.Lookup("Nope.class")
	ce, ok := err.(*verrors.ClasspathError)
	if !ok || ce.Kind != verrors.NotFound {
		t.Fatalf("want ClasspathError/not-found, got %v", err)
	}
}

func TestLookupJarEntryFromDisk(t *testing.T) {
	dir := t.TempDir()
	jarBytes := buildJAR(t,
		map[string][]byte{"Stored.class": []byte("stored bytes")},
		map[string][]byte{"Deflated.class": []byte("deflated bytes deflated bytes")},
	)
	jarPath := filepath.Join(dir, "lib.jar")
	if err := os.WriteFile(jarPath, jarBytes, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cp, err := Parse(jarPath)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got, err := cp.Lookup("Deflated.class")
	if err != nil || string(got) != "deflated bytes deflated bytes" {
		t.Fatalf("Lookup through JAR entry = %q, %v", got, err)
	}
}
