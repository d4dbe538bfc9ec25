/*
 * Jacobin VM - A Java virtual machine
 * Copyright (c) 2024 by  the Jacobin Authors. All rights reserved.
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)  Consult jacobin.org.
 */

package classpath

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"jacobin/internal/verrors"
	"jacobin/internal/wstr"
)

// Archive is an in-memory index over a JAR file's central directory,
// supporting only the "stored" and "deflate" compression methods and a
// single disk.
type Archive struct {
	data    []byte
	entries *wstr.Table // name -> *jarEntry
}

type jarEntry struct {
	localHeaderOffset  uint32
	compressedSize     uint32
	uncompressedSize   uint32
	isCompressed       bool
}

const (
	eocdSignature = 0x06054b50
	eocdSize      = 22
	cdrSignature  = 0x02014b50
	cdrSize       = 46
	localHeaderSize = 30
)

// OpenArchive reads filename fully into memory and indexes its central
// directory. The whole file is read eagerly (rather than mmap'd); the
// standard library has no portable mmap primitive, and classpath archives
// are small enough that the copy is not worth avoiding.
func OpenArchive(filename string) (*Archive, error) {
	f, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, verrors.NewClasspathError(verrors.NotFound, "%s", filename)
		}
		return nil, verrors.NewClasspathError(verrors.IOError, "%s: %v", filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, verrors.NewClasspathError(verrors.IOError, "%s: %v", filename, err)
	}
	return NewArchive(data)
}

// NewArchive indexes an already-loaded JAR buffer.
func NewArchive(data []byte) (*Archive, error) {
	if len(data) < eocdSize {
		return nil, corrupt("missing end of central directory record")
	}
	eocd := data[len(data)-eocdSize:]
	if binary.LittleEndian.Uint32(eocd[0:4]) != eocdSignature {
		return nil, corrupt("missing end of central directory record")
	}
	diskNumber := binary.LittleEndian.Uint16(eocd[4:6])
	diskWithCD := binary.LittleEndian.Uint16(eocd[6:8])
	numEntries := binary.LittleEndian.Uint16(eocd[8:10])
	totalEntries := binary.LittleEndian.Uint16(eocd[10:12])
	cdOffset := binary.LittleEndian.Uint32(eocd[16:20])

	if diskNumber != 0 || diskWithCD != 0 || numEntries != totalEntries {
		return nil, corrupt("multi-disk JARs not supported")
	}

	ar := &Archive{data: data, entries: wstr.NewTable(0)}
	if err := ar.parseCentralDirectory(uint64(cdOffset), numEntries); err != nil {
		return nil, err
	}
	return ar, nil
}

func (ar *Archive) parseCentralDirectory(cdOffset uint64, expected uint16) error {
	for i := uint16(0); i < expected; i++ {
		if cdOffset+cdrSize > uint64(len(ar.data)) {
			return corrupt("central directory record %d out of bounds", i)
		}
		rec := ar.data[cdOffset : cdOffset+cdrSize]
		if binary.LittleEndian.Uint32(rec[0:4]) != cdrSignature {
			return corrupt("missing central directory record header bytes")
		}
		compression := binary.LittleEndian.Uint16(rec[10:12])
		compressedSize := binary.LittleEndian.Uint32(rec[20:24])
		uncompressedSize := binary.LittleEndian.Uint32(rec[24:28])
		filenameLen := binary.LittleEndian.Uint16(rec[28:30])
		extraLen := binary.LittleEndian.Uint16(rec[30:32])
		commentLen := binary.LittleEndian.Uint16(rec[32:34])
		localHeaderOffset := binary.LittleEndian.Uint32(rec[42:46])

		nameStart := cdOffset + cdrSize
		nameEnd := nameStart + uint64(filenameLen)
		if nameEnd > uint64(len(ar.data)) {
			return corrupt("central directory record %d filename out of bounds", i)
		}
		filename := string(ar.data[nameStart:nameEnd])

		if uint64(localHeaderOffset)+localHeaderSize+uint64(compressedSize) > uint64(len(ar.data)) {
			return corrupt("central directory record %d local header out of bounds", i)
		}
		if compression != 0 && compression != 8 {
			return corrupt("central directory record %d has unsupported compression type %d (supported: 0, 8)", i, compression)
		}

		ent := &jarEntry{
			localHeaderOffset: localHeaderOffset,
			compressedSize:    compressedSize,
			uncompressedSize:  uncompressedSize,
			isCompressed:      compression != 0,
		}
		key := wstr.Of(filename)
		if old := ar.entries.Insert(key, ent); old != nil {
			return corrupt("duplicate filename in JAR: %s", filename)
		}

		cdOffset += cdrSize + uint64(filenameLen) + uint64(extraLen) + uint64(commentLen)
	}
	return nil
}

// Lookup returns the decompressed bytes of name, or a not-found/corrupt
// classpath error.
func (ar *Archive) Lookup(name string) ([]byte, error) {
	v := ar.entries.Lookup(wstr.Of(name))
	if v == nil {
		return nil, verrors.NewClasspathError(verrors.NotFound, "%s", name)
	}
	ent := v.(*jarEntry)

	off := uint64(ent.localHeaderOffset)
	if off+localHeaderSize > uint64(len(ar.data)) {
		return nil, corrupt("local header for %s out of bounds", name)
	}
	local := ar.data[off : off+localHeaderSize]
	localNameLen := binary.LittleEndian.Uint16(local[26:28])
	localExtraLen := binary.LittleEndian.Uint16(local[28:30])

	dataStart := off + localHeaderSize + uint64(localNameLen) + uint64(localExtraLen)
	dataEnd := dataStart + uint64(ent.compressedSize)
	if dataEnd > uint64(len(ar.data)) {
		return nil, corrupt("entry data for %s out of bounds", name)
	}
	raw := ar.data[dataStart:dataEnd]

	if !ent.isCompressed {
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	}

	r := flate.NewReader(bytes.NewReader(raw))
	defer r.Close()
	buf := bytes.NewBuffer(make([]byte, 0, ent.uncompressedSize))
	if _, err := io.Copy(buf, r); err != nil {
		return nil, corrupt("inflate error for %s: %v", name, err)
	}
	return buf.Bytes(), nil
}

func corrupt(format string, args ...any) error {
	return verrors.NewClasspathError(verrors.Corrupt, fmt.Sprintf(format, args...))
}
