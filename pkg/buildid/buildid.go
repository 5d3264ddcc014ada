// Copyright 2024 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package buildid reads build IDs from the PT_NOTE segments of ELF files.
// Section headers are never consulted, so the IDs of poisoned executables
// are still readable.
package buildid

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parca-dev/gdpoise/pkg/elfheader"
)

const (
	noteTypeGNUBuildID = 3
	noteTypeGoBuildID  = 4
)

var (
	noteNameGo  = []byte("Go\x00\x00")
	noteNameGNU = []byte("GNU\x00")
)

var readSize = 32 * 1024 // changed for testing

var ErrNoteOutOfBounds = errors.New("note segment exceeds file size")

// FromPath returns the build ID of the ELF file at path.
func FromPath(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	return FromReader(f)
}

// FromReader returns the Go build ID if present, the hex encoded GNU build
// ID otherwise, or an empty string when neither note exists.
// Only the first 32 kB are read unless a note lies beyond them.
func FromReader(r io.ReadSeeker) (string, error) {
	data := make([]byte, readSize)
	n, err := io.ReadFull(r, data)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	data = data[:n]

	// Hide the section header table so elf.NewFile only decodes the
	// program headers out of data.
	hdr := bytes.Clone(data)
	if _, err := elfheader.Decode(hdr); err != nil {
		return "", err
	}
	if err := elfheader.PutSectionHeaderFields(hdr, 0, 0, 0); err != nil {
		return "", err
	}

	ef, err := elf.NewFile(bytes.NewReader(hdr))
	if err != nil {
		return "", fmt.Errorf("failed to parse program headers: %w", err)
	}

	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return "", fmt.Errorf("failed to determine file size: %w", err)
	}

	var gnu []byte
	for _, p := range ef.Progs {
		if p.Type != elf.PT_NOTE || p.Filesz < 16 {
			continue
		}

		note, err := segment(r, uint64(size), data, p)
		if err != nil {
			return "", err
		}

		goID, gnuID := scanNotes(note, p.Off, p.Align, ef.ByteOrder)
		if goID != nil {
			return string(goID), nil
		}
		if gnuID != nil {
			gnu = gnuID
		}
	}

	if len(gnu) > 0 {
		return hex.EncodeToString(gnu), nil
	}
	return "", nil
}

// segment returns the file contents of p, reading past data if needed.
// p must lie within the first size bytes.
func segment(r io.ReadSeeker, size uint64, data []byte, p *elf.Prog) ([]byte, error) {
	if p.Off > size || p.Filesz > size-p.Off {
		return nil, fmt.Errorf("%w: offset %d, size %d, file size %d", ErrNoteOutOfBounds, p.Off, p.Filesz, size)
	}
	if p.Off+p.Filesz < uint64(len(data)) {
		return data[p.Off : p.Off+p.Filesz], nil
	}

	if _, err := r.Seek(int64(p.Off), io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to note: %w", err)
	}
	note := make([]byte, p.Filesz)
	if _, err := io.ReadFull(r, note); err != nil {
		return nil, fmt.Errorf("failed to read note: %w", err)
	}
	return note, nil
}

// scanNotes walks the notes of one segment and returns the Go and GNU
// build ID descriptors it finds.
func scanNotes(note []byte, off, align uint64, order binary.ByteOrder) (goID, gnuID []byte) {
	if align == 0 {
		align = 1
	}

	for len(note) >= 16 {
		nameSize := order.Uint32(note)
		valSize := order.Uint32(note[4:])
		tag := order.Uint32(note[8:])
		name := note[12:16]

		if nameSize == 4 && 16+uint64(valSize) <= uint64(len(note)) {
			switch {
			case tag == noteTypeGoBuildID && bytes.Equal(name, noteNameGo):
				return note[16 : 16+valSize], gnuID
			case tag == noteTypeGNUBuildID && bytes.Equal(name, noteNameGNU):
				gnuID = note[16 : 16+valSize]
			}
		}

		size := 12 + uint64((nameSize+3)&^3) + uint64((valSize+3)&^3)
		if uint64(len(note)) <= size {
			break
		}
		next := (off + size + align - 1) &^ (align - 1)
		skip := next - off
		if skip >= uint64(len(note)) {
			break
		}
		off = next
		note = note[skip:]
	}
	return nil, gnuID
}
