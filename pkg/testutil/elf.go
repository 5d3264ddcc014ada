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

package testutil

import (
	"debug/elf"
	"os"
	"path/filepath"
	"testing"

	"github.com/parca-dev/gdpoise/byteorder"
)

const (
	elf64HeaderSize     = 64
	elf64ProgHeaderSize = 56
	elf64SectHeaderSize = 64
)

// ELF64 describes a minimal ELF64 executable with a single PT_LOAD segment.
type ELF64 struct {
	Entry    uint64
	Shnum    uint16
	Shoff    uint64
	Shstrndx uint16
	// GNUBuildID, if set, is stored in a PT_NOTE segment.
	GNUBuildID []byte
	// Size is the minimum size of the resulting file. The file is always
	// large enough to hold the headers and the section header table.
	Size int
}

// Bytes renders the executable in the host byte order. Every byte past the
// headers is filled with a deterministic non-zero pattern.
func (e ELF64) Bytes() []byte {
	phnum := 1
	if len(e.GNUBuildID) > 0 {
		phnum++
	}
	bodyOff := elf64HeaderSize + phnum*elf64ProgHeaderSize
	note := gnuNote(e.GNUBuildID)

	size := bodyOff + len(note)
	if end := int(e.Shoff) + int(e.Shnum)*elf64SectHeaderSize; e.Shoff > 0 && end > size {
		size = end
	}
	if e.Size > size {
		size = e.Size
	}

	b := make([]byte, size)
	for i := bodyOff + len(note); i < size; i++ {
		b[i] = byte(i*7 + 3)
	}
	copy(b[bodyOff:], note)

	order := byteorder.Host()
	copy(b, elf.ELFMAG)
	b[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	b[elf.EI_DATA] = byte(byteorder.HostData())
	b[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	b[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)
	order.PutUint16(b[16:], uint16(elf.ET_EXEC))
	order.PutUint16(b[18:], uint16(elf.EM_X86_64))
	order.PutUint32(b[20:], uint32(elf.EV_CURRENT))
	order.PutUint64(b[24:], e.Entry)
	order.PutUint64(b[32:], elf64HeaderSize)
	order.PutUint64(b[40:], e.Shoff)
	order.PutUint16(b[52:], elf64HeaderSize)
	order.PutUint16(b[54:], elf64ProgHeaderSize)
	order.PutUint16(b[56:], uint16(phnum))
	order.PutUint16(b[58:], elf64SectHeaderSize)
	order.PutUint16(b[60:], e.Shnum)
	order.PutUint16(b[62:], e.Shstrndx)

	ph := b[elf64HeaderSize:]
	order.PutUint32(ph[0:], uint32(elf.PT_LOAD))
	order.PutUint32(ph[4:], uint32(elf.PF_R|elf.PF_X))
	order.PutUint64(ph[8:], 0)
	order.PutUint64(ph[16:], 0x400000)
	order.PutUint64(ph[24:], 0x400000)
	order.PutUint64(ph[32:], uint64(size))
	order.PutUint64(ph[40:], uint64(size))
	order.PutUint64(ph[48:], 0x1000)

	if len(note) > 0 {
		ph = b[elf64HeaderSize+elf64ProgHeaderSize:]
		order.PutUint32(ph[0:], uint32(elf.PT_NOTE))
		order.PutUint32(ph[4:], uint32(elf.PF_R))
		order.PutUint64(ph[8:], uint64(bodyOff))
		order.PutUint64(ph[16:], 0x400000+uint64(bodyOff))
		order.PutUint64(ph[24:], 0x400000+uint64(bodyOff))
		order.PutUint64(ph[32:], uint64(len(note)))
		order.PutUint64(ph[40:], uint64(len(note)))
		order.PutUint64(ph[48:], 4)
	}
	return b
}

// gnuNote encodes id as an NT_GNU_BUILD_ID note.
func gnuNote(id []byte) []byte {
	if len(id) == 0 {
		return nil
	}

	desc := (len(id) + 3) &^ 3
	b := make([]byte, 16+desc)
	order := byteorder.Host()
	order.PutUint32(b[0:], 4)
	order.PutUint32(b[4:], uint32(len(id)))
	order.PutUint32(b[8:], 3)
	copy(b[12:], "GNU\x00")
	copy(b[16:], id)
	return b
}

// WriteFile writes data to a new file named name inside a temporary
// directory owned by t and returns its path.
func WriteFile(t testing.TB, name string, data []byte) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", p, err)
	}
	return p
}
