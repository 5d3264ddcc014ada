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

// Package elfheader decodes and encodes the fixed 64-byte file header of
// ELF64 objects.
package elfheader

import (
	"debug/elf"
	"errors"
	"fmt"

	"github.com/parca-dev/gdpoise/byteorder"
)

// Size is the size in bytes of an ELF64 file header.
const Size = 64

// Field offsets within the ELF64 file header.
const (
	OffsetType      = 16
	OffsetMachine   = 18
	OffsetVersion   = 20
	OffsetEntry     = 24
	OffsetPhoff     = 32
	OffsetShoff     = 40
	OffsetFlags     = 48
	OffsetEhsize    = 52
	OffsetPhentsize = 54
	OffsetPhnum     = 56
	OffsetShentsize = 58
	OffsetShnum     = 60
	OffsetShstrndx  = 62
)

var (
	ErrTruncated        = errors.New("file too short to hold an ELF64 header")
	ErrBadMagic         = errors.New("not an ELF file")
	ErrUnsupportedClass = errors.New("unsupported ELF class")
)

// FileHeader is the decoded ELF64 file header.
type FileHeader struct {
	Ident     [elf.EI_NIDENT]byte
	Type      elf.Type
	Machine   elf.Machine
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

func (h *FileHeader) Class() elf.Class {
	return elf.Class(h.Ident[elf.EI_CLASS])
}

func (h *FileHeader) Data() elf.Data {
	return elf.Data(h.Ident[elf.EI_DATA])
}

// Decode validates and decodes the header at the start of b.
// Multi-byte fields are read in the host byte order.
func Decode(b []byte) (*FileHeader, error) {
	if len(b) < Size {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrTruncated, len(b), Size)
	}
	if string(b[:elf.EI_CLASS]) != elf.ELFMAG {
		return nil, fmt.Errorf("%w: bad magic number %x", ErrBadMagic, b[:elf.EI_CLASS])
	}
	if c := elf.Class(b[elf.EI_CLASS]); c != elf.ELFCLASS64 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedClass, c)
	}

	order := byteorder.Host()
	h := &FileHeader{
		Type:      elf.Type(order.Uint16(b[OffsetType:])),
		Machine:   elf.Machine(order.Uint16(b[OffsetMachine:])),
		Version:   order.Uint32(b[OffsetVersion:]),
		Entry:     order.Uint64(b[OffsetEntry:]),
		Phoff:     order.Uint64(b[OffsetPhoff:]),
		Shoff:     order.Uint64(b[OffsetShoff:]),
		Flags:     order.Uint32(b[OffsetFlags:]),
		Ehsize:    order.Uint16(b[OffsetEhsize:]),
		Phentsize: order.Uint16(b[OffsetPhentsize:]),
		Phnum:     order.Uint16(b[OffsetPhnum:]),
		Shentsize: order.Uint16(b[OffsetShentsize:]),
		Shnum:     order.Uint16(b[OffsetShnum:]),
		Shstrndx:  order.Uint16(b[OffsetShstrndx:]),
	}
	copy(h.Ident[:], b[:elf.EI_NIDENT])
	return h, nil
}

// Encode writes every header field into the start of b.
func (h *FileHeader) Encode(b []byte) error {
	if len(b) < Size {
		return fmt.Errorf("%w: got %d bytes, need %d", ErrTruncated, len(b), Size)
	}

	order := byteorder.Host()
	copy(b, h.Ident[:])
	order.PutUint16(b[OffsetType:], uint16(h.Type))
	order.PutUint16(b[OffsetMachine:], uint16(h.Machine))
	order.PutUint32(b[OffsetVersion:], h.Version)
	order.PutUint64(b[OffsetEntry:], h.Entry)
	order.PutUint64(b[OffsetPhoff:], h.Phoff)
	order.PutUint32(b[OffsetFlags:], h.Flags)
	order.PutUint16(b[OffsetEhsize:], h.Ehsize)
	order.PutUint16(b[OffsetPhentsize:], h.Phentsize)
	order.PutUint16(b[OffsetPhnum:], h.Phnum)
	order.PutUint16(b[OffsetShentsize:], h.Shentsize)
	return PutSectionHeaderFields(b, h.Shnum, h.Shoff, h.Shstrndx)
}

// PutSectionHeaderFields overwrites e_shnum, e_shoff and e_shstrndx in b
// and leaves every other byte untouched.
func PutSectionHeaderFields(b []byte, shnum uint16, shoff uint64, shstrndx uint16) error {
	if len(b) < Size {
		return fmt.Errorf("%w: got %d bytes, need %d", ErrTruncated, len(b), Size)
	}

	order := byteorder.Host()
	order.PutUint64(b[OffsetShoff:], shoff)
	order.PutUint16(b[OffsetShnum:], shnum)
	order.PutUint16(b[OffsetShstrndx:], shstrndx)
	return nil
}
