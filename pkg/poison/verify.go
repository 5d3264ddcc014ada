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

package poison

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/parca-dev/gdpoise/pkg/elfheader"
)

var ErrMismatch = errors.New("output differs from input outside of the section header fields")

// Verify checks that dst is a valid ELF64 file whose content equals src
// except for e_shnum, e_shoff and e_shstrndx.
func Verify(src, dst string) error {
	return VerifyFS(
		os.DirFS(filepath.Dir(src)), filepath.Base(src),
		os.DirFS(filepath.Dir(dst)), filepath.Base(dst),
	)
}

// VerifyFS is like Verify but reads the input and the output from the
// given file systems.
func VerifyFS(srcFS fs.FS, src string, dstFS fs.FS, dst string) error {
	if _, err := elfheader.ReadFile(dstFS, dst); err != nil {
		return err
	}

	in, err := fs.ReadFile(srcFS, src)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	out, err := fs.ReadFile(dstFS, dst)
	if err != nil {
		return fmt.Errorf("failed to read output: %w", err)
	}

	if len(in) != len(out) {
		return fmt.Errorf("%w: input is %d bytes, output is %d bytes", ErrMismatch, len(in), len(out))
	}
	if maskedSum(in) != maskedSum(out) {
		return fmt.Errorf("%s: %w", dst, ErrMismatch)
	}
	return nil
}

// maskedSum hashes b with the mutable section header fields zeroed.
func maskedSum(b []byte) uint64 {
	var hdr [elfheader.Size]byte
	n := copy(hdr[:], b)
	if n == elfheader.Size {
		// Cannot fail, hdr is exactly one header long.
		_ = elfheader.PutSectionHeaderFields(hdr[:], 0, 0, 0)
	}

	d := xxhash.New()
	d.Write(hdr[:n])
	if len(b) > n {
		d.Write(b[n:])
	}
	return d.Sum64()
}
