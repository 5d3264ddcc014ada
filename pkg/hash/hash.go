// Copyright 2021 The Parca Authors
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

// Package hash computes the content digests reported for inputs and
// outputs.
package hash

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"io/fs"

	"github.com/minio/highwayhash"
)

// TODO(brancz): Use own key, this is the example key.
var key = mustDecode("000102030405060708090A0B0C0D0E0FF0E0D0C0B0A090807060504030201000")

func mustDecode(key string) []byte {
	keyBytes, err := hex.DecodeString(key)
	if err != nil {
		panic("Cannot decode hex key: " + err.Error())
	}
	return keyBytes
}

// New returns a 64-bit highwayhash using the package key.
func New() (hash.Hash64, error) {
	return highwayhash.New64(key)
}

// Bytes returns the digest of b.
func Bytes(b []byte) (uint64, error) {
	h, err := New()
	if err != nil {
		return 0, err
	}
	h.Write(b)
	return h.Sum64(), nil
}

// File returns the digest of the file named name in fsys.
func File(fsys fs.FS, name string) (uint64, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	return Reader(f)
}

// Reader returns the digest of everything read from r.
func Reader(r io.Reader) (uint64, error) {
	h, err := New()
	if err != nil {
		return 0, err
	}

	if _, err := io.Copy(h, r); err != nil {
		return 0, fmt.Errorf("failed to hash: %w", err)
	}
	return h.Sum64(), nil
}

// String formats a digest the way it is reported.
func String(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}
