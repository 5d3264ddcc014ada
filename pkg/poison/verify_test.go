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
	"bytes"
	"context"
	"io/fs"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parca-dev/gdpoise/pkg/elfheader"
	"github.com/parca-dev/gdpoise/pkg/testutil"
)

func TestVerify(t *testing.T) {
	in := testutil.ELF64{Entry: 0x401000, Shnum: 5, Shoff: 4096, Shstrndx: 4}.Bytes()
	src := testutil.WriteFile(t, "hello", in)
	dst := src + "_modified"

	_, err := newTestRewriter(t).Rewrite(context.Background(), src, dst, Sentinel)
	require.NoError(t, err)
	require.NoError(t, Verify(src, dst))
	require.NoError(t, Verify(src, src))
}

func TestVerifyDetectsTampering(t *testing.T) {
	in := testutil.ELF64{Entry: 0x401000, Shnum: 5, Shoff: 4096, Shstrndx: 4}.Bytes()
	src := testutil.WriteFile(t, "hello", in)

	tests := []struct {
		name   string
		tamper func([]byte) []byte
		want   error
	}{
		{
			name: "entry point",
			tamper: func(b []byte) []byte {
				b[elfheader.OffsetEntry]++
				return b
			},
			want: ErrMismatch,
		},
		{
			name: "segment content",
			tamper: func(b []byte) []byte {
				b[len(b)-1]++
				return b
			},
			want: ErrMismatch,
		},
		{
			name: "appended",
			tamper: func(b []byte) []byte {
				return append(b, 0)
			},
			want: ErrMismatch,
		},
		{
			name: "magic",
			tamper: func(b []byte) []byte {
				b[1] = 'X'
				return b
			},
			want: elfheader.ErrBadMagic,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := append([]byte(nil), in...)
			_, err := Patch(out, Sentinel)
			require.NoError(t, err)

			dst := src + "_" + tt.name
			require.NoError(t, os.WriteFile(dst, tt.tamper(out), 0o600))
			require.ErrorIs(t, Verify(src, dst), tt.want)
		})
	}
}

func TestVerifyFS(t *testing.T) {
	in := testutil.ELF64{Shnum: 5, Shoff: 4096, Shstrndx: 4}.Bytes()
	out := bytes.Clone(in)
	_, err := Patch(out, Sentinel)
	require.NoError(t, err)

	fsys := testutil.NewFakeFS(map[string][]byte{
		"hello":           in,
		"hello_modified":  out,
		"hello_truncated": out[:elfheader.Size-1],
	})

	tests := []struct {
		name string
		dst  string
		want error
	}{
		{name: "valid", dst: "hello_modified"},
		{name: "unchanged", dst: "hello"},
		{name: "truncated", dst: "hello_truncated", want: elfheader.ErrTruncated},
		{name: "missing", dst: "hello_missing", want: fs.ErrNotExist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyFS(fsys, "hello", fsys, tt.dst)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}
