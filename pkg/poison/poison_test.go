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
	"debug/elf"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rzajac/flexbuf"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/parca-dev/gdpoise/pkg/elfheader"
	"github.com/parca-dev/gdpoise/pkg/hash"
	"github.com/parca-dev/gdpoise/pkg/testutil"
)

func newTestRewriter(t *testing.T, opts ...Option) *Rewriter {
	t.Helper()
	return NewRewriter(log.NewNopLogger(), prometheus.NewRegistry(), noop.NewTracerProvider().Tracer("test"), opts...)
}

// requireUnchangedOutsideFields asserts that in and out differ at most in
// e_shoff, e_shnum and e_shstrndx.
func requireUnchangedOutsideFields(t *testing.T, in, out []byte) {
	t.Helper()

	require.Len(t, out, len(in))
	for i := range in {
		if i >= elfheader.OffsetShoff && i < elfheader.OffsetShoff+8 {
			continue
		}
		if i >= elfheader.OffsetShnum && i < elfheader.Size {
			continue
		}
		require.Equalf(t, in[i], out[i], "byte at offset %d changed", i)
	}
}

func TestPatch(t *testing.T) {
	in := testutil.ELF64{Entry: 0x401000, Shnum: 5, Shoff: 4096, Shstrndx: 4}.Bytes()
	buf := bytes.Clone(in)

	orig, err := Patch(buf, Sentinel)
	require.NoError(t, err)
	require.Equal(t, uint16(5), orig.Shnum)
	require.Equal(t, uint64(4096), orig.Shoff)
	require.Equal(t, uint16(4), orig.Shstrndx)

	h, err := elfheader.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, uint16(0xffff), h.Shnum)
	require.Equal(t, uint64(0xffff), h.Shoff)
	require.Equal(t, uint16(0xffff), h.Shstrndx)
	require.Equal(t, orig.Entry, h.Entry)
	require.Equal(t, orig.Phoff, h.Phoff)
	require.Equal(t, orig.Phnum, h.Phnum)
	requireUnchangedOutsideFields(t, in, buf)

	// Applying the sentinel again is a no-op.
	again := bytes.Clone(buf)
	_, err = Patch(again, Sentinel)
	require.NoError(t, err)
	require.Equal(t, buf, again)
}

func TestPatchCustomFields(t *testing.T) {
	buf := testutil.ELF64{Shnum: 5, Shoff: 0x3000, Shstrndx: 4}.Bytes()

	_, err := Patch(buf, Fields{Count: 1, Offset: 2, StringIndex: 3})
	require.NoError(t, err)

	h, err := elfheader.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, uint16(1), h.Shnum)
	require.Equal(t, uint64(2), h.Shoff)
	require.Equal(t, uint16(3), h.Shstrndx)
}

func TestPatchRejects(t *testing.T) {
	notELF := bytes.Repeat([]byte{0x90}, 128)
	class32 := testutil.ELF64{}.Bytes()
	class32[elf.EI_CLASS] = byte(elf.ELFCLASS32)

	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{name: "not elf", in: notELF, want: elfheader.ErrBadMagic},
		{name: "truncated", in: testutil.ELF64{}.Bytes()[:40], want: elfheader.ErrTruncated},
		{name: "32-bit", in: class32, want: elfheader.ErrUnsupportedClass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := bytes.Clone(tt.in)
			_, err := Patch(buf, Sentinel)
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, tt.in, buf)
		})
	}
}

func TestRewrite(t *testing.T) {
	in := testutil.ELF64{Entry: 0x401000, Shnum: 5, Shoff: 4096, Shstrndx: 4}.Bytes()
	src := testutil.WriteFile(t, "hello", in)
	dst := src + "_modified"

	r := newTestRewriter(t)
	res, err := r.Rewrite(context.Background(), src, dst, Sentinel)
	require.NoError(t, err)
	require.Equal(t, int64(len(in)), res.Size)
	require.Equal(t, uint16(5), res.Original.Shnum)
	require.Equal(t, Sentinel, res.Applied)

	out, err := os.ReadFile(dst)
	require.NoError(t, err)
	requireUnchangedOutsideFields(t, in, out)

	h, err := elfheader.Decode(out)
	require.NoError(t, err)
	require.Equal(t, uint16(0xffff), h.Shnum)
	require.Equal(t, uint64(0xffff), h.Shoff)
	require.Equal(t, uint16(0xffff), h.Shstrndx)
	require.Equal(t, uint64(0x401000), h.Entry)

	wantIn, err := hash.Bytes(in)
	require.NoError(t, err)
	wantOut, err := hash.Bytes(out)
	require.NoError(t, err)
	require.Equal(t, wantIn, res.InputDigest)
	require.Equal(t, wantOut, res.OutputDigest)

	// The source is never modified.
	got, err := os.ReadFile(src)
	require.NoError(t, err)
	require.Equal(t, in, got)

	// Section based tooling can no longer load the file.
	_, err = elf.NewFile(bytes.NewReader(out))
	require.Error(t, err)

	require.Equal(t, 1.0, promtestutil.ToFloat64(r.metrics.rewrites.WithLabelValues(resultSuccess)))
	require.Equal(t, float64(len(in)), promtestutil.ToFloat64(r.metrics.rewrittenBytes))
}

func TestRewriteReplacesExistingOutput(t *testing.T) {
	in := testutil.ELF64{Shnum: 5, Shoff: 4096, Shstrndx: 4}.Bytes()
	src := testutil.WriteFile(t, "hello", in)
	dst := src + "_modified"
	require.NoError(t, os.WriteFile(dst, []byte("stale content that is much longer than nothing"), 0o600))

	_, err := newTestRewriter(t).Rewrite(context.Background(), src, dst, Sentinel)
	require.NoError(t, err)

	out, err := os.ReadFile(dst)
	require.NoError(t, err)
	requireUnchangedOutsideFields(t, in, out)
}

func TestRewriteIdempotent(t *testing.T) {
	in := testutil.ELF64{Shnum: 5, Shoff: 4096, Shstrndx: 4}.Bytes()
	src := testutil.WriteFile(t, "hello", in)
	first := src + "_modified"
	second := first + "_modified"

	r := newTestRewriter(t)
	_, err := r.Rewrite(context.Background(), src, first, Sentinel)
	require.NoError(t, err)
	_, err = r.Rewrite(context.Background(), first, second, Sentinel)
	require.NoError(t, err)

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestRewriteFailuresLeaveNoOutput(t *testing.T) {
	ctx := context.Background()
	valid := testutil.ELF64{Shnum: 5, Shoff: 4096, Shstrndx: 4}.Bytes()

	tests := []struct {
		name    string
		content []byte
		opts    []Option
		want    error
	}{
		{name: "not elf", content: []byte("#!/bin/sh\necho this is a shell script, not an executable\n"), want: elfheader.ErrBadMagic},
		{name: "truncated", content: valid[:10], want: elfheader.ErrTruncated},
		{name: "empty", content: []byte{}, want: elfheader.ErrTruncated},
		{name: "too large", content: valid, opts: []Option{WithMaxFileSize(128)}, want: ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := testutil.WriteFile(t, "input", tt.content)
			dst := src + "_modified"

			r := newTestRewriter(t, tt.opts...)
			_, err := r.Rewrite(ctx, src, dst, Sentinel)
			require.ErrorIs(t, err, tt.want)

			_, err = os.Stat(dst)
			require.ErrorIs(t, err, fs.ErrNotExist)

			entries, err := os.ReadDir(filepath.Dir(src))
			require.NoError(t, err)
			require.Len(t, entries, 1)

			require.Equal(t, 1.0, promtestutil.ToFloat64(r.metrics.rewrites.WithLabelValues(resultFailure)))
			require.Equal(t, 0.0, promtestutil.ToFloat64(r.metrics.rewrites.WithLabelValues(resultSuccess)))
		})
	}
}

func TestRewriteMissingInput(t *testing.T) {
	dir := t.TempDir()
	_, err := newTestRewriter(t).Rewrite(context.Background(), filepath.Join(dir, "missing"), filepath.Join(dir, "out"), Sentinel)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestRewriteMissingOutputDir(t *testing.T) {
	src := testutil.WriteFile(t, "hello", testutil.ELF64{}.Bytes())
	dst := filepath.Join(t.TempDir(), "does", "not", "exist", "hello_modified")

	_, err := newTestRewriter(t).Rewrite(context.Background(), src, dst, Sentinel)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestRewriteCanceled(t *testing.T) {
	src := testutil.WriteFile(t, "hello", testutil.ELF64{}.Bytes())
	dst := src + "_modified"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestRewriter(t).Rewrite(ctx, src, dst, Sentinel)
	require.ErrorIs(t, err, context.Canceled)

	_, err = os.Stat(dst)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestWriteTo(t *testing.T) {
	in := testutil.ELF64{Entry: 0x401000, Shnum: 5, Shoff: 4096, Shstrndx: 4}.Bytes()
	src := testutil.WriteFile(t, "hello", in)

	buf := flexbuf.New()
	res, err := newTestRewriter(t).WriteTo(context.Background(), buf, src, Sentinel)
	require.NoError(t, err)
	require.Equal(t, int64(len(in)), res.Size)

	buf.SeekStart()
	out, err := io.ReadAll(buf)
	require.NoError(t, err)
	requireUnchangedOutsideFields(t, in, out)

	h, err := elfheader.Decode(out)
	require.NoError(t, err)
	require.Equal(t, uint16(0xffff), h.Shnum)
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) / 2, nil }

func TestWriteToShortWrite(t *testing.T) {
	src := testutil.WriteFile(t, "hello", testutil.ELF64{}.Bytes())

	_, err := newTestRewriter(t).WriteTo(context.Background(), shortWriter{}, src, Sentinel)
	require.ErrorIs(t, err, io.ErrShortWrite)
}
