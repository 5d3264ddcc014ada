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

// Package poison rewrites the section header table fields of ELF64
// executables so that section based tooling can no longer read them while
// the program headers used by the loader stay intact.
package poison

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/parca-dev/gdpoise/byteorder"
	"github.com/parca-dev/gdpoise/pkg/elfheader"
	"github.com/parca-dev/gdpoise/pkg/hash"
)

// DefaultMaxFileSize is the largest input read into memory unless
// configured otherwise.
const DefaultMaxFileSize = 1 << 30

var ErrTooLarge = errors.New("file exceeds maximum size")

// Fields are the values written to e_shnum, e_shoff and e_shstrndx.
// Offset is zero-extended into the 64-bit e_shoff.
type Fields struct {
	Count       uint16
	Offset      uint16
	StringIndex uint16
}

// Sentinel is the default poison.
var Sentinel = Fields{
	Count:       math.MaxUint16,
	Offset:      math.MaxUint16,
	StringIndex: math.MaxUint16,
}

// Result describes a completed rewrite.
type Result struct {
	Size int64
	// Original is the header as found in the input.
	Original     *elfheader.FileHeader
	Applied      Fields
	InputDigest  uint64
	OutputDigest uint64
}

// Patch validates the header in buf and overwrites the section header
// table fields in place. It returns the header as it was before patching.
func Patch(buf []byte, f Fields) (*elfheader.FileHeader, error) {
	h, err := elfheader.Decode(buf)
	if err != nil {
		return nil, err
	}

	patched := *h
	patched.Shnum = f.Count
	patched.Shoff = uint64(f.Offset)
	patched.Shstrndx = f.StringIndex
	if err := patched.Encode(buf); err != nil {
		return nil, err
	}
	return h, nil
}

type Option func(r *Rewriter)

// WithMaxFileSize limits the size of inputs.
func WithMaxFileSize(n int64) Option {
	return func(r *Rewriter) {
		r.maxFileSize = n
	}
}

// Rewriter produces poisoned copies of executables.
type Rewriter struct {
	logger  log.Logger
	tracer  trace.Tracer
	metrics *metrics

	maxFileSize int64
}

// NewRewriter creates a new Rewriter.
func NewRewriter(logger log.Logger, reg prometheus.Registerer, tracer trace.Tracer, opts ...Option) *Rewriter {
	r := &Rewriter{
		logger:      log.With(logger, "component", "rewriter"),
		tracer:      tracer,
		metrics:     newMetrics(reg),
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rewrite writes a copy of src with f applied to dst. dst is replaced
// atomically; on failure it is left as it was.
// Making dst executable is the caller's responsibility.
func (r *Rewriter) Rewrite(ctx context.Context, src, dst string, f Fields) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, span := r.tracer.Start(ctx, "Rewriter.Rewrite")
	defer span.End()

	res, err := r.rewrite(src, f, func(buf []byte) error {
		return writeFile(dst, buf)
	})
	if err != nil {
		span.RecordError(err)
		r.metrics.rewrites.WithLabelValues(resultFailure).Inc()
		return nil, err
	}
	r.metrics.rewrites.WithLabelValues(resultSuccess).Inc()
	r.metrics.rewrittenBytes.Add(float64(res.Size))

	level.Debug(r.logger).Log("msg", "rewrote section header fields", "src", src, "dst", dst, "size", humanize.IBytes(uint64(res.Size)))
	return res, nil
}

// WriteTo is like Rewrite but writes the result to dst.
func (r *Rewriter) WriteTo(ctx context.Context, dst io.Writer, src string, f Fields) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, span := r.tracer.Start(ctx, "Rewriter.WriteTo")
	defer span.End()

	res, err := r.rewrite(src, f, func(buf []byte) error {
		n, err := dst.Write(buf)
		if err == nil && n < len(buf) {
			err = io.ErrShortWrite
		}
		if err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		r.metrics.rewrites.WithLabelValues(resultFailure).Inc()
		return nil, err
	}
	r.metrics.rewrites.WithLabelValues(resultSuccess).Inc()
	r.metrics.rewrittenBytes.Add(float64(res.Size))
	return res, nil
}

func (r *Rewriter) rewrite(src string, f Fields, write func([]byte) error) (*Result, error) {
	buf, err := r.load(src)
	if err != nil {
		return nil, err
	}

	in, err := hash.Bytes(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to hash input: %w", err)
	}

	h, err := Patch(buf, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	if h.Data() != byteorder.HostData() {
		level.Warn(r.logger).Log("msg", "file byte order differs from host, fields are written in host order", "file", src, "data", h.Data())
	}

	out, err := hash.Bytes(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to hash output: %w", err)
	}

	if err := write(buf); err != nil {
		return nil, err
	}

	return &Result{
		Size:         int64(len(buf)),
		Original:     h,
		Applied:      f,
		InputDigest:  in,
		OutputDigest: out,
	}, nil
}

// load reads src into memory after checking its size.
func (r *Rewriter) load(src string) ([]byte, error) {
	file, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fi, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	size := fi.Size()
	if size == 0 {
		return nil, fmt.Errorf("%s: %w", src, elfheader.ErrTruncated)
	}
	if size > r.maxFileSize {
		return nil, fmt.Errorf("%s is %s, limit is %s: %w",
			src, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(r.maxFileSize)), ErrTooLarge)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(file, buf); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", src, err)
	}
	return buf, nil
}

// writeFile writes data to a temporary file next to dst and renames it
// onto dst.
func writeFile(dst string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	n, err := tmp.Write(data)
	if err == nil && n < len(data) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", dst, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to move file: %w", err)
	}
	return nil
}
