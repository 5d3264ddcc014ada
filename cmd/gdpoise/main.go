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

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/parca-dev/gdpoise/flags"
	"github.com/parca-dev/gdpoise/pkg/elfheader"
	"github.com/parca-dev/gdpoise/pkg/hash"
	"github.com/parca-dev/gdpoise/pkg/inspect"
	"github.com/parca-dev/gdpoise/pkg/logger"
	"github.com/parca-dev/gdpoise/pkg/poison"
)

func main() {
	os.Exit(int(mainWithExitCode(os.Args[1:], os.Stdout, os.Stderr)))
}

func mainWithExitCode(args []string, stdout, stderr io.Writer) flags.ExitCode {
	f, err := flags.Parse(args, kong.Writers(stdout, stderr))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return flags.ExitFailure
	}

	if f.Version {
		fmt.Fprintln(stdout, flags.VersionString())
		return flags.ExitSuccess
	}

	logger := logger.NewLoggerWithWriter(stderr, f.Log.Level, f.Log.Format, "gdpoise")

	if err := f.Validate(); err != nil {
		level.Error(logger).Log("msg", "invalid arguments", "err", err)
		return flags.ExitFailure
	}
	maxFileSize, err := f.MaxFileSizeBytes()
	if err != nil {
		level.Error(logger).Log("msg", "invalid arguments", "err", err)
		return flags.ExitFailure
	}

	reg := prometheus.NewRegistry()
	rw := poison.NewRewriter(logger, reg, noop.NewTracerProvider().Tracer("gdpoise"), poison.WithMaxFileSize(maxFileSize))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g run.Group
	g.Add(func() error {
		if f.Stdout {
			return streamFile(ctx, logger, stdout, stderr, rw, f)
		}
		return poisonFile(ctx, logger, stdout, rw, f)
	}, func(error) {
		cancel()
	})
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	code := flags.ExitSuccess
	if err := g.Run(); err != nil {
		level.Error(logger).Log("msg", "failed to poison executable", "file", f.Executable, "err", err)
		code = flags.ExitFailure
	}

	if f.MetricsTextfile != "" {
		if err := prometheus.WriteToTextfile(f.MetricsTextfile, reg); err != nil {
			level.Error(logger).Log("msg", "failed to write metrics", "file", f.MetricsTextfile, "err", err)
			code = flags.ExitFailure
		}
	}
	return code
}

// report validates the input header and prints it, followed by the
// profile of the input when requested.
func report(logger log.Logger, w io.Writer, f flags.Flags) error {
	hdr, err := elfheader.Open(f.Executable)
	if err != nil {
		return fmt.Errorf("failed to validate input: %w", err)
	}
	if err := hdr.Print(w); err != nil {
		return fmt.Errorf("failed to print header: %w", err)
	}

	if !f.Inspect {
		return nil
	}
	profile, err := inspect.Examine(f.Executable)
	if err != nil {
		level.Warn(logger).Log("msg", "failed to inspect executable", "file", f.Executable, "err", err)
		return nil
	}
	fmt.Fprintln(w)
	if err := profile.Print(w); err != nil {
		return fmt.Errorf("failed to print profile: %w", err)
	}
	return nil
}

// poisonFile validates the input, writes the poisoned copy and makes it
// executable. Nothing is written before the input header validated.
func poisonFile(ctx context.Context, logger log.Logger, stdout io.Writer, rw *poison.Rewriter, f flags.Flags) error {
	if err := report(logger, stdout, f); err != nil {
		return err
	}

	out := f.OutputPath()
	res, err := rw.Rewrite(ctx, f.Executable, out, f.Hidden.Fields())
	if err != nil {
		return err
	}

	if f.Verify {
		if err := verifyOutput(logger, f.Executable, out, res); err != nil {
			return err
		}
	}

	if err := poison.MakeExecutable(out); err != nil {
		return err
	}

	level.Info(logger).Log(
		"msg", "section header fields rewritten",
		"file", out,
		"size", humanize.IBytes(uint64(res.Size)),
		"input_digest", hash.String(res.InputDigest),
		"output_digest", hash.String(res.OutputDigest),
	)
	fmt.Fprintf(stdout, "\nModified copy written to %s\n", out)
	return nil
}

// verifyOutput checks the written output against the input and against
// the digest computed while rewriting. An output that fails is removed.
func verifyOutput(logger log.Logger, src, out string, res *poison.Result) error {
	err := poison.Verify(src, out)
	if err == nil {
		var sum uint64
		sum, err = hash.File(os.DirFS(filepath.Dir(out)), filepath.Base(out))
		if err == nil && sum != res.OutputDigest {
			err = fmt.Errorf("%w: digest %s, expected %s", poison.ErrMismatch, hash.String(sum), hash.String(res.OutputDigest))
		}
	}
	if err == nil {
		return nil
	}

	if rerr := os.Remove(out); rerr != nil {
		level.Warn(logger).Log("msg", "failed to remove unverified output", "file", out, "err", rerr)
	}
	return fmt.Errorf("failed to verify output: %w", err)
}

// streamFile writes the poisoned copy to stdout and everything else to
// stderr.
func streamFile(ctx context.Context, logger log.Logger, stdout, stderr io.Writer, rw *poison.Rewriter, f flags.Flags) error {
	if err := report(logger, stderr, f); err != nil {
		return err
	}

	res, err := rw.WriteTo(ctx, stdout, f.Executable, f.Hidden.Fields())
	if err != nil {
		return err
	}

	level.Info(logger).Log(
		"msg", "section header fields rewritten",
		"file", "-",
		"size", humanize.IBytes(uint64(res.Size)),
		"input_digest", hash.String(res.InputDigest),
		"output_digest", hash.String(res.OutputDigest),
	)
	return nil
}
