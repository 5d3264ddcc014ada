// Copyright 2022-2024 The Parca Authors
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
//

package flags

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"

	"github.com/parca-dev/gdpoise/pkg/poison"
)

var (
	version string
	commit  string
	date    string
	goArch  = runtime.GOARCH
)

// OutputSuffix is appended to the base name of the input.
const OutputSuffix = "_modified"

var osExit = os.Exit

// Parse parses args into Flags. Asking for help, like any other usage
// error, terminates the process with ExitFailure.
func Parse(args []string, options ...kong.Option) (Flags, error) {
	flags := Flags{}
	opts := append([]kong.Option{
		kong.Name("gdpoise"),
		kong.Description("Write a copy of an ELF64 executable whose section header table can no longer be found."),
		kong.Exit(func(int) { osExit(int(ExitFailure)) }),
		kong.Vars{
			"default_max_file_size": humanize.IBytes(poison.DefaultMaxFileSize),
		},
	}, options...)

	parser, err := kong.New(&flags, opts...)
	if err != nil {
		return Flags{}, fmt.Errorf("failed to create parser: %w", err)
	}

	if _, err := parser.Parse(args); err != nil {
		var perr *kong.ParseError
		if errors.As(err, &perr) {
			_ = perr.Context.PrintUsage(true)
		}
		return Flags{}, err
	}
	return flags, nil
}

type Flags struct {
	Log FlagsLogs `embed:"" prefix:"log-"`

	Executable string `arg:"" help:"ELF64 executable to read."                                                 optional:""`
	Output     string `help:"Directory to write <executable>_modified to. Defaults to the input's directory." short:"o"`

	MaxFileSize     string `default:"${default_max_file_size}" help:"Refuse inputs larger than this."`
	Verify          bool   `default:"true"                     help:"Re-read the output and check that only the section header fields changed." negatable:""`
	Inspect         bool   `help:"Print the machine, compiler, linkage and build ID of the input."`
	Stdout          bool   `help:"Write the modified copy to standard output instead of a file. Reports go to standard error."`
	MetricsTextfile string `help:"Write run counters in the Prometheus text format to this file."`
	Version         bool   `help:"Show application version."`

	Hidden FlagsHidden `embed:"" hidden:"" prefix:"section-header-"`
}

type ExitCode int

const (
	ExitSuccess ExitCode = 0
	// ExitFailure covers usage, validation and I/O errors alike.
	ExitFailure ExitCode = 1
)

func (f Flags) Validate() error {
	if f.Executable == "" {
		return errors.New("no input file specified")
	}

	if _, err := f.MaxFileSizeBytes(); err != nil {
		return err
	}

	if f.Stdout && f.Output != "" {
		return errors.New("--stdout and --output are mutually exclusive")
	}

	if f.Output != "" {
		fi, err := os.Stat(f.Output)
		if err != nil {
			return fmt.Errorf("invalid output directory: %w", err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("invalid output directory: %s is not a directory", f.Output)
		}
	}

	if f.MetricsTextfile != "" && !f.Stdout && filepath.Clean(f.MetricsTextfile) == filepath.Clean(f.OutputPath()) {
		return errors.New("metrics textfile must not overwrite the output")
	}

	return nil
}

// OutputPath returns where the poisoned copy is written.
func (f Flags) OutputPath() string {
	if f.Output == "" {
		return f.Executable + OutputSuffix
	}
	return filepath.Join(f.Output, filepath.Base(f.Executable)+OutputSuffix)
}

// MaxFileSizeBytes parses MaxFileSize, e.g. "512MiB" or "1GB".
func (f Flags) MaxFileSizeBytes() (int64, error) {
	n, err := humanize.ParseBytes(f.MaxFileSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max file size %q: %w", f.MaxFileSize, err)
	}
	if n == 0 || n > 1<<62 {
		return 0, fmt.Errorf("invalid max file size %q: out of range", f.MaxFileSize)
	}
	return int64(n), nil
}

// VersionString describes the build.
func VersionString() string {
	v := version
	if v == "" {
		v = "dev"
	}
	return fmt.Sprintf("gdpoise, version %s (commit: %s, date: %s, arch: %s)", v, commit, date, goArch)
}

// FlagsLogs provides logging configuration flags.
type FlagsLogs struct {
	Level  string `default:"info"   enum:"error,warn,info,debug" help:"Log level."`
	Format string `default:"logfmt" enum:"logfmt,json"           help:"Configure if structured logging as JSON or as logfmt"`
}

// FlagsHidden overrides the values written into the section header fields.
type FlagsHidden struct {
	Count       uint16 `default:"65535" help:"Value written to e_shnum."                          hidden:""`
	Offset      uint16 `default:"65535" help:"Value written to e_shoff, zero-extended to 64 bits." hidden:""`
	StringIndex uint16 `default:"65535" help:"Value written to e_shstrndx."                       hidden:""`
}

func (f FlagsHidden) Fields() poison.Fields {
	return poison.Fields{
		Count:       f.Count,
		Offset:      f.Offset,
		StringIndex: f.StringIndex,
	}
}
