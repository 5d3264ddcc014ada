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

// Package inspect describes an executable before its section headers are
// rewritten.
package inspect

import (
	"debug/elf"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/xyproto/ainur"

	"github.com/parca-dev/gdpoise/pkg/buildid"
)

// Profile is a human oriented summary of an executable.
type Profile struct {
	Machine  string
	Compiler string
	Stripped bool
	Static   bool
	// Loads is the number of PT_LOAD segments.
	Loads   int
	BuildID string
}

// Examine profiles the ELF file at path.
func Examine(path string) (*Profile, error) {
	ef, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open elf: %w", err)
	}
	defer ef.Close()

	p := FromELF(ef)

	id, err := buildid.FromPath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read build id: %w", err)
	}
	p.BuildID = id
	return p, nil
}

// FromELF profiles an already opened file. BuildID is left empty.
func FromELF(ef *elf.File) *Profile {
	p := &Profile{
		Machine:  ainur.Describe(ef.Machine),
		Compiler: ainur.Compiler(ef),
		Stripped: ainur.Stripped(ef),
		Static:   ainur.Static(ef),
	}
	for _, prog := range ef.Progs {
		if prog.Type == elf.PT_LOAD {
			p.Loads++
		}
	}
	return p
}

func (p *Profile) Print(w io.Writer) error {
	buildID := p.BuildID
	if buildID == "" {
		buildID = "none"
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Machine:\t%s\n", p.Machine)
	fmt.Fprintf(tw, "Compiler:\t%s\n", p.Compiler)
	fmt.Fprintf(tw, "Stripped:\t%t\n", p.Stripped)
	fmt.Fprintf(tw, "Static:\t%t\n", p.Static)
	fmt.Fprintf(tw, "Loadable segments:\t%d\n", p.Loads)
	fmt.Fprintf(tw, "Build ID:\t%s\n", buildID)
	return tw.Flush()
}
