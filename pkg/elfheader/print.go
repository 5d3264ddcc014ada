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

package elfheader

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Print writes a summary of the section header table fields to w.
func (h *FileHeader) Print(w io.Writer) error {
	if _, err := fmt.Fprint(w, "\nELF Header Information:\n------------------------\n"); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Number of sections in header:\t%d\n", h.Shnum)
	fmt.Fprintf(tw, "Start of section header:\t%d\n", h.Shoff)
	fmt.Fprintf(tw, "Location of strings defined in header table:\t%d\n", h.Shstrndx)
	return tw.Flush()
}
