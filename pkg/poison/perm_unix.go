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

//go:build unix

package poison

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ExecutableMode is rwxr-xr-x.
const ExecutableMode = unix.S_IRUSR | unix.S_IWUSR | unix.S_IXUSR |
	unix.S_IRGRP | unix.S_IXGRP |
	unix.S_IROTH | unix.S_IXOTH

// MakeExecutable sets the permission bits of path to ExecutableMode.
func MakeExecutable(path string) error {
	if err := unix.Chmod(path, ExecutableMode); err != nil {
		return fmt.Errorf("failed to set execution permissions on %s: %w", path, err)
	}
	return nil
}
