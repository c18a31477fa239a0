// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build windows

package keystore

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// checkOpenFilePermissions inspects the DACL of an open wallet file. NTFS
// does not allow replacing a file that is held open, so checking by name
// is safe here.
func checkOpenFilePermissions(f *os.File) error {
	sd, err := windows.GetNamedSecurityInfo(
		f.Name(),
		windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION,
	)
	if err != nil {
		return fmt.Errorf("read security info for %q: %w", f.Name(), err)
	}
	sddl := sd.String()
	if sddl == "" {
		return fmt.Errorf("empty security descriptor for %q", f.Name())
	}
	return checkSDDL(f.Name(), sddl)
}
