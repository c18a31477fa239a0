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

package keystore

import (
	"fmt"
	"strings"
)

// broadTrustees are SIDs, in SDDL abbreviation and full form, that must
// not be granted access to a wallet file.
var broadTrustees = map[string]string{
	"WD":           "Everyone",
	"S-1-1-0":      "Everyone",
	"BU":           "BUILTIN\\Users",
	"S-1-5-32-545": "BUILTIN\\Users",
	"AU":           "Authenticated Users",
	"S-1-5-11":     "Authenticated Users",
}

// daclSection returns the DACL part of an SDDL string
func daclSection(sddl string) (string, bool) {
	idx := strings.Index(sddl, "D:")
	if idx < 0 {
		return "", false
	}
	dacl := sddl[idx+2:]
	if end := strings.Index(dacl, "S:"); end >= 0 {
		dacl = dacl[:end]
	}
	return dacl, true
}

// checkSDDL fails when the DACL is missing or grants an allow ACE to a
// broad group.
func checkSDDL(path string, sddl string) error {
	dacl, ok := daclSection(sddl)
	if !ok {
		return fmt.Errorf("wallet file %q has no DACL: %w", path, ErrInsecureFileMode)
	}
	for _, ace := range strings.Split(dacl, "(") {
		ace, _, closed := strings.Cut(ace, ")")
		if !closed {
			continue
		}
		// type;flags;rights;object;inherit;trustee
		fields := strings.Split(ace, ";")
		if len(fields) < 6 || fields[0] != "A" {
			continue
		}
		if name, bad := broadTrustees[fields[5]]; bad {
			return fmt.Errorf(
				"wallet file %q grants access to %s: %w",
				path,
				name,
				ErrInsecureFileMode,
			)
		}
	}
	return nil
}
