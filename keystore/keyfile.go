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
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	gethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
)

// wallet files are small; anything bigger is the wrong file
const maxKeyFileSize = 1 << 20

// readKeyFile opens path, checks its permissions on the open handle and
// reads it.
func readKeyFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wallet file %q: %w", path, err)
	}
	defer f.Close()
	if err := checkOpenFilePermissions(f); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(f, maxKeyFileSize))
	if err != nil {
		return nil, fmt.Errorf("read wallet file %q: %w", path, err)
	}
	return data, nil
}

// parseKey accepts either an encrypted JSON keystore (V3) or a hex
// encoded secp256k1 private key with optional 0x prefix.
func parseKey(data []byte, passphrase string) (*ecdsa.PrivateKey, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidKey)
	}
	if trimmed[0] == '{' {
		key, err := gethkeystore.DecryptKey(trimmed, passphrase)
		if err != nil {
			if errors.Is(err, gethkeystore.ErrDecrypt) {
				return nil, fmt.Errorf("%w: %w", ErrBadPassphrase, err)
			}
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		return key.PrivateKey, nil
	}
	hexKey := strings.TrimPrefix(strings.TrimPrefix(string(trimmed), "0x"), "0X")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return key, nil
}

// writeKeyFile writes key as hex, readable by the owner only
func writeKeyFile(path string, key *ecdsa.PrivateKey) error {
	data := []byte(fmt.Sprintf("%x\n", crypto.FromECDSA(key)))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write wallet file %q: %w", path, err)
	}
	return nil
}
