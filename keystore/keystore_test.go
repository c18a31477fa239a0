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
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/blinklabs-io/privabuild/fhe"
	gethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, mode))
	require.NoError(t, os.Chmod(path, mode))
	return path
}

func TestLoadHexKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	want := crypto.PubkeyToAddress(key.PublicKey)
	for _, format := range []string{"%x", "0x%x\n", "  %x  "} {
		path := writeFile(t, "wallet.key", []byte(fmt.Sprintf(format, crypto.FromECDSA(key))), 0o600)
		w, err := LoadFromFile(path, "")
		require.NoError(t, err, format)
		assert.Equal(t, want, w.Address())
	}
}

func TestLoadJSONKeystore(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	data, err := gethkeystore.EncryptKey(
		&gethkeystore.Key{Id: uuid.New(), Address: addr, PrivateKey: key},
		"correct horse",
		gethkeystore.LightScryptN,
		gethkeystore.LightScryptP,
	)
	require.NoError(t, err)
	path := writeFile(t, "wallet.json", data, 0o600)

	w, err := LoadFromFile(path, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, addr, w.Address())

	_, err = LoadFromFile(path, "wrong")
	require.ErrorIs(t, err, ErrBadPassphrase)
}

func TestLoadRejectsInsecureMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	w, err := Generate()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "wallet.key")
	require.NoError(t, w.SaveToFile(path))
	require.NoError(t, os.Chmod(path, 0o644))
	_, err = LoadFromFile(path, "")
	require.ErrorIs(t, err, ErrInsecureFileMode)
}

func TestLoadInvalidKey(t *testing.T) {
	for _, data := range []string{"", "not-hex", "0x1234", "{\"version\":3}"} {
		path := writeFile(t, "wallet.key", []byte(data), 0o600)
		_, err := LoadFromFile(path, "")
		require.ErrorIs(t, err, ErrInvalidKey, data)
	}
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing"), "")
	require.Error(t, err)
}

func TestSaveToFileRoundTrip(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "wallet.key")
	require.NoError(t, w.SaveToFile(path))
	if runtime.GOOS != "windows" {
		fi, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	}
	loaded, err := LoadFromFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, w.Address(), loaded.Address())
}

func TestSignTypedDataRecoversAddress(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)
	params := fhe.NetworkParams{
		ChainID:           big.NewInt(31337),
		VerifyingContract: common.HexToAddress("0x0000000000000000000000000000000000000d0c"),
	}
	typed := fhe.NewUserDecryptTypedData(
		params,
		[32]byte{1},
		[]common.Address{common.HexToAddress("0x000000000000000000000000000000000000c0de")},
		time.Now().Unix(),
		10,
	)
	sig, err := w.SignTypedData(context.Background(), typed)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[crypto.RecoveryIDOffset])

	hash, err := fhe.TypedDataHash(typed)
	require.NoError(t, err)
	raw := append([]byte(nil), sig...)
	raw[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(hash, raw)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), crypto.PubkeyToAddress(*pub))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.SignTypedData(ctx, typed)
	require.ErrorIs(t, err, context.Canceled)
}

func TestTransactOptsAndClose(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)
	opts, err := w.TransactOpts(big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, w.Address(), opts.From)

	w.Close()
	w.Close()
	_, err = w.TransactOpts(big.NewInt(1))
	require.ErrorIs(t, err, ErrClosed)
	_, err = w.SignTypedData(context.Background(), fhe.NewUserDecryptTypedData(
		fhe.NetworkParams{ChainID: big.NewInt(1)}, [32]byte{}, nil, 0, 1,
	))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, w.SaveToFile(filepath.Join(t.TempDir(), "x")), ErrClosed)
}

func TestCheckSDDL(t *testing.T) {
	tests := []struct {
		sddl    string
		wantErr string
	}{
		{sddl: "O:BAD:P(A;;GA;;;S-1-5-21-1-2-3-1001)"},
		{sddl: "D:(D;;GA;;;WD)(A;;GA;;;SY)"},
		{sddl: "D:(A;;GR;;;WD)", wantErr: "Everyone"},
		{sddl: "D:(A;;GR;;;BU)S:(AU;SA;GA;;;WD)", wantErr: "BUILTIN\\Users"},
		{sddl: "D:(A;;GR;;;S-1-5-11)", wantErr: "Authenticated Users"},
		{sddl: "O:BA", wantErr: "no DACL"},
	}
	for _, tc := range tests {
		err := checkSDDL("wallet.key", tc.sddl)
		if tc.wantErr == "" {
			assert.NoError(t, err, tc.sddl)
			continue
		}
		require.ErrorIs(t, err, ErrInsecureFileMode, tc.sddl)
		assert.Contains(t, err.Error(), tc.wantErr)
	}
}
