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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "privabuild.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
rpcUrl: "https://rpc.example"
contractAddress: "0x00000000000000000000000000000000000c0de1"
backfillChunkSize: 25
backfillChunkDelay: 500ms
decryptionTimeout: 45s
apiListenAddress: "127.0.0.1:9000"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://rpc.example", cfg.RpcUrl)
	assert.Equal(t, uint64(25), cfg.BackfillChunkSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BackfillChunkDelay)
	assert.Equal(t, 45*time.Second, cfg.DecryptionTimeout)
	assert.Equal(t, "127.0.0.1:9000", cfg.ApiListenAddress)
	// Untouched values keep their defaults
	assert.Equal(t, uint64(10000), cfg.BackfillLookback)
	assert.Equal(t, DefaultGateway, cfg.Gateway)
	assert.Equal(t, int64(10), cfg.ValidityDays)
	assert.Equal(t, RunModeServe, cfg.RunMode)
	assert.Same(t, cfg, GetConfig())
}

func TestLoadConfigSection(t *testing.T) {
	path := writeConfig(t, `
config:
  runMode: dev
  gateway: "ipfs.example"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.RunMode.IsDevMode())
	assert.Equal(t, "ipfs.example", cfg.Gateway)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
pinningUrl: "https://file.example/upload"
`)
	t.Setenv("PRIVABUILD_PINNING_URL", "https://env.example/upload")
	t.Setenv("PRIVABUILD_PINNING_JWT", "secret")
	t.Setenv("PRIVABUILD_KEY_PASSPHRASE", "hunter2")
	t.Setenv("PRIVABUILD_BACKFILL_LOOKBACK", "100")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example/upload", cfg.PinningUrl)
	assert.Equal(t, "secret", cfg.PinningJwt)
	assert.Equal(t, "hunter2", cfg.KeyPassphrase)
	assert.Equal(t, uint64(100), cfg.BackfillLookback)
}

func TestPassphraseNotReadFromFile(t *testing.T) {
	path := writeConfig(t, `
keyPassphrase: "from-file"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.KeyPassphrase)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"run mode":       "runMode: load\n",
		"contract":       "contractAddress: \"0x1234\"\n",
		"chunk size":     "backfillChunkSize: 0\n",
		"validity days":  "validityDays: -1\n",
		"malformed yaml": "rpcUrl: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, content))
			require.Error(t, err)
		})
	}
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestRequireServices(t *testing.T) {
	cfg := DefaultConfig()
	require.ErrorContains(t, cfg.RequireLedger(), "rpcUrl")
	cfg.RpcUrl = "https://rpc.example"
	require.ErrorContains(t, cfg.RequireLedger(), "contractAddress")
	cfg.ContractAddress = "0x00000000000000000000000000000000000c0de1"
	require.NoError(t, cfg.RequireLedger())
	require.ErrorContains(t, cfg.RequireServices(), "pinningUrl")
	cfg.PinningUrl = "https://pin.example/upload"
	require.ErrorContains(t, cfg.RequireServices(), "relayerUrl")
	cfg.RelayerUrl = "https://relayer.example"
	require.ErrorContains(t, cfg.RequireServices(), "keyFile")
	cfg.KeyFile = "key.json"
	require.NoError(t, cfg.RequireServices())

	dev := DefaultConfig()
	dev.RunMode = RunModeDev
	require.NoError(t, dev.RequireServices())
}

func TestContextCarrier(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), cfg)
	assert.Same(t, cfg, FromContext(ctx))
}
