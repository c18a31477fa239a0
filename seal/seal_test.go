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

package seal

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy unavailable")
}

func TestSealOpenRoundTrip(t *testing.T) {
	payload, err := Payload{
		Website:    "https://x.io",
		Repository: "https://github.com/x/y",
	}.Encode()
	require.NoError(t, err)

	ct, key, nonce, err := Seal(payload)
	require.NoError(t, err)
	assert.NotEqual(t, payload, ct)

	opened, err := Open(ct, key, nonce)
	require.NoError(t, err)
	assert.Equal(t, payload, opened)

	decoded, err := DecodePayload(opened)
	require.NoError(t, err)
	assert.Equal(t, "https://x.io", decoded.Website)
	assert.Equal(t, "https://github.com/x/y", decoded.Repository)
	assert.Empty(t, decoded.Video)
}

func TestSealFreshKeys(t *testing.T) {
	payload := []byte("same payload")
	ct1, k1, n1, err := Seal(payload)
	require.NoError(t, err)
	ct2, k2, n2, err := Seal(payload)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, n1, n2)
	assert.NotEqual(t, ct1, ct2)
}

func TestSealEntropyFailure(t *testing.T) {
	orig := randReader
	randReader = failingReader{}
	t.Cleanup(func() { randReader = orig })

	_, key, nonce, err := Seal([]byte("x"))
	require.Error(t, err)
	assert.Equal(t, Key{}, key)
	assert.Equal(t, Nonce{}, nonce)
}

func TestOpenWrongKey(t *testing.T) {
	ct, key, nonce, err := Seal([]byte("secret"))
	require.NoError(t, err)
	key[0] ^= 0xff
	_, err = Open(ct, key, nonce)
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestOpenWrongNonce(t *testing.T) {
	ct, key, nonce, err := Seal([]byte("secret"))
	require.NoError(t, err)
	nonce[NonceSize-1] ^= 0x01
	_, err = Open(ct, key, nonce)
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestOpenShortCiphertext(t *testing.T) {
	_, err := Open([]byte{1, 2, 3}, Key{}, Nonce{})
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"website":"https://x.io","github":"https://github.com/x/y","video":""}`)
	ct, key, nonce, err := Seal(payload)
	require.NoError(t, err)
	hash := Hash(ct)

	assert.True(t, Verify(payload, hash, key, nonce))
	assert.False(t, Verify(append([]byte{}, payload[1:]...), hash, key, nonce))
	other := key
	other[3] ^= 0x10
	assert.False(t, Verify(payload, hash, other, nonce))
}

func TestSealWithDeterministic(t *testing.T) {
	var key Key
	var nonce Nonce
	for i := range key {
		key[i] = byte(i)
	}
	for i := range nonce {
		nonce[i] = byte(0xA0 + i)
	}
	a := SealWith([]byte("payload"), key, nonce)
	b := SealWith([]byte("payload"), key, nonce)
	assert.Equal(t, a, b)
	assert.Equal(t, Hash(a), Hash(b))
}

func TestScalarPreservesLeadingZeros(t *testing.T) {
	var key Key
	key[KeySize-1] = 0x2a
	assert.Equal(t, int64(42), key.Scalar().Int64())
	key.Zero()
	assert.Equal(t, Key{}, key)

	var nonce Nonce
	nonce[0] = 0x01
	assert.Equal(t, NonceSize*8-7, nonce.Scalar().BitLen())
}

func TestPayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{
			name:    "complete",
			payload: Payload{Website: "https://a", Repository: "https://b", Video: "https://c"},
		},
		{
			name:    "no video",
			payload: Payload{Website: "https://a", Repository: "https://b"},
		},
		{
			name:    "missing website",
			payload: Payload{Repository: "https://b"},
			wantErr: true,
		},
		{
			name:    "blank repository",
			payload: Payload{Website: "https://a", Repository: "   "},
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.payload.Validate()
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestPayloadWireNames(t *testing.T) {
	data, err := Payload{
		Website:    "https://a",
		Repository: "https://b",
	}.Encode()
	require.NoError(t, err)
	assert.JSONEq(
		t,
		`{"website":"https://a","github":"https://b","video":""}`,
		string(data),
	)
}

func TestRapidRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 0, 4096).Draw(t, "payload")
		ct, key, nonce, err := Seal(payload)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		opened, err := Open(ct, key, nonce)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if !bytes.Equal(payload, opened) {
			t.Fatalf("round trip mismatch")
		}
		if !Verify(payload, Hash(ct), key, nonce) {
			t.Fatalf("verify failed for untouched payload")
		}
	})
}

func TestRapidTamperDetection(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 1, 1024).Draw(t, "payload")
		ct, key, nonce, err := Seal(payload)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		idx := rapid.IntRange(0, len(ct)-1).Draw(t, "index")
		bit := rapid.IntRange(0, 7).Draw(t, "bit")
		tampered := bytes.Clone(ct)
		tampered[idx] ^= 1 << bit
		if _, err := Open(tampered, key, nonce); !errors.Is(err, ErrIntegrity) {
			t.Fatalf("expected integrity error, got %v", err)
		}
	})
}
