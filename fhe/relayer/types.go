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

package relayer

// Endpoint paths
const (
	KeyURLPath      = "/v1/keyurl"
	InputProofPath  = "/v1/input-proof"
	UserDecryptPath = "/v1/user-decrypt"
)

// KeyURLResponse is the body of GET /v1/keyurl
type KeyURLResponse struct {
	Response NetworkInfo `json:"response"`
}

// NetworkInfo carries the network public key and signing parameters. Byte
// values are 0x-prefixed hex; integers are decimal strings.
type NetworkInfo struct {
	PublicKey         string `json:"publicKey"`
	ChainID           string `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// InputProofRequest is the body of POST /v1/input-proof
type InputProofRequest struct {
	ContractAddress string   `json:"contractAddress"`
	UserAddress     string   `json:"userAddress"`
	ContractChainID string   `json:"contractChainId"`
	Ciphertexts     []string `json:"ciphertexts"`
}

// InputProofResponse is the answer to POST /v1/input-proof
type InputProofResponse struct {
	Response InputProofResult `json:"response"`
}

// InputProofResult holds the handles and the proof covering them
type InputProofResult struct {
	Handles    []string `json:"handles"`
	InputProof string   `json:"inputProof"`
}

// RequestValidity is the authorization window of a decryption request
type RequestValidity struct {
	StartTimestamp string `json:"startTimestamp"`
	DurationDays   string `json:"durationDays"`
}

// HandleContractPair names a handle and the contract holding it
type HandleContractPair struct {
	Handle          string `json:"handle"`
	ContractAddress string `json:"contractAddress"`
}

// UserDecryptRequest is the body of POST /v1/user-decrypt
type UserDecryptRequest struct {
	HandleContractPairs []HandleContractPair `json:"handleContractPairs"`
	RequestValidity     RequestValidity      `json:"requestValidity"`
	ContractAddresses   []string             `json:"contractAddresses"`
	UserAddress         string               `json:"userAddress"`
	PublicKey           string               `json:"publicKey"`
	Signature           string               `json:"signature"`
}

// UserDecryptResponse is the answer to POST /v1/user-decrypt
type UserDecryptResponse struct {
	Response []UserDecryptResult `json:"response"`
}

// UserDecryptResult is one plaintext sealed to the request public key
type UserDecryptResult struct {
	Handle  string `json:"handle"`
	Payload string `json:"payload"`
}

// ErrorResponse is returned with any non-2xx status
type ErrorResponse struct {
	Message string `json:"message"`
}
