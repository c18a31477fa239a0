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

package fhemock

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/blinklabs-io/privabuild/fhe"
	"github.com/blinklabs-io/privabuild/fhe/relayer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Handler serves the relayer HTTP API backed by the co-processor
func (c *CoProcessor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+relayer.KeyURLPath, c.handleKeyURL)
	mux.HandleFunc("POST "+relayer.InputProofPath, c.handleInputProof)
	mux.HandleFunc("POST "+relayer.UserDecryptPath, c.handleUserDecrypt)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, fhe.ErrRelayerUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, fhe.ErrAuthorizationDenied):
		status = http.StatusForbidden
	}
	writeJSON(w, status, relayer.ErrorResponse{Message: err.Error()})
}

func (c *CoProcessor) handleKeyURL(w http.ResponseWriter, r *http.Request) {
	params, err := c.FetchParams(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, relayer.KeyURLResponse{
		Response: relayer.NetworkInfo{
			PublicKey:         hexutil.Encode(params.PublicKey[:]),
			ChainID:           params.ChainID.String(),
			VerifyingContract: params.VerifyingContract.Hex(),
		},
	})
}

func (c *CoProcessor) handleInputProof(w http.ResponseWriter, r *http.Request) {
	var body relayer.InputProofRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err)
		return
	}
	if !common.IsHexAddress(body.ContractAddress) ||
		!common.IsHexAddress(body.UserAddress) {
		writeError(w, errors.New("invalid address"))
		return
	}
	req := &fhe.InputProofRequest{
		Contract:    common.HexToAddress(body.ContractAddress),
		User:        common.HexToAddress(body.UserAddress),
		Ciphertexts: make([][]byte, 0, len(body.Ciphertexts)),
	}
	if body.ContractChainID != "" {
		chainID, ok := new(big.Int).SetString(body.ContractChainID, 10)
		if !ok {
			writeError(w, errors.New("invalid chain id"))
			return
		}
		req.ChainID = chainID
	}
	for _, ct := range body.Ciphertexts {
		raw, err := hexutil.Decode(ct)
		if err != nil {
			writeError(w, err)
			return
		}
		req.Ciphertexts = append(req.Ciphertexts, raw)
	}
	res, err := c.InputProof(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := relayer.InputProofResponse{
		Response: relayer.InputProofResult{
			Handles:    make([]string, 0, len(res.Handles)),
			InputProof: hexutil.Encode(res.InputProof),
		},
	}
	for _, h := range res.Handles {
		resp.Response.Handles = append(resp.Response.Handles, h.Hex())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *CoProcessor) handleUserDecrypt(w http.ResponseWriter, r *http.Request) {
	var body relayer.UserDecryptRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err)
		return
	}
	req, err := relayer.ParseUserDecryptRequest(body)
	if err != nil {
		writeError(w, err)
		return
	}
	sealed, err := c.UserDecrypt(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := relayer.UserDecryptResponse{
		Response: make([]relayer.UserDecryptResult, 0, len(sealed)),
	}
	for _, h := range req.Handles {
		resp.Response = append(resp.Response, relayer.UserDecryptResult{
			Handle:  h.Hex(),
			Payload: hexutil.Encode(sealed[h]),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
