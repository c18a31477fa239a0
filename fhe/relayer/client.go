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

// Package relayer is an HTTP client for the relayer that fronts the
// homomorphic encryption network. It implements fhe.Backend.
package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/blinklabs-io/privabuild/fhe"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

const (
	defaultTimeout   = 60 * time.Second
	errorBodyLimit   = 1024
	maxResponseBytes = 10 << 20
)

// Client talks to a relayer over HTTP
type Client struct {
	baseURL        string
	httpClient     *http.Client
	logger         *slog.Logger
	requestTimeout time.Duration
}

// ClientOption is a functional option for configuring a Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom *http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRequestTimeout bounds parameter and input proof requests. User
// decryption is bounded only by the caller's context.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a relayer client for baseURL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{},
		logger:         slog.New(slog.NewJSONHandler(io.Discard, nil)),
		requestTimeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "relayer")
	return c
}

// statusError is a non-2xx relayer answer
type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("relayer returned status %d: %s", e.status, e.message)
}

// do sends one request. A positive timeout bounds it on top of ctx, and
// expiry of that bound alone counts as the relayer being unavailable.
func (c *Client) do(
	ctx context.Context,
	timeout time.Duration,
	method string,
	path string,
	in any,
	out any,
) error {
	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.logger.Debug("relayer request", "request_id", requestID, "path", path)
	resp, err := c.httpClient.Do(req) //nolint:gosec // relayer URL comes from operator configuration
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("relayer %s: %w", path, ctxErr)
		}
		if reqCtx.Err() != nil {
			return fmt.Errorf("%w: %s timed out after %s", fhe.ErrRelayerUnavailable, path, timeout)
		}
		return fmt.Errorf("%w: %w", fhe.ErrRelayerUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		msg := strings.TrimSpace(string(raw))
		var parsed ErrorResponse
		if json.Unmarshal(raw, &parsed) == nil && parsed.Message != "" {
			msg = parsed.Message
		}
		c.logger.Debug(
			"relayer error",
			"request_id", requestID,
			"path", path,
			"status", resp.StatusCode,
		)
		return &statusError{status: resp.StatusCode, message: msg}
	}
	if err := json.NewDecoder(
		io.LimitReader(resp.Body, maxResponseBytes),
	).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("relayer %s: %w", path, ctxErr)
		}
		if reqCtx.Err() != nil {
			return fmt.Errorf("%w: %s timed out after %s", fhe.ErrRelayerUnavailable, path, timeout)
		}
		return fmt.Errorf("%w: %w", fhe.ErrMalformedResponse, err)
	}
	return nil
}

func isUnavailable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500 || se.status == http.StatusTooManyRequests
	}
	return false
}

// FetchParams retrieves the network public key and signing parameters
func (c *Client) FetchParams(ctx context.Context) (*fhe.NetworkParams, error) {
	var resp KeyURLResponse
	if err := c.do(ctx, c.requestTimeout, http.MethodGet, KeyURLPath, nil, &resp); err != nil {
		if isUnavailable(err) {
			return nil, fmt.Errorf("%w: %w", fhe.ErrRelayerUnavailable, err)
		}
		return nil, fmt.Errorf("fetching network parameters: %w", err)
	}
	return ParseNetworkInfo(resp.Response)
}

// ParseNetworkInfo converts wire parameters to fhe.NetworkParams
func ParseNetworkInfo(info NetworkInfo) (*fhe.NetworkParams, error) {
	pub, err := hexutil.Decode(info.PublicKey)
	if err != nil || len(pub) != 32 {
		return nil, fmt.Errorf("%w: invalid public key", fhe.ErrMalformedResponse)
	}
	chainID, ok := new(big.Int).SetString(info.ChainID, 10)
	if !ok {
		return nil, fmt.Errorf("%w: invalid chain id %q", fhe.ErrMalformedResponse, info.ChainID)
	}
	if !common.IsHexAddress(info.VerifyingContract) {
		return nil, fmt.Errorf(
			"%w: invalid verifying contract %q",
			fhe.ErrMalformedResponse,
			info.VerifyingContract,
		)
	}
	return &fhe.NetworkParams{
		PublicKey:         [32]byte(pub),
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(info.VerifyingContract),
	}, nil
}

// InputProof registers encrypted values and returns their handles
func (c *Client) InputProof(
	ctx context.Context,
	req *fhe.InputProofRequest,
) (*fhe.EncryptedInput, error) {
	body := InputProofRequest{
		ContractAddress: req.Contract.Hex(),
		UserAddress:     req.User.Hex(),
		Ciphertexts:     make([]string, 0, len(req.Ciphertexts)),
	}
	if req.ChainID != nil {
		body.ContractChainID = req.ChainID.String()
	}
	for _, ct := range req.Ciphertexts {
		body.Ciphertexts = append(body.Ciphertexts, hexutil.Encode(ct))
	}
	var resp InputProofResponse
	if err := c.do(ctx, c.requestTimeout, http.MethodPost, InputProofPath, body, &resp); err != nil {
		if isUnavailable(err) {
			return nil, fmt.Errorf("%w: %w", fhe.ErrRelayerUnavailable, err)
		}
		if errors.Is(err, fhe.ErrRelayerUnavailable) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", fhe.ErrEncryption, err)
	}
	ret := &fhe.EncryptedInput{
		Handles: make([]fhe.Handle, 0, len(resp.Response.Handles)),
	}
	for _, h := range resp.Response.Handles {
		handle, err := fhe.ParseHandle(h)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", fhe.ErrMalformedResponse, err)
		}
		ret.Handles = append(ret.Handles, handle)
	}
	proof, err := hexutil.Decode(resp.Response.InputProof)
	if err != nil {
		return nil, fmt.Errorf("%w: input proof: %w", fhe.ErrMalformedResponse, err)
	}
	ret.InputProof = proof
	return ret, nil
}

// NewUserDecryptRequest converts a decryption request to its wire form
func NewUserDecryptRequest(req *fhe.DecryptionRequest) UserDecryptRequest {
	body := UserDecryptRequest{
		HandleContractPairs: make([]HandleContractPair, 0, len(req.Handles)),
		RequestValidity: RequestValidity{
			StartTimestamp: strconv.FormatInt(req.StartTimestamp, 10),
			DurationDays:   strconv.FormatInt(req.DurationDays, 10),
		},
		ContractAddresses: make([]string, 0, len(req.ContractAddresses)),
		UserAddress:       req.User.Hex(),
		PublicKey:         hexutil.Encode(req.PublicKey[:]),
		Signature:         hexutil.Encode(req.Signature),
	}
	for _, h := range req.Handles {
		body.HandleContractPairs = append(body.HandleContractPairs, HandleContractPair{
			Handle:          h.Hex(),
			ContractAddress: req.Contract.Hex(),
		})
	}
	for _, a := range req.ContractAddresses {
		body.ContractAddresses = append(body.ContractAddresses, a.Hex())
	}
	return body
}

// UserDecrypt requests re-encryption of handles to the request public key
func (c *Client) UserDecrypt(
	ctx context.Context,
	req *fhe.DecryptionRequest,
) (map[fhe.Handle][]byte, error) {
	var resp UserDecryptResponse
	err := c.do(
		ctx,
		0,
		http.MethodPost,
		UserDecryptPath,
		NewUserDecryptRequest(req),
		&resp,
	)
	if err != nil {
		var se *statusError
		switch {
		case errors.As(err, &se) && se.status == http.StatusForbidden:
			return nil, fmt.Errorf("%w: %s", fhe.ErrAuthorizationDenied, se.message)
		case isUnavailable(err):
			return nil, fmt.Errorf("%w: %w", fhe.ErrRelayerUnavailable, err)
		}
		return nil, fmt.Errorf("user decrypt: %w", err)
	}
	ret := make(map[fhe.Handle][]byte, len(resp.Response))
	for _, r := range resp.Response {
		handle, err := fhe.ParseHandle(r.Handle)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", fhe.ErrMalformedResponse, err)
		}
		payload, err := hexutil.Decode(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: payload: %w", fhe.ErrMalformedResponse, err)
		}
		ret[handle] = payload
	}
	return ret, nil
}

// ParseUserDecryptRequest converts a wire request back to a
// fhe.DecryptionRequest. Every pair must name the same contract.
func ParseUserDecryptRequest(body UserDecryptRequest) (*fhe.DecryptionRequest, error) {
	ret := &fhe.DecryptionRequest{
		Handles:           make([]fhe.Handle, 0, len(body.HandleContractPairs)),
		ContractAddresses: make([]common.Address, 0, len(body.ContractAddresses)),
	}
	for i, pair := range body.HandleContractPairs {
		h, err := fhe.ParseHandle(pair.Handle)
		if err != nil {
			return nil, err
		}
		if !common.IsHexAddress(pair.ContractAddress) {
			return nil, fmt.Errorf("invalid contract address %q", pair.ContractAddress)
		}
		contract := common.HexToAddress(pair.ContractAddress)
		if i == 0 {
			ret.Contract = contract
		} else if contract != ret.Contract {
			return nil, errors.New("handles must belong to a single contract")
		}
		ret.Handles = append(ret.Handles, h)
	}
	for _, a := range body.ContractAddresses {
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("invalid contract address %q", a)
		}
		ret.ContractAddresses = append(ret.ContractAddresses, common.HexToAddress(a))
	}
	if !common.IsHexAddress(body.UserAddress) {
		return nil, fmt.Errorf("invalid user address %q", body.UserAddress)
	}
	ret.User = common.HexToAddress(body.UserAddress)
	pub, err := hexutil.Decode(body.PublicKey)
	if err != nil || len(pub) != 32 {
		return nil, errors.New("invalid public key")
	}
	ret.PublicKey = [32]byte(pub)
	sig, err := hexutil.Decode(body.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}
	ret.Signature = sig
	if ret.StartTimestamp, err = strconv.ParseInt(body.RequestValidity.StartTimestamp, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid start timestamp: %w", err)
	}
	if ret.DurationDays, err = strconv.ParseInt(body.RequestValidity.DurationDays, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid duration: %w", err)
	}
	return ret, nil
}
