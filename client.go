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

// Package privabuild seals confidential project submissions, records a
// commitment to them on a registry contract and discloses them again to
// authorized reviewers.
package privabuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/blinklabs-io/privabuild/commitment"
	"github.com/blinklabs-io/privabuild/disclosure"
	"github.com/blinklabs-io/privabuild/event"
	"github.com/blinklabs-io/privabuild/fhe"
	"github.com/blinklabs-io/privabuild/keycache"
	"github.com/blinklabs-io/privabuild/ledger"
	"github.com/blinklabs-io/privabuild/seal"
	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Client runs the sealing and disclosure pipelines. It holds no state
// between calls other than the set of disclosures in flight.
type Client struct {
	config   Config
	logger   *slog.Logger
	encoder  *commitment.Encoder
	metrics  *pipelineMetrics
	mu       sync.Mutex
	sessions map[ledger.SubmissionID]context.CancelFunc
}

// New creates a client from cfg
func New(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	c := &Client{
		config:   cfg,
		logger:   cfg.logger.With("component", "privabuild"),
		encoder:  commitment.NewEncoder(cfg.fhe),
		sessions: make(map[ledger.SubmissionID]context.CancelFunc),
	}
	if cfg.promRegistry != nil {
		c.metrics = newPipelineMetrics(cfg.promRegistry)
	}
	return c, nil
}

// Address returns the signer's address
func (c *Client) Address() common.Address {
	return c.config.signer.Address()
}

// SealRequest is the input of the sealing pipeline
type SealRequest struct {
	// Name is the public builder name recorded on the ledger
	Name    string
	Payload seal.Payload
	// Reviewer is granted access at creation. Empty means no reviewer.
	Reviewer string
}

// SealResult describes a recorded submission
type SealResult struct {
	ID   ledger.SubmissionID
	CID  string
	Hash common.Hash
	Size int64
	// Cached reports whether the key material was written to the key cache
	Cached bool
}

// DiscloseOptions tunes a disclosure
type DiscloseOptions struct {
	// UseCache takes the seal key and nonce from the local key cache when
	// present. The commitment hash is still decrypted and checked.
	UseCache bool
}

// DiscloseResult is a verified, opened submission
type DiscloseResult struct {
	ID        ledger.SubmissionID
	Meta      ledger.SubmissionMeta
	Payload   seal.Payload
	Hash      common.Hash
	FromCache bool
}

func parseAddress(field string, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") || !common.IsHexAddress(s) {
		return common.Address{}, invalid(field, "must be 0x followed by 40 hex characters")
	}
	return common.HexToAddress(s), nil
}

func parseID(s string) (ledger.SubmissionID, error) {
	id, err := ledger.ParseSubmissionID(strings.TrimSpace(s))
	if err != nil {
		return ledger.SubmissionID{}, invalid("submission id", "must be 0x followed by 64 hex characters")
	}
	return id, nil
}

func validateSealRequest(req *SealRequest) (common.Address, error) {
	if req == nil {
		return common.Address{}, invalid("request", "is empty")
	}
	if strings.TrimSpace(req.Name) == "" {
		return common.Address{}, invalid("name", "is required")
	}
	if strings.TrimSpace(req.Payload.Website) == "" {
		return common.Address{}, invalid("website", "is required")
	}
	if strings.TrimSpace(req.Payload.Repository) == "" {
		return common.Address{}, invalid("repository", "is required")
	}
	if strings.TrimSpace(req.Reviewer) == "" {
		return common.Address{}, nil
	}
	return parseAddress("reviewer address", req.Reviewer)
}

// Seal encrypts the payload, pins the ciphertext, commits to it on the
// ledger and returns the new submission id. A failure after the upload
// leaves an orphaned blob in storage and nothing on the ledger.
func (c *Client) Seal(ctx context.Context, req *SealRequest) (res *SealResult, err error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "privabuild.Seal")
	defer func() {
		endSpan(span, err)
		if c.metrics != nil {
			c.metrics.sealAttempts.WithLabelValues(outcome(err)).Inc()
			c.metrics.sealDuration.Observe(time.Since(start).Seconds())
		}
	}()

	reviewer, err := validateSealRequest(req)
	if err != nil {
		return nil, err
	}
	plain, err := req.Payload.Encode()
	if err != nil {
		return nil, err
	}
	blob, key, nonce, err := seal.Seal(plain)
	clear(plain)
	if err != nil {
		return nil, fmt.Errorf("seal payload: %w", err)
	}
	defer key.Zero()
	defer nonce.Zero()

	submitter := c.config.signer.Address()
	upload, err := c.config.storage.Upload(ctx, blob, map[string]string{
		"builder":   submitter.Hex(),
		"timestamp": c.config.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.bytesUploaded.Add(float64(len(blob)))
	}
	span.SetAttributes(attribute.String("cid", upload.CID))

	commit, err := c.encoder.CommitSealed(
		ctx,
		blob,
		key,
		nonce,
		c.config.ledger.Address(),
		submitter,
	)
	if err != nil {
		return nil, err
	}
	id, err := c.config.ledger.Submit(ctx, &ledger.SubmitRequest{
		Name:        strings.TrimSpace(req.Name),
		CID:         upload.CID,
		HashHandle:  commit.HashHandle,
		KeyHandle:   commit.KeyHandle,
		NonceHandle: commit.NonceHandle,
		InputProof:  commit.InputProof,
		Reviewer:    reviewer,
	})
	if err != nil {
		return nil, err
	}
	res = &SealResult{
		ID:   id,
		CID:  upload.CID,
		Hash: commit.Hash,
		Size: upload.Size,
	}
	if c.config.keyCache != nil {
		if cacheErr := c.config.keyCache.Put(id, key, nonce); cacheErr != nil {
			c.logger.Warn(
				"failed to cache key material",
				"id", id.Hex(),
				"error", cacheErr,
			)
		} else {
			res.Cached = true
		}
	}
	c.logger.Info(
		"submission sealed",
		"id", id.Hex(),
		"cid", upload.CID,
		"size", len(blob),
	)
	if c.config.eventBus != nil {
		c.config.eventBus.Publish(event.New(
			event.SubmissionSealedEventType,
			event.SubmissionSealedEvent{
				ID:      id,
				Builder: submitter,
				Name:    strings.TrimSpace(req.Name),
				CID:     upload.CID,
				Cached:  res.Cached,
			},
		))
	}
	return res, nil
}

func (c *Client) beginSession(
	ctx context.Context,
	id ledger.SubmissionID,
) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionInProgress, id.Hex())
	}
	ctx, cancel := context.WithCancel(ctx)
	c.sessions[id] = cancel
	if c.metrics != nil {
		c.metrics.activeSessions.Inc()
	}
	return ctx, nil
}

func (c *Client) endSession(id ledger.SubmissionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.sessions[id]; ok {
		cancel()
		delete(c.sessions, id)
		if c.metrics != nil {
			c.metrics.activeSessions.Dec()
		}
	}
}

// CancelDisclosure aborts the disclosure of id running on this client. Any
// late decryption result is discarded. It reports whether a disclosure was
// running.
func (c *Client) CancelDisclosure(id ledger.SubmissionID) bool {
	c.mu.Lock()
	cancel, ok := c.sessions[id]
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Disclose decrypts the seal key material of a submission under a fresh
// authorization signed by the client's signer, downloads the sealed blob,
// checks it against the on-chain commitment and opens it. Only one
// disclosure per submission may run at a time.
func (c *Client) Disclose(
	ctx context.Context,
	id string,
	opts DiscloseOptions,
) (res *DiscloseResult, err error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "privabuild.Disclose")
	defer func() {
		endSpan(span, err)
		if c.metrics != nil {
			c.metrics.discloseAttempts.WithLabelValues(outcome(err)).Inc()
			c.metrics.discloseDuration.Observe(time.Since(start).Seconds())
		}
	}()

	subID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("submission", subID.Hex()))
	ctx, err = c.beginSession(ctx, subID)
	if err != nil {
		return nil, err
	}
	defer c.endSession(subID)

	meta, err := c.config.ledger.GetSubmissionMeta(ctx, subID)
	if err != nil {
		return nil, fmt.Errorf("read submission: %w", err)
	}
	hashHandle, err := c.config.ledger.GetEncryptedHashHandle(ctx, subID)
	if err != nil {
		return nil, fmt.Errorf("read hash handle: %w", err)
	}
	handles := []fhe.Handle{hashHandle}

	var key seal.Key
	var nonce seal.Nonce
	defer key.Zero()
	defer nonce.Zero()
	fromCache := false
	if opts.UseCache && c.config.keyCache != nil {
		entry, cacheErr := c.config.keyCache.Get(subID)
		switch {
		case cacheErr == nil:
			key, nonce = entry.Key, entry.Nonce
			fromCache = true
		case errors.Is(cacheErr, keycache.ErrNotFound):
		default:
			c.logger.Warn("key cache lookup failed", "id", subID.Hex(), "error", cacheErr)
		}
	}
	var keyHandle, nonceHandle fhe.Handle
	if !fromCache {
		if keyHandle, nonceHandle, err = c.keyHandles(ctx, subID); err != nil {
			return nil, err
		}
		handles = append(handles, keyHandle, nonceHandle)
	}

	plain, err := c.decrypt(ctx, handles)
	if err != nil {
		return nil, err
	}
	hash, err := disclosure.HashFromScalar(plain[hashHandle])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", disclosure.ErrFailed, err)
	}
	if !fromCache {
		if key, nonce, err = keyMaterial(plain, keyHandle, nonceHandle); err != nil {
			return nil, err
		}
	}

	blob, err := c.config.storage.Download(ctx, meta.CID)
	if err != nil {
		return nil, err
	}
	if seal.Hash(blob) != hash {
		return nil, ErrCommitmentMismatch
	}
	data, err := seal.Open(blob, key, nonce)
	if err != nil && fromCache && errors.Is(err, seal.ErrIntegrity) {
		// The blob matches the commitment, so the cached key material is stale
		c.logger.Warn(
			"cached key material does not open the submission, using the ledger",
			"id", subID.Hex(),
		)
		key.Zero()
		nonce.Zero()
		fromCache = false
		if key, nonce, err = c.ledgerKeyMaterial(ctx, subID); err != nil {
			return nil, err
		}
		if putErr := c.config.keyCache.Put(subID, key, nonce); putErr != nil {
			c.logger.Warn("key cache update failed", "id", subID.Hex(), "error", putErr)
		}
		data, err = seal.Open(blob, key, nonce)
	}
	if err != nil {
		return nil, err
	}
	payload, err := seal.DecodePayload(data)
	clear(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", seal.ErrIntegrity, err)
	}

	c.logger.Info(
		"submission disclosed",
		"id", subID.Hex(),
		"from_cache", fromCache,
	)
	if c.config.eventBus != nil {
		c.config.eventBus.Publish(event.New(
			event.DisclosureCompletedEventType,
			event.DisclosureCompletedEvent{
				ID:        subID,
				Reviewer:  c.config.signer.Address(),
				Verified:  true,
				FromCache: fromCache,
			},
		))
	}
	return &DiscloseResult{
		ID:        subID,
		Meta:      *meta,
		Payload:   *payload,
		Hash:      hash,
		FromCache: fromCache,
	}, nil
}

func (c *Client) keyHandles(
	ctx context.Context,
	subID ledger.SubmissionID,
) (fhe.Handle, fhe.Handle, error) {
	keyHandle, err := c.config.ledger.GetEncryptedKeyHandle(ctx, subID)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, fmt.Errorf("read key handle: %w", err)
	}
	nonceHandle, err := c.config.ledger.GetEncryptedNonceHandle(ctx, subID)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, fmt.Errorf("read nonce handle: %w", err)
	}
	return keyHandle, nonceHandle, nil
}

func keyMaterial(
	plain map[fhe.Handle]*big.Int,
	keyHandle fhe.Handle,
	nonceHandle fhe.Handle,
) (seal.Key, seal.Nonce, error) {
	key, err := disclosure.KeyFromScalar(plain[keyHandle])
	if err != nil {
		return seal.Key{}, seal.Nonce{}, fmt.Errorf("%w: %w", disclosure.ErrFailed, err)
	}
	nonce, err := disclosure.NonceFromScalar(plain[nonceHandle])
	if err != nil {
		key.Zero()
		return seal.Key{}, seal.Nonce{}, fmt.Errorf("%w: %w", disclosure.ErrFailed, err)
	}
	return key, nonce, nil
}

// ledgerKeyMaterial decrypts the on-chain key and nonce handles of subID
func (c *Client) ledgerKeyMaterial(
	ctx context.Context,
	subID ledger.SubmissionID,
) (seal.Key, seal.Nonce, error) {
	keyHandle, nonceHandle, err := c.keyHandles(ctx, subID)
	if err != nil {
		return seal.Key{}, seal.Nonce{}, err
	}
	plain, err := c.decrypt(ctx, []fhe.Handle{keyHandle, nonceHandle})
	if err != nil {
		return seal.Key{}, seal.Nonce{}, err
	}
	return keyMaterial(plain, keyHandle, nonceHandle)
}

// decrypt runs one disclosure session over handles
func (c *Client) decrypt(
	ctx context.Context,
	handles []fhe.Handle,
) (map[fhe.Handle]*big.Int, error) {
	inst, err := c.config.fhe.Instance(ctx)
	if err != nil {
		return nil, err
	}
	session := disclosure.NewSession(
		inst,
		c.config.ledger.Address(),
		disclosure.WithTimeout(c.config.decryptionTimeout),
		disclosure.WithValidityDays(c.config.validityDays),
		disclosure.WithClock(c.config.now),
		disclosure.WithLogger(c.config.logger),
	)
	defer session.Close()
	if err := session.GenerateKeypair(); err != nil {
		return nil, err
	}
	if _, err := session.BuildAuthorizationRequest(); err != nil {
		return nil, err
	}
	if err := session.Sign(ctx, c.config.signer); err != nil {
		return nil, err
	}
	return session.RequestDecryption(ctx, handles)
}

func parseAccessRequest(id string, reviewer string) (ledger.SubmissionID, common.Address, error) {
	subID, err := parseID(id)
	if err != nil {
		return ledger.SubmissionID{}, common.Address{}, err
	}
	addr, err := parseAddress("reviewer address", reviewer)
	if err != nil {
		return ledger.SubmissionID{}, common.Address{}, err
	}
	if addr == (common.Address{}) {
		return ledger.SubmissionID{}, common.Address{}, invalid("reviewer address", "must not be the zero address")
	}
	return subID, addr, nil
}

// GrantAccess adds reviewer to the access list of submission id. Only the
// submission's owner can do this.
func (c *Client) GrantAccess(ctx context.Context, id string, reviewer string) error {
	subID, addr, err := parseAccessRequest(id, reviewer)
	if err != nil {
		return err
	}
	if err := c.config.ledger.GrantAccess(ctx, subID, addr); err != nil {
		return err
	}
	c.logger.Info("access granted", "id", subID.Hex(), "reviewer", addr.Hex())
	return nil
}

// RevokeAccess removes reviewer from the access list of submission id
func (c *Client) RevokeAccess(ctx context.Context, id string, reviewer string) error {
	subID, addr, err := parseAccessRequest(id, reviewer)
	if err != nil {
		return err
	}
	if err := c.config.ledger.RevokeAccess(ctx, subID, addr); err != nil {
		return err
	}
	c.logger.Info("access revoked", "id", subID.Hex(), "reviewer", addr.Hex())
	return nil
}
