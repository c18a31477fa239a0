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

package fhe

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// InitTimeout bounds one shared initialization attempt
const InitTimeout = 60 * time.Second

// Provider lazily initializes an Instance at most once. Concurrent callers
// share the first attempt. A failed attempt is not remembered, so the next
// call tries again.
type Provider struct {
	mu       sync.Mutex
	group    singleflight.Group
	instance *Instance
	backend  Backend
	rand     io.Reader
	logger   *slog.Logger
}

// ProviderOption configures a Provider
type ProviderOption func(*Provider)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithEntropySource replaces the secure random source
func WithEntropySource(r io.Reader) ProviderOption {
	return func(p *Provider) {
		if r != nil {
			p.rand = r
		}
	}
}

// NewProvider returns a provider for backend
func NewProvider(backend Backend, opts ...ProviderOption) *Provider {
	p := &Provider{
		backend: backend,
		rand:    rand.Reader,
		logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "fhe")
	return p
}

// Instance returns the initialized capability, initializing it if needed.
// The shared attempt is not tied to any one caller: a caller whose ctx ends
// gets ctx.Err() while the attempt continues for the others.
func (p *Provider) Instance(ctx context.Context) (*Instance, error) {
	p.mu.Lock()
	inst := p.instance
	p.mu.Unlock()
	if inst != nil {
		return inst, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := p.group.DoChan("init", func() (any, error) {
		p.mu.Lock()
		if p.instance != nil {
			inst := p.instance
			p.mu.Unlock()
			return inst, nil
		}
		p.mu.Unlock()
		initCtx, cancel := context.WithTimeout(
			context.WithoutCancel(ctx),
			InitTimeout,
		)
		defer cancel()
		inst, err := p.initialize(initCtx)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.instance = inst
		p.mu.Unlock()
		return inst, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			p.logger.Warn(
				"client initialization failed",
				"error", res.Err,
				"shared", res.Shared,
			)
			return nil, res.Err
		}
		return res.Val.(*Instance), nil
	}
}

func (p *Provider) initialize(ctx context.Context) (*Instance, error) {
	if p.backend == nil {
		return nil, fmt.Errorf("%w: no backend configured", ErrInitialization)
	}
	var sample [32]byte
	if _, err := io.ReadFull(p.rand, sample[:]); err != nil {
		return nil, fmt.Errorf(
			"%w: secure random source unavailable: %w",
			ErrInitialization,
			err,
		)
	}
	params, err := p.backend.FetchParams(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, ErrRelayerUnavailable) ||
			errors.Is(err, ErrInitialization) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	if params == nil || params.PublicKey == [32]byte{} {
		return nil, fmt.Errorf("%w: network public key missing", ErrInitialization)
	}
	if params.ChainID == nil || params.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: invalid chain id", ErrInitialization)
	}
	p.logger.Info(
		"client initialized",
		"chain_id", params.ChainID.String(),
		"verifying_contract", params.VerifyingContract.Hex(),
	)
	return &Instance{
		backend: p.backend,
		params:  *params,
		rand:    p.rand,
	}, nil
}

// Initialized reports whether an instance is cached
func (p *Provider) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.instance != nil
}

// Reset drops the cached instance so the next call initializes again
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instance = nil
}
