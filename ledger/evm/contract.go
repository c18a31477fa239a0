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

// Package evm implements ledger.Ledger against a deployed registry
// contract over JSON-RPC.
package evm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"

	"github.com/blinklabs-io/privabuild/fhe"
	"github.com/blinklabs-io/privabuild/ledger"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
)

const (
	submissionCreatedEvent = "SubmissionCreated"
	watchBuffer            = 16
)

// Backend is what the contract binding needs from a node connection.
// *ethclient.Client implements it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
}

// Dial connects to a JSON-RPC endpoint
func Dial(ctx context.Context, rawURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	return client, nil
}

// Contract is a registry contract binding
type Contract struct {
	address    common.Address
	abi        abi.ABI
	bound      *bind.BoundContract
	backend    Backend
	transactor *bind.TransactOpts
	logger     *slog.Logger
}

// Option configures a Contract
type Option func(*Contract)

// WithTransactor enables writes signed by opts
func WithTransactor(opts *bind.TransactOpts) Option {
	return func(c *Contract) {
		c.transactor = opts
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Contract) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New binds the registry at address
func New(address common.Address, backend Backend, opts ...Option) (*Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(RegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	c := &Contract{
		address: address,
		abi:     parsed,
		bound:   bind.NewBoundContract(address, parsed, backend, backend, backend),
		backend: backend,
		logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "ledger", "contract", address.Hex())
	return c, nil
}

// Address returns the contract address
func (c *Contract) Address() common.Address {
	return c.address
}

// BlockNumber returns the latest block number
func (c *Contract) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return n, nil
}

func (c *Contract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	var out []any
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

// GetSubmissionMeta reads the canonical record for id
func (c *Contract) GetSubmissionMeta(
	ctx context.Context,
	id ledger.SubmissionID,
) (*ledger.SubmissionMeta, error) {
	out, err := c.call(ctx, "getSubmissionMeta", [32]byte(id))
	if err != nil {
		return nil, err
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("getSubmissionMeta: expected 4 outputs, got %d", len(out))
	}
	name, _ := out[0].(string)
	cid, _ := out[1].(string)
	ts, _ := out[2].(*big.Int)
	builder, _ := out[3].(common.Address)
	if builder == (common.Address{}) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, id.Hex())
	}
	meta := &ledger.SubmissionMeta{
		Name:    name,
		CID:     cid,
		Builder: builder,
	}
	if ts != nil {
		meta.Timestamp = ts.Uint64()
	}
	return meta, nil
}

// GetAllSubmissionIDs lists every submission id in creation order
func (c *Contract) GetAllSubmissionIDs(ctx context.Context) ([]ledger.SubmissionID, error) {
	out, err := c.call(ctx, "getAllSubmissionIds")
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("getAllSubmissionIds: expected 1 output, got %d", len(out))
	}
	raw, ok := out[0].([][32]byte)
	if !ok {
		return nil, fmt.Errorf("getAllSubmissionIds: unexpected output type %T", out[0])
	}
	ret := make([]ledger.SubmissionID, 0, len(raw))
	for _, id := range raw {
		ret = append(ret, ledger.SubmissionID(id))
	}
	return ret, nil
}

func (c *Contract) handle(
	ctx context.Context,
	method string,
	id ledger.SubmissionID,
) (fhe.Handle, error) {
	out, err := c.call(ctx, method, [32]byte(id))
	if err != nil {
		return fhe.Handle{}, err
	}
	if len(out) != 1 {
		return fhe.Handle{}, fmt.Errorf("%s: expected 1 output, got %d", method, len(out))
	}
	raw, ok := out[0].([32]byte)
	if !ok {
		return fhe.Handle{}, fmt.Errorf("%s: unexpected output type %T", method, out[0])
	}
	if raw == ([32]byte{}) {
		return fhe.Handle{}, fmt.Errorf("%w: %s", ledger.ErrNotFound, id.Hex())
	}
	return fhe.Handle(raw), nil
}

// GetEncryptedHashHandle returns the handle of the encrypted commitment hash
func (c *Contract) GetEncryptedHashHandle(ctx context.Context, id ledger.SubmissionID) (fhe.Handle, error) {
	return c.handle(ctx, "getEncryptedHashHandle", id)
}

// GetEncryptedKeyHandle returns the handle of the encrypted seal key
func (c *Contract) GetEncryptedKeyHandle(ctx context.Context, id ledger.SubmissionID) (fhe.Handle, error) {
	return c.handle(ctx, "getEncryptedKeyHandle", id)
}

// GetEncryptedNonceHandle returns the handle of the encrypted seal nonce
func (c *Contract) GetEncryptedNonceHandle(ctx context.Context, id ledger.SubmissionID) (fhe.Handle, error) {
	return c.handle(ctx, "getEncryptedNonceHandle", id)
}

func (c *Contract) query(from *big.Int, to *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{c.abi.Events[submissionCreatedEvent].ID}},
	}
}

type submissionCreated struct {
	Id        [32]byte //nolint:revive // field name follows the ABI argument
	Builder   common.Address
	Name      string
	IpfsCID   string
	Timestamp *big.Int
}

func (c *Contract) decodeLog(l types.Log) (ledger.SubmissionEvent, error) {
	var raw submissionCreated
	if err := c.bound.UnpackLog(&raw, submissionCreatedEvent, l); err != nil {
		return ledger.SubmissionEvent{}, fmt.Errorf("decode %s log: %w", submissionCreatedEvent, err)
	}
	ev := ledger.SubmissionEvent{
		ID:          ledger.SubmissionID(raw.Id),
		Builder:     raw.Builder,
		Name:        raw.Name,
		CID:         raw.IpfsCID,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
	}
	if raw.Timestamp != nil {
		ev.Timestamp = raw.Timestamp.Uint64()
	}
	return ev, nil
}

// GetSubmissionEvents returns creation events in [from, to]. The caller is
// responsible for keeping the range within provider limits.
func (c *Contract) GetSubmissionEvents(
	ctx context.Context,
	from uint64,
	to uint64,
) ([]ledger.SubmissionEvent, error) {
	if from > to {
		return nil, fmt.Errorf("invalid block range [%d, %d]", from, to)
	}
	logs, err := c.backend.FilterLogs(
		ctx,
		c.query(new(big.Int).SetUint64(from), new(big.Int).SetUint64(to)),
	)
	if err != nil {
		return nil, fmt.Errorf("filter logs [%d, %d]: %w", from, to, err)
	}
	ret := make([]ledger.SubmissionEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		ev, err := c.decodeLog(l)
		if err != nil {
			c.logger.Warn("skipping undecodable log", "error", err, "tx", l.TxHash.Hex())
			continue
		}
		ret = append(ret, ev)
	}
	return ret, nil
}

// WatchSubmissions streams new creation events to sink
func (c *Contract) WatchSubmissions(
	ctx context.Context,
	sink chan<- ledger.SubmissionEvent,
) (event.Subscription, error) {
	logs := make(chan types.Log, watchBuffer)
	sub, err := c.backend.SubscribeFilterLogs(ctx, c.query(nil, nil), logs)
	if err != nil {
		return nil, fmt.Errorf("subscribe logs: %w", err)
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case l := <-logs:
				if l.Removed {
					continue
				}
				ev, err := c.decodeLog(l)
				if err != nil {
					c.logger.Warn("skipping undecodable log", "error", err, "tx", l.TxHash.Hex())
					continue
				}
				select {
				case sink <- ev:
				case err := <-sub.Err():
					return err
				case <-quit:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}), nil
}

func (c *Contract) transact(
	ctx context.Context,
	op string,
	args ...any,
) (*types.Receipt, error) {
	if c.transactor == nil {
		return nil, &ledger.WriteError{Op: op, Err: ledger.ErrReadOnly}
	}
	opts := *c.transactor
	opts.Context = ctx
	tx, err := c.bound.Transact(&opts, op, args...)
	if err != nil {
		return nil, &ledger.WriteError{Op: op, Err: err}
	}
	c.logger.Info("transaction sent", "op", op, "tx", tx.Hash().Hex())
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, &ledger.WriteError{Op: op, TxHash: tx.Hash(), Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &ledger.WriteError{
			Op:     op,
			TxHash: tx.Hash(),
			Err:    errors.New("transaction reverted"),
		}
	}
	c.logger.Info(
		"transaction confirmed",
		"op", op,
		"tx", tx.Hash().Hex(),
		"block", receipt.BlockNumber,
	)
	return receipt, nil
}

// Submit records a submission and returns the id taken from the
// SubmissionCreated log of the receipt.
func (c *Contract) Submit(
	ctx context.Context,
	req *ledger.SubmitRequest,
) (ledger.SubmissionID, error) {
	receipt, err := c.transact(
		ctx,
		"submit",
		req.Name,
		req.CID,
		[32]byte(req.HashHandle),
		[32]byte(req.KeyHandle),
		[32]byte(req.NonceHandle),
		req.InputProof,
		req.Reviewer,
	)
	if err != nil {
		return ledger.SubmissionID{}, err
	}
	eventID := c.abi.Events[submissionCreatedEvent].ID
	for _, l := range receipt.Logs {
		if l == nil || l.Address != c.address ||
			len(l.Topics) == 0 || l.Topics[0] != eventID {
			continue
		}
		ev, err := c.decodeLog(*l)
		if err != nil {
			return ledger.SubmissionID{}, &ledger.WriteError{
				Op:     "submit",
				TxHash: receipt.TxHash,
				Err:    err,
			}
		}
		return ev.ID, nil
	}
	return ledger.SubmissionID{}, &ledger.WriteError{
		Op:     "submit",
		TxHash: receipt.TxHash,
		Err:    errors.New("submission id not found in receipt"),
	}
}

// GrantAccess lets reviewer decrypt submission id
func (c *Contract) GrantAccess(ctx context.Context, id ledger.SubmissionID, reviewer common.Address) error {
	_, err := c.transact(ctx, "grantAccess", [32]byte(id), reviewer)
	return err
}

// RevokeAccess removes reviewer from submission id
func (c *Contract) RevokeAccess(ctx context.Context, id ledger.SubmissionID, reviewer common.Address) error {
	_, err := c.transact(ctx, "revokeAccess", [32]byte(id), reviewer)
	return err
}
