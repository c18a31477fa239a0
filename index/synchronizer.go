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

package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/blinklabs-io/privabuild/event"
	"github.com/blinklabs-io/privabuild/ledger"
	"github.com/ethereum/go-ethereum/common"
	gethevent "github.com/ethereum/go-ethereum/event"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrAlreadyRunning is returned by Start on a running synchronizer
var ErrAlreadyRunning = errors.New("index: synchronizer already running")

// Synchronizer keeps a Table current: it backfills recent history on
// start and then follows live events.
type Synchronizer struct {
	reader      ledger.Reader
	table       *Table
	lookback    uint64
	backfillOps []BackfillOption
	backfiller  *Backfiller
	bus         *event.Bus
	logger      *slog.Logger
	metrics     *indexMetrics
	mu          sync.Mutex
	sub         gethevent.Subscription
	cancel      context.CancelFunc
}

// SynchronizerOption configures a Synchronizer
type SynchronizerOption func(*Synchronizer)

// WithLookback sets how many blocks before the head Start backfills
func WithLookback(n uint64) SynchronizerOption {
	return func(s *Synchronizer) {
		s.lookback = n
	}
}

// WithTable sets the table to populate
func WithTable(t *Table) SynchronizerOption {
	return func(s *Synchronizer) {
		if t != nil {
			s.table = t
		}
	}
}

// WithEventBus publishes a SubmissionIndexedEvent for every upsert
func WithEventBus(bus *event.Bus) SynchronizerOption {
	return func(s *Synchronizer) {
		s.bus = bus
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) SynchronizerOption {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPromRegistry enables index metrics
func WithPromRegistry(reg prometheus.Registerer) SynchronizerOption {
	return func(s *Synchronizer) {
		if reg != nil {
			s.metrics = newIndexMetrics(reg)
		}
	}
}

// WithBackfillOptions configures the internal Backfiller
func WithBackfillOptions(opts ...BackfillOption) SynchronizerOption {
	return func(s *Synchronizer) {
		s.backfillOps = append(s.backfillOps, opts...)
	}
}

// NewSynchronizer returns a stopped synchronizer reading from reader
func NewSynchronizer(reader ledger.Reader, opts ...SynchronizerOption) *Synchronizer {
	s := &Synchronizer{
		reader:   reader,
		table:    NewTable(),
		lookback: DefaultLookback,
		logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "index")
	bfOpts := append(
		[]BackfillOption{WithBackfillLogger(s.logger), withMetrics(s.metrics)},
		s.backfillOps...,
	)
	s.backfiller = NewBackfiller(reader, bfOpts...)
	return s
}

// Table returns the populated table
func (s *Synchronizer) Table() *Table {
	return s.table
}

func (s *Synchronizer) apply(source event.IndexSource) BatchFunc {
	return func(entries []Entry) {
		if len(entries) == 0 {
			return
		}
		size := s.table.Upsert(entries...)
		if s.metrics != nil {
			s.metrics.entries.Set(float64(size))
		}
		if s.bus == nil {
			return
		}
		for _, e := range entries {
			s.bus.Publish(event.New(
				event.SubmissionIndexedEventType,
				event.SubmissionIndexedEvent{
					ID:          e.ID,
					Builder:     e.Submitter,
					Name:        e.Name,
					CID:         e.CID,
					Timestamp:   e.Timestamp,
					BlockNumber: e.BlockNumber,
					Source:      source,
				},
			))
		}
	}
}

// Start subscribes to live events and then backfills the lookback window.
// Subscribing first closes the gap between the two; duplicates are
// absorbed by the upsert.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(context.Background())
	sub, err := subscribe(runCtx, s.reader, s.apply(event.SourceLive), s.logger, s.metrics)
	if err != nil {
		cancel()
		s.mu.Unlock()
		return err
	}
	s.sub = sub
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("starting index synchronizer", "lookback", s.lookback)
	if _, err := s.Refresh(ctx, s.lookback); err != nil {
		s.Stop()
		return err
	}
	return nil
}

// Refresh backfills the last lookback blocks into the table
func (s *Synchronizer) Refresh(ctx context.Context, lookback uint64) (*BackfillResult, error) {
	head, err := s.reader.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("read head: %w", err)
	}
	from := uint64(0)
	if head > lookback {
		from = head - lookback
	}
	res, err := s.backfiller.Backfill(ctx, from, head)
	if res != nil {
		s.apply(event.SourceBackfill)(enrichAll(ctx, s.reader, res.Events, s.logger, s.metrics))
	}
	if err != nil {
		return res, err
	}
	if len(res.Failed) > 0 {
		s.logger.Warn(
			"backfill finished with skipped chunks",
			"from", from,
			"to", head,
			"failed_chunks", len(res.Failed),
		)
	}
	return res, nil
}

// RefreshAll loads every submission id known to the ledger without
// scanning logs. Block numbers of these entries are unknown and left zero.
func (s *Synchronizer) RefreshAll(ctx context.Context) (int, error) {
	ids, err := s.reader.GetAllSubmissionIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list submission ids: %w", err)
	}
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		meta, err := s.reader.GetSubmissionMeta(ctx, id)
		if err != nil {
			s.logger.Warn("metadata lookup failed", "id", id.Hex(), "error", err)
			continue
		}
		entries = append(entries, Entry{
			ID:        id,
			Name:      meta.Name,
			Submitter: meta.Builder,
			CID:       meta.CID,
			Timestamp: meta.Timestamp,
		})
	}
	s.apply(event.SourceBackfill)(entries)
	return len(entries), nil
}

// SubmittedBy backfills the most recent SubmitterLookback blocks and
// returns the entries created by submitter, newest first.
func (s *Synchronizer) SubmittedBy(ctx context.Context, submitter common.Address) ([]Entry, error) {
	if _, err := s.Refresh(ctx, SubmitterLookback); err != nil {
		return nil, err
	}
	return s.table.ListBySubmitter(submitter), nil
}

// Stop ends the live subscription. It is safe to call more than once.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	sub, cancel := s.sub, s.cancel
	s.sub, s.cancel = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	sub.Unsubscribe()
	s.logger.Info("index synchronizer stopped")
}
