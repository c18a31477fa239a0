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
	"fmt"
	"io"
	"log/slog"

	"github.com/blinklabs-io/privabuild/ledger"
	gethevent "github.com/ethereum/go-ethereum/event"
)

const (
	liveBuffer   = 64
	maxLiveBatch = 32
)

// MetaSource returns canonical submission metadata
type MetaSource interface {
	GetSubmissionMeta(ctx context.Context, id ledger.SubmissionID) (*ledger.SubmissionMeta, error)
}

// LiveSource streams creation events and resolves their metadata
type LiveSource interface {
	MetaSource
	WatchSubmissions(ctx context.Context, sink chan<- ledger.SubmissionEvent) (gethevent.Subscription, error)
}

// BatchFunc receives enriched entries
type BatchFunc func([]Entry)

func enrichAll(
	ctx context.Context,
	source MetaSource,
	events []ledger.SubmissionEvent,
	logger *slog.Logger,
	metrics *indexMetrics,
) []Entry {
	ret := make([]Entry, 0, len(events))
	for _, ev := range events {
		meta, err := source.GetSubmissionMeta(ctx, ev.ID)
		if err != nil {
			logger.Warn(
				"metadata lookup failed, using event values",
				"id", ev.ID.Hex(),
				"error", err,
			)
			if metrics != nil {
				metrics.metaErrors.Inc()
			}
			meta = nil
		}
		ret = append(ret, Enrich(ev, meta))
	}
	return ret
}

// Subscribe watches live creation events. Each event is enriched with the
// ledger's canonical metadata and handed to onBatch. Events that arrive
// together are batched. onBatch runs on the subscription goroutine.
func Subscribe(
	ctx context.Context,
	source LiveSource,
	onBatch BatchFunc,
	logger *slog.Logger,
) (gethevent.Subscription, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return subscribe(ctx, source, onBatch, logger.With("component", "index"), nil)
}

func subscribe(
	ctx context.Context,
	source LiveSource,
	onBatch BatchFunc,
	logger *slog.Logger,
	metrics *indexMetrics,
) (gethevent.Subscription, error) {
	sink := make(chan ledger.SubmissionEvent, liveBuffer)
	sub, err := source.WatchSubmissions(ctx, sink)
	if err != nil {
		return nil, fmt.Errorf("watch submissions: %w", err)
	}
	return gethevent.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case ev := <-sink:
				batch := []ledger.SubmissionEvent{ev}
			drain:
				for len(batch) < maxLiveBatch {
					select {
					case ev := <-sink:
						batch = append(batch, ev)
					default:
						break drain
					}
				}
				if metrics != nil {
					metrics.liveEvents.Add(float64(len(batch)))
				}
				onBatch(enrichAll(ctx, source, batch, logger, metrics))
			case err := <-sub.Err():
				if err != nil {
					logger.Error("live subscription failed", "error", err)
				}
				return err
			case <-quit:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}), nil
}
