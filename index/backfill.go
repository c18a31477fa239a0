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
	"time"

	"github.com/blinklabs-io/privabuild/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultChunkSize  uint64 = 10
	DefaultChunkDelay        = 200 * time.Millisecond
	// DefaultLookback is how far back the feed backfills from the head
	DefaultLookback uint64 = 10_000
	// SubmitterLookback is how far back a submitter's own view looks
	SubmitterLookback uint64 = 100
)

const tracerName = "github.com/blinklabs-io/privabuild/index"

// ErrInvalidRange is returned when from is after to
var ErrInvalidRange = errors.New("index: invalid block range")

// EventSource answers bounded creation event queries
type EventSource interface {
	GetSubmissionEvents(ctx context.Context, from uint64, to uint64) ([]ledger.SubmissionEvent, error)
}

// BlockRange is an inclusive block interval
type BlockRange struct {
	From uint64
	To   uint64
}

// BackfillResult is the outcome of one Backfill call
type BackfillResult struct {
	// Events holds the events of every successful chunk in chunk order
	Events []ledger.SubmissionEvent
	// Queries is the number of chunk queries issued
	Queries int
	// Failed lists chunks that errored and were skipped
	Failed []BlockRange
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Backfiller reads historical events in fixed-size chunks with a fixed
// delay between consecutive queries.
type Backfiller struct {
	source    EventSource
	chunkSize uint64
	delay     time.Duration
	sleep     SleepFunc
	logger    *slog.Logger
	metrics   *indexMetrics
}

// BackfillOption configures a Backfiller
type BackfillOption func(*Backfiller)

// WithChunkSize sets the number of blocks per query
func WithChunkSize(n uint64) BackfillOption {
	return func(b *Backfiller) {
		if n > 0 {
			b.chunkSize = n
		}
	}
}

// WithChunkDelay sets the pause between chunk queries
func WithChunkDelay(d time.Duration) BackfillOption {
	return func(b *Backfiller) {
		if d >= 0 {
			b.delay = d
		}
	}
}

// WithSleep replaces the function used to pause between chunks
func WithSleep(fn SleepFunc) BackfillOption {
	return func(b *Backfiller) {
		if fn != nil {
			b.sleep = fn
		}
	}
}

// WithBackfillLogger sets the logger
func WithBackfillLogger(logger *slog.Logger) BackfillOption {
	return func(b *Backfiller) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBackfillPromRegistry enables chunk metrics
func WithBackfillPromRegistry(reg prometheus.Registerer) BackfillOption {
	return func(b *Backfiller) {
		if reg != nil {
			b.metrics = newIndexMetrics(reg)
		}
	}
}

func withMetrics(m *indexMetrics) BackfillOption {
	return func(b *Backfiller) {
		b.metrics = m
	}
}

// NewBackfiller returns a Backfiller reading from source
func NewBackfiller(source EventSource, opts ...BackfillOption) *Backfiller {
	b := &Backfiller{
		source:    source,
		chunkSize: DefaultChunkSize,
		delay:     DefaultChunkDelay,
		sleep:     sleepContext,
		logger:    slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "backfill")
	return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backfill queries [from, to] sequentially in chunks. A failed chunk is
// logged, recorded in the result and skipped. Only context cancellation
// stops the run early, in which case the partial result is returned with
// the context error.
func (b *Backfiller) Backfill(ctx context.Context, from uint64, to uint64) (*BackfillResult, error) {
	if from > to {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, from, to)
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "index.Backfill")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("from", int64(from)), //nolint:gosec // block numbers fit in int64
		attribute.Int64("to", int64(to)),     //nolint:gosec // block numbers fit in int64
	)

	res := &BackfillResult{}
	start := from
	for {
		if res.Queries > 0 {
			if err := b.sleep(ctx, b.delay); err != nil {
				span.SetStatus(codes.Error, err.Error())
				return res, err
			}
		}
		end := to
		if to-start >= b.chunkSize {
			end = start + b.chunkSize - 1
		}
		events, err := b.source.GetSubmissionEvents(ctx, start, end)
		res.Queries++
		if b.metrics != nil {
			b.metrics.chunksQueried.Inc()
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				span.SetStatus(codes.Error, ctxErr.Error())
				return res, ctxErr
			}
			b.logger.Warn(
				"skipping failed chunk",
				"from", start,
				"to", end,
				"error", err,
			)
			res.Failed = append(res.Failed, BlockRange{From: start, To: end})
			if b.metrics != nil {
				b.metrics.chunksFailed.Inc()
			}
		} else {
			res.Events = append(res.Events, events...)
		}
		if end == to {
			break
		}
		start = end + 1
	}
	span.SetAttributes(
		attribute.Int("queries", res.Queries),
		attribute.Int("events", len(res.Events)),
		attribute.Int("failed_chunks", len(res.Failed)),
	)
	b.logger.Debug(
		"backfill complete",
		"from", from,
		"to", to,
		"queries", res.Queries,
		"events", len(res.Events),
		"failed_chunks", len(res.Failed),
	)
	return res, nil
}
