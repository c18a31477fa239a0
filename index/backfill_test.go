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
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/blinklabs-io/privabuild/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSource logs every query into a shared trace and returns one
// event per queried chunk, numbered by the chunk start.
type recordingSource struct {
	trace *[]string
	fail  func(from, to uint64) error
}

func (r *recordingSource) GetSubmissionEvents(
	_ context.Context,
	from uint64,
	to uint64,
) ([]ledger.SubmissionEvent, error) {
	*r.trace = append(*r.trace, fmt.Sprintf("query %d-%d", from, to))
	if r.fail != nil {
		if err := r.fail(from, to); err != nil {
			return nil, err
		}
	}
	return []ledger.SubmissionEvent{{ID: common.BigToHash(new(big.Int).SetUint64(from)), BlockNumber: from}}, nil
}

func recordingSleep(trace *[]string) SleepFunc {
	return func(_ context.Context, d time.Duration) error {
		*trace = append(*trace, "sleep "+d.String())
		return nil
	}
}

func TestBackfillChunksWithDelayBetween(t *testing.T) {
	var trace []string
	b := NewBackfiller(
		&recordingSource{trace: &trace},
		WithSleep(recordingSleep(&trace)),
	)
	res, err := b.Backfill(context.Background(), 0, 24)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"query 0-9",
		"sleep 200ms",
		"query 10-19",
		"sleep 200ms",
		"query 20-24",
	}, trace)
	assert.Equal(t, 3, res.Queries)
	assert.Empty(t, res.Failed)
	require.Len(t, res.Events, 3)
	assert.Equal(t, []uint64{0, 10, 20}, []uint64{
		res.Events[0].BlockNumber,
		res.Events[1].BlockNumber,
		res.Events[2].BlockNumber,
	})
}

func TestBackfillSkipsFailedChunk(t *testing.T) {
	var trace []string
	reg := prometheus.NewRegistry()
	b := NewBackfiller(
		&recordingSource{
			trace: &trace,
			fail: func(from, _ uint64) error {
				if from == 10 {
					return errors.New("query returned more than 10000 results")
				}
				return nil
			},
		},
		WithSleep(recordingSleep(&trace)),
		WithBackfillPromRegistry(reg),
	)
	res, err := b.Backfill(context.Background(), 0, 24)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Queries)
	assert.Equal(t, []BlockRange{{From: 10, To: 19}}, res.Failed)
	require.Len(t, res.Events, 2)
	assert.Equal(t, uint64(20), res.Events[1].BlockNumber)
	assert.Len(t, trace, 5)
	assert.InDelta(t, 3, testutil.ToFloat64(b.metrics.chunksQueried), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(b.metrics.chunksFailed), 0)
}

func TestBackfillSingleChunk(t *testing.T) {
	var trace []string
	b := NewBackfiller(&recordingSource{trace: &trace}, WithSleep(recordingSleep(&trace)))
	res, err := b.Backfill(context.Background(), 5, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"query 5-5"}, trace)
	assert.Equal(t, 1, res.Queries)
}

func TestBackfillCustomChunkSize(t *testing.T) {
	var trace []string
	b := NewBackfiller(
		&recordingSource{trace: &trace},
		WithSleep(recordingSleep(&trace)),
		WithChunkSize(4),
		WithChunkDelay(time.Second),
	)
	_, err := b.Backfill(context.Background(), 0, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"query 0-3", "sleep 1s", "query 4-7"}, trace)
}

func TestBackfillNearMaxBlock(t *testing.T) {
	var trace []string
	b := NewBackfiller(&recordingSource{trace: &trace}, WithSleep(recordingSleep(&trace)))
	res, err := b.Backfill(context.Background(), math.MaxUint64-14, math.MaxUint64)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Queries)
	assert.Equal(
		t,
		fmt.Sprintf("query %d-%d", uint64(math.MaxUint64-4), uint64(math.MaxUint64)),
		trace[2],
	)
}

func TestBackfillInvalidRange(t *testing.T) {
	b := NewBackfiller(&recordingSource{trace: new([]string)})
	_, err := b.Backfill(context.Background(), 10, 9)
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestBackfillStopsOnCancel(t *testing.T) {
	var trace []string
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBackfiller(
		&recordingSource{trace: &trace},
		WithSleep(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	)
	res, err := b.Backfill(ctx, 0, 99)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Queries)
	assert.Len(t, res.Events, 1)
}

func TestBackfillRealDelay(t *testing.T) {
	b := NewBackfiller(
		&recordingSource{trace: new([]string)},
		WithChunkDelay(20*time.Millisecond),
	)
	start := time.Now()
	_, err := b.Backfill(context.Background(), 0, 24)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}
