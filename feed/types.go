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

package feed

import (
	"time"

	"github.com/blinklabs-io/privabuild/index"
)

// HealthResponse is returned by GET /health
type HealthResponse struct {
	IsHealthy   bool `json:"is_healthy"`
	Submissions int  `json:"submissions"`
}

// SubmissionResponse is the public view of an indexed submission. It never
// includes sealed content or key material.
type SubmissionResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Builder     string `json:"builder"`
	CID         string `json:"cid"`
	URL         string `json:"url,omitempty"`
	Timestamp   uint64 `json:"timestamp"`
	Time        string `json:"time"`
	BlockNumber uint64 `json:"block_number,omitempty"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

func newSubmissionResponse(e index.Entry, gateway func(string) string) SubmissionResponse {
	ret := SubmissionResponse{
		ID:          e.ID.Hex(),
		Name:        e.Name,
		Builder:     e.Submitter.Hex(),
		CID:         e.CID,
		Timestamp:   e.Timestamp,
		Time:        time.Unix(int64(e.Timestamp), 0).UTC().Format(time.RFC3339), //nolint:gosec // ledger timestamps fit in int64
		BlockNumber: e.BlockNumber,
	}
	if gateway != nil && e.CID != "" {
		ret.URL = gateway(e.CID)
	}
	return ret
}
