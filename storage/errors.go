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

package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrPayloadTooLarge is returned for blobs over MaxBlobSize
	ErrPayloadTooLarge = errors.New("storage: payload too large")
	// ErrNotFound is returned when the gateway has no content for a CID
	ErrNotFound = errors.New("storage: content not found")
	// ErrInvalidCID is returned for malformed content identifiers
	ErrInvalidCID = errors.New("storage: invalid content identifier")
)

// UploadError reports a failed upload. Reason carries the service's own
// explanation when one was returned.
type UploadError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *UploadError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode == 0:
		return fmt.Sprintf("storage: upload failed: %v", e.Err)
	case e.Err != nil:
		return fmt.Sprintf(
			"storage: upload failed (status %d): %v",
			e.StatusCode,
			e.Err,
		)
	default:
		return fmt.Sprintf(
			"storage: upload failed (status %d): %s",
			e.StatusCode,
			e.Reason,
		)
	}
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// FetchError reports a failed gateway download other than not-found
type FetchError struct {
	CID        string
	StatusCode int
	Reason     string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage: fetch %s failed: %v", e.CID, e.Err)
	}
	return fmt.Sprintf(
		"storage: fetch %s failed (status %d): %s",
		e.CID,
		e.StatusCode,
		e.Reason,
	)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
