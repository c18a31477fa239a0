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

package privabuild

import (
	"context"
	"errors"
	"fmt"

	"github.com/blinklabs-io/privabuild/disclosure"
	"github.com/blinklabs-io/privabuild/fhe"
	"github.com/blinklabs-io/privabuild/ledger"
	"github.com/blinklabs-io/privabuild/seal"
	"github.com/blinklabs-io/privabuild/storage"
)

var (
	// ErrInputValidation matches every *InputError
	ErrInputValidation = errors.New("invalid input")
	// ErrSessionInProgress is returned when a disclosure for the same
	// submission is already running on this client
	ErrSessionInProgress = errors.New("disclosure already in progress for submission")
	// ErrCommitmentMismatch is returned when the downloaded blob does not
	// hash to the on-chain commitment. It matches seal.ErrIntegrity.
	ErrCommitmentMismatch = fmt.Errorf("%w: commitment hash mismatch", seal.ErrIntegrity)
)

// InputError describes a rejected input. It is always returned before any
// network I/O.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is matches ErrInputValidation
func (e *InputError) Is(target error) bool {
	return target == ErrInputValidation
}

func invalid(field string, reason string) error {
	return &InputError{Field: field, Reason: reason}
}

// UserMessage maps a pipeline error to a single message suitable for
// showing to the user. It never includes internal detail.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var inputErr *InputError
	var uploadErr *storage.UploadError
	var fetchErr *storage.FetchError
	switch {
	case errors.As(err, &inputErr):
		return "Invalid " + inputErr.Field + ": " + inputErr.Reason + "."
	case errors.Is(err, seal.ErrInvalidPayload):
		return "The submission is missing a required field."
	case errors.Is(err, ErrSessionInProgress):
		return "A disclosure for this submission is already in progress."
	case errors.Is(err, storage.ErrPayloadTooLarge):
		return "The sealed submission exceeds the 10 MiB upload limit."
	case errors.As(err, &uploadErr):
		if uploadErr.Reason != "" {
			return "Upload to storage failed: " + uploadErr.Reason + "."
		}
		return "Upload to storage failed. Please try again."
	case errors.Is(err, storage.ErrNotFound):
		return "The sealed data could not be found in storage."
	case errors.As(err, &fetchErr), errors.Is(err, storage.ErrInvalidCID):
		return "The sealed data could not be downloaded. Please try again."
	case errors.Is(err, fhe.ErrRelayerUnavailable):
		return "The encryption service is unavailable. Please retry later."
	case errors.Is(err, fhe.ErrInitialization):
		return "The encryption client could not be initialized."
	case errors.Is(err, fhe.ErrEncryption):
		return "Encrypting the commitment failed."
	case errors.Is(err, fhe.ErrAuthorizationDenied):
		return "Decryption was denied. You may not have permission to view this submission."
	case errors.Is(err, fhe.ErrTimedOut):
		return "The decryption service did not respond in time and may be slow. Please try again."
	case errors.Is(err, seal.ErrIntegrity):
		return "Integrity check failed: the sealed data does not match its on-chain commitment."
	case errors.Is(err, ledger.ErrNotFound):
		return "Submission not found."
	case errors.Is(err, ledger.ErrReadOnly):
		return "No wallet is configured for ledger transactions."
	case errors.Is(err, ledger.ErrLedgerWrite):
		return "The ledger transaction failed or was rejected."
	case errors.Is(err, disclosure.ErrCancelled),
		errors.Is(err, context.Canceled):
		return "The operation was cancelled."
	case errors.Is(err, context.DeadlineExceeded):
		return "The operation timed out. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}

// outcome labels an attempt for metrics
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInputValidation), errors.Is(err, seal.ErrInvalidPayload):
		return "invalid"
	case errors.Is(err, ErrSessionInProgress):
		return "busy"
	case errors.Is(err, fhe.ErrAuthorizationDenied):
		return "denied"
	case errors.Is(err, fhe.ErrTimedOut):
		return "timeout"
	case errors.Is(err, seal.ErrIntegrity):
		return "integrity"
	case errors.Is(err, disclosure.ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, storage.ErrPayloadTooLarge),
		errors.Is(err, storage.ErrNotFound),
		errors.As(err, new(*storage.UploadError)),
		errors.As(err, new(*storage.FetchError)):
		return "storage"
	case errors.Is(err, fhe.ErrInitialization),
		errors.Is(err, fhe.ErrRelayerUnavailable),
		errors.Is(err, fhe.ErrEncryption):
		return "fhe"
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrLedgerWrite):
		return "ledger"
	default:
		return "error"
	}
}
