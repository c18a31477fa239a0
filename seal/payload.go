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

package seal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPayload is returned for payloads missing a required field
var ErrInvalidPayload = errors.New("seal: invalid payload")

// Payload is the confidential part of a submission. The JSON field names
// match blobs already pinned by earlier clients.
type Payload struct {
	Website    string `json:"website"`
	Repository string `json:"github"`
	Video      string `json:"video"`
}

// Validate checks that the required fields are present
func (p Payload) Validate() error {
	if strings.TrimSpace(p.Website) == "" {
		return fmt.Errorf("%w: website is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.Repository) == "" {
		return fmt.Errorf("%w: repository is required", ErrInvalidPayload)
	}
	return nil
}

// Encode serializes the payload for sealing
func (p Payload) Encode() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// DecodePayload parses an opened payload
func DecodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &p, nil
}
