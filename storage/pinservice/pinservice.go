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

// Package pinservice is an in-memory content-addressed pinning service and
// read gateway. It speaks the same HTTP contract as the hosted service the
// storage client talks to and is used for dev mode and tests.
package pinservice

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

const (
	// UploadPath is the path uploads are accepted on
	UploadPath = "/upload"

	maxBlobSize = 10 << 20
	// request bodies past this are cut off before the form is parsed
	maxRequestSize = 2 * maxBlobSize
)

// Pin is a stored blob
type Pin struct {
	CID      string
	Data     []byte
	Metadata map[string]string
	PinnedAt time.Time
}

// Service is the pinning service
type Service struct {
	mu       sync.RWMutex
	pins     map[string]*Pin
	jwt      string
	logger   *slog.Logger
	now      func() time.Time
	uploads  atomic.Int64
	fetches  atomic.Int64
	requests atomic.Int64
}

// Option configures a Service
type Option func(*Service)

// WithJWT requires uploads to carry the given bearer token
func WithJWT(jwt string) Option {
	return func(s *Service) {
		s.jwt = jwt
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty pinning service
func New(opts ...Option) *Service {
	s := &Service{
		pins:   make(map[string]*Pin),
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "pinservice")
	return s
}

// ComputeCID returns the CIDv1 (raw codec, sha2-256) of data
func ComputeCID(data []byte) (string, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hashing content: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

// Put stores data directly and returns its CID
func (s *Service) Put(data []byte, metadata map[string]string) (string, error) {
	id, err := ComputeCID(data)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pins[id]; !ok {
		s.pins[id] = &Pin{
			CID:      id,
			Data:     append([]byte(nil), data...),
			Metadata: metadata,
			PinnedAt: s.now(),
		}
	}
	return id, nil
}

// Get returns a copy of the pin stored under id
func (s *Service) Get(id string) (Pin, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pins[id]
	if !ok {
		return Pin{}, false
	}
	return *p, true
}

// Replace swaps the stored bytes for id without changing the CID. It
// simulates a misbehaving gateway.
func (s *Service) Replace(id string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pins[id]; ok {
		p.Data = append([]byte(nil), data...)
	}
}

// Remove unpins id
func (s *Service) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pins, id)
}

// Len returns the number of pins
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pins)
}

// Requests returns the number of HTTP requests served
func (s *Service) Requests() int64 {
	return s.requests.Load()
}

// Uploads returns the number of successful uploads
func (s *Service) Uploads() int64 {
	return s.uploads.Load()
}

// Fetches returns the number of successful gateway reads
func (s *Service) Fetches() int64 {
	return s.fetches.Load()
}

// Handler returns the HTTP handler serving both the upload endpoint and
// the /ipfs/{cid} gateway.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+UploadPath, s.handleUpload)
	mux.HandleFunc("GET /ipfs/{cid}", s.handleFetch)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		mux.ServeHTTP(w, r)
	})
}

type uploadResponse struct {
	CID       string `json:"cid"`
	Size      int64  `json:"size"`
	Timestamp string `json:"timestamp"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Service) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.jwt != "" && r.Header.Get("Authorization") != "Bearer "+s.jwt {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error: "Unauthorized",
		})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)
	if err := r.ParseMultipartForm(maxBlobSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error:   "File too large",
				Details: fmt.Sprintf("maximum size is %d bytes", maxBlobSize),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "Invalid form",
			Details: err.Error(),
		})
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "No file provided",
		})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxBlobSize+1))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "Failed to read file",
			Details: err.Error(),
		})
		return
	}
	if len(data) > maxBlobSize {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
			Error:   "File too large",
			Details: fmt.Sprintf("maximum size is %d bytes", maxBlobSize),
		})
		return
	}
	var metadata map[string]string
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:   "Invalid metadata",
				Details: err.Error(),
			})
			return
		}
	}
	id, err := s.Put(data, metadata)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "Failed to pin file",
			Details: err.Error(),
		})
		return
	}
	s.uploads.Add(1)
	s.logger.Debug("pinned blob", "cid", id, "size", len(data))
	writeJSON(w, http.StatusOK, uploadResponse{
		CID:       id,
		Size:      int64(len(data)),
		Timestamp: s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Service) handleFetch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("cid")
	if _, err := cid.Decode(id); err != nil {
		http.Error(w, "invalid cid", http.StatusBadRequest)
		return
	}
	p, ok := s.Get(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.fetches.Add(1)
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(p.Data)
}
