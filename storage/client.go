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

// Package storage is a client for the content-addressed pinning service
// and its read gateway. Sealed blobs are uploaded once and fetched by CID.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
)

const (
	// MaxBlobSize is the largest blob the pinning service accepts
	MaxBlobSize = 10 << 20

	// BlobFileName is the file name attached to every uploaded blob
	BlobFileName = "submission.enc"

	defaultTimeout = 30 * time.Second
	errorBodyLimit = 1024
)

// Client uploads sealed blobs to a pinning service and downloads them
// through a gateway.
type Client struct {
	uploadURL  string
	gatewayURL string
	jwt        string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption is a functional option for configuring a Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom *http.Client. The default client only
// follows redirects to HTTPS URLs; a custom client bypasses that policy.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithJWT sets the bearer token sent with uploads
func WithJWT(jwt string) ClientOption {
	return func(c *Client) {
		c.jwt = jwt
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a storage client. The gateway may be given as a bare
// host, in which case HTTPS is assumed.
func NewClient(
	uploadURL string,
	gateway string,
	opts ...ClientOption,
) *Client {
	c := &Client{
		uploadURL:  uploadURL,
		gatewayURL: gatewayBase(gateway),
		httpClient: &http.Client{
			Timeout:       defaultTimeout,
			CheckRedirect: httpsOnlyRedirect,
		},
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "storage")
	return c
}

func gatewayBase(gateway string) string {
	gateway = strings.TrimRight(gateway, "/")
	if !strings.Contains(gateway, "://") {
		gateway = "https://" + gateway
	}
	return gateway
}

// httpsOnlyRedirect rejects redirects to non-HTTPS URLs
func httpsOnlyRedirect(
	req *http.Request,
	via []*http.Request,
) error {
	if len(via) >= 10 {
		return errors.New("too many redirects")
	}
	if req.URL.Scheme != "https" {
		return fmt.Errorf(
			"redirect to non-HTTPS URL blocked: %s",
			req.URL,
		)
	}
	return nil
}

// UploadResult is the pinning service's answer to a successful upload
type UploadResult struct {
	CID       string `json:"cid"`
	Size      int64  `json:"size"`
	Timestamp string `json:"timestamp"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// Upload pins blob and returns its content identifier. Blobs larger than
// MaxBlobSize are rejected before any network I/O. The metadata map is sent
// as a JSON form field alongside the blob.
func (c *Client) Upload(
	ctx context.Context,
	blob []byte,
	metadata map[string]string,
) (*UploadResult, error) {
	if len(blob) > MaxBlobSize {
		return nil, fmt.Errorf(
			"%w: %d bytes exceeds limit of %d",
			ErrPayloadTooLarge,
			len(blob),
			MaxBlobSize,
		)
	}
	body, contentType, err := buildUploadBody(blob, metadata)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.uploadURL,
		body,
	)
	if err != nil {
		return nil, fmt.Errorf("creating upload request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if c.jwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.jwt)
	}

	c.logger.Debug(
		"uploading blob",
		"request_id", requestID,
		"size", len(blob),
	)
	resp, err := c.httpClient.Do(req) //nolint:gosec // upload URL comes from operator configuration
	if err != nil {
		return nil, &UploadError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newUploadError(resp)
	}
	var result UploadResult
	if err := json.NewDecoder(
		io.LimitReader(resp.Body, maxResponseBytes),
	).Decode(&result); err != nil {
		return nil, &UploadError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decoding upload response: %w", err),
		}
	}
	if result.CID == "" {
		return nil, &UploadError{
			StatusCode: resp.StatusCode,
			Reason:     "response did not include a CID",
		}
	}
	c.logger.Info(
		"blob pinned",
		"request_id", requestID,
		"cid", result.CID,
		"size", result.Size,
	)
	return &result, nil
}

const maxResponseBytes = 1 << 20

func buildUploadBody(
	blob []byte,
	metadata map[string]string,
) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set(
		"Content-Disposition",
		fmt.Sprintf(
			`form-data; name="file"; filename=%q`,
			BlobFileName,
		),
	)
	header.Set("Content-Type", "application/octet-stream")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("creating file part: %w", err)
	}
	if _, err := part.Write(blob); err != nil {
		return nil, "", fmt.Errorf("writing file part: %w", err)
	}
	if metadata != nil {
		meta, err := json.Marshal(metadata)
		if err != nil {
			return nil, "", fmt.Errorf("encoding metadata: %w", err)
		}
		if err := w.WriteField("metadata", string(meta)); err != nil {
			return nil, "", fmt.Errorf("writing metadata: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func newUploadError(resp *http.Response) *UploadError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	ret := &UploadError{StatusCode: resp.StatusCode}
	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != "" {
		ret.Reason = parsed.Error
		if parsed.Details != "" {
			ret.Reason += ": " + parsed.Details
		}
		return ret
	}
	ret.Reason = strings.TrimSpace(string(raw))
	if ret.Reason == "" {
		ret.Reason = http.StatusText(resp.StatusCode)
	}
	return ret
}

// URL returns the gateway URL for a CID
func (c *Client) URL(id string) string {
	return c.gatewayURL + "/ipfs/" + url.PathEscape(id)
}

// Download fetches the blob stored under id from the gateway
func (c *Client) Download(ctx context.Context, id string) ([]byte, error) {
	if _, err := cid.Decode(id); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidCID, id, err)
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.URL(id),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("creating download request: %w", err)
	}
	resp, err := c.httpClient.Do(req) //nolint:gosec // gateway URL comes from operator configuration
	if err != nil {
		return nil, &FetchError{CID: id, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, &FetchError{
			CID:        id,
			StatusCode: resp.StatusCode,
			Reason:     strings.TrimSpace(string(raw)),
		}
	}
	// Read one byte past the limit so oversized bodies are detected
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBlobSize+1))
	if err != nil {
		return nil, &FetchError{CID: id, StatusCode: resp.StatusCode, Err: err}
	}
	if len(data) > MaxBlobSize {
		return nil, fmt.Errorf(
			"%w: gateway returned more than %d bytes",
			ErrPayloadTooLarge,
			MaxBlobSize,
		)
	}
	return data, nil
}
