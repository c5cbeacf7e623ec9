// Package ingest provides the HTTP client for the remote ingestion service.
//
// The client implements importer.BatchSender: one POST per batch carrying the
// normalized records plus session metadata, one decoded response back. The
// ingestion service owns deduplication and storage; any non-2xx status is a
// whole-chunk failure and the orchestrator's isolation rules apply.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/commsync/commsync/internal/importer"
)

// DefaultTimeout is the client-level HTTP timeout. The orchestrator applies
// its own per-batch context deadline on top.
const DefaultTimeout = 90 * time.Second

// communicationsPath is the batch endpoint path under the base URL.
const communicationsPath = "/communications/bulk"

// Options configures a Client.
type Options struct {
	BaseURL string        // required, e.g. https://ingest.example.com/api/v1
	APIKey  string        // optional bearer token
	Timeout time.Duration // defaults to DefaultTimeout
}

// Client posts batches to the ingestion endpoint.
type Client struct {
	hc     *http.Client
	url    string
	apiKey string
}

// New builds a client from options. The base URL must be set.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("ingest: base URL is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		hc:     &http.Client{Timeout: opts.Timeout},
		url:    strings.TrimRight(opts.BaseURL, "/") + communicationsPath,
		apiKey: opts.APIKey,
	}, nil
}

// SendBatch dispatches one batch and decodes the endpoint's counters.
// Implements importer.BatchSender.
func (c *Client) SendBatch(ctx context.Context, req importer.BatchRequest) (*importer.BatchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ingest: encode batch: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ingest: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ingest: send batch: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("ingest: endpoint returned %d: %s",
			httpResp.StatusCode, readErrorBody(httpResp.Body))
	}

	var resp importer.BatchResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("ingest: decode response: %w", err)
	}
	return &resp, nil
}

// readErrorBody extracts a short diagnostic from an error response without
// trusting its size.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(data) == 0 {
		return "(no body)"
	}
	return strings.TrimSpace(string(data))
}
