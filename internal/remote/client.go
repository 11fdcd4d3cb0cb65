// Package remote talks to the remote authority: the batch sync endpoint and
// the health endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"tasksync/internal/config"
	"tasksync/internal/models"
)

var (
	ErrUnexpectedStatus  = errors.New("unexpected status from remote")
	ErrMalformedResponse = errors.New("malformed response from remote")
)

type Client struct {
	cfg        config.RemoteConfig
	httpClient *http.Client
}

func NewClient(cfg config.RemoteConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
	}
}

// WithHTTPClient replaces the underlying transport client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// SendBatch posts one batch and returns the per-item outcomes. A response
// without processed_items is treated as malformed.
func (c *Client) SendBatch(ctx context.Context, batch models.BatchSyncRequest) (*models.BatchSyncResponse, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.BatchPath, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var wrap struct {
		ProcessedItems *[]models.ProcessedItem `json:"processed_items"`
	}
	if err := c.do(req, &wrap); err != nil {
		return nil, err
	}
	if wrap.ProcessedItems == nil {
		return nil, fmt.Errorf("%w: missing processed_items", ErrMalformedResponse)
	}
	return &models.BatchSyncResponse{ProcessedItems: *wrap.ProcessedItems}, nil
}

// Health checks the remote health endpoint. Any 2xx answer is healthy.
func (c *Client) Health(ctx context.Context) error {
	if c.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ProbeTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+c.cfg.HealthPath, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: http %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
