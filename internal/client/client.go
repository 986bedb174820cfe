// Package client provides a Go SDK for talking to a causalkv node.
//
// It wraps the raw HTTP calls described in spec.md §6 so a caller
// writes:
//
//	c.Put(ctx, "key", "value", ctx_)
//	c.Get(ctx, "key", ctx_)
//
// instead of building requests and decoding JSON by hand. The causal
// context returned from one call is meant to be threaded into the
// next: that's what keeps a single client's reads and writes causally
// consistent across a sequence of requests to possibly different
// replicas.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"causalkv/internal/causal"
	"causalkv/internal/node"
)

// Client talks to ONE causalkv node. That node is responsible for
// proxying to the right shard if it doesn't own the key itself — this
// SDK has no partitioning or replication logic of its own.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client bound to baseURL, e.g. "http://localhost:13800".
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Put stores key=value, carrying ctx forward from a prior call (or the
// zero value on a client's first request).
func (c *Client) Put(ctx context.Context, key, value string, causalCtx causal.Ctx) (*node.PutResponse, error) {
	body, _ := json.Marshal(node.PutRequest{Value: &value, CausalContext: causalCtx})

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/kvs/keys/%s", c.baseURL, key), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("PUT request failed: %w", err)
	}
	defer resp.Body.Close()

	var result node.PutResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return &result, &APIError{Status: resp.StatusCode, Message: result.Error}
	}
	return &result, nil
}

// Get retrieves key's value along with the server's notion of its
// causal history, or ErrNotFound if the key doesn't exist.
func (c *Client) Get(ctx context.Context, key string, causalCtx causal.Ctx) (*node.GetResponse, error) {
	body, _ := json.Marshal(node.GetRequest{CausalContext: causalCtx})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/kvs/keys/%s", c.baseURL, key), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET request failed: %w", err)
	}
	defer resp.Body.Close()

	var result node.GetResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return &result, nil
	case http.StatusNotFound:
		return &result, ErrNotFound
	default:
		return &result, &APIError{Status: resp.StatusCode, Message: result.Error}
	}
}

// ViewChange triggers a reshard to the given comma-separated view at
// the given replication factor (spec.md §4.5).
func (c *Client) ViewChange(ctx context.Context, view string, replFactor int) (*node.ViewChangeResponse, error) {
	body, _ := json.Marshal(node.ViewChangeRequest{View: view, ReplFactor: replFactor})

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/kvs/view-change", c.baseURL), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("view-change request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var result node.ViewChangeResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// KeyCount reports this node's local key count and shard id.
func (c *Client) KeyCount(ctx context.Context) (*node.KeyCountResponse, error) {
	var result node.KeyCountResponse
	if err := c.getJSON(ctx, "/kvs/key-count", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Shards lists the cluster's shard indices.
func (c *Client) Shards(ctx context.Context) (*node.ShardsResponse, error) {
	var result node.ShardsResponse
	if err := c.getJSON(ctx, "/kvs/shards", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ShardInfo reports key count and replica addresses for shard id.
func (c *Client) ShardInfo(ctx context.Context, id int) (*node.ShardSummary, error) {
	var result node.ShardSummary
	if err := c.getJSON(ctx, fmt.Sprintf("/kvs/shards/%d", id), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ─── Errors ───────────────────────────────────────────────────────────

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = fmt.Errorf("key not found")

// APIError carries the HTTP status and the error message from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
