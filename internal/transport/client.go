// Package transport talks to the collector over its two write paths.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vincentbai/browsetrace/internal/models"
)

// ErrRejected is returned when the collector answers with a non-2xx status.
var ErrRejected = errors.New("collector rejected event")

const (
	DefaultTimeout       = 5 * time.Second
	DefaultBeaconTimeout = 2 * time.Second
)

// Client sends events to a collector. Write uses the ordinary batch path and
// Beacon the unload-safe path.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	timeout       time.Duration
	beaconTimeout time.Duration
}

type Option func(*Client)

// WithHTTPClient sends through a copy of httpClient; the caller's client is
// never modified.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithTimeout bounds each ordinary write, overriding the HTTP client's own
// timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.timeout = timeout }
}

func WithBeaconTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.beaconTimeout = timeout }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		beaconTimeout: DefaultBeaconTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	httpClient := &http.Client{Timeout: DefaultTimeout}
	if c.httpClient != nil {
		copied := *c.httpClient
		httpClient = &copied
	}
	if c.timeout > 0 {
		httpClient.Timeout = c.timeout
	}
	c.httpClient = httpClient
	return c
}

// Write posts one event as a batch to /events.
func (c *Client) Write(ctx context.Context, event models.Event) error {
	return c.WriteBatch(ctx, []models.Event{event})
}

func (c *Client) WriteBatch(ctx context.Context, events []models.Event) error {
	body, err := json.Marshal(models.Batch{Events: events})
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}
	return c.post(ctx, "/events", "application/json", body)
}

// Beacon posts a single event to /beacon. The request is detached from ctx's
// cancellation so page teardown cannot abort it; only the beacon timeout
// bounds it.
func (c *Client) Beacon(ctx context.Context, event models.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	beaconCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.beaconTimeout)
	defer cancel()

	return c.post(beaconCtx, "/beacon", "text/plain;charset=UTF-8", body)
}

func (c *Client) post(ctx context.Context, path, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned %d", ErrRejected, path, resp.StatusCode)
	}
	return nil
}
