// Package push is the outbound client for the push-notification gateway.
// The storefront only composes bilingual messages and forwards them; the
// gateway owns devices, segments and fan-out.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ErrNotConfigured is returned by Send when no gateway URL is set.
var ErrNotConfigured = errors.New("push gateway not configured")

// Message is one bilingual broadcast.
type Message struct {
	Title   string
	TitleEn string
	Body    string
	BodyEn  string
	// Segments overrides the client's default audience.
	Segments []string
}

// Result is the gateway's report for one accepted message.
type Result struct {
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	GatewayID string `json:"gateway_id,omitempty"`
}

// Delivery records one attempt to reach the gateway.
type Delivery struct {
	Attempt    int       `json:"attempt"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Config configures the push client.
type Config struct {
	URL        string
	AppID      string
	APIKey     string
	Segments   []string
	Logger     *slog.Logger
	MaxRetries int
	RetryDelay time.Duration
	HTTPClient *http.Client
	// History is how many delivery attempts are kept for inspection.
	History int
}

// Client sends notifications to the gateway, retrying transport errors and
// 5xx responses.
type Client struct {
	mu         sync.RWMutex
	url        string
	appID      string
	apiKey     string
	segments   []string
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
	client     *http.Client

	// deliveries is a ring; next is the slot the following attempt fills.
	deliveries []Delivery
	next       int
	full       bool
}

// NewClient creates a client. An empty URL yields a disabled client.
func NewClient(cfg Config) *Client {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if len(cfg.Segments) == 0 {
		cfg.Segments = []string{"Subscribed Users"}
	}
	if cfg.History < 1 {
		cfg.History = 500
	}
	return &Client{
		url:        cfg.URL,
		appID:      cfg.AppID,
		apiKey:     cfg.APIKey,
		segments:   cfg.Segments,
		logger:     cfg.Logger,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client:     cfg.HTTPClient,
		deliveries: make([]Delivery, cfg.History),
	}
}

// Enabled reports whether a gateway URL is configured.
func (c *Client) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url != ""
}

// SetURL points the client at a different gateway.
func (c *Client) SetURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url = url
}

type localized struct {
	Ar string `json:"ar"`
	En string `json:"en,omitempty"`
}

type request struct {
	AppID            string    `json:"app_id"`
	Headings         localized `json:"headings"`
	Contents         localized `json:"contents"`
	IncludedSegments []string  `json:"included_segments"`
}

type response struct {
	ID         string          `json:"id"`
	Recipients int             `json:"recipients"`
	Errors     json.RawMessage `json:"errors,omitempty"`
}

// failures counts rejected recipients. The gateway reports either a list
// of messages or an object of invalid ID lists.
func (r response) failures() int {
	if len(r.Errors) == 0 {
		return 0
	}
	var list []string
	if err := json.Unmarshal(r.Errors, &list); err == nil {
		return len(list)
	}
	var byKind map[string][]string
	if err := json.Unmarshal(r.Errors, &byKind); err == nil {
		n := 0
		for _, ids := range byKind {
			n += len(ids)
		}
		return n
	}
	return 0
}

// Send posts msg to the gateway.
func (c *Client) Send(ctx context.Context, msg Message) (Result, error) {
	c.mu.RLock()
	url, appID, apiKey := c.url, c.appID, c.apiKey
	segments := c.segments
	c.mu.RUnlock()

	if url == "" {
		return Result{}, ErrNotConfigured
	}
	if len(msg.Segments) > 0 {
		segments = msg.Segments
	}

	payload, err := json.Marshal(request{
		AppID:            appID,
		Headings:         localized{Ar: msg.Title, En: msg.TitleEn},
		Contents:         localized{Ar: msg.Body, En: msg.BodyEn},
		IncludedSegments: segments,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal push request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		res, retry, err := c.attempt(ctx, url, apiKey, payload, attempt)
		if err == nil {
			c.logger.Info("push delivered", "gateway_id", res.GatewayID, "sent", res.Sent, "failed", res.Failed, "attempt", attempt)
			return res, nil
		}
		lastErr = err
		if !retry || attempt == c.maxRetries {
			break
		}
		c.logger.Debug("push attempt failed, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	c.logger.Warn("push delivery failed", "error", lastErr)
	return Result{}, lastErr
}

// attempt makes one request. retry reports whether a failure is transient.
func (c *Client) attempt(ctx context.Context, url, apiKey string, payload []byte, n int) (Result, bool, error) {
	delivery := Delivery{Attempt: n, URL: url, Timestamp: time.Now().UTC()}
	defer func() { c.record(delivery) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		delivery.Error = err.Error()
		return Result{}, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if apiKey != "" {
		req.Header.Set("Authorization", "Key "+apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		delivery.Error = err.Error()
		return Result{}, ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	delivery.StatusCode = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("push gateway returned status %d", resp.StatusCode)
		delivery.Error = err.Error()
		return Result{}, resp.StatusCode >= 500, err
	}

	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		delivery.Error = err.Error()
		return Result{}, false, fmt.Errorf("decode push response: %w", err)
	}
	return Result{Sent: out.Recipients, Failed: out.failures(), GatewayID: out.ID}, false, nil
}

func (c *Client) record(d Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveries[c.next] = d
	c.next = (c.next + 1) % len(c.deliveries)
	if c.next == 0 {
		c.full = true
	}
}

// Deliveries returns the retained attempts, oldest first.
func (c *Client) Deliveries() []Delivery {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.full {
		return append([]Delivery{}, c.deliveries[:c.next]...)
	}
	out := make([]Delivery, 0, len(c.deliveries))
	out = append(out, c.deliveries[c.next:]...)
	return append(out, c.deliveries[:c.next]...)
}

// Reset clears recorded deliveries.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.deliveries)
	c.next, c.full = 0, false
}
