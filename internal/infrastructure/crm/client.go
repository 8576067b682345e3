// Package crm is the HTTP client for the external contact-management and
// messaging API.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ordersync/backend/internal/domain/ordersync"
)

// maxResponseSize bounds how much of a response body is read (1MB)
const maxResponseSize = 1 << 20

var (
	_ ordersync.ContactAPI    = (*Client)(nil)
	_ ordersync.MessageSender = (*Client)(nil)
)

// Client talks to the contact API. It is safe for concurrent use.
type Client struct {
	config     *Config
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default traced HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the client logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a contact API client
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("crm: invalid base url: %w", err)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		config:  cfg,
		baseURL: base,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Contacts
// ---------------------------------------------------------------------------

type contactList struct {
	Data []ordersync.Contact `json:"data"`
}

// FindByIdentity looks a contact up by phone or email
func (c *Client) FindByIdentity(ctx context.Context, identity string) (*ordersync.Contact, error) {
	q := url.Values{"identity": {identity}}
	var list contactList
	err := c.do(ctx, http.MethodGet, "/contacts", q, nil, &list)
	if err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return nil, ordersync.ErrContactNotFound
		}
		return nil, err
	}
	if len(list.Data) == 0 {
		return nil, ordersync.ErrContactNotFound
	}
	return &list.Data[0], nil
}

// Create creates a contact
func (c *Client) Create(ctx context.Context, payload ordersync.ContactPayload) (*ordersync.Contact, error) {
	var contact ordersync.Contact
	if err := c.do(ctx, http.MethodPost, "/contacts", nil, payload, &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

// UpdateCustomFields replaces the given custom fields of a contact
func (c *Client) UpdateCustomFields(ctx context.Context, contactID string, fields map[string]string) (*ordersync.Contact, error) {
	body := struct {
		CustomFields map[string]string `json:"custom_fields"`
	}{CustomFields: fields}

	var contact ordersync.Contact
	path := "/contacts/" + url.PathEscape(contactID) + "/custom_fields"
	if err := c.do(ctx, http.MethodPatch, path, nil, body, &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

// CheckChannelAvailability reports whether the configured channel reaches identity
func (c *Client) CheckChannelAvailability(ctx context.Context, identity string) (bool, error) {
	q := url.Values{"identity": {identity}, "channel": {c.config.Channel}}
	var resp struct {
		Available bool `json:"available"`
	}
	if err := c.do(ctx, http.MethodGet, "/channels/availability", q, nil, &resp); err != nil {
		return false, err
	}
	return resp.Available, nil
}

// ---------------------------------------------------------------------------
// Messaging
// ---------------------------------------------------------------------------

type messageRequest struct {
	ordersync.SendRequest
	Channel string `json:"channel"`
}

// Send delivers a templated message and returns the provider message id
func (c *Client) Send(ctx context.Context, req ordersync.SendRequest) (string, error) {
	var resp struct {
		MessageID string `json:"message_id"`
	}
	body := messageRequest{SendRequest: req, Channel: c.config.Channel}
	if err := c.do(ctx, http.MethodPost, "/messages", nil, body, &resp); err != nil {
		return "", err
	}
	if resp.MessageID == "" {
		return "", &APIError{StatusCode: http.StatusBadGateway, Message: "response carried no message_id"}
	}
	return resp.MessageID, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("crm: rate limit wait: %w", err)
	}

	u := *c.baseURL
	u.Path += path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("crm: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("crm: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("crm: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("crm: read response: %w", err)
	}

	c.logger.Debug("crm request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		return newAPIError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("crm: decode %s %s response: %w", method, path, err)
	}
	return nil
}
