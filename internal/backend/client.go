// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend is the HTTP client for the conversational backend.
//
// Three endpoints are used:
//
//	POST /chat      {"request":{"prompt":"..."}}  -> JSON document or data: stream
//	GET  /health    any 2xx within a short timeout means reachable
//	POST /feedback  {"request":{"interaction_id":42,"feedback":true}}
//
// Transport failures are returned as chaterr Connectivity errors and non-2xx
// responses as chaterr Server errors carrying the status.
package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/streamchat/internal/chaterr"
	"github.com/jeranaias/streamchat/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultBaseURL is the default backend address.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// DefaultHealthTimeout bounds the health probe.
	DefaultHealthTimeout = 2500 * time.Millisecond

	// MaxResponseSize caps non-streaming response bodies (1MB).
	MaxResponseSize = 1024 * 1024

	// maxErrorBody is how much of an error body is kept in the error.
	maxErrorBody = 200

	userAgent = "streamchat/1.0"
)

var (
	// Shared pooled transport for short requests.
	sharedHTTPClient = &http.Client{
		Transport: newTransport(),
		Timeout:   DefaultTimeout,
	}

	// Streaming requests have no client timeout; the context controls them.
	sharedStreamingClient = &http.Client{
		Transport: newTransport(),
	}
)

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}
}

// =============================================================================
// TYPES
// =============================================================================

// Config configures the client.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	HealthTimeout time.Duration

	// FeedbackRate is the sustained feedback calls per second, FeedbackBurst
	// the burst on top of it.
	FeedbackRate  float64
	FeedbackBurst int
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:       DefaultBaseURL,
		Timeout:       DefaultTimeout,
		HealthTimeout: DefaultHealthTimeout,
		FeedbackRate:  1,
		FeedbackBurst: 3,
	}
}

// StreamResponse is an open chat response. The caller must close Body.
type StreamResponse struct {
	Status      int
	ContentType string
	Body        io.ReadCloser
}

// FeedbackResponse is the body of a /feedback reply.
type FeedbackResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Status  string          `json:"status,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

type chatRequest struct {
	Request struct {
		Prompt string `json:"prompt"`
	} `json:"request"`
}

type feedbackRequest struct {
	Request struct {
		InteractionID int64 `json:"interaction_id"`
		Feedback      bool  `json:"feedback"`
	} `json:"request"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	baseURL       string
	timeout       time.Duration
	healthTimeout time.Duration
	sessionID     string

	httpClient   *http.Client
	streamClient *http.Client
	feedback     *rate.Limiter
	logger       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces both the short-request and streaming clients.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
			c.streamClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client. Zero config fields take their defaults.
func NewClient(cfg Config, opts ...Option) *Client {
	d := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = d.HealthTimeout
	}
	if cfg.FeedbackRate <= 0 {
		cfg.FeedbackRate = d.FeedbackRate
	}
	if cfg.FeedbackBurst <= 0 {
		cfg.FeedbackBurst = d.FeedbackBurst
	}

	c := &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		timeout:       cfg.Timeout,
		healthTimeout: cfg.HealthTimeout,
		sessionID:     uuid.NewString(),
		httpClient:    sharedHTTPClient,
		streamClient:  sharedStreamingClient,
		feedback:      rate.NewLimiter(rate.Limit(cfg.FeedbackRate), cfg.FeedbackBurst),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SessionID returns the id sent with every request.
func (c *Client) SessionID() string {
	return c.sessionID
}

// ChatStream sends prompt and returns the open response.
func (c *Client) ChatStream(ctx context.Context, prompt string) (*StreamResponse, error) {
	var body chatRequest
	body.Request.Prompt = prompt

	req, err := c.newJSONRequest(ctx, http.MethodPost, "/chat", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream, application/json")
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, chaterr.Wrap(chaterr.KindConnectivity, "chat", err)
	}
	c.logger.Debug("chat response",
		zap.Int("status", resp.StatusCode),
		zap.String("content_type", resp.Header.Get("Content-Type")),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, errorFromResponse("chat", resp)
	}

	return &StreamResponse{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
	}, nil
}

// Health probes /health with the short health timeout.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return chaterr.Wrap(chaterr.KindConnectivity, "health", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse("health", resp)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseSize))
	return nil
}

// SubmitFeedback sends a rating for interactionID.
func (c *Client) SubmitFeedback(ctx context.Context, interactionID int64, positive bool) (*FeedbackResponse, error) {
	if err := c.feedback.Wait(ctx); err != nil {
		return nil, chaterr.Wrap(chaterr.KindConnectivity, "feedback", err)
	}

	var body feedbackRequest
	body.Request.InteractionID = interactionID
	body.Request.Feedback = positive

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newJSONRequest(ctx, http.MethodPost, "/feedback", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, chaterr.Wrap(chaterr.KindConnectivity, "feedback", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errorFromResponse("feedback", resp)
	}

	data, err := readResponse(resp)
	if err != nil {
		return nil, chaterr.Wrap(chaterr.KindConnectivity, "feedback", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &FeedbackResponse{Success: true}, nil
	}

	var fr FeedbackResponse
	if err := json.Unmarshal(data, &fr); err != nil {
		return nil, chaterr.Wrap(chaterr.KindParse, "feedback", err)
	}
	if !fr.Success {
		msg := fr.Message
		if msg == "" {
			msg = "feedback rejected"
		}
		return &fr, chaterr.New(chaterr.KindServer, "feedback", msg)
	}
	return &fr, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) newJSONRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Session-ID", c.sessionID)
}

// readResponse reads a body up to MaxResponseSize.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// errorFromResponse turns a non-2xx response into a Server error. JSON bodies
// with a message, error or detail field contribute that field.
func errorFromResponse(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	msg := strings.TrimSpace(string(data))
	var parsed struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
		Detail  any    `json:"detail"`
	}
	if json.Unmarshal(data, &parsed) == nil {
		switch {
		case parsed.Message != "":
			msg = parsed.Message
		case parsed.Error != nil:
			msg = fmt.Sprint(parsed.Error)
		case parsed.Detail != nil:
			msg = fmt.Sprint(parsed.Detail)
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return chaterr.Server(op, resp.StatusCode, util.TruncateWidth(util.SingleLine(msg), maxErrorBody))
}
