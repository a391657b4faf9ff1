// Package sidecar is a client for the browser-automation sidecar that owns
// the messaging web session.
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wabulk/internal/phone"
	logx "wabulk/pkg/logx"
)

const defaultTimeout = 60 * time.Second

// SendTextRequest is the body of POST /send/text.
type SendTextRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SendResponse is returned by both send endpoints.
type SendResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string `json:"status"` // ok, degraded, error
	BrowserReady bool   `json:"browserReady"`
	LoggedIn     bool   `json:"loggedIn"`
	Version      string `json:"version,omitempty"`
}

// Client talks to one sidecar. It is one messaging session.
type Client struct {
	name       string
	baseURL    string
	token      string
	httpClient *http.Client
	log        logx.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds every request. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithToken(token string) Option { return func(c *Client) { c.token = strings.TrimSpace(token) } }

func WithName(name string) Option { return func(c *Client) { c.name = name } }

func WithLogger(log logx.Logger) Option { return func(c *Client) { c.log = log } }

// New creates a client for the sidecar at baseURL (e.g. "http://localhost:3000").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		name:       "sidecar",
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        logx.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// SendText sends a text message. A nil error means the sidecar reported success.
func (c *Client) SendText(ctx context.Context, to phone.Number, text string) error {
	body, err := json.Marshal(SendTextRequest{To: to.E164(), Text: text})
	if err != nil {
		return fmt.Errorf("sidecar: marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/send/text", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doSend(req, to)
}

// SendImage uploads the image with an optional caption.
func (c *Client) SendImage(ctx context.Context, to phone.Number, imagePath, caption string) error {
	f, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("sidecar: open image: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("to", to.E164())
	if caption != "" {
		_ = mw.WriteField("caption", caption)
	}
	part, err := mw.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return fmt.Errorf("sidecar: build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("sidecar: read image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("sidecar: build upload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/send/image", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.doSend(req, to)
}

// Health checks that the sidecar's browser is up and logged in.
func (c *Client) Health(ctx context.Context) error {
	h, err := c.HealthStatus(ctx)
	if err != nil {
		return err
	}
	if h.Status != "ok" || !h.BrowserReady {
		return fmt.Errorf("sidecar: not ready (status=%s browserReady=%t)", h.Status, h.BrowserReady)
	}
	return nil
}

// HealthStatus returns the raw health document.
func (c *Client) HealthStatus(ctx context.Context) (*HealthResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sidecar: health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("sidecar: health check failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var h HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("sidecar: decode health response: %w", err)
	}
	return &h, nil
}

// Close releases idle connections. The sidecar keeps its browser session.
func (c *Client) Close(context.Context) error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("sidecar: create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doSend(req *http.Request, to phone.Number) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sidecar: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out SendResponse
	if jerr := json.Unmarshal(raw, &out); jerr != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("sidecar: send failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return fmt.Errorf("sidecar: decode response: %w", jerr)
	}
	if resp.StatusCode != http.StatusOK || !out.Success {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("sidecar: send failed: %s", msg)
	}
	c.log.Debug("sidecar send ok", logx.String("to", to.E164()), logx.String("path", req.URL.Path), logx.Duration("took", time.Since(start)))
	return nil
}
