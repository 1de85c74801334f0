// Package remote is the HTTP client for the call record store.
//
// Collection endpoint: GET/POST {base}/calls.
// Resource endpoint:   PUT/DELETE {base}/calls/{id}, addressed by server id only.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"calldesk/internal/calls"
)

type Config struct {
	// BaseURL is the api root including the version, e.g. http://localhost:8080/v1.
	BaseURL string
	Timeout time.Duration
	// HttpClient, when nil, is built from Timeout.
	HttpClient *http.Client
	// MaxRetries applies to 429/502/503/504 only. Zero disables retries.
	MaxRetries     int
	RetryBaseDelay time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "http://localhost:8080/v1",
		Timeout:        15 * time.Second,
		RetryBaseDelay: time.Second,
	}
}

type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	cfg        Config
}

var ErrNoToken = errors.New("remote: access token is required")

func NewClient(token string, cfg *Config) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNoToken
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote: base url %q must be absolute", cfg.BaseURL)
	}
	hc := cfg.HttpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{baseURL: u, token: token, httpClient: hc, cfg: *cfg}, nil
}

func (c *Client) List(ctx context.Context) ([]calls.Record, error) {
	var docs []calls.Document
	if err := c.do(ctx, http.MethodGet, "calls", nil, &docs); err != nil {
		return nil, err
	}
	out := make([]calls.Record, 0, len(docs))
	for _, d := range docs {
		r, err := d.Record()
		if err != nil {
			return nil, fmt.Errorf("remote: list: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Create posts rec without its local id and returns the stored record under the server id.
func (c *Client) Create(ctx context.Context, rec calls.Record) (calls.Record, error) {
	body := calls.DocumentFromRecord(rec)
	body.ID = ""
	var doc calls.Document
	if err := c.do(ctx, http.MethodPost, "calls", body, &doc); err != nil {
		return calls.Record{}, err
	}
	out, err := doc.Record()
	if err != nil {
		return calls.Record{}, fmt.Errorf("remote: create: %w", err)
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, id string, rec calls.Record) error {
	if !calls.IsRemoteID(id) {
		return fmt.Errorf("%w: %q is not a server id", calls.ErrValidation, id)
	}
	body := calls.DocumentFromRecord(rec)
	body.ID = id
	return c.do(ctx, http.MethodPut, "calls/"+url.PathEscape(id), body, nil)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	if !calls.IsRemoteID(id) {
		return fmt.Errorf("%w: %q is not a server id", calls.ErrValidation, id)
	}
	return c.do(ctx, http.MethodDelete, "calls/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		raw = b
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, method, path, raw)
		if err != nil {
			return err
		}
		if isRetryableStatus(resp.StatusCode) && attempt < c.cfg.MaxRetries {
			delay := retryDelay(resp, c.cfg.RetryBaseDelay, attempt)
			resp.Body.Close()
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			continue
		}
		return parseResponse(resp, out)
	}
}

func (c *Client) send(ctx context.Context, method, path string, raw []byte) (*http.Response, error) {
	var rd io.Reader
	if raw != nil {
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+"/"+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func parseResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return NewAPIError(resp, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

func retryDelay(resp *http.Response, base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return base * (1 << uint(attempt))
}
