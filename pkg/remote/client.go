// Package remote implements the provider capabilities over the provider's
// HTTP dialect: /auth/v1 for identity, /rest/v1 for tables and /storage/v1
// for objects.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"charchat/pkg/provider"
)

const defaultTimeout = 10 * time.Second

// Options configures a Client.
type Options struct {
	BaseURL string
	// APIKey is sent as the apikey header and used as bearer when no
	// session is held.
	APIKey     string
	HTTPClient *http.Client
	Storage    SessionStorage
	Logger     *slog.Logger
	Now        func() time.Time
}

// Client talks to a provider over HTTP. It holds the signed-in session and is
// safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	storage    SessionStorage
	logger     *slog.Logger
	now        func() time.Time
	listeners  *provider.Listeners

	mu      sync.Mutex
	session *provider.Session
	loaded  bool

	// refreshMu serializes refresh grants; a rotated refresh token may only
	// be presented once.
	refreshMu sync.Mutex
}

// NewClient constructs a provider client.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("provider base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid provider base url: %w", err)
	}
	c := &Client{
		baseURL:    base,
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: opts.HTTPClient,
		storage:    opts.Storage,
		logger:     opts.Logger,
		now:        opts.Now,
		listeners:  provider.NewListeners(),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.storage == nil {
		c.storage = NewMemorySessionStorage()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

type request struct {
	method      string
	path        string
	query       url.Values
	token       string
	header      http.Header
	payload     any
	body        io.Reader
	contentType string
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	body := req.body
	contentType := req.contentType
	if req.payload != nil {
		data, err := json.Marshal(req.payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return err
	}
	for key, values := range req.header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("apikey", c.apiKey)
	}
	token := req.token
	if token == "" {
		token = c.apiKey
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.method, req.path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&errResp)
	msg := strings.TrimSpace(errResp.Error)
	if msg == "" {
		// Not a provider answer, e.g. a proxy error page.
		return fmt.Errorf("unexpected response: %s", resp.Status)
	}
	return &provider.Error{Status: resp.StatusCode, Message: msg, Code: strings.TrimSpace(errResp.Code)}
}
