package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nvoss/overture"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
)

// Provider implements overture.Provider for the Anthropic Messages API.
type Provider struct {
	apiKey  string
	baseURL string
	vendor  string
	client  *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (tests, proxies).
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = u
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.client = c
		}
	}
}

// New creates a Provider authenticating with an API key.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		vendor:  "anthropic",
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// NewOAuth creates a Provider authenticating with a subscription OAuth
// token. The transport refreshes expired tokens before dispatch and retries
// once after a 401; persist (optional) receives every rotated token.
func NewOAuth(creds overture.OAuthCredentials, tokenURL, clientID string, persist func(overture.OAuthCredentials), opts ...Option) *Provider {
	p := &Provider{
		baseURL: defaultBaseURL,
		vendor:  "anthropic-oauth",
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	p.client = &http.Client{
		Timeout:   p.client.Timeout,
		Transport: newOAuthTransport(creds, tokenURL, clientID, persist),
	}
	return p
}

var _ overture.Provider = (*Provider)(nil)

// Vendor returns the vendor id this provider serves.
func (p *Provider) Vendor() string { return p.vendor }

// Complete sends a non-streaming Messages request.
func (p *Provider) Complete(ctx context.Context, req overture.CallRequest) (overture.CallResponse, error) {
	resp, err := p.send(ctx, buildBody(req), false)
	if err != nil {
		return overture.CallResponse{}, err
	}
	defer resp.Body.Close()

	var out messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return overture.CallResponse{}, &overture.ErrModel{Vendor: p.vendor, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return parseResponse(out), nil
}

// Stream sends a streaming Messages request, emitting delta events on ch,
// and returns the accumulated response. ch is never closed here.
func (p *Provider) Stream(ctx context.Context, req overture.CallRequest, ch chan<- overture.StreamEvent) (overture.CallResponse, error) {
	body := buildBody(req)
	body.Stream = true
	resp, err := p.send(ctx, body, true)
	if err != nil {
		return overture.CallResponse{}, err
	}
	defer resp.Body.Close()
	return streamSSE(ctx, p.vendor, resp.Body, ch)
}

func (p *Provider) send(ctx context.Context, body messagesRequest, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &overture.ErrModel{Vendor: p.vendor, Message: fmt.Sprintf("marshal request: %v", err)}
	}
	url := p.baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &overture.ErrModel{Vendor: p.vendor, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", apiVersion)
	if p.apiKey != "" {
		httpReq.Header.Set("x-api-key", p.apiKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: send: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, &overture.ErrHTTP{Status: resp.StatusCode, URL: url, Body: string(raw)}
	}
	return resp, nil
}
