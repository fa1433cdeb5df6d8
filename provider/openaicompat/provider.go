package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nvoss/overture"
)

// Provider implements overture.Provider for any OpenAI-compatible API. It
// uses the shared helpers in this package (BuildBody, StreamSSE,
// ParseResponse) for body building, streaming, and response parsing.
type Provider struct {
	apiKey  string
	baseURL string
	vendor  string
	client  *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.client = c
		}
	}
}

// WithVendor overrides the vendor id the provider reports (default
// "openai"). The Ollama wiring uses this.
func WithVendor(v string) Option {
	return func(p *Provider) {
		if v != "" {
			p.vendor = v
		}
	}
}

// New creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "http://localhost:11434/v1"). The /chat/completions path is appended
// automatically. An empty apiKey sends no Authorization header.
func New(apiKey, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: baseURL,
		vendor:  "openai",
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

var _ overture.Provider = (*Provider)(nil)

// Vendor returns the vendor id this provider serves.
func (p *Provider) Vendor() string { return p.vendor }

// Complete sends a non-streaming chat request and returns the full response.
func (p *Provider) Complete(ctx context.Context, req overture.CallRequest) (overture.CallResponse, error) {
	body := BuildBody(req.Model, req)

	resp, err := p.send(ctx, body)
	if err != nil {
		return overture.CallResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return overture.CallResponse{}, p.httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return overture.CallResponse{}, &overture.ErrModel{Vendor: p.vendor, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return ParseResponse(chatResp), nil
}

// Stream sends a streaming chat request, emitting delta events on ch, and
// returns the accumulated response. ch is never closed here.
func (p *Provider) Stream(ctx context.Context, req overture.CallRequest, ch chan<- overture.StreamEvent) (overture.CallResponse, error) {
	body := BuildBody(req.Model, req)
	body.Stream = true
	body.StreamOptions = &StreamOptions{IncludeUsage: true}

	resp, err := p.send(ctx, body)
	if err != nil {
		return overture.CallResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return overture.CallResponse{}, p.httpErr(resp)
	}
	return StreamSSE(ctx, resp.Body, ch)
}

func (p *Provider) send(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &overture.ErrModel{Vendor: p.vendor, Message: fmt.Sprintf("marshal request: %v", err)}
	}
	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &overture.ErrModel{Vendor: p.vendor, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return p.client.Do(httpReq)
}

func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	return &overture.ErrHTTP{
		Status: resp.StatusCode,
		URL:    p.baseURL + "/chat/completions",
		Body:   string(body),
	}
}
