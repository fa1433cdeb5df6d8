// Package registry builds model adapters from (vendor, model, credential)
// triples using the bundled vendor clients. It is the overture.AdapterFactory
// implementation the engine wires into the orchestrator.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nvoss/overture"
	"github.com/nvoss/overture/provider/anthropic"
	"github.com/nvoss/overture/provider/openaicompat"
)

// Registry implements overture.AdapterFactory over the bundled providers.
type Registry struct {
	logger    *slog.Logger
	client    *http.Client
	ollamaURL string
	openaiURL string
	// persist receives rotated OAuth tokens, keyed by vendor.
	persist func(vendor string) func(overture.OAuthCredentials)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger, passed down to adapters.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithHTTPClient sets the client providers dispatch through.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) {
		if c != nil {
			r.client = c
		}
	}
}

// WithOllamaURL overrides the local Ollama endpoint.
func WithOllamaURL(u string) Option {
	return func(r *Registry) {
		if u != "" {
			r.ollamaURL = u
		}
	}
}

// WithOpenAIURL overrides the OpenAI API base (proxies, Azure).
func WithOpenAIURL(u string) Option {
	return func(r *Registry) {
		if u != "" {
			r.openaiURL = u
		}
	}
}

// WithPersist installs the callback factory invoked when a provider rotates
// an OAuth token mid-request.
func WithPersist(f func(vendor string) func(overture.OAuthCredentials)) Option {
	return func(r *Registry) { r.persist = f }
}

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger:    nopLogger,
		client:    &http.Client{},
		ollamaURL: "http://localhost:11434/v1",
		openaiURL: "https://api.openai.com/v1",
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

var _ overture.AdapterFactory = (*Registry)(nil)

// NewAdapter builds a ModelAdapter for one turn. The credential is the raw
// stored payload: an API key, or for OAuth vendors the serialised token
// triple.
func (r *Registry) NewAdapter(_ context.Context, vendor, model, credential string) (overture.ModelAdapter, error) {
	if _, err := overture.LookupModel(vendor, model); err != nil {
		// Vendors may accept ids the catalogue has not enumerated yet; pass
		// the id through unchanged and let the vendor reject it.
		r.logger.Warn("model not in catalogue", "vendor", vendor, "model", model)
	}

	var p overture.Provider
	switch vendor {
	case "anthropic":
		p = anthropic.New(credential, anthropic.WithHTTPClient(r.client))

	case "anthropic-oauth":
		creds, err := overture.ParseOAuthCredentials(credential)
		if err != nil {
			return nil, err
		}
		info, err := overture.Vendor(vendor)
		if err != nil {
			return nil, err
		}
		var persist func(overture.OAuthCredentials)
		if r.persist != nil {
			persist = r.persist(vendor)
		}
		p = anthropic.NewOAuth(creds, info.TokenURL, info.ClientID, persist)

	case "openai":
		p = openaicompat.New(credential, r.openaiURL, openaicompat.WithHTTPClient(r.client))

	case "ollama":
		p = openaicompat.New("", r.ollamaURL,
			openaicompat.WithVendor("ollama"),
			openaicompat.WithHTTPClient(r.client))

	default:
		return nil, fmt.Errorf("%w: %q", overture.ErrUnknownVendor, vendor)
	}

	return overture.NewModel(p, model, overture.WithModelLogger(r.logger)), nil
}
