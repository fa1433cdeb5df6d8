package overture

import (
	"errors"
	"testing"
)

func TestVendorLookup(t *testing.T) {
	v, err := Vendor("anthropic")
	if err != nil {
		t.Fatal(err)
	}
	if v.DefaultModel != "claude-sonnet-4-5" {
		t.Errorf("default model = %q", v.DefaultModel)
	}

	oauth, err := Vendor("anthropic-oauth")
	if err != nil {
		t.Fatal(err)
	}
	if !oauth.OAuth || oauth.TokenURL == "" || oauth.ClientID == "" {
		t.Errorf("oauth vendor incomplete: %+v", oauth)
	}

	if _, err := Vendor("nope"); !errors.Is(err, ErrUnknownVendor) {
		t.Errorf("err = %v, want ErrUnknownVendor", err)
	}
}

func TestLookupModel(t *testing.T) {
	m, err := LookupModel("openai", "gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}
	if !m.Tools || !m.Streaming {
		t.Errorf("model caps = %+v", m)
	}

	if _, err := LookupModel("openai", "gpt-2"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("err = %v, want ErrUnknownModel", err)
	}
	if _, err := LookupModel("nope", "gpt-4o"); !errors.Is(err, ErrUnknownVendor) {
		t.Errorf("err = %v, want ErrUnknownVendor", err)
	}
}

func TestCost(t *testing.T) {
	tests := []struct {
		name   string
		vendor string
		model  string
		usage  Usage
		want   float64
	}{
		{"sonnet small turn", "anthropic", "claude-sonnet-4-5", Usage{InputTokens: 4, OutputTokens: 2}, 0.000042},
		{"opus", "anthropic", "claude-opus-4", Usage{InputTokens: 1000, OutputTokens: 1000}, 0.09},
		{"oauth is free", "anthropic-oauth", "claude-sonnet-4-5", Usage{InputTokens: 5000, OutputTokens: 5000}, 0},
		{"local is free", "ollama", "qwen3:8b", Usage{InputTokens: 100, OutputTokens: 100}, 0},
		{"unknown model", "anthropic", "claude-0", Usage{InputTokens: 100, OutputTokens: 100}, 0},
		{"unknown vendor", "nope", "x", Usage{InputTokens: 100, OutputTokens: 100}, 0},
		{"zero usage", "openai", "gpt-4o", Usage{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cost(tt.vendor, tt.model, tt.usage); !closeTo(got, tt.want) {
				t.Errorf("Cost = %v, want %v", got, tt.want)
			}
		})
	}
}
