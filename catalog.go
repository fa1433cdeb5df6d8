package overture

// ModelInfo describes one model a vendor offers, including its per-1K-token
// pricing in USD. Zero pricing means invocations cost nothing (local models,
// subscription OAuth).
type ModelInfo struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	ContextWindow   int     `json:"context_window"`
	MaxOutput       int     `json:"max_output"`
	Tools           bool    `json:"tools"`
	Streaming       bool    `json:"streaming"`
	InputCostPer1K  float64 `json:"input_cost_per_1k"`
	OutputCostPer1K float64 `json:"output_cost_per_1k"`
}

// VendorInfo describes one provider vendor and the models it serves. OAuth
// vendors carry the refresh endpoint and public client id used by the
// credential resolver.
type VendorInfo struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	DefaultModel string      `json:"default_model"`
	OAuth        bool        `json:"oauth"`
	TokenURL     string      `json:"token_url,omitempty"`
	ClientID     string      `json:"client_id,omitempty"`
	Models       []ModelInfo `json:"models"`
}

const (
	anthropicTokenURL = "https://console.anthropic.com/v1/oauth/token"
	anthropicClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
)

var vendors = []VendorInfo{
	{
		ID:           "anthropic",
		Name:         "Anthropic",
		DefaultModel: "claude-sonnet-4-5",
		Models: []ModelInfo{
			{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", ContextWindow: 200000, MaxOutput: 64000, Tools: true, Streaming: true, InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
			{ID: "claude-haiku-3-5", Name: "Claude Haiku 3.5", ContextWindow: 200000, MaxOutput: 8192, Tools: true, Streaming: true, InputCostPer1K: 0.0008, OutputCostPer1K: 0.004},
			{ID: "claude-opus-4", Name: "Claude Opus 4", ContextWindow: 200000, MaxOutput: 32000, Tools: true, Streaming: true, InputCostPer1K: 0.015, OutputCostPer1K: 0.075},
		},
	},
	{
		ID:           "anthropic-oauth",
		Name:         "Claude Pro/Max",
		DefaultModel: "claude-sonnet-4-5",
		OAuth:        true,
		TokenURL:     anthropicTokenURL,
		ClientID:     anthropicClientID,
		// Subscription access: token usage is not billed per call.
		Models: []ModelInfo{
			{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", ContextWindow: 200000, MaxOutput: 64000, Tools: true, Streaming: true},
			{ID: "claude-haiku-3-5", Name: "Claude Haiku 3.5", ContextWindow: 200000, MaxOutput: 8192, Tools: true, Streaming: true},
			{ID: "claude-opus-4", Name: "Claude Opus 4", ContextWindow: 200000, MaxOutput: 32000, Tools: true, Streaming: true},
		},
	},
	{
		ID:           "openai",
		Name:         "OpenAI",
		DefaultModel: "gpt-4o",
		Models: []ModelInfo{
			{ID: "gpt-4o", Name: "GPT-4o", ContextWindow: 128000, MaxOutput: 16384, Tools: true, Streaming: true, InputCostPer1K: 0.0025, OutputCostPer1K: 0.01},
			{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextWindow: 128000, MaxOutput: 16384, Tools: true, Streaming: true, InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006},
			{ID: "gpt-4.1", Name: "GPT-4.1", ContextWindow: 1047576, MaxOutput: 32768, Tools: true, Streaming: true, InputCostPer1K: 0.002, OutputCostPer1K: 0.008},
		},
	},
	{
		ID:           "ollama",
		Name:         "Ollama",
		DefaultModel: "qwen3:8b",
		Models: []ModelInfo{
			{ID: "qwen3:8b", Name: "Qwen3 8B", ContextWindow: 40960, MaxOutput: 8192, Tools: true, Streaming: true},
			{ID: "llama3.1:8b", Name: "Llama 3.1 8B", ContextWindow: 131072, MaxOutput: 8192, Tools: true, Streaming: true},
		},
	},
}

// Vendors returns the full vendor catalogue.
func Vendors() []VendorInfo { return vendors }

// Vendor looks up one vendor by id.
func Vendor(id string) (VendorInfo, error) {
	for _, v := range vendors {
		if v.ID == id {
			return v, nil
		}
	}
	return VendorInfo{}, ErrUnknownVendor
}

// LookupModel finds a model within a vendor's catalogue.
func LookupModel(vendor, model string) (ModelInfo, error) {
	v, err := Vendor(vendor)
	if err != nil {
		return ModelInfo{}, err
	}
	for _, m := range v.Models {
		if m.ID == model {
			return m, nil
		}
	}
	return ModelInfo{}, ErrUnknownModel
}

// Cost prices a usage against the catalogue. Unknown vendors and models cost
// zero; a turn is never failed over pricing.
func Cost(vendor, model string, usage Usage) float64 {
	m, err := LookupModel(vendor, model)
	if err != nil {
		return 0
	}
	return float64(usage.InputTokens)/1000*m.InputCostPer1K +
		float64(usage.OutputTokens)/1000*m.OutputCostPer1K
}
