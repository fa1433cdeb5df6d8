package overture

import "testing"

func TestNormalizeFinishReason(t *testing.T) {
	tests := []struct {
		raw  string
		want FinishReason
	}{
		{"stop", FinishStop},
		{"end_turn", FinishStop},
		{"stop_sequence", FinishStop},
		{"completed", FinishStop},
		{"tool_calls", FinishToolCalls},
		{"tool_use", FinishToolCalls},
		{"function_call", FinishToolCalls},
		{"length", FinishLength},
		{"max_tokens", FinishLength},
		{"content_filter", FinishError},
		{"refusal", FinishError},
		{"", FinishStop},
		{"something-new", FinishStop},
	}
	for _, tt := range tests {
		if got := NormalizeFinishReason(tt.raw); got != tt.want {
			t.Errorf("NormalizeFinishReason(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestUsageAdd(t *testing.T) {
	u := Usage{InputTokens: 10, OutputTokens: 5}
	u.Add(Usage{InputTokens: 3, OutputTokens: 7})
	if u.InputTokens != 13 || u.OutputTokens != 12 || u.Total() != 25 {
		t.Errorf("usage = %+v", u)
	}
}

func TestAgentModeUsability(t *testing.T) {
	tests := []struct {
		mode     AgentMode
		primary  bool
		subagent bool
	}{
		{ModePrimary, true, false},
		{ModeSubagent, false, true},
		{ModeAll, true, true},
		{"", true, true},
	}
	for _, tt := range tests {
		if got := tt.mode.UsableAsPrimary(); got != tt.primary {
			t.Errorf("%q UsableAsPrimary = %v, want %v", tt.mode, got, tt.primary)
		}
		if got := tt.mode.UsableAsSubagent(); got != tt.subagent {
			t.Errorf("%q UsableAsSubagent = %v, want %v", tt.mode, got, tt.subagent)
		}
	}
}
