package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nvoss/overture"
)

func TestBuildBody(t *testing.T) {
	body := buildBody(overture.CallRequest{
		Model:  "claude-sonnet-4-5",
		System: "be brief",
		Messages: []overture.ChatMessage{
			overture.UserMessage("hi"),
			overture.AssistantMessage("looking", overture.ToolCall{
				ID: "c1", Name: "ls", Args: json.RawMessage(`{"dir":"."}`),
			}),
			overture.ToolResultMessage("c1", "a.go"),
		},
		Tools: []overture.ToolDefinition{{Name: "ls", Description: "list"}},
	})

	if body.System != "be brief" || body.MaxTokens != defaultMaxTokens {
		t.Errorf("body = %+v", body)
	}
	if len(body.Messages) != 3 {
		t.Fatalf("messages = %d", len(body.Messages))
	}
	asst := body.Messages[1]
	if asst.Role != "assistant" || len(asst.Content) != 2 {
		t.Fatalf("assistant message = %+v", asst)
	}
	if asst.Content[0].Type != "text" || asst.Content[1].Type != "tool_use" || asst.Content[1].ID != "c1" {
		t.Errorf("assistant blocks = %+v", asst.Content)
	}
	result := body.Messages[2]
	if result.Role != "user" || result.Content[0].Type != "tool_result" || result.Content[0].ToolUseID != "c1" {
		t.Errorf("result message = %+v", result)
	}
	// Tools with no schema still carry a valid JSON schema.
	if string(body.Tools[0].InputSchema) != `{"type":"object"}` {
		t.Errorf("schema = %s", body.Tools[0].InputSchema)
	}
}

func TestBuildBodyMergesSystemAndToolResults(t *testing.T) {
	body := buildBody(overture.CallRequest{
		System: "first",
		Messages: []overture.ChatMessage{
			overture.SystemMessage("second"),
			overture.UserMessage("go"),
			overture.AssistantMessage("", overture.ToolCall{ID: "a", Name: "x"}, overture.ToolCall{ID: "b", Name: "y"}),
			overture.ToolResultMessage("a", "ra"),
			overture.ToolResultMessage("b", "rb"),
		},
	})

	if body.System != "first\n\nsecond" {
		t.Errorf("system = %q", body.System)
	}
	// Both tool results fold into one user message.
	last := body.Messages[len(body.Messages)-1]
	if last.Role != "user" || len(last.Content) != 2 {
		t.Fatalf("merged results = %+v", last)
	}
	// Tool calls with no args get an explicit empty object.
	asst := body.Messages[1]
	if string(asst.Content[0].Input) != `{}` {
		t.Errorf("empty input = %s", asst.Content[0].Input)
	}
}

func TestParseResponse(t *testing.T) {
	resp := parseResponse(messagesResponse{
		Content: []contentBlock{
			{Type: "thinking", Text: "hmm"},
			{Type: "text", Text: "answer"},
			{Type: "tool_use", ID: "c1", Name: "ls", Input: json.RawMessage(`{}`)},
		},
		StopReason: "tool_use",
		Usage:      apiUsage{InputTokens: 9, OutputTokens: 3},
	})

	if resp.Content != "answer" || resp.Reasoning != "hmm" || resp.StopReason != "tool_use" {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "ls" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.Usage.InputTokens != 9 || resp.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func sse(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("data: ")
		b.WriteString(l)
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestStreamSSE(t *testing.T) {
	body := sse(
		`{"type":"message_start","message":{"usage":{"input_tokens":12}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hel"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"c1","name":"ls"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"dir\""}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":":\".\"}"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":5}}`,
	)

	ch := make(chan overture.StreamEvent, 32)
	resp, err := streamSSE(context.Background(), "anthropic", strings.NewReader(body), ch)
	if err != nil {
		t.Fatalf("streamSSE: %v", err)
	}
	close(ch)

	if resp.Content != "hello" || resp.StopReason != "tool_use" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "c1" || tc.Name != "ls" || string(tc.Args) != `{"dir":"."}` {
		t.Errorf("tool call = %+v", tc)
	}

	var sawStart, sawDelta bool
	for ev := range ch {
		switch ev.Type {
		case overture.EventToolInputStart:
			sawStart = true
		case overture.EventToolInputDelta:
			sawDelta = true
		}
	}
	if !sawStart || !sawDelta {
		t.Errorf("tool input events: start=%v delta=%v", sawStart, sawDelta)
	}
}

func TestStreamSSEThinking(t *testing.T) {
	body := sse(
		`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"let me see"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"done"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
	)
	resp, err := streamSSE(context.Background(), "anthropic", strings.NewReader(body), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Reasoning != "let me see" || resp.Content != "done" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestStreamSSEErrorChunk(t *testing.T) {
	body := sse(
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"par"}}`,
		`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
	)
	_, err := streamSSE(context.Background(), "anthropic", strings.NewReader(body), nil)
	var me *overture.ErrModel
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want ErrModel", err)
	}
	if me.Type != "overloaded_error" || me.Message != "Overloaded" {
		t.Errorf("model error = %+v", me)
	}
}

func TestProviderComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "sk-ant-test" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != apiVersion {
			t.Errorf("anthropic-version = %q", got)
		}
		json.NewEncoder(w).Encode(messagesResponse{
			Content:    []contentBlock{{Type: "text", Text: "pong"}},
			StopReason: "end_turn",
			Usage:      apiUsage{InputTokens: 3, OutputTokens: 1},
		})
	}))
	defer srv.Close()

	p := New("sk-ant-test", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	resp, err := p.Complete(context.Background(), overture.CallRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []overture.ChatMessage{overture.UserMessage("ping")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "pong" || resp.StopReason != "end_turn" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestProviderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"type":"error","error":{"type":"overloaded_error"}}`, 529)
	}))
	defer srv.Close()

	p := New("sk", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	_, err := p.Complete(context.Background(), overture.CallRequest{Model: "claude-sonnet-4-5"})
	if !overture.IsHTTPStatus(err, 529) {
		t.Fatalf("err = %v, want http 529", err)
	}
}

func TestProviderStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if !body.Stream {
			t.Error("stream flag not set")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sse(
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"streamed"}}`,
			`{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
		)))
	}))
	defer srv.Close()

	p := New("sk", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	ch := make(chan overture.StreamEvent, 8)
	resp, err := p.Stream(context.Background(), overture.CallRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []overture.ChatMessage{overture.UserMessage("hi")},
	}, ch)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if resp.Content != "streamed" || resp.StopReason != "end_turn" {
		t.Errorf("resp = %+v", resp)
	}
}
