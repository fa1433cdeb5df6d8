package overture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

const (
	defaultMaxSteps = 10

	// maxParallelDispatch caps the tool worker pool per step.
	maxParallelDispatch = 10

	// maxToolResultRunes bounds what a single tool result feeds back into
	// the dialogue.
	maxToolResultRunes = 100_000
)

// model drives the reason/act loop over a single Provider. It is the bundled
// ModelAdapter implementation; AdapterFactory builds one per turn.
type model struct {
	provider Provider
	modelID  string
	logger   *slog.Logger
	maxSteps int
}

// ModelOption configures the bundled adapter.
type ModelOption func(*model)

// WithModelLogger sets the adapter's logger.
func WithModelLogger(l *slog.Logger) ModelOption {
	return func(m *model) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithDefaultMaxSteps changes the step ceiling used when a request does not
// set one.
func WithDefaultMaxSteps(n int) ModelOption {
	return func(m *model) {
		if n > 0 {
			m.maxSteps = n
		}
	}
}

// NewModel wraps a Provider and model id in the multi-step streaming
// contract the orchestrator drives.
func NewModel(p Provider, modelID string, opts ...ModelOption) ModelAdapter {
	m := &model{provider: p, modelID: modelID, logger: nopLogger, maxSteps: defaultMaxSteps}
	for _, o := range opts {
		o(m)
	}
	return m
}

// emit sends ev on ch unless ch is nil, giving up when ctx is cancelled.
func emit(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) {
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}

func (m *model) GenerateText(ctx context.Context, req StreamTextRequest) (StreamTextResult, error) {
	return m.run(ctx, req, nil)
}

func (m *model) StreamText(ctx context.Context, req StreamTextRequest, ch chan<- StreamEvent) (StreamTextResult, error) {
	return m.run(ctx, req, ch)
}

func (m *model) run(ctx context.Context, req StreamTextRequest, ch chan<- StreamEvent) (StreamTextResult, error) {
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = m.maxSteps
	}

	bindings := make(map[string]ToolBinding, len(req.Tools))
	defs := make([]ToolDefinition, 0, len(req.Tools))
	for _, t := range req.Tools {
		bindings[t.Name] = t
		defs = append(defs, ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}

	messages := append([]ChatMessage(nil), req.Messages...)
	var result StreamTextResult
	var text strings.Builder

	for step := 0; step < maxSteps; step++ {
		result.Steps = step + 1
		emit(ctx, ch, StreamEvent{Type: EventStepStart, Step: step})

		// Forward provider deltas with the step number stamped in. The
		// forwarder is drained before the step continues.
		var fwd chan StreamEvent
		var fwdDone chan struct{}
		if ch != nil {
			fwd = make(chan StreamEvent, 16)
			fwdDone = make(chan struct{})
			go func(step int) {
				defer close(fwdDone)
				for ev := range fwd {
					ev.Step = step
					emit(ctx, ch, ev)
				}
			}(step)
		}

		resp, err := m.provider.Stream(ctx, CallRequest{
			Model:       m.modelID,
			System:      req.System,
			Messages:    messages,
			Tools:       defs,
			Temperature: req.Temperature,
			TopP:        req.TopP,
		}, fwd)
		if fwd != nil {
			close(fwd)
			<-fwdDone
		}
		if err != nil {
			emit(ctx, ch, StreamEvent{Type: EventError, Step: step, Content: err.Error(), ErrorType: errorTypeOf(err)})
			result.FinishReason = FinishError
			return result, err
		}
		result.Usage.Add(resp.Usage)
		text.WriteString(resp.Content)

		if len(resp.ToolCalls) == 0 {
			reason := NormalizeFinishReason(resp.StopReason)
			emit(ctx, ch, StreamEvent{Type: EventStepFinish, Step: step, FinishReason: reason, Usage: resp.Usage})
			emit(ctx, ch, StreamEvent{Type: EventFinish, Step: step, FinishReason: reason, Usage: result.Usage})
			result.Text = text.String()
			result.FinishReason = reason
			return result, nil
		}

		for _, tc := range resp.ToolCalls {
			emit(ctx, ch, StreamEvent{
				Type: EventToolCall, Step: step,
				ToolName: tc.Name, ToolCallID: tc.ID, ToolInput: tc.Args,
			})
		}
		messages = append(messages, AssistantMessage(resp.Content, resp.ToolCalls...))

		results := m.dispatchParallel(ctx, resp.ToolCalls, bindings)
		for i, tc := range resp.ToolCalls {
			r := results[i]
			emit(ctx, ch, StreamEvent{
				Type: EventToolResult, Step: step,
				ToolName: tc.Name, ToolCallID: tc.ID,
				Content: r.content, IsError: r.isError,
			})
			messages = append(messages, ToolResultMessage(tc.ID, truncateRunes(r.content, maxToolResultRunes)))
		}
		emit(ctx, ch, StreamEvent{Type: EventStepFinish, Step: step, FinishReason: FinishToolCalls, Usage: resp.Usage})

		if err := ctx.Err(); err != nil {
			emit(ctx, ch, StreamEvent{Type: EventError, Step: step, Content: err.Error(), ErrorType: "cancelled"})
			result.FinishReason = FinishError
			return result, err
		}
	}

	// Step ceiling reached with the model still asking for tools. The turn
	// ends as-is; no extra synthesis call is made.
	emit(ctx, ch, StreamEvent{Type: EventFinish, Step: maxSteps - 1, FinishReason: FinishToolCalls, Usage: result.Usage})
	result.Text = text.String()
	result.FinishReason = FinishToolCalls
	return result, nil
}

type toolExecResult struct {
	content string
	isError bool
}

// invokeBinding runs one tool call with panic recovery. Unknown tools and
// tool errors become error results; they never abort the step.
func invokeBinding(ctx context.Context, tc ToolCall, bindings map[string]ToolBinding) (res toolExecResult) {
	defer func() {
		if p := recover(); p != nil {
			res = toolExecResult{content: fmt.Sprintf("error: tool %q panic: %v", tc.Name, p), isError: true}
		}
	}()
	b, ok := bindings[tc.Name]
	if !ok {
		return toolExecResult{content: fmt.Sprintf("error: unknown tool %q", tc.Name), isError: true}
	}
	out, err := b.Invoke(ctx, tc.Args)
	if err != nil {
		return toolExecResult{content: "error: " + err.Error(), isError: true}
	}
	return toolExecResult{content: out.Output}
}

// dispatchParallel runs all tool calls of one step and returns results in
// input order. Single calls run inline; multiple calls use a fixed worker
// pool pulling from a shared work channel. The collection loop is
// context-aware: cancellation yields context-error results for calls still
// in flight instead of blocking.
func (m *model) dispatchParallel(ctx context.Context, calls []ToolCall, bindings map[string]ToolBinding) []toolExecResult {
	if len(calls) == 1 {
		return []toolExecResult{invokeBinding(ctx, calls[0], bindings)}
	}

	type indexed struct {
		idx int
		res toolExecResult
	}
	type workItem struct {
		idx int
		tc  ToolCall
	}

	workCh := make(chan workItem, len(calls))
	for i, tc := range calls {
		workCh <- workItem{idx: i, tc: tc}
	}
	close(workCh)

	resultCh := make(chan indexed, len(calls))
	numWorkers := min(len(calls), maxParallelDispatch)
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for w := range workCh {
				if ctx.Err() != nil {
					resultCh <- indexed{w.idx, toolExecResult{content: "error: " + ctx.Err().Error(), isError: true}}
					continue
				}
				resultCh <- indexed{w.idx, invokeBinding(ctx, w.tc, bindings)}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]toolExecResult, len(calls))
	seen := make([]bool, len(calls))
collect:
	for received := 0; received < len(calls); received++ {
		select {
		case r, ok := <-resultCh:
			if !ok {
				break collect
			}
			results[r.idx] = r.res
			seen[r.idx] = true
		case <-ctx.Done():
			break collect
		}
	}
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	for i := range results {
		if !seen[i] {
			results[i] = toolExecResult{content: "error: " + cause.Error(), isError: true}
		}
	}
	return results
}

func errorTypeOf(err error) string {
	var me *ErrModel
	if errors.As(err, &me) {
		if me.Type != "" {
			return me.Type
		}
		return "model_error"
	}
	var he *ErrHTTP
	if errors.As(err, &he) {
		return fmt.Sprintf("http_%d", he.Status)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "internal"
}

// truncateRunes bounds s to at most n runes, appending a marker when cut.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "\n\n[output truncated]"
}
