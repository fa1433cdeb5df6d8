package overture

import (
	"context"
	"log/slog"
	"time"
)

// StreamProcessor materialises one assistant turn: it consumes the model
// stream single-threaded, persists ordered message parts, and broadcasts
// every observable transition. Store and bus failures are logged, never
// propagated; a persistence hiccup must not kill a running turn.
type StreamProcessor struct {
	store    Store
	bus      Bus
	observer ObserverFunc
	logger   *slog.Logger

	projectID string
	sessionID string
	messageID string
	vendor    string
	model     string

	// messagesDelta is the message-count increment applied to the session
	// at finish (normally 2: the user and assistant rows of this turn).
	messagesDelta int

	openText      *MessagePart
	openReasoning *MessagePart
	toolParts     map[string]string // tool call id -> part id
	toolRunning   map[string]bool   // parts still in running status
	step          int

	finished bool
	errored  bool

	finishReason FinishReason
	usage        Usage
	cost         float64
}

// ProcessorConfig wires a StreamProcessor to its turn.
type ProcessorConfig struct {
	Store         Store
	Bus           Bus
	Observer      ObserverFunc
	Logger        *slog.Logger
	ProjectID     string
	SessionID     string
	MessageID     string
	Vendor        string
	Model         string
	MessagesDelta int
}

// NewStreamProcessor builds a processor for one assistant message.
func NewStreamProcessor(cfg ProcessorConfig) *StreamProcessor {
	p := &StreamProcessor{
		store:         cfg.Store,
		bus:           cfg.Bus,
		observer:      cfg.Observer,
		logger:        cfg.Logger,
		projectID:     cfg.ProjectID,
		sessionID:     cfg.SessionID,
		messageID:     cfg.MessageID,
		vendor:        cfg.Vendor,
		model:         cfg.Model,
		messagesDelta: cfg.MessagesDelta,
		toolParts:     make(map[string]string),
		toolRunning:   make(map[string]bool),
	}
	if p.bus == nil {
		p.bus = NopBus{}
	}
	if p.logger == nil {
		p.logger = nopLogger
	}
	if p.messagesDelta == 0 {
		p.messagesDelta = 2
	}
	return p
}

// Announce broadcasts the message.created event before streaming begins.
func (p *StreamProcessor) Announce(ev StreamEvent) {
	ev.Type = EventMessageCreated
	p.broadcast(ev, "")
}

// Result reports the turn outcome the processor recorded at finish.
func (p *StreamProcessor) Result() (FinishReason, Usage, float64) {
	return p.finishReason, p.usage, p.cost
}

// Finished reports whether a terminal event (finish or error) was seen.
func (p *StreamProcessor) Finished() bool { return p.finished || p.errored }

// Process handles one stream event. Events arriving after a terminal event
// are dropped. Process is not safe for concurrent use; the orchestrator
// calls it from a single consumer loop.
func (p *StreamProcessor) Process(ctx context.Context, ev StreamEvent) {
	if p.finished || p.errored {
		return
	}
	p.step = ev.Step

	switch ev.Type {
	case EventTextDelta:
		p.closeReasoning(ctx)
		if p.openText == nil {
			p.openText = p.createPart(ctx, &MessagePart{Type: PartText, Content: ev.Content, Step: ev.Step})
		} else {
			p.openText.Content += ev.Content
			p.updateContent(ctx, p.openText)
		}
		p.broadcast(ev, p.partID(p.openText))

	case EventReasoningDelta:
		p.closeText(ctx)
		if p.openReasoning == nil {
			p.openReasoning = p.createPart(ctx, &MessagePart{Type: PartReasoning, Content: ev.Content, Step: ev.Step})
		} else {
			p.openReasoning.Content += ev.Content
			p.updateContent(ctx, p.openReasoning)
		}
		p.broadcast(ev, p.partID(p.openReasoning))

	case EventToolInputStart, EventToolInputDelta:
		// Transient input streaming: broadcast only, nothing durable.
		p.closeRuns(ctx)
		p.broadcast(ev, "")

	case EventToolCall:
		p.closeRuns(ctx)
		part := p.createPart(ctx, &MessagePart{
			Type:       PartToolCall,
			ToolName:   ev.ToolName,
			ToolCallID: ev.ToolCallID,
			ToolInput:  ev.ToolInput,
			Status:     ToolRunning,
			Step:       ev.Step,
		})
		if part != nil {
			p.toolParts[ev.ToolCallID] = part.ID
			p.toolRunning[part.ID] = true
		}
		p.broadcast(ev, p.partID(part))

	case EventToolResult:
		p.closeRuns(ctx)
		status := ToolCompleted
		if ev.IsError {
			status = ToolError
		}
		part := p.createPart(ctx, &MessagePart{
			Type:       PartToolResult,
			ToolName:   ev.ToolName,
			ToolCallID: ev.ToolCallID,
			Content:    ev.Content,
			Status:     status,
			Step:       ev.Step,
		})
		// Transition the matching call part. A result with no matching call
		// still persists; there is just nothing to transition.
		if callPartID, ok := p.toolParts[ev.ToolCallID]; ok {
			p.updateStatus(ctx, callPartID, status)
			delete(p.toolRunning, callPartID)
		}
		p.broadcast(ev, p.partID(part))

	case EventStepStart:
		p.closeRuns(ctx)
		part := p.createPart(ctx, &MessagePart{Type: PartStepStart, Step: ev.Step})
		p.broadcast(ev, p.partID(part))

	case EventStepFinish:
		p.closeRuns(ctx)
		part := p.createPart(ctx, &MessagePart{Type: PartStepFinish, Step: ev.Step})
		p.broadcast(ev, p.partID(part))

	case EventFinish:
		p.closeRuns(ctx)
		p.finished = true
		p.finishReason = ev.FinishReason
		if p.finishReason == "" {
			p.finishReason = FinishStop
		}
		p.usage = ev.Usage
		p.cost = Cost(p.vendor, p.model, ev.Usage)
		if err := p.store.CompleteMessage(ctx, p.messageID, p.finishReason, p.usage, p.cost); err != nil {
			p.logger.Error("complete message", "message_id", p.messageID, "error", err)
		}
		if err := p.store.AddSessionStats(ctx, p.sessionID, SessionStats{
			Messages:     p.messagesDelta,
			TokensInput:  p.usage.InputTokens,
			TokensOutput: p.usage.OutputTokens,
			Cost:         p.cost,
		}); err != nil {
			p.logger.Error("update session stats", "session_id", p.sessionID, "error", err)
		}
		ev.FinishReason = p.finishReason
		p.broadcast(ev, "")

	case EventError:
		p.fail(ctx, ev)
	}
}

// Cancel marks the turn interrupted unless a terminal event already landed.
func (p *StreamProcessor) Cancel(ctx context.Context) {
	if p.finished || p.errored {
		return
	}
	p.Process(ctx, StreamEvent{
		Type:      EventError,
		Step:      p.step,
		Content:   "turn cancelled",
		ErrorType: string(FinishCancelled),
	})
}

func (p *StreamProcessor) fail(ctx context.Context, ev StreamEvent) {
	p.closeRuns(ctx)
	p.errored = true
	p.finishReason = FinishError

	// Any tool still running at failure is marked errored.
	for partID := range p.toolRunning {
		p.updateStatus(ctx, partID, ToolError)
		delete(p.toolRunning, partID)
	}

	errType := ev.ErrorType
	if errType == "" {
		errType = "internal"
	}
	if err := p.store.SetMessageError(ctx, p.messageID, errType, ev.Content); err != nil {
		p.logger.Error("set message error", "message_id", p.messageID, "error", err)
	}
	ev.ErrorType = errType
	p.broadcast(ev, "")
}

// closeRuns ends any open text or reasoning run; their content is final.
func (p *StreamProcessor) closeRuns(ctx context.Context) {
	p.closeText(ctx)
	p.closeReasoning(ctx)
}

func (p *StreamProcessor) closeText(ctx context.Context) {
	if p.openText != nil {
		p.updateContent(ctx, p.openText)
		p.openText = nil
	}
}

func (p *StreamProcessor) closeReasoning(ctx context.Context) {
	if p.openReasoning != nil {
		p.updateContent(ctx, p.openReasoning)
		p.openReasoning = nil
	}
}

func (p *StreamProcessor) createPart(ctx context.Context, part *MessagePart) *MessagePart {
	part.ID = NewID()
	part.MessageID = p.messageID
	part.SessionID = p.sessionID
	part.CreatedAt = time.Now().UTC()
	if err := p.store.CreatePart(ctx, part); err != nil {
		p.logger.Error("create part", "message_id", p.messageID, "type", part.Type, "error", err)
		return part
	}
	return part
}

func (p *StreamProcessor) updateContent(ctx context.Context, part *MessagePart) {
	if err := p.store.UpdatePartContent(ctx, part.ID, part.Content); err != nil {
		p.logger.Error("update part content", "part_id", part.ID, "error", err)
	}
}

func (p *StreamProcessor) updateStatus(ctx context.Context, partID string, status ToolStatus) {
	if err := p.store.UpdatePartStatus(ctx, partID, status); err != nil {
		p.logger.Error("update part status", "part_id", partID, "error", err)
	}
}

func (p *StreamProcessor) partID(part *MessagePart) string {
	if part == nil {
		return ""
	}
	return part.ID
}

// broadcast fans an event out to the bus and the per-turn observer. Neither
// may fail or panic the turn.
func (p *StreamProcessor) broadcast(ev StreamEvent, partID string) {
	e := Event{
		StreamEvent: ev,
		SessionID:   p.sessionID,
		MessageID:   p.messageID,
		PartID:      partID,
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("bus publish panic", "panic", r)
			}
		}()
		if err := p.bus.Publish(p.projectID, e); err != nil {
			p.logger.Warn("bus publish", "type", ev.Type, "error", err)
		}
	}()
	if p.observer != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("observer panic", "panic", r)
				}
			}()
			p.observer(e)
		}()
	}
}
