package overture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// TurnRequest asks the orchestrator to run one user utterance to completion
// inside an existing session.
type TurnRequest struct {
	ProjectID   string
	ProjectPath string
	SessionID   string
	UserID      string
	Prompt      string

	// CanExecuteCode gates the code-executing tools for this turn.
	CanExecuteCode bool

	// Optional overrides. Empty values fall back to the session's agent and
	// model, then to the vendor default.
	AgentName    string
	Vendor       string
	Model        string
	MaxSteps     int
	Temperature  *float64
	TopP         *float64
	Tools        []string // allow-list on top of the agent's tool set
	Skills       []string
	Instructions string

	// Observer, when set, receives every event of this turn in order.
	Observer ObserverFunc
}

// Orchestrator drives turns: it validates the session, resolves the agent
// and model, persists the user and assistant messages, assembles tools, and
// streams the adapter through a StreamProcessor.
type Orchestrator struct {
	store    Store
	bus      Bus
	adapters AdapterFactory
	tools    ToolSource
	subs     *SubAgentRunner
	tracer   Tracer
	logger   *slog.Logger
	client   *http.Client
	maxSteps int

	staticKeys map[string]string

	mu        sync.Mutex
	resolvers map[string]*CredentialResolver
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithBus sets the event broadcast bus.
func WithBus(b Bus) OrchestratorOption {
	return func(o *Orchestrator) {
		if b != nil {
			o.bus = b
		}
	}
}

// WithToolSource sets the external tool registry.
func WithToolSource(ts ToolSource) OrchestratorOption {
	return func(o *Orchestrator) {
		if ts != nil {
			o.tools = ts
		}
	}
}

// WithTracer sets the span tracer.
func WithTracer(t Tracer) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxSteps sets the default step ceiling for turns that do not override.
func WithMaxSteps(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

// WithStaticCredentials provisions fixed per-vendor credentials that take
// precedence over the credential store for every user.
func WithStaticCredentials(keys map[string]string) OrchestratorOption {
	return func(o *Orchestrator) {
		for vendor, key := range keys {
			if key != "" {
				o.staticKeys[vendor] = key
			}
		}
	}
}

// WithOrchestratorHTTPClient sets the client used for credential refresh.
func WithOrchestratorHTTPClient(c *http.Client) OrchestratorOption {
	return func(o *Orchestrator) {
		if c != nil {
			o.client = c
		}
	}
}

// NewOrchestrator builds an orchestrator over its store and adapter factory.
func NewOrchestrator(store Store, adapters AdapterFactory, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		bus:        NopBus{},
		adapters:   adapters,
		tools:      NopToolSource{},
		logger:     nopLogger,
		client:     &http.Client{Timeout: 30 * time.Second},
		maxSteps:   defaultMaxSteps,
		staticKeys: make(map[string]string),
		resolvers:  make(map[string]*CredentialResolver),
	}
	for _, opt := range opts {
		opt(o)
	}
	// Sub-agent support is on by default; tasks run back through Run.
	o.subs = newSubAgentRunner(o)
	return o
}

// SubAgents exposes the background task runner for lookup and cancellation.
func (o *Orchestrator) SubAgents() *SubAgentRunner { return o.subs }

// resolverFor returns the per-user credential resolver, creating it on first
// use. Sharing one resolver per user keeps refresh deduplication effective
// across concurrent turns.
func (o *Orchestrator) resolverFor(userID string) *CredentialResolver {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.resolvers[userID]
	if !ok {
		opts := []ResolverOption{
			WithResolverLogger(o.logger),
			WithHTTPClient(o.client),
		}
		for vendor, key := range o.staticKeys {
			opts = append(opts, WithStaticKey(vendor, key))
		}
		r = NewCredentialResolver(o.store, userID, opts...)
		o.resolvers[userID] = r
	}
	return r
}

// Run executes one turn to completion and returns its result. The assistant
// message always reaches a terminal state: completed with a finish reason,
// or failed with an error classification (cancelled when ctx ended it).
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("orchestrator: empty prompt")
	}

	var span Span
	if o.tracer != nil {
		ctx, span = o.tracer.Start(ctx, "turn",
			StringAttr("session.id", req.SessionID),
			StringAttr("project.id", req.ProjectID))
		defer span.End()
	}

	session, err := o.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load session: %w", err)
	}
	isChild := session.ParentID != ""

	agents := NewAgentRegistry(req.ProjectPath, WithAgentLogger(o.logger))
	agentName := firstNonEmpty(req.AgentName, session.AgentName, "default")
	agent, err := agents.Resolve(agentName)
	if err != nil {
		return nil, err
	}
	if !isChild && !agent.Mode.UsableAsPrimary() {
		return nil, fmt.Errorf("orchestrator: agent %q is not usable in a top-level session", agent.Name)
	}

	vendor := firstNonEmpty(req.Vendor, agent.Vendor, session.Vendor)
	if vendor == "" {
		return nil, ErrUnknownVendor
	}
	vinfo, err := Vendor(vendor)
	if err != nil {
		return nil, err
	}
	modelID := firstNonEmpty(req.Model, agent.Model, session.Model, vinfo.DefaultModel)
	if _, err := LookupModel(vendor, modelID); err != nil {
		// Vendors may accept ids the catalogue has not enumerated yet; the
		// turn proceeds and Cost prices the usage at zero.
		o.logger.Warn("model not in catalogue", "vendor", vendor, "model", modelID)
	}

	credential, err := o.resolverFor(req.UserID).ResolveFresh(ctx, vendor)
	if err != nil {
		// Local vendors serve without credentials.
		if !errors.Is(err, ErrCredentialMissing) || vendor != "ollama" {
			return nil, err
		}
		credential = ""
	}

	adapter, err := o.adapters.NewAdapter(ctx, vendor, modelID, credential)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build adapter: %w", err)
	}

	userMsg, asstMsg, err := o.createTurnMessages(ctx, session, req, agent.Name, vendor, modelID)
	if err != nil {
		return nil, err
	}

	history, err := RebuildHistory(ctx, o.store, session.ID, userMsg.ID, asstMsg.ID)
	if err != nil {
		return nil, err
	}
	history = append(history, UserMessage(req.Prompt))

	bindings, toolNames := o.assembleTools(session, req, agent, asstMsg.ID, isChild)

	prompt := BuildSystemPrompt(PromptInput{
		AgentName:    agent.Name,
		AgentPrompt:  agent.Prompt,
		ProjectPath:  req.ProjectPath,
		ToolNames:    toolNames,
		Skills:       req.Skills,
		Instructions: req.Instructions,
	})

	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = agent.MaxSteps
	}
	if maxSteps <= 0 {
		maxSteps = o.maxSteps
	}
	temperature := req.Temperature
	if temperature == nil {
		temperature = agent.Temperature
	}
	topP := req.TopP
	if topP == nil {
		topP = agent.TopP
	}

	proc := NewStreamProcessor(ProcessorConfig{
		Store:     o.store,
		Bus:       o.bus,
		Observer:  req.Observer,
		Logger:    o.logger,
		ProjectID: req.ProjectID,
		SessionID: session.ID,
		MessageID: asstMsg.ID,
		Vendor:    vendor,
		Model:     modelID,
	})
	proc.Announce(StreamEvent{})

	ch := make(chan StreamEvent, 64)
	type adapterOutcome struct {
		result StreamTextResult
		err    error
	}
	outcome := make(chan adapterOutcome, 1)
	go func() {
		defer close(ch)
		res, err := adapter.StreamText(ctx, StreamTextRequest{
			System:      prompt,
			Messages:    history,
			Tools:       bindings,
			MaxSteps:    maxSteps,
			Temperature: temperature,
			TopP:        topP,
		}, ch)
		outcome <- adapterOutcome{res, err}
	}()

	for ev := range ch {
		proc.Process(ctx, ev)
	}
	out := <-outcome

	if out.err != nil {
		if !proc.Finished() {
			// The adapter failed without a terminal event on the stream.
			errType := errorTypeOf(out.err)
			if ctx.Err() != nil {
				errType = string(FinishCancelled)
			}
			proc.Process(ctx, StreamEvent{Type: EventError, Content: out.err.Error(), ErrorType: errType})
		}
		if span != nil {
			span.Error(out.err)
		}
		return nil, fmt.Errorf("orchestrator: turn failed: %w", out.err)
	}
	if !proc.Finished() {
		proc.Cancel(ctx)
	}

	reason, usage, cost := proc.Result()
	if span != nil {
		span.SetAttr(
			StringAttr("finish.reason", string(reason)),
			IntAttr("usage.input_tokens", usage.InputTokens),
			IntAttr("usage.output_tokens", usage.OutputTokens),
			Float64Attr("cost.usd", cost),
		)
	}
	return &TurnResult{
		MessageID:    asstMsg.ID,
		SessionID:    session.ID,
		FinishReason: reason,
		Text:         out.result.Text,
		Usage:        usage,
		Cost:         cost,
	}, nil
}

// createTurnMessages persists the user message (with its text part) and the
// pending assistant message for this turn.
func (o *Orchestrator) createTurnMessages(ctx context.Context, session *Session, req TurnRequest, agentName, vendor, modelID string) (*Message, *Message, error) {
	now := time.Now().UTC()
	userMsg := &Message{
		ID:        NewID(),
		SessionID: session.ID,
		Role:      RoleUser,
		CreatedAt: now,
	}
	if err := o.store.CreateMessage(ctx, userMsg); err != nil {
		return nil, nil, fmt.Errorf("orchestrator: create user message: %w", err)
	}
	if err := o.store.CreatePart(ctx, &MessagePart{
		ID:        NewID(),
		MessageID: userMsg.ID,
		SessionID: session.ID,
		Type:      PartText,
		Content:   req.Prompt,
		CreatedAt: now,
	}); err != nil {
		return nil, nil, fmt.Errorf("orchestrator: create user part: %w", err)
	}

	asstMsg := &Message{
		ID:        NewID(),
		SessionID: session.ID,
		Role:      RoleAssistant,
		ParentID:  userMsg.ID,
		AgentName: agentName,
		Vendor:    vendor,
		Model:     modelID,
		CreatedAt: now,
	}
	if err := o.store.CreateMessage(ctx, asstMsg); err != nil {
		return nil, nil, fmt.Errorf("orchestrator: create assistant message: %w", err)
	}
	return userMsg, asstMsg, nil
}

// assembleTools resolves the turn's tool set and binds it. The task tool is
// injected only for top-level sessions whose agent exposes it; child sessions
// never see it, which bounds sub-agent recursion to one level.
func (o *Orchestrator) assembleTools(session *Session, req TurnRequest, agent AgentDefinition, messageID string, isChild bool) ([]ToolBinding, []string) {
	available := o.tools.Names()
	canExec := req.CanExecuteCode && DeclaresCodeExecution(agent.Tools)
	available = FilterCodeExecution(available, canExec)

	names := ResolveTools(agent.Tools, available)
	if len(req.Tools) > 0 {
		names = ResolveTools(req.Tools, names)
	}

	tc := ToolContext{
		ProjectID:   req.ProjectID,
		ProjectPath: req.ProjectPath,
		SessionID:   session.ID,
		MessageID:   messageID,
		UserID:      req.UserID,
		Metadata: func(key string, value any) {
			o.logger.Debug("tool metadata", "message_id", messageID, "key", key, "value", value)
		},
	}
	bindings := o.tools.Bind(names, tc)

	if !isChild && o.subs != nil && agentOffersTask(agent) {
		bindings = append(bindings, o.subs.binding(session, req))
		names = append(names, TaskToolName)
	}
	return bindings, names
}

// agentOffersTask reports whether an agent's declaration includes the task
// tool. An empty declaration resolves to the full set, which includes it.
func agentOffersTask(agent AgentDefinition) bool {
	if len(agent.Tools) == 0 {
		return true
	}
	for _, n := range agent.Tools {
		if n == TaskToolName {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
