package overture

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// TaskResult is what the task tool returns to the calling model. Failures
// set Error rather than surfacing as Go errors, so the model can react.
type TaskResult struct {
	SessionID string  `json:"session_id"`
	Success   bool    `json:"success"`
	Response  string  `json:"response"`
	Usage     Usage   `json:"usage"`
	Cost      float64 `json:"cost"`
	Error     string  `json:"error,omitempty"`
}

func taskFailure(sessionID string, err error) TaskResult {
	return TaskResult{SessionID: sessionID, Error: err.Error()}
}

// TaskState is the lifecycle of a background task.
type TaskState string

const (
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// BackgroundTask tracks one detached sub-agent run, keyed by its child
// session id. The done channel closes after result and state are set, so a
// receive on it orders reads of both.
type BackgroundTask struct {
	SessionID   string
	Description string
	AgentName   string
	StartedAt   time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	state  TaskState
	result TaskResult
	err    error
}

// State returns the task's current lifecycle state.
func (t *BackgroundTask) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done returns a channel closed when the task reaches a terminal state.
func (t *BackgroundTask) Done() <-chan struct{} { return t.done }

// Await blocks until the task finishes or ctx ends.
func (t *BackgroundTask) Await(ctx context.Context) (TaskResult, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.result, t.err
	case <-ctx.Done():
		return TaskResult{SessionID: t.SessionID}, ctx.Err()
	}
}

func (t *BackgroundTask) finish(state TaskState, result TaskResult, err error) {
	t.mu.Lock()
	t.state = state
	t.result = result
	t.err = err
	t.mu.Unlock()
	close(t.done)
}

// taskRetention is how long a finished background task stays collectable via
// resume before its registry entry is dropped.
const taskRetention = 5 * time.Minute

// SubAgentRunner spawns child sessions for the task tool and tracks the ones
// running in the background. Entries are evicted on cancel, on resume
// collection, and after the retention window once the task terminates.
type SubAgentRunner struct {
	orch      *Orchestrator
	retention time.Duration

	mu    sync.Mutex
	tasks map[string]*BackgroundTask
}

func newSubAgentRunner(o *Orchestrator) *SubAgentRunner {
	return &SubAgentRunner{orch: o, retention: taskRetention, tasks: make(map[string]*BackgroundTask)}
}

// binding materialises the task tool for one parent turn.
func (s *SubAgentRunner) binding(parent *Session, req TurnRequest) ToolBinding {
	return ToolBinding{
		Name:        TaskToolName,
		Description: taskToolDescription,
		Parameters:  taskToolParameters,
		Invoke: func(ctx context.Context, input json.RawMessage) (ToolOutput, error) {
			params, err := ParseTaskParams(input)
			if err != nil {
				out, _ := json.Marshal(taskFailure("", err))
				return ToolOutput{Output: string(out)}, nil
			}
			res, err := s.RunTask(ctx, parent, req, params)
			if err != nil {
				return ToolOutput{}, err
			}
			out, _ := json.Marshal(res)
			return ToolOutput{Title: params.Description, Output: string(out)}, nil
		},
	}
}

// RunTask runs one task tool invocation: resume an existing background task,
// or spawn a child session and drive a turn through it. Synchronous tasks
// block until the child finishes; background tasks return immediately.
// Child-side failures are folded into an unsuccessful result rather than
// returned as errors, so they reach the calling model instead of aborting
// the parent turn.
func (s *SubAgentRunner) RunTask(ctx context.Context, parent *Session, parentReq TurnRequest, params TaskParams) (TaskResult, error) {
	if params.Resume != "" {
		res, err := s.resume(ctx, params.Resume)
		if err != nil {
			return taskFailure(params.Resume, err), nil
		}
		return res, nil
	}

	agents := NewAgentRegistry(parentReq.ProjectPath, WithAgentLogger(s.orch.logger))
	agent, err := agents.Resolve(params.SubagentType)
	if err != nil {
		return taskFailure("", err), nil
	}
	if !agent.Mode.UsableAsSubagent() {
		return taskFailure("", fmt.Errorf("subagent: agent %q cannot be used as a task target", agent.Name)), nil
	}

	vendor := parent.Vendor
	modelID := parent.Model
	if agent.Vendor != "" {
		vendor, modelID = agent.Vendor, agent.Model
	}
	if params.Model != nil {
		vendor, modelID = params.Model.Vendor, params.Model.Model
	}

	child := &Session{
		ID:        NewID(),
		ProjectID: parent.ProjectID,
		ParentID:  parent.ID,
		UserID:    parentReq.UserID,
		Title:     params.Description,
		AgentName: agent.Name,
		Vendor:    vendor,
		Model:     modelID,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.orch.store.CreateSession(ctx, child); err != nil {
		return taskFailure("", fmt.Errorf("subagent: create child session: %w", err)), nil
	}

	childReq := TurnRequest{
		ProjectID:      parent.ProjectID,
		ProjectPath:    parentReq.ProjectPath,
		SessionID:      child.ID,
		UserID:         parentReq.UserID,
		Prompt:         params.Prompt,
		CanExecuteCode: parentReq.CanExecuteCode,
		AgentName:      agent.Name,
		Vendor:         vendor,
		Model:          modelID,
		MaxSteps:       params.MaxTurns,
		Observer:       parentReq.Observer,
	}

	if params.RunInBackground {
		return s.spawn(child, agent.Name, childReq), nil
	}

	result, err := s.orch.Run(ctx, childReq)
	if err != nil {
		return TaskResult{SessionID: child.ID, Response: "sub-agent failed", Error: err.Error()}, nil
	}
	return TaskResult{
		SessionID: child.ID,
		Success:   result.FinishReason != FinishError,
		Response:  result.Text,
		Usage:     result.Usage,
		Cost:      result.Cost,
	}, nil
}

// spawn registers a background task and runs the child turn detached from
// the parent's context, so the parent finishing does not kill the child.
func (s *SubAgentRunner) spawn(child *Session, agentName string, req TurnRequest) TaskResult {
	runCtx, cancel := context.WithCancel(context.Background())
	task := &BackgroundTask{
		SessionID:   child.ID,
		Description: child.Title,
		AgentName:   agentName,
		StartedAt:   time.Now().UTC(),
		cancel:      cancel,
		done:        make(chan struct{}),
		state:       TaskRunning,
	}
	s.mu.Lock()
	s.tasks[child.ID] = task
	s.mu.Unlock()

	go func() {
		defer cancel()
		result, err := s.orch.Run(runCtx, req)
		switch {
		case err != nil && runCtx.Err() != nil:
			task.finish(TaskCancelled, TaskResult{SessionID: child.ID, Response: "task cancelled", Error: err.Error()}, err)
		case err != nil:
			task.finish(TaskFailed, TaskResult{SessionID: child.ID, Response: "sub-agent failed", Error: err.Error()}, err)
		default:
			task.finish(TaskCompleted, TaskResult{
				SessionID: child.ID,
				Success:   result.FinishReason != FinishError,
				Response:  result.Text,
				Usage:     result.Usage,
				Cost:      result.Cost,
			}, nil)
		}
		s.evictAfter(child.ID)
	}()

	return TaskResult{
		SessionID: child.ID,
		Success:   true,
		Response:  fmt.Sprintf("Task started in background (session %s). Call the task tool with resume=%q to collect the result.", child.ID, child.ID),
	}
}

// resume re-attaches to a background task. A still-running task reports its
// state without blocking; a finished one returns its result and releases the
// registry entry.
func (s *SubAgentRunner) resume(ctx context.Context, sessionID string) (TaskResult, error) {
	task, err := s.Get(sessionID)
	if err != nil {
		return TaskResult{}, err
	}
	select {
	case <-task.Done():
		task.mu.Lock()
		result := task.result
		task.mu.Unlock()
		s.evict(sessionID)
		return result, nil
	default:
		return TaskResult{
			SessionID: sessionID,
			Success:   true,
			Response:  fmt.Sprintf("Task is still running (started %s ago).", time.Since(task.StartedAt).Round(time.Second)),
		}, nil
	}
}

// Get returns the background task for a child session id.
func (s *SubAgentRunner) Get(sessionID string) (*BackgroundTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, sessionID)
	}
	return task, nil
}

// Cancel stops a background task and evicts its registry entry. It reports
// whether this call performed the cancellation; unknown or already-cancelled
// ids return false.
func (s *SubAgentRunner) Cancel(sessionID string) bool {
	s.mu.Lock()
	task, ok := s.tasks[sessionID]
	if ok {
		delete(s.tasks, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	task.cancel()
	return true
}

func (s *SubAgentRunner) evict(sessionID string) {
	s.mu.Lock()
	delete(s.tasks, sessionID)
	s.mu.Unlock()
}

// evictAfter drops a terminated task's entry once the retention window for
// late resume collection passes. Cancel or resume may have evicted it first.
func (s *SubAgentRunner) evictAfter(sessionID string) {
	time.AfterFunc(s.retention, func() { s.evict(sessionID) })
}

// List returns all tracked background tasks, newest first.
func (s *SubAgentRunner) List() []*BackgroundTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*BackgroundTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}
