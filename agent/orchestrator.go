// ABOUTME: Orchestrator drives the single-round-trip turn loop: persist user text, replay
// ABOUTME: history to a provider adapter, persist the reply, then dispatch tool calls in order.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/2389-research/chorus/llm"
	"github.com/2389-research/chorus/store"
)

// Orchestrator is the sole entry point for driving conversation turns. It
// owns no durable state of its own: everything persisted goes through Store,
// and everything advertised to providers comes from a shared ToolRegistry
// gated by a ToolExposure level.
type Orchestrator struct {
	Store         *store.Store
	Registry      *ToolRegistry
	Exposure      ToolExposure
	WorkspaceRoot string
	MaxTokens     int
	Temperature   *float64

	providers map[string]llm.ProviderAdapter

	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewOrchestrator constructs an Orchestrator. providers maps a provider_tag
// (e.g. "claude", "openai", "xai", "glm") to the adapter that serves it.
func NewOrchestrator(st *store.Store, registry *ToolRegistry, providers map[string]llm.ProviderAdapter, workspaceRoot string) *Orchestrator {
	return &Orchestrator{
		Store:         st,
		Registry:      registry,
		Exposure:      ToolExposureAll,
		WorkspaceRoot: workspaceRoot,
		MaxTokens:     4096,
		providers:     providers,
		sessions:      make(map[int64]*Session),
	}
}

// CreateSession allocates and persists a new session, storing the system
// prompt as an initial system-role message when present. Fails with
// InvalidProviderError if providerTag does not map to a known adapter.
func (o *Orchestrator) CreateSession(workID, providerTag, modelTag string, systemPrompt *string) (int64, error) {
	if _, ok := o.providers[providerTag]; !ok {
		return 0, &InvalidProviderError{Provider: providerTag, Model: modelTag}
	}

	now := time.Now().UnixMilli()
	st, err := o.Store.CreateSession(workID, providerTag, modelTag, systemPrompt, now)
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}

	if systemPrompt != nil && *systemPrompt != "" {
		if _, err := o.Store.AppendMessage(st.ID, store.RoleSystem, *systemPrompt, now); err != nil {
			return 0, fmt.Errorf("append system message: %w", err)
		}
	}

	o.mu.Lock()
	o.sessions[st.ID] = NewSession(st)
	o.mu.Unlock()

	return st.ID, nil
}

// GetSession returns the persisted session record, reconciling any tool
// calls left dangling in "executing" status from an abandoned turn.
func (o *Orchestrator) GetSession(sessionID int64) (*store.Session, error) {
	st, err := o.Store.GetSession(sessionID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, &SessionNotFoundError{SessionID: sessionID}
		}
		return nil, err
	}
	if err := o.Store.SweepStaleExecuting(sessionID, time.Now().UnixMilli()); err != nil {
		return nil, fmt.Errorf("sweep stale tool calls: %w", err)
	}
	return st, nil
}

// ListMessages returns a session's transcript in insertion order.
func (o *Orchestrator) ListMessages(sessionID int64) ([]store.Message, error) {
	return o.Store.ListMessages(sessionID)
}

// ListToolCalls returns a session's tool call audit trail in creation order.
func (o *Orchestrator) ListToolCalls(sessionID int64) ([]store.ToolCall, error) {
	return o.Store.ListToolCalls(sessionID)
}

// Subscribe returns the event stream for a session, creating its runtime
// handle if this process has not seen the session since restart.
func (o *Orchestrator) Subscribe(sessionID int64) (<-chan SessionEvent, error) {
	sess, err := o.sessionHandle(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Emitter.Subscribe(), nil
}

func (o *Orchestrator) sessionHandle(sessionID int64) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if sess, ok := o.sessions[sessionID]; ok {
		return sess, nil
	}
	st, err := o.Store.GetSession(sessionID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, &SessionNotFoundError{SessionID: sessionID}
		}
		return nil, err
	}
	sess := NewSession(st)
	o.sessions[sessionID] = sess
	return sess, nil
}

// projectPath resolves the execution root for a session's tool calls. Each
// work id gets its own subdirectory under the workspace root.
func (o *Orchestrator) projectPath(workID string) string {
	if workID == "" {
		return o.WorkspaceRoot
	}
	return filepath.Join(o.WorkspaceRoot, workID)
}

// ProcessMessage runs exactly one turn of the conversation loop: it appends
// the user's text, replays the full history to the session's provider
// adapter, persists the reply, and dispatches any tool calls in the order
// the provider emitted them. It does not loop further; a subsequent call
// drives the next turn.
func (o *Orchestrator) ProcessMessage(ctx context.Context, sessionID int64, userText string) (string, error) {
	sess, err := o.sessionHandle(sessionID)
	if err != nil {
		return "", err
	}

	if err := o.Store.SweepStaleExecuting(sessionID, time.Now().UnixMilli()); err != nil {
		return "", o.corrupt(sessionID, err)
	}

	now := time.Now().UnixMilli()
	if _, err := o.Store.AppendMessage(sessionID, store.RoleUser, userText, now); err != nil {
		return "", o.corrupt(sessionID, err)
	}

	stored, err := o.Store.ListMessages(sessionID)
	if err != nil {
		return "", o.corrupt(sessionID, err)
	}
	history := ConvertMessagesToLLM(stored)

	adapter, ok := o.providers[sess.Store.ProviderTag]
	if !ok {
		return "", &InvalidProviderError{Provider: sess.Store.ProviderTag, Model: sess.Store.ModelTag}
	}

	req := llm.Request{
		Model:      sess.Store.ModelTag,
		Messages:   history,
		Tools:      FilterToolsForExposure(o.Registry, o.Exposure),
		ToolChoice: &llm.ToolChoice{Mode: llm.ToolChoiceAuto},
		MaxTokens:  llm.IntPtr(o.MaxTokens),
	}
	if sess.Store.ProviderTag != "glm" {
		req.Temperature = o.Temperature
	}

	resp, err := adapter.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("provider call: %w", err)
	}

	text := resp.TextContent()
	toolCalls := resp.ToolCalls()

	sess.Emit(EventAssistantChunk, map[string]any{"content": text})

	assistantContent, err := EncodeAssistantContent(text, toolCalls)
	if err != nil {
		return "", o.corrupt(sessionID, err)
	}
	if _, err := o.Store.AppendMessage(sessionID, store.RoleAssistant, assistantContent, time.Now().UnixMilli()); err != nil {
		return "", o.corrupt(sessionID, err)
	}

	env := NewLocalExecutionEnvironment(o.projectPath(sess.Store.WorkID))
	if err := env.Initialize(); err != nil {
		return "", o.corrupt(sessionID, err)
	}
	defer func() { _ = env.Cleanup() }()

	for _, tc := range toolCalls {
		if err := o.dispatchToolCall(sess, env, tc); err != nil {
			return "", o.corrupt(sessionID, err)
		}
	}

	return text, nil
}

// dispatchToolCall executes a single tool call and records its outcome. Only
// persistence failures are returned as errors (fatal for the turn); tool
// execution failures are recorded as failed calls and surfaced to the model
// as tool-role messages.
func (o *Orchestrator) dispatchToolCall(sess *Session, env ExecutionEnvironment, tc llm.ToolCallData) error {
	var args map[string]any
	if err := json.Unmarshal(tc.Arguments, &args); err != nil {
		// Malformed arguments from a hallucinated tool call: log and skip,
		// no tool-role message is appended.
		log.Printf("component=agent.orchestrator action=skip_tool_call tool=%q id=%q err=%v", tc.Name, tc.ID, err)
		return nil
	}

	createdAt := time.Now().UnixMilli()
	record, err := o.Store.CreateToolCall(sess.Store.ID, nil, tc.Name, string(tc.Arguments), createdAt)
	if err != nil {
		return fmt.Errorf("create tool call record: %w", err)
	}
	sess.Emit(EventToolCallStarted, map[string]any{
		"tool_call_id": tc.ID,
		"tool_name":    tc.Name,
	})

	result, execErr := o.executeTool(tc.Name, args, env)

	completedAt := time.Now().UnixMilli()
	durationMs := completedAt - createdAt

	if execErr != nil {
		errStr := execErr.Error()
		if err := o.Store.UpdateToolCall(record.ID, store.ToolCallFailed, nil, &errStr, completedAt, durationMs); err != nil {
			return fmt.Errorf("record tool call failure: %w", err)
		}
		sess.Emit(EventToolCallFailed, map[string]any{
			"tool_call_id": tc.ID,
			"error":        errStr,
		})
		toolContent, err := EncodeToolResultContent(tc.ID, errStr, true)
		if err != nil {
			return fmt.Errorf("encode tool error content: %w", err)
		}
		if _, err := o.Store.AppendMessage(sess.Store.ID, store.RoleTool, toolContent, completedAt); err != nil {
			return fmt.Errorf("append tool error message: %w", err)
		}
		return nil
	}

	if err := o.Store.UpdateToolCall(record.ID, store.ToolCallCompleted, &result, nil, completedAt, durationMs); err != nil {
		return fmt.Errorf("record tool call completion: %w", err)
	}
	sess.Emit(EventToolCallCompleted, map[string]any{
		"tool_call_id": tc.ID,
		"response":     result,
	})
	toolContent, err := EncodeToolResultContent(tc.ID, result, false)
	if err != nil {
		return fmt.Errorf("encode tool result content: %w", err)
	}
	if _, err := o.Store.AppendMessage(sess.Store.ID, store.RoleTool, toolContent, completedAt); err != nil {
		return fmt.Errorf("append tool result message: %w", err)
	}
	return nil
}

func (o *Orchestrator) executeTool(name string, args map[string]any, env ExecutionEnvironment) (string, error) {
	tool := o.Registry.Get(name)
	if tool == nil {
		return "", &ToolNotFoundError{Path: name}
	}
	result, err := tool.Execute(args, env)
	if err != nil {
		return "", err
	}
	return TruncateToolOutput(result, name, nil), nil
}

// corrupt marks the session as failed following a persistence error mid-turn,
// per the error propagation policy: persistence failures are fatal for the
// turn.
func (o *Orchestrator) corrupt(sessionID int64, cause error) error {
	_ = o.Store.FailSession(sessionID, time.Now().UnixMilli())
	return &InternalCorruptionError{Err: cause}
}
