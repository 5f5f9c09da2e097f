// ABOUTME: Session is a thin runtime handle over a persisted store.Session plus its event emitter.
// ABOUTME: Also provides the canonical assistant/tool content encoding used to reconstruct history.

package agent

import (
	"encoding/json"

	"github.com/2389-research/chorus/llm"
	"github.com/2389-research/chorus/store"
)

// Session is the in-memory runtime handle for a durable store.Session: it
// owns the event emitter and is destroyed when the session terminates.
// All durable state lives in Store; Session never caches conversation turns.
type Session struct {
	Store   *store.Session
	Emitter *EventEmitter
}

// NewSession wraps a persisted session record with a fresh event emitter.
func NewSession(s *store.Session) *Session {
	return &Session{
		Store:   s,
		Emitter: NewEventEmitter(),
	}
}

// Emit constructs and broadcasts a SessionEvent scoped to this session.
func (s *Session) Emit(kind EventKind, data map[string]any) {
	s.Emitter.Emit(NewSessionEvent(s.Store.ID, kind, data))
}

// Close releases the session's event emitter, closing all subscriber channels.
func (s *Session) Close() {
	s.Emitter.Close()
}

// AssistantContent is the canonical round-trippable encoding for an
// assistant turn: plain text when no tool calls were made, or this
// structure (marshaled to JSON) when they were.
type AssistantContent struct {
	Text      string             `json:"text"`
	ToolCalls []llm.ToolCallData `json:"tool_calls,omitempty"`
}

// EncodeAssistantContent produces the stored representation of an assistant
// turn. With no tool calls, the raw text is stored directly; otherwise the
// structured {text, tool_calls} encoding is used.
func EncodeAssistantContent(text string, toolCalls []llm.ToolCallData) (string, error) {
	if len(toolCalls) == 0 {
		return text, nil
	}
	b, err := json.Marshal(AssistantContent{Text: text, ToolCalls: toolCalls})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeAssistantContent parses stored assistant content. If the content is
// the structured {text, tool_calls} encoding, both fields are returned; on
// any parse failure or if the structured keys are absent, the content is
// treated as plain text with no tool calls.
func DecodeAssistantContent(content string) (text string, toolCalls []llm.ToolCallData) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return content, nil
	}
	textRaw, hasText := raw["text"]
	toolsRaw, hasTools := raw["tool_calls"]
	if !hasText || !hasTools {
		return content, nil
	}
	var parsedText string
	if err := json.Unmarshal(textRaw, &parsedText); err != nil {
		return content, nil
	}
	var parsedTools []llm.ToolCallData
	if err := json.Unmarshal(toolsRaw, &parsedTools); err != nil {
		return content, nil
	}
	return parsedText, parsedTools
}

// ToolResultContent is the stored representation of a tool-role message,
// carrying the correlation identifier alongside the tool's output.
type ToolResultContent struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// EncodeToolResultContent produces the stored representation of a tool-role message.
func EncodeToolResultContent(toolCallID, content string, isError bool) (string, error) {
	b, err := json.Marshal(ToolResultContent{ToolCallID: toolCallID, Content: content, IsError: isError})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeToolResultContent parses a stored tool-role message. If the content
// is not valid JSON, it is treated as successful content with no correlation
// id; a JSON value without the structured keys decodes to empty fields.
func DecodeToolResultContent(content string) ToolResultContent {
	var parsed ToolResultContent
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ToolResultContent{Content: content}
	}
	return parsed
}

// ConvertMessagesToLLM reconstructs the unified message sequence from
// persisted messages, in insertion order. system/user/tool roles pass
// through their stored content; assistant content is parsed as the
// structured {text, tool_calls} encoding, falling back to plain text.
func ConvertMessagesToLLM(messages []store.Message) []llm.Message {
	result := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case store.RoleSystem:
			result = append(result, llm.SystemMessage(m.Content))
		case store.RoleUser:
			result = append(result, llm.UserMessage(m.Content))
		case store.RoleAssistant:
			text, toolCalls := DecodeAssistantContent(m.Content)
			result = append(result, assistantMessageWithToolCalls(text, toolCalls))
		case store.RoleTool:
			tr := DecodeToolResultContent(m.Content)
			result = append(result, llm.ToolResultMessage(tr.ToolCallID, tr.Content, tr.IsError))
		}
	}
	return result
}

// assistantMessageWithToolCalls builds an assistant message carrying both
// its text and any tool calls as content parts, matching the shape
// providers expect when tool calls are replayed back into a conversation.
func assistantMessageWithToolCalls(text string, toolCalls []llm.ToolCallData) llm.Message {
	parts := make([]llm.ContentPart, 0, 1+len(toolCalls))
	if text != "" {
		parts = append(parts, llm.TextPart(text))
	}
	for _, tc := range toolCalls {
		parts = append(parts, llm.ToolCallPart(tc.ID, tc.Name, tc.Arguments))
	}
	if len(parts) == 0 {
		parts = append(parts, llm.TextPart(""))
	}
	return llm.Message{Role: llm.RoleAssistant, Content: parts}
}
