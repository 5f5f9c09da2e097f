// ABOUTME: Tests for core data model types in the unified LLM client SDK.
// ABOUTME: Validates message construction, content parts, and usage arithmetic.

package llm

import (
	"encoding/json"
	"testing"
)

func TestMessageConstructorsSetRoleAndText(t *testing.T) {
	cases := []struct {
		msg      Message
		wantRole Role
		wantText string
	}{
		{SystemMessage("be helpful"), RoleSystem, "be helpful"},
		{UserMessage("list the files in the repo"), RoleUser, "list the files in the repo"},
		{AssistantMessage("calling list_files"), RoleAssistant, "calling list_files"},
		{DeveloperMessage("priority instructions"), RoleDeveloper, "priority instructions"},
	}
	for _, tt := range cases {
		if tt.msg.Role != tt.wantRole {
			t.Errorf("role = %q, want %q", tt.msg.Role, tt.wantRole)
		}
		if tt.msg.TextContent() != tt.wantText {
			t.Errorf("text = %q, want %q", tt.msg.TextContent(), tt.wantText)
		}
	}
}

func TestToolResultMessage(t *testing.T) {
	msg := ToolResultMessage("call_123", "main.go\nREADME.md", false)
	if msg.Role != RoleTool || msg.ToolCallID != "call_123" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if len(msg.Content) != 1 || msg.Content[0].Kind != ContentToolResult {
		t.Fatalf("expected a single tool result part, got %+v", msg.Content)
	}
	if msg.Content[0].ToolResult.Content != "main.go\nREADME.md" || msg.Content[0].ToolResult.IsError {
		t.Errorf("unexpected tool result payload: %+v", msg.Content[0].ToolResult)
	}
}

func TestUserMessageWithParts(t *testing.T) {
	msg := UserMessageWithParts(TextPart("what's in this diagram?"), ImageURLPart("https://example.com/diagram.png"))
	if msg.Role != RoleUser || len(msg.Content) != 2 {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Content[0].Kind != ContentText || msg.Content[1].Kind != ContentImage {
		t.Errorf("unexpected part kinds: %q, %q", msg.Content[0].Kind, msg.Content[1].Kind)
	}
	if msg.Content[1].Image.URL != "https://example.com/diagram.png" {
		t.Errorf("image url = %q", msg.Content[1].Image.URL)
	}
}

func TestMessageTextAndReasoningContentSkipOtherParts(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentPart{
			ThinkingPart("checking apply_patch output... ", "sig_1"),
			TextPart("The patch applied cleanly."),
			ThinkingPart("done", "sig_2"),
		},
	}
	if got := msg.TextContent(); got != "The patch applied cleanly." {
		t.Errorf("TextContent() = %q", got)
	}
	if got := msg.ReasoningContent(); got != "checking apply_patch output... done" {
		t.Errorf("ReasoningContent() = %q", got)
	}
}

func TestMessageToolCalls(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentPart{
			TextPart("Let me check."),
			ToolCallPart("call_1", "read_file", json.RawMessage(`{"path":"main.go"}`)),
			ToolCallPart("call_2", "grep", json.RawMessage(`{"pattern":"TODO"}`)),
		},
	}
	calls := msg.ToolCalls()
	if len(calls) != 2 || calls[0].Name != "read_file" || calls[1].Name != "grep" {
		t.Fatalf("unexpected tool calls: %+v", calls)
	}
}

func TestToolCallDataArgumentsMap(t *testing.T) {
	tc := &ToolCallData{Arguments: json.RawMessage(`{"path":"main.go","recursive":true}`)}
	m, err := tc.ArgumentsMap()
	if err != nil {
		t.Fatalf("ArgumentsMap() error: %v", err)
	}
	if m["path"] != "main.go" || m["recursive"] != true {
		t.Errorf("ArgumentsMap() = %v", m)
	}

	if _, err := (&ToolCallData{Arguments: json.RawMessage(`not json`)}).ArgumentsMap(); err == nil {
		t.Error("expected error for invalid JSON arguments")
	}
}

func TestUsageAdd(t *testing.T) {
	a := Usage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150, ReasoningTokens: IntPtr(20), CacheReadTokens: IntPtr(30)}
	b := Usage{InputTokens: 200, OutputTokens: 80, TotalTokens: 280, ReasoningTokens: IntPtr(40), CacheWriteTokens: IntPtr(10)}
	result := a.Add(b)

	if result.InputTokens != 300 || result.OutputTokens != 130 || result.TotalTokens != 430 {
		t.Errorf("token totals = %+v", result)
	}
	if result.ReasoningTokens == nil || *result.ReasoningTokens != 60 {
		t.Errorf("ReasoningTokens = %v, want 60", result.ReasoningTokens)
	}
	if result.CacheReadTokens == nil || *result.CacheReadTokens != 30 {
		t.Errorf("CacheReadTokens = %v, want 30", result.CacheReadTokens)
	}
	if result.CacheWriteTokens == nil || *result.CacheWriteTokens != 10 {
		t.Errorf("CacheWriteTokens = %v, want 10", result.CacheWriteTokens)
	}

	noOptional := Usage{InputTokens: 10, TotalTokens: 10}.Add(Usage{InputTokens: 20, TotalTokens: 20})
	if noOptional.ReasoningTokens != nil || noOptional.CacheReadTokens != nil {
		t.Errorf("expected nil optional fields when neither side sets them, got %+v", noOptional)
	}
}

func TestContentPartConstructors(t *testing.T) {
	if p := ImageDataPart([]byte{0x89, 0x50, 0x4E, 0x47}, "image/png"); p.Kind != ContentImage || len(p.Image.Data) != 4 {
		t.Errorf("unexpected image data part: %+v", p)
	}
	if p := ThinkingPart("reasoning", "sig_abc"); p.Kind != ContentThinking || p.Thinking.Redacted {
		t.Errorf("unexpected thinking part: %+v", p)
	}
	if p := RedactedThinkingPart("opaque", "sig_xyz"); p.Kind != ContentRedactedThinking || !p.Thinking.Redacted {
		t.Errorf("unexpected redacted thinking part: %+v", p)
	}
}

func TestToolIsActive(t *testing.T) {
	passive := Tool{ToolDefinition: ToolDefinition{Name: "read_file"}}
	if passive.IsActive() {
		t.Error("tool with no Execute handler should not be active")
	}
	active := Tool{
		ToolDefinition: ToolDefinition{Name: "read_file"},
		Execute:        func(args json.RawMessage) (string, error) { return "", nil },
	}
	if !active.IsActive() {
		t.Error("tool with an Execute handler should be active")
	}
}

func TestResponseAccessorsDelegateToMessage(t *testing.T) {
	resp := Response{
		ID:       "resp_1",
		Model:    "claude-sonnet-4-5",
		Provider: "claude",
		Message: Message{
			Role: RoleAssistant,
			Content: []ContentPart{
				ThinkingPart("hmm", "sig_1"),
				TextPart("patch applied."),
				ToolCallPart("call_1", "apply_patch", json.RawMessage(`{}`)),
			},
		},
		FinishReason: FinishReason{Reason: FinishToolCalls},
		Usage:        Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
	}

	if resp.TextContent() != "patch applied." {
		t.Errorf("TextContent() = %q", resp.TextContent())
	}
	if resp.Reasoning() != "hmm" {
		t.Errorf("Reasoning() = %q", resp.Reasoning())
	}
	if calls := resp.ToolCalls(); len(calls) != 1 || calls[0].Name != "apply_patch" {
		t.Errorf("ToolCalls() = %+v", calls)
	}
}

func TestDefaultAdapterTimeout(t *testing.T) {
	at := DefaultAdapterTimeout()
	if at.Connect.Seconds() != 10 || at.Request.Seconds() != 120 || at.StreamRead.Seconds() != 30 {
		t.Errorf("unexpected defaults: %+v", at)
	}
}
