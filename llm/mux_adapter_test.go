// ABOUTME: Tests for the MuxAdapter that bridges mux/llm.Client to chorus's ProviderAdapter interface.
// ABOUTME: Covers request/response conversion, streaming, tool calls, and type mapping.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	muxllm "github.com/2389-research/mux/llm"
)

// stubMuxClient implements muxllm.Client for testing without mocks.
// It records the request and returns a preconfigured response.
type stubMuxClient struct {
	lastRequest  *muxllm.Request
	response     *muxllm.Response
	err          error
	streamEvents []muxllm.StreamEvent
	streamErr    error
}

func (s *stubMuxClient) CreateMessage(ctx context.Context, req *muxllm.Request) (*muxllm.Response, error) {
	s.lastRequest = req
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

func (s *stubMuxClient) CreateMessageStream(ctx context.Context, req *muxllm.Request) (<-chan muxllm.StreamEvent, error) {
	s.lastRequest = req
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	ch := make(chan muxllm.StreamEvent, len(s.streamEvents))
	for _, evt := range s.streamEvents {
		ch <- evt
	}
	close(ch)
	return ch, nil
}

func TestMuxAdapterImplementsProviderAdapter(t *testing.T) {
	adapter := NewMuxAdapter("claude-mux", &stubMuxClient{})
	var _ ProviderAdapter = adapter

	if got := adapter.Name(); got != "claude-mux" {
		t.Errorf("Name() = %q, want %q", got, "claude-mux")
	}
	if err := adapter.Close(); err != nil {
		t.Errorf("Close() returned unexpected error: %v", err)
	}
}

func TestConvertRequestBasicTextMessages(t *testing.T) {
	req := Request{
		Model: "claude-sonnet-4-5",
		Messages: []Message{
			UserMessage("list the files in the repo"),
			AssistantMessage("running list_files"),
			UserMessage("now grep for TODO"),
		},
		MaxTokens:   intPtr(1024),
		Temperature: Float64Ptr(0.7),
	}

	muxReq := convertRequest(req)

	if muxReq.Model != "claude-sonnet-4-5" || muxReq.MaxTokens != 1024 {
		t.Errorf("got Model=%q MaxTokens=%d", muxReq.Model, muxReq.MaxTokens)
	}
	if muxReq.Temperature == nil || *muxReq.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", muxReq.Temperature)
	}
	if muxReq.System != "" {
		t.Errorf("System = %q, want empty", muxReq.System)
	}
	if len(muxReq.Messages) != 3 {
		t.Fatalf("len(Messages) = %d, want 3", len(muxReq.Messages))
	}
	if muxReq.Messages[0].Role != muxllm.RoleUser || muxReq.Messages[0].Content != "list the files in the repo" {
		t.Errorf("Messages[0] = %+v", muxReq.Messages[0])
	}
}

func TestConvertRequestSystemMessageExtraction(t *testing.T) {
	req := Request{
		Model: "test-model",
		Messages: []Message{
			SystemMessage("You are chorus, an agent runtime."),
			DeveloperMessage("Prefer apply_patch over raw writes."),
			UserMessage("fix the bug"),
		},
	}

	muxReq := convertRequest(req)

	wantSystem := "You are chorus, an agent runtime.\nPrefer apply_patch over raw writes."
	if muxReq.System != wantSystem {
		t.Errorf("System = %q, want %q", muxReq.System, wantSystem)
	}
	if len(muxReq.Messages) != 1 || muxReq.Messages[0].Content != "fix the bug" {
		t.Fatalf("expected system/developer messages extracted, got %+v", muxReq.Messages)
	}
}

func TestConvertRequestToolResultMessages(t *testing.T) {
	ok := convertRequest(Request{
		Model:    "test-model",
		Messages: []Message{ToolResultMessage("call_123", "main.go\nREADME.md", false)},
	})
	block := ok.Messages[0].Blocks[0]
	if ok.Messages[0].Role != muxllm.RoleUser || block.Type != muxllm.ContentTypeToolResult {
		t.Fatalf("unexpected converted message: %+v", ok.Messages[0])
	}
	if block.ToolUseID != "call_123" || block.Text != "main.go\nREADME.md" || block.IsError {
		t.Errorf("unexpected block: %+v", block)
	}

	failed := convertRequest(Request{
		Model:    "test-model",
		Messages: []Message{ToolResultMessage("call_456", "permission denied", true)},
	})
	if !failed.Messages[0].Blocks[0].IsError {
		t.Error("expected IsError=true to survive conversion")
	}
}

func TestConvertRequestAssistantToolCallMessage(t *testing.T) {
	args := json.RawMessage(`{"path": "main.go", "content": "package main"}`)
	req := Request{
		Model: "test-model",
		Messages: []Message{
			{
				Role: RoleAssistant,
				Content: []ContentPart{
					TextPart("Let me write that file."),
					ToolCallPart("call_abc", "write_file", args),
				},
			},
		},
	}

	muxReq := convertRequest(req)
	msg := muxReq.Messages[0]
	if msg.Role != muxllm.RoleAssistant || len(msg.Blocks) != 2 {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Blocks[0].Type != muxllm.ContentTypeText || msg.Blocks[0].Text != "Let me write that file." {
		t.Errorf("Blocks[0] = %+v", msg.Blocks[0])
	}
	if msg.Blocks[1].Type != muxllm.ContentTypeToolUse || msg.Blocks[1].ID != "call_abc" || msg.Blocks[1].Name != "write_file" {
		t.Errorf("Blocks[1] = %+v", msg.Blocks[1])
	}
	if msg.Blocks[1].Input["path"] != "main.go" {
		t.Errorf("Blocks[1].Input[path] = %v, want main.go", msg.Blocks[1].Input["path"])
	}
}

func TestConvertRequestThinkingAndRedactedDropped(t *testing.T) {
	req := Request{
		Model: "test-model",
		Messages: []Message{
			{
				Role: RoleAssistant,
				Content: []ContentPart{
					ThinkingPart("checking grep output", "sig123"),
					RedactedThinkingPart("", "sig456"),
					TextPart("found three matches"),
				},
			},
		},
	}

	muxReq := convertRequest(req)
	msg := muxReq.Messages[0]
	if len(msg.Blocks) != 1 || msg.Blocks[0].Text != "found three matches" {
		t.Fatalf("expected thinking parts dropped, got %+v", msg.Blocks)
	}
}

func TestConvertRequestToolDefinitions(t *testing.T) {
	params := json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
	req := Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("read main.go")},
		Tools: []ToolDefinition{
			{Name: "read_file", Description: "Read a file", Parameters: params},
		},
	}

	muxReq := convertRequest(req)
	if len(muxReq.Tools) != 1 {
		t.Fatalf("len(Tools) = %d, want 1", len(muxReq.Tools))
	}
	tool := muxReq.Tools[0]
	if tool.Name != "read_file" || tool.Description != "Read a file" {
		t.Errorf("unexpected tool: %+v", tool)
	}
	if tool.InputSchema["type"] != "object" {
		t.Errorf("InputSchema[type] = %v, want object", tool.InputSchema["type"])
	}
}

func TestConvertRequestSimpleTextMessageUsesContentField(t *testing.T) {
	muxReq := convertRequest(Request{Model: "test-model", Messages: []Message{UserMessage("just text")}})
	msg := muxReq.Messages[0]
	if msg.Content != "just text" || len(msg.Blocks) != 0 {
		t.Errorf("expected Content field used for single-text messages, got %+v", msg)
	}
}

func TestConvertRequestMaxTokensZeroWhenNil(t *testing.T) {
	muxReq := convertRequest(Request{Model: "test-model", Messages: []Message{UserMessage("hello")}})
	if muxReq.MaxTokens != 0 {
		t.Errorf("MaxTokens = %d, want 0 when source is nil", muxReq.MaxTokens)
	}
}

func TestConvertResponseTextOnly(t *testing.T) {
	muxResp := &muxllm.Response{
		ID:         "msg_123",
		Model:      "claude-sonnet-4-5",
		Content:    []muxllm.ContentBlock{{Type: muxllm.ContentTypeText, Text: "Done."}},
		StopReason: muxllm.StopReasonEndTurn,
		Usage:      muxllm.Usage{InputTokens: 10, OutputTokens: 5},
	}

	resp := convertResponse(muxResp, "claude")

	if resp.ID != "msg_123" || resp.Provider != "claude" || resp.Message.Role != RoleAssistant {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.TextContent() != "Done." {
		t.Errorf("TextContent() = %q", resp.TextContent())
	}
	if resp.FinishReason.Reason != FinishStop || resp.FinishReason.Raw != string(muxllm.StopReasonEndTurn) {
		t.Errorf("FinishReason = %+v", resp.FinishReason)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 || resp.Usage.TotalTokens != 15 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
}

func TestConvertResponseWithToolCalls(t *testing.T) {
	muxResp := &muxllm.Response{
		ID:    "msg_456",
		Model: "test-model",
		Content: []muxllm.ContentBlock{
			{Type: muxllm.ContentTypeText, Text: "I'll read the file."},
			{Type: muxllm.ContentTypeToolUse, ID: "call_xyz", Name: "read_file", Input: map[string]any{"path": "main.go"}},
		},
		StopReason: muxllm.StopReasonToolUse,
		Usage:      muxllm.Usage{InputTokens: 20, OutputTokens: 15},
	}

	resp := convertResponse(muxResp, "claude")
	if resp.FinishReason.Reason != FinishToolCalls {
		t.Errorf("FinishReason.Reason = %q, want %q", resp.FinishReason.Reason, FinishToolCalls)
	}

	parts := resp.Message.Content
	if len(parts) != 2 || parts[0].Kind != ContentText || parts[1].Kind != ContentToolCall {
		t.Fatalf("unexpected parts: %+v", parts)
	}
	tc := parts[1].ToolCall
	if tc == nil || tc.ID != "call_xyz" || tc.Name != "read_file" {
		t.Fatalf("unexpected tool call: %+v", tc)
	}
	var argsMap map[string]any
	if err := json.Unmarshal(tc.Arguments, &argsMap); err != nil {
		t.Fatalf("unmarshal tool call arguments: %v", err)
	}
	if argsMap["path"] != "main.go" {
		t.Errorf("arguments[path] = %v, want main.go", argsMap["path"])
	}
}

func TestConvertResponseStopReasonMapping(t *testing.T) {
	cases := []struct {
		muxReason  muxllm.StopReason
		wantReason string
	}{
		{muxllm.StopReasonEndTurn, FinishStop},
		{muxllm.StopReasonToolUse, FinishToolCalls},
		{muxllm.StopReasonMaxTokens, FinishLength},
		{muxllm.StopReason("unknown_reason"), FinishOther},
	}

	for _, tt := range cases {
		resp := convertResponse(&muxllm.Response{
			ID:         "msg_test",
			Model:      "test-model",
			Content:    []muxllm.ContentBlock{{Type: muxllm.ContentTypeText, Text: "test"}},
			StopReason: tt.muxReason,
		}, "claude")
		if resp.FinishReason.Reason != tt.wantReason || resp.FinishReason.Raw != string(tt.muxReason) {
			t.Errorf("reason %q: got %+v", tt.muxReason, resp.FinishReason)
		}
	}
}

func TestMuxAdapterCompleteEndToEnd(t *testing.T) {
	stub := &stubMuxClient{
		response: &muxllm.Response{
			ID:    "msg_e2e",
			Model: "claude-sonnet-4-5",
			Content: []muxllm.ContentBlock{
				{Type: muxllm.ContentTypeText, Text: "Working on it."},
				{Type: muxllm.ContentTypeToolUse, ID: "call_001", Name: "bash", Input: map[string]any{"command": "ls -la"}},
			},
			StopReason: muxllm.StopReasonToolUse,
			Usage:      muxllm.Usage{InputTokens: 100, OutputTokens: 50},
		},
	}
	adapter := NewMuxAdapter("claude", stub)

	params := json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}},"required":["command"]}`)
	req := Request{
		Model: "claude-sonnet-4-5",
		Messages: []Message{
			SystemMessage("You are chorus, an agent runtime."),
			UserMessage("list the files."),
		},
		Tools:       []ToolDefinition{{Name: "bash", Description: "Run a bash command", Parameters: params}},
		MaxTokens:   intPtr(4096),
		Temperature: Float64Ptr(0.5),
	}

	resp, err := adapter.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	if stub.lastRequest == nil || stub.lastRequest.System != "You are chorus, an agent runtime." {
		t.Fatalf("unexpected converted request: %+v", stub.lastRequest)
	}
	if len(stub.lastRequest.Messages) != 1 || len(stub.lastRequest.Tools) != 1 {
		t.Errorf("len(Messages)=%d len(Tools)=%d, want 1 and 1", len(stub.lastRequest.Messages), len(stub.lastRequest.Tools))
	}

	if resp.ID != "msg_e2e" || resp.Provider != "claude" || resp.FinishReason.Reason != FinishToolCalls {
		t.Fatalf("unexpected response: %+v", resp)
	}
	toolCalls := resp.ToolCalls()
	if len(toolCalls) != 1 || toolCalls[0].Name != "bash" {
		t.Fatalf("ToolCalls() = %+v", toolCalls)
	}
}

func TestMuxAdapterCompleteWrapsError(t *testing.T) {
	adapter := NewMuxAdapter("claude", &stubMuxClient{err: fmt.Errorf("connection refused")})

	_, err := adapter.Complete(context.Background(), Request{Model: "test-model", Messages: []Message{UserMessage("hello")}})
	if err == nil || err.Error() != "mux adapter complete: connection refused" {
		t.Fatalf("err = %v, want wrapped connection error", err)
	}
}

func TestMuxAdapterStreamEndToEnd(t *testing.T) {
	stub := &stubMuxClient{
		streamEvents: []muxllm.StreamEvent{
			{Type: muxllm.EventMessageStart, Response: &muxllm.Response{ID: "msg_stream"}},
			{Type: muxllm.EventContentStart, Index: 0, Block: &muxllm.ContentBlock{Type: muxllm.ContentTypeText}},
			{Type: muxllm.EventContentDelta, Index: 0, Text: "Hello "},
			{Type: muxllm.EventContentDelta, Index: 0, Text: "world"},
			{Type: muxllm.EventContentStop, Index: 0},
			{Type: muxllm.EventMessageStop, Response: &muxllm.Response{
				ID: "msg_stream", Model: "test-model", StopReason: muxllm.StopReasonEndTurn,
				Usage: muxllm.Usage{InputTokens: 5, OutputTokens: 2},
			}},
		},
	}
	adapter := NewMuxAdapter("claude", stub)

	ch, err := adapter.Stream(context.Background(), Request{Model: "test-model", Messages: []Message{UserMessage("say hi")}})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}

	var events []StreamEvent
	for evt := range ch {
		events = append(events, evt)
	}
	if len(events) == 0 || events[0].Type != StreamStart {
		t.Fatalf("unexpected event sequence: %+v", events)
	}

	var textContent string
	for _, evt := range events {
		if evt.Type == StreamTextDelta {
			textContent += evt.Delta
		}
	}
	if textContent != "Hello world" {
		t.Errorf("accumulated text = %q, want %q", textContent, "Hello world")
	}
	if last := events[len(events)-1]; last.Type != StreamFinish {
		t.Errorf("last event Type = %q, want %q", last.Type, StreamFinish)
	}
}

func TestMuxAdapterStreamWithToolUse(t *testing.T) {
	stub := &stubMuxClient{
		streamEvents: []muxllm.StreamEvent{
			{Type: muxllm.EventMessageStart, Response: &muxllm.Response{ID: "msg_tool_stream"}},
			{Type: muxllm.EventContentStart, Index: 0, Block: &muxllm.ContentBlock{Type: muxllm.ContentTypeToolUse, ID: "call_stream_1", Name: "read_file"}},
			{Type: muxllm.EventContentDelta, Index: 0, Text: `{"path": "main`},
			{Type: muxllm.EventContentDelta, Index: 0, Text: `.go"}`},
			{Type: muxllm.EventContentStop, Index: 0},
			{Type: muxllm.EventMessageStop, Response: &muxllm.Response{
				ID: "msg_tool_stream", Model: "test-model", StopReason: muxllm.StopReasonToolUse,
				Usage: muxllm.Usage{InputTokens: 10, OutputTokens: 8},
			}},
		},
	}
	adapter := NewMuxAdapter("claude", stub)

	ch, err := adapter.Stream(context.Background(), Request{Model: "test-model", Messages: []Message{UserMessage("read a file")}})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}

	var foundStart, foundDelta, foundEnd bool
	for evt := range ch {
		switch evt.Type {
		case StreamToolStart:
			foundStart = true
			if evt.ToolCall == nil || evt.ToolCall.ID != "call_stream_1" || evt.ToolCall.Name != "read_file" {
				t.Errorf("unexpected tool_call_start payload: %+v", evt.ToolCall)
			}
		case StreamToolDelta:
			foundDelta = true
		case StreamToolEnd:
			foundEnd = true
		}
	}
	if !foundStart || !foundDelta || !foundEnd {
		t.Errorf("missing tool stream events: start=%v delta=%v end=%v", foundStart, foundDelta, foundEnd)
	}
}

func TestMuxAdapterStreamErrors(t *testing.T) {
	failing := NewMuxAdapter("claude", &stubMuxClient{streamErr: fmt.Errorf("stream not supported")})
	if _, err := failing.Stream(context.Background(), Request{Model: "test-model", Messages: []Message{UserMessage("hello")}}); err == nil {
		t.Fatal("Stream() expected error from CreateMessageStream, got nil")
	}

	midStream := NewMuxAdapter("claude", &stubMuxClient{streamEvents: []muxllm.StreamEvent{
		{Type: muxllm.EventMessageStart, Response: &muxllm.Response{ID: "msg_err"}},
		{Type: muxllm.EventError, Error: fmt.Errorf("overloaded")},
	}})
	ch, err := midStream.Stream(context.Background(), Request{Model: "test-model", Messages: []Message{UserMessage("hello")}})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	var foundError bool
	for evt := range ch {
		if evt.Type == StreamErrorEvt {
			foundError = true
			if evt.Error == nil {
				t.Error("error event has nil Error")
			}
		}
	}
	if !foundError {
		t.Error("did not find error event in stream")
	}
}

func TestConvertContentPartsToBlocksMixedContent(t *testing.T) {
	args := json.RawMessage(`{"key":"value"}`)
	parts := []ContentPart{
		TextPart("some text"),
		ToolCallPart("call_1", "grep", args),
		ToolResultPart("call_2", "result text", false),
		ThinkingPart("thinking...", "sig"),
		ImageURLPart("http://example.com/img.png"),
	}

	blocks := convertContentPartsToBlocks(parts)
	if len(blocks) != 3 {
		t.Fatalf("len(blocks) = %d, want 3 (thinking/image dropped)", len(blocks))
	}
	if blocks[0].Type != muxllm.ContentTypeText || blocks[1].Type != muxllm.ContentTypeToolUse || blocks[2].Type != muxllm.ContentTypeToolResult {
		t.Errorf("unexpected block types: %+v", blocks)
	}
}

func TestConvertBlocksToContentParts(t *testing.T) {
	blocks := []muxllm.ContentBlock{
		{Type: muxllm.ContentTypeText, Text: "hello"},
		{Type: muxllm.ContentTypeToolUse, ID: "call_x", Name: "my_tool", Input: map[string]any{"a": float64(1), "b": "two"}},
		{Type: muxllm.ContentTypeToolResult, ToolUseID: "call_y", Text: "result", IsError: true},
	}

	parts := convertBlocksToContentParts(blocks)
	if len(parts) != 3 || parts[0].Kind != ContentText || parts[1].Kind != ContentToolCall || parts[2].Kind != ContentToolResult {
		t.Fatalf("unexpected parts: %+v", parts)
	}

	tc := parts[1].ToolCall
	if tc.ID != "call_x" {
		t.Errorf("ToolCall.ID = %q, want call_x", tc.ID)
	}
	var argsMap map[string]any
	if err := json.Unmarshal(tc.Arguments, &argsMap); err != nil {
		t.Fatalf("unmarshal arguments: %v", err)
	}
	if argsMap["a"] != float64(1) {
		t.Errorf("arguments[a] = %v, want 1", argsMap["a"])
	}

	tr := parts[2].ToolResult
	if tr.ToolCallID != "call_y" || tr.Content != "result" || !tr.IsError {
		t.Errorf("unexpected tool result: %+v", tr)
	}
}

func TestConvertStreamEvent(t *testing.T) {
	cases := []struct {
		name       string
		muxEvent   muxllm.StreamEvent
		wantType   StreamEventType
		checkDelta string
	}{
		{"message_start", muxllm.StreamEvent{Type: muxllm.EventMessageStart, Response: &muxllm.Response{ID: "msg_1"}}, StreamStart, ""},
		{"content_block_start_text", muxllm.StreamEvent{Type: muxllm.EventContentStart, Block: &muxllm.ContentBlock{Type: muxllm.ContentTypeText}}, StreamTextStart, ""},
		{"content_block_start_tool_use", muxllm.StreamEvent{Type: muxllm.EventContentStart, Block: &muxllm.ContentBlock{Type: muxllm.ContentTypeToolUse, ID: "call_s1", Name: "tool_name"}}, StreamToolStart, ""},
		{"content_block_delta_text", muxllm.StreamEvent{Type: muxllm.EventContentDelta, Text: "chunk"}, StreamTextDelta, "chunk"},
		{"content_block_stop", muxllm.StreamEvent{Type: muxllm.EventContentStop}, StreamTextEnd, ""},
		{"message_stop", muxllm.StreamEvent{Type: muxllm.EventMessageStop, Response: &muxllm.Response{StopReason: muxllm.StopReasonEndTurn, Usage: muxllm.Usage{InputTokens: 5, OutputTokens: 3}}}, StreamFinish, ""},
		{"error", muxllm.StreamEvent{Type: muxllm.EventError, Error: fmt.Errorf("bad")}, StreamErrorEvt, ""},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			evt := convertStreamEvent(tt.muxEvent, nil)
			if evt.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", evt.Type, tt.wantType)
			}
			if tt.checkDelta != "" && evt.Delta != tt.checkDelta {
				t.Errorf("Delta = %q, want %q", evt.Delta, tt.checkDelta)
			}
		})
	}
}

func TestConvertStreamEventMessageStartCarriesUsage(t *testing.T) {
	evt := convertStreamEvent(muxllm.StreamEvent{
		Type:     muxllm.EventMessageStart,
		Response: &muxllm.Response{ID: "msg_abc", Usage: muxllm.Usage{InputTokens: 2048}},
	}, nil)
	if evt.Type != StreamStart || evt.Usage == nil || evt.Usage.InputTokens != 2048 {
		t.Fatalf("expected usage forwarded on message_start, got %+v", evt)
	}

	noUsage := convertStreamEvent(muxllm.StreamEvent{Type: muxllm.EventMessageStart}, nil)
	if noUsage.Usage != nil {
		t.Errorf("expected nil Usage for message_start without response, got %+v", noUsage.Usage)
	}
}

// intPtr is a helper for creating *int values in tests.
func intPtr(v int) *int {
	return &v
}
