// ABOUTME: Tests for the SQLite persistence layer.
// ABOUTME: Covers session lifecycle, append-only message ordering, and the tool call state machine.
package store

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetSession(t *testing.T) {
	s := openTestStore(t)

	prompt := "be helpful"
	sess, err := s.CreateSession("work-1", "claude", "claude-sonnet-4-5", &prompt, 1000)
	if err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	if sess.ID == 0 {
		t.Fatal("expected a non-zero session id")
	}
	if sess.Status != SessionRunning {
		t.Errorf("expected status %q, got %q", SessionRunning, sess.Status)
	}

	got, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession returned error: %v", err)
	}
	if got.WorkID != "work-1" || got.ProviderTag != "claude" || got.ModelTag != "claude-sonnet-4-5" {
		t.Errorf("unexpected session fields: %+v", got)
	}
	if got.SystemPrompt == nil || *got.SystemPrompt != prompt {
		t.Errorf("expected system prompt %q, got %v", prompt, got.SystemPrompt)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetSession(999)
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFailSession(t *testing.T) {
	s := openTestStore(t)

	sess, err := s.CreateSession("work-1", "openai", "gpt-4", nil, 1000)
	if err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}

	if err := s.FailSession(sess.ID, 2000); err != nil {
		t.Fatalf("FailSession returned error: %v", err)
	}

	got, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession returned error: %v", err)
	}
	if got.Status != SessionFailed {
		t.Errorf("expected status %q, got %q", SessionFailed, got.Status)
	}
	if got.EndedAt == nil || *got.EndedAt != 2000 {
		t.Errorf("expected ended_at 2000, got %v", got.EndedAt)
	}
}

func TestAppendAndListMessagesOrdering(t *testing.T) {
	s := openTestStore(t)

	sess, err := s.CreateSession("work-1", "claude", "claude-sonnet-4-5", nil, 1000)
	if err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}

	if _, err := s.AppendMessage(sess.ID, RoleUser, "list the files in src", 1001); err != nil {
		t.Fatalf("AppendMessage returned error: %v", err)
	}
	if _, err := s.AppendMessage(sess.ID, RoleAssistant, `{"text":"ok","tool_calls":[]}`, 1002); err != nil {
		t.Fatalf("AppendMessage returned error: %v", err)
	}
	if _, err := s.AppendMessage(sess.ID, RoleTool, `{"entries":[]}`, 1003); err != nil {
		t.Fatalf("AppendMessage returned error: %v", err)
	}

	messages, err := s.ListMessages(sess.ID)
	if err != nil {
		t.Fatalf("ListMessages returned error: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i := 1; i < len(messages); i++ {
		if messages[i].CreatedAt < messages[i-1].CreatedAt {
			t.Errorf("messages out of order at index %d", i)
		}
		if messages[i].ID <= messages[i-1].ID {
			t.Errorf("message ids not monotonically increasing at index %d", i)
		}
	}
	if messages[0].Role != RoleUser || messages[1].Role != RoleAssistant || messages[2].Role != RoleTool {
		t.Errorf("unexpected role ordering: %+v", messages)
	}
}

func TestToolCallStateMachine(t *testing.T) {
	s := openTestStore(t)

	sess, err := s.CreateSession("work-1", "claude", "claude-sonnet-4-5", nil, 1000)
	if err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	msg, err := s.AppendMessage(sess.ID, RoleAssistant, `{"text":"","tool_calls":[{"id":"call_1"}]}`, 1001)
	if err != nil {
		t.Fatalf("AppendMessage returned error: %v", err)
	}

	tc, err := s.CreateToolCall(sess.ID, &msg.ID, "grep", `{"pattern":"TODO"}`, 1002)
	if err != nil {
		t.Fatalf("CreateToolCall returned error: %v", err)
	}
	if tc.Status != ToolCallExecuting {
		t.Errorf("expected status %q, got %q", ToolCallExecuting, tc.Status)
	}

	response := `{"matches":[],"total_matches":0,"files_searched":3,"truncated":false}`
	if err := s.UpdateToolCall(tc.ID, ToolCallCompleted, &response, nil, 1005, 3); err != nil {
		t.Fatalf("UpdateToolCall returned error: %v", err)
	}

	calls, err := s.ListToolCalls(sess.ID)
	if err != nil {
		t.Fatalf("ListToolCalls returned error: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}
	got := calls[0]
	if got.Status != ToolCallCompleted {
		t.Errorf("expected status %q, got %q", ToolCallCompleted, got.Status)
	}
	if got.CompletedAt == nil || *got.CompletedAt != 1005 {
		t.Errorf("expected completed_at 1005, got %v", got.CompletedAt)
	}
	if got.DurationMs == nil || *got.DurationMs != 3 {
		t.Errorf("expected duration_ms 3, got %v", got.DurationMs)
	}
	if got.ResponsePayload == nil || *got.ResponsePayload != response {
		t.Errorf("unexpected response payload: %v", got.ResponsePayload)
	}
}

func TestSweepStaleExecuting(t *testing.T) {
	s := openTestStore(t)

	sess, err := s.CreateSession("work-1", "claude", "claude-sonnet-4-5", nil, 1000)
	if err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	tc, err := s.CreateToolCall(sess.ID, nil, "bash", `{"command":"sleep 100"}`, 1002)
	if err != nil {
		t.Fatalf("CreateToolCall returned error: %v", err)
	}

	if err := s.SweepStaleExecuting(sess.ID, 2000); err != nil {
		t.Fatalf("SweepStaleExecuting returned error: %v", err)
	}

	calls, err := s.ListToolCalls(sess.ID)
	if err != nil {
		t.Fatalf("ListToolCalls returned error: %v", err)
	}
	if len(calls) != 1 || calls[0].ID != tc.ID {
		t.Fatalf("unexpected tool calls after sweep: %+v", calls)
	}
	if calls[0].Status != ToolCallFailed {
		t.Errorf("expected status %q, got %q", ToolCallFailed, calls[0].Status)
	}
	if calls[0].Error == nil || *calls[0].Error != "cancelled" {
		t.Errorf("expected error 'cancelled', got %v", calls[0].Error)
	}
}
