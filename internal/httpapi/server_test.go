package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/2389-research/chorus/agent"
	"github.com/2389-research/chorus/llm"
	"github.com/2389-research/chorus/store"
)

type fakeAdapter struct {
	responses []llm.Response
	calls     int
}

func (f *fakeAdapter) Name() string { return "claude" }

func (f *fakeAdapter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	resp := f.responses[idx]
	return &resp, nil
}

func (f *fakeAdapter) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	ch := make(chan llm.StreamEvent)
	close(ch)
	return ch, nil
}

func (f *fakeAdapter) Close() error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	registry := agent.NewToolRegistry()
	if err := agent.RegisterCoreTools(registry); err != nil {
		t.Fatalf("RegisterCoreTools returned error: %v", err)
	}

	adapter := &fakeAdapter{responses: []llm.Response{{Message: llm.AssistantMessage("hello there")}}}
	providers := map[string]llm.ProviderAdapter{"claude": adapter}
	orc := agent.NewOrchestrator(st, registry, providers, t.TempDir())

	return NewServer(orc)
}

func TestHandleHealthReturnsOK(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCreateSessionThenProcessMessage(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(createSessionRequest{WorkID: "w1", ProviderTag: "claude", ModelTag: "claude-sonnet-4-5"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sessions/", bytes.NewReader(body))
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created createSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	msgBody, _ := json.Marshal(processMessageRequest{Text: "hi"})
	path := "/sessions/" + strconv.FormatInt(created.SessionID, 10) + "/messages"
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, path, bytes.NewReader(msgBody))
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp processMessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Text != "hello there" {
		t.Errorf("expected 'hello there', got %q", resp.Text)
	}
}

func TestGetSessionUnknownIDReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sessions/9999", nil)
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCreateSessionUnknownProviderReturns400(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(createSessionRequest{WorkID: "w1", ProviderTag: "nope", ModelTag: "m"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sessions/", bytes.NewReader(body))
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}
