// ABOUTME: HTTP surface exposing the orchestrator's six operations over chi.
// ABOUTME: JSON request/response bodies, with Server-Sent Events for the subscribe operation.

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389-research/chorus/agent"
)

// Server wires the orchestrator to a chi router. It holds no state of its
// own beyond the orchestrator reference; all session state lives there and
// in the underlying store.
type Server struct {
	orc    *agent.Orchestrator
	router chi.Router
}

// NewServer constructs a Server and builds its router.
func NewServer(orc *agent.Orchestrator) *Server {
	s := &Server{orc: orc}
	s.router = s.buildRouter()
	return s
}

// Handler returns the http.Handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/messages", s.handleProcessMessage)
			r.Get("/messages", s.handleListMessages)
			r.Get("/tool_calls", s.handleListToolCalls)
			r.Get("/events", s.handleSubscribe)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createSessionRequest struct {
	WorkID       string  `json:"work_id"`
	ProviderTag  string  `json:"provider_tag"`
	ModelTag     string  `json:"model_tag"`
	SystemPrompt *string `json:"system_prompt"`
}

type createSessionResponse struct {
	SessionID int64 `json:"session_id"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sessionID, err := s.orc.CreateSession(req.WorkID, req.ProviderTag, req.ModelTag, req.SystemPrompt)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: sessionID})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := s.orc.GetSession(sessionID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type processMessageRequest struct {
	Text string `json:"text"`
}

type processMessageResponse struct {
	Text string `json:"text"`
}

func (s *Server) handleProcessMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req processMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	text, err := s.orc.ProcessMessage(r.Context(), sessionID, req.Text)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, processMessageResponse{Text: text})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	messages, err := s.orc.ListMessages(sessionID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleListToolCalls(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	toolCalls, err := s.orc.ListToolCalls(sessionID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toolCalls)
}

// handleSubscribe streams a session's events as Server-Sent Events until the
// client disconnects. There is no history replay: a subscriber only sees
// events emitted after it connects.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	events, err := s.orc.Subscribe(sessionID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Kind, payload)
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

func sessionIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "sessionID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid session id %q", raw)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeOrchestratorError maps the orchestrator's typed errors to HTTP status
// codes; anything unrecognized is a 500.
func writeOrchestratorError(w http.ResponseWriter, err error) {
	var notFound *agent.SessionNotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	var invalidProvider *agent.InvalidProviderError
	if errors.As(err, &invalidProvider) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var corrupted *agent.InternalCorruptionError
	if errors.As(err, &corrupted) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
