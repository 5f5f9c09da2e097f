// ABOUTME: SQLite-backed persistence for sessions, messages, and tool calls.
// ABOUTME: Append-only writes with durable-before-broadcast ordering; the Orchestrator is the sole writer.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Session statuses.
const (
	SessionRunning = "running"
	SessionFailed  = "failed"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall statuses. The state machine is pending -> executing -> (completed | failed).
const (
	ToolCallPending   = "pending"
	ToolCallExecuting = "executing"
	ToolCallCompleted = "completed"
	ToolCallFailed    = "failed"
)

// Session is a bound conversation between a user and one (provider, model) pair.
type Session struct {
	ID           int64
	WorkID       string
	ProviderTag  string
	ModelTag     string
	Status       string
	SystemPrompt *string
	StartedAt    int64
	EndedAt      *int64
}

// Message is a single append-only transcript entry. Content semantics depend on Role:
// assistant content is either plain text or the canonical {"text","tool_calls"} encoding.
type Message struct {
	ID        int64
	SessionID int64
	Role      string
	Content   string
	CreatedAt int64
}

// ToolCall is one invocation of a local tool on behalf of an assistant turn.
type ToolCall struct {
	ID              int64
	SessionID       int64
	MessageID       *int64
	ToolName        string
	RequestPayload  string
	ResponsePayload *string
	Status          string
	Error           *string
	CreatedAt       int64
	CompletedAt     *int64
	DurationMs      *int64
}

// Store is a SQLite-backed implementation of the persistence contract. It owns
// durable state; all durability-then-broadcast ordering is enforced by callers
// committing a Store write before emitting the corresponding event.
type Store struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			work_id       TEXT NOT NULL,
			provider_tag  TEXT NOT NULL,
			model_tag     TEXT NOT NULL,
			status        TEXT NOT NULL,
			system_prompt TEXT,
			started_at    INTEGER NOT NULL,
			ended_at      INTEGER
		);

		CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE TABLE IF NOT EXISTS tool_calls (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id       INTEGER NOT NULL,
			message_id       INTEGER,
			tool_name        TEXT NOT NULL,
			request_payload  TEXT NOT NULL,
			response_payload TEXT,
			status           TEXT NOT NULL,
			error            TEXT,
			created_at       INTEGER NOT NULL,
			completed_at     INTEGER,
			duration_ms      INTEGER,
			FOREIGN KEY (session_id) REFERENCES sessions(id),
			FOREIGN KEY (message_id) REFERENCES messages(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
		CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id, id);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession allocates and persists a new session in status "running".
func (s *Store) CreateSession(workID, providerTag, modelTag string, systemPrompt *string, now int64) (*Session, error) {
	res, err := s.db.Exec(
		`INSERT INTO sessions (work_id, provider_tag, model_tag, status, system_prompt, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		workID, providerTag, modelTag, SessionRunning, systemPrompt, now)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("session last insert id: %w", err)
	}
	return &Session{
		ID:           id,
		WorkID:       workID,
		ProviderTag:  providerTag,
		ModelTag:     modelTag,
		Status:       SessionRunning,
		SystemPrompt: systemPrompt,
		StartedAt:    now,
	}, nil
}

// GetSession looks up a session by id. Returns ErrNotFound if it does not exist.
func (s *Store) GetSession(id int64) (*Session, error) {
	var sess Session
	err := s.db.QueryRow(
		`SELECT id, work_id, provider_tag, model_tag, status, system_prompt, started_at, ended_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.WorkID, &sess.ProviderTag, &sess.ModelTag, &sess.Status,
		&sess.SystemPrompt, &sess.StartedAt, &sess.EndedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// FailSession moves a session's status to "failed" and records ended_at.
// Persistence failures are fatal for the turn; callers invoke this before
// surfacing an InternalCorruption error to the caller of process_message.
func (s *Store) FailSession(id int64, endedAt int64) error {
	_, err := s.db.Exec(
		"UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?",
		SessionFailed, endedAt, id)
	if err != nil {
		return fmt.Errorf("fail session: %w", err)
	}
	return nil
}

// AppendMessage appends a new message to a session's transcript. Messages are
// never updated or deleted; insertion order defines conversation order.
func (s *Store) AppendMessage(sessionID int64, role, content string, now int64) (*Message, error) {
	res, err := s.db.Exec(
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, role, content, now)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message last insert id: %w", err)
	}
	return &Message{ID: id, SessionID: sessionID, Role: role, Content: content, CreatedAt: now}, nil
}

// ListMessages returns a session's messages in insertion order.
func (s *Store) ListMessages(sessionID int64) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, created_at FROM messages
		 WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CreateToolCall persists a new tool call record in status "executing".
// The turn loop dispatches a tool immediately after creating its record, so
// callers do not pass through "pending" explicitly.
func (s *Store) CreateToolCall(sessionID int64, messageID *int64, toolName, requestPayload string, now int64) (*ToolCall, error) {
	res, err := s.db.Exec(
		`INSERT INTO tool_calls (session_id, message_id, tool_name, request_payload, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, messageID, toolName, requestPayload, ToolCallExecuting, now)
	if err != nil {
		return nil, fmt.Errorf("insert tool call: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("tool call last insert id: %w", err)
	}
	return &ToolCall{
		ID: id, SessionID: sessionID, MessageID: messageID, ToolName: toolName,
		RequestPayload: requestPayload, Status: ToolCallExecuting, CreatedAt: now,
	}, nil
}

// UpdateToolCall transitions a tool call to a terminal status, recording its
// response or error along with completion timing. Once terminal, a tool call
// is never updated again.
func (s *Store) UpdateToolCall(id int64, status string, responsePayload, errStr *string, completedAt, durationMs int64) error {
	_, err := s.db.Exec(
		`UPDATE tool_calls SET status = ?, response_payload = ?, error = ?, completed_at = ?, duration_ms = ?
		 WHERE id = ?`,
		status, responsePayload, errStr, completedAt, durationMs, id)
	if err != nil {
		return fmt.Errorf("update tool call: %w", err)
	}
	return nil
}

// ListToolCalls returns a session's tool calls in creation order.
func (s *Store) ListToolCalls(sessionID int64) ([]ToolCall, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, message_id, tool_name, request_payload, response_payload,
		        status, error, created_at, completed_at, duration_ms
		 FROM tool_calls WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query tool calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var calls []ToolCall
	for rows.Next() {
		var tc ToolCall
		if err := rows.Scan(&tc.ID, &tc.SessionID, &tc.MessageID, &tc.ToolName, &tc.RequestPayload,
			&tc.ResponsePayload, &tc.Status, &tc.Error, &tc.CreatedAt, &tc.CompletedAt, &tc.DurationMs); err != nil {
			return nil, fmt.Errorf("scan tool call row: %w", err)
		}
		calls = append(calls, tc)
	}
	return calls, rows.Err()
}

// SweepStaleExecuting reconciles any tool calls left in "executing" status for
// a session, moving them to "failed" with reason "cancelled". This is run on
// next session access after an abandoned process_message invocation.
func (s *Store) SweepStaleExecuting(sessionID int64, now int64) error {
	reason := "cancelled"
	_, err := s.db.Exec(
		`UPDATE tool_calls SET status = ?, error = ?, completed_at = ?
		 WHERE session_id = ? AND status = ?`,
		ToolCallFailed, reason, now, sessionID, ToolCallExecuting)
	if err != nil {
		return fmt.Errorf("sweep stale tool calls: %w", err)
	}
	return nil
}
