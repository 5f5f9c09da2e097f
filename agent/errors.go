// ABOUTME: Error taxonomy for tool execution and session orchestration.
// ABOUTME: Errors are values returned from execute, not thrown; they translate directly to tool-role messages.

package agent

import "fmt"

// InvalidPathError is returned when a resolved path escapes the executor's base path.
type InvalidPathError struct {
	Path     string
	BasePath string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("path %q escapes base path %q", e.Path, e.BasePath)
}

// ToolNotFoundError is returned when a file or directory does not exist.
type ToolNotFoundError struct {
	Path string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

// ToolIoError wraps an underlying filesystem or process I/O failure.
type ToolIoError struct {
	Op   string
	Path string
	Err  error
}

func (e *ToolIoError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ToolIoError) Unwrap() error {
	return e.Err
}

// FileTooLargeError is returned when a file exceeds the configured size cap.
type FileTooLargeError struct {
	Path string
	Size int64
	Max  int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("%s is %d bytes, exceeds max of %d", e.Path, e.Size, e.Max)
}

// ToolPermissionDeniedError is returned when the bash permission engine denies a command.
type ToolPermissionDeniedError struct {
	Command     string
	MatchedRule string
}

func (e *ToolPermissionDeniedError) Error() string {
	if e.MatchedRule != "" {
		return fmt.Sprintf("command denied by rule %q: %s", e.MatchedRule, e.Command)
	}
	return fmt.Sprintf("command denied (no rule matched, default deny): %s", e.Command)
}

// ToolPatchConflictError is returned when a patch hunk cannot be located in its target file.
type ToolPatchConflictError struct {
	File   string
	Reason string
}

func (e *ToolPatchConflictError) Error() string {
	return fmt.Sprintf("patch conflict in %s: %s", e.File, e.Reason)
}

// ToolDisabledError is returned when a tool is invoked but not exposed under the
// session's enable_tools setting (or bash_enabled is false).
type ToolDisabledError struct {
	Tool string
}

func (e *ToolDisabledError) Error() string {
	return fmt.Sprintf("tool %q is disabled for this session", e.Tool)
}

// BashTimeoutError is returned when a bash command exceeds its timeout ceiling.
// Execution still returns a normal ExecResult with TimedOut=true and ExitCode=124;
// this type is used where the orchestrator needs to distinguish the case as an error.
type BashTimeoutError struct {
	Command    string
	TimeoutMs  int
}

func (e *BashTimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %dms: %s", e.TimeoutMs, e.Command)
}

// SessionNotFoundError is returned when an operation references an unknown session id.
type SessionNotFoundError struct {
	SessionID int64
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %d not found", e.SessionID)
}

// InvalidProviderError is returned when (provider_tag, model_tag) does not map to a known adapter.
type InvalidProviderError struct {
	Provider string
	Model    string
}

func (e *InvalidProviderError) Error() string {
	return fmt.Sprintf("no adapter for provider %q model %q", e.Provider, e.Model)
}

// ToolDispatchError wraps a failure encountered while dispatching a tool call
// that is not itself one of the tool-level error types above (e.g. persistence
// failure while recording a ToolCall).
type ToolDispatchError struct {
	ToolName string
	Err      error
}

func (e *ToolDispatchError) Error() string {
	return fmt.Sprintf("dispatching tool %q: %v", e.ToolName, e.Err)
}

func (e *ToolDispatchError) Unwrap() error {
	return e.Err
}

// InternalCorruptionError marks the session as failed following a persistence
// failure mid-turn; it is fatal for the turn per the error propagation policy.
type InternalCorruptionError struct {
	Err error
}

func (e *InternalCorruptionError) Error() string {
	return fmt.Sprintf("internal corruption: %v", e.Err)
}

func (e *InternalCorruptionError) Unwrap() error {
	return e.Err
}
