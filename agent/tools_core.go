// ABOUTME: Constructors for the core tool set: list_files, read_file, write_file, grep, apply_patch, bash.
// ABOUTME: Each tool's Execute method marshals a structured JSON result, mirroring its documented response shape.

package agent

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/2389-research/chorus/llm"
	"github.com/2389-research/chorus/permission"
)

func getStringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func getIntArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

func getBoolArg(args map[string]any, key string, def bool) bool {
	v, ok := args[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func marshalResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(b), nil
}

// listFilesEntry is a single entry in the list_files response.
type listFilesEntry struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Size *int64 `json:"size,omitempty"`
}

type listFilesResult struct {
	Entries   []listFilesEntry `json:"entries"`
	Truncated bool             `json:"truncated,omitempty"`
}

// NewListFilesTool lists files and directories beneath a path.
func NewListFilesTool() *RegisteredTool {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Directory to list, relative to the workspace root."},
			"max_depth": {"type": "integer", "description": "Recursion depth; 0 lists only immediate children."},
			"include_hidden": {"type": "boolean", "description": "Include dotfiles and dot-directories."}
		},
		"required": ["path"]
	}`)

	return &RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "list_files",
			Description: "List files and directories beneath a path in the workspace.",
			Parameters:  schema,
		},
		Execute: func(args map[string]any, env ExecutionEnvironment) (string, error) {
			path, _ := getStringArg(args, "path")
			if path == "" {
				path = "."
			}
			depth := getIntArg(args, "max_depth", 0)
			includeHidden := getBoolArg(args, "include_hidden", false)

			entries, err := env.ListDirectory(path, depth)
			if err != nil {
				return "", err
			}

			result := listFilesResult{}
			for _, e := range entries {
				hidden := strings.HasPrefix(e.Name, ".") ||
					strings.Contains(e.Name, string(filepath.Separator)+".")
				if !includeHidden && hidden {
					continue
				}
				kind := "file"
				if e.IsDir {
					kind = "dir"
				}
				entry := listFilesEntry{Name: e.Name, Kind: kind}
				if !e.IsDir {
					size := e.Size
					entry.Size = &size
				}
				result.Entries = append(result.Entries, entry)
			}
			return marshalResult(result)
		},
	}
}

type readFileResult struct {
	Content   string `json:"content"`
	Encoding  string `json:"encoding"`
	Truncated bool   `json:"truncated"`
}

// NewReadFileTool reads a file's contents, capped at max_bytes.
func NewReadFileTool() *RegisteredTool {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File to read, relative to the workspace root."},
			"max_bytes": {"type": "integer", "description": "Maximum bytes to return before truncating."}
		},
		"required": ["path"]
	}`)

	return &RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "read_file",
			Description: "Read the contents of a file in the workspace.",
			Parameters:  schema,
		},
		Execute: func(args map[string]any, env ExecutionEnvironment) (string, error) {
			path, ok := getStringArg(args, "path")
			if !ok || path == "" {
				return "", fmt.Errorf("read_file: path is required")
			}
			maxBytes := getIntArg(args, "max_bytes", 0)

			content, err := env.ReadFile(path, 0, 0)
			if err != nil {
				return "", err
			}

			truncated := false
			if maxBytes > 0 && len(content) > maxBytes {
				content = content[:maxBytes]
				truncated = true
			}

			return marshalResult(readFileResult{
				Content:   content,
				Encoding:  "utf-8",
				Truncated: truncated,
			})
		},
	}
}

type writeFileResult struct {
	BytesWritten int  `json:"bytes_written"`
	Created      bool `json:"created"`
	Modified     bool `json:"modified"`
	Replacements *int `json:"replacements,omitempty"`
}

// NewWriteFileTool creates, overwrites, appends to, or find/replaces within a file.
func NewWriteFileTool() *RegisteredTool {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File to write, relative to the workspace root."},
			"mode": {"type": "string", "enum": ["create", "overwrite", "append", "replace"], "description": "Write mode."},
			"content": {"type": "string", "description": "Content for create, overwrite, and append modes."},
			"find": {"type": "string", "description": "Exact text to find, for replace mode."},
			"replace": {"type": "string", "description": "Replacement text, for replace mode."}
		},
		"required": ["path", "mode"]
	}`)

	return &RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "write_file",
			Description: "Create, overwrite, append to, or find/replace text within a file.",
			Parameters:  schema,
		},
		Execute: func(args map[string]any, env ExecutionEnvironment) (string, error) {
			path, ok := getStringArg(args, "path")
			if !ok || path == "" {
				return "", fmt.Errorf("write_file: path is required")
			}
			mode, _ := getStringArg(args, "mode")
			content, _ := getStringArg(args, "content")

			existed, err := env.FileExists(path)
			if err != nil {
				return "", err
			}

			switch mode {
			case "create":
				if existed {
					return "", &ToolIoError{Op: "create", Path: path, Err: fmt.Errorf("file already exists")}
				}
				if err := env.WriteFile(path, content); err != nil {
					return "", err
				}
				return marshalResult(writeFileResult{BytesWritten: len(content), Created: true})

			case "overwrite":
				if err := env.WriteFile(path, content); err != nil {
					return "", err
				}
				return marshalResult(writeFileResult{BytesWritten: len(content), Created: !existed, Modified: existed})

			case "append":
				prior := ""
				if existed {
					prior, err = env.ReadFile(path, 0, 0)
					if err != nil {
						return "", err
					}
				}
				newContent := prior + content
				if err := env.WriteFile(path, newContent); err != nil {
					return "", err
				}
				return marshalResult(writeFileResult{BytesWritten: len(content), Created: !existed, Modified: existed})

			case "replace":
				find, _ := getStringArg(args, "find")
				replace, _ := getStringArg(args, "replace")
				if find == "" {
					return "", fmt.Errorf("write_file: find is required for replace mode")
				}
				if !existed {
					return "", &ToolNotFoundError{Path: path}
				}
				prior, err := env.ReadFile(path, 0, 0)
				if err != nil {
					return "", err
				}
				count := strings.Count(prior, find)
				if count == 0 {
					return marshalResult(writeFileResult{Replacements: &count})
				}
				newContent := strings.ReplaceAll(prior, find, replace)
				if err := env.WriteFile(path, newContent); err != nil {
					return "", err
				}
				return marshalResult(writeFileResult{
					BytesWritten: len(newContent),
					Modified:     true,
					Replacements: &count,
				})

			default:
				return "", fmt.Errorf("write_file: unknown mode %q", mode)
			}
		},
	}
}

type grepMatchJSON struct {
	File        string `json:"file"`
	LineNumber  int    `json:"line_number"`
	Line        string `json:"line"`
	MatchStart  int    `json:"match_start"`
	MatchEnd    int    `json:"match_end"`
	MatchedText string `json:"matched_text"`
}

type grepResult struct {
	Matches       []grepMatchJSON `json:"matches"`
	TotalMatches  int             `json:"total_matches"`
	FilesSearched int             `json:"files_searched"`
	Truncated     bool            `json:"truncated"`
}

// NewGrepTool searches file contents by regular expression.
func NewGrepTool() *RegisteredTool {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string", "description": "Regular expression to search for."},
			"path": {"type": "string", "description": "Directory to search, relative to the workspace root."},
			"include": {"type": "string", "description": "Glob of files to include."},
			"exclude": {"type": "string", "description": "Glob of files to exclude."},
			"case_sensitive": {"type": "boolean", "description": "Whether matching is case sensitive. Default true."},
			"max_results": {"type": "integer", "description": "Maximum number of matches to return."}
		},
		"required": ["pattern"]
	}`)

	return &RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "grep",
			Description: "Search file contents in the workspace by regular expression.",
			Parameters:  schema,
		},
		Execute: func(args map[string]any, env ExecutionEnvironment) (string, error) {
			pattern, ok := getStringArg(args, "pattern")
			if !ok || pattern == "" {
				return "", fmt.Errorf("grep: pattern is required")
			}
			path, _ := getStringArg(args, "path")
			if path == "" {
				path = "."
			}
			caseSensitive := getBoolArg(args, "case_sensitive", true)

			opts := GrepOptions{
				CaseInsensitive: !caseSensitive,
				MaxResults:      getIntArg(args, "max_results", 0),
			}
			opts.Include, _ = getStringArg(args, "include")
			opts.Exclude, _ = getStringArg(args, "exclude")

			matches, total, filesSearched, truncated, err := env.Grep(pattern, path, opts)
			if err != nil {
				return "", err
			}

			result := grepResult{
				Matches:       []grepMatchJSON{},
				TotalMatches:  total,
				FilesSearched: filesSearched,
				Truncated:     truncated,
			}
			for _, m := range matches {
				result.Matches = append(result.Matches, grepMatchJSON{
					File:        m.File,
					LineNumber:  m.LineNumber,
					Line:        m.Line,
					MatchStart:  m.MatchStart,
					MatchEnd:    m.MatchEnd,
					MatchedText: m.MatchedText,
				})
			}
			return marshalResult(result)
		},
	}
}

type applyPatchResult struct {
	FilesChanged  int                          `json:"files_changed"`
	HunksApplied  int                          `json:"hunks_applied"`
	HunksRejected []patchUnifiedRejectionEntry `json:"hunks_rejected,omitempty"`
}

type patchUnifiedRejectionEntry struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// NewApplyPatchTool applies a standard unified diff to the workspace.
func NewApplyPatchTool() *RegisteredTool {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"unified_diff": {"type": "string", "description": "A standard unified diff (---/+++/@@ markers)."}
		},
		"required": ["unified_diff"]
	}`)

	return &RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "apply_patch",
			Description: "Apply a unified diff to one or more files in the workspace.",
			Parameters:  schema,
		},
		Execute: func(args map[string]any, env ExecutionEnvironment) (string, error) {
			diffText, ok := getStringArg(args, "unified_diff")
			if !ok || diffText == "" {
				return "", fmt.Errorf("apply_patch: unified_diff is required")
			}

			diff, err := ParseUnifiedDiff(diffText)
			if err != nil {
				return "", err
			}
			applied, err := ApplyUnifiedDiff(diff, env)
			if err != nil {
				return "", err
			}

			result := applyPatchResult{
				FilesChanged: applied.FilesChanged,
				HunksApplied: applied.HunksApplied,
			}
			for _, r := range applied.HunksRejected {
				result.HunksRejected = append(result.HunksRejected, patchUnifiedRejectionEntry{File: r.File, Reason: r.Reason})
			}
			return marshalResult(result)
		},
	}
}

type bashResult struct {
	Stdout            string  `json:"stdout"`
	Stderr            string  `json:"stderr"`
	ExitCode          int     `json:"exit_code"`
	TimedOut          bool    `json:"timed_out"`
	ExecutionTimeSecs float64 `json:"execution_time_secs"`
}

// NewBashTool runs a shell command, gated by a permission engine.
// The engine must be non-nil; callers that want bash disabled entirely
// should omit registering this tool rather than passing a nil engine.
func NewBashTool(engine *permission.Engine, defaultTimeoutMs int) *RegisteredTool {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Shell command to execute."},
			"working_dir": {"type": "string", "description": "Working directory, relative to the workspace root."},
			"timeout_secs": {"type": "integer", "description": "Timeout in seconds."}
		},
		"required": ["command"]
	}`)

	return &RegisteredTool{
		Definition: llm.ToolDefinition{
			Name:        "bash",
			Description: "Execute a shell command in the workspace, subject to the permission policy.",
			Parameters:  schema,
		},
		Execute: func(args map[string]any, env ExecutionEnvironment) (string, error) {
			command, ok := getStringArg(args, "command")
			if !ok || command == "" {
				return "", fmt.Errorf("bash: command is required")
			}
			workingDir, _ := getStringArg(args, "working_dir")
			timeoutMs := defaultTimeoutMs
			if secs := getIntArg(args, "timeout_secs", 0); secs > 0 {
				timeoutMs = secs * 1000
			}

			decision := engine.Check(command, workingDir)
			if !decision.Allowed {
				return "", &ToolPermissionDeniedError{Command: command, MatchedRule: decision.MatchedRule}
			}

			res, err := env.ExecCommand(command, timeoutMs, workingDir, nil)
			if err != nil {
				return "", err
			}

			return marshalResult(bashResult{
				Stdout:            res.Stdout,
				Stderr:            res.Stderr,
				ExitCode:          res.ExitCode,
				TimedOut:          res.TimedOut,
				ExecutionTimeSecs: float64(res.DurationMs) / 1000.0,
			})
		},
	}
}

// RegisterCoreTools registers list_files, read_file, write_file, grep, and
// apply_patch. bash is registered separately via RegisterBashTool since it
// requires a permission engine.
func RegisterCoreTools(registry *ToolRegistry) error {
	tools := []*RegisteredTool{
		NewListFilesTool(),
		NewReadFileTool(),
		NewWriteFileTool(),
		NewGrepTool(),
		NewApplyPatchTool(),
	}
	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// RegisterBashTool registers the bash tool gated by the given permission engine.
func RegisterBashTool(registry *ToolRegistry, engine *permission.Engine, defaultTimeoutMs int) error {
	return registry.Register(NewBashTool(engine, defaultTimeoutMs))
}
