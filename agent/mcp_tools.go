// ABOUTME: Optional MCP-backed tool source, registering a remote server's tools
// ABOUTME: alongside the five core file tools when enable_tools=all and a server is configured.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389-research/chorus/llm"
)

// MCPServerConfig describes a single MCP server to connect to at startup,
// launched as a subprocess communicating over stdio.
type MCPServerConfig struct {
	Name    string
	Command string
	Args    []string
	Env     []string
}

// MCPToolSource owns one live connection to an MCP server and exposes its
// tools through the same ToolRegistry the core file tools use. Closing it
// tears down the underlying subprocess.
type MCPToolSource struct {
	name    string
	session *mcp.ClientSession
}

// ConnectMCPServer launches cfg's command over stdio, performs the MCP
// handshake, and returns a handle usable to register its tools.
func ConnectMCPServer(ctx context.Context, cfg MCPServerConfig) (*MCPToolSource, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: "chorus", Version: "0.1.0"}, nil)

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(cmd.Env, cfg.Env...)
	}
	transport := &mcp.CommandTransport{Command: cmd}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp server %q: %w", cfg.Name, err)
	}

	return &MCPToolSource{name: cfg.Name, session: session}, nil
}

// Close terminates the MCP session and its underlying subprocess.
func (s *MCPToolSource) Close() error {
	return s.session.Close()
}

// RegisterTools lists the server's tools and registers one RegisteredTool
// per MCP tool, prefixed with the server's name to avoid colliding with the
// core file tools or another server's tools (e.g. "github__search_issues").
func (s *MCPToolSource) RegisterTools(ctx context.Context, registry *ToolRegistry) error {
	result, err := s.session.ListTools(ctx, nil)
	if err != nil {
		return fmt.Errorf("list tools on mcp server %q: %w", s.name, err)
	}

	for _, tool := range result.Tools {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return fmt.Errorf("marshal schema for mcp tool %q: %w", tool.Name, err)
		}

		registeredName := s.name + "__" + tool.Name
		mcpToolName := tool.Name
		session := s.session

		registered := &RegisteredTool{
			Definition: llm.ToolDefinition{
				Name:        registeredName,
				Description: tool.Description,
				Parameters:  schema,
			},
			Execute: func(args map[string]any, env ExecutionEnvironment) (string, error) {
				callResult, err := session.CallTool(ctx, &mcp.CallToolParams{
					Name:      mcpToolName,
					Arguments: args,
				})
				if err != nil {
					return "", &ToolIoError{Op: "mcp_call", Path: registeredName, Err: err}
				}
				return formatMCPResult(callResult)
			},
		}

		if err := registry.Register(registered); err != nil {
			return fmt.Errorf("register mcp tool %q: %w", registeredName, err)
		}
	}

	return nil
}

// formatMCPResult concatenates an MCP tool's text content blocks into the
// plain-string shape the rest of the tool contract expects. Non-text
// content (images, embedded resources) is skipped rather than erroring,
// since the conversation transcript is plain text.
func formatMCPResult(result *mcp.CallToolResult) (string, error) {
	var out string
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			out += text.Text
		}
	}
	if result.IsError {
		return "", fmt.Errorf("mcp tool reported an error: %s", out)
	}
	return out, nil
}
