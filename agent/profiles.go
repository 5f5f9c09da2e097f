// ABOUTME: Tool exposure gating and system prompt construction for the orchestrator.
// ABOUTME: One shared core tool set is used across providers; enable_tools bisects what's advertised.

package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/2389-research/chorus/llm"
)

// ToolExposure is the capability switch that bisects which tools are
// advertised to the provider, used to stage model behavior during
// provider onboarding.
type ToolExposure string

const (
	ToolExposureNone        ToolExposure = "none"
	ToolExposureListOnly    ToolExposure = "list_only"
	ToolExposureListAndRead ToolExposure = "list_and_read"
	ToolExposureAll         ToolExposure = "all"
)

// toolExposureAllow maps each exposure level to the core tool names it admits,
// in addition to the levels below it. list_and_read admits list_files and
// read_file; all admits every registered tool, including bash if registered.
var toolExposureAllow = map[ToolExposure]map[string]bool{
	ToolExposureNone:        {},
	ToolExposureListOnly:    {"list_files": true},
	ToolExposureListAndRead: {"list_files": true, "read_file": true},
}

// FilterToolsForExposure filters a registry's tool definitions down to the
// subset allowed under the given exposure level. ToolExposureAll admits
// every tool in the registry.
func FilterToolsForExposure(registry *ToolRegistry, exposure ToolExposure) []llm.ToolDefinition {
	if exposure == ToolExposureAll || exposure == "" {
		return registry.Definitions()
	}

	allow, ok := toolExposureAllow[exposure]
	if !ok {
		allow = map[string]bool{}
	}

	all := registry.Definitions()
	result := make([]llm.ToolDefinition, 0, len(all))
	for _, def := range all {
		if allow[def.Name] {
			result = append(result, def)
		}
	}
	return result
}

// buildEnvironmentContext produces the <environment> block for system prompts.
func buildEnvironmentContext(env ExecutionEnvironment) string {
	var b strings.Builder
	b.WriteString("<environment>\n")
	b.WriteString(fmt.Sprintf("Working directory: %s\n", env.WorkingDirectory()))
	b.WriteString(fmt.Sprintf("Platform: %s\n", env.Platform()))
	b.WriteString(fmt.Sprintf("OS version: %s\n", env.OSVersion()))
	b.WriteString(fmt.Sprintf("Today's date: %s\n", time.Now().Format("2006-01-02")))
	b.WriteString("</environment>\n")
	return b.String()
}

// buildProjectDocsSection formats project documentation for inclusion in the system prompt.
func buildProjectDocsSection(docs []string) string {
	if len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n## Project Instructions\n\n")
	for _, doc := range docs {
		b.WriteString(doc)
		b.WriteString("\n\n")
	}
	return b.String()
}

// DiscoverProjectDocs searches the working directory for recognized project documentation files
// and returns their contents. Recognized files: AGENTS.md, CLAUDE.md, README.md, .cursorrules, GEMINI.md.
func DiscoverProjectDocs(env ExecutionEnvironment) []string {
	docFiles := []string{
		"AGENTS.md",
		"CLAUDE.md",
		"README.md",
		".cursorrules",
		"GEMINI.md",
	}

	var docs []string
	for _, name := range docFiles {
		exists, err := env.FileExists(name)
		if err != nil || !exists {
			continue
		}
		content, err := env.ReadFile(name, 0, 0)
		if err != nil {
			continue
		}
		if content != "" {
			docs = append(docs, content)
		}
	}
	return docs
}

// BuildSystemPrompt constructs the system prompt sent alongside the core
// tool set. It is provider-agnostic: the same prompt is used for every
// adapter, since the tool contract (list_files/read_file/write_file/grep/
// apply_patch, plus optional bash) is shared across providers.
func BuildSystemPrompt(modelTag string, env ExecutionEnvironment, projectDocs []string, bashEnabled bool) string {
	var b strings.Builder

	b.WriteString("You are a coding assistant powered by " + modelTag + ". ")
	b.WriteString("You help users write, debug, and modify code by reading files, applying patches, ")
	b.WriteString("searching codebases, and running shell commands.\n\n")

	b.WriteString("## Tool Usage\n\n")
	b.WriteString("- Use `list_files` to see what's in a directory before acting on it.\n")
	b.WriteString("- Use `read_file` to read file contents before making changes.\n")
	b.WriteString("- Use `write_file` to create, overwrite, append to, or find/replace within a file.\n")
	b.WriteString("- Use `grep` to search file contents by regular expression.\n")
	b.WriteString("- Use `apply_patch` to apply a unified diff to one or more files.\n")
	if bashEnabled {
		b.WriteString("- Use `bash` to run shell commands, subject to the configured permission policy.\n")
	}
	b.WriteString("\n")

	b.WriteString("## Coding Best Practices\n\n")
	b.WriteString("- Read files before editing to understand existing code.\n")
	b.WriteString("- Make targeted changes; avoid rewriting entire files when small edits suffice.\n")
	b.WriteString("- Follow existing code style and conventions.\n\n")

	b.WriteString(buildEnvironmentContext(env))
	b.WriteString(buildProjectDocsSection(projectDocs))

	return b.String()
}
