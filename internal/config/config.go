// ABOUTME: YAML configuration for the chorus daemon, layered under environment overrides.
// ABOUTME: Builds the provider adapter map and bash permission engine the orchestrator needs.

package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/2389-research/chorus/agent"
	"github.com/2389-research/chorus/llm"
	"github.com/2389-research/chorus/permission"
)

// Protocol identifies which wire shape a provider adapter speaks, independent
// of which provider_tag a session addresses it by.
const (
	ProtocolClaude         = "claude"
	ProtocolOpenAIResponses = "openai_responses"
	ProtocolChatCompletions = "chat_completions"
)

// ProviderConfig describes how to reach a single provider_tag's backend.
type ProviderConfig struct {
	Protocol string `yaml:"protocol"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

// RuleConfig is one ordered glob rule in the bash permission policy.
type RuleConfig struct {
	Pattern     string `yaml:"pattern"`
	Action      string `yaml:"action"`
	Description string `yaml:"description"`
}

// BashConfig controls whether the bash tool is registered and, if so, under
// what permission policy.
type BashConfig struct {
	Enabled          bool         `yaml:"enabled"`
	DefaultTimeoutMs int          `yaml:"default_timeout_ms"`
	DefaultAction    string       `yaml:"default_action"`
	Rules            []RuleConfig `yaml:"rules"`
	WorkingDirAllow  []string     `yaml:"working_dir_allow"`
	WorkingDirDeny   []string     `yaml:"working_dir_deny"`
}

// Config is the full daemon configuration, loaded from YAML and then
// overlaid with environment variables so deployments can keep secrets out
// of the config file.
type Config struct {
	ListenAddr    string                    `yaml:"listen_addr"`
	DataDir       string                    `yaml:"data_dir"`
	WorkspaceRoot string                    `yaml:"workspace_root"`
	ToolExposure  string                    `yaml:"tool_exposure"`
	MaxTokens     int                       `yaml:"max_tokens"`
	Providers     map[string]ProviderConfig `yaml:"providers"`
	Bash          BashConfig                `yaml:"bash"`
	MCPServers    []MCPServerConfig         `yaml:"mcp_servers"`
}

// MCPServerConfig describes one MCP server to launch over stdio and fold
// into the tool registry alongside the core file tools.
type MCPServerConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
}

// defaultConfig returns a Config with every field set to a usable default,
// before the YAML file and environment overrides are applied.
func defaultConfig() *Config {
	return &Config{
		ListenAddr:    "127.0.0.1:8089",
		DataDir:       "./data",
		WorkspaceRoot: "./workspace",
		ToolExposure:  string(agent.ToolExposureAll),
		MaxTokens:     4096,
		Providers: map[string]ProviderConfig{
			"claude": {Protocol: ProtocolClaude, Model: "claude-sonnet-4-5"},
			"openai": {Protocol: ProtocolOpenAIResponses, Model: "gpt-5.2"},
			"xai":    {Protocol: ProtocolChatCompletions, Model: "grok-4", BaseURL: "https://api.x.ai/v1"},
			"glm":    {Protocol: ProtocolChatCompletions, Model: "glm-4.6", BaseURL: "https://open.bigmodel.cn/api/paas/v4"},
		},
		Bash: BashConfig{
			Enabled:          false,
			DefaultTimeoutMs: 30000,
			DefaultAction:    string(permission.Deny),
		},
	}
}

// Load reads path (if present) over the defaults, then applies environment
// variable overrides, and returns the resolved Config. A missing path is not
// an error: defaults plus environment are still valid configuration. Call
// LoadEnvFiles before Load if .env support is wanted.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides lets deployment environment variables fill in secrets
// and endpoints the YAML file should not carry in plaintext.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHORUS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CHORUS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CHORUS_WORKSPACE_ROOT"); v != "" {
		cfg.WorkspaceRoot = v
	}

	overrideKey := func(tag, envVar string) {
		key := os.Getenv(envVar)
		if key == "" {
			return
		}
		p := cfg.Providers[tag]
		p.APIKey = key
		cfg.Providers[tag] = p
	}
	overrideKey("claude", "ANTHROPIC_API_KEY")
	overrideKey("openai", "OPENAI_API_KEY")
	overrideKey("xai", "XAI_API_KEY")
	overrideKey("glm", "GLM_API_KEY")
}

// BuildProviders constructs one llm.ProviderAdapter per configured
// provider_tag that carries an API key, registering each on a fresh
// llm.Client keyed by that tag. A provider with no key configured is simply
// omitted, rather than erroring, so a daemon can run with only the backends
// it has credentials for. The returned Client owns the adapters' lifetime;
// call its Close when shutting down.
func BuildProviders(cfg *Config) (*llm.Client, error) {
	client := llm.NewClient()

	for tag, pc := range cfg.Providers {
		if pc.APIKey == "" {
			continue
		}
		var adapter llm.ProviderAdapter
		switch pc.Protocol {
		case ProtocolClaude:
			adapter = llm.NewAnthropicAdapter(pc.APIKey)
		case ProtocolOpenAIResponses:
			adapter = llm.NewOpenAIAdapter(pc.APIKey)
		case ProtocolChatCompletions, "":
			compatClient := llm.NewOpenAICompatClient(pc.APIKey, pc.Model, pc.BaseURL)
			adapter = llm.NewMuxAdapter(tag, compatClient)
		default:
			return nil, fmt.Errorf("config: provider %q has unknown protocol %q", tag, pc.Protocol)
		}
		client.RegisterProvider(tag, adapter)
	}

	return client, nil
}

// BuildBashEngine translates BashConfig into a permission.Engine, or returns
// nil, nil when bash is disabled so callers can skip registering the tool
// entirely.
func BuildBashEngine(cfg *Config) (*permission.Engine, error) {
	if !cfg.Bash.Enabled {
		return nil, nil
	}

	policy := permission.BashPolicy{
		DefaultAction: permission.Action(cfg.Bash.DefaultAction),
		WorkingDirs: permission.WorkingDirRule{
			Allowlist: cfg.Bash.WorkingDirAllow,
			Denylist:  cfg.Bash.WorkingDirDeny,
		},
	}
	for _, r := range cfg.Bash.Rules {
		policy.Rules = append(policy.Rules, permission.Rule{
			Pattern:     r.Pattern,
			Action:      permission.Action(r.Action),
			Description: r.Description,
		})
	}

	return permission.NewEngine(policy)
}

// ConnectMCPServers connects every configured MCP server and registers its
// tools on registry, gated to when exposure is ToolExposureAll — the same
// gate applied to the bash tool's separate enable flag is not needed here
// since an unconfigured server list is simply empty. Returns the connected
// sources so the caller can close them on shutdown; a failure connecting to
// one server aborts the whole startup rather than running partially wired.
func ConnectMCPServers(ctx context.Context, cfg *Config, registry *agent.ToolRegistry) ([]*agent.MCPToolSource, error) {
	if ToolExposureValue(cfg) != agent.ToolExposureAll {
		return nil, nil
	}

	var sources []*agent.MCPToolSource
	for _, mc := range cfg.MCPServers {
		source, err := agent.ConnectMCPServer(ctx, agent.MCPServerConfig{
			Name:    mc.Name,
			Command: mc.Command,
			Args:    mc.Args,
			Env:     mc.Env,
		})
		if err != nil {
			return sources, fmt.Errorf("connect mcp server %q: %w", mc.Name, err)
		}
		if err := source.RegisterTools(ctx, registry); err != nil {
			return sources, fmt.Errorf("register tools for mcp server %q: %w", mc.Name, err)
		}
		sources = append(sources, source)
	}
	return sources, nil
}

// ToolExposureValue parses the configured exposure level, defaulting to
// agent.ToolExposureAll for an empty or unrecognized value.
func ToolExposureValue(cfg *Config) agent.ToolExposure {
	switch agent.ToolExposure(cfg.ToolExposure) {
	case agent.ToolExposureNone, agent.ToolExposureListOnly, agent.ToolExposureListAndRead, agent.ToolExposureAll:
		return agent.ToolExposure(cfg.ToolExposure)
	default:
		return agent.ToolExposureAll
	}
}
