// ABOUTME: CLI entrypoint for the chorus agent runtime daemon.
// ABOUTME: Wires config, persistent storage, provider adapters, and the orchestrator behind an HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/2389-research/chorus/agent"
	"github.com/2389-research/chorus/internal/config"
	"github.com/2389-research/chorus/internal/httpapi"
	"github.com/2389-research/chorus/store"
)

var version = "dev"

type cliConfig struct {
	configFile  string
	showVersion bool
}

func main() {
	config.LoadEnvFiles()

	cfg := parseFlags()
	if cfg.showVersion {
		fmt.Printf("chorusd %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

func parseFlags() cliConfig {
	var cfg cliConfig

	fs := flag.NewFlagSet("chorusd", flag.ContinueOnError)
	fs.StringVar(&cfg.configFile, "config", "chorus.yaml", "Path to the YAML config file")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: chorusd [flags]")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Flags:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	return cfg
}

func run(cli cliConfig) int {
	cfg, err := config.Load(cli.configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	llmClient, err := config.BuildProviders(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	providers := llmClient.Providers()
	if len(providers) == 0 {
		fmt.Fprintln(os.Stderr, "warning: no provider API keys found — sessions cannot be created until a provider key is configured")
		fmt.Fprintln(os.Stderr, "Set one of: ANTHROPIC_API_KEY, OPENAI_API_KEY, XAI_API_KEY, GLM_API_KEY")
	}
	defer llmClient.Close()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "error: create data dir: %v\n", err)
		return 1
	}
	if err := os.MkdirAll(cfg.WorkspaceRoot, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "error: create workspace root: %v\n", err)
		return 1
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "chorus.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open store: %v\n", err)
		return 1
	}
	defer st.Close()

	registry := agent.NewToolRegistry()
	if err := agent.RegisterCoreTools(registry); err != nil {
		fmt.Fprintf(os.Stderr, "error: register core tools: %v\n", err)
		return 1
	}

	bashEngine, err := config.BuildBashEngine(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: build bash policy: %v\n", err)
		return 1
	}
	if bashEngine != nil {
		if err := agent.RegisterBashTool(registry, bashEngine, cfg.Bash.DefaultTimeoutMs); err != nil {
			fmt.Fprintf(os.Stderr, "error: register bash tool: %v\n", err)
			return 1
		}
	}

	mcpSources, err := config.ConnectMCPServers(context.Background(), cfg, registry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: connect mcp servers: %v\n", err)
		return 1
	}
	defer func() {
		for _, s := range mcpSources {
			_ = s.Close()
		}
	}()

	orc := agent.NewOrchestrator(st, registry, providers, cfg.WorkspaceRoot)
	orc.Exposure = config.ToolExposureValue(cfg)
	orc.MaxTokens = cfg.MaxTokens

	server := httpapi.NewServer(orc)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Handler(),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		httpServer.Close()
	}()

	fmt.Fprintf(os.Stderr, "listening on %s\n", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	return 0
}
