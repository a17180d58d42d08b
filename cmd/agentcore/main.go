// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/relaymind/agentcore/internal/classifier"
	"github.com/relaymind/agentcore/internal/config"
	"github.com/relaymind/agentcore/internal/events"
	"github.com/relaymind/agentcore/internal/llm"
	"github.com/relaymind/agentcore/internal/message"
	"github.com/relaymind/agentcore/internal/orchestrator"
	"github.com/relaymind/agentcore/internal/pool"
	"github.com/relaymind/agentcore/internal/prompt"
	"github.com/relaymind/agentcore/internal/secrets"
	"github.com/relaymind/agentcore/internal/server"
	"github.com/relaymind/agentcore/internal/telemetry"
	"github.com/relaymind/agentcore/internal/tools"
	"github.com/relaymind/agentcore/pkg/logging"
	"github.com/relaymind/agentcore/pkg/ux"
)

var cfgPath string

// rootCmd is the CLI's entrypoint, grounded on the teacher's
// cmd/aleutian/commands.go struct-literal style.
var rootCmd = &cobra.Command{
	Use:   "agentcore",
	Short: "agentcore runs the ReAct agent orchestration engine",
	Long:  "agentcore serves the OpenAI-compatible chat-completions surface backed by a tool-using ReAct agent loop, or runs a single task from the command line.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the HTTP server",
	RunE:  runServe,
}

var runTaskCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "run one task to completion and print the answer",
	Args:  cobra.ExactArgs(1),
	RunE:  runTask,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "load and validate configuration, then exit",
	RunE:  runConfigValidate,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "configuration utilities",
}

var healthCmd = &cobra.Command{
	Use:   "health [addr]",
	Short: "check a running instance's /health endpoint",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHealth,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML config file overlaying defaults and environment")
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, runTaskCmd, configCmd, healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildCmdDeps loads config and wires every collaborator an
// Orchestrator factory needs, short of the per-instance Orchestrator
// itself. Shared by serve and run so both subcommands build the exact
// same engine.
type cmdDeps struct {
	cfg        config.Config
	mainLLM    llm.Client
	summaryLLM llm.Client
	toolClient *tools.Client
	composer   *prompt.Composer
	classifier *classifier.Classifier
	catalog    message.ToolCatalog
}

func buildCmdDeps(ctx context.Context) (*cmdDeps, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	secretStore := secrets.NewStore()
	if err := secretStore.Set("llm_api_key", cfg.APIKey); err != nil {
		return nil, fmt.Errorf("storing API key: %w", err)
	}
	if err := secretStore.Set("summary_llm_api_key", cfg.SummaryAPIKey); err != nil {
		return nil, fmt.Errorf("storing summary API key: %w", err)
	}

	mainLLM, err := llm.NewOpenAIClient(cfg.BaseURL, secretStore.Get("llm_api_key"), cfg.ModelName, cfg.MaxContextLength, cfg.LLMRequestsPerSecond)
	if err != nil {
		return nil, fmt.Errorf("building main LLM client: %w", err)
	}
	summaryLLM, err := llm.NewOpenAIClient(cfg.SummaryBaseURL, secretStore.Get("summary_llm_api_key"), cfg.SummaryModelName, cfg.MaxContextLength, cfg.LLMRequestsPerSecond)
	if err != nil {
		return nil, fmt.Errorf("building summary LLM client: %w", err)
	}

	servers := make(map[string]tools.ServerConfig, len(cfg.Tools))
	for name, t := range cfg.Tools {
		if !t.Enabled {
			continue
		}
		servers[name] = tools.ServerConfig{Enabled: true, Endpoint: t.Endpoint}
	}
	toolClient := tools.NewClient(servers, cfg.DemoMode, cfg.MaxResponseBytes)

	catalog, err := toolClient.ListCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tool catalog: %w", err)
	}

	composer, err := prompt.New(catalog)
	if err != nil {
		return nil, fmt.Errorf("building prompt composer: %w", err)
	}
	cl, err := classifier.NewDefault()
	if err != nil {
		return nil, fmt.Errorf("building classifier: %w", err)
	}

	return &cmdDeps{
		cfg:        cfg,
		mainLLM:    mainLLM,
		summaryLLM: summaryLLM,
		toolClient: toolClient,
		composer:   composer,
		classifier: cl,
		catalog:    catalog,
	}, nil
}

// initLogging installs a pkg/logging.Logger as the process-wide slog
// default, so every slog.Info/Warn/Error call site across the tree —
// none of which import pkg/logging directly — is routed through its
// stderr+file+exporter handler instead of slog's bare default. service
// tags every entry so aggregated logs can be filtered by subcommand.
func initLogging(cfg config.Config, service string) *logging.Logger {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  cfg.LogDir,
		Service: service,
		JSON:    cfg.LogJSON,
	})
	slog.SetDefault(logger.Slog())
	return logger
}

// orchestratorFactory returns a pool.Factory bound to these
// collaborators. sink is shared by every instance the factory builds;
// internal/server rebinds it per-request via Orchestrator.SetSink.
func (d *cmdDeps) orchestratorFactory(sink events.Sink) pool.Factory {
	return func() (*orchestrator.Orchestrator, error) {
		invoker := &subAgentInvoker{
			llm:        d.mainLLM,
			tools:      d.toolClient,
			composer:   d.composer,
			classifier: d.classifier,
			cfg:        d.cfg.SubAgent,
			maxContext: d.cfg.MaxContextLength,
			reserved:   d.cfg.MaxHistoryTokens,
			maxTokens:  d.cfg.MaxResponseBytes,
		}
		o := orchestrator.New(orchestrator.Deps{
			LLM:                      d.mainLLM,
			Tools:                    d.toolClient,
			Composer:                 d.composer,
			Classifier:               d.classifier,
			Sink:                     sink,
			AgentName:                "main",
			Role:                     prompt.RoleMain,
			AgentCfg:                 d.cfg.MainAgent,
			MaxContextLength:         d.cfg.MaxContextLength,
			ReservedCompletionBudget: d.cfg.MaxHistoryTokens,
			MaxTokensPerCall:         d.cfg.MaxResponseBytes,
			SubAgentTool:             "search_and_browse",
			SubAgent:                 invoker,
			Summarizer:               &llmSummarizer{client: d.summaryLLM},
		})
		invoker.parentSink = sink
		return o, nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildCmdDeps(ctx)
	if err != nil {
		return err
	}

	logger := initLogging(deps.cfg, "serve")
	defer logger.Close()

	tracerShutdown, err := telemetry.Init(ctx, "agentcore", deps.cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer tracerShutdown(context.Background())

	discard := events.NewChan(1)
	go func() {
		for range discard {
		}
	}()

	p, err := pool.New(deps.cfg.PipelinePoolSize, deps.cfg.MaxConcurrentRequests, deps.orchestratorFactory(discard))
	if err != nil {
		return fmt.Errorf("building pipeline pool: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	server.SetupRoutes(router, server.NewServer(p))

	httpServer := &http.Server{
		Addr:    deps.cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("agentcore serving", "addr", deps.cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.Shutdown(shutdownCtx, 30*time.Second); err != nil {
		slog.Warn("pool shutdown did not drain cleanly", "error", err)
	}
	return httpServer.Shutdown(shutdownCtx)
}

func runTask(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	deps, err := buildCmdDeps(ctx)
	if err != nil {
		return err
	}

	logger := initLogging(deps.cfg, "run")
	defer logger.Close()

	sink := events.NewChan(64)
	factory := deps.orchestratorFactory(sink)
	o, err := factory()
	if err != nil {
		return fmt.Errorf("building orchestrator: %w", err)
	}

	ux.InitPersonality()
	renderer := ux.NewTaskRenderer(os.Stdout, ux.GetPersonality().Level)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range sink {
			renderer.Handle(toTaskEvent(e))
		}
	}()

	_, outcome, err := o.Run(ctx, args[0])
	sink.Close()
	<-done
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if outcome != events.OutcomeSuccess {
		os.Exit(2)
	}
	return nil
}

// toTaskEvent narrows an internal events.Event to the fields
// pkg/ux.TaskRenderer needs, keeping that package free of a dependency
// on engine internals.
func toTaskEvent(e events.Event) ux.TaskEvent {
	te := ux.TaskEvent{Kind: string(e.Kind), Tool: e.Tool, Outcome: string(e.Outcome)}
	switch e.Kind {
	case events.KindToolFailed:
		te.Text = e.Reason
	case events.KindFinalAnswer:
		te.Text = e.Answer
	}
	return te
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("config ok")
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	addr := "http://localhost:8080"
	if len(args) == 1 {
		addr = args[0]
	}
	resp, err := http.Get(addr + "/health")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "health check failed: %s\n", resp.Status)
		os.Exit(2)
	}
	fmt.Println("healthy")
	return nil
}
