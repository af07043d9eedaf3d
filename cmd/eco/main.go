package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/evidencechain/orchestrator/pkg/agent"
	"github.com/evidencechain/orchestrator/pkg/config"
	"github.com/evidencechain/orchestrator/pkg/domain"
	"github.com/evidencechain/orchestrator/pkg/evidence"
	"github.com/evidencechain/orchestrator/pkg/llm"
	"github.com/evidencechain/orchestrator/pkg/observability"
	"github.com/evidencechain/orchestrator/pkg/orchestrator"
	"github.com/evidencechain/orchestrator/pkg/store"
	"github.com/evidencechain/orchestrator/pkg/synthesis"
)

// Version information (set by build flags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "eco",
		Short: "Evidence chain orchestrator",
		Long:  "eco decomposes a research query into subtasks, schedules them across an agent pool, builds a scored evidence graph, and synthesizes a final report.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/default.yaml", "path to configuration file")

	root.AddCommand(newRunCmd())
	root.AddCommand(newInitConfigCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("eco %s (built %s)\n", Version, BuildTime)
		},
	}
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config file already exists: %s", configPath)
			}
			if err := config.Default().Save(configPath); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", configPath)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var (
		researchDomain string
		maxSteps       int
		strategy       string
		exportPath     string
	)

	cmd := &cobra.Command{
		Use:   "run [query]",
		Short: "Run a research plan to completion",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) > 0 {
				query = args[0]
			}
			if query == "" {
				return fmt.Errorf("no research query provided")
			}

			cfg := config.LoadOrDefault(configPath)
			if strategy != "" {
				cfg.Orchestration.Strategy = strategy
			}
			if maxSteps <= 0 {
				maxSteps = cfg.Orchestration.MaxPlanSteps
			}

			return runPlan(cmd.Context(), cfg, query, researchDomain, maxSteps, exportPath)
		},
	}

	cmd.Flags().StringVar(&researchDomain, "domain", "", "research domain hint for the planner")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "maximum number of plan steps (0 uses config)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "scheduling strategy: sequential, parallel, adaptive")
	cmd.Flags().StringVar(&exportPath, "export", "", "write the finished plan and synthesis as JSON to this path")
	return cmd
}

type app struct {
	telemetry    *observability.Telemetry
	metrics      *observability.Metrics
	orchestrator *orchestrator.Orchestrator
	metricsSrv   *http.Server
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	observability.SetMinLogLevel(observability.LogLevel(toLogLevel(cfg.Observability.Logging.Level)))

	telemetry, err := observability.NewTelemetry(&observability.TelemetryConfig{
		ServiceName:    "evidence-chain-orchestrator",
		ServiceVersion: Version,
		Environment:    environment(),
		OTLPEndpoint:   cfg.Observability.Tracing.Endpoint,
		PrometheusPort: cfg.Observability.Metrics.Port,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableTracing:  cfg.Observability.Tracing.Enabled,
		EnableMetrics:  cfg.Observability.Metrics.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	var metrics *observability.Metrics
	if cfg.Observability.Metrics.Enabled {
		metrics, err = observability.NewMetrics(telemetry.Meter())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	completion, provider, model, err := buildCompletion(ctx, cfg)
	if err != nil {
		return nil, err
	}
	instrumented := llm.NewInstrumentedCompletion(completion, provider, model, telemetry, metrics)

	retrieval := llm.NewRetrievalClient(
		cfg.Retrieval.BaseURL,
		cfg.Retrieval.MaxResults,
		config.Duration(cfg.Retrieval.Timeout, 30*time.Second),
	)

	gateway, err := buildGateway(cfg)
	if err != nil {
		return nil, err
	}

	generator := synthesis.NewGenerator(instrumented, nil, synthesis.Config{
		MinEvidenceThreshold: cfg.Synthesis.MinEvidenceThreshold,
		TopThemes:            cfg.Synthesis.TopThemes,
		HighImpactFrequency:  cfg.Synthesis.HighImpactFrequency,
	})

	orch := orchestrator.New(orchestrator.Config{
		Strategy:            orchestrator.Strategy(cfg.Orchestration.Strategy),
		MaxConcurrentAgents: cfg.Orchestration.MaxAgents,
		AdaptiveWindow:      cfg.Orchestration.AdaptiveWindow,
		TaskTimeout:         config.Duration(cfg.Orchestration.TaskTimeout, 2*time.Minute),
		MaxRetries:          cfg.Orchestration.MaxRetries,
		RetryInitialDelay:   config.Duration(cfg.Orchestration.RetryDelay, 500*time.Millisecond),
		CancelGrace:         config.Duration(cfg.Orchestration.CancelGrace, 5*time.Second),
		MaxQueueDepth:       cfg.Orchestration.MaxQueueDepth,
	}, orchestrator.Deps{
		Pool:       buildPool(cfg, telemetry, instrumented, retrieval),
		Planner:    llm.NewPlanner(instrumented),
		Completion: instrumented,
		Gateway:    gateway,
		Sink:       orchestrator.NewLoggingSink(),
		Generator:  generator,
		Telemetry:  telemetry,
		Metrics:    metrics,
		ChainCfg: evidence.ChainConfig{
			DedupeThreshold:    cfg.Evidence.DedupeThreshold,
			InferenceBatchSize: cfg.Evidence.InferenceBatch,
			PairwiseCap:        cfg.Evidence.PairwiseCap,
			MinEdgeConfidence:  cfg.Evidence.MinEdgeConfidence,
		},
	})

	a := &app{telemetry: telemetry, metrics: metrics, orchestrator: orch}
	if cfg.Observability.Metrics.Enabled {
		a.metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Observability.Metrics.Port),
			Handler: promhttp.Handler(),
		}
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
	}
	return a, nil
}

func (a *app) shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	a.orchestrator.Stop()
	if a.metricsSrv != nil {
		_ = a.metricsSrv.Shutdown(shutdownCtx)
	}
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(shutdownCtx)
	}
}

func buildCompletion(ctx context.Context, cfg *config.Config) (domain.CompletionService, string, string, error) {
	switch cfg.LLM.Provider {
	case "openai":
		client := llm.NewOpenAIClient(cfg.LLM.OpenAI.APIKey, cfg.LLM.OpenAI.BaseURL, cfg.LLM.OpenAI.Model)
		return client, "openai", cfg.LLM.OpenAI.Model, nil
	default:
		client := llm.NewOllamaClient(cfg.LLM.Ollama.BaseURL, cfg.LLM.Ollama.Model, &llm.OllamaOptions{
			Temperature: cfg.LLM.Ollama.Temperature,
			MaxTokens:   cfg.LLM.Ollama.MaxTokens,
			TopP:        cfg.LLM.Ollama.TopP,
			Timeout:     config.Duration(cfg.LLM.Ollama.Timeout, 2*time.Minute),
		})
		if err := client.CheckHealth(ctx); err != nil {
			return nil, "", "", fmt.Errorf("ollama health check failed: %w", err)
		}
		return client, "ollama", cfg.LLM.Ollama.Model, nil
	}
}

func buildGateway(cfg *config.Config) (domain.PersistenceGateway, error) {
	if cfg.Storage.Type == "file" {
		return store.NewFileGateway(cfg.Storage.Path)
	}
	return store.NewMemoryGateway(), nil
}

func buildPool(cfg *config.Config, telemetry *observability.Telemetry, completion domain.CompletionService, retrieval domain.RetrievalService) *agent.Pool {
	cooldown := config.Duration(cfg.Agents.BreakerCooldown, 30*time.Second)
	newAgent := func(id string, capability domain.Capability, executor agent.Executor) *agent.Agent {
		a := agent.NewWithBreaker(id, capability, executor, telemetry,
			agent.NewCircuitBreaker(cfg.Agents.BreakerThreshold, cooldown))
		a.SetMaxConcurrentTasks(cfg.Agents.MaxTasksPerAgent)
		return a
	}

	var agents []*agent.Agent
	for i := 0; i < cfg.Agents.ResearchAgents; i++ {
		agents = append(agents, newAgent(
			fmt.Sprintf("research-%d", i+1),
			domain.CapabilityResearch,
			&agent.ResearchExecutor{Retrieval: retrieval, Completion: completion, MaxResults: cfg.Retrieval.MaxResults},
		))
	}
	for i := 0; i < cfg.Agents.EvidenceAgents; i++ {
		agents = append(agents, newAgent(
			fmt.Sprintf("evidence-%d", i+1),
			domain.CapabilityEvidence,
			&agent.EvidenceExecutor{Retrieval: retrieval, MaxResults: cfg.Retrieval.MaxResults},
		))
	}
	for i := 0; i < cfg.Agents.SynthesisAgents; i++ {
		agents = append(agents, newAgent(
			fmt.Sprintf("synthesis-%d", i+1),
			domain.CapabilitySynthesis,
			&agent.SynthesisExecutor{Completion: completion},
		))
	}
	return agent.NewPool(agents...)
}

func runPlan(ctx context.Context, cfg *config.Config, query, researchDomain string, maxSteps int, exportPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.shutdown(context.Background())

	if err := a.orchestrator.Start(ctx); err != nil {
		return err
	}

	startTime := time.Now()
	planID, err := a.orchestrator.CreatePlan(ctx, query, researchDomain, maxSteps)
	if err != nil {
		return fmt.Errorf("plan creation failed: %w", err)
	}
	fmt.Printf("plan %s started: %s\n", planID, query)

	report, err := a.orchestrator.AwaitPlan(ctx, planID)
	if err != nil {
		return fmt.Errorf("plan did not finish: %w", err)
	}

	printReport(report, time.Since(startTime))

	if exportPath != "" {
		data, err := a.orchestrator.Export(planID)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		if err := os.WriteFile(exportPath, data, 0644); err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Printf("exported plan to %s\n", exportPath)
	}
	return nil
}

func printReport(report *domain.FinishReport, elapsed time.Duration) {
	fmt.Println("\n=== Research Report ===")
	fmt.Printf("Plan: %s\n", report.PlanID)
	fmt.Printf("Status: %s\n", report.Status)
	if report.Summary != "" {
		fmt.Printf("\n%s\n", report.Summary)
	}

	for _, failure := range report.Failures {
		fmt.Printf("failed step %s: %s\n", failure.SubtaskID, failure.Reason)
	}

	if syn := report.Synthesis; syn != nil {
		if syn.LowConfidence {
			fmt.Println("\nNote: synthesis generated from limited evidence, treat with low confidence.")
		}
		if len(syn.KeyInsights) > 0 {
			fmt.Println("\nKey Insights:")
			for i, insight := range syn.KeyInsights {
				fmt.Printf("%d. [%s] %s\n", i+1, insight.Type, insight.Title)
				fmt.Printf("   %s\n", insight.Description)
			}
		}
		if len(syn.Recommendations) > 0 {
			fmt.Println("\nRecommendations:")
			for _, rec := range syn.Recommendations {
				fmt.Printf("- (%s) %s\n", rec.Priority, rec.Title)
			}
		}
		if len(syn.Conclusions) > 0 {
			fmt.Println("\nConclusions:")
			for _, conclusion := range syn.Conclusions {
				fmt.Printf("- %s (confidence %.2f)\n", conclusion.Statement, conclusion.Confidence)
			}
		}
		fmt.Printf("\nQuality %.2f | Coverage %.2f | Reliability %.2f\n",
			syn.QualityScore, syn.CoverageScore, syn.ReliabilityScore)
	}

	fmt.Printf("Duration: %s\n", elapsed.Round(time.Millisecond))
}

func toLogLevel(level string) string {
	switch level {
	case "debug":
		return "DEBUG"
	case "warn":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

func environment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}
