// Steward — autonomous task execution with guardrails.
//
// Usage:
//
//	steward run "summarize the open issues in acme/widgets"
//	steward serve --config steward.yaml
//	steward policy show
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steward-labs/steward/engine/audit"
	"github.com/steward-labs/steward/engine/config"
	"github.com/steward-labs/steward/engine/guardrail"
	"github.com/steward-labs/steward/engine/httpapi"
	"github.com/steward-labs/steward/engine/llm"
	"github.com/steward-labs/steward/engine/logging"
	"github.com/steward-labs/steward/engine/observability"
	"github.com/steward-labs/steward/engine/orchestrate"
	"github.com/steward-labs/steward/engine/tool"
	"github.com/steward-labs/steward/toolkit/codeexec"
	"github.com/steward-labs/steward/toolkit/filesystem"
	"github.com/steward-labs/steward/toolkit/github"
	"github.com/steward-labs/steward/toolkit/websearch"
)

// Exit codes reported to the shell.
const (
	exitDone       = 0
	exitFailed     = 1
	exitEscalated  = 2
	exitInvocation = 3
)

var configPath string

// exitCode carries the run outcome to the end of main, after every deferred
// shutdown (tracing flush, ledger close) has run.
var exitCode = exitDone

func main() {
	root := &cobra.Command{
		Use:           "steward",
		Short:         "Autonomous task execution with guardrails",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	root.AddCommand(newRunCmd(), newServeCmd(), newPolicyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "steward:", err)
		os.Exit(exitInvocation)
	}
	os.Exit(exitCode)
}

// =============================================================================
// run
// =============================================================================

func newRunCmd() *cobra.Command {
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Execute a single goal to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if autoApprove {
				// Resolve every approval immediately; useful for trusted
				// non-interactive runs.
				go autoApproveLoop(ctx, rt.approvals)
			} else {
				go promptApprovalLoop(ctx, rt.approvals, rt.logger)
			}

			outcome, err := rt.orchestrator().Run(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("goal %s: %s", outcome.GoalID, outcome.Status)
			if outcome.Reason != "" {
				fmt.Printf(" (%s)", outcome.Reason)
			}
			fmt.Println()

			switch outcome.Status {
			case orchestrate.GoalDone:
				exitCode = exitDone
			case orchestrate.GoalEscalated:
				exitCode = exitEscalated
			default:
				exitCode = exitFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "resolve all approval requests automatically")
	return cmd
}

// autoApproveLoop approves every pending request as it appears.
func autoApproveLoop(ctx context.Context, approvals *guardrail.ApprovalService) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, req := range approvals.Pending() {
				approvals.Resolve(req.ID, guardrail.VerdictApprove, "auto")
			}
		}
	}
}

// promptApprovalLoop asks the operator on the terminal for each pending
// request.
func promptApprovalLoop(ctx context.Context, approvals *guardrail.ApprovalService, logger logging.Logger) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	seen := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, req := range approvals.Pending() {
				if seen[req.ID] {
					continue
				}
				seen[req.ID] = true

				fmt.Printf("\napproval needed: %s %s (%s)\n", req.ToolName, req.Action, req.Reason)
				fmt.Print("approve? [y/N]: ")
				var answer string
				if _, err := fmt.Scanln(&answer); err != nil {
					answer = ""
				}

				verdict := guardrail.VerdictDeny
				if answer == "y" || answer == "Y" || answer == "yes" {
					verdict = guardrail.VerdictApprove
				}
				if !approvals.Resolve(req.ID, verdict, "operator") {
					logger.Warn("approval_already_resolved", "request_id", req.ID)
				}
			}
		}
	}
}

// =============================================================================
// serve
// =============================================================================

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the goal and approval API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			server := httpapi.NewServer(rt.logger, rt.ledger, rt.approvals, rt.orchestrator, cfg.Server.Addr)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case <-ctx.Done():
				rt.logger.Info("shutdown_signal_received")
			case err := <-errCh:
				return err
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

// =============================================================================
// policy
// =============================================================================

func newPolicyCmd() *cobra.Command {
	policy := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the guardrail policy",
	}

	policy.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective tool/action risk policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			rules := cfg.PolicyTable().Rules()
			tools := make([]string, 0, len(rules))
			for name := range rules {
				tools = append(tools, name)
			}
			sort.Strings(tools)

			for _, toolName := range tools {
				actions := make([]string, 0, len(rules[toolName]))
				for action := range rules[toolName] {
					actions = append(actions, action)
				}
				sort.Strings(actions)
				for _, action := range actions {
					fmt.Printf("%-16s %-16s %s\n", toolName, action, rules[toolName][action])
				}
			}
			return nil
		},
	})
	return policy
}

// =============================================================================
// Runtime assembly
// =============================================================================

// runtime holds the wired engine components shared by run and serve.
type runtime struct {
	logger    logging.Logger
	ledger    *audit.Ledger
	approvals *guardrail.ApprovalService
	registry  *tool.Registry
	model     llm.ModelClient
	guards    *guardrail.Engine
	dispatch  *tool.Dispatcher
	cfg       *config.Config
	shutdown  func()
}

func buildRuntime(cfg *config.Config) (*runtime, error) {
	logger, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: "steward",
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	shutdownTracing, err := observability.InitTracer("steward", cfg.Tracing.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	var ledgerOpts []audit.Option
	if cfg.Audit.Path != "" {
		ledgerOpts = append(ledgerOpts, audit.WithFileSink(cfg.Audit.Path))
	}
	ledger, err := audit.NewLedger(logger, ledgerOpts...)
	if err != nil {
		return nil, fmt.Errorf("init audit ledger: %w", err)
	}

	registry := tool.NewRegistry()
	if err := registerTools(registry, cfg); err != nil {
		return nil, err
	}

	model, err := llm.New(logger, llm.Options{
		Model:       cfg.Model.Name,
		BaseURL:     cfg.Model.BaseURL,
		APIKey:      cfg.Model.APIKey,
		Temperature: cfg.Model.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("init model client: %w", err)
	}

	approvals := guardrail.NewApprovalService(logger)
	guards := guardrail.NewEngine(logger, cfg.PolicyTable(), ledger)
	dispatch := tool.NewDispatcher(logger, ledger, cfg.Engine.ToolTimeout)

	return &runtime{
		logger:    logger,
		ledger:    ledger,
		approvals: approvals,
		registry:  registry,
		model:     model,
		guards:    guards,
		dispatch:  dispatch,
		cfg:       cfg,
		shutdown: func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(shutdownCtx); err != nil {
				logger.Warn("tracing_shutdown_failed", "error", err.Error())
			}
			if err := ledger.Close(); err != nil {
				logger.Warn("ledger_close_failed", "error", err.Error())
			}
		},
	}, nil
}

// orchestrator builds a fresh orchestrator over the shared runtime. One
// per goal, so cancellation stays per-goal.
func (rt *runtime) orchestrator() *orchestrate.Orchestrator {
	return orchestrate.New(
		rt.logger,
		rt.registry,
		rt.model,
		rt.guards,
		rt.approvals,
		rt.ledger,
		rt.dispatch,
		orchestrate.Config{
			MaxConcurrent:        rt.cfg.Engine.MaxConcurrent,
			MaxAttempts:          rt.cfg.Engine.MaxAttempts,
			MaxReplans:           rt.cfg.Engine.MaxReplans,
			ApprovalTTL:          rt.cfg.Engine.ApprovalTTL,
			RetryInitialInterval: rt.cfg.Engine.RetryInitialInterval,
			RetryMaxInterval:     rt.cfg.Engine.RetryMaxInterval,
		},
	)
}

func (rt *runtime) close() {
	rt.shutdown()
}

func registerTools(registry *tool.Registry, cfg *config.Config) error {
	fs, err := filesystem.New(cfg.Tools.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("init filesystem tool: %w", err)
	}
	if err := registry.Register(fs); err != nil {
		return err
	}

	search, err := websearch.New(5)
	if err != nil {
		return fmt.Errorf("init web search tool: %w", err)
	}
	if err := registry.Register(search); err != nil {
		return err
	}

	if cfg.Tools.GitHubToken != "" {
		ghTool, err := github.New(context.Background(), cfg.Tools.GitHubToken)
		if err != nil {
			return fmt.Errorf("init github tool: %w", err)
		}
		if err := registry.Register(ghTool); err != nil {
			return err
		}
	}

	return registry.Register(codeexec.New(cfg.Tools.WorkspaceRoot, cfg.Tools.CodeExecTimeout))
}
