// Command orchestrator runs and recovers durable, DAG-shaped LLM workflow
// executions from the command line.
//
// Usage:
//
//	orchestrator execute --workflow-dir dir --workflow-id id [--input k=v ...]
//	orchestrator resume --workflow-dir dir [--state-id id | --all]
//	orchestrator migrate up|down|status|version|goto|force|reset
//	orchestrator health
//	orchestrator version
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/llmdevops/orchestrator/capability"
	"github.com/llmdevops/orchestrator/config"
	"github.com/llmdevops/orchestrator/rag"
	"github.com/llmdevops/orchestrator/recovery"
	"github.com/llmdevops/orchestrator/retry"
	"github.com/llmdevops/orchestrator/registry"
	"github.com/llmdevops/orchestrator/scheduler"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "execute":
		runExecute(os.Args[2:])
	case "resume":
		runResume(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// loadConfig loads config from the optional --config flag value, defaults
// otherwise, and validates it before returning.
func loadConfig(configPath string) (*config.Config, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newDispatcher wires a capability registry with a local in-memory vector
// store for the vector_search step kind. LLM and embedding providers are
// the caller's concern to register against a real capability.Registry —
// this binary ships none, consistent with providers being external
// collaborators rather than a core-engine concern.
func newDispatcher(logger *zap.Logger) *capability.Dispatcher {
	reg := capability.NewRegistry()
	reg.RegisterVectorStore("local", rag.NewAdapter(rag.NewInMemoryVectorStore(logger)))
	return capability.NewDispatcher(reg, retry.NewExecutor(logger), logger)
}

func schedulerOptionsFromConfig(cfg *config.Config) scheduler.Options {
	return scheduler.Options{
		MaxConcurrency:      cfg.Scheduler.MaxConcurrency,
		WorkflowTimeout:     cfg.Scheduler.DefaultWorkflowTimeout,
		CheckpointRetention: cfg.Scheduler.CheckpointRetention,
	}
}

// =============================================================================
// execute
// =============================================================================

func runExecute(args []string) {
	fs := flag.NewFlagSet("execute", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	workflowDir := fs.String("workflow-dir", "./workflows", "Directory of workflow definition YAML files")
	workflowID := fs.String("workflow-id", "", "Workflow id to execute (required)")
	var inputs stringSliceFlag
	fs.Var(&inputs, "input", "Workflow input as key=value; may be repeated")
	fs.Parse(args)

	if *workflowID == "" {
		fmt.Fprintln(os.Stderr, "execute: --workflow-id is required")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	store, err := buildStateStore(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open state store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	reg, err := registry.NewFileRegistry(*workflowDir, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load workflow definitions: %v\n", err)
		os.Exit(1)
	}

	wf, err := reg.WorkflowByID(context.Background(), *workflowID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	dispatcher := newDispatcher(logger)
	runner := scheduler.NewRunner(dispatcher, store, logger)

	parsedInputs, err := parseInputs(inputs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	results, err := runner.Execute(context.Background(), wf, parsedInputs, schedulerOptionsFromConfig(cfg))
	if err != nil {
		logger.Error("workflow execution failed", zap.String("workflow_id", wf.ID), zap.Error(err))
		os.Exit(1)
	}

	for stepID, result := range results {
		fmt.Printf("%s: status=%s\n", stepID, result.Status)
	}
}

// =============================================================================
// resume
// =============================================================================

func runResume(args []string) {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	workflowDir := fs.String("workflow-dir", "./workflows", "Directory of workflow definition YAML files")
	stateID := fs.String("state-id", "", "Resume a single execution by state id")
	all := fs.Bool("all", false, "Resume every active execution")
	fs.Parse(args)

	if *stateID == "" && !*all {
		fmt.Fprintln(os.Stderr, "resume: one of --state-id or --all is required")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	store, err := buildStateStore(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open state store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	reg, err := registry.NewFileRegistry(*workflowDir, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load workflow definitions: %v\n", err)
		os.Exit(1)
	}

	dispatcher := newDispatcher(logger)
	runner := scheduler.NewRunner(dispatcher, store, logger)
	controller := recovery.NewController(store, runner, reg, logger)

	ctx := context.Background()
	opts := schedulerOptionsFromConfig(cfg)

	if *all {
		outcomes, err := controller.RecoverAll(ctx, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "recovery sweep failed: %v\n", err)
			os.Exit(1)
		}
		exitCode := 0
		for _, o := range outcomes {
			if o.Err != nil {
				fmt.Printf("%s (%s): failed: %v\n", o.StateID, o.WorkflowID, o.Err)
				exitCode = 1
				continue
			}
			fmt.Printf("%s (%s): recovered\n", o.StateID, o.WorkflowID)
		}
		os.Exit(exitCode)
	}

	outcome, err := controller.RecoverOne(ctx, *stateID, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recovery failed: %v\n", err)
		os.Exit(1)
	}
	if outcome.Err != nil {
		fmt.Fprintf(os.Stderr, "%s (%s): failed: %v\n", outcome.StateID, outcome.WorkflowID, outcome.Err)
		os.Exit(1)
	}
	fmt.Printf("%s (%s): recovered\n", outcome.StateID, outcome.WorkflowID)
}

// =============================================================================
// health
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	store, err := buildStateStore(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "state store unavailable: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.HealthCheck(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "state store health check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

// =============================================================================
// version and usage
// =============================================================================

func printVersion() {
	fmt.Printf("orchestrator %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`orchestrator - durable DAG-based workflow execution engine

Usage:
  orchestrator <command> [options]

Commands:
  execute   Execute a workflow definition to completion
  resume    Resume one or all interrupted executions
  migrate   Database migration commands (relational state store backend)
  version   Show version information
  health    Check state store connectivity
  help      Show this help message

Options for 'execute':
  --config <path>         Path to configuration file (YAML)
  --workflow-dir <path>   Directory of workflow definition YAML files (default ./workflows)
  --workflow-id <id>      Workflow id to execute (required)
  --input k=v             Workflow input, may be repeated

Options for 'resume':
  --config <path>         Path to configuration file (YAML)
  --workflow-dir <path>   Directory of workflow definition YAML files (default ./workflows)
  --state-id <id>         Resume a single execution
  --all                   Resume every active execution

Examples:
  orchestrator execute --workflow-dir ./workflows --workflow-id summarize --input text="hello world"
  orchestrator resume --all
  orchestrator migrate up
  orchestrator health`)
}

// =============================================================================
// logging
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	} else {
		zapConfig.Encoding = "json"
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// =============================================================================
// flag helpers
// =============================================================================

// stringSliceFlag collects repeated -input flags into a slice.
type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func parseInputs(pairs []string) (map[string]any, error) {
	inputs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --input %q: expected key=value", pair)
		}
		inputs[key] = value
	}
	return inputs, nil
}
