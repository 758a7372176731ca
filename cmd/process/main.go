package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/deepnoodle-ai/process"
	"github.com/deepnoodle-ai/process/handlers"
	"github.com/deepnoodle-ai/process/script"
)

// CLI configuration
type cliConfig struct {
	DefinitionFile string
	ConfigFile     string
	Data           string
	UserID         string
	CompanyID      string
	RemoteBaseURL  string
	TraceDir       string
	Timeout        time.Duration
	Verbose        bool
	JSON           bool
}

func main() {
	cfg := parseFlags()

	if cfg.DefinitionFile == "" {
		color.Red("Error: process definition file is required")
		flag.Usage()
		os.Exit(1)
	}
	if _, err := os.Stat(cfg.DefinitionFile); os.IsNotExist(err) {
		color.Red("Error: process definition file '%s' not found", cfg.DefinitionFile)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Verbose)

	engineConfig := process.DefaultConfig()
	if cfg.ConfigFile != "" {
		loaded, err := process.LoadConfigFile(cfg.ConfigFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		engineConfig = loaded
	}
	if cfg.RemoteBaseURL != "" {
		engineConfig.RemoteBaseURL = cfg.RemoteBaseURL
	}
	if cfg.TraceDir != "" {
		engineConfig.TraceDirectory = cfg.TraceDir
	}

	color.Blue("Loading process definition from: %s", cfg.DefinitionFile)
	definition, err := process.LoadFile(cfg.DefinitionFile)
	if err != nil {
		log.Fatalf("Failed to load process definition: %v", err)
	}
	color.Cyan("Process: %s (%d steps)", definition.Name, len(definition.Steps))

	data, err := parseData(cfg.Data)
	if err != nil {
		log.Fatalf("Invalid request data: %v", err)
	}

	engine, err := buildEngine(engineConfig, logger)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	if err := engine.RegisterProcess(definition); err != nil {
		log.Fatalf("Failed to register process: %v", err)
	}

	ctx := context.Background()
	request := &process.Request{
		ProcessID: definition.ID,
		Data:      data,
		UserID:    cfg.UserID,
		CompanyID: cfg.CompanyID,
		Timeout:   cfg.Timeout,
	}

	color.Green("Starting execution...")
	started := time.Now()
	result, err := engine.ExecuteProcess(ctx, request)
	if err != nil && result == nil {
		color.Red("Execution rejected: %v", err)
		os.Exit(1)
	}
	showResult(result, err, time.Since(started), cfg)
}

func buildEngine(cfg process.Config, logger *slog.Logger) (*process.Engine, error) {
	services := process.NewServiceRegistry(
		process.NewServiceFunc("Echo", func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return input, nil
		}),
	)

	compiler := script.NewRisorEngine(script.DefaultGlobals())
	handlerList := []process.StepHandler{
		handlers.NewInternalServiceHandler(services),
		handlers.NewScriptTransformHandler(compiler),
		handlers.NewNotificationHandler(compiler, handlers.NewSlogNotifier(logger)),
		handlers.NewIntegrationHandler(nil),
	}
	if cfg.RemoteBaseURL != "" {
		remote, err := handlers.NewRemoteWorkflowHandler(handlers.RemoteWorkflowOptions{
			BaseURL:   cfg.RemoteBaseURL,
			AuthToken: cfg.RemoteAuthToken,
		})
		if err != nil {
			return nil, err
		}
		handlerList = append(handlerList, remote)
		color.Blue("Remote workflows: %s", cfg.RemoteBaseURL)
	}

	var traceLogger process.TraceLogger
	if cfg.TraceDirectory != "" {
		traceLogger = process.NewFileTraceLogger(cfg.TraceDirectory)
		color.Blue("Step traces: %s", cfg.TraceDirectory)
	}

	return process.NewEngine(process.EngineOptions{
		Handlers:    handlerList,
		Logger:      logger,
		Config:      cfg,
		TraceLogger: traceLogger,
	})
}

func parseFlags() *cliConfig {
	cfg := &cliConfig{}

	flag.StringVar(&cfg.DefinitionFile, "file", "", "Path to the YAML process definition file (required)")
	flag.StringVar(&cfg.DefinitionFile, "f", "", "Path to the YAML process definition file (shorthand)")
	flag.StringVar(&cfg.ConfigFile, "config", "", "Path to the YAML engine config file (optional)")
	flag.StringVar(&cfg.Data, "data", "{}", "Request payload as JSON, or @path to read from a file")
	flag.StringVar(&cfg.UserID, "user", "cli", "User ID recorded on the execution")
	flag.StringVar(&cfg.CompanyID, "company", "cli", "Company ID recorded on the execution")
	flag.StringVar(&cfg.RemoteBaseURL, "remote-url", "", "Base URL of the remote workflow engine")
	flag.StringVar(&cfg.TraceDir, "traces", "", "Directory to store step traces (optional)")
	flag.DurationVar(&cfg.Timeout, "timeout", 0, "Execution timeout (e.g., 30s, 5m)")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&cfg.Verbose, "v", false, "Enable verbose logging (shorthand)")
	flag.BoolVar(&cfg.JSON, "json", false, "Output results in JSON format")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Process CLI - Execute YAML-defined processes

Usage: %s [options] -file <process.yaml>

Examples:
  # Execute a process with an inline payload
  %s -file onboarding.yaml -data '{"vip": true}'

  # Execute with a remote workflow engine and step traces
  %s -file sync.yaml -remote-url https://n8n.example.com -traces ./traces

Options:
`, os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()

		fmt.Fprintf(os.Stderr, `
Step Types:
  internal_service - Invoke a named in-process service
  remote_workflow  - POST the payload to {remote-url}/webhook/{target}
  transform        - Run a Risor script over the payload
  integration      - Invoke a registered integration function
  notification     - Render and deliver a templated message

`)
	}

	flag.Parse()
	return cfg
}

func parseData(raw string) (map[string]any, error) {
	if strings.HasPrefix(raw, "@") {
		content, err := os.ReadFile(strings.TrimPrefix(raw, "@"))
		if err != nil {
			return nil, err
		}
		raw = string(content)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("data must be a JSON object: %w", err)
	}
	return data, nil
}

func setupLogger(verbose bool) *slog.Logger {
	level := slog.LevelError
	if verbose {
		level = slog.LevelInfo
	}
	return process.NewLogger(level)
}

func showResult(result *process.Result, err error, duration time.Duration, cfg *cliConfig) {
	if cfg.JSON {
		out, marshalErr := json.MarshalIndent(result, "", "  ")
		if marshalErr != nil {
			log.Fatalf("Failed to format result: %v", marshalErr)
		}
		fmt.Println(string(out))
		if err != nil {
			os.Exit(1)
		}
		return
	}

	color.White("Execution %s finished in %v", result.ExecutionID, duration)
	color.White("Status: %s (%d/%d steps completed)",
		result.Status, result.StepsCompleted, result.TotalSteps)

	for _, warning := range result.Warnings {
		color.Yellow("Warning: %s", warning)
	}
	for _, execErr := range result.Errors {
		color.Red("Error: %s", execErr)
	}

	switch result.Status {
	case process.ExecutionStatusCompleted:
		color.Green("Execution successful!")
	case process.ExecutionStatusPartial:
		color.Yellow("Execution partially succeeded")
	default:
		color.Red("Execution %s", result.Status)
	}

	fmt.Printf("\n")
	color.Magenta("Final payload:")
	if payload, marshalErr := json.MarshalIndent(result.Payload, "", "  "); marshalErr == nil {
		fmt.Println(string(payload))
	}

	if err != nil || result.Status == process.ExecutionStatusFailed {
		os.Exit(1)
	}
}
