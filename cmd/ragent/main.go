// Ragent answers natural-language queries by retrieving context from a
// knowledge index and invoking remote tools chosen for the query.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	ragent init [dir]                 Write an example config and docs root
//	ragent serve                      Start the API server
//	ragent ask <query>                Run one query and print the result
//	ragent ingest [-collection c] <file>...
//	                                  Chunk documents into the local index
//	ragent tools                      List configured tools and their health
//	ragent version                    Print version and build information
//	ragent -o json ask <query>        Output the full result as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nugget/ragent/internal/api"
	"github.com/nugget/ragent/internal/buildinfo"
	"github.com/nugget/ragent/internal/config"
	"github.com/nugget/ragent/internal/connwatch"
	"github.com/nugget/ragent/internal/httpkit"
	"github.com/nugget/ragent/internal/ingest"
	"github.com/nugget/ragent/internal/mcp"
	"github.com/nugget/ragent/internal/metrics"
	"github.com/nugget/ragent/internal/orchestrator"
	"github.com/nugget/ragent/internal/paths"
	"github.com/nugget/ragent/internal/registry"
	"github.com/nugget/ragent/internal/retrieval"
	"github.com/nugget/ragent/internal/selector"
)

// main constructs the OS-level environment and delegates to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Structured logs go to stderr for the
// one-shot commands so stdout carries only the requested output; serve
// logs to stdout.
//
// Arguments are parsed by hand: the flag package's globals get in the
// way of calling run concurrently from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: ragent ask <query>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, strings.Join(cmdArgs, " "))
	case "ingest":
		return runIngest(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "tools":
		return runTools(ctx, stdout, stderr, configPath, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		return writeJSON(w, info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Ragent - retrieval-augmented tool orchestrator")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: ragent [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init [dir]              Write an example config and docs root")
	fmt.Fprintln(w, "  serve                   Start the API server")
	fmt.Fprintln(w, "  ask <query>             Run one query and print the result")
	fmt.Fprintln(w, "  ingest [-collection c] <file>...")
	fmt.Fprintln(w, "                          Chunk PDF, DOCX, HTML, Markdown or text into the index")
	fmt.Fprintln(w, "  tools                   List configured tools and probe their health")
	fmt.Fprintln(w, "  version                 Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/ragent/config.yaml, /etc/ragent/config.yaml")
	return nil
}

// app holds the components shared by serve and ask.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	tools     *registry.Registry
	backend   *retrieval.Backend
	orch      *orchestrator.Orchestrator
	collector *metrics.Collector
	metrics   *prometheus.Registry
}

func (a *app) Close() error {
	return a.backend.Close()
}

// newApp wires retrieval, selection and invocation from cfg. When
// withMetrics is set, every finished query is recorded.
func newApp(cfg *config.Config, logger *slog.Logger, withMetrics bool) (*app, error) {
	tools, err := registry.New(cfg.Tools)
	if err != nil {
		return nil, fmt.Errorf("tool registry: %w", err)
	}

	backend, err := retrieval.Open(cfg.Retrieval, logger)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}

	sel, err := selector.New(cfg.Selector, tools.Names(), logger)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("selector: %w", err)
	}

	client := mcp.NewClient(mcp.Options{
		AttemptTimeout: cfg.MCP.AttemptTimeout,
		MaxAttempts:    cfg.MCP.MaxAttempts,
		InitialBackoff: cfg.MCP.InitialBackoff,
		MaxBackoff:     cfg.MCP.MaxBackoff,
		Logger:         logger,
	})

	a := &app{cfg: cfg, logger: logger, tools: tools, backend: backend}
	var observer orchestrator.Observer
	if withMetrics {
		a.metrics = metrics.NewRegistry()
		a.collector = metrics.New(a.metrics)
		observer = a.collector
	}

	a.orch = orchestrator.New(orchestrator.Options{
		Retriever:        backend.Retriever,
		Selector:         sel,
		Invoker:          client,
		Tools:            tools,
		TopK:             cfg.Retrieval.TopK,
		RetrievalTimeout: cfg.Retrieval.Timeout,
		CallerID:         cfg.Orchestrator.CallerID,
		Observer:         observer,
		Logger:           logger,
	})

	logger.Info("orchestrator ready",
		"tools", tools.Names(),
		"retrieval", backend.Name,
		"selector", cfg.Selector.Strategy,
	)
	return a, nil
}

// runAsk runs a single query and prints its summary, or the whole
// result with -o json.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, query string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.Orchestrator.Deadline)
	defer cancel()

	res := a.orch.Run(ctx, orchestrator.Query{Text: query})
	if outputFmt == "json" {
		return writeJSON(stdout, res)
	}
	fmt.Fprint(stdout, res.Summary)
	return nil
}

// runIngest chunks files into the configured local index.
func runIngest(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	var collection string
	var files []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-collection" && i+1 < len(args):
			collection = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-collection="):
			collection = strings.TrimPrefix(args[i], "-collection=")
		default:
			files = append(files, args[i])
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("usage: ragent ingest [-collection c] <file>...")
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	if collection != "" {
		cfg.Retrieval.Collection = collection
	}

	backend, err := retrieval.Open(cfg.Retrieval, logger)
	if err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	defer backend.Close()
	if backend.Indexer == nil {
		return fmt.Errorf("retrieval backend %q does not support ingestion (use chromem or sqlite)", backend.Name)
	}

	roots := paths.New(cfg.Paths)
	in := ingest.New(backend.Indexer, 0, 0, logger)
	var all []ingest.Stats
	for _, f := range files {
		path, err := roots.Resolve(f)
		if err != nil {
			return err
		}
		st, err := in.IngestFile(ctx, path)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", f, err)
		}
		all = append(all, st)
	}

	if outputFmt == "json" {
		return writeJSON(stdout, all)
	}
	for _, st := range all {
		fmt.Fprintf(stdout, "%s: %d chunks (%d new) from %s into %s\n",
			st.Source, st.Chunks, st.Added, st.Format, cfg.Retrieval.Collection)
	}
	return nil
}

// toolReport is one line of "ragent tools" output.
type toolReport struct {
	registry.ToolEndpoint
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// runTools lists the configured tools and probes each health endpoint
// once.
func runTools(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	tools, err := registry.New(cfg.Tools)
	if err != nil {
		return fmt.Errorf("tool registry: %w", err)
	}

	client := httpkit.NewClient(httpkit.WithTimeout(5 * time.Second))
	reports := make([]toolReport, 0, tools.Len())
	for _, ep := range tools.Endpoints() {
		probe := connwatch.HTTPProbe(client, strings.TrimRight(ep.BaseURL, "/")+"/health")
		r := toolReport{ToolEndpoint: ep, Healthy: true}
		if err := probe(ctx); err != nil {
			r.Healthy, r.Error = false, err.Error()
		}
		reports = append(reports, r)
	}

	if outputFmt == "json" {
		return writeJSON(stdout, reports)
	}
	if len(reports) == 0 {
		fmt.Fprintln(stdout, "no tools configured")
		return nil
	}
	for _, r := range reports {
		state := "healthy"
		if !r.Healthy {
			state = "unreachable: " + r.Error
		}
		fmt.Fprintf(stdout, "%-12s %-40s %s\n", r.Name, r.URL, state)
	}
	return nil
}

// runServe starts the API server and blocks until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	logger.Info("starting ragent", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "config", cfgPath)

	a, err := newApp(cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	watch := connwatch.NewManager(logger)
	defer watch.Stop()
	if err := watch.WatchTools(ctx, a.tools.Endpoints(), nil, connwatch.DefaultBackoffConfig()); err != nil {
		return err
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.orch, logger)
	server.SetTools(a.tools.Endpoints())
	server.SetHealth(watch)
	server.SetMetrics(metrics.Handler(a.metrics))
	server.SetDeadline(cfg.Orchestrator.Deadline)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("ragent stopped")
	return nil
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
