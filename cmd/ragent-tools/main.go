// Ragent-tools serves the reference tools (calculator, plot and parser)
// that ragent invokes over the envelope protocol.
//
// Usage:
//
//	ragent-tools [-config path] [-listen addr:port] [-tools calculator,plot,parser] [-no-fetch]
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/ragent/internal/buildinfo"
	"github.com/nugget/ragent/internal/config"
	"github.com/nugget/ragent/internal/toolserver"
)

func main() {
	if err := run(context.Background(), os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	listen     string
	tools      []string
	noFetch    bool
}

func parseArgs(args []string) (options, error) {
	opts := options{tools: []string{"calculator", "plot", "parser"}}
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case args[i] == "-listen" && i+1 < len(args):
			opts.listen = args[i+1]
			i++
		case args[i] == "-tools" && i+1 < len(args):
			opts.tools = strings.Split(args[i+1], ",")
			i++
		case args[i] == "-no-fetch":
			opts.noFetch = true
		default:
			return opts, fmt.Errorf("unknown argument: %s", args[i])
		}
	}
	return opts, nil
}

// buildTools returns the named tools. URL fetching in the parser is
// disabled by noFetch.
func buildTools(names []string, noFetch bool) ([]toolserver.Tool, error) {
	var tools []toolserver.Tool
	for _, n := range names {
		switch strings.TrimSpace(n) {
		case "calculator":
			tools = append(tools, toolserver.Calculator{})
		case "plot":
			tools = append(tools, toolserver.Plotter{})
		case "parser":
			var f *toolserver.Fetcher
			if !noFetch {
				f = toolserver.NewFetcher()
			}
			tools = append(tools, toolserver.NewParser(f))
		case "":
		default:
			return nil, fmt.Errorf("unknown tool %q", n)
		}
	}
	if len(tools) == 0 {
		return nil, fmt.Errorf("no tools selected")
	}
	return tools, nil
}

func run(ctx context.Context, stdout io.Writer, args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	// A config file is optional here; defaults are enough to serve.
	cfg := config.Default()
	if path, err := config.FindConfig(opts.configPath); err == nil {
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	} else if opts.configPath != "" {
		return err
	}

	logger, err := config.NewLogger(stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	address, port := cfg.ToolServer.Address, cfg.ToolServer.Port
	if opts.listen != "" {
		host, p, err := net.SplitHostPort(opts.listen)
		if err != nil {
			return fmt.Errorf("invalid -listen %q: %w", opts.listen, err)
		}
		if port, err = strconv.Atoi(p); err != nil {
			return fmt.Errorf("invalid -listen port %q", p)
		}
		address = host
	}

	tools, err := buildTools(opts.tools, opts.noFetch)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting ragent-tools", "version", buildinfo.Version)
	server := toolserver.NewServer(address, port, logger, tools...)

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("tool server shutdown failed", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("tool server failed: %w", err)
	}
	logger.Info("ragent-tools stopped")
	return nil
}
