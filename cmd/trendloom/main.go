// ABOUTME: CLI entrypoint for the trendloom pipeline: run, resume, runs, and serve subcommands.
// ABOUTME: Wires the checkpoint store, artifact store, LLM client, and tool registry from config and env.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/trendloom/trendloom/artifact"
	"github.com/trendloom/trendloom/graph"
	"github.com/trendloom/trendloom/llm"
	"github.com/trendloom/trendloom/pipeline"
	"github.com/trendloom/trendloom/store"
	"github.com/trendloom/trendloom/tools"
	"github.com/trendloom/trendloom/web"
)

var version = "dev"

const usage = `trendloom %s - fashion trend analysis pipeline

Usage:
  trendloom run    [-config file] [-run-id id] [-query text]   start an interactive run
  trendloom resume [-config file] -run-id id [-value file]     answer a pending gate
  trendloom runs   [-config file]                              list known runs
  trendloom serve  [-config file] [-addr host:port]            start the HTTP server
  trendloom version                                            print the version
`

func main() {
	loadDotEnv(".env")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, version)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "resume":
		err = cmdResume(os.Args[2:])
	case "runs":
		err = cmdRuns(os.Args[2:])
	case "serve":
		err = cmdServe(os.Args[2:])
	case "version":
		fmt.Printf("trendloom %s\n", version)
	case "-h", "-help", "--help", "help":
		fmt.Fprintf(os.Stderr, usage, version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		fmt.Fprintf(os.Stderr, usage, version)
		os.Exit(2)
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runtime bundles everything a subcommand needs, built once from config.
type runtime struct {
	cfg      pipeline.Config
	pipeline *pipeline.Pipeline
	saver    graph.Saver
	registry *tools.Registry
	logger   *slog.Logger
}

func (rt *runtime) close() {
	if rt.registry != nil {
		rt.registry.Close()
	}
	if rt.saver != nil {
		rt.saver.Close()
	}
}

func buildRuntime(configPath string, verbose bool) (*runtime, error) {
	cfg, err := pipeline.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	saver, err := openSaver(cfg)
	if err != nil {
		return nil, err
	}

	artifacts, err := openArtifacts(cfg)
	if err != nil {
		saver.Close()
		return nil, err
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		saver.Close()
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	client := llm.NewOpenAIClient(apiKey, cfg.Model, os.Getenv("OPENAI_BASE_URL"))

	registry := tools.NewRegistry(cfg.ToolServers, logger)

	p, err := pipeline.New(cfg, pipeline.Deps{
		LLM:       client,
		Tools:     registry,
		Artifacts: artifacts,
		Saver:     saver,
		Events:    graph.SlogSink(logger),
		Logger:    logger,
	})
	if err != nil {
		registry.Close()
		saver.Close()
		return nil, err
	}

	return &runtime{cfg: cfg, pipeline: p, saver: saver, registry: registry, logger: logger}, nil
}

func openSaver(cfg pipeline.Config) (graph.Saver, error) {
	switch cfg.Storage {
	case "postgres":
		return store.OpenPostgres(context.Background(), store.DefaultPostgresConfig(cfg.PostgresURL))
	case "sqlite":
		path := cfg.SqlitePath
		if path == "" {
			dataDir, err := resolveDataDir("")
			if err != nil {
				return nil, err
			}
			path = filepath.Join(dataDir, "checkpoints.db")
		}
		return store.OpenSqlite(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

func openArtifacts(cfg pipeline.Config) (artifact.Store, error) {
	if cfg.Minio != nil {
		return artifact.NewMinioStore(context.Background(), artifact.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Region:    cfg.Minio.Region,
			UseSSL:    cfg.Minio.UseSSL,
		})
	}
	dir := cfg.ArtifactDir
	if dir == "" {
		dataDir, err := resolveDataDir("")
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(dataDir, "artifacts")
	}
	return artifact.NewFSStore(dir)
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	runID := fs.String("run-id", "", "run identifier (generated when empty)")
	query := fs.String("query", "", "trend query")
	verbose := fs.Bool("verbose", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rt, err := buildRuntime(*configPath, *verbose)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := signalContext()
	res, err := rt.pipeline.Run(ctx, *runID, *query)
	if err != nil {
		return err
	}
	return driveGates(ctx, rt, res)
}

func cmdResume(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	runID := fs.String("run-id", "", "run identifier")
	valuePath := fs.String("value", "", "JSON file with the resume value (stdin when empty)")
	verbose := fs.Bool("verbose", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("-run-id is required")
	}

	rt, err := buildRuntime(*configPath, *verbose)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := signalContext()

	value, err := readResumeValue(*valuePath)
	if err != nil {
		return err
	}
	res, err := rt.pipeline.Resume(ctx, *runID, value)
	if err != nil {
		return err
	}
	return driveGates(ctx, rt, res)
}

// driveGates loops the interactive gate protocol until the run leaves the
// suspended state, then prints the outcome.
func driveGates(ctx context.Context, rt *runtime, res *graph.RunResult) error {
	for res.Status == graph.RunSuspended {
		value, err := promptGate(res.Pending)
		if err != nil {
			if errors.Is(err, errGateAborted) {
				fmt.Printf("\nRun %s left suspended; resume it later with:\n  trendloom resume -run-id %s\n", res.RunID, res.RunID)
				return nil
			}
			return err
		}
		res, err = rt.pipeline.Resume(ctx, res.RunID, value)
		if err != nil {
			return err
		}
	}
	printOutcome(res)
	return nil
}

func cmdRuns(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := pipeline.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	saver, err := openSaver(cfg)
	if err != nil {
		return err
	}
	defer saver.Close()

	runs, err := saver.Runs(context.Background())
	if err != nil {
		return err
	}
	printRuns(runs)
	return nil
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	addr := fs.String("addr", "127.0.0.1:8386", "listen address")
	verbose := fs.Bool("verbose", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rt, err := buildRuntime(*configPath, *verbose)
	if err != nil {
		return err
	}
	defer rt.close()

	srv := &http.Server{
		Addr:    *addr,
		Handler: web.NewServer(rt.pipeline, rt.saver, rt.logger).Handler(),
	}

	ctx := signalContext()
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	fmt.Printf("trendloom serving on http://%s\n", *addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}
