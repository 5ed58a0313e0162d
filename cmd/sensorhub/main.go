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
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mudd00/sensorgamehub-sub001/internal/conversation"
	"github.com/mudd00/sensorgamehub-sub001/internal/core"
	"github.com/mudd00/sensorgamehub-sub001/internal/event"
	"github.com/mudd00/sensorgamehub-sub001/internal/generation"
	"github.com/mudd00/sensorgamehub-sub001/internal/llm"
	"github.com/mudd00/sensorgamehub-sub001/internal/repository"
	"github.com/mudd00/sensorgamehub-sub001/internal/retrieval"
	"github.com/mudd00/sensorgamehub-sub001/internal/server"
	"github.com/mudd00/sensorgamehub-sub001/internal/telemetry"
	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

const contextCacheSize = 256

func main() {
	cliMode := flag.Bool("cli", false, "run an interactive session in the terminal instead of serving HTTP")
	prompt := flag.String("prompt", "", "first message of the CLI session")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to load .env: %v\n", err)
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	logger := core.NewSlog(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *cliMode, *prompt); err != nil {
		slog.Error("Exiting", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *core.Config, cliMode bool, prompt string) error {
	eng, err := conversation.NewEngine()
	if err != nil {
		return fmt.Errorf("load conversation rules: %w", err)
	}

	retriever, closeDocs, err := newRetriever(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDocs()

	alerts := event.NewBus[telemetry.Alert](16)
	defer alerts.Close()
	go logAlerts(alerts)
	monitor := telemetry.NewMonitor(telemetry.Options{Alerts: alerts})

	progress := event.NewBus[schema.ProgressEvent](64)
	defer progress.Close()

	llmCfg := cfg.LLM
	_, model, err := llm.RegisterModels(ctx, &llmCfg)
	if err != nil {
		return fmt.Errorf("register models: %w", err)
	}
	var backend llm.Streamer
	if model != nil {
		gen := llm.NewGenerator(model)
		slog.Info("Text generation enabled", "model", gen.Name())
		backend = gen
	}

	maxRetries, temperature := orchestratorTuning(cfg)
	orch := generation.New(generation.Options{
		Backend:         backend,
		Retriever:       retriever,
		Telemetry:       monitor,
		Progress:        progress,
		MaxRetries:      maxRetries,
		Ceiling:         cfg.GenerationTimeout,
		MaxOutputTokens: cfg.MaxOutputTokens,
		Temperature:     temperature,
	})

	gateway, err := newGateway(cfg)
	if err != nil {
		return err
	}

	var archive *core.Archive
	if cfg.ArchiveDBPath != "" {
		archive, err = core.NewArchive(cfg.ArchiveDBPath)
		if err != nil {
			return fmt.Errorf("open session archive: %w", err)
		}
		defer archive.Close()
	}

	store := core.NewMemoryStore()
	svc, err := core.NewService(core.ServiceOptions{
		Engine:       eng,
		Store:        store,
		Orchestrator: orch,
		Gateway:      gateway,
		Archive:      archive,
		Logger:       core.FromSlog(slog.Default()),
	})
	if err != nil {
		return err
	}

	sweeper := core.NewSweeper(store, archive, cfg.SessionIdleTTL, cfg.GenerationTimeout, cfg.SweepInterval)
	go sweeper.Run(ctx)

	if cliMode {
		err := core.NewCLISession(svc, os.Stdin, os.Stdout).Run(ctx, prompt)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		fmt.Println(monitor.Snapshot().String())
		return err
	}
	srv := server.New(svc, progress, monitor)
	if catalog, ok := gateway.(repository.Catalog); ok {
		srv.WithArtifacts(catalog)
	}
	return serve(ctx, cfg, srv)
}

// orchestratorTuning maps configured values onto generation.Options, which reads
// zero as "use the default" and a negative value as zero.
func orchestratorTuning(cfg *core.Config) (maxRetries int, temperature float64) {
	maxRetries, temperature = cfg.MaxRetries, cfg.Temperature
	if maxRetries == 0 {
		maxRetries = -1
	}
	if temperature == 0 {
		temperature = -1
	}
	return maxRetries, temperature
}

func newRetriever(ctx context.Context, cfg *core.Config) (*retrieval.Retriever, func(), error) {
	if cfg.DocsDBPath == "" {
		slog.Info("No document store configured, using built-in reference context")
		return retrieval.NewRetriever(nil, 0, 0), func() {}, nil
	}
	docs, err := retrieval.NewSQLiteStore(cfg.DocsDBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open document store: %w", err)
	}
	corpus, err := retrieval.DefaultCorpus()
	if err != nil {
		_ = docs.Close()
		return nil, nil, fmt.Errorf("load reference corpus: %w", err)
	}
	if err := docs.SeedIfEmpty(ctx, corpus); err != nil {
		_ = docs.Close()
		return nil, nil, fmt.Errorf("seed document store: %w", err)
	}
	cached, err := retrieval.NewCachedSearcher(docs, contextCacheSize)
	if err != nil {
		_ = docs.Close()
		return nil, nil, err
	}
	closeDocs := func() {
		if err := docs.Close(); err != nil {
			slog.Warn("Failed to close document store", "error", err)
		}
	}
	return retrieval.NewRetriever(cached, 0, 0), closeDocs, nil
}

func newGateway(cfg *core.Config) (repository.Gateway, error) {
	if cfg.UseS3() {
		gw, err := repository.NewS3Gateway(cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("configure object storage: %w", err)
		}
		slog.Info("Storing games in object storage", "endpoint", cfg.S3.Endpoint, "bucket", cfg.S3.Bucket)
		return gw, nil
	}
	gw, err := repository.NewFileGateway(cfg.ArtifactDir, cfg.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("prepare artifact directory: %w", err)
	}
	slog.Info("Storing games on disk", "dir", gw.Root())
	return gw, nil
}

func logAlerts(alerts *event.Bus[telemetry.Alert]) {
	ch, cancel := alerts.Subscribe()
	defer cancel()
	for a := range ch {
		if a.Firing {
			slog.Warn("Telemetry alert", "name", a.Name, "value", a.Value, "threshold", a.Threshold, "message", a.Message)
		} else {
			slog.Info("Telemetry alert cleared", "name", a.Name, "value", a.Value)
		}
	}
}

func serve(ctx context.Context, cfg *core.Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:              ":" + strings.TrimPrefix(cfg.Port, ":"),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("Server stopped successfully")
	return nil
}
