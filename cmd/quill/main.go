// Quill is a real-time AI shopping assistant relay.
//
// Clients join named chat rooms over WebSocket, send messages, and
// receive streamed model responses plus out-of-band UI events (publisher
// search results, cart state). Past exchanges and uploaded documents are
// embedded into a local vector index and retrieved as context for later
// turns. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	quill serve                          Start the WebSocket server
//	quill ingest-doc <user> <id> <file>  Import a document for a user
//	quill version                        Print version information
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/inkwell-ai/quill/internal/buildinfo"
	"github.com/inkwell-ai/quill/internal/config"
	"github.com/inkwell-ai/quill/internal/docs"
	"github.com/inkwell-ai/quill/internal/embeddings"
	"github.com/inkwell-ai/quill/internal/history"
	"github.com/inkwell-ai/quill/internal/ingest"
	"github.com/inkwell-ai/quill/internal/llm"
	"github.com/inkwell-ai/quill/internal/retrieval"
	"github.com/inkwell-ai/quill/internal/session"
	"github.com/inkwell-ai/quill/internal/shop"
	"github.com/inkwell-ai/quill/internal/tools"
	"github.com/inkwell-ai/quill/internal/transport"
	"github.com/inkwell-ai/quill/internal/turn"
	"github.com/inkwell-ai/quill/internal/vector"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

// main constructs the OS-level environment and delegates to [run] so
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package's package-level globals get in the way of calling run()
// concurrently from tests, and the surface here is tiny.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ingest-doc":
		if len(cmdArgs) != 3 {
			return fmt.Errorf("usage: quill ingest-doc <user-id> <doc-id> <file>")
		}
		return runIngestDoc(ctx, stdout, configPath, cmdArgs[0], cmdArgs[1], cmdArgs[2])
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		for k, v := range buildinfo.Info() {
			fmt.Fprintf(stdout, "  %-12s %s\n", k+":", v)
		}
		return nil
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Quill - AI shopping assistant relay")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: quill [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                            Start the WebSocket server")
	fmt.Fprintln(w, "  ingest-doc <user> <id> <file>    Import a markdown or CSV document")
	fmt.Fprintln(w, "  version                          Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>   Path to config file (default: auto-discover)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./quill.yaml, ~/.config/quill/quill.yaml, /etc/quill/quill.yaml")
	return nil
}

// loadConfig resolves and loads the config, falling back to defaults
// when no file exists anywhere on the search path.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "(defaults)", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// runServe boots the full pipeline and serves WebSocket sessions until
// the context is cancelled or a termination signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		if level, err = config.ParseLogLevel(cfg.LogLevel); err != nil {
			return err
		}
	}
	logger := newLogger(stdout, level)
	slog.SetDefault(logger)

	logger.Info("starting quill",
		"version", buildinfo.String(),
		"config", cfgPath)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	index, err := vector.NewIndex(cfg.Vector.Path)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	defer index.Close()

	embedder := embeddings.New(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
	})
	model := llm.NewOllamaClient(cfg.Model.BaseURL, cfg.Model.Name)

	hist := history.NewStore(cfg.History.IdleWindow(), logger)
	registry := session.NewRegistry(logger)
	queue := ingest.NewQueue(index, embedder, ingest.Options{
		ChunkWords:   cfg.Ingest.ChunkWords,
		OverlapWords: cfg.Ingest.OverlapWords,
	}, logger)
	assembler := retrieval.NewAssembler(index, embedder, retrieval.Options{
		MinScore:    cfg.Retrieval.MinScore,
		GeneralTopK: cfg.Retrieval.GeneralTopK,
		ProfileTopK: cfg.Retrieval.ProfileTopK,
		DocTopK:     cfg.Retrieval.DocTopK,
		DocMinScore: cfg.Retrieval.DocMinScore,
	}, logger)

	carts := shop.NewCartService()
	toolReg := tools.NewRegistry(shop.NewDirectory(), carts, shop.NewPayments(carts), logger)

	engine := turn.NewEngine(hist, registry, queue, assembler, model, toolReg, turn.Options{
		StreamChunkWords: cfg.Stream.ChunkWords,
		StreamDelay:      time.Duration(cfg.Stream.DelayMs) * time.Millisecond,
	}, logger)

	go queue.Run(ctx)
	go hist.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws", transport.NewServer(registry, engine, logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "ok %s uptime=%s\n", buildinfo.String(), buildinfo.Uptime().Round(time.Second))
	})

	addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("websocket server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// runIngestDoc imports one document into a user's docs namespace.
func runIngestDoc(ctx context.Context, stdout io.Writer, configPath, userID, docID, path string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, slog.LevelInfo)

	index, err := vector.NewIndex(cfg.Vector.Path)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	defer index.Close()

	embedder := embeddings.New(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
	})

	n, err := docs.NewIngester(index, embedder, logger).IngestFile(ctx, userID, docID, path)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", path, err)
	}
	fmt.Fprintf(stdout, "ingested %d chunks from %s as document %q for user %q\n", n, path, docID, userID)
	return nil
}
