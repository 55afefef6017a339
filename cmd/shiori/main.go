// Package main is the Shiori CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/shiori/internal/chunker"
	"github.com/hyperjump/shiori/internal/citation"
	"github.com/hyperjump/shiori/internal/cli"
	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/keyword"
	"github.com/hyperjump/shiori/internal/layout"
	"github.com/hyperjump/shiori/internal/metrics"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/ranking"
	"github.com/hyperjump/shiori/internal/search"
	"github.com/hyperjump/shiori/internal/server"
	"github.com/hyperjump/shiori/internal/storage"
	"github.com/hyperjump/shiori/internal/telemetry"
	"github.com/hyperjump/shiori/internal/vector"
	"github.com/hyperjump/shiori/internal/watcher"
	"github.com/hyperjump/shiori/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/shiori/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// A missing default config yields the built-in defaults.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "query":
		runQuery()
	case "evidence":
		runEvidence()
	case "delete":
		runDelete()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("shiori version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// setup loads config, builds the logger and every component. The caller closes
// the returned components and syncs the logger.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		fatalf("Failed to initialize: %v", err)
	}
	return cfg, logger, components
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Ingest.InboxDir != "" {
		inbox := watcher.NewInbox(cfg.Ingest.InboxDir, components.Indexer,
			watcher.WithLogger(logger), watcher.WithFamily(cfg.Ingest.DefaultFamily))
		if err := inbox.Start(ctx); err != nil {
			logger.Fatal("Failed to start inbox watcher", zap.Error(err))
		}
		defer inbox.Stop()
	}

	srv := server.NewServer(
		components.Engine,
		components.Indexer,
		components.Store,
		components.Blobs,
		cfg,
		logger,
		components.Metrics,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	id := fs.String("id", "", "document id (single file only; default derives from content)")
	title := fs.String("title", "", "document title (default: PDF title, then file name)")
	family := fs.String("family", "", "document family used to filter queries")
	workers := fs.Int("workers", 0, "concurrent ingestions (default from config)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: shiori ingest [flags] <file-or-directory>...")
		os.Exit(1)
	}
	cfg, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	opts := indexer.FileOptions{ID: *id, Title: *title, Family: *family}
	if opts.Family == "" {
		opts.Family = cfg.Ingest.DefaultFamily
	}
	if *id != "" {
		if fs.NArg() != 1 {
			fatalf("--id needs exactly one file")
		}
		res, err := components.Indexer.IngestFile(ctx, fs.Arg(0), opts)
		if failed := reportOutcomes(os.Stdout, []indexer.FileOutcome{{Path: fs.Arg(0), Result: res, Err: err}}); failed > 0 {
			os.Exit(1)
		}
		return
	}
	outcomes, err := components.Indexer.IngestPaths(ctx, fs.Args(), *workers, opts)
	if err != nil {
		fatalf("Ingest failed: %v", err)
	}
	if failed := reportOutcomes(os.Stdout, outcomes); failed > 0 {
		os.Exit(1)
	}
}

// reportOutcomes prints one line per file and returns how many failed.
// Duplicates are reported but are not failures.
func reportOutcomes(w io.Writer, outcomes []indexer.FileOutcome) int {
	var ingested, duplicates, failed int
	for _, o := range outcomes {
		switch {
		case o.Err == nil:
			ingested++
			fmt.Fprintf(w, "ingested  %s -> %s (%d pages, %d chunks)\n", o.Path, o.Result.DocID, o.Result.Pages, o.Result.Chunks)
		case storage.IsDuplicate(o.Err):
			duplicates++
			fmt.Fprintf(w, "skipped   %s (already ingested)\n", o.Path)
		default:
			failed++
			fmt.Fprintf(w, "failed    %s: %v\n", o.Path, o.Err)
		}
	}
	fmt.Fprintf(w, "%d ingested, %d duplicate, %d failed\n", ingested, duplicates, failed)
	return failed
}

// buildQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the
// positional arguments to the front so that flag.Parse sees them. Go's flag
// package stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = open the store directly)")
	docID := fs.String("doc", "", "restrict to one document")
	family := fs.String("family", "", "restrict to one document family")
	topK := fs.Int("top-k", 0, "number of chunks to retrieve (default from config)")
	minScore := fs.Float64("min-score", -1, "similarity threshold (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: shiori query [flags] <question>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))

	q := buildQuery(fs.Args())
	if q == "" {
		fs.Usage()
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fatalf("%v", err)
	}
	req := &models.QueryRequest{Query: q, DocID: *docID, Family: *family, TopK: *topK}
	if *minScore >= 0 {
		req.MinScore = minScore
	}

	var resp *models.QueryResponse
	if *serverURL != "" {
		resp, err = queryViaHTTP(*serverURL, req)
	} else {
		_, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		resp, err = components.Engine.Query(context.Background(), req)
	}
	if err != nil {
		fatalf("Query failed: %v", err)
	}
	if err := cli.WriteAnswer(os.Stdout, resp, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func queryViaHTTP(serverURL string, req *models.QueryRequest) (*models.QueryResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(strings.TrimRight(serverURL, "/")+"/api/v1/query", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var out models.QueryResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func decodeResponse(resp *http.Response, v interface{}) error {
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// parseEvidenceArgs reads <doc> <page> <x0,y0,x1,y1>.
func parseEvidenceArgs(args []string) (string, int, models.BBox, error) {
	if len(args) != 3 {
		return "", 0, models.BBox{}, fmt.Errorf("want <doc> <page> <x0,y0,x1,y1>, got %d arguments", len(args))
	}
	page, err := strconv.Atoi(args[1])
	if err != nil || page < 1 {
		return "", 0, models.BBox{}, fmt.Errorf("page must be a positive integer, got %q", args[1])
	}
	bbox, err := models.ParseBBox(args[2])
	if err != nil {
		return "", 0, models.BBox{}, err
	}
	return args[0], page, bbox, nil
}

func runEvidence() {
	fs := flag.NewFlagSet("evidence", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = open the store directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	docID, page, bbox, err := parseEvidenceArgs(fs.Args())
	if err != nil {
		fatalf("Usage: shiori evidence [flags] <doc> <page> <x0,y0,x1,y1>: %v", err)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fatalf("%v", err)
	}

	var ev *models.Evidence
	if *serverURL != "" {
		ev, err = evidenceViaHTTP(*serverURL, docID, page, bbox)
	} else {
		_, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		ev, err = components.Engine.ResolveEvidence(context.Background(), docID, page, bbox)
	}
	if err != nil {
		fatalf("Evidence lookup failed: %v", err)
	}
	if err := cli.WriteEvidence(os.Stdout, ev, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func evidenceViaHTTP(serverURL, docID string, page int, bbox models.BBox) (*models.Evidence, error) {
	q := url.Values{}
	q.Set("doc", docID)
	q.Set("page", strconv.Itoa(page))
	q.Set("bbox", bbox.String())
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/evidence?" + q.Encode())
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var ev models.Evidence
	if err := decodeResponse(resp, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: shiori delete [flags] <document-id>")
		os.Exit(1)
	}
	docID := fs.Arg(0)

	_, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	if err := components.Indexer.DeleteDocument(context.Background(), docID); err != nil {
		fatalf("Deletion failed: %v", err)
	}
	fmt.Printf("Document deleted: %s\n", docID)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = open the store directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fatalf("%v", err)
	}
	var status *server.Status
	if *serverURL != "" {
		status, err = statusViaHTTP(*serverURL)
	} else {
		cfg, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		status, err = server.BuildStatus(context.Background(), components.Store, cfg)
	}
	if err != nil {
		fatalf("Status failed: %v", err)
	}
	if format == cli.OutputJSON {
		if err := cli.WriteJSON(os.Stdout, status); err != nil {
			fatalf("Output failed: %v", err)
		}
		return
	}
	writeStatusText(os.Stdout, status)
}

func writeStatusText(w io.Writer, status *server.Status) {
	fmt.Fprintf(w, "documents:          %d   # count of ingested documents\n", status.Documents)
	fmt.Fprintf(w, "pages:              %d\n", status.Pages)
	fmt.Fprintf(w, "chunks:             %d   # count of layout chunks\n", status.Chunks)
	fmt.Fprintf(w, "vector_index_size:  %d   # count of vectors in the similarity index\n", status.VectorIndexSize)
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # database, keyword index and stored PDFs\n", *status.DiskUsageBytes)
	}
	if c := status.Config; c != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		fmt.Fprintf(w, "storage_backend:    %s\n", c.StorageBackend)
		fmt.Fprintf(w, "embedding:          %s (%d dims)\n", c.EmbeddingProvider, c.EmbeddingDimensions)
		fmt.Fprintf(w, "similarity:         %s\n", c.Similarity)
		fmt.Fprintf(w, "min_score:          %g\n", c.MinScore)
		fmt.Fprintf(w, "keyword_weight:     %g\n", c.KeywordWeight)
		fmt.Fprintf(w, "parser:             %s\n", c.Parser)
		if c.DatabasePath != "" {
			fmt.Fprintf(w, "database_path:      %s\n", c.DatabasePath)
		}
		if c.DocumentsDir != "" {
			fmt.Fprintf(w, "documents_dir:      %s\n", c.DocumentsDir)
		}
		if c.BleveIndexPath != "" {
			fmt.Fprintf(w, "bleve_index_path:   %s\n", c.BleveIndexPath)
		}
	}
}

func statusViaHTTP(serverURL string) (*server.Status, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var s server.Status
	if err := decodeResponse(resp, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Components holds initialized services.
type Components struct {
	Store    storage.GraphStore
	Blobs    *storage.BlobStore
	Embedder embedding.Embedder
	Keywords *keyword.BleveIndex
	Metrics  *metrics.Metrics
	Engine   *search.Engine
	Indexer  *indexer.Indexer
	Tracing  *telemetry.Telemetry
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Keywords != nil {
		_ = c.Keywords.Close()
	}
	if c.Tracing != nil {
		_ = c.Tracing.Shutdown(context.Background())
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{Metrics: metrics.New()}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	metric, err := vector.ParseMetric(cfg.Retrieval.Similarity)
	if err != nil {
		return nil, err
	}
	c.Tracing = telemetry.New(context.Background(), cfg.Telemetry,
		telemetry.WithLogger(logger),
		telemetry.WithServiceVersion(version))
	tp := c.Tracing.TracerProvider()
	c.Embedder, err = embedding.New(cfg.Embedding, embedding.WithLogger(logger), embedding.WithMetrics(c.Metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Store, err = storage.Open(cfg.Storage, c.Embedder.Dimensions(), metric,
		storage.WithLogger(logger),
		storage.WithTracerProvider(tp))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Blobs, err = storage.NewBlobStore(cfg.Storage.DocumentsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize document store: %w", err)
	}
	if cfg.Storage.BleveIndexPath != "" {
		c.Keywords, err = keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
		}
	}
	parser, err := layout.New(cfg.Ingest, layout.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	idxOpts := []indexer.IndexerOption{indexer.WithLogger(logger), indexer.WithMetrics(c.Metrics)}
	rankOpts := []ranking.Option{ranking.WithLogger(logger), ranking.WithMetrics(c.Metrics), ranking.WithTracerProvider(tp)}
	if c.Keywords != nil {
		idxOpts = append(idxOpts, indexer.WithKeywordIndex(c.Keywords))
		if cfg.Retrieval.KeywordWeight > 0 {
			rankOpts = append(rankOpts, ranking.WithKeywordIndex(c.Keywords))
		}
	}
	builder := chunker.NewBuilder(chunker.WithMaxTokens(cfg.Chunking.MaxTokens))
	c.Indexer = indexer.NewIndexer(c.Store, c.Blobs, parser, builder, c.Embedder, cfg.Ingest, idxOpts...)

	ranker := ranking.NewRanker(c.Store, c.Embedder, cfg.Retrieval, rankOpts...)
	linker := citation.NewLinker(cfg.Citation, cfg.Server.ViewerBase)
	c.Engine = search.NewEngine(c.Store, ranker, linker, cfg.Retrieval,
		search.WithLogger(logger),
		search.WithMetrics(c.Metrics),
		search.WithViewerBase(cfg.Server.ViewerBase))
	return c, nil
}

func printUsage() {
	fmt.Println(`shiori - Layout-aware PDF question answering with evidence pins

Usage:
  shiori server [flags]                          Start the HTTP server
  shiori ingest [flags] <file-or-dir>...         Ingest PDFs
  shiori query [flags] <question>                Ask a question
  shiori evidence [flags] <doc> <page> <bbox>    Resolve an evidence region
  shiori delete [flags] <id>                     Delete a document
  shiori status [flags]                          Show store and index status
  shiori version                                 Show version
  shiori help                                    Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/shiori/config.yaml)
  --debug            Enable debug logging

Ingest Flags:
  --config string    Config file path
  --id string        Document id (single file only; default: content hash)
  --title string     Document title (default: PDF title, then file name)
  --family string    Document family (default from config)
  --workers int      Concurrent ingestions (default from config)

Query Flags:
  --config string     Config file path (direct mode)
  --server string     Server URL; empty opens the store directly
  --doc string        Restrict to one document
  --family string     Restrict to one document family
  --top-k int         Chunks to retrieve (default from config)
  --min-score float   Similarity threshold (default from config)
  --output string     Output format: text or json (default: text)

Evidence and Status Flags:
  --config string    Config file path (direct mode)
  --server string    Server URL; empty opens the store directly
  --output string    Output format: text or json (default: text)

Examples:
  shiori server
  shiori ingest ./reports
  shiori ingest --id q3-report --family finance q3.pdf
  shiori query "what drove revenue growth?"
  shiori query --server http://localhost:8080 --output json "revenue growth"
  shiori evidence doc:3f2a 2 72,690,260,702
  shiori delete q3-report
  shiori status --output json`)
}
