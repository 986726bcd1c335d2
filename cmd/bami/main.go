// Package main is the BAMI CLI entry point.
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
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/bami/internal/assistant"
	"github.com/hyperjump/bami/internal/blobstore"
	"github.com/hyperjump/bami/internal/cases"
	"github.com/hyperjump/bami/internal/chat"
	"github.com/hyperjump/bami/internal/cli"
	"github.com/hyperjump/bami/internal/config"
	"github.com/hyperjump/bami/internal/events"
	"github.com/hyperjump/bami/internal/extract"
	"github.com/hyperjump/bami/internal/intake"
	"github.com/hyperjump/bami/internal/keyword"
	"github.com/hyperjump/bami/internal/models"
	"github.com/hyperjump/bami/internal/pipeline"
	"github.com/hyperjump/bami/internal/server"
	"github.com/hyperjump/bami/internal/storage"
	"github.com/hyperjump/bami/pkg/llm"
	"github.com/hyperjump/bami/pkg/llm/openai"
	"github.com/hyperjump/bami/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/bami/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if it exists. A missing file yields defaults plus environment.
// Returns the config and the path that was resolved.
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
	}
	cfg, err := config.LoadOrDefault(path)
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
	case "tracker":
		runTracker()
	case "ingest":
		runIngest()
	case "version", "--version", "-v":
		fmt.Printf("bami version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (pipeline steps, drop folder, streams)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("blobs", cfg.Blobs.Driver),
		zap.Bool("ai_configured", cfg.AI.APIKey != ""),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if cfg.Intake.DropDir != "" {
		drop := intake.NewDropWatcher(cfg.Intake.DropDir, components.Intake,
			intake.WithDropLogger(logger),
			intake.WithDebounce(cfg.Intake.DropDebounce),
			intake.WithDropLimits(intake.Limits{MaxFileBytes: cfg.Intake.MaxFileBytes}),
		)
		if err := drop.Start(ctx); err != nil {
			logger.Fatal("Failed to start drop folder watcher", zap.String("dir", cfg.Intake.DropDir), zap.Error(err))
		}
		components.Drop = drop
	}

	srv := server.NewServer(components.Services(), cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	cancel()
}

// reorderArgs moves flags that appear after positional arguments to the front so that
// flag.Parse sees them ("bami tracker C-1 -output json").
func reorderArgs(args []string) []string {
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

// apiClient talks to a running BAMI server.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newAPIClient(baseURL, apiKey string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type caseEnvelope struct {
	Case *models.PublicCase `json:"case"`
}

func (c *apiClient) tracker(id string) (*models.PublicCase, error) {
	var out caseEnvelope
	if err := c.do(http.MethodGet, "/api/tracker/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	if out.Case == nil {
		return nil, errors.New("empty response")
	}
	return out.Case, nil
}

func (c *apiClient) ingest(in cases.CreateInput) (*models.PublicCase, error) {
	var out caseEnvelope
	if err := c.do(http.MethodPost, "/api/ingest/leads", in, &out); err != nil {
		return nil, err
	}
	if out.Case == nil {
		return nil, errors.New("empty response")
	}
	return out.Case, nil
}

func runTracker() {
	fs := flag.NewFlagSet("tracker", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	apiKey := fs.String("api-key", os.Getenv("BAMI_API_KEY"), "API key (default: $BAMI_API_KEY)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(reorderArgs(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: bami tracker [flags] <case-id>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	c, err := newAPIClient(*serverURL, *apiKey).tracker(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Tracker failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteCase(os.Stdout, c, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	apiKey := fs.String("api-key", os.Getenv("BAMI_API_KEY"), "API key (default: $BAMI_API_KEY)")
	product := fs.String("product", cases.DefaultProduct, "product name")
	channel := fs.String("channel", "", "intake channel (default: web)")
	owner := fs.String("owner", "", "assigned advisor")
	name := fs.String("name", "", "applicant name")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	in := cases.CreateInput{Product: *product, Channel: *channel, Owner: *owner}
	if *name != "" {
		in.Applicant = map[string]interface{}{"name": *name}
	}
	c, err := newAPIClient(*serverURL, *apiKey).ingest(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteCase(os.Stdout, c, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Repo      storage.Repository
	Blobs     blobstore.Store
	Index     *keyword.CaseIndex
	Hub       *events.Hub
	Store     *cases.Store
	Runner    *pipeline.Runner
	Validator *pipeline.Validator
	Intake    *intake.Intake
	Chat      *chat.Service
	Drop      *intake.DropWatcher
}

// Services returns the parts the HTTP API needs.
func (c *Components) Services() server.Services {
	return server.Services{
		Cases:     c.Store,
		Intake:    c.Intake,
		Validator: c.Validator,
		Chat:      c.Chat,
		Hub:       c.Hub,
		Index:     c.Index,
		Runner:    c.Runner,
	}
}

// Close stops background work first, then releases storage.
func (c *Components) Close() {
	if c.Drop != nil {
		c.Drop.Stop()
	}
	if c.Runner != nil {
		c.Runner.Stop()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Repo != nil {
		_ = c.Repo.Close()
	}
}

func openRepository(cfg *config.StorageConfig) (storage.Repository, error) {
	switch cfg.Driver {
	case "", config.DriverMemory:
		return storage.NewMemoryStorage(), nil
	case config.DriverSQLite:
		return storage.NewSQLiteStorage(cfg.DatabasePath)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// newCollaborator returns the model-backed assistant, or the deterministic mock when
// no API key is configured.
func newCollaborator(cfg *config.Config, logger *zap.Logger) assistant.Collaborator {
	if cfg.AI.APIKey == "" {
		logger.Warn("no AI API key configured; using the offline assistant")
		return assistant.NewMock()
	}
	provider := openai.New(&llm.Config{
		BaseURL: cfg.AI.BaseURL,
		APIKey:  cfg.AI.APIKey,
		Model:   cfg.AI.Model,
	})
	return assistant.New(provider,
		assistant.WithLogger(logger),
		assistant.WithTimeouts(assistant.Timeouts{
			Analyze:  cfg.AI.AnalyzeTimeout,
			Validate: cfg.AI.ValidateTimeout,
			Chat:     cfg.AI.ChatTimeout,
		}),
		assistant.WithExtractor(extract.NewExtractor(cfg.AI.MaxDocumentChars)),
		assistant.WithScopeClassifier(cfg.AI.ScopeClassifierOrDefault()),
	)
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	repo, err := openRepository(&cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Repo = repo

	blobs, err := blobstore.New(ctx, &cfg.Blobs)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}
	c.Blobs = blobs

	index, err := keyword.NewCaseIndex(cfg.Storage.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize case index: %w", err)
	}
	c.Index = index
	existing, err := repo.ListCases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	if err := index.IndexAll(existing); err != nil {
		return nil, fmt.Errorf("failed to index cases: %w", err)
	}
	logger.Info("case index ready", zap.Int("cases", len(existing)), zap.String("path", cfg.Storage.IndexPath))

	c.Store = cases.NewStore(repo,
		cases.WithLogger(logger),
		cases.WithOnChange(func(cs *models.Case) {
			if err := index.Index(cs); err != nil {
				logger.Warn("case index update failed", zap.String("case_id", cs.ID), zap.Error(err))
			}
		}),
	)
	c.Hub = events.NewHub(events.WithLogger(logger), events.WithKeepAlive(cfg.Events.KeepAliveInterval))

	ai := newCollaborator(cfg, logger)
	c.Runner = pipeline.NewRunner(c.Store, ai, c.Hub,
		pipeline.WithLogger(logger),
		pipeline.WithMaxConcurrent(cfg.Pipeline.MaxConcurrent),
		pipeline.WithSerializePerCase(cfg.Pipeline.SerializePerCaseOrDefault()),
	)
	c.Runner.OnResult(func(res pipeline.Result) {
		if res.Status == pipeline.StatusFailed {
			logger.Warn("reading pipeline failed",
				zap.String("case_id", res.CaseID),
				zap.String("step", res.Step),
				zap.Duration("took", res.Duration),
				zap.Error(res.Err))
		}
	})
	c.Validator = pipeline.NewValidator(c.Store, ai, logger)
	c.Intake = intake.New(c.Store, c.Hub, c.Runner,
		intake.WithLogger(logger),
		intake.WithBlobStore(blobs),
		intake.WithLimits(intake.Limits{MaxFileBytes: cfg.Intake.MaxFileBytes, MaxFiles: cfg.Intake.MaxFiles}),
	)
	c.Chat = chat.NewService(c.Store, ai, c.Hub, logger)

	ok = true
	return c, nil
}

func printUsage() {
	fmt.Println(`bami - Banking case tracker with AI document review

Usage:
  bami server [flags]             Start the HTTP server
  bami tracker [flags] <case-id>  Show a case's progress
  bami ingest [flags]             Open a new case
  bami version                    Show version
  bami help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/bami/config.yaml)
  --debug            Enable debug logging

Tracker Flags:
  --server string    Server URL (default: http://localhost:8080)
  --api-key string   API key (default: $BAMI_API_KEY)
  --output string    Output format: text or json (default: text)

Ingest Flags:
  --server string    Server URL (default: http://localhost:8080)
  --api-key string   API key (default: $BAMI_API_KEY)
  --product string   Product (default: Tarjeta de Crédito)
  --channel string   Intake channel (default: web)
  --owner string     Assigned advisor
  --name string      Applicant name
  --output string    Output format: text or json (default: text)

Environment:
  OPENAI_API_KEY, OPENAI_MODEL, OPENAI_BASE_URL, BAMI_API_KEY,
  BAMI_ADMIN_SECRET, MINIO_ACCESS_KEY, MINIO_SECRET_KEY, PORT

Examples:
  bami server --debug
  bami ingest --product Hipoteca --name "Ana Pérez"
  bami tracker C-1A2B3C4D
  bami tracker C-1A2B3C4D --output json`)
}
