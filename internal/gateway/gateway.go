// ABOUTME: Gateway orchestrator that coordinates the HTTP API and gRPC health servers
// ABOUTME: Builds the store, providers and conversation service from config and manages their lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/2389/querynox/internal/auth"
	"github.com/2389/querynox/internal/catalog"
	"github.com/2389/querynox/internal/config"
	"github.com/2389/querynox/internal/conversation"
	"github.com/2389/querynox/internal/dedupe"
	"github.com/2389/querynox/internal/metrics"
	"github.com/2389/querynox/internal/provider/extract"
	"github.com/2389/querynox/internal/provider/openai"
	"github.com/2389/querynox/internal/provider/search"
	"github.com/2389/querynox/internal/store"
)

const (
	// DefaultUtilityModel names and summarizes conversations when
	// utility_model is not configured.
	DefaultUtilityModel = "gpt-3.5-turbo"

	idempotencyTTL     = 10 * time.Minute
	idempotencyMaxKeys = 100_000
	shutdownTimeout    = 5 * time.Second
)

// Deps are the collaborators a Gateway serves. New builds them from config;
// tests inject fakes through NewWithDeps.
type Deps struct {
	Store      store.Store
	Model      conversation.Model
	Namer      conversation.Namer
	Summarizer conversation.Summarizer
	Searcher   conversation.Searcher
	Extractor  conversation.Extractor
	Catalog    *catalog.Catalog
	Metrics    *metrics.Metrics
}

// Gateway serves the conversation API over HTTP (JSON, SSE, WebSocket) and
// a gRPC health service.
type Gateway struct {
	config       *config.Config
	store        store.Store
	conversation *conversation.Service
	catalog      *catalog.Catalog
	feed         *conversation.TurnFeed
	metrics      *metrics.Metrics
	dedupe       *dedupe.Cache
	verifier     auth.TokenVerifier
	grpcServer   *grpc.Server
	health       *health.Server
	httpServer   *http.Server
	logger       *slog.Logger
}

// initStore opens the configured database. QUERYNOX_DB_PATH overrides the path.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("QUERYNOX_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	driver := cfg.Database.Driver
	if driver == "" {
		driver = store.DriverModernc
	}

	s, err := store.Open(driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// buildProviders creates the model router, utility model and enrichment
// providers described by cfg.
func buildProviders(cfg *config.Config, cat *catalog.Catalog, logger *slog.Logger) (Deps, error) {
	backends := make(map[string]*openai.Backend, len(cfg.Providers))
	for name, p := range cfg.Providers {
		backends[name] = openai.NewBackend(name, p)
	}
	router := openai.NewRouter(cat, backends)

	utilityModel := cfg.UtilityModel
	if utilityModel == "" {
		utilityModel = DefaultUtilityModel
	}
	if !cat.SupportsChat(utilityModel) {
		return Deps{}, fmt.Errorf("utility_model %q is not a chat model in the catalog", utilityModel)
	}
	utility := openai.NewUtility(router, utilityModel)

	deps := Deps{
		Model:      router,
		Namer:      utility,
		Summarizer: utility,
		Extractor:  extract.New(cfg.Extraction, logger),
		Catalog:    cat,
	}

	if cfg.Search.APIKey != "" {
		deps.Searcher = search.New(cfg.Search, logger)
	} else {
		logger.Warn("web search disabled - no search.api_key configured")
	}

	for _, name := range cat.Providers() {
		if _, ok := backends[name]; !ok {
			logger.Warn("catalog references unconfigured provider", "provider", name)
		}
	}
	return deps, nil
}

// New creates a Gateway from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cat, err := catalog.FromConfig(cfg.Models)
	if err != nil {
		return nil, fmt.Errorf("building model catalog: %w", err)
	}

	deps, err := buildProviders(cfg, cat, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	deps.Store = s

	gw, err := NewWithDeps(cfg, deps, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithDeps creates a Gateway around already-built collaborators.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Catalog == nil {
		cat, err := catalog.New(catalog.Defaults())
		if err != nil {
			return nil, err
		}
		deps.Catalog = cat
	}

	feed := conversation.NewTurnFeed(logger)
	svc, err := conversation.New(conversation.Config{
		Store:             deps.Store,
		Model:             deps.Model,
		Namer:             deps.Namer,
		Summarizer:        deps.Summarizer,
		Searcher:          deps.Searcher,
		Extractor:         deps.Extractor,
		Catalog:           deps.Catalog,
		Feed:              feed,
		Metrics:           deps.Metrics,
		Logger:            logger,
		GenerationTimeout: cfg.Generation.Timeout,
		SaveTimeout:       cfg.Generation.SaveTimeout,
	})
	if err != nil {
		feed.Close()
		return nil, fmt.Errorf("creating conversation service: %w", err)
	}

	gw := &Gateway{
		config:       cfg,
		store:        deps.Store,
		conversation: svc,
		catalog:      deps.Catalog,
		feed:         feed,
		metrics:      deps.Metrics,
		dedupe:       dedupe.New(idempotencyTTL, idempotencyMaxKeys),
		logger:       logger.With("component", "gateway"),
	}

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			gw.closeComponents()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		gw.verifier = verifier
	}

	gw.grpcServer, gw.health = newHealthServer()

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Shutdown waits for handlers without cancelling their contexts, so
	// watch streams must be ended by closing the feed.
	gw.httpServer.RegisterOnShutdown(feed.Close)
	return gw, nil
}

// routes builds the HTTP handler tree.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	if g.metrics != nil {
		mux.Handle("GET "+g.metricsPath(), g.metrics.Handler())
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/chat", g.handleChat)
	api.HandleFunc("POST /api/chat/stream", g.handleChatStream)
	api.HandleFunc("GET /api/chat/ws", g.handleChatWS)
	api.HandleFunc("POST /api/chat/switch-model", g.handleSwitchModel)
	api.HandleFunc("GET /api/conversations", g.handleListConversations)
	api.HandleFunc("GET /api/conversations/{id}", g.handleGetConversation)
	api.HandleFunc("GET /api/conversations/{id}/watch", g.handleWatchConversation)
	api.HandleFunc("PUT /api/conversations/{id}/bookmark", g.handleSetBookmark)
	api.HandleFunc("GET /api/bookmarks", g.handleListBookmarks)
	api.HandleFunc("GET /api/models", g.handleListModels)

	// API endpoints - auth required if JWT secret is configured
	if g.verifier != nil {
		mux.Handle("/api/", auth.HTTPAuthMiddleware(g.verifier, g.logger)(api))
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		mux.Handle("/api/", api)
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured, trusting user_id")
	}

	return mux
}

func (g *Gateway) metricsPath() string {
	if g.config.Metrics.Path != "" {
		return g.config.Metrics.Path
	}
	return config.DefaultMetricsPath
}

// Handler returns the HTTP handler, for embedding and tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupListeners creates TCP listeners. The gRPC listener is nil when
// server.grpc_addr is empty.
func (g *Gateway) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	if g.config.Server.GRPCAddr != "" {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// startServers starts the servers in goroutines, returning their error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the servers and blocks until ctx is canceled or a server fails.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners()
	if err != nil {
		return err
	}

	g.setServing(true)
	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the Run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

func (g *Gateway) closeComponents() {
	if g.dedupe != nil {
		g.dedupe.Close()
	}
	if g.feed != nil {
		g.feed.Close()
	}
}

// Shutdown stops the servers, closes watchers and releases the store.
// In-flight streams finish persisting before the HTTP server returns.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.setServing(false)

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)
	g.closeComponents()

	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the database answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d models)", len(g.catalog.List()))
}
