package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/steward-ai/steward/internal/adapter/auditfile"
	shttp "github.com/steward-ai/steward/internal/adapter/http"
	"github.com/steward-ai/steward/internal/adapter/mcp"
	snats "github.com/steward-ai/steward/internal/adapter/nats"
	"github.com/steward-ai/steward/internal/adapter/openai"
	stotel "github.com/steward-ai/steward/internal/adapter/otel"
	"github.com/steward-ai/steward/internal/adapter/postgres"
	"github.com/steward-ai/steward/internal/adapter/ristretto"
	_ "github.com/steward-ai/steward/internal/adapter/slack" // registers the slack notifier
	"github.com/steward-ai/steward/internal/adapter/ws"
	"github.com/steward-ai/steward/internal/config"
	"github.com/steward-ai/steward/internal/domain/capability"
	"github.com/steward-ai/steward/internal/logger"
	"github.com/steward-ai/steward/internal/middleware"
	"github.com/steward-ai/steward/internal/port/notifier"
	"github.com/steward-ai/steward/internal/port/toolprovider"
	"github.com/steward-ai/steward/internal/resilience"
	"github.com/steward-ai/steward/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"policy_rules", cfg.Policy.RulesFile,
		"mcp_servers", len(cfg.MCPServers),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---
	shutdownTracer, err := stotel.InitTracer(ctx, cfg.Logging.Service, cfg.Otel.Endpoint, cfg.Otel.Enabled)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
	}()

	// --- Infrastructure ---
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	store := postgres.NewStore(pool)
	log.Info("postgres connected")

	sink, err := auditfile.New(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("audit sink: %w", err)
	}
	defer func() { _ = sink.Close() }()

	cache, err := ristretto.New(cfg.Cache.MaxSizeBytes, cfg.Cache.TTL)
	if err != nil {
		return fmt.Errorf("decision cache: %w", err)
	}
	defer cache.Close()

	conn, err := snats.Connect(ctx, cfg.NATS.URL, log)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = conn.Close() }()
	snats.UseForNotifier(conn)
	notif, err := notifier.New(cfg.Notifier.Provider, cfg.Notifier.Options)
	if err != nil {
		return fmt.Errorf("notifier %q: %w", cfg.Notifier.Provider, err)
	}

	// --- Capabilities ---
	registry := capability.NewRegistry()
	providers := connectProviders(ctx, log, cfg.MCPServers)
	defer func() {
		for _, p := range providers {
			_ = p.Close()
		}
	}()

	// --- Services ---
	hub := ws.NewHub(log)
	trail := service.NewAuditTrail(ctx, log, sink)
	policySvc := service.NewPolicyService(log, cfg.Policy.RulesFile, cache)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	client := openai.New(cfg.OpenAI, breaker, log)

	hitl := service.NewHITLBroker(log, cfg.HITL.ApprovalTimeout)
	loop := service.NewToolLoop(log, policySvc, trail, hub, cfg.Session.MaxToolRounds)
	planner := service.NewPlanner(log, cfg.Session.MaxTasks, cfg.Session.MaxReplans)
	worker := service.NewWorker(log, loop, cfg.Session.MaxToolsPerTask)
	sessions := service.NewSessionRegistry()
	orch := service.NewOrchestrator(log, cfg.Session, cfg.Loop, planner, worker, loop, hitl, sessions, store, hub)
	intake := service.NewIntake(ctx, log, orch, hitl, client, registry, notif, providers)

	stopInbox, err := conn.SubscribeInbox(ctx, intake.Handle)
	if err != nil {
		return fmt.Errorf("inbox subscriber: %w", err)
	}
	defer stopInbox()

	// --- HTTP ---
	handlers := shttp.NewHandlers(log, intake, orch, hitl, policySvc, trail, sessions, store, breaker, hub, pool.Ping)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(shttp.SecurityHeaders)
	r.Use(shttp.CORS(cfg.Server.CORSOrigin))
	r.Use(shttp.Logger(log))
	r.Use(stotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(middleware.APIKeyAuth(cfg.Auth.APIKeyHash, cfg.Auth.Enabled))
	shttp.MountRoutes(r, handlers)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

// connectProviders dials the configured MCP servers. A server that fails
// to connect is skipped with a warning; the rest still serve.
func connectProviders(ctx context.Context, log *slog.Logger, defs []config.MCPServer) []toolprovider.Provider {
	var providers []toolprovider.Provider
	for _, def := range defs {
		p, err := mcp.Connect(ctx, def, log)
		if err != nil {
			log.Warn("mcp server unavailable", "name", def.Name, "error", err)
			continue
		}
		log.Info("mcp server connected", "name", def.Name)
		providers = append(providers, p)
	}
	return providers
}
