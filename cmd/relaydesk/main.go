// Command relaydesk is the main entry point for the Relaydesk conversation
// server.
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
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/relaydesk/relaydesk/internal/api"
	"github.com/relaydesk/relaydesk/internal/assist"
	"github.com/relaydesk/relaydesk/internal/booking"
	"github.com/relaydesk/relaydesk/internal/clients/calendar"
	"github.com/relaydesk/relaydesk/internal/clients/sms"
	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/health"
	"github.com/relaydesk/relaydesk/internal/observe"
	"github.com/relaydesk/relaydesk/internal/resilience"
	"github.com/relaydesk/relaydesk/internal/store/postgres"
	"github.com/relaydesk/relaydesk/internal/tenant"
	"github.com/relaydesk/relaydesk/internal/turn"
	"github.com/relaydesk/relaydesk/pkg/provider/embeddings"
	ollamaembed "github.com/relaydesk/relaydesk/pkg/provider/embeddings/ollama"
	oaembed "github.com/relaydesk/relaydesk/pkg/provider/embeddings/openai"
	"github.com/relaydesk/relaydesk/pkg/provider/llm"
	"github.com/relaydesk/relaydesk/pkg/provider/llm/anyllm"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "relaydesk: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "relaydesk: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("relaydesk starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Must come before anything that grabs the global meter provider.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "relaydesk",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	llmProvider, embedder, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	store, err := postgres.NewStore(ctx, cfg.Storage.PostgresDSN, embedder)
	if err != nil {
		slog.Error("failed to connect to postgres", "err", err)
		return 1
	}
	defer store.Close()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, tenant config served from postgres", "err", err)
		}
	} else {
		slog.Info("redis not configured, tenant config served from postgres")
	}

	companies := tenant.NewCache(rdb, store,
		tenant.WithTTL(cfg.Redis.CacheTTL()),
		tenant.WithChannel(cfg.Redis.Channel()),
	)
	go companies.Subscribe(ctx)

	// ── Booking side effects ──────────────────────────────────────────────────
	var cal calendar.Client
	if url := cfg.Clients.CalendarWebhookURL; url != "" {
		cal = calendar.NewWebhookClient(url, calendar.WithAuthToken(cfg.Clients.CalendarAuthToken))
		slog.Info("calendar webhook configured")
	}
	var sender sms.Sender
	if url := cfg.Clients.SMSWebhookURL; url != "" {
		sender = sms.NewWebhookSender(url, sms.WithAuthToken(cfg.Clients.SMSAuthToken))
		slog.Info("sms gateway configured")
	}
	finalizer := booking.NewFinalizer(store.Bookings(), cal, sender, logger)

	// ── Orchestrator ──────────────────────────────────────────────────────────
	if name := cfg.Providers.LLMFallback.Name; name != "" {
		secondary, err := reg.CreateLLM(cfg.Providers.LLMFallback)
		if err != nil {
			slog.Error("failed to build fallback llm provider", "name", name, "err", err)
			return 1
		}
		chain := resilience.NewLLMFallback(llmProvider, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		chain.AddFallback(name, secondary)
		llmProvider = chain
		slog.Info("llm failover enabled", "primary", cfg.Providers.LLM.Name, "fallback", name)
	}
	assistant := assist.New(llmProvider, logger)

	proc := turn.NewProcessor(
		companies,
		store.Sessions(),
		store.Scenarios(),
		assistant,
		finalizer,
		store.Audit(),
		logger,
		turn.WithCustomers(&customerLookup{store: store.Customers()}),
		turn.WithScenarioThreshold(cfg.Intelligence.Threshold()),
		turn.WithTopK(cfg.Intelligence.CandidateCount()),
		turn.WithBannedPhrases(cfg.Intelligence.BannedPhrases),
	)

	// ── HTTP surface ──────────────────────────────────────────────────────────
	checkers := []health.Checker{
		{Name: "database", Check: store.Ping},
	}
	if rdb != nil {
		checkers = append(checkers, health.Checker{
			Name:     "redis",
			Optional: true,
			Check:    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	checks := health.New(checkers...)
	server := api.NewServer(proc, logger,
		api.WithHealth(checks),
		api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", server.Handler())

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
		d := config.Diff(old, updated)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.IntelligenceChanged {
			slog.Warn("intelligence settings changed on disk, restart to apply")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg, listenAddr)

	// ── Serve ─────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() {
		if tls := cfg.Server.TLS; tls != nil {
			errCh <- httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			errCh <- httpServer.ListenAndServe()
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})
}

// buildProviders instantiates the LLM and embeddings providers named in cfg.
// Both are required: the smart fallback tier needs an LLM and scenario
// retrieval needs utterance vectors.
func buildProviders(cfg *config.Config, reg *config.Registry) (llm.Provider, embeddings.Provider, error) {
	if cfg.Providers.LLM.Name == "" {
		return nil, nil, errors.New("providers.llm is not configured")
	}
	llmProvider, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	if cfg.Providers.Embeddings.Name == "" {
		return nil, nil, errors.New("providers.embeddings is not configured")
	}
	embedder, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Providers.Embeddings.Name)

	return llmProvider, embedder, nil
}

// ── Customer lookup adapter ───────────────────────────────────────────────────

// customerLookup adapts the postgres customer store to the orchestrator's
// returning-caller interface.
type customerLookup struct {
	store *postgres.CustomerStore
}

func (c *customerLookup) Lookup(ctx context.Context, companyID, phone string) (string, string, error) {
	cust, err := c.store.FindByPhone(ctx, companyID, phone)
	if err != nil {
		return "", "", err
	}
	return cust.Name, cust.LastTech, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, listenAddr string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Relaydesk — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("LLM", providerLabel(cfg.Providers.LLM))
	printEntry("Embeddings", providerLabel(cfg.Providers.Embeddings))
	printEntry("Postgres", enabledLabel(cfg.Storage.PostgresDSN != ""))
	printEntry("Redis cache", enabledLabel(cfg.Redis.Addr != ""))
	printEntry("Calendar", enabledLabel(cfg.Clients.CalendarWebhookURL != ""))
	printEntry("SMS gateway", enabledLabel(cfg.Clients.SMSWebhookURL != ""))
	printEntry("Listen addr", listenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(entry config.ProviderEntry) string {
	if entry.Name == "" {
		return "(not configured)"
	}
	if entry.Model != "" {
		return entry.Name + " / " + entry.Model
	}
	return entry.Name
}

func enabledLabel(on bool) string {
	if on {
		return "enabled"
	}
	return "(disabled)"
}

func printEntry(kind, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-12s  : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger returns the process logger plus the level var the config
// watcher adjusts on hot reload.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
