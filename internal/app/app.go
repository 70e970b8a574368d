// Package app wires the gateway's subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the
// memory store, dispatcher, hub, and HTTP surface; Run serves HTTP until
// the context is cancelled; Shutdown tears everything down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FutureUnreal/WhaleWhisper/internal/config"
	"github.com/FutureUnreal/WhaleWhisper/internal/dispatcher"
	"github.com/FutureUnreal/WhaleWhisper/internal/health"
	"github.com/FutureUnreal/WhaleWhisper/internal/hub"
	"github.com/FutureUnreal/WhaleWhisper/internal/httpapi"
	"github.com/FutureUnreal/WhaleWhisper/internal/memory"
	"github.com/FutureUnreal/WhaleWhisper/internal/observe"
	"github.com/FutureUnreal/WhaleWhisper/pkg/provider/llm"
)

// App owns the gateway's subsystem lifetimes: a memory store, the event
// dispatcher, the duplex socket hub, and the HTTP server that exposes both
// the hub and the REST/SSE memory and agent-engine surfaces.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *memory.Store
	Memory     *memory.Service
	Dispatcher *dispatcher.Dispatcher
	Hub        *hub.Hub
	server     *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New, used in tests to inject a
// pre-built memory service instead of opening a real database.
type Option func(*App)

// WithMemoryService injects a memory service instead of opening one from
// config. The injected service's store, if any, is not closed by
// Shutdown — the caller retains ownership.
func WithMemoryService(svc *memory.Service) Option {
	return func(a *App) { a.Memory = svc }
}

// WithLogger sets the logger used for lifecycle and request events.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// New wires an App from cfg: opens the memory store (unless injected),
// builds the dispatcher and hub, and assembles the HTTP mux serving /ws,
// /memory/*, and /agent/engines*.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(a)
	}

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error { return shutdownTelemetry(context.Background()) })

	if a.Memory == nil {
		if err := a.initMemory(ctx); err != nil {
			return nil, fmt.Errorf("app: init memory: %w", err)
		}
	}

	a.Dispatcher = dispatcher.New(a.Memory, dispatcher.Config{
		Providers:    buildProviderSettings(cfg.LLM),
		SystemPrompt: cfg.LLM.SystemPrompt,
		Temperature:  cfg.LLM.Temperature,
		Timeout:      cfg.LLM.Timeout,
	})

	a.Hub = hub.New(a.Dispatcher, cfg.Auth.WSAuthToken, a.logger)

	// REST routes go through the observability middleware for request
	// latency/logging. The websocket upgrade on /ws is mounted outside it —
	// wrapping a hijacking handler in a ResponseWriter that doesn't forward
	// Unwrap breaks coder/websocket's upgrade.
	apiMux := http.NewServeMux()
	(&httpapi.MemoryHandler{Memory: a.Memory}).Register(apiMux)
	(&httpapi.AgentHandler{Memory: a.Memory}).Register(apiMux)
	health.New(health.Checker{
		Name: "memory_store",
		Check: func(ctx context.Context) error {
			if a.store == nil {
				return nil // injected memory service: no store of our own to ping
			}
			return a.store.Ping(ctx)
		},
	}).Register(apiMux)

	mux := http.NewServeMux()
	mux.Handle("/ws", a.Hub)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", observe.Middleware(observe.DefaultMetrics())(apiMux))

	a.server = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      withCORS(mux, cfg.Server.CORSAllowOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return a, nil
}

// initMemory opens the SQLite-backed memory store and builds the
// summarizer's default LLM provider from the same provider settings the
// dispatcher uses.
func (a *App) initMemory(ctx context.Context) error {
	store, err := memory.OpenStore(ctx, a.cfg.Memory.DBPath)
	if err != nil {
		return fmt.Errorf("open store %q: %w", a.cfg.Memory.DBPath, err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	settings := config.BuildMemorySettings(a.cfg.Memory)

	var summarizer *memory.Summarizer
	providerCfg := buildProviderConfigForDefaults(a.cfg.LLM)
	if provider, buildErr := llm.Build(providerCfg, a.cfg.LLM.Temperature, a.cfg.LLM.Timeout); buildErr == nil {
		summarizer = &memory.Summarizer{Provider: provider}
	} else {
		a.logger.Warn("app: summarizer provider unavailable, summarization disabled", "error", buildErr)
		summarizer = &memory.Summarizer{}
	}

	a.Memory = memory.NewService(store, summarizer, settings)
	return nil
}

// buildProviderSettings converts the gateway's static LLM config into the
// dispatcher's per-turn provider-default shape.
func buildProviderSettings(lc config.LLMConfig) dispatcher.ProviderSettings {
	return dispatcher.ProviderSettings{
		DefaultProvider: lc.Provider,

		OpenAIAPIKey:  lc.OpenAI.APIKey,
		OpenAIBaseURL: lc.OpenAI.BaseURL,
		OpenAIModel:   lc.OpenAI.Model,

		DifyAPIKey:  lc.Dify.APIKey,
		DifyBaseURL: lc.Dify.BaseURL,
		DifyUser:    lc.Dify.User,

		FastGPTAPIKey:  lc.FastGPT.APIKey,
		FastGPTBaseURL: lc.FastGPT.BaseURL,
		FastGPTUID:     lc.FastGPT.UID,

		CozeToken:   lc.Coze.Token,
		CozeAPIBase: lc.Coze.APIBase,
		CozeBotID:   lc.Coze.BotID,
		CozeUser:    lc.Coze.User,
	}
}

// buildProviderConfigForDefaults resolves the configured default provider's
// llm.Config directly from static settings, for the summarizer — which,
// unlike the dispatcher's per-turn path, never sees a per-call payload
// override to merge over these defaults.
func buildProviderConfigForDefaults(lc config.LLMConfig) llm.Config {
	id := llm.NormalizeProviderID(lc.Provider)
	switch id {
	case "dify":
		return llm.Config{ProviderID: id, APIKey: lc.Dify.APIKey, BaseURL: lc.Dify.BaseURL, Extra: map[string]string{"user": lc.Dify.User}}
	case "fastgpt":
		return llm.Config{ProviderID: id, APIKey: lc.FastGPT.APIKey, BaseURL: lc.FastGPT.BaseURL, Extra: map[string]string{"uid": lc.FastGPT.UID}}
	case "coze":
		return llm.Config{ProviderID: id, APIKey: lc.Coze.Token, BaseURL: lc.Coze.APIBase, Extra: map[string]string{"bot_id": lc.Coze.BotID, "user": lc.Coze.User}}
	default:
		return llm.Config{ProviderID: "openai", APIKey: lc.OpenAI.APIKey, BaseURL: lc.OpenAI.BaseURL, Model: lc.OpenAI.Model}
	}
}

// withCORS wraps handler with permissive CORS headers for the configured
// origin list. A single "*" entry allows every origin.
func withCORS(handler http.Handler, allowed []string) http.Handler {
	allowAll := len(allowed) == 1 && allowed[0] == "*"
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		allowedSet[o] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if _, ok := allowedSet[origin]; allowAll || ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server stops on its own. Call Shutdown afterward to close the listener
// and release the remaining resources regardless of how Run returned.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("app running", "addr", a.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server and runs the remaining closers in order.
// It respects ctx's deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("http server shutdown error", "error", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
