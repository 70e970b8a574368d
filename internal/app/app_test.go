package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FutureUnreal/WhaleWhisper/internal/app"
	"github.com/FutureUnreal/WhaleWhisper/internal/config"
	"github.com/FutureUnreal/WhaleWhisper/internal/httpapi"
	"github.com/FutureUnreal/WhaleWhisper/internal/memory"
)

// testConfig returns a minimal config listening on an ephemeral port. Memory
// stays enabled as in config.Default(); each test injects an in-memory
// service via app.WithMemoryService, so New() never opens a store file.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.LLM.Provider = "openai"
	cfg.LLM.OpenAI.APIKey = "test-key"
	return cfg
}

// testMemoryService builds a Service backed by an in-memory SQLite store, for
// tests that want a working memory engine without a real LLM summarizer.
func testMemoryService(t *testing.T) *memory.Service {
	t.Helper()
	store, err := memory.OpenStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return memory.NewService(store, &memory.Summarizer{}, memory.DefaultSettings())
}

func TestNew_WithInjectedMemory(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	svc := testMemoryService(t)

	application, err := app.New(context.Background(), cfg, app.WithMemoryService(svc))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
	if application.Memory != svc {
		t.Error("New() should use the injected memory service")
	}
	if application.Dispatcher == nil {
		t.Error("New() should build a dispatcher")
	}
	if application.Hub == nil {
		t.Error("New() should build a hub")
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	svc := testMemoryService(t)

	application, err := app.New(context.Background(), cfg, app.WithMemoryService(svc))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	// Shutdown is idempotent.
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	svc := testMemoryService(t)

	application, err := app.New(context.Background(), cfg, app.WithMemoryService(svc))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	// Give Run a moment to start listening.
	time.Sleep(50 * time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestApp_InjectedMemoryServesMemoryRoutes(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	svc := testMemoryService(t)

	application, err := app.New(context.Background(), cfg, app.WithMemoryService(svc))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	mux := http.NewServeMux()
	(&httpapi.MemoryHandler{Memory: application.Memory}).Register(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/memory/facts")
	if err != nil {
		t.Fatalf("GET /memory/facts: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
