package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/logwarden/internal/errclass"
	"github.com/fyrsmithlabs/logwarden/internal/logging"
	"github.com/fyrsmithlabs/logwarden/internal/ratelimit"
	"github.com/fyrsmithlabs/logwarden/internal/storage"
)

func TestNewServer(t *testing.T) {
	t.Run("creates server with valid config", func(t *testing.T) {
		tl := logging.NewTestLogger()

		cfg := &Config{
			Host: "localhost",
			Port: 9090,
		}

		server, err := NewServer(tl.Logger, errclass.NewHandler(tl.Logger), cfg)
		require.NoError(t, err)
		assert.NotNil(t, server)
		assert.NotNil(t, server.echo)
		assert.Equal(t, cfg, server.config)
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		tl := logging.NewTestLogger()

		server, err := NewServer(tl.Logger, errclass.NewHandler(tl.Logger), nil)
		require.NoError(t, err)
		assert.NotNil(t, server)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9090, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		tl := logging.NewTestLogger()

		_, err := NewServer(nil, errclass.NewHandler(tl.Logger), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when error handler is nil", func(t *testing.T) {
		tl := logging.NewTestLogger()

		_, err := NewServer(tl.Logger, nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "error handler cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("ok without storage", func(t *testing.T) {
		server := setupTestServer(t)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Nil(t, resp.Storage)
	})

	t.Run("probes attached storage", func(t *testing.T) {
		server := setupTestServer(t, WithStorage(storage.NewMemory(nil)))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		require.NotNil(t, resp.Storage)
		assert.True(t, resp.Storage.Healthy)
		assert.Equal(t, storage.TypeMemory, resp.Storage.Backend)
	})

	t.Run("degrades when storage probe fails", func(t *testing.T) {
		server := setupTestServer(t, WithStorage(&unhealthyKV{}))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "degraded", resp.Status)
		require.NotNil(t, resp.Storage)
		assert.False(t, resp.Storage.Healthy)
	})
}

func TestHandleMetrics(t *testing.T) {
	server := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/plain")
}

func TestHandleSanitize(t *testing.T) {
	t.Run("escapes control characters", func(t *testing.T) {
		server := setupTestServer(t)

		rec := postJSON(t, server, "/api/v1/sanitize",
			`{"payload": {"note": "line1\nline2"}}`)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Payload map[string]string `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "line1\\u000Aline2", resp.Payload["note"])
	})

	t.Run("truncates oversized strings", func(t *testing.T) {
		server := setupTestServer(t)

		long := make([]byte, 2000)
		for i := range long {
			long[i] = 'a'
		}
		body, err := json.Marshal(map[string]any{
			"payload": map[string]string{"blob": string(long)},
		})
		require.NoError(t, err)

		rec := postJSON(t, server, "/api/v1/sanitize", string(body))

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Payload map[string]string `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Less(t, len(resp.Payload["blob"]), 2000)
		assert.Contains(t, resp.Payload["blob"], "[TRUNCATED]")
	})

	t.Run("passes clean payloads through", func(t *testing.T) {
		server := setupTestServer(t)

		rec := postJSON(t, server, "/api/v1/sanitize",
			`{"payload": {"message": "all quiet"}}`)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Payload map[string]string `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "all quiet", resp.Payload["message"])
	})

	t.Run("rejects missing payload", func(t *testing.T) {
		server := setupTestServer(t)

		rec := postJSON(t, server, "/api/v1/sanitize", `{}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp["message"], "payload field is required")
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		server := setupTestServer(t)

		rec := postJSON(t, server, "/api/v1/sanitize", "invalid json")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleLimitStats(t *testing.T) {
	t.Run("returns stats for a bucket", func(t *testing.T) {
		limiter := setupTestLimiter(t)
		server := setupTestServer(t, WithLimiter(limiter))

		// Burn a few tokens so the stats are non-trivial.
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			limiter.Check(ctx, "web", "ingest", "info", "")
		}

		req := httptest.NewRequest(http.MethodGet, "/api/v1/limits/web/ingest", nil)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp LimitStatsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "web", resp.Client)
		assert.Equal(t, "ingest", resp.Endpoint)
		assert.Equal(t, int64(3), resp.Stats.TotalRequests)
	})

	t.Run("unavailable without a limiter", func(t *testing.T) {
		server := setupTestServer(t)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/limits/web/ingest", nil)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandleLimitReset(t *testing.T) {
	limiter := setupTestLimiter(t)
	server := setupTestServer(t, WithLimiter(limiter))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		limiter.Check(ctx, "web", "ingest", "info", "")
	}
	require.Equal(t, int64(5), limiter.Stats(ctx, "web", "ingest").TotalRequests)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/limits/web/ingest/reset", nil)
	rec := httptest.NewRecorder()

	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(0), limiter.Stats(ctx, "web", "ingest").TotalRequests)
}

func TestServerLifecycle(t *testing.T) {
	t.Run("starts and shuts down gracefully", func(t *testing.T) {
		tl := logging.NewTestLogger()

		cfg := &Config{
			Host: "localhost",
			Port: 0, // Use random available port
		}

		server, err := NewServer(tl.Logger, errclass.NewHandler(tl.Logger), cfg)
		require.NoError(t, err)

		// Start server in background
		errChan := make(chan error, 1)
		go func() {
			errChan <- server.Start()
		}()

		// Give server time to start
		time.Sleep(100 * time.Millisecond)

		// Shutdown server
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err = server.Shutdown(ctx)
		assert.NoError(t, err)

		// Wait for server to finish
		select {
		case err := <-errChan:
			// Server should shut down cleanly (http.ErrServerClosed is expected)
			assert.True(t, err == nil || err == http.ErrServerClosed)
		case <-time.After(6 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		server := setupTestServer(t)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("request logs carry the request id", func(t *testing.T) {
		tl := logging.NewTestLogger()
		server, err := NewServer(tl.Logger, errclass.NewHandler(tl.Logger), nil)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		entries := tl.FilterMessage("http request").All()
		require.Len(t, entries, 1)

		var requestID string
		for _, f := range entries[0].Context {
			if f.Key == "request.id" {
				requestID = f.String
			}
		}
		assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), requestID)
	})

	t.Run("recovers from panic", func(t *testing.T) {
		server := setupTestServer(t)

		// Add a route that panics
		server.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		req := httptest.NewRequest(http.MethodGet, "/panic", nil)
		rec := httptest.NewRecorder()

		// Should not panic, middleware should recover
		assert.NotPanics(t, func() {
			server.echo.ServeHTTP(rec, req)
		})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestErrorHandler(t *testing.T) {
	t.Run("classifies unexpected errors into safe bodies", func(t *testing.T) {
		server := setupTestServer(t)
		server.echo.GET("/boom", func(c echo.Context) error {
			return errors.New("database connection pool exhausted at 10.0.0.3")
		})

		req := httptest.NewRequest(http.MethodGet, "/boom", nil)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body errclass.APIErrorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "database_error", body.Category)
		assert.True(t, body.Retryable)
		assert.NotContains(t, body.Error, "10.0.0.3")
		assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), body.RequestID)
	})

	t.Run("echo errors keep their status", func(t *testing.T) {
		server := setupTestServer(t)
		server.echo.GET("/teapot", func(c echo.Context) error {
			return echo.NewHTTPError(http.StatusTeapot, "short and stout")
		})

		req := httptest.NewRequest(http.MethodGet, "/teapot", nil)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTeapot, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "short and stout", resp["message"])
	})
}

// unhealthyKV fails every write, so the health probe cannot complete.
type unhealthyKV struct{}

func (u *unhealthyKV) Get(ctx context.Context, key string) ([]byte, error) { return nil, nil }
func (u *unhealthyKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("backend write refused")
}
func (u *unhealthyKV) Delete(ctx context.Context, key string) error         { return nil }
func (u *unhealthyKV) Exists(ctx context.Context, key string) (bool, error) { return false, nil }
func (u *unhealthyKV) Backend() string                                      { return "unhealthy" }

func setupTestLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()

	cfg := ratelimit.NewDefaultConfig()
	cfg.AdaptiveSampling = false
	limiter, err := ratelimit.NewLimiter(cfg, storage.NewMemory(nil))
	require.NoError(t, err)
	return limiter
}

// setupTestServer creates a test server with default configuration.
func setupTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	tl := logging.NewTestLogger()

	cfg := &Config{
		Host: "localhost",
		Port: 9090,
	}

	server, err := NewServer(tl.Logger, errclass.NewHandler(tl.Logger), cfg, opts...)
	require.NoError(t, err)

	return server
}

func postJSON(t *testing.T, server *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	server.echo.ServeHTTP(rec, req)
	return rec
}
