package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/logwarden/internal/metrics"
)

const (
	defaultEdgeConfigURL = "https://edge-config.vercel.com"

	// The hosted API throttles aggressively; pace writes well under its
	// documented ceiling instead of burning retries on 429s.
	edgeConfigWriteRPS   = 2
	edgeConfigWriteBurst = 4
)

// EdgeConfig backs KV with an edge-config style HTTP service: item reads
// via GET, item writes via PATCH against the config's items collection.
//
// The service has no per-item TTL, so expiry is encoded in the stored
// envelope and enforced on read.
type EdgeConfig struct {
	baseURL    string
	configID   string
	token      string
	httpClient *http.Client
	writeLim   *rate.Limiter
	defaultTTL time.Duration
	maxRetries int
}

// edgeConfigItem is the stored envelope. ExpiresAt is unix seconds; zero
// means no expiry.
type edgeConfigItem struct {
	Value     []byte `json:"value"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// NewEdgeConfig builds a client for cfg. No connectivity probe happens
// here.
func NewEdgeConfig(cfg *Config) *EdgeConfig {
	base := cfg.EdgeConfigURL
	if base == "" {
		base = defaultEdgeConfigURL
	}
	return &EdgeConfig{
		baseURL:    strings.TrimRight(base, "/"),
		configID:   cfg.EdgeConfigID,
		token:      cfg.EdgeConfigToken.Value(),
		httpClient: &http.Client{Timeout: cfg.Timeout.Duration()},
		writeLim:   rate.NewLimiter(rate.Limit(edgeConfigWriteRPS), edgeConfigWriteBurst),
		defaultTTL: cfg.DefaultTTL.Duration(),
		maxRetries: cfg.MaxRetries,
	}
}

// Backend implements KV.
func (e *EdgeConfig) Backend() string { return TypeEdgeConfig }

// Get implements KV. Missing keys, expired entries, transport errors, and
// non-2xx responses all read as absent.
func (e *EdgeConfig) Get(ctx context.Context, key string) ([]byte, error) {
	defer observe(TypeEdgeConfig, "get", time.Now())

	u := fmt.Sprintf("%s/%s/item/%s", e.baseURL, e.configID, url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		metrics.IncStorageError(TypeEdgeConfig, "get")
		return nil, nil
	}
	req.Header.Set("Authorization", "Bearer "+e.token)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		metrics.IncStorageError(TypeEdgeConfig, "get")
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.IncStorageError(TypeEdgeConfig, "get")
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.IncStorageError(TypeEdgeConfig, "get")
		return nil, nil
	}

	var item edgeConfigItem
	if err := json.Unmarshal(body, &item); err != nil {
		metrics.IncStorageError(TypeEdgeConfig, "get")
		return nil, nil
	}
	if item.ExpiresAt != 0 && time.Now().Unix() >= item.ExpiresAt {
		return nil, nil
	}
	return item.Value, nil
}

// Set implements KV.
func (e *EdgeConfig) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	defer observe(TypeEdgeConfig, "set", time.Now())

	if ttl <= 0 {
		ttl = e.defaultTTL
	}
	item := edgeConfigItem{Value: value}
	if ttl > 0 {
		item.ExpiresAt = time.Now().Add(ttl).Unix()
	}
	return e.patchItems(ctx, "set", []map[string]any{
		{"operation": "upsert", "key": key, "value": item},
	})
}

// Delete implements KV.
func (e *EdgeConfig) Delete(ctx context.Context, key string) error {
	defer observe(TypeEdgeConfig, "delete", time.Now())
	return e.patchItems(ctx, "delete", []map[string]any{
		{"operation": "delete", "key": key},
	})
}

// Exists implements KV.
func (e *EdgeConfig) Exists(ctx context.Context, key string) (bool, error) {
	v, err := e.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// patchItems issues a write, retrying transient failures up to maxRetries
// with linear backoff. Writes surface errors, unlike reads.
func (e *EdgeConfig) patchItems(ctx context.Context, op string, items []map[string]any) error {
	payload, err := json.Marshal(map[string]any{"items": items})
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", op, err)
	}

	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			}
		}
		if err := e.writeLim.Wait(ctx); err != nil {
			return err
		}

		lastErr = e.patchOnce(ctx, payload)
		if lastErr == nil {
			return nil
		}
		metrics.IncStorageError(TypeEdgeConfig, op)
	}
	return fmt.Errorf("edge config %s failed after %d attempts: %w", op, e.maxRetries, lastErr)
}

func (e *EdgeConfig) patchOnce(ctx context.Context, payload []byte) error {
	u := fmt.Sprintf("%s/%s/items", e.baseURL, e.configID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
