package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/logwarden/internal/sanitize"
	"github.com/fyrsmithlabs/logwarden/internal/storage"
)

// brokenKV simulates a storage outage.
type brokenKV struct{}

func (brokenKV) Get(context.Context, string) ([]byte, error) { return nil, errors.New("down") }
func (brokenKV) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("down")
}
func (brokenKV) Delete(context.Context, string) error         { return errors.New("down") }
func (brokenKV) Exists(context.Context, string) (bool, error) { return false, errors.New("down") }
func (brokenKV) Backend() string                              { return "broken" }

func newTestLimiter(t *testing.T, cfg Config, opts ...Option) (*Limiter, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory(storage.NewDefaultConfig())
	l, err := NewLimiter(cfg, mem, opts...)
	require.NoError(t, err)
	return l, mem
}

func TestNewLimiter_RejectsInvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.BackoffMultiplier = 0.5

	_, err := NewLimiter(cfg, storage.NewMemory(storage.NewDefaultConfig()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backoff_multiplier")
}

func TestLimiter_StatePersistsAcrossChecks(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTokens = 1
	cfg.BurstCapacity = 1
	cfg.RefillRate = 0
	l, mem := newTestLimiter(t, cfg, WithRand(fixedRand(0)))
	ctx := context.Background()

	d1 := l.Check(ctx, "web-client", "/api/v1/logs", "info", "")
	assert.True(t, d1.Allowed)

	d2 := l.Check(ctx, "web-client", "/api/v1/logs", "info", "")
	assert.False(t, d2.Allowed)
	assert.Equal(t, ReasonTokens, d2.Reason)

	// State landed under the composite sanitized key.
	raw, err := mem.Get(ctx, sanitize.StateKey("web-client", "/api/v1/logs"))
	require.NoError(t, err)
	assert.NotNil(t, raw)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTokens = 1
	cfg.BurstCapacity = 1
	cfg.RefillRate = 0
	l, _ := newTestLimiter(t, cfg, WithRand(fixedRand(0)))
	ctx := context.Background()

	assert.True(t, l.Check(ctx, "client-a", "/logs", "info", "").Allowed)
	assert.False(t, l.Check(ctx, "client-a", "/logs", "info", "").Allowed)

	// A different client on the same endpoint has its own bucket.
	assert.True(t, l.Check(ctx, "client-b", "/logs", "info", "").Allowed)
}

func TestLimiter_FailsOpenOnStorageError(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTokens = 1
	cfg.BurstCapacity = 1
	cfg.RefillRate = 0
	l, err := NewLimiter(cfg, brokenKV{}, WithRand(fixedRand(0)))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := l.Check(ctx, "client", "/logs", "info", "")
		assert.True(t, d.Allowed, "storage outage never drops logs")
		assert.Equal(t, ReasonAllowed, d.Reason)
	}
}

func TestLimiter_CorruptStateReconstructs(t *testing.T) {
	cfg := testConfig()
	l, mem := newTestLimiter(t, cfg, WithRand(fixedRand(0)))
	ctx := context.Background()

	key := sanitize.StateKey("client", "/logs")
	require.NoError(t, mem.Set(ctx, key, []byte("{not json"), time.Minute))

	d := l.Check(ctx, "client", "/logs", "info", "")
	assert.True(t, d.Allowed, "undecodable snapshot is treated as fresh state")
}

func TestLimiter_EndpointOverride(t *testing.T) {
	cfg := testConfig()
	strict := testConfig()
	strict.MaxTokens = 1
	strict.BurstCapacity = 1
	strict.RefillRate = 0
	cfg.Overrides = map[string]Config{"/chatty": strict}

	l, _ := newTestLimiter(t, cfg, WithRand(fixedRand(0)))
	ctx := context.Background()

	assert.True(t, l.Check(ctx, "client", "/chatty", "info", "").Allowed)
	assert.False(t, l.Check(ctx, "client", "/chatty", "info", "").Allowed)

	// The default config still applies elsewhere.
	assert.True(t, l.Check(ctx, "client", "/calm", "info", "").Allowed)
	assert.True(t, l.Check(ctx, "client", "/calm", "info", "").Allowed)
}

func TestLimiter_RecordErrorFeedsAdaptiveSampling(t *testing.T) {
	cfg := testConfig()
	cfg.AdaptiveSampling = true
	cfg.ErrorThreshold = 5
	l, _ := newTestLimiter(t, cfg, WithRand(fixedRand(0.5)))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		l.RecordError(ctx, "client", "/logs", "network_error")
	}

	a := l.Analyze(ctx, "client", "/logs")
	assert.Equal(t, 50, a.ErrorsPerMinute)

	// 5/50 adaptive rate = 0.1, draw of 0.5 rejects.
	d := l.Check(ctx, "client", "/logs", "info", "")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonSampling, d.Reason)
}

func TestLimiter_StatsAndReset(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTokens = 2
	cfg.BurstCapacity = 2
	cfg.RefillRate = 0
	l, _ := newTestLimiter(t, cfg, WithRand(fixedRand(0)))
	ctx := context.Background()

	l.Check(ctx, "client", "/logs", "info", "")
	l.Check(ctx, "client", "/logs", "info", "")
	l.Check(ctx, "client", "/logs", "info", "") // rejected

	s := l.Stats(ctx, "client", "/logs")
	assert.Equal(t, int64(3), s.TotalRequests)
	assert.Equal(t, int64(2), s.SuccessfulRequests)
	assert.Equal(t, 1, s.ConsecutiveRejects)

	l.RecordError(ctx, "client", "/logs", "network_error")
	require.NoError(t, l.Reset(ctx, "client", "/logs", true))

	s = l.Stats(ctx, "client", "/logs")
	assert.Zero(t, s.TotalRequests)
	assert.False(t, s.InBackoff)

	a := l.Analyze(ctx, "client", "/logs")
	assert.Equal(t, 1, a.TotalErrors, "preserved across reset")
}

func TestLimiter_ConcurrentChecksStayApproximate(t *testing.T) {
	cfg := testConfig()
	l, _ := newTestLimiter(t, cfg, WithRand(fixedRand(0)))
	ctx := context.Background()

	// Last-write-wins races must never panic or corrupt the snapshot.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Check(ctx, "client", "/logs", "info", "")
			}
		}()
	}
	wg.Wait()

	s := l.Stats(ctx, "client", "/logs")
	assert.Positive(t, s.TotalRequests)
}

func TestLimiter_SetConfigSwapsLiveLimits(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTokens = 1
	cfg.BurstCapacity = 1
	cfg.RefillRate = 0
	l, _ := newTestLimiter(t, cfg, WithRand(fixedRand(0)))
	ctx := context.Background()

	require.True(t, l.Check(ctx, "client", "/logs", "info", "").Allowed)
	require.False(t, l.Check(ctx, "client", "/logs", "info", "").Allowed)

	next := testConfig()
	next.MaxTokens = 100
	next.BurstCapacity = 150
	next.RefillRate = 1000
	require.NoError(t, l.SetConfig(next))

	// New refill rate applies to the persisted state on the next check,
	// once the short backoff from the rejection has lapsed.
	l.clock = func() time.Time { return time.Now().Add(5 * time.Second) }
	assert.True(t, l.Check(ctx, "client", "/logs", "info", "").Allowed)
}

func TestLimiter_SetConfigRejectsInvalid(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	bad := testConfig()
	bad.BackoffMultiplier = 0.5
	assert.Error(t, l.SetConfig(bad))
}
