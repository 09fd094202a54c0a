package ctxstore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *TimerManager {
	t.Helper()
	mgr, err := NewTimerManager(ValueStore{})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.ClearAll() })
	return mgr
}

func TestNewTimerManager_RequiresStore(t *testing.T) {
	_, err := NewTimerManager(nil)
	assert.Error(t, err)
}

func TestAfterFunc_FiresWithScope(t *testing.T) {
	mgr := newTestManager(t)
	scope := &Scope{RequestID: "timer-req"}

	got := make(chan string, 1)
	mgr.AfterFunc(scope, 5*time.Millisecond, func(ctx context.Context) {
		got <- FromContext(ctx).RequestID
	})

	select {
	case id := <-got:
		assert.Equal(t, "timer-req", id)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestAfterFunc_SelfDeregistersAfterFiring(t *testing.T) {
	mgr := newTestManager(t)

	fired := make(chan struct{})
	mgr.AfterFunc(&Scope{RequestID: "r"}, time.Millisecond, func(ctx context.Context) {
		close(fired)
	})
	assert.Equal(t, 1, mgr.ActiveCount())

	<-fired
	assert.Eventually(t, func() bool { return mgr.ActiveCount() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestTimer_Clear(t *testing.T) {
	mgr := newTestManager(t)

	var fired atomic.Bool
	timer := mgr.AfterFunc(&Scope{RequestID: "r"}, 50*time.Millisecond, func(ctx context.Context) {
		fired.Store(true)
	})

	assert.True(t, timer.Clear())
	assert.False(t, timer.Clear(), "second clear is a no-op")
	assert.Equal(t, 0, mgr.ActiveCount())

	time.Sleep(80 * time.Millisecond)
	assert.False(t, fired.Load(), "cleared timer must not fire")
}

func TestEvery_TicksUntilCleared(t *testing.T) {
	mgr := newTestManager(t)
	scope := &Scope{RequestID: "tick-req"}

	var ticks atomic.Int32
	timer := mgr.Every(scope, 10*time.Millisecond, func(ctx context.Context) {
		assert.Equal(t, "tick-req", FromContext(ctx).RequestID)
		ticks.Add(1)
	})

	assert.Eventually(t, func() bool { return ticks.Load() >= 3 },
		time.Second, 5*time.Millisecond)
	// Repeating timers stay registered until cleared.
	assert.Equal(t, 1, mgr.ActiveCount())

	require.True(t, timer.Clear())
	assert.Equal(t, 0, mgr.ActiveCount())

	n := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, ticks.Load(), n+1, "cleared interval must stop ticking")
}

func TestClearAll(t *testing.T) {
	mgr := newTestManager(t)
	scope := &Scope{RequestID: "r"}

	for i := 0; i < 3; i++ {
		mgr.AfterFunc(scope, time.Hour, func(ctx context.Context) {})
	}
	mgr.Every(scope, time.Hour, func(ctx context.Context) {})

	assert.Equal(t, 4, mgr.ActiveCount())
	assert.Equal(t, 4, mgr.ClearAll())
	assert.Equal(t, 0, mgr.ActiveCount())
	assert.Equal(t, 0, mgr.ClearAll())
}

func TestActive_Snapshot(t *testing.T) {
	mgr := newTestManager(t)
	scope := &Scope{RequestID: "diag"}

	mgr.AfterFunc(scope, time.Hour, func(ctx context.Context) {})
	mgr.Every(scope, time.Hour, func(ctx context.Context) {})

	infos := mgr.Active()
	require.Len(t, infos, 2)

	kinds := map[TimerKind]int{}
	for _, info := range infos {
		kinds[info.Kind]++
		assert.Equal(t, "diag", info.Scope.RequestID)
	}
	assert.Equal(t, 1, kinds[TimerOneShot])
	assert.Equal(t, 1, kinds[TimerRepeating])
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name          string
		profile       UsageProfile
		wantCompliant bool
	}{
		{
			name:          "no scope needed",
			profile:       UsageProfile{Name: "pure"},
			wantCompliant: true,
		},
		{
			name: "scope with context threaded",
			profile: UsageProfile{
				Name: "handler", NeedsScope: true,
				SpawnsGoroutines: true, PassesContext: true,
			},
			wantCompliant: true,
		},
		{
			name: "goroutines without context",
			profile: UsageProfile{
				Name: "leaky", NeedsScope: true, SpawnsGoroutines: true,
			},
			wantCompliant: false,
		},
		{
			name: "unmanaged timers",
			profile: UsageProfile{
				Name: "timerish", NeedsScope: true, UsesTimers: true,
			},
			wantCompliant: false,
		},
		{
			name: "managed timers",
			profile: UsageProfile{
				Name: "timerish", NeedsScope: true,
				UsesTimers: true, UsesTimerManager: true,
			},
			wantCompliant: true,
		},
		{
			name: "fan-out without context",
			profile: UsageProfile{
				Name: "scatter", NeedsScope: true, UsesFanOut: true,
			},
			wantCompliant: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := Analyze(tt.profile)
			assert.Equal(t, tt.wantCompliant, report.Compliant)
			if !tt.wantCompliant {
				assert.NotEmpty(t, report.Issues)
				assert.NotEmpty(t, report.Suggestions)
			}
		})
	}
}
