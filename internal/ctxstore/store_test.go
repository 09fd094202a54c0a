package ctxstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueStore_RunAndScope(t *testing.T) {
	store := New(CapabilityContext)
	scope := &Scope{RequestID: "req-1"}

	var observed *Scope
	err := store.Run(context.Background(), scope, func(ctx context.Context) error {
		observed = store.Scope(ctx)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", observed.RequestID)
}

func TestStore_ScopeOutsideRunIsNil(t *testing.T) {
	assert.Nil(t, ValueStore{}.Scope(context.Background()))
	assert.Nil(t, NewBindingStore().Scope(context.Background()))
	assert.Nil(t, FromContext(nil))
}

func TestStore_NestedRunShadows(t *testing.T) {
	for name, store := range map[string]Store{
		"value":   ValueStore{},
		"binding": NewBindingStore(),
	} {
		t.Run(name, func(t *testing.T) {
			a := &Scope{RequestID: "a"}
			b := &Scope{RequestID: "b"}
			var sequence []string

			err := store.Run(context.Background(), a, func(ctx context.Context) error {
				sequence = append(sequence, store.Scope(ctx).RequestID)
				inner := store.Run(ctx, b, func(ctx context.Context) error {
					sequence = append(sequence, store.Scope(ctx).RequestID)
					return nil
				})
				require.NoError(t, inner)
				sequence = append(sequence, store.Scope(ctx).RequestID)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "a"}, sequence)
		})
	}
}

func TestValueStore_IsolationUnderConcurrency(t *testing.T) {
	const n = 1000
	store := New(CapabilityContext)

	var (
		mu       sync.Mutex
		observed = make(map[string]bool, n)
	)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("req-%04d", i)
			scope := &Scope{RequestID: id}
			err := store.Run(context.Background(), scope, func(ctx context.Context) error {
				// Check at several suspension-like points.
				for j := 0; j < 3; j++ {
					got := store.Scope(ctx).RequestID
					if got != id {
						return fmt.Errorf("cross-contamination: want %s, got %s", id, got)
					}
					time.Sleep(time.Microsecond)
				}
				mu.Lock()
				observed[store.Scope(ctx).RequestID] = true
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, observed, n, "every operation must observe exactly its own id")
}

func TestStore_BindNilScopeIsNoOpWrap(t *testing.T) {
	store := ValueStore{}
	called := false
	fn := func(ctx context.Context) { called = true }

	bound := store.Bind(nil, fn)
	bound(context.Background())
	assert.True(t, called)
}

func TestStore_BindCarriesScopeAcrossContinuations(t *testing.T) {
	store := ValueStore{}
	scope := &Scope{RequestID: "bound-req"}

	got := make(chan string, 1)
	bound := store.Bind(scope, func(ctx context.Context) {
		got <- store.Scope(ctx).RequestID
	})

	// Invoke from an unrelated goroutine with a bare context.
	go bound(context.Background())
	assert.Equal(t, "bound-req", <-got)
}

func TestBindingStore_ScopeForContextlessCallbacks(t *testing.T) {
	store := NewBindingStore()
	scope := &Scope{RequestID: "cb-req"}

	var observed *Scope
	bound := store.Bind(scope, func(ctx context.Context) {
		// A callee that never received the context still sees the scope.
		observed = store.Scope(context.Background())
	})
	bound(context.Background())

	require.NotNil(t, observed)
	assert.Equal(t, "cb-req", observed.RequestID)
	assert.Nil(t, store.Scope(context.Background()), "scope must not persist after the callback")
}

func TestRunAll_ResultsInInputOrder(t *testing.T) {
	store := ValueStore{}
	scope := &Scope{RequestID: "fan-out"}

	ops := make([]Op, 5)
	for i := range ops {
		i := i
		ops[i] = func(ctx context.Context) (any, error) {
			// Later ops finish earlier; order must still hold.
			time.Sleep(time.Duration(5-i) * time.Millisecond)
			if FromContext(ctx).RequestID != "fan-out" {
				return nil, fmt.Errorf("lost scope")
			}
			return i * 10, nil
		}
	}

	results, err := RunAll(context.Background(), store, scope, ops)
	require.NoError(t, err)
	assert.Equal(t, []any{0, 10, 20, 30, 40}, results)
}

func TestRunAll_FirstErrorWinsAndCancels(t *testing.T) {
	store := ValueStore{}
	boom := fmt.Errorf("boom")

	sawCancel := make(chan struct{})
	ops := []Op{
		func(ctx context.Context) (any, error) {
			return nil, boom
		},
		func(ctx context.Context) (any, error) {
			select {
			case <-ctx.Done():
				close(sawCancel)
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
				return "too slow", nil
			}
		},
	}

	_, err := RunAll(context.Background(), store, &Scope{RequestID: "r"}, ops)
	assert.ErrorIs(t, err, boom)

	select {
	case <-sawCancel:
	case <-time.After(time.Second):
		t.Fatal("sibling op was not cancelled after first failure")
	}
}

func TestRunAll_Empty(t *testing.T) {
	results, err := RunAll(context.Background(), ValueStore{}, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestScope_Validate(t *testing.T) {
	valid := NewScope()
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name  string
		scope *Scope
	}{
		{"nil scope", nil},
		{"empty request id", &Scope{}},
		{"invalid characters", &Scope{RequestID: "has spaces"}},
		{"crlf injection", &Scope{RequestID: "a\r\nb"}},
		{"too long", &Scope{RequestID: string(make([]byte, 200))}},
		{"bad user id", &Scope{RequestID: "ok", UserID: "no/slashes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.scope.Validate())
		})
	}
}

func TestScope_Fields(t *testing.T) {
	s := &Scope{
		RequestID: "req-9",
		UserID:    "user-1",
		SessionID: "sess-2",
		Metadata:  map[string]string{"job": "ingest"},
	}
	fields := s.Fields(context.Background())

	keys := make(map[string]bool)
	for _, f := range fields {
		keys[f.Key] = true
	}
	assert.True(t, keys["request.id"])
	assert.True(t, keys["user.id"])
	assert.True(t, keys["session.id"])
	assert.True(t, keys["meta.job"])
}

func TestNewScope_UniqueRequestIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s := NewScope()
		require.NoError(t, s.Validate())
		assert.False(t, seen[s.RequestID])
		seen[s.RequestID] = true
	}
}
