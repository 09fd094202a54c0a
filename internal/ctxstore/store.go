// Package ctxstore propagates request-scoped correlation data (Scope)
// through asynchronous call graphs, including paths that drop the
// context.Context: timer callbacks, third-party callback APIs.
//
// Two Store implementations exist behind one interface:
//
//   - ValueStore rides on context.Context values. It is the default on any
//     call path that threads a context, which in Go is nearly all of them.
//   - BindingStore carries its scope explicitly in the store instance, one
//     instance per logical operation. It serves callback-style integrations
//     where no context parameter survives.
//
// Pick with New: callers that thread contexts get a ValueStore; callers
// integrating context-less callbacks construct a BindingStore per operation.
package ctxstore

import (
	"context"
	"sync"
)

// Store provides scoped, propagated correlation context.
type Store interface {
	// Run executes fn with scope active. Nested Run calls shadow: when the
	// inner fn returns, the outer scope is active again.
	Run(ctx context.Context, scope *Scope, fn func(ctx context.Context) error) error

	// Scope returns the currently active scope, or nil when none is active.
	// Never panics.
	Scope(ctx context.Context) *Scope

	// Bind returns a function that, whenever invoked, runs fn as if inside
	// Run(scope, fn) — even from an unrelated continuation such as a timer
	// callback. A nil scope returns fn unchanged.
	Bind(scope *Scope, fn func(ctx context.Context)) func(ctx context.Context)
}

// Capability describes what the runtime environment offers for propagation.
type Capability int

const (
	// CapabilityContext means context.Context is threaded through call
	// paths (the normal case for servers).
	CapabilityContext Capability = iota

	// CapabilityCallback means call paths lose the context parameter, so
	// scopes must be bound explicitly (edge-style callback runtimes).
	CapabilityCallback
)

// New returns the store implementation matching the environment capability.
func New(cap Capability) Store {
	if cap == CapabilityCallback {
		return NewBindingStore()
	}
	return ValueStore{}
}

// ValueStore propagates scopes via context.Context values.
type ValueStore struct{}

// Run implements Store.
func (ValueStore) Run(ctx context.Context, scope *Scope, fn func(ctx context.Context) error) error {
	return fn(WithScope(ctx, scope))
}

// Scope implements Store.
func (ValueStore) Scope(ctx context.Context) *Scope {
	return FromContext(ctx)
}

// Bind implements Store.
func (ValueStore) Bind(scope *Scope, fn func(ctx context.Context)) func(ctx context.Context) {
	if scope == nil {
		return fn
	}
	return func(ctx context.Context) {
		fn(WithScope(ctx, scope))
	}
}

// BindingStore propagates scopes by explicit binding. The active scope
// lives in the store itself as a stack, so one BindingStore must serve
// exactly one logical operation at a time; concurrent operations each get
// their own instance, which is what keeps their scopes isolated.
type BindingStore struct {
	mu    sync.Mutex
	stack []*Scope
}

// NewBindingStore creates an empty explicit-binding store.
func NewBindingStore() *BindingStore {
	return &BindingStore{}
}

// Run implements Store. The scope is pushed for the duration of fn and
// popped on return, restoring the outer scope (shadowing).
func (b *BindingStore) Run(ctx context.Context, scope *Scope, fn func(ctx context.Context) error) error {
	b.push(scope)
	defer b.pop()
	return fn(WithScope(ctx, scope))
}

// Scope implements Store. The context wins when it carries a scope (a bound
// callback may have re-entered through Run); otherwise the store's current
// binding is returned.
func (b *BindingStore) Scope(ctx context.Context) *Scope {
	if s := FromContext(ctx); s != nil {
		return s
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.stack) == 0 {
		return nil
	}
	return b.stack[len(b.stack)-1]
}

// Bind implements Store.
func (b *BindingStore) Bind(scope *Scope, fn func(ctx context.Context)) func(ctx context.Context) {
	if scope == nil {
		return fn
	}
	return func(ctx context.Context) {
		b.push(scope)
		defer b.pop()
		fn(WithScope(ctx, scope))
	}
}

func (b *BindingStore) push(s *Scope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stack = append(b.stack, s)
}

func (b *BindingStore) pop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.stack) > 0 {
		b.stack = b.stack[:len(b.stack)-1]
	}
}
