package storage

import "sync"

var (
	defaultMu sync.Mutex
	defaultKV KV
)

// Default returns the process-wide storage, building it lazily from the
// environment on first use. The construction-time fallback error, if any,
// is returned alongside the usable KV so callers can log it.
func Default() (KV, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultKV != nil {
		return defaultKV, nil
	}
	kv, err := New(FromEnv())
	defaultKV = kv
	return kv, err
}

// SetDefault replaces the process-wide storage. Intended for composition
// roots that build storage from loaded config rather than the environment.
func SetDefault(kv KV) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultKV = kv
}

// ResetDefault clears the process-wide storage so the next Default call
// rebuilds it. For tests.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if c, ok := defaultKV.(Closer); ok {
		c.Close()
	}
	defaultKV = nil
}
