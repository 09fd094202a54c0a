package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HealthResult describes the outcome of a storage round-trip probe.
type HealthResult struct {
	Backend string        `json:"backend"`
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Detail  string        `json:"detail,omitempty"`
}

// CheckHealth verifies a backend end to end: write a probe key, read it
// back, delete it, and confirm the delete took effect. The probe key is
// unique per call so concurrent checks never race on the same entry.
//
// Because reads fail open, a broken remote backend typically shows up as
// a read mismatch rather than a returned error; the detail string keeps
// the two distinguishable.
func CheckHealth(ctx context.Context, kv KV) HealthResult {
	res := HealthResult{Backend: kv.Backend()}
	start := time.Now()
	defer func() { res.Latency = time.Since(start) }()

	key := "health:probe:" + uuid.NewString()
	want := []byte(uuid.NewString())

	if err := kv.Set(ctx, key, want, time.Minute); err != nil {
		res.Detail = fmt.Sprintf("set failed: %v", err)
		return res
	}

	got, err := kv.Get(ctx, key)
	if err != nil {
		res.Detail = fmt.Sprintf("get failed: %v", err)
		return res
	}
	if !bytes.Equal(got, want) {
		res.Detail = "read mismatch: probe value not returned"
		return res
	}

	if err := kv.Delete(ctx, key); err != nil {
		res.Detail = fmt.Sprintf("delete failed: %v", err)
		return res
	}
	if ok, _ := kv.Exists(ctx, key); ok {
		res.Detail = "delete not effective: probe key still present"
		return res
	}

	res.Healthy = true
	return res
}
