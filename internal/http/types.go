// Package http provides the HTTP API for logwarden.
package http

import (
	"github.com/fyrsmithlabs/logwarden/internal/ratelimit"
	"github.com/fyrsmithlabs/logwarden/internal/storage"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string                `json:"status"`
	Storage *storage.HealthResult `json:"storage,omitempty"`
}

// SanitizeRequest is the request body for POST /api/v1/sanitize.
type SanitizeRequest struct {
	Payload any `json:"payload"`
}

// SanitizeResponse is the response body for POST /api/v1/sanitize.
type SanitizeResponse struct {
	Payload any `json:"payload"`
}

// LimitStatsResponse is the response body for
// GET /api/v1/limits/:client/:endpoint.
type LimitStatsResponse struct {
	Client   string             `json:"client"`
	Endpoint string             `json:"endpoint"`
	Stats    ratelimit.Stats    `json:"stats"`
	Analysis ratelimit.Analysis `json:"analysis"`
}
