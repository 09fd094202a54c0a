// Package logging provides structured logging with rate limiting,
// sanitized transport delivery, and OpenTelemetry integration.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Multi-output (stdout + OpenTelemetry + batched transport)
//   - Automatic context field injection (request id, trace_id, session)
//   - An adaptive rate-limiter gate in front of every output
//   - Defense-in-depth secret redaction on the console path
//   - Control-character and size sanitization on the transport path
//   - Level-aware zap sampling (errors never sampled)
//
// # Usage
//
// Create logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider,
//	    logging.WithGate(limiter),
//	    logging.WithTransport(logging.NewBatcherSink(batcher)))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	scope := ctxstore.NewScope()
//	ctx := ctxstore.WithScope(ctx, scope)
//	logger.Info(ctx, "request processed", zap.Duration("duration", d))
//
// Output includes automatic correlation:
//
//	{
//	  "ts": "2026-08-27T10:15:30Z",
//	  "level": "info",
//	  "msg": "request processed",
//	  "request.id": "9f8b...",
//	  "trace_id": "abc123",
//	  "duration": "45ms"
//	}
//
// # Rate Limiting
//
// Every non-fatal record is checked against the limiter keyed by the
// logger's component name before any output sees it. Fatal bypasses the
// gate. The zap sampler underneath is burst protection for the local
// outputs, independent of the adaptive limiter.
//
// # Secret Redaction
//
// Secrets are redacted at multiple layers:
//  1. Domain primitives (config.Secret type)
//  2. Encoder-level field name filtering
//  3. Encoder-level pattern matching
//
// Use helpers for manual redaction:
//
//	logger.Info(ctx, "auth received",
//	    logging.RedactedString("authorization", authHeader))
//
// # Transport Sanitization
//
// Records bound for the transport pass through control-character
// escaping and size limiting, so no raw NUL bytes or newlines and no
// unbounded payloads cross the process boundary. The console output is
// left readable; sanitization applies to the transport path only.
//
// # Testing
//
// Use TestLogger for test assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertNoSecrets(t)
//
// # Concurrency Safety
//
// Logger is safe for concurrent use. Child loggers (With, Named) are
// independent and do not affect parent or siblings.
package logging
