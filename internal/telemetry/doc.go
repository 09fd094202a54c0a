// Package telemetry provides OpenTelemetry instrumentation for logwarden.
//
// # Overview
//
// This package implements distributed tracing and metrics collection using the
// OpenTelemetry Go SDK. It exports telemetry data to an OTEL Collector, which
// forwards to the configured metrics and tracing backends.
//
// # Usage
//
// Create telemetry instance:
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Use tracer and meter:
//
//	tracer := tel.Tracer("logwarden.http")
//	ctx, span := tracer.Start(ctx, "Sanitize.Payload")
//	defer span.End()
//
//	meter := tel.Meter("logwarden.http")
//	counter, _ := meter.Int64Counter("http.requests")
//	counter.Add(ctx, 1)
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  service_name: "logwarden"
//	  sampling:
//	    rate: 1.0  # 100% in dev, lower in prod
//	    always_on_errors: true
//	  metrics:
//	    enabled: true
//	    export_interval: "15s"
//
// # Error Handling
//
// Telemetry failures do not crash the application. If telemetry cannot be
// initialized, the instance degrades gracefully and returns no-op providers.
//
// # Testing
//
// Tests run against in-memory SDK providers (tracetest.SpanRecorder,
// sdkmetric.ManualReader) instead of a collector.
package telemetry
