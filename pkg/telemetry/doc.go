// Package telemetry provides comprehensive observability instrumentation for Packlift.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring and debugging bootstrap runs.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "packlift"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithRunID("run-123").WithPackRef("ghcr.io/acme/platform:1.2.0")
//	logger.Info("Starting platform install")
//	logger.WithError(err).Error("Install failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into run flow and performance:
//
//	ctx, span := tel.Tracer.Start(ctx, "operation.name")
//	defer span.End()
//
//	// Add attributes
//	span.SetAttributes(
//	    telemetry.AttrPackRef.String(ref),
//	    telemetry.AttrOperation.String("install"),
//	)
//
//	// Record events
//	span.AddEvent("verification.complete")
//
//	// Record errors
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development), None (testing)
//
// # Metrics
//
// Prometheus metrics track system behavior and performance:
//
//	// Record run execution
//	tel.Metrics.RecordRunStarted("install")
//	tel.Metrics.RecordRunCompleted("install", "completed", duration)
//
//	// Record registry cache behavior
//	tel.Metrics.RecordCacheHit()
//	tel.Metrics.RecordCacheMiss()
//	tel.Metrics.RecordFetch("https", duration)
//
//	// Record flow execution
//	tel.Metrics.RecordInstallerCall("deploying")
//	tel.Metrics.RecordFlowTransition("validating")
//
//	// Record rollbacks
//	tel.Metrics.RecordRollback("restored")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	// Publish events
//	tel.Events.PublishRunStarted(runID, "install", packRef)
//	tel.Events.PublishFlowStatus(runID, "deploying")
//	tel.Events.PublishSecretsWritten(runID, "file:/var/lib/packlift/secrets.json", 3)
//
//	// Subscribe to events
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByRunID
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument an operation
//	ic := telemetry.StartOperation(ctx, "pack.verify",
//	    telemetry.AttrPackDigest.String(digest))
//	defer ic.End(err)
//
//	ic.Logger.Info("Verifying pack")
//
//	// Run context
//	ctx = telemetry.WithRunContext(ctx, runID, "install", packRef)
//	defer telemetry.EndRunContext(ctx, runID, "install", status, err)
//
//	// Phase context
//	ctx = telemetry.WithPhaseContext(ctx, runID, "secrets")
//	defer telemetry.EndPhaseContext(ctx, err)
//
//	// Answer collection
//	err := telemetry.RecordAskOperation(ctx, "http", len(questions), func(ctx context.Context) error {
//	    answers, err = adapter.Ask(ctx, questions)
//	    return err
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
//	// Custom configuration
//	cfg := &telemetry.Config{
//	    ServiceName: "packlift",
//	    ServiceVersion: "1.0.0",
//	    Environment: "staging",
//	    Logging: telemetry.LoggingConfig{
//	        Level: "info",
//	        Format: "json",
//	    },
//	    Tracing: telemetry.TracingConfig{
//	        Enabled: true,
//	        Exporter: "otlp",
//	        Endpoint: "otel-collector:4317",
//	        SamplingRate: 0.1,
//	    },
//	    Metrics: telemetry.MetricsConfig{
//	        Enabled: true,
//	        ListenAddress: ":9090",
//	    },
//	}
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// This ensures:
//   - All buffered events are published
//   - All pending traces are exported
//   - Metrics are finalized
//
// # Integration with the Engine
//
// The engine components automatically integrate with telemetry when available:
//
//  1. Run execution: Run-level tracing, metrics, and events
//  2. Registry resolution: Cache hit/miss and digest failure counters
//  3. Flow execution: Installer call and status transition tracking
//  4. Interaction: Per-transport ask timing
//  5. Rollback: Outcome counters and audit events
//
// # Common Metrics
//
// Key metrics exposed:
//
//   - packlift_runs_started_total{operation}
//   - packlift_runs_completed_total{operation,status}
//   - packlift_run_duration_seconds{operation}
//   - packlift_pack_cache_hits_total
//   - packlift_pack_cache_misses_total
//   - packlift_pack_digest_failures_total
//   - packlift_pack_fetch_duration_seconds{scheme}
//   - packlift_questions_asked_total{transport}
//   - packlift_ask_duration_seconds{transport}
//   - packlift_installer_calls_total{status}
//   - packlift_flow_transitions_total{status}
//   - packlift_rollbacks_total{outcome}
//   - packlift_active_runs
//
// # Security Considerations
//
//   - Never log secret values; log keys and counts only
//   - Use secure connections (TLS) for trace exporters in production
//   - Limit metrics endpoint access via network policies
//   - Consider event data before adding to audit logs
package telemetry
