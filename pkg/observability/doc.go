// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes observability infrastructure including JSON logging, metrics
// collection, health checks, and distributed tracing integration.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("port", 8080).Info("Server started")
//
// Context-aware logging:
//
//	logger.WithField("request_id", reqID).WithError(err).Error("Request failed")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.HTTPRequestsTotal.WithLabelValues("GET", "/modules", "200").Inc()
//	metrics.HTTPRequestDuration.WithLabelValues("GET", "/modules").Observe(0.123)
//
// Business metrics:
//
//	metrics.ModulesTotal.Set(float64(count))
//	metrics.ActiveUsersTotal.Set(float64(activeUsers))
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	status := checker.Check(ctx)
//	fmt.Printf("Status: %s\n", status.Status)
//
// # OpenTelemetry
//
// Initialize tracing:
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:        true,
//		Endpoint:       "otel-collector:4317",
//		ServiceName:    "spoke-api",
//		ServiceVersion: "v1.0.0",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/api: request logging middleware
package observability
