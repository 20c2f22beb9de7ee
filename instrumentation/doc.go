// Package instrumentation provides OpenTelemetry instrumentation for the
// credential lifecycle: engine operations, the HTTP transport, the stores and
// the expiry sweeper.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:        "oauth-lifecycle",
//		Enabled:            true,
//		PrometheusExporter: true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	http.Handle("/metrics", promhttp.Handler())
//
// When Enabled is false every provider is a no-op.
//
// # Available Metrics
//
// HTTP Layer:
//   - oauth.http.requests.total{method, endpoint, status}
//   - oauth.http.request.duration{endpoint}
//
// Lifecycle:
//   - oauth.code.issued{client_id}
//   - oauth.code.exchanged{client_id, offline_access}
//   - oauth.token.issued{kind, grant_type}
//   - oauth.token.refreshed{client_id}
//   - oauth.token.validated{valid}
//   - oauth.token.revoked{kind}
//   - oauth.operation.failures{operation, kind}
//
// Security:
//   - oauth.rate_limit.exceeded{limiter_type}
//   - oauth.auth.failures{principal}
//   - oauth.audit.events.total{event_type}
//   - oauth.encryption.operations.total{operation}
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.size.codes, storage.size.access_tokens, storage.size.refresh_tokens
//   - storage.sweep.runs{store, result}
//   - storage.sweep.removed{store}
//
// # Security Considerations
//
// Credential strings must never reach spans or metric labels. Identifiers
// (the jti claim) may, since they cannot be presented as credentials.
// client_id labels grow with the number of registered applications.
package instrumentation
