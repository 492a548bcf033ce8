// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Work item management, transitions and assignment
//   - Template management
//   - Worker lifecycle and pool inspection
//   - Trace ingestion and history
//   - Health checks
//   - Prometheus metrics
package http
