// Package storage provides entity store implementations.
//
// Implementations:
//   - redis: Redis with JSON serialization, plus a capped list for traces
//   - memory: In-memory for testing
package storage
