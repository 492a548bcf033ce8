// Package ports defines the interfaces the orchestration core consumes:
// entity stores, trace persistence, subscriber callbacks, the agent
// execution runtime, and the metrics collector. Adapters under pkg/adapters
// provide the implementations.
package ports
