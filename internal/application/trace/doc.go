// Package trace implements the observability event hub.
//
// Ingested trace events are persisted through the trace store and broadcast
// to live subscribers; the two side effects are independent, so a store
// failure never suppresses broadcast and an empty subscriber set never
// skips persistence. Delivery is best-effort and at-most-once per event. Events
// of type error or approval_required additionally fan out on a distinct
// alert callback. A retention cap trims the oldest persisted events.
package trace
