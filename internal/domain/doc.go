// Package domain holds the core entities of crewd: work items moving
// through the five-stage pipeline, templates, workers, and trace events,
// together with the typed error codes surfaced by core operations.
package domain
