// Package workflow implements the work item state machine and its approval
// gates.
//
// The engine validates requests against the five legal transitions
// (backlog_to_ready, ready_to_in_progress, in_progress_to_review,
// review_to_done and the review_to_in_progress rework path), applies
// per-item approval overrides
// over the injected process defaults, and refuses entry into ready while
// blocking items remain unresolved.
package workflow
