// Package assignment connects assignable work items to concrete workers.
//
// A request first passes the workflow engine's eligibility check for
// entering in_progress, then takes an idle worker whose template carries the
// requested role, spawning one from the role's template when the pool has
// spare capacity. Saturated requests queue in FIFO order, de-duplicated by
// work item id, and drain whenever the pool signals freed capacity.
package assignment
