// Package events provides outbound event distribution adapters.
//
// Implementations:
//   - redis: relays hub traffic into a capped Redis Stream for
//     out-of-process consumers
package events
