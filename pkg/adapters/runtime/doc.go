// Package runtime provides agent execution runtime implementations.
//
// The factory creates a session runtime based on provider configuration.
// Currently supports:
//   - Anthropic Claude
package runtime
