// Package session defines the conversation turn log model.
//
// Invariants:
// - Turns are append-only and partitioned by conversation ID.
// - A part carries exactly one payload (text, tool call, tool result, or inline media).
// - Continuation tokens on tool calls are opaque and round-tripped unmodified.
//
// Usage:
//
//	turn := session.NewTextTurn("12345", session.RoleUser, "list files")
//	_ = store.AppendTurn(ctx, turn)
package session
