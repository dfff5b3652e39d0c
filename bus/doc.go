// Package bus is the message bus agents use to hand work to each other.
//
// A [Message] moves through a small state machine (pending, claimed,
// in_progress, then completed or failed, with release back to pending).
// [Service] exposes the operations; [Store] keeps the table in memory and
// rewrites the whole document on disk after every change:
//
//	{
//	  "messages": {"<id>": {"id": "<id>", "status": "pending", ...}},
//	  "updated_at": "2026-01-02T03:04:05Z"
//	}
//
// Errors are sentinel values wrapped with context: [ErrNotFound],
// [ErrInvalidTransition], [ErrNotClaimant], [ErrNotRecipient] and
// [ErrInvalidMessage].
package bus
