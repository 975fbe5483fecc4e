// Package dispatch sends finished utterances to the external query/agent
// subsystem and returns its replies. The pipeline guarantees at most one
// outstanding dispatch per session; this package does not need to.
package dispatch

import (
	"context"
	"encoding/json"
	"time"
)

// HistoryEntry is one prior conversation turn.
type HistoryEntry struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionContext carries the conversation context for a dispatch.
type SessionContext struct {
	SessionID string
	UserID    string
	History   []HistoryEntry
}

// Result is the query subsystem's answer to one utterance.
type Result struct {
	ReplyText         string
	StructuredPayload json.RawMessage // opaque to this core
}

// Dispatcher is the contract to the query subsystem. Every call yields
// exactly one Result or one error; the caller treats all errors the same
// way (spoken apology, session continues).
type Dispatcher interface {
	Dispatch(ctx context.Context, utterance, dispatchID string, sctx SessionContext) (Result, error)
}
