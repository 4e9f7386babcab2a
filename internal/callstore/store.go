// Package callstore keeps call metadata records: who called, when, for how
// long, and how many turns and nudges the call had. Conversation text is
// never stored.
package callstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for an id.
var ErrNotFound = errors.New("callstore: call not found")

// Record is the metadata of one call.
type Record struct {
	ID       string            `json:"id"`
	StreamID string            `json:"stream_id"`
	Caller   map[string]string `json:"caller,omitempty"`

	StartedAt time.Time `json:"started_at"`
	// EndedAt is zero while the call is live.
	EndedAt time.Time `json:"ended_at,omitzero"`

	Turns  int `json:"turns"`
	Nudges int `json:"nudges"`
}

// Active reports whether the call has not finished yet.
func (r Record) Active() bool { return r.EndedAt.IsZero() }

// Duration is the call length, or zero while the call is live.
func (r Record) Duration() time.Duration {
	if r.Active() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Store persists call records. Implementations must be safe for concurrent
// use.
type Store interface {
	// Start records a new call. Starting an id that already exists
	// replaces the earlier record.
	Start(ctx context.Context, rec Record) error

	// Finish stamps the end time and final counters. It returns
	// [ErrNotFound] for an unknown id.
	Finish(ctx context.Context, id string, endedAt time.Time, turns, nudges int) error

	// Get returns the record for id, or [ErrNotFound].
	Get(ctx context.Context, id string) (Record, error)

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close()
}
