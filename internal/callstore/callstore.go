// Package callstore is the relational call store collaborator contract:
// a table keyed by integer id holding a call's raw metadata, its audio
// location, and the transcript the Worker Runtime fills in once
// transcription finishes. The worker updates a row in place by id, so
// retries and retranscribe requests never create duplicate rows.
package callstore

import (
	"context"
	"encoding/json"
	"time"
)

// Record is one call store row. Transcript and Geo are nil until a
// worker writes them; RawMetadata and RawAudioURL are set at insert
// time by the intake surface.
type Record struct {
	ID                  int64
	RawMetadata         json.RawMessage
	RawAudioURL         string
	RawTranscript       json.RawMessage
	TranscriptPlaintext string
	Geo                 json.RawMessage
	StartTime           time.Time
}

// Store is the call store contract. Implementations must make
// UpdateTranscript and UpdateGeo idempotent: calling either twice with
// the same arguments leaves the row in the same state it would be in
// after one call, since at-least-once delivery means a worker may
// process the same job more than once.
type Store interface {
	// Insert creates a new row and returns its id.
	Insert(ctx context.Context, rec *Record) (int64, error)

	// Get fetches a row by id, used by reindex tooling and retranscribe
	// jobs that need the original audio URL and metadata.
	Get(ctx context.Context, id int64) (*Record, error)

	// UpdateTranscript writes the transcript produced for an existing
	// row, identified by id.
	UpdateTranscript(ctx context.Context, id int64, rawTranscript json.RawMessage, plaintext string) error

	// UpdateGeo attaches geocoding information to an existing row.
	UpdateGeo(ctx context.Context, id int64, geo json.RawMessage) error

	Close()
}
