// Package calljob defines the unit of work that flows through the
// Queue Broker: a call's metadata plus where to find its audio, and
// enough identity information for the Worker Runtime to treat retries
// and retranscribe requests idempotently.
package calljob

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/snarg/callscribe/internal/metadata"
)

// Job is one unit of transcription work.
type Job struct {
	// ID identifies an existing call record to update in place. It is
	// empty for a call's first pass through the pipeline and set when
	// retranscribing (reprocessing audio already in the call store).
	// Notification dispatch is suppressed whenever ID is set, since a
	// retranscribe is not news to anyone who already saw the call.
	ID string `json:"id,omitempty"`

	// IndexName overrides the default search index, used by
	// reindex/backfill tooling. Empty means "use the configured default".
	IndexName string `json:"index_name,omitempty"`

	// AudioURL is where the call's audio already lives in blob storage.
	AudioURL string `json:"raw_audio_url,omitempty"`

	// WhisperImplementation overrides the worker process's configured
	// engine family for this job alone (e.g. "openai", "deepgram",
	// "remote-asr"). Empty means "use the process's configured engine".
	WhisperImplementation string `json:"whisper_implementation,omitempty"`

	// Prompt is the caller-supplied initial_prompt for an analog call,
	// which (unlike digital) has no source list to derive one from.
	// Ignored for digital calls, whose prompt always comes from
	// Metadata.SrcList's transcript_prompt entries.
	Prompt string `json:"prompt,omitempty"`

	Metadata metadata.Call `json:"metadata"`
}

// Encode serializes a Job for the broker payload.
func (j *Job) Encode() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return data, nil
}

// Decode parses a broker payload into a Job.
func Decode(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &j, nil
}

// IsRetranscribe reports whether this job updates an existing call
// rather than creating a new one.
func (j *Job) IsRetranscribe() bool {
	return j.ID != ""
}

// DeriveID computes a stable, content-addressed identifier for a call
// from its raw metadata; the intake surface uses it as the task id for
// /calls and /api/call-upload. Pure function of the bytes given to it:
// the same metadata always derives the same id, so resubmitting an
// identical call lands on the same task id instead of a new one.
func DeriveID(rawMetadata []byte) string {
	sum := sha256.Sum256(rawMetadata)
	return hex.EncodeToString(sum[:])
}
