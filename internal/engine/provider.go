// Package engine adapts third-party and local speech-to-text backends
// behind one interface, and caches live adapter instances by
// "<family>:<model>" so a process that handles many calls for the same
// model doesn't pay connection/load setup on every job.
package engine

import "context"

// Segment is one contiguous span of recognized speech.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Result is the common transcription output from any provider, before
// post-processing or radio-type shaping.
type Result struct {
	Text     string
	Language string
	Duration float64
	Segments []Segment
}

// Options are per-request tuning knobs. Zero values are omitted where
// the underlying backend supports omission, so callers only pay for the
// options they set.
type Options struct {
	Language string
	Prompt   string // initial/cleanup prompt, e.g. concatenated transcript_prompt values
	Hotwords string

	BeamSize                      int
	Temperature                   float64
	RepetitionPenalty             float64
	NoRepeatNgramSize             int
	ConditionOnPreviousText       *bool
	NoSpeechThreshold             float64
	HallucinationSilenceThreshold float64
	MaxNewTokens                  int
	CompressionRatioThreshold     float64

	VadFilter bool
}

// Provider is a speech-to-text backend.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error)
	Family() string // "openai", "deepgram", "native", "subprocess", "remote-asr"
	Model() string
}

// Key returns the registry key for a provider instance, "<family>:<model>".
func Key(family, model string) string {
	return family + ":" + model
}
