// Package metadata holds the call metadata envelope and transcript types
// shared by every stage of the transcription pipeline.
package metadata

import "encoding/json"

// AudioType enumerates the call audio encodings the pipeline accepts.
type AudioType string

const (
	AudioAnalog      AudioType = "analog"
	AudioDigital     AudioType = "digital"
	AudioDigitalTDMA AudioType = "digital tdma"
)

// FreqListItem is one frequency hop recorded during the call.
type FreqListItem struct {
	Freq       int64   `json:"freq"`
	Time       int64   `json:"time"`
	Pos        float64 `json:"pos"`
	Len        float64 `json:"len"`
	ErrorCount int     `json:"error_count"`
	SpikeCount int     `json:"spike_count"`
}

// SrcListItem is one radio's transmission within a call.
type SrcListItem struct {
	Src              int    `json:"src"`
	Time             int64  `json:"time"`
	Pos              float64 `json:"pos"`
	Emergency        bool   `json:"emergency"`
	SignalSystem     string `json:"signal_system"`
	Tag              string `json:"tag"`
	TranscriptPrompt string `json:"transcript_prompt,omitempty"`
}

// Call is the metadata envelope accompanying a call's audio.
//
// Invariants: StartTime <= StopTime; CallLength approximates
// StopTime-StartTime; for AudioDigital/AudioDigitalTDMA, SrcList is
// non-empty and Pos values are non-decreasing.
type Call struct {
	ShortName            string        `json:"short_name"`
	Talkgroup            int           `json:"talkgroup"`
	TalkgroupTag         string        `json:"talkgroup_tag"`
	TalkgroupDescription string        `json:"talkgroup_description"`
	TalkgroupGroupTag    string        `json:"talkgroup_group_tag"`
	TalkgroupGroup       string        `json:"talkgroup_group"`
	StartTime            int64         `json:"start_time"`
	StopTime             int64         `json:"stop_time"`
	CallLength           float64       `json:"call_length"`
	Freq                 int64         `json:"freq"`
	AudioType            AudioType     `json:"audio_type"`
	Emergency            bool          `json:"emergency"`
	Encrypted            bool          `json:"encrypted"`
	FreqList             []FreqListItem `json:"freqList"`
	SrcList              []SrcListItem  `json:"srcList"`
}

// Valid checks that the call's timing and source list are internally
// consistent. It does not mutate Call; callers reject invalid metadata
// at intake, before the call ever reaches the queue.
func (c *Call) Valid() error {
	if c.StartTime > c.StopTime {
		return errInvalid("start_time after stop_time")
	}
	if c.AudioType == AudioDigital || c.AudioType == AudioDigitalTDMA {
		if len(c.SrcList) == 0 {
			return errInvalid("digital call with empty src_list")
		}
		for i := 1; i < len(c.SrcList); i++ {
			if c.SrcList[i].Pos < c.SrcList[i-1].Pos {
				return errInvalid("src_list positions are not non-decreasing")
			}
		}
	}
	return nil
}

type invalidMetadataError string

func (e invalidMetadataError) Error() string { return "invalid call metadata: " + string(e) }

func errInvalid(msg string) error { return invalidMetadataError(msg) }

// MarshalRaw returns the canonical JSON encoding of the metadata, used both
// for call-store persistence (raw_metadata) and as the input to idempotent
// job id derivation.
func (c *Call) MarshalRaw() ([]byte, error) {
	return json.Marshal(c)
}
