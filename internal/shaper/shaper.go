// Package shaper turns a post-processed engine result into a Transcript,
// attributing text to radios for digital calls and leaving it flat for
// analog calls.
package shaper

import (
	"strings"

	"github.com/snarg/callscribe/internal/engine"
	"github.com/snarg/callscribe/internal/metadata"
)

// closestSrc returns the source whose Pos is nearest to segStart. Ties
// go to the earlier entry in srcList, since it is only replaced by a
// strictly closer candidate.
func closestSrc(srcList []metadata.SrcListItem, segStart float64) *metadata.SrcListItem {
	if len(srcList) == 0 {
		return nil
	}
	best := &srcList[0]
	bestDist := absFloat(best.Pos - segStart)
	for i := 1; i < len(srcList); i++ {
		dist := absFloat(srcList[i].Pos - segStart)
		if dist < bestDist {
			best = &srcList[i]
			bestDist = dist
		}
	}
	return best
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// DigitalPrompt concatenates each source's TranscriptPrompt, in
// first-occurrence order and skipping blanks and duplicates, producing
// the engine prompt hint for a digital call.
func DigitalPrompt(srcList []metadata.SrcListItem) string {
	seen := make(map[string]bool)
	var parts []string
	for _, src := range srcList {
		p := strings.TrimSpace(src.TranscriptPrompt)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		parts = append(parts, p)
	}
	return strings.Join(parts, ", ")
}

// DigitalOptions builds engine options for a digital call: the
// concatenated source prompts as the initial prompt, and the
// operator-configured VAD filter setting for digital audio.
func DigitalOptions(base engine.Options, srcList []metadata.SrcListItem, vadFilter bool) engine.Options {
	opts := base
	opts.Prompt = DigitalPrompt(srcList)
	opts.VadFilter = vadFilter
	return opts
}

// AnalogOptions builds engine options for an analog call: the
// caller-supplied prompt (there's no source list to draw one from, so it
// stays empty unless the caller set one), plus the operator-configured
// VAD filter setting for analog audio.
func AnalogOptions(base engine.Options, prompt string, vadFilter bool) engine.Options {
	opts := base
	opts.Prompt = prompt
	opts.VadFilter = vadFilter
	return opts
}

// Digital attributes each post-processed segment to the source list
// entry positioned nearest the segment's start time, then validates the
// resulting transcript.
func Digital(srcList []metadata.SrcListItem, segments []engine.Segment) (*metadata.Transcript, error) {
	tr := metadata.NewTranscript()
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		src := closestSrc(srcList, seg.Start)
		tr.Append(text, src)
	}
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	return tr, nil
}

// Analog appends each post-processed segment unattributed (src is
// always nil), then validates the resulting transcript.
func Analog(segments []engine.Segment) (*metadata.Transcript, error) {
	tr := metadata.NewTranscript()
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		tr.Append(text, nil)
	}
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	return tr, nil
}
