// Package postprocess applies rule-based cleanup and repeat-run
// collapsing to a raw engine transcription before it is handed to the
// Radio-Type Shaper.
package postprocess

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/snarg/callscribe/internal/callerr"
	"github.com/snarg/callscribe/internal/engine"
)

// MatchType controls how Rule.Pattern is compared against segment text.
type MatchType string

const (
	// MatchPartial matches if the segment text contains Pattern,
	// case-insensitively, anywhere.
	MatchPartial MatchType = "partial"
	// MatchFull matches if the segment text, trimmed and lowercased,
	// equals Pattern exactly.
	MatchFull MatchType = "full"
)

// Action is what to do with a segment that matches a Rule.
type Action string

const (
	// ActionDelete removes the matching segment entirely.
	ActionDelete Action = "delete"
	// ActionReplace substitutes Rule.Replacement for the matched text
	// within the segment, keeping the segment.
	ActionReplace Action = "replace"
)

// Rule is one cleanup rule: known hallucination or filler text to strip
// or rewrite before a transcript is shaped and stored.
type Rule struct {
	Pattern         string    `json:"pattern"`
	MatchType       MatchType `json:"match_type"`
	Action          Action    `json:"action"`
	Replacement     string    `json:"replacement,omitempty"`
	IsHallucination bool      `json:"is_hallucination"`
}

// LoadRules reads a JSON array of Rule from path.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cleanup rules: %w", err)
	}
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse cleanup rules: %w", err)
	}
	return rules, nil
}

func (r Rule) matches(text string) bool {
	switch r.MatchType {
	case MatchFull:
		return strings.EqualFold(strings.TrimSpace(text), r.Pattern)
	default: // MatchPartial
		return strings.Contains(strings.ToLower(text), strings.ToLower(r.Pattern))
	}
}

func (r Rule) apply(text string) string {
	if r.Action != ActionReplace {
		return text
	}
	return replaceAllFold(text, r.Pattern, r.Replacement)
}

// replaceAllFold replaces every case-insensitive occurrence of pattern in
// text with replacement, mirroring Python's str.replace against the
// original rule engine's all-occurrence semantics.
func replaceAllFold(text, pattern, replacement string) string {
	if pattern == "" {
		return text
	}
	lower := strings.ToLower(text)
	patLower := strings.ToLower(pattern)

	var b strings.Builder
	for {
		idx := strings.Index(lower, patLower)
		if idx < 0 {
			b.WriteString(text)
			break
		}
		b.WriteString(text[:idx])
		b.WriteString(replacement)
		text = text[idx+len(pattern):]
		lower = lower[idx+len(pattern):]
	}
	return b.String()
}

// Cleanup runs the rule engine over segments, then collapses
// consecutive identical repeats.
//
// Rule pass: each segment is tested against rules in order; the first
// matching rule is applied (delete removes the segment, replace rewrites
// its text) and later rules are not considered for that segment. A
// segment flagged by a rule with IsHallucination counts toward the
// hallucination total; if every segment is flagged, the whole
// transcript is rejected as worthless rather than returning an
// almost-empty result.
//
// Repeat pass: a run of N identical consecutive segment texts collapses
// to a single occurrence once N reaches 3; two identical segments in a
// row are left alone, since that's common in ordinary radio traffic
// ("copy", "copy").
func Cleanup(segments []engine.Segment, rules []Rule) ([]engine.Segment, error) {
	if len(segments) == 0 {
		return nil, callerr.New(callerr.KindTranscriptTooShort, "no segments to clean up")
	}

	kept := make([]engine.Segment, 0, len(segments))
	hallucinations := 0
	for _, seg := range segments {
		text := seg.Text
		deleted := false
		for _, rule := range rules {
			if !rule.matches(text) {
				continue
			}
			if rule.IsHallucination {
				hallucinations++
			}
			switch rule.Action {
			case ActionDelete:
				deleted = true
			case ActionReplace:
				text = rule.apply(text)
			}
			break
		}
		if deleted {
			continue
		}
		seg.Text = text
		kept = append(kept, seg)
	}

	if hallucinations > 0 && hallucinations == len(segments) {
		return nil, callerr.New(callerr.KindTranscriptInvalid, "transcript invalid, 100% hallucination")
	}

	return collapseRepeats(kept), nil
}

// collapseRepeats drops the earlier occurrences of a run of 3+
// identical consecutive segment texts, keeping the run's first
// survivor and discarding the rest. Runs of exactly 2 are left intact.
func collapseRepeats(segments []engine.Segment) []engine.Segment {
	deleted := make([]bool, len(segments))
	prevText := ""
	timesRepeated := 0

	for i, seg := range segments {
		if i > 0 && seg.Text == prevText {
			timesRepeated++
		} else {
			timesRepeated = 0
		}
		prevText = seg.Text

		switch {
		case timesRepeated == 2:
			for j := i - timesRepeated; j < i; j++ {
				deleted[j] = true
			}
		case timesRepeated > 2:
			deleted[i] = true
		}
	}

	out := make([]engine.Segment, 0, len(segments))
	for i, seg := range segments {
		if !deleted[i] {
			out = append(out, seg)
		}
	}
	return out
}
