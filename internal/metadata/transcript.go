package metadata

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/snarg/callscribe/internal/callerr"
)

// unintelligible replaces segment text that is too short or carries a
// known Whisper hallucination artifact (Windows Media Player XML tags
// leaking into silence, e.g. "urn.com", "urn.schemas").
const unintelligible = "(unintelligible)"

var bannedKeywords = []string{"urn.com", "urn.schemas"}

// Segment pairs a span of transcript text with the radio that spoke it.
// Src is nil for analog calls, where the transcript is not attributed.
type Segment struct {
	Src  *SrcListItem
	Text string
}

// Transcript is an ordered sequence of attributed or unattributed text
// segments produced by the Radio-Type Shaper from a post-processed
// engine result.
type Transcript struct {
	segments []Segment
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds a segment, substituting the unintelligible placeholder for
// text that is too short (<=1 char) or matches a banned keyword. This is
// a Transcript-level safety net distinct from the Post-Processor's rule
// engine (internal/postprocess), which runs on raw engine segments
// before attribution.
func (t *Transcript) Append(text string, src *SrcListItem) *Transcript {
	if len(text) <= 1 || containsBanned(text) {
		text = unintelligible
	}
	t.segments = append(t.segments, Segment{Src: src, Text: text})
	return t
}

func containsBanned(text string) bool {
	for _, kw := range bannedKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Empty reports whether the transcript has no segments.
func (t *Transcript) Empty() bool {
	return len(t.segments) == 0
}

// Segments returns the underlying segment slice. Callers must not mutate
// the returned slice's Src pointers in place; use UpdateSrc instead.
func (t *Transcript) Segments() []Segment {
	return t.segments
}

// textLen returns the plain-text length of the concatenated transcript, used
// by Valid to enforce the four-character minimum.
func (t *Transcript) textLen() int {
	n := 0
	for _, s := range t.segments {
		n += len(s.Text)
	}
	return n
}

// Valid reports whether the transcript is non-empty and its concatenated
// text is at least four characters long.
func (t *Transcript) Valid() bool {
	return !t.Empty() && t.textLen() >= 4
}

// falseTriggerTexts are the only possible contents of a one-segment
// transcript that still gets rejected as noise rather than speech —
// Whisper's well-known silence false trigger and the substitution
// placeholder Append uses for banned/too-short text.
var falseTriggerTexts = map[string]bool{
	"Thank you.":   true,
	unintelligible: true,
}

// Validate checks the transcript is usable: non-empty, and not a single
// segment consisting entirely of a known false-trigger phrase (Whisper
// hallucinating "Thank you." or "(unintelligible)" out of silence).
func (t *Transcript) Validate() error {
	if t.Empty() {
		return callerr.New(callerr.KindTranscriptTooShort, "transcript is empty")
	}
	if len(t.segments) == 1 && falseTriggerTexts[strings.TrimSpace(t.segments[0].Text)] {
		return callerr.New(callerr.KindTranscriptTooShort, "no speech found")
	}
	return nil
}

// UpdateSrc re-attributes every segment whose source shares Src with
// newSrc. Used by reindex tooling outside the core pipeline when a
// radio's tag changes after the fact.
func (t *Transcript) UpdateSrc(newSrc *SrcListItem) {
	if newSrc == nil {
		return
	}
	for i := range t.segments {
		if t.segments[i].Src != nil && t.segments[i].Src.Src == newSrc.Src {
			t.segments[i].Src = newSrc
		}
	}
}

// Raw returns the transcript as its underlying [source, text] sequence,
// JSON-encoded. This is the format persisted as raw_transcript in the
// call store.
func (t *Transcript) Raw() (json.RawMessage, error) {
	tuples := make([][2]any, len(t.segments))
	for i, s := range t.segments {
		if s.Src != nil {
			tuples[i] = [2]any{s.Src, s.Text}
		} else {
			tuples[i] = [2]any{nil, s.Text}
		}
	}
	return json.Marshal(tuples)
}

// FromRaw reconstructs a Transcript from the encoding Raw produces. A
// transcript serialized then reconstructed this way compares equal to
// the original.
func FromRaw(raw json.RawMessage) (*Transcript, error) {
	var tuples [][2]json.RawMessage
	if err := json.Unmarshal(raw, &tuples); err != nil {
		return nil, fmt.Errorf("decode raw transcript: %w", err)
	}
	t := NewTranscript()
	for _, tuple := range tuples {
		var text string
		if err := json.Unmarshal(tuple[1], &text); err != nil {
			return nil, fmt.Errorf("decode transcript text: %w", err)
		}
		var src *SrcListItem
		if string(tuple[0]) != "null" {
			src = &SrcListItem{}
			if err := json.Unmarshal(tuple[0], src); err != nil {
				return nil, fmt.Errorf("decode transcript source: %w", err)
			}
		}
		t.segments = append(t.segments, Segment{Src: src, Text: text})
	}
	return t, nil
}

func label(src *SrcListItem) string {
	if src.Tag != "" {
		return src.Tag
	}
	return fmt.Sprintf("%d", src.Src)
}

// HTML renders the transcript with <i data-src="..."> source tagging,
// matching the format the legacy notification templates expect.
func (t *Transcript) HTML() string {
	lines := make([]string, len(t.segments))
	for i, s := range t.segments {
		if s.Src != nil {
			lines[i] = fmt.Sprintf(`<i data-src="%d">%s:</i> %s`, s.Src.Src, label(s.Src), s.Text)
		} else {
			lines[i] = s.Text
		}
	}
	return strings.Join(lines, "<br>")
}

// Markdown renders the transcript following Telegram's Markdown dialect,
// used by the notification collaborator.
func (t *Transcript) Markdown() string {
	lines := make([]string, len(t.segments))
	for i, s := range t.segments {
		if s.Src != nil {
			lines[i] = fmt.Sprintf("_%s:_ %s", label(s.Src), s.Text)
		} else {
			lines[i] = s.Text
		}
	}
	return strings.Join(lines, "\n")
}

// Text renders the transcript as plain text with "tag: text" lines.
func (t *Transcript) Text() string {
	lines := make([]string, len(t.segments))
	for i, s := range t.segments {
		if s.Src != nil {
			lines[i] = fmt.Sprintf("%s: %s", label(s.Src), s.Text)
		} else {
			lines[i] = s.Text
		}
	}
	return strings.Join(lines, "\n")
}

var htmlSrcLine = regexp.MustCompile(`^<i data-src="(-?[0-9]+)">(.*?):</i> (.*)$`)
var htmlPlainSrcLine = regexp.MustCompile(`^<i>(-?[0-9]+):</i> (.*)$`)

// LoadHTML reconstructs a Transcript from its HTML serialization,
// backing reindex tooling that re-attributes sources outside the core
// pipeline.
func LoadHTML(html string) (*Transcript, error) {
	t := NewTranscript()
	lines := strings.Split(strings.ReplaceAll(html, "<br>", "\n"), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, `<i data-src="`) {
			m := htmlSrcLine.FindStringSubmatch(line)
			if m == nil {
				return nil, fmt.Errorf("cannot parse HTML transcript line: %q", line)
			}
			src := parseSrc(m[1])
			tag := m[2]
			if tag == m[1] {
				tag = ""
			}
			t.segments = append(t.segments, Segment{
				Src:  &SrcListItem{Src: src, Tag: tag, Pos: -1, Time: -1},
				Text: m[3],
			})
		} else if strings.HasPrefix(line, "<i>") {
			m := htmlPlainSrcLine.FindStringSubmatch(line)
			if m == nil {
				return nil, fmt.Errorf("cannot parse HTML transcript line: %q", line)
			}
			t.segments = append(t.segments, Segment{
				Src:  &SrcListItem{Src: parseSrc(m[1]), Pos: -1, Time: -1},
				Text: m[2],
			})
		} else {
			t.segments = append(t.segments, Segment{Text: line})
		}
	}
	return t, nil
}

func parseSrc(s string) int {
	n := 0
	neg := false
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n
}
