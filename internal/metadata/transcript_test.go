package metadata

import (
	"testing"

	"github.com/snarg/callscribe/internal/callerr"
)

func TestTranscriptAppendSubstitutesUnintelligible(t *testing.T) {
	tr := NewTranscript()
	tr.Append("a", nil)
	tr.Append("hello http://urn.com/schema", nil)
	tr.Append("normal text", nil)

	segs := tr.Segments()
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	if segs[0].Text != unintelligible {
		t.Errorf("short text not substituted: %q", segs[0].Text)
	}
	if segs[1].Text != unintelligible {
		t.Errorf("banned keyword not substituted: %q", segs[1].Text)
	}
	if segs[2].Text != "normal text" {
		t.Errorf("normal text mutated: %q", segs[2].Text)
	}
}

func TestTranscriptValid(t *testing.T) {
	empty := NewTranscript()
	if empty.Valid() {
		t.Error("empty transcript should be invalid")
	}

	short := NewTranscript().Append("hi", nil)
	if short.Valid() {
		t.Error("transcript under four chars should be invalid")
	}

	ok := NewTranscript().Append("dispatch copy", nil)
	if !ok.Valid() {
		t.Error("transcript with real text should be valid")
	}
}

func TestTranscriptValidateRejectsFalseTrigger(t *testing.T) {
	cases := []string{"Thank you.", unintelligible}
	for _, text := range cases {
		tr := NewTranscript()
		tr.segments = append(tr.segments, Segment{Text: text})
		err := tr.Validate()
		if err == nil {
			t.Errorf("Validate() should reject lone false-trigger segment %q", text)
			continue
		}
		if kind, ok := callerr.ClassifyOf(err); !ok || kind != callerr.KindTranscriptTooShort {
			t.Errorf("Validate() error kind = %v, ok=%v, want KindTranscriptTooShort", kind, ok)
		}
	}
}

func TestTranscriptValidateAcceptsRealSingleSegment(t *testing.T) {
	tr := NewTranscript().Append("unit responding to the call", nil)
	if err := tr.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestTranscriptValidateRejectsEmpty(t *testing.T) {
	if err := NewTranscript().Validate(); err == nil {
		t.Error("Validate() should reject an empty transcript")
	}
}

func TestTranscriptHTMLAndTextRendering(t *testing.T) {
	tr := NewTranscript()
	tr.Append("unit responding", &SrcListItem{Src: 101, Tag: "Engine 4"})
	tr.Append("copy that", nil)

	wantHTML := `<i data-src="101">Engine 4:</i> unit responding<br>copy that`
	if got := tr.HTML(); got != wantHTML {
		t.Errorf("HTML() = %q, want %q", got, wantHTML)
	}

	wantText := "Engine 4: unit responding\ncopy that"
	if got := tr.Text(); got != wantText {
		t.Errorf("Text() = %q, want %q", got, wantText)
	}

	wantMD := "_Engine 4:_ unit responding\ncopy that"
	if got := tr.Markdown(); got != wantMD {
		t.Errorf("Markdown() = %q, want %q", got, wantMD)
	}
}

func TestTranscriptHTMLRoundTrip(t *testing.T) {
	tr := NewTranscript()
	tr.Append("unit responding", &SrcListItem{Src: 101, Tag: "Engine 4"})
	tr.Append("copy that", nil)

	parsed, err := LoadHTML(tr.HTML())
	if err != nil {
		t.Fatalf("LoadHTML: %v", err)
	}
	segs := parsed.Segments()
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].Src == nil || segs[0].Src.Src != 101 || segs[0].Src.Tag != "Engine 4" {
		t.Errorf("source not reconstructed: %+v", segs[0].Src)
	}
	if segs[0].Text != "unit responding" {
		t.Errorf("text not reconstructed: %q", segs[0].Text)
	}
	if segs[1].Src != nil {
		t.Errorf("unattributed segment got a source: %+v", segs[1].Src)
	}
}

func TestTranscriptHTMLRoundTripBareSrcTag(t *testing.T) {
	parsed, err := LoadHTML(`<i>42:</i> radio check`)
	if err != nil {
		t.Fatalf("LoadHTML: %v", err)
	}
	segs := parsed.Segments()
	if len(segs) != 1 || segs[0].Src == nil || segs[0].Src.Src != 42 {
		t.Fatalf("unexpected segments: %+v", segs)
	}
	if segs[0].Text != "radio check" {
		t.Errorf("text = %q, want %q", segs[0].Text, "radio check")
	}
}

func TestTranscriptRawRoundTrip(t *testing.T) {
	tr := NewTranscript()
	tr.Append("unit responding", &SrcListItem{Src: 101, Tag: "Engine 4", Pos: 1.5})
	tr.Append("copy that", nil)

	raw, err := tr.Raw()
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	back, err := FromRaw(raw)
	if err != nil {
		t.Fatalf("FromRaw: %v", err)
	}
	segs := back.Segments()
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].Src == nil || segs[0].Src.Src != 101 || segs[0].Src.Pos != 1.5 {
		t.Errorf("source not preserved across raw round trip: %+v", segs[0].Src)
	}
	if segs[1].Src != nil {
		t.Errorf("nil source became non-nil across raw round trip: %+v", segs[1].Src)
	}
}

func TestTranscriptUpdateSrc(t *testing.T) {
	tr := NewTranscript()
	tr.Append("a dispatch", &SrcListItem{Src: 7, Tag: "old"})
	tr.Append("b dispatch", &SrcListItem{Src: 9, Tag: "other"})

	tr.UpdateSrc(&SrcListItem{Src: 7, Tag: "new"})

	segs := tr.Segments()
	if segs[0].Src.Tag != "new" {
		t.Errorf("matching source not updated: %+v", segs[0].Src)
	}
	if segs[1].Src.Tag != "other" {
		t.Errorf("non-matching source mutated: %+v", segs[1].Src)
	}
}
