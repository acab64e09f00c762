package shaper

import (
	"testing"

	"github.com/snarg/callscribe/internal/engine"
	"github.com/snarg/callscribe/internal/metadata"
)

func TestClosestSrcPicksNearestByPosition(t *testing.T) {
	srcList := []metadata.SrcListItem{
		{Src: 1, Pos: 0.0, Tag: "Engine 4"},
		{Src: 2, Pos: 5.0, Tag: "Medic 12"},
		{Src: 3, Pos: 9.0, Tag: "Battalion 1"},
	}
	got := closestSrc(srcList, 4.8)
	if got.Src != 2 {
		t.Errorf("closestSrc = %+v, want src 2", got)
	}
}

func TestClosestSrcTiesGoToEarlierEntry(t *testing.T) {
	srcList := []metadata.SrcListItem{
		{Src: 1, Pos: 0.0},
		{Src: 2, Pos: 10.0},
	}
	got := closestSrc(srcList, 5.0)
	if got.Src != 1 {
		t.Errorf("closestSrc on exact tie = %+v, want earlier src 1", got)
	}
}

func TestDigitalPromptDedupsInFirstOccurrenceOrder(t *testing.T) {
	srcList := []metadata.SrcListItem{
		{Src: 1, TranscriptPrompt: "Engine 4"},
		{Src: 2, TranscriptPrompt: "Medic 12"},
		{Src: 3, TranscriptPrompt: "Engine 4"},
		{Src: 4, TranscriptPrompt: ""},
	}
	got := DigitalPrompt(srcList)
	want := "Engine 4, Medic 12"
	if got != want {
		t.Errorf("DigitalPrompt = %q, want %q", got, want)
	}
}

func TestDigitalAttributesSegmentsToNearestSource(t *testing.T) {
	srcList := []metadata.SrcListItem{
		{Src: 101, Pos: 0.0, Tag: "Engine 4"},
		{Src: 202, Pos: 6.0, Tag: "Medic 12"},
	}
	segments := []engine.Segment{
		{Start: 0.5, End: 2.0, Text: " unit responding "},
		{Start: 5.8, End: 7.5, Text: "copy that"},
	}

	tr, err := Digital(srcList, segments)
	if err != nil {
		t.Fatalf("Digital: %v", err)
	}
	segs := tr.Segments()
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].Src.Src != 101 || segs[0].Text != "unit responding" {
		t.Errorf("segs[0] = %+v", segs[0])
	}
	if segs[1].Src.Src != 202 {
		t.Errorf("segs[1] = %+v", segs[1])
	}
}

func TestDigitalSkipsBlankSegments(t *testing.T) {
	srcList := []metadata.SrcListItem{{Src: 1, Pos: 0}}
	segments := []engine.Segment{
		{Start: 0, End: 1, Text: "   "},
		{Start: 1, End: 2, Text: "dispatch copy"},
	}
	tr, err := Digital(srcList, segments)
	if err != nil {
		t.Fatalf("Digital: %v", err)
	}
	if len(tr.Segments()) != 1 {
		t.Fatalf("got %d segments, want 1", len(tr.Segments()))
	}
}

func TestDigitalRejectsFalseTriggerResult(t *testing.T) {
	srcList := []metadata.SrcListItem{{Src: 1, Pos: 0}}
	segments := []engine.Segment{{Start: 0, End: 1, Text: "Thank you."}}
	if _, err := Digital(srcList, segments); err == nil {
		t.Error("expected Digital to reject a lone false-trigger segment")
	}
}

func TestAnalogLeavesSegmentsUnattributed(t *testing.T) {
	segments := []engine.Segment{
		{Start: 0, End: 1, Text: "dispatch copy"},
		{Start: 1, End: 2, Text: "unit responding"},
	}
	tr, err := Analog(segments)
	if err != nil {
		t.Fatalf("Analog: %v", err)
	}
	for _, s := range tr.Segments() {
		if s.Src != nil {
			t.Errorf("analog segment got a source: %+v", s)
		}
	}
}

func TestDigitalOptionsSetsPromptAndVadFilter(t *testing.T) {
	srcList := []metadata.SrcListItem{{Src: 1, TranscriptPrompt: "Engine 4"}}
	opts := DigitalOptions(engine.Options{Temperature: 0.2}, srcList, true)
	if opts.Prompt != "Engine 4" {
		t.Errorf("Prompt = %q", opts.Prompt)
	}
	if !opts.VadFilter {
		t.Error("VadFilter should be true")
	}
	if opts.Temperature != 0.2 {
		t.Errorf("base options not preserved: Temperature = %v", opts.Temperature)
	}
}

func TestAnalogOptionsDefaultsToEmptyPrompt(t *testing.T) {
	opts := AnalogOptions(engine.Options{Prompt: "stale"}, "", false)
	if opts.Prompt != "" {
		t.Errorf("Prompt = %q, want empty", opts.Prompt)
	}
	if opts.VadFilter {
		t.Error("VadFilter should be false")
	}
}

func TestAnalogOptionsUsesCallerPrompt(t *testing.T) {
	opts := AnalogOptions(engine.Options{Prompt: "stale"}, "units clear", true)
	if opts.Prompt != "units clear" {
		t.Errorf("Prompt = %q, want caller-supplied value", opts.Prompt)
	}
	if !opts.VadFilter {
		t.Error("VadFilter should be true")
	}
}
