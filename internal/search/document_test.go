package search

import (
	"strings"
	"testing"
	"time"

	"github.com/snarg/callscribe/internal/metadata"
)

func digitalCall() metadata.Call {
	return metadata.Call{
		ShortName:      "countyso",
		Talkgroup:      5210,
		TalkgroupTag:   "Dispatch",
		TalkgroupGroup: "Fire",
		AudioType:      metadata.AudioDigital,
		StartTime:      1700000000,
		StopTime:       1700000010,
		SrcList: []metadata.SrcListItem{
			{Src: 101, Pos: 0, Tag: "Engine 96"},
			{Src: 102, Pos: 2.5},
			{Src: -1, Pos: 3}, // non-positive src ids are never radios/units
		},
	}
}

func transcriptFor(t *testing.T, entries ...[2]any) *metadata.Transcript {
	t.Helper()
	tr := metadata.NewTranscript()
	for _, e := range entries {
		var src *metadata.SrcListItem
		if e[0] != nil {
			src = e[0].(*metadata.SrcListItem)
		}
		tr.Append(e[1].(string), src)
	}
	return tr
}

func TestBuildDocumentDerivesUnitsRadiosSrcList(t *testing.T) {
	call := digitalCall()
	e96 := call.SrcList[0]
	tr := transcriptFor(t, [2]any{&e96, "E96 on scene"}, [2]any{nil, "copy"})

	doc, err := BuildDocument("42", call, "https://cdn.example.com/a.mp3", tr, nil, "")
	if err != nil {
		t.Fatalf("BuildDocument: %v", err)
	}

	if doc.ID != "42" {
		t.Errorf("ID = %q", doc.ID)
	}
	if len(doc.Units) != 1 || doc.Units[0] != "Engine 96" {
		t.Errorf("Units = %v, want [Engine 96]", doc.Units)
	}
	if len(doc.Radios) != 2 {
		t.Errorf("Radios = %v, want 2 entries (101, 102)", doc.Radios)
	}
	wantSrcList := map[string]bool{"Engine 96": true, "102": true}
	if len(doc.SrcList) != 2 {
		t.Fatalf("SrcList = %v, want 2 entries", doc.SrcList)
	}
	for _, s := range doc.SrcList {
		if !wantSrcList[s] {
			t.Errorf("unexpected srcList entry %q", s)
		}
	}
}

func TestBuildDocumentTalkgroupHierarchy(t *testing.T) {
	call := digitalCall()
	tr := transcriptFor(t, [2]any{nil, "hello"})
	doc, err := BuildDocument("1", call, "", tr, nil, "")
	if err != nil {
		t.Fatalf("BuildDocument: %v", err)
	}
	if doc.TalkgroupHierarchyLvl0 != "countyso" {
		t.Errorf("lvl0 = %q", doc.TalkgroupHierarchyLvl0)
	}
	if doc.TalkgroupHierarchyLvl1 != "countyso > Fire" {
		t.Errorf("lvl1 = %q", doc.TalkgroupHierarchyLvl1)
	}
	if doc.TalkgroupHierarchyLvl2 != "countyso > Fire > Dispatch" {
		t.Errorf("lvl2 = %q", doc.TalkgroupHierarchyLvl2)
	}
}

func TestBuildDocumentAnalogHasEmptyUnitsAndSrcList(t *testing.T) {
	call := metadata.Call{ShortName: "countyso", AudioType: metadata.AudioAnalog, StartTime: 1, StopTime: 2}
	tr := transcriptFor(t, [2]any{nil, "hello"})
	doc, err := BuildDocument("2", call, "", tr, nil, "")
	if err != nil {
		t.Fatalf("BuildDocument: %v", err)
	}
	if len(doc.Units) != 0 || len(doc.SrcList) != 0 || len(doc.Radios) != 0 {
		t.Errorf("expected empty derived sets for analog call, got units=%v srcList=%v radios=%v", doc.Units, doc.SrcList, doc.Radios)
	}
}

func TestBuildDocumentSetsGeoOnlyWhenProvided(t *testing.T) {
	call := digitalCall()
	tr := transcriptFor(t, [2]any{nil, "hello"})

	doc, err := BuildDocument("3", call, "", tr, nil, "")
	if err != nil {
		t.Fatalf("BuildDocument: %v", err)
	}
	if doc.Geo != nil {
		t.Error("Geo should be nil when not provided")
	}

	doc, err = BuildDocument("3", call, "", tr, &GeoPoint{Lat: 1, Lng: 2}, "123 Main St")
	if err != nil {
		t.Fatalf("BuildDocument: %v", err)
	}
	if doc.Geo == nil || doc.Geo.Lat != 1 || doc.Geo.Lng != 2 {
		t.Errorf("Geo = %+v", doc.Geo)
	}
	if doc.GeoFormattedAddress != "123 Main St" {
		t.Errorf("GeoFormattedAddress = %q", doc.GeoFormattedAddress)
	}
}

func TestDeepLinkURLEmptyBaseReturnsEmpty(t *testing.T) {
	if got := DeepLinkURL("", "calls", Document{ID: "1"}); got != "" {
		t.Errorf("DeepLinkURL with empty base = %q, want empty", got)
	}
}

func TestDeepLinkURLIncludesHitFragmentAndTrimsBase(t *testing.T) {
	doc := Document{ID: "99", StartTime: 100000, TalkgroupTag: "Dispatch"}
	got := DeepLinkURL("https://search.example.com/", "calls", doc)

	if !strings.HasSuffix(got, "#hit-99") {
		t.Errorf("expected #hit-99 fragment, got %q", got)
	}
	if !strings.Contains(got, "https://search.example.com?") {
		t.Errorf("expected trailing slash trimmed from base, got %q", got)
	}
}

func TestDeepLinkURLRangeMath(t *testing.T) {
	doc := Document{ID: "1", StartTime: 100000, TalkgroupTag: "Dispatch"}
	got := DeepLinkURL("https://search.example.com", "calls", doc)
	wantRange := "98800%3A100600" // (100000-1200):(100000+600) URL-encoded colon
	if !strings.Contains(got, wantRange) {
		t.Errorf("expected range %q in url, got %q", wantRange, got)
	}
}

func TestIndexNameForNoSharding(t *testing.T) {
	if got := IndexNameFor("calls", false, time.Now()); got != "calls" {
		t.Errorf("IndexNameFor = %q, want calls", got)
	}
}

func TestIndexNameForMonthlySharding(t *testing.T) {
	ts := time.Date(2026, 2, 28, 23, 59, 30, 0, time.UTC)
	if got := IndexNameFor("calls", true, ts); got != "calls_2026_02" {
		t.Errorf("IndexNameFor = %q, want calls_2026_02", got)
	}
}
