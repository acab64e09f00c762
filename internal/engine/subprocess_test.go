package engine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseSegmentCSVDropsPlaceholdersAndBlankText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	body := "0,1500,unit responding\n1500,2200,[BLANK_AUDIO]\n2200,2300,\n2300,3000,[SOUND]\n3000,4000,copy that\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write CSV: %v", err)
	}

	segs, err := parseSegmentCSV(path)
	if err != nil {
		t.Fatalf("parseSegmentCSV: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2: %+v", len(segs), segs)
	}
	if segs[0].Text != "unit responding" || segs[0].Start != 0 || segs[0].End != 1.5 {
		t.Errorf("first segment = %+v", segs[0])
	}
	if segs[1].Text != "copy that" {
		t.Errorf("second segment = %+v", segs[1])
	}
}

func TestParseSegmentCSVDropsPlaceholderSubstringMatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	// whisper.cpp sometimes pads these markers with surrounding
	// whitespace or parenthetical text; containment must still catch them.
	body := "0,1000,  [BLANK_AUDIO]  \n1000,2000,(  [SOUND]  )\n2000,3000,copy\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write CSV: %v", err)
	}

	segs, err := parseSegmentCSV(path)
	if err != nil {
		t.Fatalf("parseSegmentCSV: %v", err)
	}
	if len(segs) != 1 || segs[0].Text != "copy" {
		t.Fatalf("segs = %+v", segs)
	}
}

func TestParseSegmentCSVSkipsMalformedRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	body := "not-a-number,1000,garbled timing\n0,1000,valid row\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write CSV: %v", err)
	}

	segs, err := parseSegmentCSV(path)
	if err != nil {
		t.Fatalf("parseSegmentCSV: %v", err)
	}
	if len(segs) != 1 || segs[0].Text != "valid row" {
		t.Fatalf("segs = %+v", segs)
	}
}

func TestNewSubprocessProviderMissingBinary(t *testing.T) {
	if _, err := NewSubprocessProvider("definitely-not-a-real-binary-xyz", "model.bin"); err == nil {
		t.Error("expected error for missing binary")
	}
}
