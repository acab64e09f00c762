package metadata

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeRadioIDConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "radio_ids.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRadioIDReplacerMatchesConfiguredPattern(t *testing.T) {
	dir := t.TempDir()
	path := writeRadioIDConfig(t, dir, `{
		"countyso": [
			{"pattern": "^1[0-9]{3}$", "tag": "Engine", "prompt": "fire engine unit"}
		]
	}`)

	r, err := NewRadioIDReplacer(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRadioIDReplacer: %v", err)
	}
	defer r.Close()

	tag, prompt, ok := r.Replace("countyso", 1042)
	if !ok || tag != "Engine" || prompt != "fire engine unit" {
		t.Errorf("Replace = (%q, %q, %v), want (Engine, fire engine unit, true)", tag, prompt, ok)
	}

	if _, _, ok := r.Replace("countyso", 9999); ok {
		t.Error("non-matching id should not match")
	}
	if _, _, ok := r.Replace("othersystem", 1042); ok {
		t.Error("rule scoped to a different system should not match")
	}
}

func TestRadioIDReplacerApplyLeavesExistingTags(t *testing.T) {
	dir := t.TempDir()
	path := writeRadioIDConfig(t, dir, `{
		"countyso": [{"pattern": "^2[0-9]{3}$", "tag": "Medic"}]
	}`)
	r, err := NewRadioIDReplacer(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRadioIDReplacer: %v", err)
	}
	defer r.Close()

	items := []SrcListItem{
		{Src: 2001},
		{Src: 2002, Tag: "already tagged"},
	}
	r.Apply("countyso", items)

	if items[0].Tag != "Medic" {
		t.Errorf("untagged item not filled in: %+v", items[0])
	}
	if items[1].Tag != "already tagged" {
		t.Errorf("existing tag overwritten: %+v", items[1])
	}
}

func TestRadioIDReplacerEmptyPathIsNoop(t *testing.T) {
	r, err := NewRadioIDReplacer("", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRadioIDReplacer: %v", err)
	}
	if _, _, ok := r.Replace("any", 1); ok {
		t.Error("replacer with no config should never match")
	}
}

func TestRadioIDReplacerHotReload(t *testing.T) {
	dir := t.TempDir()
	path := writeRadioIDConfig(t, dir, `{"countyso": [{"pattern": "^3[0-9]{3}$", "tag": "Old"}]}`)

	r, err := NewRadioIDReplacer(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRadioIDReplacer: %v", err)
	}
	defer r.Close()

	if tag, _, ok := r.Replace("countyso", 3001); !ok || tag != "Old" {
		t.Fatalf("initial rule not loaded: tag=%q ok=%v", tag, ok)
	}

	writeRadioIDConfig(t, dir, `{"countyso": [{"pattern": "^3[0-9]{3}$", "tag": "New"}]}`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tag, _, ok := r.Replace("countyso", 3001); ok && tag == "New" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("config change was not picked up via hot reload in time")
}
