package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// radioIDRule rewrites a raw radio id into a friendly tag and an optional
// prompt fragment to feed the transcription engine, when the call's own
// source list carries no unit tag for that id.
type radioIDRule struct {
	Pattern     string `json:"pattern"`
	Tag         string `json:"tag"`
	Prompt      string `json:"prompt,omitempty"`
	compiled    *regexp.Regexp
}

// RadioIDReplacer maps raw radio ids to friendly tags/prompts on a
// per-system basis, loaded from a JSON config and hot-reloaded when that
// file changes on disk.
type RadioIDReplacer struct {
	path string
	log  zerolog.Logger

	mu    sync.RWMutex
	rules map[string][]radioIDRule // keyed by short_name

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// radioIDConfig is the on-disk shape: {"<short_name>": [{"pattern":...}]}.
type radioIDConfig map[string][]radioIDRule

// NewRadioIDReplacer loads rules from path and starts watching it for
// changes. Call Close when done. An empty or missing path yields a
// replacer with no rules that never matches (Replace is then a no-op).
func NewRadioIDReplacer(path string, log zerolog.Logger) (*RadioIDReplacer, error) {
	r := &RadioIDReplacer{
		path: path,
		log:  log.With().Str("component", "radioid").Logger(),
	}
	if path == "" {
		return r, nil
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	if err := r.watch(); err != nil {
		r.log.Warn().Err(err).Msg("radio id config hot-reload disabled")
	}
	return r, nil
}

func (r *RadioIDReplacer) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read radio id config: %w", err)
	}
	return r.LoadFromBytes(data)
}

// LoadFromBytes replaces the active rule set from an in-memory JSON
// document of the same shape the on-disk config uses. This is how the
// MQTT unit-tag directory feed (internal/mqttclient) pushes live
// updates from the out-of-scope CSV-driven loader without either side
// touching the filesystem.
func (r *RadioIDReplacer) LoadFromBytes(data []byte) error {
	var cfg radioIDConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse radio id config: %w", err)
	}
	for system, rules := range cfg {
		for i := range rules {
			re, err := regexp.Compile(rules[i].Pattern)
			if err != nil {
				return fmt.Errorf("radio id config: system %q: compile pattern %q: %w", system, rules[i].Pattern, err)
			}
			rules[i].compiled = re
		}
	}
	r.mu.Lock()
	r.rules = cfg
	r.mu.Unlock()
	return nil
}

func (r *RadioIDReplacer) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		w.Close()
		return err
	}
	r.watcher = w
	r.done = make(chan struct{})
	go r.watchLoop()
	return nil
}

func (r *RadioIDReplacer) watchLoop() {
	target := filepath.Clean(r.path)
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.reload(); err != nil {
				r.log.Warn().Err(err).Msg("failed to reload radio id config")
			} else {
				r.log.Info().Msg("reloaded radio id config")
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn().Err(err).Msg("radio id config watcher error")
		}
	}
}

// Close stops the hot-reload watcher, if one is running.
func (r *RadioIDReplacer) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.done)
	return r.watcher.Close()
}

// Replace returns a friendly tag and prompt fragment for src within
// shortName's system, if a configured rule matches its raw id. It
// leaves src untouched and only reports what it would set, so callers
// can decide whether an existing tag takes precedence.
func (r *RadioIDReplacer) Replace(shortName string, src int) (tag, prompt string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id := fmt.Sprintf("%d", src)
	for _, rule := range r.rules[shortName] {
		if rule.compiled != nil && rule.compiled.MatchString(id) {
			return rule.Tag, rule.Prompt, true
		}
	}
	return "", "", false
}

// Apply fills in Tag and TranscriptPrompt for any source list entries
// that have no tag of their own, using the configured rules for
// shortName. It mutates items in place and is a no-op for entries that
// already carry a tag.
func (r *RadioIDReplacer) Apply(shortName string, items []SrcListItem) {
	for i := range items {
		if items[i].Tag != "" {
			continue
		}
		tag, prompt, ok := r.Replace(shortName, items[i].Src)
		if !ok {
			continue
		}
		items[i].Tag = tag
		if items[i].TranscriptPrompt == "" {
			items[i].TranscriptPrompt = prompt
		}
	}
}
