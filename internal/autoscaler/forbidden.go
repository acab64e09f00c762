package autoscaler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ForbiddenSet tracks marketplace hostnames that must never be rented
// again within this process's lifetime, because a prior instance there
// got stuck loading or reported an error. It is additive within a
// process (nothing ever removes a host once added) and is persisted to
// disk so a restarted autoscaler doesn't immediately re-rent a host
// that just burned it.
type ForbiddenSet struct {
	mu      sync.RWMutex
	hosts   map[string]bool
	path    string
	log     zerolog.Logger
	watcher *fsnotify.Watcher
}

// LoadForbiddenSet reads path if it exists (a JSON array of hostnames)
// and returns a ForbiddenSet seeded from it. A missing file is not an
// error: it means nothing has been forbidden yet.
func LoadForbiddenSet(path string, log zerolog.Logger) (*ForbiddenSet, error) {
	fs := &ForbiddenSet{
		hosts: make(map[string]bool),
		path:  path,
		log:   log.With().Str("component", "forbidden-set").Logger(),
	}
	if path == "" {
		return fs, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, err
	}

	var hosts []string
	if err := json.Unmarshal(data, &hosts); err != nil {
		return nil, err
	}
	for _, h := range hosts {
		fs.hosts[h] = true
	}
	return fs, nil
}

// Contains reports whether host has been forbidden.
func (fs *ForbiddenSet) Contains(host string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.hosts[host]
}

// Add marks hosts as forbidden and persists the updated set to disk. A
// no-op write (all hosts already forbidden) skips the disk write.
func (fs *ForbiddenSet) Add(hosts ...string) error {
	fs.mu.Lock()
	changed := false
	for _, h := range hosts {
		if h == "" || fs.hosts[h] {
			continue
		}
		fs.hosts[h] = true
		changed = true
	}
	snapshot := fs.snapshotLocked()
	fs.mu.Unlock()

	if !changed {
		return nil
	}
	return writeAtomic(fs.path, snapshot)
}

// Snapshot returns the current forbidden hosts in no particular order
// (map iteration order), for logging/inspection.
func (fs *ForbiddenSet) Snapshot() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.snapshotLocked()
}

func (fs *ForbiddenSet) snapshotLocked() []string {
	out := make([]string, 0, len(fs.hosts))
	for h := range fs.hosts {
		out = append(out, h)
	}
	return out
}

func writeAtomic(path string, hosts []string) error {
	if path == "" {
		return nil
	}
	data, err := json.Marshal(hosts)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Watch reloads the set from disk whenever another process (e.g. a
// sibling autoscaler during a deploy overlap) rewrites the forbidden
// host file out from under this one. It runs until ctx is canceled.
func (fs *ForbiddenSet) Watch(ctx context.Context) error {
	if fs.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	fs.watcher = w
	defer w.Close()

	dir := filepath.Dir(fs.path)
	if err := w.Add(dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(fs.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := fs.reload(); err != nil {
				fs.log.Warn().Err(err).Msg("failed to reload forbidden host set")
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fs.log.Warn().Err(err).Msg("forbidden host watcher error")
		}
	}
}

func (fs *ForbiddenSet) reload() error {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		return err
	}
	var hosts []string
	if err := json.Unmarshal(data, &hosts); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, h := range hosts {
		fs.hosts[h] = true
	}
	return nil
}
