// Package registry persists the set of watched repositories as a JSON file.
//
// The file is the single source of truth shared by the CLI and the watch
// daemon: commands rewrite it atomically, the daemon re-reads it when it
// changes on disk. Every operation loads the current file state, so a
// Registry value is a handle, not a cache.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// fileName is the registry file name below the user config directory.
const fileName = "repos.json"

// Entry is a single watched repository.
type Entry struct {
	Path string `json:"path"`
}

// fileFormat is the on-disk shape of the registry.
type fileFormat struct {
	Repos []Entry `json:"repos"`
}

// Registry is a handle on a registry file.
type Registry struct {
	mu   sync.Mutex
	path string
}

// DefaultPath returns the per-user registry location,
// e.g. ~/.config/gitsnap/repos.json on Linux.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config dir: %w", err)
	}

	return filepath.Join(dir, "gitsnap", fileName), nil
}

// Open returns a Registry backed by the file at path. An empty path selects
// the default location. The file does not need to exist yet.
func Open(path string) (*Registry, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving registry path: %w", err)
	}

	return &Registry{path: abs}, nil
}

// Path returns the absolute path of the registry file.
func (r *Registry) Path() string {
	return r.path
}

// List returns the registered repository paths in file order.
// A missing registry file yields an empty list.
func (r *Registry) List() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.load()
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(f.Repos))
	for _, e := range f.Repos {
		paths = append(paths, e.Path)
	}

	return paths, nil
}

// Add normalizes path and appends it to the registry. It returns the
// normalized path and whether the registry changed; registering an
// already-present path is a no-op.
func (r *Registry) Add(path string) (string, bool, error) {
	norm, err := Normalize(path)
	if err != nil {
		return "", false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.load()
	if err != nil {
		return norm, false, err
	}

	for _, e := range f.Repos {
		if e.Path == norm {
			return norm, false, nil
		}
	}

	f.Repos = append(f.Repos, Entry{Path: norm})

	if err := r.save(f); err != nil {
		return norm, false, err
	}

	return norm, true, nil
}

// Remove normalizes path and deletes it from the registry. It returns the
// normalized path and whether an entry was removed.
func (r *Registry) Remove(path string) (string, bool, error) {
	norm, err := Normalize(path)
	if err != nil {
		return "", false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.load()
	if err != nil {
		return norm, false, err
	}

	kept := f.Repos[:0]
	removed := false

	for _, e := range f.Repos {
		if e.Path == norm {
			removed = true
			continue
		}
		kept = append(kept, e)
	}

	if !removed {
		return norm, false, nil
	}

	f.Repos = kept

	if err := r.save(f); err != nil {
		return norm, false, err
	}

	return norm, true, nil
}

// load reads the registry file. A missing file is an empty registry.
func (r *Registry) load() (*fileFormat, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileFormat{}, nil
		}

		return nil, fmt.Errorf("reading registry %s: %w", r.path, err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing registry %s: %w", r.path, err)
	}

	return &f, nil
}

// save rewrites the registry file atomically so that concurrent readers
// (the daemon's hot-reload in particular) never observe a partial write.
func (r *Registry) save(f *fileFormat) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating registry dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".repos-*.json")
	if err != nil {
		return fmt.Errorf("creating registry temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("writing registry: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("closing registry temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("replacing registry: %w", err)
	}

	return nil
}

// Normalize expands a user-supplied repository path to its canonical
// registry form: `~` and environment variables are expanded, then the path
// is made absolute and cleaned.
func Normalize(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty repository path")
	}

	expanded := os.ExpandEnv(path)

	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding ~: %w", err)
		}
		expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}

	return filepath.Clean(abs), nil
}

// Diff compares two path lists and returns the entries only present in next
// (added) and only present in prev (removed), both sorted. The daemon uses
// it to translate an on-disk registry change into watch updates.
func Diff(prev, next []string) (added, removed []string) {
	prevSet := make(map[string]struct{}, len(prev))
	for _, p := range prev {
		prevSet[p] = struct{}{}
	}

	nextSet := make(map[string]struct{}, len(next))
	for _, p := range next {
		nextSet[p] = struct{}{}
	}

	for p := range nextSet {
		if _, ok := prevSet[p]; !ok {
			added = append(added, p)
		}
	}

	for p := range prevSet {
		if _, ok := nextSet[p]; !ok {
			removed = append(removed, p)
		}
	}

	sort.Strings(added)
	sort.Strings(removed)

	return added, removed
}
