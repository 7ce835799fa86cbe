package shader

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/abossard/vjuniverse/errors"
)

// DefaultReloadInterval is how often the registry polls the shader
// directory for modification-time changes. Polling is deliberately coarse;
// it bounds filesystem cost and is checked from the tick, not a goroutine.
const DefaultReloadInterval = 5 * time.Second

// Registry enumerates shader files on disk and detects changes.
// The registry exclusively owns its Descriptors; callers receive copies.
type Registry struct {
	dir            string
	logger         *slog.Logger
	reloadInterval time.Duration

	descriptors []Descriptor
	byName      map[string]Descriptor // normalized name -> descriptor

	generation uint64
	lastPoll   time.Time
	lastMod    time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithReloadInterval overrides the directory poll interval.
func WithReloadInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.reloadInterval = d
		}
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates a registry rooted at dir. Call Scan before use.
func NewRegistry(dir string, opts ...RegistryOption) *Registry {
	r := &Registry{
		dir:            dir,
		logger:         slog.Default().With("component", "shader-registry"),
		reloadInterval: DefaultReloadInterval,
		byName:         make(map[string]Descriptor),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scan enumerates shader files under the registry directory, partitioned by
// dialect, replacing all previous descriptors. The result is ordered by name
// so repeated scans of an unchanged tree are deterministic.
func (r *Registry) Scan() error {
	var found []Descriptor
	var latest time.Time

	err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A vanished file mid-walk is not fatal; skip it.
			return nil
		}
		info, statErr := d.Info()
		if statErr == nil && info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		if d.IsDir() {
			return nil
		}
		dialect, ok := knownExtensions[strings.ToLower(filepath.Ext(path))]
		if !ok {
			return nil
		}
		found = append(found, Descriptor{
			Name:    descriptorName(dialect, path),
			Path:    path,
			Dialect: dialect,
		})
		return nil
	})
	if err != nil {
		return errors.WrapTransient(err, "registry", "Scan", "directory walk")
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })

	byName := make(map[string]Descriptor, len(found))
	for _, desc := range found {
		key := normalizeName(desc.Name)
		if prev, dup := byName[key]; dup {
			r.logger.Warn("Duplicate shader name, keeping first",
				"name", desc.Name, "kept", prev.Path, "ignored", desc.Path)
			continue
		}
		byName[key] = desc
	}

	r.descriptors = found
	r.byName = byName
	r.lastMod = latest
	// The poll interval starts at scan time, so the first CheckReload after
	// startup is a no-op until the interval elapses.
	r.lastPoll = time.Now()
	r.logger.Info("Shader scan complete",
		"dir", r.dir, "count", len(found), "generation", r.generation)
	return nil
}

// All returns a copy of every descriptor, ordered by name.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// ByDialect returns descriptors of one dialect, preserving scan order.
func (r *Registry) ByDialect(d Dialect) []Descriptor {
	var out []Descriptor
	for _, desc := range r.descriptors {
		if desc.Dialect == d {
			out = append(out, desc)
		}
	}
	return out
}

// Count returns the number of known shaders.
func (r *Registry) Count() int {
	return len(r.descriptors)
}

// Get resolves a shader by name. Matching is case-insensitive after
// stripping known extensions and an optional dialect-prefix segment.
func (r *Registry) Get(name string) (Descriptor, error) {
	if desc, ok := r.byName[normalizeName(name)]; ok {
		return desc, nil
	}
	return Descriptor{}, errors.WrapNotFound(
		fmt.Errorf("%w: %q", errors.ErrShaderNotFound, name),
		"registry", "Get", "shader lookup")
}

// Generation returns the reload generation. It increments each time
// CheckReload detects a change; compiled and bound state keyed to an older
// generation is invalid.
func (r *Registry) Generation() uint64 {
	return r.generation
}

// CheckReload polls the directory modification time at the configured
// interval. When the interval has not elapsed it is a cheap no-op. On a
// detected change it rescans and bumps the generation; the caller must then
// invalidate all compiled and bound state.
func (r *Registry) CheckReload(now time.Time) (bool, error) {
	if now.Sub(r.lastPoll) < r.reloadInterval {
		return false, nil
	}
	r.lastPoll = now

	latest, err := r.latestModTime()
	if err != nil {
		return false, errors.WrapTransient(err, "registry", "CheckReload", "mtime poll")
	}
	if !latest.After(r.lastMod) {
		return false, nil
	}

	r.logger.Info("Shader directory changed, reloading", "dir", r.dir)
	if err := r.Scan(); err != nil {
		return false, err
	}
	r.generation++
	return true, nil
}

func (r *Registry) latestModTime() (time.Time, error) {
	var latest time.Time
	err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	return latest, err
}
