// Package repository merges the scripts of all locations into one sorted,
// validated collection.
package repository

import (
	"strings"

	"github.com/dbmaintain/dbmaintain/internal/config"
	"github.com/dbmaintain/dbmaintain/internal/script"
)

type Repository struct {
	scripts  []*script.Script
	byName   map[string]*script.Script
	settings *Settings
	baseline script.Version
}

// New loads every location. Identical files found in more than one location
// are kept once. knownDatabases lists the configured database names; a nil
// slice disables the target database check. All locations must agree on the
// conventions that decide a script's kind, version and patch status.
func New(locations []Location, knownDatabases []string) (*Repository, error) {
	r := &Repository{byName: map[string]*script.Script{}}
	for _, loc := range locations {
		if err := r.useSettings(loc); err != nil {
			return nil, err
		}
		scripts, err := loc.Scripts()
		if err != nil {
			return nil, err
		}
		for _, s := range scripts {
			if err := r.add(s, loc.Name()); err != nil {
				return nil, err
			}
		}
	}
	script.Sort(r.scripts)
	if err := r.checkVersions(); err != nil {
		return nil, err
	}
	if knownDatabases != nil {
		if err := r.checkTargets(knownDatabases); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// FromScripts builds a repository over already loaded scripts.
func FromScripts(scripts []*script.Script, knownDatabases []string) (*Repository, error) {
	return New([]Location{staticLocation(scripts)}, knownDatabases)
}

type staticLocation []*script.Script

func (staticLocation) Name() string { return "memory" }
func (l staticLocation) Scripts() ([]*script.Script, error) { return l, nil }

func (r *Repository) useSettings(loc Location) error {
	c, ok := loc.(configured)
	if !ok {
		return nil
	}
	settings, err := c.Settings()
	if err != nil {
		return err
	}
	if r.settings == nil {
		baseline, err := settings.baseline()
		if err != nil {
			return err
		}
		r.settings = &settings
		r.baseline = baseline
		return nil
	}
	if field := settings.conflict(*r.settings); field != "" {
		return config.Errorf("script location %s uses a different %s than the other locations", loc.Name(), field)
	}
	return nil
}

// Settings returns the conventions shared by the locations. ok is false for
// repositories built from already loaded scripts.
func (r *Repository) Settings() (settings Settings, ok bool) {
	if r.settings == nil {
		return Settings{}, false
	}
	return *r.settings, true
}

// Baseline is the baseline revision, zero when none is configured.
func (r *Repository) Baseline() script.Version { return r.baseline }

// BelowBaseline reports whether s is an incremental script older than the
// baseline revision. Such scripts are neither loaded nor compared with the
// ledger.
func (r *Repository) BelowBaseline(s *script.Script) bool {
	return s.IsIncremental() && !r.baseline.IsZero() && s.Version().Compare(r.baseline) < 0
}

func (r *Repository) add(s *script.Script, location string) error {
	if prev, ok := r.byName[s.FileName()]; ok {
		if prev.Checksum() == s.Checksum() {
			return nil
		}
		return config.Errorf("script %s exists in more than one location with different content (%s)", s.FileName(), location)
	}
	r.byName[s.FileName()] = s
	r.scripts = append(r.scripts, s)
	return nil
}

func (r *Repository) checkVersions() error {
	seen := map[string]string{}
	for _, s := range r.scripts {
		if !s.IsIncremental() {
			continue
		}
		v := s.Version().String()
		if other, ok := seen[v]; ok {
			return config.Errorf("scripts %s and %s have the same version index %s", other, s.FileName(), v)
		}
		seen[v] = s.FileName()
	}
	return nil
}

func (r *Repository) checkTargets(known []string) error {
	names := map[string]bool{}
	for _, n := range known {
		names[strings.ToLower(n)] = true
	}
	for _, s := range r.scripts {
		if t := s.TargetDatabase(); t != "" && !names[t] {
			return config.Errorf("script %s targets database %s which is not configured", s.FileName(), t)
		}
	}
	return nil
}

// AllScripts returns every script in execution order.
func (r *Repository) AllScripts() []*script.Script {
	return append([]*script.Script(nil), r.scripts...)
}

func (r *Repository) IndexedScripts() []*script.Script {
	return r.filter(script.Incremental)
}

func (r *Repository) RepeatableScripts() []*script.Script {
	return r.filter(script.Repeatable)
}

func (r *Repository) PreprocessingScripts() []*script.Script {
	return r.filter(script.Preprocessing)
}

func (r *Repository) PostprocessingScripts() []*script.Script {
	return r.filter(script.Postprocessing)
}

// Script looks a script up by file name.
func (r *Repository) Script(fileName string) (*script.Script, bool) {
	s, ok := r.byName[fileName]
	return s, ok
}

func (r *Repository) filter(kind script.Kind) []*script.Script {
	var out []*script.Script
	for _, s := range r.scripts {
		if s.Kind() == kind {
			out = append(out, s)
		}
	}
	return out
}
