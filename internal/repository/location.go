package repository

import (
	"archive/zip"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dbmaintain/dbmaintain/internal/config"
	"github.com/dbmaintain/dbmaintain/internal/script"
)

// ArchiveConfigEntry is the reserved archive entry holding the settings the
// archive was packaged with.
const ArchiveConfigEntry = "dbmaintain.yaml"

// Settings are the naming and content conventions of one location.
type Settings struct {
	Encoding              string   `yaml:"encoding"`
	Extensions            []string `yaml:"extensions"`
	PreprocessingDir      string   `yaml:"preprocessing_dir"`
	PostprocessingDir     string   `yaml:"postprocessing_dir"`
	Qualifiers            []string `yaml:"qualifiers"`
	PatchQualifiers       []string `yaml:"patch_qualifiers"`
	QualifierPrefix       string   `yaml:"qualifier_prefix"`
	TargetDatabasePrefix  string   `yaml:"target_database_prefix"`
	BaselineRevision      string   `yaml:"baseline_revision"`
	IgnoreCarriageReturns bool     `yaml:"ignore_carriage_returns"`
}

// SettingsFromConfig copies the location settings out of the scripts section.
func SettingsFromConfig(cfg config.ScriptsConfig) Settings {
	return Settings{
		Encoding:              cfg.Encoding,
		Extensions:            cfg.Extensions,
		PreprocessingDir:      cfg.PreprocessingDir,
		PostprocessingDir:     cfg.PostprocessingDir,
		Qualifiers:            cfg.Qualifiers,
		PatchQualifiers:       cfg.PatchQualifiers,
		QualifierPrefix:       cfg.QualifierPrefix,
		TargetDatabasePrefix:  cfg.TargetDatabasePrefix,
		BaselineRevision:      cfg.BaselineRevision,
		IgnoreCarriageReturns: cfg.IgnoreCarriageReturns,
	}
}

// Factory builds the script factory for these settings.
func (s Settings) Factory() (*script.Factory, error) {
	enc, err := script.LookupEncoding(s.Encoding)
	if err != nil {
		return nil, config.WrapError(err, "invalid script encoding %q", s.Encoding)
	}
	return script.NewFactory(script.FactoryConfig{
		QualifierPrefix:       s.QualifierPrefix,
		TargetDatabasePrefix:  s.TargetDatabasePrefix,
		Qualifiers:            s.Qualifiers,
		PatchQualifiers:       s.PatchQualifiers,
		PreprocessingDir:      s.PreprocessingDir,
		PostprocessingDir:     s.PostprocessingDir,
		IgnoreCarriageReturns: s.IgnoreCarriageReturns,
		Encoding:              enc,
	})
}

func (s Settings) baseline() (script.Version, error) {
	if strings.TrimSpace(s.BaselineRevision) == "" {
		return script.Version{}, nil
	}
	v, err := script.ParseVersion(strings.TrimSpace(s.BaselineRevision))
	if err != nil {
		return script.Version{}, config.WrapError(err, "invalid baseline revision %q", s.BaselineRevision)
	}
	return v, nil
}

// conflict names the first convention that rebuilds ledger rows differently
// under s than under o, or returns "".
func (s Settings) conflict(o Settings) string {
	switch {
	case s.PreprocessingDir != o.PreprocessingDir:
		return "preprocessing_dir"
	case s.PostprocessingDir != o.PostprocessingDir:
		return "postprocessing_dir"
	case orDefault(s.QualifierPrefix, "#") != orDefault(o.QualifierPrefix, "#"):
		return "qualifier_prefix"
	case orDefault(s.TargetDatabasePrefix, "@") != orDefault(o.TargetDatabasePrefix, "@"):
		return "target_database_prefix"
	case !sameWords(s.Qualifiers, o.Qualifiers):
		return "qualifiers"
	case !sameWords(s.PatchQualifiers, o.PatchQualifiers):
		return "patch_qualifiers"
	case strings.TrimSpace(s.BaselineRevision) != strings.TrimSpace(o.BaselineRevision):
		return "baseline_revision"
	}
	return ""
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func sameWords(a, b []string) bool {
	set := map[string]bool{}
	for _, w := range a {
		set[strings.ToLower(strings.TrimSpace(w))] = true
	}
	other := map[string]bool{}
	for _, w := range b {
		w = strings.ToLower(strings.TrimSpace(w))
		if !set[w] {
			return false
		}
		other[w] = true
	}
	return len(set) == len(other)
}

func (s Settings) accepts(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if ext == "" {
		return false
	}
	if len(s.Extensions) == 0 {
		return ext == "sql" || ext == "ddl"
	}
	for _, e := range s.Extensions {
		if strings.EqualFold(strings.TrimPrefix(e, "."), ext) {
			return true
		}
	}
	return false
}

// Location is a source of scripts.
type Location interface {
	Name() string
	Scripts() ([]*script.Script, error)
}

// configured is implemented by locations that name scripts by Settings.
type configured interface {
	Settings() (Settings, error)
}

// DirLocation reads scripts from a directory tree.
type DirLocation struct {
	name     string
	fsys     fs.FS
	settings Settings
}

// NewDirLocation creates a location over fsys; name is used in messages only.
func NewDirLocation(name string, fsys fs.FS, settings Settings) *DirLocation {
	return &DirLocation{name: name, fsys: fsys, settings: settings}
}

func (l *DirLocation) Name() string { return l.name }

func (l *DirLocation) Settings() (Settings, error) { return l.settings, nil }

func (l *DirLocation) Scripts() ([]*script.Script, error) {
	return load(l.fsys, l.settings, nil)
}

// ArchiveLocation reads scripts from a zip archive. Settings found in the
// archive's ArchiveConfigEntry override the defaults.
type ArchiveLocation struct {
	path     string
	defaults Settings
}

func NewArchiveLocation(path string, defaults Settings) *ArchiveLocation {
	return &ArchiveLocation{path: path, defaults: defaults}
}

func (l *ArchiveLocation) Name() string { return l.path }

func (l *ArchiveLocation) Settings() (Settings, error) {
	zr, err := zip.OpenReader(l.path)
	if err != nil {
		return Settings{}, config.WrapError(err, "open script archive %s", l.path)
	}
	defer zr.Close()
	return l.settings(zr)
}

func (l *ArchiveLocation) Scripts() ([]*script.Script, error) {
	zr, err := zip.OpenReader(l.path)
	if err != nil {
		return nil, config.WrapError(err, "open script archive %s", l.path)
	}
	defer zr.Close()

	settings, err := l.settings(zr)
	if err != nil {
		return nil, err
	}
	return load(zr, settings, map[string]bool{ArchiveConfigEntry: true})
}

func (l *ArchiveLocation) settings(fsys fs.FS) (Settings, error) {
	settings := l.defaults
	data, err := fs.ReadFile(fsys, ArchiveConfigEntry)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return Settings{}, config.WrapError(err, "parse %s in archive %s", ArchiveConfigEntry, l.path)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Settings{}, fmt.Errorf("read %s from archive %s: %w", ArchiveConfigEntry, l.path, err)
	}
	return settings, nil
}

// Open returns the location for a path: a directory or a .zip/.jar archive.
func Open(p string, defaults Settings) (Location, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, config.WrapError(err, "script location %s", p)
	}
	if info.IsDir() {
		return NewDirLocation(p, os.DirFS(p), defaults), nil
	}
	switch strings.ToLower(filepath.Ext(p)) {
	case ".zip", ".jar":
		return NewArchiveLocation(p, defaults), nil
	}
	return nil, config.Errorf("script location %s is neither a directory nor an archive", p)
}

func load(fsys fs.FS, settings Settings, reserved map[string]bool) ([]*script.Script, error) {
	factory, err := settings.Factory()
	if err != nil {
		return nil, err
	}
	baseline, err := settings.baseline()
	if err != nil {
		return nil, err
	}

	var out []*script.Script
	err = fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || reserved[name] || !settings.accepts(name) {
			return nil
		}
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read script %s: %w", name, err)
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat script %s: %w", name, err)
		}
		s, err := factory.New(name, info.ModTime().UnixMilli(), raw)
		if err != nil {
			return err
		}
		if s.IsIncremental() && !baseline.IsZero() && s.Version().Compare(baseline) < 0 {
			return nil
		}
		out = append(out, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
