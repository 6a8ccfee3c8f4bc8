package script

import (
	"path"
	"sort"
	"strings"
	"time"
)

// Kind classifies a script by how it is executed.
type Kind int

// Kinds in execution order.
const (
	Preprocessing Kind = iota
	Incremental
	Repeatable
	Postprocessing
)

func (k Kind) String() string {
	switch k {
	case Preprocessing:
		return "preprocessing"
	case Incremental:
		return "incremental"
	case Repeatable:
		return "repeatable"
	case Postprocessing:
		return "postprocessing"
	default:
		return "unknown"
	}
}

// Script is one script file. Scripts are immutable: a changed file is a
// different Script value.
type Script struct {
	fileName       string
	version        Version
	qualifiers     []string
	targetDatabase string
	checksum       string
	lastModified   int64
	kind           Kind
	patch          bool
	content        *Content
}

func (s *Script) FileName() string { return s.fileName }

// Version is zero for non-incremental scripts.
func (s *Script) Version() Version { return s.version }

// Qualifiers returns the sorted, lower-cased qualifiers.
func (s *Script) Qualifiers() []string { return append([]string(nil), s.qualifiers...) }

func (s *Script) HasQualifier(q string) bool {
	q = strings.ToLower(q)
	for _, have := range s.qualifiers {
		if have == q {
			return true
		}
	}
	return false
}

// TargetDatabase is the database name tag, empty for the default database.
func (s *Script) TargetDatabase() string { return s.targetDatabase }

func (s *Script) Checksum() string { return s.checksum }

// LastModified is the file modification time in unix milliseconds.
func (s *Script) LastModified() int64 { return s.lastModified }

func (s *Script) Kind() Kind { return s.kind }

func (s *Script) IsIncremental() bool { return s.kind == Incremental }
func (s *Script) IsRepeatable() bool { return s.kind == Repeatable }
func (s *Script) IsPreprocessing() bool { return s.kind == Preprocessing }
func (s *Script) IsPostprocessing() bool { return s.kind == Postprocessing }
func (s *Script) IsPatch() bool { return s.patch }
func (s *Script) Content() *Content { return s.content }
func (s *Script) LastModifiedTime() time.Time { return time.UnixMilli(s.lastModified) }

// Extension returns the lower-cased file extension without the dot.
func (s *Script) Extension() string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(s.fileName), "."))
}

// Compare gives the total script order: preprocessing scripts, then
// incremental scripts by version, then repeatable scripts and finally
// postprocessing scripts, the latter three by file name.
func (s *Script) Compare(o *Script) int {
	if s.kind != o.kind {
		if s.kind < o.kind {
			return -1
		}
		return 1
	}
	if s.kind == Incremental {
		if c := s.version.Compare(o.version); c != 0 {
			return c
		}
	}
	return strings.Compare(s.fileName, o.fileName)
}

// ContentEqual reports whether both scripts hold the same content. With
// useLastModified, identical modification timestamps are taken as proof of
// equality without looking at the checksum.
func (s *Script) ContentEqual(o *Script, useLastModified bool) bool {
	if useLastModified && s.lastModified != 0 && s.lastModified == o.lastModified {
		return true
	}
	return s.checksum == o.checksum
}

func (s *Script) String() string { return s.fileName }

// Sort orders scripts in place by Compare.
func Sort(scripts []*Script) {
	sort.SliceStable(scripts, func(i, j int) bool { return scripts[i].Compare(scripts[j]) < 0 })
}

// ExecutedScript pairs a script with its ledger state.
type ExecutedScript struct {
	Script     *Script
	ExecutedAt time.Time
	Succeeded  bool
}

// SortExecuted orders executed scripts by their script order.
func SortExecuted(executed []ExecutedScript) {
	sort.SliceStable(executed, func(i, j int) bool {
		return executed[i].Script.Compare(executed[j].Script) < 0
	})
}
