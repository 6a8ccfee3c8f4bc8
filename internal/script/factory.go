package script

import (
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"

	"github.com/dbmaintain/dbmaintain/internal/config"
)

var indexPattern = regexp.MustCompile(`^(\d+(?:\.\d+)*)(?:_(.*))?$`)

// FactoryConfig holds the naming conventions of one script location.
type FactoryConfig struct {
	QualifierPrefix       string
	TargetDatabasePrefix  string
	Qualifiers            []string
	PatchQualifiers       []string
	PreprocessingDir      string
	PostprocessingDir     string
	IgnoreCarriageReturns bool
	Encoding              encoding.Encoding
}

// Factory turns file names (and content) into scripts.
type Factory struct {
	cfg          FactoryConfig
	qualifierPfx rune
	targetPfx    rune
	known        map[string]bool
	patches      map[string]bool
}

// NewFactory validates the naming conventions and builds a Factory.
func NewFactory(cfg FactoryConfig) (*Factory, error) {
	if cfg.QualifierPrefix == "" {
		cfg.QualifierPrefix = "#"
	}
	if cfg.TargetDatabasePrefix == "" {
		cfg.TargetDatabasePrefix = "@"
	}
	if utf8.RuneCountInString(cfg.QualifierPrefix) != 1 {
		return nil, config.Errorf("qualifier prefix must be a single character, got %q", cfg.QualifierPrefix)
	}
	if utf8.RuneCountInString(cfg.TargetDatabasePrefix) != 1 {
		return nil, config.Errorf("target database prefix must be a single character, got %q", cfg.TargetDatabasePrefix)
	}
	if cfg.QualifierPrefix == cfg.TargetDatabasePrefix {
		return nil, config.Errorf("qualifier prefix and target database prefix must differ")
	}
	f := &Factory{
		cfg:     cfg,
		known:   map[string]bool{},
		patches: map[string]bool{},
	}
	f.qualifierPfx, _ = utf8.DecodeRuneInString(cfg.QualifierPrefix)
	f.targetPfx, _ = utf8.DecodeRuneInString(cfg.TargetDatabasePrefix)
	for _, q := range cfg.Qualifiers {
		f.known[strings.ToLower(strings.TrimSpace(q))] = true
	}
	for _, q := range cfg.PatchQualifiers {
		q = strings.ToLower(strings.TrimSpace(q))
		f.known[q] = true
		f.patches[q] = true
	}
	return f, nil
}

// New builds a script from a location file. Unknown qualifiers are rejected.
func (f *Factory) New(fileName string, lastModified int64, raw []byte) (*Script, error) {
	s, err := f.parse(fileName, true)
	if err != nil {
		return nil, err
	}
	s.lastModified = lastModified
	s.checksum = Checksum(raw, f.cfg.IgnoreCarriageReturns)
	s.content = NewContent(raw, f.cfg.Encoding)
	return s, nil
}

// FromLedger rebuilds a script from a ledger row. The script has no content
// and qualifiers that are no longer configured are kept as they are.
func (f *Factory) FromLedger(fileName string, lastModified int64, checksum string) (*Script, error) {
	s, err := f.parse(fileName, false)
	if err != nil {
		return nil, err
	}
	s.lastModified = lastModified
	s.checksum = checksum
	return s, nil
}

func (f *Factory) parse(fileName string, strict bool) (*Script, error) {
	fileName = strings.Trim(path.Clean(strings.ReplaceAll(fileName, "\\", "/")), "/")
	if fileName == "" || fileName == "." {
		return nil, config.Errorf("empty script file name")
	}
	elements := strings.Split(fileName, "/")
	last := len(elements) - 1
	elements[last] = strings.TrimSuffix(elements[last], path.Ext(elements[last]))

	s := &Script{fileName: fileName, kind: Repeatable}
	qualifiers := map[string]bool{}
	var indexes []int64
	fileIndexed := false

	for i, element := range elements {
		if i < last {
			switch {
			case f.cfg.PreprocessingDir != "" && strings.EqualFold(element, f.cfg.PreprocessingDir):
				s.kind = Preprocessing
			case f.cfg.PostprocessingDir != "" && strings.EqualFold(element, f.cfg.PostprocessingDir):
				s.kind = Postprocessing
			}
		}
		rest := element
		if m := indexPattern.FindStringSubmatch(element); m != nil {
			for _, p := range strings.Split(m[1], ".") {
				n, err := strconv.ParseInt(p, 10, 64)
				if err != nil {
					return nil, config.WrapError(err, "invalid index in script %s", fileName)
				}
				indexes = append(indexes, n)
			}
			rest = m[2]
			if i == last {
				fileIndexed = true
			}
		}
		for _, tok := range f.tokens(rest) {
			first, size := utf8.DecodeRuneInString(tok)
			value := strings.ToLower(tok[size:])
			switch first {
			case f.targetPfx:
				if value == "" {
					return nil, config.Errorf("empty target database in script %s", fileName)
				}
				if s.targetDatabase != "" && s.targetDatabase != value {
					return nil, config.Errorf("script %s names more than one target database", fileName)
				}
				s.targetDatabase = value
			case f.qualifierPfx:
				if value == "" {
					return nil, config.Errorf("empty qualifier in script %s", fileName)
				}
				if strict && !f.known[value] {
					return nil, config.Errorf("unknown qualifier %q in script %s", value, fileName)
				}
				qualifiers[value] = true
				if f.patches[value] {
					s.patch = true
				}
			}
		}
	}

	if s.kind == Repeatable && fileIndexed {
		s.kind = Incremental
		s.version = Version{indexes: indexes}
	}
	for q := range qualifiers {
		s.qualifiers = append(s.qualifiers, q)
	}
	sort.Strings(s.qualifiers)
	return s, nil
}

// tokens splits a name into '_' separated words, also breaking before every
// qualifier or target database prefix.
func (f *Factory) tokens(name string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range name {
		switch r {
		case '_':
			flush()
		case f.qualifierPfx, f.targetPfx:
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
