package script

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	f, err := NewFactory(FactoryConfig{
		Qualifiers:            []string{"slow"},
		PatchQualifiers:       []string{"patch"},
		PreprocessingDir:      "preprocessing",
		PostprocessingDir:     "postprocessing",
		IgnoreCarriageReturns: true,
	})
	require.NoError(t, err)
	return f
}

func TestFactoryClassifiesScripts(t *testing.T) {
	f := newTestFactory(t)

	tests := []struct {
		name    string
		kind    Kind
		version string
		target  string
		patch   bool
	}{
		{name: "001_create_users.sql", kind: Incremental, version: "1"},
		{name: "01_release/02_users.sql", kind: Incremental, version: "1.2"},
		{name: "1.3_users.sql", kind: Incremental, version: "1.3"},
		{name: "views.sql", kind: Repeatable},
		{name: "01_release/views.sql", kind: Repeatable},
		{name: "postprocessing/01_grants.sql", kind: Postprocessing},
		{name: "preprocessing/setup.sql", kind: Preprocessing},
		{name: "003_users@reporting.sql", kind: Incremental, version: "3", target: "reporting"},
		{name: "004_fix#patch.sql", kind: Incremental, version: "4", patch: true},
		{name: "005_#patch_fix_@Reporting.sql", kind: Incremental, version: "5", target: "reporting", patch: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := f.New(tt.name, 0, []byte("select 1;"))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, s.Kind())
			assert.Equal(t, tt.version, s.Version().String())
			assert.Equal(t, tt.target, s.TargetDatabase())
			assert.Equal(t, tt.patch, s.IsPatch())
		})
	}
}

func TestFactoryRejectsUnknownQualifier(t *testing.T) {
	f := newTestFactory(t)

	_, err := f.New("001_users#unknown.sql", 0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown qualifier")

	s, err := f.FromLedger("001_users#unknown.sql", 0, "abc")
	require.NoError(t, err)
	assert.True(t, s.HasQualifier("unknown"))
	assert.Nil(t, s.Content())
}

func TestFactoryRejectsTwoTargets(t *testing.T) {
	f := newTestFactory(t)
	_, err := f.New("001_users@a@b.sql", 0, nil)
	require.Error(t, err)
}

func TestScriptOrder(t *testing.T) {
	f := newTestFactory(t)
	names := []string{
		"postprocessing/a.sql",
		"b.sql",
		"010_c.sql",
		"a.sql",
		"2_b.sql",
		"preprocessing/z.sql",
		"01_x/01_a.sql",
	}
	var scripts []*Script
	for _, n := range names {
		s, err := f.New(n, 0, nil)
		require.NoError(t, err)
		scripts = append(scripts, s)
	}
	Sort(scripts)

	var got []string
	for _, s := range scripts {
		got = append(got, s.FileName())
	}
	assert.Equal(t, []string{
		"preprocessing/z.sql",
		"01_x/01_a.sql",
		"2_b.sql",
		"010_c.sql",
		"a.sql",
		"b.sql",
		"postprocessing/a.sql",
	}, got)
}

func TestVersionCompare(t *testing.T) {
	a := NewVersion(1, 2)
	b := NewVersion(1, 10)
	c := NewVersion(1)

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, -1, c.Compare(a))
	assert.True(t, a.Equal(NewVersion(1, 2)))

	v, err := ParseVersion("1.2")
	require.NoError(t, err)
	assert.True(t, v.Equal(a))

	_, err = ParseVersion("1.x")
	assert.Error(t, err)
}

func TestChecksumIgnoresCarriageReturns(t *testing.T) {
	unix := Checksum([]byte("select 1;\nselect 2;\n"), true)
	windows := Checksum([]byte("\xEF\xBB\xBFselect 1;\r\nselect 2;\r\n"), true)
	assert.Equal(t, unix, windows)
	assert.NotEqual(t, Checksum([]byte("a\r\n"), false), Checksum([]byte("a\n"), false))
}

func TestContentEqual(t *testing.T) {
	f := newTestFactory(t)
	a, err := f.New("001_a.sql", 1000, []byte("one"))
	require.NoError(t, err)
	b, err := f.New("001_a.sql", 1000, []byte("two"))
	require.NoError(t, err)

	assert.False(t, a.ContentEqual(b, false))
	assert.True(t, a.ContentEqual(b, true))
}

func TestContentDecoding(t *testing.T) {
	enc, err := LookupEncoding("ISO-8859-1")
	require.NoError(t, err)

	c := NewContent([]byte{'c', 'a', 'f', 0xE9}, enc)
	b, err := io.ReadAll(c.Reader())
	require.NoError(t, err)
	assert.Equal(t, "café", string(b))

	enc, err = LookupEncoding("UTF-8")
	require.NoError(t, err)
	assert.Nil(t, enc)

	_, err = LookupEncoding("no-such-charset")
	assert.Error(t, err)
}
