package update

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmaintain/dbmaintain/internal/repository"
	"github.com/dbmaintain/dbmaintain/internal/script"
)

type fixture struct {
	t       *testing.T
	factory *script.Factory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f, err := script.NewFactory(script.FactoryConfig{
		PatchQualifiers:   []string{"patch"},
		PreprocessingDir:  "preprocessing",
		PostprocessingDir: "postprocessing",
	})
	require.NoError(t, err)
	return &fixture{t: t, factory: f}
}

func (f *fixture) script(name, body string) *script.Script {
	f.t.Helper()
	s, err := f.factory.New(name, 0, []byte(body))
	require.NoError(f.t, err)
	return s
}

func (f *fixture) repo(scripts ...*script.Script) *repository.Repository {
	f.t.Helper()
	r, err := repository.FromScripts(scripts, nil)
	require.NoError(f.t, err)
	return r
}

func (f *fixture) executed(name, body string) script.ExecutedScript {
	return script.ExecutedScript{Script: f.script(name, body), Succeeded: true}
}

func types(updates []ScriptUpdate) []Type {
	var out []Type
	for _, u := range updates {
		out = append(out, u.Type)
	}
	return out
}

func TestInitialUpdateAddsEverything(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(
		f.script("001_a.sql", "create table a (id int);"),
		f.script("002_b.sql", "create table b (id int);"),
		f.script("views.sql", "create view v as select 1;"),
		f.script("postprocessing/grants.sql", "select 1;"),
	)
	u := Analyzer{}.Calculate(repo, nil)

	assert.False(t, u.HasIrregularUpdates())
	assert.Equal(t, []Type{HigherIndexScriptAdded, HigherIndexScriptAdded, RepeatableScriptAdded}, types(u.RegularlyAddedOrModified))
	assert.Equal(t, "001_a.sql", u.RegularlyAddedOrModified[0].Script.FileName())
	assert.Equal(t, []Type{PostprocessingScriptAdded}, types(u.RegularPostprocessing))
}

func TestNoChangesIsEmpty(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(f.script("001_a.sql", "a"), f.script("views.sql", "v"))
	u := Analyzer{}.Calculate(repo, []script.ExecutedScript{f.executed("001_a.sql", "a"), f.executed("views.sql", "v")})
	assert.True(t, u.IsEmpty())
	assert.True(t, u.NoUpdatesOtherThanDeletionsOrRenames())
}

func TestModifications(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(
		f.script("001_a.sql", "changed"),
		f.script("views.sql", "changed"),
		f.script("preprocessing/setup.sql", "changed"),
		f.script("postprocessing/grants.sql", "changed"),
	)
	u := Analyzer{}.Calculate(repo, []script.ExecutedScript{
		f.executed("001_a.sql", "a"),
		f.executed("views.sql", "v"),
		f.executed("preprocessing/setup.sql", "s"),
		f.executed("postprocessing/grants.sql", "g"),
	})
	assert.Equal(t, []Type{IndexedScriptUpdated}, types(u.Irregular))
	assert.Equal(t, []Type{RepeatableScriptUpdated}, types(u.RegularlyAddedOrModified))
	assert.Equal(t, []Type{PreprocessingScriptUpdated}, types(u.RegularPreprocessing))
	assert.Equal(t, []Type{PostprocessingScriptUpdated}, types(u.RegularPostprocessing))
}

func TestDeletions(t *testing.T) {
	f := newFixture(t)
	u := Analyzer{}.Calculate(f.repo(), []script.ExecutedScript{
		f.executed("001_a.sql", "a"),
		f.executed("views.sql", "v"),
		f.executed("postprocessing/grants.sql", "g"),
	})
	assert.Equal(t, []Type{IndexedScriptDeleted}, types(u.Irregular))
	assert.Equal(t, []Type{RepeatableScriptDeleted}, types(u.RegularlyDeletedRepeatable))
	assert.Equal(t, []Type{PostprocessingScriptDeleted}, types(u.RegularPostprocessing))
}

func TestRepeatableDeletionIsBookkeepingOnly(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(f.script("001_a.sql", "a"))
	u := Analyzer{}.Calculate(repo, []script.ExecutedScript{f.executed("001_a.sql", "a"), f.executed("views.sql", "v")})
	assert.False(t, u.IsEmpty())
	assert.True(t, u.NoUpdatesOtherThanDeletionsOrRenames())
}

func TestRenameDetection(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(f.script("001_b.sql", "create table a (id int);"), f.script("other_view.sql", "v"))
	u := Analyzer{}.Calculate(repo, []script.ExecutedScript{
		f.executed("001_a.sql", "create table a (id int);"),
		f.executed("view.sql", "v"),
	})

	assert.False(t, u.HasIrregularUpdates())
	require.Len(t, u.RegularlyRenamed, 2)
	assert.Equal(t, IndexedScriptRenamed, u.RegularlyRenamed[0].Type)
	assert.Equal(t, "001_a.sql", u.RegularlyRenamed[0].Script.FileName())
	assert.Equal(t, "001_b.sql", u.RegularlyRenamed[0].RenamedTo.FileName())
	assert.Equal(t, RepeatableScriptRenamed, u.RegularlyRenamed[1].Type)
	assert.Empty(t, u.RegularlyAddedOrModified)
	assert.Empty(t, u.RegularlyDeletedRepeatable)
	assert.True(t, u.NoUpdatesOtherThanDeletionsOrRenames())
}

func TestAmbiguousRenameIsDeletion(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(f.script("copy_one.sql", "same"), f.script("copy_two.sql", "same"))
	u := Analyzer{}.Calculate(repo, []script.ExecutedScript{f.executed("original.sql", "same")})

	assert.Empty(t, u.RegularlyRenamed)
	assert.Equal(t, []Type{RepeatableScriptDeleted}, types(u.RegularlyDeletedRepeatable))
	assert.Equal(t, []Type{RepeatableScriptAdded, RepeatableScriptAdded}, types(u.RegularlyAddedOrModified))
}

func TestRenameNeverCrossesKinds(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(f.script("postprocessing/a.sql", "same"))
	u := Analyzer{}.Calculate(repo, []script.ExecutedScript{f.executed("a.sql", "same")})
	assert.Empty(t, u.RegularlyRenamed)
	assert.Equal(t, []Type{RepeatableScriptDeleted}, types(u.RegularlyDeletedRepeatable))
	assert.Equal(t, []Type{PostprocessingScriptAdded}, types(u.RegularPostprocessing))
}

func TestRenameChangingSequenceIsIrregular(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(
		f.script("002_a.sql", "create table a (id int);"),
		f.script("001_b.sql", "create table b (id int);"),
	)
	u := Analyzer{}.Calculate(repo, []script.ExecutedScript{
		f.executed("001_a.sql", "create table a (id int);"),
		f.executed("002_b.sql", "create table b (id int);"),
	})
	assert.True(t, u.HasIrregularUpdates())
	assert.Equal(t, []Type{IndexedScriptRenamedSequenceChanged, IndexedScriptRenamedSequenceChanged}, types(u.Irregular))
	assert.Empty(t, u.RegularlyRenamed)
}

func TestRenameKeepingSequenceIsRegular(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(
		f.script("001_first.sql", "a"),
		f.script("003_second.sql", "b"),
		f.script("004_c.sql", "c"),
	)
	u := Analyzer{}.Calculate(repo, []script.ExecutedScript{
		f.executed("001_a.sql", "a"),
		f.executed("002_b.sql", "b"),
		f.executed("004_c.sql", "c"),
	})
	assert.False(t, u.HasIrregularUpdates())
	assert.Equal(t, []Type{IndexedScriptRenamed, IndexedScriptRenamed}, types(u.RegularlyRenamed))
}

func TestLowerIndexAdditions(t *testing.T) {
	f := newFixture(t)
	executed := []script.ExecutedScript{f.executed("001_a.sql", "a")}

	repo := f.repo(f.script("000_z.sql", "z"), f.script("001_a.sql", "a"))
	u := Analyzer{}.Calculate(repo, executed)
	assert.Equal(t, []Type{LowerIndexNonPatchScriptAdded}, types(u.Irregular))

	repo = f.repo(f.script("000_z#patch.sql", "z"), f.script("001_a.sql", "a"))
	u = Analyzer{}.Calculate(repo, executed)
	assert.Equal(t, []Type{LowerIndexPatchScriptAdded}, types(u.Irregular))
	assert.Empty(t, u.RegularlyAddedPatches)

	u = Analyzer{AllowOutOfSequencePatches: true}.Calculate(repo, executed)
	assert.False(t, u.HasIrregularUpdates())
	assert.Equal(t, []Type{LowerIndexPatchScriptAdded}, types(u.RegularlyAddedPatches))
	assert.Equal(t, "000_z#patch.sql", u.RegularlyAddedPatches[0].Script.FileName())
}

func TestFailedNonIncrementalIsRetried(t *testing.T) {
	f := newFixture(t)
	failed := f.executed("views.sql", "v")
	failed.Succeeded = false
	failedIncremental := f.executed("001_a.sql", "a")
	failedIncremental.Succeeded = false

	repo := f.repo(f.script("001_a.sql", "a"), f.script("views.sql", "v"))
	u := Analyzer{}.Calculate(repo, []script.ExecutedScript{failed, failedIncremental})
	assert.Equal(t, []Type{FailedScriptRetry}, types(u.Retries))
	assert.Empty(t, u.Irregular)
}

func TestLastModificationDates(t *testing.T) {
	f := newFixture(t)
	cur, err := f.factory.New("001_a.sql", 42, []byte("changed"))
	require.NoError(t, err)
	old, err := f.factory.FromLedger("001_a.sql", 42, script.Checksum([]byte("original"), false))
	require.NoError(t, err)
	executed := []script.ExecutedScript{{Script: old, Succeeded: true}}

	assert.True(t, Analyzer{UseLastModificationDates: true}.Calculate(f.repo(cur), executed).IsEmpty())
	assert.True(t, Analyzer{}.Calculate(f.repo(cur), executed).HasIrregularUpdates())
}

func TestCalculateIsDeterministic(t *testing.T) {
	f := newFixture(t)
	repo := f.repo(
		f.script("003_c.sql", "c"),
		f.script("001_x.sql", "a"),
		f.script("b.sql", "b"),
		f.script("postprocessing/p.sql", "p"),
	)
	executed := []script.ExecutedScript{f.executed("002_b.sql", "b2"), f.executed("001_a.sql", "a"), f.executed("old.sql", "o")}

	first := Analyzer{}.Calculate(repo, executed)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first.All(), Analyzer{}.Calculate(repo, executed).All())
	}
}

func TestExecutedScriptsBelowBaselineAreIgnored(t *testing.T) {
	f := newFixture(t)
	settings := repository.Settings{
		PatchQualifiers:   []string{"patch"},
		PreprocessingDir:  "preprocessing",
		PostprocessingDir: "postprocessing",
		BaselineRevision:  "2",
	}
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("create table a (id int);")},
		"002_b.sql": {Data: []byte("create table b (id int);")},
		"003_c.sql": {Data: []byte("create table c (id int);")},
	}
	repo, err := repository.New([]repository.Location{repository.NewDirLocation("mem", fsys, settings)}, nil)
	require.NoError(t, err)

	u := Analyzer{}.Calculate(repo, []script.ExecutedScript{
		f.executed("000_gone.sql", "create table gone (id int);"),
		f.executed("001_a.sql", "create table a (id int);"),
		f.executed("002_b.sql", "create table b (id int);"),
	})
	assert.False(t, u.HasIrregularUpdates())
	assert.Equal(t, []Type{HigherIndexScriptAdded}, types(u.RegularlyAddedOrModified))
	assert.Equal(t, "003_c.sql", u.RegularlyAddedOrModified[0].Script.FileName())
}
