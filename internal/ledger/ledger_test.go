package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmaintain/dbmaintain/internal/config"
	"github.com/dbmaintain/dbmaintain/internal/db"
	"github.com/dbmaintain/dbmaintain/internal/db/dbtest"
	"github.com/dbmaintain/dbmaintain/internal/script"
)

func newTestLedger(t *testing.T, autoCreate bool) (*TableLedger, *script.Factory) {
	t.Helper()
	dbs := dbtest.New(t)
	factory, err := script.NewFactory(script.FactoryConfig{PatchQualifiers: []string{"patch"}})
	require.NoError(t, err)
	cfg := config.Default().Ledger
	cfg.AutoCreate = autoCreate
	return New(dbs.Default(), cfg, factory), factory
}

func newScript(t *testing.T, f *script.Factory, name, body string) *script.Script {
	t.Helper()
	s, err := f.New(name, 1_700_000_000_000, []byte(body))
	require.NoError(t, err)
	return s
}

func TestMissingTableWithoutAutoCreate(t *testing.T) {
	l, _ := newTestLedger(t, false)
	_, err := l.ExecutedScripts(context.Background())
	assert.True(t, errors.Is(err, ErrLedgerMissing))
}

func TestPeekDoesNotCreateTable(t *testing.T) {
	ctx := context.Background()
	l, f := newTestLedger(t, true)

	got, err := l.Peek(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotContains(t, dbtest.Tables(t, db.NewDatabases(l.database)), "dbmaintain_scripts")

	require.NoError(t, l.Register(ctx, script.ExecutedScript{Script: newScript(t, f, "001_a.sql", "select 1;"), Succeeded: true}))
	got, err = l.Peek(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "001_a.sql", got[0].Script.FileName())

	missing, _ := newTestLedger(t, false)
	_, err = missing.Peek(ctx)
	assert.True(t, errors.Is(err, ErrLedgerMissing))
}

func TestRegisterAndUpdate(t *testing.T) {
	ctx := context.Background()
	l, f := newTestLedger(t, true)
	executedAt := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

	b := newScript(t, f, "002_b.sql", "select 2;")
	a := newScript(t, f, "001_a.sql", "select 1;")
	require.NoError(t, l.Register(ctx, script.ExecutedScript{Script: b, ExecutedAt: executedAt}))
	require.NoError(t, l.Register(ctx, script.ExecutedScript{Script: a, ExecutedAt: executedAt, Succeeded: true}))

	got, err := l.ExecutedScripts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "001_a.sql", got[0].Script.FileName())
	assert.True(t, got[0].Succeeded)
	assert.Equal(t, a.Checksum(), got[0].Script.Checksum())
	assert.Equal(t, a.LastModified(), got[0].Script.LastModified())
	assert.Equal(t, executedAt, got[0].ExecutedAt)
	assert.False(t, got[1].Succeeded)

	require.NoError(t, l.Update(ctx, script.ExecutedScript{Script: b, ExecutedAt: executedAt, Succeeded: true}))
	got, err = l.ExecutedScripts(ctx)
	require.NoError(t, err)
	assert.True(t, got[1].Succeeded)

	missing := newScript(t, f, "003_c.sql", "select 3;")
	assert.Error(t, l.Update(ctx, script.ExecutedScript{Script: missing}))
}

func TestRenameDeleteClear(t *testing.T) {
	ctx := context.Background()
	l, f := newTestLedger(t, true)
	a := newScript(t, f, "001_a.sql", "select 1;")
	require.NoError(t, l.Register(ctx, script.ExecutedScript{Script: a, Succeeded: true}))

	renamed := newScript(t, f, "001_renamed.sql", "select 1;")
	require.NoError(t, l.Rename(ctx, "001_a.sql", renamed))
	got, err := l.ExecutedScripts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "001_renamed.sql", got[0].Script.FileName())
	assert.True(t, got[0].ExecutedAt.IsZero())

	require.NoError(t, l.Delete(ctx, "001_renamed.sql"))
	got, err = l.ExecutedScripts(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, l.Register(ctx, script.ExecutedScript{Script: a, Succeeded: true}))
	require.NoError(t, l.Clear(ctx))
	got, err = l.ExecutedScripts(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFailedRows(t *testing.T) {
	ctx := context.Background()
	l, f := newTestLedger(t, true)
	require.NoError(t, l.Register(ctx, script.ExecutedScript{Script: newScript(t, f, "001_a.sql", "a"), Succeeded: true}))
	require.NoError(t, l.Register(ctx, script.ExecutedScript{Script: newScript(t, f, "002_b.sql", "b")}))
	require.NoError(t, l.Register(ctx, script.ExecutedScript{Script: newScript(t, f, "003_c.sql", "c")}))

	require.NoError(t, l.MarkFailedAsSucceeded(ctx))
	got, err := l.ExecutedScripts(ctx)
	require.NoError(t, err)
	for _, es := range got {
		assert.True(t, es.Succeeded, es.Script.FileName())
	}

	require.NoError(t, l.Register(ctx, script.ExecutedScript{Script: newScript(t, f, "004_d.sql", "d")}))
	require.NoError(t, l.DeleteFailed(ctx))
	got, err = l.ExecutedScripts(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestLedgerKeepsUnknownQualifiers(t *testing.T) {
	ctx := context.Background()
	l, f := newTestLedger(t, true)
	require.NoError(t, l.Register(ctx, script.ExecutedScript{Script: newScript(t, f, "001_a#patch.sql", "a"), Succeeded: true}))
	_, err := l.database.DB.Exec(`UPDATE dbmaintain_scripts SET file_name = '001_a#retired.sql'`)
	require.NoError(t, err)

	got, err := l.ExecutedScripts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Script.HasQualifier("retired"))
	assert.Equal(t, "dbmaintain_scripts", l.Identifier().Name)
}
