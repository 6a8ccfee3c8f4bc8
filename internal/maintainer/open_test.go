package maintainer

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmaintain/dbmaintain/internal/config"
	"github.com/dbmaintain/dbmaintain/internal/db/dbtest"
	"github.com/dbmaintain/dbmaintain/internal/logging"
	"github.com/dbmaintain/dbmaintain/internal/update"
)

func writeArchive(t *testing.T, dir string, files map[string]string) string {
	t.Helper()
	p := filepath.Join(dir, "scripts.zip")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func TestArchiveConventionsApplyToLedgerRows(t *testing.T) {
	ctx := context.Background()
	dbs := dbtest.New(t)
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Scripts.Locations = []string{writeArchive(t, dir, map[string]string{
		"dbmaintain.yaml":   "postprocessing_dir: after\n",
		"001_a.sql":         "CREATE TABLE a (id INTEGER);",
		"after/refresh.sql": "DELETE FROM a;",
	})}

	m, err := build(cfg, dbs, logging.Discard())
	require.NoError(t, err)
	_, err = m.UpdateDatabase(ctx, false)
	require.NoError(t, err)

	writeArchive(t, dir, map[string]string{
		"dbmaintain.yaml":     "postprocessing_dir: after\n",
		"001_a.sql":           "CREATE TABLE a (id INTEGER);",
		"after/refresh_a.sql": "DELETE FROM a;",
	})
	m, err = build(cfg, dbs, logging.Discard())
	require.NoError(t, err)
	res, err := m.UpdateDatabase(ctx, false)
	require.NoError(t, err)

	require.Len(t, res.Updates.RegularPostprocessing, 1)
	assert.Equal(t, update.PostprocessingScriptRenamed, res.Updates.RegularPostprocessing[0].Type)
	assert.Empty(t, res.Updates.RegularlyDeletedRepeatable)
	assert.Empty(t, res.Executed)

	st, err := m.Status(ctx)
	require.NoError(t, err)
	var names []string
	for _, es := range st.Executed {
		names = append(names, es.Script.FileName())
	}
	assert.Equal(t, []string{"001_a.sql", "after/refresh_a.sql"}, names)
}
