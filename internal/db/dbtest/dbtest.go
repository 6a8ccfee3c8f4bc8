// Package dbtest opens throwaway sqlite databases for tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbmaintain/dbmaintain/internal/config"
	"github.com/dbmaintain/dbmaintain/internal/db"
)

// New opens an in-memory sqlite database named "main" and closes it when the
// test ends.
func New(t *testing.T) *db.Databases {
	t.Helper()
	return NewNamed(t, "main")
}

// NewNamed opens one in-memory sqlite database per name; the first name is
// the default database.
func NewNamed(t *testing.T, names ...string) *db.Databases {
	t.Helper()
	var cfgs []config.DatabaseConfig
	for _, n := range names {
		cfgs = append(cfgs, config.DatabaseConfig{Name: n, Dialect: "sqlite", DSN: "file::memory:"})
	}
	dbs, err := db.Open(context.Background(), cfgs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbs.Close() })
	return dbs
}

// Exec runs statements against the default database.
func Exec(t *testing.T, dbs *db.Databases, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		_, err := dbs.Default().DB.Exec(stmt)
		require.NoError(t, err, stmt)
	}
}

// Tables lists the tables of the default database's default schema.
func Tables(t *testing.T, dbs *db.Databases) []string {
	t.Helper()
	d := dbs.Default()
	objs, err := d.Support.Objects(context.Background(), d.DB, d.DefaultSchema(), db.Table)
	require.NoError(t, err)
	var out []string
	for _, o := range objs {
		out = append(out, o.Name)
	}
	return out
}
