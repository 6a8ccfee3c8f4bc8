package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmaintain/dbmaintain/internal/config"
	"github.com/dbmaintain/dbmaintain/internal/db"
	"github.com/dbmaintain/dbmaintain/internal/db/dbtest"
)

func TestOpenResolvesDefaults(t *testing.T) {
	dbs := dbtest.NewNamed(t, "Main", "reporting")

	def, err := dbs.Get("")
	require.NoError(t, err)
	assert.Equal(t, "main", def.Name)
	assert.Equal(t, "main", def.DefaultSchema())
	assert.Equal(t, "sqlite", def.Dialect)

	rep, err := dbs.Get("REPORTING")
	require.NoError(t, err)
	assert.Equal(t, "reporting", rep.Name)

	_, err = dbs.Get("missing")
	var cfgErr *config.Error
	assert.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, []string{"main", "reporting"}, dbs.Names())
}

func TestOpenKeepsDisabledDatabases(t *testing.T) {
	dbs, err := db.Open(context.Background(), []config.DatabaseConfig{
		{Name: "off", Dialect: "postgresql", DSN: "postgres://nowhere", Disabled: true},
		{Name: "main", Dialect: "sqlite", DSN: "file::memory:"},
	})
	require.NoError(t, err)
	defer dbs.Close()

	assert.Equal(t, "main", dbs.Default().Name)
	off, err := dbs.Get("off")
	require.NoError(t, err)
	assert.True(t, off.Disabled)
	assert.Nil(t, off.DB)
	assert.Len(t, dbs.Enabled(), 1)
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	_, err := db.Open(context.Background(), []config.DatabaseConfig{{Name: "x", Dialect: "hsqldb", DSN: "x"}})
	assert.Error(t, err)
}

func TestSQLiteSupportObjects(t *testing.T) {
	dbs := dbtest.New(t)
	dbtest.Exec(t, dbs,
		`CREATE TABLE parent (id INTEGER PRIMARY KEY AUTOINCREMENT)`,
		`CREATE TABLE child (id INTEGER PRIMARY KEY, parent_id INTEGER REFERENCES parent(id))`,
		`CREATE VIEW v AS SELECT id FROM parent`,
		`CREATE TRIGGER trg AFTER INSERT ON parent BEGIN SELECT 1; END`,
	)
	ctx := context.Background()
	d := dbs.Default()

	assert.ElementsMatch(t, []string{"parent", "child"}, dbtest.Tables(t, dbs))

	views, err := d.Support.Objects(ctx, d.DB, "main", db.View)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "v", views[0].Name)

	triggers, err := d.Support.Objects(ctx, d.DB, "main", db.Trigger)
	require.NoError(t, err)
	require.Len(t, triggers, 1)

	require.NoError(t, d.Support.Drop(ctx, d.DB, db.Trigger, triggers[0]))
	require.NoError(t, d.Support.Drop(ctx, d.DB, db.View, views[0]))
	triggers, err = d.Support.Objects(ctx, d.DB, "main", db.Trigger)
	require.NoError(t, err)
	assert.Empty(t, triggers)

	exists, err := d.Support.SchemaExists(ctx, d.DB, "main")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = d.Support.SchemaExists(ctx, d.DB, "nope")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLiteUpdateSequences(t *testing.T) {
	dbs := dbtest.New(t)
	dbtest.Exec(t, dbs,
		`CREATE TABLE t (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)`,
		`INSERT INTO t (name) VALUES ('a')`,
	)
	d := dbs.Default()
	require.NoError(t, d.Support.UpdateSequences(context.Background(), d.DB, "main", 1000))

	_, err := d.DB.Exec(`INSERT INTO t (name) VALUES ('b')`)
	require.NoError(t, err)
	var id int64
	require.NoError(t, d.DB.Get(&id, `SELECT id FROM t WHERE name = 'b'`))
	assert.Equal(t, int64(1000), id)
}

func TestNormalize(t *testing.T) {
	pg, err := db.SupportFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, "users", pg.Normalize("Users"))
	assert.Equal(t, "Users", pg.Normalize(`"Users"`))
	assert.Equal(t, `"a""b"`, pg.Quote(`a"b`))

	my, err := db.SupportFor("mysql")
	require.NoError(t, err)
	assert.Equal(t, "Users", my.Normalize("`Users`"))
	assert.Equal(t, "`t`", my.Quote("t"))

	lite, err := db.SupportFor("sqlite")
	require.NoError(t, err)
	assert.Equal(t, "users", lite.Normalize(`"Users"`))
}

func TestParseItemIdentifier(t *testing.T) {
	dbs := dbtest.NewNamed(t, "main", "reporting")

	id, err := db.ParseItemIdentifier(db.Table, "Users", dbs)
	require.NoError(t, err)
	assert.Equal(t, db.ItemIdentifier{Database: "main", Schema: "main", Type: db.Table, Name: "users"}, id)

	id, err = db.ParseItemIdentifier(db.View, `reporting.main."Totals"`, dbs)
	require.NoError(t, err)
	assert.Equal(t, "reporting", id.Database)
	assert.Equal(t, "totals", id.Name)

	_, err = db.ParseItemIdentifier(db.Table, "nope.main.t", dbs)
	assert.Error(t, err)

	schema, err := db.ParseSchemaIdentifier("reporting.main", dbs)
	require.NoError(t, err)
	assert.Equal(t, db.ItemIdentifier{Database: "reporting", Schema: "main"}, schema)
}

func TestSQLState(t *testing.T) {
	dbs := dbtest.New(t)
	_, err := dbs.Default().DB.Exec(`SELECT * FROM missing_table`)
	require.Error(t, err)
	assert.NotEmpty(t, db.SQLState(err))
	assert.Empty(t, db.SQLState(errors.New("plain")))
}
