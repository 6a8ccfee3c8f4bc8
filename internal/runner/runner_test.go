package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmaintain/dbmaintain/internal/config"
	"github.com/dbmaintain/dbmaintain/internal/db"
	"github.com/dbmaintain/dbmaintain/internal/db/dbtest"
	"github.com/dbmaintain/dbmaintain/internal/logging"
	"github.com/dbmaintain/dbmaintain/internal/script"
)

func newScript(t *testing.T, name, body string) *script.Script {
	t.Helper()
	f, err := script.NewFactory(script.FactoryConfig{})
	require.NoError(t, err)
	s, err := f.New(name, 0, []byte(body))
	require.NoError(t, err)
	return s
}

func TestSQLRunnerExecutesStatements(t *testing.T) {
	dbs := dbtest.New(t)
	r := NewSQLRunner(dbs, map[string]string{"name": "users"}, logging.Discard())

	s := newScript(t, "001_users.sql", `
-- create the table
create table ${name} (id int primary key, name varchar(20));
insert into ${name} values (1, 'a;b');
`)
	require.NoError(t, r.Execute(context.Background(), s))

	var name string
	require.NoError(t, dbs.Default().DB.Get(&name, `select name from users where id = 1`))
	assert.Equal(t, "a;b", name)
}

func TestSQLRunnerRollsBackOnFailure(t *testing.T) {
	dbs := dbtest.New(t)
	r := NewSQLRunner(dbs, nil, logging.Discard())

	s := newScript(t, "001_broken.sql", `
create table t (id int primary key);
insert into t values (1);
insert into missing values (1);
`)
	err := r.Execute(context.Background(), s)
	require.Error(t, err)

	var stmtErr *StatementError
	require.True(t, errors.As(err, &stmtErr))
	assert.Equal(t, "001_broken.sql", stmtErr.Script)
	assert.Equal(t, "insert into missing values (1)", stmtErr.Statement)
	assert.NotEmpty(t, db.SQLState(err))

	assert.Empty(t, dbtest.Tables(t, dbs))
}

func TestSQLRunnerReportsUnterminatedStatement(t *testing.T) {
	dbs := dbtest.New(t)
	r := NewSQLRunner(dbs, nil, logging.Discard())
	err := r.Execute(context.Background(), newScript(t, "001_a.sql", "create table a (id int)"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ended correctly")
}

func TestSQLRunnerUsesTargetDatabase(t *testing.T) {
	dbs := dbtest.NewNamed(t, "main", "reporting")
	r := NewSQLRunner(dbs, nil, logging.Discard())
	require.NoError(t, r.Execute(context.Background(), newScript(t, "001_totals@reporting.sql", "create table totals (n int);")))

	reporting, err := dbs.Get("reporting")
	require.NoError(t, err)
	var n int
	require.NoError(t, reporting.DB.Get(&n, `select count(*) from sqlite_master where name = 'totals'`))
	assert.Equal(t, 1, n)
	assert.Empty(t, dbtest.Tables(t, dbs))
}

type recordingRunner struct{ ran []string }

func (r *recordingRunner) Execute(_ context.Context, s *script.Script) error {
	r.ran = append(r.ran, s.FileName())
	return nil
}

func TestDispatcher(t *testing.T) {
	dbs, err := db.Open(context.Background(), []config.DatabaseConfig{
		{Name: "main", Dialect: "sqlite", DSN: "file::memory:"},
		{Name: "legacy", Dialect: "mysql", DSN: "x", Disabled: true},
	})
	require.NoError(t, err)
	defer dbs.Close()

	sqlR, loader, native := &recordingRunner{}, &recordingRunner{}, &recordingRunner{}
	d := NewDispatcher(dbs, sqlR, loader, native, logging.Discard())
	ctx := context.Background()

	for _, name := range []string{"001_a.sql", "002_b.DDL", "003_c.ctl", "004_d.ldr", "005_e.sh", "006_f@legacy.sql"} {
		require.NoError(t, d.Execute(ctx, newScript(t, name, "x")))
	}
	assert.Equal(t, []string{"001_a.sql", "002_b.DDL"}, sqlR.ran)
	assert.Equal(t, []string{"003_c.ctl", "004_d.ldr"}, loader.ran)
	assert.Equal(t, []string{"005_e.sh"}, native.ran)

	assert.Error(t, d.Execute(ctx, newScript(t, "007_g@unknown.sql", "x")))
}

func TestShellRunnerPassesArguments(t *testing.T) {
	dbs := dbtest.New(t)
	out := filepath.Join(t.TempDir(), "args.txt")
	r := NewShellRunner(dbs, "/bin/sh", logging.Discard())

	s := newScript(t, "010_export.sh", `echo "$1|$2|$3 $4 $5 $6" > `+out+"\necho done\n")
	require.NoError(t, r.Execute(context.Background(), s))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	// user and password are empty for the test database
	assert.Equal(t, "||main file::memory: main sqlite", strings.TrimSpace(string(data)))
}

func TestShellRunnerFailure(t *testing.T) {
	dbs := dbtest.New(t)
	r := NewShellRunner(dbs, "/bin/sh", logging.Discard())

	err := r.Execute(context.Background(), newScript(t, "011_fail.sh", "echo boom\nexit 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
