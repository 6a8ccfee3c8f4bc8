package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/dbmaintain/dbmaintain/internal/script/parser"
)

// mysqlSupport treats a MySQL database as a schema.
type mysqlSupport struct{}

func (mysqlSupport) Dialect() string { return "mysql" }

func (mysqlSupport) ParserDialect() parser.Dialect { return parser.MySQL }

func (mysqlSupport) DefaultSchema(ctx context.Context, q sqlx.QueryerContext) (string, error) {
	var schema string
	err := q.QueryRowxContext(ctx, `SELECT DATABASE()`).Scan(&schema)
	return schema, err
}

func (mysqlSupport) SchemaExists(ctx context.Context, q sqlx.ExtContext, schema string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, `SELECT count(*) FROM information_schema.schemata WHERE schema_name = ?`, schema)
	return n > 0, err
}

func (mysqlSupport) Supports(t ObjectType) bool {
	switch t {
	case Table, View, Trigger, StoredProcedure:
		return true
	}
	return false
}

func (mysqlSupport) Objects(ctx context.Context, q sqlx.ExtContext, schema string, t ObjectType) ([]Object, error) {
	switch t {
	case Table:
		return names(ctx, q, schema, `SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_type = 'BASE TABLE'`, schema)
	case View:
		return names(ctx, q, schema, `SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_type = 'VIEW'`, schema)
	case Trigger:
		return names(ctx, q, schema, `SELECT trigger_name FROM information_schema.triggers WHERE trigger_schema = ?`, schema)
	case StoredProcedure:
		var rows []struct {
			Name string `db:"name"`
			Kind string `db:"kind"`
		}
		err := sqlx.SelectContext(ctx, q, &rows, `
SELECT routine_name AS name, routine_type AS kind FROM information_schema.routines WHERE routine_schema = ?`, schema)
		if err != nil {
			return nil, err
		}
		out := make([]Object, 0, len(rows))
		for _, r := range rows {
			out = append(out, Object{Schema: schema, Name: r.Name, Variant: r.Kind})
		}
		return out, nil
	}
	return nil, nil
}

func (m mysqlSupport) Drop(ctx context.Context, q sqlx.ExtContext, t ObjectType, o Object) error {
	name := qualified(m, o.Schema, o.Name)
	var stmt string
	switch t {
	case Table:
		stmt = "DROP TABLE " + name
	case View:
		stmt = "DROP VIEW " + name
	case Trigger:
		stmt = "DROP TRIGGER " + name
	case StoredProcedure:
		kind := strings.ToUpper(o.Variant)
		if kind != "FUNCTION" {
			kind = "PROCEDURE"
		}
		stmt = "DROP " + kind + " " + name
	default:
		return fmt.Errorf("mysql cannot drop %s", t)
	}
	_, err := q.ExecContext(ctx, stmt)
	return err
}

func (m mysqlSupport) DeleteAll(ctx context.Context, q sqlx.ExtContext, schema, table string) error {
	_, err := q.ExecContext(ctx, "DELETE FROM "+qualified(m, schema, table))
	return err
}

func (m mysqlSupport) DisableReferentialConstraints(ctx context.Context, q sqlx.ExtContext, schema string) error {
	constraints, err := tableConstraints(ctx, q, `
SELECT table_name AS owner, constraint_name AS name FROM information_schema.table_constraints
WHERE table_schema = ? AND constraint_type = 'FOREIGN KEY'`, schema)
	if err != nil {
		return err
	}
	var stmts []string
	for _, c := range constraints {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", qualified(m, schema, c.On), m.Quote(c.Name)))
	}
	return execAll(ctx, q, stmts)
}

func (m mysqlSupport) DisableValueConstraints(ctx context.Context, q sqlx.ExtContext, schema string) error {
	var constraints []struct {
		Owner string `db:"owner"`
		Name  string `db:"name"`
		Kind  string `db:"kind"`
	}
	err := sqlx.SelectContext(ctx, q, &constraints, `
SELECT table_name AS owner, constraint_name AS name, constraint_type AS kind FROM information_schema.table_constraints
WHERE table_schema = ? AND constraint_type IN ('CHECK', 'UNIQUE')`, schema)
	if err != nil {
		return err
	}
	var stmts []string
	for _, c := range constraints {
		drop := "DROP CHECK"
		if c.Kind == "UNIQUE" {
			drop = "DROP INDEX"
		}
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s %s %s", qualified(m, schema, c.Owner), drop, m.Quote(c.Name)))
	}

	var columns []struct {
		Table  string `db:"table_name"`
		Column string `db:"column_name"`
		Type   string `db:"column_type"`
	}
	err = sqlx.SelectContext(ctx, q, &columns, `
SELECT c.table_name AS table_name, c.column_name AS column_name, c.column_type AS column_type
FROM information_schema.columns c
JOIN information_schema.tables t ON t.table_schema = c.table_schema AND t.table_name = c.table_name AND t.table_type = 'BASE TABLE'
WHERE c.table_schema = ? AND c.is_nullable = 'NO' AND c.column_key <> 'PRI'`, schema)
	if err != nil {
		return err
	}
	for _, c := range columns {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s %s NULL", qualified(m, schema, c.Table), m.Quote(c.Column), c.Type))
	}
	return execAll(ctx, q, stmts)
}

// UpdateSequences raises AUTO_INCREMENT counters; MySQL has no sequences.
func (m mysqlSupport) UpdateSequences(ctx context.Context, q sqlx.ExtContext, schema string, lowest int64) error {
	objs, err := names(ctx, q, schema, `
SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND auto_increment IS NOT NULL AND auto_increment < ?`, schema, lowest)
	if err != nil {
		return err
	}
	var stmts []string
	for _, o := range objs {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s AUTO_INCREMENT = %d", qualified(m, schema, o.Name), lowest))
	}
	return execAll(ctx, q, stmts)
}

func (mysqlSupport) Normalize(ident string) string {
	ident = strings.TrimSpace(ident)
	if isQuoted(ident, '`', '"') {
		return ident[1 : len(ident)-1]
	}
	return ident
}

func (mysqlSupport) Key(stored string) string { return stored }

func (mysqlSupport) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}
