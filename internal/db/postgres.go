package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/dbmaintain/dbmaintain/internal/script/parser"
)

type postgresSupport struct{}

func (postgresSupport) Dialect() string { return "postgresql" }

func (postgresSupport) ParserDialect() parser.Dialect { return parser.PostgreSQL }

func (postgresSupport) DefaultSchema(ctx context.Context, q sqlx.QueryerContext) (string, error) {
	var schema string
	err := q.QueryRowxContext(ctx, `SELECT current_schema()`).Scan(&schema)
	return schema, err
}

func (postgresSupport) SchemaExists(ctx context.Context, q sqlx.ExtContext, schema string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, q.Rebind(`SELECT count(*) FROM information_schema.schemata WHERE schema_name = ?`), schema)
	return n > 0, err
}

func (postgresSupport) Supports(t ObjectType) bool {
	return t != Synonym
}

func (p postgresSupport) Objects(ctx context.Context, q sqlx.ExtContext, schema string, t ObjectType) ([]Object, error) {
	switch t {
	case Table:
		return names(ctx, q, schema, `SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_type = 'BASE TABLE'`, schema)
	case View:
		return names(ctx, q, schema, `SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_type = 'VIEW'`, schema)
	case MaterializedView:
		return names(ctx, q, schema, `SELECT matviewname FROM pg_matviews WHERE schemaname = ?`, schema)
	case Sequence:
		return names(ctx, q, schema, `SELECT sequence_name FROM information_schema.sequences WHERE sequence_schema = ?`, schema)
	case Type:
		return names(ctx, q, schema, `
SELECT t.typname FROM pg_type t
JOIN pg_namespace n ON n.oid = t.typnamespace
LEFT JOIN pg_class c ON c.oid = t.typrelid
WHERE n.nspname = ? AND t.typtype IN ('c', 'e', 'd') AND (c.relkind IS NULL OR c.relkind = 'c')`, schema)
	case Trigger:
		return owned(ctx, q, schema, `
SELECT DISTINCT trigger_name AS name, event_object_table AS owner FROM information_schema.triggers
WHERE trigger_schema = ?`, schema)
	case Rule:
		return owned(ctx, q, schema, `SELECT rulename AS name, tablename AS owner FROM pg_rules WHERE schemaname = ?`, schema)
	case StoredProcedure:
		var rows []struct {
			Name string `db:"name"`
			Args string `db:"args"`
		}
		query := q.Rebind(`
SELECT p.proname AS name, pg_get_function_identity_arguments(p.oid) AS args FROM pg_proc p
JOIN pg_namespace n ON n.oid = p.pronamespace
LEFT JOIN pg_depend d ON d.objid = p.oid AND d.deptype = 'e'
WHERE n.nspname = ? AND d.objid IS NULL AND p.prokind IN ('f', 'p')`)
		if err := sqlx.SelectContext(ctx, q, &rows, query, schema); err != nil {
			return nil, err
		}
		out := make([]Object, 0, len(rows))
		for _, r := range rows {
			out = append(out, Object{Schema: schema, Name: r.Name, Variant: r.Args})
		}
		return out, nil
	}
	return nil, nil
}

func (p postgresSupport) Drop(ctx context.Context, q sqlx.ExtContext, t ObjectType, o Object) error {
	name := qualified(p, o.Schema, o.Name)
	var stmt string
	switch t {
	case Table:
		stmt = "DROP TABLE " + name + " CASCADE"
	case View:
		stmt = "DROP VIEW " + name + " CASCADE"
	case MaterializedView:
		stmt = "DROP MATERIALIZED VIEW " + name + " CASCADE"
	case Sequence:
		stmt = "DROP SEQUENCE " + name + " CASCADE"
	case Type:
		stmt = "DROP TYPE " + name + " CASCADE"
	case Trigger:
		stmt = "DROP TRIGGER " + p.Quote(o.Name) + " ON " + qualified(p, o.Schema, o.On) + " CASCADE"
	case Rule:
		stmt = "DROP RULE " + p.Quote(o.Name) + " ON " + qualified(p, o.Schema, o.On) + " CASCADE"
	case StoredProcedure:
		stmt = "DROP ROUTINE " + name + "(" + o.Variant + ") CASCADE"
	default:
		return fmt.Errorf("postgresql cannot drop %s", t)
	}
	_, err := q.ExecContext(ctx, stmt)
	return err
}

func (p postgresSupport) DeleteAll(ctx context.Context, q sqlx.ExtContext, schema, table string) error {
	_, err := q.ExecContext(ctx, "DELETE FROM "+qualified(p, schema, table))
	return err
}

func (p postgresSupport) DisableReferentialConstraints(ctx context.Context, q sqlx.ExtContext, schema string) error {
	constraints, err := tableConstraints(ctx, q, `
SELECT table_name AS owner, constraint_name AS name FROM information_schema.table_constraints
WHERE table_schema = ? AND constraint_type = 'FOREIGN KEY'`, schema)
	if err != nil {
		return err
	}
	var stmts []string
	for _, c := range constraints {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", qualified(p, schema, c.On), p.Quote(c.Name)))
	}
	return execAll(ctx, q, stmts)
}

func (p postgresSupport) DisableValueConstraints(ctx context.Context, q sqlx.ExtContext, schema string) error {
	constraints, err := tableConstraints(ctx, q, `
SELECT table_name AS owner, constraint_name AS name FROM information_schema.table_constraints
WHERE table_schema = ? AND constraint_type IN ('CHECK', 'UNIQUE') AND constraint_name NOT LIKE '%_not_null'`, schema)
	if err != nil {
		return err
	}
	var stmts []string
	for _, c := range constraints {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s", qualified(p, schema, c.On), p.Quote(c.Name)))
	}
	columns, err := tableConstraints(ctx, q, `
SELECT c.table_name AS owner, c.column_name AS name FROM information_schema.columns c
JOIN information_schema.tables t ON t.table_schema = c.table_schema AND t.table_name = c.table_name AND t.table_type = 'BASE TABLE'
WHERE c.table_schema = ? AND c.is_nullable = 'NO' AND NOT EXISTS (
	SELECT 1 FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage k ON k.constraint_name = tc.constraint_name AND k.table_schema = tc.table_schema
	WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = c.table_schema
	AND k.table_name = c.table_name AND k.column_name = c.column_name)`, schema)
	if err != nil {
		return err
	}
	for _, c := range columns {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", qualified(p, schema, c.On), p.Quote(c.Name)))
	}
	return execAll(ctx, q, stmts)
}

func (p postgresSupport) UpdateSequences(ctx context.Context, q sqlx.ExtContext, schema string, lowest int64) error {
	seqs, err := p.Objects(ctx, q, schema, Sequence)
	if err != nil {
		return err
	}
	for _, s := range seqs {
		name := qualified(p, schema, s.Name)
		var last int64
		if err := q.QueryRowxContext(ctx, "SELECT last_value FROM "+name).Scan(&last); err != nil {
			return fmt.Errorf("read sequence %s: %w", name, err)
		}
		if last >= lowest {
			continue
		}
		if _, err := q.ExecContext(ctx, fmt.Sprintf("ALTER SEQUENCE %s RESTART WITH %d", name, lowest)); err != nil {
			return fmt.Errorf("restart sequence %s: %w", name, err)
		}
	}
	return nil
}

func (postgresSupport) Normalize(ident string) string {
	ident = strings.TrimSpace(ident)
	if isQuoted(ident, '"') {
		return strings.ReplaceAll(ident[1:len(ident)-1], `""`, `"`)
	}
	return strings.ToLower(ident)
}

func (postgresSupport) Key(stored string) string { return stored }

func (postgresSupport) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func owned(ctx context.Context, q sqlx.ExtContext, schema, query string, args ...any) ([]Object, error) {
	rows, err := tableConstraints(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Schema = schema
	}
	return rows, nil
}

// tableConstraints runs a query selecting (owner, name) pairs.
func tableConstraints(ctx context.Context, q sqlx.ExtContext, query string, args ...any) ([]Object, error) {
	var rows []struct {
		Owner string `db:"owner"`
		Name  string `db:"name"`
	}
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]Object, 0, len(rows))
	for _, r := range rows {
		out = append(out, Object{Name: r.Name, On: r.Owner})
	}
	return out, nil
}
