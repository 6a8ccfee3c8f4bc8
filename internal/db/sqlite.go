package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/dbmaintain/dbmaintain/internal/script/parser"
)

// sqliteSupport maps schemas onto attached databases ("main" by default).
// Connections must not be pooled: the pragmas it sets are per connection.
type sqliteSupport struct{}

func (sqliteSupport) Dialect() string { return "sqlite" }

func (sqliteSupport) ParserDialect() parser.Dialect { return parser.SQLite }

func (sqliteSupport) DefaultSchema(context.Context, sqlx.QueryerContext) (string, error) {
	return "main", nil
}

func (sqliteSupport) SchemaExists(ctx context.Context, q sqlx.ExtContext, schema string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, `SELECT count(*) FROM pragma_database_list WHERE name = ?`, schema)
	return n > 0, err
}

func (sqliteSupport) Supports(t ObjectType) bool {
	switch t {
	case Table, View, Trigger:
		return true
	}
	return false
}

func (s sqliteSupport) Objects(ctx context.Context, q sqlx.ExtContext, schema string, t ObjectType) ([]Object, error) {
	var kind string
	switch t {
	case Table:
		kind = "table"
	case View:
		kind = "view"
	case Trigger:
		kind = "trigger"
	default:
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT name FROM %s.sqlite_master WHERE type = ? AND name NOT LIKE 'sqlite_%%'`, s.Quote(schema))
	return names(ctx, q, schema, query, kind)
}

func (s sqliteSupport) Drop(ctx context.Context, q sqlx.ExtContext, t ObjectType, o Object) error {
	name := qualified(s, o.Schema, o.Name)
	var stmt string
	switch t {
	case Table:
		stmt = "DROP TABLE " + name
	case View:
		stmt = "DROP VIEW " + name
	case Trigger:
		stmt = "DROP TRIGGER " + name
	default:
		return fmt.Errorf("sqlite cannot drop %s", t)
	}
	_, err := q.ExecContext(ctx, stmt)
	return err
}

func (s sqliteSupport) DeleteAll(ctx context.Context, q sqlx.ExtContext, schema, table string) error {
	_, err := q.ExecContext(ctx, "DELETE FROM "+qualified(s, schema, table))
	return err
}

// DisableReferentialConstraints switches foreign key enforcement off; sqlite
// cannot drop a foreign key from an existing table.
func (sqliteSupport) DisableReferentialConstraints(ctx context.Context, q sqlx.ExtContext, _ string) error {
	_, err := q.ExecContext(ctx, `PRAGMA foreign_keys = OFF`)
	return err
}

func (sqliteSupport) DisableValueConstraints(ctx context.Context, q sqlx.ExtContext, _ string) error {
	_, err := q.ExecContext(ctx, `PRAGMA ignore_check_constraints = ON`)
	return err
}

// UpdateSequences raises AUTOINCREMENT counters so the next generated key is
// at least lowest.
func (s sqliteSupport) UpdateSequences(ctx context.Context, q sqlx.ExtContext, schema string, lowest int64) error {
	var n int
	query := fmt.Sprintf(`SELECT count(*) FROM %s.sqlite_master WHERE type = 'table' AND name = 'sqlite_sequence'`, s.Quote(schema))
	if err := sqlx.GetContext(ctx, q, &n, query); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	_, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE %s.sqlite_sequence SET seq = ? WHERE seq < ?`, s.Quote(schema)), lowest-1, lowest-1)
	return err
}

func (sqliteSupport) Normalize(ident string) string {
	ident = strings.TrimSpace(ident)
	if isQuoted(ident, '"', '`') {
		ident = ident[1 : len(ident)-1]
	}
	return strings.ToLower(ident)
}

func (sqliteSupport) Key(stored string) string { return strings.ToLower(stored) }

func (sqliteSupport) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
