package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/dbmaintain/dbmaintain/internal/script/parser"
)

// ObjectType is a kind of schema object the clearer knows how to drop.
type ObjectType int

const (
	Table ObjectType = iota + 1
	View
	MaterializedView
	Sequence
	Synonym
	Trigger
	Type
	StoredProcedure
	Rule
)

// DropOrder is the order in which the clearer drops object types.
var DropOrder = []ObjectType{Synonym, View, MaterializedView, Sequence, Table, StoredProcedure, Trigger, Type, Rule}

func (t ObjectType) String() string {
	switch t {
	case Table:
		return "table"
	case View:
		return "view"
	case MaterializedView:
		return "materialized view"
	case Sequence:
		return "sequence"
	case Synonym:
		return "synonym"
	case Trigger:
		return "trigger"
	case Type:
		return "type"
	case StoredProcedure:
		return "stored procedure"
	case Rule:
		return "rule"
	default:
		return fmt.Sprintf("object type %d", int(t))
	}
}

// Object is a live schema object.
type Object struct {
	Schema string
	Name   string
	// On is the table a trigger or rule belongs to, when the dialect needs it
	// to drop the object.
	On string
	// Variant carries what else a drop statement needs: the argument list of
	// a PostgreSQL routine, or PROCEDURE/FUNCTION for MySQL.
	Variant string
}

// Support captures what differs between database dialects.
type Support interface {
	Dialect() string
	ParserDialect() parser.Dialect

	DefaultSchema(ctx context.Context, q sqlx.QueryerContext) (string, error)
	SchemaExists(ctx context.Context, q sqlx.ExtContext, schema string) (bool, error)
	Supports(t ObjectType) bool
	Objects(ctx context.Context, q sqlx.ExtContext, schema string, t ObjectType) ([]Object, error)
	Drop(ctx context.Context, q sqlx.ExtContext, t ObjectType, o Object) error
	DeleteAll(ctx context.Context, q sqlx.ExtContext, schema, table string) error

	DisableReferentialConstraints(ctx context.Context, q sqlx.ExtContext, schema string) error
	DisableValueConstraints(ctx context.Context, q sqlx.ExtContext, schema string) error
	UpdateSequences(ctx context.Context, q sqlx.ExtContext, schema string, lowest int64) error

	// Normalize turns an identifier as written by a user into its stored
	// form: quoted identifiers keep their case, unquoted ones are folded the
	// way the database folds them.
	Normalize(ident string) string
	// Key is the comparison key of a stored identifier.
	Key(stored string) string
	Quote(ident string) string
}

// SupportFor returns the Support of a dialect.
func SupportFor(dialect string) (Support, error) {
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case "postgres", "postgresql", "pgx":
		return postgresSupport{}, nil
	case "mysql", "mariadb":
		return mysqlSupport{}, nil
	case "sqlite", "sqlite3":
		return sqliteSupport{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %s", dialect)
	}
}

func isQuoted(ident string, quotes ...byte) bool {
	if len(ident) < 2 {
		return false
	}
	for _, q := range quotes {
		if ident[0] == q && ident[len(ident)-1] == q {
			return true
		}
	}
	return false
}

func qualified(s Support, schema, name string) string {
	if schema == "" {
		return s.Quote(name)
	}
	return s.Quote(schema) + "." + s.Quote(name)
}

func names(ctx context.Context, q sqlx.ExtContext, schema, query string, args ...any) ([]Object, error) {
	var rows []string
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]Object, 0, len(rows))
	for _, n := range rows {
		out = append(out, Object{Schema: schema, Name: n})
	}
	return out, nil
}

func execAll(ctx context.Context, q sqlx.ExtContext, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}
