// Package ledger persists which scripts ran against a database.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dbmaintain/dbmaintain/internal/config"
	"github.com/dbmaintain/dbmaintain/internal/db"
	"github.com/dbmaintain/dbmaintain/internal/script"
)

// TimeLayout is the format of the executed_at column.
const TimeLayout = "2006-01-02 15:04:05"

var (
	ErrLedgerMissing = errors.New("executed scripts table does not exist and auto-create is disabled")
)

// TableLedger stores one row per executed script in a table of the default
// database.
type TableLedger struct {
	database *db.Database
	cfg      config.LedgerConfig
	factory  *script.Factory
	table    string
	checked  bool
}

func New(database *db.Database, cfg config.LedgerConfig, factory *script.Factory) *TableLedger {
	return &TableLedger{
		database: database,
		cfg:      cfg,
		factory:  factory,
		table:    database.Support.Normalize(cfg.Table),
	}
}

// Identifier returns the ledger table's identifier; clearing and cleaning
// always skip it.
func (l *TableLedger) Identifier() db.ItemIdentifier {
	return db.ObjectIdentifier(l.database, db.Table, db.Object{Schema: l.database.DefaultSchema(), Name: l.table})
}

func (l *TableLedger) qualifiedTable() string {
	s := l.database.Support
	return s.Quote(l.database.DefaultSchema()) + "." + s.Quote(l.table)
}

// EnsureTable creates the table when it is missing and auto-create is on.
func (l *TableLedger) EnsureTable(ctx context.Context) error {
	if l.checked {
		return nil
	}
	exists, err := l.exists(ctx)
	if err != nil {
		return fmt.Errorf("check executed scripts table: %w", err)
	}
	if !exists {
		if !l.cfg.AutoCreate {
			return ErrLedgerMissing
		}
		stmt := fmt.Sprintf(`CREATE TABLE %s (
	%s VARCHAR(255) NOT NULL PRIMARY KEY,
	%s BIGINT,
	%s VARCHAR(64),
	%s VARCHAR(20),
	%s CHAR(1)
)`, l.qualifiedTable(), l.cfg.FileNameColumn, l.cfg.FileLastModifiedAtColumn, l.cfg.ChecksumColumn,
			l.cfg.ExecutedAtColumn, l.cfg.SucceededColumn)
		if _, err := l.database.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create executed scripts table: %w", err)
		}
	}
	l.checked = true
	return nil
}

func (l *TableLedger) exists(ctx context.Context) (bool, error) {
	objs, err := l.database.Support.Objects(ctx, l.database.DB, l.database.DefaultSchema(), db.Table)
	if err != nil {
		return false, err
	}
	key := l.database.Support.Key(l.table)
	for _, o := range objs {
		if l.database.Support.Key(o.Name) == key {
			return true, nil
		}
	}
	return false, nil
}

type row struct {
	FileName     string         `db:"file_name"`
	LastModified sql.NullInt64  `db:"file_last_modified_at"`
	Checksum     sql.NullString `db:"checksum"`
	ExecutedAt   sql.NullString `db:"executed_at"`
	Succeeded    sql.NullString `db:"succeeded"`
}

// ExecutedScripts returns every ledger row, sorted in script order.
func (l *TableLedger) ExecutedScripts(ctx context.Context) ([]script.ExecutedScript, error) {
	if err := l.EnsureTable(ctx); err != nil {
		return nil, err
	}
	return l.read(ctx)
}

// Peek is ExecutedScripts without creating the table: a missing table that
// would be auto-created reads as empty.
func (l *TableLedger) Peek(ctx context.Context) ([]script.ExecutedScript, error) {
	if !l.checked {
		exists, err := l.exists(ctx)
		if err != nil {
			return nil, fmt.Errorf("check executed scripts table: %w", err)
		}
		if !exists {
			if !l.cfg.AutoCreate {
				return nil, ErrLedgerMissing
			}
			return nil, nil
		}
	}
	return l.read(ctx)
}

func (l *TableLedger) read(ctx context.Context) ([]script.ExecutedScript, error) {
	query := fmt.Sprintf(`SELECT %s AS file_name, %s AS file_last_modified_at, %s AS checksum, %s AS executed_at, %s AS succeeded FROM %s`,
		l.cfg.FileNameColumn, l.cfg.FileLastModifiedAtColumn, l.cfg.ChecksumColumn, l.cfg.ExecutedAtColumn,
		l.cfg.SucceededColumn, l.qualifiedTable())
	var rows []row
	if err := sqlx.SelectContext(ctx, l.database.DB, &rows, query); err != nil {
		return nil, fmt.Errorf("read executed scripts: %w", err)
	}
	out := make([]script.ExecutedScript, 0, len(rows))
	for _, r := range rows {
		s, err := l.factory.FromLedger(r.FileName, r.LastModified.Int64, r.Checksum.String)
		if err != nil {
			return nil, fmt.Errorf("executed script %s: %w", r.FileName, err)
		}
		es := script.ExecutedScript{Script: s, Succeeded: r.Succeeded.String == "1"}
		if r.ExecutedAt.Valid && r.ExecutedAt.String != "" {
			if es.ExecutedAt, err = time.ParseInLocation(TimeLayout, r.ExecutedAt.String, time.UTC); err != nil {
				return nil, fmt.Errorf("executed script %s: invalid executed_at %q: %w", r.FileName, r.ExecutedAt.String, err)
			}
		}
		out = append(out, es)
	}
	script.SortExecuted(out)
	return out, nil
}

// Register inserts a row for es.
func (l *TableLedger) Register(ctx context.Context, es script.ExecutedScript) error {
	if err := l.EnsureTable(ctx); err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s, %s, %s, %s, %s) VALUES (?, ?, ?, ?, ?)`,
		l.qualifiedTable(), l.cfg.FileNameColumn, l.cfg.FileLastModifiedAtColumn, l.cfg.ChecksumColumn,
		l.cfg.ExecutedAtColumn, l.cfg.SucceededColumn)
	s := es.Script
	if _, err := l.exec(ctx, query, s.FileName(), s.LastModified(), s.Checksum(), formatTime(es.ExecutedAt), flag(es.Succeeded)); err != nil {
		return fmt.Errorf("register executed script %s: %w", s.FileName(), err)
	}
	return nil
}

// Update rewrites the row of es.Script.
func (l *TableLedger) Update(ctx context.Context, es script.ExecutedScript) error {
	query := fmt.Sprintf(`UPDATE %s SET %s = ?, %s = ?, %s = ?, %s = ? WHERE %s = ?`,
		l.qualifiedTable(), l.cfg.FileLastModifiedAtColumn, l.cfg.ChecksumColumn, l.cfg.ExecutedAtColumn,
		l.cfg.SucceededColumn, l.cfg.FileNameColumn)
	s := es.Script
	n, err := l.exec(ctx, query, s.LastModified(), s.Checksum(), formatTime(es.ExecutedAt), flag(es.Succeeded), s.FileName())
	if err != nil {
		return fmt.Errorf("update executed script %s: %w", s.FileName(), err)
	}
	if n == 0 {
		return fmt.Errorf("update executed script %s: no such row", s.FileName())
	}
	return nil
}

// Rename moves the row of oldName to the renamed script.
func (l *TableLedger) Rename(ctx context.Context, oldName string, renamed *script.Script) error {
	query := fmt.Sprintf(`UPDATE %s SET %s = ?, %s = ?, %s = ? WHERE %s = ?`,
		l.qualifiedTable(), l.cfg.FileNameColumn, l.cfg.FileLastModifiedAtColumn, l.cfg.ChecksumColumn, l.cfg.FileNameColumn)
	if _, err := l.exec(ctx, query, renamed.FileName(), renamed.LastModified(), renamed.Checksum(), oldName); err != nil {
		return fmt.Errorf("rename executed script %s to %s: %w", oldName, renamed.FileName(), err)
	}
	return nil
}

func (l *TableLedger) Delete(ctx context.Context, fileName string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, l.qualifiedTable(), l.cfg.FileNameColumn)
	if _, err := l.exec(ctx, query, fileName); err != nil {
		return fmt.Errorf("delete executed script %s: %w", fileName, err)
	}
	return nil
}

// Clear removes every row.
func (l *TableLedger) Clear(ctx context.Context) error {
	if err := l.EnsureTable(ctx); err != nil {
		return err
	}
	if _, err := l.exec(ctx, fmt.Sprintf(`DELETE FROM %s`, l.qualifiedTable())); err != nil {
		return fmt.Errorf("clear executed scripts: %w", err)
	}
	return nil
}

// MarkFailedAsSucceeded flags every failed row as successful.
func (l *TableLedger) MarkFailedAsSucceeded(ctx context.Context) error {
	query := fmt.Sprintf(`UPDATE %s SET %s = ? WHERE %s = ?`, l.qualifiedTable(), l.cfg.SucceededColumn, l.cfg.SucceededColumn)
	if _, err := l.exec(ctx, query, flag(true), flag(false)); err != nil {
		return fmt.Errorf("mark failed scripts as succeeded: %w", err)
	}
	return nil
}

// DeleteFailed removes every failed row.
func (l *TableLedger) DeleteFailed(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, l.qualifiedTable(), l.cfg.SucceededColumn)
	if _, err := l.exec(ctx, query, flag(false)); err != nil {
		return fmt.Errorf("delete failed scripts: %w", err)
	}
	return nil
}

func (l *TableLedger) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := l.database.DB.ExecContext(ctx, l.database.DB.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
