package runner

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dbmaintain/dbmaintain/internal/db"
	"github.com/dbmaintain/dbmaintain/internal/script"
	"github.com/dbmaintain/dbmaintain/internal/script/parser"
)

// SQLRunner executes the statements of a script over the database
// connection, all in one transaction.
type SQLRunner struct {
	dbs    *db.Databases
	params map[string]string
	logger Logger
}

func NewSQLRunner(dbs *db.Databases, params map[string]string, logger Logger) *SQLRunner {
	return &SQLRunner{dbs: dbs, params: params, logger: logger}
}

func (r *SQLRunner) Execute(ctx context.Context, s *script.Script) error {
	if s.Content() == nil {
		return fmt.Errorf("script %s has no content", s.FileName())
	}
	target, err := r.dbs.Get(s.TargetDatabase())
	if err != nil {
		return err
	}
	tx, err := target.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	p := parser.New(s.Content().Reader(), target.Support.ParserDialect(), r.params)
	count := 0
	for {
		stmt, err := p.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("parse script %s: %w", s.FileName(), err)
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			r.logger.Error("statement failed", append([]any{"script", s.FileName(), "database", target.Name}, db.ErrorAttrs(err)...)...)
			return &StatementError{Script: s.FileName(), Database: target.Name, Statement: stmt, Err: err}
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit script %s: %w", s.FileName(), err)
	}
	r.logger.Info("script executed", "script", s.FileName(), "database", target.Name, "statements", count)
	return nil
}
