// Package runner executes scripts against the target databases.
package runner

import (
	"context"
	"fmt"

	"github.com/dbmaintain/dbmaintain/internal/db"
	"github.com/dbmaintain/dbmaintain/internal/script"
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Runner executes one script.
type Runner interface {
	Execute(ctx context.Context, s *script.Script) error
}

// StatementError reports the statement of a script the database rejected.
type StatementError struct {
	Script    string
	Database  string
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("script %s failed on database %s executing %q: %v", e.Script, e.Database, abbreviate(e.Statement, 200), e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

// Dispatcher picks the runner for a script by its extension: .sql and .ddl
// go to the SQL runner, .ldr and .ctl to the bulk loader and everything else
// to the native runner. Scripts targeting a disabled database are skipped.
type Dispatcher struct {
	dbs    *db.Databases
	sql    Runner
	loader Runner
	native Runner
	logger Logger
}

func NewDispatcher(dbs *db.Databases, sql, loader, native Runner, logger Logger) *Dispatcher {
	return &Dispatcher{dbs: dbs, sql: sql, loader: loader, native: native, logger: logger}
}

func (d *Dispatcher) Execute(ctx context.Context, s *script.Script) error {
	target, err := d.dbs.Get(s.TargetDatabase())
	if err != nil {
		return err
	}
	if target.Disabled {
		d.logger.Info("skipping script for disabled database", "script", s.FileName(), "database", target.Name)
		return nil
	}
	r := d.For(s)
	if r == nil {
		return fmt.Errorf("no runner configured for script %s", s.FileName())
	}
	return r.Execute(ctx, s)
}

// For returns the runner a script is dispatched to.
func (d *Dispatcher) For(s *script.Script) Runner {
	switch s.Extension() {
	case "sql", "ddl":
		return d.sql
	case "ldr", "ctl":
		return d.loader
	default:
		return d.native
	}
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
