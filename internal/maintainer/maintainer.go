// Package maintainer brings the target databases up to date with the script
// repository, keeping the ledger consistent across failures.
package maintainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dbmaintain/dbmaintain/internal/config"
	"github.com/dbmaintain/dbmaintain/internal/db"
	"github.com/dbmaintain/dbmaintain/internal/ledger"
	"github.com/dbmaintain/dbmaintain/internal/repository"
	"github.com/dbmaintain/dbmaintain/internal/runner"
	"github.com/dbmaintain/dbmaintain/internal/script"
	"github.com/dbmaintain/dbmaintain/internal/structure"
	"github.com/dbmaintain/dbmaintain/internal/update"
)

// Observer is told about every executed script and every finished update.
type Observer interface {
	ScriptExecuted(s *script.Script, elapsed time.Duration, err error)
	UpdateFinished(res *Result, err error)
}

// Result describes one update.
type Result struct {
	RunID    string                `json:"run_id"`
	Strategy Strategy              `json:"strategy"`
	DryRun   bool                  `json:"dry_run"`
	Updates  *update.ScriptUpdates `json:"-"`
	Planned  []string              `json:"planned"`
	Executed []string              `json:"executed"`
	Duration time.Duration         `json:"-"`
}

// Maintainer runs the operations against one set of databases. Operations
// are serialized.
type Maintainer struct {
	mu        sync.Mutex
	phase     atomic.Int32
	cfg       config.MaintainerConfig
	dbs       *db.Databases
	repo      *repository.Repository
	ledger    *ledger.TableLedger
	runner    runner.Runner
	preserve  *structure.Preserve
	analyzer  update.Analyzer
	logger    *slog.Logger
	observers []Observer
	now       func() time.Time
}

// New wires a maintainer. The preserve lists are resolved here but only
// checked against the databases when a clear or clean runs.
func New(cfg config.MaintainerConfig, preserve config.PreserveConfig, dbs *db.Databases, repo *repository.Repository,
	l *ledger.TableLedger, r runner.Runner, logger *slog.Logger) (*Maintainer, error) {
	p, err := structure.NewPreserve(preserve, dbs, l.Identifier())
	if err != nil {
		return nil, err
	}
	return &Maintainer{
		cfg:      cfg,
		dbs:      dbs,
		repo:     repo,
		ledger:   l,
		runner:   r,
		preserve: p,
		analyzer: update.Analyzer{
			AllowOutOfSequencePatches: cfg.AllowOutOfSequencePatches,
			UseLastModificationDates:  cfg.UseLastModificationDates,
		},
		logger: logger,
		now:    time.Now,
	}, nil
}

// AddObserver must be called before the first operation.
func (m *Maintainer) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

func (m *Maintainer) Phase() Phase { return Phase(m.phase.Load()) }

func (m *Maintainer) setPhase(p Phase) { m.phase.Store(int32(p)) }

// Databases returns the databases the maintainer works on.
func (m *Maintainer) Databases() *db.Databases { return m.dbs }

// Close closes the database connections.
func (m *Maintainer) Close() error { return m.dbs.Close() }

// UpdateDatabase decides between an incremental update and a rebuild from
// scratch and executes the scripts that are due. A dry run stops after the
// decision and reports the planned scripts.
func (m *Maintainer) UpdateDatabase(ctx context.Context, dryRun bool) (res *Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	res = &Result{RunID: uuid.NewString(), Strategy: StrategyNone, DryRun: dryRun}
	log := m.logger.With("run_id", res.RunID)
	defer func() {
		res.Duration = time.Since(start)
		if err != nil {
			m.setPhase(Failed)
			log.Error("update failed", "strategy", string(res.Strategy), "error", err)
		} else {
			m.setPhase(Idle)
			log.Info("update finished", "strategy", string(res.Strategy), "executed", len(res.Executed),
				"duration_ms", res.Duration.Milliseconds(), "dry_run", dryRun)
		}
		for _, o := range m.observers {
			o.UpdateFinished(res, err)
		}
	}()

	m.setPhase(DecidingStrategy)
	executed, err := m.ledger.ExecutedScripts(ctx)
	if err != nil {
		return res, err
	}
	plan, err := m.assess(log, executed, res)
	if err != nil || res.Strategy == StrategyNone || dryRun {
		return res, err
	}
	strategy, updates := res.Strategy, res.Updates

	inLedger := map[string]bool{}
	if strategy == StrategyFromScratch {
		m.setPhase(FromScratchRebuild)
		if err := m.rebuild(ctx, log); err != nil {
			return res, err
		}
	} else {
		m.setPhase(IncrementalUpdate)
		if err := m.bookkeep(ctx, log, updates); err != nil {
			return res, err
		}
		for _, es := range executed {
			inLedger[es.Script.FileName()] = true
		}
		for _, u := range updates.All() {
			switch {
			case u.RenamedTo != nil:
				delete(inLedger, u.Script.FileName())
				inLedger[u.RenamedTo.FileName()] = true
			case u.Type.IsDeletionOrRename():
				delete(inLedger, u.Script.FileName())
			}
		}
	}

	for _, s := range plan {
		if s.IsPostprocessing() {
			m.setPhase(ExecutingPostprocessing)
		} else {
			m.setPhase(ExecutingScripts)
		}
		if err := m.execute(ctx, log, s, inLedger[s.FileName()]); err != nil {
			return res, err
		}
		res.Executed = append(res.Executed, s.FileName())
	}

	if len(res.Executed) > 0 || strategy == StrategyFromScratch {
		m.setPhase(PostSteps)
		if err := m.postSteps(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

// CheckScriptUpdates classifies the pending updates without executing
// anything. Errors are those an update would fail with. The ledger table is
// not created, the phase is left alone and observers are not notified.
func (m *Maintainer) CheckScriptUpdates(ctx context.Context) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := &Result{RunID: uuid.NewString(), Strategy: StrategyNone, DryRun: true}
	executed, err := m.ledger.Peek(ctx)
	if err != nil {
		return res, err
	}
	_, err = m.assess(m.logger.With("run_id", res.RunID), executed, res)
	return res, err
}

// assess classifies the updates, decides the strategy and returns the
// scripts an update would execute. res receives the updates, the strategy
// and the plan.
func (m *Maintainer) assess(log *slog.Logger, executed []script.ExecutedScript, res *Result) ([]*script.Script, error) {
	updates := m.analyzer.Calculate(m.repo, executed)
	res.Updates = updates
	for _, u := range updates.All() {
		log.Info("script update", "type", u.Type.String(), "script", u.Script.FileName())
	}

	strategy, err := m.decide(executed, updates)
	if err != nil {
		return nil, err
	}
	res.Strategy = strategy

	var plan []*script.Script
	switch strategy {
	case StrategyFromScratch:
		plan = m.repo.AllScripts()
	case StrategyIncremental:
		plan = m.incrementalPlan(updates)
	}
	for _, s := range plan {
		res.Planned = append(res.Planned, s.FileName())
	}
	return plan, nil
}

// decide picks the strategy. A database without ledger rows is always
// updated incrementally, so a first update never clears anything.
func (m *Maintainer) decide(executed []script.ExecutedScript, updates *update.ScriptUpdates) (Strategy, error) {
	var failedIncremental []string
	for _, es := range executed {
		if !es.Succeeded && es.Script.IsIncremental() {
			failedIncremental = append(failedIncremental, es.Script.FileName())
		}
	}
	if len(failedIncremental) > 0 {
		if m.cfg.FromScratch && (m.cfg.KeepRetryingAfterError || incrementalChanged(updates)) {
			return StrategyFromScratch, nil
		}
		return "", &ErrorScriptError{Scripts: failedIncremental, Incremental: true}
	}
	if updates.HasIrregularUpdates() {
		if m.cfg.FromScratch && len(executed) > 0 {
			return StrategyFromScratch, nil
		}
		return "", &IrregularUpdatesError{Updates: updates.Irregular}
	}
	if len(updates.Retries) > 0 && !m.cfg.KeepRetryingAfterError {
		var names []string
		for _, u := range updates.Retries {
			names = append(names, u.Script.FileName())
		}
		return "", &ErrorScriptError{Scripts: names}
	}
	if updates.IsEmpty() {
		return StrategyNone, nil
	}
	return StrategyIncremental, nil
}

func incrementalChanged(u *update.ScriptUpdates) bool {
	if len(u.Irregular) > 0 || len(u.RegularlyAddedPatches) > 0 {
		return true
	}
	for _, g := range [][]update.ScriptUpdate{u.RegularlyAddedOrModified, u.RegularlyRenamed} {
		for _, su := range g {
			if su.Script.IsIncremental() {
				return true
			}
		}
	}
	return false
}

// incrementalPlan returns the scripts an incremental update runs: every
// preprocessing script, the added or changed scripts and every
// postprocessing script. Nothing runs when the updates are only deletions
// and renames.
func (m *Maintainer) incrementalPlan(u *update.ScriptUpdates) []*script.Script {
	if u.NoUpdatesOtherThanDeletionsOrRenames() {
		return nil
	}
	plan := m.repo.PreprocessingScripts()
	for _, g := range [][]update.ScriptUpdate{u.RegularlyAddedOrModified, u.RegularlyAddedPatches, u.Retries} {
		for _, su := range g {
			if su.Script.IsPreprocessing() || su.Script.IsPostprocessing() {
				continue
			}
			plan = append(plan, su.Script)
		}
	}
	plan = append(plan, m.repo.PostprocessingScripts()...)
	script.Sort(plan)
	return plan
}

func (m *Maintainer) rebuild(ctx context.Context, log *slog.Logger) error {
	log.Info("rebuilding database from scratch")
	clearer, err := structure.NewClearer(ctx, m.dbs, m.preserve, log)
	if err != nil {
		return err
	}
	if err := structure.NewConstraintsDisabler(m.dbs, m.preserve, log).DisableReferential(ctx); err != nil {
		return err
	}
	if err := clearer.Clear(ctx); err != nil {
		return err
	}
	return m.ledger.Clear(ctx)
}

// bookkeep applies regular renames and deletions to the ledger.
func (m *Maintainer) bookkeep(ctx context.Context, log *slog.Logger, u *update.ScriptUpdates) error {
	for _, su := range u.All() {
		switch {
		case su.RenamedTo != nil && su.Type != update.IndexedScriptRenamedSequenceChanged:
			log.Info("script renamed", "script", su.Script.FileName(), "renamed_to", su.RenamedTo.FileName())
			if err := m.ledger.Rename(ctx, su.Script.FileName(), su.RenamedTo); err != nil {
				return err
			}
		case su.Type.IsDeletionOrRename():
			log.Info("script deleted", "script", su.Script.FileName())
			if err := m.ledger.Delete(ctx, su.Script.FileName()); err != nil {
				return err
			}
		}
	}
	return nil
}

// execute registers s as failed, runs it and flips the ledger row on
// success. A failed script keeps its failed row.
func (m *Maintainer) execute(ctx context.Context, log *slog.Logger, s *script.Script, inLedger bool) error {
	es := script.ExecutedScript{Script: s, ExecutedAt: m.now()}
	var err error
	if inLedger {
		err = m.ledger.Update(ctx, es)
	} else {
		err = m.ledger.Register(ctx, es)
	}
	if err != nil {
		return err
	}

	log.Info("executing script", "script", s.FileName())
	start := time.Now()
	runErr := m.runner.Execute(ctx, s)
	elapsed := time.Since(start)
	for _, o := range m.observers {
		o.ScriptExecuted(s, elapsed, runErr)
	}
	if runErr != nil {
		return m.executionError(s, runErr)
	}

	es.Succeeded = true
	if err := m.ledger.Update(ctx, es); err != nil {
		return err
	}
	log.Info("script executed", "script", s.FileName(), "duration_ms", elapsed.Milliseconds())
	return nil
}

func (m *Maintainer) executionError(s *script.Script, err error) error {
	e := &ScriptExecutionError{Script: s.FileName(), Err: err}
	var stmtErr *runner.StatementError
	if errors.As(err, &stmtErr) {
		e.Statement = stmtErr.Statement
	}
	if s.Content() != nil {
		e.Content = truncate(s.Content().String(), m.cfg.MaxErrorContentChars)
	}
	return e
}

func (m *Maintainer) postSteps(ctx context.Context) error {
	if m.cfg.CleanDB {
		cleaner, err := structure.NewCleaner(ctx, m.dbs, m.preserve, m.logger)
		if err != nil {
			return err
		}
		if err := cleaner.Clean(ctx); err != nil {
			return err
		}
	}
	if m.cfg.DisableConstraints {
		if err := structure.NewConstraintsDisabler(m.dbs, m.preserve, m.logger).DisableAll(ctx); err != nil {
			return err
		}
	}
	if m.cfg.UpdateSequences {
		if err := structure.NewSequenceUpdater(m.dbs, m.preserve, m.cfg.LowestSequenceValue, m.logger).UpdateSequences(ctx); err != nil {
			return err
		}
	}
	return nil
}

// guard runs fn under the operation lock, tracking the failed phase.
func (m *Maintainer) guard(name string, fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := fn(); err != nil {
		m.setPhase(Failed)
		return fmt.Errorf("%s: %w", name, err)
	}
	m.setPhase(Idle)
	m.logger.Info("operation finished", "operation", name)
	return nil
}
