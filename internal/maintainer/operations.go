package maintainer

import (
	"context"

	"github.com/dbmaintain/dbmaintain/internal/script"
	"github.com/dbmaintain/dbmaintain/internal/structure"
)

// MarkDatabaseAsUpToDate replaces the ledger with every current script,
// recorded as successfully executed. Nothing is run.
func (m *Maintainer) MarkDatabaseAsUpToDate(ctx context.Context) error {
	return m.guard("mark database as up to date", func() error {
		if err := m.ledger.Clear(ctx); err != nil {
			return err
		}
		now := m.now()
		for _, s := range m.repo.AllScripts() {
			if err := m.ledger.Register(ctx, script.ExecutedScript{Script: s, ExecutedAt: now, Succeeded: true}); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearDatabase drops every object that is not preserved and empties the
// ledger.
func (m *Maintainer) ClearDatabase(ctx context.Context) error {
	return m.guard("clear database", func() error {
		clearer, err := structure.NewClearer(ctx, m.dbs, m.preserve, m.logger)
		if err != nil {
			return err
		}
		if err := clearer.Clear(ctx); err != nil {
			return err
		}
		return m.ledger.Clear(ctx)
	})
}

func (m *Maintainer) CleanDatabase(ctx context.Context) error {
	return m.guard("clean database", func() error {
		cleaner, err := structure.NewCleaner(ctx, m.dbs, m.preserve, m.logger)
		if err != nil {
			return err
		}
		return cleaner.Clean(ctx)
	})
}

func (m *Maintainer) DisableConstraints(ctx context.Context) error {
	return m.guard("disable constraints", func() error {
		return structure.NewConstraintsDisabler(m.dbs, m.preserve, m.logger).DisableAll(ctx)
	})
}

func (m *Maintainer) UpdateSequences(ctx context.Context) error {
	return m.guard("update sequences", func() error {
		return structure.NewSequenceUpdater(m.dbs, m.preserve, m.cfg.LowestSequenceValue, m.logger).UpdateSequences(ctx)
	})
}

// MarkErrorScriptPerformed records the failed scripts as succeeded, for when
// the operator applied the fix by hand.
func (m *Maintainer) MarkErrorScriptPerformed(ctx context.Context) error {
	return m.guard("mark error script performed", func() error {
		return m.ledger.MarkFailedAsSucceeded(ctx)
	})
}

// MarkErrorScriptReverted forgets the failed scripts, for when the operator
// undid their partial effects. They run again on the next update.
func (m *Maintainer) MarkErrorScriptReverted(ctx context.Context) error {
	return m.guard("mark error script reverted", func() error {
		return m.ledger.DeleteFailed(ctx)
	})
}

// Status is a snapshot of the maintainer and its ledger.
type Status struct {
	Phase    Phase                   `json:"phase"`
	Executed []script.ExecutedScript `json:"-"`
}

// Status reads the ledger. It does not wait for a running operation and
// returns ErrBusy with the current phase instead.
func (m *Maintainer) Status(ctx context.Context) (*Status, error) {
	if !m.mu.TryLock() {
		return &Status{Phase: m.Phase()}, ErrBusy
	}
	defer m.mu.Unlock()
	executed, err := m.ledger.ExecutedScripts(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{Phase: m.Phase(), Executed: executed}, nil
}
