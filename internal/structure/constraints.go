package structure

import (
	"context"
	"fmt"

	"github.com/dbmaintain/dbmaintain/internal/db"
)

// ConstraintsDisabler removes referential and value constraints so test data
// can be loaded in any order.
type ConstraintsDisabler struct {
	dbs      *db.Databases
	preserve *Preserve
	logger   Logger
}

func NewConstraintsDisabler(dbs *db.Databases, preserve *Preserve, logger Logger) *ConstraintsDisabler {
	return &ConstraintsDisabler{dbs: dbs, preserve: preserve, logger: logger}
}

// DisableReferential drops foreign keys only. The from-scratch rebuild uses
// it before clearing.
func (c *ConstraintsDisabler) DisableReferential(ctx context.Context) error {
	return c.each(func(d *db.Database, schema string) error {
		if err := d.Support.DisableReferentialConstraints(ctx, d.DB, schema); err != nil {
			return fmt.Errorf("disable referential constraints of %s.%s: %w", d.Name, schema, err)
		}
		return nil
	})
}

func (c *ConstraintsDisabler) DisableAll(ctx context.Context) error {
	return c.each(func(d *db.Database, schema string) error {
		if err := d.Support.DisableReferentialConstraints(ctx, d.DB, schema); err != nil {
			return fmt.Errorf("disable referential constraints of %s.%s: %w", d.Name, schema, err)
		}
		if err := d.Support.DisableValueConstraints(ctx, d.DB, schema); err != nil {
			return fmt.Errorf("disable value constraints of %s.%s: %w", d.Name, schema, err)
		}
		c.logger.Info("constraints disabled", "database", d.Name, "schema", schema)
		return nil
	})
}

func (c *ConstraintsDisabler) each(fn func(d *db.Database, schema string) error) error {
	for _, d := range c.dbs.Enabled() {
		for _, schema := range d.Schemas {
			if c.preserve.schemaPreserved(d, schema) {
				continue
			}
			if err := fn(d, schema); err != nil {
				return err
			}
		}
	}
	return nil
}

// SequenceUpdater raises sequences and identity counters to a floor.
type SequenceUpdater struct {
	dbs      *db.Databases
	preserve *Preserve
	lowest   int64
	logger   Logger
}

func NewSequenceUpdater(dbs *db.Databases, preserve *Preserve, lowest int64, logger Logger) *SequenceUpdater {
	return &SequenceUpdater{dbs: dbs, preserve: preserve, lowest: lowest, logger: logger}
}

func (u *SequenceUpdater) UpdateSequences(ctx context.Context) error {
	for _, d := range u.dbs.Enabled() {
		for _, schema := range d.Schemas {
			if u.preserve.schemaPreserved(d, schema) {
				continue
			}
			if err := d.Support.UpdateSequences(ctx, d.DB, schema, u.lowest); err != nil {
				return fmt.Errorf("update sequences of %s.%s: %w", d.Name, schema, err)
			}
			u.logger.Info("sequences updated", "database", d.Name, "schema", schema, "lowest", u.lowest)
		}
	}
	return nil
}
