package structure

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/dbmaintain/dbmaintain/internal/db"
)

// Cleaner deletes the data of every table except the ledger and the
// preserved tables and schemas. The structure is left untouched.
type Cleaner struct {
	dbs      *db.Databases
	preserve *Preserve
	logger   Logger
}

func NewCleaner(ctx context.Context, dbs *db.Databases, preserve *Preserve, logger Logger) (*Cleaner, error) {
	if err := preserve.Validate(ctx, dbs); err != nil {
		return nil, err
	}
	return &Cleaner{dbs: dbs, preserve: preserve, logger: logger}, nil
}

func (c *Cleaner) Clean(ctx context.Context) error {
	for _, d := range c.dbs.Enabled() {
		for _, schema := range d.Schemas {
			if c.preserve.schemaPreserved(d, schema) || c.preserve.dataOnlySchemas[db.SchemaIdentifier(d, schema)] {
				continue
			}
			if err := retryPasses(func() (int, error) { return c.pass(ctx, d, schema) }); err != nil {
				return fmt.Errorf("clean schema %s.%s: %w", d.Name, schema, err)
			}
			c.logger.Info("cleaned schema", "database", d.Name, "schema", schema)
		}
	}
	return nil
}

func (c *Cleaner) pass(ctx context.Context, d *db.Database, schema string) (int, error) {
	tables, err := d.Support.Objects(ctx, d.DB, schema, db.Table)
	if err != nil {
		return 0, fmt.Errorf("list tables: %w", err)
	}
	var (
		errs     error
		failures int
	)
	for _, t := range tables {
		if c.preserve.dataPreserved(d, schema, t) {
			continue
		}
		if err := d.Support.DeleteAll(ctx, d.DB, schema, t.Name); err != nil {
			failures++
			errs = multierr.Append(errs, fmt.Errorf("delete from %s.%s: %w", schema, t.Name, err))
		}
	}
	return failures, errs
}
