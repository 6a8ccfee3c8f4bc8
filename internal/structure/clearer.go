package structure

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/multierr"

	"github.com/dbmaintain/dbmaintain/internal/db"
)

// Clearer drops every object of the configured schemas except the preserved
// ones.
type Clearer struct {
	dbs      *db.Databases
	preserve *Preserve
	logger   Logger
}

// NewClearer validates the preserve set before anything can be dropped.
func NewClearer(ctx context.Context, dbs *db.Databases, preserve *Preserve, logger Logger) (*Clearer, error) {
	if err := preserve.Validate(ctx, dbs); err != nil {
		return nil, err
	}
	return &Clearer{dbs: dbs, preserve: preserve, logger: logger}, nil
}

// Clear drops objects in DropOrder. Drops that fail, typically because of a
// dependency on an object not dropped yet, are retried in another pass; it
// gives up once a pass fails on as many objects as the one before.
func (c *Clearer) Clear(ctx context.Context) error {
	for _, d := range c.dbs.Enabled() {
		for _, schema := range d.Schemas {
			if c.preserve.schemaPreserved(d, schema) {
				c.logger.Info("schema preserved, not clearing", "database", d.Name, "schema", schema)
				continue
			}
			c.logger.Info("clearing schema", "database", d.Name, "schema", schema)
			if err := retryPasses(func() (int, error) { return c.pass(ctx, d, schema) }); err != nil {
				return fmt.Errorf("clear schema %s.%s: %w", d.Name, schema, err)
			}
		}
	}
	return nil
}

func (c *Clearer) pass(ctx context.Context, d *db.Database, schema string) (int, error) {
	var (
		errs     error
		failures int
	)
	for _, t := range db.DropOrder {
		if !d.Support.Supports(t) {
			continue
		}
		objs, err := d.Support.Objects(ctx, d.DB, schema, t)
		if err != nil {
			return 0, fmt.Errorf("list %ss: %w", t, err)
		}
		for _, o := range objs {
			if c.preserve.objectPreserved(d, t, o) {
				continue
			}
			if err := d.Support.Drop(ctx, d.DB, t, o); err != nil {
				failures++
				errs = multierr.Append(errs, fmt.Errorf("drop %s %s.%s: %w", t, schema, o.Name, err))
				continue
			}
			c.logger.Info("dropped", "database", d.Name, "schema", schema, "type", t.String(), "object", o.Name)
		}
	}
	return failures, errs
}

// retryPasses runs pass until it reports no failures or stops making
// progress. A pass returning an error with zero failures is fatal at once.
func retryPasses(pass func() (int, error)) error {
	prev := math.MaxInt
	for {
		failures, err := pass()
		if err == nil {
			return nil
		}
		if failures == 0 || failures >= prev {
			return err
		}
		prev = failures
	}
}
