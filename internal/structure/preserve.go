// Package structure clears, cleans and relaxes the schemas of the target
// databases.
package structure

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dbmaintain/dbmaintain/internal/config"
	"github.com/dbmaintain/dbmaintain/internal/db"
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Preserve is the set of schemas and objects the structure operations leave
// alone.
type Preserve struct {
	ledger          db.ItemIdentifier
	schemas         map[db.ItemIdentifier]bool
	objects         map[db.ItemIdentifier]bool
	dataOnlySchemas map[db.ItemIdentifier]bool
	dataOnlyTables  map[db.ItemIdentifier]bool
}

// NewPreserve resolves the configured identifiers against dbs. ledger is the
// executed scripts table, which is always preserved.
func NewPreserve(cfg config.PreserveConfig, dbs *db.Databases, ledger db.ItemIdentifier) (*Preserve, error) {
	p := &Preserve{
		ledger:          ledger,
		schemas:         map[db.ItemIdentifier]bool{},
		objects:         map[db.ItemIdentifier]bool{},
		dataOnlySchemas: map[db.ItemIdentifier]bool{},
		dataOnlyTables:  map[db.ItemIdentifier]bool{},
	}
	for _, s := range cfg.Schemas {
		id, err := db.ParseSchemaIdentifier(s, dbs)
		if err != nil {
			return nil, err
		}
		p.schemas[id] = true
	}
	for _, s := range cfg.DataOnlySchemas {
		id, err := db.ParseSchemaIdentifier(s, dbs)
		if err != nil {
			return nil, err
		}
		p.dataOnlySchemas[id] = true
	}
	lists := []struct {
		t     db.ObjectType
		names []string
		into  map[db.ItemIdentifier]bool
	}{
		{db.Table, cfg.Tables, p.objects},
		{db.View, cfg.Views, p.objects},
		{db.MaterializedView, cfg.MaterializedViews, p.objects},
		{db.Sequence, cfg.Sequences, p.objects},
		{db.Synonym, cfg.Synonyms, p.objects},
		{db.Trigger, cfg.Triggers, p.objects},
		{db.Type, cfg.Types, p.objects},
		{db.Table, cfg.DataOnlyTables, p.dataOnlyTables},
	}
	for _, l := range lists {
		for _, name := range l.names {
			id, err := db.ParseItemIdentifier(l.t, name, dbs)
			if err != nil {
				return nil, err
			}
			l.into[id] = true
		}
	}
	return p, nil
}

func (p *Preserve) schemaPreserved(d *db.Database, schema string) bool {
	return p.schemas[db.SchemaIdentifier(d, schema)]
}

func (p *Preserve) objectPreserved(d *db.Database, t db.ObjectType, o db.Object) bool {
	id := db.ObjectIdentifier(d, t, o)
	return id == p.ledger || p.objects[id]
}

func (p *Preserve) dataPreserved(d *db.Database, schema string, o db.Object) bool {
	return p.schemaPreserved(d, schema) ||
		p.dataOnlySchemas[db.SchemaIdentifier(d, schema)] ||
		p.objectPreserved(d, db.Table, o) ||
		p.dataOnlyTables[db.ObjectIdentifier(d, db.Table, o)]
}

// Validate checks that every preserved schema and object exists, so that a
// misspelled preserve entry fails instead of silently preserving nothing.
func (p *Preserve) Validate(ctx context.Context, dbs *db.Databases) error {
	var missing []string
	for _, ids := range []map[db.ItemIdentifier]bool{p.schemas, p.dataOnlySchemas} {
		for id := range ids {
			d, err := dbs.Get(id.Database)
			if err != nil {
				return err
			}
			if d.Disabled {
				continue
			}
			ok, err := d.Support.SchemaExists(ctx, d.DB, id.Schema)
			if err != nil {
				return fmt.Errorf("check schema %s: %w", id, err)
			}
			if !ok {
				missing = append(missing, "schema "+id.String())
			}
		}
	}

	live := map[string]map[db.ItemIdentifier]bool{}
	for _, ids := range []map[db.ItemIdentifier]bool{p.objects, p.dataOnlyTables} {
		for id := range ids {
			d, err := dbs.Get(id.Database)
			if err != nil {
				return err
			}
			if d.Disabled {
				continue
			}
			if !d.Support.Supports(id.Type) {
				missing = append(missing, fmt.Sprintf("%s %s (not supported by %s)", id.Type, id, d.Dialect))
				continue
			}
			key := fmt.Sprintf("%s/%s/%d", id.Database, id.Schema, id.Type)
			if live[key] == nil {
				objs, err := d.Support.Objects(ctx, d.DB, id.Schema, id.Type)
				if err != nil {
					return fmt.Errorf("list %ss of %s.%s: %w", id.Type, id.Database, id.Schema, err)
				}
				live[key] = map[db.ItemIdentifier]bool{}
				for _, o := range objs {
					live[key][db.ObjectIdentifier(d, id.Type, o)] = true
				}
			}
			if !live[key][id] {
				missing = append(missing, fmt.Sprintf("%s %s", id.Type, id))
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return config.Errorf("preserved items do not exist: %s", strings.Join(missing, ", "))
	}
	return nil
}
