package db

import (
	"fmt"
	"strings"

	"github.com/dbmaintain/dbmaintain/internal/config"
)

// ItemIdentifier identifies a schema, or an object within a schema, of one
// database. Names are stored normalized so identifiers compare with ==.
type ItemIdentifier struct {
	Database string
	Schema   string
	Type     ObjectType
	Name     string
}

func (i ItemIdentifier) String() string {
	if i.Name == "" {
		return fmt.Sprintf("%s.%s", i.Database, i.Schema)
	}
	return fmt.Sprintf("%s.%s.%s", i.Database, i.Schema, i.Name)
}

// SchemaIdentifier identifies a whole schema.
func SchemaIdentifier(d *Database, schema string) ItemIdentifier {
	return ItemIdentifier{Database: d.Name, Schema: d.Support.Key(schema)}
}

// ObjectIdentifier identifies a live object as returned by Support.Objects.
func ObjectIdentifier(d *Database, t ObjectType, o Object) ItemIdentifier {
	return ItemIdentifier{
		Database: d.Name,
		Schema:   d.Support.Key(o.Schema),
		Type:     t,
		Name:     d.Support.Key(o.Name),
	}
}

// ParseSchemaIdentifier parses "schema" or "database.schema".
func ParseSchemaIdentifier(s string, dbs *Databases) (ItemIdentifier, error) {
	parts := splitIdentifier(s)
	var dbName, schema string
	switch len(parts) {
	case 1:
		schema = parts[0]
	case 2:
		dbName, schema = parts[0], parts[1]
	default:
		return ItemIdentifier{}, config.Errorf("invalid schema identifier %q", s)
	}
	d, err := dbs.Get(unquote(dbName))
	if err != nil {
		return ItemIdentifier{}, err
	}
	return SchemaIdentifier(d, d.Support.Normalize(schema)), nil
}

// ParseItemIdentifier parses "name", "schema.name" or
// "database.schema.name"; missing parts default to the default database and
// its default schema.
func ParseItemIdentifier(t ObjectType, s string, dbs *Databases) (ItemIdentifier, error) {
	parts := splitIdentifier(s)
	var dbName, schema, name string
	switch len(parts) {
	case 1:
		name = parts[0]
	case 2:
		schema, name = parts[0], parts[1]
	case 3:
		dbName, schema, name = parts[0], parts[1], parts[2]
	default:
		return ItemIdentifier{}, config.Errorf("invalid %s identifier %q", t, s)
	}
	d, err := dbs.Get(unquote(dbName))
	if err != nil {
		return ItemIdentifier{}, err
	}
	if name == "" {
		return ItemIdentifier{}, config.Errorf("invalid %s identifier %q", t, s)
	}
	schemaName := d.DefaultSchema()
	if schema != "" {
		schemaName = d.Support.Normalize(schema)
	}
	return ItemIdentifier{
		Database: d.Name,
		Schema:   d.Support.Key(schemaName),
		Type:     t,
		Name:     d.Support.Key(d.Support.Normalize(name)),
	}, nil
}

// splitIdentifier splits on dots outside double quotes and backticks.
func splitIdentifier(s string) []string {
	var (
		parts []string
		cur   strings.Builder
		quote rune
	)
	for _, r := range strings.TrimSpace(s) {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			cur.WriteRune(r)
		case r == '"' || r == '`':
			quote = r
			cur.WriteRune(r)
		case r == '.':
			parts = append(parts, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(parts, strings.TrimSpace(cur.String()))
}

func unquote(s string) string {
	if isQuoted(s, '"', '`') {
		return s[1 : len(s)-1]
	}
	return s
}
