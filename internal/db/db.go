// Package db connects to the configured target databases and hides the
// dialect differences the engine cares about behind Support.
package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/multierr"
	_ "modernc.org/sqlite"

	"github.com/dbmaintain/dbmaintain/internal/config"
)

// Database is one configured target database.
type Database struct {
	Name     string
	Dialect  string
	DSN      string
	User     string
	Password string
	// Schemas holds the normalized schema names; the first is the default.
	Schemas  []string
	Disabled bool

	DB      *sqlx.DB
	Support Support
}

// DefaultSchema returns the schema unqualified names resolve to.
func (d *Database) DefaultSchema() string {
	if len(d.Schemas) == 0 {
		return ""
	}
	return d.Schemas[0]
}

// HasSchema reports whether schema is one of the database's schemas.
func (d *Database) HasSchema(schema string) bool {
	for _, s := range d.Schemas {
		if d.Support.Key(s) == d.Support.Key(schema) {
			return true
		}
	}
	return false
}

// Databases is the named set of target databases.
type Databases struct {
	list   []*Database
	byName map[string]*Database
}

// NewDatabases builds the set; the first enabled database is the default.
func NewDatabases(list ...*Database) *Databases {
	d := &Databases{byName: map[string]*Database{}}
	for _, db := range list {
		d.list = append(d.list, db)
		d.byName[strings.ToLower(db.Name)] = db
	}
	return d
}

// Open connects to every enabled database. Disabled databases are kept
// without a connection so scripts targeting them can be recognized.
func Open(ctx context.Context, cfgs []config.DatabaseConfig) (*Databases, error) {
	var list []*Database
	closeAll := func() {
		for _, d := range list {
			if d.DB != nil {
				d.DB.Close()
			}
		}
	}
	for _, cfg := range cfgs {
		d, err := open(ctx, cfg)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open database %s: %w", cfg.Name, err)
		}
		list = append(list, d)
	}
	return NewDatabases(list...), nil
}

func open(ctx context.Context, cfg config.DatabaseConfig) (*Database, error) {
	support, err := SupportFor(cfg.Dialect)
	if err != nil {
		return nil, config.WrapError(err, "database %s", cfg.Name)
	}
	d := &Database{
		Name:     strings.ToLower(cfg.Name),
		Dialect:  support.Dialect(),
		DSN:      cfg.DSN,
		User:     cfg.User,
		Password: cfg.Password,
		Disabled: cfg.Disabled,
		Support:  support,
	}
	for _, s := range cfg.Schemas {
		d.Schemas = append(d.Schemas, support.Normalize(s))
	}
	if d.Disabled {
		return d, nil
	}

	var conn *sqlx.DB
	switch d.Dialect {
	case "postgresql":
		conn, err = sqlx.Open("pgx", cfg.DSN)
	case "mysql":
		// Validate DSN early to provide actionable errors.
		if _, perr := mysql.ParseDSN(cfg.DSN); perr != nil {
			return nil, config.WrapError(perr, "invalid mysql dsn")
		}
		conn, err = sqlx.Open("mysql", cfg.DSN)
	case "sqlite":
		conn, err = sqlx.Open("sqlite", cfg.DSN)
	}
	if err != nil {
		return nil, err
	}
	if d.Dialect == "sqlite" {
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetConnMaxIdleTime(5 * time.Minute)
		conn.SetMaxOpenConns(5)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	d.DB = conn

	if len(d.Schemas) == 0 {
		schema, err := support.DefaultSchema(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("resolve default schema: %w", err)
		}
		d.Schemas = []string{schema}
	}
	return d, nil
}

// Default returns the database used for scripts without a target database.
func (d *Databases) Default() *Database {
	for _, db := range d.list {
		if !db.Disabled {
			return db
		}
	}
	return nil
}

// Get returns a database by name; the empty name is the default database.
func (d *Databases) Get(name string) (*Database, error) {
	if name == "" {
		if def := d.Default(); def != nil {
			return def, nil
		}
		return nil, config.Errorf("no enabled database configured")
	}
	db, ok := d.byName[strings.ToLower(name)]
	if !ok {
		return nil, config.Errorf("database %s is not configured", name)
	}
	return db, nil
}

// All returns every database, disabled ones included.
func (d *Databases) All() []*Database {
	return append([]*Database(nil), d.list...)
}

// Enabled returns the databases with a connection.
func (d *Databases) Enabled() []*Database {
	var out []*Database
	for _, db := range d.list {
		if !db.Disabled {
			out = append(out, db)
		}
	}
	return out
}

func (d *Databases) Names() []string {
	out := make([]string, 0, len(d.list))
	for _, db := range d.list {
		out = append(out, db.Name)
	}
	return out
}

func (d *Databases) Close() error {
	var err error
	for _, db := range d.list {
		if db.DB != nil {
			err = multierr.Append(err, db.DB.Close())
		}
	}
	return err
}
