package parser

import (
	"regexp"
	"strings"
)

// BlockEnd tells how a stored-procedure block is terminated.
type BlockEnd int

const (
	// SlashLine ends a block (and any other statement) with a line that
	// holds nothing but "/".
	SlashLine BlockEnd = iota + 1
	// EndKeyword ends a block with a semicolon directly following END.
	EndKeyword
)

// Dialect describes the statement syntax of one database.
type Dialect struct {
	Name              string
	BackslashEscaping bool
	HashComments      bool
	DollarQuoting     bool
	// BlockStart is given the upper-cased, single-spaced statement prefix
	// (comments removed) each time a word ends and reports whether the
	// statement opens a stored-procedure block.
	BlockStart func(prefix string) bool
	BlockEnd   BlockEnd
}

func matcher(pattern string) func(string) bool {
	re := regexp.MustCompile(pattern)
	return re.MatchString
}

var (
	Default = Dialect{Name: "default"}

	PostgreSQL = Dialect{
		Name:          "postgresql",
		DollarQuoting: true,
	}

	MySQL = Dialect{
		Name:              "mysql",
		BackslashEscaping: true,
		HashComments:      true,
		BlockStart:        matcher(`^CREATE (DEFINER ?= ?\S+ )?(PROCEDURE|FUNCTION|TRIGGER|EVENT) `),
		BlockEnd:          SlashLine,
	}

	Oracle = Dialect{
		Name:       "oracle",
		BlockStart: matcher(`^(CREATE (OR REPLACE )?((NON)?EDITIONABLE )?(PACKAGE|FUNCTION|PROCEDURE|TRIGGER|TYPE|LIBRARY|JAVA) |DECLARE |BEGIN )`),
		BlockEnd:   SlashLine,
	}

	DB2 = Dialect{
		Name:       "db2",
		BlockStart: matcher(`^(CREATE (OR REPLACE )?(FUNCTION|PROCEDURE|TRIGGER) |BEGIN ATOMIC )`),
		BlockEnd:   SlashLine,
	}

	SQLite = Dialect{
		Name:       "sqlite",
		BlockStart: matcher(`^CREATE (TEMP |TEMPORARY )?TRIGGER `),
		BlockEnd:   EndKeyword,
	}
)

// DialectFor returns the preset for a database dialect name. Unknown names
// get the Default dialect.
func DialectFor(name string) Dialect {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pgx":
		return PostgreSQL
	case "mysql", "mariadb":
		return MySQL
	case "oracle":
		return Oracle
	case "db2":
		return DB2
	case "sqlite", "sqlite3":
		return SQLite
	default:
		return Default
	}
}
