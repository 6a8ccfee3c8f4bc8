package db

import (
	"errors"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
)

// SQLState extracts the driver error code from err, or "" when err did not
// come from one of the supported drivers.
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return strconv.Itoa(int(myErr.Number))
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return strconv.Itoa(liteErr.Code())
	}
	return ""
}

// ErrorAttrs returns log attributes describing a driver error.
func ErrorAttrs(err error) []any {
	attrs := []any{"error", err}
	if state := SQLState(err); state != "" {
		attrs = append(attrs, "sql_state", state)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		attrs = append(attrs, "detail", pgErr.Detail)
	}
	return attrs
}
