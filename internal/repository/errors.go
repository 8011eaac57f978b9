// Package repository defines error types that are reused across multiple
// repositories, together with the MySQL implementations of the stores the
// service layer depends on.  The sentinels are shared with the in-memory
// store so services can match on them regardless of the backend.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the addressed row does not exist, or when a
// guarded update (e.g. soft-delete of a live row) matched nothing.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with a unique constraint
// such as a key name, a policy name or a token value.
var ErrConflict = errors.New("conflict")

// mysqlDuplicateEntry is the server error number for unique-key violations.
const mysqlDuplicateEntry = 1062

// isDuplicate reports whether err is a MySQL duplicate-key error.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry
	}
	return strings.Contains(strings.ToLower(err.Error()), "1062")
}
