// Package repository implements the credential store: user records and the
// replay log of accepted Telegram auth dates.  The sentinel values below
// let higher layers such as services and handlers distinguish failure
// scenarios without looking at driver errors.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrNotFound is returned when a lookup, update or delete matches no row.
// Handlers should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a unique constraint:
// a taken login or Telegram id for users, an already recorded auth date for
// the replay log.
var ErrDuplicate = errors.New("duplicate")

// mysqlDupEntry is MySQL's ER_DUP_ENTRY.
const mysqlDupEntry = 1062

// isDuplicate reports whether err is a unique-constraint violation from
// either supported driver.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDupEntry
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}
