// Package repository implements the datastore contract of the security
// core on top of database/sql.  Every "use exactly once" operation is a
// single conditional UPDATE whose RowsAffected tells the caller whether it
// won; nothing here reads a row and then decides to write it.
//
// Driver errors are classified before they leave the package:
// ErrNotFound for missing rows, ErrDuplicate for uniqueness violations and
// ErrTransient for timeouts and broken connections.  Callers use errors.Is.
package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the referenced row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert or update violates a unique
// key.  Callers that generated the conflicting value should regenerate it
// and retry.
var ErrDuplicate = errors.New("duplicate key")

// ErrTransient is returned when the datastore could not be reached or the
// call exceeded its timeout.  The operation may be retried.
var ErrTransient = errors.New("datastore unavailable")

// classify maps a driver error onto the package sentinels.  The driver
// error stays in the chain.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case isDuplicate(err):
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	case isTransient(err):
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || strings.Contains(msg, "duplicate entry")
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		// 1205 lock wait timeout, 1213 deadlock
		return me.Number == 1205 || me.Number == 1213
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "database is locked")
}
