// Package testdb provides an on-disk SQLite datastore with the same table
// shapes as the MySQL schema.  It backs the repository and service tests.
package testdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE users (
		user_id           INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id        TEXT     NOT NULL UNIQUE,
		external_chat_id  INTEGER  NOT NULL UNIQUE,
		tier              TEXT     NOT NULL DEFAULT 'basic',
		is_2fa_enabled    BOOLEAN  NOT NULL DEFAULT 0,
		totp_secret       TEXT     NULL,
		recovery_key_hash TEXT     NULL,
		recovery_key_used BOOLEAN  NOT NULL DEFAULT 0,
		account_locked    BOOLEAN  NOT NULL DEFAULT 0,
		registered_at     DATETIME NOT NULL,
		last_login        DATETIME NULL,
		referred_by       INTEGER  NULL
	)`,
	`CREATE TABLE one_time_sessions (
		session_id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    INTEGER  NOT NULL REFERENCES users (user_id),
		token      TEXT     NOT NULL UNIQUE,
		ip         TEXT     NULL,
		device     TEXT     NULL,
		expires_at DATETIME NOT NULL,
		used       BOOLEAN  NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE active_sessions (
		active_session_id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id           INTEGER  NOT NULL REFERENCES users (user_id),
		ip                TEXT     NULL,
		device            TEXT     NULL,
		created_at        DATETIME NOT NULL
	)`,
	`CREATE TABLE twofa_codes (
		code_id     INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id     INTEGER  NOT NULL REFERENCES users (user_id),
		code        TEXT     NOT NULL,
		action_type TEXT     NOT NULL,
		expires_at  DATETIME NOT NULL,
		used        BOOLEAN  NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE security_logs (
		log_id      INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id     INTEGER  NOT NULL,
		event_type  TEXT     NOT NULL,
		ip          TEXT     NULL,
		device      TEXT     NULL,
		detail_json TEXT     NULL,
		created_at  DATETIME NOT NULL
	)`,
}

// Open creates a fresh database under t.TempDir and applies the schema.
// A single connection is used so concurrent callers serialize on it the
// way they would on a row lock.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "security.db")
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}
