package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema lists the MySQL DDL for the tables the security core reads and
// writes.  Statements are idempotent so Migrate may run on every start.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id           BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		account_id        VARCHAR(32)  NOT NULL,
		external_chat_id  BIGINT       NOT NULL,
		tier              VARCHAR(16)  NOT NULL DEFAULT 'basic',
		is_2fa_enabled    BOOLEAN      NOT NULL DEFAULT FALSE,
		totp_secret       VARCHAR(255) NULL,
		recovery_key_hash VARCHAR(255) NULL,
		recovery_key_used BOOLEAN      NOT NULL DEFAULT FALSE,
		account_locked    BOOLEAN      NOT NULL DEFAULT FALSE,
		registered_at     DATETIME     NOT NULL,
		last_login        DATETIME     NULL,
		referred_by       BIGINT UNSIGNED NULL,
		UNIQUE KEY uq_users_account (account_id),
		UNIQUE KEY uq_users_chat (external_chat_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS one_time_sessions (
		session_id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id    BIGINT UNSIGNED NOT NULL,
		token      VARCHAR(64)  NOT NULL,
		ip         VARCHAR(64)  NULL,
		device     VARCHAR(255) NULL,
		expires_at DATETIME     NOT NULL,
		used       BOOLEAN      NOT NULL DEFAULT FALSE,
		created_at DATETIME     NOT NULL,
		UNIQUE KEY uq_ots_token (token),
		KEY idx_ots_user_created (user_id, created_at),
		KEY idx_ots_expires (expires_at),
		CONSTRAINT fk_ots_user FOREIGN KEY (user_id) REFERENCES users (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS active_sessions (
		active_session_id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id           BIGINT UNSIGNED NOT NULL,
		ip                VARCHAR(64)  NULL,
		device            VARCHAR(255) NULL,
		created_at        DATETIME     NOT NULL,
		KEY idx_as_user (user_id, created_at),
		CONSTRAINT fk_as_user FOREIGN KEY (user_id) REFERENCES users (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS twofa_codes (
		code_id     BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id     BIGINT UNSIGNED NOT NULL,
		code        VARCHAR(16) NOT NULL,
		action_type VARCHAR(16) NOT NULL,
		expires_at  DATETIME    NOT NULL,
		used        BOOLEAN     NOT NULL DEFAULT FALSE,
		KEY idx_tfc_lookup (user_id, action_type, used),
		CONSTRAINT fk_tfc_user FOREIGN KEY (user_id) REFERENCES users (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS security_logs (
		log_id      BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id     BIGINT UNSIGNED NOT NULL,
		event_type  VARCHAR(64)  NOT NULL,
		ip          VARCHAR(64)  NULL,
		device      VARCHAR(255) NULL,
		detail_json TEXT         NULL,
		created_at  DATETIME     NOT NULL,
		KEY idx_sl_user_created (user_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate executes Schema against db.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
