package model

import "time"

// Tier is the subscription tier of a user.
type Tier string

const (
	TierBasic Tier = "basic"
	TierPro   Tier = "pro"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool { return t == TierBasic || t == TierPro }

// User represents a row in the `users` table.  It is the identity anchor
// for every security operation.  TOTPSecret holds the (possibly encrypted)
// enrolled secret and is only set once enrollment has started.
// RecoveryKeyHash is a bcrypt hash; the plaintext recovery key is never
// stored.  RecoveryKeyUsed is only meaningful when RecoveryKeyHash is set.
//
// Fields:
//
//	ID              – users.user_id, internal primary key.
//	AccountID       – users.account_id, shareable opaque id (unique).
//	ExternalChatID  – users.external_chat_id, chat identity (unique).
//	Tier            – users.tier (basic | pro).
//	TwoFAEnabled    – users.is_2fa_enabled.
//	TOTPSecret      – users.totp_secret (nullable).
//	RecoveryKeyHash – users.recovery_key_hash (nullable).
//	RecoveryKeyUsed – users.recovery_key_used.
//	Locked          – users.account_locked.
//	RegisteredAt    – users.registered_at.
//	LastLogin       – users.last_login (nullable).
//	ReferredBy      – users.referred_by (nullable).
type User struct {
	ID              uint64
	AccountID       string
	ExternalChatID  int64
	Tier            Tier
	TwoFAEnabled    bool
	TOTPSecret      *string
	RecoveryKeyHash *string
	RecoveryKeyUsed bool
	Locked          bool
	RegisteredAt    time.Time
	LastLogin       *time.Time
	ReferredBy      *uint64
}

// HasUsableRecoveryKey reports whether a recovery key has been issued and
// not yet consumed.
func (u User) HasUsableRecoveryKey() bool {
	return u.RecoveryKeyHash != nil && *u.RecoveryKeyHash != "" && !u.RecoveryKeyUsed
}
