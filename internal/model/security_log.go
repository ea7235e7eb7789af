package model

import "time"

// EventKind classifies a security log entry.
type EventKind string

const (
	EventSessionGenerated     EventKind = "session_generated"
	EventSessionValidated     EventKind = "session_validated"
	EventSessionRevoked       EventKind = "session_revoked"
	EventAccountLockdown      EventKind = "account_lockdown"
	EventAccountUnlock        EventKind = "account_unlock"
	EventUserRegistered       EventKind = "user_registered"
	EventReferralRegistration EventKind = "referral_registration"
	EventTierUpgraded         EventKind = "tier_upgraded"
	EventTwoFAEnabled         EventKind = "twofa_enabled"
	EventTwoFADisabled        EventKind = "twofa_disabled"
	EventRecoveryKeyIssued    EventKind = "recovery_key_issued"
	EventRecoveryKeyUsed      EventKind = "recovery_key_used"
)

// SecurityLogEntry is an immutable row of `security_logs`.  Detail holds
// the structured payload serialized to detail_json.
type SecurityLogEntry struct {
	ID        uint64         // security_logs.log_id
	UserID    uint64         // security_logs.user_id
	Event     EventKind      // security_logs.event_type
	IP        *string        // security_logs.ip
	Device    *string        // security_logs.device
	Detail    map[string]any // security_logs.detail_json
	CreatedAt time.Time      // security_logs.created_at
}
