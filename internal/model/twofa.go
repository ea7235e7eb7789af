package model

import "time"

// ActionKind names the sensitive state change a TwoFactorCode authorizes.
type ActionKind string

const (
	ActionEnable  ActionKind = "enable"
	ActionDisable ActionKind = "disable"
)

// Valid reports whether a is a known action.
func (a ActionKind) Valid() bool { return a == ActionEnable || a == ActionDisable }

// TwoFactorCode models a row in `twofa_codes`.  A code is consumed at most
// once and only within its short lifetime.
type TwoFactorCode struct {
	ID        uint64     // twofa_codes.code_id
	UserID    uint64     // twofa_codes.user_id
	Code      string     // twofa_codes.code
	Action    ActionKind // twofa_codes.action_type
	ExpiresAt time.Time  // twofa_codes.expires_at
	Used      bool       // twofa_codes.used
}
