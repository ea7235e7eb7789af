package model

import "time"

// OneTimeSession models an entry in the `one_time_sessions` table.  The
// token is redeemable exactly once and only before ExpiresAt; a row past
// its expiry is dead regardless of Used.
type OneTimeSession struct {
	ID        uint64    // one_time_sessions.session_id
	UserID    uint64    // one_time_sessions.user_id
	Token     string    // one_time_sessions.token (unique)
	IP        *string   // one_time_sessions.ip (nullable)
	Device    *string   // one_time_sessions.device (nullable)
	ExpiresAt time.Time // one_time_sessions.expires_at
	Used      bool      // one_time_sessions.used
	CreatedAt time.Time // one_time_sessions.created_at
}

// Expired reports whether the session is past its expiry at now.
func (s OneTimeSession) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// ActiveSession is a logged-in session on the trading terminal.  Rows
// are created by the terminal after a redemption and destroyed on revoke
// or lockdown.
type ActiveSession struct {
	ID        uint64    // active_sessions.active_session_id
	UserID    uint64    // active_sessions.user_id
	IP        *string   // active_sessions.ip
	Device    *string   // active_sessions.device
	CreatedAt time.Time // active_sessions.created_at
}
