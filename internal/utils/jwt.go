package utils // package utils provides helper functions for token creation and hashing

import (
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// RoleTerminal is the role claim carried by tokens issued to the trading
// terminal.  Only callers with this role may redeem one-time sessions.
const RoleTerminal = "terminal"

// AccessToken represents a signed JWT along with its expiry.  The Token
// field contains the JWT string and Exp the expiration timestamp.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// NewServiceToken builds and signs an HS256 JWT identifying a backend
// caller such as the trading terminal.  The subject names the caller and
// role is checked by middleware.RequireRole.  A non-positive ttl yields a
// token without an exp claim, meant for long-lived deployment secrets.
func NewServiceToken(secret, subject, role string, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  now.Unix(),
	}
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
		claims["exp"] = exp.Unix()
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}
