package utils

import "golang.org/x/crypto/bcrypt"

// DefaultSecretCost is the bcrypt cost used when none is configured.
const DefaultSecretCost = 12

// HashSecret returns a bcrypt hash of plain using the given cost.  It is
// the only hashing routine for user-held secrets such as recovery keys,
// so the work factor is tuned in one place.
func HashSecret(plain string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultSecretCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifySecret safely compares a bcrypt hash and a plain secret.
func VerifySecret(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
