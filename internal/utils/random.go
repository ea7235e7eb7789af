package utils

import (
	"encoding/hex"
	"io"
	"strings"
)

// RandomHex reads n bytes from r and returns them hex encoded
// (2n characters).  r should be crypto/rand.Reader outside of tests.
func RandomHex(r io.Reader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// RandomCode is RandomHex in upper case, the format used for codes and
// keys that users read back or type.
func RandomCode(r io.Reader, n int) (string, error) {
	s, err := RandomHex(r, n)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(s), nil
}
