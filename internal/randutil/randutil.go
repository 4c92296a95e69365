// Package randutil generates the random tokens the signaling engine needs:
// branch parameters, tags, Call-IDs and digest nonces.
package randutil

import (
	"crypto/rand"
	"encoding/hex"
)

// RFC3261BranchMagicCookie prefixes every branch parameter this stack generates,
// identifying it as RFC 3261 compliant to downstream proxies.
const RFC3261BranchMagicCookie = "z9hG4bK"

// HexString returns n random bytes hex-encoded, suitable for tags and Call-IDs.
func HexString(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// Branch generates a new Via branch parameter.
func Branch() string {
	return RFC3261BranchMagicCookie + HexString(8)
}

// Tag generates a new From/To tag value.
func Tag() string {
	return HexString(5)
}

// CallID generates a new Call-ID local part; the caller appends "@host".
func CallID() string {
	return HexString(12)
}

// Nonce generates a digest-auth nonce: hex(16 random bytes) per spec.
func Nonce() string {
	return HexString(16)
}

// CNonce generates a short opaque client nonce for tests and the CLI's
// reference client.
func CNonce() string {
	return HexString(4)
}

// String returns a random alphanumeric string of the given length, used
// where the value must stay printable outside of hex (e.g. boundary-free
// display tags in logs).
func String(length int) string {
	if length <= 0 {
		length = 8
	}
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = charset[b%byte(len(charset))]
	}
	return string(buf)
}
