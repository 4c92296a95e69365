// Package auth implements RFC 2617/8760 digest challenge construction and
// verification, the nonce cache, and the brute-force and rate-limit guards
// described in spec.md 4.3.
package auth

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/openpbx/sipcore/internal/errs"
	"github.com/openpbx/sipcore/message"
)

// Algorithm identifies a digest hash family, per spec.md 4.3.
type Algorithm string

const (
	MD5        Algorithm = "MD5"
	SHA256     Algorithm = "SHA-256"
	SHA512_256 Algorithm = "SHA-512-256"
)

// Hash computes H(data) for the algorithm, hex-encoded.
func (a Algorithm) Hash(data string) string {
	switch a {
	case SHA256:
		sum := sha256.Sum256([]byte(data))
		return hex.EncodeToString(sum[:])
	case SHA512_256:
		sum := sha512.Sum512_256([]byte(data))
		return hex.EncodeToString(sum[:])
	default:
		sum := md5.Sum([]byte(data))
		return hex.EncodeToString(sum[:])
	}
}

// Valid reports whether a is one of the three supported algorithms.
func (a Algorithm) Valid() bool {
	switch a {
	case MD5, SHA256, SHA512_256:
		return true
	default:
		return false
	}
}

// ErrUnsupportedAlgorithm is returned when a request names an algorithm
// this engine was not configured to support.
const ErrUnsupportedAlgorithm errs.Error = "unsupported digest algorithm"

// Credential is the record consumed from the external user store;
// spec.md 3: the core never sees plaintext passwords at verification time.
type Credential struct {
	Username  string
	Realm     string
	HA1       string // MD5/SHA-256/SHA-512-256(username:realm:password), per Algorithm
	Algorithm Algorithm
	Enabled   bool
}

// ComputeHA1 hashes username:realm:password for seeding a Credential; used
// by the in-memory reference UserStore and by tests, never by the
// verification path itself.
func ComputeHA1(alg Algorithm, username, realm, password string) string {
	return alg.Hash(fmt.Sprintf("%s:%s:%s", username, realm, password))
}

// expectedResponse computes the digest response per spec.md 4.3 step 5.
func expectedResponse(alg Algorithm, ha1, method, uri, nonce, cnonce, nc, qop string) string {
	ha2 := alg.Hash(method + ":" + uri)
	if qop != "" {
		return alg.Hash(strings.Join([]string{ha1, nonce, nc, cnonce, qop, ha2}, ":"))
	}
	return alg.Hash(ha1 + ":" + nonce + ":" + ha2)
}

// constantTimeEqual compares two digest responses without leaking timing
// information about the point of first mismatch.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// BuildChallenge renders a WWW-Authenticate/Proxy-Authenticate header value
// for a freshly minted nonce, per spec.md 4.3.
func BuildChallenge(realm string, alg Algorithm, nonce string, stale bool) string {
	auth := message.Authorization{
		Scheme:    "Digest",
		Realm:     realm,
		Nonce:     nonce,
		Algorithm: string(alg),
		QOP:       "auth",
		Stale:     stale,
	}
	return auth.String()
}
