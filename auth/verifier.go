package auth

import (
	"context"
	"time"

	"github.com/openpbx/sipcore/internal/errs"
	"github.com/openpbx/sipcore/message"
)

// ErrAuthMissing is returned when a request bears no Authorization header.
const ErrAuthMissing errs.Error = "authorization missing"

// ErrAuthFailed is returned when the digest response does not match.
const ErrAuthFailed errs.Error = "authorization failed"

// ErrUnknownCredential is returned when (username, realm) is not found.
const ErrUnknownCredential errs.Error = "unknown credential"

// CredentialLookup is the subset of the UserStore collaborator interface
// (spec.md 6) this package needs to verify a digest response.
type CredentialLookup interface {
	Lookup(ctx context.Context, username, realm string) (Credential, bool, error)
}

// Verifier orchestrates challenge construction and verification: spec.md
// 4.3's numbered steps, the brute-force guard, and the rate limiter.
type Verifier struct {
	Realm       string
	Algorithms  []Algorithm
	Users       CredentialLookup
	Nonces      *NonceCache
	BruteForce  *BruteForceGuard
	RateLimiter *RateLimiter
}

// NewVerifier constructs a Verifier with sensible defaults for the guards
// when not otherwise supplied.
func NewVerifier(realm string, users CredentialLookup) *Verifier {
	return &Verifier{
		Realm:       realm,
		Algorithms:  []Algorithm{MD5, SHA256, SHA512_256},
		Users:       users,
		Nonces:      NewNonceCache(DefaultNonceTTL),
		BruteForce:  NewBruteForceGuard(DefaultBruteForceConfig()),
		RateLimiter: NewRateLimiter(DefaultRateLimitConfig()),
	}
}

// AuthRequestHeader returns the header a UA is expected to carry its
// digest response in, matching the challenge status each method gets per
// spec.md 4.3: INVITE challenges with 407 + Proxy-Authenticate, everything
// else with 401 + WWW-Authenticate.
func AuthRequestHeader(method message.Method) string {
	if method == message.MethodInvite {
		return "Proxy-Authorization"
	}
	return "Authorization"
}

// ChallengeHeader returns the matching challenge header name for method.
func ChallengeHeader(method message.Method) string {
	if method == message.MethodInvite {
		return "Proxy-Authenticate"
	}
	return "WWW-Authenticate"
}

// ChallengeStatus returns the status code used to challenge method, per
// spec.md 4.3.
func ChallengeStatus(method message.Method) int {
	if method == message.MethodInvite {
		return 407
	}
	return 401
}

func (v *Verifier) supports(alg Algorithm) bool {
	for _, a := range v.Algorithms {
		if a == alg {
			return true
		}
	}
	return false
}

// Challenge mints a new nonce and returns a rendered WWW-Authenticate /
// Proxy-Authenticate value using the verifier's preferred algorithm (the
// first entry of Algorithms).
func (v *Verifier) Challenge(stale bool) string {
	alg := MD5
	if len(v.Algorithms) > 0 {
		alg = v.Algorithms[0]
	}
	nonce := v.Nonces.New(v.Realm)
	return BuildChallenge(v.Realm, alg, nonce, stale)
}

// Verify implements spec.md 4.3 steps 1-7 against a request's Authorization
// header and the method/request-URI it was sent with. On success it returns
// the authenticated username and calls RecordSuccess, which resets the IP's
// failure counter. On failure it returns a sentinel wrapping one of
// ErrAuthMissing, the nonce cache's validation error (ErrStaleNonce or
// ErrNonceReplayed), ErrUnsupportedAlgorithm, ErrUnknownCredential (folded
// into ErrAuthMissing for the caller, per spec.md 7's AuthMissing/AuthFailed
// taxonomy), ErrLocked, or ErrAuthFailed. Of the failures, only the hash
// mismatch is passed to RecordFailure here (spec.md step 6); any other
// failure accounting is left to the caller.
func (v *Verifier) Verify(ctx context.Context, req *message.Request, sourceIP string) (string, error) {
	if err := v.BruteForce.Check(sourceIP); err != nil {
		return "", err
	}

	raw, ok := req.Header(AuthRequestHeader(req.Method()))
	if !ok {
		return "", ErrAuthMissing
	}

	parsed, err := message.ParseAuthorization(raw.Value())
	if err != nil {
		return "", errs.Wrap(ErrAuthFailed, err)
	}

	if err := v.Nonces.Validate(parsed.Nonce, v.Realm, parsed.NC); err != nil {
		return "", err
	}

	alg := Algorithm(parsed.Algorithm)
	if alg == "" {
		alg = MD5
	}
	if !alg.Valid() || !v.supports(alg) {
		return "", ErrUnsupportedAlgorithm
	}

	cred, found, err := v.Users.Lookup(ctx, parsed.Username, v.Realm)
	if err != nil {
		return "", errs.Wrap(ErrAuthFailed, err)
	}
	if !found || !cred.Enabled {
		return "", ErrUnknownCredential
	}

	expected := expectedResponse(alg, cred.HA1, string(req.Method()), parsed.URI, parsed.Nonce, parsed.CNonce, parsed.NC, parsed.QOP)
	if !constantTimeEqual(expected, parsed.Response) {
		v.BruteForce.RecordFailure(sourceIP)
		return "", ErrAuthFailed
	}

	v.BruteForce.RecordSuccess(sourceIP)
	return parsed.Username, nil
}

// EvictExpired runs the nonce cache, brute-force guard, and rate limiter
// evictions for one reaper tick.
func (v *Verifier) EvictExpired() {
	now := time.Now()
	v.Nonces.Evict(now)
	v.BruteForce.Evict(now)
	v.RateLimiter.Evict(now)
}
