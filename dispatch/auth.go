package dispatch

import (
	"context"
	"errors"

	"github.com/openpbx/sipcore/auth"
	"github.com/openpbx/sipcore/message"
)

// authenticate runs spec.md 4.3's rate-limit, brute-force, and digest
// verification steps against req. On success it returns the
// authenticated username. On failure it returns the response the
// caller should send instead of proceeding; err is non-nil only for a
// failure the caller has no standard response for.
func (d *Dispatcher) authenticate(ctx context.Context, req *message.Request, ip string) (username string, challenge *message.Response, err error) {
	if d.verifier.RateLimiter != nil {
		if rlErr := d.verifier.RateLimiter.Allow(ip); rlErr != nil {
			return "", message.NewStandardResponseFor(req, 429), nil
		}
	}

	username, verifyErr := d.verifier.Verify(ctx, req, ip)
	if verifyErr == nil {
		return username, nil, nil
	}

	switch {
	case errors.Is(verifyErr, auth.ErrLocked):
		return "", message.NewStandardResponseFor(req, 403), nil
	case errors.Is(verifyErr, auth.ErrStaleNonce):
		return "", d.challengeResponse(req, true), nil
	case errors.Is(verifyErr, auth.ErrAuthMissing),
		errors.Is(verifyErr, auth.ErrUnknownCredential),
		errors.Is(verifyErr, auth.ErrAuthFailed),
		errors.Is(verifyErr, auth.ErrUnsupportedAlgorithm),
		errors.Is(verifyErr, auth.ErrNonceReplayed):
		return "", d.challengeResponse(req, false), nil
	default:
		return "", nil, verifyErr
	}
}

// challengeResponse builds the 401/407 challenge response appropriate
// for req's method, per spec.md 4.3: INVITE gets 407 +
// Proxy-Authenticate, everything else gets 401 + WWW-Authenticate.
func (d *Dispatcher) challengeResponse(req *message.Request, stale bool) *message.Response {
	status := auth.ChallengeStatus(req.Method())
	resp := message.NewStandardResponseFor(req, status)
	resp.AddHeader(auth.ChallengeHeader(req.Method()), d.verifier.Challenge(stale))
	return resp
}
