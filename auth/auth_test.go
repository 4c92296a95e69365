package auth_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpbx/sipcore/auth"
	"github.com/openpbx/sipcore/message"
)

type memUsers map[string]auth.Credential

func (m memUsers) Lookup(_ context.Context, username, realm string) (auth.Credential, bool, error) {
	cred, ok := m[username+"@"+realm]
	return cred, ok, nil
}

func TestVerifierRoundTrip(t *testing.T) {
	t.Parallel()

	const realm = "localhost"
	users := memUsers{
		"alice@" + realm: {
			Username: "alice", Realm: realm,
			HA1:       auth.ComputeHA1(auth.MD5, "alice", realm, "secret123"),
			Algorithm: auth.MD5, Enabled: true,
		},
	}
	v := auth.NewVerifier(realm, users)

	req := message.NewRequest(message.MethodRegister, mustURI(t, "sip:localhost"))
	req.AddHeader("Call-ID", "abc@host")
	req.AddHeader("CSeq", "1 REGISTER")
	req.AddHeader("From", "<sip:alice@localhost>;tag=1")
	req.AddHeader("To", "<sip:alice@localhost>")
	req.AddHeader("Via", "SIP/2.0/UDP 192.0.2.5:5060;branch=z9hG4bK1")
	req.AddHeader("Max-Forwards", "70")

	// No Authorization header at all -> AuthMissing.
	_, err := v.Verify(context.Background(), req, "192.0.2.5")
	assert.ErrorIs(t, err, auth.ErrAuthMissing)

	challenge := v.Challenge(false)
	parsedChallenge, err := message.ParseAuthorization(challenge)
	require.NoError(t, err)

	resp := expectedDigest(t, parsedChallenge.Nonce, "alice", realm, "secret123", "abc", "00000001", string(req.Method()), req.RequestURI().String())
	req.AddHeader("Authorization", fmt.Sprintf(
		`Digest username="alice", realm="%s", nonce="%s", uri="%s", response="%s", algorithm=MD5, cnonce="abc", nc=00000001, qop=auth`,
		realm, parsedChallenge.Nonce, req.RequestURI().String(), resp,
	))

	username, err := v.Verify(context.Background(), req, "192.0.2.5")
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestBruteForceLockout(t *testing.T) {
	t.Parallel()

	g := auth.NewBruteForceGuard(auth.BruteForceConfig{MaxAttempts: 5})
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Check("198.51.100.1"))
		g.RecordFailure("198.51.100.1")
	}
	// The 6th request must be rejected without any further hashing work.
	assert.ErrorIs(t, g.Check("198.51.100.1"), auth.ErrLocked)
}

func TestRateLimiterExceeded(t *testing.T) {
	t.Parallel()

	l := auth.NewRateLimiter(auth.RateLimitConfig{MaxRequests: 2})
	require.NoError(t, l.Allow("203.0.113.9"))
	require.NoError(t, l.Allow("203.0.113.9"))
	assert.ErrorIs(t, l.Allow("203.0.113.9"), auth.ErrRateLimited)
}

func TestNonceCacheAtMostOnce(t *testing.T) {
	t.Parallel()

	c := auth.NewNonceCache(0)
	nonce := c.New("localhost")
	require.NoError(t, c.Validate(nonce, "localhost", "00000001"))
	// Same (nonce, nc) pair must never succeed twice (invariant 3).
	assert.ErrorIs(t, c.Validate(nonce, "localhost", "00000001"), auth.ErrNonceReplayed)
	require.NoError(t, c.Validate(nonce, "localhost", "00000002"))
}

func expectedDigest(t *testing.T, nonce, user, realm, password, cnonce, nc, method, uri string) string {
	t.Helper()
	ha1 := auth.ComputeHA1(auth.MD5, user, realm, password)
	ha2 := auth.MD5.Hash(method + ":" + uri)
	return auth.MD5.Hash(ha1 + ":" + nonce + ":" + nc + ":" + cnonce + ":auth:" + ha2)
}

func mustURI(t *testing.T, raw string) message.URI {
	t.Helper()
	u, err := message.ParseURI(raw)
	require.NoError(t, err)
	return u
}
