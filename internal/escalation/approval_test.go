package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_RequiresKey(t *testing.T) {
	_, err := NewTokenIssuer("")
	assert.Error(t, err)
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("secret")
	require.NoError(t, err)

	token, err := issuer.Issue("grp-1", "revoke_sessions", "acme", "analyst", time.Hour)
	require.NoError(t, err)

	claims, err := issuer.Verify(token, "grp-1", "revoke_sessions")
	require.NoError(t, err)
	assert.Equal(t, "grp-1", claims.GroupID)
	assert.Equal(t, "acme", claims.Target)
	assert.Equal(t, "analyst", claims.ApprovedBy)
}

func TestTokenIssuer_RejectsWrongGroupOrAction(t *testing.T) {
	issuer, err := NewTokenIssuer("secret")
	require.NoError(t, err)

	token, err := issuer.Issue("grp-1", "revoke_sessions", "acme", "analyst", time.Hour)
	require.NoError(t, err)

	_, err = issuer.Verify(token, "grp-2", "revoke_sessions")
	assert.Error(t, err, "token is bound to its group")

	_, err = issuer.Verify(token, "grp-1", "disable_account")
	assert.Error(t, err, "token is bound to its action type")
}

func TestTokenIssuer_RejectsExpired(t *testing.T) {
	issuer, err := NewTokenIssuer("secret")
	require.NoError(t, err)

	base := time.Now()
	issuer.now = func() time.Time { return base }
	token, err := issuer.Issue("grp-1", "revoke_sessions", "acme", "analyst", time.Minute)
	require.NoError(t, err)

	issuer.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = issuer.Verify(token, "grp-1", "revoke_sessions")
	assert.Error(t, err)
}

func TestTokenIssuer_RejectsForeignSignature(t *testing.T) {
	a, err := NewTokenIssuer("key-a")
	require.NoError(t, err)
	b, err := NewTokenIssuer("key-b")
	require.NoError(t, err)

	token, err := a.Issue("grp-1", "revoke_sessions", "acme", "analyst", time.Hour)
	require.NoError(t, err)

	_, err = b.Verify(token, "grp-1", "revoke_sessions")
	assert.Error(t, err)
}
