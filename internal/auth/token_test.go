package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-control/backend/internal/access"
)

const testSecret = "0123456789abcdef0123"

func TestIssueAndParse(t *testing.T) {
	tokens, err := NewTokens(testSecret)
	require.NoError(t, err)

	actor := access.Actor{ID: "u1", Name: "Dana", Role: access.RoleUser, AllowedLamps: []string{"l1", "l2"}}
	signed, expires, err := tokens.Issue(actor, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	got, err := tokens.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, actor, got)
}

func TestParseRejectsBadTokens(t *testing.T) {
	tokens, err := NewTokens(testSecret)
	require.NoError(t, err)
	other, err := NewTokens("another-secret-that-is-long")
	require.NoError(t, err)

	forged, _, err := other.Issue(access.Actor{ID: "u1", Role: access.RoleSuperAdmin}, time.Hour)
	require.NoError(t, err)
	_, err = tokens.Parse(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	tokens.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := tokens.Issue(access.Actor{ID: "u1", Role: access.RoleUser}, time.Hour)
	require.NoError(t, err)
	tokens.now = time.Now
	_, err = tokens.Parse(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: "super_admin"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.Parse(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Parse("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueValidation(t *testing.T) {
	_, err := NewTokens("short")
	assert.Error(t, err)

	tokens, err := NewTokens(testSecret)
	require.NoError(t, err)
	_, _, err = tokens.Issue(access.Actor{ID: "x", Role: "guest"}, time.Hour)
	assert.Error(t, err)
	_, _, err = tokens.Issue(access.Actor{Role: access.RoleUser}, time.Hour)
	assert.Error(t, err)
}
