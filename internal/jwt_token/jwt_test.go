package jwttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "kycgate/pkg/domain-errors"
)

const (
	signingKey = "test-signing-key-0123456789abcdef"
	userID     = "3f8e2d4c-1a5b-4c6d-8e7f-9a0b1c2d3e4f"
)

func newService(t *testing.T) *JWTService {
	t.Helper()
	svc, err := NewJWTService(signingKey, "test-issuer")
	require.NoError(t, err)
	return svc
}

func Test_NewJWTService_RequiresKey(t *testing.T) {
	_, err := NewJWTService("", "issuer")
	assert.Error(t, err)
}

func Test_IssueToken(t *testing.T) {
	svc := newService(t)
	token, err := svc.IssueToken(userID, time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID())
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func Test_IssueToken_RequiresUser(t *testing.T) {
	_, err := newService(t).IssueToken("", time.Hour)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := newService(t).ValidateToken("invalid-token-string")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	svc := newService(t)
	token, err := svc.IssueToken(userID, -time.Hour)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func Test_ValidateToken_WrongKey(t *testing.T) {
	other, err := NewJWTService("another-signing-key-0123456789abc", "test-issuer")
	require.NoError(t, err)
	token, err := other.IssueToken(userID, time.Hour)
	require.NoError(t, err)

	_, err = newService(t).ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_ValidateToken_RejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    "test-issuer",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newService(t).ValidateToken(signed)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_ValidateToken_WrongIssuer(t *testing.T) {
	other, err := NewJWTService(signingKey, "someone-else")
	require.NoError(t, err)
	token, err := other.IssueToken(userID, time.Hour)
	require.NoError(t, err)

	_, err = newService(t).ValidateToken(token)
	assert.Error(t, err)
}

func Test_Adapter(t *testing.T) {
	svc := newService(t)
	token, err := svc.IssueToken(userID, time.Hour)
	require.NoError(t, err)

	claims, err := NewJWTServiceAdapter(svc).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.NotEmpty(t, claims.JTI)
}
