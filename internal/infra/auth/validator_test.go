package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/cato-pipeline/internal/domain"
)

func signToken(t *testing.T, key *rsa.PrivateKey, claims *domain.CustomClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func testClaims(userID string) *domain.CustomClaims {
	return &domain.CustomClaims{
		UserID: userID,
		Scopes: map[string]bool{"admin": true},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestVerifyToken_AcceptsSignedBearerToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewBaseValidator(&key.PublicKey)

	claims, err := v.VerifyToken("Bearer " + signToken(t, key, testClaims("u1")))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.True(t, claims.Scopes["admin"])
}

func TestVerifyToken_RejectsForeignKeyAndHMAC(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewBaseValidator(&key.PublicKey)

	_, err = v.VerifyToken(signToken(t, other, testClaims("u1")))
	assert.Error(t, err, "token signed by a foreign key must not pass")

	hmac, err := jwt.NewWithClaims(jwt.SigningMethodHS256, testClaims("u1")).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.VerifyToken(hmac)
	assert.Error(t, err, "symmetric signatures are never acceptable")
}

func TestVerifyToken_RejectsMissingUserIdentity(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewBaseValidator(&key.PublicKey)

	_, err = v.VerifyToken(signToken(t, key, testClaims("")))
	assert.ErrorContains(t, err, "user identity")
}
