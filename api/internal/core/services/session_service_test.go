package services_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/sealedapi/api/internal/core/services"
)

const (
	testSecret = "super-secret-key-for-testing-purposes-1234567890"
)

func TestSessionService_Issue(t *testing.T) {
	sessions, err := services.NewSessionService(testSecret)
	require.NoError(t, err)

	session, err := sessions.Issue("racer01")
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), session.ExpiresAt, 5*time.Second)

	token, err := jwt.ParseWithClaims(session.AccessToken, &services.SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	require.True(t, token.Valid)

	claims, ok := token.Claims.(*services.SessionClaims)
	require.True(t, ok)

	assert.Equal(t, "access", claims.TokenType)
	assert.Equal(t, "racer01", claims.Subject)
	assert.Equal(t, "racer01", claims.Username)
	assert.Equal(t, "sealedapi-mirror", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestSessionService_Verify(t *testing.T) {
	sessions, err := services.NewSessionService(testSecret)
	require.NoError(t, err)

	session, err := sessions.Issue("racer01")
	require.NoError(t, err)

	t.Run("Valid Token", func(t *testing.T) {
		claims, err := sessions.Verify(session.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "racer01", claims.Username)
	})

	t.Run("Invalid: Wrong Secret", func(t *testing.T) {
		other, err := services.NewSessionService("another-secret-key-that-is-long-enough-123")
		require.NoError(t, err)
		foreign, err := other.Issue("racer01")
		require.NoError(t, err)

		_, err = sessions.Verify(foreign.AccessToken)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "signature is invalid")
	})

	t.Run("Invalid: Wrong Token Type", func(t *testing.T) {
		claims := services.SessionClaims{
			TokenType: "refresh",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "racer01",
				Issuer:    "sealedapi-mirror",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = sessions.Verify(signed)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid token type")
	})

	t.Run("Invalid: Malformed Token", func(t *testing.T) {
		_, err := sessions.Verify("not.a.valid.token")
		assert.Error(t, err)
	})
}

func TestSessionService_RejectsShortSecret(t *testing.T) {
	_, err := services.NewSessionService("short")
	assert.Error(t, err)
}
