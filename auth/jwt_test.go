package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString(secret)
	require.NoError(t, err)
	return s
}

func TestJWTVerifyAcceptsValidToken(t *testing.T) {
	secret := []byte("test-secret")
	token := signToken(t, secret, jwt.MapClaims{
		"sub": "user-1",
		"iss": "syncbase",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	p := NewJWT(secret, "syncbase")
	id, err := p.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "user-1", id.Subject)
}

func TestJWTVerifyRejectsWrongIssuer(t *testing.T) {
	secret := []byte("test-secret")
	token := signToken(t, secret, jwt.MapClaims{"sub": "user-1", "iss": "other", "exp": time.Now().Add(time.Hour).Unix()})

	p := NewJWT(secret, "syncbase")
	_, err := p.Verify(context.Background(), token)
	require.Error(t, err)
}

func TestJWTVerifyRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	token := signToken(t, secret, jwt.MapClaims{"sub": "user-1", "iss": "syncbase", "exp": time.Now().Add(-time.Hour).Unix()})

	p := NewJWT(secret, "syncbase")
	_, err := p.Verify(context.Background(), token)
	require.Error(t, err)
}

func TestJWTVerifyRejectsWrongSecret(t *testing.T) {
	token := signToken(t, []byte("right"), jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix()})

	p := NewJWT([]byte("wrong"), "")
	_, err := p.Verify(context.Background(), token)
	require.Error(t, err)
}
