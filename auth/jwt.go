package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWT is a reference Provider verifying HS256 tokens, grounded on
// tenant-auth's internal/api/handler.go validateToken handler: same
// signing-method guard, same MapClaims extraction.
type JWT struct {
	secret []byte
	issuer string
}

// NewJWT returns a Provider that verifies tokens signed with secret.
// issuer, if non-empty, is checked against the token's "iss" claim.
func NewJWT(secret []byte, issuer string) *JWT {
	return &JWT{secret: secret, issuer: issuer}
}

func (j *JWT) Verify(ctx context.Context, tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return Identity{}, &Error{Message: "parse token", cause: err}
	}
	if !token.Valid {
		return Identity{}, &Error{Message: "token invalid"}
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, &Error{Message: "unexpected claims shape"}
	}

	iss, _ := claims["iss"].(string)
	if j.issuer != "" && iss != j.issuer {
		return Identity{}, &Error{Message: fmt.Sprintf("issuer mismatch: got %q want %q", iss, j.issuer)}
	}
	sub, _ := claims["sub"].(string)
	aud, _ := claims["aud"].(string)

	return Identity{Subject: sub, Issuer: iss, Audience: aud, Claims: claims}, nil
}
