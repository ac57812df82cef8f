package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gigdesk/realtime-server/internal/model"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrNoSubject    = errors.New("token carries no subject")
)

// Claims is the verified identity extracted from a bearer token.
// Role is empty when the token carries no role claim; the gateway
// applies the client default.
type Claims struct {
	UserID string
	Role   model.Role
}

// Verifier validates bearer tokens issued by the auth service.
//
// Tokens are HMAC-SHA256 JWTs. The subject claim is the user ID and the
// optional "type" claim is the role.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier from the shared HMAC secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret not configured")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify parses and validates the token, returning the identity claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, ErrNoSubject
	}

	claims := &Claims{UserID: sub}
	if typ, ok := mc["type"].(string); ok {
		claims.Role = model.Role(typ)
	}
	return claims, nil
}
