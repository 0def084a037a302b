package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Resolver turns a bearer token into an identity.
type Resolver interface {
	Resolve(ctx context.Context, accessToken string) (Identity, error)
}

type supabaseClaims struct {
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata"`
	jwt.RegisteredClaims
}

// JWTVerifier checks Supabase access tokens locally with the project's JWT
// secret. Tokens signed any other way are handed to Fallback when it is set.
type JWTVerifier struct {
	secret   []byte
	audience string
	Fallback Resolver
}

func NewJWTVerifier(secret string, fallback Resolver) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), audience: "authenticated", Fallback: fallback}
}

func (v *JWTVerifier) Resolve(ctx context.Context, accessToken string) (Identity, error) {
	claims := &supabaseClaims{}
	token, err := jwt.ParseWithClaims(accessToken, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		// Asymmetric project keys cannot be checked with the shared secret.
		if v.Fallback != nil && errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return v.Fallback.Resolve(ctx, accessToken)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	user := SupabaseUser{ID: sub, Email: claims.Email, UserMetadata: claims.UserMetadata}
	return user.Identity(), nil
}
