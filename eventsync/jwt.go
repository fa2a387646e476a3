// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package eventsync

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTAuth mints and validates the HS256 tokens carried in the auth frame.
// Servers that attribute frames by token rather than by the plain userId
// field configure the engine with JWTAuth.TokenProvider.
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth creates a new JWT authenticator with a shared secret.
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{secret: []byte(secret)}
}

// GenerateToken generates a token for the given user id (standard 'sub'
// claim) with the given lifetime.
func (j *JWTAuth) GenerateToken(userID string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := &jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    "go-eventsync",
		Subject:   userID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken validates a token and returns the user id from its 'sub'
// claim.
func (j *JWTAuth) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("missing sub (user ID) in token")
	}
	return claims.Subject, nil
}

// TokenProvider returns a Config.TokenProvider that mints a fresh token for
// the given user on every connection.
func (j *JWTAuth) TokenProvider(userID string, expiration time.Duration) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		return j.GenerateToken(userID, expiration)
	}
}
