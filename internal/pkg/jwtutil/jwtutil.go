// Package jwtutil signs and verifies the tokens carried by blob download URLs.
package jwtutil

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrKeyMismatch = errors.New("token does not grant this blob")

type BlobClaims struct {
	Key string `json:"key"`
	jwt.RegisteredClaims
}

// GenerateToken grants read access to a single blob key until ttl elapses.
func GenerateToken(secret string, ttl time.Duration, key string) (string, error) {
	now := time.Now()
	claims := BlobClaims{
		Key: key,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign blob token failed: %w", err)
	}
	return token, nil
}

func ParseToken(secret, raw string) (*BlobClaims, error) {
	claims := &BlobClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parse blob token failed: %w", err)
	}
	return claims, nil
}

// VerifyKey parses raw and checks that it was issued for key.
func VerifyKey(secret, raw, key string) error {
	claims, err := ParseToken(secret, raw)
	if err != nil {
		return err
	}
	if claims.Key != key {
		return ErrKeyMismatch
	}
	return nil
}
